package structural

import (
	"context"

	"holdfast/server/logging"
)

const (
	EventNailPlaced    logging.EventType = "structural.nail_placed"
	EventNailRepaired  logging.EventType = "structural.nail_repaired"
	EventNailDestroyed logging.EventType = "structural.nail_destroyed"
	EventCascade       logging.EventType = "structural.cascade"
)

type NailPlacedPayload struct {
	NailID  uint64 `json:"nailId"`
	PropID  uint64 `json:"propId"`
	OwnerID int32  `json:"ownerId"`
	HP      int    `json:"hp"`
}

type NailRepairedPayload struct {
	NailID      uint64 `json:"nailId"`
	RepairCount int    `json:"repairCount"`
	HP          int    `json:"hp"`
	MaxHP       int    `json:"maxHp"`
}

type NailDestroyedPayload struct {
	NailID uint64 `json:"nailId"`
	PropID uint64 `json:"propId"`
}

type CascadePayload struct {
	RootNailID uint64   `json:"rootNailId"`
	Destroyed  []uint64 `json:"destroyed"`
}

func NailPlaced(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload NailPlacedPayload) {
	publish(ctx, pub, EventNailPlaced, tick, actor, logging.SeverityDebug, payload)
}

func NailRepaired(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload NailRepairedPayload) {
	publish(ctx, pub, EventNailRepaired, tick, actor, logging.SeverityDebug, payload)
}

func NailDestroyed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload NailDestroyedPayload) {
	publish(ctx, pub, EventNailDestroyed, tick, actor, logging.SeverityInfo, payload)
}

func Cascade(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload CascadePayload) {
	publish(ctx, pub, EventCascade, tick, actor, logging.SeverityInfo, payload)
}

func publish(ctx context.Context, pub logging.Publisher, typ logging.EventType, tick uint64, actor logging.EntityRef, sev logging.Severity, payload any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     typ,
		Tick:     tick,
		Actor:    actor,
		Severity: sev,
		Category: logging.CategoryStructural,
		Payload:  payload,
	})
}
