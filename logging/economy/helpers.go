package economy

import (
	"context"

	"holdfast/server/logging"
)

const (
	EventCommitSent     logging.EventType = "economy.commit_sent"
	EventCommitAccepted logging.EventType = "economy.commit_accepted"
	EventCommitRejected logging.EventType = "economy.commit_rejected"
	EventShopTrade      logging.EventType = "economy.shop_trade"
)

type CommitPayload struct {
	RaidID   string `json:"raidId"`
	MatchID  string `json:"matchId"`
	Outcomes int    `json:"outcomes"`
	Reason   string `json:"reason,omitempty"`
}

type ShopTradePayload struct {
	PeerID int32  `json:"peerId"`
	Item   string `json:"item"`
	Qty    int    `json:"qty"`
	Cost   int    `json:"cost"`
	Sell   bool   `json:"sell,omitempty"`
}

func CommitSent(ctx context.Context, pub logging.Publisher, tick uint64, payload CommitPayload) {
	publish(ctx, pub, EventCommitSent, tick, logging.SeverityInfo, payload)
}

func CommitAccepted(ctx context.Context, pub logging.Publisher, tick uint64, payload CommitPayload) {
	publish(ctx, pub, EventCommitAccepted, tick, logging.SeverityInfo, payload)
}

func CommitRejected(ctx context.Context, pub logging.Publisher, tick uint64, payload CommitPayload) {
	publish(ctx, pub, EventCommitRejected, tick, logging.SeverityError, payload)
}

func ShopTrade(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ShopTradePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventShopTrade,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryEconomy,
		Payload:  payload,
	})
}

func publish(ctx context.Context, pub logging.Publisher, typ logging.EventType, tick uint64, sev logging.Severity, payload any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     typ,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: sev,
		Category: logging.CategoryEconomy,
		Payload:  payload,
	})
}
