package lifecycle

import (
	"context"

	"holdfast/server/logging"
)

const (
	// EventPeerJoined is emitted when a peer completes its transport handshake.
	EventPeerJoined logging.EventType = "lifecycle.peer_joined"
	// EventPeerDisconnected is emitted when a peer leaves or times out.
	EventPeerDisconnected logging.EventType = "lifecycle.peer_disconnected"
	// EventEntitySpawned is emitted when the registry creates an entity.
	EventEntitySpawned logging.EventType = "lifecycle.entity_spawned"
	// EventEntityRemoved is emitted when the registry removes an entity.
	EventEntityRemoved logging.EventType = "lifecycle.entity_removed"
)

// PeerJoinedPayload captures handshake metadata for a new peer.
type PeerJoinedPayload struct {
	PeerID int32  `json:"peerId"`
	Name   string `json:"name"`
	Team   string `json:"team"`
}

// PeerDisconnectedPayload captures the reason a peer left.
type PeerDisconnectedPayload struct {
	PeerID int32  `json:"peerId"`
	Reason string `json:"reason"`
}

// EntityPayload captures registry lifecycle metadata.
type EntityPayload struct {
	EntityID uint64 `json:"entityId"`
	Type     string `json:"entityType"`
	OwnerID  int32  `json:"ownerId,omitempty"`
}

// PeerJoined publishes a peer join event.
func PeerJoined(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PeerJoinedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPeerJoined,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}

// PeerDisconnected publishes a peer disconnect event.
func PeerDisconnected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PeerDisconnectedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPeerDisconnected,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}

// EntitySpawned publishes a registry spawn event.
func EntitySpawned(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload EntityPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEntitySpawned,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}

// EntityRemoved publishes a registry removal event.
func EntityRemoved(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload EntityPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEntityRemoved,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}
