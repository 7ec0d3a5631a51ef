package network

import (
	"context"

	"holdfast/server/logging"
)

const (
	// EventStateChanged is emitted on every connection state transition.
	EventStateChanged logging.EventType = "network.state_changed"
	// EventSyncTimeout is emitted when a late-join sync is force-advanced.
	EventSyncTimeout logging.EventType = "network.sync_timeout"
	// EventDiscoveryFailed is emitted when a rendezvous exchange fails.
	EventDiscoveryFailed logging.EventType = "network.discovery_failed"
	// EventSnapshotDropped is emitted when a per-tick snapshot is shed.
	EventSnapshotDropped logging.EventType = "network.snapshot_dropped"
)

type StateChangedPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type SyncTimeoutPayload struct {
	PeerID  int32 `json:"peerId"`
	Elapsed int64 `json:"elapsedMillis"`
}

type DiscoveryFailedPayload struct {
	Op    string `json:"op"`
	Error string `json:"error"`
}

func StateChanged(ctx context.Context, pub logging.Publisher, tick uint64, payload StateChangedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventStateChanged,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

func SyncTimeout(ctx context.Context, pub logging.Publisher, tick uint64, payload SyncTimeoutPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSyncTimeout,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

func DiscoveryFailed(ctx context.Context, pub logging.Publisher, payload DiscoveryFailedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventDiscoveryFailed,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}
