package server

import (
	"holdfast/server/internal/gateway"
	"holdfast/server/internal/registry"
	"holdfast/server/internal/replication"
	"holdfast/server/internal/structural"
	"holdfast/server/internal/waves"
)

// Wire message types are exported so cmd/schema can reflect JSON schemas
// for them.

// JoinResponse answers a POST /join. The world itself arrives later, over
// the reliable channel, as a SyncMessage.
type JoinResponse struct {
	Ver    int    `json:"ver"`
	PeerID int32  `json:"peerId"`
	Name   string `json:"name"`
	Team   string `json:"team"`
}

// SyncMessage is the full-world snapshot a joining peer receives before any
// event concerning it is broadcast.
type SyncMessage struct {
	Ver        int                      `json:"ver"`
	Type       string                   `json:"type"` // "sync"
	PeerID     int32                    `json:"peerId"`
	ServerTime int64                    `json:"serverTime"`
	Snapshot   replication.FullSnapshot `json:"snapshot"`
}

// StateMessage is the per-tick overwrite snapshot. It travels on the
// droppable outbox: a lost one self-heals on the next tick.
type StateMessage struct {
	Ver        int                      `json:"ver"`
	Type       string                   `json:"type"` // "state"
	ServerTime int64                    `json:"serverTime"`
	Snapshot   replication.TickSnapshot `json:"snapshot"`
}

// EntityEvent announces a registration or removal.
type EntityEvent struct {
	Kind   string          `json:"kind"` // "spawned" | "removed"
	Record registry.Record `json:"record"`
}

// EventMessage is a reliable broadcast. Exactly one of the payload fields
// is set.
type EventMessage struct {
	Ver         int               `json:"ver"`
	Type        string            `json:"type"` // "event"
	Tick        uint64            `json:"t"`
	Entity      *EntityEvent      `json:"entity,omitempty"`
	Structural  *structural.Event `json:"structural,omitempty"`
	Wave        *waves.Event      `json:"wave,omitempty"`
	Interaction *gateway.Event    `json:"interaction,omitempty"`
}

// InteractResultMessage goes back to the requester only, never broadcast.
type InteractResultMessage struct {
	Ver    int            `json:"ver"`
	Type   string         `json:"type"` // "interact_result"
	Result gateway.Result `json:"result"`
}

// HeartbeatMessage acknowledges a client heartbeat with timing data.
type HeartbeatMessage struct {
	Ver        int    `json:"ver"`
	Type       string `json:"type"` // "heartbeat"
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime"`
	RTTMillis  int64  `json:"rtt"`
}

// ClientMessage is the union of everything a peer may send over the socket.
type ClientMessage struct {
	Type string `json:"type"`

	// input
	DX  float64 `json:"dx,omitempty"`
	DZ  float64 `json:"dz,omitempty"`
	Yaw float64 `json:"yaw,omitempty"`

	// interact
	TargetID uint64         `json:"targetId,omitempty"`
	Action   string         `json:"action,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	Seq      uint64         `json:"seq,omitempty"`

	// place_nail
	PropID    uint64     `json:"propId,omitempty"`
	SurfaceID uint64     `json:"surfaceId,omitempty"`
	Point     [3]float64 `json:"point,omitempty"`
	Normal    [3]float64 `json:"normal,omitempty"`

	// heartbeat
	SentAt int64 `json:"sentAt,omitempty"`
}

// DiagnosticsPeer exposes per-peer connectivity for the diagnostics endpoint.
type DiagnosticsPeer struct {
	ID            int32  `json:"id"`
	Name          string `json:"name"`
	State         string `json:"state"`
	LastHeartbeat int64  `json:"lastHeartbeat"`
	RTTMillis     int64  `json:"rttMillis"`
}
