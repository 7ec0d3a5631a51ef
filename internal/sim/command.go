package sim

import (
	"time"

	"holdfast/server/internal/registry"
)

// CommandType enumerates the intents a peer may stage for the next tick.
type CommandType string

const (
	CommandMove      CommandType = "Move"
	CommandInteract  CommandType = "Interact"
	CommandPlaceNail CommandType = "PlaceNail"
	CommandHeartbeat CommandType = "Heartbeat"
)

// MoveCommand carries the desired movement vector and view yaw.
type MoveCommand struct {
	DX  float64 `json:"dx"`
	DZ  float64 `json:"dz"`
	Yaw float64 `json:"yaw"`
}

// InteractCommand is a gateway request staged for validation on the tick.
type InteractCommand struct {
	TargetID registry.EntityID `json:"targetId"`
	Action   string            `json:"action"`
	Payload  map[string]any    `json:"payload,omitempty"`
	Seq      uint64            `json:"seq,omitempty"`
}

// PlaceNailCommand carries a fastener placement intent.
type PlaceNailCommand struct {
	PropID    registry.EntityID `json:"propId"`
	SurfaceID registry.EntityID `json:"surfaceId,omitempty"`
	Point     [3]float64        `json:"point"`
	Normal    [3]float64        `json:"normal"`
}

// HeartbeatCommand updates connectivity metadata for a peer.
type HeartbeatCommand struct {
	ReceivedAt time.Time     `json:"receivedAt"`
	ClientSent int64         `json:"clientSent"`
	RTT        time.Duration `json:"rtt"`
}

// Command represents an intent captured for processing on the next tick.
// Inbound network goroutines only ever enqueue commands; all effects happen
// inside the tick, which is what keeps per-tick ordering deterministic.
type Command struct {
	OriginTick uint64            `json:"originTick"`
	Peer       registry.PeerID   `json:"peer"`
	Type       CommandType       `json:"type"`
	IssuedAt   time.Time         `json:"issuedAt"`
	Move       *MoveCommand      `json:"move,omitempty"`
	Interact   *InteractCommand  `json:"interact,omitempty"`
	PlaceNail  *PlaceNailCommand `json:"placeNail,omitempty"`
	Heartbeat  *HeartbeatCommand `json:"heartbeat,omitempty"`
}
