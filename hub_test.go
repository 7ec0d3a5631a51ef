package server

import (
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"

	"holdfast/server/internal/registry"
	"holdfast/server/internal/sim"
	"holdfast/server/internal/structural"
	"holdfast/server/internal/waves"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestHub(t *testing.T) (*Hub, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cfg := DefaultHubConfig()
	cfg.Clock = clock
	cfg.Seed = 7
	return NewHub(cfg), clock
}

func stepHub(h *Hub, clock *fakeClock) {
	h.tick.Add(1)
	h.Step(clock.Now(), 1.0/tickRate)
}

func TestJoinEnforcesPeerCapacity(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cfg := DefaultHubConfig()
	cfg.Clock = clock
	cfg.MaxPeers = 2
	hub := NewHub(cfg)

	first, ok := hub.Join("ada", "")
	if !ok {
		t.Fatalf("first join rejected")
	}
	if first.PeerID < 2 {
		t.Fatalf("peer id %d collides with the host id", first.PeerID)
	}
	if first.Team != "survivors" {
		t.Fatalf("expected default team, got %q", first.Team)
	}
	if _, ok := hub.Join("bea", ""); !ok {
		t.Fatalf("second join rejected")
	}
	if _, ok := hub.Join("cyd", ""); ok {
		t.Fatalf("third join accepted past capacity")
	}
	if got := hub.PeerCount(); got != 2 {
		t.Fatalf("expected 2 peers, got %d", got)
	}
}

func TestHeartbeatTimeoutRemovesPeer(t *testing.T) {
	hub, clock := newTestHub(t)
	join, ok := hub.Join("ada", "")
	if !ok {
		t.Fatalf("join rejected")
	}

	clock.advance(disconnectAfter / 2)
	stepHub(hub, clock)
	if got := hub.PeerCount(); got != 1 {
		t.Fatalf("peer dropped too early, count %d", got)
	}

	if _, ok := hub.UpdateHeartbeat(registry.PeerID(join.PeerID), clock.Now(), 0); !ok {
		t.Fatalf("heartbeat rejected for live peer")
	}
	clock.advance(disconnectAfter + time.Second)
	stepHub(hub, clock)
	if got := hub.PeerCount(); got != 0 {
		t.Fatalf("expected stale peer removed, count %d", got)
	}
}

func TestMoveCommandClampsToWorldBounds(t *testing.T) {
	hub, clock := newTestHub(t)
	join, _ := hub.Join("ada", "")
	peer := registry.PeerID(join.PeerID)

	// Bypass the socket path and spawn the player directly.
	playerID, ok := hub.reg.RegisterAt(registry.TypePlayer, peer, hub.cfg.PlayerSpawn, true)
	if !ok {
		t.Fatalf("failed to register player")
	}
	hub.reg.SetComponent(playerID, registry.ComponentHealth, registry.Health{Current: playerMaxHealth, Max: playerMaxHealth})
	hub.mu.Lock()
	hub.peers[peer].playerID = playerID
	hub.mu.Unlock()

	hub.Apply([]sim.Command{{
		Peer: peer,
		Type: sim.CommandMove,
		Move: &sim.MoveCommand{DX: 1, DZ: 0},
	}})

	for i := 0; i < tickRate*60; i++ {
		hub.UpdateHeartbeat(peer, clock.Now(), 0)
		stepHub(hub, clock)
	}

	entity, _ := hub.reg.Get(playerID)
	if got := entity.Position.X(); got > worldExtent-playerHalf+1e-9 {
		t.Fatalf("player escaped the world at x=%v", got)
	}
	if got := entity.Position.X(); got < worldExtent-playerHalf-moveSpeed {
		t.Fatalf("player should be pinned at the boundary, x=%v", got)
	}
}

func TestRoundEndsWhenPartyWipes(t *testing.T) {
	hub, clock := newTestHub(t)
	hub.director.StartWave(1, 1)
	hub.started = true

	stepHub(hub, clock)
	if phase := hub.director.CurrentPhase(); phase != waves.PhaseEnded {
		t.Fatalf("expected round ended after wipe, phase %q", phase)
	}
}

// wireEnvelope is the minimal decode of any server message.
type wireEnvelope struct {
	Type   string `json:"type"`
	Entity *struct {
		Kind   string `json:"kind"`
		Record struct {
			Type  string `json:"type"`
			Owner int32  `json:"owner"`
		} `json:"record"`
	} `json:"entity"`
	Snapshot *struct {
		Wave  int    `json:"wave"`
		Phase string `json:"phase"`
	} `json:"snapshot"`
}

func TestLateJoinSyncPrecedesOwnSpawn(t *testing.T) {
	cfg := DefaultHubConfig()
	cfg.Seed = 7
	hub := NewHub(cfg)

	srv := httptest.NewServer(Handler(hub))
	defer srv.Close()

	join, ok := hub.Join("ada", "")
	if !ok {
		t.Fatalf("join rejected")
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?peer=" + strconv.Itoa(int(join.PeerID))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for len(hub.liveSubscribers()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.tick.Add(1)
	hub.Step(time.Now(), 1.0/tickRate)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var first wireEnvelope
	if err := json.Unmarshal(payload, &first); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if first.Type != "sync" {
		t.Fatalf("expected sync first, got %q", first.Type)
	}
	if first.Snapshot == nil {
		t.Fatalf("sync carried no snapshot")
	}

	_, payload, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var second wireEnvelope
	if err := json.Unmarshal(payload, &second); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if second.Type != "event" || second.Entity == nil {
		t.Fatalf("expected spawn event after sync, got %q", second.Type)
	}
	if second.Entity.Kind != "spawned" || second.Entity.Record.Type != string(registry.TypePlayer) {
		t.Fatalf("unexpected event %#v", second.Entity)
	}
	if second.Entity.Record.Owner != join.PeerID {
		t.Fatalf("spawn owned by peer %d, want %d", second.Entity.Record.Owner, join.PeerID)
	}
}

func TestInteractResultReachesOnlyRequester(t *testing.T) {
	hub, _ := newTestHub(t)
	join, _ := hub.Join("ada", "")
	peer := registry.PeerID(join.PeerID)

	srv := httptest.NewServer(Handler(hub))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?peer=" + strconv.Itoa(int(peer))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for len(hub.liveSubscribers()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.applyInteract(sim.Command{
		Peer: peer,
		Type: sim.CommandInteract,
		Interact: &sim.InteractCommand{
			Action: "no_such_action",
			Seq:    9,
		},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		var msg struct {
			Type   string `json:"type"`
			Result struct {
				Success bool   `json:"success"`
				Reason  string `json:"reason"`
				Seq     uint64 `json:"seq"`
			} `json:"result"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if msg.Type != "interact_result" {
			continue
		}
		if msg.Result.Success {
			t.Fatalf("unknown action must fail")
		}
		if msg.Result.Seq != 9 {
			t.Fatalf("seq %d echoed, want 9", msg.Result.Seq)
		}
		return
	}
}

func TestPropRemovalDestroysItsNails(t *testing.T) {
	hub, _ := newTestHub(t)
	spawnTestPlayer(t, hub, mgl64.Vec3{1, 0, 0}, playerMaxHealth)
	prop, ok := hub.reg.RegisterAt(registry.TypeProp, 0, mgl64.Vec3{1, 0, 0}, true)
	if !ok {
		t.Fatalf("failed to register prop")
	}
	nail, ok := hub.sys.Place(structural.PlaceRequest{
		Requester: 2,
		PropID:    prop,
		Point:     mgl64.Vec3{1, 0.5, 0},
		Normal:    mgl64.Vec3{0, 1, 0},
	})
	if !ok {
		t.Fatalf("fixture placement failed")
	}

	if !hub.reg.Unregister(prop) {
		t.Fatalf("prop unregister failed")
	}

	if _, ok := hub.sys.Get(nail.ID); ok {
		t.Fatalf("fastener survived removal of its prop")
	}
	if _, ok := hub.reg.Get(nail.ID); ok {
		t.Fatalf("fastener entity still registered after prop removal")
	}
}

func TestEnqueueRejectsUnknownPeerAndBadType(t *testing.T) {
	hub, _ := newTestHub(t)

	if ok, reason := hub.Enqueue(sim.Command{Peer: 42, Type: sim.CommandMove}); ok || reason != sim.CommandRejectUnknownPeer {
		t.Fatalf("expected %q for a peer without a session, got ok=%v reason=%q", sim.CommandRejectUnknownPeer, ok, reason)
	}

	join, ok := hub.Join("ada", "")
	if !ok {
		t.Fatalf("join rejected")
	}
	peer := registry.PeerID(join.PeerID)
	if ok, reason := hub.Enqueue(sim.Command{Peer: peer, Type: sim.CommandType("Teleport")}); ok || reason != sim.CommandRejectInvalidAction {
		t.Fatalf("expected %q for an unrecognized command, got ok=%v reason=%q", sim.CommandRejectInvalidAction, ok, reason)
	}
	if ok, reason := hub.Enqueue(sim.Command{Peer: peer, Type: sim.CommandMove}); !ok || reason != "" {
		t.Fatalf("valid command rejected: %q", reason)
	}
}
