package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"holdfast/server/internal/registry"
	"holdfast/server/internal/sim"
	"holdfast/server/internal/waves"
)

func TestJoinerFullSessionFlow(t *testing.T) {
	cfg := DefaultHubConfig()
	cfg.Seed = 7
	hub := NewHub(cfg)

	// Pre-existing world the late joiner must receive in its sync.
	other := spawnTestPlayer(t, hub, mgl64.Vec3{5, 0, 5}, playerMaxHealth)
	spawnTestZombie(t, hub, mgl64.Vec3{40, 0, 0}, waves.ZombieWalker, 110)

	srv := httptest.NewServer(Handler(hub))
	defer srv.Close()

	joiner := NewJoiner(JoinerConfig{Name: "ada"})
	dialDone := make(chan error, 1)
	go func() {
		dialDone <- joiner.DialDirect(context.Background(), srv.URL)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(hub.liveSubscribers()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("joiner never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	hub.tick.Add(1)
	hub.Step(time.Now(), 1.0/tickRate)

	select {
	case err := <-dialDone:
		if err != nil {
			t.Fatalf("dial failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("dial never completed")
	}

	if got := joiner.State(); got != StateActive {
		t.Fatalf("joiner in state %q after sync", got)
	}
	if joiner.PeerID() < 2 {
		t.Fatalf("peer id %d collides with the host id", joiner.PeerID())
	}
	if _, ok := joiner.Registry().Get(other); !ok {
		t.Fatalf("replica missing the pre-existing player")
	}
	if got := len(joiner.Registry().ByType(registry.TypeZombie)); got != 1 {
		t.Fatalf("replica holds %d zombies, want 1", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go joiner.Listen(ctx)

	hub.afterStep(sim.LoopStepResult{Tick: 5, Now: time.Now()})
	hub.afterStep(sim.LoopStepResult{Tick: 3, Now: time.Now()})
	hub.afterStep(sim.LoopStepResult{Tick: 6, Now: time.Now()})

	deadline = time.Now().Add(2 * time.Second)
	for joiner.LatestState().Tick != 6 {
		if time.Now().After(deadline) {
			t.Fatalf("latest tick %d, want 6", joiner.LatestState().Tick)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := joiner.SendInput(1, 0, 0); err != nil {
		t.Fatalf("send input failed: %v", err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for hub.loop.Pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("input never reached the command queue")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestJoinerDiscoveryFailureLandsDisconnected(t *testing.T) {
	joiner := NewJoiner(JoinerConfig{Rendezvous: "127.0.0.1:1", Name: "ada"})
	if err := joiner.Dial(context.Background(), "nope"); err == nil {
		t.Fatalf("expected discovery failure")
	}
	if got := joiner.State(); got != StateDisconnected {
		t.Fatalf("joiner in state %q after failure", got)
	}
}

func TestJoinerRejectedByFullSession(t *testing.T) {
	cfg := DefaultHubConfig()
	cfg.MaxPeers = 1
	hub := NewHub(cfg)
	if _, ok := hub.Join("bea", ""); !ok {
		t.Fatalf("seed join rejected")
	}

	srv := httptest.NewServer(Handler(hub))
	defer srv.Close()

	joiner := NewJoiner(JoinerConfig{Name: "ada"})
	if err := joiner.DialDirect(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected join rejection")
	}
	if got := joiner.State(); got != StateDisconnected {
		t.Fatalf("joiner in state %q after rejection", got)
	}
}

func TestDialLandsDisconnectedWhenSyncSocketDies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/join", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(JoinResponse{Ver: ProtocolVersion, PeerID: 2, Name: "ada", Team: "survivors"})
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	joiner := NewJoiner(JoinerConfig{Name: "ada"})
	if err := joiner.DialDirect(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected dial to fail when the host drops before sync")
	}
	if got := joiner.State(); got != StateDisconnected {
		t.Fatalf("joiner in state %q after dead socket, want %q", got, StateDisconnected)
	}
}

func TestDisconnectDuringListenReturnsCleanly(t *testing.T) {
	hub := NewHub(DefaultHubConfig())
	srv := httptest.NewServer(Handler(hub))
	defer srv.Close()

	joiner := NewJoiner(JoinerConfig{Name: "ada"})
	dialDone := make(chan error, 1)
	go func() {
		dialDone <- joiner.DialDirect(context.Background(), srv.URL)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for len(hub.liveSubscribers()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("joiner never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	hub.tick.Add(1)
	hub.Step(time.Now(), 1.0/tickRate)
	if err := <-dialDone; err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	listenDone := make(chan error, 1)
	go func() {
		listenDone <- joiner.Listen(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)
	joiner.Disconnect()

	select {
	case err := <-listenDone:
		if err == nil {
			t.Fatalf("expected listen to surface the closed connection")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("listen never returned after disconnect")
	}
	if got := joiner.State(); got != StateDisconnected {
		t.Fatalf("joiner in state %q after disconnect, want %q", got, StateDisconnected)
	}
}
