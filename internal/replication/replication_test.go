package replication

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"holdfast/server/internal/registry"
	"holdfast/server/internal/structural"
)

func buildWorld(t *testing.T) (*registry.Registry, *structural.System) {
	t.Helper()
	reg := registry.New(true)
	sys := structural.NewSystem(structural.DefaultConfig(), reg, nil, rand.New(rand.NewSource(11)), nil, nil, nil, nil)

	playerID, _ := reg.RegisterAt(registry.TypePlayer, 2, mgl64.Vec3{1, 0, 2}, true)
	reg.SetComponent(playerID, registry.ComponentHealth, registry.Health{Current: 80, Max: 100})
	reg.SetComponent(playerID, registry.ComponentWeapon, registry.Weapon{Name: "hammer", Damage: 12})

	zombieID, _ := reg.RegisterAt(registry.TypeZombie, 0, mgl64.Vec3{5, 0, 5}, true)
	reg.SetComponent(zombieID, registry.ComponentHealth, registry.Health{Current: 110, Max: 110})
	reg.SetComponent(zombieID, registry.ComponentZombieType, "walker")

	propID, _ := reg.RegisterAt(registry.TypeProp, 0, mgl64.Vec3{2, 0, 0}, true)
	reg.SetComponent(propID, registry.ComponentRigidState, registry.RigidState{Sleeping: true})

	shopID, _ := reg.RegisterAt(registry.TypeShop, 0, mgl64.Vec3{9, 0, 9}, true)
	reg.SetComponent(shopID, registry.ComponentLoot, registry.Loot{Items: []registry.LootItem{{Item: "planks", Qty: 40}}})

	if _, ok := sys.Place(structural.PlaceRequest{
		Requester: 2,
		PropID:    propID,
		Point:     mgl64.Vec3{2, 0.5, 0},
		Normal:    mgl64.Vec3{0, 1, 0},
	}); !ok {
		t.Fatalf("failed to place fastener in fixture")
	}
	return reg, sys
}

func exportByID(reg *registry.Registry) map[registry.EntityID]registry.Record {
	out := make(map[registry.EntityID]registry.Record)
	for _, rec := range reg.Export() {
		out[rec.ID] = rec
	}
	return out
}

func TestFullSnapshotRoundTrip(t *testing.T) {
	reg, sys := buildWorld(t)
	info := func(peer registry.PeerID) (string, string) { return "ada", "red" }

	snapshot := BuildFull(reg, sys, 3, "spawning", info)
	if len(snapshot.Players) != 1 || len(snapshot.Zombies) != 1 || len(snapshot.Props) != 1 || len(snapshot.Nails) != 1 {
		t.Fatalf("unexpected snapshot shape: %+v", snapshot)
	}
	if snapshot.Players[0].Name != "ada" {
		t.Fatalf("expected peer info in player record, got %q", snapshot.Players[0].Name)
	}

	replica := registry.New(false)
	replicaSys := structural.NewSystem(structural.DefaultConfig(), replica, nil, nil, nil, nil, nil, nil)
	ApplyFull(replica, replicaSys, snapshot)

	want := exportByID(reg)
	got := exportByID(replica)
	if len(got) != len(want) {
		t.Fatalf("expected %d entities after apply, got %d", len(want), len(got))
	}
	for id, rec := range want {
		applied, ok := got[id]
		if !ok {
			t.Fatalf("entity %d missing after apply", id)
		}
		if applied.Type != rec.Type || applied.Owner != rec.Owner {
			t.Fatalf("entity %d mismatch: want %+v, got %+v", id, rec, applied)
		}
		if rec.Type != registry.TypeNail && !reflect.DeepEqual(applied.Components, rec.Components) {
			t.Fatalf("entity %d components mismatch:\nwant %+v\ngot  %+v", id, rec.Components, applied.Components)
		}
	}

	// Applying the same snapshot again must be a no-op overwrite.
	ApplyFull(replica, replicaSys, snapshot)
	again := exportByID(replica)
	if !reflect.DeepEqual(got, again) {
		t.Fatalf("expected idempotent apply")
	}

	if len(replicaSys.Export()) != 1 {
		t.Fatalf("expected 1 replicated fastener, got %d", len(replicaSys.Export()))
	}
}

func TestFullSnapshotCarriesWaveAndPhase(t *testing.T) {
	reg, sys := buildWorld(t)
	snapshot := BuildFull(reg, sys, 7, "intermission", nil)
	if snapshot.Wave != 7 || snapshot.Phase != "intermission" {
		t.Fatalf("expected wave/phase to be carried, got %+v", snapshot)
	}
}

func TestBuildTickOverwritesAreComplete(t *testing.T) {
	reg, sys := buildWorld(t)

	snapshot := BuildTick(reg, sys, 42)
	if snapshot.Tick != 42 {
		t.Fatalf("expected tick 42, got %d", snapshot.Tick)
	}
	if len(snapshot.Players) != 1 {
		t.Fatalf("expected 1 player state, got %d", len(snapshot.Players))
	}
	player := snapshot.Players[2]
	if player.Health != 80 {
		t.Fatalf("expected player health 80, got %v", player.Health)
	}
	if len(snapshot.Zombies) != 1 || len(snapshot.Nails) != 1 {
		t.Fatalf("expected zombie and nail sections, got %+v", snapshot)
	}
	for _, nail := range snapshot.Nails {
		if !nail.Active || nail.HP < 70 || nail.HP > 130 {
			t.Fatalf("unexpected nail tick state: %+v", nail)
		}
	}
}

func TestTickApplierDropsStale(t *testing.T) {
	var applier TickApplier

	if !applier.Accept(TickSnapshot{Tick: 5}) {
		t.Fatalf("expected first snapshot to be accepted")
	}
	if applier.Accept(TickSnapshot{Tick: 3}) {
		t.Fatalf("expected stale snapshot to be dropped")
	}
	if applier.Accept(TickSnapshot{Tick: 5}) {
		t.Fatalf("expected duplicate snapshot to be dropped")
	}
	if !applier.Accept(TickSnapshot{Tick: 6}) {
		t.Fatalf("expected newer snapshot to be accepted")
	}
	if applier.LastTick() != 6 {
		t.Fatalf("expected cursor at 6, got %d", applier.LastTick())
	}
}
