package registry

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"pgregory.net/rapid"
)

func TestRegisterAssignsMonotonicIDs(t *testing.T) {
	r := New(true)

	first, ok := r.Register(TypeProp, 0)
	if !ok {
		t.Fatalf("expected registration to succeed")
	}
	second, ok := r.Register(TypeZombie, 0)
	if !ok {
		t.Fatalf("expected registration to succeed")
	}
	if second <= first {
		t.Fatalf("expected ids to increase, got %d then %d", first, second)
	}

	if !r.Unregister(first) {
		t.Fatalf("expected unregister to succeed")
	}
	third, ok := r.Register(TypeProp, 0)
	if !ok {
		t.Fatalf("expected registration to succeed")
	}
	if third <= second {
		t.Fatalf("expected retired id %d to stay retired, got new id %d", first, third)
	}
}

func TestNonAuthoritativeMutationsRejected(t *testing.T) {
	r := New(false)

	if id, ok := r.Register(TypeProp, 0); ok {
		t.Fatalf("expected replica registration to be rejected, got id %d", id)
	}
	if r.Unregister(1) {
		t.Fatalf("expected replica unregister to be rejected")
	}
	if r.SetComponent(1, ComponentHealth, Health{Current: 10, Max: 10}) {
		t.Fatalf("expected replica setComponent to be rejected")
	}
}

func TestComponentStorageRoundTrip(t *testing.T) {
	r := New(true)
	id, _ := r.Register(TypeZombie, 0)

	want := Health{Current: 110, Max: 110}
	if !r.SetComponent(id, ComponentHealth, want) {
		t.Fatalf("expected setComponent to succeed")
	}
	got, ok := HealthOf(r, id)
	if !ok {
		t.Fatalf("expected health component to exist")
	}
	if got != want {
		t.Fatalf("expected health %+v, got %+v", want, got)
	}

	if _, ok := WeaponOf(r, id); ok {
		t.Fatalf("expected missing weapon component")
	}
}

func TestRigidifyTransitionsExactlyOnce(t *testing.T) {
	r := New(true)
	id, _ := r.Register(TypeCorpse, 0)

	if !r.Rigidify(id) {
		t.Fatalf("expected corpse to rigidify")
	}
	entity, _ := r.Get(id)
	if entity.Type != TypeProp {
		t.Fatalf("expected type prop after rigidify, got %s", entity.Type)
	}
	if r.Rigidify(id) {
		t.Fatalf("expected second rigidify to be refused")
	}

	playerID, _ := r.Register(TypePlayer, 2)
	if r.Rigidify(playerID) {
		t.Fatalf("expected rigidify on a player to be refused")
	}
}

func TestRemovePeerPlayersLeavesOwnedProps(t *testing.T) {
	r := New(true)
	playerID, _ := r.Register(TypePlayer, 3)
	turretID, _ := r.RegisterAt(TypeTurret, 3, mgl64.Vec3{1, 0, 1}, true)

	removed := r.RemovePeerPlayers(3)
	if len(removed) != 1 || removed[0] != playerID {
		t.Fatalf("expected only the player to be removed, got %v", removed)
	}
	if _, ok := r.Get(turretID); !ok {
		t.Fatalf("expected the placed turret to persist after disconnect")
	}
}

func TestByTypeTracksTransitions(t *testing.T) {
	r := New(true)
	id, _ := r.Register(TypeCorpse, 0)
	if n := r.CountByType(TypeCorpse); n != 1 {
		t.Fatalf("expected 1 corpse, got %d", n)
	}
	r.Rigidify(id)
	if n := r.CountByType(TypeCorpse); n != 0 {
		t.Fatalf("expected 0 corpses after rigidify, got %d", n)
	}
	if n := r.CountByType(TypeProp); n != 1 {
		t.Fatalf("expected 1 prop after rigidify, got %d", n)
	}
}

func TestIdentifierUniquenessProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := New(true)
		seen := make(map[EntityID]bool)
		live := make([]EntityID, 0)
		var last EntityID

		steps := rapid.IntRange(1, 200).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if len(live) > 0 && rapid.Bool().Draw(t, "unregister") {
				idx := rapid.IntRange(0, len(live)-1).Draw(t, "idx")
				r.Unregister(live[idx])
				live = append(live[:idx], live[idx+1:]...)
				continue
			}
			id, ok := r.Register(TypeProp, 0)
			if !ok {
				t.Fatalf("registration failed")
			}
			if seen[id] {
				t.Fatalf("identifier %d reused", id)
			}
			if id <= last {
				t.Fatalf("identifier %d not greater than previous %d", id, last)
			}
			seen[id] = true
			last = id
			live = append(live, id)
		}
	})
}
