package structural

import (
	"math/rand"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"pgregory.net/rapid"

	"holdfast/server/internal/registry"
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

type recordingPhysics struct {
	created  []registry.EntityID
	released []registry.EntityID
}

func (p *recordingPhysics) CreateConstraint(nailID, propID, surfaceID registry.EntityID, point, normal mgl64.Vec3) error {
	p.created = append(p.created, nailID)
	return nil
}

func (p *recordingPhysics) ReleaseConstraint(nailID registry.EntityID) error {
	p.released = append(p.released, nailID)
	return nil
}

type harness struct {
	reg     *registry.Registry
	sys     *System
	clock   *fakeClock
	physics *recordingPhysics
	events  []Event
	peer    registry.PeerID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		reg:     registry.New(true),
		clock:   &fakeClock{now: time.Unix(1_700_000_000, 0)},
		physics: &recordingPhysics{},
		peer:    2,
	}
	h.sys = NewSystem(DefaultConfig(), h.reg, h.physics, rand.New(rand.NewSource(7)), h.clock, nil, nil, func(event Event) {
		h.events = append(h.events, event)
	})

	playerID, ok := h.reg.RegisterAt(registry.TypePlayer, h.peer, mgl64.Vec3{0, 0, 0}, true)
	if !ok {
		t.Fatalf("failed to register player")
	}
	h.reg.SetComponent(playerID, registry.ComponentHealth, registry.Health{Current: 100, Max: 100})
	return h
}

func (h *harness) addProp(t *testing.T, pos mgl64.Vec3) registry.EntityID {
	t.Helper()
	id, ok := h.reg.RegisterAt(registry.TypeProp, 0, pos, true)
	if !ok {
		t.Fatalf("failed to register prop")
	}
	return id
}

func (h *harness) place(t *testing.T, prop, surface registry.EntityID, point mgl64.Vec3) *Nail {
	t.Helper()
	h.clock.advance(time.Second)
	nail, ok := h.sys.Place(PlaceRequest{
		Requester: h.peer,
		PropID:    prop,
		SurfaceID: surface,
		Point:     point,
		Normal:    mgl64.Vec3{0, 1, 0},
	})
	if !ok {
		t.Fatalf("expected placement to succeed")
	}
	return nail
}

func TestPlaceAtMaxReachSucceeds(t *testing.T) {
	h := newHarness(t)
	prop := h.addProp(t, mgl64.Vec3{4, 0, 0})

	nail, ok := h.sys.Place(PlaceRequest{
		Requester: h.peer,
		PropID:    prop,
		Point:     mgl64.Vec3{4, 0, 0}, // reach 4.0 of 4.5
		Normal:    mgl64.Vec3{0, 1, 0},
	})
	if !ok {
		t.Fatalf("expected placement at reach 4.0 to succeed")
	}
	if nail.HP < 70 || nail.HP > 130 {
		t.Fatalf("expected hp in [70,130], got %v", nail.HP)
	}
	if got := h.sys.ActiveCount(prop); got != 1 {
		t.Fatalf("expected 1 active fastener, got %d", got)
	}
	if len(h.physics.created) != 1 {
		t.Fatalf("expected one physics constraint request, got %d", len(h.physics.created))
	}
}

func TestPlaceBeyondReachRejected(t *testing.T) {
	h := newHarness(t)
	prop := h.addProp(t, mgl64.Vec3{5, 0, 0})

	if _, ok := h.sys.Place(PlaceRequest{
		Requester: h.peer,
		PropID:    prop,
		Point:     mgl64.Vec3{5, 0, 0},
		Normal:    mgl64.Vec3{0, 1, 0},
	}); ok {
		t.Fatalf("expected placement at reach 5.0 to be rejected")
	}
}

func TestFourthNailRejected(t *testing.T) {
	h := newHarness(t)
	prop := h.addProp(t, mgl64.Vec3{2, 0, 0})

	h.place(t, prop, 0, mgl64.Vec3{2, 0, 0})
	h.place(t, prop, 0, mgl64.Vec3{2, 0.5, 0})
	h.place(t, prop, 0, mgl64.Vec3{2, 1.0, 0})

	h.clock.advance(time.Second)
	if _, ok := h.sys.Place(PlaceRequest{
		Requester: h.peer,
		PropID:    prop,
		Point:     mgl64.Vec3{2, 1.5, 0},
		Normal:    mgl64.Vec3{0, 1, 0},
	}); ok {
		t.Fatalf("expected 4th fastener to be rejected")
	}
	if got := h.sys.ActiveCount(prop); got != 3 {
		t.Fatalf("expected fastener count to remain 3, got %d", got)
	}
}

func TestSpacingEnforced(t *testing.T) {
	h := newHarness(t)
	prop := h.addProp(t, mgl64.Vec3{2, 0, 0})
	h.place(t, prop, 0, mgl64.Vec3{2, 0, 0})

	h.clock.advance(time.Second)
	if _, ok := h.sys.Place(PlaceRequest{
		Requester: h.peer,
		PropID:    prop,
		Point:     mgl64.Vec3{2, 0.1, 0}, // 0.1 < 0.25 spacing
		Normal:    mgl64.Vec3{0, 1, 0},
	}); ok {
		t.Fatalf("expected placement inside min spacing to be rejected")
	}
}

func TestPlacementCooldown(t *testing.T) {
	h := newHarness(t)
	prop := h.addProp(t, mgl64.Vec3{2, 0, 0})
	h.place(t, prop, 0, mgl64.Vec3{2, 0, 0})

	// Second placement 100ms later is inside the 250ms cooldown.
	h.clock.advance(100 * time.Millisecond)
	if _, ok := h.sys.Place(PlaceRequest{
		Requester: h.peer,
		PropID:    prop,
		Point:     mgl64.Vec3{2, 1, 0},
		Normal:    mgl64.Vec3{0, 1, 0},
	}); ok {
		t.Fatalf("expected placement inside cooldown to be rejected")
	}
}

func TestHeldPropRejected(t *testing.T) {
	h := newHarness(t)
	prop := h.addProp(t, mgl64.Vec3{2, 0, 0})
	h.reg.SetComponent(prop, registry.ComponentRigidState, registry.RigidState{Held: true})

	h.clock.advance(time.Second)
	if _, ok := h.sys.Place(PlaceRequest{
		Requester: h.peer,
		PropID:    prop,
		Point:     mgl64.Vec3{2, 0, 0},
		Normal:    mgl64.Vec3{0, 1, 0},
	}); ok {
		t.Fatalf("expected placement on a held prop to be rejected")
	}
}

func TestImplausibleNormalSanitizedToUp(t *testing.T) {
	h := newHarness(t)
	prop := h.addProp(t, mgl64.Vec3{2, 0, 0})

	h.clock.advance(time.Second)
	nail, ok := h.sys.Place(PlaceRequest{
		Requester: h.peer,
		PropID:    prop,
		Point:     mgl64.Vec3{2, 0, 0},
		Normal:    mgl64.Vec3{0, 0, 95}, // magnitude 95, implausible
	})
	if !ok {
		t.Fatalf("expected placement to succeed")
	}
	if nail.Normal != [3]float64{0, 1, 0} {
		t.Fatalf("expected sanitized up normal, got %v", nail.Normal)
	}
}

func TestRepairDiminishingReturnsAndCap(t *testing.T) {
	h := newHarness(t)
	prop := h.addProp(t, mgl64.Vec3{2, 0, 0})
	nail := h.place(t, prop, 0, mgl64.Vec3{2, 0, 0})

	baseMax := nail.BaseMaxHP
	prevMax := baseMax
	for i := 0; i < 4; i++ {
		h.sys.Damage(nail.ID, 20)
		repaired, reason := h.sys.Repair(nail.ID)
		if reason != "" {
			t.Fatalf("repair %d unexpectedly rejected: %s", i+1, reason)
		}
		if repaired.MaxHP >= prevMax {
			t.Fatalf("repair %d: expected maxHp to strictly decrease, %v -> %v", i+1, prevMax, repaired.MaxHP)
		}
		if repaired.HP <= 0 || repaired.HP > repaired.MaxHP || repaired.MaxHP > repaired.BaseMaxHP {
			t.Fatalf("repair %d: hp bounds violated: %+v", i+1, repaired)
		}
		prevMax = repaired.MaxHP
	}

	final, _ := h.sys.Get(nail.ID)
	if final.MaxHP >= baseMax {
		t.Fatalf("expected maxHp after 4 repairs to be below base %v, got %v", baseMax, final.MaxHP)
	}
	if _, reason := h.sys.Repair(nail.ID); reason != RepairRejectMaxRepairs {
		t.Fatalf("expected 5th repair to fail with %q, got %q", RepairRejectMaxRepairs, reason)
	}
}

func TestDamageToZeroDestroys(t *testing.T) {
	h := newHarness(t)
	prop := h.addProp(t, mgl64.Vec3{2, 0, 0})
	nail := h.place(t, prop, 0, mgl64.Vec3{2, 0, 0})

	destroyed := h.sys.Damage(nail.ID, nail.HP+1)
	if len(destroyed) != 1 || destroyed[0] != nail.ID {
		t.Fatalf("expected the fastener to be destroyed, got %v", destroyed)
	}
	if _, ok := h.sys.Get(nail.ID); ok {
		t.Fatalf("expected destroyed fastener record to be gone")
	}
	if _, ok := h.reg.Get(nail.ID); ok {
		t.Fatalf("expected destroyed fastener to be unregistered")
	}
	if len(h.physics.released) != 1 {
		t.Fatalf("expected one constraint release, got %d", len(h.physics.released))
	}
}

func TestCascadeDestroysDependentsExactlyOnce(t *testing.T) {
	h := newHarness(t)
	// base is anchored to the world; mid hangs off base; top hangs off mid.
	base := h.addProp(t, mgl64.Vec3{1, 0, 0})
	mid := h.addProp(t, mgl64.Vec3{2, 0, 0})
	top := h.addProp(t, mgl64.Vec3{3, 0, 0})

	baseNail := h.place(t, base, 0, mgl64.Vec3{1, 0, 0})
	midNail := h.place(t, mid, base, mgl64.Vec3{2, 0, 0})
	topNail := h.place(t, top, mid, mgl64.Vec3{3, 0, 0})

	h.events = nil
	destroyed := h.sys.Destroy(baseNail.ID)

	if len(destroyed) != 3 {
		t.Fatalf("expected cascade to destroy 3 fasteners, got %v", destroyed)
	}
	seen := make(map[registry.EntityID]int)
	for _, id := range destroyed {
		seen[id]++
	}
	for _, id := range []registry.EntityID{baseNail.ID, midNail.ID, topNail.ID} {
		if seen[id] != 1 {
			t.Fatalf("expected fastener %d destroyed exactly once, got %d", id, seen[id])
		}
	}

	// One batched destruction event for the whole cascade.
	var destroyEvents int
	for _, event := range h.events {
		if event.Kind == EventNailDestroyed {
			destroyEvents++
			if len(event.Destroyed) != 3 {
				t.Fatalf("expected batched event to list 3 ids, got %v", event.Destroyed)
			}
		}
	}
	if destroyEvents != 1 {
		t.Fatalf("expected exactly one destruction event, got %d", destroyEvents)
	}
}

func TestCascadeSparesSupportedProps(t *testing.T) {
	h := newHarness(t)
	base := h.addProp(t, mgl64.Vec3{1, 0, 0})
	dependent := h.addProp(t, mgl64.Vec3{2, 0, 0})

	// base has two supports; dependent hangs off base.
	first := h.place(t, base, 0, mgl64.Vec3{1, 0, 0})
	h.place(t, base, 0, mgl64.Vec3{1, 1, 0})
	depNail := h.place(t, dependent, base, mgl64.Vec3{2, 0, 0})

	destroyed := h.sys.Destroy(first.ID)
	if len(destroyed) != 1 {
		t.Fatalf("expected only the root to be destroyed, got %v", destroyed)
	}
	if _, ok := h.sys.Get(depNail.ID); !ok {
		t.Fatalf("expected dependent fastener to survive while base is still supported")
	}
}

func TestNailInvariantsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		reg := registry.New(true)
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		sys := NewSystem(DefaultConfig(), reg, nil, rand.New(rand.NewSource(rapid.Int64().Draw(t, "seed"))), clock, nil, nil, nil)

		playerID, _ := reg.RegisterAt(registry.TypePlayer, 2, mgl64.Vec3{0, 0, 0}, true)
		reg.SetComponent(playerID, registry.ComponentHealth, registry.Health{Current: 100, Max: 100})
		prop, _ := reg.RegisterAt(registry.TypeProp, 0, mgl64.Vec3{2, 0, 0}, true)

		clock.advance(time.Second)
		nail, ok := sys.Place(PlaceRequest{
			Requester: 2,
			PropID:    prop,
			Point:     mgl64.Vec3{2, 0, 0},
			Normal:    mgl64.Vec3{0, 1, 0},
		})
		if !ok {
			t.Fatalf("placement failed")
		}

		ops := rapid.IntRange(1, 30).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			if rapid.Bool().Draw(t, "repair") {
				sys.Repair(nail.ID)
			} else {
				sys.Damage(nail.ID, rapid.Float64Range(0, 40).Draw(t, "dmg"))
			}
			current, live := sys.Get(nail.ID)
			if !live {
				return // destroyed, nothing left to check
			}
			if current.HP <= 0 || current.HP > current.MaxHP || current.MaxHP > current.BaseMaxHP {
				t.Fatalf("invariant violated: %+v", current)
			}
			if current.RepairCount > DefaultConfig().MaxRepairs {
				t.Fatalf("repair count exceeded cap: %+v", current)
			}
		}
	})
}
