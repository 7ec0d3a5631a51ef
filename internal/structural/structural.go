package structural

import (
	"context"
	"math/rand"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"holdfast/server/internal/registry"
	"holdfast/server/logging"
	logstructural "holdfast/server/logging/structural"
)

// Physics is the boundary to the external physics/collision service. The
// system issues constraint requests through it but never solves anything.
type Physics interface {
	CreateConstraint(nailID, propID, surfaceID registry.EntityID, point, normal mgl64.Vec3) error
	ReleaseConstraint(nailID registry.EntityID) error
}

// NopPhysics discards every constraint request.
type NopPhysics struct{}

func (NopPhysics) CreateConstraint(registry.EntityID, registry.EntityID, registry.EntityID, mgl64.Vec3, mgl64.Vec3) error {
	return nil
}

func (NopPhysics) ReleaseConstraint(registry.EntityID) error {
	return nil
}

// Nail is a structural fastener attaching a prop to the static world
// (SurfaceID == 0) or to another prop.
type Nail struct {
	ID          registry.EntityID `json:"id"`
	Owner       registry.PeerID   `json:"ownerId"`
	PropID      registry.EntityID `json:"propId"`
	SurfaceID   registry.EntityID `json:"surfaceId,omitempty"`
	Position    [3]float64        `json:"position"`
	Normal      [3]float64        `json:"normal"`
	HP          float64           `json:"hp"`
	MaxHP       float64           `json:"maxHp"`
	BaseMaxHP   float64           `json:"baseMaxHp"`
	RepairCount int               `json:"repairCount"`
	Active      bool              `json:"active"`
}

// Config tunes placement validation and repair wear.
type Config struct {
	Reach             float64
	SurfaceTolerance  float64
	PropBoundsRadius  float64
	MaxNailsPerProp   int
	MinSpacing        float64
	PlacementCooldown time.Duration
	MinRollHP         float64
	MaxRollHP         float64
	BaseRepair        float64
	MaxRepairs        int
	// RepairWear is the fraction of BaseMaxHP permanently shaved off the
	// effective maximum per repair; MaxHPFloor bounds the shaving.
	RepairWear float64
	MaxHPFloor float64
}

func DefaultConfig() Config {
	return Config{
		Reach:             4.5,
		SurfaceTolerance:  1.0,
		PropBoundsRadius:  1.5,
		MaxNailsPerProp:   3,
		MinSpacing:        0.25,
		PlacementCooldown: 250 * time.Millisecond,
		MinRollHP:         70,
		MaxRollHP:         130,
		BaseRepair:        50,
		MaxRepairs:        4,
		RepairWear:        0.15,
		MaxHPFloor:        0.30,
	}
}

// EventKind enumerates reliable structural broadcasts.
type EventKind string

const (
	EventNailCreated   EventKind = "nail_created"
	EventNailRepaired  EventKind = "nail_repaired"
	EventNailDamaged   EventKind = "nail_damaged"
	EventNailDestroyed EventKind = "nail_destroyed"
)

// Event describes a structural change for the reliable channel. Cascade
// destruction arrives as a single event carrying every destroyed id so
// clients can batch the visual feedback.
type Event struct {
	Kind      EventKind  `json:"kind"`
	Nail      Nail       `json:"nail"`
	Destroyed []uint64   `json:"destroyed,omitempty"`
	Tick      uint64     `json:"tick"`
}

// System owns every fastener record. Like the rest of the world state it is
// mutated only from the tick loop, so it carries no lock.
type System struct {
	cfg       Config
	reg       *registry.Registry
	physics   Physics
	rng       *rand.Rand
	clock     logging.Clock
	publisher logging.Publisher
	tick      func() uint64
	emit      func(Event)

	nails         map[registry.EntityID]*Nail
	byProp        map[registry.EntityID][]registry.EntityID
	lastPlacement map[registry.PeerID]time.Time
}

// NewSystem wires the structural system against the registry and physics
// boundary. emit receives reliable events for broadcast; it may be nil.
func NewSystem(cfg Config, reg *registry.Registry, physics Physics, rng *rand.Rand, clock logging.Clock, pub logging.Publisher, tick func() uint64, emit func(Event)) *System {
	if physics == nil {
		physics = NopPhysics{}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if clock == nil {
		clock = logging.SystemClock{}
	}
	if pub == nil {
		pub = logging.NopPublisher()
	}
	return &System{
		cfg:           cfg,
		reg:           reg,
		physics:       physics,
		rng:           rng,
		clock:         clock,
		publisher:     pub,
		tick:          tick,
		emit:          emit,
		nails:         make(map[registry.EntityID]*Nail),
		byProp:        make(map[registry.EntityID][]registry.EntityID),
		lastPlacement: make(map[registry.PeerID]time.Time),
	}
}

// PlaceRequest carries a peer's fastener placement intent.
type PlaceRequest struct {
	Requester registry.PeerID
	PropID    registry.EntityID
	SurfaceID registry.EntityID
	Point     mgl64.Vec3
	Normal    mgl64.Vec3
}

// Place validates and creates a fastener. Every rejection is silent: the
// caller learns only success/failure, never which check tripped, so probing
// the validator teaches an attacker nothing.
func (s *System) Place(req PlaceRequest) (*Nail, bool) {
	if s == nil || !s.reg.Authoritative() {
		return nil, false
	}

	requester, ok := s.livePlayer(req.Requester)
	if !ok {
		return nil, false
	}

	now := s.clock.Now()
	if last, ok := s.lastPlacement[req.Requester]; ok && now.Sub(last) < s.cfg.PlacementCooldown {
		return nil, false
	}

	prop, ok := s.reg.Get(req.PropID)
	if !ok || prop.Type != registry.TypeProp || s.held(req.PropID) {
		return nil, false
	}

	if requester.Position.Sub(req.Point).Len() > s.cfg.Reach {
		return nil, false
	}
	if prop.Position.Sub(req.Point).Len() > s.cfg.PropBoundsRadius+s.cfg.SurfaceTolerance {
		return nil, false
	}

	active := s.activeOnProp(req.PropID)
	if len(active) >= s.cfg.MaxNailsPerProp {
		return nil, false
	}
	for _, other := range active {
		existing := mgl64.Vec3{other.Position[0], other.Position[1], other.Position[2]}
		if existing.Sub(req.Point).Len() < s.cfg.MinSpacing {
			return nil, false
		}
	}

	if req.SurfaceID != 0 {
		surface, ok := s.reg.Get(req.SurfaceID)
		if !ok || surface.Type != registry.TypeProp || s.held(req.SurfaceID) {
			return nil, false
		}
	}

	normal := sanitizeNormal(req.Normal)

	id, ok := s.reg.RegisterAt(registry.TypeNail, req.Requester, req.Point, true)
	if !ok {
		return nil, false
	}

	hp := s.cfg.MinRollHP + s.rng.Float64()*(s.cfg.MaxRollHP-s.cfg.MinRollHP)
	nail := &Nail{
		ID:        id,
		Owner:     req.Requester,
		PropID:    req.PropID,
		SurfaceID: req.SurfaceID,
		Position:  [3]float64{req.Point.X(), req.Point.Y(), req.Point.Z()},
		Normal:    [3]float64{normal.X(), normal.Y(), normal.Z()},
		HP:        hp,
		MaxHP:     hp,
		BaseMaxHP: hp,
		Active:    true,
	}
	s.nails[id] = nail
	s.byProp[req.PropID] = append(s.byProp[req.PropID], id)
	s.lastPlacement[req.Requester] = now

	if err := s.physics.CreateConstraint(id, req.PropID, req.SurfaceID, req.Point, normal); err != nil {
		// The constraint is cosmetic-critical but not authoritative; the
		// fastener record stands and the physics service may reconcile later.
		s.publisher.Publish(context.Background(), logging.Event{
			Type:     "structural.constraint_failed",
			Tick:     s.currentTick(),
			Actor:    logging.EntityRef{ID: id.String(), Kind: logging.EntityKindNail},
			Severity: logging.SeverityWarn,
			Category: logging.CategoryStructural,
		})
	}

	logstructural.NailPlaced(context.Background(), s.publisher, s.currentTick(),
		logging.EntityRef{ID: id.String(), Kind: logging.EntityKindNail},
		logstructural.NailPlacedPayload{
			NailID:  uint64(id),
			PropID:  uint64(req.PropID),
			OwnerID: int32(req.Requester),
			HP:      int(hp),
		})
	s.broadcast(Event{Kind: EventNailCreated, Nail: *nail, Tick: s.currentTick()})
	return nail, true
}

// Repair reject reasons, surfaced to the requester through the gateway.
const (
	RepairRejectNotFound   = "not_found"
	RepairRejectInactive   = "inactive"
	RepairRejectMaxRepairs = "max_repairs"
)

// Repair applies one repair charge. Each application restores less than the
// previous one and permanently lowers the effective maximum, so a fastener
// wears out: after MaxRepairs applications further attempts fail.
func (s *System) Repair(nailID registry.EntityID) (Nail, string) {
	nail, ok := s.nails[nailID]
	if !ok {
		return Nail{}, RepairRejectNotFound
	}
	if !nail.Active {
		return Nail{}, RepairRejectInactive
	}
	if nail.RepairCount >= s.cfg.MaxRepairs {
		return *nail, RepairRejectMaxRepairs
	}

	restore := s.cfg.BaseRepair * (1 - s.cfg.RepairWear*float64(nail.RepairCount))
	if restore < 0 {
		restore = 0
	}
	nail.RepairCount++

	floor := nail.BaseMaxHP * s.cfg.MaxHPFloor
	nail.MaxHP -= nail.BaseMaxHP * s.cfg.RepairWear
	if nail.MaxHP < floor {
		nail.MaxHP = floor
	}

	nail.HP += restore
	if nail.HP > nail.MaxHP {
		nail.HP = nail.MaxHP
	}

	logstructural.NailRepaired(context.Background(), s.publisher, s.currentTick(),
		logging.EntityRef{ID: nailID.String(), Kind: logging.EntityKindNail},
		logstructural.NailRepairedPayload{
			NailID:      uint64(nailID),
			RepairCount: nail.RepairCount,
			HP:          int(nail.HP),
			MaxHP:       int(nail.MaxHP),
		})
	s.broadcast(Event{Kind: EventNailRepaired, Nail: *nail, Tick: s.currentTick()})
	return *nail, ""
}

// Damage lowers a fastener's hit points. Reaching zero destroys it and runs
// the cascade check; the returned slice holds every destroyed identifier
// (root first), empty when the fastener survives.
func (s *System) Damage(nailID registry.EntityID, amount float64) []registry.EntityID {
	nail, ok := s.nails[nailID]
	if !ok || !nail.Active || amount <= 0 {
		return nil
	}
	nail.HP -= amount
	if nail.HP > 0 {
		s.broadcast(Event{Kind: EventNailDamaged, Nail: *nail, Tick: s.currentTick()})
		return nil
	}
	nail.HP = 0
	return s.Destroy(nailID)
}

// Destroy removes a fastener and cascades: once a prop has no remaining
// supports, every active fastener anchored to that prop is destroyed too,
// transitively, each exactly once. The whole set is broadcast as one event.
func (s *System) Destroy(nailID registry.EntityID) []registry.EntityID {
	root, ok := s.nails[nailID]
	if !ok || !root.Active {
		return nil
	}
	visited := make(map[registry.EntityID]bool)
	destroyed := make([]registry.EntityID, 0, 1)
	s.destroyRecursive(nailID, visited, &destroyed)

	ids := make([]uint64, len(destroyed))
	for i, id := range destroyed {
		ids[i] = uint64(id)
	}
	logstructural.Cascade(context.Background(), s.publisher, s.currentTick(),
		logging.EntityRef{ID: nailID.String(), Kind: logging.EntityKindNail},
		logstructural.CascadePayload{RootNailID: uint64(nailID), Destroyed: ids})
	s.broadcast(Event{Kind: EventNailDestroyed, Nail: *root, Destroyed: ids, Tick: s.currentTick()})
	return destroyed
}

func (s *System) destroyRecursive(nailID registry.EntityID, visited map[registry.EntityID]bool, destroyed *[]registry.EntityID) {
	if visited[nailID] {
		return
	}
	visited[nailID] = true

	nail, ok := s.nails[nailID]
	if !ok || !nail.Active {
		return
	}
	nail.Active = false
	if err := s.physics.ReleaseConstraint(nailID); err != nil {
		s.publisher.Publish(context.Background(), logging.Event{
			Type:     "structural.release_failed",
			Tick:     s.currentTick(),
			Actor:    logging.EntityRef{ID: nailID.String(), Kind: logging.EntityKindNail},
			Severity: logging.SeverityWarn,
			Category: logging.CategoryStructural,
		})
	}
	s.detachFromProp(nail)
	s.reg.Unregister(nailID)
	delete(s.nails, nailID)

	logstructural.NailDestroyed(context.Background(), s.publisher, s.currentTick(),
		logging.EntityRef{ID: nailID.String(), Kind: logging.EntityKindNail},
		logstructural.NailDestroyedPayload{NailID: uint64(nailID), PropID: uint64(nail.PropID)})
	*destroyed = append(*destroyed, nailID)

	// The prop this fastener held up may now be unsupported; anything
	// anchored to it comes down with it.
	if len(s.activeOnProp(nail.PropID)) == 0 {
		for id, other := range s.nails {
			if other.Active && other.SurfaceID == nail.PropID {
				s.destroyRecursive(id, visited, destroyed)
			}
		}
	}
}

// RemovePropNails destroys every fastener attached to a prop that is being
// removed from the world (round reset, consumed corpse, …).
func (s *System) RemovePropNails(propID registry.EntityID) []registry.EntityID {
	var removed []registry.EntityID
	for _, id := range append([]registry.EntityID(nil), s.byProp[propID]...) {
		if nail, ok := s.nails[id]; ok && nail.Active {
			removed = append(removed, s.Destroy(id)...)
		}
	}
	return removed
}

// Get returns a copy of the fastener record.
func (s *System) Get(nailID registry.EntityID) (Nail, bool) {
	nail, ok := s.nails[nailID]
	if !ok {
		return Nail{}, false
	}
	return *nail, ok
}

// ActiveCount reports the number of active fasteners on a prop.
func (s *System) ActiveCount(propID registry.EntityID) int {
	return len(s.activeOnProp(propID))
}

// Export lists every active fastener for full-world sync.
func (s *System) Export() []Nail {
	out := make([]Nail, 0, len(s.nails))
	for _, nail := range s.nails {
		if nail.Active {
			out = append(out, *nail)
		}
	}
	return out
}

// Apply installs a replicated fastener record on a joining client.
func (s *System) Apply(nail Nail) {
	copied := nail
	s.nails[nail.ID] = &copied
	for _, existing := range s.byProp[nail.PropID] {
		if existing == nail.ID {
			return
		}
	}
	s.byProp[nail.PropID] = append(s.byProp[nail.PropID], nail.ID)
}

func (s *System) activeOnProp(propID registry.EntityID) []*Nail {
	ids := s.byProp[propID]
	if len(ids) == 0 {
		return nil
	}
	active := make([]*Nail, 0, len(ids))
	for _, id := range ids {
		if nail, ok := s.nails[id]; ok && nail.Active {
			active = append(active, nail)
		}
	}
	return active
}

func (s *System) detachFromProp(nail *Nail) {
	ids := s.byProp[nail.PropID]
	for i, id := range ids {
		if id == nail.ID {
			s.byProp[nail.PropID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byProp[nail.PropID]) == 0 {
		delete(s.byProp, nail.PropID)
	}
}

func (s *System) livePlayer(peer registry.PeerID) (*registry.Entity, bool) {
	for _, entity := range s.reg.ByType(registry.TypePlayer) {
		if entity.Owner != peer {
			continue
		}
		if health, ok := registry.HealthOf(s.reg, entity.ID); ok && health.Dead {
			return nil, false
		}
		return entity, true
	}
	return nil, false
}

func (s *System) held(propID registry.EntityID) bool {
	state, ok := registry.RigidStateOf(s.reg, propID)
	return ok && state.Held
}

func (s *System) broadcast(event Event) {
	if s.emit != nil {
		s.emit(event)
	}
}

func (s *System) currentTick() uint64 {
	if s.tick == nil {
		return 0
	}
	return s.tick()
}

// sanitizeNormal replaces an implausible surface normal with straight up.
func sanitizeNormal(n mgl64.Vec3) mgl64.Vec3 {
	length := n.Len()
	if length < 0.5 || length > 2.0 {
		return mgl64.Vec3{0, 1, 0}
	}
	return n.Mul(1 / length)
}
