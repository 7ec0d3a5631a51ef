package registry

import (
	"context"

	"github.com/go-gl/mathgl/mgl64"

	"holdfast/server/logging"
	"holdfast/server/logging/lifecycle"
)

// EntityID is a server-issued identifier. IDs are strictly increasing within
// a session and are never reused after unregistration.
type EntityID uint64

// PeerID identifies a connected peer. The authoritative host is always 1.
type PeerID int32

const HostPeerID PeerID = 1

// EntityType enumerates every interactable object kind the registry tracks.
type EntityType string

const (
	TypePlayer  EntityType = "player"
	TypeZombie  EntityType = "zombie"
	TypeProp    EntityType = "prop"
	TypeCorpse  EntityType = "corpse"
	TypeTurret  EntityType = "turret"
	TypeShop    EntityType = "shop"
	TypeNail    EntityType = "nail"
	TypeLootBag EntityType = "lootbag"
)

// Entity is a registry record. Component data is a flat name→payload map at
// this layer; consumers interpret shapes through the typed accessors in
// components.go.
type Entity struct {
	ID         EntityID
	Type       EntityType
	Owner      PeerID
	Spatial    bool
	Position   mgl64.Vec3
	Rotation   mgl64.Vec3
	components map[string]any
	rigidified bool
}

// Component returns the raw payload stored under name.
func (e *Entity) Component(name string) (any, bool) {
	if e == nil {
		return nil, false
	}
	data, ok := e.components[name]
	return data, ok
}

// ComponentNames lists the populated component keys.
func (e *Entity) ComponentNames() []string {
	if e == nil || len(e.components) == 0 {
		return nil
	}
	names := make([]string, 0, len(e.components))
	for name := range e.components {
		names = append(names, name)
	}
	return names
}

// Observer receives synchronous registration lifecycle callbacks. The hub
// uses this to announce spawns/removals over the reliable channel.
type Observer interface {
	EntityRegistered(e *Entity)
	EntityUnregistered(id EntityID, typ EntityType, owner PeerID)
}

// Registry is the single source of truth for what exists. Mutating calls are
// accepted only on the authoritative instance; replicas reject them. All
// mutation happens on the tick goroutine, so no lock is held here.
type Registry struct {
	authoritative bool
	nextID        uint64
	entities      map[EntityID]*Entity
	byType        map[EntityType]map[EntityID]*Entity
	observers     []Observer
	publisher     logging.Publisher
	tick          func() uint64
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithPublisher routes lifecycle events into the structured log.
func WithPublisher(pub logging.Publisher) Option {
	return func(r *Registry) { r.publisher = pub }
}

// WithTickSource supplies the current tick for event stamping.
func WithTickSource(tick func() uint64) Option {
	return func(r *Registry) { r.tick = tick }
}

// New constructs a registry. Pass authoritative=false on joining clients;
// their registry only accepts Apply from replicated state.
func New(authoritative bool, opts ...Option) *Registry {
	r := &Registry{
		authoritative: authoritative,
		entities:      make(map[EntityID]*Entity),
		byType:        make(map[EntityType]map[EntityID]*Entity),
		publisher:     logging.NopPublisher(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Authoritative reports whether this instance may mutate world state.
func (r *Registry) Authoritative() bool {
	return r != nil && r.authoritative
}

// AddObserver appends a lifecycle observer.
func (r *Registry) AddObserver(obs Observer) {
	if r == nil || obs == nil {
		return
	}
	r.observers = append(r.observers, obs)
}

// Register issues the next identifier for a new entity and announces it.
// Non-authoritative callers get a rejection.
func (r *Registry) Register(typ EntityType, owner PeerID) (EntityID, bool) {
	return r.RegisterAt(typ, owner, mgl64.Vec3{}, false)
}

// RegisterAt registers a spatial entity at the given world position.
func (r *Registry) RegisterAt(typ EntityType, owner PeerID, pos mgl64.Vec3, spatial bool) (EntityID, bool) {
	if r == nil || !r.authoritative || typ == "" {
		return 0, false
	}
	r.nextID++
	id := EntityID(r.nextID)
	entity := &Entity{
		ID:         id,
		Type:       typ,
		Owner:      owner,
		Spatial:    spatial,
		Position:   pos,
		components: make(map[string]any),
	}
	r.insert(entity)
	lifecycle.EntitySpawned(context.Background(), r.publisher, r.currentTick(), entityRef(entity), lifecycle.EntityPayload{
		EntityID: uint64(id),
		Type:     string(typ),
		OwnerID:  int32(owner),
	})
	for _, obs := range r.observers {
		obs.EntityRegistered(entity)
	}
	return id, true
}

// Unregister removes an entity. The identifier is retired permanently.
func (r *Registry) Unregister(id EntityID) bool {
	if r == nil || !r.authoritative {
		return false
	}
	entity, ok := r.entities[id]
	if !ok {
		return false
	}
	r.remove(entity)
	lifecycle.EntityRemoved(context.Background(), r.publisher, r.currentTick(), entityRef(entity), lifecycle.EntityPayload{
		EntityID: uint64(id),
		Type:     string(entity.Type),
		OwnerID:  int32(entity.Owner),
	})
	for _, obs := range r.observers {
		obs.EntityUnregistered(id, entity.Type, entity.Owner)
	}
	return true
}

// SetComponent stores a payload under name. Authoritative-only.
func (r *Registry) SetComponent(id EntityID, name string, data any) bool {
	if r == nil || !r.authoritative || name == "" {
		return false
	}
	entity, ok := r.entities[id]
	if !ok {
		return false
	}
	entity.components[name] = data
	return true
}

// RemoveComponent deletes the payload stored under name. Authoritative-only.
func (r *Registry) RemoveComponent(id EntityID, name string) bool {
	if r == nil || !r.authoritative || name == "" {
		return false
	}
	entity, ok := r.entities[id]
	if !ok {
		return false
	}
	if _, ok := entity.components[name]; !ok {
		return false
	}
	delete(entity.components, name)
	return true
}

// Component returns the payload stored under name for the entity.
func (r *Registry) Component(id EntityID, name string) (any, bool) {
	if r == nil {
		return nil, false
	}
	entity, ok := r.entities[id]
	if !ok {
		return nil, false
	}
	return entity.Component(name)
}

// Get returns the entity record, if present.
func (r *Registry) Get(id EntityID) (*Entity, bool) {
	if r == nil {
		return nil, false
	}
	entity, ok := r.entities[id]
	return entity, ok
}

// ByType returns every live entity of the given type. Order is unspecified.
func (r *Registry) ByType(typ EntityType) []*Entity {
	if r == nil {
		return nil
	}
	bucket := r.byType[typ]
	if len(bucket) == 0 {
		return nil
	}
	out := make([]*Entity, 0, len(bucket))
	for _, entity := range bucket {
		out = append(out, entity)
	}
	return out
}

// CountByType reports the number of live entities of the given type.
func (r *Registry) CountByType(typ EntityType) int {
	if r == nil {
		return 0
	}
	return len(r.byType[typ])
}

// Len reports the total number of live entities.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entities)
}

// SetPosition updates a spatial entity's transform. Authoritative-only.
func (r *Registry) SetPosition(id EntityID, pos, rot mgl64.Vec3) bool {
	if r == nil || !r.authoritative {
		return false
	}
	entity, ok := r.entities[id]
	if !ok {
		return false
	}
	entity.Spatial = true
	entity.Position = pos
	entity.Rotation = rot
	return true
}

// Rigidify transitions a corpse into a prop. The transition is allowed
// exactly once per entity; any other type change is refused.
func (r *Registry) Rigidify(id EntityID) bool {
	if r == nil || !r.authoritative {
		return false
	}
	entity, ok := r.entities[id]
	if !ok || entity.Type != TypeCorpse || entity.rigidified {
		return false
	}
	r.remove(entity)
	entity.Type = TypeProp
	entity.rigidified = true
	r.insert(entity)
	return true
}

// RemovePeerPlayers unregisters every Player entity owned by the peer.
// Non-player entities the peer owned (placed turrets, nails) persist until a
// round reset cleans them up.
func (r *Registry) RemovePeerPlayers(peer PeerID) []EntityID {
	if r == nil || !r.authoritative {
		return nil
	}
	var removed []EntityID
	for id, entity := range r.byType[TypePlayer] {
		if entity.Owner == peer {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		r.Unregister(id)
	}
	return removed
}

// Record is the portable form of an entity used by full-world sync.
type Record struct {
	ID         EntityID       `json:"id"`
	Type       EntityType     `json:"type"`
	Owner      PeerID         `json:"owner,omitempty"`
	Spatial    bool           `json:"spatial,omitempty"`
	Position   [3]float64     `json:"position,omitempty"`
	Rotation   [3]float64     `json:"rotation,omitempty"`
	Components map[string]any `json:"components,omitempty"`
}

// Export captures every entity as a Record, for full-world serialization.
func (r *Registry) Export() []Record {
	if r == nil {
		return nil
	}
	records := make([]Record, 0, len(r.entities))
	for _, entity := range r.entities {
		rec := Record{
			ID:       entity.ID,
			Type:     entity.Type,
			Owner:    entity.Owner,
			Spatial:  entity.Spatial,
			Position: [3]float64{entity.Position.X(), entity.Position.Y(), entity.Position.Z()},
			Rotation: [3]float64{entity.Rotation.X(), entity.Rotation.Y(), entity.Rotation.Z()},
		}
		if len(entity.components) > 0 {
			rec.Components = make(map[string]any, len(entity.components))
			for name, data := range entity.components {
				rec.Components[name] = data
			}
		}
		records = append(records, rec)
	}
	return records
}

// RecordOf captures a single entity as a Record, for spawn announcements.
func (r *Registry) RecordOf(id EntityID) (Record, bool) {
	if r == nil {
		return Record{}, false
	}
	entity, ok := r.entities[id]
	if !ok {
		return Record{}, false
	}
	rec := Record{
		ID:       entity.ID,
		Type:     entity.Type,
		Owner:    entity.Owner,
		Spatial:  entity.Spatial,
		Position: [3]float64{entity.Position.X(), entity.Position.Y(), entity.Position.Z()},
		Rotation: [3]float64{entity.Rotation.X(), entity.Rotation.Y(), entity.Rotation.Z()},
	}
	if len(entity.components) > 0 {
		rec.Components = make(map[string]any, len(entity.components))
		for name, data := range entity.components {
			rec.Components[name] = data
		}
	}
	return rec, true
}

// Apply installs a replicated record, preserving its identifier. Used when a
// joining client reconstructs the world from a full snapshot. Applying the
// same record twice overwrites in place, so apply is idempotent.
func (r *Registry) Apply(rec Record) bool {
	if r == nil || rec.ID == 0 || rec.Type == "" {
		return false
	}
	if existing, ok := r.entities[rec.ID]; ok {
		r.remove(existing)
	}
	entity := &Entity{
		ID:         rec.ID,
		Type:       rec.Type,
		Owner:      rec.Owner,
		Spatial:    rec.Spatial,
		Position:   mgl64.Vec3{rec.Position[0], rec.Position[1], rec.Position[2]},
		Rotation:   mgl64.Vec3{rec.Rotation[0], rec.Rotation[1], rec.Rotation[2]},
		components: make(map[string]any, len(rec.Components)),
	}
	for name, data := range rec.Components {
		entity.components[name] = data
	}
	r.insert(entity)
	if uint64(rec.ID) > r.nextID {
		r.nextID = uint64(rec.ID)
	}
	return true
}

func (r *Registry) insert(entity *Entity) {
	r.entities[entity.ID] = entity
	bucket := r.byType[entity.Type]
	if bucket == nil {
		bucket = make(map[EntityID]*Entity)
		r.byType[entity.Type] = bucket
	}
	bucket[entity.ID] = entity
}

func (r *Registry) remove(entity *Entity) {
	delete(r.entities, entity.ID)
	if bucket := r.byType[entity.Type]; bucket != nil {
		delete(bucket, entity.ID)
		if len(bucket) == 0 {
			delete(r.byType, entity.Type)
		}
	}
}

func (r *Registry) currentTick() uint64 {
	if r.tick == nil {
		return 0
	}
	return r.tick()
}

func entityRef(entity *Entity) logging.EntityRef {
	kind := logging.EntityKindUnknown
	switch entity.Type {
	case TypePlayer:
		kind = logging.EntityKindPlayer
	case TypeZombie:
		kind = logging.EntityKindZombie
	case TypeProp, TypeCorpse, TypeShop, TypeLootBag:
		kind = logging.EntityKindProp
	case TypeNail:
		kind = logging.EntityKindNail
	case TypeTurret:
		kind = logging.EntityKindTurret
	}
	return logging.EntityRef{ID: entity.ID.String(), Kind: kind}
}
