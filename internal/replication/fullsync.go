package replication

import (
	"github.com/go-gl/mathgl/mgl64"

	"holdfast/server/internal/registry"
	"holdfast/server/internal/structural"
)

// PeerInfo resolves display metadata for a peer when serializing players.
type PeerInfo func(peer registry.PeerID) (name, team string)

// PlayerRecord is one player in the full-world sync message.
type PlayerRecord struct {
	ID         uint64         `json:"id"`
	PeerID     int32          `json:"peerId"`
	Name       string         `json:"name"`
	Team       string         `json:"team,omitempty"`
	Position   [3]float64     `json:"position"`
	Rotation   [3]float64     `json:"rotation"`
	Health     float64        `json:"health"`
	MaxHealth  float64        `json:"maxHealth"`
	IsDead     bool           `json:"isDead,omitempty"`
	Components map[string]any `json:"components,omitempty"`
}

// ZombieRecord is one zombie in the full-world sync message.
type ZombieRecord struct {
	ID         uint64         `json:"id"`
	Position   [3]float64     `json:"position"`
	Rotation   [3]float64     `json:"rotation"`
	Health     float64        `json:"health"`
	MaxHealth  float64        `json:"maxHealth"`
	Type       string         `json:"type,omitempty"`
	Components map[string]any `json:"components,omitempty"`
}

// PropRecord is one physical prop in the full-world sync message.
type PropRecord struct {
	ID         uint64         `json:"id"`
	Position   [3]float64     `json:"position"`
	Rotation   [3]float64     `json:"rotation"`
	Sleeping   bool           `json:"sleeping,omitempty"`
	Held       bool           `json:"held,omitempty"`
	LinearVel  [3]float64     `json:"linearVel,omitempty"`
	AngularVel [3]float64     `json:"angularVel,omitempty"`
	Owner      int32          `json:"owner,omitempty"`
	Components map[string]any `json:"components,omitempty"`
}

// FullSnapshot is the one-shot reliable world serialization sent to a
// late-joining peer before any per-tick snapshot is relied upon. Entity
// types without a dedicated section travel in Others.
type FullSnapshot struct {
	Wave    int               `json:"wave"`
	Phase   string            `json:"phase"`
	Players []PlayerRecord    `json:"players"`
	Zombies []ZombieRecord    `json:"zombies"`
	Props   []PropRecord      `json:"props"`
	Nails   []structural.Nail `json:"nails"`
	Others  []registry.Record `json:"others,omitempty"`
}

// BuildFull serializes the entire world: every entity, every component,
// every active fastener, and the current wave/phase.
func BuildFull(reg *registry.Registry, sys *structural.System, wave int, phase string, info PeerInfo) FullSnapshot {
	snapshot := FullSnapshot{
		Wave:    wave,
		Phase:   phase,
		Players: make([]PlayerRecord, 0),
		Zombies: make([]ZombieRecord, 0),
		Props:   make([]PropRecord, 0),
		Nails:   make([]structural.Nail, 0),
	}

	for _, rec := range reg.Export() {
		switch rec.Type {
		case registry.TypePlayer:
			player := PlayerRecord{
				ID:         uint64(rec.ID),
				PeerID:     int32(rec.Owner),
				Position:   rec.Position,
				Rotation:   rec.Rotation,
				Components: dropComponent(rec.Components, registry.ComponentHealth),
			}
			if health, ok := rec.Components[registry.ComponentHealth].(registry.Health); ok {
				player.Health = health.Current
				player.MaxHealth = health.Max
				player.IsDead = health.Dead
			}
			if info != nil {
				player.Name, player.Team = info(rec.Owner)
			}
			snapshot.Players = append(snapshot.Players, player)
		case registry.TypeZombie:
			zombie := ZombieRecord{
				ID:         uint64(rec.ID),
				Position:   rec.Position,
				Rotation:   rec.Rotation,
				Components: dropComponent(rec.Components, registry.ComponentHealth, registry.ComponentZombieType),
			}
			if health, ok := rec.Components[registry.ComponentHealth].(registry.Health); ok {
				zombie.Health = health.Current
				zombie.MaxHealth = health.Max
			}
			if typ, ok := rec.Components[registry.ComponentZombieType].(string); ok {
				zombie.Type = typ
			}
			snapshot.Zombies = append(snapshot.Zombies, zombie)
		case registry.TypeProp:
			prop := PropRecord{
				ID:         uint64(rec.ID),
				Position:   rec.Position,
				Rotation:   rec.Rotation,
				Owner:      int32(rec.Owner),
				Components: dropComponent(rec.Components, registry.ComponentRigidState),
			}
			if state, ok := rec.Components[registry.ComponentRigidState].(registry.RigidState); ok {
				prop.Sleeping = state.Sleeping
				prop.Held = state.Held
				prop.LinearVel = state.LinearVel
				prop.AngularVel = state.AngularVel
			}
			snapshot.Props = append(snapshot.Props, prop)
		case registry.TypeNail:
			// Fastener records are carried by the structural section below.
		default:
			snapshot.Others = append(snapshot.Others, rec)
		}
	}

	if sys != nil {
		snapshot.Nails = sys.Export()
	}
	return snapshot
}

// ApplyFull reconstructs the world on a fresh (replica) registry. Applying
// the same snapshot twice leaves the registry unchanged.
func ApplyFull(reg *registry.Registry, sys *structural.System, snapshot FullSnapshot) {
	for _, player := range snapshot.Players {
		components := cloneComponents(player.Components)
		components[registry.ComponentHealth] = registry.Health{
			Current: player.Health,
			Max:     player.MaxHealth,
			Dead:    player.IsDead,
		}
		reg.Apply(registry.Record{
			ID:         registry.EntityID(player.ID),
			Type:       registry.TypePlayer,
			Owner:      registry.PeerID(player.PeerID),
			Spatial:    true,
			Position:   player.Position,
			Rotation:   player.Rotation,
			Components: components,
		})
	}
	for _, zombie := range snapshot.Zombies {
		components := cloneComponents(zombie.Components)
		components[registry.ComponentHealth] = registry.Health{
			Current: zombie.Health,
			Max:     zombie.MaxHealth,
		}
		if zombie.Type != "" {
			components[registry.ComponentZombieType] = zombie.Type
		}
		reg.Apply(registry.Record{
			ID:         registry.EntityID(zombie.ID),
			Type:       registry.TypeZombie,
			Spatial:    true,
			Position:   zombie.Position,
			Rotation:   zombie.Rotation,
			Components: components,
		})
	}
	for _, prop := range snapshot.Props {
		components := cloneComponents(prop.Components)
		components[registry.ComponentRigidState] = registry.RigidState{
			Sleeping:   prop.Sleeping,
			Held:       prop.Held,
			LinearVel:  prop.LinearVel,
			AngularVel: prop.AngularVel,
		}
		reg.Apply(registry.Record{
			ID:         registry.EntityID(prop.ID),
			Type:       registry.TypeProp,
			Owner:      registry.PeerID(prop.Owner),
			Spatial:    true,
			Position:   prop.Position,
			Rotation:   prop.Rotation,
			Components: components,
		})
	}
	for _, rec := range snapshot.Others {
		reg.Apply(rec)
	}
	for _, nail := range snapshot.Nails {
		reg.Apply(registry.Record{
			ID:       nail.ID,
			Type:     registry.TypeNail,
			Owner:    nail.Owner,
			Spatial:  true,
			Position: nail.Position,
		})
		if sys != nil {
			sys.Apply(nail)
		}
	}
}

func dropComponent(components map[string]any, names ...string) map[string]any {
	if len(components) == 0 {
		return nil
	}
	filtered := make(map[string]any, len(components))
	for name, data := range components {
		filtered[name] = data
	}
	for _, name := range names {
		delete(filtered, name)
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}

func cloneComponents(components map[string]any) map[string]any {
	cloned := make(map[string]any, len(components)+1)
	for name, data := range components {
		cloned[name] = data
	}
	return cloned
}


func vec3(v mgl64.Vec3) [3]float64 {
	return [3]float64{v.X(), v.Y(), v.Z()}
}
