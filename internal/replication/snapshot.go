package replication

import (
	"holdfast/server/internal/registry"
	"holdfast/server/internal/structural"
)

// PlayerTickState is the per-tick overwrite for one player. Snapshots carry
// absolute values, never diffs, so a lost tick heals on the next one.
type PlayerTickState struct {
	Position [3]float64 `json:"position"`
	Rotation [3]float64 `json:"rotation"`
	Health   float64    `json:"health"`
	Dead     bool       `json:"isDead,omitempty"`
}

// ZombieTickState is the per-tick overwrite for one zombie.
type ZombieTickState struct {
	Position [3]float64 `json:"position"`
	Rotation [3]float64 `json:"rotation"`
	Health   float64    `json:"health"`
	Type     string     `json:"type,omitempty"`
}

// NailTickState is the per-tick overwrite for one fastener.
type NailTickState struct {
	HP     float64 `json:"hp"`
	Active bool    `json:"active"`
}

// TickSnapshot is the unreliable per-tick state message. It is produced
// every tick, sent best-effort, and discarded.
type TickSnapshot struct {
	Tick    uint64                     `json:"tick"`
	Players map[int32]PlayerTickState  `json:"players,omitempty"`
	Zombies map[uint64]ZombieTickState `json:"zombies,omitempty"`
	Nails   map[uint64]NailTickState   `json:"nails,omitempty"`
}

// BuildTick collects the networked fields of players, zombies, and fasteners
// into a snapshot keyed by tick number.
func BuildTick(reg *registry.Registry, sys *structural.System, tick uint64) TickSnapshot {
	snapshot := TickSnapshot{Tick: tick}

	players := reg.ByType(registry.TypePlayer)
	if len(players) > 0 {
		snapshot.Players = make(map[int32]PlayerTickState, len(players))
		for _, entity := range players {
			state := PlayerTickState{
				Position: vec3(entity.Position),
				Rotation: vec3(entity.Rotation),
			}
			if health, ok := registry.HealthOf(reg, entity.ID); ok {
				state.Health = health.Current
				state.Dead = health.Dead
			}
			snapshot.Players[int32(entity.Owner)] = state
		}
	}

	zombies := reg.ByType(registry.TypeZombie)
	if len(zombies) > 0 {
		snapshot.Zombies = make(map[uint64]ZombieTickState, len(zombies))
		for _, entity := range zombies {
			state := ZombieTickState{
				Position: vec3(entity.Position),
				Rotation: vec3(entity.Rotation),
			}
			if health, ok := registry.HealthOf(reg, entity.ID); ok {
				state.Health = health.Current
			}
			if raw, ok := entity.Component(registry.ComponentZombieType); ok {
				if typ, ok := raw.(string); ok {
					state.Type = typ
				}
			}
			snapshot.Zombies[uint64(entity.ID)] = state
		}
	}

	if sys != nil {
		nails := sys.Export()
		if len(nails) > 0 {
			snapshot.Nails = make(map[uint64]NailTickState, len(nails))
			for _, nail := range nails {
				snapshot.Nails[uint64(nail.ID)] = NailTickState{HP: nail.HP, Active: nail.Active}
			}
		}
	}

	return snapshot
}

// TickApplier tracks the last applied tick on the receiving side. The
// unreliable channel preserves order among delivered packets but may drop
// any of them; anything stale is silently discarded here.
type TickApplier struct {
	lastTick uint64
}

// Accept reports whether the snapshot should be applied, advancing the
// cursor when it is.
func (a *TickApplier) Accept(snapshot TickSnapshot) bool {
	if a == nil {
		return false
	}
	if snapshot.Tick <= a.lastTick {
		return false
	}
	a.lastTick = snapshot.Tick
	return true
}

// LastTick reports the most recently applied tick.
func (a *TickApplier) LastTick() uint64 {
	if a == nil {
		return 0
	}
	return a.lastTick
}
