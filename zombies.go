package server

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"holdfast/server/internal/registry"
	"holdfast/server/internal/waves"
)

// updateZombies runs the per-tick enemy behavior: each zombie pursues the
// nearest living player, chews through fasteners that block its reach, and
// bites on a per-zombie cooldown.
func (h *Hub) updateZombies(now time.Time, dt float64) {
	zombies := h.reg.ByType(registry.TypeZombie)
	if len(zombies) == 0 {
		return
	}
	damageScalar := h.director.CurrentPressure().DamageScalar
	if damageScalar <= 0 {
		damageScalar = 1
	}

	for _, zombie := range zombies {
		if health, ok := registry.HealthOf(h.reg, zombie.ID); ok && health.Dead {
			continue
		}
		typ := zombieTypeOf(h.reg, zombie.ID)
		target, targetID := h.nearestLivePlayer(zombie.Position)
		if target == nil {
			continue
		}

		reach := zombieContactRange
		if typ == waves.ZombieSpitter {
			reach = spitterRange
		}
		dist := planarDistance(zombie.Position, target.Position)

		if dist <= reach {
			h.zombieAttack(now, zombie.ID, targetID, typ, damageScalar)
			continue
		}

		// A fastener in biting range gets shredded before the chase
		// resumes; unanchored props are just pushed past.
		if nailID, ok := h.nearestNail(zombie.Position, zombieContactRange); ok {
			if h.zombieCooldownReady(now, zombie.ID) {
				h.sys.Damage(nailID, zombieBaseDamage*damageScalar)
			}
			continue
		}

		speed := zombieBaseSpeed
		switch typ {
		case waves.ZombieRunner:
			speed *= runnerSpeedBonus
		case waves.ZombieBrute:
			speed *= bruteSpeedPenalty
		}
		dir := target.Position.Sub(zombie.Position)
		dir[1] = 0
		if length := dir.Len(); length > 0 {
			dir = dir.Mul(speed * dt / length)
		}
		pos := zombie.Position.Add(dir)
		yaw := math.Atan2(dir.X(), dir.Z())
		h.reg.SetPosition(zombie.ID, pos, mgl64.Vec3{0, yaw, 0})
	}
}

func (h *Hub) zombieAttack(now time.Time, zombieID, targetID registry.EntityID, typ waves.ZombieType, scalar float64) {
	if !h.zombieCooldownReady(now, zombieID) {
		return
	}
	damage := zombieBaseDamage * scalar
	if typ == waves.ZombieBrute {
		damage *= bruteDamageBonus
	}
	h.damagePlayer(targetID, damage)
}

func (h *Hub) zombieCooldownReady(now time.Time, id registry.EntityID) bool {
	if last, ok := h.attackTimers[id]; ok && now.Sub(last) < zombieAttackPause {
		return false
	}
	h.attackTimers[id] = now
	return true
}

// updateTurrets fires each owned turret at the nearest zombie inside its
// targeting range, burning ammo per shot.
func (h *Hub) updateTurrets(now time.Time) {
	for _, turret := range h.reg.ByType(registry.TypeTurret) {
		targeting, ok := registry.TargetingOf(h.reg, turret.ID)
		if !ok {
			continue
		}
		weapon, ok := registry.WeaponOf(h.reg, turret.ID)
		if !ok || weapon.Ammo <= 0 {
			continue
		}
		if last, ok := h.fireTimers[turret.ID]; ok && now.Sub(last) < turretFireInterval {
			continue
		}

		zombieID, ok := h.nearestZombie(turret.Position, targeting.Range)
		if !ok {
			continue
		}
		h.fireTimers[turret.ID] = now
		weapon.Ammo--
		h.reg.SetComponent(turret.ID, registry.ComponentWeapon, weapon)
		targeting.TargetID = zombieID
		h.reg.SetComponent(turret.ID, registry.ComponentTargeting, targeting)
		h.damageZombie(zombieID, weapon.Damage)
	}
}

func (h *Hub) damagePlayer(id registry.EntityID, amount float64) {
	health, ok := registry.HealthOf(h.reg, id)
	if !ok || health.Dead {
		return
	}
	health.Current -= amount
	if health.Current <= 0 {
		health.Current = 0
		health.Dead = true
	}
	h.reg.SetComponent(id, registry.ComponentHealth, health)
	if health.Dead {
		h.killPlayer(id)
	}
}

// killPlayer drops the player's carried loot into a corpse at their feet.
// The player entity stays registered so the peer keeps receiving state.
func (h *Hub) killPlayer(id registry.EntityID) {
	entity, ok := h.reg.Get(id)
	if !ok {
		return
	}
	loot, hasLoot := registry.LootOf(h.reg, id)
	corpseID, ok := h.reg.RegisterAt(registry.TypeCorpse, entity.Owner, entity.Position, true)
	if !ok {
		return
	}
	if hasLoot && len(loot.Items) > 0 {
		h.reg.SetComponent(corpseID, registry.ComponentLoot, registry.Loot{Items: loot.Items})
		h.reg.SetComponent(id, registry.ComponentLoot, registry.Loot{})
	}
	delete(h.attackTimers, id)
}

func (h *Hub) damageZombie(id registry.EntityID, amount float64) {
	health, ok := registry.HealthOf(h.reg, id)
	if !ok || health.Dead {
		return
	}
	health.Current -= amount
	if health.Current > 0 {
		h.reg.SetComponent(id, registry.ComponentHealth, health)
		return
	}
	h.killZombie(id)
}

// killZombie removes the entity and leaves a salvage bag behind.
func (h *Hub) killZombie(id registry.EntityID) {
	entity, ok := h.reg.Get(id)
	if !ok {
		return
	}
	pos := entity.Position
	delete(h.attackTimers, id)
	h.reg.Unregister(id)

	bagID, ok := h.reg.RegisterAt(registry.TypeLootBag, 0, pos, true)
	if !ok {
		return
	}
	h.reg.SetComponent(bagID, registry.ComponentLoot, registry.Loot{Items: []registry.LootItem{
		{Item: h.cfg.Gateway.CurrencyItem, Qty: salvagePerZombie},
	}})
}

func (h *Hub) nearestLivePlayer(from mgl64.Vec3) (*registry.Entity, registry.EntityID) {
	var best *registry.Entity
	bestDist := math.MaxFloat64
	for _, player := range h.reg.ByType(registry.TypePlayer) {
		if health, ok := registry.HealthOf(h.reg, player.ID); !ok || health.Dead {
			continue
		}
		if dist := planarDistance(from, player.Position); dist < bestDist {
			bestDist = dist
			best = player
		}
	}
	if best == nil {
		return nil, 0
	}
	return best, best.ID
}

func (h *Hub) nearestZombie(from mgl64.Vec3, within float64) (registry.EntityID, bool) {
	var bestID registry.EntityID
	bestDist := within
	found := false
	for _, zombie := range h.reg.ByType(registry.TypeZombie) {
		if health, ok := registry.HealthOf(h.reg, zombie.ID); ok && health.Dead {
			continue
		}
		if dist := planarDistance(from, zombie.Position); dist <= bestDist {
			bestDist = dist
			bestID = zombie.ID
			found = true
		}
	}
	return bestID, found
}

func (h *Hub) nearestNail(from mgl64.Vec3, within float64) (registry.EntityID, bool) {
	var bestID registry.EntityID
	bestDist := within
	found := false
	for _, nail := range h.reg.ByType(registry.TypeNail) {
		if dist := planarDistance(from, nail.Position); dist <= bestDist {
			bestDist = dist
			bestID = nail.ID
			found = true
		}
	}
	return bestID, found
}

func zombieTypeOf(reg *registry.Registry, id registry.EntityID) waves.ZombieType {
	data, ok := reg.Component(id, registry.ComponentZombieType)
	if !ok {
		return waves.ZombieWalker
	}
	if typ, ok := data.(string); ok {
		return waves.ZombieType(typ)
	}
	return waves.ZombieWalker
}

func planarDistance(a, b mgl64.Vec3) float64 {
	return math.Hypot(a.X()-b.X(), a.Z()-b.Z())
}
