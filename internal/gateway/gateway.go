// Package gateway is the single entry point through which peers influence
// shared state. Every mutation request from a non-authoritative peer funnels
// through RequestInteract; nothing else on the wire accepts one.
package gateway

import (
	"context"

	"github.com/go-gl/mathgl/mgl64"

	"holdfast/server/internal/registry"
	"holdfast/server/internal/structural"
	"holdfast/server/logging"
	"holdfast/server/logging/economy"
)

// Recognized actions. Anything else fails with ReasonUnknownAction.
const (
	ActionPhaseThrough = "phase_through"
	ActionLoot         = "loot"
	ActionRigidify     = "rigidify"
	ActionShopOpen     = "shop_open"
	ActionShopBuy      = "shop_buy"
	ActionShopSell     = "shop_sell"
	ActionTurretPlace  = "turret_place"
	ActionTurretRefill = "turret_refill"
	ActionNailRepair   = "nail_repair"
)

// Failure reasons returned to the requester. These are never broadcast.
const (
	ReasonNotAuthoritative = "not_authoritative"
	ReasonInvalidTarget    = "invalid_target"
	ReasonNoPlayer         = "no_player"
	ReasonOutOfRange       = "out_of_range"
	ReasonUnknownAction    = "unknown_action"
	ReasonWrongType        = "wrong_type"
	ReasonEmpty            = "empty"
	ReasonBadPayload       = "bad_payload"
	ReasonOutOfStock       = "out_of_stock"
	ReasonInsufficient     = "insufficient_funds"
	ReasonFullAmmo         = "full_ammo"
	ReasonNotOwner         = "not_owner"
)

// Config tunes the gateway's validation and economy knobs.
type Config struct {
	InteractionRadius float64
	// TurretPlaceReach bounds self-placement, which is exempt from the
	// interaction radius but still cannot happen across the map.
	TurretPlaceReach float64
	PhaseTicks       uint64
	CurrencyItem     string
	TurretCost       int
	TurretRefillCost int
	TurretAmmo       int
	TurretRange      float64
	TurretDamage     float64
	TurretHealth     float64
}

func DefaultConfig() Config {
	return Config{
		InteractionRadius: 3.0,
		TurretPlaceReach:  4.5,
		PhaseTicks:        180,
		CurrencyItem:      "salvage",
		TurretCost:        120,
		TurretRefillCost:  40,
		TurretAmmo:        200,
		TurretRange:       12,
		TurretDamage:      4,
		TurretHealth:      150,
	}
}

// Request is one peer interaction attempt, already decoded from the wire.
type Request struct {
	Peer    registry.PeerID
	Target  registry.EntityID
	Action  string
	Payload map[string]any
	Seq     uint64
}

// Result goes back to the requester only.
type Result struct {
	Success bool           `json:"success"`
	Reason  string         `json:"reason,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Seq     uint64         `json:"seq,omitempty"`
}

// Event is the reliable broadcast describing a successful interaction.
type Event struct {
	Action string         `json:"action"`
	Peer   int32          `json:"peerId"`
	Target uint64         `json:"targetId,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
	Tick   uint64         `json:"tick"`
}

// Gateway validates interaction requests and applies their effects. It runs
// on the tick goroutine only.
type Gateway struct {
	cfg       Config
	reg       *registry.Registry
	sys       *structural.System
	publisher logging.Publisher
	tick      func() uint64
	emit      func(Event)
}

func New(cfg Config, reg *registry.Registry, sys *structural.System, pub logging.Publisher, tick func() uint64, emit func(Event)) *Gateway {
	if pub == nil {
		pub = logging.NopPublisher()
	}
	return &Gateway{cfg: cfg, reg: reg, sys: sys, publisher: pub, tick: tick, emit: emit}
}

// RequestInteract runs the validation pipeline and, on success, mutates the
// registry and broadcasts the effect. The pipeline short-circuits on the
// first failed check.
func (g *Gateway) RequestInteract(req Request) Result {
	if g == nil || !g.reg.Authoritative() {
		return g.fail(req, ReasonNotAuthoritative)
	}

	player, ok := g.livePlayer(req.Peer)
	if !ok {
		return g.fail(req, ReasonNoPlayer)
	}

	selfPlaced := req.Action == ActionTurretPlace

	var target *registry.Entity
	if !selfPlaced {
		target, ok = g.reg.Get(req.Target)
		if !ok {
			return g.fail(req, ReasonInvalidTarget)
		}
		if target.Spatial && player.Position.Sub(target.Position).Len() > g.cfg.InteractionRadius {
			return g.fail(req, ReasonOutOfRange)
		}
	}

	switch req.Action {
	case ActionPhaseThrough:
		return g.phaseThrough(req, target)
	case ActionLoot:
		return g.loot(req, player, target)
	case ActionRigidify:
		return g.rigidify(req, target)
	case ActionShopOpen:
		return g.shopOpen(req, target)
	case ActionShopBuy:
		return g.shopTrade(req, player, target, false)
	case ActionShopSell:
		return g.shopTrade(req, player, target, true)
	case ActionTurretPlace:
		return g.turretPlace(req, player)
	case ActionTurretRefill:
		return g.turretRefill(req, player, target)
	case ActionNailRepair:
		return g.nailRepair(req, target)
	default:
		return g.fail(req, ReasonUnknownAction)
	}
}

func (g *Gateway) phaseThrough(req Request, target *registry.Entity) Result {
	if target.Type != registry.TypeProp {
		return g.fail(req, ReasonWrongType)
	}
	until := g.currentTick() + g.cfg.PhaseTicks
	g.reg.SetComponent(target.ID, registry.ComponentPhase, registry.Phase{Until: until})
	g.broadcast(req, map[string]any{"until": until})
	return g.ok(req, map[string]any{"until": until})
}

func (g *Gateway) loot(req Request, player, target *registry.Entity) Result {
	if target.Type != registry.TypeCorpse && target.Type != registry.TypeLootBag {
		return g.fail(req, ReasonWrongType)
	}
	contents, ok := registry.LootOf(g.reg, target.ID)
	if !ok || len(contents.Items) == 0 {
		return g.fail(req, ReasonEmpty)
	}

	inventory, _ := registry.LootOf(g.reg, player.ID)
	for _, item := range contents.Items {
		inventory = addItem(inventory, item.Item, item.Qty)
	}
	g.reg.SetComponent(player.ID, registry.ComponentLoot, inventory)
	g.reg.SetComponent(target.ID, registry.ComponentLoot, registry.Loot{Opened: true})
	if target.Type == registry.TypeLootBag {
		g.reg.Unregister(target.ID)
	}

	taken := make([]registry.LootItem, len(contents.Items))
	copy(taken, contents.Items)
	g.broadcast(req, map[string]any{"items": taken})
	return g.ok(req, map[string]any{"items": taken})
}

func (g *Gateway) rigidify(req Request, target *registry.Entity) Result {
	if !g.reg.Rigidify(target.ID) {
		return g.fail(req, ReasonWrongType)
	}
	g.broadcast(req, nil)
	return g.ok(req, nil)
}

func (g *Gateway) shopOpen(req Request, target *registry.Entity) Result {
	shop, ok := registry.ShopOf(g.reg, target.ID)
	if !ok {
		return g.fail(req, ReasonWrongType)
	}
	// Opening a shop is private; the stock goes back to the requester and
	// nothing is broadcast.
	return g.ok(req, map[string]any{"stock": shop.Stock})
}

func (g *Gateway) shopTrade(req Request, player, target *registry.Entity, sell bool) Result {
	shop, ok := registry.ShopOf(g.reg, target.ID)
	if !ok {
		return g.fail(req, ReasonWrongType)
	}
	item, ok := payloadString(req.Payload, "item")
	if !ok {
		return g.fail(req, ReasonBadPayload)
	}
	qty, ok := payloadInt(req.Payload, "qty")
	if !ok || qty < 1 {
		return g.fail(req, ReasonBadPayload)
	}

	entry := -1
	for i := range shop.Stock {
		if shop.Stock[i].Item == item {
			entry = i
			break
		}
	}
	if entry < 0 {
		return g.fail(req, ReasonOutOfStock)
	}

	inventory, _ := registry.LootOf(g.reg, player.ID)
	var cost int
	if sell {
		// The shop buys back at half its own price, rounded down.
		cost = shop.Stock[entry].Price / 2 * qty
		if countItem(inventory, item) < qty {
			return g.fail(req, ReasonEmpty)
		}
		inventory = removeItem(inventory, item, qty)
		inventory = addItem(inventory, g.cfg.CurrencyItem, cost)
		if shop.Stock[entry].Qty >= 0 {
			shop.Stock[entry].Qty += qty
		}
	} else {
		cost = shop.Stock[entry].Price * qty
		if shop.Stock[entry].Qty >= 0 && shop.Stock[entry].Qty < qty {
			return g.fail(req, ReasonOutOfStock)
		}
		if countItem(inventory, g.cfg.CurrencyItem) < cost {
			return g.fail(req, ReasonInsufficient)
		}
		inventory = removeItem(inventory, g.cfg.CurrencyItem, cost)
		inventory = addItem(inventory, item, qty)
		if shop.Stock[entry].Qty >= 0 {
			shop.Stock[entry].Qty -= qty
		}
	}
	g.reg.SetComponent(player.ID, registry.ComponentLoot, inventory)
	g.reg.SetComponent(target.ID, registry.ComponentShop, shop)

	economy.ShopTrade(context.Background(), g.publisher, g.currentTick(),
		logging.EntityRef{ID: player.ID.String(), Kind: logging.EntityKindPlayer},
		economy.ShopTradePayload{
			PeerID: int32(req.Peer),
			Item:   item,
			Qty:    qty,
			Cost:   cost,
			Sell:   sell,
		})
	data := map[string]any{"item": item, "qty": qty, "cost": cost}
	g.broadcast(req, data)
	return g.ok(req, data)
}

func (g *Gateway) turretPlace(req Request, player *registry.Entity) Result {
	pos, ok := payloadVec3(req.Payload, "position")
	if !ok {
		return g.fail(req, ReasonBadPayload)
	}
	if player.Position.Sub(pos).Len() > g.cfg.TurretPlaceReach {
		return g.fail(req, ReasonOutOfRange)
	}
	inventory, _ := registry.LootOf(g.reg, player.ID)
	if countItem(inventory, g.cfg.CurrencyItem) < g.cfg.TurretCost {
		return g.fail(req, ReasonInsufficient)
	}

	id, ok := g.reg.RegisterAt(registry.TypeTurret, req.Peer, pos, true)
	if !ok {
		return g.fail(req, ReasonNotAuthoritative)
	}
	g.reg.SetComponent(id, registry.ComponentHealth, registry.Health{Current: g.cfg.TurretHealth, Max: g.cfg.TurretHealth})
	g.reg.SetComponent(id, registry.ComponentWeapon, registry.Weapon{
		Name:    "turret",
		Ammo:    g.cfg.TurretAmmo,
		MaxAmmo: g.cfg.TurretAmmo,
		Damage:  g.cfg.TurretDamage,
	})
	g.reg.SetComponent(id, registry.ComponentTargeting, registry.Targeting{Range: g.cfg.TurretRange})

	inventory = removeItem(inventory, g.cfg.CurrencyItem, g.cfg.TurretCost)
	g.reg.SetComponent(player.ID, registry.ComponentLoot, inventory)

	data := map[string]any{"turretId": uint64(id), "position": [3]float64{pos.X(), pos.Y(), pos.Z()}}
	g.broadcast(req, data)
	return g.ok(req, data)
}

func (g *Gateway) turretRefill(req Request, player, target *registry.Entity) Result {
	if target.Type != registry.TypeTurret {
		return g.fail(req, ReasonWrongType)
	}
	if target.Owner != req.Peer {
		return g.fail(req, ReasonNotOwner)
	}
	weapon, ok := registry.WeaponOf(g.reg, target.ID)
	if !ok {
		return g.fail(req, ReasonWrongType)
	}
	if weapon.Ammo >= weapon.MaxAmmo {
		return g.fail(req, ReasonFullAmmo)
	}
	inventory, _ := registry.LootOf(g.reg, player.ID)
	if countItem(inventory, g.cfg.CurrencyItem) < g.cfg.TurretRefillCost {
		return g.fail(req, ReasonInsufficient)
	}

	weapon.Ammo = weapon.MaxAmmo
	g.reg.SetComponent(target.ID, registry.ComponentWeapon, weapon)
	inventory = removeItem(inventory, g.cfg.CurrencyItem, g.cfg.TurretRefillCost)
	g.reg.SetComponent(player.ID, registry.ComponentLoot, inventory)

	data := map[string]any{"ammo": weapon.Ammo}
	g.broadcast(req, data)
	return g.ok(req, data)
}

func (g *Gateway) nailRepair(req Request, target *registry.Entity) Result {
	nail, reason := g.sys.Repair(target.ID)
	if reason != "" {
		return g.fail(req, reason)
	}
	data := map[string]any{
		"hp":          nail.HP,
		"maxHp":       nail.MaxHP,
		"repairCount": nail.RepairCount,
	}
	// The repaired state itself travels on the structural event stream; the
	// gateway only answers the requester.
	return g.ok(req, data)
}

func (g *Gateway) livePlayer(peer registry.PeerID) (*registry.Entity, bool) {
	for _, entity := range g.reg.ByType(registry.TypePlayer) {
		if entity.Owner != peer {
			continue
		}
		if health, ok := registry.HealthOf(g.reg, entity.ID); ok && health.Dead {
			return nil, false
		}
		return entity, true
	}
	return nil, false
}

func (g *Gateway) broadcast(req Request, data map[string]any) {
	if g.emit == nil {
		return
	}
	g.emit(Event{
		Action: req.Action,
		Peer:   int32(req.Peer),
		Target: uint64(req.Target),
		Data:   data,
		Tick:   g.currentTick(),
	})
}

func (g *Gateway) ok(req Request, data map[string]any) Result {
	return Result{Success: true, Data: data, Seq: req.Seq}
}

func (g *Gateway) fail(req Request, reason string) Result {
	return Result{Reason: reason, Seq: req.Seq}
}

func (g *Gateway) currentTick() uint64 {
	if g.tick == nil {
		return 0
	}
	return g.tick()
}

func countItem(loot registry.Loot, item string) int {
	for _, stack := range loot.Items {
		if stack.Item == item {
			return stack.Qty
		}
	}
	return 0
}

func addItem(loot registry.Loot, item string, qty int) registry.Loot {
	if qty <= 0 {
		return loot
	}
	for i := range loot.Items {
		if loot.Items[i].Item == item {
			loot.Items[i].Qty += qty
			return loot
		}
	}
	loot.Items = append(loot.Items, registry.LootItem{Item: item, Qty: qty})
	return loot
}

func removeItem(loot registry.Loot, item string, qty int) registry.Loot {
	for i := range loot.Items {
		if loot.Items[i].Item != item {
			continue
		}
		loot.Items[i].Qty -= qty
		if loot.Items[i].Qty <= 0 {
			loot.Items = append(loot.Items[:i], loot.Items[i+1:]...)
		}
		return loot
	}
	return loot
}

func payloadString(payload map[string]any, key string) (string, bool) {
	value, ok := payload[key].(string)
	return value, ok && value != ""
}

func payloadInt(payload map[string]any, key string) (int, bool) {
	switch value := payload[key].(type) {
	case int:
		return value, true
	case float64:
		// JSON numbers decode as float64.
		return int(value), true
	default:
		return 0, false
	}
}

func payloadVec3(payload map[string]any, key string) (mgl64.Vec3, bool) {
	switch value := payload[key].(type) {
	case []float64:
		if len(value) != 3 {
			return mgl64.Vec3{}, false
		}
		return mgl64.Vec3{value[0], value[1], value[2]}, true
	case [3]float64:
		return mgl64.Vec3{value[0], value[1], value[2]}, true
	case []any:
		if len(value) != 3 {
			return mgl64.Vec3{}, false
		}
		var out mgl64.Vec3
		for i, raw := range value {
			num, ok := raw.(float64)
			if !ok {
				return mgl64.Vec3{}, false
			}
			out[i] = num
		}
		return out, true
	default:
		return mgl64.Vec3{}, false
	}
}
