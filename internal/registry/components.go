package registry

import "strconv"

func (id EntityID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Component names form a closed set. The map storage itself is schemaless;
// everything inside the simulation goes through these typed shapes.
const (
	ComponentHealth     = "health"
	ComponentWeapon     = "weapon"
	ComponentTargeting  = "targeting"
	ComponentLoot       = "loot"
	ComponentRigidState = "rigid-state"
	ComponentShop       = "shop"
	ComponentPhase      = "phase"
	ComponentZombieType = "zombie-type"
)

// Health tracks current/maximum hit points for players, zombies, and turrets.
type Health struct {
	Current float64 `json:"current"`
	Max     float64 `json:"max"`
	Dead    bool    `json:"dead,omitempty"`
}

// Weapon describes the held or mounted weapon of an entity.
type Weapon struct {
	Name    string  `json:"name"`
	Ammo    int     `json:"ammo"`
	MaxAmmo int     `json:"maxAmmo,omitempty"`
	Damage  float64 `json:"damage"`
}

// Targeting captures turret/zombie target selection state.
type Targeting struct {
	TargetID EntityID `json:"targetId,omitempty"`
	Range    float64  `json:"range"`
}

// LootItem is a single stack inside a loot container.
type LootItem struct {
	Item string `json:"item"`
	Qty  int    `json:"qty"`
}

// Loot is the contents of a corpse or loot bag.
type Loot struct {
	Items  []LootItem `json:"items,omitempty"`
	Opened bool       `json:"opened,omitempty"`
}

// ShopEntry is one purchasable line in a shop's stock. Qty -1 means the
// shop never runs out of that item.
type ShopEntry struct {
	Item  string `json:"item"`
	Price int    `json:"price"`
	Qty   int    `json:"qty"`
}

// Shop is the stock of a vendor entity.
type Shop struct {
	Stock []ShopEntry `json:"stock,omitempty"`
}

// Phase marks a prop as temporarily passable. Solidity returns once the
// tick counter passes Until.
type Phase struct {
	Until uint64 `json:"until"`
}

// RigidState mirrors the physics body state replicated for props.
type RigidState struct {
	Sleeping   bool       `json:"sleeping"`
	LinearVel  [3]float64 `json:"linearVel,omitempty"`
	AngularVel [3]float64 `json:"angularVel,omitempty"`
	Held       bool       `json:"held,omitempty"`
}

// HealthOf fetches the typed health component, when present.
func HealthOf(r *Registry, id EntityID) (Health, bool) {
	data, ok := r.Component(id, ComponentHealth)
	if !ok {
		return Health{}, false
	}
	health, ok := data.(Health)
	return health, ok
}

// WeaponOf fetches the typed weapon component, when present.
func WeaponOf(r *Registry, id EntityID) (Weapon, bool) {
	data, ok := r.Component(id, ComponentWeapon)
	if !ok {
		return Weapon{}, false
	}
	weapon, ok := data.(Weapon)
	return weapon, ok
}

// LootOf fetches the typed loot component, when present.
func LootOf(r *Registry, id EntityID) (Loot, bool) {
	data, ok := r.Component(id, ComponentLoot)
	if !ok {
		return Loot{}, false
	}
	loot, ok := data.(Loot)
	return loot, ok
}

// RigidStateOf fetches the typed rigid-state component, when present.
func RigidStateOf(r *Registry, id EntityID) (RigidState, bool) {
	data, ok := r.Component(id, ComponentRigidState)
	if !ok {
		return RigidState{}, false
	}
	state, ok := data.(RigidState)
	return state, ok
}

// ShopOf fetches the typed shop component, when present.
func ShopOf(r *Registry, id EntityID) (Shop, bool) {
	data, ok := r.Component(id, ComponentShop)
	if !ok {
		return Shop{}, false
	}
	shop, ok := data.(Shop)
	return shop, ok
}

// PhaseOf fetches the typed phase component, when present.
func PhaseOf(r *Registry, id EntityID) (Phase, bool) {
	data, ok := r.Component(id, ComponentPhase)
	if !ok {
		return Phase{}, false
	}
	phase, ok := data.(Phase)
	return phase, ok
}

// TargetingOf fetches the typed targeting component, when present.
func TargetingOf(r *Registry, id EntityID) (Targeting, bool) {
	data, ok := r.Component(id, ComponentTargeting)
	if !ok {
		return Targeting{}, false
	}
	targeting, ok := data.(Targeting)
	return targeting, ok
}
