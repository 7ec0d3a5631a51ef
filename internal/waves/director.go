package waves

import (
	"context"
	"math/rand"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"holdfast/server/internal/registry"
	"holdfast/server/logging"
	logwaves "holdfast/server/logging/waves"
)

// ZombieType enumerates spawnable enemy archetypes. Walkers are always
// available; the rest unlock as the wave number rises.
type ZombieType string

const (
	ZombieWalker  ZombieType = "walker"
	ZombieRunner  ZombieType = "runner"
	ZombieSpitter ZombieType = "spitter"
	ZombieBrute   ZombieType = "brute"
)

// Config tunes wave pressure scaling.
type Config struct {
	BaseCount    int
	CountScalar  int
	BaseHealth   float64
	HealthScalar float64
	BaseInterval time.Duration
	Accel        time.Duration
	MinInterval  time.Duration
	DamageScalar float64
	Intermission time.Duration
	SpawnJitter  float64
	// SpecialChance grows per wave up to SpecialChanceMax; specials are
	// picked uniformly among the unlocked non-walker types.
	SpecialChance    float64
	SpecialChanceMax float64
	// PlayerMultipliers index is playerCount-1; groups past the end of the
	// table get the last (highest) tier.
	PlayerMultipliers []float64
}

func DefaultConfig() Config {
	return Config{
		BaseCount:         10,
		CountScalar:       3,
		BaseHealth:        100,
		HealthScalar:      0.10,
		BaseInterval:      2 * time.Second,
		Accel:             100 * time.Millisecond,
		MinInterval:       400 * time.Millisecond,
		DamageScalar:      0.05,
		Intermission:      10 * time.Second,
		SpawnJitter:       1.5,
		SpecialChance:     0.05,
		SpecialChanceMax:  0.6,
		PlayerMultipliers: []float64{1.0, 1.6, 2.1, 2.5},
	}
}

// Pressure is the computed difficulty envelope for one wave.
type Pressure struct {
	Wave         int           `json:"wave"`
	Count        int           `json:"count"`
	Health       float64       `json:"health"`
	Interval     time.Duration `json:"interval"`
	DamageScalar float64       `json:"damageScalar"`
	Unlocked     []ZombieType  `json:"unlocked"`
}

// ComputePressure derives the spawn envelope from wave number and player
// count. Per-player scaling uses the lookup table, not a linear factor, so
// large groups see diminishing pressure growth.
func ComputePressure(cfg Config, wave, playerCount int) Pressure {
	mult := 1.0
	if len(cfg.PlayerMultipliers) > 0 {
		idx := playerCount - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(cfg.PlayerMultipliers) {
			idx = len(cfg.PlayerMultipliers) - 1
		}
		mult = cfg.PlayerMultipliers[idx]
	}

	count := int(float64(cfg.BaseCount+wave*cfg.CountScalar) * mult)
	// Added rather than multiplied through so the documented values come
	// out exact (100 + 100*1*0.10 is 110, not 110.00000000000001).
	health := cfg.BaseHealth + cfg.BaseHealth*float64(wave)*cfg.HealthScalar

	interval := cfg.BaseInterval - time.Duration(wave)*cfg.Accel
	if interval < cfg.MinInterval {
		interval = cfg.MinInterval
	}
	if interval > cfg.BaseInterval {
		interval = cfg.BaseInterval
	}

	return Pressure{
		Wave:         wave,
		Count:        count,
		Health:       health,
		Interval:     interval,
		DamageScalar: 1 + float64(wave)*cfg.DamageScalar,
		Unlocked:     unlockedTypes(wave),
	}
}

func unlockedTypes(wave int) []ZombieType {
	types := []ZombieType{ZombieWalker}
	if wave >= 3 {
		types = append(types, ZombieRunner)
	}
	if wave >= 5 {
		types = append(types, ZombieSpitter)
	}
	if wave >= 7 {
		types = append(types, ZombieBrute)
	}
	return types
}

// Phase is the director's coarse state.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseSpawning     Phase = "spawning"
	PhaseIntermission Phase = "intermission"
	PhaseEnded        Phase = "ended"
)

// EventKind enumerates reliable wave broadcasts.
type EventKind string

const (
	EventWaveStarted   EventKind = "wave_started"
	EventWaveCompleted EventKind = "wave_completed"
	EventRoundEnded    EventKind = "round_ended"
)

// Event describes a wave boundary for the reliable channel.
type Event struct {
	Kind     EventKind `json:"kind"`
	Pressure Pressure  `json:"pressure"`
	Tick     uint64    `json:"tick"`
	Won      bool      `json:"won,omitempty"`
}

// Director schedules zombie creation through the registry. It never touches
// registry internals; spawning is plain Register + SetComponent calls.
type Director struct {
	cfg         Config
	reg         *registry.Registry
	rng         *rand.Rand
	publisher   logging.Publisher
	tick        func() uint64
	emit        func(Event)
	spawnPoints []mgl64.Vec3

	// RoundOver is consulted at wave boundaries; when it reports true the
	// director stops instead of starting the next wave.
	RoundOver func() (over, won bool)

	phase        Phase
	pressure     Pressure
	toSpawn      int
	spawned      int
	spawnTimer   time.Duration
	intermission time.Duration
	waveStarted  time.Time
	clock        logging.Clock
}

// NewDirector wires the director against the registry.
func NewDirector(cfg Config, reg *registry.Registry, spawnPoints []mgl64.Vec3, rng *rand.Rand, clock logging.Clock, pub logging.Publisher, tick func() uint64, emit func(Event)) *Director {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if clock == nil {
		clock = logging.SystemClock{}
	}
	if pub == nil {
		pub = logging.NopPublisher()
	}
	if len(spawnPoints) == 0 {
		spawnPoints = []mgl64.Vec3{{0, 0, 0}}
	}
	return &Director{
		cfg:         cfg,
		reg:         reg,
		rng:         rng,
		clock:       clock,
		publisher:   pub,
		tick:        tick,
		emit:        emit,
		spawnPoints: spawnPoints,
		phase:       PhaseIdle,
	}
}

// Phase reports the current director phase.
func (d *Director) CurrentPhase() Phase {
	if d == nil {
		return PhaseIdle
	}
	return d.phase
}

// Wave reports the current wave number (0 before the first wave).
func (d *Director) Wave() int {
	if d == nil {
		return 0
	}
	return d.pressure.Wave
}

// CurrentPressure exposes the active wave envelope for full-world sync.
func (d *Director) CurrentPressure() Pressure {
	if d == nil {
		return Pressure{}
	}
	return d.pressure
}

// StartWave computes pressure for the given wave and begins spawning.
func (d *Director) StartWave(wave, playerCount int) Pressure {
	d.pressure = ComputePressure(d.cfg, wave, playerCount)
	d.toSpawn = d.pressure.Count
	d.spawned = 0
	d.spawnTimer = 0
	d.phase = PhaseSpawning
	d.waveStarted = d.clock.Now()

	logwaves.WaveStarted(context.Background(), d.publisher, d.currentTick(), logwaves.WaveStartedPayload{
		Wave:     wave,
		Count:    d.pressure.Count,
		Health:   d.pressure.Health,
		Interval: d.pressure.Interval.Seconds(),
		Damage:   d.pressure.DamageScalar,
	})
	d.broadcast(Event{Kind: EventWaveStarted, Pressure: d.pressure, Tick: d.currentTick()})
	return d.pressure
}

// Advance runs one tick of spawn scheduling. playerCount feeds the next
// wave's pressure when an intermission elapses.
func (d *Director) Advance(dt time.Duration, playerCount int) {
	if d == nil {
		return
	}
	switch d.phase {
	case PhaseSpawning:
		d.advanceSpawning(dt, playerCount)
	case PhaseIntermission:
		d.intermission -= dt
		if d.intermission <= 0 {
			if d.checkRoundOver() {
				return
			}
			d.StartWave(d.pressure.Wave+1, playerCount)
		}
	}
}

// EndRoundIfOver consults RoundOver outside wave boundaries. A party wipe
// mid-wave ends the round immediately instead of waiting for the field to
// clear.
func (d *Director) EndRoundIfOver() bool {
	if d == nil || d.phase == PhaseIdle || d.phase == PhaseEnded {
		return false
	}
	return d.checkRoundOver()
}

func (d *Director) advanceSpawning(dt time.Duration, playerCount int) {
	if d.toSpawn > 0 {
		d.spawnTimer += dt
		for d.spawnTimer >= d.pressure.Interval && d.toSpawn > 0 {
			d.spawnTimer -= d.pressure.Interval
			d.spawnOne()
		}
		return
	}

	// All spawned; the wave completes once the field is clear.
	if d.reg.CountByType(registry.TypeZombie) > 0 {
		return
	}

	elapsed := d.clock.Now().Sub(d.waveStarted)
	logwaves.WaveCompleted(context.Background(), d.publisher, d.currentTick(), logwaves.WaveCompletedPayload{
		Wave:    d.pressure.Wave,
		Spawned: d.spawned,
		Elapsed: elapsed.Milliseconds(),
	})
	d.broadcast(Event{Kind: EventWaveCompleted, Pressure: d.pressure, Tick: d.currentTick()})

	if d.checkRoundOver() {
		return
	}
	d.phase = PhaseIntermission
	d.intermission = d.cfg.Intermission
	_ = playerCount
}

func (d *Director) spawnOne() {
	point := d.spawnPoints[d.rng.Intn(len(d.spawnPoints))]
	jitter := mgl64.Vec3{
		(d.rng.Float64()*2 - 1) * d.cfg.SpawnJitter,
		0,
		(d.rng.Float64()*2 - 1) * d.cfg.SpawnJitter,
	}
	id, ok := d.reg.RegisterAt(registry.TypeZombie, 0, point.Add(jitter), true)
	if !ok {
		return
	}
	d.reg.SetComponent(id, registry.ComponentHealth, registry.Health{
		Current: d.pressure.Health,
		Max:     d.pressure.Health,
	})
	d.reg.SetComponent(id, registry.ComponentZombieType, string(d.pickType()))
	d.toSpawn--
	d.spawned++
}

// pickType selects among unlocked archetypes; the special share rises with
// the wave number, capped.
func (d *Director) pickType() ZombieType {
	specials := make([]ZombieType, 0, len(d.pressure.Unlocked))
	for _, typ := range d.pressure.Unlocked {
		if typ != ZombieWalker {
			specials = append(specials, typ)
		}
	}
	if len(specials) == 0 {
		return ZombieWalker
	}
	chance := d.cfg.SpecialChance * float64(d.pressure.Wave)
	if chance > d.cfg.SpecialChanceMax {
		chance = d.cfg.SpecialChanceMax
	}
	if d.rng.Float64() >= chance {
		return ZombieWalker
	}
	return specials[d.rng.Intn(len(specials))]
}

func (d *Director) checkRoundOver() bool {
	if d.RoundOver == nil {
		return false
	}
	over, won := d.RoundOver()
	if !over {
		return false
	}
	d.phase = PhaseEnded
	logwaves.RoundEnded(context.Background(), d.publisher, d.currentTick(), logwaves.RoundEndedPayload{
		Wave: d.pressure.Wave,
		Won:  won,
	})
	d.broadcast(Event{Kind: EventRoundEnded, Pressure: d.pressure, Tick: d.currentTick(), Won: won})
	return true
}

func (d *Director) broadcast(event Event) {
	if d.emit != nil {
		d.emit(event)
	}
}

func (d *Director) currentTick() uint64 {
	if d.tick == nil {
		return 0
	}
	return d.tick()
}
