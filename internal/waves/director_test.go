package waves

import (
	"math/rand"
	"testing"
	"time"

	"holdfast/server/internal/registry"
)

func TestComputePressureWaveOneTwoPlayers(t *testing.T) {
	p := ComputePressure(DefaultConfig(), 1, 2)

	// (10 + 1*3) * 1.6 = 20.8, truncated.
	if p.Count != 20 {
		t.Fatalf("expected 20 zombies, got %d", p.Count)
	}
	if p.Health != 110 {
		t.Fatalf("expected health 110, got %v", p.Health)
	}
	if p.DamageScalar != 1.05 {
		t.Fatalf("expected damage scalar 1.05, got %v", p.DamageScalar)
	}
	if p.Interval != 1900*time.Millisecond {
		t.Fatalf("expected interval 1.9s, got %v", p.Interval)
	}
}

func TestComputePressureMultiplierTable(t *testing.T) {
	cfg := DefaultConfig()

	solo := ComputePressure(cfg, 1, 1)
	duo := ComputePressure(cfg, 1, 2)
	horde := ComputePressure(cfg, 1, 12)

	if solo.Count != 13 {
		t.Fatalf("expected 13 zombies solo, got %d", solo.Count)
	}
	if duo.Count <= solo.Count {
		t.Fatalf("expected duo pressure above solo")
	}
	// Oversized groups fall back to the top multiplier tier.
	top := ComputePressure(cfg, 1, len(cfg.PlayerMultipliers))
	if horde.Count != top.Count {
		t.Fatalf("expected 12-player count %d to match top tier %d", horde.Count, top.Count)
	}
}

func TestIntervalClampedToMinimum(t *testing.T) {
	p := ComputePressure(DefaultConfig(), 50, 1)
	if p.Interval != 400*time.Millisecond {
		t.Fatalf("expected clamped interval 400ms, got %v", p.Interval)
	}
}

func TestTypeUnlockSchedule(t *testing.T) {
	if got := ComputePressure(DefaultConfig(), 1, 1).Unlocked; len(got) != 1 || got[0] != ZombieWalker {
		t.Fatalf("expected only walkers at wave 1, got %v", got)
	}
	if got := ComputePressure(DefaultConfig(), 7, 1).Unlocked; len(got) != 4 {
		t.Fatalf("expected all 4 types at wave 7, got %v", got)
	}
}

func TestDirectorSpawnsThroughRegistry(t *testing.T) {
	reg := registry.New(true)
	d := NewDirector(DefaultConfig(), reg, nil, rand.New(rand.NewSource(1)), nil, nil, nil, nil)

	p := d.StartWave(1, 1)
	if d.CurrentPhase() != PhaseSpawning {
		t.Fatalf("expected spawning phase, got %s", d.CurrentPhase())
	}

	// Run enough ticks to exhaust the to-spawn counter.
	total := p.Interval * time.Duration(p.Count+1)
	step := time.Second / 60
	for elapsed := time.Duration(0); elapsed < total; elapsed += step {
		d.Advance(step, 1)
	}

	if got := reg.CountByType(registry.TypeZombie); got != p.Count {
		t.Fatalf("expected %d zombies spawned, got %d", p.Count, got)
	}
	zombies := reg.ByType(registry.TypeZombie)
	health, ok := registry.HealthOf(reg, zombies[0].ID)
	if !ok || health.Max != p.Health {
		t.Fatalf("expected zombie health %v, got %+v", p.Health, health)
	}
}

func TestWaveCompletionAndIntermission(t *testing.T) {
	reg := registry.New(true)
	cfg := DefaultConfig()
	cfg.BaseCount = 1
	cfg.CountScalar = 0
	cfg.Intermission = time.Second

	var events []Event
	d := NewDirector(cfg, reg, nil, rand.New(rand.NewSource(1)), nil, nil, nil, func(e Event) {
		events = append(events, e)
	})
	d.StartWave(1, 1)

	step := time.Second / 60
	for i := 0; i < 60*3; i++ {
		d.Advance(step, 1)
	}
	// Spawned zombie still alive: wave must not complete.
	if d.CurrentPhase() != PhaseSpawning {
		t.Fatalf("expected wave to stay active while zombies live, got %s", d.CurrentPhase())
	}

	// Clear the field; next tick detects completion.
	for _, z := range reg.ByType(registry.TypeZombie) {
		reg.Unregister(z.ID)
	}
	d.Advance(step, 1)
	if d.CurrentPhase() != PhaseIntermission {
		t.Fatalf("expected intermission, got %s", d.CurrentPhase())
	}

	var completed bool
	for _, e := range events {
		if e.Kind == EventWaveCompleted {
			completed = true
		}
	}
	if !completed {
		t.Fatalf("expected a wave_completed event")
	}

	// Intermission elapses into the next wave.
	for i := 0; i < 70; i++ {
		d.Advance(step, 1)
	}
	if d.CurrentPhase() != PhaseSpawning {
		t.Fatalf("expected next wave to start, got %s", d.CurrentPhase())
	}
	if d.Wave() != 2 {
		t.Fatalf("expected wave 2, got %d", d.Wave())
	}
}

func TestRoundOverStopsProgression(t *testing.T) {
	reg := registry.New(true)
	cfg := DefaultConfig()
	cfg.BaseCount = 1
	cfg.CountScalar = 0

	d := NewDirector(cfg, reg, nil, rand.New(rand.NewSource(1)), nil, nil, nil, nil)
	d.RoundOver = func() (bool, bool) { return true, false }
	d.StartWave(1, 1)

	step := time.Second / 60
	for i := 0; i < 60*3; i++ {
		d.Advance(step, 1)
	}
	for _, z := range reg.ByType(registry.TypeZombie) {
		reg.Unregister(z.ID)
	}
	d.Advance(step, 1)

	if d.CurrentPhase() != PhaseEnded {
		t.Fatalf("expected round to end, got %s", d.CurrentPhase())
	}
}
