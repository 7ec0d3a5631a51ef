package sim

import (
	"sync"
	"time"

	"holdfast/server/internal/registry"
	"holdfast/server/internal/telemetry"
	"holdfast/server/logging"
)

const (
	// CommandRejectQueueLimit indicates a command was dropped due to per-peer
	// queue throttling.
	CommandRejectQueueLimit = "queue_limit"
	// CommandRejectQueueFull indicates the global command buffer is saturated.
	CommandRejectQueueFull = "queue_full"
	// CommandRejectUnknownPeer indicates the sender has no live session.
	CommandRejectUnknownPeer = "unknown_peer"
	// CommandRejectInvalidAction indicates a malformed or unrecognized intent.
	CommandRejectInvalidAction = "invalid_action"
)

// EngineCore is the simulation body the loop drives: the hub's world step,
// which drains continuations, applies commands, and advances subsystems.
type EngineCore interface {
	Deps() Deps
	Apply(commands []Command)
	Step(now time.Time, dt float64)
}

// LoopConfig tunes the command buffer and tick loop orchestration.
type LoopConfig struct {
	TickRate        int
	CatchupMaxTicks int
	CommandCapacity int
	PerPeerLimit    int
	WarningStep     int
}

// LoopTickContext describes one scheduled tick.
type LoopTickContext struct {
	Tick  uint64
	Now   time.Time
	Delta float64
}

// LoopStepResult summarizes one executed tick for the AfterStep hook.
type LoopStepResult struct {
	Tick         uint64
	Now          time.Time
	Delta        float64
	Commands     []Command
	Duration     time.Duration
	Budget       time.Duration
	ClampedDelta bool
}

// LoopHooks let the hub observe loop milestones without the loop knowing
// about broadcasting.
type LoopHooks struct {
	NextTick       func() uint64
	AfterStep      func(LoopStepResult)
	OnCommandDrop  func(reason string, cmd Command)
	OnQueueWarning func(length int)
}

// Loop coordinates command ingestion and the fixed-timestep simulation runner.
type Loop struct {
	core    EngineCore
	buffer  *CommandBuffer
	hooks   LoopHooks
	config  LoopConfig
	logger  telemetry.Logger
	metrics telemetry.Metrics

	queueMu      sync.Mutex
	perPeerCount map[registry.PeerID]int
	dropCounts   map[registry.PeerID]uint64
}

// NewLoop wraps the provided engine core with a ring-buffer queue and loop.
func NewLoop(core EngineCore, cfg LoopConfig, hooks LoopHooks) *Loop {
	if core == nil {
		return nil
	}
	deps := core.Deps()
	var logger telemetry.Logger
	if deps.Logger != nil {
		logger = telemetry.WrapLogger(deps.Logger)
	}
	metrics := telemetry.WrapMetrics(deps.Metrics)
	return &Loop{
		core:         core,
		buffer:       NewCommandBuffer(cfg.CommandCapacity, metrics),
		hooks:        hooks,
		config:       cfg,
		logger:       logger,
		metrics:      metrics,
		perPeerCount: make(map[registry.PeerID]int),
		dropCounts:   make(map[registry.PeerID]uint64),
	}
}

// Pending reports the number of staged commands.
func (l *Loop) Pending() int {
	if l == nil {
		return 0
	}
	return l.buffer.Len()
}

// Enqueue stages a command, enforcing per-peer throttling and capacity limits.
func (l *Loop) Enqueue(cmd Command) (bool, string) {
	if l == nil {
		return false, CommandRejectQueueFull
	}
	reason := ""
	var dropCount uint64
	l.queueMu.Lock()
	if l.config.PerPeerLimit > 0 && cmd.Peer != 0 {
		count := l.perPeerCount[cmd.Peer]
		if count >= l.config.PerPeerLimit {
			reason = CommandRejectQueueLimit
			dropCount = l.incrementDropLocked(cmd.Peer)
		} else {
			l.perPeerCount[cmd.Peer] = count + 1
		}
	}
	if reason == "" {
		if !l.buffer.Push(cmd) {
			reason = CommandRejectQueueFull
			dropCount = l.incrementDropLocked(cmd.Peer)
		} else if l.config.WarningStep > 0 {
			length := l.buffer.Len()
			if length >= l.config.WarningStep && length%l.config.WarningStep == 0 {
				l.queueMu.Unlock()
				if l.hooks.OnQueueWarning != nil {
					l.hooks.OnQueueWarning(length)
				}
				return true, ""
			}
		}
	}
	l.queueMu.Unlock()
	if reason != "" {
		l.reportDrop(reason, cmd, dropCount)
		return false, reason
	}
	return true, ""
}

// Advance executes a single simulation step using the staged commands.
// Inbound messages queued since the previous tick are drained first, which
// is the ordering guarantee the rest of the system builds on.
func (l *Loop) Advance(ctx LoopTickContext) LoopStepResult {
	if l == nil {
		return LoopStepResult{}
	}
	commands := l.drainCommands()
	l.core.Apply(commands)
	l.core.Step(ctx.Now, ctx.Delta)
	return LoopStepResult{
		Tick:     ctx.Tick,
		Now:      ctx.Now,
		Delta:    ctx.Delta,
		Commands: commands,
	}
}

// Run drives the fixed-timestep loop until the stop channel closes.
func (l *Loop) Run(stop <-chan struct{}) {
	if l == nil {
		return
	}
	tickRate := l.config.TickRate
	if tickRate <= 0 {
		tickRate = 60
	}
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()

	deps := l.core.Deps()
	clock := deps.Clock
	if clock == nil {
		clock = logging.SystemClock{}
	}
	last := clock.Now()
	budgetSeconds := 1.0 / float64(tickRate)
	maxDt := budgetSeconds
	if l.config.CatchupMaxTicks > 1 {
		maxDt = budgetSeconds * float64(l.config.CatchupMaxTicks)
	}
	budgetDuration := time.Second / time.Duration(tickRate)

	var tick uint64
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := clock.Now()
			dt := now.Sub(last).Seconds()
			clamped := false
			if dt <= 0 {
				dt = budgetSeconds
			} else if dt > maxDt {
				dt = maxDt
				clamped = true
			}
			last = now

			if l.hooks.NextTick != nil {
				tick = l.hooks.NextTick()
			} else {
				tick++
			}

			start := clock.Now()
			result := l.Advance(LoopTickContext{Tick: tick, Now: now, Delta: dt})
			result.Duration = clock.Now().Sub(start)
			result.Budget = budgetDuration
			result.ClampedDelta = clamped

			if l.hooks.AfterStep != nil {
				l.hooks.AfterStep(result)
			}
		}
	}
}

func (l *Loop) drainCommands() []Command {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	commands := l.buffer.Drain()
	if len(l.perPeerCount) > 0 {
		l.perPeerCount = make(map[registry.PeerID]int)
	}
	return commands
}

func (l *Loop) incrementDropLocked(peer registry.PeerID) uint64 {
	if peer == 0 {
		return 0
	}
	count := l.dropCounts[peer] + 1
	l.dropCounts[peer] = count
	return count
}

func (l *Loop) reportDrop(reason string, cmd Command, count uint64) {
	if l.hooks.OnCommandDrop != nil {
		l.hooks.OnCommandDrop(reason, cmd)
	}
	if reason == CommandRejectQueueLimit && count > 0 && count&(count-1) == 0 {
		if l.logger != nil {
			l.logger.Printf(
				"[backpressure] dropping command peer=%d type=%s count=%d limit=%d",
				cmd.Peer,
				cmd.Type,
				count,
				l.config.PerPeerLimit,
			)
		}
	}
}
