package sim

import (
	"testing"
	"time"

	"holdfast/server/internal/registry"
)

func TestCommandBufferFIFO(t *testing.T) {
	buffer := NewCommandBuffer(4, nil)

	for i := 1; i <= 3; i++ {
		if !buffer.Push(Command{Peer: registry.PeerID(i)}) {
			t.Fatalf("expected push %d to succeed", i)
		}
	}
	drained := buffer.Drain()
	if len(drained) != 3 {
		t.Fatalf("expected 3 commands, got %d", len(drained))
	}
	for i, cmd := range drained {
		if cmd.Peer != registry.PeerID(i+1) {
			t.Fatalf("expected FIFO order, got peer %d at index %d", cmd.Peer, i)
		}
	}
	if buffer.Len() != 0 {
		t.Fatalf("expected empty buffer after drain")
	}
}

func TestCommandBufferOverflow(t *testing.T) {
	buffer := NewCommandBuffer(2, nil)
	buffer.Push(Command{Peer: 1})
	buffer.Push(Command{Peer: 2})
	if buffer.Push(Command{Peer: 3}) {
		t.Fatalf("expected push beyond capacity to fail")
	}
}

type countingCore struct {
	deps    Deps
	applied [][]Command
	steps   int
}

func (c *countingCore) Deps() Deps { return c.deps }

func (c *countingCore) Apply(commands []Command) {
	c.applied = append(c.applied, commands)
}

func (c *countingCore) Step(time.Time, float64) {
	c.steps++
}

func TestLoopPerPeerThrottle(t *testing.T) {
	core := &countingCore{}
	loop := NewLoop(core, LoopConfig{CommandCapacity: 16, PerPeerLimit: 2}, LoopHooks{})

	var reasons []string
	for i := 0; i < 4; i++ {
		if ok, reason := loop.Enqueue(Command{Peer: 7, Type: CommandMove}); !ok {
			reasons = append(reasons, reason)
		}
	}
	if len(reasons) != 2 {
		t.Fatalf("expected 2 throttled commands, got %d", len(reasons))
	}
	for _, reason := range reasons {
		if reason != CommandRejectQueueLimit {
			t.Fatalf("expected reason %q, got %q", CommandRejectQueueLimit, reason)
		}
	}

	result := loop.Advance(LoopTickContext{Tick: 1, Now: time.Now(), Delta: 1.0 / 60})
	if len(result.Commands) != 2 {
		t.Fatalf("expected 2 commands applied, got %d", len(result.Commands))
	}

	// The throttle window resets after the drain.
	if ok, _ := loop.Enqueue(Command{Peer: 7, Type: CommandMove}); !ok {
		t.Fatalf("expected post-drain enqueue to succeed")
	}
}

func TestLoopAppliesBeforeStep(t *testing.T) {
	core := &countingCore{}
	loop := NewLoop(core, LoopConfig{CommandCapacity: 4}, LoopHooks{})
	loop.Enqueue(Command{Peer: 1, Type: CommandHeartbeat})
	loop.Advance(LoopTickContext{Tick: 1, Now: time.Now(), Delta: 1.0 / 60})

	if len(core.applied) != 1 || len(core.applied[0]) != 1 {
		t.Fatalf("expected 1 applied batch of 1 command, got %v", core.applied)
	}
	if core.steps != 1 {
		t.Fatalf("expected 1 step, got %d", core.steps)
	}
}
