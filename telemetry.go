package server

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

type telemetryCounters struct {
	bytesSent          atomic.Uint64
	entitiesSent       atomic.Uint64
	tickDurationMillis atomic.Int64
	lastBroadcastBytes atomic.Uint64
	snapshotDrops      atomic.Uint64
	eventsSent         atomic.Uint64
	commandQueueDepth  atomic.Int64
	debug              bool
}

type telemetrySnapshot struct {
	BytesSent         uint64 `json:"bytesSent"`
	EntitiesSent      uint64 `json:"entitiesSent"`
	TickDuration      int64  `json:"tickDurationMillis"`
	SnapshotDrops     uint64 `json:"snapshotDrops"`
	EventsSent        uint64 `json:"eventsSent"`
	CommandQueueDepth int64  `json:"commandQueueDepth"`
}

func newTelemetryCounters() *telemetryCounters {
	t := &telemetryCounters{}
	if os.Getenv("DEBUG_TELEMETRY") == "1" {
		t.debug = true
	}
	return t
}

func (t *telemetryCounters) RecordBroadcast(bytes, entities int) {
	if bytes < 0 {
		bytes = 0
	}
	if entities < 0 {
		entities = 0
	}
	t.bytesSent.Add(uint64(bytes))
	t.entitiesSent.Add(uint64(entities))
	t.lastBroadcastBytes.Store(uint64(bytes))
}

func (t *telemetryCounters) RecordEvent(bytes int) {
	if bytes < 0 {
		bytes = 0
	}
	t.bytesSent.Add(uint64(bytes))
	t.eventsSent.Add(1)
}

func (t *telemetryCounters) RecordSnapshotDrop() {
	t.snapshotDrops.Add(1)
}

func (t *telemetryCounters) RecordQueueDepth(depth int) {
	t.commandQueueDepth.Store(int64(depth))
}

func (t *telemetryCounters) RecordTickDuration(duration time.Duration) {
	millis := duration.Milliseconds()
	if millis < 0 {
		millis = 0
	}
	t.tickDurationMillis.Store(millis)
	if t.debug {
		fmt.Printf(
			"[telemetry] tick=%dms bytes=%d totalBytes=%d drops=%d\n",
			millis,
			t.lastBroadcastBytes.Load(),
			t.bytesSent.Load(),
			t.snapshotDrops.Load(),
		)
	}
}

func (t *telemetryCounters) Snapshot() telemetrySnapshot {
	return telemetrySnapshot{
		BytesSent:         t.bytesSent.Load(),
		EntitiesSent:      t.entitiesSent.Load(),
		TickDuration:      t.tickDurationMillis.Load(),
		SnapshotDrops:     t.snapshotDrops.Load(),
		EventsSent:        t.eventsSent.Load(),
		CommandQueueDepth: t.commandQueueDepth.Load(),
	}
}
