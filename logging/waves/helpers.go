package waves

import (
	"context"

	"holdfast/server/logging"
)

const (
	EventWaveStarted   logging.EventType = "waves.wave_started"
	EventWaveCompleted logging.EventType = "waves.wave_completed"
	EventRoundEnded    logging.EventType = "waves.round_ended"
)

type WaveStartedPayload struct {
	Wave     int     `json:"wave"`
	Count    int     `json:"count"`
	Health   float64 `json:"health"`
	Interval float64 `json:"intervalSeconds"`
	Damage   float64 `json:"damageScalar"`
}

type WaveCompletedPayload struct {
	Wave    int    `json:"wave"`
	Spawned int    `json:"spawned"`
	Elapsed int64  `json:"elapsedMillis"`
	Next    string `json:"next,omitempty"`
}

type RoundEndedPayload struct {
	Wave int    `json:"wave"`
	Won  bool   `json:"won"`
	Why  string `json:"why,omitempty"`
}

func WaveStarted(ctx context.Context, pub logging.Publisher, tick uint64, payload WaveStartedPayload) {
	publish(ctx, pub, EventWaveStarted, tick, payload)
}

func WaveCompleted(ctx context.Context, pub logging.Publisher, tick uint64, payload WaveCompletedPayload) {
	publish(ctx, pub, EventWaveCompleted, tick, payload)
}

func RoundEnded(ctx context.Context, pub logging.Publisher, tick uint64, payload RoundEndedPayload) {
	publish(ctx, pub, EventRoundEnded, tick, payload)
}

func publish(ctx context.Context, pub logging.Publisher, typ logging.EventType, tick uint64, payload any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     typ,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryWaves,
		Payload:  payload,
	})
}
