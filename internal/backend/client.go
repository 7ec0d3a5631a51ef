package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"holdfast/server/logging"
	"holdfast/server/logging/economy"
)

// Outcome is one character's raid result.
type Outcome struct {
	CharacterID     string         `json:"character_id"`
	Survived        bool           `json:"survived"`
	ProvisionalLoot map[string]int `json:"provisional_loot"`
}

// CommitPayload is the raid settlement sent to the economy service.
type CommitPayload struct {
	RaidID   string    `json:"raid_id"`
	MatchID  string    `json:"match_id"`
	Outcomes []Outcome `json:"outcomes"`
}

// NewRaidID and NewMatchID mint the identifiers the economy service keys on.
func NewRaidID() string  { return uuid.NewString() }
func NewMatchID() string { return uuid.NewString() }

// CommitResult is what a continuation receives once the HTTP exchange ends.
// Reason is set for integrity rejections; Err for transport faults.
type CommitResult struct {
	Status int
	Reason string
	Err    error
}

// OK reports whether the commit was accepted.
func (r CommitResult) OK() bool {
	return r.Err == nil && r.Reason == ""
}

type continuation struct {
	done   func(CommitResult)
	result CommitResult
}

// Client submits signed commits without ever blocking the tick loop. The
// HTTP exchange runs on its own goroutine; the continuation is parked on a
// channel and executed by Resume, which the hub calls once per tick.
type Client struct {
	httpClient *http.Client
	baseURL    string
	signer     *Signer
	publisher  logging.Publisher
	tick       func() uint64
	queue      chan continuation
}

func NewClient(baseURL string, signer *Signer, pub logging.Publisher, tick func() uint64) *Client {
	if pub == nil {
		pub = logging.NopPublisher()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		signer:     signer,
		publisher:  pub,
		tick:       tick,
		queue:      make(chan continuation, 16),
	}
}

// SubmitCommit signs and posts the payload asynchronously. done runs on a
// later tick, never on this call stack and never on the HTTP goroutine.
func (c *Client) SubmitCommit(ctx context.Context, payload CommitPayload, done func(CommitResult)) {
	economy.CommitSent(ctx, c.publisher, c.currentTick(), economy.CommitPayload{
		RaidID:   payload.RaidID,
		MatchID:  payload.MatchID,
		Outcomes: len(payload.Outcomes),
	})
	go func() {
		result := c.post(ctx, payload)
		c.queue <- continuation{done: done, result: result}
	}()
}

// Resume runs every parked continuation. Called from the tick loop.
func (c *Client) Resume() {
	for {
		select {
		case cont := <-c.queue:
			if cont.done != nil {
				cont.done(cont.result)
			}
		default:
			return
		}
	}
}

func (c *Client) post(ctx context.Context, payload CommitPayload) CommitResult {
	env, err := c.signer.Sign(payload)
	if err != nil {
		return CommitResult{Err: err}
	}
	body, err := json.Marshal(env)
	if err != nil {
		return CommitResult{Err: fmt.Errorf("backend: encode envelope: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/raid/commit", bytes.NewReader(body))
	if err != nil {
		return CommitResult{Err: fmt.Errorf("backend: build commit request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return CommitResult{Err: fmt.Errorf("backend: post commit: %w", err)}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	result := CommitResult{Status: resp.StatusCode}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
	case http.StatusUnauthorized:
		result.Reason = ReasonSignatureMismatch
	case http.StatusForbidden:
		result.Reason = ReasonTimestampExpired
	default:
		result.Err = fmt.Errorf("backend: commit returned status %d", resp.StatusCode)
	}
	return result
}

func (c *Client) currentTick() uint64 {
	if c.tick == nil {
		return 0
	}
	return c.tick()
}
