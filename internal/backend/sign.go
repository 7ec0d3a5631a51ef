// Package backend talks to the external economy service. Raid commits are
// HMAC-signed and replay-protected; the HTTP calls run off the tick loop and
// resume as continuations on a later tick.
package backend

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Rejection reasons for integrity faults. A failed commit is fatal to that
// attempt; re-signing with a fresh timestamp is the only recovery.
const (
	ReasonSignatureMismatch = "signature_mismatch"
	ReasonTimestampExpired  = "timestamp_expired"
)

// TimestampWindow is the maximum clock skew a commit survives.
const TimestampWindow = 300 * time.Second

// Envelope is the signed wire form of a backend request.
type Envelope struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
	Timestamp int64           `json:"timestamp"`
	ServerID  string          `json:"server_id"`
}

// Signer produces envelopes for one server identity.
type Signer struct {
	secret   []byte
	serverID string
	now      func() time.Time
}

func NewSigner(secret []byte, serverID string) *Signer {
	return &Signer{secret: secret, serverID: serverID, now: time.Now}
}

// WithClock overrides the signer's time source.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	if now != nil {
		s.now = now
	}
	return s
}

// Sign canonicalizes the payload and wraps it in a signed envelope.
func (s *Signer) Sign(payload any) (Envelope, error) {
	canonical, err := canonicalJSON(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("backend: canonicalize payload: %w", err)
	}
	timestamp := s.now().Unix()
	return Envelope{
		Payload:   canonical,
		Signature: sign(s.secret, timestamp, s.serverID, canonical),
		Timestamp: timestamp,
		ServerID:  s.serverID,
	}, nil
}

// Verifier checks envelopes the way the economy service does. The server
// side lives elsewhere; this exists so integration tests and the local stub
// agree byte-for-byte with the remote contract.
type Verifier struct {
	secret []byte
	window time.Duration
	now    func() time.Time
}

func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret, window: TimestampWindow, now: time.Now}
}

// WithClock overrides the verifier's time source.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	if now != nil {
		v.now = now
	}
	return v
}

// Verify returns "" on success, otherwise one of the rejection reasons.
// The timestamp check runs first: a stale envelope is reported as expired
// even when its signature is also wrong.
func (v *Verifier) Verify(env Envelope) string {
	skew := v.now().Unix() - env.Timestamp
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > v.window {
		return ReasonTimestampExpired
	}

	canonical, err := canonicalJSON(json.RawMessage(env.Payload))
	if err != nil {
		return ReasonSignatureMismatch
	}
	expected := sign(v.secret, env.Timestamp, env.ServerID, canonical)
	if !hmac.Equal([]byte(expected), []byte(env.Signature)) {
		return ReasonSignatureMismatch
	}
	return ""
}

func sign(secret []byte, timestamp int64, serverID string, canonicalPayload []byte) string {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d|%s|%s", timestamp, serverID, canonicalPayload)
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalJSON renders a value as JSON with every object's keys sorted, so
// both sides of the HMAC hash identical bytes regardless of field order.
// Re-marshalling through a generic value does the sorting: encoding/json
// always emits map keys in sorted order.
func canonicalJSON(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	return json.Marshal(decoded)
}
