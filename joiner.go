package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"holdfast/server/internal/discovery"
	"holdfast/server/internal/registry"
	"holdfast/server/internal/replication"
	"holdfast/server/logging"
	lognetwork "holdfast/server/logging/network"
)

// JoinerConfig wires a joining client.
type JoinerConfig struct {
	// Rendezvous is the discovery service address. Optional; DialDirect
	// works without it.
	Rendezvous string
	Name       string
	Team       string
	Logger     *log.Logger
	Publisher  logging.Publisher
	Clock      logging.Clock
}

// Joiner drives the client side of a session: discovery, the join
// handshake, the full-world sync, and the ongoing state feed. Its registry
// is a non-authoritative replica; it only ever changes through Apply.
type Joiner struct {
	cfg        JoinerConfig
	logger     *log.Logger
	publisher  logging.Publisher
	clock      logging.Clock
	rendezvous *discovery.Client
	reg        *registry.Registry
	httpClient *http.Client

	mu      sync.Mutex
	tracker *connTracker
	conn    *websocket.Conn
	writeMu sync.Mutex
	peerID  int32
	applier replication.TickApplier
	latest  replication.TickSnapshot
	wave    int
	phase   string
}

// NewJoiner builds a disconnected joiner.
func NewJoiner(cfg JoinerConfig) *Joiner {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	if cfg.Clock == nil {
		cfg.Clock = logging.SystemClock{}
	}
	j := &Joiner{
		cfg:        cfg,
		logger:     cfg.Logger,
		publisher:  cfg.Publisher,
		clock:      cfg.Clock,
		reg:        registry.New(false),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tracker:    &connTracker{state: StateDisconnected, timeout: syncTimeout},
	}
	if cfg.Rendezvous != "" {
		j.rendezvous = discovery.NewClient(cfg.Rendezvous)
	}
	return j
}

// State reports the connection lifecycle state.
func (j *Joiner) State() ConnState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.tracker.State()
}

// Registry exposes the replica world.
func (j *Joiner) Registry() *registry.Registry { return j.reg }

// PeerID reports the identity assigned by the host, zero before joining.
func (j *Joiner) PeerID() int32 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.peerID
}

// Wave reports the wave number carried by the last full sync.
func (j *Joiner) Wave() (int, string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.wave, j.phase
}

// LatestState returns the newest accepted per-tick snapshot.
func (j *Joiner) LatestState() replication.TickSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.latest
}

// Sessions lists the advertised sessions at the rendezvous service.
func (j *Joiner) Sessions(ctx context.Context) ([]discovery.Session, error) {
	if j.rendezvous == nil {
		return nil, fmt.Errorf("no rendezvous configured")
	}
	sessions, err := j.rendezvous.List(ctx)
	if err != nil {
		lognetwork.DiscoveryFailed(ctx, j.publisher, lognetwork.DiscoveryFailedPayload{Op: "list", Error: err.Error()})
		return nil, err
	}
	return sessions, nil
}

// Dial resolves a session through the rendezvous service and joins it. Any
// failure lands back in Disconnected.
func (j *Joiner) Dial(ctx context.Context, sessionID string) error {
	if j.rendezvous == nil {
		return fmt.Errorf("no rendezvous configured")
	}
	j.transition(StateDiscovering)
	info, err := j.rendezvous.Join(ctx, sessionID)
	if err != nil {
		lognetwork.DiscoveryFailed(ctx, j.publisher, lognetwork.DiscoveryFailedPayload{Op: "join", Error: err.Error()})
		j.transition(StateDisconnected)
		return fmt.Errorf("discovery join: %w", err)
	}
	return j.DialDirect(ctx, fmt.Sprintf("http://%s:%d", info.HostIP, info.HostPort))
}

// DialDirect joins a host by its HTTP base URL, skipping discovery. It
// returns once the full-world sync has been applied (or the sync wait
// timed out and the session was forced active with whatever arrived).
func (j *Joiner) DialDirect(ctx context.Context, baseURL string) error {
	j.transition(StateConnecting)

	join, err := j.requestJoin(ctx, baseURL)
	if err != nil {
		j.transition(StateDisconnected)
		return err
	}

	wsURL := fmt.Sprintf("ws%s/ws?peer=%d", baseURL[len("http"):], join.PeerID)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		j.transition(StateDisconnected)
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}

	j.mu.Lock()
	j.conn = conn
	j.peerID = join.PeerID
	j.mu.Unlock()
	j.transition(StateSyncing)

	if err := j.awaitSync(); err != nil {
		j.Disconnect()
		return err
	}
	return nil
}

func (j *Joiner) requestJoin(ctx context.Context, baseURL string) (JoinResponse, error) {
	body, err := json.Marshal(map[string]string{"name": j.cfg.Name, "team": j.cfg.Team})
	if err != nil {
		return JoinResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/join", bytes.NewReader(body))
	if err != nil {
		return JoinResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return JoinResponse{}, fmt.Errorf("join request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return JoinResponse{}, fmt.Errorf("join rejected: %s", resp.Status)
	}
	var join JoinResponse
	if err := json.NewDecoder(resp.Body).Decode(&join); err != nil {
		return JoinResponse{}, fmt.Errorf("decode join response: %w", err)
	}
	return join, nil
}

// awaitSync blocks until the full-world snapshot arrives. A host that goes
// quiet for the whole timeout gets the same treatment the server applies:
// force active and carry on with possibly stale state. A dead socket is not
// a stall; that error propagates and the session lands in Disconnected.
func (j *Joiner) awaitSync() error {
	j.mu.Lock()
	conn := j.conn
	j.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	deadline := j.clock.Now().Add(syncTimeout)
	conn.SetReadDeadline(time.Now().Add(syncTimeout))
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				j.mu.Lock()
				forced := j.tracker.forceActiveIfStalled(j.clock.Now().Add(syncTimeout))
				j.mu.Unlock()
				if forced {
					lognetwork.SyncTimeout(context.Background(), j.publisher, j.applier.LastTick(), lognetwork.SyncTimeoutPayload{
						PeerID:  j.peerID,
						Elapsed: syncTimeout.Milliseconds(),
					})
					j.logger.Printf("sync wait timed out; continuing with possibly stale state")
					conn.SetReadDeadline(time.Time{})
					return nil
				}
			}
			return fmt.Errorf("sync read: %w", err)
		}

		var sync SyncMessage
		if err := json.Unmarshal(payload, &sync); err != nil || sync.Type != "sync" {
			if j.clock.Now().After(deadline) {
				return fmt.Errorf("no sync before deadline")
			}
			continue
		}

		replication.ApplyFull(j.reg, nil, sync.Snapshot)
		j.mu.Lock()
		j.wave = sync.Snapshot.Wave
		j.phase = sync.Snapshot.Phase
		j.mu.Unlock()

		conn.SetReadDeadline(time.Time{})
		if err := j.send(ClientMessage{Type: "sync_complete"}); err != nil {
			return err
		}
		j.transition(StateActive)
		return nil
	}
}

// Listen consumes the state feed until the connection drops or ctx is
// cancelled. It also keeps the heartbeat going.
func (j *Joiner) Listen(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go j.heartbeatLoop(stop)

	j.mu.Lock()
	conn := j.conn
	j.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	for {
		select {
		case <-ctx.Done():
			j.Disconnect()
			return nil
		default:
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			j.Disconnect()
			return err
		}

		var envelope struct {
			Type     string                    `json:"type"`
			Snapshot *replication.TickSnapshot `json:"snapshot"`
		}
		if err := json.Unmarshal(payload, &envelope); err != nil {
			continue
		}
		if envelope.Type != "state" || envelope.Snapshot == nil {
			continue
		}
		j.mu.Lock()
		if j.applier.Accept(*envelope.Snapshot) {
			j.latest = *envelope.Snapshot
		}
		j.mu.Unlock()
	}
}

// SendInput stages a movement intent with the host.
func (j *Joiner) SendInput(dx, dz, yaw float64) error {
	return j.send(ClientMessage{Type: "input", DX: dx, DZ: dz, Yaw: yaw})
}

// SendInteract stages a gateway request with the host.
func (j *Joiner) SendInteract(target uint64, action string, payload map[string]any, seq uint64) error {
	return j.send(ClientMessage{Type: "interact", TargetID: target, Action: action, Payload: payload, Seq: seq})
}

// SendPlaceNail stages a fastener placement with the host.
func (j *Joiner) SendPlaceNail(propID, surfaceID uint64, point, normal [3]float64) error {
	return j.send(ClientMessage{Type: "place_nail", PropID: propID, SurfaceID: surfaceID, Point: point, Normal: normal})
}

// Disconnect tears the session down from any state.
func (j *Joiner) Disconnect() {
	j.mu.Lock()
	conn := j.conn
	j.conn = nil
	j.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	j.transition(StateDisconnected)
}

func (j *Joiner) heartbeatLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := j.send(ClientMessage{Type: "heartbeat", SentAt: time.Now().UnixMilli()}); err != nil {
				return
			}
		}
	}
}

func (j *Joiner) send(msg ClientMessage) error {
	j.mu.Lock()
	conn := j.conn
	j.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	j.writeMu.Lock()
	defer j.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (j *Joiner) transition(to ConnState) {
	j.mu.Lock()
	from := j.tracker.State()
	if from == to {
		j.mu.Unlock()
		return
	}
	j.tracker.set(to, j.clock.Now())
	tick := j.applier.LastTick()
	j.mu.Unlock()
	lognetwork.StateChanged(context.Background(), j.publisher, tick, lognetwork.StateChangedPayload{
		From: string(from),
		To:   string(to),
	})
}
