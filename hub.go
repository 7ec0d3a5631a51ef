package server

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"

	"holdfast/server/internal/backend"
	"holdfast/server/internal/gateway"
	"holdfast/server/internal/registry"
	"holdfast/server/internal/replication"
	"holdfast/server/internal/sim"
	"holdfast/server/internal/structural"
	"holdfast/server/internal/waves"
	"holdfast/server/logging"
	loglifecycle "holdfast/server/logging/lifecycle"
	lognetwork "holdfast/server/logging/network"
)

// HubConfig wires the hub's subsystems and gameplay knobs.
type HubConfig struct {
	MaxPeers        int
	PlayerSpawn     mgl64.Vec3
	SpawnPoints     []mgl64.Vec3
	StartingSalvage int
	// WinWave ends the round as a victory once this wave is cleared.
	// Zero means endless.
	WinWave int

	Structural structural.Config
	Waves      waves.Config
	Gateway    gateway.Config

	Logger    *log.Logger
	Publisher logging.Publisher
	Metrics   *logging.Metrics
	Clock     logging.Clock
	Seed      int64

	// Commit, when set, receives the raid settlement once the round ends.
	Commit *backend.Client
}

// DefaultHubConfig returns a playable four-peer configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		MaxPeers:        4,
		SpawnPoints:     defaultSpawnGates(),
		StartingSalvage: 100,
		Structural:      structural.DefaultConfig(),
		Waves:           waves.DefaultConfig(),
		Gateway:         gateway.DefaultConfig(),
	}
}

// Zombies pour in from the map edges, players spawn at the center.
func defaultSpawnGates() []mgl64.Vec3 {
	edge := worldExtent * 0.8
	return []mgl64.Vec3{
		{edge, 0, 0},
		{-edge, 0, 0},
		{0, 0, edge},
		{0, 0, -edge},
	}
}

// peerState is per-peer bookkeeping. The connection fields are guarded by
// the hub mutex; the intent fields are touched only on the tick goroutine.
type peerState struct {
	id   registry.PeerID
	name string
	team string

	conn          *connTracker
	sub           *subscriber
	lastHeartbeat time.Time
	lastRTT       time.Duration

	playerID registry.EntityID
	intentX  float64
	intentZ  float64
	yaw      float64
}

// Hub owns the authoritative world. World state lives in the registry and
// its subsystems and is mutated only on the tick goroutine; network
// goroutines enqueue commands and touch nothing beyond the peer map.
type Hub struct {
	cfg       HubConfig
	logger    *log.Logger
	publisher logging.Publisher
	metrics   *logging.Metrics
	counters  *telemetryCounters
	clock     logging.Clock
	rng       *rand.Rand

	reg      *registry.Registry
	sys      *structural.System
	director *waves.Director
	gw       *gateway.Gateway
	loop     *sim.Loop
	commit   *backend.Client

	tick atomic.Uint64

	mu       sync.Mutex
	peers    map[registry.PeerID]*peerState
	nextPeer int32

	joins  chan registry.PeerID
	leaves chan registry.PeerID

	// tick goroutine only
	attackTimers map[registry.EntityID]time.Time
	fireTimers   map[registry.EntityID]time.Time
	started      bool
	committed    bool
	raidID       string
	matchID      string
}

// NewHub builds the authoritative hub and its subsystems.
func NewHub(cfg HubConfig) *Hub {
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = 4
	}
	if len(cfg.SpawnPoints) == 0 {
		cfg.SpawnPoints = defaultSpawnGates()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	if cfg.Clock == nil {
		cfg.Clock = logging.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &logging.Metrics{}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	h := &Hub{
		cfg:          cfg,
		logger:       cfg.Logger,
		publisher:    cfg.Publisher,
		metrics:      cfg.Metrics,
		counters:     newTelemetryCounters(),
		clock:        cfg.Clock,
		rng:          rand.New(rand.NewSource(seed)),
		commit:       cfg.Commit,
		peers:        make(map[registry.PeerID]*peerState),
		nextPeer:     int32(registry.HostPeerID),
		joins:        make(chan registry.PeerID, 64),
		leaves:       make(chan registry.PeerID, 64),
		attackTimers: make(map[registry.EntityID]time.Time),
		fireTimers:   make(map[registry.EntityID]time.Time),
		raidID:       backend.NewRaidID(),
		matchID:      backend.NewMatchID(),
	}

	h.reg = registry.New(true,
		registry.WithPublisher(h.publisher),
		registry.WithTickSource(h.currentTick),
	)
	h.reg.AddObserver(h)

	h.sys = structural.NewSystem(cfg.Structural, h.reg, nil, h.rng, h.clock, h.publisher, h.currentTick,
		func(ev structural.Event) {
			h.broadcastEvent(EventMessage{Structural: &ev})
		})

	h.director = waves.NewDirector(cfg.Waves, h.reg, cfg.SpawnPoints, h.rng, h.clock, h.publisher, h.currentTick,
		func(ev waves.Event) {
			h.broadcastEvent(EventMessage{Wave: &ev})
		})
	h.director.RoundOver = h.roundOver

	h.gw = gateway.New(cfg.Gateway, h.reg, h.sys, h.publisher, h.currentTick,
		func(ev gateway.Event) {
			h.broadcastEvent(EventMessage{Interaction: &ev})
		})

	h.loop = sim.NewLoop(h, sim.LoopConfig{
		TickRate:        tickRate,
		CatchupMaxTicks: catchupMaxTicks,
		CommandCapacity: commandCapacity,
		PerPeerLimit:    perPeerCommandLimit,
		WarningStep:     queueWarningStep,
	}, sim.LoopHooks{
		NextTick:  func() uint64 { return h.tick.Add(1) },
		AfterStep: h.afterStep,
		OnQueueWarning: func(length int) {
			h.logger.Printf("[backpressure] command queue depth %d", length)
		},
	})
	return h
}

// RunSimulation drives the tick loop until the stop channel closes.
func (h *Hub) RunSimulation(stop <-chan struct{}) {
	h.loop.Run(stop)
}

// CurrentTick reports the last scheduled tick number.
func (h *Hub) CurrentTick() uint64 { return h.tick.Load() }

func (h *Hub) currentTick() uint64 { return h.tick.Load() }

// Registry exposes the world registry. Callers outside the tick goroutine
// must treat it as read-only.
func (h *Hub) Registry() *registry.Registry { return h.reg }

// Director exposes the wave director for session advertising.
func (h *Hub) Director() *waves.Director { return h.director }

// Deps satisfies sim.EngineCore.
func (h *Hub) Deps() sim.Deps {
	return sim.Deps{Logger: h.logger, Metrics: h.metrics, Clock: h.clock, RNG: h.rng}
}

// Enqueue stages a command for the next tick. Commands from peers without a
// live session and commands of an unrecognized type never reach the queue.
func (h *Hub) Enqueue(cmd sim.Command) (bool, string) {
	h.mu.Lock()
	_, known := h.peers[cmd.Peer]
	h.mu.Unlock()
	if !known {
		return false, sim.CommandRejectUnknownPeer
	}
	switch cmd.Type {
	case sim.CommandMove, sim.CommandInteract, sim.CommandPlaceNail, sim.CommandHeartbeat:
	default:
		return false, sim.CommandRejectInvalidAction
	}
	cmd.OriginTick = h.currentTick()
	return h.loop.Enqueue(cmd)
}

// Join reserves a peer slot. The world snapshot arrives over the socket
// once the peer subscribes.
func (h *Hub) Join(name, team string) (JoinResponse, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.peers) >= h.cfg.MaxPeers {
		return JoinResponse{}, false
	}
	h.nextPeer++
	id := registry.PeerID(h.nextPeer)
	if name == "" {
		name = "survivor-" + strconv.Itoa(int(id))
	}
	if team == "" {
		team = "survivors"
	}
	now := h.clock.Now()
	h.peers[id] = &peerState{
		id:            id,
		name:          name,
		team:          team,
		conn:          newConnTracker(now),
		lastHeartbeat: now,
	}

	loglifecycle.PeerJoined(context.Background(), h.publisher, h.currentTick(),
		logging.EntityRef{ID: strconv.Itoa(int(id)), Kind: logging.EntityKindPeer},
		loglifecycle.PeerJoinedPayload{PeerID: int32(id), Name: name, Team: team})

	return JoinResponse{Ver: ProtocolVersion, PeerID: int32(id), Name: name, Team: team}, true
}

// Subscribe attaches a socket to a reserved peer slot and schedules the
// late-join sync for the next tick.
func (h *Hub) Subscribe(id registry.PeerID, conn *websocket.Conn) (*subscriber, bool) {
	h.mu.Lock()
	state, ok := h.peers[id]
	if !ok {
		h.mu.Unlock()
		return nil, false
	}
	if state.sub != nil {
		state.sub.close()
	}
	sub := newSubscriber(id, conn, h.counters, h.scheduleLeave)
	state.sub = sub
	state.lastHeartbeat = h.clock.Now()
	h.transitionLocked(state, StateSyncing)
	h.mu.Unlock()

	go sub.run()

	select {
	case h.joins <- id:
	default:
		// Join backlog full; the peer would never get its sync, so drop it.
		sub.close()
		h.scheduleLeave(id)
		return nil, false
	}
	return sub, true
}

// MarkSynced moves a peer to Active once it confirms the initial snapshot.
func (h *Hub) MarkSynced(id registry.PeerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.peers[id]
	if !ok || state.conn.State() != StateSyncing {
		return
	}
	h.transitionLocked(state, StateActive)
}

// UpdateHeartbeat records liveness and computes the RTT for a peer.
func (h *Hub) UpdateHeartbeat(id registry.PeerID, receivedAt time.Time, clientSent int64) (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.peers[id]
	if !ok {
		return 0, false
	}
	state.lastHeartbeat = receivedAt
	if clientSent > 0 {
		rtt := receivedAt.Sub(time.UnixMilli(clientSent))
		if rtt >= 0 && rtt < time.Minute {
			state.lastRTT = rtt
		}
	}
	return state.lastRTT, true
}

// Leave tears the peer's socket down; entity cleanup happens on the next
// tick.
func (h *Hub) Leave(id registry.PeerID) {
	h.mu.Lock()
	state, ok := h.peers[id]
	if ok && state.sub != nil {
		state.sub.close()
	}
	h.mu.Unlock()
	if ok {
		h.scheduleLeave(id)
	}
}

func (h *Hub) scheduleLeave(id registry.PeerID) {
	select {
	case h.leaves <- id:
	default:
		go func() { h.leaves <- id }()
	}
}

// DiagnosticsSnapshot exposes per-peer connectivity for the diagnostics
// endpoint.
func (h *Hub) DiagnosticsSnapshot() []DiagnosticsPeer {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers := make([]DiagnosticsPeer, 0, len(h.peers))
	for _, state := range h.peers {
		peers = append(peers, DiagnosticsPeer{
			ID:            int32(state.id),
			Name:          state.name,
			State:         string(state.conn.State()),
			LastHeartbeat: state.lastHeartbeat.UnixMilli(),
			RTTMillis:     state.lastRTT.Milliseconds(),
		})
	}
	return peers
}

// TelemetrySnapshot exposes the broadcast counters.
func (h *Hub) TelemetrySnapshot() telemetrySnapshot {
	return h.counters.Snapshot()
}

// PeerCount reports the number of reserved peer slots.
func (h *Hub) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Apply drains staged commands. Runs on the tick goroutine before Step.
func (h *Hub) Apply(commands []sim.Command) {
	for _, cmd := range commands {
		switch cmd.Type {
		case sim.CommandMove:
			h.applyMove(cmd)
		case sim.CommandInteract:
			h.applyInteract(cmd)
		case sim.CommandPlaceNail:
			h.applyPlaceNail(cmd)
		case sim.CommandHeartbeat:
			h.applyHeartbeat(cmd)
		}
	}
}

// Step advances the world one tick.
func (h *Hub) Step(now time.Time, dt float64) {
	if h.commit != nil {
		h.commit.Resume()
	}
	h.processJoins()
	h.processLeaves()
	h.dropStalePeers(now)
	h.forceStalledSyncs(now)

	h.movePlayers(dt)
	h.updateZombies(now, dt)
	h.updateTurrets(now)
	h.expirePhases()

	if h.started && h.alivePlayerCount() == 0 {
		h.director.EndRoundIfOver()
	}
	h.director.Advance(time.Duration(dt*float64(time.Second)), h.alivePlayerCount())
	h.maybeCommitRaid()
}

func (h *Hub) applyMove(cmd sim.Command) {
	if cmd.Move == nil {
		return
	}
	h.mu.Lock()
	state, ok := h.peers[cmd.Peer]
	h.mu.Unlock()
	if !ok {
		return
	}
	dx, dz := cmd.Move.DX, cmd.Move.DZ
	if length := math.Hypot(dx, dz); length > 1 {
		dx /= length
		dz /= length
	}
	state.intentX = dx
	state.intentZ = dz
	state.yaw = cmd.Move.Yaw
}

func (h *Hub) applyInteract(cmd sim.Command) {
	if cmd.Interact == nil {
		return
	}
	result := h.gw.RequestInteract(gateway.Request{
		Peer:    cmd.Peer,
		Target:  cmd.Interact.TargetID,
		Action:  cmd.Interact.Action,
		Payload: cmd.Interact.Payload,
		Seq:     cmd.Interact.Seq,
	})
	h.sendToPeer(cmd.Peer, InteractResultMessage{Ver: ProtocolVersion, Type: "interact_result", Result: result})
}

func (h *Hub) applyPlaceNail(cmd sim.Command) {
	if cmd.PlaceNail == nil {
		return
	}
	_, ok := h.sys.Place(structural.PlaceRequest{
		Requester: cmd.Peer,
		PropID:    cmd.PlaceNail.PropID,
		SurfaceID: cmd.PlaceNail.SurfaceID,
		Point:     mgl64.Vec3{cmd.PlaceNail.Point[0], cmd.PlaceNail.Point[1], cmd.PlaceNail.Point[2]},
		Normal:    mgl64.Vec3{cmd.PlaceNail.Normal[0], cmd.PlaceNail.Normal[1], cmd.PlaceNail.Normal[2]},
	})
	// Placement rejections stay opaque: the requester learns the outcome,
	// never which validation tripped.
	h.sendToPeer(cmd.Peer, InteractResultMessage{
		Ver:    ProtocolVersion,
		Type:   "interact_result",
		Result: gateway.Result{Success: ok},
	})
}

func (h *Hub) applyHeartbeat(cmd sim.Command) {
	if cmd.Heartbeat == nil {
		return
	}
	h.UpdateHeartbeat(cmd.Peer, cmd.Heartbeat.ReceivedAt, cmd.Heartbeat.ClientSent)
}

// processJoins spawns players for freshly subscribed peers. The full-world
// sync is queued on the reliable channel before the player entity is
// registered, so the peer's own spawn event always trails its snapshot.
func (h *Hub) processJoins() {
	for {
		select {
		case id := <-h.joins:
			h.completeJoin(id)
		default:
			return
		}
	}
}

func (h *Hub) completeJoin(id registry.PeerID) {
	h.mu.Lock()
	state, ok := h.peers[id]
	var sub *subscriber
	if ok {
		sub = state.sub
	}
	h.mu.Unlock()
	if !ok || sub == nil {
		return
	}

	snapshot := replication.BuildFull(h.reg, h.sys, h.director.Wave(), string(h.director.CurrentPhase()), h.peerInfo)
	sync := SyncMessage{
		Ver:        ProtocolVersion,
		Type:       "sync",
		PeerID:     int32(id),
		ServerTime: h.clock.Now().UnixMilli(),
		Snapshot:   snapshot,
	}
	data, err := json.Marshal(sync)
	if err != nil {
		h.logger.Printf("failed to marshal sync for peer %d: %v", id, err)
		return
	}
	if !sub.sendEvent(data) {
		return
	}

	spawn := h.cfg.PlayerSpawn.Add(mgl64.Vec3{
		(h.rng.Float64()*2 - 1) * 2,
		0,
		(h.rng.Float64()*2 - 1) * 2,
	})
	playerID, ok := h.reg.RegisterAt(registry.TypePlayer, id, spawn, true)
	if !ok {
		return
	}
	h.reg.SetComponent(playerID, registry.ComponentHealth, registry.Health{Current: playerMaxHealth, Max: playerMaxHealth})
	h.reg.SetComponent(playerID, registry.ComponentLoot, registry.Loot{Items: []registry.LootItem{
		{Item: h.cfg.Gateway.CurrencyItem, Qty: h.cfg.StartingSalvage},
	}})

	state.playerID = playerID
	h.started = true

	// First live peer kicks the round off.
	if h.director.CurrentPhase() == waves.PhaseIdle {
		h.director.StartWave(1, h.alivePlayerCount())
	}
}

func (h *Hub) processLeaves() {
	for {
		select {
		case id := <-h.leaves:
			h.completeLeave(id, "socket_closed")
		default:
			return
		}
	}
}

func (h *Hub) completeLeave(id registry.PeerID, reason string) {
	h.mu.Lock()
	state, ok := h.peers[id]
	if ok {
		delete(h.peers, id)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	if state.sub != nil {
		state.sub.close()
	}

	h.reg.RemovePeerPlayers(id)
	loglifecycle.PeerDisconnected(context.Background(), h.publisher, h.currentTick(),
		logging.EntityRef{ID: strconv.Itoa(int(id)), Kind: logging.EntityKindPeer},
		loglifecycle.PeerDisconnectedPayload{PeerID: int32(id), Reason: reason})
}

func (h *Hub) dropStalePeers(now time.Time) {
	h.mu.Lock()
	var stale []registry.PeerID
	for id, state := range h.peers {
		if now.Sub(state.lastHeartbeat) > disconnectAfter {
			stale = append(stale, id)
		}
	}
	h.mu.Unlock()
	for _, id := range stale {
		h.logger.Printf("disconnecting peer %d after heartbeat timeout", id)
		h.completeLeave(id, "heartbeat_timeout")
	}
}

func (h *Hub) forceStalledSyncs(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, state := range h.peers {
		entered := state.conn.enteredAt
		if state.conn.forceActiveIfStalled(now) {
			lognetwork.SyncTimeout(context.Background(), h.publisher, h.currentTick(), lognetwork.SyncTimeoutPayload{
				PeerID:  int32(id),
				Elapsed: now.Sub(entered).Milliseconds(),
			})
			h.logger.Printf("peer %d sync timed out; continuing with possibly stale state", id)
		}
	}
}

func (h *Hub) movePlayers(dt float64) {
	h.mu.Lock()
	states := make([]*peerState, 0, len(h.peers))
	for _, state := range h.peers {
		states = append(states, state)
	}
	h.mu.Unlock()

	for _, state := range states {
		if state.playerID == 0 {
			continue
		}
		entity, ok := h.reg.Get(state.playerID)
		if !ok {
			continue
		}
		if health, ok := registry.HealthOf(h.reg, state.playerID); ok && health.Dead {
			continue
		}
		if state.intentX == 0 && state.intentZ == 0 {
			if state.yaw != entity.Rotation.Y() {
				h.reg.SetPosition(state.playerID, entity.Position, mgl64.Vec3{0, state.yaw, 0})
			}
			continue
		}
		pos := entity.Position.Add(mgl64.Vec3{state.intentX * moveSpeed * dt, 0, state.intentZ * moveSpeed * dt})
		pos[0] = clamp(pos[0], -worldExtent+playerHalf, worldExtent-playerHalf)
		pos[2] = clamp(pos[2], -worldExtent+playerHalf, worldExtent-playerHalf)
		h.reg.SetPosition(state.playerID, pos, mgl64.Vec3{0, state.yaw, 0})
	}
}

// expirePhases restores solidity on props whose phase window lapsed.
func (h *Hub) expirePhases() {
	tick := h.currentTick()
	for _, prop := range h.reg.ByType(registry.TypeProp) {
		if phase, ok := registry.PhaseOf(h.reg, prop.ID); ok && tick > phase.Until {
			h.reg.RemoveComponent(prop.ID, registry.ComponentPhase)
		}
	}
}

func (h *Hub) alivePlayerCount() int {
	alive := 0
	for _, player := range h.reg.ByType(registry.TypePlayer) {
		if health, ok := registry.HealthOf(h.reg, player.ID); ok && !health.Dead {
			alive++
		}
	}
	return alive
}

func (h *Hub) roundOver() (bool, bool) {
	if h.started && h.alivePlayerCount() == 0 {
		return true, false
	}
	if h.cfg.WinWave > 0 && h.director.Wave() >= h.cfg.WinWave {
		return true, true
	}
	return false, false
}

// maybeCommitRaid settles the round with the economy service exactly once,
// after the director declares it over.
func (h *Hub) maybeCommitRaid() {
	if h.committed || h.commit == nil || h.director.CurrentPhase() != waves.PhaseEnded {
		return
	}
	h.committed = true

	payload := backend.CommitPayload{RaidID: h.raidID, MatchID: h.matchID}
	h.mu.Lock()
	peers := make([]*peerState, 0, len(h.peers))
	for _, state := range h.peers {
		peers = append(peers, state)
	}
	h.mu.Unlock()

	for _, state := range peers {
		outcome := backend.Outcome{
			CharacterID:     state.name,
			ProvisionalLoot: map[string]int{},
		}
		if state.playerID != 0 {
			if health, ok := registry.HealthOf(h.reg, state.playerID); ok {
				outcome.Survived = !health.Dead
			}
			if loot, ok := registry.LootOf(h.reg, state.playerID); ok {
				for _, item := range loot.Items {
					outcome.ProvisionalLoot[item.Item] += item.Qty
				}
			}
		}
		payload.Outcomes = append(payload.Outcomes, outcome)
	}

	h.commit.SubmitCommit(context.Background(), payload, func(result backend.CommitResult) {
		if result.OK() {
			h.logger.Printf("raid %s committed", payload.RaidID)
			return
		}
		if result.Reason != "" {
			h.logger.Printf("raid %s rejected: %s", payload.RaidID, result.Reason)
			return
		}
		h.logger.Printf("raid %s commit failed: %v", payload.RaidID, result.Err)
	})
}

// afterStep publishes telemetry and fans the per-tick snapshot out on the
// droppable outboxes.
func (h *Hub) afterStep(result sim.LoopStepResult) {
	h.counters.RecordTickDuration(result.Duration)
	h.counters.RecordQueueDepth(h.loop.Pending())

	snapshot := replication.BuildTick(h.reg, h.sys, result.Tick)
	msg := StateMessage{
		Ver:        ProtocolVersion,
		Type:       "state",
		ServerTime: result.Now.UnixMilli(),
		Snapshot:   snapshot,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Printf("failed to marshal state message: %v", err)
		return
	}
	entities := len(snapshot.Players) + len(snapshot.Zombies) + len(snapshot.Nails)

	for _, sub := range h.liveSubscribers() {
		sub.sendSnapshot(data)
		h.counters.RecordBroadcast(len(data), entities)
	}
}

// EntityRegistered implements registry.Observer. Every registration is
// announced on the reliable channel.
func (h *Hub) EntityRegistered(e *registry.Entity) {
	rec, ok := h.reg.RecordOf(e.ID)
	if !ok {
		return
	}
	h.broadcastEvent(EventMessage{Entity: &EntityEvent{Kind: "spawned", Record: rec}})
}

// EntityUnregistered implements registry.Observer. A prop leaving the world
// takes its fasteners with it; the destroy cascade is announced through the
// structural event path before the removal itself goes out.
func (h *Hub) EntityUnregistered(id registry.EntityID, typ registry.EntityType, owner registry.PeerID) {
	if typ == registry.TypeProp {
		h.sys.RemovePropNails(id)
	}
	h.broadcastEvent(EventMessage{Entity: &EntityEvent{
		Kind:   "removed",
		Record: registry.Record{ID: id, Type: typ, Owner: owner},
	}})
}

func (h *Hub) broadcastEvent(msg EventMessage) {
	msg.Ver = ProtocolVersion
	msg.Type = "event"
	msg.Tick = h.currentTick()
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Printf("failed to marshal event message: %v", err)
		return
	}
	for _, sub := range h.liveSubscribers() {
		sub.sendEvent(data)
	}
}

func (h *Hub) liveSubscribers() []*subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := make([]*subscriber, 0, len(h.peers))
	for _, state := range h.peers {
		if state.sub != nil {
			subs = append(subs, state.sub)
		}
	}
	return subs
}

func (h *Hub) sendToPeer(id registry.PeerID, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Printf("failed to marshal message for peer %d: %v", id, err)
		return
	}
	h.mu.Lock()
	state, ok := h.peers[id]
	var sub *subscriber
	if ok {
		sub = state.sub
	}
	h.mu.Unlock()
	if sub != nil {
		sub.sendEvent(data)
	}
}

func (h *Hub) sendHeartbeatAck(id registry.PeerID, data []byte) {
	h.mu.Lock()
	state, ok := h.peers[id]
	var sub *subscriber
	if ok {
		sub = state.sub
	}
	h.mu.Unlock()
	if sub != nil {
		sub.sendEvent(data)
	}
}

func (h *Hub) peerInfo(id registry.PeerID) (string, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if state, ok := h.peers[id]; ok {
		return state.name, state.team
	}
	return "", ""
}

// transitionLocked requires the hub mutex.
func (h *Hub) transitionLocked(state *peerState, to ConnState) {
	from := state.conn.State()
	if from == to {
		return
	}
	state.conn.set(to, h.clock.Now())
	lognetwork.StateChanged(context.Background(), h.publisher, h.currentTick(), lognetwork.StateChangedPayload{
		From: string(from),
		To:   string(to),
	})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
