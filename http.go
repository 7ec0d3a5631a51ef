package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"holdfast/server/internal/registry"
	"holdfast/server/internal/sim"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler builds the HTTP surface around the hub.
func Handler(hub *Hub) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w http.ResponseWriter, r *http.Request) {
		payload := struct {
			Status     string            `json:"status"`
			ServerTime int64             `json:"serverTime"`
			Tick       uint64            `json:"tick"`
			Peers      []DiagnosticsPeer `json:"peers"`
			TickRate   int               `json:"tickRate"`
			Heartbeat  int64             `json:"heartbeatMillis"`
			Telemetry  telemetrySnapshot `json:"telemetry"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			Tick:       hub.CurrentTick(),
			Peers:      hub.DiagnosticsSnapshot(),
			TickRate:   tickRate,
			Heartbeat:  heartbeatInterval.Milliseconds(),
			Telemetry:  hub.TelemetrySnapshot(),
		}

		data, err := json.Marshal(payload)
		if err != nil {
			http.Error(w, "failed to encode", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/join", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			Name string `json:"name"`
			Team string `json:"team"`
		}
		if r.Body != nil {
			// A missing or malformed body just means default identity.
			json.NewDecoder(r.Body).Decode(&req)
		}

		join, ok := hub.Join(req.Name, req.Team)
		if !ok {
			http.Error(w, "session full", http.StatusServiceUnavailable)
			return
		}
		data, err := json.Marshal(join)
		if err != nil {
			http.Error(w, "failed to encode", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("peer")
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed <= 0 {
			http.Error(w, "missing or invalid peer", http.StatusBadRequest)
			return
		}
		peerID := registry.PeerID(parsed)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("upgrade failed for peer %d: %v", peerID, err)
			return
		}

		if _, ok := hub.Subscribe(peerID, conn); !ok {
			message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown peer")
			conn.WriteMessage(websocket.CloseMessage, message)
			conn.Close()
			return
		}

		readPeer(hub, peerID, conn)
	})

	return mux
}

// readPeer is the socket reader loop. Inbound intents only ever become
// queued commands; nothing here touches world state.
func readPeer(hub *Hub, peerID registry.PeerID, conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			hub.Leave(peerID)
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Printf("discarding malformed message from peer %d: %v", peerID, err)
			continue
		}

		switch msg.Type {
		case "input":
			hub.Enqueue(sim.Command{
				Peer: peerID,
				Type: sim.CommandMove,
				Move: &sim.MoveCommand{DX: msg.DX, DZ: msg.DZ, Yaw: msg.Yaw},
			})
		case "interact":
			hub.Enqueue(sim.Command{
				Peer: peerID,
				Type: sim.CommandInteract,
				Interact: &sim.InteractCommand{
					TargetID: registry.EntityID(msg.TargetID),
					Action:   msg.Action,
					Payload:  msg.Payload,
					Seq:      msg.Seq,
				},
			})
		case "place_nail":
			hub.Enqueue(sim.Command{
				Peer: peerID,
				Type: sim.CommandPlaceNail,
				PlaceNail: &sim.PlaceNailCommand{
					PropID:    registry.EntityID(msg.PropID),
					SurfaceID: registry.EntityID(msg.SurfaceID),
					Point:     msg.Point,
					Normal:    msg.Normal,
				},
			})
		case "sync_complete":
			hub.MarkSynced(peerID)
		case "heartbeat":
			// Acked synchronously so RTT measures the network, not the
			// command queue.
			now := time.Now()
			rtt, ok := hub.UpdateHeartbeat(peerID, now, msg.SentAt)
			if !ok {
				continue
			}
			ack := HeartbeatMessage{
				Ver:        ProtocolVersion,
				Type:       "heartbeat",
				ServerTime: now.UnixMilli(),
				ClientTime: msg.SentAt,
				RTTMillis:  rtt.Milliseconds(),
			}
			data, err := json.Marshal(ack)
			if err != nil {
				log.Printf("failed to marshal heartbeat ack for peer %d: %v", peerID, err)
				continue
			}
			hub.sendHeartbeatAck(peerID, data)
		default:
			log.Printf("unknown message type %q from peer %d", msg.Type, peerID)
		}
	}
}
