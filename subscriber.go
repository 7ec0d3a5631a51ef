package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"holdfast/server/internal/registry"
)

// subscriber owns one peer's socket. Reliable traffic goes through the
// events outbox and is never dropped; a peer that cannot drain it in time is
// disconnected instead. Snapshots go through a tiny droppable outbox, so a
// slow link sheds per-tick state rather than falling behind.
type subscriber struct {
	peer      registry.PeerID
	conn      *websocket.Conn
	events    chan []byte
	snapshots chan []byte
	done      chan struct{}
	closeOnce sync.Once
	counters  *telemetryCounters
	onFail    func(registry.PeerID)
}

func newSubscriber(peer registry.PeerID, conn *websocket.Conn, counters *telemetryCounters, onFail func(registry.PeerID)) *subscriber {
	return &subscriber{
		peer:      peer,
		conn:      conn,
		events:    make(chan []byte, eventOutboxSize),
		snapshots: make(chan []byte, snapshotOutboxSize),
		done:      make(chan struct{}),
		counters:  counters,
		onFail:    onFail,
	}
}

// run is the only goroutine that writes to the socket. Events win every
// race against snapshots, which keeps the reliable channel ordered ahead of
// droppable state.
func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.events:
			if !s.write(data) {
				return
			}
		default:
		}

		select {
		case <-s.done:
			return
		case data := <-s.events:
			if !s.write(data) {
				return
			}
		case data := <-s.snapshots:
			if !s.write(data) {
				return
			}
		}
	}
}

func (s *subscriber) write(data []byte) bool {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.fail()
		return false
	}
	return true
}

// sendEvent queues reliable data. A full outbox means the peer is hopelessly
// behind; it gets disconnected rather than silently losing an event.
func (s *subscriber) sendEvent(data []byte) bool {
	select {
	case s.events <- data:
		if s.counters != nil {
			s.counters.RecordEvent(len(data))
		}
		return true
	case <-s.done:
		return false
	default:
		s.fail()
		return false
	}
}

// sendSnapshot queues droppable data, discarding the oldest entry when the
// outbox is full. The next tick overwrites whatever was lost.
func (s *subscriber) sendSnapshot(data []byte) {
	for {
		select {
		case s.snapshots <- data:
			return
		case <-s.done:
			return
		default:
		}
		select {
		case <-s.snapshots:
			if s.counters != nil {
				s.counters.RecordSnapshotDrop()
			}
		default:
		}
	}
}

func (s *subscriber) fail() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
		if s.onFail != nil {
			s.onFail(s.peer)
		}
	})
}

// close tears the socket down without invoking the failure callback.
func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}
