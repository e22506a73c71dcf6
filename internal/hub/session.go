package hub

import (
	"sync"
	"time"

	"github.com/collabdocs/hub/internal/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024

	// outboundBufferSize bounds a session's outbound queue (spec §5
	// backpressure: a saturated buffer means the socket gets dropped, not
	// that the replica blocks on a slow peer).
	outboundBufferSize = 256
)

// outboundFrame pairs a payload with the WebSocket frame type it must be
// written as: JSON control messages go out as text frames, CRDT/awareness
// payloads as binary frames (spec §9's binary-frame reimplementation
// choice applies to the wire content, not the transport-level opcode).
type outboundFrame struct {
	binary bool
	data   []byte
}

// Session is one connected client (spec §3 "Session"). It owns the
// verified identity, the set of documents it has joined, and its
// outbound channel — the dispatcher is its only writer.
type Session struct {
	ID     string
	User   *models.User
	Conn   *websocket.Conn
	Send   chan outboundFrame
	closed chan struct{}

	mu     sync.Mutex
	joined map[uuid.UUID]string // documentID -> role resolved at join
}

// NewSession wraps an upgraded connection for a verified identity.
func NewSession(conn *websocket.Conn, user *models.User) *Session {
	return &Session{
		ID:     uuid.New().String(),
		User:   user,
		Conn:   conn,
		Send:   make(chan outboundFrame, outboundBufferSize),
		closed: make(chan struct{}),
		joined: make(map[uuid.UUID]string),
	}
}

// markJoined records the role a session was granted on a document when it
// joined. The recorded role is not consulted on update: handleUpdate asks
// Access Control for the role again on every update (spec §4.2).
func (s *Session) markJoined(documentID uuid.UUID, role string) {
	s.mu.Lock()
	s.joined[documentID] = role
	s.mu.Unlock()
}

func (s *Session) markLeft(documentID uuid.UUID) {
	s.mu.Lock()
	delete(s.joined, documentID)
	s.mu.Unlock()
}

func (s *Session) joinedDocuments() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.joined))
	for id := range s.joined {
		ids = append(ids, id)
	}
	return ids
}

// enqueueText writes a JSON control message to the session's outbound
// buffer without blocking, and reports whether it was queued. False means
// the buffer is saturated (a slow peer); broadcastTo then closes that
// peer's socket rather than letting a slow reader stall fan-out to
// everyone else.
func (s *Session) enqueueText(data []byte) bool {
	select {
	case s.Send <- outboundFrame{binary: false, data: data}:
		return true
	default:
		return false
	}
}

// enqueueBinary writes a CRDT/awareness wire frame to the session's
// outbound buffer without blocking.
func (s *Session) enqueueBinary(data []byte) bool {
	select {
	case s.Send <- outboundFrame{binary: true, data: data}:
		return true
	default:
		return false
	}
}

// Close tears down the session's outbound channel exactly once.
func (s *Session) Close() {
	select {
	case <-s.closed:
	default:
		close(s.closed)
		close(s.Send)
	}
}
