package hub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/collabdocs/hub/internal/access"
	"github.com/collabdocs/hub/internal/broker"
	"github.com/collabdocs/hub/internal/logger"
	"github.com/collabdocs/hub/internal/models"
	"github.com/google/uuid"
)

// controlEnvelope is the JSON text-frame shape for every client<->server
// message except the binary update/awareness/sync path (spec §4.6, §9
// "treat the message envelope as a tagged variant with explicit binary
// payload type").
type controlEnvelope struct {
	Type        string `json:"type"`
	DocumentID  string `json:"documentId,omitempty"`
	StateVector uint64 `json:"stateVector,omitempty"`

	Success bool               `json:"success,omitempty"`
	Error   string             `json:"error,omitempty"`
	Message string             `json:"message,omitempty"`
	Users   []models.Subscriber `json:"users,omitempty"`

	UserID      string `json:"userId,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`

	Protocol string `json:"protocol,omitempty"`
}

// Dispatcher is the Hub Dispatcher (C6): the per-session message loop.
// It routes join/rejoin/leave/update/awareness messages, authorizes
// mutations against Document Access Control, and fans updates out to
// room peers and, via the broker, to sibling hub instances.
type Dispatcher struct {
	registry   *Registry
	rooms      *RoomRegistry
	access     *access.Control
	relay      *broker.Broker
	instanceID string

	mu       sync.RWMutex
	sessions map[string]*Session

	relayedMu sync.Mutex
	relayed   map[uuid.UUID]bool
}

// NewDispatcher wires the Hub Dispatcher to its collaborators. relay may be
// nil (single-instance deployment); the dispatcher then skips cross-instance
// fan-out entirely.
func NewDispatcher(registry *Registry, rooms *RoomRegistry, ctrl *access.Control, relay *broker.Broker) *Dispatcher {
	d := &Dispatcher{
		registry:   registry,
		rooms:      rooms,
		access:     ctrl,
		relay:      relay,
		instanceID: uuid.New().String(),
		sessions:   make(map[string]*Session),
		relayed:    make(map[uuid.UUID]bool),
	}
	return d
}

// RegisterSession makes session a valid broadcast target.
func (d *Dispatcher) RegisterSession(session *Session) {
	d.mu.Lock()
	d.sessions[session.ID] = session
	d.mu.Unlock()
}

// UnregisterSession removes session from the broadcast target set.
func (d *Dispatcher) UnregisterSession(session *Session) {
	d.mu.Lock()
	delete(d.sessions, session.ID)
	d.mu.Unlock()
}

// subscribeRelay opens this instance's inbound relay subscription for
// docID exactly once, regardless of how many local sessions join it.
func (d *Dispatcher) subscribeRelay(docID uuid.UUID) {
	if d.relay == nil {
		return
	}
	d.relayedMu.Lock()
	defer d.relayedMu.Unlock()
	if d.relayed[docID] {
		return
	}
	d.relayed[docID] = true

	channel := broker.DocumentChannel(docID.String())
	d.relay.Subscribe(channel, func(_ string, env *broker.Envelope) {
		if env.Origin == d.instanceID {
			return
		}
		d.handleRelayed(docID, env)
	})
}

// handleRelayed applies an update relayed from a sibling instance to this
// instance's own replica (if one is live for docID) and forwards the frame
// to every locally-connected peer. The source process already applied the
// update to its own replica and fanned it out to its own peers; this
// instance's replica is a second, independent authority over the same
// document id and must absorb the same update to stay convergent, per
// CRDT commutativity (spec §5).
func (d *Dispatcher) handleRelayed(docID uuid.UUID, env *broker.Envelope) {
	if env.Type == models.MsgYjsUpdate {
		kind, _, rest, err := decodeInbound(env.Payload)
		if err == nil && kind == frameUpdate && len(rest) >= 16 {
			d.registry.ApplyRelayedUpdate(docID, rest[16:])
		}
	}
	d.broadcastTo(d.rooms.Peers(docID, ""), true, env.Payload)
}

// HandleText processes one JSON control message arriving on session.
func (d *Dispatcher) HandleText(ctx context.Context, session *Session, raw []byte) {
	var env controlEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logger.Session(session.ID).Warn("dropping malformed control message: %v", err)
		return
	}

	switch env.Type {
	case models.MsgJoinDocument:
		d.handleJoin(ctx, session, env, false)
	case models.MsgRejoinDocument:
		d.handleJoin(ctx, session, env, true)
	case models.MsgLeaveDocument:
		d.handleLeave(session, env)
	default:
		logger.Session(session.ID).Warn("dropping unknown control message type %q", env.Type)
	}
}

// HandleBinary processes one binary frame — a yjs-update or yjs-awareness
// submission, document id and all (spec §4.6's `yjs-update{documentId,
// update}` carried in the binary envelope per spec §9's binary-frame
// reimplementation choice).
func (d *Dispatcher) HandleBinary(ctx context.Context, session *Session, raw []byte) {
	kind, documentID, payload, err := decodeInbound(raw)
	if err != nil {
		logger.Session(session.ID).Warn("dropping short binary frame: %v", err)
		return
	}

	switch kind {
	case frameUpdate:
		d.handleUpdate(ctx, session, documentID, payload)
	case frameAwareness:
		d.handleAwareness(ctx, session, documentID, payload)
	default:
		logger.Session(session.ID).Warn("dropping binary frame with unknown kind %d", kind)
	}
}

func (d *Dispatcher) handleJoin(ctx context.Context, session *Session, env controlEnvelope, rejoin bool) {
	docID, err := uuid.Parse(env.DocumentID)
	if err != nil {
		d.sendAck(session, env.Type, false, "invalid document id")
		return
	}

	role, err := d.access.ResolveRole(ctx, session.User.ID, docID)
	if err != nil {
		d.sendAck(session, env.Type, false, "access denied")
		return
	}

	replica, err := d.registry.Acquire(ctx, docID)
	if err != nil {
		logger.Room(docID.String()).Error("failed to acquire replica: %v", err)
		d.sendAck(session, env.Type, false, "internal error")
		return
	}
	d.subscribeRelay(docID)

	if rejoin {
		missing := replica.encodeDiff(env.StateVector)
		for _, update := range missing {
			session.enqueueBinary(encodeDirected(docID, update))
		}
	} else {
		for _, update := range replica.stateAsUpdate() {
			session.enqueueBinary(encodeDirected(docID, update))
		}
	}

	sub := models.Subscriber{
		SessionID:   session.ID,
		UserID:      session.User.ID.String(),
		DisplayName: session.User.Name,
		Email:       session.User.Email,
		Role:        role,
	}
	peersBefore := d.rooms.Peers(docID, session.ID)
	d.rooms.Join(docID, session.ID, sub)
	session.markJoined(docID, role)

	ack := controlEnvelope{
		Type:    env.Type,
		Success: true,
		Users:   d.rooms.UsersIn(docID),
	}
	if data, err := json.Marshal(ack); err == nil {
		session.enqueueText(data)
	}

	d.broadcastJoined(docID, peersBefore, sub)
}

func (d *Dispatcher) handleLeave(session *Session, env controlEnvelope) {
	docID, err := uuid.Parse(env.DocumentID)
	if err != nil {
		return
	}
	d.leaveDocument(session, docID)
}

func (d *Dispatcher) leaveDocument(session *Session, docID uuid.UUID) {
	if !d.rooms.Leave(docID, session.ID) {
		return
	}
	session.markLeft(docID)

	left := controlEnvelope{
		Type:   models.MsgUserLeft,
		UserID: session.User.ID.String(),
	}
	data, _ := json.Marshal(left)
	d.broadcastTo(d.rooms.Peers(docID, session.ID), false, data)

	if d.rooms.IsEmpty(docID) {
		d.registry.Retire(docID)
	}
}

// HandleDisconnect removes session from every room it was in, mirroring
// explicit leave-document for each (spec §5 cancellation: "a socket close
// ... triggers presence leave for every room it was in").
func (d *Dispatcher) HandleDisconnect(session *Session) {
	for _, docID := range session.joinedDocuments() {
		d.leaveDocument(session, docID)
	}
}

func (d *Dispatcher) handleUpdate(ctx context.Context, session *Session, docID uuid.UUID, update []byte) {
	role, err := d.access.ResolveRole(ctx, session.User.ID, docID)
	if err != nil || !access.CanEdit(role) {
		d.sendPermissionDenied(session, docID, "cannot edit: insufficient role")
		return
	}

	replica, err := d.registry.Acquire(ctx, docID)
	if err != nil {
		return
	}
	replica.applyUpdate(update)
	d.registry.Touch(docID)
	d.registry.MaybeSave(ctx, docID)

	frame := encodeAttributed(frameUpdate, docID, session.User.ID, update)
	d.broadcastTo(d.rooms.Peers(docID, session.ID), true, frame)

	if d.relay != nil {
		d.relay.Publish(broker.DocumentChannel(docID.String()), &broker.Envelope{
			Type: models.MsgYjsUpdate, Origin: d.instanceID, Payload: frame,
		})
	}
}

func (d *Dispatcher) handleAwareness(ctx context.Context, session *Session, docID uuid.UUID, update []byte) {
	role, err := d.access.ResolveRole(ctx, session.User.ID, docID)
	if err != nil || !access.CanAwareness(role) {
		return
	}

	frame := encodeAttributed(frameAwareness, docID, session.User.ID, update)
	d.broadcastTo(d.rooms.Peers(docID, session.ID), true, frame)

	if d.relay != nil {
		d.relay.Publish(broker.DocumentChannel(docID.String()), &broker.Envelope{
			Type: models.MsgYjsAwareness, Origin: d.instanceID, Payload: frame,
		})
	}
}

func (d *Dispatcher) sendPermissionDenied(session *Session, docID uuid.UUID, message string) {
	env := controlEnvelope{
		Type:       models.MsgPermissionError,
		DocumentID: docID.String(),
		Message:    message,
	}
	data, _ := json.Marshal(env)
	session.enqueueText(data)
}

func (d *Dispatcher) sendAck(session *Session, msgType string, success bool, errMsg string) {
	env := controlEnvelope{Type: msgType, Success: success, Error: errMsg}
	data, _ := json.Marshal(env)
	session.enqueueText(data)
}

func (d *Dispatcher) broadcastJoined(docID uuid.UUID, peers []string, sub models.Subscriber) {
	env := controlEnvelope{
		Type:        models.MsgUserJoined,
		UserID:      sub.UserID,
		DisplayName: sub.DisplayName,
		Email:       sub.Email,
	}
	data, _ := json.Marshal(env)
	d.broadcastTo(peers, false, data)
}

// broadcastTo delivers data to each named session id currently in rooms.
// It never blocks: when a session's outbound buffer is saturated the frame
// is dropped and that session's socket is closed (spec §5 backpressure),
// so its read pump tears the session down.
func (d *Dispatcher) broadcastTo(sessionIDs []string, binary bool, data []byte) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, sid := range sessionIDs {
		if s, ok := d.sessions[sid]; ok {
			var queued bool
			if binary {
				queued = s.enqueueBinary(data)
			} else {
				queued = s.enqueueText(data)
			}
			if !queued {
				s.Conn.Close()
			}
		}
	}
}
