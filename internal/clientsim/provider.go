// Package clientsim is a headless reference implementation of the Client
// Provider (C7) and its Reconnect Sync counterpart (C8): a local CRDT
// replica kept in sync with the hub over the binary-frame/JSON-control
// protocol of internal/hub. It exists so the hub's wire behavior can be
// exercised end-to-end from outside the server package, the way a real
// browser-side provider would drive it.
package clientsim

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Tunables of spec §4.7's flush policy.
const (
	MaxQueueSize = 10
	DebounceWait = 50 * time.Millisecond
)

const (
	frameSync      byte = 0
	frameUpdate    byte = 1
	frameAwareness byte = 2
)

// Frame kinds the hub's wire format defines: [kind][documentID 16
// bytes][...]. Server-originated update/awareness frames additionally
// carry a 16-byte origin user id before the payload; sync frames carry
// only the payload.
func encodeFrame(kind byte, documentID [16]byte, payload []byte) []byte {
	out := make([]byte, 1+16+len(payload))
	out[0] = kind
	copy(out[1:17], documentID[:])
	copy(out[17:], payload)
	return out
}

func decodeFrame(frame []byte) (kind byte, documentID [16]byte, rest []byte, err error) {
	if len(frame) < 17 {
		return 0, documentID, nil, fmt.Errorf("clientsim: short frame (%d bytes)", len(frame))
	}
	kind = frame[0]
	copy(documentID[:], frame[1:17])
	rest = frame[17:]
	return kind, documentID, rest, nil
}

type controlEnvelope struct {
	Type        string `json:"type"`
	DocumentID  string `json:"documentId,omitempty"`
	StateVector uint64 `json:"stateVector,omitempty"`
	Success     bool   `json:"success,omitempty"`
	Error       string `json:"error,omitempty"`
	UserID      string `json:"userId,omitempty"`
}

// localReplica is the client-side stand-in for the CRDT document the real
// provider wraps: an ordered log of applied updates, mirroring the hub's
// own simplified replica encoding so the two sides can be compared in
// tests.
type localReplica struct {
	mu      sync.Mutex
	updates [][]byte
}

func (r *localReplica) apply(update []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
}

func (r *localReplica) stateVector() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint64(len(r.updates))
}

func (r *localReplica) snapshot() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.updates))
	copy(out, r.updates)
	return out
}

// Provider is the reference Client Provider (C7): one socket, one local
// replica, one pending-update buffer with debounce/coalesce flushing.
type Provider struct {
	conn       *websocket.Conn
	documentID [16]byte

	replica *localReplica

	mu      sync.Mutex
	pending [][]byte
	timer   *time.Timer

	synced bool

	Updates    chan []byte // remote yjs-update payloads applied locally
	Awareness  chan []byte
	UserJoined chan string
	UserLeft   chan string
	acks       chan controlEnvelope

	closeOnce sync.Once
	done      chan struct{}
}

// Dial opens a provider's socket against a hub server and authenticates
// with bearer. It does not join any document yet.
func Dial(ctx context.Context, rawURL, bearer string) (*Provider, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", bearer)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		conn:       conn,
		replica:    &localReplica{},
		Updates:    make(chan []byte, 64),
		Awareness:  make(chan []byte, 64),
		UserJoined: make(chan string, 64),
		UserLeft:   make(chan string, 64),
		acks:       make(chan controlEnvelope, 8),
		done:       make(chan struct{}),
	}
	go p.readLoop()
	return p, nil
}

// readLoop demultiplexes text control frames from binary CRDT/awareness
// frames, mirroring the remote-update path of spec §4.7: applied payloads
// use origin self, so nothing here re-emits them onto the local-update
// path.
func (p *Provider) readLoop() {
	defer close(p.done)
	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.TextMessage:
			var env controlEnvelope
			if json.Unmarshal(data, &env) != nil {
				continue
			}
			switch env.Type {
			case "user-joined":
				select {
				case p.UserJoined <- env.UserID:
				default:
				}
			case "user-left":
				select {
				case p.UserLeft <- env.UserID:
				default:
				}
			case "connected":
				// the handshake envelope the hub sends right after upgrade
				// (server.go); it isn't a reply to any sendControlAndWait
				// call and must never be mistaken for one.
			default:
				select {
				case p.acks <- env:
				default:
				}
			}
		case websocket.BinaryMessage:
			kind, _, rest, err := decodeFrame(data)
			if err != nil {
				continue
			}
			switch kind {
			case frameSync:
				p.replica.apply(rest)
				p.mu.Lock()
				p.synced = true
				p.mu.Unlock()
				select {
				case p.Updates <- rest:
				default:
				}
			case frameUpdate:
				if len(rest) < 16 {
					continue
				}
				payload := rest[16:]
				p.replica.apply(payload)
				select {
				case p.Updates <- payload:
				default:
				}
			case frameAwareness:
				if len(rest) < 16 {
					continue
				}
				select {
				case p.Awareness <- rest[16:]:
				default:
				}
			}
		}
	}
}

// JoinDocument sends join-document and waits for the ack, mirroring the
// fresh-join path of spec §4.6/§4.7.
func (p *Provider) JoinDocument(documentID [16]byte, documentIDStr string) error {
	p.documentID = documentID
	return p.sendControlAndWait(controlEnvelope{Type: "join-document", DocumentID: documentIDStr})
}

// RejoinDocument sends rejoin-document carrying the local state vector
// (spec §4.7/§4.8's reconnect path). On ack error the caller should fall
// back to JoinDocument.
func (p *Provider) RejoinDocument(documentID [16]byte, documentIDStr string) error {
	p.documentID = documentID
	return p.sendControlAndWait(controlEnvelope{
		Type:        "rejoin-document",
		DocumentID:  documentIDStr,
		StateVector: p.replica.stateVector(),
	})
}

func (p *Provider) sendControlAndWait(env controlEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ack := <-p.acks:
			if ack.Type != env.Type {
				// a stray envelope for a different control message
				// (e.g. a permission-denied reply to some other request
				// racing this one); not our ack, keep waiting.
				continue
			}
			if !ack.Success {
				return fmt.Errorf("clientsim: %s rejected: %s", env.Type, ack.Error)
			}
			return nil
		case <-deadline:
			return fmt.Errorf("clientsim: timed out waiting for %s ack", env.Type)
		}
	}
}

// EnqueueLocalUpdate implements the local-update path of spec §4.7: the
// update is buffered and a flush is scheduled, never sent synchronously.
func (p *Provider) EnqueueLocalUpdate(update []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending = append(p.pending, update)
	if len(p.pending) >= MaxQueueSize {
		p.flushLocked()
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(DebounceWait, p.flush)
}

func (p *Provider) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushLocked()
}

// flushLocked merges every buffered update into one payload and emits a
// single yjs-update binary frame, per spec §4.7's coalescing flush policy.
// The reference merge primitive is concatenation, matching the hub
// replica's own simplified update log.
func (p *Provider) flushLocked() {
	if len(p.pending) == 0 {
		return
	}
	merged := mergeUpdates(p.pending)
	p.pending = nil
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}

	p.replica.apply(merged)
	frame := encodeFrame(frameUpdate, p.documentID, merged)
	p.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func mergeUpdates(updates [][]byte) []byte {
	total := 0
	for _, u := range updates {
		total += len(u)
	}
	out := make([]byte, 0, total)
	for _, u := range updates {
		out = append(out, u...)
	}
	return out
}

// SendAwareness emits an awareness update directly — awareness never goes
// through the coalescing buffer (spec §4.7).
func (p *Provider) SendAwareness(update []byte) error {
	frame := encodeFrame(frameAwareness, p.documentID, update)
	return p.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// StateVector returns the local replica's current update count, the
// client-reported vector carried on rejoin-document.
func (p *Provider) StateVector() uint64 {
	return p.replica.stateVector()
}

// ReplicaState returns every update the local replica has applied, in
// application order — for convergence assertions against the server.
func (p *Provider) ReplicaState() [][]byte {
	return p.replica.snapshot()
}

// Disconnect implements spec §4.7's teardown: best-effort flush of
// pending local updates, then close the socket. The caller is expected to
// stop using the Updates/Awareness channels afterward.
func (p *Provider) Disconnect() {
	p.mu.Lock()
	p.flushLocked()
	p.mu.Unlock()

	p.closeOnce.Do(func() {
		p.conn.Close()
	})
	<-p.done
}
