// Package hub implements the collaboration hub: the Replica Registry (C3),
// Snapshot Persistor (C4), Room Registry & Presence (C5), Hub Dispatcher
// (C6), and the WebSocket transport that carries it all.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/collabdocs/hub/internal/db"
	"github.com/collabdocs/hub/internal/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Replica is the authoritative in-memory CRDT document for one document id
// (spec §3 "Authoritative replica"). Its binary encoding is a simplified,
// non-cryptographic stand-in for a real CRDT library's update/state-vector
// primitives — the CRDT library itself is an external collaborator per
// spec §1.
type Replica struct {
	ID uuid.UUID

	mu          sync.RWMutex
	content     []byte
	updates     [][]byte
	version     uint64
	updateCount int
	lastAccess  time.Time
}

func newReplica(id uuid.UUID) *Replica {
	return &Replica{
		ID:         id,
		content:    []byte{},
		updates:    make([][]byte, 0),
		lastAccess: time.Now(),
	}
}

// snapshotEnvelope is the JSON-enveloped encoding persisted as a
// document's snapshot blob (spec §6's yjsSnapshot, concretized per
// SPEC_FULL.md §6: {content, updates, version}).
type snapshotEnvelope struct {
	Content []byte   `json:"content"`
	Updates [][]byte `json:"updates"`
	Version uint64   `json:"version"`
}

// loadFromSnapshot hydrates the replica from a persisted blob (C4 load).
func (r *Replica) loadFromSnapshot(blob []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var env snapshotEnvelope
	if err := json.Unmarshal(blob, &env); err == nil {
		r.content = env.Content
		r.updates = env.Updates
		r.version = env.Version
	} else {
		r.content = blob
	}
	r.lastAccess = time.Now()
}

// applyUpdate absorbs a binary CRDT update. Updates are commutative and
// associative (spec §5); arrival order need not be preserved for
// convergence, but the replica keeps it for its own bookkeeping.
func (r *Replica) applyUpdate(update []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.updates = append(r.updates, update)
	r.version++
	r.updateCount++
	r.lastAccess = time.Now()
}

// stateAsUpdate returns every update in the replica's log (the log is
// never compacted) — a full-state encoding a fresh joiner can
// apply in order to reach the current state (spec §4.6's yjs-sync on
// join-document).
func (r *Replica) stateAsUpdate() [][]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([][]byte, len(r.updates))
	copy(out, r.updates)
	return out
}

// encodeDiff implements Reconnect Sync (C8): given a client-reported state
// vector, return the updates the client is missing. The reference
// encoding uses the update count observed in the vector as the cut point;
// a vector beyond the replica's own length is malformed (a stale or
// corrupt client vector can never legitimately exceed what this replica
// has produced) and falls back to the full state (spec §4.8).
func (r *Replica) encodeDiff(stateVector uint64) [][]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if stateVector > uint64(len(r.updates)) {
		out := make([][]byte, len(r.updates))
		copy(out, r.updates)
		return out
	}
	out := make([][]byte, len(r.updates)-int(stateVector))
	copy(out, r.updates[stateVector:])
	return out
}

func (r *Replica) snapshot() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	env := snapshotEnvelope{Content: r.content, Updates: r.updates, Version: r.version}
	data, _ := json.Marshal(env)
	return data
}

func (r *Replica) touch() {
	r.mu.Lock()
	r.lastAccess = time.Now()
	r.mu.Unlock()
}

func (r *Replica) getUpdateCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updateCount
}

func (r *Replica) resetUpdateCount() {
	r.mu.Lock()
	r.updateCount = 0
	r.mu.Unlock()
}

func (r *Replica) getLastAccess() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastAccess
}

func (r *Replica) getVersion() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Persistor is the Snapshot Persistor (C4): it loads a replica's state on
// first activation and periodically encodes and writes it back.
type Persistor struct {
	store *db.DB
}

// NewPersistor constructs a Snapshot Persistor bound to the metadata store.
func NewPersistor(store *db.DB) *Persistor {
	return &Persistor{store: store}
}

// Load reads the latest snapshot for a document and applies it to replica
// (spec §4.4 load). A missing snapshot leaves the replica empty.
func (p *Persistor) Load(ctx context.Context, replica *Replica) error {
	snap, err := p.store.GetLatestSnapshot(ctx, replica.ID)
	if err != nil {
		return err
	}
	if snap != nil {
		replica.loadFromSnapshot(snap.Snapshot)
	}
	return nil
}

// Save encodes replica's full state and writes it to the document record
// (spec §4.4 save). Failures are logged and do not corrupt in-memory
// state; the next trigger retries.
func (p *Persistor) Save(ctx context.Context, replica *Replica) {
	blob := replica.snapshot()
	if len(blob) == 0 {
		return
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := p.store.PersistSnapshot(saveCtx, replica.ID, blob); err != nil {
		logger.Room(replica.ID.String()).Error("snapshot save failed: %v", err)
		return
	}
	replica.resetUpdateCount()
	logger.Room(replica.ID.String()).Info("snapshot saved (version %d)", replica.getVersion())
}

// slot is the Replica Registry's bookkeeping for one live replica: the
// replica itself, the periodic save timer bound to its lifetime, and the
// save-coalescing state that keeps at most one Save(D) in flight at a
// time (spec §4.3/§5).
type slot struct {
	replica  *Replica
	stopSave chan struct{}

	saveMu sync.Mutex
	saving bool
	resave bool
}

// Registry is the Replica Registry (C3): it owns every live authoritative
// replica, lazy-creates on first acquire, and retires idle ones via a
// background reaper.
type Registry struct {
	mu        sync.Mutex
	slots     map[uuid.UUID]*slot
	persistor *Persistor
	group     singleflight.Group

	saveInterval         time.Duration
	updateThreshold      int
	inactiveTimeout      time.Duration
	cleanupCheckInterval time.Duration

	// isEmpty reports whether a document's room currently has no
	// subscribers; the reaper and retire() consult it before freeing a
	// replica so a replica with active sessions is never retired.
	isEmpty func(documentID uuid.UUID) bool

	ctx    context.Context
	cancel context.CancelFunc
}

// RegistryConfig carries the tunables of spec §4.3.
type RegistryConfig struct {
	SaveInterval         time.Duration
	UpdateThreshold      int
	InactiveTimeout      time.Duration
	CleanupCheckInterval time.Duration
}

// NewRegistry constructs a Replica Registry. isEmpty is consulted by the
// reaper and by Retire to confirm a document's room has no subscribers —
// it is supplied by the Room Registry so C3 never needs to know C5's
// internals.
func NewRegistry(ctx context.Context, persistor *Persistor, cfg RegistryConfig, isEmpty func(uuid.UUID) bool) *Registry {
	regCtx, cancel := context.WithCancel(ctx)
	reg := &Registry{
		slots:                make(map[uuid.UUID]*slot),
		persistor:            persistor,
		saveInterval:         cfg.SaveInterval,
		updateThreshold:      cfg.UpdateThreshold,
		inactiveTimeout:      cfg.InactiveTimeout,
		cleanupCheckInterval: cfg.CleanupCheckInterval,
		isEmpty:              isEmpty,
		ctx:                  regCtx,
		cancel:               cancel,
	}
	go reg.reap()
	return reg
}

// Acquire returns the live replica for documentID, creating and hydrating
// it if absent. Concurrent acquires for the same id observe exactly one
// creation via singleflight (spec §4.3).
func (reg *Registry) Acquire(ctx context.Context, documentID uuid.UUID) (*Replica, error) {
	reg.mu.Lock()
	if s, exists := reg.slots[documentID]; exists {
		reg.mu.Unlock()
		s.replica.touch()
		return s.replica, nil
	}
	reg.mu.Unlock()

	v, err, _ := reg.group.Do(documentID.String(), func() (interface{}, error) {
		reg.mu.Lock()
		if s, exists := reg.slots[documentID]; exists {
			reg.mu.Unlock()
			return s.replica, nil
		}
		reg.mu.Unlock()

		replica := newReplica(documentID)
		if err := reg.persistor.Load(ctx, replica); err != nil {
			logger.Room(documentID.String()).Warn("snapshot load failed, starting empty: %v", err)
		}

		s := &slot{replica: replica, stopSave: make(chan struct{})}
		reg.mu.Lock()
		reg.slots[documentID] = s
		reg.mu.Unlock()

		go reg.runSaveTimer(s)
		return replica, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Replica), nil
}

// ApplyRelayedUpdate absorbs an update relayed from a sibling instance into
// documentID's replica, if one is currently live on this instance. It never
// creates a replica — a sibling's traffic for a document nobody has joined
// here yet is simply dropped, since no local peer would ever read it.
func (reg *Registry) ApplyRelayedUpdate(documentID uuid.UUID, update []byte) bool {
	reg.mu.Lock()
	s, exists := reg.slots[documentID]
	reg.mu.Unlock()
	if !exists {
		return false
	}
	s.replica.applyUpdate(update)
	return true
}

// Touch refreshes a replica's lastAccess, keeping it alive against the reaper.
func (reg *Registry) Touch(documentID uuid.UUID) {
	reg.mu.Lock()
	s, exists := reg.slots[documentID]
	reg.mu.Unlock()
	if exists {
		s.replica.touch()
	}
}

// save serializes Save calls for one replica: at most one Save(D) is ever
// in flight. A trigger arriving while a save is already running sets the
// slot's resave flag and returns immediately instead of starting a second,
// concurrent Save — the in-flight save observes the flag on completion and
// runs once more before going idle, so a coalesced trigger is never lost
// (spec §4.3/§5's "at most one save(D) in flight ... coalescing resave
// flag").
func (reg *Registry) save(ctx context.Context, s *slot) {
	s.saveMu.Lock()
	if s.saving {
		s.resave = true
		s.saveMu.Unlock()
		return
	}
	s.saving = true
	s.saveMu.Unlock()

	for {
		reg.persistor.Save(ctx, s.replica)

		s.saveMu.Lock()
		if s.resave {
			s.resave = false
			s.saveMu.Unlock()
			continue
		}
		s.saving = false
		s.saveMu.Unlock()
		return
	}
}

// MaybeSave triggers an out-of-band save if updateCount has crossed
// UpdateThreshold since the last save (spec §4.3/§4.4 threshold trigger).
func (reg *Registry) MaybeSave(ctx context.Context, documentID uuid.UUID) {
	reg.mu.Lock()
	s, exists := reg.slots[documentID]
	reg.mu.Unlock()
	if !exists {
		return
	}
	if s.replica.getUpdateCount() >= reg.updateThreshold {
		go reg.save(ctx, s)
	}
}

// Retire saves a final snapshot and frees the replica for documentID, if
// its room is empty. Safe to call even if the document has no live
// replica.
func (reg *Registry) Retire(documentID uuid.UUID) {
	reg.mu.Lock()
	s, exists := reg.slots[documentID]
	if !exists {
		reg.mu.Unlock()
		return
	}
	if !reg.isEmpty(documentID) {
		reg.mu.Unlock()
		return
	}
	delete(reg.slots, documentID)
	reg.mu.Unlock()

	close(s.stopSave)
	reg.save(context.Background(), s)
	logger.Room(documentID.String()).Info("replica retired")
}

// Shutdown stops the reaper and flushes every live replica's final
// snapshot (spec §9: "shut down on hub stop, final snapshots flushed").
func (reg *Registry) Shutdown() {
	reg.cancel()

	reg.mu.Lock()
	slots := make([]*slot, 0, len(reg.slots))
	for _, s := range reg.slots {
		slots = append(slots, s)
	}
	reg.mu.Unlock()

	for _, s := range slots {
		reg.save(context.Background(), s)
	}
}

func (reg *Registry) runSaveTimer(s *slot) {
	ticker := time.NewTicker(reg.saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-reg.ctx.Done():
			return
		case <-s.stopSave:
			return
		case <-ticker.C:
			if s.replica.getUpdateCount() > 0 {
				reg.save(context.Background(), s)
			}
		}
	}
}

// reap retires any replica idle past InactiveTimeout with an empty room
// (spec §4.3's background reaper).
func (reg *Registry) reap() {
	ticker := time.NewTicker(reg.cleanupCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-reg.ctx.Done():
			return
		case <-ticker.C:
			reg.mu.Lock()
			var stale []uuid.UUID
			for id, s := range reg.slots {
				if time.Since(s.replica.getLastAccess()) > reg.inactiveTimeout && reg.isEmpty(id) {
					stale = append(stale, id)
				}
			}
			reg.mu.Unlock()

			for _, id := range stale {
				reg.Retire(id)
			}
		}
	}
}
