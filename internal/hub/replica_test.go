package hub

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplica_ApplyUpdateAccumulates(t *testing.T) {
	r := newReplica(uuid.New())

	r.applyUpdate([]byte("a"))
	r.applyUpdate([]byte("b"))

	assert.Equal(t, uint64(2), r.getVersion())
	assert.Equal(t, 2, r.getUpdateCount())
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, r.stateAsUpdate())
}

func TestReplica_EncodeDiffReturnsOnlyMissingUpdates(t *testing.T) {
	r := newReplica(uuid.New())
	r.applyUpdate([]byte("a"))
	r.applyUpdate([]byte("b"))
	r.applyUpdate([]byte("c"))

	missing := r.encodeDiff(1)
	assert.Equal(t, [][]byte{[]byte("b"), []byte("c")}, missing)
}

func TestReplica_EncodeDiffFallsBackToFullStateWhenVectorAheadOfReplica(t *testing.T) {
	r := newReplica(uuid.New())
	r.applyUpdate([]byte("a"))

	assert.Equal(t, [][]byte{[]byte("a")}, r.encodeDiff(5))
	assert.Empty(t, r.encodeDiff(1)) // vector equal to length: nothing missing
}

func TestReplica_SnapshotRoundTrip(t *testing.T) {
	r := newReplica(uuid.New())
	r.applyUpdate([]byte("a"))
	r.applyUpdate([]byte("b"))

	blob := r.snapshot()
	require.NotEmpty(t, blob)

	restored := newReplica(r.ID)
	restored.loadFromSnapshot(blob)

	assert.Equal(t, r.getVersion(), restored.getVersion())
	assert.Equal(t, r.stateAsUpdate(), restored.stateAsUpdate())
}

func TestReplica_ResetUpdateCount(t *testing.T) {
	r := newReplica(uuid.New())
	r.applyUpdate([]byte("a"))
	require.Equal(t, 1, r.getUpdateCount())

	r.resetUpdateCount()
	assert.Equal(t, 0, r.getUpdateCount())
	// version and updates are untouched by a count reset
	assert.Equal(t, uint64(1), r.getVersion())
}

func TestRegistry_ApplyRelayedUpdateRequiresLiveReplica(t *testing.T) {
	reg := &Registry{slots: make(map[uuid.UUID]*slot)}
	docID := uuid.New()

	assert.False(t, reg.ApplyRelayedUpdate(docID, []byte("x")))

	reg.slots[docID] = &slot{replica: newReplica(docID), stopSave: make(chan struct{})}
	assert.True(t, reg.ApplyRelayedUpdate(docID, []byte("x")))
	assert.Equal(t, uint64(1), reg.slots[docID].replica.getVersion())
}
