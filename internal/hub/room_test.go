package hub

import (
	"testing"

	"github.com/collabdocs/hub/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRoomRegistry_JoinReturnsInlinePeerList(t *testing.T) {
	rr := NewRoomRegistry()
	docID := uuid.New()

	list := rr.Join(docID, "alice", models.Subscriber{SessionID: "alice", UserID: "u1"})
	assert.Len(t, list, 1)

	list = rr.Join(docID, "bob", models.Subscriber{SessionID: "bob", UserID: "u2"})
	assert.Len(t, list, 2)
}

func TestRoomRegistry_PeersExcludesCaller(t *testing.T) {
	rr := NewRoomRegistry()
	docID := uuid.New()

	rr.Join(docID, "alice", models.Subscriber{SessionID: "alice"})
	rr.Join(docID, "bob", models.Subscriber{SessionID: "bob"})

	peers := rr.Peers(docID, "alice")
	assert.Equal(t, []string{"bob"}, peers)
}

func TestRoomRegistry_LeaveEmptiesRoom(t *testing.T) {
	rr := NewRoomRegistry()
	docID := uuid.New()

	rr.Join(docID, "alice", models.Subscriber{SessionID: "alice"})
	assert.False(t, rr.IsEmpty(docID))

	left := rr.Leave(docID, "alice")
	assert.True(t, left)
	assert.True(t, rr.IsEmpty(docID))
}

func TestRoomRegistry_LeaveUnknownSessionNoops(t *testing.T) {
	rr := NewRoomRegistry()
	docID := uuid.New()

	assert.False(t, rr.Leave(docID, "nobody"))
}

func TestRoomRegistry_LeaveAllAcrossDocuments(t *testing.T) {
	rr := NewRoomRegistry()
	docA, docB := uuid.New(), uuid.New()

	rr.Join(docA, "alice", models.Subscriber{SessionID: "alice"})
	rr.Join(docB, "alice", models.Subscriber{SessionID: "alice"})
	rr.Join(docB, "bob", models.Subscriber{SessionID: "bob"})

	left := rr.LeaveAll("alice")
	assert.ElementsMatch(t, []uuid.UUID{docA, docB}, left)
	assert.True(t, rr.IsEmpty(docA))
	assert.False(t, rr.IsEmpty(docB))
}

func TestRoomRegistry_UsersInReflectsCurrentMembership(t *testing.T) {
	rr := NewRoomRegistry()
	docID := uuid.New()

	rr.Join(docID, "alice", models.Subscriber{SessionID: "alice", DisplayName: "Alice"})
	rr.Join(docID, "bob", models.Subscriber{SessionID: "bob", DisplayName: "Bob"})

	users := rr.UsersIn(docID)
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.DisplayName)
	}
	assert.ElementsMatch(t, []string{"Alice", "Bob"}, names)
}

func TestRoomRegistry_IsEmptyForUnknownDocument(t *testing.T) {
	rr := NewRoomRegistry()
	assert.True(t, rr.IsEmpty(uuid.New()))
}
