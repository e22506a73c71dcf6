package hub

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDirected_RoundTrip(t *testing.T) {
	docID := uuid.New()
	payload := []byte("full-state-blob")

	frame := encodeDirected(docID, payload)

	kind, gotDocID, gotPayload, err := decodeInbound(frame)
	require.NoError(t, err)
	assert.Equal(t, frameSync, kind)
	assert.Equal(t, docID, gotDocID)
	assert.Equal(t, payload, gotPayload)
}

func TestEncodeAttributed_CarriesUserID(t *testing.T) {
	docID := uuid.New()
	userID := uuid.New()
	payload := []byte("update-bytes")

	frame := encodeAttributed(frameUpdate, docID, userID, payload)

	kind, gotDocID, rest, err := decodeInbound(frame)
	require.NoError(t, err)
	assert.Equal(t, frameUpdate, kind)
	assert.Equal(t, docID, gotDocID)
	require.Len(t, rest, 16+len(payload))

	var gotUserID uuid.UUID
	copy(gotUserID[:], rest[:16])
	assert.Equal(t, userID, gotUserID)
	assert.Equal(t, payload, rest[16:])
}

func TestDecodeInbound_ShortFrameErrors(t *testing.T) {
	_, _, _, err := decodeInbound([]byte{frameUpdate, 1, 2, 3})
	assert.ErrorIs(t, err, errShortFrame)
}

func TestDecodeInbound_EmptyPayload(t *testing.T) {
	docID := uuid.New()
	frame := encodeDirected(docID, nil)

	kind, gotDocID, payload, err := decodeInbound(frame)
	require.NoError(t, err)
	assert.Equal(t, frameSync, kind)
	assert.Equal(t, docID, gotDocID)
	assert.Empty(t, payload)
}
