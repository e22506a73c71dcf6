package hub

import (
	"errors"

	"github.com/google/uuid"
)

// Binary frame kinds (spec §9 "Binary-as-JSON-array": this implementation
// picks native binary WebSocket frames over the reference's JSON-array
// encoding, and advertises the choice in the connected handshake ack via
// protocol: "binary-frames"). Every frame carries the document id it
// belongs to, exactly as the JSON envelope would (spec §4.6's
// `yjs-update{documentId, update}`); update and awareness frames broadcast
// to peers also carry the originating user id so peers can attribute the
// change without a second round-trip. Sync frames directed at one session
// carry no user id.
const (
	frameSync      byte = 0
	frameUpdate    byte = 1
	frameAwareness byte = 2
)

var errShortFrame = errors.New("hub: binary frame too short")

// encodeDirected builds a frameSync frame: a full or incremental state
// payload always addressed to exactly one session (spec §4.6).
func encodeDirected(documentID uuid.UUID, payload []byte) []byte {
	out := make([]byte, 1+16+len(payload))
	out[0] = frameSync
	copy(out[1:17], documentID[:])
	copy(out[17:], payload)
	return out
}

// encodeAttributed builds a frameUpdate or frameAwareness frame carrying
// the document id and originating user id ahead of the payload, for
// broadcast to peers.
func encodeAttributed(kind byte, documentID, userID uuid.UUID, payload []byte) []byte {
	out := make([]byte, 1+16+16+len(payload))
	out[0] = kind
	copy(out[1:17], documentID[:])
	copy(out[17:33], userID[:])
	copy(out[33:], payload)
	return out
}

// decodeInbound parses a frame received from a client: [kind][docID][payload].
// Clients never send frameSync or a user id; the sender is implicit in the session.
func decodeInbound(frame []byte) (kind byte, documentID uuid.UUID, payload []byte, err error) {
	if len(frame) < 17 {
		return 0, uuid.Nil, nil, errShortFrame
	}
	kind = frame[0]
	copy(documentID[:], frame[1:17])
	return kind, documentID, frame[17:], nil
}
