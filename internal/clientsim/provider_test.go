package clientsim

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{}

// newBareServer upgrades every connection and hands received binary
// frames to onFrame, acking every control message unconditionally — just
// enough wire behavior to exercise the Provider without internal/hub or a
// database.
func newBareServer(t *testing.T, onFrame func(frame []byte)) (*httptest.Server, chan struct{}) {
	t.Helper()
	closed := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		defer close(closed)

		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch msgType {
			case websocket.TextMessage:
				conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"join-document","success":true}`))
			case websocket.BinaryMessage:
				if onFrame != nil {
					onFrame(data)
				}
			}
		}
	}))
	return srv, closed
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestProvider_FlushesImmediatelyAtMaxQueueSize(t *testing.T) {
	var received [][]byte
	done := make(chan struct{}, 1)
	srv, _ := newBareServer(t, func(frame []byte) {
		received = append(received, frame)
		select {
		case done <- struct{}{}:
		default:
		}
	})
	defer srv.Close()

	p, err := Dial(context.Background(), wsURL(srv.URL), "test-token")
	require.NoError(t, err)
	defer p.Disconnect()

	for i := 0; i < MaxQueueSize; i++ {
		p.EnqueueLocalUpdate([]byte{byte(i)})
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected an immediate flush at MaxQueueSize without waiting for the debounce timer")
	}

	require.Len(t, received, 1)
	kind, _, payload, err := decodeFrame(received[0])
	require.NoError(t, err)
	assert.Equal(t, frameUpdate, kind)
	assert.Len(t, payload, MaxQueueSize)
}

func TestProvider_DebouncesBelowMaxQueueSize(t *testing.T) {
	flushes := 0
	done := make(chan struct{}, 1)
	srv, _ := newBareServer(t, func(frame []byte) {
		flushes++
		select {
		case done <- struct{}{}:
		default:
		}
	})
	defer srv.Close()

	p, err := Dial(context.Background(), wsURL(srv.URL), "test-token")
	require.NoError(t, err)
	defer p.Disconnect()

	for i := 0; i < 3; i++ {
		p.EnqueueLocalUpdate([]byte{byte(i)})
	}

	select {
	case <-done:
	case <-time.After(2 * DebounceWait):
		t.Fatal("expected the debounce timer to flush the buffered updates")
	}

	assert.Equal(t, 1, flushes)
}

func TestProvider_RemoteUpdateFrameDecodesToPayload(t *testing.T) {
	var docID [16]byte
	var userID [16]byte
	frame := encodeFrame(frameUpdate, docID, append(userID[:], []byte("remote-change")...))

	kind, gotDocID, rest, err := decodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, frameUpdate, kind)
	assert.Equal(t, docID, gotDocID)
	assert.Equal(t, []byte("remote-change"), rest[16:])
}

func TestProvider_ReadLoopAppliesRemoteUpdateToLocalReplica(t *testing.T) {
	var frame []byte
	ready := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var docID [16]byte
		var userID [16]byte
		frame = encodeFrame(frameUpdate, docID, append(userID[:], []byte("remote-change")...))
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame))
		close(ready)

		// keep the connection open long enough for the client to read
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	p, err := Dial(context.Background(), wsURL(srv.URL), "test-token")
	require.NoError(t, err)
	defer p.Disconnect()

	select {
	case payload := <-p.Updates:
		assert.Equal(t, []byte("remote-change"), payload)
	case <-time.After(time.Second):
		t.Fatal("expected a remote update to arrive on Provider.Updates")
	}

	assert.Equal(t, uint64(1), p.StateVector())
	assert.Equal(t, [][]byte{[]byte("remote-change")}, p.ReplicaState())
	<-ready
}

func TestMergeUpdates_Concatenates(t *testing.T) {
	merged := mergeUpdates([][]byte{[]byte("a"), []byte("b"), []byte("c")})
	assert.Equal(t, []byte("abc"), merged)
}
