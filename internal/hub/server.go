package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/collabdocs/hub/internal/auth"
	"github.com/collabdocs/hub/internal/logger"
	"github.com/collabdocs/hub/internal/models"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The upgrade accepts a request from any Origin. The hub's
		// CORS_ORIGIN setting (config.HubConfig.CORSOrigin) is only sent
		// by cmd/hub as an Access-Control-Allow-Origin response header;
		// it is not checked here.
		return true
	},
}

// Server is the WebSocket transport that carries the Hub Dispatcher (C6).
// It authenticates the handshake (C1), upgrades the connection, and runs
// the read/write pumps that feed the dispatcher.
type Server struct {
	dispatcher *Dispatcher
	gate       *auth.Gate
}

// NewServer wires a transport Server to its Auth Gate and Hub Dispatcher.
func NewServer(dispatcher *Dispatcher, gate *auth.Gate) *Server {
	return &Server{dispatcher: dispatcher, gate: gate}
}

// CreateHandler returns an http.HandlerFunc suitable for mounting the
// collaboration endpoint.
func (s *Server) CreateHandler() http.HandlerFunc {
	return s.HandleWebSocket
}

// HandleWebSocket implements spec §4.1's handshake: a bearer credential is
// validated before any dispatcher state is allocated. Browsers cannot set
// arbitrary headers on a WebSocket upgrade, so the token travels as a
// query parameter.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	user, err := s.gate.Authenticate(r.Context(), token)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed: %v", err)
		return
	}

	session := NewSession(conn, user)
	s.dispatcher.RegisterSession(session)

	connected := struct {
		Type     string `json:"type"`
		UserID   string `json:"userId"`
		Protocol string `json:"protocol"`
	}{
		Type:     models.MsgConnected,
		UserID:   user.ID.String(),
		Protocol: "binary-frames",
	}
	if data, err := json.Marshal(connected); err == nil {
		session.enqueueText(data)
	}

	go s.writePump(session)
	s.readPump(session)
}

func (s *Server) readPump(session *Session) {
	defer func() {
		s.dispatcher.HandleDisconnect(session)
		s.dispatcher.UnregisterSession(session)
		session.Close()
		session.Conn.Close()
	}()

	session.Conn.SetReadLimit(maxMessageSize)
	session.Conn.SetReadDeadline(time.Now().Add(pongWait))
	session.Conn.SetPongHandler(func(string) error {
		session.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := session.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Session(session.ID).Warn("websocket error: %v", err)
			}
			return
		}

		ctx := context.Background()
		switch messageType {
		case websocket.TextMessage:
			s.dispatcher.HandleText(ctx, session, message)
		case websocket.BinaryMessage:
			s.dispatcher.HandleBinary(ctx, session, message)
		}
	}
}

func (s *Server) writePump(session *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		session.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-session.Send:
			session.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				session.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			wsType := websocket.TextMessage
			if frame.binary {
				wsType = websocket.BinaryMessage
			}
			if err := session.Conn.WriteMessage(wsType, frame.data); err != nil {
				return
			}

		case <-ticker.C:
			session.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := session.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
