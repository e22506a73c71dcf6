package hub

import (
	"context"
	"net/http"

	"github.com/collabdocs/hub/internal/access"
	"github.com/collabdocs/hub/internal/auth"
	"github.com/collabdocs/hub/internal/broker"
	"github.com/collabdocs/hub/internal/config"
	"github.com/collabdocs/hub/internal/db"
)

// Hub owns every live component of the collaboration subsystem (C3-C6) and
// the WebSocket transport in front of it. It is the single object a
// binary constructs to stand up the hub.
type Hub struct {
	Registry   *Registry
	Rooms      *RoomRegistry
	Dispatcher *Dispatcher
	Server     *Server
}

// New wires the Replica Registry, Room Registry, Hub Dispatcher, and
// transport Server from their collaborators. relay may be nil to run a
// single instance without cross-instance fan-out.
func New(ctx context.Context, cfg *config.HubConfig, store *db.DB, gate *auth.Gate, ctrl *access.Control, relay *broker.Broker) *Hub {
	rooms := NewRoomRegistry()
	persistor := NewPersistor(store)
	registry := NewRegistry(ctx, persistor, RegistryConfig{
		SaveInterval:         cfg.SaveInterval,
		UpdateThreshold:      cfg.UpdateThreshold,
		InactiveTimeout:      cfg.InactiveTimeout,
		CleanupCheckInterval: cfg.CleanupCheckInterval,
	}, rooms.IsEmpty)

	dispatcher := NewDispatcher(registry, rooms, ctrl, relay)
	server := NewServer(dispatcher, gate)

	return &Hub{
		Registry:   registry,
		Rooms:      rooms,
		Dispatcher: dispatcher,
		Server:     server,
	}
}

// Handler returns the http.HandlerFunc that upgrades and serves
// collaboration sockets.
func (h *Hub) Handler() http.HandlerFunc {
	return h.Server.CreateHandler()
}

// Shutdown stops the reaper and flushes every live replica's final
// snapshot.
func (h *Hub) Shutdown() {
	h.Registry.Shutdown()
}
