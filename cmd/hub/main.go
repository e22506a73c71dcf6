// Command hub runs the collaboration hub: the WebSocket subsystem that
// authenticates sessions, multiplexes them into per-document rooms,
// relays CRDT update and awareness messages, and persists periodic
// snapshots.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/collabdocs/hub/internal/access"
	"github.com/collabdocs/hub/internal/auth"
	"github.com/collabdocs/hub/internal/broker"
	"github.com/collabdocs/hub/internal/config"
	"github.com/collabdocs/hub/internal/db"
	"github.com/collabdocs/hub/internal/hub"
	"github.com/joho/godotenv"
)

func main() {
	godotenv.Load()

	cfg, err := config.LoadHubConfig()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer store.Close()

	relay, err := broker.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to broker: %v", err)
	}
	defer relay.Close()

	gate := auth.NewGate(cfg.JWTSecret, store)
	ctrl := access.NewControl(store)
	h := hub.New(ctx, cfg, store, gate, ctrl, relay)
	defer h.Shutdown()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/ws", h.Handler())

	handler := corsMiddleware(cfg.CORSOrigin, mux)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("collaboration hub starting on port %s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start hub: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down hub...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("hub shutdown failed: %v", err)
	}

	cancel()
	log.Println("hub stopped")
}

func corsMiddleware(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
