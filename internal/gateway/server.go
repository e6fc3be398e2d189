// Package gateway serves the HTTP API and the WebSocket event stream. It is
// the outer surface of the daemon: turn submission and history, the agent
// roster, knowledge, artifacts, schedules and secrets, plus live progress
// relayed from the bus.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/bus"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/config"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/engine"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/knowledge"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/store"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/vault"
)

// Engine is the slice of the engine the gateway needs. *engine.Engine
// satisfies it.
type Engine interface {
	Submit(req engine.TurnRequest) (engine.TurnRequest, error)
	Queued() int
}

type Server struct {
	store     *store.Store
	bus       *bus.Bus
	nats      *bus.Client
	engine    Engine
	catalog   engine.Catalog
	knowledge *knowledge.Manager
	vault     *vault.Vault
	hub       *Hub
	cfg       config.ServerConfig
	version   string
	startedAt time.Time
}

func NewServer(st *store.Store, b *bus.Bus, eng Engine, cat engine.Catalog, km *knowledge.Manager, v *vault.Vault, cfg config.ServerConfig, version string) *Server {
	return &Server{
		store:     st,
		bus:       b,
		engine:    eng,
		catalog:   cat,
		knowledge: km,
		vault:     v,
		hub:       NewHub(),
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
	}
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	// Relay bus events to connected WebSocket clients.
	s.subscribeEvents()

	mux := http.NewServeMux()
	s.registerAPI(mux)
	mux.HandleFunc("/ws", s.handleWebSocket)

	handler := s.withMiddleware(mux)
	server := &http.Server{Addr: s.cfg.Listen, Handler: handler}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("gateway listening", "addr", s.cfg.Listen)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) subscribeEvents() {
	if s.bus == nil {
		return
	}
	client, err := bus.NewClient(s.bus)
	if err != nil {
		slog.Error("gateway bus client failed", "error", err)
		return
	}
	s.nats = client

	_, _ = client.Subscribe(bus.TopicEventsAll, func(msg *nats.Msg) {
		var event bus.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			slog.Warn("invalid bus event payload", "error", err)
			return
		}
		s.hub.Broadcast(event)
	})
}

// Close releases the gateway's bus subscription.
func (s *Server) Close() {
	if s.nats != nil {
		s.nats.Close()
	}
}
