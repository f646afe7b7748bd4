// Package api is the optional ops HTTP surface: health, live status,
// session inspection and reset, plus a localhost websocket streaming bus
// events to dashboards. Off by default; enable it in config.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pingpal-io/pingpal/pkg/bus"
	"github.com/pingpal-io/pingpal/pkg/logger"
	"github.com/pingpal-io/pingpal/pkg/scheduler"
	"github.com/pingpal-io/pingpal/pkg/session"
)

// Server is the ops HTTP server.
type Server struct {
	addr      string
	registry  *session.Registry
	sched     *scheduler.Scheduler
	bus       *bus.MessageBus
	wsHub     *WSHub
	bridge    *EventBridge
	startTime time.Time
	server    *http.Server
}

// NewServer creates the ops server.
func NewServer(addr string, reg *session.Registry, sched *scheduler.Scheduler, b *bus.MessageBus) *Server {
	s := &Server{
		addr:      addr,
		registry:  reg,
		sched:     sched,
		bus:       b,
		startTime: time.Now(),
	}
	s.wsHub = NewWSHub()
	s.bridge = NewEventBridge(b, s.wsHub)
	return s
}

// Start begins listening. Non-blocking; the listener runs until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/reset", s.handleReset)
	mux.HandleFunc("/ws", s.wsHub.HandleWebSocket)

	s.server = &http.Server{Addr: s.addr, Handler: mux}

	go s.wsHub.Run(ctx)
	go s.bridge.Run(ctx)
	go func() {
		logger.InfoCF("api", "Ops server listening", map[string]interface{}{"addr": s.addr})
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("api", "Ops server failed", map[string]interface{}{"error": err.Error()})
		}
	}()
	return nil
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_secs":   int(time.Since(s.startTime).Seconds()),
		"sessions":      s.registry.Len(),
		"pending_tasks": s.sched.TotalPending(),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Snapshots())
}

// handleReset clears one session (?key=) or every session.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "POST required"})
		return
	}
	key := r.URL.Query().Get("key")
	if key != "" {
		if !s.registry.Reset(key) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown session"})
			return
		}
		logger.InfoCF("api", "Session reset", map[string]interface{}{"key": key})
		writeJSON(w, http.StatusOK, map[string]string{"reset": key})
		return
	}
	n := s.registry.ResetAll()
	logger.InfoCF("api", "All sessions reset", map[string]interface{}{"count": n})
	writeJSON(w, http.StatusOK, map[string]int{"reset_count": n})
}
