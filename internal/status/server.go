// internal/status/server.go
package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/user/collabhub/internal/hub"
)

// Server exposes a read-only HTTP view of the hub for dashboards and shell
// scripts. Every mutation still goes through the unix socket.
type Server struct {
	hub *hub.Hub
	mux *http.ServeMux
}

// NewServer creates the status server for the given hub.
func NewServer(h *hub.Hub) *Server {
	s := &Server{hub: h, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/tasks", s.handleTasks)
	s.mux.HandleFunc("GET /api/peers", s.handlePeers)
	s.mux.HandleFunc("GET /api/conflicts", s.handleConflicts)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe runs the server until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, h *hub.Hub) error {
	srv := &http.Server{Addr: addr, Handler: NewServer(h)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	slog.Info("status server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.hub.GetStatus())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	local, remote := s.hub.Who()
	writeJSON(w, map[string]any{"sessions": local, "remote": remote})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.hub.ListTasks("", ""))
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"identity":   s.hub.Identity(),
		"discovered": s.hub.Peers.Discovered(),
		"pending":    s.hub.Peers.GetPendingRequests(),
		"connected":  s.hub.Peers.ConnectedHubs(),
	})
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.hub.ConflictHistory())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("status encode failed", "error", err)
	}
}
