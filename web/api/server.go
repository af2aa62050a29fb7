package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hochfrequenz/streak-keeper/internal/backfill"
	"github.com/hochfrequenz/streak-keeper/internal/domain"
)

// Server is the HTTP API server
type Server struct {
	svc    *backfill.Service
	addr   string
	mux    *http.ServeMux
	sseHub *SSEHub
	logger *logrus.Entry
}

// NewServer creates a new API server
func NewServer(svc *backfill.Service, addr string, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		svc:    svc,
		addr:   addr,
		mux:    http.NewServeMux(),
		sseHub: NewSSEHub(),
		logger: logger.WithField("component", "api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /api/status", s.statusHandler())
	s.mux.HandleFunc("GET /api/commits", s.listCommitsHandler())
	s.mux.HandleFunc("GET /api/commits/{id}", s.getCommitHandler())
	s.mux.HandleFunc("POST /api/commits/{id}/cancel", s.cancelCommitHandler())
	s.mux.HandleFunc("POST /api/commits/{id}/retry", s.retryCommitHandler())
	s.mux.HandleFunc("POST /api/commits/{id}/run", s.runCommitHandler())
	s.mux.HandleFunc("POST /api/schedule", s.scheduleHandler())
	s.mux.HandleFunc("POST /api/batches/{id}/cancel", s.cancelBatchHandler())
	s.mux.HandleFunc("GET /api/files/suggested", s.suggestedFilesHandler())
	s.mux.HandleFunc("GET /api/events", s.sseHandler())
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
// Record events from the service are pushed to SSE clients.
func (s *Server) Start(ctx context.Context) error {
	go s.sseHub.Run(ctx)
	unsubscribe := s.svc.Subscribe(func(ev backfill.Event) {
		s.Broadcast(SSEEvent{Type: "commit_" + string(ev.Type), Data: commitToResponse(ev.Commit)})
	})
	defer unsubscribe()

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.addr).Info("HTTP API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Broadcast sends an event to all SSE clients
func (s *Server) Broadcast(event SSEEvent) {
	s.sseHub.Broadcast(event)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeServiceError maps domain errors onto HTTP status codes
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidTimeFormat), errors.Is(err, backfill.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
