// Package server provides the HTTP surface: the schedule read endpoint,
// the polled status and diagnostics endpoints, and the manual extraction
// trigger.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/mdelorme/roomsched/internal/extract"
	"github.com/mdelorme/roomsched/internal/fscache"
	"github.com/mdelorme/roomsched/internal/metrics"
	"github.com/mdelorme/roomsched/internal/rebuild"
	"github.com/mdelorme/roomsched/internal/schedule"
	"github.com/mdelorme/roomsched/internal/scheduler"
)

// defaultLogLines is how many log lines the status endpoint returns when
// the caller doesn't ask for a specific count.
const defaultLogLines = 100

// Server wires the coordinator, cache, scheduler and extraction state
// behind an HTTP mux.
type Server struct {
	Coordinator *rebuild.Coordinator
	Cache       *fscache.Cache[schedule.Artifact]
	Scheduler   *scheduler.Scheduler
	State       *extract.State
	Metrics     *metrics.Collector
	Logger      *slog.Logger
	Addr        string

	// baseCtx outlives requests; background loops started lazily from a
	// request must not die with that request.
	baseCtx context.Context
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/schedule", s.handleSchedule)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/diagnostics", s.handleDiagnostics)
	mux.HandleFunc("POST /api/extract", s.handleExtract)
	return LoggingMiddleware(s.Logger)(mux)
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.baseCtx = ctx

	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("http server listening", "addr", s.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// ensureBackground triggers the lazy leader election on the first unit of
// work this process sees.
func (s *Server) ensureBackground() {
	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Scheduler.EnsureStarted(ctx); err != nil {
		s.Logger.Warn("background startup check failed", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

// handleSchedule serves the consolidated schedule, optionally filtered by
// room and day range. Rebuild problems degrade to stale or empty data,
// never to a 500, as long as the request itself is well-formed.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	s.ensureBackground()

	room := r.URL.Query().Get("room")
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	for _, day := range []string{from, to} {
		if day == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", day); err != nil {
			http.Error(w, "from/to must be ISO dates (YYYY-MM-DD)", http.StatusBadRequest)
			return
		}
	}

	path, err := s.Coordinator.EnsureArtifact(r.Context())
	if err != nil {
		// Stale data (or a well-formed empty result) beats an error page.
		s.Logger.Warn("rebuild failed, serving last good artifact", "error", err)
	}

	artifact, ok := s.Cache.Read(path)
	if !ok {
		artifact = schedule.Artifact{}
	}

	writeJSON(w, artifact.Filter(room, from, to))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	lines := defaultLogLines
	if v := r.URL.Query().Get("lines"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			lines = n
		}
	}
	writeJSON(w, s.State.Snapshot(lines))
}

// diagnosticsResponse is the operational troubleshooting snapshot.
type diagnosticsResponse struct {
	rebuild.Diagnostics
	OwnsBackground bool             `json:"owns_background"`
	Cache          cacheStats       `json:"cache"`
	Metrics        metrics.Snapshot `json:"metrics"`
}

type cacheStats struct {
	Stats  int64 `json:"stats"`
	Parses int64 `json:"parses"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	diag, err := s.Coordinator.Diagnose()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	stats, parses, hits, misses := s.Cache.Stats()
	writeJSON(w, diagnosticsResponse{
		Diagnostics:    diag,
		OwnsBackground: s.Scheduler.Leader.OwnsBackground(),
		Cache:          cacheStats{Stats: stats, Parses: parses, Hits: hits, Misses: misses},
		Metrics:        s.Metrics.Snapshot(),
	})
}

// handleExtract starts a manual ingestion+rebuild pass. 409 when one is
// already in flight.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	s.ensureBackground()

	if s.State.Running() {
		http.Error(w, "extraction already running", http.StatusConflict)
		return
	}

	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		if !s.Scheduler.RunFetchPass(ctx) {
			s.Logger.Info("manual extraction skipped, pass already running")
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "started"}); err != nil {
		s.Logger.Warn("failed to encode response", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}
