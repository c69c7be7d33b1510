// Package httpapi serves persisted reports and lets operators trigger runs.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/pipewatch/internal/domain"
	apimw "github.com/hamed0406/pipewatch/internal/httpapi/middleware"
	"github.com/hamed0406/pipewatch/internal/repo"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Controller runs health and backup passes on demand. *scheduler.Controller
// implements it.
type Controller interface {
	RunHealth(ctx context.Context) domain.HealthReport
	RunBackup(ctx context.Context) domain.BackupReport
}

type Server struct {
	Logger     *zap.Logger
	Health     repo.HealthStore
	Backups    repo.BackupStore
	Controller Controller
	// Metrics serves /metrics when set.
	Metrics http.Handler

	healthMu sync.Mutex
	backupMu sync.Mutex
}

func NewServer(l *zap.Logger, hs repo.HealthStore, bs repo.BackupStore, c Controller, metrics http.Handler) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{Logger: l, Health: hs, Backups: bs, Controller: c, Metrics: metrics}
}

// Limits are per-IP request budgets per minute; zero disables a limit.
type Limits struct {
	PublicPerMin int
	PublicBurst  int
	AdminPerMin  int
	AdminBurst   int
}

func (s *Server) Router(keys apimw.Keys, corsOrigins []string, limits Limits) http.Handler {
	r := chi.NewRouter()
	if len(corsOrigins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(limits.PublicPerMin, limits.PublicBurst))
			r.Use(apimw.RequireAny(keys))
			r.Get("/health", s.handleListHealth)
			r.Get("/health/latest", s.handleLatestHealth)
			r.Get("/backups", s.handleListBackups)
			r.Get("/backups/{runID}", s.handleGetBackup)
		})
		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(limits.AdminPerMin, limits.AdminBurst))
			r.Use(apimw.RequireAdmin(keys))
			r.Post("/health/run", s.handleRunHealth)
			r.Post("/backups/run", s.handleRunBackup)
		})
	})
	return r
}

func (s *Server) handleListHealth(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	reps, err := s.Health.ListHealth(r.Context(), limit)
	if err != nil {
		s.fail(w, "list_health_error", err)
		return
	}
	if reps == nil {
		reps = []domain.HealthReport{}
	}
	writeJSON(w, http.StatusOK, reps)
}

func (s *Server) handleLatestHealth(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Health.LatestHealth(r.Context())
	if errors.Is(err, repo.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no health report yet")
		return
	}
	if err != nil {
		s.fail(w, "latest_health_error", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	reps, err := s.Backups.ListBackups(r.Context(), limit)
	if err != nil {
		s.fail(w, "list_backups_error", err)
		return
	}
	if reps == nil {
		reps = []domain.BackupReport{}
	}
	writeJSON(w, http.StatusOK, reps)
}

func (s *Server) handleGetBackup(w http.ResponseWriter, r *http.Request) {
	id := domain.RunID(chi.URLParam(r, "runID"))
	rep, err := s.Backups.GetBackup(r.Context(), id)
	if errors.Is(err, repo.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown run id")
		return
	}
	if err != nil {
		s.fail(w, "get_backup_error", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Trigger handlers run synchronously and refuse to overlap with a run of the
// same kind. The run is detached from the request so a dropped client does
// not cancel a backup half way.

func (s *Server) handleRunHealth(w http.ResponseWriter, r *http.Request) {
	if !s.healthMu.TryLock() {
		writeError(w, http.StatusConflict, "health run already in progress")
		return
	}
	defer s.healthMu.Unlock()
	rep := s.Controller.RunHealth(context.WithoutCancel(r.Context()))
	s.Logger.Info("health_run_triggered", zap.String("overall_status", string(rep.OverallStatus)))
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleRunBackup(w http.ResponseWriter, r *http.Request) {
	if !s.backupMu.TryLock() {
		writeError(w, http.StatusConflict, "backup run already in progress")
		return
	}
	defer s.backupMu.Unlock()
	rep := s.Controller.RunBackup(context.WithoutCancel(r.Context()))
	s.Logger.Info("backup_run_triggered",
		zap.String("run_id", string(rep.RunID)),
		zap.Bool("overall_succeeded", rep.OverallSucceeded),
	)
	writeJSON(w, http.StatusOK, rep)
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, true
}

func (s *Server) fail(w http.ResponseWriter, event string, err error) {
	s.Logger.Error(event, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
