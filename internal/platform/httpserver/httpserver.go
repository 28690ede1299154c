// Package httpserver serves the engine's operational endpoints.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	id "brokerguard/pkg/domain"
	"brokerguard/pkg/platform/middleware/admin"
	"brokerguard/pkg/platform/middleware/requesttime"
	"brokerguard/pkg/platform/sentinel"
)

const probeTimeout = 2 * time.Second

// New builds an HTTP server with sane defaults for this project.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
}

// Check is a readiness probe for one dependency.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// OpsRouter mounts /healthz (process is up), /readyz (every dependency
// answers) and /metrics.
func OpsRouter(logger *slog.Logger, checks ...Check) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), probeTimeout)
		defer cancel()

		failing := map[string]string{}
		for _, c := range checks {
			if err := c.Probe(ctx); err != nil {
				failing[c.Name] = err.Error()
				logger.WarnContext(ctx, "readiness probe failed", "dependency", c.Name, "error", err)
			}
		}
		if len(failing) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failing": failing})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Trigger enqueues the named batch immediately.
type Trigger func(ctx context.Context, name string) (id.JobID, error)

// MountJobs adds POST /jobs/{name} behind the admin token. Names the trigger
// reports as sentinel.ErrNotFound answer 404.
func MountJobs(r chi.Router, token string, trigger Trigger, logger *slog.Logger) {
	r.With(admin.RequireAdminToken(token, logger)).Post("/jobs/{name}", func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		name := chi.URLParam(req, "name")
		jobID, err := trigger(ctx, name)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "not_found", "error_description": err.Error()})
			return
		case err != nil:
			logger.ErrorContext(ctx, "manual trigger failed", "entry", name, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal_error"})
			return
		}
		logger.InfoContext(ctx, "batch triggered", "entry", name, "job_id", jobID.String())
		writeJSON(w, http.StatusAccepted, map[string]any{"job_id": jobID.String(), "entry": name})
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
