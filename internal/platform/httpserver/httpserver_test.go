package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "brokerguard/pkg/domain"
	"brokerguard/pkg/platform/middleware/admin"
	"brokerguard/pkg/platform/sentinel"
)

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestOpsRouter(t *testing.T) {
	healthy := Check{Name: "postgres", Probe: func(context.Context) error { return nil }}
	broken := Check{Name: "redis", Probe: func(context.Context) error { return errors.New("connection refused") }}

	t.Run("healthz ignores dependencies", func(t *testing.T) {
		rec, body := get(t, OpsRouter(slog.Default(), broken), "/healthz")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", body["status"])
	})

	t.Run("readyz when all probes pass", func(t *testing.T) {
		rec, body := get(t, OpsRouter(slog.Default(), healthy), "/readyz")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ready", body["status"])
	})

	t.Run("readyz names failing dependencies", func(t *testing.T) {
		rec, body := get(t, OpsRouter(slog.Default(), healthy, broken), "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		failing, ok := body["failing"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "connection refused", failing["redis"])
		assert.NotContains(t, failing, "postgres")
	})

	t.Run("metrics are exposed", func(t *testing.T) {
		rec, _ := get(t, OpsRouter(slog.Default()), "/metrics")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "go_goroutines")
	})

	t.Run("unknown path", func(t *testing.T) {
		rec, _ := get(t, OpsRouter(slog.Default()), "/admin")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestMountJobs(t *testing.T) {
	jobID := id.NewJobID()
	trigger := func(_ context.Context, name string) (id.JobID, error) {
		switch name {
		case "daily-compliance":
			return jobID, nil
		case "weekly-report":
			return id.JobID{}, errors.New("queue down")
		default:
			return id.JobID{}, fmt.Errorf("unknown entry: %w", sentinel.ErrNotFound)
		}
	}
	r := OpsRouter(slog.Default())
	MountJobs(r, "s3cret", trigger, slog.Default())

	post := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if token != "" {
			req.Header.Set(admin.HeaderName, token)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := post("/jobs/daily-compliance", "s3cret")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), jobID.String())

	assert.Equal(t, http.StatusUnauthorized, post("/jobs/daily-compliance", "").Code)
	assert.Equal(t, http.StatusNotFound, post("/jobs/hourly", "s3cret").Code)
	assert.Equal(t, http.StatusInternalServerError, post("/jobs/weekly-report", "s3cret").Code)
}
