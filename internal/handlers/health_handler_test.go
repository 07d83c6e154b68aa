package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func router(h *HealthHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	return r
}

func TestHealthHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }

	t.Run("health", func(t *testing.T) {
		h := NewHealthHandler(nil, 0)
		rec := httptest.NewRecorder()
		router(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
	})

	t.Run("ready", func(t *testing.T) {
		h := NewHealthHandler(map[string]Check{"postgres": ok, "redis": ok}, time.Second)
		rec := httptest.NewRecorder()
		router(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"status":"ready","checks":{"postgres":"ok","redis":"ok"}}`, rec.Body.String())
	})

	t.Run("not ready", func(t *testing.T) {
		h := NewHealthHandler(map[string]Check{
			"postgres": func(context.Context) error { return errors.New("connection refused") },
			"redis":    ok,
		}, time.Second)
		rec := httptest.NewRecorder()
		router(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var body struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "unavailable", body.Status)
		assert.Equal(t, "connection refused", body.Checks["postgres"])
		assert.Equal(t, "ok", body.Checks["redis"])
	})

	t.Run("checks get a deadline", func(t *testing.T) {
		h := NewHealthHandler(map[string]Check{
			"postgres": func(ctx context.Context) error {
				_, ok := ctx.Deadline()
				if !ok {
					return errors.New("no deadline")
				}
				return nil
			},
		}, 50*time.Millisecond)
		rec := httptest.NewRecorder()
		router(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
