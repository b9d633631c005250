package app

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 3, cfg.TxMaxRetries)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsBadRetries(t *testing.T) {
	t.Setenv("TX_MAX_RETRIES", "-1")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestActorMiddleware(t *testing.T) {
	var seen int64
	h := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(actorHeader, "42")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, int64(42), seen)

	bad := httptest.NewRequest(http.MethodPost, "/", nil)
	bad.Header.Set(actorHeader, "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, bad)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

type memKeys struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memKeys) CheckAndInsert(ctx context.Context, tenantID int64, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]bool)
	}
	if m.keys[module+key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+key] = true
	return nil
}

func (m *memKeys) Delete(ctx context.Context, tenantID int64, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+key)
	return nil
}

func idempotentRouter(store KeyStore, status *int) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1/tenants/{tenantID}", func(r chi.Router) {
		r.Use(IdempotencyMiddleware(store, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
		r.Post("/journals", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(*status)
		})
	})
	return r
}

func TestIdempotencyMiddlewareRejectsReplay(t *testing.T) {
	store := &memKeys{}
	status := http.StatusCreated
	router := idempotentRouter(store, &status)

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/1/journals", nil)
		req.Header.Set(idempotencyHeader, "abc")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}
	require.Equal(t, http.StatusCreated, send())
	require.Equal(t, http.StatusConflict, send())
}

func TestIdempotencyMiddlewareReleasesFailedKeys(t *testing.T) {
	store := &memKeys{}
	status := http.StatusUnprocessableEntity
	router := idempotentRouter(store, &status)

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/1/journals", nil)
		req.Header.Set(idempotencyHeader, "retry-me")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}
	require.Equal(t, http.StatusUnprocessableEntity, send())
	status = http.StatusCreated
	require.Equal(t, http.StatusCreated, send())
}

func TestRouterServesHealth(t *testing.T) {
	cfg := &Config{RateLimitPerMin: 100}
	router := NewRouter(RouterParams{Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), Config: cfg})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestTestModeFlag(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())
	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	require.False(t, InTestMode())
}
