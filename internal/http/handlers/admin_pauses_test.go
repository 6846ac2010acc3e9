package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/handoff"
)

func withURLParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestAdminPausesHandler_Lifecycle(t *testing.T) {
	registry := handoff.NewMemoryRegistry()
	h := NewAdminPausesHandler(registry, nil)

	call := func(method string, fn http.HandlerFunc) PauseStatus {
		t.Helper()
		req := withURLParams(httptest.NewRequest(method, "/admin/pauses/x", nil), map[string]string{"phone": "+34 600 111 222"})
		rec := httptest.NewRecorder()
		fn(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var status PauseStatus
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
		return status
	}

	assert.Equal(t, PauseStatus{Phone: "34600111222"}, call(http.MethodGet, h.Get))
	assert.Equal(t, PauseStatus{Phone: "34600111222", Paused: true}, call(http.MethodPut, h.Put))

	paused, err := registry.IsPaused(context.Background(), "34600111222")
	require.NoError(t, err)
	assert.True(t, paused)
	assert.True(t, call(http.MethodGet, h.Get).Paused)

	assert.False(t, call(http.MethodDelete, h.Delete).Paused)
	assert.False(t, call(http.MethodDelete, h.Delete).Paused, "resume is idempotent")
}

func TestAdminPausesHandler_InvalidPhone(t *testing.T) {
	h := NewAdminPausesHandler(handoff.NewMemoryRegistry(), nil)
	for _, phone := range []string{"", "abc", "1234", "1234567890123456"} {
		req := withURLParams(httptest.NewRequest(http.MethodPut, "/admin/pauses/x", nil), map[string]string{"phone": phone})
		rec := httptest.NewRecorder()
		h.Put(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, phone)
	}
}

type failingRegistry struct{}

func (failingRegistry) IsPaused(context.Context, string) (bool, error) { return false, errors.New("redis down") }
func (failingRegistry) Pause(context.Context, string) error { return errors.New("redis down") }
func (failingRegistry) Resume(context.Context, string) error { return errors.New("redis down") }

func TestAdminPausesHandler_RegistryFailure(t *testing.T) {
	h := NewAdminPausesHandler(failingRegistry{}, nil)
	for _, fn := range []http.HandlerFunc{h.Get, h.Put, h.Delete} {
		req := withURLParams(httptest.NewRequest(http.MethodGet, "/admin/pauses/x", nil), map[string]string{"phone": "34600111222"})
		rec := httptest.NewRecorder()
		fn(rec, req)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	}
}
