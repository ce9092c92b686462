package admin

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/kdebug/internal/telemetry"
)

func newTestHandler(t *testing.T) (*Handler, *chi.Mux) {
	t.Helper()
	a, _ := newTestAdmin(t)
	h := NewHandler(a, telemetry.NewLogger("text", "error"), nil)
	r := chi.NewRouter()
	h.Routes(r)
	return h, r
}

func TestHandlerCreateListRevokeToken(t *testing.T) {
	_, r := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/agents/prod-us-1/token", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"token"`) {
		t.Fatalf("expected token in response, got %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/agents", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "prod-us-1") {
		t.Fatalf("expected cluster listed, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/agents/prod-us-1/token", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandlerGetStatus(t *testing.T) {
	_, r := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/agents/unknown/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"connected":false`) {
		t.Fatalf("expected unconnected status, got %s", rec.Body.String())
	}
}

func TestHandlerGetCapabilitiesMissing(t *testing.T) {
	_, r := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/clusters/unknown/capabilities", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unreported capabilities, got %d: %s", rec.Code, rec.Body.String())
	}
}
