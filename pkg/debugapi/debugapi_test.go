package debugapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/kdebug/internal/auth"
	"github.com/wisbric/kdebug/pkg/admin"
	"github.com/wisbric/kdebug/pkg/capability"
	"github.com/wisbric/kdebug/pkg/keystore"
	"github.com/wisbric/kdebug/pkg/router"
	"github.com/wisbric/kdebug/pkg/session"
)

func testBounds() Bounds {
	return Bounds{
		SessionTTLDefault: 300, SessionTTLMin: 60, SessionTTLMax: 3600,
		CommandTimeoutDefault: 10, CommandTimeoutMin: 1, CommandTimeoutMax: 60,
	}
}

func newTestHandler(t *testing.T, executeRequiresAPIKey bool) (*chi.Mux, keystore.Keystore) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ks := keystore.New(client)
	sessions := session.New(ks)
	rt := router.New(ks, sessions)
	tokens := auth.NewExecutorTokens(ks)
	caps := capability.New(ks, time.Hour)
	adm := admin.New(ks, tokens, caps)

	h := New(sessions, rt, adm, testBounds(), executeRequiresAPIKey)
	r := chi.NewRouter()
	h.Routes(r)
	return r, ks
}

func TestCreateGetEndSession(t *testing.T) {
	r, _ := newTestHandler(t, false)

	body := strings.NewReader(`{"cluster_id":"prod-us-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/session", body)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != "active" {
		t.Fatalf("expected active status (cluster_active set on create), got %q", created.Status)
	}

	req = httptest.NewRequest(http.MethodGet, "/session/"+created.SessionID, nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/session/"+created.SessionID, nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/session/"+created.SessionID, nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after end, got %d", rec.Code)
	}
}

func TestExecuteTimeoutNoExecutor(t *testing.T) {
	r, _ := newTestHandler(t, false)

	body := strings.NewReader(`{"cluster_id":"staging-eu-1","command_type":"get","args":["pods"],"timeout_seconds":1}`)
	req := httptest.NewRequest(http.MethodPost, "/execute", body)
	rec := httptest.NewRecorder()
	start := time.Now()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with a timeout result body, got %d: %s", rec.Code, rec.Body.String())
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Fatalf("expected request to wait out the timeout, elapsed %v", elapsed)
	}
	if !strings.Contains(rec.Body.String(), `"status":"timeout"`) {
		t.Fatalf("expected timeout status, got %s", rec.Body.String())
	}
}

func TestExecuteForbiddenVerbReturns400(t *testing.T) {
	r, _ := newTestHandler(t, false)

	body := strings.NewReader(`{"cluster_id":"c1","command_type":"delete","args":["pods"]}`)
	req := httptest.NewRequest(http.MethodPost, "/execute", body)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestExecuteRequiresAPIKeyRejectsWithoutIdentity(t *testing.T) {
	r, _ := newTestHandler(t, true)

	body := strings.NewReader(`{"cluster_id":"c1","command_type":"get","args":["pods"],"timeout_seconds":1}`)
	req := httptest.NewRequest(http.MethodPost, "/execute", body)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without an api_key identity in context, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestListClustersEmpty(t *testing.T) {
	r, _ := newTestHandler(t, false)

	req := httptest.NewRequest(http.MethodGet, "/clusters", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"clusters":[]`) && !strings.Contains(rec.Body.String(), `"clusters":null`) {
		t.Fatalf("expected empty clusters list, got %s", rec.Body.String())
	}
}
