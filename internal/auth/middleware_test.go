package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wisbric/kdebug/internal/telemetry"
)

func TestMiddlewareRejectsSpoofedForwardedForFromRemotePeer(t *testing.T) {
	apiKeys := NewAPIKeyStore([]string{"valid-key"})
	logger := telemetry.NewLogger("text", "error")
	mw := Middleware(apiKeys, nil, nil, logger, map[string]bool{})

	var called bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodGet, "/debug/clusters", nil)
	req.RemoteAddr = "203.0.113.5:54321"
	req.Header.Set("X-Forwarded-For", "127.0.0.1")
	rec := httptest.NewRecorder()

	mw(next).ServeHTTP(rec, req)

	if called {
		t.Fatal("expected spoofed X-Forwarded-For from a non-loopback peer to be rejected, but next handler ran")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddlewareExemptsActualLoopbackPeer(t *testing.T) {
	apiKeys := NewAPIKeyStore([]string{"valid-key"})
	logger := telemetry.NewLogger("text", "error")
	mw := Middleware(apiKeys, nil, nil, logger, map[string]bool{})

	var gotIdentity *Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity, _ = FromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/debug/clusters", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	rec := httptest.NewRecorder()

	mw(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from default recorder status, got %d", rec.Code)
	}
	if gotIdentity == nil || gotIdentity.Subject != "internal:loopback" {
		t.Fatalf("expected loopback identity, got %+v", gotIdentity)
	}
}

func TestIsLoopbackIgnoresForwardedHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.5:54321"
	req.Header.Set("X-Forwarded-For", "127.0.0.1")
	req.Header.Set("X-Real-IP", "::1")

	if IsLoopback(req) {
		t.Fatal("expected non-loopback RemoteAddr with spoofed headers to not be treated as loopback")
	}

	req.RemoteAddr = "[::1]:9999"
	if !IsLoopback(req) {
		t.Fatal("expected actual loopback RemoteAddr to be treated as loopback")
	}
}
