package executorchan

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/kdebug/internal/auth"
	"github.com/wisbric/kdebug/internal/telemetry"
	"github.com/wisbric/kdebug/pkg/capability"
	"github.com/wisbric/kdebug/pkg/keystore"
	"github.com/wisbric/kdebug/pkg/session"
)

func newTestHandler(t *testing.T) (*Handler, keystore.Keystore, *auth.ExecutorTokens) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ks := keystore.New(client)
	tokens := auth.NewExecutorTokens(ks)
	sessions := session.New(ks)
	caps := capability.New(ks, time.Hour)
	return New(ks, sessions, tokens, caps, telemetry.NewLogger("text", "error")), ks, tokens
}

func TestStreamRejectsMissingAuth(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/executor/stream", nil)
	rec := httptest.NewRecorder()

	h.Stream(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestStreamEmitsConnectedAndCommand(t *testing.T) {
	h, ks, tokens := newTestHandler(t)
	ctx := context.Background()

	token, err := tokens.Create(ctx, "prod-us-1")
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/executor/stream", nil).WithContext(reqCtx)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Cluster-Id", "prod-us-1")
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.Stream(rec, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if err := ks.Publish(ctx, "executor_commands/prod-us-1", `{"id":"cmd-1"}`); err != nil {
		t.Fatalf("publish: %v", err)
	}

	<-done

	body := rec.Body.String()
	if !strings.Contains(body, "event: connected") {
		t.Fatalf("expected connected event, got body: %q", body)
	}
	if !strings.Contains(body, "event: command") {
		t.Fatalf("expected command event, got body: %q", body)
	}

	active, err := ks.Exists(ctx, "cluster_active/prod-us-1")
	if err != nil || !active {
		t.Fatalf("expected cluster_active to be set: active=%v err=%v", active, err)
	}
}

func TestResultsStoresAndPublishes(t *testing.T) {
	h, ks, tokens := newTestHandler(t)
	ctx := context.Background()

	token, err := tokens.Create(ctx, "c1")
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	body := `{"command_id":"cmd-1","status":"success","output":"NAME ..."}`
	req := httptest.NewRequest(http.MethodPost, "/executor/results", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Cluster-Id", "c1")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.Results(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	var result map[string]any
	if err := ks.GetJSON(ctx, "result/cmd-1", &result); err != nil {
		t.Fatalf("expected result stored: %v", err)
	}
	if result["status"] != "success" {
		t.Fatalf("expected status=success, got %+v", result)
	}
}

func TestCapabilitiesReportsProfile(t *testing.T) {
	h, ks, tokens := newTestHandler(t)
	ctx := context.Background()

	token, err := tokens.Create(ctx, "c1")
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	body := `{"mode":"extendedReadOnly","allowed_verbs":["get","logs"],"executor_version":"v1.2.0"}`
	req := httptest.NewRequest(http.MethodPost, "/executor/capabilities", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Cluster-Id", "c1")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.Capabilities(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var profile map[string]any
	if err := ks.GetJSON(ctx, "cluster_capabilities/c1", &profile); err != nil {
		t.Fatalf("expected profile stored: %v", err)
	}
	if profile["mode"] != "extendedReadOnly" {
		t.Fatalf("expected mode stored, got %+v", profile)
	}
}
