package router

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/kdebug/internal/apperror"
	"github.com/wisbric/kdebug/pkg/keystore"
	"github.com/wisbric/kdebug/pkg/session"
)

func newTestRouter(t *testing.T) (*Router, keystore.Keystore) {
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
	return New(ks, sessions), ks
}

// simulateExecutor waits for a command to be published, then writes a
// result and publishes the ready notification, mimicking pkg/executorchan.
func simulateExecutor(t *testing.T, ks keystore.Keystore, clusterID string, status string) {
	t.Helper()
	go func() {
		ctx := context.Background()
		sub := ks.Subscribe(ctx, "executor_commands/"+clusterID)
		defer sub.Close()

		select {
		case payload := <-sub.Channel():
			var cmd Command
			if err := json.Unmarshal([]byte(payload), &cmd); err != nil {
				return
			}
			result := Result{CommandID: cmd.ID, Status: status, Output: "NAME ..."}
			b, _ := json.Marshal(result)
			_ = ks.SetJSONEx(ctx, "result/"+cmd.ID, result, time.Minute)
			_ = ks.Publish(ctx, "result_ready/"+cmd.ID, string(b))
		case <-time.After(3 * time.Second):
		}
	}()
}

func TestExecuteHappyPath(t *testing.T) {
	r, ks := newTestRouter(t)
	simulateExecutor(t, ks, "prod-us-1", "success")

	result, err := r.Execute(context.Background(), ExecuteRequest{
		ClusterID:   "prod-us-1",
		Args:        []string{"get", "pods"},
		Namespace:   "default",
		TimeoutSecs: 10,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != "success" {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestExecuteTimeoutWithNoExecutor(t *testing.T) {
	r, _ := newTestRouter(t)

	start := time.Now()
	result, err := r.Execute(context.Background(), ExecuteRequest{
		ClusterID:   "staging-eu-1",
		Args:        []string{"get", "pods"},
		TimeoutSecs: 1,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != "timeout" {
		t.Fatalf("expected timeout, got %+v", result)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Fatalf("returned before the timeout elapsed: %v", elapsed)
	}
}

func TestExecuteSessionClusterMismatch(t *testing.T) {
	r, ks := newTestRouter(t)
	sessions := session.New(ks)

	sess, err := sessions.CreateSession(context.Background(), "a", "", "", "", 300)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	_, err = r.Execute(context.Background(), ExecuteRequest{
		ClusterID:   "b",
		SessionID:   sess.SessionID,
		Args:        []string{"get", "pods"},
		TimeoutSecs: 5,
	})
	if !apperror.Is(err, apperror.SessionClusterMismatch) {
		t.Fatalf("expected SessionClusterMismatch, got %v", err)
	}
}

func TestExecuteForbiddenVerb(t *testing.T) {
	r, _ := newTestRouter(t)

	_, err := r.Execute(context.Background(), ExecuteRequest{
		ClusterID:   "c1",
		Args:        []string{"get", "pods", "delete"},
		TimeoutSecs: 5,
	})
	if !apperror.Is(err, apperror.Forbidden) {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}

func TestValidateExtraArgsAllowAndDeny(t *testing.T) {
	if err := ValidateExtraArgs([]string{"-o=json", "--show-labels"}); err != nil {
		t.Fatalf("expected allowed flags to pass, got %v", err)
	}
	if err := ValidateExtraArgs([]string{"--kubeconfig=/tmp/x"}); err == nil {
		t.Fatal("expected denied flag to fail")
	}
	if err := ValidateExtraArgs([]string{"--unknown-flag"}); err == nil {
		t.Fatal("expected unknown flag to fail (not in allow-list)")
	}
}
