package admin

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/kdebug/internal/apperror"
	"github.com/wisbric/kdebug/internal/auth"
	"github.com/wisbric/kdebug/pkg/capability"
	"github.com/wisbric/kdebug/pkg/keystore"
)

func newTestAdmin(t *testing.T) (*Admin, keystore.Keystore) {
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
	caps := capability.New(ks, time.Hour)
	return New(ks, tokens, caps), ks
}

func TestCreateAndRevokeExecutorToken(t *testing.T) {
	a, ks := newTestAdmin(t)
	ctx := context.Background()

	token, err := a.CreateExecutorToken(ctx, "prod-us-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	if _, err := a.CreateExecutorToken(ctx, "prod-us-1"); !apperror.Is(err, apperror.Conflict) {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}

	if _, err := ks.SetNX(ctx, "cluster_active/prod-us-1", "x", 0); err != nil {
		t.Fatal(err)
	}

	if err := a.RevokeExecutorToken(ctx, "prod-us-1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	active, err := ks.Exists(ctx, "cluster_active/prod-us-1")
	if err != nil {
		t.Fatal(err)
	}
	if active {
		t.Fatal("expected active marker cleared on revoke")
	}
}

func TestListClustersUnion(t *testing.T) {
	a, ks := newTestAdmin(t)
	ctx := context.Background()

	if err := ks.SetEx(ctx, "cluster_active/a", "a", 0); err != nil {
		t.Fatal(err)
	}
	if err := ks.SetEx(ctx, "cluster_session/b", "s1", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := a.CreateExecutorToken(ctx, "c"); err != nil {
		t.Fatal(err)
	}

	ids, err := a.ListClusters(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Fatalf("expected [a b c], got %v", ids)
	}
}

func TestGetExecutorStatus(t *testing.T) {
	a, ks := newTestAdmin(t)
	ctx := context.Background()

	status, err := a.GetExecutorStatus(ctx, "unknown")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Connected || status.HasToken {
		t.Fatalf("expected unknown cluster to be unconnected and tokenless, got %+v", status)
	}

	if _, err := a.CreateExecutorToken(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if err := ks.SetEx(ctx, "cluster_active/c1", "c1", 0); err != nil {
		t.Fatal(err)
	}

	status, err = a.GetExecutorStatus(ctx, "c1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Connected || !status.HasToken {
		t.Fatalf("expected connected+hasToken, got %+v", status)
	}
}

func TestGetCapabilitiesMissingIsNilNotError(t *testing.T) {
	a, _ := newTestAdmin(t)
	profile, err := a.GetCapabilities(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("expected no error for missing profile, got %v", err)
	}
	if profile != nil {
		t.Fatalf("expected nil profile, got %+v", profile)
	}
}
