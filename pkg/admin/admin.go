// Package admin implements the Admin Surface (spec.md §4.7): executor token
// lifecycle and read-only cluster/executor visibility for operators.
package admin

import (
	"context"
	"sort"
	"strings"

	"github.com/wisbric/kdebug/internal/apperror"
	"github.com/wisbric/kdebug/internal/auth"
	"github.com/wisbric/kdebug/pkg/capability"
	"github.com/wisbric/kdebug/pkg/keystore"
)

// ClusterStatus is the result of get_executor_status(cluster_id).
type ClusterStatus struct {
	ClusterID string `json:"cluster_id"`
	Connected bool   `json:"connected"`
	HasToken  bool   `json:"has_token"`
}

const (
	clusterActivePrefix  = "cluster_active/"
	clusterSessionPrefix = "cluster_session/"
	executorTokenPrefix  = "executor_token/"
)

// Admin implements the admin surface's operations over the keystore and the
// executor token store.
type Admin struct {
	ks           keystore.Keystore
	tokens       *auth.ExecutorTokens
	capabilities *capability.Registry
}

// New builds an Admin surface.
func New(ks keystore.Keystore, tokens *auth.ExecutorTokens, capabilities *capability.Registry) *Admin {
	return &Admin{ks: ks, tokens: tokens, capabilities: capabilities}
}

// GetCapabilities returns clusterID's advertised capability profile, or nil
// if the executor has never reported one (spec.md §4.6: "consumers treat a
// missing profile as unknown, proceed with conservative defaults").
func (a *Admin) GetCapabilities(ctx context.Context, clusterID string) (*capability.Profile, error) {
	return a.capabilities.Fetch(ctx, clusterID)
}

// CreateExecutorToken mints a new bearer token for clusterID. Returns
// apperror.Conflict if a token already exists for that cluster — callers
// must RevokeExecutorToken first to rotate.
func (a *Admin) CreateExecutorToken(ctx context.Context, clusterID string) (string, error) {
	return a.tokens.Create(ctx, clusterID)
}

// RevokeExecutorToken deletes clusterID's token and its active-connection
// marker. An executor stream that is already open is not closed; the
// executor's next authenticated request (a result post or a reconnect)
// fails.
func (a *Admin) RevokeExecutorToken(ctx context.Context, clusterID string) error {
	if err := a.tokens.Revoke(ctx, clusterID); err != nil {
		return err
	}
	if err := a.ks.Del(ctx, clusterActivePrefix+clusterID); err != nil {
		return apperror.Wrap(apperror.ServiceUnavailable, "clearing active marker", err)
	}
	return nil
}

// ListClusters returns the union of every cluster_id known to the gateway
// via an active connection, a live session, or an issued token — stripped,
// deduplicated, and sorted (spec.md §4.7).
func (a *Admin) ListClusters(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	for _, prefix := range []string{clusterActivePrefix, clusterSessionPrefix, executorTokenPrefix} {
		keys, err := a.ks.ScanPrefix(ctx, prefix)
		if err != nil {
			return nil, apperror.Wrap(apperror.ServiceUnavailable, "scanning "+prefix, err)
		}
		for _, k := range keys {
			seen[strings.TrimPrefix(k, prefix)] = true
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// GetExecutorStatus reports whether clusterID currently has a live executor
// connection and/or an issued token.
func (a *Admin) GetExecutorStatus(ctx context.Context, clusterID string) (*ClusterStatus, error) {
	connected, err := a.ks.Exists(ctx, clusterActivePrefix+clusterID)
	if err != nil {
		return nil, apperror.Wrap(apperror.ServiceUnavailable, "checking active marker", err)
	}
	hasToken, err := a.tokens.Exists(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	return &ClusterStatus{ClusterID: clusterID, Connected: connected, HasToken: hasToken}, nil
}
