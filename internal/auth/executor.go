package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/wisbric/kdebug/internal/apperror"
	"github.com/wisbric/kdebug/pkg/keystore"
)

const executorTokenKeyPrefix = "executor_token/"

// ExecutorTokens manages per-cluster executor tokens: opaque high-entropy
// secrets bound to one cluster_id (spec.md §3 ExecutorToken), created by an
// admin, validated by constant-time compare, and never auto-expiring.
type ExecutorTokens struct {
	ks keystore.Keystore
}

// NewExecutorTokens builds an ExecutorTokens manager over ks.
func NewExecutorTokens(ks keystore.Keystore) *ExecutorTokens {
	return &ExecutorTokens{ks: ks}
}

func executorTokenKey(clusterID string) string {
	return executorTokenKeyPrefix + clusterID
}

// Create generates a new token for clusterID. Exactly one active token per
// cluster is permitted; a second create must fail with Conflict (spec.md
// §3, §8).
func (e *ExecutorTokens) Create(ctx context.Context, clusterID string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", apperror.Wrap(apperror.Internal, "generating executor token", err)
	}

	// executor_token/<cluster_id> never expires: pass 0 for "no TTL".
	ok, err := e.ks.SetNX(ctx, executorTokenKey(clusterID), token, 0)
	if err != nil {
		return "", apperror.Wrap(apperror.ServiceUnavailable, "keystore unavailable", err)
	}
	if !ok {
		return "", apperror.New(apperror.Conflict, "an executor token already exists for this cluster")
	}
	return token, nil
}

// Revoke deletes clusterID's executor token. Per spec.md §4.7, revoking a
// token also deletes the cluster's active marker; that cross-component
// effect is performed by the admin component, not here.
func (e *ExecutorTokens) Revoke(ctx context.Context, clusterID string) error {
	if err := e.ks.Del(ctx, executorTokenKey(clusterID)); err != nil {
		return apperror.Wrap(apperror.ServiceUnavailable, "keystore unavailable", err)
	}
	return nil
}

// Authenticate compares bearer (constant-time) against the stored token for
// clusterID (spec.md §4.2 authenticate_executor).
func (e *ExecutorTokens) Authenticate(ctx context.Context, bearer, clusterID string) (bool, error) {
	stored, err := e.ks.Get(ctx, executorTokenKey(clusterID))
	if err == keystore.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, apperror.Wrap(apperror.ServiceUnavailable, "keystore unavailable", err)
	}
	return subtle.ConstantTimeCompare([]byte(bearer), []byte(stored)) == 1, nil
}

// Exists reports whether clusterID currently has a token, used by the
// admin surface's get_executor_status (spec.md §4.7).
func (e *ExecutorTokens) Exists(ctx context.Context, clusterID string) (bool, error) {
	ok, err := e.ks.Exists(ctx, executorTokenKey(clusterID))
	if err != nil {
		return false, apperror.Wrap(apperror.ServiceUnavailable, "keystore unavailable", err)
	}
	return ok, nil
}

// generateToken mirrors the teacher's high-entropy token generation
// (pkg/apikey/service.go generateAPIKey): 32 random bytes, hex-encoded,
// prefixed so tokens are recognizable in logs.
func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return "exec_" + hex.EncodeToString(buf), nil
}
