// Package session implements the Session Registry (spec.md §4.3): session
// CRUD, the per-cluster "active" marker, and correlation-ID fan-out.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/kdebug/internal/apperror"
	"github.com/wisbric/kdebug/internal/telemetry"
	"github.com/wisbric/kdebug/pkg/keystore"
)

const (
	sessionKeyPrefix        = "session/"
	clusterSessionKeyPrefix = "cluster_session/"
	clusterActiveKeyPrefix  = "cluster_active/"
	correlationKeyPrefix    = "correlation/"
	correlationKeySuffix    = "/sessions"
	activeSetKey            = "sessions_active"
)

// Session is spec.md §3's Session entity.
type Session struct {
	SessionID       string    `json:"session_id"`
	ClusterID       string    `json:"cluster_id"`
	UserID          string    `json:"user_id,omitempty"`
	CorrelationID   string    `json:"correlation_id,omitempty"`
	ServiceIdentity string    `json:"service_identity,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivity    time.Time `json:"last_activity"`
	CommandCount    int       `json:"command_count"`
	TTLSeconds      int       `json:"ttl_seconds"`
}

// Status reports the client-observable state of a session: spec.md §4.3's
// state machine exposes only Active/Idle to clients (Expired/Ended are
// inferred from absence, not returned as a status value).
func (s Session) Status(clusterActive bool) string {
	if clusterActive {
		return "active"
	}
	return "idle"
}

func sessionKey(id string) string      { return sessionKeyPrefix + id }
func clusterSessionKey(c string) string { return clusterSessionKeyPrefix + c }
func clusterActiveKey(c string) string  { return clusterActiveKeyPrefix + c }
func correlationKey(cid string) string  { return correlationKeyPrefix + cid + correlationKeySuffix }

// Registry implements the Session Registry over a Keystore.
type Registry struct {
	ks keystore.Keystore
}

// New builds a Registry over the given keystore.
func New(k keystore.Keystore) *Registry {
	return &Registry{ks: k}
}

// CreateSession writes session, cluster_session, and cluster_active indices
// with identical TTL, adds the session to sessions_active, and — if
// correlationID is non-empty — to that correlation's set with matching TTL
// (spec.md §4.3 create_session).
func (r *Registry) CreateSession(ctx context.Context, clusterID, userID, correlationID, serviceIdentity string, ttlSeconds int) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		SessionID:       uuid.NewString(),
		ClusterID:       clusterID,
		UserID:          userID,
		CorrelationID:   correlationID,
		ServiceIdentity: serviceIdentity,
		CreatedAt:       now,
		LastActivity:    now,
		CommandCount:    0,
		TTLSeconds:      ttlSeconds,
	}

	ttl := time.Duration(ttlSeconds) * time.Second

	if err := r.ks.SetJSONEx(ctx, sessionKey(sess.SessionID), sess, ttl); err != nil {
		return nil, apperror.Wrap(apperror.ServiceUnavailable, "writing session", err)
	}
	if err := r.ks.SetEx(ctx, clusterSessionKey(clusterID), sess.SessionID, ttl); err != nil {
		return nil, apperror.Wrap(apperror.ServiceUnavailable, "writing cluster_session index", err)
	}
	// cluster_active TTL must be >= every index referencing it (invariant a).
	if err := r.ks.SetEx(ctx, clusterActiveKey(clusterID), sess.SessionID, ttl); err != nil {
		return nil, apperror.Wrap(apperror.ServiceUnavailable, "writing cluster_active marker", err)
	}
	if err := r.ks.SAdd(ctx, activeSetKey, 0, sess.SessionID); err != nil {
		return nil, apperror.Wrap(apperror.ServiceUnavailable, "adding to sessions_active", err)
	}
	if correlationID != "" {
		if err := r.ks.SAdd(ctx, correlationKey(correlationID), ttl, sess.SessionID); err != nil {
			return nil, apperror.Wrap(apperror.ServiceUnavailable, "adding to correlation index", err)
		}
	}

	return sess, nil
}

// GetSession returns the session, or nil if absent — a missing session is
// not an error on lookup (spec.md §4.3 invariant c).
func (r *Registry) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := r.ks.GetJSON(ctx, sessionKey(id), &sess)
	if err == keystore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.ServiceUnavailable, "reading session", err)
	}
	return &sess, nil
}

// IsClusterActive is a single O(1) existence check on cluster_active/<id>,
// the hot path spec.md §4.3 calls out explicitly.
func (r *Registry) IsClusterActive(ctx context.Context, clusterID string) (bool, error) {
	ok, err := r.ks.Exists(ctx, clusterActiveKey(clusterID))
	if err != nil {
		return false, apperror.Wrap(apperror.ServiceUnavailable, "checking cluster_active", err)
	}
	return ok, nil
}

// MarkClusterActive refreshes cluster_active/<clusterID> unconditionally,
// independent of any session (used by the Command Router's step 2 and the
// Executor Channel's connect/keepalive path).
func (r *Registry) MarkClusterActive(ctx context.Context, clusterID string, ttl time.Duration) error {
	if err := r.ks.SetEx(ctx, clusterActiveKey(clusterID), clusterID, ttl); err != nil {
		return apperror.Wrap(apperror.ServiceUnavailable, "refreshing cluster_active", err)
	}
	return nil
}

// KeepAlive reloads the session, increments command_count, updates
// last_activity, and re-writes it with refreshed TTL, extending
// cluster_active, cluster_session, and the correlation index to match
// (spec.md §4.3 keep_alive). Returns nil, nil if the session is absent.
func (r *Registry) KeepAlive(ctx context.Context, id string) (*Session, error) {
	sess, err := r.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}

	sess.CommandCount++
	sess.LastActivity = time.Now().UTC()
	ttl := time.Duration(sess.TTLSeconds) * time.Second

	if err := r.ks.SetJSONEx(ctx, sessionKey(id), sess, ttl); err != nil {
		return nil, apperror.Wrap(apperror.ServiceUnavailable, "rewriting session", err)
	}
	if err := r.ks.Expire(ctx, clusterSessionKey(sess.ClusterID), ttl); err != nil {
		return nil, apperror.Wrap(apperror.ServiceUnavailable, "extending cluster_session", err)
	}
	if err := r.ks.SetEx(ctx, clusterActiveKey(sess.ClusterID), sess.SessionID, ttl); err != nil {
		return nil, apperror.Wrap(apperror.ServiceUnavailable, "extending cluster_active", err)
	}
	if sess.CorrelationID != "" {
		if err := r.ks.Expire(ctx, correlationKey(sess.CorrelationID), ttl); err != nil {
			return nil, apperror.Wrap(apperror.ServiceUnavailable, "extending correlation index", err)
		}
	}

	return sess, nil
}

// EndSession deletes the session key and its cluster_session index and
// removes id from the active and correlation sets (spec.md §4.3
// end_session). cluster_active/<cluster_id> is not deleted; it expires by
// its own TTL.
func (r *Registry) EndSession(ctx context.Context, id string) error {
	sess, err := r.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		return apperror.New(apperror.NotFound, "session not found")
	}

	if err := r.ks.Del(ctx, sessionKey(id), clusterSessionKey(sess.ClusterID)); err != nil {
		return apperror.Wrap(apperror.ServiceUnavailable, "deleting session indices", err)
	}
	if err := r.ks.SRem(ctx, activeSetKey, id); err != nil {
		return apperror.Wrap(apperror.ServiceUnavailable, "removing from sessions_active", err)
	}
	if sess.CorrelationID != "" {
		if err := r.ks.SRem(ctx, correlationKey(sess.CorrelationID), id); err != nil {
			return apperror.Wrap(apperror.ServiceUnavailable, "removing from correlation index", err)
		}
	}

	return nil
}

// GetActiveSessions scans sessions_active, purging stale entries (sessions
// whose key has already expired) as it encounters them, per spec.md §4.3.
func (r *Registry) GetActiveSessions(ctx context.Context) ([]*Session, error) {
	ids, err := r.ks.SMembers(ctx, activeSetKey)
	if err != nil {
		return nil, apperror.Wrap(apperror.ServiceUnavailable, "reading sessions_active", err)
	}
	return r.resolveAndPurge(ctx, activeSetKey, ids)
}

// GetSessionsByCorrelation mirrors GetActiveSessions over a correlation's
// session set (spec.md §4.3 get_sessions_by_correlation).
func (r *Registry) GetSessionsByCorrelation(ctx context.Context, correlationID string) ([]*Session, error) {
	key := correlationKey(correlationID)
	ids, err := r.ks.SMembers(ctx, key)
	if err != nil {
		return nil, apperror.Wrap(apperror.ServiceUnavailable, "reading correlation index", err)
	}
	return r.resolveAndPurge(ctx, key, ids)
}

func (r *Registry) resolveAndPurge(ctx context.Context, setKey string, ids []string) ([]*Session, error) {
	sessions := make([]*Session, 0, len(ids))
	var stale []string

	for _, id := range ids {
		sess, err := r.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			stale = append(stale, id)
			continue
		}
		sessions = append(sessions, sess)
	}

	if len(stale) > 0 {
		if err := r.ks.SRem(ctx, setKey, stale...); err != nil {
			return nil, apperror.Wrap(apperror.ServiceUnavailable, "purging stale members", err)
		}
	}

	return sessions, nil
}

// CleanupExpired sweeps sessions_active against presence of the session
// key, removing entries whose session has already expired (spec.md §4.3
// cleanup_expired). It returns the number of entries purged.
func (r *Registry) CleanupExpired(ctx context.Context) (int, error) {
	ids, err := r.ks.SMembers(ctx, activeSetKey)
	if err != nil {
		return 0, apperror.Wrap(apperror.ServiceUnavailable, "reading sessions_active", err)
	}

	var stale []string
	for _, id := range ids {
		exists, err := r.ks.Exists(ctx, sessionKey(id))
		if err != nil {
			return 0, apperror.Wrap(apperror.ServiceUnavailable, "checking session existence", err)
		}
		if !exists {
			stale = append(stale, id)
		}
	}
	telemetry.SessionsActiveTotal.Set(float64(len(ids) - len(stale)))

	if len(stale) == 0 {
		return 0, nil
	}
	if err := r.ks.SRem(ctx, activeSetKey, stale...); err != nil {
		return 0, apperror.Wrap(apperror.ServiceUnavailable, "purging expired sessions", err)
	}
	return len(stale), nil
}

// RunCleanupLoop runs CleanupExpired on a ticker until ctx is cancelled,
// grounded on the teacher's pkg/roster periodic-sweep loop shape.
func (r *Registry) RunCleanupLoop(ctx context.Context, interval time.Duration, onErr func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.CleanupExpired(ctx); err != nil && onErr != nil {
				onErr(fmt.Errorf("session cleanup sweep: %w", err))
			}
		}
	}
}
