// Package capability implements the Capability Registry (spec.md §4.6):
// store, refresh-TTL, fetch, delete, and list each executor's advertised
// capability profile.
package capability

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/wisbric/kdebug/internal/apperror"
	"github.com/wisbric/kdebug/pkg/keystore"
)

const capabilityKeyPrefix = "cluster_capabilities/"

// Mode is a CapabilityProfile's declared access level.
type Mode string

const (
	ReadOnly         Mode = "readOnly"
	ExtendedReadOnly Mode = "extendedReadOnly"
	FullAccess       Mode = "fullAccess"
)

// Features is derived from Mode (spec.md §4.6): exec and port_forward
// require extendedReadOnly or fullAccess; proxy and cp require fullAccess.
type Features struct {
	Exec        bool `json:"exec"`
	PortForward bool `json:"port_forward"`
	Proxy       bool `json:"proxy"`
	Cp          bool `json:"cp"`
}

// FeaturesFromMode derives the Features map for a given Mode.
func FeaturesFromMode(mode Mode) Features {
	extended := mode == ExtendedReadOnly || mode == FullAccess
	full := mode == FullAccess
	return Features{
		Exec:        extended,
		PortForward: extended,
		Proxy:       full,
		Cp:          full,
	}
}

// Profile is spec.md §3's CapabilityProfile entity.
type Profile struct {
	ClusterID           string    `json:"cluster_id"`
	Mode                Mode      `json:"mode"`
	AllowedVerbs        []string  `json:"allowed_verbs,omitempty"`
	RestrictedResources []string  `json:"restricted_resources,omitempty"`
	AllowedFlags        []string  `json:"allowed_flags,omitempty"`
	ExecutorVersion      string    `json:"executor_version,omitempty"`
	ReportedAt          time.Time `json:"reported_at"`
	ExpiresAt           time.Time `json:"expires_at"`
	Features            Features  `json:"features"`
}

// Registry implements the Capability Registry over a Keystore.
type Registry struct {
	ks  keystore.Keystore
	ttl time.Duration
}

// New builds a Registry with the given profile TTL (spec.md default ~1h).
func New(ks keystore.Keystore, ttl time.Duration) *Registry {
	return &Registry{ks: ks, ttl: ttl}
}

func key(clusterID string) string { return capabilityKeyPrefix + clusterID }

// Store writes or refreshes clusterID's capability profile, recomputing
// reported_at/expires_at and deriving features from mode.
func (r *Registry) Store(ctx context.Context, clusterID string, mode Mode, allowedVerbs, restrictedResources, allowedFlags []string, executorVersion string) (*Profile, error) {
	now := time.Now().UTC()
	profile := &Profile{
		ClusterID:            clusterID,
		Mode:                 mode,
		AllowedVerbs:         allowedVerbs,
		RestrictedResources:  restrictedResources,
		AllowedFlags:         allowedFlags,
		ExecutorVersion:      executorVersion,
		ReportedAt:           now,
		ExpiresAt:            now.Add(r.ttl),
		Features:             FeaturesFromMode(mode),
	}

	if err := r.ks.SetJSONEx(ctx, key(clusterID), profile, r.ttl); err != nil {
		return nil, apperror.Wrap(apperror.ServiceUnavailable, "storing capability profile", err)
	}
	return profile, nil
}

// RefreshTTL re-stores the existing profile with recomputed reported_at and
// expires_at, used on executor heartbeat.
func (r *Registry) RefreshTTL(ctx context.Context, clusterID string) (*Profile, error) {
	profile, err := r.Fetch(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, apperror.New(apperror.NotFound, "no capability profile for cluster")
	}
	return r.Store(ctx, clusterID, profile.Mode, profile.AllowedVerbs, profile.RestrictedResources, profile.AllowedFlags, profile.ExecutorVersion)
}

// Fetch returns clusterID's profile, or nil if absent — consumers treat a
// missing profile as "unknown, proceed with conservative defaults"
// (spec.md §4.6).
func (r *Registry) Fetch(ctx context.Context, clusterID string) (*Profile, error) {
	var profile Profile
	err := r.ks.GetJSON(ctx, key(clusterID), &profile)
	if err == keystore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.ServiceUnavailable, "reading capability profile", err)
	}
	return &profile, nil
}

// Delete removes clusterID's capability profile.
func (r *Registry) Delete(ctx context.Context, clusterID string) error {
	if err := r.ks.Del(ctx, key(clusterID)); err != nil {
		return apperror.Wrap(apperror.ServiceUnavailable, "deleting capability profile", err)
	}
	return nil
}

// List returns every cluster_id with a stored capability profile, sorted.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	keys, err := r.ks.ScanPrefix(ctx, capabilityKeyPrefix)
	if err != nil {
		return nil, apperror.Wrap(apperror.ServiceUnavailable, "scanning capability profiles", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, capabilityKeyPrefix))
	}
	sort.Strings(ids)
	return ids, nil
}
