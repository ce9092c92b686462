package auth

import (
	"crypto/subtle"
	"fmt"
	"strings"
)

// APIKeyStore holds the process-configured set of accepted API keys, each
// optionally bearing a service identity label (spec.md §3 ApiKey). It is
// loaded once at startup from GATEWAY_API_KEYS and is immutable for the
// process lifetime.
type APIKeyStore struct {
	// keys maps raw key -> service identity (empty string if unlabeled).
	keys map[string]string
}

// NewAPIKeyStore parses a list of "key" or "service:key" entries into an
// APIKeyStore. Startup must fail (spec.md §4.2 MissingConfiguration) if the
// resulting store is empty; NewAPIKeyStore itself does not enforce that —
// internal/config.Load does, since "at least one key configured" is a
// config-loading invariant, not an auth-time one.
func NewAPIKeyStore(entries []string) *APIKeyStore {
	keys := make(map[string]string, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		service, key, found := strings.Cut(entry, ":")
		if !found {
			keys[entry] = ""
			continue
		}
		keys[key] = service
	}
	return &APIKeyStore{keys: keys}
}

// Authenticate validates rawKey against the configured set using a
// constant-time comparison per secret, as spec.md §8's testable property
// requires. It returns the associated service identity (possibly empty)
// on success.
func (s *APIKeyStore) Authenticate(rawKey string) (serviceIdentity string, ok bool) {
	if rawKey == "" {
		return "", false
	}
	for key, service := range s.keys {
		if subtle.ConstantTimeCompare([]byte(rawKey), []byte(key)) == 1 {
			return service, true
		}
	}
	return "", false
}

// Empty reports whether no API keys are configured.
func (s *APIKeyStore) Empty() bool { return len(s.keys) == 0 }

func (s *APIKeyStore) String() string {
	return fmt.Sprintf("APIKeyStore(%d keys)", len(s.keys))
}
