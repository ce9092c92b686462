package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// Middleware returns an HTTP middleware implementing spec.md §4.2's
// authenticate(api_key?, bearer?): if both a bearer token and an API key
// are presented, bearer is tried first and api_key is the fallback on
// bearer failure. Requests from loopback addresses (the bundled agent
// calling its own frontend) are exempted, as are the paths listed in
// exemptPaths (health probes, the auth discovery endpoint).
func Middleware(apiKeys *APIKeyStore, bearer *BearerAuthenticator, audit *AuditWriter, logger *slog.Logger, exemptPaths map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exemptPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			if IsLoopback(r) {
				identity := &Identity{Subject: "internal:loopback", Method: MethodAPIKey}
				next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), identity)))
				return
			}

			identity, reason := authenticate(r, apiKeys, bearer)

			if audit != nil {
				ev := AuditEvent{
					Success:  identity != nil,
					RemoteIP: ClientIP(r),
					Reason:   reason,
				}
				if identity != nil {
					ev.Method = string(identity.Method)
					ev.Identity = identity.Subject
				}
				audit.Log(ev)
			}

			if identity == nil {
				logger.Warn("authentication failed", "reason", reason, "remote_ip", ClientIP(r))
				respondUnauthorized(w, "no valid authentication provided")
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), identity)))
		})
	}
}

// authenticate implements the bearer-first, api_key-fallback precedence of
// spec.md §4.2. It returns a non-nil Identity on success, or a reason
// string describing why authentication failed.
func authenticate(r *http.Request, apiKeys *APIKeyStore, bearer *BearerAuthenticator) (*Identity, string) {
	authHeader := r.Header.Get("Authorization")
	hasBearer := strings.HasPrefix(authHeader, "Bearer ") || strings.HasPrefix(authHeader, "bearer ")
	rawKey := r.Header.Get("X-Api-Key")
	if rawKey == "" {
		rawKey = r.Header.Get("X-API-Key")
	}

	if hasBearer {
		if bearer == nil {
			return nil, "bearer presented but no bearer authenticator configured"
		}
		claims, err := bearer.Authenticate(r.Context(), authHeader)
		if err == nil {
			subject := claims.Email
			if subject == "" {
				subject = claims.Subject
			}
			return &Identity{Subject: subject, Method: MethodJWT}, ""
		}
		if rawKey == "" {
			return nil, "invalid bearer token"
		}
		// fall through to api_key per spec.md §4.2.
	}

	if rawKey != "" {
		if apiKeys == nil {
			return nil, "api key presented but none configured"
		}
		service, ok := apiKeys.Authenticate(rawKey)
		if !ok {
			return nil, "invalid api key"
		}
		return &Identity{Subject: service, Method: MethodAPIKey}, ""
	}

	return nil, "no credential presented"
}

func respondUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "invalid_credentials",
		"message": message,
	})
}
