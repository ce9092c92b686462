package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// BearerClaims are the JWT claims extracted for authentication (spec.md
// §4.2: "the identity is the token's email/subject").
type BearerClaims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
}

// BearerAuthenticator validates signed bearer tokens against a published
// key set, expected audience, expected issuer, and expiration. It is
// constructed only when BearerIssuer/BearerJWKSURL are configured; a nil
// *BearerAuthenticator means JWT authentication is disabled and every
// request must fall back to an API key.
type BearerAuthenticator struct {
	verifier *oidc.IDTokenVerifier
}

// NewBearerAuthenticator builds a verifier from an explicit issuer, JWKS
// URL, and expected audience — no discovery round-trip is required, unlike
// the teacher's tenant-scoped OIDC flow, since the gateway only verifies
// tokens and never drives a login flow of its own.
func NewBearerAuthenticator(issuer, audience, jwksURL string) *BearerAuthenticator {
	keySet := oidc.NewRemoteKeySet(context.Background(), jwksURL)
	cfg := &oidc.Config{SkipClientIDCheck: audience == ""}
	if audience != "" {
		cfg.ClientID = audience
	}
	return &BearerAuthenticator{verifier: oidc.NewVerifier(issuer, keySet, cfg)}
}

// Authenticate validates a raw "Bearer <token>" header value and returns
// the extracted claims.
func (a *BearerAuthenticator) Authenticate(ctx context.Context, authHeader string) (*BearerClaims, error) {
	token := strings.TrimPrefix(authHeader, "Bearer ")
	token = strings.TrimPrefix(token, "bearer ")
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("empty bearer token")
	}

	idToken, err := a.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("verifying bearer token: %w", err)
	}

	var claims BearerClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("extracting bearer claims: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("bearer token missing sub claim")
	}

	return &claims, nil
}
