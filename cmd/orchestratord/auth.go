package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/opscore/orchestrator/internal/config"
)

type ownerContextKey struct{}

// withAuth enforces the pre-shared API keys from config.AuthConfig.APIKeys
// on every request, attaching the matched key's owner id to the request
// context for handlers to read via ownerFromContext. No auth config means
// no keys configured — every request is rejected rather than silently
// allowed, since an orchestrator with no owner boundary can't attribute
// runs correctly.
func withAuth(cfg config.AuthConfig, next http.Handler) http.Handler {
	byKey := make(map[string]string, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		byKey[k.Key] = k.OwnerID
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r.Header.Get("Authorization"))
		owner, ok := byKey[token]
		if token == "" || !ok {
			writeError(w, http.StatusUnauthorized, "missing or invalid api key")
			return
		}

		ctx := context.WithValue(r.Context(), ownerContextKey{}, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}

func ownerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerContextKey{}).(string)
	return owner
}
