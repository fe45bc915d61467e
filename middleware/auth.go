package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const CredentialContextKey = contextKey("credential")

// Credential stores the bearer token of the request in its context.
// Browsers cannot set headers on a WebSocket handshake, so the token
// query parameter is checked first. Requests without a credential pass
// through; rejecting them is up to the handler.
func Credential(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			parts := strings.Split(r.Header.Get("Authorization"), " ")
			if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
				token = parts[1]
			}
		}

		ctx := context.WithValue(r.Context(), CredentialContextKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func CredentialFromContext(ctx context.Context) string {
	token, _ := ctx.Value(CredentialContextKey).(string)
	return token
}
