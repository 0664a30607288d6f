package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/kanili/api/internal/platform/requestctx"
)

// GatewayIdentity extracts the shopper identifier injected by the storefront gateway
// and stores it on the request context. Requests without the header pass through
// unauthenticated; handlers that need an identity enforce it with RequireUser.
func GatewayIdentity(header string) func(http.Handler) http.Handler {
	headerName := strings.TrimSpace(header)
	if headerName == "" {
		headerName = "X-User-ID"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(headerName))
			if userID != "" {
				r = r.WithContext(requestctx.WithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireUser rejects requests that carry no shopper identity.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestctx.UserID(r.Context()) == "" {
			respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "shopper identity missing")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
		"status":  status,
	})
}
