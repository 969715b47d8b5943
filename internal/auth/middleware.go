package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey struct{}

var accountIDKey contextKey

// AccountIDFromContext returns the account id placed by Middleware.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	accountID, ok := ctx.Value(accountIDKey).(string)
	return accountID, ok
}

// Middleware gates a handler behind a valid session token. This is the
// contract the task endpoints consume: verify(token) -> account id, or 401.
// Reset-authorization tokens are rejected here; they only open the
// password-change endpoint.
func Middleware(tokens *TokenIssuer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			writeError(w, http.StatusUnauthorized, "Not authorized, no token")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "Not authorized, invalid token format")
			return
		}

		accountID, err := tokens.VerifySession(strings.TrimSpace(parts[1]))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Not authorized, token failed")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountIDKey, accountID)))
	})
}
