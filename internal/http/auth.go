package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/hussain-mohammed/kirana-store/pkg/jwt"
)

type authContextKey string

const contextKeyAuth authContextKey = "imagectl-auth-claims"

// requireScope ensures the request carries a bearer token granting scope.
// Without a configured secret every request passes.
func (r *Router) requireScope(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.authSecret == "" {
			next(w, req)
			return
		}
		token, err := bearerToken(req.Header.Get("Authorization"))
		if err != nil {
			r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		claims, err := jwt.Parse(token, r.authSecret)
		if err != nil {
			r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		if !claims.Allows(scope) {
			writeError(w, http.StatusForbidden, "token lacks "+scope+" scope")
			return
		}
		ctx := context.WithValue(req.Context(), contextKeyAuth, claims)
		next(w, req.WithContext(ctx))
	}
}

// claimsFromContext extracts the authenticated claims.
func claimsFromContext(ctx context.Context) (*jwt.Claims, bool) {
	claims, ok := ctx.Value(contextKeyAuth).(*jwt.Claims)
	return claims, ok
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}
