package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"codelab.org/internal/audit"
	"codelab.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var (
	errMissingBearer = errors.New("missing bearer token")
	errBadScheme     = errors.New("invalid authorization scheme")
)

// Gate verifies bearer tokens on protected routes.
type Gate struct {
	authority *auth.Authority
}

func NewGate(authority *auth.Authority) *Gate {
	return &Gate{authority: authority}
}

// Authorize extracts and verifies the bearer token of r. Every failure wraps
// auth.ErrUnauthorized.
func (g *Gate) Authorize(r *http.Request) (auth.Identity, error) {
	if g == nil || g.authority == nil {
		return auth.Identity{}, fmt.Errorf("%w: %w", auth.ErrUnauthorized, auth.ErrMissingSecret)
	}
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		return auth.Identity{}, fmt.Errorf("%w: %w", auth.ErrUnauthorized, err)
	}
	id, err := g.authority.Verify(token)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("%w: %w", auth.ErrUnauthorized, err)
	}
	return id, nil
}

// protected runs next only for a verified identity, which it places on the
// request context. Rejections never reach next.
func (a *API) protected(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		id, err := a.gate.Authorize(r)
		if err != nil {
			_ = audit.LogEvent(r.Context(), "auth.rejected", map[string]any{
				"path":   r.URL.Path,
				"reason": unauthorizedReason(err),
			})
			w.Header().Set("WWW-Authenticate", `Bearer realm="codelab"`)
			writeError(w, r, http.StatusUnauthorized, unauthorizedReason(err))
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), id)))
	})
}

func unauthorizedReason(err error) string {
	switch {
	case errors.Is(err, errMissingBearer):
		return "missing bearer token"
	case errors.Is(err, errBadScheme):
		return "invalid authorization scheme"
	case errors.Is(err, auth.ErrExpired):
		return "token expired"
	case errors.Is(err, auth.ErrInvalidToken):
		return "invalid token"
	default:
		return "unauthorized"
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingBearer
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errBadScheme
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingBearer
	}
	return token, nil
}
