package middleware

import (
	"net/http"
	"strings"

	"github.com/kiranshivaraju/vdogen/internal/api/response"
)

// TokenVerifier validates a token and returns the user id it was issued to.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Auth provides token authentication middleware.
type Auth struct {
	verifier TokenVerifier
}

// NewAuth creates a new Auth middleware.
func NewAuth(v TokenVerifier) *Auth {
	return &Auth{verifier: v}
}

// Authenticate validates the Bearer token and sets the user id in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}
		a.serve(w, r, next, token)
	})
}

// AuthenticateQuery validates a token passed in the named query parameter. Media players
// fetching playlists cannot set headers, so the manifest route uses this instead.
func (a *Auth) AuthenticateQuery(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimSpace(r.URL.Query().Get(param))
			if token == "" {
				response.Error(w, http.StatusUnauthorized,
					"INVALID_TOKEN", "Missing "+param+" parameter", nil)
				return
			}
			a.serve(w, r, next, token)
		})
	}
}

func (a *Auth) serve(w http.ResponseWriter, r *http.Request, next http.Handler, token string) {
	userID, err := a.verifier.Verify(token)
	if err != nil {
		response.Error(w, http.StatusUnauthorized,
			"INVALID_TOKEN", "The provided token is invalid or expired", nil)
		return
	}
	next.ServeHTTP(w, r.WithContext(SetUserID(r.Context(), userID)))
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
