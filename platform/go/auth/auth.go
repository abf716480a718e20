package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/xentri-app/xentri-api/platform/go/problems"
)

type ctxKey string

const (
	ctxUserCredentials ctxKey = "XENTRI_USER_CREDENTIALS"
)

// UserCredentials is the verified identity attached to a request.
// OrgID is the session's active organization; it is nil when the user has none selected.
type UserCredentials struct {
	Id            string
	Email         string
	EmailVerified bool
	Name          *string
	PictureURL    *string
	OrgID         *string
	OrgRole       *string
	SessionID     *string
}

func UserFromContext(ctx context.Context) (*UserCredentials, bool) {
	v := ctx.Value(ctxUserCredentials)
	if v == nil {
		return nil, false
	}
	u, ok := v.(*UserCredentials)
	return u, ok
}

// WithUser stores creds on ctx. Used by background callers and tests.
func WithUser(ctx context.Context, creds *UserCredentials) context.Context {
	return context.WithValue(ctx, ctxUserCredentials, creds)
}

// VerifyFunc validates the incoming JWT and returns its claims map.
type VerifyFunc func(ctx context.Context, token string) (map[string]interface{}, error)

// ExtractFunc converts a claims map into UserCredentials.
type ExtractFunc func(claims map[string]interface{}) (*UserCredentials, error)

// JWT parses the request and sets the context credentials using the provided verify/extract functions.
// Requests without a bearer token pass through unauthenticated; RequireUser rejects them.
func JWT(verify VerifyFunc, extract ExtractFunc) func(http.Handler) http.Handler {
	if verify == nil {
		panic("auth.JWT: verify func must not be nil")
	}
	if extract == nil {
		extract = DefaultCredentialExtractor
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token := BearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := verify(r.Context(), token)
			if err != nil {
				w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm="api", error="invalid_token", error_description=%q`, err.Error()))
				problems.Write(w, r, problems.Unauthorized("invalid session token"))
				return
			}

			creds, err := extract(claims)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token", error_description="invalid claims"`)
				problems.Write(w, r, problems.Unauthorized("invalid session claims"))
				return
			}

			ctx := WithUser(r.Context(), creds)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser rejects requests that carry no verified identity.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		creds, ok := UserFromContext(r.Context())
		if !ok || creds == nil || creds.Id == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
			problems.Write(w, r, problems.Unauthorized("a valid session is required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// BearerToken returns the token from an "Authorization: Bearer" header, or "" when absent.
// The scheme is matched case-insensitively.
func BearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
