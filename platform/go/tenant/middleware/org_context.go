package middleware

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	platformauth "github.com/xentri-app/xentri-api/platform/go/auth"
	platformlogging "github.com/xentri-app/xentri-api/platform/go/logging"
	"github.com/xentri-app/xentri-api/platform/go/problems"
	"github.com/xentri-app/xentri-api/platform/go/tenant"
)

// Config controls middleware behavior.
type Config struct {
	// Verifier answers membership questions for header overrides. Lookups are memoized per request only.
	Verifier tenant.MembershipVerifier
	// Logger is used when no request logger is attached.
	Logger *zap.Logger
}

// WithOrgContext resolves the effective organization from the verified session and the optional
// x-org-id header and attaches tenant.OrgContext to the request context.
func WithOrgContext(cfg Config) func(http.Handler) http.Handler {
	if cfg.Verifier == nil {
		panic("tenant middleware: membership verifier is required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			creds, ok := platformauth.UserFromContext(r.Context())
			if !ok || creds == nil || creds.Id == "" {
				problems.Write(w, r, problems.Unauthorized("a valid session is required"))
				return
			}

			session := tenant.Session{UserID: creds.Id}
			if creds.OrgID != nil {
				session.OrgID = *creds.OrgID
			}
			if creds.OrgRole != nil {
				session.OrgRole = *creds.OrgRole
			}

			resolver := tenant.NewResolver(tenant.NewRequestScopedVerifier(cfg.Verifier))
			org, err := resolver.Resolve(r.Context(), session, r.Header.Get(tenant.HeaderOrgOverride))
			if err != nil {
				writeResolveError(w, r, cfg.Logger, err)
				return
			}

			ctx := tenant.WithOrgContext(r.Context(), org)
			ctx = platformlogging.Enrich(ctx, zap.String("org_id", org.OrgID), zap.String("org_source", string(org.Source)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeResolveError(w http.ResponseWriter, r *http.Request, fallback *zap.Logger, err error) {
	switch {
	case errors.Is(err, tenant.ErrNoSession):
		problems.Write(w, r, problems.Unauthorized("a valid session is required"))
	case errors.Is(err, tenant.ErrNoActiveOrg):
		problems.Write(w, r, problems.Forbidden("no active organization for this session"))
	case errors.Is(err, tenant.ErrInvalidOrgID):
		problems.Write(w, r, problems.BadRequest("x-org-id must be a UUID or an organization id"))
	case errors.Is(err, tenant.ErrNotMember):
		problems.Write(w, r, problems.Forbidden("not a member of the requested organization"))
	default:
		platformlogging.FromContextOr(r.Context(), fallback).Error("resolve organization context",
			zap.Error(err), zap.String("trace_id", problems.TraceID(r)))
		problems.Write(w, r, problems.Internal(""))
	}
}
