package tenant

import (
	"context"
)

// Source records how the effective organization was chosen.
type Source string

const (
	SourceSession  Source = "session"
	SourceOverride Source = "override"
)

// OrgContext is the effective organization of a request, resolved from verified claims.
// It is attached to the context by middleware and read by every tenant-scoped service.
type OrgContext struct {
	OrgID  string
	UserID string
	Role   string
	Source Source
}

type ctxKey string

const orgKey ctxKey = "XENTRI_ORG_CONTEXT"

// WithOrgContext returns a derived context carrying the OrgContext.
func WithOrgContext(ctx context.Context, org OrgContext) context.Context {
	return context.WithValue(ctx, orgKey, org)
}

// FromContext extracts the OrgContext and a boolean indicating presence.
func FromContext(ctx context.Context) (OrgContext, bool) {
	v := ctx.Value(orgKey)
	if v == nil {
		return OrgContext{}, false
	}

	org, ok := v.(OrgContext)
	return org, ok && org.OrgID != ""
}

// RequireFromContext returns the OrgContext or ErrNoActiveOrg.
func RequireFromContext(ctx context.Context) (OrgContext, error) {
	org, ok := FromContext(ctx)
	if !ok {
		return OrgContext{}, ErrNoActiveOrg
	}
	return org, nil
}
