package service

import (
	"context"

	"github.com/xentri-app/xentri-api/platform/go/persistence"
)

// Tx is the set of org-scoped operations available inside one transaction. Every call
// made through a Tx commits or rolls back together.
type Tx interface {
	InsertOrganization(ctx context.Context, org persistence.Organization) (bool, error)
	GetOrganization(ctx context.Context, orgID string) (persistence.Organization, error)
	UpsertUser(ctx context.Context, userID string, email *string) (persistence.UserRecord, error)
	EnsureSettings(ctx context.Context, orgID string) (bool, error)
	GetSettings(ctx context.Context, orgID string, forUpdate bool) (persistence.OrgSettings, error)
	UpdateSettings(ctx context.Context, settings persistence.OrgSettings) (persistence.OrgSettings, error)
	UpsertMember(ctx context.Context, orgID, userID, role string) (persistence.Member, error)
	MemberRole(ctx context.Context, orgID, userID string) (string, error)
	ListMembers(ctx context.Context, orgID string) ([]persistence.Member, error)
	HasEvent(ctx context.Context, orgID, eventType string) (bool, error)
	AppendEvent(ctx context.Context, rec persistence.EventRecord) (persistence.EventRecord, bool, error)
}

// Repository opens org-bound units of work.
type Repository interface {
	// WithOrg runs fn in a transaction bound to orgID's row level security context.
	WithOrg(ctx context.Context, orgID string, fn func(tx Tx) error) error
	// UpsertUser writes the global users table outside any org scope.
	UpsertUser(ctx context.Context, userID string, email *string) (persistence.UserRecord, error)
}
