package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/xentri-app/xentri-api/platform/go/persistence"
)

// Tx is the set of brief operations available inside one org-bound transaction.
type Tx interface {
	Insert(ctx context.Context, rec persistence.BriefRecord) (persistence.BriefRecord, error)
	Get(ctx context.Context, orgID string, id uuid.UUID, forUpdate bool) (persistence.BriefRecord, error)
	Latest(ctx context.Context, orgID string) (persistence.BriefRecord, error)
	Update(ctx context.Context, rec persistence.BriefRecord) (persistence.BriefRecord, error)
	AppendEvent(ctx context.Context, rec persistence.EventRecord) (persistence.EventRecord, bool, error)
}

// Repository opens org-bound units of work for briefs.
type Repository interface {
	WithOrg(ctx context.Context, orgID string, fn func(tx Tx) error) error
}
