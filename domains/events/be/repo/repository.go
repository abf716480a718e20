package repo

import (
	"context"

	"github.com/xentri-app/xentri-api/platform/go/persistence"
)

// Repository defines the persistence operations required by the events service.
type Repository interface {
	Append(ctx context.Context, rec persistence.EventRecord) (persistence.EventRecord, bool, error)
	List(ctx context.Context, orgID string, params persistence.ListEventsParams) (persistence.ListEventsResult, error)
}

type postgresRepository struct {
	store *persistence.EventStore
}

// NewPostgresRepository constructs a repository backed by the shared persistence layer.
func NewPostgresRepository(store *persistence.EventStore) Repository {
	if store == nil {
		panic("event store is required")
	}
	return &postgresRepository{store: store}
}

func (r *postgresRepository) Append(ctx context.Context, rec persistence.EventRecord) (persistence.EventRecord, bool, error) {
	return r.store.Append(ctx, rec)
}

func (r *postgresRepository) List(ctx context.Context, orgID string, params persistence.ListEventsParams) (persistence.ListEventsResult, error) {
	return r.store.List(ctx, orgID, params)
}
