package repo

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xentri-app/xentri-api/domains/briefs/be/service"
	"github.com/xentri-app/xentri-api/platform/go/persistence"
)

type postgresRepository struct {
	db *persistence.TenantDB
}

// NewPostgresRepository constructs a briefs repository over org-bound transactions.
func NewPostgresRepository(db *persistence.TenantDB) service.Repository {
	if db == nil {
		panic("tenant db is required")
	}
	return &postgresRepository{db: db}
}

func (r *postgresRepository) WithOrg(ctx context.Context, orgID string, fn func(tx service.Tx) error) error {
	return r.db.WithOrg(ctx, orgID, func(tx pgx.Tx) error {
		return fn(postgresTx{q: tx})
	})
}

type postgresTx struct {
	q persistence.Querier
}

func (t postgresTx) Insert(ctx context.Context, rec persistence.BriefRecord) (persistence.BriefRecord, error) {
	return persistence.InsertBriefTx(ctx, t.q, rec)
}

func (t postgresTx) Get(ctx context.Context, orgID string, id uuid.UUID, forUpdate bool) (persistence.BriefRecord, error) {
	return persistence.GetBriefTx(ctx, t.q, orgID, id, forUpdate)
}

func (t postgresTx) Latest(ctx context.Context, orgID string) (persistence.BriefRecord, error) {
	return persistence.LatestBriefTx(ctx, t.q, orgID)
}

func (t postgresTx) Update(ctx context.Context, rec persistence.BriefRecord) (persistence.BriefRecord, error) {
	return persistence.UpdateBriefTx(ctx, t.q, rec)
}

func (t postgresTx) AppendEvent(ctx context.Context, rec persistence.EventRecord) (persistence.EventRecord, bool, error) {
	return persistence.AppendEventTx(ctx, t.q, rec)
}
