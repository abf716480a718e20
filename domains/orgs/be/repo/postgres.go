package repo

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/xentri-app/xentri-api/domains/orgs/be/service"
	"github.com/xentri-app/xentri-api/platform/go/persistence"
)

// PostgresRepository runs org units of work on row level security bound transactions.
type PostgresRepository struct {
	db *persistence.TenantDB
}

// NewPostgresRepository constructs a PostgresRepository.
func NewPostgresRepository(db *persistence.TenantDB) *PostgresRepository {
	if db == nil {
		panic("tenant db is required")
	}
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) WithOrg(ctx context.Context, orgID string, fn func(tx service.Tx) error) error {
	return r.db.WithOrg(ctx, orgID, func(tx pgx.Tx) error {
		return fn(postgresTx{q: tx})
	})
}

func (r *PostgresRepository) UpsertUser(ctx context.Context, userID string, email *string) (persistence.UserRecord, error) {
	var user persistence.UserRecord
	err := r.db.WithSystem(ctx, func(tx pgx.Tx) error {
		var err error
		user, err = persistence.UpsertUserTx(ctx, tx, userID, email)
		return err
	})
	return user, err
}

type postgresTx struct {
	q persistence.Querier
}

func (t postgresTx) InsertOrganization(ctx context.Context, org persistence.Organization) (bool, error) {
	return persistence.InsertOrganizationTx(ctx, t.q, org)
}

func (t postgresTx) GetOrganization(ctx context.Context, orgID string) (persistence.Organization, error) {
	return persistence.GetOrganizationTx(ctx, t.q, orgID)
}

func (t postgresTx) UpsertUser(ctx context.Context, userID string, email *string) (persistence.UserRecord, error) {
	return persistence.UpsertUserTx(ctx, t.q, userID, email)
}

func (t postgresTx) EnsureSettings(ctx context.Context, orgID string) (bool, error) {
	return persistence.EnsureOrgSettingsTx(ctx, t.q, orgID)
}

func (t postgresTx) GetSettings(ctx context.Context, orgID string, forUpdate bool) (persistence.OrgSettings, error) {
	return persistence.GetOrgSettingsTx(ctx, t.q, orgID, forUpdate)
}

func (t postgresTx) UpdateSettings(ctx context.Context, settings persistence.OrgSettings) (persistence.OrgSettings, error) {
	return persistence.UpdateOrgSettingsTx(ctx, t.q, settings)
}

func (t postgresTx) UpsertMember(ctx context.Context, orgID, userID, role string) (persistence.Member, error) {
	return persistence.UpsertMemberTx(ctx, t.q, orgID, userID, role)
}

func (t postgresTx) MemberRole(ctx context.Context, orgID, userID string) (string, error) {
	return persistence.GetMemberRoleTx(ctx, t.q, orgID, userID)
}

func (t postgresTx) ListMembers(ctx context.Context, orgID string) ([]persistence.Member, error) {
	return persistence.ListMembersTx(ctx, t.q, orgID)
}

func (t postgresTx) HasEvent(ctx context.Context, orgID, eventType string) (bool, error) {
	return persistence.HasEventTx(ctx, t.q, orgID, eventType)
}

func (t postgresTx) AppendEvent(ctx context.Context, rec persistence.EventRecord) (persistence.EventRecord, bool, error) {
	return persistence.AppendEventTx(ctx, t.q, rec)
}

var _ service.Repository = (*PostgresRepository)(nil)
