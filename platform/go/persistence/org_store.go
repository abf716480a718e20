package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	OrganizationsTable = "organizations"
	OrgSettingsTable   = "org_settings"
	MembersTable       = "members"
	UsersTable         = "users"

	organizationsSlugKey = "organizations_slug_key"

	DefaultPlan = "free"
	OwnerRole   = "owner"
)

// Organization is a row of organizations.
type Organization struct {
	ID        string
	Name      string
	Slug      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrgSettings is the single settings row of an organization.
type OrgSettings struct {
	OrgID       string
	Plan        string
	Features    map[string]any
	Preferences map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Member links a user to an organization with a role.
type Member struct {
	OrgID     string
	UserID    string
	Role      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserRecord is the global identity row keyed by the identity provider's user id.
type UserRecord struct {
	ID        string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InsertOrganizationTx creates the organization row if it does not exist yet. An existing id is a
// no-op; a slug owned by a different organization fails with ErrSlugTaken.
func InsertOrganizationTx(ctx context.Context, q Querier, org Organization) (bool, error) {
	if strings.TrimSpace(org.ID) == "" {
		return false, errors.New("organization id is required")
	}

	tag, err := q.Exec(ctx, fmt.Sprintf(`
        INSERT INTO %s (id, name, slug)
        VALUES ($1, $2, $3)
        ON CONFLICT (id) DO NOTHING
    `, OrganizationsTable), org.ID, strings.TrimSpace(org.Name), strings.TrimSpace(org.Slug))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == organizationsSlugKey {
			return false, fmt.Errorf("insert organization %s: %w", org.ID, ErrSlugTaken)
		}
		return false, fmt.Errorf("insert organization: %w", mapPostgresError(err))
	}
	return tag.RowsAffected() == 1, nil
}

// GetOrganizationTx loads the organization visible to the bound org.
func GetOrganizationTx(ctx context.Context, q Querier, orgID string) (Organization, error) {
	var org Organization
	err := q.QueryRow(ctx, fmt.Sprintf(`
        SELECT id, name, slug, created_at, updated_at
        FROM %s
        WHERE id = $1
    `, OrganizationsTable), orgID).Scan(&org.ID, &org.Name, &org.Slug, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Organization{}, ErrNotFound
	}
	if err != nil {
		return Organization{}, fmt.Errorf("get organization: %w", mapPostgresError(err))
	}
	return org, nil
}

// EnsureOrgSettingsTx creates the default settings row (plan free, empty maps) when absent.
func EnsureOrgSettingsTx(ctx context.Context, q Querier, orgID string) (bool, error) {
	tag, err := q.Exec(ctx, fmt.Sprintf(`
        INSERT INTO %s (org_id, plan, features, preferences)
        VALUES ($1, $2, '{}'::jsonb, '{}'::jsonb)
        ON CONFLICT (org_id) DO NOTHING
    `, OrgSettingsTable), orgID, DefaultPlan)
	if err != nil {
		return false, fmt.Errorf("ensure org settings: %w", mapPostgresError(err))
	}
	return tag.RowsAffected() == 1, nil
}

// GetOrgSettingsTx loads the settings row, locking it when forUpdate is set.
func GetOrgSettingsTx(ctx context.Context, q Querier, orgID string, forUpdate bool) (OrgSettings, error) {
	query := fmt.Sprintf(`
        SELECT org_id, plan, features, preferences, created_at, updated_at
        FROM %s
        WHERE org_id = $1
    `, OrgSettingsTable)
	if forUpdate {
		query += " FOR UPDATE"
	}

	settings, err := scanOrgSettings(q.QueryRow(ctx, query, orgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return OrgSettings{}, ErrNotFound
	}
	if err != nil {
		return OrgSettings{}, fmt.Errorf("get org settings: %w", mapPostgresError(err))
	}
	return settings, nil
}

// UpdateOrgSettingsTx overwrites plan, features and preferences.
func UpdateOrgSettingsTx(ctx context.Context, q Querier, settings OrgSettings) (OrgSettings, error) {
	features, err := marshalMap(settings.Features)
	if err != nil {
		return OrgSettings{}, fmt.Errorf("encode features: %w", err)
	}
	preferences, err := marshalMap(settings.Preferences)
	if err != nil {
		return OrgSettings{}, fmt.Errorf("encode preferences: %w", err)
	}

	updated, err := scanOrgSettings(q.QueryRow(ctx, fmt.Sprintf(`
        UPDATE %s
        SET plan = $2, features = $3::jsonb, preferences = $4::jsonb, updated_at = now()
        WHERE org_id = $1
        RETURNING org_id, plan, features, preferences, created_at, updated_at
    `, OrgSettingsTable), settings.OrgID, settings.Plan, features, preferences))
	if errors.Is(err, pgx.ErrNoRows) {
		return OrgSettings{}, ErrNotFound
	}
	if err != nil {
		return OrgSettings{}, fmt.Errorf("update org settings: %w", mapPostgresError(err))
	}
	return updated, nil
}

// UpsertMemberTx creates or updates a membership. An owner is never downgraded.
func UpsertMemberTx(ctx context.Context, q Querier, orgID, userID, role string) (Member, error) {
	var member Member
	err := q.QueryRow(ctx, fmt.Sprintf(`
        INSERT INTO %s (org_id, user_id, role)
        VALUES ($1, $2, $3)
        ON CONFLICT (org_id, user_id) DO UPDATE
        SET role = CASE WHEN %s.role = '%s' THEN %s.role ELSE EXCLUDED.role END,
            updated_at = now()
        RETURNING org_id, user_id, role, created_at, updated_at
    `, MembersTable, MembersTable, OwnerRole, MembersTable), orgID, userID, role).Scan(
		&member.OrgID, &member.UserID, &member.Role, &member.CreatedAt, &member.UpdatedAt,
	)
	if err != nil {
		return Member{}, fmt.Errorf("upsert member: %w", mapPostgresError(err))
	}
	return member, nil
}

// GetMemberRoleTx returns the caller's role in the bound org.
func GetMemberRoleTx(ctx context.Context, q Querier, orgID, userID string) (string, error) {
	var role string
	err := q.QueryRow(ctx, fmt.Sprintf(`
        SELECT role FROM %s WHERE org_id = $1 AND user_id = $2
    `, MembersTable), orgID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get member role: %w", mapPostgresError(err))
	}
	return role, nil
}

// ListMembersTx lists the bound org's members, oldest first.
func ListMembersTx(ctx context.Context, q Querier, orgID string) ([]Member, error) {
	rows, err := q.Query(ctx, fmt.Sprintf(`
        SELECT m.org_id, m.user_id, m.role, u.email, m.created_at, m.updated_at
        FROM %s m
        LEFT JOIN %s u ON u.id = m.user_id
        WHERE m.org_id = $1
        ORDER BY m.created_at ASC, m.user_id ASC
    `, MembersTable, UsersTable), orgID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", mapPostgresError(err))
	}
	defer rows.Close()

	members := make([]Member, 0)
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.OrgID, &m.UserID, &m.Role, &m.Email, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", mapPostgresError(err))
	}
	return members, nil
}

// UpsertUserTx creates the user row on first reference and refreshes a known email.
func UpsertUserTx(ctx context.Context, q Querier, userID string, email *string) (UserRecord, error) {
	if strings.TrimSpace(userID) == "" {
		return UserRecord{}, errors.New("user id is required")
	}

	var user UserRecord
	err := q.QueryRow(ctx, fmt.Sprintf(`
        INSERT INTO %s (id, email)
        VALUES ($1, $2)
        ON CONFLICT (id) DO UPDATE
        SET email = COALESCE(EXCLUDED.email, %s.email),
            updated_at = now()
        RETURNING id, email, created_at, updated_at
    `, UsersTable, UsersTable), userID, email).Scan(&user.ID, &user.Email, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return UserRecord{}, fmt.Errorf("upsert user: %w", mapPostgresError(err))
	}
	return user, nil
}

func scanOrgSettings(row pgx.Row) (OrgSettings, error) {
	var (
		settings    OrgSettings
		features    []byte
		preferences []byte
	)
	if err := row.Scan(&settings.OrgID, &settings.Plan, &features, &preferences, &settings.CreatedAt, &settings.UpdatedAt); err != nil {
		return OrgSettings{}, err
	}

	settings.Features = map[string]any{}
	settings.Preferences = map[string]any{}
	if err := json.Unmarshal(features, &settings.Features); err != nil {
		return OrgSettings{}, fmt.Errorf("decode features: %w", err)
	}
	if err := json.Unmarshal(preferences, &settings.Preferences); err != nil {
		return OrgSettings{}, fmt.Errorf("decode preferences: %w", err)
	}
	return settings, nil
}

func marshalMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
