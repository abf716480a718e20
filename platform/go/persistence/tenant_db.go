package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrgSettingName is the transaction-local parameter read by every row level security policy.
const OrgSettingName = "app.current_org_id"

// DefaultAppRole is the non-owner role tenant-scoped transactions switch to.
const DefaultAppRole = "xentri_app"

type txBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// TenantDB binds the organization context to each transaction it opens.
//
// The binding uses SET LOCAL ROLE and set_config(..., true), so both the role and the org id
// are discarded on commit or rollback and never survive on a pooled connection.
type TenantDB struct {
	pool    txBeginner
	appRole string
}

type TenantDBConfig struct {
	Pool    *pgxpool.Pool
	AppRole string
}

func NewTenantDB(cfg TenantDBConfig) *TenantDB {
	if cfg.Pool == nil {
		panic("TenantDB requires pool")
	}

	role := strings.TrimSpace(cfg.AppRole)
	if role == "" {
		role = DefaultAppRole
	}
	return &TenantDB{pool: cfg.Pool, appRole: role}
}

// WithOrg executes fn inside a transaction bound to orgID under the application role.
func (db *TenantDB) WithOrg(ctx context.Context, orgID string, fn func(tx pgx.Tx) error) error {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return ErrNoOrgContext
	}

	return db.inTx(ctx, func(tx pgx.Tx) error {
		if err := db.setRole(ctx, tx); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `SELECT set_config($1, $2, true)`, OrgSettingName, orgID); err != nil {
			return fmt.Errorf("bind org context: %w", mapPostgresError(err))
		}
		return fn(tx)
	})
}

// WithoutOrg executes fn under the application role with no organization bound.
// Tenant-scoped reads return nothing and writes are rejected by policy.
func (db *TenantDB) WithoutOrg(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return db.inTx(ctx, func(tx pgx.Tx) error {
		if err := db.setRole(ctx, tx); err != nil {
			return err
		}
		return fn(tx)
	})
}

// WithSystem executes fn with the connection's own identity and no role switching.
// Only global tables (users) and cross-tenant directory lookups belong here.
func (db *TenantDB) WithSystem(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return db.inTx(ctx, fn)
}

func (db *TenantDB) setRole(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL ROLE %s", pgx.Identifier{db.appRole}.Sanitize())); err != nil {
		return fmt.Errorf("set role: %w", mapPostgresError(err))
	}
	return nil
}

func (db *TenantDB) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", mapPostgresError(err))
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", mapPostgresError(err))
	}
	return nil
}
