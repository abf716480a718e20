package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// MemberDirectory answers cross-tenant membership questions from the members table.
// It runs on the system path because the caller's org is not bound yet when it is asked.
type MemberDirectory struct {
	db *TenantDB
}

func NewMemberDirectory(db *TenantDB) *MemberDirectory {
	if db == nil {
		panic("member directory requires tenant db")
	}
	return &MemberDirectory{db: db}
}

// IsMember reports whether userID holds any role in orgID.
func (d *MemberDirectory) IsMember(ctx context.Context, userID, orgID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	orgID = strings.TrimSpace(orgID)
	if userID == "" || orgID == "" {
		return false, nil
	}

	var exists bool
	err := d.db.WithSystem(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, fmt.Sprintf(`
            SELECT EXISTS (SELECT 1 FROM %s WHERE org_id = $1 AND user_id = $2)
        `, MembersTable), orgID, userID).Scan(&exists)
	})
	if err != nil {
		return false, fmt.Errorf("lookup membership: %w", mapPostgresError(err))
	}
	return exists, nil
}
