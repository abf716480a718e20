package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const BriefsTable = "briefs"

// BriefRecord is a row of briefs. Sections is the raw section document keyed by section name.
type BriefRecord struct {
	ID               uuid.UUID
	OrgID            string
	UserID           string
	Sections         json.RawMessage
	SectionStatus    map[string]string
	CompletionStatus string
	SchemaVersion    int
	Version          int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

const briefColumns = `id, org_id, user_id, sections, section_status, completion_status, schema_version,
        version, created_at, updated_at`

// InsertBriefTx stores a new brief with version 1.
func InsertBriefTx(ctx context.Context, q Querier, rec BriefRecord) (BriefRecord, error) {
	if rec.ID == uuid.Nil {
		return BriefRecord{}, errors.New("brief id is required")
	}
	status, err := json.Marshal(rec.SectionStatus)
	if err != nil {
		return BriefRecord{}, fmt.Errorf("encode section status: %w", err)
	}

	stored, err := scanBrief(q.QueryRow(ctx, fmt.Sprintf(`
        INSERT INTO %s (id, org_id, user_id, sections, section_status, completion_status, schema_version, version)
        VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7, 1)
        RETURNING %s
    `, BriefsTable, briefColumns),
		rec.ID,
		rec.OrgID,
		rec.UserID,
		rawOrEmpty(rec.Sections),
		string(status),
		rec.CompletionStatus,
		rec.SchemaVersion,
	))
	if err != nil {
		return BriefRecord{}, fmt.Errorf("insert brief: %w", mapPostgresError(err))
	}
	return stored, nil
}

// GetBriefTx loads a brief visible to the bound org, locking it when forUpdate is set.
func GetBriefTx(ctx context.Context, q Querier, orgID string, id uuid.UUID, forUpdate bool) (BriefRecord, error) {
	query := fmt.Sprintf(`
        SELECT %s
        FROM %s
        WHERE org_id = $1 AND id = $2
    `, briefColumns, BriefsTable)
	if forUpdate {
		query += " FOR UPDATE"
	}

	rec, err := scanBrief(q.QueryRow(ctx, query, orgID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return BriefRecord{}, ErrNotFound
	}
	if err != nil {
		return BriefRecord{}, fmt.Errorf("get brief: %w", mapPostgresError(err))
	}
	return rec, nil
}

// LatestBriefTx returns the most recently created brief of the bound org.
func LatestBriefTx(ctx context.Context, q Querier, orgID string) (BriefRecord, error) {
	rec, err := scanBrief(q.QueryRow(ctx, fmt.Sprintf(`
        SELECT %s
        FROM %s
        WHERE org_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT 1
    `, briefColumns, BriefsTable), orgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return BriefRecord{}, ErrNotFound
	}
	if err != nil {
		return BriefRecord{}, fmt.Errorf("latest brief: %w", mapPostgresError(err))
	}
	return rec, nil
}

// UpdateBriefTx writes sections and statuses and bumps the version.
func UpdateBriefTx(ctx context.Context, q Querier, rec BriefRecord) (BriefRecord, error) {
	status, err := json.Marshal(rec.SectionStatus)
	if err != nil {
		return BriefRecord{}, fmt.Errorf("encode section status: %w", err)
	}

	stored, err := scanBrief(q.QueryRow(ctx, fmt.Sprintf(`
        UPDATE %s
        SET sections = $3::jsonb,
            section_status = $4::jsonb,
            completion_status = $5,
            version = version + 1,
            updated_at = now()
        WHERE org_id = $1 AND id = $2
        RETURNING %s
    `, BriefsTable, briefColumns),
		rec.OrgID,
		rec.ID,
		rawOrEmpty(rec.Sections),
		string(status),
		rec.CompletionStatus,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return BriefRecord{}, ErrNotFound
	}
	if err != nil {
		return BriefRecord{}, fmt.Errorf("update brief: %w", mapPostgresError(err))
	}
	return stored, nil
}

func scanBrief(row pgx.Row) (BriefRecord, error) {
	var (
		rec      BriefRecord
		sections []byte
		status   []byte
	)
	if err := row.Scan(
		&rec.ID,
		&rec.OrgID,
		&rec.UserID,
		&sections,
		&status,
		&rec.CompletionStatus,
		&rec.SchemaVersion,
		&rec.Version,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return BriefRecord{}, err
	}

	rec.Sections = json.RawMessage(sections)
	rec.SectionStatus = map[string]string{}
	if err := json.Unmarshal(status, &rec.SectionStatus); err != nil {
		return BriefRecord{}, fmt.Errorf("decode section status: %w", err)
	}
	return rec, nil
}

func rawOrEmpty(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
