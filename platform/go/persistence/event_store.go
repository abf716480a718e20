package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	SystemEventsTable = "system_events"

	// ProvisionedEventType is guarded by the system_events_org_provisioned_once index.
	ProvisionedEventType = "org.provisioned.v1"
)

// EventRecord is an immutable row of system_events.
type EventRecord struct {
	ID              uuid.UUID       `json:"id"`
	OrgID           string          `json:"org_id"`
	Type            string          `json:"type"`
	ActorType       string          `json:"actor_type"`
	ActorID         string          `json:"actor_id"`
	PayloadSchema   string          `json:"payload_schema"`
	Payload         json.RawMessage `json:"payload"`
	Source          *string         `json:"source,omitempty"`
	OccurredAt      time.Time       `json:"occurred_at"`
	RecordedAt      time.Time       `json:"recorded_at"`
	DedupeKey       *string         `json:"dedupe_key,omitempty"`
	CorrelationID   *string         `json:"correlation_id,omitempty"`
	TraceID         *string         `json:"trace_id,omitempty"`
	EnvelopeVersion string          `json:"envelope_version"`
}

// EventCursor is the keyset position of the last event of a page.
type EventCursor struct {
	OccurredAt time.Time
	ID         uuid.UUID
}

// ListEventsParams filters a page of events. Limit must already be validated by the caller.
type ListEventsParams struct {
	Type  *string
	Since *time.Time
	After *EventCursor
	Limit int
}

// ListEventsResult holds one page in (occurred_at, id) descending order.
type ListEventsResult struct {
	Events  []EventRecord
	HasMore bool
}

const eventColumns = `id, org_id, event_type, actor_type, actor_id, payload_schema, payload, source,
        occurred_at, recorded_at, dedupe_key, correlation_id, trace_id, envelope_version`

// AppendEventTx inserts rec. When a row with the same dedupe key (or the same provisioned
// event) already exists for the org, the existing row is returned with created=false.
func AppendEventTx(ctx context.Context, q Querier, rec EventRecord) (EventRecord, bool, error) {
	if rec.ID == uuid.Nil {
		return EventRecord{}, false, errors.New("event id is required")
	}
	if strings.TrimSpace(rec.OrgID) == "" {
		return EventRecord{}, false, ErrNoOrgContext
	}
	if len(rec.Payload) == 0 {
		rec.Payload = json.RawMessage(`{}`)
	}

	row := q.QueryRow(ctx, fmt.Sprintf(`
        INSERT INTO %s (id, org_id, event_type, actor_type, actor_id, payload_schema, payload, source,
            occurred_at, dedupe_key, correlation_id, trace_id, envelope_version)
        VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, $11, $12, $13)
        ON CONFLICT DO NOTHING
        RETURNING %s
    `, SystemEventsTable, eventColumns),
		rec.ID,
		rec.OrgID,
		rec.Type,
		rec.ActorType,
		rec.ActorID,
		rec.PayloadSchema,
		string(rec.Payload),
		rec.Source,
		rec.OccurredAt,
		rec.DedupeKey,
		rec.CorrelationID,
		rec.TraceID,
		rec.EnvelopeVersion,
	)

	stored, err := scanEvent(row)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return EventRecord{}, false, fmt.Errorf("insert event: %w", mapPostgresError(err))
	}

	existing, err := findDuplicateEvent(ctx, q, rec)
	if err != nil {
		return EventRecord{}, false, err
	}
	return existing, false, nil
}

func findDuplicateEvent(ctx context.Context, q Querier, rec EventRecord) (EventRecord, error) {
	row := q.QueryRow(ctx, fmt.Sprintf(`
        SELECT %s
        FROM %s
        WHERE org_id = $1
          AND ((dedupe_key IS NOT NULL AND dedupe_key = $2) OR (event_type = $3 AND $3 = $4))
        ORDER BY occurred_at ASC, id ASC
        LIMIT 1
    `, eventColumns, SystemEventsTable), rec.OrgID, rec.DedupeKey, rec.Type, ProvisionedEventType)

	existing, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// The conflicting row is not visible to the bound org.
		return EventRecord{}, ErrConflict
	}
	if err != nil {
		return EventRecord{}, fmt.Errorf("lookup duplicate event: %w", mapPostgresError(err))
	}
	return existing, nil
}

// HasEventTx reports whether the bound org already recorded an event of eventType.
func HasEventTx(ctx context.Context, q Querier, orgID, eventType string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, fmt.Sprintf(`
        SELECT EXISTS (SELECT 1 FROM %s WHERE org_id = $1 AND event_type = $2)
    `, SystemEventsTable), orgID, eventType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check event: %w", mapPostgresError(err))
	}
	return exists, nil
}

// ListEventsTx returns a page of events visible to the bound org.
func ListEventsTx(ctx context.Context, q Querier, params ListEventsParams) (ListEventsResult, error) {
	if params.Limit <= 0 {
		return ListEventsResult{}, errors.New("limit must be positive")
	}

	whereParts := []string{"1=1"}
	var args []any

	if params.Type != nil {
		args = append(args, *params.Type)
		whereParts = append(whereParts, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if params.Since != nil {
		args = append(args, *params.Since)
		whereParts = append(whereParts, fmt.Sprintf("occurred_at >= $%d", len(args)))
	}
	if params.After != nil {
		args = append(args, params.After.OccurredAt, params.After.ID)
		whereParts = append(whereParts, fmt.Sprintf("(occurred_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}

	args = append(args, params.Limit+1)
	query := fmt.Sprintf(`
        SELECT %s
        FROM %s
        WHERE %s
        ORDER BY occurred_at DESC, id DESC
        LIMIT $%d
    `, eventColumns, SystemEventsTable, strings.Join(whereParts, " AND "), len(args))

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return ListEventsResult{}, fmt.Errorf("list events: %w", mapPostgresError(err))
	}
	defer rows.Close()

	events := make([]EventRecord, 0, params.Limit)
	for rows.Next() {
		event, scanErr := scanEvent(rows)
		if scanErr != nil {
			return ListEventsResult{}, fmt.Errorf("scan event: %w", scanErr)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return ListEventsResult{}, fmt.Errorf("iterate events: %w", mapPostgresError(err))
	}

	result := ListEventsResult{Events: events}
	if len(events) > params.Limit {
		result.Events = events[:params.Limit]
		result.HasMore = true
	}
	return result, nil
}

// EventStore appends and lists events in org-bound transactions.
type EventStore struct {
	db *TenantDB
}

func NewEventStore(db *TenantDB) *EventStore {
	if db == nil {
		panic("event store requires tenant db")
	}
	return &EventStore{db: db}
}

// Append writes rec under rec.OrgID.
func (s *EventStore) Append(ctx context.Context, rec EventRecord) (EventRecord, bool, error) {
	var (
		stored  EventRecord
		created bool
	)
	err := s.db.WithOrg(ctx, rec.OrgID, func(tx pgx.Tx) error {
		var err error
		stored, created, err = AppendEventTx(ctx, tx, rec)
		return err
	})
	return stored, created, err
}

// List returns a page of orgID's events.
func (s *EventStore) List(ctx context.Context, orgID string, params ListEventsParams) (ListEventsResult, error) {
	var result ListEventsResult
	err := s.db.WithOrg(ctx, orgID, func(tx pgx.Tx) error {
		var err error
		result, err = ListEventsTx(ctx, tx, params)
		return err
	})
	return result, err
}

func scanEvent(row pgx.Row) (EventRecord, error) {
	var (
		event   EventRecord
		payload []byte
	)
	if err := row.Scan(
		&event.ID,
		&event.OrgID,
		&event.Type,
		&event.ActorType,
		&event.ActorID,
		&event.PayloadSchema,
		&payload,
		&event.Source,
		&event.OccurredAt,
		&event.RecordedAt,
		&event.DedupeKey,
		&event.CorrelationID,
		&event.TraceID,
		&event.EnvelopeVersion,
	); err != nil {
		return EventRecord{}, err
	}
	event.Payload = json.RawMessage(payload)
	return event, nil
}
