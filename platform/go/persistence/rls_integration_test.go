package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

func newTestEvent(t *testing.T, orgID, eventType string, occurredAt time.Time) EventRecord {
	t.Helper()

	id, err := uuid.NewV7()
	require.NoError(t, err)
	return EventRecord{
		ID:              id,
		OrgID:           orgID,
		Type:            eventType,
		ActorType:       "system",
		ActorID:         "test",
		PayloadSchema:   "xentri://events/" + eventType,
		Payload:         json.RawMessage(`{"n":1}`),
		OccurredAt:      occurredAt.UTC().Truncate(time.Microsecond),
		EnvelopeVersion: "1.0",
	}
}

func seedOrg(t *testing.T, ctx context.Context, db *TenantDB, orgID, ownerID string) {
	t.Helper()

	require.NoError(t, db.WithSystem(ctx, func(tx pgx.Tx) error {
		_, err := UpsertUserTx(ctx, tx, ownerID, nil)
		return err
	}))
	require.NoError(t, db.WithOrg(ctx, orgID, func(tx pgx.Tx) error {
		if _, err := InsertOrganizationTx(ctx, tx, Organization{ID: orgID, Name: orgID, Slug: orgID}); err != nil {
			return err
		}
		if _, err := EnsureOrgSettingsTx(ctx, tx, orgID); err != nil {
			return err
		}
		if _, err := UpsertMemberTx(ctx, tx, orgID, ownerID, OwnerRole); err != nil {
			return err
		}
		_, _, err := AppendEventTx(ctx, tx, newTestEvent(t, orgID, "org.created.v1", time.Now()))
		return err
	}))
}

func TestRowLevelSecurityIntegration(t *testing.T) {
	t.Parallel()

	pool := startTestDatabase(t, PoolConfig{MaxConns: 1})
	db := NewTenantDB(TenantDBConfig{Pool: pool})
	ctx := context.Background()

	const orgA, orgB = "org_aaaaaaaa", "org_bbbbbbbb"
	seedOrg(t, ctx, db, orgA, "user_a")
	seedOrg(t, ctx, db, orgB, "user_b")

	t.Run("tenant isolation", func(t *testing.T) {
		err := db.WithOrg(ctx, orgA, func(tx pgx.Tx) error {
			_, err := GetOrganizationTx(ctx, tx, orgB)
			require.ErrorIs(t, err, ErrNotFound)

			_, err = GetOrgSettingsTx(ctx, tx, orgB, false)
			require.ErrorIs(t, err, ErrNotFound)

			members, err := ListMembersTx(ctx, tx, orgB)
			require.NoError(t, err)
			require.Empty(t, members)

			var visible int
			require.NoError(t, tx.QueryRow(ctx, `SELECT count(*) FROM system_events WHERE org_id = $1`, orgB).Scan(&visible))
			require.Zero(t, visible)

			var total int
			require.NoError(t, tx.QueryRow(ctx, `SELECT count(*) FROM system_events`).Scan(&total))
			require.Equal(t, 1, total)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("fail closed without org", func(t *testing.T) {
		err := db.WithoutOrg(ctx, func(tx pgx.Tx) error {
			for _, table := range []string{OrganizationsTable, OrgSettingsTable, MembersTable, SystemEventsTable, BriefsTable} {
				var n int
				require.NoError(t, tx.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, table)).Scan(&n))
				require.Zerof(t, n, "table %s leaked rows", table)
			}
			return nil
		})
		require.NoError(t, err)

		err = db.WithoutOrg(ctx, func(tx pgx.Tx) error {
			_, _, err := AppendEventTx(ctx, tx, newTestEvent(t, orgA, "org.created.v1", time.Now()))
			return err
		})
		require.ErrorIs(t, err, ErrRowSecurity)
	})

	t.Run("writes into another org are rejected", func(t *testing.T) {
		err := db.WithOrg(ctx, orgA, func(tx pgx.Tx) error {
			_, _, err := AppendEventTx(ctx, tx, newTestEvent(t, orgB, "org.created.v1", time.Now()))
			return err
		})
		require.ErrorIs(t, err, ErrRowSecurity)
	})

	t.Run("binding does not survive the transaction", func(t *testing.T) {
		require.NoError(t, db.WithOrg(ctx, orgA, func(tx pgx.Tx) error { return nil }))

		// MaxConns is 1, so this runs on the same connection.
		err := db.WithSystem(ctx, func(tx pgx.Tx) error {
			var current *string
			require.NoError(t, tx.QueryRow(ctx, `SELECT NULLIF(current_setting($1, true), '')`, OrgSettingName).Scan(&current))
			require.Nil(t, current)

			var role string
			require.NoError(t, tx.QueryRow(ctx, `SELECT current_user`).Scan(&role))
			require.NotEqual(t, DefaultAppRole, role)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("events are immutable", func(t *testing.T) {
		countEvents := func() int {
			var n int
			require.NoError(t, db.WithSystem(ctx, func(tx pgx.Tx) error {
				return tx.QueryRow(ctx, `SELECT count(*) FROM system_events`).Scan(&n)
			}))
			return n
		}
		before := countEvents()

		// Table owner: the trigger rejects updates and the rule turns deletes into no-ops.
		err := db.WithSystem(ctx, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, `UPDATE system_events SET actor_id = 'tampered'`)
			return mapPostgresError(err)
		})
		require.ErrorIs(t, err, ErrImmutable)

		require.NoError(t, db.WithSystem(ctx, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, `DELETE FROM system_events`)
			return err
		}))
		require.Equal(t, before, countEvents())

		// Application role: no UPDATE or DELETE grant on the table.
		err = db.WithOrg(ctx, orgA, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, `UPDATE system_events SET actor_id = 'tampered'`)
			return mapPostgresError(err)
		})
		require.ErrorIs(t, err, ErrRowSecurity)
		require.Equal(t, before, countEvents())

		var deleted int64
		err = db.WithOrg(ctx, orgA, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `DELETE FROM system_events WHERE org_id = $1`, orgA)
			deleted = tag.RowsAffected()
			return mapPostgresError(err)
		})
		// The delete rule rewrites the statement to nothing; a missing-grant error is equally final.
		if err != nil {
			require.ErrorIs(t, err, ErrRowSecurity)
		}
		require.Zero(t, deleted)
		require.Equal(t, before, countEvents())

		require.NoError(t, db.WithSystem(ctx, func(tx pgx.Tx) error {
			var tampered int
			if err := tx.QueryRow(ctx, `SELECT count(*) FROM system_events WHERE actor_id = 'tampered'`).Scan(&tampered); err != nil {
				return err
			}
			require.Zero(t, tampered)
			return nil
		}))
	})

	t.Run("dedupe key returns the existing event", func(t *testing.T) {
		key := "signup-1"
		first := newTestEvent(t, orgA, "user.signup.v1", time.Now())
		first.DedupeKey = &key
		second := newTestEvent(t, orgA, "user.signup.v1", time.Now())
		second.DedupeKey = &key

		store := NewEventStore(db)
		stored, created, err := store.Append(ctx, first)
		require.NoError(t, err)
		require.True(t, created)

		again, created, err := store.Append(ctx, second)
		require.NoError(t, err)
		require.False(t, created)
		require.Equal(t, stored.ID, again.ID)
	})

	t.Run("provisioned event is recorded once per org", func(t *testing.T) {
		store := NewEventStore(db)
		first, created, err := store.Append(ctx, newTestEvent(t, orgB, ProvisionedEventType, time.Now()))
		require.NoError(t, err)
		require.True(t, created)

		again, created, err := store.Append(ctx, newTestEvent(t, orgB, ProvisionedEventType, time.Now()))
		require.NoError(t, err)
		require.False(t, created)
		require.Equal(t, first.ID, again.ID)
	})
}

func TestEventPaginationUnderConcurrentInserts(t *testing.T) {
	t.Parallel()

	pool := startTestDatabase(t, PoolConfig{MaxConns: 8})
	db := NewTenantDB(TenantDBConfig{Pool: pool})
	store := NewEventStore(db)
	ctx := context.Background()

	const orgID = "org_pagination1"
	seedOrg(t, ctx, db, orgID, "user_p")

	// The seed event plus the ones inserted below form the expected set.
	expected := map[uuid.UUID]bool{}
	seeded, err := store.List(ctx, orgID, ListEventsParams{Limit: 10})
	require.NoError(t, err)
	for _, event := range seeded.Events {
		expected[event.ID] = true
	}

	base := time.Now().Add(-time.Hour)
	const total = 37
	for i := 0; i < total; i++ {
		// Every third event shares its timestamp with the previous one to exercise the id tiebreak.
		offset := time.Duration(i-i%3) * time.Second
		event := newTestEvent(t, orgID, "member.joined.v1", base.Add(offset))
		_, _, err := store.Append(ctx, event)
		require.NoError(t, err)
		expected[event.ID] = true
	}

	// The first page is issued before concurrent writers start, as a client would see it.
	firstPage, err := store.List(ctx, orgID, ListEventsParams{Limit: 5})
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		stop    = make(chan struct{})
		appendE error
		mu      sync.Mutex
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, _, err := store.Append(ctx, newTestEvent(t, orgID, "member.joined.v1", time.Now())); err != nil {
				mu.Lock()
				appendE = err
				mu.Unlock()
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	seen := map[uuid.UUID]bool{}
	var ordered []EventRecord
	page := firstPage
	for {
		for _, event := range page.Events {
			require.Falsef(t, seen[event.ID], "duplicate event %s", event.ID)
			seen[event.ID] = true
			ordered = append(ordered, event)
		}
		if !page.HasMore {
			break
		}
		last := page.Events[len(page.Events)-1]
		page, err = store.List(ctx, orgID, ListEventsParams{Limit: 5, After: &EventCursor{OccurredAt: last.OccurredAt, ID: last.ID}})
		require.NoError(t, err)
	}

	close(stop)
	wg.Wait()
	mu.Lock()
	require.NoError(t, appendE)
	mu.Unlock()

	require.Len(t, ordered, len(expected))
	for id := range expected {
		require.Truef(t, seen[id], "missing event %s", id)
	}
	for i := 1; i < len(ordered); i++ {
		prev, cur := ordered[i-1], ordered[i]
		if prev.OccurredAt.Equal(cur.OccurredAt) {
			require.Greater(t, prev.ID.String(), cur.ID.String())
			continue
		}
		require.True(t, prev.OccurredAt.After(cur.OccurredAt))
	}
}
