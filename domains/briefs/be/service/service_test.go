package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xentri-app/xentri-api/domains/events/be/schema"
	eventsservice "github.com/xentri-app/xentri-api/domains/events/be/service"
	"github.com/xentri-app/xentri-api/platform/go/persistence"
	"github.com/xentri-app/xentri-api/platform/go/tenant"
)

type unusedEventsRepository struct{}

func (unusedEventsRepository) Append(context.Context, persistence.EventRecord) (persistence.EventRecord, bool, error) {
	panic("briefs must append through its own transaction")
}

func (unusedEventsRepository) List(context.Context, string, persistence.ListEventsParams) (persistence.ListEventsResult, error) {
	panic("not used")
}

// fakeRepository scopes every read to the bound org and commits only successful units.
type fakeRepository struct {
	mu       sync.Mutex
	briefs   map[uuid.UUID]persistence.BriefRecord
	events   []persistence.EventRecord
	insertFn func(rec persistence.BriefRecord) error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{briefs: map[uuid.UUID]persistence.BriefRecord{}}
}

func (r *fakeRepository) WithOrg(ctx context.Context, orgID string, fn func(tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &fakeTx{repo: r, orgID: orgID, pending: map[uuid.UUID]persistence.BriefRecord{}}
	if err := fn(tx); err != nil {
		return err
	}
	for id, rec := range tx.pending {
		r.briefs[id] = rec
	}
	r.events = append(r.events, tx.events...)
	return nil
}

func (r *fakeRepository) eventsOfType(eventType string) []persistence.EventRecord {
	var out []persistence.EventRecord
	for _, ev := range r.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type fakeTx struct {
	repo    *fakeRepository
	orgID   string
	pending map[uuid.UUID]persistence.BriefRecord
	events  []persistence.EventRecord
}

func (t *fakeTx) lookup(id uuid.UUID) (persistence.BriefRecord, bool) {
	if rec, ok := t.pending[id]; ok {
		return rec, true
	}
	rec, ok := t.repo.briefs[id]
	return rec, ok && rec.OrgID == t.orgID
}

func (t *fakeTx) Insert(_ context.Context, rec persistence.BriefRecord) (persistence.BriefRecord, error) {
	if t.repo.insertFn != nil {
		if err := t.repo.insertFn(rec); err != nil {
			return persistence.BriefRecord{}, err
		}
	}
	now := time.Now().UTC()
	rec.Version = 1
	rec.CreatedAt, rec.UpdatedAt = now, now
	t.pending[rec.ID] = rec
	return rec, nil
}

func (t *fakeTx) Get(_ context.Context, _ string, id uuid.UUID, _ bool) (persistence.BriefRecord, error) {
	rec, ok := t.lookup(id)
	if !ok {
		return persistence.BriefRecord{}, persistence.ErrNotFound
	}
	return rec, nil
}

func (t *fakeTx) Latest(_ context.Context, orgID string) (persistence.BriefRecord, error) {
	var latest *persistence.BriefRecord
	for _, rec := range t.repo.briefs {
		if rec.OrgID != orgID || rec.OrgID != t.orgID {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = &rec
		}
	}
	if latest == nil {
		return persistence.BriefRecord{}, persistence.ErrNotFound
	}
	return *latest, nil
}

func (t *fakeTx) Update(_ context.Context, rec persistence.BriefRecord) (persistence.BriefRecord, error) {
	if _, ok := t.lookup(rec.ID); !ok {
		return persistence.BriefRecord{}, persistence.ErrNotFound
	}
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	t.pending[rec.ID] = rec
	return rec, nil
}

func (t *fakeTx) AppendEvent(_ context.Context, rec persistence.EventRecord) (persistence.EventRecord, bool, error) {
	t.events = append(t.events, rec)
	return rec, true, nil
}

const testOrg = "org_test12345"

var author = tenant.OrgContext{OrgID: testOrg, UserID: "user_1"}

func newTestService(t *testing.T, repository Repository) Service {
	t.Helper()
	registry, err := schema.Default()
	require.NoError(t, err)
	return New(repository, eventsservice.New(unusedEventsRepository{}, registry), WithLogger(zaptest.NewLogger(t)))
}

func sections(pairs ...string) map[string]json.RawMessage {
	out := map[string]json.RawMessage{}
	for i := 0; i+1 < len(pairs); i += 2 {
		out[pairs[i]] = json.RawMessage(pairs[i+1])
	}
	return out
}

func TestCreateIdentityOnlyBrief(t *testing.T) {
	t.Parallel()

	repository := newFakeRepository()
	svc := newTestService(t, repository)

	brief, err := svc.Create(context.Background(), author, sections(
		"identity", `{"businessName":"Acme","tagline":"Roadrunner supplies"}`,
	))
	require.NoError(t, err)

	require.Equal(t, StatusReady, brief.SectionStatus[SectionIdentity])
	require.Equal(t, StatusDraft, brief.SectionStatus[SectionAudience])
	require.Len(t, brief.SectionStatus, len(SectionNames))
	require.Equal(t, StatusDraft, brief.CompletionStatus)
	require.Equal(t, 1, brief.Version)
	require.Equal(t, SchemaVersion, brief.SchemaVersion)

	created := repository.eventsOfType(schema.TypeBriefCreated)
	require.Len(t, created, 1)
	var payload schema.BriefCreated
	require.NoError(t, json.Unmarshal(created[0].Payload, &payload))
	require.Equal(t, []string{SectionIdentity}, payload.SectionsPopulated)
	require.Equal(t, brief.ID.String(), payload.BriefID)
	require.Equal(t, "user_1", created[0].ActorID)
}

func TestCreateCompleteBrief(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newFakeRepository())

	brief, err := svc.Create(context.Background(), author, sections(
		"identity", `{"businessName":"Acme","tagline":"Roadrunner supplies"}`,
		"audience", `{"primarySegment":"coyotes","painPoints":["speed"]}`,
		"offerings", `{"items":[{"name":"Rocket skates","price":99.5,"currency":"USD"}]}`,
		"positioning", `{"valueProposition":"fast","differentiators":["acme quality"]}`,
		"operations", `{"channels":["mail order"]}`,
		"goals", `{"longTerm":["catch the roadrunner"]}`,
		"proof", `{"caseStudies":[{"title":"Canyon launch"}]}`,
	))
	require.NoError(t, err)
	require.Equal(t, StatusComplete, brief.CompletionStatus)
	for _, name := range SectionNames {
		require.Equal(t, StatusReady, brief.SectionStatus[name], name)
	}
}

func TestCreateRejectsInvalidSections(t *testing.T) {
	t.Parallel()

	repository := newFakeRepository()
	svc := newTestService(t, repository)

	_, err := svc.Create(context.Background(), author, sections(
		"identity", `{"businessName":"Acme","favouriteColour":"red"}`,
		"offerings", `{"items":[{"name":"x","price":-1}]}`,
		"history", `{"founded":1949}`,
	))

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Contains(t, validationErr.Fields, "sections.identity")
	require.Contains(t, validationErr.Fields, "sections.offerings.items[0].price")
	require.Contains(t, validationErr.Fields, "sections.history")
	require.Empty(t, repository.events)
	require.Empty(t, repository.briefs)
}

func TestCreateSaveFailureIsRetryable(t *testing.T) {
	t.Parallel()

	repository := newFakeRepository()
	repository.insertFn = func(persistence.BriefRecord) error { return errors.New("connection reset") }
	svc := newTestService(t, repository)

	_, err := svc.Create(context.Background(), author, sections("identity", `{"businessName":"Acme"}`))
	require.ErrorIs(t, err, ErrSaveFailed)
	require.Empty(t, repository.events)
}

func TestGetIsTenantScoped(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newFakeRepository())
	brief, err := svc.Create(context.Background(), author, sections("identity", `{"businessName":"Acme"}`))
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), testOrg, brief.ID)
	require.NoError(t, err)
	require.Equal(t, brief.ID, got.ID)

	_, err = svc.Get(context.Background(), "org_other1234", brief.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCurrentReturnsLatestOrNil(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newFakeRepository())

	current, err := svc.Current(context.Background(), testOrg)
	require.NoError(t, err)
	require.Nil(t, current)

	_, err = svc.Create(context.Background(), author, sections("identity", `{"businessName":"First"}`))
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	second, err := svc.Create(context.Background(), author, sections("identity", `{"businessName":"Second"}`))
	require.NoError(t, err)

	current, err = svc.Current(context.Background(), testOrg)
	require.NoError(t, err)
	require.NotNil(t, current)
	require.Equal(t, second.ID, current.ID)
}

func TestUpdateMergesAndEmits(t *testing.T) {
	t.Parallel()

	repository := newFakeRepository()
	svc := newTestService(t, repository)
	brief, err := svc.Create(context.Background(), author, sections(
		"identity", `{"businessName":"Acme","tagline":"Roadrunner supplies","industry":"retail"}`,
	))
	require.NoError(t, err)

	updated, err := svc.Update(context.Background(), author, brief.ID, sections(
		"identity", `{"industry":null,"location":"Arizona"}`,
		"goals", `{"shortTerm":["launch"]}`,
	))
	require.NoError(t, err)
	require.Equal(t, 2, updated.Version)
	require.JSONEq(t, `{"businessName":"Acme","tagline":"Roadrunner supplies","location":"Arizona"}`, string(updated.Sections[SectionIdentity]))
	require.Equal(t, StatusReady, updated.SectionStatus[SectionGoals])
	require.Equal(t, StatusReady, updated.SectionStatus[SectionIdentity])

	events := repository.eventsOfType(schema.TypeBriefUpdated)
	require.Len(t, events, 1)
	var payload schema.BriefUpdated
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	require.Equal(t, []string{SectionIdentity, SectionGoals}, payload.SectionsChanged)
	require.Equal(t, 2, payload.Version)
}

func TestUpdateWithoutChangeEmitsNothing(t *testing.T) {
	t.Parallel()

	repository := newFakeRepository()
	svc := newTestService(t, repository)
	brief, err := svc.Create(context.Background(), author, sections("identity", `{"businessName":"Acme"}`))
	require.NoError(t, err)

	same, err := svc.Update(context.Background(), author, brief.ID, sections("identity", `{"businessName":"Acme"}`))
	require.NoError(t, err)
	require.Equal(t, 1, same.Version)
	require.Empty(t, repository.eventsOfType(schema.TypeBriefUpdated))
}

func TestUpdateNullSectionClearsIt(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newFakeRepository())
	brief, err := svc.Create(context.Background(), author, sections(
		"identity", `{"businessName":"Acme","tagline":"x"}`,
		"operations", `{"channels":["web"]}`,
	))
	require.NoError(t, err)

	updated, err := svc.Update(context.Background(), author, brief.ID, sections("operations", `null`))
	require.NoError(t, err)
	require.NotContains(t, updated.Sections, SectionOperations)
	require.Equal(t, StatusDraft, updated.SectionStatus[SectionOperations])
}

func TestUpdateValidation(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newFakeRepository())
	brief, err := svc.Create(context.Background(), author, sections("identity", `{"businessName":"Acme"}`))
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), author, brief.ID, sections("identity", `{"website":"not a url"}`, "goals", `["list"]`))

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Contains(t, validationErr.Fields, "sections.identity.website")
	require.Contains(t, validationErr.Fields, "sections.goals")

	_, err = svc.Update(context.Background(), author, brief.ID, sections("legal", `{}`))
	require.ErrorAs(t, err, &validationErr)
	require.Contains(t, validationErr.Fields, "sections.legal")
}

func TestUpdateCrossTenantIsNotFound(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newFakeRepository())
	brief, err := svc.Create(context.Background(), author, sections("identity", `{"businessName":"Acme"}`))
	require.NoError(t, err)

	other := tenant.OrgContext{OrgID: "org_other1234", UserID: "user_2"}
	_, err = svc.Update(context.Background(), other, brief.ID, sections("identity", `{"businessName":"Hijack"}`))
	require.ErrorIs(t, err, ErrNotFound)
}
