package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xentri-app/xentri-api/domains/events/be/schema"
	"github.com/xentri-app/xentri-api/domains/events/be/service"
	"github.com/xentri-app/xentri-api/platform/go/persistence"
	"github.com/xentri-app/xentri-api/platform/go/problems"
	"github.com/xentri-app/xentri-api/platform/go/tenant"
)

type mockService struct {
	createFn func(ctx context.Context, orgID string, input service.CreateInput) (service.CreateResult, error)
	listFn   func(ctx context.Context, orgID string, opts service.ListOptions) (service.ListResult, error)
}

func (m *mockService) Create(ctx context.Context, orgID string, input service.CreateInput) (service.CreateResult, error) {
	if m.createFn == nil {
		panic("createFn not configured")
	}
	return m.createFn(ctx, orgID, input)
}

func (m *mockService) List(ctx context.Context, orgID string, opts service.ListOptions) (service.ListResult, error) {
	if m.listFn == nil {
		panic("listFn not configured")
	}
	return m.listFn(ctx, orgID, opts)
}

func (m *mockService) Prepare(service.CreateInput, string) (persistence.EventRecord, error) {
	panic("Prepare not expected")
}

type unusedRepository struct{}

func (unusedRepository) Append(context.Context, persistence.EventRecord) (persistence.EventRecord, bool, error) {
	panic("append must not be reached")
}

func (unusedRepository) List(context.Context, string, persistence.ListEventsParams) (persistence.ListEventsResult, error) {
	panic("list must not be reached")
}

const testOrg = "org_test12345"

func withOrg(r *http.Request) *http.Request {
	return r.WithContext(tenant.WithOrgContext(r.Context(), tenant.OrgContext{OrgID: testOrg, UserID: "user_1", Source: tenant.SourceSession}))
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) problems.Problem {
	t.Helper()
	require.Equal(t, problems.ContentType, rec.Header().Get("Content-Type"))
	var problem problems.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	return problem
}

func TestCreateEventSuccess(t *testing.T) {
	t.Parallel()

	eventID := uuid.Must(uuid.NewV7())
	svc := &mockService{}
	svc.createFn = func(ctx context.Context, orgID string, input service.CreateInput) (service.CreateResult, error) {
		require.Equal(t, testOrg, orgID)
		require.Equal(t, schema.TypeUserSignup, input.Type)
		require.Equal(t, "user", input.Actor.Type)
		return service.CreateResult{EventID: eventID, Created: true}, nil
	}

	h := New(svc, zaptest.NewLogger(t))
	body := `{"type":"user.signup.v1","actor":{"type":"user","id":"user_1"},"payload":{"email":"ada@example.com"},"envelope_version":"1.0"}`
	req := withOrg(httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body)))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp createResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, eventID, resp.EventID)
	require.True(t, resp.Acknowledged)
}

func TestCreateEventDuplicateIsAcknowledged(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	svc.createFn = func(ctx context.Context, orgID string, input service.CreateInput) (service.CreateResult, error) {
		return service.CreateResult{EventID: uuid.Must(uuid.NewV7()), Created: false}, nil
	}

	h := New(svc, zaptest.NewLogger(t))
	body := `{"type":"user.signup.v1","actor":{"type":"user","id":"user_1"},"payload":{"email":"ada@example.com"},"dedupe_key":"k1"}`
	rec := httptest.NewRecorder()
	h.Create(rec, withOrg(httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))))

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateEventSignupWithoutEmailIs422(t *testing.T) {
	t.Parallel()

	registry, err := schema.Default()
	require.NoError(t, err)
	h := New(service.New(unusedRepository{}, registry), zaptest.NewLogger(t))

	body := `{"type":"user.signup.v1","org_id":"org_test12345","actor":{"type":"user","id":"user_1"},"payload_schema":"xentri://events/user.signup.v1","payload":{"invalid_field":"x"},"envelope_version":"1.0"}`
	rec := httptest.NewRecorder()
	h.Create(rec, withOrg(httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	problem := decodeProblem(t, rec)
	require.Contains(t, problem.Detail, "email")
	require.Contains(t, problem.Errors, "payload.email")
}

func TestCreateEventOrgMismatch(t *testing.T) {
	t.Parallel()

	h := New(&mockService{}, zaptest.NewLogger(t))
	body := `{"type":"user.signup.v1","org_id":"org_other1234","actor":{"type":"user","id":"user_1"},"payload":{"email":"ada@example.com"}}`
	rec := httptest.NewRecorder()
	h.Create(rec, withOrg(httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))))

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, problems.TypeForbidden, decodeProblem(t, rec).Type)
}

func TestCreateEventWithoutOrgContext(t *testing.T) {
	t.Parallel()

	h := New(&mockService{}, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(`{}`)))

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateEventMalformedBody(t *testing.T) {
	t.Parallel()

	h := New(&mockService{}, zaptest.NewLogger(t))

	for name, body := range map[string]string{
		"not json":      `{"type":`,
		"unknown field": `{"kind":"user.signup.v1"}`,
		"client timestamp": `{"type":"user.signup.v1","actor":{"type":"user","id":"user_1"},"payload":{"email":"ada@example.com"},"occurred_at":"2000-01-01T00:00:00Z","envelope_version":"1.0"}`,
		"empty":         ``,
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Create(rec, withOrg(httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))))
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateEventStorageFailureIsRetryable(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	svc.createFn = func(ctx context.Context, orgID string, input service.CreateInput) (service.CreateResult, error) {
		return service.CreateResult{}, persistence.ErrTransient
	}

	h := New(svc, zaptest.NewLogger(t))
	body := `{"type":"user.signup.v1","actor":{"type":"user","id":"user_1"},"payload":{"email":"ada@example.com"}}`
	rec := httptest.NewRecorder()
	h.Create(rec, withOrg(httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	problem := decodeProblem(t, rec)
	require.True(t, problem.Retryable)
	require.Contains(t, problem.Detail, problems.RetryHint)
	require.NotContains(t, problem.Detail, "transient")
}

func TestListEventsSuccess(t *testing.T) {
	t.Parallel()

	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cursor := "next-page"
	svc := &mockService{}
	svc.listFn = func(ctx context.Context, orgID string, opts service.ListOptions) (service.ListResult, error) {
		require.Equal(t, testOrg, orgID)
		require.Equal(t, 2, *opts.Limit)
		require.Equal(t, schema.TypeUserSignup, *opts.Type)
		require.True(t, opts.Since.Equal(occurred.Add(-time.Hour)))
		return service.ListResult{
			Events: []service.Event{{
				ID:              uuid.Must(uuid.NewV7()),
				OrgID:           orgID,
				Type:            schema.TypeUserSignup,
				Actor:           service.Actor{Type: "user", ID: "user_1"},
				Payload:         json.RawMessage(`{"email":"ada@example.com"}`),
				OccurredAt:      occurred,
				EnvelopeVersion: service.EnvelopeVersion,
			}},
			Cursor:  &cursor,
			HasMore: true,
		}, nil
	}

	h := New(svc, zaptest.NewLogger(t))
	req := withOrg(httptest.NewRequest(http.MethodGet, "/api/v1/events?type=user.signup.v1&limit=2&since=2026-03-01T11:00:00Z", nil))
	rec := httptest.NewRecorder()
	h.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	require.True(t, resp.Meta.HasMore)
	require.Equal(t, "next-page", *resp.Meta.Cursor)
}

func TestListEventsBadFilters(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	svc.listFn = func(ctx context.Context, orgID string, opts service.ListOptions) (service.ListResult, error) {
		return service.ListResult{}, service.ErrInvalidQuery
	}
	h := New(svc, zaptest.NewLogger(t))

	for _, query := range []string{"since=yesterday", "limit=ten", "limit=500"} {
		t.Run(query, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.List(rec, withOrg(httptest.NewRequest(http.MethodGet, "/api/v1/events?"+query, nil)))
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, problems.TypeBadRequest, decodeProblem(t, rec).Type)
		})
	}
}
