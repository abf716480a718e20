package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	svix "github.com/svix/svix-webhooks/go"
	"go.uber.org/zap/zaptest"

	orgsservice "github.com/xentri-app/xentri-api/domains/orgs/be/service"
	"github.com/xentri-app/xentri-api/platform/go/persistence"
	"github.com/xentri-app/xentri-api/platform/go/requesttrace"
)

var testSecret = "whsec_" + base64.StdEncoding.EncodeToString([]byte("xentri-webhook-test-secret"))

type mockOrgService struct {
	provisionFn  func(ctx context.Context, n orgsservice.OrganizationCreated) (orgsservice.ProvisionResult, error)
	addMemberFn  func(ctx context.Context, input orgsservice.MembershipCreated) (orgsservice.Member, error)
	upsertUserFn func(ctx context.Context, userID string, email *string) error
}

func (m *mockOrgService) Provision(ctx context.Context, n orgsservice.OrganizationCreated) (orgsservice.ProvisionResult, error) {
	if m.provisionFn == nil {
		panic("provisionFn not configured")
	}
	return m.provisionFn(ctx, n)
}

func (m *mockOrgService) AddMember(ctx context.Context, input orgsservice.MembershipCreated) (orgsservice.Member, error) {
	if m.addMemberFn == nil {
		panic("addMemberFn not configured")
	}
	return m.addMemberFn(ctx, input)
}

func (m *mockOrgService) UpsertUser(ctx context.Context, userID string, email *string) error {
	if m.upsertUserFn == nil {
		panic("upsertUserFn not configured")
	}
	return m.upsertUserFn(ctx, userID, email)
}

func newHandler(t *testing.T, orgs OrgService) *Handler {
	t.Helper()
	verifier, err := NewVerifier(testSecret)
	require.NoError(t, err)
	return New(verifier, orgs, zaptest.NewLogger(t))
}

func signedRequest(t *testing.T, body string) *http.Request {
	t.Helper()

	wh, err := svix.NewWebhook(testSecret)
	require.NoError(t, err)

	msgID := "msg_" + strconv.FormatInt(time.Now().UnixNano(), 10)
	now := time.Now()
	signature, err := wh.Sign(msgID, now, []byte(body))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/clerk", strings.NewReader(body))
	req.Header.Set("svix-id", msgID)
	req.Header.Set("svix-timestamp", strconv.FormatInt(now.Unix(), 10))
	req.Header.Set("svix-signature", signature)
	return req
}

func decodeAck(t *testing.T, rec *httptest.ResponseRecorder) ackResponse {
	t.Helper()
	var ack ackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	return ack
}

func TestOrganizationCreatedProvisions(t *testing.T) {
	t.Parallel()

	orgs := &mockOrgService{}
	orgs.provisionFn = func(ctx context.Context, n orgsservice.OrganizationCreated) (orgsservice.ProvisionResult, error) {
		require.Equal(t, "org_acme12345", n.OrgID)
		require.Equal(t, "Acme", n.Name)
		require.Equal(t, "acme", n.Slug)
		require.Equal(t, "user_owner", n.CreatorUserID)

		audit, ok := requesttrace.From(ctx)
		require.True(t, ok)
		require.Equal(t, requesttrace.ActorKindSystem, audit.Kind)
		return orgsservice.ProvisionResult{OrgID: n.OrgID}, nil
	}

	body := `{"type":"organization.created","object":"event","data":{"id":"org_acme12345","name":"Acme","slug":"acme","created_by":"user_owner"}}`
	rec := httptest.NewRecorder()
	newHandler(t, orgs).Clerk(rec, signedRequest(t, body))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, ackResponse{Received: true}, decodeAck(t, rec))
}

func TestOrganizationCreatedDuplicateDelivery(t *testing.T) {
	t.Parallel()

	orgs := &mockOrgService{}
	orgs.provisionFn = func(context.Context, orgsservice.OrganizationCreated) (orgsservice.ProvisionResult, error) {
		return orgsservice.ProvisionResult{AlreadyProvisioned: true}, nil
	}

	body := `{"type":"organization.created","data":{"id":"org_acme12345","name":"Acme","slug":"acme","created_by":"user_owner"}}`
	rec := httptest.NewRecorder()
	newHandler(t, orgs).Clerk(rec, signedRequest(t, body))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decodeAck(t, rec).AlreadyProvisioned)
}

func TestProvisioningFailureAsksForRedelivery(t *testing.T) {
	t.Parallel()

	orgs := &mockOrgService{}
	orgs.provisionFn = func(context.Context, orgsservice.OrganizationCreated) (orgsservice.ProvisionResult, error) {
		return orgsservice.ProvisionResult{Attempts: 3}, fmt.Errorf("provision: %w", persistence.ErrTransient)
	}

	body := `{"type":"organization.created","data":{"id":"org_acme12345","name":"Acme","slug":"acme","created_by":"user_owner"}}`
	rec := httptest.NewRecorder()
	newHandler(t, orgs).Clerk(rec, signedRequest(t, body))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestInvalidNotificationIsBadRequest(t *testing.T) {
	t.Parallel()

	orgs := &mockOrgService{}
	orgs.provisionFn = func(context.Context, orgsservice.OrganizationCreated) (orgsservice.ProvisionResult, error) {
		return orgsservice.ProvisionResult{}, &orgsservice.ValidationError{Fields: orgsservice.FieldErrors{"slug": {"slug is required"}}}
	}

	body := `{"type":"organization.created","data":{"id":"org_acme12345","name":"Acme","created_by":"user_owner"}}`
	rec := httptest.NewRecorder()
	newHandler(t, orgs).Clerk(rec, signedRequest(t, body))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserCreatedUpsertsPrimaryEmail(t *testing.T) {
	t.Parallel()

	orgs := &mockOrgService{}
	orgs.upsertUserFn = func(ctx context.Context, userID string, email *string) error {
		require.Equal(t, "user_1", userID)
		require.NotNil(t, email)
		require.Equal(t, "primary@example.com", *email)
		return nil
	}

	body := `{"type":"user.created","data":{"id":"user_1","primary_email_address_id":"idn_2","email_addresses":[{"id":"idn_1","email_address":"old@example.com"},{"id":"idn_2","email_address":"primary@example.com"}]}}`
	rec := httptest.NewRecorder()
	newHandler(t, orgs).Clerk(rec, signedRequest(t, body))

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMembershipCreatedAddsMember(t *testing.T) {
	t.Parallel()

	orgs := &mockOrgService{}
	orgs.addMemberFn = func(ctx context.Context, input orgsservice.MembershipCreated) (orgsservice.Member, error) {
		require.Equal(t, "org_acme12345", input.OrgID)
		require.Equal(t, "user_2", input.UserID)
		require.Equal(t, "org:admin", input.ProviderRole)
		require.NotNil(t, input.Email)
		return orgsservice.Member{UserID: input.UserID, Role: "admin"}, nil
	}

	body := `{"type":"organizationMembership.created","data":{"id":"orgmem_1","role":"org:admin","organization":{"id":"org_acme12345"},"public_user_data":{"user_id":"user_2","identifier":"two@example.com"}}}`
	rec := httptest.NewRecorder()
	newHandler(t, orgs).Clerk(rec, signedRequest(t, body))

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMembershipBeforeProvisioningIsRedelivered(t *testing.T) {
	t.Parallel()

	orgs := &mockOrgService{}
	orgs.addMemberFn = func(context.Context, orgsservice.MembershipCreated) (orgsservice.Member, error) {
		return orgsservice.Member{}, orgsservice.ErrNotProvisioned
	}

	body := `{"type":"organizationMembership.created","data":{"role":"org:member","organization":{"id":"org_acme12345"},"public_user_data":{"user_id":"user_2"}}}`
	rec := httptest.NewRecorder()
	newHandler(t, orgs).Clerk(rec, signedRequest(t, body))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSessionAndUnknownEvents(t *testing.T) {
	t.Parallel()

	h := newHandler(t, &mockOrgService{})

	rec := httptest.NewRecorder()
	h.Clerk(rec, signedRequest(t, `{"type":"session.created","data":{"id":"sess_1","user_id":"user_1"}}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, ackResponse{Received: true}, decodeAck(t, rec))

	rec = httptest.NewRecorder()
	h.Clerk(rec, signedRequest(t, `{"type":"email.created","data":{}}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, ackResponse{Received: true, Ignored: true}, decodeAck(t, rec))
}

func TestSessionCreatedWithMalformedData(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	newHandler(t, &mockOrgService{}).Clerk(rec, signedRequest(t, `{"type":"session.created","data":"sess_1"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignatureChecks(t *testing.T) {
	t.Parallel()

	body := `{"type":"session.created","data":{}}`

	t.Run("unconfigured secret", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		New(nil, &mockOrgService{}, zaptest.NewLogger(t)).Clerk(rec, signedRequest(t, body))
		require.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("missing headers", func(t *testing.T) {
		t.Parallel()
		for _, header := range signatureHeaders {
			req := signedRequest(t, body)
			req.Header.Del(header)
			rec := httptest.NewRecorder()
			newHandler(t, &mockOrgService{}).Clerk(rec, req)
			require.Equal(t, http.StatusBadRequest, rec.Code, header)
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		t.Parallel()
		req := signedRequest(t, body)
		tampered := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/clerk", strings.NewReader(`{"type":"organization.created","data":{}}`))
		tampered.Header = req.Header
		rec := httptest.NewRecorder()
		newHandler(t, &mockOrgService{}).Clerk(rec, tampered)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestNewVerifierRejectsBadSecret(t *testing.T) {
	t.Parallel()

	verifier, err := NewVerifier("")
	require.NoError(t, err)
	require.Nil(t, verifier)

	_, err = NewVerifier("whsec_%%%not-base64")
	require.Error(t, err)
}
