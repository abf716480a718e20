package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	svix "github.com/svix/svix-webhooks/go"
	"go.uber.org/zap"

	orgsservice "github.com/xentri-app/xentri-api/domains/orgs/be/service"
	platformlogging "github.com/xentri-app/xentri-api/platform/go/logging"
	"github.com/xentri-app/xentri-api/platform/go/problems"
	"github.com/xentri-app/xentri-api/platform/go/requesttrace"
)

const (
	maxBodyBytes = 1 << 20
	component    = "clerk-webhook"
)

var signatureHeaders = []string{"svix-id", "svix-timestamp", "svix-signature"}

// Verifier checks a delivery's signature headers against its raw body.
type Verifier interface {
	Verify(payload []byte, headers http.Header) error
}

// NewVerifier returns nil for an empty secret; the handler then rejects every delivery.
func NewVerifier(secret string) (Verifier, error) {
	if secret == "" {
		return nil, nil
	}
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, fmt.Errorf("init webhook verifier: %w", err)
	}
	return wh, nil
}

// OrgService is the part of the orgs service driven by identity provider events.
type OrgService interface {
	Provision(ctx context.Context, notification orgsservice.OrganizationCreated) (orgsservice.ProvisionResult, error)
	AddMember(ctx context.Context, input orgsservice.MembershipCreated) (orgsservice.Member, error)
	UpsertUser(ctx context.Context, userID string, email *string) error
}

// Handler receives signed identity provider webhooks.
type Handler struct {
	verifier Verifier
	orgs     OrgService
	logger   *zap.Logger
}

// New constructs a Handler. A nil verifier means the webhook secret is not configured.
func New(verifier Verifier, orgs OrgService, logger *zap.Logger) *Handler {
	if orgs == nil {
		panic("orgs service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{verifier: verifier, orgs: orgs, logger: logger}
}

// Routes registers the webhook endpoint relative to the API prefix.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/webhooks/clerk", h.Clerk)
}

func (h *Handler) Clerk(w http.ResponseWriter, r *http.Request) {
	logger := platformlogging.FromContextOr(r.Context(), h.logger)

	if h.verifier == nil {
		logger.Error("webhook secret is not configured")
		problems.Write(w, r, problems.Internal("webhook receiver is not configured"))
		return
	}

	for _, header := range signatureHeaders {
		if r.Header.Get(header) == "" {
			problems.Write(w, r, problems.BadRequest("missing "+header+" header"))
			return
		}
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		problems.Write(w, r, problems.BadRequest("could not read request body"))
		return
	}

	if err := h.verifier.Verify(payload, r.Header); err != nil {
		logger.Warn("webhook signature rejected", zap.String("svix_id", r.Header.Get("svix-id")), zap.Error(err))
		problems.Write(w, r, problems.Unauthorized("invalid webhook signature"))
		return
	}

	var event envelope
	if err := json.Unmarshal(payload, &event); err != nil || event.Type == "" {
		problems.Write(w, r, problems.BadRequest("webhook payload must be a JSON object with a type"))
		return
	}

	logger = logger.With(zap.String("webhook_type", event.Type), zap.String("svix_id", r.Header.Get("svix-id")))
	ctx := requesttrace.With(r.Context(), requesttrace.System(component, chimw.GetReqID(r.Context())))
	ctx = platformlogging.WithLogger(ctx, logger)

	ack, err := h.dispatch(ctx, event)
	if err != nil {
		h.writeError(w, r.WithContext(ctx), logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (h *Handler) dispatch(ctx context.Context, event envelope) (ackResponse, error) {
	logger := platformlogging.FromContextOr(ctx, h.logger)

	switch event.Type {
	case eventOrganizationCreated:
		var data organizationData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return ackResponse{}, errMalformed(err)
		}
		result, err := h.orgs.Provision(ctx, orgsservice.OrganizationCreated{
			OrgID:         data.ID,
			Name:          data.Name,
			Slug:          data.Slug,
			CreatorUserID: data.CreatedBy,
		})
		if err != nil {
			return ackResponse{}, err
		}
		return ackResponse{Received: true, AlreadyProvisioned: result.AlreadyProvisioned}, nil

	case eventUserCreated:
		var data userData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return ackResponse{}, errMalformed(err)
		}
		if err := h.orgs.UpsertUser(ctx, data.ID, data.primaryEmail()); err != nil {
			return ackResponse{}, err
		}
		return ackResponse{Received: true}, nil

	case eventMembershipCreated:
		var data membershipData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return ackResponse{}, errMalformed(err)
		}
		_, err := h.orgs.AddMember(ctx, orgsservice.MembershipCreated{
			OrgID:        data.Organization.ID,
			UserID:       data.PublicUserData.UserID,
			Email:        data.email(),
			ProviderRole: data.Role,
		})
		if err != nil {
			return ackResponse{}, err
		}
		return ackResponse{Received: true}, nil

	case eventSessionCreated:
		var data sessionData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return ackResponse{}, errMalformed(err)
		}
		logger.Info("session created", zap.String("session_id", data.ID), zap.String("user_id", data.UserID))
		return ackResponse{Received: true}, nil

	default:
		logger.Debug("webhook type ignored")
		return ackResponse{Received: true, Ignored: true}, nil
	}
}

type malformedError struct {
	err error
}

func (e malformedError) Error() string { return "malformed webhook data: " + e.err.Error() }
func (e malformedError) Unwrap() error { return e.err }

func errMalformed(err error) error {
	return malformedError{err: err}
}

// writeError answers 400 for deliveries that can never succeed and 500 otherwise so the
// sender redelivers.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var (
		malformed     malformedError
		validationErr *orgsservice.ValidationError
	)
	switch {
	case errors.As(err, &malformed):
		logger.Warn("webhook payload rejected", zap.Error(err))
		problems.Write(w, r, problems.BadRequest(malformed.Error()))
	case errors.As(err, &validationErr):
		logger.Warn("webhook payload rejected", zap.Error(err))
		problem := problems.BadRequest(validationErr.Error())
		problem.Errors = validationErr.Fields
		problems.Write(w, r, problem)
	default:
		logger.Error("webhook processing failed", zap.Error(err))
		problems.Write(w, r, problems.Internal(""))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
