package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xentri-app/xentri-api/domains/events/be/service"
	platformlogging "github.com/xentri-app/xentri-api/platform/go/logging"
	"github.com/xentri-app/xentri-api/platform/go/problems"
	"github.com/xentri-app/xentri-api/platform/go/tenant"
)

const maxBodyBytes = 1 << 20

type operation string

const (
	createOperation operation = "eventsCreate"
	listOperation   operation = "eventsList"
)

// Handler exposes the event log over HTTP.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("events service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes registers the event endpoints relative to the API prefix.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/events", h.Create)
	r.Get("/events", h.List)
}

type actorDTO struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type createRequest struct {
	Type            string          `json:"type"`
	OrgID           string          `json:"org_id"`
	Actor           actorDTO        `json:"actor"`
	PayloadSchema   string          `json:"payload_schema"`
	Payload         json.RawMessage `json:"payload"`
	Source          *string         `json:"source"`
	DedupeKey       *string         `json:"dedupe_key"`
	CorrelationID   *string         `json:"correlation_id"`
	TraceID         *string         `json:"trace_id"`
	EnvelopeVersion string          `json:"envelope_version"`
}

type createResponse struct {
	EventID      uuid.UUID `json:"event_id"`
	Acknowledged bool      `json:"acknowledged"`
}

type eventDTO struct {
	ID              uuid.UUID       `json:"id"`
	OrgID           string          `json:"org_id"`
	Type            string          `json:"type"`
	Actor           actorDTO        `json:"actor"`
	PayloadSchema   string          `json:"payload_schema"`
	Payload         json.RawMessage `json:"payload"`
	Source          *string         `json:"source"`
	OccurredAt      time.Time       `json:"occurred_at"`
	RecordedAt      time.Time       `json:"recorded_at"`
	DedupeKey       *string         `json:"dedupe_key"`
	CorrelationID   *string         `json:"correlation_id"`
	TraceID         *string         `json:"trace_id"`
	EnvelopeVersion string          `json:"envelope_version"`
}

type listMeta struct {
	Cursor  *string `json:"cursor,omitempty"`
	HasMore bool    `json:"has_more"`
}

type listResponse struct {
	Data []eventDTO `json:"data"`
	Meta listMeta   `json:"meta"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	org, err := tenant.RequireFromContext(ctx)
	if err != nil {
		h.writeError(w, r, err, createOperation)
		return
	}

	var body createRequest
	if err := decodeJSON(w, r, &body); err != nil {
		problems.Write(w, r, problems.BadRequest(err.Error()))
		return
	}

	if body.OrgID != "" && body.OrgID != org.OrgID {
		h.writeError(w, r, service.ErrOrgMismatch, createOperation)
		return
	}

	input := toServiceCreateInput(body)
	if input.TraceID == nil {
		if reqID := chimw.GetReqID(ctx); reqID != "" {
			input.TraceID = &reqID
		}
	}

	result, err := h.svc.Create(ctx, org.OrgID, input)
	if err != nil {
		h.writeError(w, r, err, createOperation)
		return
	}

	status := http.StatusCreated
	if !result.Created {
		status = http.StatusOK
	}
	writeJSON(w, status, createResponse{EventID: result.EventID, Acknowledged: true})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	org, err := tenant.RequireFromContext(ctx)
	if err != nil {
		h.writeError(w, r, err, listOperation)
		return
	}

	opts, err := buildListOptions(r)
	if err != nil {
		h.writeError(w, r, err, listOperation)
		return
	}

	result, err := h.svc.List(ctx, org.OrgID, opts)
	if err != nil {
		h.writeError(w, r, err, listOperation)
		return
	}

	data := make([]eventDTO, 0, len(result.Events))
	for _, event := range result.Events {
		data = append(data, toEventDTO(event))
	}

	writeJSON(w, http.StatusOK, listResponse{
		Data: data,
		Meta: listMeta{Cursor: result.Cursor, HasMore: result.HasMore},
	})
}

func buildListOptions(r *http.Request) (service.ListOptions, error) {
	query := r.URL.Query()
	opts := service.ListOptions{}

	if value := strings.TrimSpace(query.Get("type")); value != "" {
		opts.Type = &value
	}
	if value := strings.TrimSpace(query.Get("since")); value != "" {
		since, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return service.ListOptions{}, fmt.Errorf("%w: since must be an RFC 3339 timestamp", service.ErrInvalidQuery)
		}
		opts.Since = &since
	}
	if query.Has("limit") {
		limit, err := strconv.Atoi(strings.TrimSpace(query.Get("limit")))
		if err != nil {
			return service.ListOptions{}, fmt.Errorf("%w: limit must be an integer", service.ErrInvalidQuery)
		}
		opts.Limit = &limit
	}
	if value := strings.TrimSpace(query.Get("cursor")); value != "" {
		opts.Cursor = &value
	}

	return opts, nil
}

func toServiceCreateInput(body createRequest) service.CreateInput {
	return service.CreateInput{
		Type:            body.Type,
		OrgID:           body.OrgID,
		Actor:           service.Actor{Type: body.Actor.Type, ID: body.Actor.ID},
		PayloadSchema:   body.PayloadSchema,
		Payload:         body.Payload,
		Source:          body.Source,
		DedupeKey:       body.DedupeKey,
		CorrelationID:   body.CorrelationID,
		TraceID:         body.TraceID,
		EnvelopeVersion: body.EnvelopeVersion,
	}
}

func toEventDTO(event service.Event) eventDTO {
	return eventDTO{
		ID:              event.ID,
		OrgID:           event.OrgID,
		Type:            event.Type,
		Actor:           actorDTO{Type: event.Actor.Type, ID: event.Actor.ID},
		PayloadSchema:   event.PayloadSchema,
		Payload:         event.Payload,
		Source:          event.Source,
		OccurredAt:      event.OccurredAt,
		RecordedAt:      event.RecordedAt,
		DedupeKey:       event.DedupeKey,
		CorrelationID:   event.CorrelationID,
		TraceID:         event.TraceID,
		EnvelopeVersion: event.EnvelopeVersion,
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, op operation) {
	problem := classifyError(err)

	logger := h.loggerFrom(r.Context())
	fields := []zap.Field{
		zap.String("operation", string(op)),
		zap.Int("status", problem.Status),
		zap.String("trace_id", problems.TraceID(r)),
		zap.Error(err),
	}
	switch {
	case problem.Status >= http.StatusInternalServerError:
		logger.Error("events operation failed", fields...)
	default:
		logger.Warn("events request rejected", fields...)
	}

	problems.Write(w, r, problem)
}

func classifyError(err error) problems.Problem {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return problems.Validation(validationErr.Error(), validationErr.Fields)
	case errors.Is(err, service.ErrInvalidQuery):
		return problems.BadRequest(err.Error())
	case errors.Is(err, service.ErrOrgMismatch):
		return problems.Forbidden("org_id does not match the active organization")
	case errors.Is(err, service.ErrNoOrg), errors.Is(err, tenant.ErrNoActiveOrg):
		return problems.Forbidden("no active organization")
	default:
		return problems.Internal("")
	}
}

func (h *Handler) loggerFrom(ctx context.Context) *zap.Logger {
	return platformlogging.FromContextOr(ctx, h.logger)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid request body: %v", err)
	}
	if decoder.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
