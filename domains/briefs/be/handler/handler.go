package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xentri-app/xentri-api/domains/briefs/be/service"
	platformlogging "github.com/xentri-app/xentri-api/platform/go/logging"
	"github.com/xentri-app/xentri-api/platform/go/problems"
	"github.com/xentri-app/xentri-api/platform/go/tenant"
)

const maxBodyBytes = 1 << 20

type operation string

const (
	createOperation  operation = "briefsCreate"
	currentOperation operation = "briefsCurrent"
	getOperation     operation = "briefsGet"
	updateOperation  operation = "briefsUpdate"
)

// Handler exposes briefs over HTTP.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("briefs service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes registers the brief endpoints relative to the API prefix.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/briefs", h.Create)
	r.Get("/briefs/current", h.Current)
	r.Get("/briefs/{briefId}", h.Get)
	r.Patch("/briefs/{briefId}", h.Update)
}

type writeRequest struct {
	Sections map[string]json.RawMessage `json:"sections"`
}

type briefDTO struct {
	ID               uuid.UUID                  `json:"id"`
	OrgID            string                     `json:"orgId"`
	UserID           string                     `json:"userId"`
	Sections         map[string]json.RawMessage `json:"sections"`
	SectionStatus    map[string]string          `json:"sectionStatus"`
	CompletionStatus string                     `json:"completionStatus"`
	SchemaVersion    int                        `json:"schemaVersion"`
	Version          int                        `json:"version"`
	CreatedAt        time.Time                  `json:"createdAt"`
	UpdatedAt        time.Time                  `json:"updatedAt"`
}

type currentResponse struct {
	Data *briefDTO `json:"data"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	org, err := tenant.RequireFromContext(r.Context())
	if err != nil {
		h.writeError(w, r, err, createOperation)
		return
	}

	var body writeRequest
	if err := decodeJSON(w, r, &body); err != nil {
		problems.Write(w, r, problems.BadRequest(err.Error()))
		return
	}

	brief, err := h.svc.Create(r.Context(), org, body.Sections)
	if err != nil {
		h.writeError(w, r, err, createOperation)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/briefs/%s", brief.ID))
	writeJSON(w, http.StatusCreated, toBriefDTO(brief))
}

func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	org, err := tenant.RequireFromContext(r.Context())
	if err != nil {
		h.writeError(w, r, err, currentOperation)
		return
	}

	brief, err := h.svc.Current(r.Context(), org.OrgID)
	if err != nil {
		h.writeError(w, r, err, currentOperation)
		return
	}

	resp := currentResponse{}
	if brief != nil {
		dto := toBriefDTO(*brief)
		resp.Data = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	org, err := tenant.RequireFromContext(r.Context())
	if err != nil {
		h.writeError(w, r, err, getOperation)
		return
	}

	id, err := briefID(r)
	if err != nil {
		h.writeError(w, r, err, getOperation)
		return
	}

	brief, err := h.svc.Get(r.Context(), org.OrgID, id)
	if err != nil {
		h.writeError(w, r, err, getOperation)
		return
	}
	writeJSON(w, http.StatusOK, toBriefDTO(brief))
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	org, err := tenant.RequireFromContext(r.Context())
	if err != nil {
		h.writeError(w, r, err, updateOperation)
		return
	}

	id, err := briefID(r)
	if err != nil {
		h.writeError(w, r, err, updateOperation)
		return
	}

	var body writeRequest
	if err := decodeJSON(w, r, &body); err != nil {
		problems.Write(w, r, problems.BadRequest(err.Error()))
		return
	}

	brief, err := h.svc.Update(r.Context(), org, id, body.Sections)
	if err != nil {
		h.writeError(w, r, err, updateOperation)
		return
	}
	writeJSON(w, http.StatusOK, toBriefDTO(brief))
}

// briefID treats a malformed id like any other miss.
func briefID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "briefId"))
	if err != nil {
		return uuid.Nil, service.ErrNotFound
	}
	return id, nil
}

func toBriefDTO(brief service.Brief) briefDTO {
	sections := brief.Sections
	if sections == nil {
		sections = map[string]json.RawMessage{}
	}
	return briefDTO{
		ID:               brief.ID,
		OrgID:            brief.OrgID,
		UserID:           brief.UserID,
		Sections:         sections,
		SectionStatus:    brief.SectionStatus,
		CompletionStatus: brief.CompletionStatus,
		SchemaVersion:    brief.SchemaVersion,
		Version:          brief.Version,
		CreatedAt:        brief.CreatedAt,
		UpdatedAt:        brief.UpdatedAt,
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
		logger.Error("briefs operation failed", fields...)
	case problem.Status == http.StatusNotFound:
		logger.Info("brief not found", fields...)
	default:
		logger.Warn("briefs request rejected", fields...)
	}

	problems.Write(w, r, problem)
}

func classifyError(err error) problems.Problem {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return problems.Validation(validationErr.Error(), validationErr.Fields)
	case errors.Is(err, service.ErrNotFound):
		return problems.NotFound("brief not found")
	case errors.Is(err, tenant.ErrNoActiveOrg):
		return problems.Forbidden("no active organization")
	case errors.Is(err, service.ErrSaveFailed):
		return problems.Internal("brief could not be saved, " + problems.RetryHint)
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
