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
	"go.uber.org/zap"

	"github.com/xentri-app/xentri-api/domains/orgs/be/service"
	platformlogging "github.com/xentri-app/xentri-api/platform/go/logging"
	"github.com/xentri-app/xentri-api/platform/go/problems"
	"github.com/xentri-app/xentri-api/platform/go/tenant"
)

const maxBodyBytes = 64 << 10

type operation string

const (
	currentOperation        operation = "orgsCurrent"
	updateSettingsOperation operation = "orgsUpdateSettings"
	membersOperation        operation = "orgsMembers"
)

// Handler exposes the caller's active organization.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("orgs service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes registers the org endpoints relative to the API prefix.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/orgs/current", h.Current)
	r.Patch("/orgs/current/settings", h.UpdateSettings)
	r.Get("/orgs/current/members", h.Members)
}

type organizationDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type settingsDTO struct {
	Plan        string         `json:"plan"`
	Features    map[string]any `json:"features"`
	Preferences map[string]any `json:"preferences"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

type currentOrgDTO struct {
	Organization organizationDTO `json:"organization"`
	Settings     settingsDTO     `json:"settings"`
	Role         string          `json:"role,omitempty"`
}

type memberDTO struct {
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
	Email     *string   `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

type memberListDTO struct {
	Data []memberDTO `json:"data"`
}

type settingsUpdateRequest struct {
	Plan        *string        `json:"plan"`
	Features    map[string]any `json:"features"`
	Preferences map[string]any `json:"preferences"`
}

func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	org, err := tenant.RequireFromContext(r.Context())
	if err != nil {
		h.writeError(w, r, err, currentOperation)
		return
	}

	current, err := h.svc.GetCurrent(r.Context(), org)
	if err != nil {
		h.writeError(w, r, err, currentOperation)
		return
	}

	role := current.Role
	if role == "" {
		role = org.Role
	}
	writeJSON(w, http.StatusOK, currentOrgDTO{
		Organization: toOrganizationDTO(current.Organization),
		Settings:     toSettingsDTO(current.Settings),
		Role:         role,
	})
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	org, err := tenant.RequireFromContext(r.Context())
	if err != nil {
		h.writeError(w, r, err, updateSettingsOperation)
		return
	}

	var body settingsUpdateRequest
	if err := decodeJSON(w, r, &body); err != nil {
		problems.Write(w, r, problems.BadRequest(err.Error()))
		return
	}

	updated, err := h.svc.UpdateSettings(r.Context(), org, service.SettingsUpdate{
		Plan:        body.Plan,
		Features:    body.Features,
		Preferences: body.Preferences,
	})
	if err != nil {
		h.writeError(w, r, err, updateSettingsOperation)
		return
	}

	writeJSON(w, http.StatusOK, toSettingsDTO(updated))
}

func (h *Handler) Members(w http.ResponseWriter, r *http.Request) {
	org, err := tenant.RequireFromContext(r.Context())
	if err != nil {
		h.writeError(w, r, err, membersOperation)
		return
	}

	members, err := h.svc.ListMembers(r.Context(), org.OrgID)
	if err != nil {
		h.writeError(w, r, err, membersOperation)
		return
	}

	data := make([]memberDTO, 0, len(members))
	for _, m := range members {
		data = append(data, memberDTO{UserID: m.UserID, Role: m.Role, Email: m.Email, CreatedAt: m.CreatedAt})
	}
	writeJSON(w, http.StatusOK, memberListDTO{Data: data})
}

func toOrganizationDTO(org service.Organization) organizationDTO {
	return organizationDTO{
		ID:        org.ID,
		Name:      org.Name,
		Slug:      org.Slug,
		CreatedAt: org.CreatedAt,
		UpdatedAt: org.UpdatedAt,
	}
}

func toSettingsDTO(settings service.Settings) settingsDTO {
	dto := settingsDTO{
		Plan:        settings.Plan,
		Features:    settings.Features,
		Preferences: settings.Preferences,
		UpdatedAt:   settings.UpdatedAt,
	}
	if dto.Features == nil {
		dto.Features = map[string]any{}
	}
	if dto.Preferences == nil {
		dto.Preferences = map[string]any{}
	}
	return dto
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
		logger.Error("orgs operation failed", fields...)
	case problem.Status == http.StatusNotFound:
		logger.Info("orgs resource not found", fields...)
	default:
		logger.Warn("orgs request rejected", fields...)
	}

	problems.Write(w, r, problem)
}

func classifyError(err error) problems.Problem {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return problems.Validation(validationErr.Error(), validationErr.Fields)
	case errors.Is(err, service.ErrForbidden):
		return problems.Forbidden(service.ErrForbidden.Error())
	case errors.Is(err, tenant.ErrNoActiveOrg):
		return problems.Forbidden("no active organization")
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrNotProvisioned):
		return problems.NotFound("organization not found")
	default:
		return problems.Internal("")
	}
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

func (h *Handler) loggerFrom(ctx context.Context) *zap.Logger {
	return platformlogging.FromContextOr(ctx, h.logger)
}
