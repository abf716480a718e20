package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/xentri-app/xentri-api/domains/events/be/repo"
	"github.com/xentri-app/xentri-api/domains/events/be/schema"
	"github.com/xentri-app/xentri-api/platform/go/metrics"
	"github.com/xentri-app/xentri-api/platform/go/persistence"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100

	// EnvelopeVersion is the only envelope layout accepted today.
	EnvelopeVersion = "1.0"
)

// FieldErrors maps envelope fields (actor.type) and payload paths (payload.email) to messages.
type FieldErrors map[string][]string

// ValidationError enumerates every violated envelope and payload field.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	keys := make([]string, 0, len(v.Fields))
	for key := range v.Fields {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+": "+strings.Join(v.Fields[key], ", "))
	}
	return "invalid event: " + strings.Join(parts, "; ")
}

// Domain sentinel errors.
var (
	ErrInvalidQuery = errors.New("invalid query")
	ErrOrgMismatch  = errors.New("event org_id does not match the active organization")
	ErrNoOrg        = errors.New("no active organization")
	ErrConflict     = errors.New("event conflicts with an existing event")
)

// Actor identifies who caused an event.
type Actor struct {
	Type string `json:"type" validate:"required,oneof=user system job"`
	ID   string `json:"id" validate:"required,max=200"`
}

// CreateInput is the event envelope submitted by callers.
type CreateInput struct {
	Type            string          `json:"type" validate:"required,max=100"`
	OrgID           string          `json:"org_id"`
	Actor           Actor           `json:"actor"`
	PayloadSchema   string          `json:"payload_schema"`
	Payload         json.RawMessage `json:"payload"`
	Source          *string         `json:"source" validate:"omitempty,max=200"`
	DedupeKey       *string         `json:"dedupe_key" validate:"omitempty,min=1,max=200"`
	CorrelationID   *string         `json:"correlation_id" validate:"omitempty,max=200"`
	TraceID         *string         `json:"trace_id" validate:"omitempty,max=200"`
	EnvelopeVersion string          `json:"envelope_version" validate:"required,oneof=1.0"`
}

// Event is the domain view of a stored event.
type Event struct {
	ID              uuid.UUID
	OrgID           string
	Type            string
	Actor           Actor
	PayloadSchema   string
	Payload         json.RawMessage
	Source          *string
	OccurredAt      time.Time
	RecordedAt      time.Time
	DedupeKey       *string
	CorrelationID   *string
	TraceID         *string
	EnvelopeVersion string
}

// CreateResult acknowledges a create. Created is false when a dedupe key matched an existing event.
type CreateResult struct {
	EventID uuid.UUID
	Created bool
}

// ListOptions controls filtering and cursor pagination. A nil Limit means DefaultListLimit.
type ListOptions struct {
	Type   *string
	Since  *time.Time
	Limit  *int
	Cursor *string
}

// ListResult is one page of events, newest first.
type ListResult struct {
	Events  []Event
	Cursor  *string
	HasMore bool
}

// Preparer validates an envelope and builds the record without writing it, so other
// services can append events inside their own org-bound transactions.
type Preparer interface {
	Prepare(input CreateInput, orgID string) (persistence.EventRecord, error)
}

// Service defines the business operations for the event log.
type Service interface {
	Preparer
	Create(ctx context.Context, orgID string, input CreateInput) (CreateResult, error)
	List(ctx context.Context, orgID string, opts ListOptions) (ListResult, error)
}

type service struct {
	repo     repo.Repository
	registry *schema.Registry
	validate *validator.Validate
	recorder metrics.Recorder
	now      func() time.Time
}

// Option customises the service.
type Option func(*service)

func WithRecorder(recorder metrics.Recorder) Option {
	return func(s *service) { s.recorder = recorder }
}

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// New constructs an events Service instance backed by the provided repository.
func New(r repo.Repository, registry *schema.Registry, opts ...Option) Service {
	if r == nil {
		panic("events repository is required")
	}
	if registry == nil {
		panic("event schema registry is required")
	}

	s := &service{
		repo:     r,
		registry: registry,
		validate: NewEnvelopeValidator(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewEnvelopeValidator reports fields by their JSON names.
func NewEnvelopeValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// NewInput builds a system-generated envelope around a typed payload.
func NewInput(orgID string, actor Actor, payload schema.Payload) (CreateInput, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return CreateInput{}, fmt.Errorf("encode %s payload: %w", payload.EventType(), err)
	}
	return CreateInput{
		Type:            payload.EventType(),
		OrgID:           orgID,
		Actor:           actor,
		PayloadSchema:   schema.SchemaID(payload.EventType()),
		Payload:         raw,
		EnvelopeVersion: EnvelopeVersion,
	}, nil
}

func (s *service) Prepare(input CreateInput, orgID string) (persistence.EventRecord, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return persistence.EventRecord{}, ErrNoOrg
	}
	if input.OrgID != "" && input.OrgID != orgID {
		return persistence.EventRecord{}, ErrOrgMismatch
	}

	if strings.TrimSpace(input.EnvelopeVersion) == "" {
		input.EnvelopeVersion = EnvelopeVersion
	}
	input.Type = strings.TrimSpace(input.Type)

	fieldErrors := FieldErrors{}
	if err := s.validate.Struct(input); err != nil {
		var validationErrs validator.ValidationErrors
		if !errors.As(err, &validationErrs) {
			return persistence.EventRecord{}, fmt.Errorf("validate envelope: %w", err)
		}
		for _, fe := range validationErrs {
			fieldErrors.add(envelopeField(fe), envelopeMessage(fe))
		}
	}

	if input.Type != "" {
		if !s.registry.Known(input.Type) {
			fieldErrors.add("type", fmt.Sprintf("unknown event type %q", input.Type))
		} else {
			expected := schema.SchemaID(input.Type)
			if input.PayloadSchema == "" {
				input.PayloadSchema = expected
			} else if input.PayloadSchema != expected {
				fieldErrors.add("payload_schema", fmt.Sprintf("must be %q for %s", expected, input.Type))
			}

			payloadErrors, err := s.registry.Validate(input.Type, input.Payload)
			if err != nil {
				return persistence.EventRecord{}, err
			}
			for field, messages := range payloadErrors {
				for _, message := range messages {
					fieldErrors.add(field, message)
				}
			}
		}
	}

	if len(fieldErrors) > 0 {
		return persistence.EventRecord{}, &ValidationError{Fields: fieldErrors}
	}

	// occurred_at is always the server clock; it is the pagination sort key.
	occurredAt := s.now()

	id, err := uuid.NewV7()
	if err != nil {
		return persistence.EventRecord{}, fmt.Errorf("generate event id: %w", err)
	}

	var payload bytes.Buffer
	if err := json.Compact(&payload, input.Payload); err != nil {
		return persistence.EventRecord{}, fmt.Errorf("compact payload: %w", err)
	}

	return persistence.EventRecord{
		ID:              id,
		OrgID:           orgID,
		Type:            input.Type,
		ActorType:       input.Actor.Type,
		ActorID:         input.Actor.ID,
		PayloadSchema:   input.PayloadSchema,
		Payload:         payload.Bytes(),
		Source:          trimmedOrNil(input.Source),
		OccurredAt:      occurredAt.UTC().Truncate(time.Microsecond),
		DedupeKey:       trimmedOrNil(input.DedupeKey),
		CorrelationID:   trimmedOrNil(input.CorrelationID),
		TraceID:         trimmedOrNil(input.TraceID),
		EnvelopeVersion: input.EnvelopeVersion,
	}, nil
}

func (s *service) Create(ctx context.Context, orgID string, input CreateInput) (CreateResult, error) {
	rec, err := s.Prepare(input, orgID)
	if err != nil {
		return CreateResult{}, err
	}

	stored, created, err := s.repo.Append(ctx, rec)
	if err != nil {
		return CreateResult{}, mapPersistenceError(err)
	}

	if created && s.recorder != nil {
		s.recorder.EventAppended(stored.Type)
	}

	return CreateResult{EventID: stored.ID, Created: created}, nil
}

func (s *service) List(ctx context.Context, orgID string, opts ListOptions) (ListResult, error) {
	if strings.TrimSpace(orgID) == "" {
		return ListResult{}, ErrNoOrg
	}

	limit := DefaultListLimit
	if opts.Limit != nil {
		limit = *opts.Limit
	}
	if limit < 1 || limit > MaxListLimit {
		return ListResult{}, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidQuery, MaxListLimit)
	}

	params := persistence.ListEventsParams{Limit: limit, Since: opts.Since}

	if opts.Type != nil {
		eventType := strings.TrimSpace(*opts.Type)
		if eventType != "" {
			if !s.registry.Known(eventType) {
				return ListResult{}, fmt.Errorf("%w: unknown event type %q", ErrInvalidQuery, eventType)
			}
			params.Type = &eventType
		}
	}

	if opts.Cursor != nil && strings.TrimSpace(*opts.Cursor) != "" {
		cursor, err := DecodeCursor(strings.TrimSpace(*opts.Cursor))
		if err != nil {
			return ListResult{}, err
		}
		params.After = &cursor
	}

	result, err := s.repo.List(ctx, orgID, params)
	if err != nil {
		return ListResult{}, mapPersistenceError(err)
	}

	events := make([]Event, 0, len(result.Events))
	for _, record := range result.Events {
		events = append(events, mapEvent(record))
	}

	page := ListResult{Events: events, HasMore: result.HasMore}
	if result.HasMore && len(result.Events) > 0 {
		last := result.Events[len(result.Events)-1]
		token := EncodeCursor(persistence.EventCursor{OccurredAt: last.OccurredAt, ID: last.ID})
		page.Cursor = &token
	}
	return page, nil
}

func mapEvent(record persistence.EventRecord) Event {
	return Event{
		ID:              record.ID,
		OrgID:           record.OrgID,
		Type:            record.Type,
		Actor:           Actor{Type: record.ActorType, ID: record.ActorID},
		PayloadSchema:   record.PayloadSchema,
		Payload:         record.Payload,
		Source:          record.Source,
		OccurredAt:      record.OccurredAt,
		RecordedAt:      record.RecordedAt,
		DedupeKey:       record.DedupeKey,
		CorrelationID:   record.CorrelationID,
		TraceID:         record.TraceID,
		EnvelopeVersion: record.EnvelopeVersion,
	}
}

func mapPersistenceError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrNoOrgContext):
		return ErrNoOrg
	case errors.Is(err, persistence.ErrConflict):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	default:
		return err
	}
}

func envelopeField(fe validator.FieldError) string {
	namespace := fe.Namespace()
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return fe.Field()
}

func envelopeMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	default:
		return fe.Field() + " is invalid"
	}
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func (f FieldErrors) add(field, message string) {
	if f == nil {
		return
	}
	f[field] = append(f[field], message)
}
