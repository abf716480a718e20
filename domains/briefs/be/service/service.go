package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xentri-app/xentri-api/domains/events/be/schema"
	eventsservice "github.com/xentri-app/xentri-api/domains/events/be/service"
	platformlogging "github.com/xentri-app/xentri-api/platform/go/logging"
	"github.com/xentri-app/xentri-api/platform/go/metrics"
	"github.com/xentri-app/xentri-api/platform/go/persistence"
	"github.com/xentri-app/xentri-api/platform/go/requesttrace"
	"github.com/xentri-app/xentri-api/platform/go/tenant"
)

// SchemaVersion is the section layout version written on new briefs.
const SchemaVersion = 1

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

// ValidationError lists every invalid section field.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	keys := slices.Sorted(maps.Keys(v.Fields))
	return "invalid brief: " + strings.Join(keys, ", ")
}

var (
	ErrNotFound = errors.New("brief not found")
	// ErrSaveFailed wraps storage failures while writing a brief; callers may retry.
	ErrSaveFailed = errors.New("brief could not be saved")
)

// Brief is the domain view of a stored brief.
type Brief struct {
	ID               uuid.UUID
	OrgID            string
	UserID           string
	Sections         map[string]json.RawMessage
	SectionStatus    map[string]string
	CompletionStatus string
	SchemaVersion    int
	Version          int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Service defines the business operations for briefs.
type Service interface {
	Create(ctx context.Context, org tenant.OrgContext, sections map[string]json.RawMessage) (Brief, error)
	Get(ctx context.Context, orgID string, id uuid.UUID) (Brief, error)
	// Current returns the most recently created brief, or nil when the org has none.
	Current(ctx context.Context, orgID string) (*Brief, error)
	// Update merges each section patch key by key into the stored section; a null value clears the key.
	Update(ctx context.Context, org tenant.OrgContext, id uuid.UUID, patch map[string]json.RawMessage) (Brief, error)
}

type service struct {
	repo     Repository
	events   eventsservice.Preparer
	validate *validator.Validate
	recorder metrics.Recorder
	logger   *zap.Logger
}

// Option customises the service.
type Option func(*service)

func WithRecorder(recorder metrics.Recorder) Option {
	return func(s *service) { s.recorder = recorder }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *service) { s.logger = logger }
}

// New constructs a briefs Service.
func New(r Repository, events eventsservice.Preparer, opts ...Option) Service {
	if r == nil {
		panic("briefs repository is required")
	}
	if events == nil {
		panic("event preparer is required")
	}

	s := &service{
		repo:     r,
		events:   events,
		validate: newSectionValidator(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newSectionValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *service) Create(ctx context.Context, org tenant.OrgContext, sections map[string]json.RawMessage) (Brief, error) {
	fieldErrors := FieldErrors{}
	canonical := map[string]json.RawMessage{}
	typed := map[string]Section{}
	for _, name := range slices.Sorted(maps.Keys(sections)) {
		raw := sections[name]
		if isNull(raw) {
			continue
		}
		section, encoded := decodeSection(s.validate, name, raw, fieldErrors)
		if section == nil || isEmptyObject(encoded) {
			continue
		}
		canonical[name] = encoded
		typed[name] = section
	}
	if len(fieldErrors) > 0 {
		return Brief{}, &ValidationError{Fields: fieldErrors}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Brief{}, fmt.Errorf("generate brief id: %w", err)
	}

	status, completion := computeStatus(typed)
	document, err := json.Marshal(canonical)
	if err != nil {
		return Brief{}, fmt.Errorf("encode sections: %w", err)
	}

	var stored persistence.BriefRecord
	err = s.repo.WithOrg(ctx, org.OrgID, func(tx Tx) error {
		stored, err = tx.Insert(ctx, persistence.BriefRecord{
			ID:               id,
			OrgID:            org.OrgID,
			UserID:           org.UserID,
			Sections:         document,
			SectionStatus:    status,
			CompletionStatus: completion,
			SchemaVersion:    SchemaVersion,
		})
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSaveFailed, err)
		}

		rec, err := s.prepareEvent(ctx, org, schema.BriefCreated{
			BriefID:           id.String(),
			SectionsPopulated: orderedNames(canonical),
			CompletionStatus:  completion,
		})
		if err != nil {
			return err
		}
		if _, _, err := tx.AppendEvent(ctx, rec); err != nil {
			return fmt.Errorf("%w: append event: %w", ErrSaveFailed, err)
		}
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "brief create failed", err)
		return Brief{}, err
	}

	s.recordEvent(schema.TypeBriefCreated)
	return mapBrief(stored)
}

func (s *service) Get(ctx context.Context, orgID string, id uuid.UUID) (Brief, error) {
	var rec persistence.BriefRecord
	err := s.repo.WithOrg(ctx, orgID, func(tx Tx) error {
		var err error
		rec, err = tx.Get(ctx, orgID, id, false)
		return err
	})
	if err != nil {
		return Brief{}, mapPersistenceError(err)
	}
	return mapBrief(rec)
}

func (s *service) Current(ctx context.Context, orgID string) (*Brief, error) {
	var rec persistence.BriefRecord
	err := s.repo.WithOrg(ctx, orgID, func(tx Tx) error {
		var err error
		rec, err = tx.Latest(ctx, orgID)
		return err
	})
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	brief, err := mapBrief(rec)
	if err != nil {
		return nil, err
	}
	return &brief, nil
}

func (s *service) Update(ctx context.Context, org tenant.OrgContext, id uuid.UUID, patch map[string]json.RawMessage) (Brief, error) {
	fieldErrors := FieldErrors{}
	for name := range patch {
		if _, ok := newSection(name); !ok {
			fieldErrors.add("sections."+name, fmt.Sprintf("unknown section %q", name))
		}
	}
	if len(fieldErrors) > 0 {
		return Brief{}, &ValidationError{Fields: fieldErrors}
	}

	var (
		stored  persistence.BriefRecord
		emitted bool
	)
	err := s.repo.WithOrg(ctx, org.OrgID, func(tx Tx) error {
		current, err := tx.Get(ctx, org.OrgID, id, true)
		if err != nil {
			return err
		}

		document, err := decodeDocument(current.Sections)
		if err != nil {
			return err
		}

		// Re-encode stored sections so comparisons ignore the database's key ordering.
		existing := map[string]json.RawMessage{}
		typed := map[string]Section{}
		for name, raw := range document {
			section, encoded := decodeSection(s.validate, name, raw, FieldErrors{})
			if section == nil || isEmptyObject(encoded) {
				continue
			}
			existing[name] = encoded
			typed[name] = section
		}

		canonical := maps.Clone(existing)
		var changed []string
		for _, name := range SectionNames {
			raw, patched := patch[name]
			if !patched {
				continue
			}

			merged, err := mergeSection(existing[name], raw)
			if err != nil {
				fieldErrors.add("sections."+name, err.Error())
				continue
			}
			section, encoded := decodeSection(s.validate, name, merged, fieldErrors)
			if section == nil {
				continue
			}

			if isEmptyObject(encoded) {
				delete(canonical, name)
				delete(typed, name)
			} else {
				canonical[name] = encoded
				typed[name] = section
			}
			if !bytes.Equal(existing[name], canonical[name]) {
				changed = append(changed, name)
			}
		}
		if len(fieldErrors) > 0 {
			return &ValidationError{Fields: fieldErrors}
		}
		if len(changed) == 0 {
			stored = current
			return nil
		}

		status, completion := computeStatus(typed)
		encoded, err := json.Marshal(canonical)
		if err != nil {
			return fmt.Errorf("encode sections: %w", err)
		}

		current.Sections = encoded
		current.SectionStatus = status
		current.CompletionStatus = completion
		stored, err = tx.Update(ctx, current)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSaveFailed, err)
		}

		rec, err := s.prepareEvent(ctx, org, schema.BriefUpdated{
			BriefID:          id.String(),
			SectionsChanged:  changed,
			CompletionStatus: completion,
			Version:          stored.Version,
		})
		if err != nil {
			return err
		}
		if _, _, err := tx.AppendEvent(ctx, rec); err != nil {
			return fmt.Errorf("%w: append event: %w", ErrSaveFailed, err)
		}
		emitted = true
		return nil
	})
	if err != nil {
		err = mapPersistenceError(err)
		if errors.Is(err, ErrSaveFailed) {
			s.logFailure(ctx, "brief update failed", err)
		}
		return Brief{}, err
	}

	if emitted {
		s.recordEvent(schema.TypeBriefUpdated)
	}
	return mapBrief(stored)
}

func (s *service) prepareEvent(ctx context.Context, org tenant.OrgContext, payload schema.Payload) (persistence.EventRecord, error) {
	input, err := eventsservice.NewInput(org.OrgID, eventsservice.Actor{Type: string(requesttrace.ActorKindUser), ID: org.UserID}, payload)
	if err != nil {
		return persistence.EventRecord{}, err
	}
	input.TraceID = requesttrace.TraceID(ctx)
	return s.events.Prepare(input, org.OrgID)
}

func (s *service) recordEvent(eventType string) {
	if s.recorder != nil {
		s.recorder.EventAppended(eventType)
	}
}

func (s *service) logFailure(ctx context.Context, msg string, err error) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return
	}
	platformlogging.FromContextOr(ctx, s.logger).Error(msg, zap.Error(err))
}

// computeStatus marks each of the seven sections ready or draft. The brief is complete only
// when every section is ready.
func computeStatus(sections map[string]Section) (map[string]string, string) {
	status := make(map[string]string, len(SectionNames))
	completion := StatusComplete
	for _, name := range SectionNames {
		section, ok := sections[name]
		if ok && section.Ready() {
			status[name] = StatusReady
			continue
		}
		status[name] = StatusDraft
		completion = StatusDraft
	}
	return status, completion
}

// mergeSection applies an object patch to the stored section. A null patch clears the section.
func mergeSection(existing, patch json.RawMessage) (json.RawMessage, error) {
	if isNull(patch) {
		return json.RawMessage(`{}`), nil
	}

	var patchFields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &patchFields); err != nil || patchFields == nil {
		return nil, errors.New("section patch must be a JSON object")
	}

	fields := map[string]json.RawMessage{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &fields); err != nil {
			return nil, fmt.Errorf("decode stored section: %w", err)
		}
	}
	for key, value := range patchFields {
		if isNull(value) {
			delete(fields, key)
			continue
		}
		fields[key] = value
	}
	return json.Marshal(fields)
}

func decodeDocument(raw json.RawMessage) (map[string]json.RawMessage, error) {
	document := map[string]json.RawMessage{}
	if len(raw) == 0 {
		return document, nil
	}
	if err := json.Unmarshal(raw, &document); err != nil {
		return nil, fmt.Errorf("decode stored sections: %w", err)
	}
	for name, value := range document {
		var compact bytes.Buffer
		if err := json.Compact(&compact, value); err != nil {
			return nil, fmt.Errorf("decode stored section %s: %w", name, err)
		}
		document[name] = compact.Bytes()
	}
	return document, nil
}

func mapBrief(rec persistence.BriefRecord) (Brief, error) {
	sections, err := decodeDocument(rec.Sections)
	if err != nil {
		return Brief{}, err
	}
	return Brief{
		ID:               rec.ID,
		OrgID:            rec.OrgID,
		UserID:           rec.UserID,
		Sections:         sections,
		SectionStatus:    rec.SectionStatus,
		CompletionStatus: rec.CompletionStatus,
		SchemaVersion:    rec.SchemaVersion,
		Version:          rec.Version,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}, nil
}

func mapPersistenceError(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

func orderedNames(sections map[string]json.RawMessage) []string {
	names := make([]string, 0, len(sections))
	for _, name := range SectionNames {
		if _, ok := sections[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func isEmptyObject(raw json.RawMessage) bool {
	return bytes.Equal(raw, []byte("{}"))
}

func (f FieldErrors) add(field, message string) {
	if f == nil {
		return
	}
	f[field] = append(f[field], message)
}
