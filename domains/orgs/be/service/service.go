package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	eventsservice "github.com/xentri-app/xentri-api/domains/events/be/service"
	"github.com/xentri-app/xentri-api/platform/go/metrics"
	"github.com/xentri-app/xentri-api/platform/go/persistence"
	"github.com/xentri-app/xentri-api/platform/go/tenant"
)

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

// ValidationError is returned when the input payload is invalid. It is never retried.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	keys := make([]string, 0, len(v.Fields))
	for key := range v.Fields {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return "validation error: " + strings.Join(keys, ", ")
}

// Domain sentinel errors.
var (
	ErrNotFound       = errors.New("organization not found")
	ErrForbidden      = errors.New("only the organization owner may change settings")
	ErrNotProvisioned = errors.New("organization is not provisioned yet")
)

// Plans accepted in org settings.
var Plans = []string{"free", "starter", "pro", "enterprise"}

// Organization is the domain view of a tenant root.
type Organization struct {
	ID        string
	Name      string
	Slug      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Settings is the single settings document of an organization.
type Settings struct {
	Plan        string
	Features    map[string]any
	Preferences map[string]any
	UpdatedAt   time.Time
}

// Member is a user's membership in the current organization.
type Member struct {
	UserID    string
	Role      string
	Email     *string
	CreatedAt time.Time
}

// CurrentOrg is the caller's active organization with its settings.
type CurrentOrg struct {
	Organization Organization
	Settings     Settings
	Role         string
}

// SettingsUpdate merges into the existing settings. A nil map value deletes the key.
type SettingsUpdate struct {
	Plan        *string
	Features    map[string]any
	Preferences map[string]any
}

// OrganizationCreated is the identity provider's notification that an org exists.
type OrganizationCreated struct {
	OrgID         string `validate:"required"`
	Name          string `validate:"required,max=200"`
	Slug          string `validate:"required,max=100"`
	CreatorUserID string `validate:"required"`
	CreatorEmail  *string
}

// ProvisionResult reports whether this call produced the provisioned event.
type ProvisionResult struct {
	OrgID              string
	AlreadyProvisioned bool
	Attempts           int
}

// MembershipCreated is the identity provider's notification that a user joined an org.
type MembershipCreated struct {
	OrgID        string
	UserID       string
	Email        *string
	ProviderRole string
}

// Service defines the business operations for organizations.
type Service interface {
	Provision(ctx context.Context, notification OrganizationCreated) (ProvisionResult, error)
	GetCurrent(ctx context.Context, org tenant.OrgContext) (CurrentOrg, error)
	UpdateSettings(ctx context.Context, org tenant.OrgContext, input SettingsUpdate) (Settings, error)
	ListMembers(ctx context.Context, orgID string) ([]Member, error)
	AddMember(ctx context.Context, input MembershipCreated) (Member, error)
	UpsertUser(ctx context.Context, userID string, email *string) error
}

// RetryConfig bounds provisioning retries on transient database failures.
type RetryConfig struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig allows three attempts starting at 100ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialInterval: 100 * time.Millisecond, MaxInterval: time.Second}
}

type service struct {
	repo     Repository
	events   eventsservice.Preparer
	recorder metrics.Recorder
	logger   *zap.Logger
	retry    RetryConfig
}

// Option customises the service.
type Option func(*service)

func WithRecorder(recorder metrics.Recorder) Option {
	return func(s *service) { s.recorder = recorder }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *service) { s.logger = logger }
}

func WithRetry(cfg RetryConfig) Option {
	return func(s *service) { s.retry = cfg }
}

// New constructs an orgs Service. Events are validated through events before being
// appended inside the org's own transactions.
func New(r Repository, events eventsservice.Preparer, opts ...Option) Service {
	if r == nil {
		panic("orgs repository is required")
	}
	if events == nil {
		panic("event preparer is required")
	}

	s := &service{
		repo:   r,
		events: events,
		logger: zap.NewNop(),
		retry:  DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retry.MaxAttempts == 0 {
		s.retry.MaxAttempts = 1
	}
	return s
}

func mapOrganization(record persistence.Organization) Organization {
	return Organization{
		ID:        record.ID,
		Name:      record.Name,
		Slug:      record.Slug,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}

func mapSettings(record persistence.OrgSettings) Settings {
	return Settings{
		Plan:        record.Plan,
		Features:    record.Features,
		Preferences: record.Preferences,
		UpdatedAt:   record.UpdatedAt,
	}
}

func mapMember(record persistence.Member) Member {
	return Member{
		UserID:    record.UserID,
		Role:      record.Role,
		Email:     record.Email,
		CreatedAt: record.CreatedAt,
	}
}

func (s *service) recordEvent(eventType string) {
	if s.recorder != nil {
		s.recorder.EventAppended(eventType)
	}
}

func (f FieldErrors) add(field, message string) {
	if f == nil {
		return
	}
	f[field] = append(f[field], message)
}
