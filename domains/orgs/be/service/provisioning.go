package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xentri-app/xentri-api/domains/events/be/schema"
	eventsservice "github.com/xentri-app/xentri-api/domains/events/be/service"
	platformlogging "github.com/xentri-app/xentri-api/platform/go/logging"
	"github.com/xentri-app/xentri-api/platform/go/metrics"
	"github.com/xentri-app/xentri-api/platform/go/persistence"
	"github.com/xentri-app/xentri-api/platform/go/requesttrace"
	"github.com/xentri-app/xentri-api/platform/go/tenant"
)

const (
	provisioningActor = "org-provisioning"

	// ProvisionedDedupeKey marks the single provisioned event of an org.
	ProvisionedDedupeKey = "org.provisioned"
)

var notificationValidator = validator.New()

// Provision converges the org to: organization row, default settings, owner membership and
// exactly one org.provisioned.v1 event. Transient database failures are retried with
// exponential backoff; anything else fails on the first attempt.
func (s *service) Provision(ctx context.Context, notification OrganizationCreated) (ProvisionResult, error) {
	notification = normalizeNotification(notification)
	if err := validateNotification(notification); err != nil {
		s.recordOutcome(metrics.OutcomeFailed)
		return ProvisionResult{OrgID: notification.OrgID}, err
	}

	logger := platformlogging.FromContextOr(ctx, s.logger).With(zap.String("org_id", notification.OrgID))

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retry.InitialInterval
	policy.MaxInterval = s.retry.MaxInterval

	attempts := 0
	already, err := backoff.Retry(ctx, func() (bool, error) {
		attempts++
		if s.recorder != nil {
			s.recorder.ProvisioningAttempt()
		}

		already, err := s.provisionOnce(ctx, notification)
		if err != nil && !persistence.IsTransient(err) {
			return false, backoff.Permanent(err)
		}
		return already, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(s.retry.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("provisioning attempt failed, retrying",
				zap.Int("attempt", attempts),
				zap.Duration("retry_in", next),
				zap.Error(err),
			)
		}),
	)

	result := ProvisionResult{OrgID: notification.OrgID, AlreadyProvisioned: already, Attempts: attempts}
	if err != nil {
		s.recordOutcome(metrics.OutcomeFailed)
		logger.Error("provisioning failed", zap.Int("attempts", attempts), zap.Error(err))
		return result, fmt.Errorf("provision organization %s: %w", notification.OrgID, err)
	}

	if already {
		s.recordOutcome(metrics.OutcomeAlreadyProvisioned)
		logger.Info("organization already provisioned", zap.Int("attempts", attempts))
	} else {
		s.recordOutcome(metrics.OutcomeProvisioned)
		s.recordEvent(schema.TypeOrgProvisioned)
		logger.Info("organization provisioned", zap.Int("attempts", attempts))
	}
	return result, nil
}

// provisionOnce runs one attempt: the organization and creator rows first, then settings,
// owner membership and the provisioned event as a single unit.
func (s *service) provisionOnce(ctx context.Context, n OrganizationCreated) (bool, error) {
	err := s.repo.WithOrg(ctx, n.OrgID, func(tx Tx) error {
		if _, err := tx.UpsertUser(ctx, n.CreatorUserID, n.CreatorEmail); err != nil {
			return fmt.Errorf("ensure creator: %w", err)
		}
		if _, err := tx.InsertOrganization(ctx, persistence.Organization{ID: n.OrgID, Name: n.Name, Slug: n.Slug}); err != nil {
			return fmt.Errorf("ensure organization: %w", err)
		}
		return nil
	})
	if errors.Is(err, persistence.ErrSlugTaken) {
		err = s.slugConflict(ctx, n)
	}
	if err != nil {
		return false, err
	}

	var already bool
	err = s.repo.WithOrg(ctx, n.OrgID, func(tx Tx) error {
		if _, err := tx.EnsureSettings(ctx, n.OrgID); err != nil {
			return fmt.Errorf("ensure settings: %w", err)
		}
		if _, err := tx.UpsertMember(ctx, n.OrgID, n.CreatorUserID, persistence.OwnerRole); err != nil {
			return fmt.Errorf("ensure owner membership: %w", err)
		}

		exists, err := tx.HasEvent(ctx, n.OrgID, schema.TypeOrgProvisioned)
		if err != nil {
			return err
		}
		if exists {
			already = true
			return nil
		}

		rec, err := s.provisionedEvent(ctx, n)
		if err != nil {
			return err
		}
		_, created, err := tx.AppendEvent(ctx, rec)
		if err != nil {
			return fmt.Errorf("append provisioned event: %w", err)
		}
		already = !created
		return nil
	})
	return already, err
}

func (s *service) provisionedEvent(ctx context.Context, n OrganizationCreated) (persistence.EventRecord, error) {
	input, err := eventsservice.NewInput(n.OrgID,
		eventsservice.Actor{Type: string(requesttrace.ActorKindSystem), ID: provisioningActor},
		schema.OrgProvisioned{OrgID: n.OrgID, OwnerID: n.CreatorUserID, Plan: persistence.DefaultPlan},
	)
	if err != nil {
		return persistence.EventRecord{}, err
	}

	dedupeKey := ProvisionedDedupeKey
	source := "identity-provider"
	input.DedupeKey = &dedupeKey
	input.Source = &source
	input.CorrelationID = &n.OrgID
	input.TraceID = requesttrace.TraceID(ctx)

	return s.events.Prepare(input, n.OrgID)
}

func (s *service) recordOutcome(outcome string) {
	if s.recorder != nil {
		s.recorder.Provisioning(outcome)
	}
}

func normalizeNotification(n OrganizationCreated) OrganizationCreated {
	n.OrgID = strings.TrimSpace(n.OrgID)
	n.Name = strings.TrimSpace(n.Name)
	n.Slug = strings.ToLower(strings.TrimSpace(n.Slug))
	n.CreatorUserID = strings.TrimSpace(n.CreatorUserID)
	if n.CreatorEmail != nil {
		email := strings.ToLower(strings.TrimSpace(*n.CreatorEmail))
		if email == "" {
			n.CreatorEmail = nil
		} else {
			n.CreatorEmail = &email
		}
	}
	return n
}

// slugConflict classifies a slug unique violation. A concurrent delivery for the same org can
// trip the slug index before the id conflict is seen; that case is retried. Otherwise the slug
// belongs to another organization and redelivering the notification cannot help.
func (s *service) slugConflict(ctx context.Context, n OrganizationCreated) error {
	err := s.repo.WithOrg(ctx, n.OrgID, func(tx Tx) error {
		_, err := tx.GetOrganization(ctx, n.OrgID)
		return err
	})
	switch {
	case err == nil:
		return fmt.Errorf("%w: organization %s inserted concurrently", persistence.ErrTransient, n.OrgID)
	case errors.Is(err, persistence.ErrNotFound):
		return &ValidationError{Fields: FieldErrors{"slug": {fmt.Sprintf("slug %q is already used by another organization", n.Slug)}}}
	default:
		return fmt.Errorf("check organization after slug conflict: %w", err)
	}
}

func validateNotification(n OrganizationCreated) error {
	fieldErrors := FieldErrors{}
	if err := notificationValidator.Struct(n); err != nil {
		var validationErrs validator.ValidationErrors
		if !asValidationErrors(err, &validationErrs) {
			return err
		}
		for _, fe := range validationErrs {
			fieldErrors.add(fieldName(fe.Field()), fmt.Sprintf("%s failed %q", fieldName(fe.Field()), fe.Tag()))
		}
	}
	if n.Slug != "" {
		if _, err := persistence.NormalizeSlug(n.Slug); err != nil {
			fieldErrors.add("slug", err.Error())
		}
	}
	if n.OrgID != "" && !tenant.ValidOrgID(n.OrgID) {
		fieldErrors.add("org_id", "org_id must be a UUID or provider organization id")
	}
	if len(fieldErrors) > 0 {
		return &ValidationError{Fields: fieldErrors}
	}
	return nil
}

func fieldName(goName string) string {
	switch goName {
	case "OrgID":
		return "org_id"
	case "CreatorUserID":
		return "created_by"
	default:
		return strings.ToLower(goName)
	}
}
