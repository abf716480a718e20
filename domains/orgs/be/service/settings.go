package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/xentri-app/xentri-api/domains/events/be/schema"
	eventsservice "github.com/xentri-app/xentri-api/domains/events/be/service"
	"github.com/xentri-app/xentri-api/platform/go/clerk"
	"github.com/xentri-app/xentri-api/platform/go/persistence"
	"github.com/xentri-app/xentri-api/platform/go/requesttrace"
	"github.com/xentri-app/xentri-api/platform/go/tenant"
)

func (s *service) GetCurrent(ctx context.Context, org tenant.OrgContext) (CurrentOrg, error) {
	var current CurrentOrg
	err := s.repo.WithOrg(ctx, org.OrgID, func(tx Tx) error {
		record, err := tx.GetOrganization(ctx, org.OrgID)
		if err != nil {
			return err
		}
		settings, err := tx.GetSettings(ctx, org.OrgID, false)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return ErrNotProvisioned
			}
			return err
		}
		role, err := tx.MemberRole(ctx, org.OrgID, org.UserID)
		if err != nil && !errors.Is(err, persistence.ErrNotFound) {
			return err
		}

		current = CurrentOrg{
			Organization: mapOrganization(record),
			Settings:     mapSettings(settings),
			Role:         role,
		}
		return nil
	})
	if err != nil {
		return CurrentOrg{}, mapPersistenceError(err)
	}
	return current, nil
}

func (s *service) UpdateSettings(ctx context.Context, org tenant.OrgContext, input SettingsUpdate) (Settings, error) {
	if err := validateSettingsUpdate(input); err != nil {
		return Settings{}, err
	}

	var (
		updated persistence.OrgSettings
		emitted bool
	)
	err := s.repo.WithOrg(ctx, org.OrgID, func(tx Tx) error {
		role, err := tx.MemberRole(ctx, org.OrgID, org.UserID)
		if err != nil && !errors.Is(err, persistence.ErrNotFound) {
			return err
		}
		if role != persistence.OwnerRole {
			return ErrForbidden
		}

		current, err := tx.GetSettings(ctx, org.OrgID, true)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return ErrNotProvisioned
			}
			return err
		}

		next, changed := mergeSettings(current, input)
		if len(changed) == 0 {
			updated = current
			return nil
		}

		updated, err = tx.UpdateSettings(ctx, next)
		if err != nil {
			return err
		}

		payload := schema.OrgSettingsUpdated{ChangedFields: changed}
		if slices.Contains(changed, "plan") {
			payload.Plan = next.Plan
		}
		rec, err := s.prepareUserEvent(ctx, org, payload)
		if err != nil {
			return err
		}
		if _, _, err := tx.AppendEvent(ctx, rec); err != nil {
			return fmt.Errorf("append settings event: %w", err)
		}
		emitted = true
		return nil
	})
	if err != nil {
		return Settings{}, mapPersistenceError(err)
	}

	if emitted {
		s.recordEvent(schema.TypeOrgSettingsUpdated)
	}
	return mapSettings(updated), nil
}

func (s *service) ListMembers(ctx context.Context, orgID string) ([]Member, error) {
	var members []Member
	err := s.repo.WithOrg(ctx, orgID, func(tx Tx) error {
		records, err := tx.ListMembers(ctx, orgID)
		if err != nil {
			return err
		}
		members = make([]Member, 0, len(records))
		for _, record := range records {
			members = append(members, mapMember(record))
		}
		return nil
	})
	if err != nil {
		return nil, mapPersistenceError(err)
	}
	return members, nil
}

// AddMember records a membership announced by the identity provider. Owners keep their role.
func (s *service) AddMember(ctx context.Context, input MembershipCreated) (Member, error) {
	input.OrgID = strings.TrimSpace(input.OrgID)
	input.UserID = strings.TrimSpace(input.UserID)

	fieldErrors := FieldErrors{}
	if !tenant.ValidOrgID(input.OrgID) {
		fieldErrors.add("org_id", "org_id must be a UUID or provider organization id")
	}
	if input.UserID == "" {
		fieldErrors.add("user_id", "user_id is required")
	}
	if len(fieldErrors) > 0 {
		return Member{}, &ValidationError{Fields: fieldErrors}
	}

	role := clerk.MemberRole(input.ProviderRole)

	var (
		member  persistence.Member
		emitted bool
	)
	err := s.repo.WithOrg(ctx, input.OrgID, func(tx Tx) error {
		if _, err := tx.GetOrganization(ctx, input.OrgID); err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return ErrNotProvisioned
			}
			return err
		}
		if _, err := tx.UpsertUser(ctx, input.UserID, input.Email); err != nil {
			return err
		}

		previous, err := tx.MemberRole(ctx, input.OrgID, input.UserID)
		if err != nil && !errors.Is(err, persistence.ErrNotFound) {
			return err
		}

		member, err = tx.UpsertMember(ctx, input.OrgID, input.UserID, role)
		if err != nil {
			return err
		}
		if previous != "" {
			return nil
		}

		eventInput, err := eventsservice.NewInput(input.OrgID,
			eventsservice.Actor{Type: string(requesttrace.ActorKindSystem), ID: "identity-provider"},
			schema.MemberJoined{UserID: member.UserID, Role: member.Role},
		)
		if err != nil {
			return err
		}
		dedupeKey := "member.joined:" + member.UserID
		eventInput.DedupeKey = &dedupeKey
		rec, err := s.events.Prepare(eventInput, input.OrgID)
		if err != nil {
			return err
		}
		_, emitted, err = tx.AppendEvent(ctx, rec)
		return err
	})
	if err != nil {
		return Member{}, mapPersistenceError(err)
	}

	if emitted {
		s.recordEvent(schema.TypeMemberJoined)
	}
	return mapMember(member), nil
}

func (s *service) UpsertUser(ctx context.Context, userID string, email *string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return &ValidationError{Fields: FieldErrors{"user_id": {"user_id is required"}}}
	}
	if _, err := s.repo.UpsertUser(ctx, userID, email); err != nil {
		return mapPersistenceError(err)
	}
	return nil
}

func (s *service) prepareUserEvent(ctx context.Context, org tenant.OrgContext, payload schema.Payload) (persistence.EventRecord, error) {
	input, err := eventsservice.NewInput(org.OrgID, eventsservice.Actor{Type: string(requesttrace.ActorKindUser), ID: org.UserID}, payload)
	if err != nil {
		return persistence.EventRecord{}, err
	}
	input.TraceID = requesttrace.TraceID(ctx)
	return s.events.Prepare(input, org.OrgID)
}

func validateSettingsUpdate(input SettingsUpdate) error {
	fieldErrors := FieldErrors{}
	if input.Plan == nil && input.Features == nil && input.Preferences == nil {
		fieldErrors.add("payload", "at least one of plan, features or preferences must be provided")
	}
	if input.Plan != nil && !slices.Contains(Plans, strings.TrimSpace(*input.Plan)) {
		fieldErrors.add("plan", "plan must be one of: "+strings.Join(Plans, ", "))
	}
	if len(fieldErrors) > 0 {
		return &ValidationError{Fields: fieldErrors}
	}
	return nil
}

// mergeSettings applies the patch and lists which top-level fields actually changed.
func mergeSettings(current persistence.OrgSettings, input SettingsUpdate) (persistence.OrgSettings, []string) {
	next := current
	var changed []string

	if input.Plan != nil {
		plan := strings.TrimSpace(*input.Plan)
		if plan != current.Plan {
			next.Plan = plan
			changed = append(changed, "plan")
		}
	}
	if input.Features != nil {
		merged := mergeMap(current.Features, input.Features)
		if !reflect.DeepEqual(merged, normalizedMap(current.Features)) {
			next.Features = merged
			changed = append(changed, "features")
		}
	}
	if input.Preferences != nil {
		merged := mergeMap(current.Preferences, input.Preferences)
		if !reflect.DeepEqual(merged, normalizedMap(current.Preferences)) {
			next.Preferences = merged
			changed = append(changed, "preferences")
		}
	}
	return next, changed
}

func mergeMap(base, patch map[string]any) map[string]any {
	merged := normalizedMap(base)
	for key, value := range patch {
		if value == nil {
			delete(merged, key)
			continue
		}
		merged[key] = value
	}
	return merged
}

func normalizedMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return maps.Clone(m)
}

func mapPersistenceError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	default:
		return err
	}
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	return errors.As(err, target)
}
