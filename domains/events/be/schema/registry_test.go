package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryTypes(t *testing.T) {
	t.Parallel()

	registry, err := Default()
	require.NoError(t, err)

	require.Equal(t, []string{
		TypeBriefCreated,
		TypeBriefUpdated,
		TypeMemberJoined,
		TypeOrgCreated,
		TypeOrgProvisioned,
		TypeOrgSettingsUpdated,
		TypeUserCreated,
		TypeUserSignup,
	}, registry.Types())
	require.Equal(t, "xentri://events/user.signup.v1", SchemaID(TypeUserSignup))
	require.False(t, registry.Known("user.deleted.v1"))
}

func TestRegistryValidate(t *testing.T) {
	t.Parallel()

	registry, err := Default()
	require.NoError(t, err)

	tests := []struct {
		name       string
		eventType  string
		payload    string
		wantFields []string
	}{
		{
			name:      "valid signup",
			eventType: TypeUserSignup,
			payload:   `{"email":"ada@example.com"}`,
		},
		{
			name:       "signup missing email",
			eventType:  TypeUserSignup,
			payload:    `{"invalid_field":"x"}`,
			wantFields: []string{"payload.email", "payload"},
		},
		{
			name:       "signup malformed email",
			eventType:  TypeUserSignup,
			payload:    `{"email":"not-an-email"}`,
			wantFields: []string{"payload.email"},
		},
		{
			name:       "org created requires name slug and owner",
			eventType:  TypeOrgCreated,
			payload:    `{}`,
			wantFields: []string{"payload.name", "payload.slug", "payload.owner_id"},
		},
		{
			name:       "brief created with unknown section",
			eventType:  TypeBriefCreated,
			payload:    `{"brief_id":"0b4c3a3e-7f43-4c55-8d52-3c7b9f1f7f0e","sections_populated":["history"],"completion_status":"draft"}`,
			wantFields: []string{"payload.sections_populated.0"},
		},
		{
			name:       "empty payload",
			eventType:  TypeMemberJoined,
			payload:    ``,
			wantFields: []string{"payload"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fields, err := registry.Validate(tc.eventType, json.RawMessage(tc.payload))
			require.NoError(t, err)
			if len(tc.wantFields) == 0 {
				require.Empty(t, fields)
				return
			}
			for _, field := range tc.wantFields {
				require.Contains(t, fields, field)
			}
		})
	}
}

func TestRegistryMissingEmailMessage(t *testing.T) {
	t.Parallel()

	registry, err := Default()
	require.NoError(t, err)

	fields, err := registry.Validate(TypeUserSignup, json.RawMessage(`{"invalid_field":"x"}`))
	require.NoError(t, err)
	require.Equal(t, []string{"email is required"}, fields["payload.email"])
}

func TestRegistryUnknownType(t *testing.T) {
	t.Parallel()

	registry, err := Default()
	require.NoError(t, err)

	_, err = registry.Validate("user.deleted.v1", json.RawMessage(`{}`))
	require.True(t, errors.Is(err, ErrUnknownType))
}

func TestRegistryValidatePayload(t *testing.T) {
	t.Parallel()

	registry, err := Default()
	require.NoError(t, err)

	raw, fields, err := registry.ValidatePayload(OrgProvisioned{OrgID: "org_abc12345", OwnerID: "user_1", Plan: "free"})
	require.NoError(t, err)
	require.Empty(t, fields)
	require.JSONEq(t, `{"org_id":"org_abc12345","owner_id":"user_1","plan":"free"}`, string(raw))

	_, fields, err = registry.ValidatePayload(MemberJoined{UserID: "user_1", Role: "superuser"})
	require.NoError(t, err)
	require.Contains(t, fields, "payload.role")
}
