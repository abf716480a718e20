package devtoken

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestBuildUnsignedSessionToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()

	token, err := BuildUnsignedSessionToken(Params{
		UserID:    "user_owner",
		Email:     "owner@example.com",
		Name:      "Dev Owner",
		OrgID:     "org_dev12345",
		OrgRole:   "org:admin",
		ExpiresIn: time.Hour,
	}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	header, payload := splitToken(t, token)
	if got, want := header["alg"], "none"; got != want {
		t.Fatalf("header alg = %v, want %v", got, want)
	}

	if got, want := payload["iss"], "https://dev.xentri.local"; got != want {
		t.Errorf("iss = %v, want %v", got, want)
	}
	if got, want := payload["sub"], "user_owner"; got != want {
		t.Errorf("sub = %v, want %v", got, want)
	}
	if got, want := payload["sid"], "sess_dev"; got != want {
		t.Errorf("sid = %v, want %v", got, want)
	}
	if got, want := payload["org_id"], "org_dev12345"; got != want {
		t.Errorf("org_id = %v, want %v", got, want)
	}
	if got, want := payload["org_role"], "org:admin"; got != want {
		t.Errorf("org_role = %v, want %v", got, want)
	}
	if got, want := payload["exp"], float64(now.Add(time.Hour).Unix()); got != want {
		t.Errorf("exp = %v, want %v", got, want)
	}
}

func TestBuildUnsignedSessionTokenWithoutOrg(t *testing.T) {
	token, err := BuildUnsignedSessionToken(Params{UserID: "user_1", Email: "u@example.com"}, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, payload := splitToken(t, token)
	if _, ok := payload["org_id"]; ok {
		t.Errorf("org_id must be omitted when no organization is active")
	}
}

func TestBuildUnsignedSessionTokenValidation(t *testing.T) {
	if _, err := BuildUnsignedSessionToken(Params{Email: "u@example.com"}, time.Time{}); err == nil {
		t.Fatal("expected error for missing user id")
	}
	if _, err := BuildUnsignedSessionToken(Params{UserID: "user_1"}, time.Time{}); err == nil {
		t.Fatal("expected error for missing email")
	}
}

func splitToken(t *testing.T, token string) (map[string]interface{}, map[string]interface{}) {
	t.Helper()
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		t.Fatalf("invalid token format: %q", token)
	}

	header := decodeSegment(t, parts[0])
	payload := decodeSegment(t, parts[1])
	return header, payload
}

func decodeSegment(t *testing.T, segment string) map[string]interface{} {
	t.Helper()
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		t.Fatalf("decode segment: %v", err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal segment: %v", err)
	}
	return out
}
