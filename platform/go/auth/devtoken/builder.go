package devtoken

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Params captures the session claims required to mint an unsigned JWT for local and CI
// environments. No environment variables are read so the builder stays deterministic for tooling.
type Params struct {
	UserID    string        // sub (required)
	Email     string        // email claim (required)
	Name      string        // display name (optional)
	OrgID     string        // active organization (optional; omitted means no active org)
	OrgRole   string        // org_role claim, e.g. org:admin (optional)
	SessionID string        // sid claim; default "sess_dev"
	Issuer    string        // iss claim; default "https://dev.xentri.local"
	ExpiresIn time.Duration // relative expiry; default 1h if zero
}

// BuildUnsignedSessionToken returns a JWT string with alg "none" and no signature.
// The payload mirrors a session token so it can flow through the auth middleware when AUTH_PROVIDER=dev.
func BuildUnsignedSessionToken(p Params, now time.Time) (string, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return "", errors.New("userID is required")
	}
	if strings.TrimSpace(p.Email) == "" {
		return "", errors.New("email is required")
	}

	if now.IsZero() {
		now = time.Now().UTC()
	}

	expiresIn := p.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	issuer := p.Issuer
	if strings.TrimSpace(issuer) == "" {
		issuer = "https://dev.xentri.local"
	}

	sessionID := p.SessionID
	if strings.TrimSpace(sessionID) == "" {
		sessionID = "sess_dev"
	}

	payload := map[string]interface{}{
		"iss":            issuer,
		"sub":            p.UserID,
		"sid":            sessionID,
		"iat":            now.Unix(),
		"nbf":            now.Unix(),
		"exp":            now.Add(expiresIn).Unix(),
		"email":          p.Email,
		"email_verified": true,
	}
	if p.Name != "" {
		payload["name"] = p.Name
	}
	if p.OrgID != "" {
		payload["org_id"] = p.OrgID
	}
	if p.OrgRole != "" {
		payload["org_role"] = p.OrgRole
	}

	header := map[string]interface{}{
		"alg": "none",
		"typ": "JWT",
	}

	headerSegment, err := encodeSegment(header)
	if err != nil {
		return "", err
	}

	payloadSegment, err := encodeSegment(payload)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s.%s", headerSegment, payloadSegment), nil
}

func encodeSegment(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
