package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// claimSet reads typed values out of a decoded JWT payload. Missing or mistyped claims read as zero values.
type claimSet map[string]interface{}

func (c claimSet) str(key string) string {
	s, _ := c[key].(string)
	return s
}

func (c claimSet) optional(key string) *string {
	if s := c.str(key); s != "" {
		return &s
	}
	return nil
}

func (c claimSet) flag(key string) bool {
	b, _ := c[key].(bool)
	return b
}

func (c claimSet) first(keys ...string) string {
	for _, k := range keys {
		if s := c.str(k); s != "" {
			return s
		}
	}
	return ""
}

// org reads an organization claim. Session tokens carry it either flat (org_id, org_role)
// or inside the compact "o" object (id, rol).
func (c claimSet) org(flatKey, compactKey string) *string {
	if v := c.optional(flatKey); v != nil {
		return v
	}
	compact, ok := c["o"].(map[string]interface{})
	if !ok {
		return nil
	}
	return claimSet(compact).optional(compactKey)
}

// DefaultCredentialExtractor converts session claims into UserCredentials.
func DefaultCredentialExtractor(claims map[string]interface{}) (*UserCredentials, error) {
	if claims == nil {
		return nil, errors.New("missing claims")
	}
	c := claimSet(claims)

	userID := c.first("sub", "user_id", "uid")
	if userID == "" {
		return nil, errors.New("subject claim is required")
	}

	return &UserCredentials{
		Id:            userID,
		Email:         c.str("email"),
		EmailVerified: c.flag("email_verified"),
		Name:          c.optional("name"),
		PictureURL:    c.optional("picture"),
		OrgID:         c.org("org_id", "id"),
		OrgRole:       c.org("org_role", "rol"),
		SessionID:     c.optional("sid"),
	}, nil
}

func decodePayload(token string) (map[string]interface{}, error) {
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return nil, errors.New("invalid token format")
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	claims := make(map[string]interface{})
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, fmt.Errorf("unmarshal claims: %w", err)
	}
	return claims, nil
}
