package auth

import (
	"context"
	"maps"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// FirebaseTokenVerifier verifies Firebase ID tokens. Organization data must be present
// as custom claims (org_id, org_role) set by the identity backend.
func FirebaseTokenVerifier(client *firebaseauth.Client) VerifyFunc {
	return func(ctx context.Context, token string) (map[string]interface{}, error) {
		t, err := client.VerifyIDToken(ctx, token)
		if err != nil {
			return nil, err
		}
		claims := maps.Clone(t.Claims)
		if claims == nil {
			claims = make(map[string]interface{}, 2)
		}
		claims["sub"] = t.Subject
		claims["uid"] = t.UID
		return claims, nil
	}
}

// UnsignedTokenVerifier trusts the token payload as-is. AUTH_PROVIDER=dev only.
func UnsignedTokenVerifier() VerifyFunc {
	return func(_ context.Context, token string) (map[string]interface{}, error) {
		return decodePayload(token)
	}
}
