package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionVerifierConfig configures verification of identity-provider session tokens signed with RS256.
type SessionVerifierConfig struct {
	// PublicKeyPEM is the PEM encoded RSA public key published by the identity provider.
	PublicKeyPEM string
	// Issuer, when set, must match the iss claim.
	Issuer string
	// AuthorizedParties, when set, restricts the azp claim to these origins.
	AuthorizedParties []string
	// Leeway tolerates clock skew on exp/nbf/iat.
	Leeway time.Duration
}

// SessionTokenVerifier returns a VerifyFunc for networkless session token verification.
func SessionTokenVerifier(cfg SessionVerifierConfig) (VerifyFunc, error) {
	pem := strings.TrimSpace(strings.ReplaceAll(cfg.PublicKeyPEM, `\n`, "\n"))
	if pem == "" {
		return nil, errors.New("session verifier: public key is required")
	}

	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, fmt.Errorf("session verifier: parse public key: %w", err)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(ctx context.Context, token string) (map[string]interface{}, error) {
		claims := jwt.MapClaims{}
		if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		}); err != nil {
			return nil, err
		}

		if len(cfg.AuthorizedParties) > 0 {
			azp, _ := claims["azp"].(string)
			if azp != "" && !slices.Contains(cfg.AuthorizedParties, azp) {
				return nil, fmt.Errorf("unauthorized party %q", azp)
			}
		}

		return claims, nil
	}, nil
}
