package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	platformauth "github.com/xentri-app/xentri-api/platform/go/auth"
	"github.com/xentri-app/xentri-api/platform/go/gcp"
)

// buildTokenVerifier selects the bearer token verifier for AUTH_PROVIDER.
func buildTokenVerifier(ctx context.Context, cfg config, logger *zap.Logger) (platformauth.VerifyFunc, error) {
	switch cfg.AuthProvider {
	case "clerk":
		return platformauth.SessionTokenVerifier(platformauth.SessionVerifierConfig{
			PublicKeyPEM:      cfg.ClerkJWTPublicKey,
			Issuer:            cfg.ClerkIssuer,
			AuthorizedParties: cfg.ClerkAuthorizedParties,
			Leeway:            cfg.TokenLeeway,
		})
	case "firebase":
		fbAuth, err := gcp.InitFirebaseAuth(ctx, gcp.FirebaseConfig{
			ProjectID:       cfg.FirebaseProjectID,
			CredentialsFile: cfg.FirebaseConfig,
		})
		if err != nil {
			return nil, err
		}
		return platformauth.FirebaseTokenVerifier(fbAuth), nil
	case "dev":
		logger.Warn("using unsigned dev tokens; do not use in production")
		return platformauth.UnsignedTokenVerifier(), nil
	default:
		return nil, fmt.Errorf("unsupported AUTH_PROVIDER %q (use clerk, firebase or dev)", cfg.AuthProvider)
	}
}
