package gcp

import (
	"context"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// FirebaseConfig selects the credentials used by the Firebase Admin SDK.
// An empty CredentialsFile falls back to application default credentials.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// NewApp creates a Firebase App instance.
func NewApp(ctx context.Context, cfg FirebaseConfig) (*firebase.App, error) {
	var appConfig *firebase.Config
	if project := strings.TrimSpace(cfg.ProjectID); project != "" {
		appConfig = &firebase.Config{ProjectID: project}
	}

	var opts []option.ClientOption
	if path := strings.TrimSpace(cfg.CredentialsFile); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}

	app, err := firebase.NewApp(ctx, appConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	return app, nil
}

// InitFirebaseAuth returns the Auth client used to verify Firebase ID tokens.
func InitFirebaseAuth(ctx context.Context, cfg FirebaseConfig) (*firebaseauth.Client, error) {
	app, err := NewApp(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase auth: %w", err)
	}
	return client, nil
}
