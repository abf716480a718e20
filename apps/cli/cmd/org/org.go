package orgcmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	eventsrepo "github.com/xentri-app/xentri-api/domains/events/be/repo"
	"github.com/xentri-app/xentri-api/domains/events/be/schema"
	eventsservice "github.com/xentri-app/xentri-api/domains/events/be/service"
	orgsrepo "github.com/xentri-app/xentri-api/domains/orgs/be/repo"
	orgsservice "github.com/xentri-app/xentri-api/domains/orgs/be/service"
	platformlogging "github.com/xentri-app/xentri-api/platform/go/logging"
	"github.com/xentri-app/xentri-api/platform/go/persistence"
	"github.com/xentri-app/xentri-api/platform/go/requesttrace"
)

const jobName = "cli-org-provision"

// Provisioner is the subset of the organization service the CLI drives.
type Provisioner interface {
	Provision(ctx context.Context, notification orgsservice.OrganizationCreated) (orgsservice.ProvisionResult, error)
}

// Command groups organization helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "org",
		Short: "Organization utilities",
	}

	cmd.AddCommand(provisionCommand())
	return cmd
}

func provisionCommand() *cobra.Command {
	var (
		databaseURL  string
		appRole      string
		logLevel     string
		notification orgsservice.OrganizationCreated
		creatorEmail string
	)

	c := &cobra.Command{
		Use:   "provision",
		Short: "Replay an organization-created notification through provisioning (idempotent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			if databaseURL == "" {
				databaseURL = os.Getenv("DATABASE_URL")
			}
			if databaseURL == "" {
				return errors.New("--database-url or DATABASE_URL is required")
			}

			logger, err := platformlogging.NewLogger(platformlogging.Config{
				Component: "xentri-cli",
				Level:     logLevel,
				Format:    platformlogging.FormatConsole,
				Output:    zapcore.Lock(os.Stderr),
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL, ApplicationName: "xentri-cli"})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			db := persistence.NewTenantDB(persistence.TenantDBConfig{Pool: pool, AppRole: appRole})

			registry, err := schema.NewRegistry()
			if err != nil {
				return fmt.Errorf("init event registry: %w", err)
			}
			events := eventsservice.New(eventsrepo.NewPostgresRepository(persistence.NewEventStore(db)), registry)
			svc := orgsservice.New(orgsrepo.NewPostgresRepository(db), events, orgsservice.WithLogger(logger))

			if email := strings.TrimSpace(creatorEmail); email != "" {
				notification.CreatorEmail = &email
			}
			return Provision(ctx, svc, notification, cmd.OutOrStdout())
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "postgres URL (defaults to $DATABASE_URL)")
	c.Flags().StringVar(&appRole, "app-role", persistence.DefaultAppRole, "role tenant-scoped transactions switch to")
	c.Flags().StringVar(&logLevel, "log-level", "warn", "log level")
	c.Flags().StringVar(&notification.OrgID, "org-id", "", "identity provider organization id")
	c.Flags().StringVar(&notification.Name, "name", "", "organization display name")
	c.Flags().StringVar(&notification.Slug, "slug", "", "organization slug")
	c.Flags().StringVar(&notification.CreatorUserID, "creator-user-id", "", "user who created the organization (becomes owner)")
	c.Flags().StringVar(&creatorEmail, "creator-email", "", "creator email")

	_ = c.MarkFlagRequired("org-id")
	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("slug")
	_ = c.MarkFlagRequired("creator-user-id")

	return c
}

// Provision runs one provisioning call as a job actor and reports the outcome on out.
func Provision(ctx context.Context, svc Provisioner, notification orgsservice.OrganizationCreated, out io.Writer) error {
	ctx = requesttrace.With(ctx, requesttrace.Job(jobName, uuid.NewString()))

	result, err := svc.Provision(ctx, notification)
	if err != nil {
		var validationErr *orgsservice.ValidationError
		if errors.As(err, &validationErr) {
			return fmt.Errorf("invalid notification: %w", err)
		}
		return err
	}

	if result.AlreadyProvisioned {
		fmt.Fprintf(out, "organization %s already provisioned\n", result.OrgID)
		return nil
	}
	fmt.Fprintf(out, "organization %s provisioned (%d attempt(s))\n", result.OrgID, result.Attempts)
	return nil
}
