package root

import (
	"context"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/xentri-app/xentri-api/apps/cli/cmd/auth"
	migratecmd "github.com/xentri-app/xentri-api/apps/cli/cmd/migrate"
	orgcmd "github.com/xentri-app/xentri-api/apps/cli/cmd/org"
)

// New assembles the xentri command tree.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "xentri",
		Short:         "Xentri operator CLI",
		Long:          "Operator commands for a Xentri deployment: schema migrations, dev session tokens and organization provisioning.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env only fills variables that are unset, so the real environment wins.
			_ = godotenv.Load()
			return nil
		},
	}
	cmd.AddCommand(auth.Command(), migratecmd.Command(), orgcmd.Command())
	return cmd
}

// Execute runs the CLI with args taken from os.Args.
func Execute(ctx context.Context) error {
	return New().ExecuteContext(ctx)
}
