package auth

import "github.com/spf13/cobra"

func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Session helpers for local development",
		Long:  "Session helpers for local development. Tokens minted here are only accepted by an API running with AUTH_PROVIDER=dev.",
	}
	cmd.AddCommand(devTokenCommand())
	return cmd
}
