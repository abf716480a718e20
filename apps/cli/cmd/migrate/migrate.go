package migratecmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xentri-app/xentri-api/platform/go/persistence"
)

// Command groups schema migration helpers over the embedded SQL files.
func Command() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or inspect database migrations",
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "postgres URL (defaults to $DATABASE_URL)")

	resolve := func() (string, error) {
		if databaseURL != "" {
			return databaseURL, nil
		}
		if v := os.Getenv("DATABASE_URL"); v != "" {
			return v, nil
		}
		return "", errors.New("--database-url or DATABASE_URL is required")
	}

	cmd.AddCommand(upCommand(resolve), downCommand(resolve), versionCommand(resolve))
	return cmd
}

func upCommand(resolve func() (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := resolve()
			if err != nil {
				return err
			}
			if err := persistence.MigrateUp(url); err != nil {
				return err
			}
			return printVersion(cmd, url)
		},
	}
}

func downCommand(resolve func() (string, error)) *cobra.Command {
	var (
		steps int
		all   bool
	)

	c := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (one step by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := resolve()
			if err != nil {
				return err
			}
			if all {
				steps = 0
			} else if steps <= 0 {
				return errors.New("--steps must be positive (use --all to roll back everything)")
			}
			if err := persistence.MigrateDown(url, steps); err != nil {
				return err
			}
			return printVersion(cmd, url)
		},
	}

	c.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	c.Flags().BoolVar(&all, "all", false, "roll back every migration")
	return c
}

func versionCommand(resolve func() (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the applied migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := resolve()
			if err != nil {
				return err
			}
			return printVersion(cmd, url)
		},
	}
}

func printVersion(cmd *cobra.Command, url string) error {
	version, dirty, err := persistence.MigrationVersion(url)
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty)\n", version)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version %d\n", version)
	return nil
}
