package app

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/empi91/Bike-Sharing-Analytics/internal/adapter/postgres"
	"github.com/empi91/Bike-Sharing-Analytics/internal/config"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tool",
		Long:  `Manage the schema version of DATABASE_URL. Use with 'up' or 'down' subcommands.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}
	cmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to all questions")
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending database migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cmd, "up", postgres.MigrateUp)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert all database migrations",
			Long:  `Drop every table and function the collector created. All collected data is lost.`,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cmd, "down", postgres.MigrateDown)
			},
		},
	)
	return cmd
}

func runMigrate(cmd *cobra.Command, direction string, step func(databaseURL string) error) error {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return fmt.Errorf("get yes flag: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if direction == "down" && !yes {
		fmt.Fprint(cmd.OutOrStdout(), "This drops all collected data. Continue? (yes/no): ")
		answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "yes" && answer != "y" {
			fmt.Fprintln(cmd.OutOrStdout(), "migration cancelled")
			return nil
		}
	}

	if err := step(cfg.DatabaseURL); err != nil {
		return err
	}

	m, err := postgres.NewMigrator(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer m.Close() //nolint:errcheck // read-only version lookup
	version, dirty, err := m.Version()
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "migrate %s complete, no schema version\n", direction)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "migrate %s complete, schema version %d (dirty=%t)\n", direction, version, dirty)
	return nil
}
