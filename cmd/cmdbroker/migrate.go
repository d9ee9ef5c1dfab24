package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nerrad567/cmdbroker/internal/infrastructure/database"
	"github.com/nerrad567/cmdbroker/migrations"
)

// newMigrateCommand manages the command history schema outside of serve,
// which always migrates up on startup.
func newMigrateCommand(configFlag *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the command history database schema",
		Args:  cobra.NoArgs,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: withDatabase(configFlag, func(cmd *cobra.Command, db *database.DB) error {
				if err := db.Migrate(cmd.Context(), migrations.FS); err != nil {
					return err
				}
				return printMigrationStatus(cmd, db)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert the most recently applied migration",
			Args:  cobra.NoArgs,
			RunE: withDatabase(configFlag, func(cmd *cobra.Command, db *database.DB) error {
				version, err := db.MigrateDown(cmd.Context(), migrations.FS)
				if err != nil {
					return err
				}
				if version == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to revert")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reverted %s\n", version)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: withDatabase(configFlag, func(cmd *cobra.Command, db *database.DB) error {
				return printMigrationStatus(cmd, db)
			}),
		},
	)

	return cmd
}

// withDatabase loads the configuration and opens the database around fn.
func withDatabase(configFlag *string, fn func(*cobra.Command, *database.DB) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig(*configFlag)
		if err != nil {
			return err
		}
		db, err := openDatabase(cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck // read-mostly CLI session

		return fn(cmd, db)
	}
}

func printMigrationStatus(cmd *cobra.Command, db *database.DB) error {
	status, err := db.MigrationStatus(cmd.Context(), migrations.FS)
	if err != nil {
		return err
	}
	writeMigrationStatus(cmd.OutOrStdout(), status)
	return nil
}

func writeMigrationStatus(w io.Writer, status database.MigrationStatus) {
	for _, r := range status.Applied {
		fmt.Fprintf(w, "applied  %s  %s\n", r.Version, r.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	for _, m := range status.Pending {
		fmt.Fprintf(w, "pending  %s  %s\n", m.Version, m.Name)
	}
}
