package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keyxmakerx/activitylog/internal/database"
)

func newMigrateCommand(e *env) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.PersistentFlags().StringVar(&path, "path", "", "migrations directory (default: MIGRATIONS_PATH)")

	migrationsPath := func(configured string) string {
		if path != "" {
			return path
		}
		return configured
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, cfg, err := e.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			return database.RunMigrations(db, migrationsPath(cfg.MigrationsPath))
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Revert migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, cfg, err := e.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			if err := database.RollbackMigrations(db, migrationsPath(cfg.MigrationsPath), steps); err != nil {
				return err
			}
			fmt.Fprintf(e.out, "Reverted %d migration(s)\n", steps)
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to revert")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, cfg, err := e.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			version, dirty, err := database.MigrationVersion(db, migrationsPath(cfg.MigrationsPath))
			if err != nil {
				return err
			}
			if e.jsonOutput {
				return e.writeJSON(map[string]any{"version": version, "dirty": dirty})
			}
			fmt.Fprintf(e.out, "version %d", version)
			if dirty {
				fmt.Fprint(e.out, " (dirty)")
			}
			fmt.Fprintln(e.out)
			return nil
		},
	})

	return cmd
}
