// Package cli implements activityctl, the operator command line for the
// activity log: schema migrations, record queries, the diff utility, ingest
// key hashing and override validation.
package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/keyxmakerx/activitylog/internal/config"
	"github.com/keyxmakerx/activitylog/internal/database"
)

// env carries what commands need from the outside world. Tests replace
// openDB and the writers.
type env struct {
	jsonOutput bool
	in         io.Reader
	out        io.Writer
	openDB     func(ctx context.Context) (*sql.DB, *config.Config, error)
}

// Execute runs activityctl with the process arguments.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree wired to the real database.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&env{
		in:     os.Stdin,
		out:    os.Stdout,
		openDB: openDB,
	})
}

func newRootCommand(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:   "activityctl",
		Short: "Operate the activity log",
		Long: `activityctl manages the activity log store and its configuration.

Database commands read the same environment variables as the server
(DB_HOST, DB_USER, DB_PASSWORD, DB_NAME or DATABASE_URL).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(e.in)
	root.SetOut(e.out)
	root.PersistentFlags().BoolVar(&e.jsonOutput, "json", false, "output in JSON format")

	root.AddCommand(
		newMigrateCommand(e),
		newQueryCommand(e),
		newDiffCommand(e),
		newKeyhashCommand(e),
		newOverridesCommand(e),
	)
	return root
}

// openDB loads configuration and connects to MariaDB.
func openDB(ctx context.Context) (*sql.DB, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.NewMariaDB(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return db, cfg, nil
}

// writeJSON prints v as indented JSON.
func (e *env) writeJSON(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
