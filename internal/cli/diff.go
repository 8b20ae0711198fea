package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keyxmakerx/activitylog/internal/changeset"
)

func newDiffCommand(e *env) *cobra.Command {
	var depth int

	cmd := &cobra.Command{
		Use:   "diff <old.json> <new.json>",
		Short: "Show the changed keys between two JSON documents",
		Long: `Show the keys whose values differ between two JSON documents, the way
the activity log computes change records.

--depth is the number of nested object levels compared key by key; deeper
values are compared whole. An empty file counts as an absent value.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if depth < 0 {
				return fmt.Errorf("--depth must not be negative")
			}
			oldRaw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			newRaw, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}

			changes, err := changeset.DiffJSON(oldRaw, newRaw, depth)
			if err != nil {
				return err
			}

			if e.jsonOutput {
				if changes == nil {
					changes = []changeset.Change{}
				}
				return e.writeJSON(changes)
			}
			if len(changes) == 0 {
				fmt.Fprintln(e.out, "no changes")
				return nil
			}
			for _, c := range changes {
				fmt.Fprintf(e.out, "%s %s: %s -> %s\n",
					changeMark(c), displayKey(c.Key),
					changeset.FormatLeaf(c.Old), changeset.FormatLeaf(c.New))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 0, "nested levels to compare key by key")

	return cmd
}

func changeMark(c changeset.Change) string {
	switch {
	case c.Added():
		return "+"
	case c.Removed():
		return "-"
	default:
		return "~"
	}
}

func displayKey(key string) string {
	if key == "" {
		return "(value)"
	}
	return key
}
