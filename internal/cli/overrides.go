package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keyxmakerx/activitylog/internal/overrides"
	"github.com/keyxmakerx/activitylog/internal/plugins/stream"
)

func newOverridesCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "overrides",
		Short: "Check declarative override files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Parse and compile every rule in an overrides file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := overrides.LoadFile(args[0])
			if err != nil {
				return err
			}
			if e.jsonOutput {
				type rule struct {
					Name     string `json:"name"`
					Priority int    `json:"priority"`
				}
				rules := make([]rule, len(list))
				for i, o := range list {
					rules[i] = rule{Name: o.Name(), Priority: o.Priority()}
				}
				return e.writeJSON(map[string]any{"valid": true, "rules": rules})
			}
			fmt.Fprintf(e.out, "%d rule(s) OK\n", len(list))
			for _, o := range list {
				fmt.Fprintf(e.out, "  %s (priority %d)\n", o.Name(), o.Priority())
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "test <file> <record.json>",
		Short: "Run a record through the overrides without storing it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := overrides.LoadFile(args[0])
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			var req stream.LogRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				return fmt.Errorf("decoding record: %w", err)
			}

			svc := stream.NewStreamService(stream.NewMemoryRepository(), nil, nil)
			if err := overrides.Register(svc, list); err != nil {
				return err
			}
			out, err := svc.Append(cmd.Context(), req.Record())
			if err != nil {
				return err
			}

			if e.jsonOutput {
				return e.writeJSON(out)
			}
			if out.Rejected {
				fmt.Fprintf(e.out, "rejected by %s\n", out.RejectedBy)
				return nil
			}
			rec := out.Record
			fmt.Fprintf(e.out, "%s/%s/%s: %s\n", rec.Connector, rec.Context, rec.Action, rec.Summary())
			return nil
		},
	})

	return cmd
}
