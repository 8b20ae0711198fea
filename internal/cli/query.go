package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/keyxmakerx/activitylog/internal/plugins/stream"
	"github.com/keyxmakerx/activitylog/internal/record"
)

func newQueryCommand(e *env) *cobra.Command {
	var (
		f            stream.Filter
		objectID     int64
		actorID      int64
		since, until string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "List activity records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("object-id") {
				f.ObjectID = record.IDPtr(objectID)
			}
			if cmd.Flags().Changed("actor-id") {
				f.ActorID = record.IDPtr(actorID)
			}
			var err error
			if f.Since, err = parseTime(since); err != nil {
				return fmt.Errorf("--since: %w", err)
			}
			if f.Until, err = parseTime(until); err != nil {
				return fmt.Errorf("--until: %w", err)
			}

			db, _, err := e.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			svc := stream.NewStreamService(stream.NewMariaDBRepository(db), nil, nil)
			return e.runQuery(cmd, svc, f)
		},
	}

	cmd.Flags().StringVar(&f.Connector, "connector", "", "filter by connector")
	cmd.Flags().StringVar(&f.Context, "context", "", "filter by context")
	cmd.Flags().StringVar(&f.Action, "action", "", "filter by action")
	cmd.Flags().Int64Var(&objectID, "object-id", 0, "filter by object id")
	cmd.Flags().Int64Var(&actorID, "actor-id", 0, "filter by actor id")
	cmd.Flags().StringVar(&since, "since", "", "only records at or after this RFC 3339 time")
	cmd.Flags().StringVar(&until, "until", "", "only records before this RFC 3339 time")
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "maximum number of records")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "records to skip")

	return cmd
}

// runQuery prints one page of records as a table or JSON.
func (e *env) runQuery(cmd *cobra.Command, svc stream.StreamService, f stream.Filter) error {
	recs, total, err := svc.Query(cmd.Context(), f)
	if err != nil {
		return err
	}

	if e.jsonOutput {
		return e.writeJSON(map[string]any{"data": recs, "total": total})
	}

	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tCONNECTOR\tCONTEXT\tACTION\tOBJECT\tACTOR\tSUMMARY")
	for _, rec := range recs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ID,
			rec.CreatedAt.Format(time.DateTime),
			rec.Connector, rec.Context, rec.Action,
			idString(rec.ObjectID), idString(rec.ActorID),
			rec.Summary(),
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%d of %d records\n", len(recs), total)
	return nil
}

func idString(id *int64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(*id, 10)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
