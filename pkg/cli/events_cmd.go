package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"maskflow/internal/domain"
)

func newEventsCmd() *cobra.Command {
	var (
		runID      string
		status     string
		table      string
		maxResults int
		pageToken  string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Query the event log, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			filter := domain.EventLogFilter{Page: domain.PageRequest{MaxResults: maxResults, PageToken: pageToken}}
			if runID != "" {
				filter.RunID = &runID
			}
			if status != "" {
				filter.Status = &status
			}
			if table != "" {
				filter.Table = &table
			}
			entries, total, err := s.app.Events.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			next := domain.NextPageToken(filter.Page.Offset(), filter.Page.Limit(), total)

			out := map[string]any{"entries": entries, "total": total, "next_page_token": next}
			return render(cmd, out, func(w io.Writer) {
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					msg := ""
					if e.ErrorMessage != nil {
						msg = *e.ErrorMessage
					}
					rows = append(rows, []string{
						e.StartTime.Format(time.RFC3339), e.RunID, e.Operation, e.Table, e.Status,
						e.EndTime.Sub(e.StartTime).Round(time.Millisecond).String(), msg,
					})
				}
				printTable(w, []string{"start", "run", "operation", "table", "status", "duration", "error"}, rows)
				if next != "" {
					_, _ = fmt.Fprintf(w, "\n%d of %d shown; next page: --page-token %s\n", len(entries), total, next)
				}
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "Only entries of this run")
	cmd.Flags().StringVar(&status, "status", "", "Only entries with this status (SUCCEEDED, FAILED, SKIPPED)")
	cmd.Flags().StringVar(&table, "table", "", "Only entries of this table")
	cmd.Flags().IntVar(&maxResults, "max-results", domain.DefaultMaxResults, "Page size")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "Page token from a previous call")
	return cmd
}
