package main

import (
	"fmt"
	"time"

	"github.com/azin/mediacache-service/internal/repository"
	"github.com/spf13/cobra"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		kind   string
		result string
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished downloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, closeFn, err := ctx.openDB()
			if err != nil {
				return err
			}
			defer closeFn()

			recs, err := repository.NewDownloadRepository(db).List(cmd.Context(), repository.DownloadFilter{
				Kind:   kind,
				Result: result,
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, recs)
			}

			out := cmd.OutOrStdout()
			if len(recs) == 0 {
				fmt.Fprintln(out, "No downloads recorded")
				return nil
			}
			for _, r := range recs {
				id := r.ResourceID
				if r.ItemNumber > 0 {
					id = fmt.Sprintf("%s-%d", id, r.ItemNumber)
				}
				line := fmt.Sprintf("%s  %-7s %s:%s", r.FinishedAt.Format(time.DateTime), r.Result, r.Kind, id)
				if r.Codes != "" {
					line += "  [" + r.Codes + "]"
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Filter by kind")
	cmd.Flags().StringVar(&result, "result", "", "Filter by result (done / failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of rows")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")

	cmd.AddCommand(newHistoryPruneCommand(ctx))
	return cmd
}

func newHistoryPruneCommand(ctx *commandContext) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete history older than the given number of days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be at least 1")
			}
			db, closeFn, err := ctx.openDB()
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := repository.NewDownloadRepository(db).DeleteOlderThan(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d records\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "Keep records newer than this many days")
	return cmd
}
