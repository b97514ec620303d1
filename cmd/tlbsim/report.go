package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/KoderuNoKo/Operating-System/datarecording"
	"github.com/KoderuNoKo/Operating-System/mem/vm/tlb"
	"github.com/KoderuNoKo/Operating-System/tracing"
)

var reportCmd = &cobra.Command{
	Use:   "report <file.sqlite3>",
	Short: "Summarize a recording made with `run --record`.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reader, err := datarecording.NewReader(args[0])
		if err != nil {
			return err
		}
		defer reader.Close()

		limit, _ := cmd.Flags().GetInt("accesses")

		return report(cmd.Context(), cmd.OutOrStdout(), reader, limit)
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().IntP("accesses", "n", 0,
		"Also list the first n accesses")
}

func report(
	ctx context.Context,
	w io.Writer,
	reader datarecording.DataReader,
	limit int,
) error {
	if ctx == nil {
		ctx = context.Background()
	}

	reader.MapTable(tracing.AccessTable, tracing.AccessEntry{})
	reader.MapTable(tracing.RegionTable, tracing.RegionEntry{})
	reader.MapTable(tracing.PageTable, tracing.PageEntry{})

	for _, table := range reader.ListTables() {
		_, n, err := reader.Query(ctx, table,
			datarecording.QueryParams{Limit: 1})
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "%s: %d rows\n", table, n)
	}

	fmt.Fprintf(w, "Accesses by outcome:\n")

	for _, o := range []tlb.Outcome{tlb.Resident, tlb.MappedNotResident, tlb.Miss} {
		_, n, err := reader.Query(ctx, tracing.AccessTable,
			datarecording.QueryParams{
				Where: "Outcome = ?",
				Args:  []any{o.String()},
				Limit: 1,
			})
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "  %s: %d\n", o, n)
	}

	if limit <= 0 {
		return nil
	}

	rows, _, err := reader.Query(ctx, tracing.AccessTable,
		datarecording.QueryParams{OrderBy: "Seq", Limit: limit})
	if err != nil {
		return err
	}

	for _, r := range rows {
		a := r.(*tracing.AccessEntry)
		fmt.Fprintf(w, "%d pid=%d %s region=%d offset=%d page=%d %s\n",
			a.Seq, a.PID, a.Kind, a.Region, a.Offset, a.PageNumber, a.Outcome)
	}

	return nil
}
