package cmd

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/fatih/structs"
	"github.com/sarchlab/procsim/datarecording"
	"github.com/sarchlab/procsim/scenario"
	"github.com/sarchlab/procsim/tracing"
	"github.com/spf13/cobra"
)

type reportOptions struct {
	tables []string
	limit  int
}

var reportOpts reportOptions

// recordedTables lists the tables a recording may hold, in print order.
var recordedTables = []struct {
	name   string
	sample any
}{
	{datarecording.ExecInfoTable, datarecording.ExecInfo{}},
	{scenario.RunTable, scenario.RunRow{}},
	{scenario.ResourceTable, scenario.ResourceRow{}},
	{scenario.MetricTable, scenario.Metric{}},
	{scenario.DiagnosticTable, scenario.DiagnosticRow{}},
	{scenario.ProcessTable, scenario.ProcessRow{}},
	{tracing.TraceTable, tracing.TaskEntry{}},
	{tracing.TraceStepsTable, tracing.TaskStepEntry{}},
}

var reportCmd = &cobra.Command{
	Use:   "report <file.sqlite3>",
	Short: "Print the tables of a recorded run.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reader, err := datarecording.NewReader(args[0])
		if err != nil {
			return err
		}
		defer reader.Close()

		return printRecording(cmd.Context(), cmd.OutOrStdout(), reader,
			reportOpts)
	},
}

func printRecording(
	ctx context.Context,
	out io.Writer,
	reader datarecording.DataReader,
	opts reportOptions,
) error {
	if ctx == nil {
		ctx = context.Background()
	}

	present, err := reader.ListTables(ctx)
	if err != nil {
		return err
	}

	for _, t := range recordedTables {
		if !slices.Contains(present, t.name) {
			continue
		}

		if len(opts.tables) > 0 && !slices.Contains(opts.tables, t.name) {
			continue
		}

		reader.MapTable(t.name, t.sample)

		rows, total, err := reader.Query(ctx, t.name,
			datarecording.QueryParams{Limit: opts.limit})
		if err != nil {
			return fmt.Errorf("reading table %s: %w", t.name, err)
		}

		if err := printTable(out, t.name, t.sample, rows, total); err != nil {
			return err
		}
	}

	return nil
}

func printTable(
	out io.Writer,
	name string,
	sample any,
	rows []any,
	total int,
) error {
	fmt.Fprintf(out, "== %s (%d of %d rows)\n", name, len(rows), total)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(structs.Names(sample), "\t"))

	for _, row := range rows {
		values := structs.Values(row)
		cells := make([]string, len(values))

		for i, v := range values {
			cells[i] = fmt.Sprint(v)
		}

		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}

	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out)

	return nil
}

func init() {
	reportCmd.Flags().StringSliceVar(&reportOpts.tables, "table", nil,
		"Only print the named tables")
	reportCmd.Flags().IntVar(&reportOpts.limit, "limit", 20,
		"Maximum number of rows per table, 0 for all")

	rootCmd.AddCommand(reportCmd)
}
