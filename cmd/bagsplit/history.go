package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/bagsplit/internal/ledger"
)

var historyFlags struct {
	ledger string
	limit  int
	run    string
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, or the tasks of one run",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	f := cmd.Flags()
	f.StringVar(&historyFlags.ledger, "ledger", "", "sqlite ledger written by --ledger (required)")
	f.IntVar(&historyFlags.limit, "limit", 20, "number of runs to list")
	f.StringVar(&historyFlags.run, "run", "", "show the tasks of this run ID")
	_ = cmd.MarkFlagRequired("ledger")
	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	l, err := ledger.Open(historyFlags.ledger)
	if err != nil {
		return err
	}
	defer l.Close()

	ctx := cmd.Context()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer w.Flush()

	if historyFlags.run != "" {
		tasks, err := l.Tasks(ctx, historyFlags.run)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return fmt.Errorf("no tasks recorded for run %s", historyFlags.run)
		}
		fmt.Fprintln(w, "PIPELINE\tTASK\tSTATUS\tDURATION\tERROR")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.Pipeline, t.Task, t.Status, t.Duration, t.Error)
		}
		return nil
	}

	runs, err := l.Runs(ctx, historyFlags.limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "RUN\tSTARTED\tDURATION\tSTATUS\tIMAGES\tPOINTCLOUDS\tMISC\tBAG")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.ID, r.Started.Local().Format(time.DateTime), r.Finished.Sub(r.Started).Round(time.Millisecond),
			r.Status, r.Images, r.Pointclouds, r.Misc, r.Bag)
	}
	return nil
}
