package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/banshee-data/bagsplit/internal/config"
	"github.com/banshee-data/bagsplit/internal/ledger"
	"github.com/banshee-data/bagsplit/internal/monitoring"
	"github.com/banshee-data/bagsplit/internal/pipeline"
	"github.com/banshee-data/bagsplit/internal/report"
	"github.com/banshee-data/bagsplit/internal/runner"
	"github.com/banshee-data/bagsplit/internal/version"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bagsplit [flags] <bag>",
		Short: "Split a ROS 2 bag into images, point clouds, tables and a preview video",
		Long: "bagsplit exports every image, point-cloud and miscellaneous topic of a ROS 2 bag\n" +
			"into its own directory, optionally anonymizes and time-synchronizes the images,\n" +
			"renders a preview video and zips the results.",
		Args:          cobra.ExactArgs(1),
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		RunE: runSplit,
	}
	registerFlags(cmd.Flags())
	cmd.AddCommand(newHistoryCmd())
	return cmd
}

// resolveConfig merges the config file named by --config and the flags.
func resolveConfig(cmd *cobra.Command, bag string) (*config.Run, error) {
	var file *config.Layer
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		l, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		file = l
	}
	cli, err := layerFromFlags(cmd.Flags())
	if err != nil {
		return nil, err
	}
	return config.Resolve(bag, file, cli)
}

func runSplit(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args[0])
	if err != nil {
		return err
	}

	orch := pipeline.New(cfg, nil)
	// Checked before logging is set up: the logfile may live in the output root.
	if err := orch.Prepare(); err != nil {
		return err
	}

	closer, err := monitoring.Setup(monitoring.Options{
		Logfile: cfg.Logfile,
		Verbose: cfg.Verbose,
		Stderr:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	var forward func(string, ...interface{})
	if cfg.Logfile != "" || cfg.Verbose || cfg.DryRun {
		forward = func(format string, v ...interface{}) { monitoring.Logf(format, v...) }
	}
	orch.Exec = runner.NewProcessRunner(forward, cfg.DryRun)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rep, err := orch.Run(ctx)
	if err != nil {
		return err
	}

	if cfg.Report {
		dir := pipeline.Layout{Root: cfg.OutputDir}.ReportDir()
		if _, err := report.Write(dir, rep); err != nil {
			monitoring.Logf("warning: failed to write report: %v", err)
		} else {
			monitoring.Logf("report written to %s", dir)
		}
	}
	if cfg.Ledger != "" {
		if err := recordRun(ctx, cfg.Ledger, rep); err != nil {
			monitoring.Logf("warning: failed to record run in ledger: %v", err)
		}
	}

	if err := rep.Err(); err != nil {
		monitoring.Logf("finished with errors")
		return err
	}
	monitoring.Logf("finished")
	return nil
}

func recordRun(ctx context.Context, path string, rep *pipeline.Report) error {
	l, err := ledger.Open(path)
	if err != nil {
		return err
	}
	defer l.Close()
	return l.Record(ctx, rep)
}
