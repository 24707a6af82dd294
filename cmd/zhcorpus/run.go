package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/cognicore/zhcorpus/internal/watch"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/config"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/stats"
)

func newRunCmd(g *globalFlags) *cobra.Command {
	rf := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every stage and print statistics",
		Example: `  zhcorpus run --root ./trunk
  zhcorpus run --config zhcorpus.yaml --segment --backend bigram
  zhcorpus run --refresh sentences --strict`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, g, rf)
			if err != nil {
				return err
			}
			p, err := zhcorpus.Open(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer p.Close()

			res, err := p.Run(cmd.Context())
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), res)
			return nil
		},
	}
	addRunFlags(cmd, rf)
	return cmd
}

func newScanCmd(g *globalFlags) *cobra.Command {
	rf := &runFlags{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run only the target-files stage and list the files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, g, rf)
			if err != nil {
				return err
			}
			p, err := zhcorpus.Open(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer p.Close()

			res, err := p.Scan(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, f := range res.TargetFiles {
				fmt.Fprintln(out, f)
			}
			printSkipped(cmd.ErrOrStderr(), res)
			return nil
		},
	}
	addRunFlags(cmd, rf)
	return cmd
}

func newWatchCmd(g *globalFlags) *cobra.Command {
	rf := &runFlags{}
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the pipeline and re-run it whenever target files change",
		Long: `Watch runs every stage, then watches the tree and runs again after changes.
The cache is validated against file sizes and modification times so edits are
always picked up; decoded files are remembered between runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, g, rf)
			if err != nil {
				return err
			}
			cfg.Cache.Validate = config.ValidateTree

			p, err := zhcorpus.Open(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer p.Close()

			w, err := watch.New(watch.Options{
				Root:     cfg.Scan.Root,
				Filter:   p.Scanner().Filter(),
				Debounce: debounce,
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			defer w.Close()

			logger.Info("watching", "root", cfg.Scan.Root, "directories", w.Watched(), "debounce", debounce)
			return w.Watch(cmd.Context(), runAndReport(p, cmd.OutOrStdout(), logger))
		},
	}
	addRunFlags(cmd, rf)
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "Quiet period before a re-run")
	return cmd
}

func runAndReport(p *zhcorpus.Pipeline, out io.Writer, logger *slog.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		res, err := p.Run(ctx)
		if err != nil {
			return err
		}
		printReport(out, res)
		logger.Debug("run reported", "run_id", res.RunID)
		return nil
	}
}

func printReport(out io.Writer, res *zhcorpus.Result) {
	fmt.Fprintf(out, "run %s\n", res.RunID)
	for _, stage := range config.MemoizedStages() {
		if outcome, ok := res.Outcomes[stage]; ok {
			fmt.Fprintf(out, "  %-14s %s\n", stage, outcome)
		}
	}
	if res.MemoHits+res.MemoMisses > 0 {
		fmt.Fprintf(out, "  %-14s %d reused, %d extracted\n", "memo", res.MemoHits, res.MemoMisses)
	}
	fmt.Fprintln(out, "statistics")
	for _, name := range stats.Counters {
		fmt.Fprintf(out, "  %-20s %d\n", name, res.Stats[name])
	}

	if len(res.FailedFiles) > 0 {
		fmt.Fprintf(out, "warning: %d files could not be decoded\n", len(res.FailedFiles))
		reasons := make(map[string]error, len(res.Failures))
		for _, f := range res.Failures {
			reasons[f.Path] = f.Err
		}
		for _, path := range res.FailedFiles {
			if err, ok := reasons[path]; ok {
				fmt.Fprintf(out, "  %s: %v\n", path, err)
				continue
			}
			fmt.Fprintf(out, "  %s\n", path)
		}
	}
	printSkipped(out, res)
}

func printSkipped(out io.Writer, res *zhcorpus.Result) {
	if len(res.Skipped) == 0 {
		return
	}
	fmt.Fprintf(out, "warning: %d entries could not be read during the scan\n", len(res.Skipped))
	for _, te := range res.Skipped {
		fmt.Fprintf(out, "  %v\n", te)
	}
}
