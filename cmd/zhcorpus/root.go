package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cognicore/zhcorpus/internal/applog"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/config"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	root       string
	cacheDir   string
	logLevel   string
}

// runFlags override the configuration of the pipeline stages.
type runFlags struct {
	segment  bool
	backend  string
	refresh  []string
	strict   bool
	workers  int
	noCache  bool
	validate string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "zhcorpus",
		Short: "Extract a Chinese sentence corpus from a source tree",
		Long: `zhcorpus walks a source tree, decodes every target file, extracts runs of
Chinese ideographs and writes the deduplicated corpus, its provenance, an
optional word list and statistics to a cache directory.

Configuration is read from a YAML file (--config) and ZHCORPUS_* environment
variables; flags override both.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "YAML configuration file")
	pf.StringVarP(&g.root, "root", "r", "", "Root directory to scan")
	pf.StringVar(&g.cacheDir, "cache-dir", "", "Cache directory")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(g),
		newScanCmd(g),
		newWatchCmd(g),
		newCacheCmd(g),
		newConfigCmd(g),
	)
	return root
}

// loadConfig reads the configuration, applies flag overrides and any
// adjustments, prepares it and installs the logger it describes.
func loadConfig(cmd *cobra.Command, g *globalFlags, rf *runFlags, adjust ...func(*config.Config)) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, err
	}

	if g.root != "" {
		cfg.Scan.Root = g.root
	}
	if g.cacheDir != "" {
		cfg.Cache.Dir = g.cacheDir
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if rf != nil {
		rf.apply(cmd, cfg)
	}
	for _, fn := range adjust {
		fn(cfg)
	}

	if err := config.Prepare(cfg); err != nil {
		return nil, nil, err
	}
	return cfg, applog.New(cfg.Log), nil
}

func addRunFlags(cmd *cobra.Command, rf *runFlags) {
	f := cmd.Flags()
	f.BoolVar(&rf.segment, "segment", false, "Segment sentences into words")
	f.StringVar(&rf.backend, "backend", "", "Segmentation backend (dict, bigram, unicode)")
	f.StringSliceVar(&rf.refresh, "refresh", nil, "Stages to recompute (target-files, sentences, words)")
	f.BoolVar(&rf.strict, "strict", false, "Abort on the first file that cannot be decoded")
	f.IntVar(&rf.workers, "workers", 0, "Extraction workers (0 = GOMAXPROCS)")
	f.BoolVar(&rf.noCache, "no-cache", false, "Recompute every stage")
	f.StringVar(&rf.validate, "validate", "", "Cache validation mode (none, config, tree)")
}

// apply copies the flags the user set onto cfg.
func (rf *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("segment") {
		cfg.Segment.Enabled = rf.segment
	}
	if changed("backend") {
		cfg.Segment.Backend = rf.backend
		cfg.Segment.Enabled = true
	}
	if changed("refresh") {
		cfg.Cache.Refresh = append(cfg.Cache.Refresh, rf.refresh...)
	}
	if changed("strict") && rf.strict {
		cfg.Decode.OnError = config.OnErrorAbort
	}
	if changed("workers") {
		cfg.Workers = rf.workers
	}
	if changed("no-cache") {
		cfg.Cache.Disable = rf.noCache
	}
	if changed("validate") {
		cfg.Cache.Validate = rf.validate
	}
}

// anyRoot lets commands that only touch the cache run without a scan root.
func anyRoot(cfg *config.Config) {
	if cfg.Scan.Root == "" {
		cfg.Scan.Root = "."
	}
}
