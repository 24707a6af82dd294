package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cognicore/zhcorpus/pkg/zhcorpus"
)

func newCacheCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the stage cache",
	}
	cmd.AddCommand(newCacheStatusCmd(g), newCacheClearCmd(g))
	return cmd
}

func newCacheStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List the persisted artifacts of every stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, g, nil, anyRoot)
			if err != nil {
				return err
			}
			c, manifest, err := zhcorpus.OpenCache(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer manifest.Close()

			entries, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(out, "cache %s is empty\n", c.Dir())
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STAGE\tARTIFACT\tKEY\tDIGEST\tRUN\tCREATED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.Stage, e.Artifact, short(e.Key), short(e.Digest), e.RunID, e.CreatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

func newCacheClearCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear [stage...]",
		Short: "Remove the artifacts of the given stages, or of all stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd, g, nil, anyRoot)
			if err != nil {
				return err
			}
			c, manifest, err := zhcorpus.OpenCache(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer manifest.Close()

			if err := c.Clear(cmd.Context(), args...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", c.Dir())
			return nil
		},
	}
}

func short(s string) string {
	if s == "" {
		return "-"
	}
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
