package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wiki-mirror/internal/syncer"
	"github.com/JakeFAU/wiki-mirror/internal/temporal"
)

func newSyncCmd() *cobra.Command {
	var (
		instance string
		cutoff   int64
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror pages changed since the cutoff",
		Long: `Lists pages updated within the sync period, spawns batches and, with the
in-memory queue, executes them before exiting. Pass --instance to resume
an interrupted run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			var in syncer.Input
			if cmd.Flags().Changed("cutoff") {
				in.Cutoff = &cutoff
			}
			return report(cmd, a.Logger(), func(ctx context.Context) (any, error) {
				return a.SyncAndWait(ctx, instance, in)
			})
		},
	}
	cmd.Flags().StringVar(&instance, "instance", "", "instance id to resume")
	cmd.Flags().Int64Var(&cutoff, "cutoff", 0, "override the computed cutoff (epoch seconds)")
	return cmd
}

func newOnThisDayCmd() *cobra.Command {
	var (
		instance string
		cutoff   int64
		in       temporal.Input
	)
	cmd := &cobra.Command{
		Use:   "on-this-day",
		Short: "Extract temporal cross references from day pages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("cutoff") {
				in.Cutoff = &cutoff
			}
			return report(cmd, a.Logger(), func(ctx context.Context) (any, error) {
				return a.RunOnThisDay(ctx, instance, in)
			})
		},
	}
	cmd.Flags().StringVar(&instance, "instance", "", "instance id to resume")
	cmd.Flags().Int64Var(&cutoff, "cutoff", 0, "only scan day pages updated since this epoch")
	cmd.Flags().BoolVar(&in.FullScan, "full-scan", false, "scan every day page")
	cmd.Flags().StringVar(&in.Start, "start", "", "first MMDD title to scan")
	cmd.Flags().StringVar(&in.End, "end", "", "last MMDD title to scan")
	return cmd
}

func newIndexCmd() *cobra.Command {
	var instance string
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Rebuild the on-this-day index artifact",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return report(cmd, a.Logger(), func(ctx context.Context) (any, error) {
				return a.RunIndex(ctx, instance)
			})
		},
	}
	cmd.Flags().StringVar(&instance, "instance", "", "instance id to resume")
	return cmd
}

func newNotifyCmd() *cobra.Command {
	var instance string
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send the digest of unclassified pages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return report(cmd, a.Logger(), func(ctx context.Context) (any, error) {
				return a.RunNotify(ctx, instance)
			})
		},
	}
	cmd.Flags().StringVar(&instance, "instance", "", "instance id to resume")
	return cmd
}

// report runs fn and prints its result as indented JSON.
func report(cmd *cobra.Command, logger *zap.Logger, fn func(ctx context.Context) (any, error)) error {
	res, err := fn(cmd.Context())
	if err != nil {
		logger.Error("command failed", zap.String("command", cmd.Name()), zap.Error(err))
		return fmt.Errorf("%s: %w", cmd.Name(), err)
	}
	return writeResult(cmd.OutOrStdout(), res)
}

func writeResult(w io.Writer, res any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
