package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bamsammich/partsync/internal/digest"
	"github.com/bamsammich/partsync/internal/engine"
	"github.com/bamsammich/partsync/internal/filter"
	"github.com/bamsammich/partsync/internal/inventory"
	"github.com/bamsammich/partsync/internal/stats"
	"github.com/bamsammich/partsync/internal/task"
	"github.com/bamsammich/partsync/internal/ui"
)

func newPlanCmd(g *globals) *cobra.Command {
	var (
		srcProfile string
		dstProfile string
		output     string
		filterFile string
		minSize    string
		maxSize    string
	)
	chain := filter.NewChain()

	cmd := &cobra.Command{
		Use:   "plan --src PROFILE --dst PROFILE [-o FILE]",
		Short: "Compare two inventories and write the transfer tasks",
		Long: `plan walks every file of the source inventory and decides whether the
destination needs nothing, a full copy, or only the bytes appended since
the destination copy was taken. Tasks are written one JSON object per
line; a .zst output name compresses the file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := finishFilter(chain, filterFile, minSize, maxSize); err != nil {
				return err
			}

			src, err := inventory.LoadProfile(srcProfile)
			if err != nil {
				return fmt.Errorf("source: %w", err)
			}
			dst, err := inventory.LoadProfile(dstProfile)
			if err != nil {
				return fmt.Errorf("destination: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			counter := &digest.Counting{Digester: g.sampler}
			collector := stats.NewCollector()
			planner := &engine.Planner{
				Digester:  counter,
				InferPath: dst.InferPath,
				Stats:     collector,
			}
			if !chain.Empty() {
				planner.Filter = chain
			}

			res, err := planner.Plan(ctx,
				inventory.NewIndex(src.Records()),
				inventory.NewIndex(dst.Records()))
			if err != nil {
				return err
			}

			if output == "-" {
				err = task.Write(os.Stdout, res.Tasks)
			} else {
				err = task.WriteFile(output, res.Tasks)
			}
			if err != nil {
				return fmt.Errorf("write tasks: %w", err)
			}

			partials := len(task.Partials(res.Tasks))
			slog.Info("plan complete",
				"copies", len(res.Tasks)-partials,
				"partials", partials,
				"skipped", res.Skipped,
				"filtered", res.Filtered,
				"failed", len(res.Failures),
				"digests", counter.Calls,
			)

			for _, f := range res.Failures {
				fmt.Fprintln(os.Stderr, ui.ErrorLine(fmt.Sprintf("%s  %v", f.Name, f.Err)))
			}
			if len(res.Failures) > 0 {
				return &exitError{code: 1}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&srcProfile, "src", "", "source inventory profile (JSON or YAML)")
	cmd.Flags().StringVar(&dstProfile, "dst", "", "destination inventory profile (JSON or YAML)")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "task file to write (- for stdout)")
	addFilterFlags(cmd.Flags(), chain, &filterFile, &minSize, &maxSize)
	_ = cmd.MarkFlagRequired("src") //nolint:errcheck // flag name is hardcoded
	_ = cmd.MarkFlagRequired("dst") //nolint:errcheck // flag name is hardcoded

	return cmd
}
