package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamsammich/partsync/internal/engine"
	"github.com/bamsammich/partsync/internal/ui"
)

func newStatusCmd(g *globals) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "status [upload|fetch|apply|copy]",
		Short: "Show the failed tasks recorded by previous runs",
		Long: `status reads the run journal kept for the current exclude file and
remote, and prints the last recorded outcome of every task that failed.
With --all every recorded task is printed.`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"upload", "fetch", "apply", "copy"},
		RunE: func(_ *cobra.Command, args []string) error {
			var dir engine.Direction
			if len(args) == 1 {
				dir = engine.Direction(args[0])
			}

			path := engine.JournalPath(absPath(g.excludeFile), g.remote)
			if _, err := os.Stat(path); err != nil {
				fmt.Fprintln(os.Stderr, "no runs recorded")
				return nil
			}
			j, err := engine.OpenJournal(path)
			if err != nil {
				return err
			}
			defer j.Close()

			entries, err := j.Entries(dir)
			if err != nil {
				return err
			}

			failed := 0
			for _, e := range entries {
				if e.Status != engine.StatusFailed {
					if all {
						fmt.Fprintf(os.Stdout, "%-7s %-8s %s  %s\n",
							e.Direction, e.Status, e.Updated.Format(time.DateTime), e.Name)
					}
					continue
				}
				failed++
				line := fmt.Sprintf("%-7s %-8s %s  %s  (%d attempts) %s",
					e.Direction, e.Status, e.Updated.Format(time.DateTime), e.Name, e.Attempts, e.Error)
				if ui.IsTTY(os.Stdout.Fd()) {
					line = ui.ErrorLine(line)
				}
				fmt.Fprintln(os.Stdout, line)
			}

			if !g.quiet {
				fmt.Fprintf(os.Stderr, "%d recorded, %d failed (%s)\n", len(entries), failed, path)
			}
			if failed > 0 {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "print every recorded task, not only failures")
	return cmd
}

func newLedgerCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect or extend the exclude file of completed names",
	}

	var withRemote bool
	list := &cobra.Command{
		Use:   "list",
		Short: "Print every completed name",
		Long: `list prints the names in the exclude file. With --with-remote the names
that have a completion marker under --remote are included.`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			ctx := context.Background()
			m, err := g.openRemote(ctx, withRemote)
			if err != nil {
				return err
			}
			if m != nil {
				defer m.Close()
			}
			l, err := g.openLedger(ctx, m)
			if err != nil {
				return err
			}
			for _, name := range l.Names() {
				fmt.Fprintln(os.Stdout, name)
			}
			return nil
		},
	}
	list.Flags().BoolVar(&withRemote, "with-remote", false, "include names completed according to --remote markers")

	add := &cobra.Command{
		Use:   "add NAME...",
		Short: "Record names as completed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			l, err := g.openLedger(context.Background(), nil)
			if err != nil {
				return err
			}
			for _, name := range args {
				if err := l.Add(name); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.AddCommand(list, add)
	return cmd
}
