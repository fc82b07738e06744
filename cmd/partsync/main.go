package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bamsammich/partsync/internal/filter"
)

var version = "dev"

func main() {
	os.Exit(run())
}

// filterFlag is a custom pflag.Value that preserves CLI ordering of
// --exclude and --include rules by appending to a shared filter.Chain.
type filterFlag struct {
	chain   *filter.Chain
	include bool
}

func (*filterFlag) String() string { return "" }
func (*filterFlag) Type() string   { return "string" }

func (f *filterFlag) Set(val string) error {
	if f.include {
		return f.chain.AddInclude(val)
	}
	return f.chain.AddExclude(val)
}

func run() int {
	var (
		g           globals
		showVersion bool
	)

	rootCmd := &cobra.Command{
		Use:   "partsync",
		Short: "Sync append-grown data shards by shipping only their new tails",
		Long: `partsync compares two inventories of sharded files, plans which files
need a full copy and which only grew at the end, ships the grown tails
("parts") through remote storage and appends them to the destination.

Completed files are recorded in an exclude file so reruns do no work.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return g.setup(cmd) },
		PersistentPostRun: func(*cobra.Command, []string) { g.teardown() },
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				fmt.Fprintf(os.Stdout, "partsync %s\n", version)
				return nil
			}
			return cmd.Help()
		},
	}

	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")
	g.register(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newPlanCmd(&g),
		newUploadCmd(&g),
		newFetchCmd(&g),
		newApplyCmd(&g),
		newCopyCmd(&g),
		newStatusCmd(&g),
		newLedgerCmd(&g),
		docsCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		g.teardown()
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	return 0
}

// addFilterFlags registers the ordered include/exclude rules and size
// bounds on cmd. The chain is completed by finishFilter once flags parse.
func addFilterFlags(flags *pflag.FlagSet, chain *filter.Chain, file, minSize, maxSize *string) {
	flags.Var(&filterFlag{chain: chain, include: false}, "exclude", "exclude files matching PATTERN (repeatable)")
	flags.Var(&filterFlag{chain: chain, include: true}, "include", "include files matching PATTERN (repeatable)")
	flags.StringVar(file, "filter", "", "read filter rules from FILE")
	flags.StringVar(minSize, "min-size", "", "skip files smaller than SIZE (e.g. 1M, 100K)")
	flags.StringVar(maxSize, "max-size", "", "skip files larger than SIZE (e.g. 1G, 500M)")
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name == "exclude" || f.Name == "include" {
			f.NoOptDefVal = ""
		}
	})
}

func finishFilter(chain *filter.Chain, file, minSize, maxSize string) error {
	if file != "" {
		if err := chain.LoadFile(file); err != nil {
			return fmt.Errorf("load filter file: %w", err)
		}
	}
	if minSize != "" {
		n, err := filter.ParseSize(minSize)
		if err != nil {
			return fmt.Errorf("invalid --min-size: %w", err)
		}
		chain.SetMinSize(n)
	}
	if maxSize != "" {
		n, err := filter.ParseSize(maxSize)
		if err != nil {
			return fmt.Errorf("invalid --max-size: %w", err)
		}
		chain.SetMaxSize(n)
	}
	return nil
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
