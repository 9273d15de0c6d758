// Command multi reads records from stdin, fans them out to a pool of shell
// command "mapper" workers running concurrently, and merges their output
// back onto stdout in a single pass.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/parallelshell/multi/pkg/engine"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := newRootCmd()
	defaultHelpFunc := rootCmd.HelpFunc()
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		defaultHelpFunc(cmd, args)
		os.Exit(1)
	})
	return rootCmd.Execute()
}

func newRootCmd() *cobra.Command {
	var opts engine.Options
	var tempDirBase string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "multi",
		Short: "Dispatch stdin records to shell command mappers in parallel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.TempDirBase = tempDirBase
			opts.Verbose = verbose
			return runDispatch(cmd, &opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.MapperCmd, "mapper", "m", "", "shell command run for each mapper slot (required)")
	flags.IntVarP(&opts.NumMapper, "num-mapper", "n", 1, "number of mapper slots to run concurrently")
	flags.StringVarP(&opts.SplitterCmd, "splitter", "s", "", "external shell command replacing the built-in splitter")
	flags.StringVarP(&opts.CombinerCmd, "combiner", "c", "", "external shell command replacing the built-in combiner")
	flags.BoolVarP(&opts.Sequential, "sequential", "S", false, "preserve record order with strict round-robin dispatch")
	flags.StringVar(&tempDirBase, "tempdir", "", "parent directory for the run's FIFO directory (default: system temp dir)")
	flags.StringVar(&opts.MetricsFile, "metrics-file", "", "write a Prometheus text-exposition snapshot here on clean shutdown")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	_ = cmd.MarkFlagRequired("mapper")

	return cmd
}

func runDispatch(cmd *cobra.Command, opts *engine.Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	log := logrus.New()
	if opts.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	entry := log.WithField("component", "supervisor")

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng, err := engine.New(entry, opts.TempDirBase, opts.NumMapper)
	if err != nil {
		return fmt.Errorf("unable to start dispatch: %w", err)
	}
	defer eng.Close()

	sup := engine.NewSupervisor(entry, *opts)
	return sup.Run(ctx, eng, os.Stdin, os.Stdout)
}
