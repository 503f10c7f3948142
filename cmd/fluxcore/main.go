// fluxcore - deterministic model-based fuzzer
// Runs data model and state model definitions against a target and
// reproduces every fault from its seed and iteration index.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fluxfuzzer/fluxcore/internal/agent"
	"github.com/fluxfuzzer/fluxcore/internal/config"
	"github.com/fluxfuzzer/fluxcore/internal/definition"
	"github.com/fluxfuzzer/fluxcore/internal/engine"
	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
	"github.com/fluxfuzzer/fluxcore/internal/faults"
	"github.com/fluxfuzzer/fluxcore/internal/logger"
	"github.com/fluxfuzzer/fluxcore/internal/mutator"
	"github.com/fluxfuzzer/fluxcore/internal/plugin"
	"github.com/fluxfuzzer/fluxcore/internal/publisher"
	"github.com/fluxfuzzer/fluxcore/internal/report"
	"github.com/fluxfuzzer/fluxcore/internal/runner"
	"github.com/fluxfuzzer/fluxcore/internal/strategy"
	"github.com/fluxfuzzer/fluxcore/internal/ui"
)

var version = "0.1.0-dev"

// CLI flags
var (
	configFile string
	testName   string
	verbose    bool

	seed       int64
	iterations int
	start      int
	strategyOf string
	outputDir  string
	enableTUI  bool
	quiet      bool

	replayIndex int
	exportDoc   bool
)

// exit codes
const (
	exitFailure = 1
	exitConfig  = 2
	exitFaults  = 3
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fluxcore",
		Short: "fluxcore - deterministic model-based fuzzer",
		Long: `fluxcore mutates data models described in a YAML definition, drives
them through a state model over publishers, and watches the target with
agents. Every iteration is a pure function of the seed and its index, so a
fault can be replayed exactly.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (YAML)")
	rootCmd.PersistentFlags().StringVarP(&testName, "test", "t", "", "Test to run, defaults to the first one")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	runCmd := &cobra.Command{
		Use:   "run <definition.yaml>",
		Short: "Run a fuzzing session",
		Args:  cobra.ExactArgs(1),
		RunE:  runSession,
	}
	runCmd.Flags().Int64Var(&seed, "seed", 0, "Run seed, defaults to the config or the clock")
	runCmd.Flags().IntVarP(&iterations, "iterations", "n", 0, "Fuzz iterations, 0 runs until exhausted")
	runCmd.Flags().IntVar(&start, "start", 0, "First iteration index")
	runCmd.Flags().StringVar(&strategyOf, "strategy", "", "Override the test's strategy class")
	runCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory for reports and faults")
	runCmd.Flags().BoolVar(&enableTUI, "tui", false, "Show the live dashboard")
	runCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print the run summary")

	replayCmd := &cobra.Command{
		Use:   "replay <definition.yaml>",
		Short: "Re-execute one iteration from its seed and index",
		Args:  cobra.ExactArgs(1),
		RunE:  replayIteration,
	}
	replayCmd.Flags().Int64Var(&seed, "seed", 0, "Seed of the original run")
	replayCmd.Flags().IntVarP(&replayIndex, "iteration", "i", 0, "Iteration index to replay")
	_ = replayCmd.MarkFlagRequired("seed")
	_ = replayCmd.MarkFlagRequired("iteration")

	validateCmd := &cobra.Command{
		Use:   "validate <definition.yaml>",
		Short: "Check a definition and build its data models",
		Args:  cobra.ExactArgs(1),
		RunE:  validateDefinition,
	}
	validateCmd.Flags().BoolVar(&exportDoc, "export", false, "Print the normalized definition")

	mutatorsCmd := &cobra.Command{
		Use:   "mutators",
		Short: "List the available mutators",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, m := range mutator.Default().All() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-34s %s\n", m.Name(), m.Description())
			}
		},
	}

	pluginsCmd := &cobra.Command{
		Use:   "plugins",
		Short: "List strategy, publisher, monitor and logger classes with their parameters",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			printSpecs(w, "Strategies", strategy.Registry.Specs())
			printSpecs(w, "Publishers", publisher.Registry.Specs())
			printSpecs(w, "Monitors", agent.Registry.Specs())
			printSpecs(w, "Loggers", logger.Registry.Specs())
		},
	}

	faultsCmd := &cobra.Command{
		Use:   "faults <dir>",
		Short: "List stored fault records",
		Args:  cobra.ExactArgs(1),
		RunE:  listFaults,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fluxcore version %s\n", version)
		},
	}

	rootCmd.AddCommand(runCmd, replayCmd, validateCmd, mutatorsCmd, pluginsCmd, faultsCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if errdefs.IsConfig(err) {
			os.Exit(exitConfig)
		}
		var f faultsFound
		if errors.As(err, &f) {
			os.Exit(exitFaults)
		}
		os.Exit(exitFailure)
	}
}

type faultsFound int

func (f faultsFound) Error() string {
	return fmt.Sprintf("%d faults detected", int(f))
}

// loadConfig reads the config file and applies the persistent flags
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = config.LoadFile(configFile); err != nil {
			return nil, err
		}
	}
	if verbose {
		cfg.Output.LogLevel = "debug"
	}
	return cfg, nil
}

// setupLogging installs the default slog handler
func setupLogging(cfg *config.Config, w io.Writer) error {
	level, err := config.ParseLevel(cfg.Output.LogLevel)
	if err != nil {
		return errdefs.WrapConfig("config", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Engine.Seed = &seed
	}
	if flags.Changed("iterations") {
		cfg.Engine.Iterations = iterations
	}
	if flags.Changed("start") {
		cfg.Engine.Start = start
	}
	if strategyOf != "" {
		cfg.Engine.Strategy = strategyOf
	}
	if outputDir != "" {
		cfg.Output.Dir = outputDir
		cfg.Faults.Dir = filepath.Join(outputDir, "faults")
	}
	if enableTUI {
		cfg.Output.EnableTUI = true
	}
	if quiet {
		cfg.Output.Quiet = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logOut := io.Writer(os.Stderr)
	if cfg.Output.EnableTUI {
		// the dashboard owns the terminal
		if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(cfg.Output.Dir, "fluxcore.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	if err := setupLogging(cfg, logOut); err != nil {
		return err
	}

	doc, err := definition.LoadFile(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	var res *runner.Result
	if cfg.Output.EnableTUI {
		err = ui.Watch(ctx, cfg.Engine.Iterations, func(ctx context.Context, l engine.Listener) error {
			r, err := runner.New(doc, cfg, testName, runner.WithListener(l))
			if err != nil {
				return err
			}
			res, err = r.Run(ctx)
			return err
		}, tea.WithAltScreen())
	} else {
		var r *runner.Runner
		if r, err = runner.New(doc, cfg, testName); err != nil {
			return err
		}
		res, err = r.Run(ctx)
	}
	if err != nil && !(errors.Is(err, context.Canceled) && res != nil) {
		return err
	}

	if !cfg.Output.Quiet {
		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderSummary(res.Summary))
		if res.Report != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "report: %s\n", res.Report)
		}
		for _, p := range res.FaultFiles {
			fmt.Fprintf(cmd.OutOrStdout(), "fault: %s\n", p)
		}
	}
	if n := res.Summary.Reproduced(); n > 0 {
		return faultsFound(n)
	}
	return nil
}

func replayIteration(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Engine.Seed = &seed
	if err := setupLogging(cfg, os.Stderr); err != nil {
		return err
	}

	doc, err := definition.LoadFile(args[0])
	if err != nil {
		return err
	}
	r, err := runner.New(doc, cfg, testName)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	it, res, err := r.Replay(ctx, replayIndex)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "iteration %d (seed %d), %d mutations\n", it.Index, seed, len(it.Decision.Mutations))
	for _, m := range it.Decision.Mutations {
		fmt.Fprintf(out, "  %s %s #%d\n", m.Element, m.Mutator, m.Choice)
	}
	switch {
	case res.Err != nil:
		fmt.Fprintf(out, "error: %v\n", res.Err)
	case res.Fault != nil:
		fmt.Fprintf(out, "fault: %s (%s)\n", res.Fault.Title, res.Fault.Source)
		if res.Fault.Description != "" {
			fmt.Fprintf(out, "  %s\n", res.Fault.Description)
		}
		return faultsFound(1)
	default:
		fmt.Fprintln(out, "no fault")
	}
	return nil
}

func validateDefinition(cmd *cobra.Command, args []string) error {
	doc, err := definition.LoadFile(args[0])
	if err != nil {
		return err
	}
	tree, err := doc.Tree()
	if err != nil {
		return err
	}

	tests := make([]*engine.Test, 0, len(doc.Tests))
	for _, t := range doc.Tests {
		test, err := doc.Test(t.Name)
		if err != nil {
			return err
		}
		if err := test.Validate(); err != nil {
			return err
		}
		tests = append(tests, test)
	}

	out := cmd.OutOrStdout()
	if exportDoc {
		data, err := definition.Marshal(definition.Export(tree, doc.StateModels, tests...))
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}

	fmt.Fprintf(out, "%s: %d data models, %d elements, %d relations, %d state models, %d tests\n",
		args[0], len(tree.Models()), len(tree.Elements()), len(tree.Relations().All()), len(doc.StateModels), len(tests))
	return nil
}

func listFaults(cmd *cobra.Command, args []string) error {
	paths, err := faults.List(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, p := range paths {
		rec, err := faults.Read(p)
		if err != nil {
			return err
		}
		status := report.StatusTransient
		switch {
		case rec.Control:
			status = report.StatusControl
		case rec.Reproduced:
			status = report.StatusConfirmed
		}
		fmt.Fprintf(out, "%s  seed=%d iteration=%d %s %s\n", p, rec.Seed, rec.Iteration, status, rec.Fault.Title)
	}
	return nil
}

func printSpecs[T any](w io.Writer, title string, specs []plugin.Spec[T]) {
	fmt.Fprintf(w, "%s:\n", title)
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	for _, s := range specs {
		fmt.Fprintf(w, "  %-12s %s\n", s.Name, s.Description)
		for _, p := range s.Params {
			var attrs []string
			if p.Required {
				attrs = append(attrs, "required")
			}
			if p.Default != "" {
				attrs = append(attrs, "default "+p.Default)
			}
			suffix := ""
			if len(attrs) > 0 {
				suffix = " (" + strings.Join(attrs, ", ") + ")"
			}
			fmt.Fprintf(w, "      %-14s %-8s %s%s\n", p.Name, p.Type, p.Description, suffix)
		}
	}
}
