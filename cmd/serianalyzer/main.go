// Package main implements the CLI driver for serianalyzer.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/spf13/cobra"

	"github.com/715d/serianalyzer/pkg/config"
	"github.com/715d/serianalyzer/pkg/serianalyzer"
)

// Config holds all command-line configuration options.
type Config struct {
	Paths             []string // jars, class files and directories to analyze
	Whitelists        []string // whitelist rule files
	Settings          string   // YAML settings overlay
	NoHeuristics      bool     // disable pruning and dispatch heuristics
	DumpInstantiation bool     // trace how used non-serializable types are constructed
	Input             string   // checkpoint to restore
	Output            string   // checkpoint to save
	InitialSet        string   // extra entry points
	MaxDumps          int      // paths reported per sink
	Strict            bool     // fail on type conflicts instead of ignoring missing types
	JSON              bool     // enables JSON output format
	Verbose           bool     // enables detailed output and statistics
	Profile           bool     // enables CPU and memory profiling
}

const (
	exitFindings = 1
	exitError    = 2
)

var (
	// Set via ldflags during build.
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var cfg Config

func main() {
	var rootCmd = &cobra.Command{
		Use:   "serianalyzer [flags] <jar|dir|class>...",
		Short: "Find Java deserialization gadget chains",
		Long: `serianalyzer simulates the bytecode reachable from Java deserialization
hooks (readObject, readResolve, readExternal, proxy invoke, ...) and reports:
- Native method calls reachable with attacker-controlled arguments
- Static field writes reachable during deserialization

Each finding is printed with call paths back to an entry point.`,
		Example: `  serianalyzer app.jar lib/                 # Analyze a jar and a library directory
  serianalyzer -w whitelist.conf lib/        # Apply whitelist rules
  serianalyzer -o state.json lib/            # Save the call graph for later runs
  serianalyzer -i state.json -n lib/         # Resume without heuristics
  serianalyzer --json lib/ > report.json     # JSON output to file`,
		Args:               cobra.MinimumNArgs(1),
		RunE:               runCommand,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
		SilenceUsage:       true,
		SilenceErrors:      true,
		Version:            version,
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("serianalyzer version %s\n  commit: %s\n  built:  %s\n", version, gitCommit, buildTime))

	flags := rootCmd.PersistentFlags()
	flags.StringArrayVarP(&cfg.Whitelists, "whitelist", "w", nil, "Whitelist rule file (repeatable)")
	flags.BoolVarP(&cfg.NoHeuristics, "noheuristics", "n", false, "Disable heuristics (slower, more findings)")
	flags.BoolVarP(&cfg.DumpInstantiation, "dumpinstantiation", "d", false, "Show how used non-serializable types are instantiated")
	flags.StringVarP(&cfg.Input, "input", "i", "", "Restore the analysis state from a checkpoint and resume filtering")
	flags.StringVarP(&cfg.Output, "output", "o", "", "Save the analysis state to a checkpoint")
	flags.StringVar(&cfg.Settings, "config", "", "YAML settings file")
	flags.StringVar(&cfg.InitialSet, "initial-set", "", "Entry point set: java, getters, zeroarg, defaultconst, stringconst")
	flags.IntVar(&cfg.MaxDumps, "max-dumps", 0, "Maximum number of paths reported per sink")
	flags.BoolVar(&cfg.Strict, "strict", false, "Fail on type conflicts instead of ignoring missing types")
	flags.BoolVar(&cfg.JSON, "json", false, "Output in JSON format")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output")
	flags.BoolVar(&cfg.Profile, "profile", false, "Profile the analysis (writes serianalyzer-cpu.prof and serianalyzer-mem.prof)")

	if err := rootCmd.Execute(); err != nil {
		_ = teardown(nil, nil)
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		var cErr *codedError
		if errors.As(err, &cErr) {
			os.Exit(cErr.code)
		}
		os.Exit(exitError)
	}
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg.Paths = args
	slog.Info("starting deserialization analysis", "paths", cfg.Paths)

	result, err := runAnalysis(cmd.Context(), &cfg)
	if err != nil {
		return errWithCode(fmt.Errorf("analyze: %w", err), exitError)
	}

	if err := writeResults(result, &cfg); err != nil {
		return errWithCode(fmt.Errorf("format results: %w", err), exitError)
	}

	if len(result.Findings) > 0 {
		return errWithCode(nil, exitFindings)
	}
	return nil
}

// buildConfig turns the flags into an analysis configuration.
func buildConfig(c *Config) (*config.Config, error) {
	ac := config.Default()
	if c.Settings != "" {
		f, err := os.Open(c.Settings)
		if err != nil {
			return nil, fmt.Errorf("open settings: %w", err)
		}
		err = ac.LoadSettings(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Settings, err)
		}
	}
	for _, path := range c.Whitelists {
		if err := ac.Rules.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read whitelist: %w", err)
		}
	}
	if c.NoHeuristics {
		ac.UseHeuristics = false
	}
	if c.DumpInstantiation {
		ac.DumpInstantiation = true
	}
	if c.Strict {
		ac.IgnoreNotFound = false
	}
	if c.InitialSet != "" {
		is, err := config.ParseInitialSet(c.InitialSet)
		if err != nil {
			return nil, err
		}
		ac.InitialSet = is
	}
	if c.MaxDumps > 0 {
		ac.MaxDisplayDumps = c.MaxDumps
	}
	return ac, nil
}

func runAnalysis(ctx context.Context, c *Config) (*serianalyzer.Result, error) {
	start := time.Now()

	ac, err := buildConfig(c)
	if err != nil {
		return nil, err
	}

	slog.Info("loading classes", "paths", c.Paths)
	classes, err := serianalyzer.LoadClasses(ctx, serianalyzer.LoaderOptions{Paths: c.Paths})
	if err != nil {
		return nil, fmt.Errorf("loading classes: %w", err)
	}
	slog.Info("loaded classes", "num", classes.Len())

	slog.Info("running analysis", "heuristics", ac.UseHeuristics, "initialSet", ac.InitialSet)
	analyzer := serianalyzer.NewAnalyzer(serianalyzer.AnalyzerOptions{
		Config: ac,
		Input:  c.Input,
		Output: c.Output,
	})
	result, err := analyzer.Analyze(ctx, classes)
	if err != nil {
		return nil, err
	}
	slog.Info("analysis completed", "dur", time.Since(start))
	return result, nil
}

func writeResults(result *serianalyzer.Result, c *Config) error {
	if !c.JSON {
		initStyles(os.Stdout)
		fmt.Print(formatTextOutput(result))
		return nil
	}
	data, err := json.MarshalIndent(jOutput{
		Result:    result,
		Version:   version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling json output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

type jOutput struct {
	*serianalyzer.Result
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

const (
	cpuProfileFile = "serianalyzer-cpu.prof"
	memProfileFile = "serianalyzer-mem.prof"
)

var cpuProfile *os.File

// setup picks the log handler before any jar is opened. Progress logs go to
// stderr so a JSON report on stdout stays parseable. With --profile the CPU
// profile covers class loading, checkpoint restore and the analysis.
func setup(_ *cobra.Command, args []string) error {
	slog.SetDefault(slog.New(slog.DiscardHandler))
	if cfg.Verbose {
		opts := &slog.HandlerOptions{Level: slog.LevelDebug}
		var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
		if cfg.JSON {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		}
		slog.SetDefault(slog.New(handler))
	}

	if !cfg.Profile {
		return nil
	}

	var err error
	cpuProfile, err = os.Create(cpuProfileFile)
	if err != nil {
		return fmt.Errorf("creating %s: %w", cpuProfileFile, err)
	}
	if err := pprof.StartCPUProfile(cpuProfile); err != nil {
		_ = cpuProfile.Close()
		return fmt.Errorf("starting CPU profile: %w", err)
	}
	slog.Info("profiling analysis", "profile", cpuProfileFile, "inputs", args, "checkpoint", cfg.Input)
	return nil
}

// teardown stops CPU profiling and writes a heap profile once the report and
// any output checkpoint are written. It also runs when the analysis fails.
func teardown(_ *cobra.Command, _ []string) error {
	if !cfg.Profile || cpuProfile == nil {
		return nil
	}

	pprof.StopCPUProfile()
	defer cpuProfile.Close()
	cpuProfile = nil

	memFile, err := os.Create(memProfileFile)
	if err != nil {
		return fmt.Errorf("creating %s: %w", memProfileFile, err)
	}
	defer memFile.Close()
	// Collect first so the heap profile reflects the retained call graph.
	runtime.GC()
	if err := pprof.WriteHeapProfile(memFile); err != nil {
		return fmt.Errorf("writing heap profile: %w", err)
	}
	slog.Info("profiles written", "cpu", cpuProfileFile, "heap", memProfileFile, "checkpoint", cfg.Output)
	return nil
}

func errWithCode(err error, code int) error {
	return &codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e *codedError) Unwrap() error { return e.err }
