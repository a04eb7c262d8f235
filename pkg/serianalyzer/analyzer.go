// Package serianalyzer finds Java deserialization gadget chains: calls to
// native methods and static field writes reachable from the hooks that
// deserialization invokes on attacker-controlled objects.
package serianalyzer

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/715d/serianalyzer/internal/backtrace"
	"github.com/715d/serianalyzer/internal/callgraph"
	"github.com/715d/serianalyzer/internal/filter"
	"github.com/715d/serianalyzer/internal/hierarchy"
	"github.com/715d/serianalyzer/internal/state"
	"github.com/715d/serianalyzer/pkg/config"
)

type (
	Finding       = backtrace.Finding
	Path          = backtrace.Path
	Element       = backtrace.Element
	Instantiation = backtrace.Instantiation
	Site          = backtrace.Site
	FilterStats   = filter.Stats
	Bench         = state.Bench
)

const (
	KindNative    = backtrace.KindNative
	KindStaticPut = backtrace.KindStaticPut
)

// AnalyzerOptions holds configuration options for the analyzer.
type AnalyzerOptions struct {
	// Config holds the rules and heuristics. Defaults are used when nil.
	Config *config.Config

	// Input restores a checkpoint and resumes at the filter.
	Input string
	// Output saves a checkpoint after the call graph is built, or after
	// filtering when the state was restored.
	Output string
}

// Result is the outcome of an analysis.
type Result struct {
	Findings       []Finding       `json:"findings"`
	Instantiations []Instantiation `json:"instantiations,omitempty"`
	Stats          FilterStats     `json:"stats"`
	Bench          Bench           `json:"bench"`
}

// Analyzer runs the pipeline over a set of classes.
type Analyzer struct {
	opts AnalyzerOptions
	cfg  *config.Config
}

// NewAnalyzer creates a new analyzer with the given options.
func NewAnalyzer(opts AnalyzerOptions) *Analyzer {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	return &Analyzer{opts: opts, cfg: cfg}
}

// Analyze builds the call graph of classes, prunes it and reports the
// surviving sinks. The only analysis error is a type conflict when missing
// types are not ignored.
func (a *Analyzer) Analyze(ctx context.Context, classes *Classes) (*Result, error) {
	if classes == nil || classes.Len() == 0 {
		return nil, fmt.Errorf("no classes provided")
	}
	res := hierarchy.New(classes.idx, a.cfg)

	restored := a.opts.Input != ""
	var st *state.State
	if restored {
		var err error
		if st, err = loadState(a.opts.Input); err != nil {
			return nil, err
		}
		slog.Info("restored checkpoint", "file", a.opts.Input, "methods", st.TotalKnown(), "pending", len(st.ToCheck))
		if len(st.ToCheck) > 0 {
			if err := callgraph.New(res, a.cfg, st).Drain(); err != nil {
				return nil, fmt.Errorf("build call graph: %w", err)
			}
		}
	} else {
		st = state.New()
		if err := callgraph.New(res, a.cfg, st).Run(); err != nil {
			return nil, fmt.Errorf("build call graph: %w", err)
		}
		if err := a.save(st); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := filter.Run(st, res, a.cfg)
	if restored {
		if err := a.save(st); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slog.Info("remaining native methods", "count", len(st.NativeMethods))
	rep := backtrace.New(st, res, a.cfg)
	result := &Result{Findings: rep.Findings(), Stats: stats}
	if a.cfg.DumpInstantiation {
		result.Instantiations = rep.Instantiations(rep.UsedInstantiable())
	}
	result.Bench = st.Bench
	st.Bench.Log(nil)
	return result, nil
}

func (a *Analyzer) save(st *state.State) error {
	if a.opts.Output == "" {
		return nil
	}
	f, err := os.Create(a.opts.Output)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := st.Save(w); err != nil {
		f.Close()
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("save checkpoint: %w", err)
	}
	slog.Info("saved checkpoint", "file", a.opts.Output)
	return f.Close()
}

func loadState(path string) (*state.State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("restore checkpoint: %w", err)
	}
	defer f.Close()
	st, err := state.Load(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("restore checkpoint %s: %w", path, err)
	}
	return st, nil
}
