// Package filter prunes the call graph after it is built until a fixed
// point is reached.
package filter

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/715d/serianalyzer/internal/analysis"
	"github.com/715d/serianalyzer/internal/hierarchy"
	"github.com/715d/serianalyzer/internal/state"
	"github.com/715d/serianalyzer/pkg/config"
)

// Stats summarizes a filter run.
type Stats struct {
	Iterations int `json:"iterations"`

	// SafeRemoved counts methods dropped because every call they make is
	// safe.
	SafeRemoved int `json:"safeRemoved"`

	Whitelisted         int `json:"whitelisted"`
	NoCallers           int `json:"noCallers"`
	Uninstantiable      int `json:"uninstantiable"`
	UninstantiableTypes int `json:"uninstantiableTypes"`

	RemainingMethods int `json:"remainingMethods"`
	RemainingTypes   int `json:"remainingTypes"`
}

// Removed returns the total number of removals made by the fixed point
// iterations.
func (s Stats) Removed() int {
	return s.Whitelisted + s.NoCallers + s.Uninstantiable + s.UninstantiableTypes
}

type filter struct {
	st  *state.State
	res *hierarchy.Resolver
	cfg *config.Config
}

// Run filters st in place. Natives are never safe; whitelisted natives are.
// Methods whose calls are all safe are dropped first, then uninstantiable
// types and unreachable methods are removed until a pass removes nothing.
func Run(st *state.State, res *hierarchy.Resolver, cfg *config.Config) Stats {
	f := &filter{st: st, res: res, cfg: cfg}
	slog.Info("running filter", "heuristics", cfg.UseHeuristics)

	var stats Stats
	for k := range st.NativeMethods {
		delete(st.Safe, k)
	}
	for _, k := range cfg.NativeWhitelist() {
		st.Safe[k] = true
		delete(st.NativeMethods, k)
	}
	for _, k := range state.Sorted(st.Safe) {
		stats.SafeRemoved += f.removeSafeCalls(k)
	}
	slog.Info("remaining methods", "count", st.TotalKnown())

	for changed := true; changed; {
		stats.Iterations++
		slog.Info("filtering", "iteration", stats.Iterations)

		n := f.removeUninstantiable()
		stats.UninstantiableTypes += n
		changed = n > 0

		removed := make(map[analysis.Key]state.RemovalReason)
		for _, k := range slices.SortedFunc(maps.Keys(st.Callers), analysis.Key.Compare) {
			if f.removeNonReachable(k, removed) {
				changed = true
			}
		}
		for k, reason := range removed {
			switch reason {
			case state.Whitelist:
				stats.Whitelisted++
			case state.NoCallers:
				stats.NoCallers++
			case state.Uninstantiable:
				stats.Uninstantiable++
			}
			delete(st.StaticPuts, k)
			delete(st.NativeMethods, k)
		}
		st.RemoveAllKnown(slices.Collect(maps.Keys(removed)))

		slog.Info("remaining methods", "count", st.TotalKnown())
		slog.Info("remaining instantiable types", "count", len(st.InstantiableTypes))
	}

	stats.RemainingMethods = st.TotalKnown()
	stats.RemainingTypes = len(st.InstantiableTypes)
	slog.Info("finished filtering", "iterations", stats.Iterations, "removed", stats.Removed())
	return stats
}

// removeSafeCalls drops k from the known methods and, transitively, every
// caller left without any other callee. Entry points are kept.
func (f *filter) removeSafeCalls(k analysis.Key) int {
	n := 0
	stack := []analysis.Key{k}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.st.Initial[s] || !f.st.RemoveAllKnown([]analysis.Key{s}) {
			continue
		}
		n++
		for _, caller := range state.Sorted(f.st.Callers[s]) {
			callees := f.st.Callees[caller]
			if callees == nil {
				continue
			}
			delete(callees, s)
			if len(callees) == 0 {
				stack = append(stack, caller)
			}
		}
	}
	return n
}

func (f *filter) removeUninstantiable() int {
	gr := NewGrounding(f.st, f.res, f.cfg)
	var remove []string
	for _, t := range slices.Sorted(maps.Keys(f.st.InstantiableTypes)) {
		if f.res.IsSerializable(t) || f.cfg.IsConsiderInstantiable(t) {
			continue
		}
		if gr.AllRecursive(t) {
			slog.Debug("all instantiations are recursive", "type", t)
			remove = append(remove, t)
		}
	}
	for _, t := range remove {
		delete(f.st.InstantiableTypes, t)
	}
	for _, cycle := range gr.Cycles(remove) {
		slog.Debug("recursive instantiation cycle", "types", cycle)
	}
	return len(remove)
}

func (f *filter) removeNonReachable(k analysis.Key, removed map[analysis.Key]state.RemovalReason) bool {
	if _, ok := removed[k]; ok {
		return false
	}
	if f.cfg.IsWhitelisted(analysis.NewMethodRef(k)) {
		return f.st.Remove(k, removed, state.Whitelist)
	}
	if !f.st.Initial[k] && len(f.st.Callers[k]) == 0 {
		return f.st.Remove(k, removed, state.NoCallers)
	}
	if !f.cfg.UseHeuristics {
		return false
	}
	if !k.Interface && (k.Static ||
		f.res.IsSerializable(k.Type) ||
		f.st.IsInstantiable(k) ||
		f.cfg.IsConsiderInstantiable(k.Type)) {
		return false
	}
	return f.st.Remove(k, removed, state.Uninstantiable)
}
