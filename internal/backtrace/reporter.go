// Package backtrace turns the filtered call graph into findings: call paths
// from deserialization entry points to the surviving sinks.
package backtrace

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/715d/serianalyzer/internal/analysis"
	"github.com/715d/serianalyzer/internal/filter"
	"github.com/715d/serianalyzer/internal/hierarchy"
	"github.com/715d/serianalyzer/internal/state"
	"github.com/715d/serianalyzer/pkg/config"
)

// Kind is the kind of sink a finding reports.
type Kind string

const (
	KindNative    Kind = "native"
	KindStaticPut Kind = "static-put"
)

// maxInstantiationSites bounds the sites traced per instantiable type.
const maxInstantiationSites = 3

// Element is one method on a path.
type Element struct {
	Key analysis.Key `json:"-"`

	// Method is the maximum taint status of the method.
	Method       string `json:"method"`
	Serializable bool   `json:"serializable,omitempty"`
	Instantiable bool   `json:"instantiable,omitempty"`
}

// Path runs from a sink (first element) back to an entry point (last).
type Path []Element

// Finding is a sink reachable from at least one entry point.
type Finding struct {
	Kind  Kind   `json:"kind"`
	Sink  string `json:"sink"`
	Paths []Path `json:"paths"`
}

// Summary returns the one-line description of the finding.
func (f Finding) Summary() string {
	if f.Kind == KindStaticPut {
		return "Potentially unsafe static put in " + f.Sink
	}
	return "Potentially unsafe native call " + f.Sink
}

// Instantiation describes how a non-serializable type used on a finding's
// path can be constructed.
type Instantiation struct {
	Type         string `json:"type"`
	AllRecursive bool   `json:"allRecursive,omitempty"`
	Sites        []Site `json:"sites"`
}

// Site is a method that constructs an instantiable type.
type Site struct {
	Method       string `json:"method"`
	Serializable bool   `json:"serializable,omitempty"`
	Path         Path   `json:"path,omitempty"`
}

// Reporter walks the filtered state backward from sinks to entry points.
type Reporter struct {
	st  *state.State
	res *hierarchy.Resolver
	cfg *config.Config

	used map[string]bool
}

func New(st *state.State, res *hierarchy.Resolver, cfg *config.Config) *Reporter {
	return &Reporter{st: st, res: res, cfg: cfg, used: make(map[string]bool)}
}

// Findings reports every native call, then every static put, that is not
// whitelisted and still has a path to an entry point.
func (r *Reporter) Findings() []Finding {
	var out []Finding
	natives := 0
	for _, k := range state.Sorted(r.st.NativeMethods) {
		if f, ok := r.finding(KindNative, k); ok {
			out = append(out, f)
			natives++
		}
	}
	slog.Info("non-whitelisted native methods", "count", natives)

	puts := 0
	for _, k := range state.Sorted(r.st.StaticPuts) {
		if f, ok := r.finding(KindStaticPut, k); ok {
			out = append(out, f)
			puts++
		}
	}
	slog.Info("potentially unsafe static puts", "count", puts)
	return out
}

func (r *Reporter) finding(kind Kind, k analysis.Key) (Finding, bool) {
	if r.cfg.IsWhitelisted(analysis.NewMethodRef(k)) || len(r.st.Callers[k]) == 0 {
		return Finding{}, false
	}
	paths := r.Paths(k, r.cfg.MaxDisplayDumps)
	if len(paths) == 0 {
		return Finding{}, false
	}
	for _, p := range paths {
		for _, e := range p {
			if e.Instantiable {
				r.used[e.Key.Type] = true
			}
		}
	}
	return Finding{Kind: kind, Sink: k.String(), Paths: paths}, true
}

// UsedInstantiable returns the non-serializable instantiable types that
// appear on the paths of the findings reported so far.
func (r *Reporter) UsedInstantiable() []string {
	return slices.Sorted(maps.Keys(r.used))
}

// Paths returns up to limit shortest caller paths from sink to an entry
// point. Entry points whose first parameter is tainted are not path ends.
func (r *Reporter) Paths(sink analysis.Key, limit int) []Path {
	visited := map[analysis.Key]bool{sink: true}
	queue := [][]analysis.Key{{sink}}
	var out []Path
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		last := p[len(p)-1]

		if r.st.Initial[last] && !r.st.MaxTaint(last).ParamTainted(0) {
			if r.cfg.IsWhitelisted(analysis.NewMethodRef(last)) {
				continue
			}
			out = append(out, r.path(p))
			if len(out) >= limit {
				break
			}
			continue
		}

		if r.filterPath(p) {
			r.st.Bench.HeuristicFilter++
			continue
		}
		for _, caller := range state.Sorted(r.st.Callers[last]) {
			if visited[caller] || caller == last {
				continue
			}
			visited[caller] = true
			queue = append(queue, append(slices.Clone(p), caller))
		}
	}
	return out
}

func (r *Reporter) path(keys []analysis.Key) Path {
	p := make(Path, 0, len(keys))
	for _, k := range keys {
		e := Element{Key: k, Method: r.st.MaxTaint(k).String()}
		if r.res.IsSerializable(k.Type) {
			e.Serializable = true
		} else if r.st.IsInstantiable(k) {
			e.Instantiable = true
		}
		p = append(p, e)
	}
	return p
}

// filterPath reports whether a path can only be realized with an object that
// deserialization cannot produce: past the first serializable type, every
// type must be serializable or instantiable.
func (r *Reporter) filterPath(p []analysis.Key) bool {
	if !r.cfg.UseHeuristics {
		return false
	}
	seen := false
	for _, k := range p {
		switch {
		case r.res.IsSerializable(k.Type):
			seen = true
		case seen && !r.st.IsInstantiable(k):
			slog.Debug("intermediate non serializable type", "path", p)
			return true
		}
	}
	return false
}

// Instantiations traces up to three construction sites for each of types,
// each with one path to an entry point.
func (r *Reporter) Instantiations(types []string) []Instantiation {
	gr := filter.NewGrounding(r.st, r.res, r.cfg)
	out := make([]Instantiation, 0, len(types))
	for _, t := range types {
		in := Instantiation{Type: t, AllRecursive: gr.AllRecursive(t)}
		if in.AllRecursive {
			slog.Warn("all instantiations are recursive", "type", t)
		}
		sites := r.st.InstantiatedThrough[t]
		if len(sites) == 0 {
			slog.Warn("no instantiations found", "type", t)
		}
		for _, k := range state.Sorted(sites) {
			if len(in.Sites) >= maxInstantiationSites {
				break
			}
			if r.cfg.IsWhitelisted(analysis.NewMethodRef(k)) {
				continue
			}
			s := Site{Method: r.st.MaxTaint(k).String(), Serializable: r.res.IsSerializable(k.Type)}
			if s.Serializable && len(r.st.Callers[k]) == 0 {
				slog.Warn("no callers found", "type", t, "method", k)
				continue
			}
			if paths := r.Paths(k, 1); len(paths) > 0 {
				s.Path = paths[0]
			}
			in.Sites = append(in.Sites, s)
		}
		out = append(out, in)
	}
	return out
}
