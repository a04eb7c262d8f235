package filter

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/yourbasic/graph"

	"github.com/715d/serianalyzer/internal/analysis"
	"github.com/715d/serianalyzer/internal/hierarchy"
	"github.com/715d/serianalyzer/internal/state"
	"github.com/715d/serianalyzer/pkg/config"
)

// Grounding decides which instantiable types have a construction path that
// starts in a serializable or always instantiable type.
//
// Every type instantiated through a method has an edge to the types that
// method runs in: the declaring type of the method and of each of its
// callers, with static methods replaced by their nearest non-static callers.
// A type is grounded if a serializable or always instantiable type is
// reachable from it.
type Grounding struct {
	st  *state.State
	cfg *config.Config

	names    *analysis.NameCache
	g        *graph.Mutable
	grounded map[string]bool
}

// NewGrounding computes the grounding for the current state.
func NewGrounding(st *state.State, res *hierarchy.Resolver, cfg *config.Config) *Grounding {
	gr := &Grounding{
		st:       st,
		cfg:      cfg,
		names:    res.Index().Names(),
		grounded: make(map[string]bool),
	}

	type edge struct{ from, to int }
	var edges []edge
	nodes := make(map[int]string)
	node := func(name string) int {
		id := gr.names.ID(name)
		nodes[id] = name
		return id
	}
	for _, t := range slices.Sorted(maps.Keys(st.InstantiatedThrough)) {
		from := node(t)
		for _, site := range state.Sorted(st.InstantiatedThrough[t]) {
			for _, src := range gr.sourceTypes(site) {
				edges = append(edges, edge{from, node(src)})
			}
		}
	}

	// The extra vertex is the root every ground type hangs off.
	root := gr.names.Len()
	gr.g = graph.New(root)
	rev := graph.New(root + 1)
	for _, e := range edges {
		gr.g.Add(e.from, e.to)
		rev.Add(e.to, e.from)
	}
	for id, name := range nodes {
		if res.IsSerializable(name) || cfg.IsConsiderInstantiable(name) {
			rev.Add(root, id)
		}
	}
	graph.BFS(rev, root, func(_, w int, _ int64) {
		gr.grounded[gr.names.Name(w)] = true
	})
	return gr
}

// sourceTypes returns the types whose code runs the instantiation site.
func (gr *Grounding) sourceTypes(site analysis.Key) []string {
	var out []string
	add := func(k analysis.Key) {
		if !k.Static {
			out = append(out, k.Type)
			return
		}
		for _, c := range gr.nonStaticCallers(k) {
			out = append(out, c.Type)
		}
	}
	add(site)
	for _, c := range state.Sorted(gr.st.Callers[site]) {
		add(c)
	}
	return out
}

// nonStaticCallers follows static callers of k until it reaches non-static
// ones.
func (gr *Grounding) nonStaticCallers(k analysis.Key) []analysis.Key {
	seen := map[analysis.Key]bool{k: true}
	stack := []analysis.Key{k}
	var out []analysis.Key
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for c := range gr.st.Callers[s] {
			if seen[c] {
				continue
			}
			seen[c] = true
			if c.Static {
				stack = append(stack, c)
			} else {
				out = append(out, c)
			}
		}
	}
	return out
}

// AllRecursive reports whether every construction of typeName happens only
// through other ungrounded instantiations. A type without any recorded
// construction site counts as recursive if non-reachable initializers are
// filtered.
func (gr *Grounding) AllRecursive(typeName string) bool {
	if len(gr.st.InstantiatedThrough[typeName]) == 0 {
		slog.Debug("instantiated through is empty", "type", typeName)
		return gr.cfg.FilterNonReachableInitializers
	}
	return !gr.grounded[typeName]
}

// Cycles returns the groups of mutually instantiating types that contain any
// of types.
func (gr *Grounding) Cycles(types []string) [][]string {
	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	var out [][]string
	for _, comp := range graph.StrongComponents(gr.g) {
		if len(comp) < 2 {
			continue
		}
		var members []string
		hit := false
		for _, id := range comp {
			n := gr.names.Name(id)
			hit = hit || want[n]
			members = append(members, n)
		}
		if hit {
			slices.Sort(members)
			out = append(out, members)
		}
	}
	return out
}
