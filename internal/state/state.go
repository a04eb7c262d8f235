// Package state holds the call graph shared by the builder, the filter and
// the reporter, and its checkpoint format.
package state

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/715d/serianalyzer/internal/analysis"
	"github.com/715d/serianalyzer/pkg/jtype"
)

// Set is a set of method keys.
type Set = map[analysis.Key]bool

// RemovalReason records why the filter dropped a method.
type RemovalReason int

const (
	Whitelist RemovalReason = iota
	NoCallers
	Uninstantiable
)

func (r RemovalReason) String() string {
	switch r {
	case Whitelist:
		return "whitelist"
	case NoCallers:
		return "nocallers"
	case Uninstantiable:
		return "uninstantiable"
	}
	return "unknown"
}

// State is the analysis state. The graph only grows while it is built and
// only shrinks while it is filtered.
type State struct {
	Initial Set

	// Known maps a method to every taint variant it was checked with,
	// keyed by MethodRef.VariantKey.
	Known map[analysis.Key]map[string]*analysis.MethodRef

	ToCheck []*analysis.MethodRef

	// Callers maps a callee to its callers, Callees the reverse.
	Callers map[analysis.Key]Set
	Callees map[analysis.Key]Set

	Safe          Set
	NativeMethods Set
	StaticPuts    Set

	InstantiableTypes   map[string]bool
	InstantiatedThrough map[string]Set

	CheckedReturnType Set
	ReturnTypes       map[analysis.Key]jtype.Type

	Bench Bench
}

func New() *State {
	return &State{
		Initial:             make(Set),
		Known:               make(map[analysis.Key]map[string]*analysis.MethodRef),
		Callers:             make(map[analysis.Key]Set),
		Callees:             make(map[analysis.Key]Set),
		Safe:                make(Set),
		NativeMethods:       make(Set),
		StaticPuts:          make(Set),
		InstantiableTypes:   make(map[string]bool),
		InstantiatedThrough: make(map[string]Set),
		CheckedReturnType:   make(Set),
		ReturnTypes:         make(map[analysis.Key]jtype.Type),
	}
}

// Enqueue schedules ref for simulation.
func (s *State) Enqueue(ref *analysis.MethodRef) {
	s.ToCheck = append(s.ToCheck, ref)
}

// Dequeue returns the oldest pending reference, or nil.
func (s *State) Dequeue() *analysis.MethodRef {
	if len(s.ToCheck) == 0 {
		return nil
	}
	ref := s.ToCheck[0]
	s.ToCheck[0] = nil
	s.ToCheck = s.ToCheck[1:]
	return ref
}

func (s *State) AddInitial(ref *analysis.MethodRef) {
	s.Initial[ref.Key] = true
}

// TrackKnown records ref as a checked variant of its method.
func (s *State) TrackKnown(ref *analysis.MethodRef) {
	variants := s.Known[ref.Key]
	if variants == nil {
		variants = make(map[string]*analysis.MethodRef)
		s.Known[ref.Key] = variants
	}
	variants[ref.VariantKey()] = ref
}

// IsKnown reports whether exactly this variant of ref was already checked.
func (s *State) IsKnown(ref *analysis.MethodRef) bool {
	_, ok := s.Known[ref.Key][ref.VariantKey()]
	return ok
}

// CountKnown returns the number of checked variants of ref's method.
func (s *State) CountKnown(ref *analysis.MethodRef) int {
	return len(s.Known[ref.Key])
}

// AlreadyKnown returns the checked variants of ref's method.
func (s *State) AlreadyKnown(ref *analysis.MethodRef) []*analysis.MethodRef {
	variants := s.Known[ref.Key]
	keys := slices.Sorted(maps.Keys(variants))
	out := make([]*analysis.MethodRef, 0, len(keys))
	for _, k := range keys {
		out = append(out, variants[k])
	}
	return out
}

// TotalKnown returns the number of checked variants over all methods.
func (s *State) TotalKnown() int {
	total := 0
	for _, v := range s.Known {
		total += len(v)
	}
	return total
}

// MaxTaint returns the union of the taint of every checked variant of the
// method k.
func (s *State) MaxTaint(k analysis.Key) *analysis.MethodRef {
	cur := analysis.NewMethodRef(k)
	for _, v := range s.Known[k] {
		// Same key, cannot fail.
		cur, _ = cur.MaxTaint(v)
	}
	return cur
}

// TraceCalls records edges from each caller to callee. The callee gets a
// (possibly empty) caller set even without callers. Self edges are dropped.
func (s *State) TraceCalls(callee analysis.Key, callers ...analysis.Key) {
	calling := s.Callers[callee]
	if calling == nil {
		calling = make(Set)
		s.Callers[callee] = calling
	}
	for _, c := range callers {
		if c == callee {
			continue
		}
		calling[c] = true
		callees := s.Callees[c]
		if callees == nil {
			callees = make(Set)
			s.Callees[c] = callees
		}
		callees[callee] = true
	}
}

func (s *State) MarkSafe(k analysis.Key) {
	s.Safe[k] = true
}

// NativeCall records a tainted call to a native method.
func (s *State) NativeCall(ref *analysis.MethodRef) {
	s.NativeMethods[ref.Key] = true
	s.TrackKnown(ref)
}

// StaticPut records a tainted static field write made by the method k.
func (s *State) StaticPut(k analysis.Key) {
	s.StaticPuts[k] = true
}

// TrackInstantiable records that typeName can be constructed through the
// method k.
func (s *State) TrackInstantiable(typeName string, k analysis.Key) {
	s.InstantiableTypes[typeName] = true
	through := s.InstantiatedThrough[typeName]
	if through == nil {
		through = make(Set)
		s.InstantiatedThrough[typeName] = through
	}
	through[k] = true
}

// IsInstantiable reports whether the declaring type of k is instantiable.
func (s *State) IsInstantiable(k analysis.Key) bool {
	return s.InstantiableTypes[k.Type]
}

// Remove drops k from the call graph and reports whether it was not already
// in removed. Callees left without callers are removed too unless they are
// entry points. Every dropped method is added to removed with its reason.
func (s *State) Remove(k analysis.Key, removed map[analysis.Key]RemovalReason, reason RemovalReason) bool {
	if _, ok := removed[k]; ok {
		return false
	}
	type pending struct {
		key    analysis.Key
		reason RemovalReason
	}
	stack := []pending{{k, reason}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := removed[p.key]; ok {
			continue
		}
		removed[p.key] = p.reason
		slog.Debug("removing method", "method", p.key, "reason", p.reason)

		for caller := range s.Callers[p.key] {
			delete(s.Callees[caller], p.key)
		}
		delete(s.Callers, p.key)

		callees := s.Callees[p.key]
		delete(s.Callees, p.key)
		for callee := range callees {
			calleeCallers, ok := s.Callers[callee]
			if !ok {
				continue
			}
			delete(calleeCallers, p.key)
			if len(calleeCallers) == 0 && !s.Initial[callee] {
				stack = append(stack, pending{callee, NoCallers})
			}
		}
	}
	return true
}

// RemoveAllKnown drops the checked variants of every method in keys and
// reports whether anything was dropped.
func (s *State) RemoveAllKnown(keys []analysis.Key) bool {
	changed := false
	for _, k := range keys {
		if _, ok := s.Known[k]; ok {
			delete(s.Known, k)
			changed = true
		}
	}
	return changed
}

// Sorted returns the members of set in Key order.
func Sorted(set Set) []analysis.Key {
	return slices.SortedFunc(maps.Keys(set), analysis.Key.Compare)
}
