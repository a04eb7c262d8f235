package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/715d/serianalyzer/internal/analysis"
	"github.com/715d/serianalyzer/pkg/jtype"
)

const snapshotVersion = 1

// ErrVersion is returned when loading a checkpoint of another format version.
var ErrVersion = errors.New("unsupported checkpoint version")

type snapshot struct {
	Version             int                       `json:"version"`
	Initial             []analysis.Key            `json:"initial"`
	Known               []*analysis.MethodRef     `json:"known"`
	ToCheck             []*analysis.MethodRef     `json:"toCheck"`
	Callers             []adjacency               `json:"callers"`
	Callees             []adjacency               `json:"callees"`
	Safe                []analysis.Key            `json:"safe"`
	NativeMethods       []analysis.Key            `json:"nativeMethods"`
	StaticPuts          []analysis.Key            `json:"staticPuts"`
	InstantiableTypes   []string                  `json:"instantiableTypes"`
	InstantiatedThrough map[string][]analysis.Key `json:"instantiatedThrough"`
	CheckedReturnType   []analysis.Key            `json:"checkedReturnType"`
	ReturnTypes         []returnType              `json:"returnTypes"`
	Bench               Bench                     `json:"bench"`
}

type adjacency struct {
	Method analysis.Key   `json:"method"`
	Edges  []analysis.Key `json:"edges"`
}

type returnType struct {
	Method analysis.Key `json:"method"`
	Type   jtype.Type   `json:"type"`
}

// Save writes a checkpoint of s. The output is deterministic.
func (s *State) Save(w io.Writer) error {
	snap := snapshot{
		Version:             snapshotVersion,
		Initial:             Sorted(s.Initial),
		ToCheck:             s.ToCheck,
		Callers:             adjacencies(s.Callers),
		Callees:             adjacencies(s.Callees),
		Safe:                Sorted(s.Safe),
		NativeMethods:       Sorted(s.NativeMethods),
		StaticPuts:          Sorted(s.StaticPuts),
		InstantiableTypes:   slices.Sorted(maps.Keys(s.InstantiableTypes)),
		InstantiatedThrough: make(map[string][]analysis.Key, len(s.InstantiatedThrough)),
		CheckedReturnType:   Sorted(s.CheckedReturnType),
		Bench:               s.Bench,
	}
	for _, k := range slices.SortedFunc(maps.Keys(s.Known), analysis.Key.Compare) {
		variants := s.Known[k]
		for _, vk := range slices.Sorted(maps.Keys(variants)) {
			snap.Known = append(snap.Known, variants[vk])
		}
	}
	for typ, through := range s.InstantiatedThrough {
		snap.InstantiatedThrough[typ] = Sorted(through)
	}
	for _, k := range slices.SortedFunc(maps.Keys(s.ReturnTypes), analysis.Key.Compare) {
		snap.ReturnTypes = append(snap.ReturnTypes, returnType{Method: k, Type: s.ReturnTypes[k]})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&snap); err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return nil
}

// Load reads a checkpoint written by Save.
func Load(r io.Reader) (*State, error) {
	var snap snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, snap.Version)
	}

	s := New()
	addAll(s.Initial, snap.Initial)
	for _, ref := range snap.Known {
		s.TrackKnown(ref)
	}
	s.ToCheck = snap.ToCheck
	for _, a := range snap.Callers {
		s.Callers[a.Method] = make(Set, len(a.Edges))
		addAll(s.Callers[a.Method], a.Edges)
	}
	for _, a := range snap.Callees {
		s.Callees[a.Method] = make(Set, len(a.Edges))
		addAll(s.Callees[a.Method], a.Edges)
	}
	addAll(s.Safe, snap.Safe)
	addAll(s.NativeMethods, snap.NativeMethods)
	addAll(s.StaticPuts, snap.StaticPuts)
	for _, t := range snap.InstantiableTypes {
		s.InstantiableTypes[t] = true
	}
	for typ, through := range snap.InstantiatedThrough {
		s.InstantiatedThrough[typ] = make(Set, len(through))
		addAll(s.InstantiatedThrough[typ], through)
	}
	addAll(s.CheckedReturnType, snap.CheckedReturnType)
	for _, rt := range snap.ReturnTypes {
		s.ReturnTypes[rt.Method] = rt.Type
	}
	s.Bench = snap.Bench
	return s, nil
}

func adjacencies(m map[analysis.Key]Set) []adjacency {
	out := make([]adjacency, 0, len(m))
	for _, k := range slices.SortedFunc(maps.Keys(m), analysis.Key.Compare) {
		out = append(out, adjacency{Method: k, Edges: Sorted(m[k])})
	}
	return out
}

func addAll(set Set, keys []analysis.Key) {
	for _, k := range keys {
		set[k] = true
	}
}
