package backtrace

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/serianalyzer/internal/analysis"
	"github.com/715d/serianalyzer/internal/hierarchy"
	"github.com/715d/serianalyzer/internal/index"
	"github.com/715d/serianalyzer/internal/state"
	"github.com/715d/serianalyzer/pkg/classfile"
	"github.com/715d/serianalyzer/pkg/config"
)

func key(typ, name string) analysis.Key {
	return analysis.Key{Type: typ, Method: name, Desc: "()V"}
}

var (
	entry  = key("app.G", "readObject")
	run    = key("app.A", "run")
	put    = key("app.A", "put")
	fire   = key("app.N", "fire")
	middle = key("app.X", "m")
	other  = key("app.Y", "readObject")
)

func testResolver(cfg *config.Config) *hierarchy.Resolver {
	ix := index.New()
	ix.Add(&classfile.Class{Name: "java/lang/Object", Access: classfile.AccPublic})
	ix.Add(&classfile.Class{Name: "java/io/Serializable", Super: "java/lang/Object", Access: classfile.AccInterface | classfile.AccAbstract})
	for _, name := range []string{"app/G", "app/A"} {
		ix.Add(&classfile.Class{Name: name, Super: "java/lang/Object", Access: classfile.AccPublic, Interfaces: []string{"java/io/Serializable"}})
	}
	ix.Add(&classfile.Class{Name: "app/N", Super: "java/lang/Object", Access: classfile.AccPublic})
	return hierarchy.New(ix, cfg)
}

// graph builds a state from caller -> callee edges.
func graph(initial []analysis.Key, edges ...[2]analysis.Key) *state.State {
	st := state.New()
	for _, k := range initial {
		st.Initial[k] = true
		st.TraceCalls(k)
	}
	for _, e := range edges {
		st.TraceCalls(e[1], e[0])
	}
	return st
}

func TestFindings(t *testing.T) {
	cfg := config.Default()
	st := graph([]analysis.Key{entry},
		[2]analysis.Key{entry, run},
		[2]analysis.Key{run, fire},
		[2]analysis.Key{entry, put},
	)
	st.NativeMethods[fire] = true
	st.StaticPuts[put] = true
	// No callers left.
	st.NativeMethods[key("app.N", "orphan")] = true

	r := New(st, testResolver(cfg), cfg)
	findings := r.Findings()
	require.Len(t, findings, 2)

	native := findings[0]
	require.Equal(t, KindNative, native.Kind)
	require.Equal(t, "Potentially unsafe native call app.N->fire [()V]", native.Summary())
	require.Len(t, native.Paths, 1)
	path := native.Paths[0]
	require.Len(t, path, 3)
	require.Equal(t, []analysis.Key{fire, run, entry}, []analysis.Key{path[0].Key, path[1].Key, path[2].Key})
	require.False(t, path[0].Serializable)
	require.True(t, path[1].Serializable)
	require.True(t, path[2].Serializable)
	require.True(t, strings.HasPrefix(path[2].Method, "app.G->readObject [()V] "))

	require.Equal(t, KindStaticPut, findings[1].Kind)
	require.Equal(t, "Potentially unsafe static put in app.A->put [()V]", findings[1].Summary())
	require.Empty(t, r.UsedInstantiable())
}

func TestWhitelistedSink(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Rules.Read(strings.NewReader("C app.N->fire [()V]\n")))
	st := graph([]analysis.Key{entry}, [2]analysis.Key{entry, fire})
	st.NativeMethods[fire] = true

	require.Empty(t, New(st, testResolver(cfg), cfg).Findings())
}

func TestPathLimit(t *testing.T) {
	cfg := config.Default()
	second := key("app.A", "readObject")
	st := graph([]analysis.Key{entry, second},
		[2]analysis.Key{entry, fire},
		[2]analysis.Key{second, fire},
	)
	r := New(st, testResolver(cfg), cfg)

	require.Len(t, r.Paths(fire, 1), 1)
	paths := r.Paths(fire, 5)
	require.Len(t, paths, 2)
	require.Equal(t, second, paths[0][1].Key)
	require.Equal(t, entry, paths[1][1].Key)
}

func TestTaintedFirstParamIsNotAnEnd(t *testing.T) {
	cfg := config.Default()
	invoke := analysis.Key{
		Type:   "app.G",
		Method: "invoke",
		Desc:   "(Ljava/lang/Object;Ljava/lang/reflect/Method;[Ljava/lang/Object;)Ljava/lang/Object;",
	}
	st := graph([]analysis.Key{invoke}, [2]analysis.Key{invoke, fire})
	ref := analysis.NewMethodRef(invoke)
	ref.TaintParam(0)
	st.TrackKnown(ref)
	st.NativeMethods[fire] = true

	require.Empty(t, New(st, testResolver(cfg), cfg).Findings())
}

func TestPathHeuristic(t *testing.T) {
	tests := []struct {
		name         string
		heuristics   bool
		instantiable bool
		wantFound    bool
		wantFiltered int
	}{
		{name: "non instantiable intermediate", heuristics: true, wantFiltered: 1},
		{name: "instantiable intermediate", heuristics: true, instantiable: true, wantFound: true},
		{name: "heuristics off", wantFound: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.UseHeuristics = tt.heuristics
			st := graph([]analysis.Key{other},
				[2]analysis.Key{other, middle},
				[2]analysis.Key{middle, run},
				[2]analysis.Key{run, fire},
			)
			st.NativeMethods[fire] = true
			if tt.instantiable {
				st.TrackInstantiable("app.X", other)
			}

			r := New(st, testResolver(cfg), cfg)
			findings := r.Findings()
			require.Equal(t, tt.wantFound, len(findings) == 1)
			require.Equal(t, tt.wantFiltered, st.Bench.HeuristicFilter)
			if tt.instantiable {
				require.True(t, findings[0].Paths[0][2].Instantiable)
				require.Equal(t, []string{"app.X"}, r.UsedInstantiable())
			}
		})
	}
}

func TestInstantiations(t *testing.T) {
	cfg := config.Default()
	st := graph([]analysis.Key{entry, other}, [2]analysis.Key{entry, run})
	st.TrackInstantiable("app.X", other)
	st.TrackInstantiable("app.Z", run)
	// Serializable sites need callers.
	st.TrackInstantiable("app.Z", entry)

	got := New(st, testResolver(cfg), cfg).Instantiations([]string{"app.X", "app.Z", "app.Missing"})
	require.Len(t, got, 3)

	require.True(t, got[0].AllRecursive)
	require.Len(t, got[0].Sites, 1)
	require.False(t, got[0].Sites[0].Serializable)
	require.Len(t, got[0].Sites[0].Path, 1)

	require.False(t, got[1].AllRecursive)
	require.Len(t, got[1].Sites, 1)
	require.True(t, got[1].Sites[0].Serializable)
	require.Equal(t, []analysis.Key{run, entry}, []analysis.Key{got[1].Sites[0].Path[0].Key, got[1].Sites[0].Path[1].Key})

	require.True(t, got[2].AllRecursive)
	require.Empty(t, got[2].Sites)
}
