package filter

import (
	"maps"
	"slices"
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

func method(typ, name string) analysis.Key {
	return analysis.Key{Type: typ, Method: name, Desc: "()V"}
}

func static(typ, name string) analysis.Key {
	k := method(typ, name)
	k.Static = true
	return k
}

var (
	entry = method("app.G", "readObject")
	am    = method("app.A", "m")
	ax    = method("app.A", "x")
	bs    = method("app.B", "s")
	nn    = method("app.N", "n")
)

func testResolver(cfg *config.Config) *hierarchy.Resolver {
	ix := index.New()
	ix.Add(&classfile.Class{Name: "java/lang/Object", Access: classfile.AccPublic})
	ix.Add(&classfile.Class{Name: "java/io/Serializable", Super: "java/lang/Object", Access: classfile.AccInterface | classfile.AccAbstract})
	for _, name := range []string{"app/G", "app/A", "app/B", "app/N"} {
		ix.Add(&classfile.Class{Name: name, Super: "java/lang/Object", Access: classfile.AccPublic, Interfaces: []string{"java/io/Serializable"}})
	}
	return hierarchy.New(ix, cfg)
}

// graphState builds a state from caller -> callee edges. Every callee is a
// known method.
func graphState(edges ...[2]analysis.Key) *state.State {
	st := state.New()
	st.Initial[entry] = true
	st.TraceCalls(entry)
	for _, e := range edges {
		st.TraceCalls(e[1], e[0])
		st.TrackKnown(analysis.NewMethodRef(e[1]))
	}
	return st
}

// run filters st and checks that a second run is a no-op.
func run(t *testing.T, st *state.State, cfg *config.Config) Stats {
	t.Helper()
	res := testResolver(cfg)
	stats := Run(st, res, cfg)
	again := Run(st, res, cfg)
	require.Zero(t, again.Removed(), "second run must not remove anything")
	require.Zero(t, again.SafeRemoved)
	require.Equal(t, 1, again.Iterations)
	return stats
}

func TestSafeCascade(t *testing.T) {
	st := graphState(
		[2]analysis.Key{entry, am},
		[2]analysis.Key{am, bs},
		[2]analysis.Key{entry, nn},
		[2]analysis.Key{entry, ax},
		[2]analysis.Key{ax, bs},
		[2]analysis.Key{ax, nn},
	)
	st.Safe[bs] = true
	st.Safe[nn] = true
	st.NativeMethods[nn] = true

	stats := run(t, st, config.Default())

	require.Equal(t, 2, stats.SafeRemoved)
	require.NotContains(t, st.Known, bs)
	require.NotContains(t, st.Known, am, "only callee was safe")
	require.Contains(t, st.Known, ax, "still calls a native")
	require.Contains(t, st.Known, nn)
	require.True(t, st.NativeMethods[nn])
	require.True(t, st.Initial[entry])
}

func TestWhitelistedNative(t *testing.T) {
	tests := []struct {
		name          string
		rules         string
		wantNative    bool
		wantWhitelist int
		wantNoCallers int
	}{
		{name: "reachable native survives", wantNative: true},
		{name: "native whitelist", rules: "N app.N->n [()V]\n"},
		{name: "only path whitelisted", rules: "C app.A->x [()V]\n", wantWhitelist: 1, wantNoCallers: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			require.NoError(t, cfg.Rules.Read(strings.NewReader(tt.rules)))
			st := graphState(
				[2]analysis.Key{entry, ax},
				[2]analysis.Key{ax, nn},
			)
			st.NativeMethods[nn] = true

			stats := run(t, st, cfg)
			require.Equal(t, tt.wantNative, st.NativeMethods[nn])
			require.Equal(t, tt.wantWhitelist, stats.Whitelisted)
			require.Equal(t, tt.wantNoCallers, stats.NoCallers)
		})
	}
}

func TestRecursiveInstantiation(t *testing.T) {
	recInit := method("app.Recursive", "<init>")
	recCopy := method("app.Recursive", "copy")
	factory := static("app.Util", "make")
	other := static("app.Util", "other")

	st := graphState(
		[2]analysis.Key{entry, recCopy},
		[2]analysis.Key{recCopy, recInit},
		[2]analysis.Key{entry, other},
		[2]analysis.Key{other, factory},
	)
	for typ, site := range map[string]analysis.Key{
		"app.Recursive": recInit,
		"app.Helper":    entry,
		"app.Made":      factory,
	} {
		st.TrackInstantiable(typ, site)
	}
	st.InstantiableTypes["app.Lonely"] = true

	stats := run(t, st, config.Default())

	require.Equal(t, []string{"app.Helper", "app.Made"}, slices.Sorted(maps.Keys(st.InstantiableTypes)))
	require.Equal(t, 2, stats.UninstantiableTypes)
	require.NotContains(t, st.Callers, recCopy, "methods of uninstantiable types are dropped")
	require.Contains(t, st.Callers, factory, "static methods are kept")
}

func TestWithoutHeuristics(t *testing.T) {
	cfg := config.Default()
	cfg.UseHeuristics = false
	recCopy := method("app.Recursive", "copy")
	st := graphState([2]analysis.Key{entry, recCopy})

	stats := run(t, st, cfg)
	require.Zero(t, stats.Uninstantiable)
	require.Contains(t, st.Callers, recCopy)
	require.Contains(t, st.Known, recCopy)
}

func TestGroundingCycles(t *testing.T) {
	cfg := config.Default()
	xm := method("app.X", "m")
	ym := method("app.Y", "m")
	st := graphState(
		[2]analysis.Key{xm, ym},
		[2]analysis.Key{ym, xm},
	)
	st.TrackInstantiable("app.X", ym)
	st.TrackInstantiable("app.Y", xm)
	st.TrackInstantiable("app.Z", entry)

	gr := NewGrounding(st, testResolver(cfg), cfg)
	require.True(t, gr.AllRecursive("app.X"))
	require.True(t, gr.AllRecursive("app.Y"))
	require.False(t, gr.AllRecursive("app.Z"))
	require.Equal(t, [][]string{{"app.X", "app.Y"}}, gr.Cycles([]string{"app.X"}))
	require.Empty(t, gr.Cycles([]string{"app.Z"}))

	cfg.FilterNonReachableInitializers = false
	require.False(t, gr.AllRecursive("app.Unknown"))
}
