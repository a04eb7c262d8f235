package harness

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/serianalyzer/internal/callgraph"
	"github.com/715d/serianalyzer/internal/filter"
	"github.com/715d/serianalyzer/internal/hierarchy"
	"github.com/715d/serianalyzer/internal/state"
	"github.com/715d/serianalyzer/pkg/classfile"
	"github.com/715d/serianalyzer/pkg/config"
)

func testdataDir(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "get current file path")
	return filepath.Join(filepath.Dir(filename), "..", "..", "testdata")
}

// TestAll runs all scenario tests.
func TestAll(t *testing.T) {
	testdataDir := testdataDir(t)

	testCases := discoverTestCases(t, testdataDir)
	require.NotEmpty(t, testCases, "no test cases found")

	if testing.Verbose() {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	for _, tc := range testCases {
		t.Run(tc.Dir, func(t *testing.T) {
			t.Parallel()

			result := NewHarness(testdataDir).Run(t, tc)
			if !result.Success {
				t.Errorf("Test failed: %s", result.Message)
			}
		})
	}
}

// TestFilterFixedPoint checks that filtering its own output removes nothing
// and that a checkpointed state filters the same as the live one.
func TestFilterFixedPoint(t *testing.T) {
	root := testdataDir(t)
	for _, tc := range discoverTestCases(t, root) {
		for _, heuristics := range []bool{true, false} {
			name := tc.Dir + "/heuristics"
			if !heuristics {
				name = tc.Dir + "/no-heuristics"
			}
			t.Run(name, func(t *testing.T) {
				idx, err := LoadClasses(filepath.Join(root, tc.Dir))
				require.NoError(t, err)
				cfg := config.Default()
				cfg.UseHeuristics = heuristics
				res := hierarchy.New(idx, cfg)

				st := state.New()
				require.NoError(t, callgraph.New(res, cfg, st).Run())
				var buf bytes.Buffer
				require.NoError(t, st.Save(&buf))

				first := filter.Run(st, res, cfg)
				second := filter.Run(st, res, cfg)
				require.Zero(t, second.Removed(), "second run removed methods")
				require.Zero(t, second.SafeRemoved)
				require.Equal(t, first.RemainingMethods, second.RemainingMethods)
				require.Equal(t, first.RemainingTypes, second.RemainingTypes)

				restored, err := state.Load(&buf)
				require.NoError(t, err)
				require.Equal(t, first, filter.Run(restored, res, cfg))
			})
		}
	}
}

func discoverTestCases(t *testing.T, root string) []*TestCase {
	t.Helper()

	entries, err := os.ReadDir(root)
	require.NoError(t, err)

	var testCases []*TestCase
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, "expected.yaml")); err == nil {
			testCases = append(testCases, LoadTestCase(t, dir, root))
		}
	}
	return testCases
}

func TestClassDefBuild(t *testing.T) {
	tests := []struct {
		name    string
		def     ClassDef
		wantErr string
	}{
		{
			name: "defaults",
			def: ClassDef{Name: "app/A", Methods: []MethodDef{
				{Name: "run", Desc: "()V", Code: "return"},
				{Name: "fire", Desc: "()V", Access: []string{"public", "native"}},
			}},
		},
		{
			name:    "missing code",
			def:     ClassDef{Name: "app/A", Methods: []MethodDef{{Name: "run", Desc: "()V"}}},
			wantErr: "needs code",
		},
		{
			name:    "bad access",
			def:     ClassDef{Name: "app/A", Access: []string{"sealed"}},
			wantErr: "unknown access flag",
		},
		{
			name:    "bad code",
			def:     ClassDef{Name: "app/A", Methods: []MethodDef{{Name: "run", Desc: "()V", Code: "frobnicate"}}},
			wantErr: "unknown instruction",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := tt.def.Build()
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "java/lang/Object", c.Super)
			require.True(t, c.Access.Has(classfile.AccPublic))
			require.Len(t, c.Methods, 2)
			require.NotNil(t, c.Methods[0].Code)
			require.True(t, c.Methods[1].IsNative())
			require.Nil(t, c.Methods[1].Code)
		})
	}
}
