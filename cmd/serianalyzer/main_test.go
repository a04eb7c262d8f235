package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/serianalyzer/internal/analysis"
	"github.com/715d/serianalyzer/pkg/config"
	"github.com/715d/serianalyzer/pkg/serianalyzer"
)

func TestBuildConfig(t *testing.T) {
	dir := t.TempDir()
	rules := filepath.Join(dir, "whitelist.conf")
	require.NoError(t, os.WriteFile(rules, []byte("C app.A->run [()V]\n"), 0o600))
	settings := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(settings, []byte("maxDisplayDumps: 2\ncheckStaticPuts: false\n"), 0o600))

	ac, err := buildConfig(&Config{
		Whitelists:        []string{rules},
		Settings:          settings,
		NoHeuristics:      true,
		DumpInstantiation: true,
		Strict:            true,
		InitialSet:        "getters",
	})
	require.NoError(t, err)
	require.False(t, ac.UseHeuristics)
	require.True(t, ac.DumpInstantiation)
	require.False(t, ac.IgnoreNotFound)
	require.False(t, ac.CheckStaticPuts)
	require.Equal(t, 2, ac.MaxDisplayDumps)
	require.Equal(t, config.InitialGetters, ac.InitialSet)
	require.True(t, ac.IsWhitelisted(analysis.NewMethodRef(analysis.Key{Type: "app.A", Method: "run", Desc: "()V"})))

	ac, err = buildConfig(&Config{MaxDumps: 7})
	require.NoError(t, err)
	require.True(t, ac.UseHeuristics)
	require.Equal(t, 7, ac.MaxDisplayDumps)

	_, err = buildConfig(&Config{InitialSet: "everything"})
	require.Error(t, err)
	_, err = buildConfig(&Config{Whitelists: []string{filepath.Join(dir, "missing.conf")}})
	require.Error(t, err)
}

func TestFormatTextOutput(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	initStyles(os.Stdout)

	result := &serianalyzer.Result{
		Findings: []serianalyzer.Finding{{
			Kind: serianalyzer.KindNative,
			Sink: "app.Exec->fire [()V]",
			Paths: []serianalyzer.Path{{
				{Method: "app.Exec->fire [()V] T[]", Serializable: true},
				{Method: "app.Helper->work [()V] T[]", Instantiable: true},
				{Method: "app.G->readObject [(Ljava/io/ObjectInputStream;)V] T[F]", Serializable: true},
			}},
		}},
		Instantiations: []serianalyzer.Instantiation{{
			Type:  "app.Helper",
			Sites: []serianalyzer.Site{{Method: "app.G->readObject [(Ljava/io/ObjectInputStream;)V] T[F]", Serializable: true}},
		}},
	}
	got := formatTextOutput(result)
	require.True(t, strings.HasPrefix(got, "app.Exec->fire [()V] T[] serializable\napp.Helper->work [()V] T[] instantiable\n"))
	require.Contains(t, got, "\n\nPotentially unsafe native call app.Exec->fire [()V]\n")
	require.Contains(t, got, "Used 1 non-serializable instantiable types:\n  app.Helper instantiable through:\n  -> app.G->readObject")
	require.Contains(t, got, "1 findings")
}
