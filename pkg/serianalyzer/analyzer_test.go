package serianalyzer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/serianalyzer/internal/index"
	"github.com/715d/serianalyzer/pkg/classfile"
	"github.com/715d/serianalyzer/pkg/config"
)

const public = classfile.AccPublic

func gadgetClasses() *Classes {
	code := func(insns ...classfile.Instruction) *classfile.Code { return classfile.NewCode(2, insns) }
	ix := index.New()
	for _, c := range []*classfile.Class{
		{Name: "java/lang/Object", Access: public, Methods: []*classfile.Method{
			{Name: "<init>", Desc: "()V", Access: public, Code: code(classfile.Instruction{Op: classfile.OpReturn})},
		}},
		{Name: "java/io/Serializable", Super: "java/lang/Object", Access: classfile.AccInterface | classfile.AccAbstract | public},
		{Name: "app/Action", Super: "java/lang/Object", Access: classfile.AccInterface | classfile.AccAbstract | public, Methods: []*classfile.Method{
			{Name: "fire", Desc: "()V", Access: classfile.AccAbstract | public},
		}},
		{Name: "app/Exec", Super: "java/lang/Object", Access: public, Interfaces: []string{"app/Action", "java/io/Serializable"}, Methods: []*classfile.Method{
			{Name: "fire", Desc: "()V", Access: classfile.AccNative | public},
		}},
		{Name: "app/G", Super: "java/lang/Object", Access: public, Interfaces: []string{"java/io/Serializable"}, Methods: []*classfile.Method{
			{Name: "readObject", Desc: "(Ljava/io/ObjectInputStream;)V", Access: classfile.AccPrivate, Code: code(
				classfile.Instruction{Op: classfile.OpAload, Var: 0},
				classfile.Instruction{Op: classfile.OpGetfield, Owner: "app/G", Name: "action", Desc: "Lapp/Action;"},
				classfile.Instruction{Op: classfile.OpInvokeinterface, Owner: "app/Action", Name: "fire", Desc: "()V", Interface: true},
				classfile.Instruction{Op: classfile.OpReturn},
			)},
		}},
	} {
		ix.Add(c)
	}
	return &Classes{idx: ix}
}

func TestAnalyze(t *testing.T) {
	result, err := NewAnalyzer(AnalyzerOptions{}).Analyze(context.Background(), gadgetClasses())
	require.NoError(t, err)

	require.Len(t, result.Findings, 1)
	f := result.Findings[0]
	require.Equal(t, KindNative, f.Kind)
	require.Equal(t, "app.Exec->fire [()V]", f.Sink)
	require.NotEmpty(t, f.Paths)
	path := f.Paths[0]
	require.Equal(t, "app.G", path[len(path)-1].Key.Type)
	require.Equal(t, "readObject", path[len(path)-1].Key.Method)
	require.Positive(t, result.Stats.Iterations)
	require.Positive(t, result.Bench.TaintedCalls)
}

func TestAnalyzeWhitelisted(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Rules.ReadFile(writeRules(t, "N app.Exec->fire [()V]\n")))

	result, err := NewAnalyzer(AnalyzerOptions{Config: cfg}).Analyze(context.Background(), gadgetClasses())
	require.NoError(t, err)
	require.Empty(t, result.Findings)
}

func TestAnalyzeCheckpoint(t *testing.T) {
	ctx := context.Background()
	file := filepath.Join(t.TempDir(), "state.json")

	first, err := NewAnalyzer(AnalyzerOptions{Output: file}).Analyze(ctx, gadgetClasses())
	require.NoError(t, err)
	require.FileExists(t, file)

	resumed, err := NewAnalyzer(AnalyzerOptions{Input: file}).Analyze(ctx, gadgetClasses())
	require.NoError(t, err)
	require.Equal(t, first.Findings, resumed.Findings)
	require.Equal(t, first.Stats, resumed.Stats)

	_, err = NewAnalyzer(AnalyzerOptions{Input: filepath.Join(t.TempDir(), "missing.json")}).Analyze(ctx, gadgetClasses())
	require.ErrorContains(t, err, "restore checkpoint")
}

func TestAnalyzeNoClasses(t *testing.T) {
	_, err := NewAnalyzer(AnalyzerOptions{}).Analyze(context.Background(), &Classes{idx: index.New()})
	require.Error(t, err)
}

func writeRules(t *testing.T, rules string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "whitelist.conf")
	require.NoError(t, os.WriteFile(path, []byte(rules), 0o600))
	return path
}
