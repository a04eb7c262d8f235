package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	yaml "gopkg.in/yaml.v3"

	"github.com/stretchr/testify/require"

	"github.com/715d/serianalyzer/internal/index"
)

// ClassesFile is the layout of classes.yaml.
type ClassesFile struct {
	Classes []ClassDef `yaml:"classes"`
}

// bootClasses are added to every scenario unless it defines them.
var bootClasses = []ClassDef{
	{Name: "java/lang/Object", Methods: []MethodDef{{Name: "<init>", Desc: "()V", Code: "return"}}},
	{Name: "java/io/Serializable", Access: []string{"public", "interface"}},
	{Name: "java/io/Externalizable", Access: []string{"public", "interface"}, Interfaces: []string{"java/io/Serializable"}},
}

// LoadTestCase loads a test case from a directory with a specified testdata root.
func LoadTestCase(t *testing.T, dir, root string) *TestCase {
	t.Helper()

	tc := &TestCase{}
	data, err := os.ReadFile(filepath.Join(dir, "expected.yaml"))
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, tc))

	tc.Dir = filepath.Base(dir)
	if root != "" {
		if rel, err := filepath.Rel(root, dir); err == nil {
			tc.Dir = rel
		}
	}
	return tc
}

// LoadClasses assembles classes.yaml in dir into an index.
func LoadClasses(dir string) (*index.Index, error) {
	path := filepath.Join(dir, "classes.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cf ClassesFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return buildIndex(append(cf.Classes, bootClasses...))
}

// buildIndex adds defs in order; the first definition of a name wins.
func buildIndex(defs []ClassDef) (*index.Index, error) {
	ix := index.New()
	for i := range defs {
		c, err := defs[i].Build()
		if err != nil {
			return nil, err
		}
		ix.Add(c)
	}
	return ix, nil
}
