// Package harness runs analyzer scenarios described in YAML against
// hand-assembled class files.
package harness

import (
	"fmt"
	"strings"

	"github.com/715d/serianalyzer/pkg/classfile"
)

// ClassDef describes a class in classes.yaml.
type ClassDef struct {
	// Name is the internal name, e.g. app/Gadget.
	Name string `yaml:"name"`

	// Super defaults to java/lang/Object.
	Super string `yaml:"super,omitempty"`

	// Access lists modifiers. Classes are public when empty.
	Access []string `yaml:"access,omitempty"`

	Interfaces []string    `yaml:"interfaces,omitempty"`
	Methods    []MethodDef `yaml:"methods,omitempty"`
}

// MethodDef describes a method. Code is assembled with Assemble; methods
// without code are native or abstract.
type MethodDef struct {
	Name   string   `yaml:"name"`
	Desc   string   `yaml:"desc"`
	Access []string `yaml:"access,omitempty"`
	Code   string   `yaml:"code,omitempty"`
}

var accessFlags = map[string]classfile.AccessFlags{
	"public":     classfile.AccPublic,
	"private":    classfile.AccPrivate,
	"protected":  classfile.AccProtected,
	"static":     classfile.AccStatic,
	"final":      classfile.AccFinal,
	"native":     classfile.AccNative,
	"interface":  classfile.AccInterface | classfile.AccAbstract,
	"abstract":   classfile.AccAbstract,
	"synthetic":  classfile.AccSynthetic,
	"annotation": classfile.AccAnnotation,
	"enum":       classfile.AccEnum,
}

func parseAccess(names []string) (classfile.AccessFlags, error) {
	if len(names) == 0 {
		return classfile.AccPublic, nil
	}
	var acc classfile.AccessFlags
	for _, n := range names {
		f, ok := accessFlags[strings.ToLower(n)]
		if !ok {
			return 0, fmt.Errorf("unknown access flag %q", n)
		}
		acc |= f
	}
	return acc, nil
}

// Build converts the definition into a class file model.
func (d *ClassDef) Build() (*classfile.Class, error) {
	acc, err := parseAccess(d.Access)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.Name, err)
	}
	c := &classfile.Class{
		Name:       d.Name,
		Super:      d.Super,
		Interfaces: d.Interfaces,
		Access:     acc,
	}
	if c.Super == "" && c.Name != "java/lang/Object" {
		c.Super = "java/lang/Object"
	}
	for _, md := range d.Methods {
		m, err := md.build()
		if err != nil {
			return nil, fmt.Errorf("%s.%s%s: %w", d.Name, md.Name, md.Desc, err)
		}
		c.Methods = append(c.Methods, m)
	}
	return c, nil
}

func (md *MethodDef) build() (*classfile.Method, error) {
	acc, err := parseAccess(md.Access)
	if err != nil {
		return nil, err
	}
	m := &classfile.Method{Name: md.Name, Desc: md.Desc, Access: acc}
	if strings.TrimSpace(md.Code) == "" {
		if !acc.Has(classfile.AccNative) && !acc.Has(classfile.AccAbstract) {
			return nil, fmt.Errorf("method needs code unless native or abstract")
		}
		return m, nil
	}
	insns, err := Assemble(md.Code)
	if err != nil {
		return nil, err
	}
	maxLocals := 0
	for _, in := range insns {
		maxLocals = max(maxLocals, in.Var+2)
	}
	m.Code = classfile.NewCode(maxLocals, insns)
	return m, nil
}

// Configuration is one analyzer run over a scenario's classes.
type Configuration struct {
	// Name is a descriptive name for this configuration.
	Name string `yaml:"name"`

	// Heuristics defaults to true.
	Heuristics *bool `yaml:"heuristics,omitempty"`

	// Strict fails on type conflicts instead of ignoring missing types.
	Strict bool `yaml:"strict,omitempty"`

	// Rules holds whitelist lines in the rule file format.
	Rules string `yaml:"rules,omitempty"`

	// InitialSet selects extra entry points.
	InitialSet string `yaml:"initial_set,omitempty"`

	// StaticPuts disables static put tracking when false.
	StaticPuts *bool `yaml:"static_puts,omitempty"`

	ExpectedFindings []ExpectedFinding `yaml:"expected_findings"`

	// ExpectedSafe lists methods the call graph builder must mark safe.
	ExpectedSafe []string `yaml:"expected_safe,omitempty"`

	// ExpectedInstantiable and ExpectedUninstantiable check type names
	// after filtering.
	ExpectedInstantiable   []string `yaml:"expected_instantiable,omitempty"`
	ExpectedUninstantiable []string `yaml:"expected_uninstantiable,omitempty"`

	// ExpectedCallers lists call edges that must survive filtering.
	ExpectedCallers []ExpectedCall `yaml:"expected_callers,omitempty"`

	// ExpectedUnknown lists methods the builder must never reach.
	ExpectedUnknown []string `yaml:"expected_unknown,omitempty"`

	// ExpectedErrors lists substrings of an expected analysis error.
	ExpectedErrors []string `yaml:"expected_errors,omitempty"`
}

// ExpectedFinding is a sink expected in the report.
type ExpectedFinding struct {
	Kind string `yaml:"kind"`
	Sink string `yaml:"sink"`

	// Entry, when set, must end one of the finding's paths.
	Entry string `yaml:"entry,omitempty"`
}

// ExpectedCall is a caller edge of a method.
type ExpectedCall struct {
	Method string `yaml:"method"`
	Caller string `yaml:"caller"`
}
