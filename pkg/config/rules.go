package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/715d/serianalyzer/internal/analysis"
)

// ErrInvalidRule is returned for a method rule that cannot be parsed.
var ErrInvalidRule = errors.New("invalid rule")

// Rule line patterns.
var (
	// methodRulePattern matches "java.lang.Class->forName [(Ljava/lang/String;)Ljava/lang/Class;]",
	// with "::" instead of "->" for static methods.
	methodRulePattern = regexp.MustCompile(`^(\S+?)\s*(->|::)\s*(\S+)\s*\[([^\]]*)\]\s*$`)
)

// Default ignored packages: UI toolkits and script engine internals.
var defaultIgnoredPackages = []string{
	"java.awt.",
	"sun.awt.",
	"javax.swing.",
	"com.sun.java.swing.",
	"jdk.nashorn.internal.",
}

// Rules is the whitelist rule set.
//
// The line format selects the rule kind with its first character:
//
//	#  comment
//	N  native call whitelist          N java.lang.Object->hashCode [()I]
//	C  call whitelist                 C java.lang.System::getProperty [(Ljava/lang/String;)Ljava/lang/String;]
//	S  static put whitelist           S org.example.Registry::register [(Ljava/lang/Object;)V]
//	U  untainted return value         U java.lang.Object->getClass [()Ljava/lang/Class;]
//	P  ignored package prefix         P org.example.ui.
//	I  considered instantiable prefix I java.util.
type Rules struct {
	native        map[analysis.Key]bool
	calls         map[analysis.Key]bool
	staticPuts    map[analysis.Key]bool
	untaintReturn map[analysis.Key]bool
	ignoredPkgs   []string
	instantiable  []string
}

func NewRules() *Rules {
	return &Rules{
		native:        make(map[analysis.Key]bool),
		calls:         make(map[analysis.Key]bool),
		staticPuts:    make(map[analysis.Key]bool),
		untaintReturn: make(map[analysis.Key]bool),
		ignoredPkgs:   append([]string(nil), defaultIgnoredPackages...),
	}
}

// Read parses rules in the line format and adds them to the set.
func (r *Rules) Read(in io.Reader) error {
	sc := bufio.NewScanner(in)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || text[0] == '#' {
			continue
		}
		rest := strings.TrimSpace(text[1:])
		var err error
		switch text[0] {
		case 'N':
			err = addMethodRule(r.native, rest)
		case 'C':
			err = addMethodRule(r.calls, rest)
		case 'S':
			err = addMethodRule(r.staticPuts, rest)
		case 'U':
			err = addMethodRule(r.untaintReturn, rest)
		case 'P':
			r.ignoredPkgs = append(r.ignoredPkgs, rest)
		case 'I':
			r.instantiable = append(r.instantiable, rest)
		default:
			slog.Warn("unrecognized config line", "line", line, "text", text)
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return sc.Err()
}

// ReadFile reads the rules in the file at path.
func (r *Rules) ReadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := r.Read(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// ParseMethod parses "Class->method [desc]" or "Class::method [desc]".
func ParseMethod(s string) (analysis.Key, error) {
	m := methodRulePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return analysis.Key{}, fmt.Errorf("%w: %q", ErrInvalidRule, s)
	}
	return analysis.Key{Type: m[1], Static: m[2] == "::", Method: m[3], Desc: m[4]}, nil
}

func addMethodRule(set map[analysis.Key]bool, s string) error {
	k, err := ParseMethod(s)
	if err != nil {
		return err
	}
	set[k] = true
	return nil
}

// ruleKey strips the properties method rules do not match on.
func ruleKey(ref *analysis.MethodRef) analysis.Key {
	k := ref.Key
	k.Interface = false
	return k
}

func hasPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
