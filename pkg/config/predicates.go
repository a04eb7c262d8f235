package config

import (
	"maps"
	"slices"
	"strings"

	"github.com/715d/serianalyzer/internal/analysis"
)

// IsWhitelisted reports whether calls to ref are never followed: array
// clones, methods of ignored packages (judged by the observed target type
// when known) and whitelisted calls.
func (c *Config) IsWhitelisted(ref *analysis.MethodRef) bool {
	if strings.HasSuffix(ref.Type, "[]") && ref.Method == "clone" {
		return true
	}
	className := ref.Type
	if t := ref.TargetType(); t.IsKnown() {
		className = t.ClassName()
	}
	if c.IsWhitelistedClass(className) {
		return true
	}
	return c.Rules.calls[ruleKey(ref)]
}

// IsWhitelistedClass reports whether the class belongs to an ignored package.
func (c *Config) IsWhitelistedClass(className string) bool {
	return hasPrefix(className, c.Rules.ignoredPkgs)
}

// IsUntaintReturn reports whether values returned by ref are never tainted.
func (c *Config) IsUntaintReturn(ref *analysis.MethodRef) bool {
	return c.Rules.untaintReturn[ruleKey(ref)]
}

// IsNativeWhitelisted reports whether the native method ref is harmless.
func (c *Config) IsNativeWhitelisted(ref *analysis.MethodRef) bool {
	return c.Rules.native[ruleKey(ref)]
}

// NativeWhitelist returns the whitelisted native methods in key order.
func (c *Config) NativeWhitelist() []analysis.Key {
	return slices.SortedFunc(maps.Keys(c.Rules.native), analysis.Key.Compare)
}

// IsStaticPutWhitelisted reports whether static field writes made by the
// method ref are harmless.
func (c *Config) IsStaticPutWhitelisted(ref *analysis.MethodRef) bool {
	return c.Rules.staticPuts[ruleKey(ref)]
}

// IsConsiderInstantiable reports whether the type is treated as
// instantiable without a grounded construction path.
func (c *Config) IsConsiderInstantiable(typeName string) bool {
	return hasPrefix(typeName, c.Rules.instantiable)
}

// FixedType returns the type calls on ref are dispatched to without
// enumerating implementors. Stream reads always go to ObjectInputStream.
func (c *Config) FixedType(ref *analysis.MethodRef) (string, bool) {
	if !c.UseHeuristics {
		return "", false
	}
	switch ref.Type {
	case "java.io.ObjectInput":
		return "java.io.ObjectInputStream", true
	case "java.io.ObjectInputStream":
		return ref.Type, true
	}
	return "", false
}

// RestrictToSerializable reports whether interface calls on ref only
// dispatch to serializable implementors.
func (c *Config) RestrictToSerializable(ref *analysis.MethodRef) bool {
	if !c.UseHeuristics {
		return false
	}
	return ref.Type == "java.lang.Runnable" || ref.Type == "java.util.Enumeration"
}

// IsExtraCheckMethod reports whether a method of a serializable class is an
// entry point under the configured initial set.
func (c *Config) IsExtraCheckMethod(k analysis.Key) bool {
	switch c.InitialSet {
	case InitialGetters:
		return strings.HasPrefix(k.Method, "get") && strings.HasPrefix(k.Desc, "()")
	case InitialZeroArg:
		return k.Method != "<init>" && k.Method != "<clinit>" && strings.HasPrefix(k.Desc, "()")
	case InitialDefaultConst:
		return k.Method == "<init>" && strings.HasPrefix(k.Desc, "()")
	case InitialStringConst:
		return k.Method == "<init>" && strings.HasPrefix(k.Desc, "(Ljava/lang/String;)")
	}
	return false
}
