// Package hierarchy resolves symbolic method references to implementing
// classes and joins types along the class hierarchy.
package hierarchy

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/715d/serianalyzer/internal/analysis"
	"github.com/715d/serianalyzer/internal/index"
	"github.com/715d/serianalyzer/internal/state"
	"github.com/715d/serianalyzer/pkg/config"
	"github.com/715d/serianalyzer/pkg/jtype"
)

var (
	// ErrIncompatibleTypes is returned when two types have no subtype relation.
	ErrIncompatibleTypes = errors.New("incompatible types")
	// ErrTypeNotFound is returned when a type needed for a join is not indexed.
	ErrTypeNotFound = errors.New("type not found")
)

var serializableMarkers = map[string]bool{
	"java.io.Serializable":   true,
	"java.io.Externalizable": true,
}

// Resolver answers dispatch and subtyping questions over an index.
type Resolver struct {
	idx *index.Index
	cfg *config.Config

	serializable *xsync.Map[string, bool]
}

func New(idx *index.Index, cfg *config.Config) *Resolver {
	return &Resolver{
		idx:          idx,
		cfg:          cfg,
		serializable: xsync.NewMap[string, bool](),
	}
}

// Index returns the class index the resolver works on.
func (r *Resolver) Index() *index.Index {
	return r.idx
}

// IsSerializable reports whether the class name transitively implements
// java.io.Serializable or java.io.Externalizable. Unknown classes are not
// serializable.
func (r *Resolver) IsSerializable(name string) bool {
	if serializableMarkers[name] {
		return true
	}
	if v, ok := r.serializable.Load(name); ok {
		return v
	}
	v := r.isSerializable(name)
	r.serializable.Store(name, v)
	return v
}

func (r *Resolver) isSerializable(name string) bool {
	seen := map[string]bool{name: true}
	stack := []string{name}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		c := r.idx.Class(n)
		if c == nil {
			slog.Debug("failed to find supertype", "type", n)
			continue
		}
		for _, i := range c.Interfaces {
			if serializableMarkers[i] {
				return true
			}
			if !seen[i] {
				seen[i] = true
				stack = append(stack, i)
			}
		}
		if c.Super != "" && !seen[c.Super] {
			seen[c.Super] = true
			stack = append(stack, c.Super)
		}
	}
	return false
}

// ImplementsMethod reports whether c declares a non-abstract method with
// ref's name and descriptor.
func ImplementsMethod(ref *analysis.MethodRef, c *index.ClassInfo) bool {
	m := c.Method(ref.Method, ref.Desc)
	return m != nil && !m.IsAbstract()
}

// FindImplementors returns the classes a call to ref may dispatch to.
//
// With fixedType the superclass chain of the declared type is searched for
// the first implementation, then the interfaces along that chain for a
// default method. Otherwise interface calls enumerate every known
// implementor, optionally only serializable ones, and class calls return the
// declared type and every overriding subclass. bench may be nil.
func (r *Resolver) FindImplementors(ref *analysis.MethodRef, fixedType, serializableOnly bool, bench *state.Bench) []*index.ClassInfo {
	switch {
	case fixedType:
		return r.findFixed(ref)
	case ref.Interface:
		var impls []*index.ClassInfo
		for _, c := range r.idx.Implementors(ref.Type) {
			if !ImplementsMethod(ref, c) {
				continue
			}
			if serializableOnly && !r.IsSerializable(c.Name) {
				continue
			}
			impls = append(impls, c)
		}
		if !serializableOnly && bench != nil {
			bench.UnboundedInterfaceCalls++
		}
		return impls
	default:
		root := r.idx.Class(ref.Type)
		if root == nil {
			r.notFound(ref.Type)
			return nil
		}
		var impls []*index.ClassInfo
		if ImplementsMethod(ref, root) {
			impls = append(impls, root)
		}
		for _, c := range r.idx.Subclasses(ref.Type) {
			if ImplementsMethod(ref, c) {
				impls = append(impls, c)
			}
		}
		return impls
	}
}

func (r *Resolver) findFixed(ref *analysis.MethodRef) []*index.ClassInfo {
	root := r.idx.Class(ref.Type)
	if root == nil {
		r.notFound(ref.Type)
		return nil
	}
	for cur := root; cur != nil; cur = r.idx.Class(cur.Super) {
		if ImplementsMethod(ref, cur) {
			return []*index.ClassInfo{cur}
		}
	}
	for cur := root; cur != nil; cur = r.idx.Class(cur.Super) {
		defaults := r.defaultMethods(ref, cur)
		if len(defaults) == 0 {
			continue
		}
		if len(defaults) > 1 {
			names := make([]string, 0, len(defaults))
			for _, d := range defaults {
				names = append(names, d.Name)
			}
			slog.Warn("ambiguous default method", "method", ref.Key, "candidates", names)
		}
		return defaults[:1]
	}
	return nil
}

// defaultMethods returns the interfaces of c, searched depth first in
// declaration order, that provide a default implementation of ref. An
// interface that provides one is not searched further.
func (r *Resolver) defaultMethods(ref *analysis.MethodRef, c *index.ClassInfo) []*index.ClassInfo {
	var found []*index.ClassInfo
	seen := make(map[string]bool)
	stack := slices.Clone(c.Interfaces)
	slices.Reverse(stack)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		i := r.idx.Class(n)
		if i == nil {
			slog.Debug("failed to find interface", "type", n)
			continue
		}
		if ImplementsMethod(ref, i) {
			found = append(found, i)
			continue
		}
		for k := len(i.Interfaces) - 1; k >= 0; k-- {
			stack = append(stack, i.Interfaces[k])
		}
	}
	return found
}

func (r *Resolver) notFound(name string) {
	if r.cfg.IgnoreNotFound {
		slog.Debug("class not found", "type", name)
		return
	}
	slog.Warn("class not found", "type", name)
}

// MoreConcreteType joins a runtime type a with a declared type b and returns
// the more specific one. When no subtype relation exists the result is
// ErrIncompatibleTypes, or b without an error if missing types are ignored.
func (r *Resolver) MoreConcreteType(a, b jtype.Type) (jtype.Type, error) {
	t, err := r.moreConcreteType(a, b)
	if err != nil {
		if r.cfg.IgnoreNotFound {
			slog.Debug("falling back to declared type", "type", b, "error", err)
			return b, nil
		}
		return b, err
	}
	return t, nil
}

func (r *Resolver) moreConcreteType(a, b jtype.Type) (jtype.Type, error) {
	prefix := ""
	for {
		switch {
		case a == jtype.Void || !a.IsKnown():
			return jtype.Type(prefix) + b, nil
		case b == jtype.Void || !b.IsKnown():
			return jtype.Type(prefix) + a, nil
		}
		if !a.IsReference() && !b.IsReference() {
			return jtype.Type(prefix) + b, nil
		}
		if a.IsReference() != b.IsReference() {
			return "", fmt.Errorf("%w: object/non-object %s and %s", ErrIncompatibleTypes, a, b)
		}
		switch {
		case a == jtype.Object || a == jtype.Serializable:
			return jtype.Type(prefix) + b, nil
		case b == jtype.Object || b == jtype.Serializable, a == b:
			return jtype.Type(prefix) + a, nil
		}
		if a.IsArray() && b.IsArray() {
			prefix += "["
			a, b = a.Elem(), b.Elem()
			continue
		}
		if a.IsArray() || b.IsArray() {
			return "", fmt.Errorf("%w: array/non-array %s and %s", ErrIncompatibleTypes, a, b)
		}
		t, err := r.joinClasses(a, b)
		if err != nil {
			return "", err
		}
		return jtype.Type(prefix) + t, nil
	}
}

func (r *Resolver) joinClasses(a, b jtype.Type) (jtype.Type, error) {
	aInfo := r.idx.Class(a.ClassName())
	if aInfo == nil {
		return "", fmt.Errorf("%w: %s", ErrTypeNotFound, a.ClassName())
	}
	bInfo := r.idx.Class(b.ClassName())
	if bInfo == nil {
		return "", fmt.Errorf("%w: %s", ErrTypeNotFound, b.ClassName())
	}
	if aInfo == bInfo {
		return a, nil
	}

	switch aIface, bIface := aInfo.IsInterface(), bInfo.IsInterface(); {
	case aIface && bIface:
		if r.extendsInterface(aInfo, bInfo.Name) {
			return a, nil
		}
		if r.extendsInterface(bInfo, aInfo.Name) {
			return b, nil
		}
	case aIface:
		if r.extendsInterface(bInfo, aInfo.Name) {
			return b, nil
		}
	case bIface:
		if r.extendsInterface(aInfo, bInfo.Name) {
			return a, nil
		}
	}

	ab, err := r.extendsClass(aInfo, bInfo.Name)
	if err != nil {
		return "", err
	}
	if ab {
		return a, nil
	}
	ba, err := r.extendsClass(bInfo, aInfo.Name)
	if err != nil {
		return "", err
	}
	if ba {
		return b, nil
	}
	return "", fmt.Errorf("%w: non-assignable %s and %s", ErrIncompatibleTypes, a, b)
}

// extendsClass reports whether base is c or one of its superclasses.
func (r *Resolver) extendsClass(c *index.ClassInfo, base string) (bool, error) {
	for cur := c; ; {
		if cur.Name == base {
			return true, nil
		}
		if cur.Super == "" {
			return false, nil
		}
		next := r.idx.Class(cur.Super)
		if next == nil {
			return false, fmt.Errorf("%w: super class %s", ErrTypeNotFound, cur.Super)
		}
		cur = next
	}
}

// extendsInterface reports whether c is, implements or extends the
// interface iface through its interfaces or superclasses.
func (r *Resolver) extendsInterface(c *index.ClassInfo, iface string) bool {
	seen := map[string]bool{c.Name: true}
	stack := []*index.ClassInfo{c}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur.Name == iface {
			return true
		}
		next := slices.Clone(cur.Interfaces)
		if cur.Super != "" {
			next = append(next, cur.Super)
		}
		for _, n := range next {
			if n == iface {
				return true
			}
			if seen[n] {
				continue
			}
			seen[n] = true
			info := r.idx.Class(n)
			if info == nil {
				slog.Debug("failed to find supertype", "type", n)
				continue
			}
			stack = append(stack, info)
		}
	}
	return false
}

// CheckReferenceTyping validates the observed target and argument types of
// ref against its declaration.
func (r *Resolver) CheckReferenceTyping(ref *analysis.MethodRef) error {
	if !ref.Static {
		if t := ref.TargetType(); t.IsKnown() {
			if _, err := r.MoreConcreteType(t, jtype.FromClassName(ref.Type)); err != nil {
				return fmt.Errorf("target of %s: %w", ref.Key, err)
			}
		}
	}
	declared := jtype.ArgumentTypes(ref.Desc)
	observed := ref.ArgTypes()
	if len(observed) != len(declared) {
		return nil
	}
	for i := range declared {
		if _, err := r.MoreConcreteType(observed[i], declared[i]); err != nil {
			return fmt.Errorf("argument %d of %s: %w", i, ref.Key, err)
		}
	}
	return nil
}
