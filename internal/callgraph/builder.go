// Package callgraph builds the tainted call graph by simulating the methods
// reachable from deserialization entry points.
package callgraph

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/715d/serianalyzer/internal/analysis"
	"github.com/715d/serianalyzer/internal/hierarchy"
	"github.com/715d/serianalyzer/internal/index"
	"github.com/715d/serianalyzer/internal/state"
	"github.com/715d/serianalyzer/pkg/classfile"
	"github.com/715d/serianalyzer/pkg/config"
	"github.com/715d/serianalyzer/pkg/jtype"
)

// LevelTrace is below slog.LevelDebug and carries per-instruction detail.
const LevelTrace = slog.LevelDebug - 4

func trace(msg string, args ...any) {
	slog.Log(context.Background(), LevelTrace, msg, args...)
}

const progressInterval = 10 * time.Second

// Entry point descriptors.
const (
	descReadObject   = "(Ljava/io/ObjectInputStream;)V"
	descReadExternal = "(Ljava/io/ObjectInput;)V"
	descInvoke       = "(Ljava/lang/Object;Ljava/lang/reflect/Method;[Ljava/lang/Object;)Ljava/lang/Object;"
	descReadResolve  = "()Ljava/lang/Object;"
	descDeserialize  = "(Ljava/lang/invoke/SerializedLambda;)Ljava/lang/Object;"
)

// Builder drives the worklist. It owns the state while it runs.
type Builder struct {
	idx *index.Index
	res *hierarchy.Resolver
	cfg *config.Config
	st  *state.State

	// err is the first type lattice conflict seen in strict mode.
	err error
}

func New(res *hierarchy.Resolver, cfg *config.Config, st *state.State) *Builder {
	return &Builder{
		idx: res.Index(),
		res: res,
		cfg: cfg,
		st:  st,
	}
}

// State returns the state the builder writes to.
func (b *Builder) State() *state.State {
	return b.st
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Run registers the entry points of every serializable class and drains the
// worklist. It only fails on a type conflict when missing types are not
// ignored.
func (b *Builder) Run() error {
	serializable := b.idx.Implementors("java.io.Serializable")
	slog.Info("found serializable classes", "count", len(serializable))

	for _, c := range serializable {
		if b.cfg.IsWhitelistedClass(c.Name) {
			continue
		}
		b.CheckClass(c)
		if b.err != nil {
			return b.err
		}
	}

	slog.Info("found initial methods to check", "count", len(b.st.ToCheck))
	return b.Drain()
}

// Drain checks queued references until the worklist is empty.
func (b *Builder) Drain() error {
	last := time.Now()
	for {
		ref := b.st.Dequeue()
		if ref == nil {
			return b.err
		}
		if time.Since(last) > progressInterval {
			slog.Info("checking methods", "remaining", len(b.st.ToCheck), "sample", ref)
			last = time.Now()
		}
		b.st.TrackKnown(ref)
		b.CheckMethod(ref)
		if b.err != nil {
			return b.err
		}
	}
}

// CheckClass registers and simulates the entry points of c. For a
// serializable class the superclasses are visited up to and including the
// first non-serializable one, whose public no-argument constructor is the
// entry point deserialization runs.
func (b *Builder) CheckClass(c *index.ClassInfo) {
	for c != nil {
		serializable := b.res.IsSerializable(c.Name)
		foundDefault := false
		for _, m := range c.Methods() {
			if !b.isEntryPoint(c, m, serializable) {
				continue
			}
			if !serializable {
				foundDefault = true
			}
			ref := analysis.NewMethodRef(analysis.Key{Type: c.Name, Method: m.Name, Desc: m.Desc, Static: m.IsStatic()})
			if b.cfg.IsWhitelisted(ref) {
				slog.Debug("whitelisted entry point", "method", ref)
				continue
			}
			ref.TaintCallee()
			taintEntryArguments(ref)
			b.st.AddInitial(ref)
			b.st.TraceCalls(ref.Key)
			b.simulate(c, m, ref, false)
		}

		if !serializable {
			if !foundDefault {
				trace("no default constructor in first non-serializable parent", "type", c.Name)
			}
			return
		}
		if c.Super == "" {
			return
		}
		next := b.idx.Class(c.Super)
		if next == nil {
			slog.Error("failed to locate super class", "type", c.Super)
			return
		}
		c = next
	}
}

func (b *Builder) isEntryPoint(c *index.ClassInfo, m *classfile.Method, serializable bool) bool {
	if !serializable {
		return m.Name == "<init>" && m.Desc == "()V" && m.IsPublic()
	}
	switch {
	case m.Name == "readObject" && m.Desc == descReadObject,
		m.Name == "readExternal" && m.Desc == descReadExternal,
		m.Name == "readObjectNoData" && m.Desc == "()V",
		m.Name == "invoke" && m.Desc == descInvoke,
		m.Name == "readResolve" && m.Desc == descReadResolve,
		m.Name == "$deserializeLambda$" && m.Desc == descDeserialize:
		return true
	}
	if m.IsAbstract() {
		return false
	}
	return b.cfg.IsExtraCheckMethod(analysis.Key{Type: c.Name, Method: m.Name, Desc: m.Desc})
}

func taintEntryArguments(ref *analysis.MethodRef) {
	switch {
	case ref.Method == "readObject" && ref.Desc == descReadObject,
		ref.Method == "readExternal" && ref.Desc == descReadExternal:
		ref.TaintParamReturn(0)
	case ref.Method == "invoke" && ref.Desc == descInvoke:
		ref.TaintParam(0)
		ref.TaintParam(1)
		ref.TaintParam(2)
	}
}

// dispatch applies the heuristic dispatch rules of the configuration.
func (b *Builder) dispatch(ref *analysis.MethodRef, fixedType, serializableOnly bool) (*analysis.MethodRef, bool, bool) {
	if b.cfg.RestrictToSerializable(ref) {
		serializableOnly = true
	}
	if t, ok := b.cfg.FixedType(ref); ok {
		fixedType = true
		ref = ref.AdaptToType(t)
	}
	return ref, fixedType, serializableOnly
}

func (b *Builder) isImplied(ref *analysis.MethodRef) bool {
	for _, known := range b.st.Known[ref.Key] {
		if known.Implies(ref) {
			return true
		}
	}
	return false
}

// CheckMethodCall records a tainted call from caller to ref and queues every
// implementation the call may dispatch to. It reports whether the call may
// reach code that is not known to be safe.
func (b *Builder) CheckMethodCall(ref *analysis.MethodRef, caller analysis.Key, fixedType, serializableOnly bool) bool {
	key := ref.Key

	if b.isImplied(ref) {
		b.st.Bench.ImpliedCalls++
		d, fixed, serOnly := b.dispatch(ref, fixedType, serializableOnly)
		b.st.TraceCalls(d.Key, caller)
		for _, impl := range b.res.FindImplementors(d, fixed, serOnly, nil) {
			b.st.TraceCalls(d.AdaptToType(impl.Name).Key, caller)
		}
		return !b.st.Safe[key]
	}

	if b.cfg.IsWhitelisted(ref) {
		slog.Debug("whitelisted method", "method", ref)
		return false
	}

	ref, fixedType, serializableOnly = b.dispatch(ref, fixedType, serializableOnly)

	if ref.IsConstructor() {
		b.st.TrackInstantiable(ref.Type, ref.Key)
	}

	if ref.ArgTypes() != nil && b.st.CountKnown(ref) > b.cfg.MaxChecksPerReference {
		b.st.Bench.MethodLimitReached++
		target := ref.TargetType()
		ref = ref.FullTaint()
		ref.SetTargetType(target)
	}

	b.st.TraceCalls(ref.Key, caller)

	if b.st.IsKnown(ref) {
		trace("method already found", "method", ref)
		return true
	}
	if b.st.Safe[key] {
		return false
	}

	b.st.TrackKnown(ref)
	impls := b.res.FindImplementors(ref, fixedType, serializableOnly, &b.st.Bench)
	if len(impls) == 0 {
		trace("no implementations found", "method", ref)
		return false
	}

	for _, impl := range impls {
		e := ref.AdaptToType(impl.Name)
		if err := b.res.CheckReferenceTyping(e); err != nil {
			b.fail(fmt.Errorf("call from %s: %w", caller, err))
		}
		b.st.TraceCalls(e.Key, caller)
		b.st.TrackKnown(e)
		b.st.Enqueue(e)
	}
	return true
}

// CheckMethod simulates the body of ref. Methods not declared by their type
// are re-homed on the implementation fixed dispatch finds.
func (b *Builder) CheckMethod(ref *analysis.MethodRef) {
	b.checkMethod(ref, false)
}

func (b *Builder) checkMethod(ref *analysis.MethodRef, probe bool) {
	trace("checking reference", "method", ref)

	c := b.idx.Class(ref.Type)
	if c == nil {
		slog.Error("no class data", "type", ref.Type)
		return
	}
	if b.cfg.IsWhitelisted(ref) {
		return
	}

	if m := c.Method(ref.Method, ref.Desc); m != nil {
		if m.IsNative() {
			b.st.NativeCall(ref)
		}
		b.simulate(c, m, ref, probe)
		return
	}

	impls := b.res.FindImplementors(ref, true, false, nil)
	if len(impls) == 0 {
		trace("no implementation found in supertypes", "method", ref)
		return
	}
	b.CheckMethodCall(ref.AdaptToType(impls[0].Name), ref.Key, true, false)
}

// ImprovedReturnType returns the single concrete type the implementations of
// ref return, or jtype.Unknown. Results are cached per method.
func (b *Builder) ImprovedReturnType(ref *analysis.MethodRef, fixedType, serializableOnly bool) jtype.Type {
	if strings.HasSuffix(ref.Type, "[]") && ref.Method == "clone" {
		return jtype.FromClassName(ref.Type)
	}

	key := ref.Key
	if b.st.CheckedReturnType[key] {
		return b.st.ReturnTypes[key]
	}
	b.st.CheckedReturnType[key] = true

	ref, fixedType, serializableOnly = b.dispatch(ref, fixedType, serializableOnly)
	c := ref.Comparable()
	impls := b.res.FindImplementors(c, fixedType, serializableOnly, nil)
	if len(impls) == 0 {
		trace("no implementations found", "method", ref)
		return jtype.Unknown
	}

	var types []jtype.Type
	for _, impl := range impls {
		if !hierarchy.ImplementsMethod(c, impl) {
			continue
		}
		e := c.AdaptToType(impl.Name)
		if e.Key == key || !b.st.CheckedReturnType[e.Key] {
			b.st.CheckedReturnType[e.Key] = true
			b.checkMethod(e, true)
		}
		t, ok := b.st.ReturnTypes[e.Key]
		if !ok {
			return jtype.Unknown
		}
		if !slices.Contains(types, t) {
			types = append(types, t)
		}
	}

	switch len(types) {
	case 0:
		return jtype.Unknown
	case 1:
		if err := b.foundImprovedReturnType(key, types[0], jtype.ReturnType(ref.Desc)); err != nil {
			slog.Error("incompatible return type", "method", ref, "type", types[0], "error", err)
			b.fail(err)
			return jtype.Unknown
		}
		return types[0]
	}
	slog.Debug("multiple return types", "method", ref, "types", types)
	b.st.Bench.MultiReturnTypes++
	return jtype.Unknown
}

func (b *Builder) foundImprovedReturnType(k analysis.Key, ret, sig jtype.Type) error {
	b.st.CheckedReturnType[k] = true

	if sig == jtype.Object || (sig == jtype.Serializable && ret != jtype.Object) {
		if _, ok := b.st.ReturnTypes[k]; ok {
			b.st.Bench.ImprovedReturnTypes++
		}
		b.st.ReturnTypes[k] = ret
		return nil
	}
	if sig.Sort() != jtype.SortObject {
		return nil
	}
	if _, ok := b.st.ReturnTypes[k]; ok {
		return nil
	}

	t, err := b.res.MoreConcreteType(ret, sig)
	if err != nil {
		return fmt.Errorf("return type of %s: %w", k, err)
	}
	b.st.ReturnTypes[k] = t
	if t == ret && t != sig {
		b.st.Bench.ImprovedReturnTypes++
	} else {
		b.st.Bench.NonImprovedReturnTypes++
	}
	return nil
}

// instantiable records that a non-serializable concrete class is obtained
// through ref.
func (b *Builder) instantiable(ref *analysis.MethodRef, t jtype.Type) {
	if t.Sort() != jtype.SortObject || b.cfg.IsWhitelisted(ref) {
		return
	}
	name := t.ClassName()
	if name == "java.lang.Object" {
		return
	}
	c := b.idx.Class(name)
	if c == nil || c.IsInterface() || b.res.IsSerializable(name) {
		return
	}
	b.st.TrackInstantiable(name, ref.Key)
}

func (b *Builder) putstatic(ref *analysis.MethodRef) {
	if !b.cfg.CheckStaticPuts || b.cfg.IsStaticPutWhitelisted(ref) {
		return
	}
	b.st.StaticPut(ref.Key)
}
