package callgraph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/serianalyzer/internal/analysis"
	"github.com/715d/serianalyzer/internal/hierarchy"
	"github.com/715d/serianalyzer/internal/index"
	"github.com/715d/serianalyzer/internal/state"
	"github.com/715d/serianalyzer/pkg/classfile"
	"github.com/715d/serianalyzer/pkg/config"
	"github.com/715d/serianalyzer/pkg/jtype"
)

const (
	iface    = classfile.AccInterface | classfile.AccAbstract | classfile.AccPublic
	public   = classfile.AccPublic
	abstract = classfile.AccAbstract | classfile.AccPublic
	native   = classfile.AccNative | classfile.AccPublic
)

type cls struct {
	name, super string
	access      classfile.AccessFlags
	ifaces      []string
	methods     []*classfile.Method
}

func method(name, desc string, access classfile.AccessFlags, insns ...classfile.Instruction) *classfile.Method {
	m := &classfile.Method{Name: name, Desc: desc, Access: access}
	if len(insns) > 0 {
		m.Code = classfile.NewCode(4, insns)
	}
	return m
}

func op(o classfile.Op) classfile.Instruction {
	return classfile.Instruction{Op: o}
}

func local(o classfile.Op, slot int) classfile.Instruction {
	return classfile.Instruction{Op: o, Var: slot}
}

func call(o classfile.Op, owner, name, desc string) classfile.Instruction {
	return classfile.Instruction{Op: o, Owner: owner, Name: name, Desc: desc, Interface: o == classfile.OpInvokeinterface}
}

func field(o classfile.Op, owner, name, desc string) classfile.Instruction {
	return classfile.Instruction{Op: o, Owner: owner, Name: name, Desc: desc}
}

func alloc(owner string) []classfile.Instruction {
	return []classfile.Instruction{
		{Op: classfile.OpNew, Owner: owner, Type: jtype.ObjectOf(owner)},
		op(classfile.OpDup),
		call(classfile.OpInvokespecial, owner, "<init>", "()V"),
	}
}

func readObject(insns ...classfile.Instruction) *classfile.Method {
	return method("readObject", descReadObject, classfile.AccPrivate, insns...)
}

func gadget(name string, methods ...*classfile.Method) cls {
	return cls{name, "java/lang/Object", public, []string{"java/io/Serializable"}, methods}
}

func key(typ, name, desc string) analysis.Key {
	return analysis.Key{Type: typ, Method: name, Desc: desc}
}

func readObjectKey(typ string) analysis.Key {
	return key(typ, "readObject", descReadObject)
}

var (
	fireKey = key("app.Exec", "fire", "()V")
	runKey  = key("app.Exec", "run", "()V")
	g       = readObjectKey("app.G")
)

var baseCls = []cls{
	{"java/lang/Object", "", public, nil, []*classfile.Method{method("<init>", "()V", public, op(classfile.OpReturn))}},
	{"java/io/Serializable", "java/lang/Object", iface, nil, nil},
	{"java/lang/Runnable", "java/lang/Object", iface, nil, []*classfile.Method{method("run", "()V", abstract)}},
	{"app/Action", "java/lang/Object", iface, nil, []*classfile.Method{method("fire", "()V", abstract)}},
	{"app/Exec", "java/lang/Object", public, []string{"app/Action", "java/lang/Runnable"}, []*classfile.Method{
		method("fire", "()V", native),
		method("run", "()V", native),
	}},
	{"app/Helper", "java/lang/Object", public, nil, []*classfile.Method{
		method("<init>", "()V", public,
			local(classfile.OpAload, 0),
			call(classfile.OpInvokespecial, "java/lang/Object", "<init>", "()V"),
			op(classfile.OpReturn)),
		method("work", "()V", public, op(classfile.OpReturn)),
	}},
}

func testBuilder(t *testing.T, cfg *config.Config, extra ...cls) *Builder {
	t.Helper()
	ix := index.New()
	for _, c := range append(append([]cls{}, baseCls...), extra...) {
		ix.Add(&classfile.Class{Name: c.name, Super: c.super, Access: c.access, Interfaces: c.ifaces, Methods: c.methods})
	}
	return New(hierarchy.New(ix, cfg), cfg, state.New())
}

func TestEntryPoints(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Rules.Read(strings.NewReader("P app.Ignored\n")))

	b := testBuilder(t, cfg,
		gadget("app/G",
			readObject(op(classfile.OpReturn)),
			method("readResolve", descReadResolve, public, op(classfile.OpAconstNull), op(classfile.OpAreturn)),
			method("helper", "()V", public, op(classfile.OpReturn)),
		),
		gadget("app/IgnoredGadget", readObject(op(classfile.OpReturn))),
	)
	require.NoError(t, b.Run())

	st := b.State()
	require.True(t, st.Initial[g])
	require.True(t, st.Initial[key("app.G", "readResolve", descReadResolve)])
	require.True(t, st.Initial[key("java.lang.Object", "<init>", "()V")])
	require.False(t, st.Initial[key("app.G", "helper", "()V")])
	require.False(t, st.Initial[readObjectKey("app.IgnoredGadget")])
	require.True(t, st.Safe[g])
}

func TestTaintedInterfaceCall(t *testing.T) {
	b := testBuilder(t, config.Default(), gadget("app/G", readObject(
		local(classfile.OpAload, 0),
		field(classfile.OpGetfield, "app/G", "action", "Lapp/Action;"),
		call(classfile.OpInvokeinterface, "app/Action", "fire", "()V"),
		op(classfile.OpReturn),
	)))
	require.NoError(t, b.Run())

	st := b.State()
	require.True(t, st.Callers[fireKey][g])
	require.True(t, st.NativeMethods[fireKey])
	require.False(t, st.Safe[g])
	require.NotEmpty(t, st.Known[fireKey])
	require.Positive(t, st.Bench.TaintedCalls)
}

func TestRestrictToSerializable(t *testing.T) {
	tests := []struct {
		name       string
		heuristics bool
		wantCall   bool
	}{
		{name: "heuristics skip non-serializable runnables", heuristics: true},
		{name: "without heuristics every implementor", heuristics: false, wantCall: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.UseHeuristics = tt.heuristics
			b := testBuilder(t, cfg, gadget("app/G", readObject(
				local(classfile.OpAload, 0),
				field(classfile.OpGetfield, "app/G", "task", "Ljava/lang/Runnable;"),
				call(classfile.OpInvokeinterface, "java/lang/Runnable", "run", "()V"),
				op(classfile.OpReturn),
			)))
			require.NoError(t, b.Run())

			st := b.State()
			require.Equal(t, tt.wantCall, st.Callers[runKey][g])
			require.Equal(t, !tt.wantCall, st.Safe[g])
		})
	}
}

func TestStreamReadTaintsResult(t *testing.T) {
	b := testBuilder(t, config.Default(), gadget("app/G", readObject(
		local(classfile.OpAload, 1),
		call(classfile.OpInvokevirtual, "java/io/ObjectInputStream", "readObject", "()Ljava/lang/Object;"),
		classfile.Instruction{Op: classfile.OpCheckcast, Owner: "app/Action", Type: "Lapp/Action;"},
		call(classfile.OpInvokeinterface, "app/Action", "fire", "()V"),
		op(classfile.OpReturn),
	)))
	require.NoError(t, b.Run())

	st := b.State()
	require.True(t, st.Callers[key("java.io.ObjectInputStream", "readObject", "()Ljava/lang/Object;")][g])
	require.True(t, st.Callers[fireKey][g])
	require.Positive(t, st.Bench.UntaintedCalls)
}

func TestStaticPut(t *testing.T) {
	body := readObject(
		local(classfile.OpAload, 0),
		field(classfile.OpPutstatic, "app/G", "INSTANCE", "Ljava/lang/Object;"),
		op(classfile.OpReturn),
	)
	tests := []struct {
		name  string
		rules string
		check bool
		want  bool
	}{
		{name: "tainted put recorded", check: true, want: true},
		{name: "whitelisted", rules: "S app.G->readObject [(Ljava/io/ObjectInputStream;)V]\n", check: true},
		{name: "disabled", check: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.CheckStaticPuts = tt.check
			require.NoError(t, cfg.Rules.Read(strings.NewReader(tt.rules)))
			b := testBuilder(t, cfg, gadget("app/G", body))
			require.NoError(t, b.Run())
			require.Equal(t, tt.want, b.State().StaticPuts[g])
		})
	}
}

func TestInstantiation(t *testing.T) {
	insns := alloc("app/Helper")
	insns = append(insns,
		call(classfile.OpInvokevirtual, "app/Helper", "work", "()V"),
		op(classfile.OpReturn),
	)
	b := testBuilder(t, config.Default(), gadget("app/G", readObject(insns...)))
	require.NoError(t, b.Run())

	st := b.State()
	require.True(t, st.InstantiableTypes["app.Helper"])
	require.True(t, st.InstantiatedThrough["app.Helper"][g])
	require.True(t, st.Callers[key("app.Helper", "work", "()V")][g])
	require.True(t, st.Safe[g], "untainted calls only")
}

func TestImprovedReturnType(t *testing.T) {
	body := alloc("app/Helper")
	body = append(body, op(classfile.OpAreturn))
	b := testBuilder(t, config.Default(), cls{"app/Factory", "java/lang/Object", public, nil, []*classfile.Method{
		method("make", "()Ljava/lang/Object;", public, body...),
	}})

	ref := analysis.NewMethodRef(key("app.Factory", "make", "()Ljava/lang/Object;"))
	require.Equal(t, jtype.Type("Lapp/Helper;"), b.ImprovedReturnType(ref, false, false))
	require.Equal(t, jtype.Type("Lapp/Helper;"), b.ImprovedReturnType(ref, false, false))
	require.False(t, b.State().Safe[ref.Key], "probes never mark safe")

	clone := analysis.NewMethodRef(key("java.lang.String[]", "clone", "()Ljava/lang/Object;"))
	require.Equal(t, jtype.Type("[Ljava/lang/String;"), b.ImprovedReturnType(clone, false, false))
}

func TestImpliedCall(t *testing.T) {
	b := testBuilder(t, config.Default())
	fire := analysis.NewMethodRef(analysis.Key{Type: "app.Action", Method: "fire", Desc: "()V", Interface: true})
	full := fire.Clone()
	full.TaintCallee()
	b.State().TrackKnown(full)

	caller := key("app.Caller", "go", "()V")
	require.True(t, b.CheckMethodCall(fire.Clone(), caller, false, false))

	st := b.State()
	require.Equal(t, 1, st.Bench.ImpliedCalls)
	require.True(t, st.Callers[fireKey][caller])
	require.Empty(t, st.ToCheck)
}

func TestMethodLimit(t *testing.T) {
	cfg := config.Default()
	cfg.MaxChecksPerReference = 1
	b := testBuilder(t, cfg, cls{"app/Sink", "java/lang/Object", public, nil, []*classfile.Method{
		method("accept", "(Ljava/lang/Object;)V", public, op(classfile.OpReturn)),
	}})
	st := b.State()
	accept := key("app.Sink", "accept", "(Ljava/lang/Object;)V")
	for _, typ := range []jtype.Type{jtype.String, jtype.Class} {
		v := analysis.NewMethodRef(accept)
		v.SetArgTypes([]jtype.Type{typ})
		st.TrackKnown(v)
	}

	ref := analysis.NewMethodRef(accept)
	ref.TaintParam(0)
	ref.SetArgTypes([]jtype.Type{jtype.Object})
	require.True(t, b.CheckMethodCall(ref, key("app.Caller", "go", "()V"), false, false))

	require.Equal(t, 1, st.Bench.MethodLimitReached)
	require.Len(t, st.ToCheck, 1)
	queued := st.ToCheck[0]
	require.Nil(t, queued.ArgTypes())
	require.True(t, queued.CalleeTainted())
	require.True(t, queued.ParamTainted(0))
}

func TestBackwardJump(t *testing.T) {
	b := testBuilder(t, config.Default(), gadget("app/G", readObject(
		local(classfile.OpAload, 0),
		local(classfile.OpAstore, 2),
		local(classfile.OpAload, 1),
		local(classfile.OpAstore, 2),
		classfile.Instruction{Op: classfile.OpLabel, Label: 10},
		local(classfile.OpAload, 2),
		call(classfile.OpInvokevirtual, "java/lang/Object", "hashCode", "()I"),
		op(classfile.OpPop),
		classfile.Instruction{Op: classfile.OpGoto, Label: 10},
		op(classfile.OpReturn),
	)))
	require.NoError(t, b.Run())

	st := b.State()
	require.Equal(t, 1, st.Bench.BackwardJumps)
	require.False(t, st.Safe[g])
	require.False(t, st.CheckedReturnType[g])
}

func TestStrictTypeConflict(t *testing.T) {
	insns := alloc("app/Helper")
	insns = append(insns,
		call(classfile.OpInvokeinterface, "app/Action", "fire", "()V"),
		op(classfile.OpReturn),
	)
	tests := []struct {
		name   string
		strict bool
	}{
		{name: "lenient", strict: false},
		{name: "strict", strict: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.IgnoreNotFound = !tt.strict
			b := testBuilder(t, cfg, gadget("app/G", readObject(insns...)))
			err := b.Run()
			if !tt.strict {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, hierarchy.ErrIncompatibleTypes)
		})
	}
}
