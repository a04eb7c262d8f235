package callgraph

import (
	"log/slog"
	"slices"

	"github.com/715d/serianalyzer/internal/analysis"
	"github.com/715d/serianalyzer/internal/frame"
	"github.com/715d/serianalyzer/internal/index"
	"github.com/715d/serianalyzer/pkg/classfile"
	"github.com/715d/serianalyzer/pkg/jtype"
)

const (
	lambdaMetafactory = "java/lang/invoke/LambdaMetafactory"
	accessController  = "java.security.AccessController"
	privilegedAction  = "java.security.PrivilegedAction"
)

// visitor simulates one method body with one taint variant.
type visitor struct {
	b   *Builder
	ref *analysis.MethodRef
	f   *frame.Frame

	// probe visits only collect the return type.
	probe bool

	jumped    bool
	backward  bool
	foundCall bool
	labels    map[int]bool

	found   []*analysis.MethodRef
	returns []jtype.Type
}

// simulate runs m of c as ref. A method whose body cannot be decoded is
// never marked safe.
func (b *Builder) simulate(c *index.ClassInfo, m *classfile.Method, ref *analysis.MethodRef, probe bool) {
	v := &visitor{
		b:      b,
		ref:    ref,
		f:      initialFrame(ref, m),
		probe:  probe,
		labels: make(map[int]bool),
	}

	if m.Code != nil {
		insns, err := m.Code.Instructions()
		if err != nil {
			slog.Error("failed to decode method", "type", c.Name, "method", m.Name, "desc", m.Desc, "error", err)
			return
		}
		for i := range insns {
			v.visit(&insns[i])
		}
	}
	v.end()
}

// initialFrame seeds the receiver and the parameters with the taint of ref.
// Observed argument types replace the declared ones when available.
func initialFrame(ref *analysis.MethodRef, m *classfile.Method) *frame.Frame {
	f := frame.New()
	slot := 0
	if !m.IsStatic() {
		t := ref.TargetType()
		if !t.IsKnown() {
			t = jtype.FromClassName(ref.Type)
		}
		f.Store(0, frame.NewFieldRef(ref.Type, "this", t, ref.CalleeTainted(), true))
		slot = 1
	}

	params := jtype.ArgumentTypes(m.Desc)
	if at := ref.ArgTypes(); len(at) == len(params) {
		params = at
	}
	for i, t := range params {
		f.Store(slot, frame.NewVariable(t, ref.ParamTainted(i), ref.ParamReturnTainted(i)))
		slot++
		if t.IsWide() {
			slot++
		}
	}
	return f
}

func (v *visitor) visit(in *classfile.Instruction) {
	switch op := in.Op; {
	case op == classfile.OpLabel:
		v.labels[in.Label] = true
		if v.jumped {
			v.f.Clear()
			v.jumped = false
		}
	case op.IsJump():
		v.jumped = true
		v.f.Exec(in)
		if v.labels[in.Label] {
			trace("backward jump", "method", v.ref, "offset", in.Offset, "label", in.Label)
			v.backward = true
		}
	case op == classfile.OpPutstatic:
		if val := v.f.Pop(); val.Tainted() {
			v.b.putstatic(v.ref)
		}
	case op == classfile.OpGetstatic, op == classfile.OpGetfield:
		v.f.Exec(in)
		v.b.instantiable(v.ref, jtype.Type(in.Desc))
	case op == classfile.OpNew:
		v.f.Exec(in)
		v.b.instantiable(v.ref, in.Type)
	case op == classfile.OpAreturn:
		v.areturn()
	case op == classfile.OpInvokedynamic:
		v.invokedynamic(in)
	case op.IsInvoke():
		v.invoke(in)
	default:
		v.f.Exec(in)
	}
}

func (v *visitor) areturn() {
	ret := v.f.Pop()
	if t := ret.Type(); t.IsKnown() {
		v.addReturn(t)
		for _, alt := range ret.AltTypes() {
			v.addReturn(alt)
		}
	} else {
		v.addReturn(jtype.ReturnType(v.ref.Desc))
	}
	v.f.Clear()
}

func (v *visitor) addReturn(t jtype.Type) {
	if !slices.Contains(v.returns, t) {
		v.returns = append(v.returns, t)
	}
}

// checkTainted reports whether any argument is tainted or missing.
func (v *visitor) checkTainted(args []*frame.Value) bool {
	tainted := false
	for _, a := range args {
		if a == nil {
			v.b.st.Bench.TaintedByMissingArgs++
			return true
		}
		tainted = tainted || a.Tainted()
	}
	return tainted
}

// setupTainting copies the argument taint onto ref and returns the observed
// argument types, or nil if they are not all known.
func (v *visitor) setupTainting(ref *analysis.MethodRef, args []*frame.Value, sig []jtype.Type) []jtype.Type {
	if len(args) != len(sig) {
		return nil
	}
	complete := true
	actual := make([]jtype.Type, 0, len(sig))
	for i, a := range args {
		if a == nil {
			ref.TaintParam(i)
			complete = false
			continue
		}
		if a.Tainted() {
			ref.TaintParam(i)
		}
		if a.TaintReturns() {
			ref.TaintParamReturn(i)
		}

		switch {
		case a.Kind() == frame.Alternatives:
			complete = false
		case !a.Type().IsKnown() || len(a.AltTypes()) > 0:
			actual = append(actual, sig[i])
		default:
			t, err := v.b.res.MoreConcreteType(a.Type(), sig[i])
			if err != nil {
				slog.Error("incompatible argument type", "method", ref, "arg", i, "error", err)
				v.b.fail(err)
				complete = false
				continue
			}
			actual = append(actual, t)
		}
	}
	if !complete {
		return nil
	}
	return actual
}

func (v *visitor) invoke(in *classfile.Instruction) {
	names := v.b.idx.Names()
	formal := jtype.ArgumentTypes(in.Desc)
	args := v.f.PopN(len(formal))
	tainted := v.checkTainted(args)

	static := in.Op == classfile.OpInvokestatic
	// Static calls may reach global state and are always followed.
	tainted = tainted || static
	fixedType := static || in.Op == classfile.OpInvokespecial
	owner := names.DottedName(in.Owner)

	var tgt *frame.Value
	if !static {
		tgt = v.f.Pop()
		tainted = tainted || tgt.Tainted()
		if tgt.Kind() == frame.ObjectRef {
			fixedType = true
			if in.Op != classfile.OpInvokespecial {
				owner = tgt.ClassName()
			}
		}
	}

	ref := analysis.NewMethodRef(analysis.Key{
		Type:      owner,
		Method:    in.Name,
		Desc:      in.Desc,
		Static:    static,
		Interface: in.Interface,
	})

	if owner == accessController && in.Name == "doPrivileged" && len(args) > 0 {
		ref, tgt, fixedType = v.privileged(ref, args[0])
		tainted = true
	} else {
		if !static && tgt.Tainted() {
			ref.TaintCallee()
		}
		ref.SetArgTypes(v.setupTainting(ref, args, formal))
		if t := tgt.Type(); !static && t.IsKnown() && len(tgt.AltTypes()) == 0 {
			tt, err := v.b.res.MoreConcreteType(t, jtype.ObjectOf(in.Owner))
			if err != nil {
				slog.Error("incompatible target type", "method", ref, "error", err)
				v.b.fail(err)
			}
			ref.SetTargetType(tt)
		}
	}
	v.found = append(v.found, ref)

	if tainted {
		if tgt != nil {
			v.f.Replace(tgt, tgt.WithTaint())
		}
		v.b.st.Bench.TaintedCalls++
		v.foundCall = v.b.CheckMethodCall(ref, v.ref.Key, fixedType, false) || v.foundCall
	} else {
		trace("untainted call", "caller", v.ref, "callee", ref)
		v.b.st.TraceCalls(ref.Key, v.ref.Key)
		v.b.st.Bench.UntaintedCalls++
	}

	ret := jtype.ReturnType(in.Desc)
	if ret == jtype.Void {
		return
	}
	if t := v.b.ImprovedReturnType(ref, fixedType, false); t.IsKnown() {
		ret = t
	}
	taintReturn := tainted
	switch {
	case v.b.cfg.IsUntaintReturn(ref):
		taintReturn = false
	case !tainted:
		taintReturn = tgt.TaintReturns()
	}
	if taintReturn {
		v.b.instantiable(ref, ret)
	}
	v.f.Push(frame.NewVariable(ret, taintReturn, false))
}

// privileged rewrites AccessController.doPrivileged into a call of the
// action's run method.
func (v *visitor) privileged(call *analysis.MethodRef, action *frame.Value) (*analysis.MethodRef, *frame.Value, bool) {
	if action.Kind() == frame.ObjectRef {
		ref := analysis.NewMethodRef(analysis.Key{Type: action.ClassName(), Method: "run", Desc: "()Ljava/lang/Object;"})
		if action.Tainted() {
			ref.TaintCallee()
		}
		trace("resolved privileged action", "caller", v.ref, "action", ref)
		return ref, action, true
	}
	ref := analysis.NewMethodRef(analysis.Key{Type: privilegedAction, Method: "run", Desc: "()Ljava/lang/Object;", Interface: true})
	ref.TaintCallee()
	trace("unresolved privileged action", "caller", v.ref, "call", call)
	return ref, action, false
}

func isLambdaMetafactory(bsm *classfile.BootstrapMethod) bool {
	h := bsm.Handle
	return h.Kind == classfile.RefInvokeStatic &&
		h.Owner == lambdaMetafactory &&
		(h.Name == "metafactory" || h.Name == "altMetafactory") &&
		len(bsm.Args) >= 2 && bsm.Args[1].Handle != nil
}

// invokedynamic follows lambda and method reference creation to the
// implementation method. Other bootstraps are not modeled.
func (v *visitor) invokedynamic(in *classfile.Instruction) {
	formal := jtype.ArgumentTypes(in.Desc)
	ret := jtype.ReturnType(in.Desc)

	if in.Bootstrap == nil || !isLambdaMetafactory(in.Bootstrap) {
		slog.Warn("unsupported dynamic call", "method", v.ref, "name", in.Name, "desc", in.Desc)
		v.f.PopN(len(formal))
		if ret != jtype.Void {
			v.f.Push(frame.NewVariable(ret, true, false))
		}
		return
	}

	h := in.Bootstrap.Args[1].Handle
	args := v.f.PopN(len(formal))
	tainted := v.checkTainted(args)

	ref := analysis.NewMethodRef(analysis.Key{
		Type:      v.b.idx.Names().DottedName(h.Owner),
		Method:    h.Name,
		Desc:      h.Desc,
		Static:    h.Kind == classfile.RefInvokeStatic,
		Interface: h.Interface,
	})
	v.found = append(v.found, ref)

	if tainted {
		handleArgs := jtype.ArgumentTypes(h.Desc)
		if !slices.Equal(handleArgs, formal) {
			v.b.st.Bench.UnhandledLambdas++
			ref.SetArgTypes(v.setupTainting(ref, nil, handleArgs))
		} else {
			ref.SetArgTypes(v.setupTainting(ref, args, handleArgs))
		}
		v.b.st.Bench.TaintedCalls++
		v.foundCall = v.b.CheckMethodCall(ref, v.ref.Key, true, false) || v.foundCall
	} else {
		trace("untainted lambda", "caller", v.ref, "callee", ref)
		v.b.st.TraceCalls(ref.Key, v.ref.Key)
		v.b.st.Bench.UntaintedCalls++
	}

	if ret != jtype.Void {
		v.f.Push(frame.NewVariable(ret, tainted, false))
	}
}

// end records the outcome of the visit. A method containing a loop is
// never marked safe; if the loop reassigns locals every call it makes is
// reissued with full taint.
func (v *visitor) end() {
	if v.backward {
		if v.f.MultiAssigned() {
			v.b.st.Bench.BackwardJumps++
			slog.Debug("loop with reassigned locals", "method", v.ref)
			for _, r := range v.found {
				if full := r.FullTaint(); !full.Equal(r) {
					v.b.CheckMethodCall(full, v.ref.Key, false, false)
				}
			}
		}
		return
	}

	if !v.foundCall && !v.probe {
		trace("marking safe", "method", v.ref)
		v.b.st.MarkSafe(v.ref.Key)
	}

	sig := jtype.ReturnType(v.ref.Desc)
	switch {
	case len(v.returns) == 1:
		if t := v.returns[0]; t != jtype.Object && t != sig {
			if err := v.b.foundImprovedReturnType(v.ref.Key, t, sig); err != nil {
				slog.Error("incompatible return type", "method", v.ref, "type", t, "error", err)
				v.b.fail(err)
			}
		}
	case len(v.returns) > 1 && !slices.Contains(v.returns, sig):
		slog.Debug("multiple return types", "method", v.ref, "types", v.returns)
	}
	v.b.st.CheckedReturnType[v.ref.Key] = true
}
