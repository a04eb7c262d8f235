package frame

import (
	"github.com/715d/serianalyzer/pkg/classfile"
	"github.com/715d/serianalyzer/pkg/jtype"
)

var loadTypes = map[classfile.Op]jtype.Type{
	classfile.OpIload: jtype.Int,
	classfile.OpLload: jtype.Long,
	classfile.OpFload: jtype.Float,
	classfile.OpDload: jtype.Double,
	classfile.OpAload: jtype.Object,
}

var arrayLoadTypes = map[classfile.Op]jtype.Type{
	classfile.OpIaload: jtype.Int,
	classfile.OpLaload: jtype.Long,
	classfile.OpFaload: jtype.Float,
	classfile.OpDaload: jtype.Double,
	classfile.OpBaload: jtype.Byte,
	classfile.OpCaload: jtype.Char,
	classfile.OpSaload: jtype.Short,
}

var conversions = map[classfile.Op]jtype.Type{
	classfile.OpIneg: jtype.Int,
	classfile.OpLneg: jtype.Long,
	classfile.OpFneg: jtype.Float,
	classfile.OpDneg: jtype.Double,
	classfile.OpI2l:  jtype.Long,
	classfile.OpI2f:  jtype.Float,
	classfile.OpI2d:  jtype.Double,
	classfile.OpL2i:  jtype.Int,
	classfile.OpL2f:  jtype.Float,
	classfile.OpL2d:  jtype.Double,
	classfile.OpF2i:  jtype.Int,
	classfile.OpF2l:  jtype.Long,
	classfile.OpF2d:  jtype.Double,
	classfile.OpD2i:  jtype.Int,
	classfile.OpD2l:  jtype.Long,
	classfile.OpD2f:  jtype.Float,
	classfile.OpI2b:  jtype.Byte,
	classfile.OpI2c:  jtype.Char,
	classfile.OpI2s:  jtype.Short,
}

// Exec applies the stack effect of in. It returns false for instructions it
// does not model, which are method invocations and labels; the caller owns
// those.
func (f *Frame) Exec(in *classfile.Instruction) bool {
	op := in.Op
	switch {
	case op.IsInvoke(), op == classfile.OpLabel:
		return false

	case op == classfile.OpNop, op == classfile.OpIinc, op == classfile.OpRet, op == classfile.OpGoto:

	case op == classfile.OpAconstNull:
		f.Push(NewConstant(jtype.Unknown, false))
	case op >= classfile.OpIconstM1 && op <= classfile.OpIconst5:
		f.Push(NewConstant(jtype.Int, false))
	case op == classfile.OpLconst0 || op == classfile.OpLconst1:
		f.Push(NewConstant(jtype.Long, false))
	case op >= classfile.OpFconst0 && op <= classfile.OpFconst2:
		f.Push(NewConstant(jtype.Float, false))
	case op == classfile.OpDconst0 || op == classfile.OpDconst1:
		f.Push(NewConstant(jtype.Double, false))
	case op == classfile.OpBipush:
		f.Push(NewConstant(jtype.Byte, false))
	case op == classfile.OpSipush:
		f.Push(NewConstant(jtype.Short, false))
	case op == classfile.OpLdc:
		t := jtype.Unknown
		if in.Const != nil {
			t = in.Const.Type()
		}
		f.Push(NewVariable(t, false, false))

	case op >= classfile.OpIload && op <= classfile.OpAload:
		f.Push(f.Load(in.Var, loadTypes[op]))
	case op >= classfile.OpIstore && op <= classfile.OpAstore:
		f.Store(in.Var, f.Pop())

	case op == classfile.OpAaload:
		idx := f.Pop()
		arr := f.Pop()
		if idx == nil || !arr.Type().IsArray() || len(arr.AltTypes()) > 0 {
			f.Clear()
			break
		}
		f.Push(NewVariable(arr.Type().Elem(), arr.Tainted() || idx.Tainted(), false))
	case op >= classfile.OpIaload && op <= classfile.OpSaload:
		v := f.PopN(2)
		f.Push(NewVariable(arrayLoadTypes[op], v[0].Tainted() || v[1].Tainted(), false))
	case op >= classfile.OpIastore && op <= classfile.OpSastore:
		f.PopN(3)

	case op == classfile.OpPop, op == classfile.OpMonitorenter, op == classfile.OpMonitorexit:
		f.Pop()
	case op == classfile.OpPop2:
		if f.PopWord() == nil {
			f.Clear()
		}
	case op >= classfile.OpDup && op <= classfile.OpSwap:
		f.dup(op)

	case op >= classfile.OpIadd && op <= classfile.OpDrem,
		op >= classfile.OpIand && op <= classfile.OpLxor:
		f.merge(2)
	case op >= classfile.OpIshl && op <= classfile.OpLushr:
		// The count is an int; the result keeps the width of the value.
		t := jtype.Int
		if (op-classfile.OpIshl)%2 == 1 {
			t = jtype.Long
		}
		f.Push(Cast(Merge(f.PopN(2)), t))
	case op >= classfile.OpLcmp && op <= classfile.OpDcmpg:
		f.Push(Cast(Merge(f.PopN(2)), jtype.Int))
	case conversions[op] != jtype.Unknown:
		f.Push(Cast(f.Pop(), conversions[op]))

	case op >= classfile.OpIfIcmpeq && op <= classfile.OpIfAcmpne:
		f.PopN(2)
	case op >= classfile.OpIfeq && op <= classfile.OpIfle,
		op == classfile.OpIfnull, op == classfile.OpIfnonnull,
		op == classfile.OpTableswitch:
		f.Pop()
	case op == classfile.OpJsr:
		f.Push(NewConstant(jtype.Int, false))
	case op == classfile.OpLookupswitch, op.IsReturn():
		f.Clear()

	case op == classfile.OpGetstatic:
		f.Push(NewFieldRef(classfile.DottedName(in.Owner), in.Name, jtype.Type(in.Desc), false, false))
	case op == classfile.OpGetfield:
		recv := f.Pop()
		f.Push(NewFieldRef(classfile.DottedName(in.Owner), in.Name, jtype.Type(in.Desc), recv.Tainted(), false))
	case op == classfile.OpPutstatic:
		f.Pop()
	case op == classfile.OpPutfield:
		f.PopN(2)

	case op == classfile.OpNew:
		f.Push(NewObjectRef(classfile.DottedName(in.Owner)))
	case op == classfile.OpNewarray, op == classfile.OpAnewarray:
		f.Pop()
		f.Push(NewVariable(in.Type, false, false))
	case op == classfile.OpMultianewarray:
		f.PopN(in.Int)
		f.Push(NewVariable(in.Type, false, false))
	case op == classfile.OpArraylength:
		f.Push(NewConstant(jtype.Int, f.Pop().Tainted()))
	case op == classfile.OpCheckcast:
		v := f.Pop()
		if v == nil {
			f.Clear()
			break
		}
		c := v.WithAltType(in.Type)
		f.Replace(v, c)
		f.Push(c)
	case op == classfile.OpInstanceof:
		v := f.Pop()
		if v != nil {
			f.Replace(v, v.WithAltType(in.Type))
		}
		f.Push(NewConstant(jtype.Boolean, v.Tainted()))
	}
	return true
}

func (f *Frame) dup(op classfile.Op) {
	switch op {
	case classfile.OpDup:
		if f.Depth() > 0 {
			f.Push(f.Peek())
		}
	case classfile.OpDupX1:
		v1 := f.Pop()
		v2 := f.Pop()
		f.pushAll([]*Value{v1, v2, v1})
	case classfile.OpDupX2:
		v1 := f.Pop()
		w := f.PopWord()
		if w == nil {
			f.Clear()
			return
		}
		f.Push(v1)
		f.pushAll(w)
		f.Push(v1)
	case classfile.OpDup2:
		w := f.PopWord()
		if w == nil {
			f.Clear()
			return
		}
		f.pushAll(w)
		f.pushAll(w)
	case classfile.OpDup2X1:
		w := f.PopWord()
		if w == nil {
			f.Clear()
			return
		}
		v := f.Pop()
		f.pushAll(w)
		f.Push(v)
		f.pushAll(w)
	case classfile.OpDup2X2:
		w1 := f.PopWord()
		if w1 == nil {
			f.Clear()
			return
		}
		w2 := f.PopWord()
		if w2 == nil {
			f.Clear()
			return
		}
		f.pushAll(w1)
		f.pushAll(w2)
		f.pushAll(w1)
	case classfile.OpSwap:
		v1 := f.Pop()
		v2 := f.Pop()
		f.Push(v1)
		f.Push(v2)
	}
}
