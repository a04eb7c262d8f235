package classfile

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/715d/serianalyzer/pkg/jtype"
)

// Instruction is one decoded bytecode instruction in canonical form.
type Instruction struct {
	Op     Op
	Offset int // bytecode offset

	// Var is the local slot of loads, stores, iinc and ret.
	Var int
	// Int is the operand of bipush, sipush and newarray, the increment of
	// iinc and the dimension count of multianewarray.
	Int int
	// Const is the constant pushed by ldc.
	Const *Constant

	// Owner, Name and Desc describe field and method references. Owner is an
	// internal class name.
	Owner     string
	Name      string
	Desc      string
	Interface bool
	// Type is the type operand of new, newarray, anewarray, checkcast,
	// instanceof and multianewarray, as the pushed type (arrays for the
	// array creating instructions).
	Type jtype.Type
	// Bootstrap is the bootstrap method of invokedynamic.
	Bootstrap *BootstrapMethod

	// Label is the target offset of a jump, or the offset an OpLabel marks.
	Label int
	// Targets holds the default target followed by the case targets of a
	// switch.
	Targets []int
}

// Handler is an exception table entry.
type Handler struct {
	Start, End, Handler int
	CatchType           string
}

// Code is the body of a method.
type Code struct {
	MaxStack  int
	MaxLocals int
	Handlers  []Handler

	bytecode []byte
	class    *Class

	once  sync.Once
	insns []Instruction
	err   error
}

// NewCode returns a method body made of already decoded instructions.
func NewCode(maxLocals int, insns []Instruction) *Code {
	c := &Code{MaxLocals: maxLocals, insns: insns}
	c.once.Do(func() {})
	return c
}

func readCode(r *reader, cls *Class) (*Code, error) {
	maxStack, err := r.u2()
	if err != nil {
		return nil, err
	}
	maxLocals, err := r.u2()
	if err != nil {
		return nil, err
	}
	length, err := r.u4()
	if err != nil {
		return nil, err
	}
	bytecode, err := r.bytes(int(length))
	if err != nil {
		return nil, err
	}
	c := &Code{MaxStack: int(maxStack), MaxLocals: int(maxLocals), bytecode: bytecode, class: cls}
	n, err := r.u2()
	if err != nil {
		return nil, err
	}
	for range n {
		var h [4]uint16
		for i := range h {
			if h[i], err = r.u2(); err != nil {
				return nil, err
			}
		}
		handler := Handler{Start: int(h[0]), End: int(h[1]), Handler: int(h[2])}
		if h[3] != 0 {
			if handler.CatchType, err = cls.pool.className(h[3]); err != nil {
				return nil, err
			}
		}
		c.Handlers = append(c.Handlers, handler)
	}
	return c, nil
}

// Instructions returns the decoded instruction stream. The result is cached.
func (c *Code) Instructions() ([]Instruction, error) {
	c.once.Do(func() {
		c.insns, c.err = c.decode()
	})
	return c.insns, c.err
}

func (c *Code) decode() ([]Instruction, error) {
	r := &reader{data: c.bytecode}
	var raw []Instruction
	targets := make(map[int]bool)
	for _, h := range c.Handlers {
		targets[h.Start] = true
		targets[h.End] = true
		targets[h.Handler] = true
	}
	for r.pos < len(r.data) {
		in, err := c.decodeOne(r)
		if err != nil {
			return nil, fmt.Errorf("offset %d: %w", r.pos, err)
		}
		if in.Op.IsJump() {
			targets[in.Label] = true
		}
		for _, t := range in.Targets {
			targets[t] = true
		}
		raw = append(raw, in)
	}

	out := make([]Instruction, 0, len(raw)+len(targets))
	for _, in := range raw {
		if targets[in.Offset] {
			out = append(out, Instruction{Op: OpLabel, Offset: in.Offset, Label: in.Offset})
			delete(targets, in.Offset)
		}
		out = append(out, in)
	}
	// Labels past the last instruction, e.g. the end of a trailing try block.
	for _, t := range slices.Sorted(maps.Keys(targets)) {
		out = append(out, Instruction{Op: OpLabel, Offset: t, Label: t})
	}
	return out, nil
}

func (c *Code) decodeOne(r *reader) (Instruction, error) {
	start := r.pos
	b, err := r.u1()
	if err != nil {
		return Instruction{}, err
	}
	in := Instruction{Op: Op(b), Offset: start}
	op := in.Op
	switch {
	case op == OpBipush:
		v, err := r.u1()
		in.Int = int(int8(v))
		return in, err
	case op == OpSipush:
		v, err := r.u2()
		in.Int = int(int16(v))
		return in, err
	case op == OpLdc:
		idx, err := r.u1()
		if err != nil {
			return in, err
		}
		in.Const, err = c.class.pool.constant(uint16(idx))
		return in, err
	case op == OpLdcW || op == OpLdc2W:
		idx, err := r.u2()
		if err != nil {
			return in, err
		}
		in.Op = OpLdc
		in.Const, err = c.class.pool.constant(idx)
		return in, err
	case op >= OpIload && op <= OpAload, op >= OpIstore && op <= OpAstore, op == OpRet:
		v, err := r.u1()
		in.Var = int(v)
		return in, err
	case op >= OpIload0 && op <= OpAload3:
		n := int(op - OpIload0)
		in.Op, in.Var = OpIload+Op(n/4), n%4
	case op >= OpIstore0 && op <= OpAstore3:
		n := int(op - OpIstore0)
		in.Op, in.Var = OpIstore+Op(n/4), n%4
	case op == OpIinc:
		v, err := r.u1()
		if err != nil {
			return in, err
		}
		inc, err := r.u1()
		in.Var, in.Int = int(v), int(int8(inc))
		return in, err
	case op.IsJump():
		off, err := r.u2()
		in.Label = start + int(int16(off))
		return in, err
	case op == OpGotoW || op == OpJsrW:
		off, err := r.s4()
		in.Op = OpGoto
		if op == OpJsrW {
			in.Op = OpJsr
		}
		in.Label = start + int(off)
		return in, err
	case op == OpTableswitch || op == OpLookupswitch:
		return in, c.decodeSwitch(r, &in)
	case op >= OpGetstatic && op <= OpInvokeinterface:
		idx, err := r.u2()
		if err != nil {
			return in, err
		}
		in.Owner, in.Name, in.Desc, in.Interface, err = c.class.pool.member(idx)
		if err != nil {
			return in, err
		}
		if op == OpInvokeinterface {
			return in, r.skip(2) // count, 0
		}
	case op == OpInvokedynamic:
		return in, c.decodeIndy(r, &in)
	case op == OpNew || op == OpAnewarray || op == OpCheckcast || op == OpInstanceof || op == OpMultianewarray:
		idx, err := r.u2()
		if err != nil {
			return in, err
		}
		name, err := c.class.pool.className(idx)
		if err != nil {
			return in, err
		}
		in.Owner = name
		in.Type = jtype.ObjectOf(name)
		switch op {
		case OpAnewarray:
			in.Type = "[" + in.Type
		case OpMultianewarray:
			dims, err := r.u1()
			in.Int = int(dims)
			return in, err
		}
	case op == OpNewarray:
		atype, err := r.u1()
		in.Int = int(atype)
		in.Type = jtype.PrimitiveArray(int(atype))
		return in, err
	case op == OpWide:
		return c.decodeWide(r, start)
	case op > OpJsrW:
		return in, fmt.Errorf("invalid opcode %#x", b)
	}
	return in, nil
}

func (c *Code) decodeWide(r *reader, start int) (Instruction, error) {
	b, err := r.u1()
	if err != nil {
		return Instruction{}, err
	}
	in := Instruction{Op: Op(b), Offset: start}
	v, err := r.u2()
	if err != nil {
		return in, err
	}
	in.Var = int(v)
	switch in.Op {
	case OpIinc:
		inc, err := r.u2()
		in.Int = int(int16(inc))
		return in, err
	case OpIload, OpLload, OpFload, OpDload, OpAload,
		OpIstore, OpLstore, OpFstore, OpDstore, OpAstore, OpRet:
		return in, nil
	}
	return in, fmt.Errorf("invalid wide opcode %s", in.Op)
}

func (c *Code) decodeSwitch(r *reader, in *Instruction) error {
	// Operands are aligned to a multiple of four from the start of the code.
	if pad := (4 - r.pos%4) % 4; pad > 0 {
		if err := r.skip(pad); err != nil {
			return err
		}
	}
	def, err := r.s4()
	if err != nil {
		return err
	}
	in.Targets = append(in.Targets, in.Offset+int(def))
	var n int
	if in.Op == OpTableswitch {
		low, err := r.s4()
		if err != nil {
			return err
		}
		high, err := r.s4()
		if err != nil {
			return err
		}
		if high < low {
			return fmt.Errorf("tableswitch high %d < low %d", high, low)
		}
		n = int(high) - int(low) + 1
	} else {
		pairs, err := r.s4()
		if err != nil {
			return err
		}
		if pairs < 0 {
			return fmt.Errorf("lookupswitch with %d pairs", pairs)
		}
		n = int(pairs)
	}
	entry := 4
	if in.Op == OpLookupswitch {
		entry = 8
	}
	if err := r.need(n * entry); err != nil {
		return err
	}
	for range n {
		if in.Op == OpLookupswitch {
			if _, err := r.s4(); err != nil { // match
				return err
			}
		}
		off, err := r.s4()
		if err != nil {
			return err
		}
		in.Targets = append(in.Targets, in.Offset+int(off))
	}
	return nil
}

func (c *Code) decodeIndy(r *reader, in *Instruction) error {
	idx, err := r.u2()
	if err != nil {
		return err
	}
	if err := r.skip(2); err != nil {
		return err
	}
	e, err := c.class.pool.entry(idx, tagInvokeDynamic)
	if err != nil {
		return err
	}
	if in.Name, in.Desc, err = c.class.pool.nameAndType(e.b); err != nil {
		return err
	}
	if int(e.a) >= len(c.class.BootstrapMethods) {
		return fmt.Errorf("bootstrap method %d out of range", e.a)
	}
	in.Bootstrap = &c.class.BootstrapMethods[e.a]
	return nil
}
