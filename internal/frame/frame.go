package frame

import (
	"log/slog"
	"slices"

	"github.com/715d/serianalyzer/pkg/jtype"
)

// Frame is the operand stack and the local variables of one simulated
// method. A local holds every value ever stored to it.
type Frame struct {
	stack  []*Value
	locals [][]*Value
}

func New() *Frame {
	return &Frame{}
}

// Push pushes v, which may be nil.
func (f *Frame) Push(v *Value) {
	f.stack = append(f.stack, v)
}

// Pop pops the top value. Underflow yields the missing value.
func (f *Frame) Pop() *Value {
	if len(f.stack) == 0 {
		return nil
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

// Peek returns the top value without popping it.
func (f *Frame) Peek() *Value {
	if len(f.stack) == 0 {
		return nil
	}
	return f.stack[len(f.stack)-1]
}

// PopN pops n values and returns them in push order. Missing values are
// padded at the bottom.
func (f *Frame) PopN(n int) []*Value {
	if n <= 0 {
		return nil
	}
	out := make([]*Value, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = f.Pop()
	}
	return out
}

// PopWord pops one category 2 value or two category 1 values, in push
// order. It returns nil when the category of the top value is unknown.
func (f *Frame) PopWord() []*Value {
	v1 := f.Pop()
	t := v1.Type()
	switch {
	case t.IsWide():
		return []*Value{v1}
	case t.IsKnown() && t != jtype.Void:
		v2 := f.Pop()
		return []*Value{v2, v1}
	}
	return nil
}

func (f *Frame) pushAll(vals []*Value) {
	f.stack = append(f.stack, vals...)
}

// Clear empties the operand stack.
func (f *Frame) Clear() {
	clear(f.stack)
	f.stack = f.stack[:0]
}

// Depth returns the number of values on the operand stack.
func (f *Frame) Depth() int {
	return len(f.stack)
}

// Local returns the values stored to slot.
func (f *Frame) Local(slot int) []*Value {
	if slot < 0 || slot >= len(f.locals) {
		return nil
	}
	return f.locals[slot]
}

// Store adds v to the values of slot.
func (f *Frame) Store(slot int, v *Value) {
	if slot < 0 {
		return
	}
	if slot >= len(f.locals) {
		f.locals = slices.Grow(f.locals, slot+1-len(f.locals))[:slot+1]
	}
	if !slices.Contains(f.locals[slot], v) {
		f.locals[slot] = append(f.locals[slot], v)
	}
}

// Load returns the value of slot: a fresh tainted variable of type t if
// nothing was stored, the stored value, or the alternatives of all stored
// values.
func (f *Frame) Load(slot int, t jtype.Type) *Value {
	vals := f.Local(slot)
	switch len(vals) {
	case 0:
		slog.Debug("load of unassigned local", "slot", slot)
		return NewVariable(t, true, false)
	case 1:
		return vals[0]
	}
	return NewAlternatives(vals)
}

// Replace substitutes repl for every occurrence of old on the stack and in
// the locals.
func (f *Frame) Replace(old, repl *Value) {
	if old == nil || old == repl {
		return
	}
	for i, v := range f.stack {
		if v == old {
			f.stack[i] = repl
		}
	}
	for _, vals := range f.locals {
		for i, v := range vals {
			if v == old {
				vals[i] = repl
			}
		}
	}
}

// MultiAssigned reports whether any local holds more than one value.
func (f *Frame) MultiAssigned() bool {
	for _, vals := range f.locals {
		if len(vals) > 1 {
			return true
		}
	}
	return false
}

// Merge combines the operands of a computation. The result is tainted if any
// operand is tainted or missing. It is a constant if all operands are, and
// typed if the operand types agree. Mixing a reference type with another
// type yields a tainted value of unknown type.
func Merge(vals []*Value) *Value {
	allConstant := true
	tainted := false
	t := jtype.Unknown
	for _, v := range vals {
		if v == nil {
			return NewVariable(jtype.Unknown, true, false)
		}
		tainted = tainted || v.Tainted()
		if v.Kind() != Constant {
			allConstant = false
		}
		vt := v.Type()
		if t.IsKnown() && vt != t && (t.IsReference() || vt.IsReference()) {
			slog.Debug("incompatible operands", "a", t, "b", vt)
			return NewVariable(jtype.Unknown, true, false)
		}
		t = vt
	}
	if allConstant {
		return NewConstant(t, tainted)
	}
	return NewVariable(t, tainted, false)
}

// merge replaces the top n values with their Merge.
func (f *Frame) merge(n int) {
	f.Push(Merge(f.PopN(n)))
}
