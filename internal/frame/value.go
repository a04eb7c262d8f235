// Package frame simulates JVM operand stacks and local variables over
// abstract values that carry a taint flag and an approximate type.
package frame

import (
	"fmt"
	"slices"
	"strings"

	"github.com/715d/serianalyzer/pkg/jtype"
)

// Kind is the variant of a Value.
type Kind uint8

const (
	// Constant is a literal or a value computed only from literals.
	Constant Kind = iota + 1
	// Variable is an unknown value of a given type.
	Variable
	// ObjectRef is the result of new and names the exact allocated class.
	ObjectRef
	// FieldRef is a field load, including the receiver of the method.
	FieldRef
	// Alternatives joins the values assigned to one local along different
	// paths.
	Alternatives
)

func (k Kind) String() string {
	switch k {
	case Constant:
		return "constant"
	case Variable:
		return "variable"
	case ObjectRef:
		return "objref"
	case FieldRef:
		return "field"
	case Alternatives:
		return "alternatives"
	}
	return "invalid"
}

// Value is an abstract stack or local cell. Values are immutable; the
// With* methods return fresh values.
//
// The nil *Value is the missing value produced by stack underflow: it is
// tainted and its type is unknown.
type Value struct {
	kind     Kind
	typ      jtype.Type
	tainted  bool
	altTypes []jtype.Type

	// Variable: a tainted parameter taints the caller's return value.
	taintReturns bool
	// ObjectRef: the binary name of the allocated class.
	class string
	// FieldRef
	owner, field string
	this         bool
	// Alternatives, never nested.
	alts []*Value
}

func NewConstant(t jtype.Type, tainted bool) *Value {
	return &Value{kind: Constant, typ: t, tainted: tainted}
}

func NewVariable(t jtype.Type, tainted, taintReturns bool) *Value {
	return &Value{kind: Variable, typ: t, tainted: tainted, taintReturns: taintReturns}
}

// NewObjectRef returns the untainted result of allocating className.
func NewObjectRef(className string) *Value {
	return &Value{kind: ObjectRef, typ: jtype.FromClassName(className), class: className}
}

// NewFieldRef returns the value of field name of owner. The receiver of a
// method is the field "this" with isThis set.
func NewFieldRef(owner, name string, t jtype.Type, tainted, isThis bool) *Value {
	return &Value{kind: FieldRef, typ: t, tainted: tainted, owner: owner, field: name, this: isThis}
}

// NewAlternatives joins vals. Nested alternatives are flattened and
// duplicates dropped; a single remaining value is returned as is.
func NewAlternatives(vals []*Value) *Value {
	var flat []*Value
	add := func(v *Value) {
		if !slices.Contains(flat, v) {
			flat = append(flat, v)
		}
	}
	for _, v := range vals {
		if v != nil && v.kind == Alternatives {
			for _, a := range v.alts {
				add(a)
			}
			continue
		}
		add(v)
	}
	if len(flat) == 1 {
		return flat[0]
	}
	alt := &Value{kind: Alternatives, alts: flat}
	for _, v := range flat {
		if v.Tainted() {
			alt.tainted = true
			break
		}
	}
	return alt
}

func (v *Value) Kind() Kind {
	if v == nil {
		return 0
	}
	return v.kind
}

// Tainted reports whether v may be attacker controlled. Missing values are.
func (v *Value) Tainted() bool {
	return v == nil || v.tainted
}

// Type returns the static type of v. Alternatives have the type all of
// their members agree on, or Unknown.
func (v *Value) Type() jtype.Type {
	if v == nil {
		return jtype.Unknown
	}
	if v.kind != Alternatives {
		return v.typ
	}
	common := jtype.Unknown
	for _, a := range v.alts {
		t := a.Type()
		if !t.IsKnown() || (common.IsKnown() && common != t) {
			return jtype.Unknown
		}
		common = t
	}
	return common
}

// AltTypes returns the runtime types learned from casts and instanceof.
func (v *Value) AltTypes() []jtype.Type {
	if v == nil {
		return nil
	}
	return v.altTypes
}

func (v *Value) TaintReturns() bool {
	return v != nil && v.taintReturns
}

// ClassName returns the allocated class of an ObjectRef.
func (v *Value) ClassName() string {
	if v == nil {
		return ""
	}
	return v.class
}

// Field returns the owner and name of a FieldRef.
func (v *Value) Field() (owner, name string) {
	if v == nil {
		return "", ""
	}
	return v.owner, v.field
}

func (v *Value) IsThis() bool {
	return v != nil && v.this
}

// Members returns the joined values of an Alternatives value.
func (v *Value) Members() []*Value {
	if v == nil {
		return nil
	}
	return v.alts
}

// WithTaint returns a tainted copy of v, or v itself if it already is.
func (v *Value) WithTaint() *Value {
	if v.Tainted() {
		return v
	}
	c := *v
	c.tainted = true
	return &c
}

// WithAltType returns a copy of v that additionally may have runtime type t.
func (v *Value) WithAltType(t jtype.Type) *Value {
	if v == nil || slices.Contains(v.altTypes, t) {
		return v
	}
	c := *v
	c.altTypes = append(slices.Clip(v.altTypes), t)
	return &c
}

// Cast returns the result of a primitive conversion of v to t.
func Cast(v *Value, t jtype.Type) *Value {
	if v != nil && v.kind == Constant {
		return NewConstant(t, v.tainted)
	}
	return NewVariable(t, v.Tainted(), false)
}

func (v *Value) String() string {
	if v == nil {
		return "<missing>"
	}
	var b strings.Builder
	switch v.kind {
	case ObjectRef:
		fmt.Fprintf(&b, "objref %s", v.class)
	case FieldRef:
		fmt.Fprintf(&b, "%s->%s (%s)", v.owner, v.field, v.typ)
	case Alternatives:
		b.WriteString("alternatives [")
		for i, a := range v.alts {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(a.String())
		}
		b.WriteByte(']')
	default:
		fmt.Fprintf(&b, "%s %s", v.kind, v.typ)
	}
	if v.tainted {
		b.WriteString(" <T>")
	} else {
		b.WriteString(" <U>")
	}
	return b.String()
}
