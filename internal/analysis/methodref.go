// Package analysis provides method identity and taint state for the call
// graph built by the analyzer.
package analysis

import (
	"cmp"
	"errors"
	"slices"
	"strings"

	"github.com/715d/serianalyzer/pkg/jtype"
)

// ErrNotSameMethod is returned when combining references to different methods.
var ErrNotSameMethod = errors.New("not the same method")

// Key identifies a method independent of any taint state. It is the node key
// of the call graph.
type Key struct {
	Type      string `json:"type"` // binary class name, e.g. java.lang.Runnable
	Method    string `json:"method"`
	Desc      string `json:"desc"`
	Static    bool   `json:"static,omitempty"`
	Interface bool   `json:"interface,omitempty"`
}

// String returns "Type->method [desc]", with "::" for static methods.
func (k Key) String() string {
	var b strings.Builder
	b.Grow(len(k.Type) + len(k.Method) + len(k.Desc) + 6)
	b.WriteString(k.Type)
	if k.Static {
		b.WriteString("::")
	} else {
		b.WriteString("->")
	}
	b.WriteString(k.Method)
	b.WriteString(" [")
	b.WriteString(k.Desc)
	b.WriteByte(']')
	return b.String()
}

// Compare orders keys by type, method, descriptor and flags.
func (k Key) Compare(o Key) int {
	if c := cmp.Compare(k.Type, o.Type); c != 0 {
		return c
	}
	if c := cmp.Compare(k.Method, o.Method); c != 0 {
		return c
	}
	if c := cmp.Compare(k.Desc, o.Desc); c != 0 {
		return c
	}
	if k.Static != o.Static {
		return boolCompare(k.Static)
	}
	if k.Interface != o.Interface {
		return boolCompare(k.Interface)
	}
	return 0
}

func boolCompare(first bool) int {
	if first {
		return 1
	}
	return -1
}

// IsConstructor reports whether the key names an instance initializer.
func (k Key) IsConstructor() bool {
	return k.Method == "<init>"
}

// MethodRef is a call or call target: a Key plus the taint state the call
// was made with. The taint state only grows, except through FullTaint which
// returns a new reference.
type MethodRef struct {
	Key

	calleeTaint  bool
	params       TaintSet
	paramReturns TaintSet
	argTypes     []jtype.Type
	targetType   jtype.Type
}

// NewMethodRef returns an untainted reference to the method k.
func NewMethodRef(k Key) *MethodRef {
	return &MethodRef{Key: k}
}

// ArgCount returns the number of declared parameters.
func (r *MethodRef) ArgCount() int {
	return jtype.ArgumentCount(r.Desc)
}

// Comparable returns a reference with the same identity and no taint state.
func (r *MethodRef) Comparable() *MethodRef {
	return NewMethodRef(r.Key)
}

func (r *MethodRef) CalleeTainted() bool { return r.calleeTaint }

// TaintCallee marks the receiver tainted and reports whether that changed
// anything.
func (r *MethodRef) TaintCallee() bool {
	old := r.calleeTaint
	r.calleeTaint = true
	return !old
}

func (r *MethodRef) ParamTainted(i int) bool { return r.params.Has(i) }

// TaintParam marks parameter i tainted and reports whether that changed
// anything.
func (r *MethodRef) TaintParam(i int) bool { return r.params.Set(i) }

// ParamReturnTainted reports whether values returned by the method are
// tainted whenever parameter i is.
func (r *MethodRef) ParamReturnTainted(i int) bool { return r.paramReturns.Has(i) }

func (r *MethodRef) TaintParamReturn(i int) bool { return r.paramReturns.Set(i) }

// TaintedParams returns the tainted parameter indices.
func (r *MethodRef) TaintedParams() []int { return r.params.Indices() }

// TaintedParamReturns returns the parameter indices that taint the return value.
func (r *MethodRef) TaintedParamReturns() []int { return r.paramReturns.Indices() }

// ArgTypes returns the argument types observed at the call site, or nil when
// only the descriptor is known.
func (r *MethodRef) ArgTypes() []jtype.Type { return r.argTypes }

// SetArgTypes records the observed argument types. An empty list clears them.
func (r *MethodRef) SetArgTypes(types []jtype.Type) {
	if len(types) == 0 {
		r.argTypes = nil
		return
	}
	r.argTypes = slices.Clone(types)
}

// TargetType returns the concrete receiver type observed at the call site.
func (r *MethodRef) TargetType() jtype.Type { return r.targetType }

func (r *MethodRef) SetTargetType(t jtype.Type) { r.targetType = t }

// Implies reports whether r is at least as tainted as o in every dimension
// while naming the same method with the same observed types. A call implied
// by an already known call does not need another simulation.
func (r *MethodRef) Implies(o *MethodRef) bool {
	if r.Key != o.Key {
		return false
	}
	if o.calleeTaint && !r.calleeTaint {
		return false
	}
	if r.targetType != o.targetType || !slices.Equal(r.argTypes, o.argTypes) {
		return false
	}
	return o.params.SubsetOf(&r.params) && o.paramReturns.SubsetOf(&r.paramReturns)
}

// Equal reports whether r and o have the same identity and taint state.
func (r *MethodRef) Equal(o *MethodRef) bool {
	return r.Key == o.Key &&
		r.calleeTaint == o.calleeTaint &&
		r.targetType == o.targetType &&
		slices.Equal(r.argTypes, o.argTypes) &&
		r.params.Equals(&o.params) &&
		r.paramReturns.Equals(&o.paramReturns)
}

// MaxTaint returns a reference carrying the union of the taint of r and o.
// Observed types are not carried over.
func (r *MethodRef) MaxTaint(o *MethodRef) (*MethodRef, error) {
	if r.Key != o.Key {
		return nil, ErrNotSameMethod
	}
	ref := NewMethodRef(r.Key)
	ref.calleeTaint = r.calleeTaint || o.calleeTaint
	ref.params.CopyFrom(&r.params)
	ref.params.UnionWith(&o.params)
	ref.paramReturns.CopyFrom(&r.paramReturns)
	ref.paramReturns.UnionWith(&o.paramReturns)
	return ref, nil
}

// FullTaint returns a reference to the same method with the receiver and
// every parameter tainted and no observed types.
func (r *MethodRef) FullTaint() *MethodRef {
	ref := NewMethodRef(r.Key)
	ref.calleeTaint = true
	for i := range r.ArgCount() {
		ref.params.Set(i)
	}
	return ref
}

// AdaptToType returns a copy of r dispatched on the class name. The result is
// never an interface reference and has no target type.
func (r *MethodRef) AdaptToType(name string) *MethodRef {
	k := r.Key
	k.Type = name
	k.Interface = false
	ref := NewMethodRef(k)
	ref.calleeTaint = r.calleeTaint
	ref.params.CopyFrom(&r.params)
	ref.paramReturns.CopyFrom(&r.paramReturns)
	ref.argTypes = slices.Clone(r.argTypes)
	return ref
}

// Clone returns a deep copy of r.
func (r *MethodRef) Clone() *MethodRef {
	ref := r.AdaptToType(r.Type)
	ref.Interface = r.Interface
	ref.targetType = r.targetType
	return ref
}

// VariantKey identifies r including its taint state and observed types.
func (r *MethodRef) VariantKey() string {
	var b strings.Builder
	b.WriteString(r.String())
	b.WriteString(" R[")
	for i := range r.ArgCount() {
		b.WriteByte(taintChar(r.paramReturns.Has(i)))
	}
	b.WriteString("] ")
	b.WriteString(string(r.targetType))
	return b.String()
}

// String formats r as "Type->method [desc]/(argtypes,) T[TU]": the observed
// argument types if any, the receiver taint and one flag per parameter.
func (r *MethodRef) String() string {
	var b strings.Builder
	b.WriteString(r.Key.String())
	if r.argTypes != nil {
		b.WriteString("/(")
		for _, t := range r.argTypes {
			b.WriteString(string(t))
			b.WriteByte(',')
		}
		b.WriteByte(')')
	}
	b.WriteByte(' ')
	b.WriteByte(taintChar(r.calleeTaint))
	b.WriteByte('[')
	for i := range r.ArgCount() {
		b.WriteByte(taintChar(r.params.Has(i)))
	}
	b.WriteByte(']')
	return b.String()
}

func taintChar(tainted bool) byte {
	if tainted {
		return 'T'
	}
	return 'U'
}
