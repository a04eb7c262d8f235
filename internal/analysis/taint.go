package analysis

import "golang.org/x/tools/container/intsets"

// TaintSet is a set of tainted parameter indices.
//
// A TaintSet must not be copied by value once used, use CopyFrom.
type TaintSet struct {
	s intsets.Sparse
}

// Set adds i and reports whether the set changed.
func (t *TaintSet) Set(i int) bool {
	return t.s.Insert(i)
}

// Has reports whether i is in the set.
func (t *TaintSet) Has(i int) bool {
	return t.s.Has(i)
}

// Len returns the number of tainted indices.
func (t *TaintSet) Len() int {
	return t.s.Len()
}

// UnionWith adds every index of o and reports whether the set changed.
func (t *TaintSet) UnionWith(o *TaintSet) bool {
	return t.s.UnionWith(&o.s)
}

// SubsetOf reports whether every index of t is also in o.
func (t *TaintSet) SubsetOf(o *TaintSet) bool {
	return t.s.SubsetOf(&o.s)
}

// Equals reports whether t and o hold the same indices.
func (t *TaintSet) Equals(o *TaintSet) bool {
	return t.s.Equals(&o.s)
}

// CopyFrom replaces the contents of t with those of o.
func (t *TaintSet) CopyFrom(o *TaintSet) {
	t.s.Copy(&o.s)
}

// Indices returns the tainted indices in increasing order.
func (t *TaintSet) Indices() []int {
	return t.s.AppendTo(nil)
}
