// Package index holds the classes under analysis and answers hierarchy
// queries over them.
package index

import (
	"slices"
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/715d/serianalyzer/internal/analysis"
	"github.com/715d/serianalyzer/pkg/classfile"
)

// ClassInfo is an indexed class with binary (dotted) names.
type ClassInfo struct {
	Name       string
	Super      string
	Interfaces []string
	File       *classfile.Class
}

// Method returns the method with the given name and descriptor, or nil.
func (c *ClassInfo) Method(name, desc string) *classfile.Method {
	return c.File.Method(name, desc)
}

// Methods returns every declared method.
func (c *ClassInfo) Methods() []*classfile.Method {
	return c.File.Methods
}

func (c *ClassInfo) IsInterface() bool { return c.File.IsInterface() }

// Index is an in-memory class index. Add is safe for concurrent use;
// hierarchy queries are answered from indices rebuilt after the last Add.
type Index struct {
	classes *xsync.Map[string, *ClassInfo]
	names   *analysis.NameCache

	mu           sync.Mutex
	dirty        bool
	subclasses   map[string][]string // direct subclasses
	implementors map[string][]string // direct implementors and subinterfaces
}

func New() *Index {
	return &Index{
		classes: xsync.NewMap[string, *ClassInfo](),
		names:   analysis.NewNameCache(),
		dirty:   true,
	}
}

// Names returns the name cache shared by the index and its users.
func (ix *Index) Names() *analysis.NameCache {
	return ix.names
}

// Add indexes c and reports whether it was new. A class that is already
// indexed keeps its first definition.
func (ix *Index) Add(c *classfile.Class) bool {
	info := &ClassInfo{
		Name:  ix.names.DottedName(c.Name),
		Super: ix.names.DottedName(c.Super),
		File:  c,
	}
	for _, i := range c.Interfaces {
		info.Interfaces = append(info.Interfaces, ix.names.DottedName(i))
	}
	_, loaded := ix.classes.LoadOrStore(info.Name, info)
	if loaded {
		return false
	}
	ix.mu.Lock()
	ix.dirty = true
	ix.mu.Unlock()
	return true
}

// Class returns the class with the given binary name, or nil.
func (ix *Index) Class(name string) *ClassInfo {
	c, _ := ix.classes.Load(name)
	return c
}

// Len returns the number of indexed classes.
func (ix *Index) Len() int {
	return ix.classes.Size()
}

// Classes returns every indexed class sorted by name.
func (ix *Index) Classes() []*ClassInfo {
	out := make([]*ClassInfo, 0, ix.classes.Size())
	ix.classes.Range(func(_ string, c *ClassInfo) bool {
		out = append(out, c)
		return true
	})
	slices.SortFunc(out, func(a, b *ClassInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func (ix *Index) rebuild() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.dirty {
		return
	}
	ix.subclasses = make(map[string][]string)
	ix.implementors = make(map[string][]string)
	for _, c := range ix.Classes() {
		if c.Super != "" {
			ix.subclasses[c.Super] = append(ix.subclasses[c.Super], c.Name)
		}
		for _, i := range c.Interfaces {
			ix.implementors[i] = append(ix.implementors[i], c.Name)
		}
	}
	ix.dirty = false
}

// Subclasses returns every indexed class that transitively extends name.
func (ix *Index) Subclasses(name string) []*ClassInfo {
	ix.rebuild()
	var out []*ClassInfo
	seen := map[string]bool{name: true}
	queue := slices.Clone(ix.subclasses[name])
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n] {
			continue
		}
		seen[n] = true
		if c := ix.Class(n); c != nil {
			out = append(out, c)
		}
		queue = append(queue, ix.subclasses[n]...)
	}
	return out
}

// Implementors returns every indexed non-interface class that implements the
// interface name directly, through a subinterface or through a superclass.
func (ix *Index) Implementors(name string) []*ClassInfo {
	ix.rebuild()
	var out []*ClassInfo
	seen := map[string]bool{name: true}
	queue := slices.Clone(ix.implementors[name])
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n] {
			continue
		}
		seen[n] = true
		c := ix.Class(n)
		if c == nil {
			continue
		}
		if c.IsInterface() {
			queue = append(queue, ix.implementors[n]...)
			continue
		}
		out = append(out, c)
		queue = append(queue, ix.subclasses[n]...)
	}
	return out
}
