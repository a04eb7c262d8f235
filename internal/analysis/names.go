package analysis

import (
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/715d/serianalyzer/pkg/jtype"
)

// NameCache converts internal class names to binary names and interns binary
// names to dense integer ids for graph algorithms.
type NameCache struct {
	dotted *xsync.Map[string, string]

	mu    sync.Mutex
	ids   map[string]int
	names []string
}

func NewNameCache() *NameCache {
	return &NameCache{
		dotted: xsync.NewMap[string, string](),
		ids:    make(map[string]int),
	}
}

// DottedName returns the binary name for an internal class name, e.g.
// "java.util.Map$Entry" for "java/util/Map$Entry". Array descriptors use the
// source form, "java.lang.Object[]".
func (c *NameCache) DottedName(internal string) string {
	if internal == "" {
		return ""
	}
	name, ok := c.dotted.Load(internal)
	if ok {
		return name
	}
	if strings.HasPrefix(internal, "[") {
		name = jtype.Type(internal).ClassName()
	} else {
		name = strings.ReplaceAll(internal, "/", ".")
	}
	c.dotted.Store(internal, name)
	return name
}

// ID returns the id of name, assigning the next free id on first use.
func (c *NameCache) ID(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.ids[name]; ok {
		return id
	}
	id := len(c.names)
	c.ids[name] = id
	c.names = append(c.names, name)
	return id
}

// Lookup returns the id of name if it has one.
func (c *NameCache) Lookup(name string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.ids[name]
	return id, ok
}

// Name returns the name interned as id.
func (c *NameCache) Name(id int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id < 0 || id >= len(c.names) {
		return ""
	}
	return c.names[id]
}

// Len returns the number of interned names.
func (c *NameCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.names)
}
