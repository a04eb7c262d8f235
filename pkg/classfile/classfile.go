// Package classfile decodes JVM class files into the class metadata and
// instruction streams consumed by the analysis.
//
// Names are kept in their internal, slash separated form (java/lang/Object).
// Method bodies are decoded lazily: Parse only records the Code attribute and
// (*Code).Instructions turns it into a normalized instruction stream the
// first time it is requested. Short forms (iload_0, ldc_w, goto_w, wide) are
// expanded to their canonical opcode and OpLabel pseudo-instructions are
// inserted before every branch target, switch target and exception handler
// boundary.
package classfile

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBadMagic is returned for input that does not start with 0xCAFEBABE.
	ErrBadMagic = errors.New("not a class file")
	// ErrTruncated is returned when the input ends inside a structure.
	ErrTruncated = errors.New("truncated class file")
)

// AccessFlags is the access_flags bitmask of a class or method.
type AccessFlags uint16

// Access flag bits.
const (
	AccPublic     AccessFlags = 0x0001
	AccPrivate    AccessFlags = 0x0002
	AccProtected  AccessFlags = 0x0004
	AccStatic     AccessFlags = 0x0008
	AccFinal      AccessFlags = 0x0010
	AccNative     AccessFlags = 0x0100
	AccInterface  AccessFlags = 0x0200
	AccAbstract   AccessFlags = 0x0400
	AccSynthetic  AccessFlags = 0x1000
	AccAnnotation AccessFlags = 0x2000
	AccEnum       AccessFlags = 0x4000
)

func (a AccessFlags) Has(f AccessFlags) bool { return a&f != 0 }

// Class is a decoded class file.
type Class struct {
	Name             string
	Super            string // empty for java/lang/Object and module-info
	Interfaces       []string
	Access           AccessFlags
	Methods          []*Method
	BootstrapMethods []BootstrapMethod

	pool pool
}

// IsInterface reports whether the class is an interface.
func (c *Class) IsInterface() bool { return c.Access.Has(AccInterface) }

// Method returns the method with the given name and descriptor, or nil.
func (c *Class) Method(name, desc string) *Method {
	for _, m := range c.Methods {
		if m.Name == name && m.Desc == desc {
			return m
		}
	}
	return nil
}

// Method is a method_info structure.
type Method struct {
	Name   string
	Desc   string
	Access AccessFlags
	Code   *Code // nil for native and abstract methods
}

func (m *Method) IsStatic() bool   { return m.Access.Has(AccStatic) }
func (m *Method) IsNative() bool   { return m.Access.Has(AccNative) }
func (m *Method) IsAbstract() bool { return m.Access.Has(AccAbstract) }
func (m *Method) IsPublic() bool   { return m.Access.Has(AccPublic) }

// DottedName converts an internal class name to its binary name.
func DottedName(internal string) string {
	return strings.ReplaceAll(internal, "/", ".")
}

// InternalName converts a binary class name to its internal form.
func InternalName(dotted string) string {
	return strings.ReplaceAll(dotted, ".", "/")
}

// Parse decodes a class file.
func Parse(data []byte) (*Class, error) {
	r := &reader{data: data}
	magic, err := r.u4()
	if err != nil {
		return nil, err
	}
	if magic != 0xcafebabe {
		return nil, fmt.Errorf("%w: magic %#x", ErrBadMagic, magic)
	}
	if err := r.skip(4); err != nil { // minor, major
		return nil, err
	}
	p, err := readPool(r)
	if err != nil {
		return nil, fmt.Errorf("read constant pool: %w", err)
	}
	c := &Class{pool: p}

	access, err := r.u2()
	if err != nil {
		return nil, err
	}
	c.Access = AccessFlags(access)
	this, err := r.u2()
	if err != nil {
		return nil, err
	}
	if c.Name, err = p.className(this); err != nil {
		return nil, fmt.Errorf("this_class: %w", err)
	}
	super, err := r.u2()
	if err != nil {
		return nil, err
	}
	if super != 0 {
		if c.Super, err = p.className(super); err != nil {
			return nil, fmt.Errorf("super_class: %w", err)
		}
	}
	n, err := r.u2()
	if err != nil {
		return nil, err
	}
	for range n {
		idx, err := r.u2()
		if err != nil {
			return nil, err
		}
		name, err := p.className(idx)
		if err != nil {
			return nil, fmt.Errorf("interface: %w", err)
		}
		c.Interfaces = append(c.Interfaces, name)
	}

	// Fields carry nothing the analysis needs.
	if n, err = r.u2(); err != nil {
		return nil, err
	}
	for range n {
		if err := r.skip(6); err != nil {
			return nil, err
		}
		if err := skipAttributes(r); err != nil {
			return nil, err
		}
	}

	if n, err = r.u2(); err != nil {
		return nil, err
	}
	for range n {
		m, err := readMethod(r, c)
		if err != nil {
			return nil, fmt.Errorf("class %s: %w", c.Name, err)
		}
		c.Methods = append(c.Methods, m)
	}

	if n, err = r.u2(); err != nil {
		return nil, err
	}
	for range n {
		name, body, err := readAttribute(r, p)
		if err != nil {
			return nil, err
		}
		if name != "BootstrapMethods" {
			continue
		}
		if c.BootstrapMethods, err = readBootstrapMethods(&reader{data: body}, p); err != nil {
			return nil, fmt.Errorf("class %s: bootstrap methods: %w", c.Name, err)
		}
	}
	return c, nil
}

func readMethod(r *reader, c *Class) (*Method, error) {
	access, err := r.u2()
	if err != nil {
		return nil, err
	}
	nameIdx, err := r.u2()
	if err != nil {
		return nil, err
	}
	descIdx, err := r.u2()
	if err != nil {
		return nil, err
	}
	m := &Method{Access: AccessFlags(access)}
	if m.Name, err = c.pool.utf8(nameIdx); err != nil {
		return nil, err
	}
	if m.Desc, err = c.pool.utf8(descIdx); err != nil {
		return nil, err
	}
	n, err := r.u2()
	if err != nil {
		return nil, err
	}
	for range n {
		name, body, err := readAttribute(r, c.pool)
		if err != nil {
			return nil, err
		}
		if name != "Code" {
			continue
		}
		if m.Code, err = readCode(&reader{data: body}, c); err != nil {
			return nil, fmt.Errorf("method %s%s: %w", m.Name, m.Desc, err)
		}
	}
	return m, nil
}

func readAttribute(r *reader, p pool) (string, []byte, error) {
	nameIdx, err := r.u2()
	if err != nil {
		return "", nil, err
	}
	length, err := r.u4()
	if err != nil {
		return "", nil, err
	}
	body, err := r.bytes(int(length))
	if err != nil {
		return "", nil, err
	}
	name, err := p.utf8(nameIdx)
	if err != nil {
		return "", nil, fmt.Errorf("attribute name: %w", err)
	}
	return name, body, nil
}

func skipAttributes(r *reader) error {
	n, err := r.u2()
	if err != nil {
		return err
	}
	for range n {
		if err := r.skip(2); err != nil {
			return err
		}
		length, err := r.u4()
		if err != nil {
			return err
		}
		if err := r.skip(int(length)); err != nil {
			return err
		}
	}
	return nil
}

func readBootstrapMethods(r *reader, p pool) ([]BootstrapMethod, error) {
	n, err := r.u2()
	if err != nil {
		return nil, err
	}
	bsms := make([]BootstrapMethod, 0, n)
	for range n {
		ref, err := r.u2()
		if err != nil {
			return nil, err
		}
		h, err := p.handle(ref)
		if err != nil {
			return nil, err
		}
		argc, err := r.u2()
		if err != nil {
			return nil, err
		}
		bsm := BootstrapMethod{Handle: *h, Args: make([]Constant, 0, argc)}
		for range argc {
			idx, err := r.u2()
			if err != nil {
				return nil, err
			}
			c, err := p.constant(idx)
			if err != nil {
				return nil, err
			}
			bsm.Args = append(bsm.Args, *c)
		}
		bsms = append(bsms, bsm)
	}
	return bsms, nil
}
