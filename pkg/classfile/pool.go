package classfile

import (
	"fmt"
	"math"

	"github.com/715d/serianalyzer/pkg/jtype"
)

// Constant pool tags.
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

// ConstKind classifies a loadable constant.
type ConstKind uint8

const (
	ConstInt ConstKind = iota + 1
	ConstFloat
	ConstLong
	ConstDouble
	ConstString
	ConstClass
	ConstMethodType
	ConstMethodHandle
	ConstDynamic
)

// Constant is a loadable constant as pushed by ldc or passed to a bootstrap
// method.
type Constant struct {
	Kind   ConstKind
	Int    int64
	Float  float64
	String string  // string value, class internal name, method type or dynamic descriptor
	Handle *Handle // method handle constants
}

// Type returns the type of the value the constant pushes.
func (c *Constant) Type() jtype.Type {
	switch c.Kind {
	case ConstInt:
		return jtype.Int
	case ConstFloat:
		return jtype.Float
	case ConstLong:
		return jtype.Long
	case ConstDouble:
		return jtype.Double
	case ConstString:
		return jtype.String
	case ConstClass:
		return jtype.Class
	case ConstMethodType:
		return "Ljava/lang/invoke/MethodType;"
	case ConstMethodHandle:
		return "Ljava/lang/invoke/MethodHandle;"
	case ConstDynamic:
		return jtype.Type(c.String)
	}
	return jtype.Unknown
}

// Method handle reference kinds.
const (
	RefGetField         = 1
	RefGetStatic        = 2
	RefPutField         = 3
	RefPutStatic        = 4
	RefInvokeVirtual    = 5
	RefInvokeStatic     = 6
	RefInvokeSpecial    = 7
	RefNewInvokeSpecial = 8
	RefInvokeInterface  = 9
)

// Handle is a CONSTANT_MethodHandle.
type Handle struct {
	Kind      int
	Owner     string
	Name      string
	Desc      string
	Interface bool
}

// BootstrapMethod is an entry of the BootstrapMethods attribute.
type BootstrapMethod struct {
	Handle Handle
	Args   []Constant
}

type poolEntry struct {
	tag  uint8
	a, b uint16 // indices for reference entries, reference kind in a for handles
	i    int64
	f    float64
	s    string
}

type pool []poolEntry

func readPool(r *reader) (pool, error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	p := make(pool, count)
	for i := 1; i < int(count); i++ {
		tag, err := r.u1()
		if err != nil {
			return nil, err
		}
		e := poolEntry{tag: tag}
		switch tag {
		case tagUtf8:
			n, err := r.u2()
			if err != nil {
				return nil, err
			}
			b, err := r.bytes(int(n))
			if err != nil {
				return nil, err
			}
			e.s = string(b)
		case tagInteger:
			v, err := r.u4()
			if err != nil {
				return nil, err
			}
			e.i = int64(int32(v))
		case tagFloat:
			v, err := r.u4()
			if err != nil {
				return nil, err
			}
			e.f = float64(math.Float32frombits(v))
		case tagLong, tagDouble:
			hi, err := r.u4()
			if err != nil {
				return nil, err
			}
			lo, err := r.u4()
			if err != nil {
				return nil, err
			}
			bits := uint64(hi)<<32 | uint64(lo)
			if tag == tagLong {
				e.i = int64(bits)
			} else {
				e.f = math.Float64frombits(bits)
			}
		case tagClass, tagString, tagMethodType, tagModule, tagPackage:
			if e.a, err = r.u2(); err != nil {
				return nil, err
			}
		case tagFieldref, tagMethodref, tagInterfaceMethodref, tagNameAndType, tagDynamic, tagInvokeDynamic:
			if e.a, err = r.u2(); err != nil {
				return nil, err
			}
			if e.b, err = r.u2(); err != nil {
				return nil, err
			}
		case tagMethodHandle:
			kind, err := r.u1()
			if err != nil {
				return nil, err
			}
			e.a = uint16(kind)
			if e.b, err = r.u2(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("constant %d: unknown tag %d", i, tag)
		}
		p[i] = e
		if tag == tagLong || tag == tagDouble {
			i++
		}
	}
	return p, nil
}

func (p pool) entry(idx uint16, tags ...uint8) (*poolEntry, error) {
	if idx == 0 || int(idx) >= len(p) {
		return nil, fmt.Errorf("constant index %d out of range", idx)
	}
	e := &p[idx]
	for _, t := range tags {
		if e.tag == t {
			return e, nil
		}
	}
	return nil, fmt.Errorf("constant %d: unexpected tag %d", idx, e.tag)
}

func (p pool) utf8(idx uint16) (string, error) {
	e, err := p.entry(idx, tagUtf8)
	if err != nil {
		return "", err
	}
	return e.s, nil
}

// className resolves a CONSTANT_Class to its internal name.
func (p pool) className(idx uint16) (string, error) {
	e, err := p.entry(idx, tagClass)
	if err != nil {
		return "", err
	}
	return p.utf8(e.a)
}

func (p pool) nameAndType(idx uint16) (name, desc string, err error) {
	e, err := p.entry(idx, tagNameAndType)
	if err != nil {
		return "", "", err
	}
	if name, err = p.utf8(e.a); err != nil {
		return "", "", err
	}
	desc, err = p.utf8(e.b)
	return name, desc, err
}

// member resolves a field or method reference.
func (p pool) member(idx uint16) (owner, name, desc string, iface bool, err error) {
	e, err := p.entry(idx, tagFieldref, tagMethodref, tagInterfaceMethodref)
	if err != nil {
		return "", "", "", false, err
	}
	if owner, err = p.className(e.a); err != nil {
		return "", "", "", false, err
	}
	name, desc, err = p.nameAndType(e.b)
	return owner, name, desc, e.tag == tagInterfaceMethodref, err
}

func (p pool) handle(idx uint16) (*Handle, error) {
	e, err := p.entry(idx, tagMethodHandle)
	if err != nil {
		return nil, err
	}
	owner, name, desc, iface, err := p.member(e.b)
	if err != nil {
		return nil, err
	}
	return &Handle{Kind: int(e.a), Owner: owner, Name: name, Desc: desc, Interface: iface}, nil
}

// constant resolves a loadable constant.
func (p pool) constant(idx uint16) (*Constant, error) {
	e, err := p.entry(idx, tagInteger, tagFloat, tagLong, tagDouble, tagString, tagClass,
		tagMethodType, tagMethodHandle, tagDynamic)
	if err != nil {
		return nil, err
	}
	switch e.tag {
	case tagInteger:
		return &Constant{Kind: ConstInt, Int: e.i}, nil
	case tagFloat:
		return &Constant{Kind: ConstFloat, Float: e.f}, nil
	case tagLong:
		return &Constant{Kind: ConstLong, Int: e.i}, nil
	case tagDouble:
		return &Constant{Kind: ConstDouble, Float: e.f}, nil
	case tagString, tagClass, tagMethodType:
		s, err := p.utf8(e.a)
		if err != nil {
			return nil, err
		}
		kind := map[uint8]ConstKind{tagString: ConstString, tagClass: ConstClass, tagMethodType: ConstMethodType}[e.tag]
		return &Constant{Kind: kind, String: s}, nil
	case tagMethodHandle:
		h, err := p.handle(idx)
		if err != nil {
			return nil, err
		}
		return &Constant{Kind: ConstMethodHandle, Handle: h}, nil
	default:
		_, desc, err := p.nameAndType(e.b)
		if err != nil {
			return nil, err
		}
		return &Constant{Kind: ConstDynamic, String: desc}, nil
	}
}
