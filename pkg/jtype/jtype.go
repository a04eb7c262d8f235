// Package jtype models JVM field and method descriptors.
package jtype

import "strings"

// Sort classifies a Type.
type Sort uint8

const (
	SortUnknown Sort = iota
	SortVoid
	SortBoolean
	SortChar
	SortByte
	SortShort
	SortInt
	SortFloat
	SortLong
	SortDouble
	SortArray
	SortObject
)

// Type is a JVM field descriptor such as "I", "[J" or "Ljava/lang/String;".
// The zero value is the unknown type.
type Type string

// Well known types.
const (
	Unknown      Type = ""
	Void         Type = "V"
	Boolean      Type = "Z"
	Char         Type = "C"
	Byte         Type = "B"
	Short        Type = "S"
	Int          Type = "I"
	Float        Type = "F"
	Long         Type = "J"
	Double       Type = "D"
	Object       Type = "Ljava/lang/Object;"
	Serializable Type = "Ljava/io/Serializable;"
	Class        Type = "Ljava/lang/Class;"
	String       Type = "Ljava/lang/String;"
)

// Sort returns the kind of t.
func (t Type) Sort() Sort {
	if t == "" {
		return SortUnknown
	}
	switch t[0] {
	case 'V':
		return SortVoid
	case 'Z':
		return SortBoolean
	case 'C':
		return SortChar
	case 'B':
		return SortByte
	case 'S':
		return SortShort
	case 'I':
		return SortInt
	case 'F':
		return SortFloat
	case 'J':
		return SortLong
	case 'D':
		return SortDouble
	case '[':
		return SortArray
	case 'L':
		return SortObject
	}
	return SortUnknown
}

// IsKnown reports whether t carries type information.
func (t Type) IsKnown() bool {
	return t != Unknown
}

// IsReference reports whether t is an object or array type.
func (t Type) IsReference() bool {
	s := t.Sort()
	return s == SortObject || s == SortArray
}

// IsArray reports whether t is an array type.
func (t Type) IsArray() bool {
	return t.Sort() == SortArray
}

// IsWide reports whether t occupies two stack words or local slots.
func (t Type) IsWide() bool {
	return t == Long || t == Double
}

// Elem returns the element type of an array type, or Unknown.
func (t Type) Elem() Type {
	if !t.IsArray() {
		return Unknown
	}
	return t[1:]
}

// ClassName returns the Java source name of t, e.g. "java.lang.String",
// "int" or "java.lang.Object[][]".
func (t Type) ClassName() string {
	switch t.Sort() {
	case SortVoid:
		return "void"
	case SortBoolean:
		return "boolean"
	case SortChar:
		return "char"
	case SortByte:
		return "byte"
	case SortShort:
		return "short"
	case SortInt:
		return "int"
	case SortFloat:
		return "float"
	case SortLong:
		return "long"
	case SortDouble:
		return "double"
	case SortArray:
		dims := strings.LastIndexByte(string(t), '[') + 1
		return t[dims:].ClassName() + strings.Repeat("[]", dims)
	case SortObject:
		return strings.ReplaceAll(string(t[1:len(t)-1]), "/", ".")
	}
	return ""
}

// InternalName returns the slash separated class name of an object type.
// Array types return their descriptor, as the class file format does.
func (t Type) InternalName() string {
	switch t.Sort() {
	case SortObject:
		return string(t[1 : len(t)-1])
	case SortArray:
		return string(t)
	}
	return ""
}

// ObjectOf returns the type named by an internal name as found in the
// constant pool. Array descriptors are returned unchanged.
func ObjectOf(internalName string) Type {
	if strings.HasPrefix(internalName, "[") {
		return Type(internalName)
	}
	return Type("L" + internalName + ";")
}

var primitiveNames = map[string]Type{
	"void":    Void,
	"boolean": Boolean,
	"char":    Char,
	"byte":    Byte,
	"short":   Short,
	"int":     Int,
	"float":   Float,
	"long":    Long,
	"double":  Double,
}

// FromClassName converts a Java source name back to a descriptor.
func FromClassName(name string) Type {
	dims := 0
	for strings.HasSuffix(name, "[]") {
		name = name[:len(name)-2]
		dims++
	}
	elem, ok := primitiveNames[name]
	if !ok {
		elem = Type("L" + strings.ReplaceAll(name, ".", "/") + ";")
	}
	return Type(strings.Repeat("[", dims)) + elem
}

// PrimitiveArray returns the array type created by newarray for the given
// atype operand.
func PrimitiveArray(atype int) Type {
	switch atype {
	case 4:
		return "[Z"
	case 5:
		return "[C"
	case 6:
		return "[F"
	case 7:
		return "[D"
	case 8:
		return "[B"
	case 9:
		return "[S"
	case 10:
		return "[I"
	case 11:
		return "[J"
	}
	return Unknown
}

// ArgumentTypes returns the parameter types of a method descriptor.
// Malformed descriptors yield the types parsed before the error.
func ArgumentTypes(desc string) []Type {
	if !strings.HasPrefix(desc, "(") {
		return nil
	}
	var args []Type
	i := 1
	for i < len(desc) && desc[i] != ')' {
		n := fieldLen(desc[i:])
		if n == 0 {
			return args
		}
		args = append(args, Type(desc[i:i+n]))
		i += n
	}
	return args
}

// ReturnType returns the return type of a method descriptor.
func ReturnType(desc string) Type {
	i := strings.IndexByte(desc, ')')
	if i < 0 || i+1 >= len(desc) {
		return Unknown
	}
	return Type(desc[i+1:])
}

// ArgumentCount returns the number of parameters of a method descriptor.
func ArgumentCount(desc string) int {
	return len(ArgumentTypes(desc))
}

// fieldLen returns the length of the field descriptor at the start of s, or 0.
func fieldLen(s string) int {
	i := 0
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i >= len(s) {
		return 0
	}
	switch s[i] {
	case 'Z', 'C', 'B', 'S', 'I', 'F', 'J', 'D', 'V':
		return i + 1
	case 'L':
		end := strings.IndexByte(s[i:], ';')
		if end < 0 {
			return 0
		}
		return i + end + 1
	}
	return 0
}
