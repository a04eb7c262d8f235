package jtype

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArgumentTypes(t *testing.T) {
	tests := []struct {
		name string
		desc string
		args []Type
		ret  Type
	}{
		{name: "no args", desc: "()V", args: nil, ret: Void},
		{name: "readObject", desc: "(Ljava/io/ObjectInputStream;)V", args: []Type{"Ljava/io/ObjectInputStream;"}, ret: Void},
		{name: "wide and arrays", desc: "(J[[ILjava/lang/String;D)[Ljava/lang/Object;", args: []Type{Long, "[[I", String, Double}, ret: "[Ljava/lang/Object;"},
		{name: "malformed", desc: "(Ljava/lang", args: nil, ret: Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.args, ArgumentTypes(tt.desc))
			require.Equal(t, tt.ret, ReturnType(tt.desc))
		})
	}
}

func TestClassName(t *testing.T) {
	tests := []struct {
		typ  Type
		name string
	}{
		{Int, "int"},
		{String, "java.lang.String"},
		{"[[I", "int[][]"},
		{"[Ljava/util/Map$Entry;", "java.util.Map$Entry[]"},
		{Unknown, ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			require.Equal(t, tt.name, tt.typ.ClassName())
			if tt.typ != Unknown {
				require.Equal(t, tt.typ, FromClassName(tt.name))
			}
		})
	}
}

func TestSortAndElem(t *testing.T) {
	require.Equal(t, SortObject, Object.Sort())
	require.True(t, Type("[J").IsReference())
	require.Equal(t, Long, Type("[J").Elem())
	require.True(t, Double.IsWide())
	require.False(t, Int.IsReference())
	require.Equal(t, "java/lang/Object", Object.InternalName())
	require.Equal(t, Type("[I"), ObjectOf("[I"))
	require.Equal(t, String, ObjectOf("java/lang/String"))
	require.Equal(t, Type("[I"), PrimitiveArray(10))
}
