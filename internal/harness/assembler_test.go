package harness

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/serianalyzer/pkg/classfile"
	"github.com/715d/serianalyzer/pkg/jtype"
)

func TestAssemble(t *testing.T) {
	insns, err := Assemble(`
		aload_0                       # this
		getfield app/G.task Ljava/lang/Object;
		ifnull done
		ldc "a # b"
		newarray I
		anewarray java/lang/String
		invokeinterface java/lang/Runnable.run ()V
		tableswitch done loop
	loop:
		goto_w loop
	done:
		return
	`)
	require.NoError(t, err)

	ops := make([]classfile.Op, len(insns))
	for i, in := range insns {
		ops[i] = in.Op
		require.Equal(t, i, in.Offset)
	}
	require.Equal(t, []classfile.Op{
		classfile.OpAload, classfile.OpGetfield, classfile.OpIfnull, classfile.OpLdc,
		classfile.OpNewarray, classfile.OpAnewarray, classfile.OpInvokeinterface,
		classfile.OpTableswitch, classfile.OpLabel, classfile.OpGoto, classfile.OpLabel,
		classfile.OpReturn,
	}, ops)

	require.Equal(t, 0, insns[0].Var)
	require.Equal(t, "app/G", insns[1].Owner)
	require.Equal(t, "task", insns[1].Name)
	require.Equal(t, "Ljava/lang/Object;", insns[1].Desc)
	require.Equal(t, "a # b", insns[3].Const.String)
	require.Equal(t, jtype.Type("[I"), insns[4].Type)
	require.Equal(t, 10, insns[4].Int)
	require.Equal(t, jtype.Type("[Ljava/lang/String;"), insns[5].Type)
	require.True(t, insns[6].Interface)

	done, loop := insns[2].Label, insns[9].Label
	require.Equal(t, []int{done, loop}, insns[7].Targets)
	require.Equal(t, loop, insns[8].Label)
	require.Equal(t, done, insns[10].Label)
	require.NotEqual(t, done, loop)
}

func TestAssembleInvokedynamic(t *testing.T) {
	insns, err := Assemble("invokedynamic run ()Ljava/lang/Runnable; static app/G.lambda$0 ()V")
	require.NoError(t, err)
	require.Len(t, insns, 1)

	bsm := insns[0].Bootstrap
	require.NotNil(t, bsm)
	require.Equal(t, "java/lang/invoke/LambdaMetafactory", bsm.Handle.Owner)
	require.Equal(t, "metafactory", bsm.Handle.Name)
	h := bsm.Args[1].Handle
	require.Equal(t, classfile.RefInvokeStatic, h.Kind)
	require.Equal(t, "app/G", h.Owner)
	require.Equal(t, "lambda$0", h.Name)
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"unknown op", "frob", "unknown instruction"},
		{"missing operand", "aload", "missing operand"},
		{"extra operand", "return 1", "want 0 operands"},
		{"bad member", "getfield G Ljava/lang/Object;", "not owner.name"},
		{"bad constant", "ldc nope", "bad constant"},
		{"bad array", "newarray Q", "unknown array element"},
		{"bad handle", "invokedynamic run ()V bogus app/G.m ()V", "unknown handle kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assemble(tt.src)
			require.ErrorContains(t, err, tt.want)
		})
	}
}
