package classfile

// Op is a JVM opcode. Values above 0xff are pseudo-instructions.
type Op uint16

// Opcodes as numbered by the class file format.
const (
	OpNop             Op = 0x00
	OpAconstNull      Op = 0x01
	OpIconstM1        Op = 0x02
	OpIconst0         Op = 0x03
	OpIconst1         Op = 0x04
	OpIconst2         Op = 0x05
	OpIconst3         Op = 0x06
	OpIconst4         Op = 0x07
	OpIconst5         Op = 0x08
	OpLconst0         Op = 0x09
	OpLconst1         Op = 0x0a
	OpFconst0         Op = 0x0b
	OpFconst1         Op = 0x0c
	OpFconst2         Op = 0x0d
	OpDconst0         Op = 0x0e
	OpDconst1         Op = 0x0f
	OpBipush          Op = 0x10
	OpSipush          Op = 0x11
	OpLdc             Op = 0x12
	OpLdcW            Op = 0x13
	OpLdc2W           Op = 0x14
	OpIload           Op = 0x15
	OpLload           Op = 0x16
	OpFload           Op = 0x17
	OpDload           Op = 0x18
	OpAload           Op = 0x19
	OpIload0          Op = 0x1a
	OpIload1          Op = 0x1b
	OpIload2          Op = 0x1c
	OpIload3          Op = 0x1d
	OpLload0          Op = 0x1e
	OpLload1          Op = 0x1f
	OpLload2          Op = 0x20
	OpLload3          Op = 0x21
	OpFload0          Op = 0x22
	OpFload1          Op = 0x23
	OpFload2          Op = 0x24
	OpFload3          Op = 0x25
	OpDload0          Op = 0x26
	OpDload1          Op = 0x27
	OpDload2          Op = 0x28
	OpDload3          Op = 0x29
	OpAload0          Op = 0x2a
	OpAload1          Op = 0x2b
	OpAload2          Op = 0x2c
	OpAload3          Op = 0x2d
	OpIaload          Op = 0x2e
	OpLaload          Op = 0x2f
	OpFaload          Op = 0x30
	OpDaload          Op = 0x31
	OpAaload          Op = 0x32
	OpBaload          Op = 0x33
	OpCaload          Op = 0x34
	OpSaload          Op = 0x35
	OpIstore          Op = 0x36
	OpLstore          Op = 0x37
	OpFstore          Op = 0x38
	OpDstore          Op = 0x39
	OpAstore          Op = 0x3a
	OpIstore0         Op = 0x3b
	OpIstore1         Op = 0x3c
	OpIstore2         Op = 0x3d
	OpIstore3         Op = 0x3e
	OpLstore0         Op = 0x3f
	OpLstore1         Op = 0x40
	OpLstore2         Op = 0x41
	OpLstore3         Op = 0x42
	OpFstore0         Op = 0x43
	OpFstore1         Op = 0x44
	OpFstore2         Op = 0x45
	OpFstore3         Op = 0x46
	OpDstore0         Op = 0x47
	OpDstore1         Op = 0x48
	OpDstore2         Op = 0x49
	OpDstore3         Op = 0x4a
	OpAstore0         Op = 0x4b
	OpAstore1         Op = 0x4c
	OpAstore2         Op = 0x4d
	OpAstore3         Op = 0x4e
	OpIastore         Op = 0x4f
	OpLastore         Op = 0x50
	OpFastore         Op = 0x51
	OpDastore         Op = 0x52
	OpAastore         Op = 0x53
	OpBastore         Op = 0x54
	OpCastore         Op = 0x55
	OpSastore         Op = 0x56
	OpPop             Op = 0x57
	OpPop2            Op = 0x58
	OpDup             Op = 0x59
	OpDupX1           Op = 0x5a
	OpDupX2           Op = 0x5b
	OpDup2            Op = 0x5c
	OpDup2X1          Op = 0x5d
	OpDup2X2          Op = 0x5e
	OpSwap            Op = 0x5f
	OpIadd            Op = 0x60
	OpLadd            Op = 0x61
	OpFadd            Op = 0x62
	OpDadd            Op = 0x63
	OpIsub            Op = 0x64
	OpLsub            Op = 0x65
	OpFsub            Op = 0x66
	OpDsub            Op = 0x67
	OpImul            Op = 0x68
	OpLmul            Op = 0x69
	OpFmul            Op = 0x6a
	OpDmul            Op = 0x6b
	OpIdiv            Op = 0x6c
	OpLdiv            Op = 0x6d
	OpFdiv            Op = 0x6e
	OpDdiv            Op = 0x6f
	OpIrem            Op = 0x70
	OpLrem            Op = 0x71
	OpFrem            Op = 0x72
	OpDrem            Op = 0x73
	OpIneg            Op = 0x74
	OpLneg            Op = 0x75
	OpFneg            Op = 0x76
	OpDneg            Op = 0x77
	OpIshl            Op = 0x78
	OpLshl            Op = 0x79
	OpIshr            Op = 0x7a
	OpLshr            Op = 0x7b
	OpIushr           Op = 0x7c
	OpLushr           Op = 0x7d
	OpIand            Op = 0x7e
	OpLand            Op = 0x7f
	OpIor             Op = 0x80
	OpLor             Op = 0x81
	OpIxor            Op = 0x82
	OpLxor            Op = 0x83
	OpIinc            Op = 0x84
	OpI2l             Op = 0x85
	OpI2f             Op = 0x86
	OpI2d             Op = 0x87
	OpL2i             Op = 0x88
	OpL2f             Op = 0x89
	OpL2d             Op = 0x8a
	OpF2i             Op = 0x8b
	OpF2l             Op = 0x8c
	OpF2d             Op = 0x8d
	OpD2i             Op = 0x8e
	OpD2l             Op = 0x8f
	OpD2f             Op = 0x90
	OpI2b             Op = 0x91
	OpI2c             Op = 0x92
	OpI2s             Op = 0x93
	OpLcmp            Op = 0x94
	OpFcmpl           Op = 0x95
	OpFcmpg           Op = 0x96
	OpDcmpl           Op = 0x97
	OpDcmpg           Op = 0x98
	OpIfeq            Op = 0x99
	OpIfne            Op = 0x9a
	OpIflt            Op = 0x9b
	OpIfge            Op = 0x9c
	OpIfgt            Op = 0x9d
	OpIfle            Op = 0x9e
	OpIfIcmpeq        Op = 0x9f
	OpIfIcmpne        Op = 0xa0
	OpIfIcmplt        Op = 0xa1
	OpIfIcmpge        Op = 0xa2
	OpIfIcmpgt        Op = 0xa3
	OpIfIcmple        Op = 0xa4
	OpIfAcmpeq        Op = 0xa5
	OpIfAcmpne        Op = 0xa6
	OpGoto            Op = 0xa7
	OpJsr             Op = 0xa8
	OpRet             Op = 0xa9
	OpTableswitch     Op = 0xaa
	OpLookupswitch    Op = 0xab
	OpIreturn         Op = 0xac
	OpLreturn         Op = 0xad
	OpFreturn         Op = 0xae
	OpDreturn         Op = 0xaf
	OpAreturn         Op = 0xb0
	OpReturn          Op = 0xb1
	OpGetstatic       Op = 0xb2
	OpPutstatic       Op = 0xb3
	OpGetfield        Op = 0xb4
	OpPutfield        Op = 0xb5
	OpInvokevirtual   Op = 0xb6
	OpInvokespecial   Op = 0xb7
	OpInvokestatic    Op = 0xb8
	OpInvokeinterface Op = 0xb9
	OpInvokedynamic   Op = 0xba
	OpNew             Op = 0xbb
	OpNewarray        Op = 0xbc
	OpAnewarray       Op = 0xbd
	OpArraylength     Op = 0xbe
	OpAthrow          Op = 0xbf
	OpCheckcast       Op = 0xc0
	OpInstanceof      Op = 0xc1
	OpMonitorenter    Op = 0xc2
	OpMonitorexit     Op = 0xc3
	OpWide            Op = 0xc4
	OpMultianewarray  Op = 0xc5
	OpIfnull          Op = 0xc6
	OpIfnonnull       Op = 0xc7
	OpGotoW           Op = 0xc8
	OpJsrW            Op = 0xc9

	// OpLabel marks a branch target, switch target or exception handler
	// boundary. Instruction.Label holds the bytecode offset it marks.
	OpLabel Op = 0x100
)

var opNames = [...]string{
	OpNop:             "nop",
	OpAconstNull:      "aconst_null",
	OpIconstM1:        "iconst_m1",
	OpIconst0:         "iconst_0",
	OpIconst1:         "iconst_1",
	OpIconst2:         "iconst_2",
	OpIconst3:         "iconst_3",
	OpIconst4:         "iconst_4",
	OpIconst5:         "iconst_5",
	OpLconst0:         "lconst_0",
	OpLconst1:         "lconst_1",
	OpFconst0:         "fconst_0",
	OpFconst1:         "fconst_1",
	OpFconst2:         "fconst_2",
	OpDconst0:         "dconst_0",
	OpDconst1:         "dconst_1",
	OpBipush:          "bipush",
	OpSipush:          "sipush",
	OpLdc:             "ldc",
	OpLdcW:            "ldc_w",
	OpLdc2W:           "ldc2_w",
	OpIload:           "iload",
	OpLload:           "lload",
	OpFload:           "fload",
	OpDload:           "dload",
	OpAload:           "aload",
	OpIload0:          "iload_0",
	OpIload1:          "iload_1",
	OpIload2:          "iload_2",
	OpIload3:          "iload_3",
	OpLload0:          "lload_0",
	OpLload1:          "lload_1",
	OpLload2:          "lload_2",
	OpLload3:          "lload_3",
	OpFload0:          "fload_0",
	OpFload1:          "fload_1",
	OpFload2:          "fload_2",
	OpFload3:          "fload_3",
	OpDload0:          "dload_0",
	OpDload1:          "dload_1",
	OpDload2:          "dload_2",
	OpDload3:          "dload_3",
	OpAload0:          "aload_0",
	OpAload1:          "aload_1",
	OpAload2:          "aload_2",
	OpAload3:          "aload_3",
	OpIaload:          "iaload",
	OpLaload:          "laload",
	OpFaload:          "faload",
	OpDaload:          "daload",
	OpAaload:          "aaload",
	OpBaload:          "baload",
	OpCaload:          "caload",
	OpSaload:          "saload",
	OpIstore:          "istore",
	OpLstore:          "lstore",
	OpFstore:          "fstore",
	OpDstore:          "dstore",
	OpAstore:          "astore",
	OpIstore0:         "istore_0",
	OpIstore1:         "istore_1",
	OpIstore2:         "istore_2",
	OpIstore3:         "istore_3",
	OpLstore0:         "lstore_0",
	OpLstore1:         "lstore_1",
	OpLstore2:         "lstore_2",
	OpLstore3:         "lstore_3",
	OpFstore0:         "fstore_0",
	OpFstore1:         "fstore_1",
	OpFstore2:         "fstore_2",
	OpFstore3:         "fstore_3",
	OpDstore0:         "dstore_0",
	OpDstore1:         "dstore_1",
	OpDstore2:         "dstore_2",
	OpDstore3:         "dstore_3",
	OpAstore0:         "astore_0",
	OpAstore1:         "astore_1",
	OpAstore2:         "astore_2",
	OpAstore3:         "astore_3",
	OpIastore:         "iastore",
	OpLastore:         "lastore",
	OpFastore:         "fastore",
	OpDastore:         "dastore",
	OpAastore:         "aastore",
	OpBastore:         "bastore",
	OpCastore:         "castore",
	OpSastore:         "sastore",
	OpPop:             "pop",
	OpPop2:            "pop2",
	OpDup:             "dup",
	OpDupX1:           "dup_x1",
	OpDupX2:           "dup_x2",
	OpDup2:            "dup2",
	OpDup2X1:          "dup2_x1",
	OpDup2X2:          "dup2_x2",
	OpSwap:            "swap",
	OpIadd:            "iadd",
	OpLadd:            "ladd",
	OpFadd:            "fadd",
	OpDadd:            "dadd",
	OpIsub:            "isub",
	OpLsub:            "lsub",
	OpFsub:            "fsub",
	OpDsub:            "dsub",
	OpImul:            "imul",
	OpLmul:            "lmul",
	OpFmul:            "fmul",
	OpDmul:            "dmul",
	OpIdiv:            "idiv",
	OpLdiv:            "ldiv",
	OpFdiv:            "fdiv",
	OpDdiv:            "ddiv",
	OpIrem:            "irem",
	OpLrem:            "lrem",
	OpFrem:            "frem",
	OpDrem:            "drem",
	OpIneg:            "ineg",
	OpLneg:            "lneg",
	OpFneg:            "fneg",
	OpDneg:            "dneg",
	OpIshl:            "ishl",
	OpLshl:            "lshl",
	OpIshr:            "ishr",
	OpLshr:            "lshr",
	OpIushr:           "iushr",
	OpLushr:           "lushr",
	OpIand:            "iand",
	OpLand:            "land",
	OpIor:             "ior",
	OpLor:             "lor",
	OpIxor:            "ixor",
	OpLxor:            "lxor",
	OpIinc:            "iinc",
	OpI2l:             "i2l",
	OpI2f:             "i2f",
	OpI2d:             "i2d",
	OpL2i:             "l2i",
	OpL2f:             "l2f",
	OpL2d:             "l2d",
	OpF2i:             "f2i",
	OpF2l:             "f2l",
	OpF2d:             "f2d",
	OpD2i:             "d2i",
	OpD2l:             "d2l",
	OpD2f:             "d2f",
	OpI2b:             "i2b",
	OpI2c:             "i2c",
	OpI2s:             "i2s",
	OpLcmp:            "lcmp",
	OpFcmpl:           "fcmpl",
	OpFcmpg:           "fcmpg",
	OpDcmpl:           "dcmpl",
	OpDcmpg:           "dcmpg",
	OpIfeq:            "ifeq",
	OpIfne:            "ifne",
	OpIflt:            "iflt",
	OpIfge:            "ifge",
	OpIfgt:            "ifgt",
	OpIfle:            "ifle",
	OpIfIcmpeq:        "if_icmpeq",
	OpIfIcmpne:        "if_icmpne",
	OpIfIcmplt:        "if_icmplt",
	OpIfIcmpge:        "if_icmpge",
	OpIfIcmpgt:        "if_icmpgt",
	OpIfIcmple:        "if_icmple",
	OpIfAcmpeq:        "if_acmpeq",
	OpIfAcmpne:        "if_acmpne",
	OpGoto:            "goto",
	OpJsr:             "jsr",
	OpRet:             "ret",
	OpTableswitch:     "tableswitch",
	OpLookupswitch:    "lookupswitch",
	OpIreturn:         "ireturn",
	OpLreturn:         "lreturn",
	OpFreturn:         "freturn",
	OpDreturn:         "dreturn",
	OpAreturn:         "areturn",
	OpReturn:          "return",
	OpGetstatic:       "getstatic",
	OpPutstatic:       "putstatic",
	OpGetfield:        "getfield",
	OpPutfield:        "putfield",
	OpInvokevirtual:   "invokevirtual",
	OpInvokespecial:   "invokespecial",
	OpInvokestatic:    "invokestatic",
	OpInvokeinterface: "invokeinterface",
	OpInvokedynamic:   "invokedynamic",
	OpNew:             "new",
	OpNewarray:        "newarray",
	OpAnewarray:       "anewarray",
	OpArraylength:     "arraylength",
	OpAthrow:          "athrow",
	OpCheckcast:       "checkcast",
	OpInstanceof:      "instanceof",
	OpMonitorenter:    "monitorenter",
	OpMonitorexit:     "monitorexit",
	OpWide:            "wide",
	OpMultianewarray:  "multianewarray",
	OpIfnull:          "ifnull",
	OpIfnonnull:       "ifnonnull",
	OpGotoW:           "goto_w",
	OpJsrW:            "jsr_w",
}

// String returns the mnemonic of op.
func (op Op) String() string {
	if op == OpLabel {
		return "label"
	}
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return "invalid"
}

var opsByName = func() map[string]Op {
	m := make(map[string]Op, len(opNames)+1)
	for i, n := range opNames {
		m[n] = Op(i)
	}
	m["label"] = OpLabel
	return m
}()

// ParseOp returns the opcode with the given mnemonic.
func ParseOp(name string) (Op, bool) {
	op, ok := opsByName[name]
	return op, ok
}

// IsJump reports whether op transfers control to a label.
func (op Op) IsJump() bool {
	return (op >= OpIfeq && op <= OpJsr) || op == OpIfnull || op == OpIfnonnull
}

// IsReturn reports whether op leaves the method.
func (op Op) IsReturn() bool {
	return (op >= OpIreturn && op <= OpReturn) || op == OpAthrow
}

// IsInvoke reports whether op is a method invocation.
func (op Op) IsInvoke() bool {
	return op >= OpInvokevirtual && op <= OpInvokedynamic
}
