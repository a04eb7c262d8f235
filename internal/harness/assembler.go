package harness

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/715d/serianalyzer/pkg/classfile"
	"github.com/715d/serianalyzer/pkg/jtype"
)

// Assemble parses a method body written one instruction per line:
//
//	aload 0
//	getfield app/Gadget.task Ljava/lang/Object;
//	checkcast java/lang/Runnable
//	invokeinterface java/lang/Runnable.run ()V
//	ifnull done
//	done:
//	return
//
// Members are written owner.name desc and newarray takes the element
// descriptor. Labels end with a colon and may be used before they are
// defined; they are numbered in order of first use, not by offset. Lambda
// creation is written
//
//	invokedynamic run ()Ljava/lang/Runnable; static app/G.lambda$0 ()V
//
// naming the handle kind, the implementation method and its descriptor.
// Anything after '#' is a comment.
func Assemble(src string) ([]classfile.Instruction, error) {
	a := &assembler{labels: make(map[string]int)}
	sc := bufio.NewScanner(strings.NewReader(src))
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 && !strings.Contains(text[:i], `"`) {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if err := a.line(text); err != nil {
			return nil, fmt.Errorf("line %d: %q: %w", line, text, err)
		}
	}
	return a.insns, sc.Err()
}

type assembler struct {
	insns  []classfile.Instruction
	labels map[string]int
}

func (a *assembler) label(name string) int {
	id, ok := a.labels[name]
	if !ok {
		id = len(a.labels)
		a.labels[name] = id
	}
	return id
}

func (a *assembler) line(text string) error {
	if name, ok := strings.CutSuffix(text, ":"); ok {
		a.emit(classfile.Instruction{Op: classfile.OpLabel, Label: a.label(name)})
		return nil
	}
	fields := strings.Fields(text)
	op, ok := classfile.ParseOp(fields[0])
	if !ok {
		return fmt.Errorf("unknown instruction %q", fields[0])
	}
	args := fields[1:]
	in := classfile.Instruction{Op: op}

	var err error
	switch {
	case op >= classfile.OpIload0 && op <= classfile.OpAload3:
		n := int(op - classfile.OpIload0)
		in.Op, in.Var = classfile.OpIload+classfile.Op(n/4), n%4
	case op >= classfile.OpIstore0 && op <= classfile.OpAstore3:
		n := int(op - classfile.OpIstore0)
		in.Op, in.Var = classfile.OpIstore+classfile.Op(n/4), n%4
	case op >= classfile.OpIload && op <= classfile.OpAload,
		op >= classfile.OpIstore && op <= classfile.OpAstore,
		op == classfile.OpRet:
		in.Var, err = intArg(args, 0)
	case op == classfile.OpIinc:
		if in.Var, err = intArg(args, 0); err == nil {
			in.Int, err = intArg(args, 1)
		}
	case op == classfile.OpBipush, op == classfile.OpSipush:
		in.Int, err = intArg(args, 0)
	case op == classfile.OpLdc, op == classfile.OpLdcW, op == classfile.OpLdc2W:
		in.Op = classfile.OpLdc
		in.Const, err = constant(strings.TrimSpace(strings.TrimPrefix(text, fields[0])))
	case op == classfile.OpNewarray:
		if err = want(args, 1); err == nil {
			var ok bool
			if in.Int, ok = arrayTypes[args[0]]; !ok {
				err = fmt.Errorf("unknown array element %q", args[0])
			}
			in.Type = jtype.PrimitiveArray(in.Int)
		}
	case op == classfile.OpNew, op == classfile.OpCheckcast, op == classfile.OpInstanceof:
		if err = want(args, 1); err == nil {
			in.Owner, in.Type = args[0], jtype.ObjectOf(args[0])
		}
	case op == classfile.OpAnewarray:
		if err = want(args, 1); err == nil {
			in.Owner, in.Type = args[0], "["+jtype.ObjectOf(args[0])
		}
	case op == classfile.OpMultianewarray:
		if err = want(args, 2); err == nil {
			in.Owner, in.Type = args[0], jtype.ObjectOf(args[0])
			in.Int, err = intArg(args, 1)
		}
	case op >= classfile.OpGetstatic && op <= classfile.OpPutfield,
		op >= classfile.OpInvokevirtual && op <= classfile.OpInvokeinterface:
		if err = want(args, 2); err == nil {
			in.Owner, in.Name, err = member(args[0])
			in.Desc = args[1]
			in.Interface = op == classfile.OpInvokeinterface
		}
	case op == classfile.OpInvokedynamic:
		err = invokedynamic(&in, args)
	case op.IsJump(), op == classfile.OpGotoW:
		if op == classfile.OpGotoW {
			in.Op = classfile.OpGoto
		}
		if err = want(args, 1); err == nil {
			in.Label = a.label(args[0])
		}
	case op == classfile.OpTableswitch, op == classfile.OpLookupswitch:
		if len(args) == 0 {
			return fmt.Errorf("switch needs a default label")
		}
		for _, l := range args {
			in.Targets = append(in.Targets, a.label(l))
		}
	default:
		err = want(args, 0)
	}
	if err != nil {
		return err
	}
	a.emit(in)
	return nil
}

func (a *assembler) emit(in classfile.Instruction) {
	in.Offset = len(a.insns)
	a.insns = append(a.insns, in)
}

func want(args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("want %d operands, got %d", n, len(args))
	}
	return nil
}

func intArg(args []string, i int) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing operand %d", i+1)
	}
	return strconv.Atoi(args[i])
}

// member splits "owner.name".
func member(s string) (owner, name string, err error) {
	i := strings.LastIndexByte(s, '.')
	if i <= 0 || i == len(s)-1 {
		return "", "", fmt.Errorf("member %q is not owner.name", s)
	}
	return s[:i], s[i+1:], nil
}

func constant(s string) (*classfile.Constant, error) {
	switch {
	case s == "":
		return nil, fmt.Errorf("missing constant")
	case strings.HasPrefix(s, `"`):
		v, err := strconv.Unquote(s)
		if err != nil {
			return nil, err
		}
		return &classfile.Constant{Kind: classfile.ConstString, String: v}, nil
	case strings.HasPrefix(s, "class "):
		return &classfile.Constant{Kind: classfile.ConstClass, String: strings.TrimSpace(s[len("class "):])}, nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &classfile.Constant{Kind: classfile.ConstInt, Int: v}, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("bad constant %q", s)
	}
	return &classfile.Constant{Kind: classfile.ConstFloat, Float: v}, nil
}

// arrayTypes maps newarray element descriptors to their atype operand.
var arrayTypes = map[string]int{"Z": 4, "C": 5, "F": 6, "D": 7, "B": 8, "S": 9, "I": 10, "J": 11}

var handleKinds = map[string]int{
	"static":    classfile.RefInvokeStatic,
	"virtual":   classfile.RefInvokeVirtual,
	"special":   classfile.RefInvokeSpecial,
	"interface": classfile.RefInvokeInterface,
	"new":       classfile.RefNewInvokeSpecial,
}

func invokedynamic(in *classfile.Instruction, args []string) error {
	if len(args) != 2 && len(args) != 5 {
		return fmt.Errorf("want name desc [kind owner.name desc]")
	}
	in.Name, in.Desc = args[0], args[1]
	if len(args) == 2 {
		return nil
	}
	kind, ok := handleKinds[args[2]]
	if !ok {
		return fmt.Errorf("unknown handle kind %q", args[2])
	}
	owner, name, err := member(args[3])
	if err != nil {
		return err
	}
	impl := &classfile.Handle{Kind: kind, Owner: owner, Name: name, Desc: args[4], Interface: kind == classfile.RefInvokeInterface}
	in.Bootstrap = &classfile.BootstrapMethod{
		Handle: classfile.Handle{
			Kind:  classfile.RefInvokeStatic,
			Owner: "java/lang/invoke/LambdaMetafactory",
			Name:  "metafactory",
			Desc:  "(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;Ljava/lang/invoke/MethodType;Ljava/lang/invoke/MethodType;Ljava/lang/invoke/MethodHandle;Ljava/lang/invoke/MethodType;)Ljava/lang/invoke/CallSite;",
		},
		Args: []classfile.Constant{
			{Kind: classfile.ConstMethodType, String: args[4]},
			{Kind: classfile.ConstMethodHandle, Handle: impl},
			{Kind: classfile.ConstMethodType, String: args[4]},
		},
	}
	return nil
}
