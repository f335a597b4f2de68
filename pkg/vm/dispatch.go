package vm

import (
	"fmt"

	"github.com/daimatz/nativeintercept/pkg/classfile"
	"github.com/daimatz/nativeintercept/pkg/intercept"
	"github.com/daimatz/nativeintercept/pkg/native"
)

// boxClasses maps the boxed Go scalar kinds to their wrapper class.
var boxClasses = map[string]string{
	"Z": "java/lang/Boolean",
	"B": "java/lang/Byte",
	"C": "java/lang/Character",
	"S": "java/lang/Short",
	"I": "java/lang/Integer",
	"J": "java/lang/Long",
	"F": "java/lang/Float",
	"D": "java/lang/Double",
}

// classOf returns the runtime class of a reference value, or nil.
func (vm *VM) classOf(ref any) *Class {
	var name string
	switch x := ref.(type) {
	case nil:
		return nil
	case *JObject:
		if x == nil {
			return nil
		}
		return x.Class
	case *JArray:
		if x == nil {
			return nil
		}
		return x.Class
	case *Class:
		if x == nil {
			return nil
		}
		name = "java/lang/Class"
	case string:
		name = "java/lang/String"
	case *native.PrintStream:
		if x == nil {
			return nil
		}
		name = "java/io/PrintStream"
	case *native.HashMap:
		if x == nil {
			return nil
		}
		name = "java/util/HashMap"
	default:
		desc := boxedKind(ref)
		if desc == "" {
			return nil
		}
		name = boxClasses[desc]
	}
	c, err := vm.LoadClass(name)
	if err != nil {
		return nil
	}
	return c
}

// boxedKind returns the primitive descriptor of a boxed Go scalar, or "".
func boxedKind(v any) string {
	switch v.(type) {
	case bool:
		return "Z"
	case int8:
		return "B"
	case uint16:
		return "C"
	case int16:
		return "S"
	case int32:
		return "I"
	case int64:
		return "J"
	case float32:
		return "F"
	case float64:
		return "D"
	}
	return ""
}

// fromValue converts a VM value of field descriptor desc to its boxed Go form.
func fromValue(v Value, desc string) any {
	switch desc {
	case "V":
		return nil
	case "Z":
		return v.Int != 0
	case "B":
		return int8(v.Int)
	case "C":
		return uint16(v.Int)
	case "S":
		return int16(v.Int)
	case "I":
		return v.Int
	case "J":
		return v.Long
	case "F":
		return v.Float
	case "D":
		return v.Double
	}
	if v.IsNull() {
		return nil
	}
	return v.Ref
}

// toValue converts a boxed Go value to a VM value of field descriptor desc.
func toValue(desc string, x any) (Value, error) {
	if desc == "V" {
		return Value{}, nil
	}
	if !classfile.IsPrimitive(desc) {
		return RefValue(x), nil
	}
	switch v := x.(type) {
	case bool:
		if desc == "Z" {
			if v {
				return IntValue(1), nil
			}
			return IntValue(0), nil
		}
	case int8:
		if desc == "B" {
			return IntValue(int32(v)), nil
		}
	case uint16:
		if desc == "C" {
			return IntValue(int32(v)), nil
		}
	case int16:
		if desc == "S" {
			return IntValue(int32(v)), nil
		}
	case int32:
		if desc == "I" {
			return IntValue(v), nil
		}
	case int64:
		if desc == "J" {
			return LongValue(v), nil
		}
	case float32:
		if desc == "F" {
			return FloatValue(v), nil
		}
	case float64:
		if desc == "D" {
			return DoubleValue(v), nil
		}
	}
	return Value{}, fmt.Errorf("cannot pass %T as %s", x, classfile.JavaName(desc))
}

func toValues(params []string, args []any) ([]Value, error) {
	if len(args) != len(params) {
		return nil, fmt.Errorf("got %d arguments, want %d", len(args), len(params))
	}
	vals := make([]Value, len(args))
	for i, p := range params {
		v, err := toValue(p, args[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		vals[i] = v
	}
	return vals, nil
}

// dispatch executes a call to a NativeDispatch entry point: receiver,
// optional return class, method name, parameter classes and boxed arguments,
// as pushed by an intercepted forwarder.
func (vm *VM) dispatch(name, descriptor string, args []Value) (Value, error) {
	d := vm.linkedDispatcher()
	if d == nil {
		return Value{}, vm.throw("java/lang/UnsatisfiedLinkError", nil, "%s.%s: no dispatcher linked", intercept.DispatchClass, name)
	}
	params, ret, err := classfile.ParseMethodDescriptor(descriptor)
	if err != nil {
		return Value{}, err
	}
	want := 4
	if ret == "Ljava/lang/Object;" {
		want = 5
	}
	if len(params) != want || len(args) != want {
		return Value{}, vm.throwFor(&intercept.Error{Kind: intercept.KindArgument, Op: name,
			Msg: fmt.Sprintf("got %d arguments, want %d", len(args), want)})
	}

	static := params[0] == "Ljava/lang/Class;"
	call := intercept.Call{Static: static, Return: ret}
	i := 0
	if static {
		if c, ok := args[i].Ref.(*Class); ok {
			call.Declaring = c
		}
	} else if !args[i].IsNull() {
		call.Receiver = args[i].Ref
	}
	i++
	if ret == "Ljava/lang/Object;" {
		rc, ok := args[i].Ref.(*Class)
		if !ok {
			return Value{}, vm.throwFor(&intercept.Error{Kind: intercept.KindArgument, Op: name, Msg: "no return type"})
		}
		call.Return = rc.Descriptor()
		i++
	}
	if s, ok := args[i].Ref.(string); ok {
		call.Name = s
	}
	i++
	if arr, ok := args[i].Ref.(*JArray); ok {
		call.Params = make([]string, len(arr.Elements))
		for j, e := range arr.Elements {
			c, ok := e.Ref.(*Class)
			if !ok {
				return Value{}, vm.throwFor(&intercept.Error{Kind: intercept.KindArgument, Op: name, Msg: fmt.Sprintf("parameter type %d is not a class", j)})
			}
			call.Params[j] = c.Descriptor()
		}
	}
	i++
	if arr, ok := args[i].Ref.(*JArray); ok {
		call.Args = make([]any, len(arr.Elements))
		for j, e := range arr.Elements {
			call.Args[j] = fromValue(e, "Ljava/lang/Object;")
		}
	}

	result, err := d.Dispatch(call)
	if err != nil {
		return Value{}, vm.throwFor(err)
	}
	v, err := toValue(ret, result)
	if err != nil {
		return Value{}, vm.throwFor(&intercept.Error{Kind: intercept.KindState, Op: name, Err: err})
	}
	return v, nil
}
