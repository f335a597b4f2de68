package vm

import (
	"fmt"

	"github.com/daimatz/nativeintercept/pkg/classfile"
	"github.com/daimatz/nativeintercept/pkg/native"
)

// intrinsic implements a method of a built-in class in Go. args holds the
// receiver first for instance methods.
type intrinsic func(vm *VM, th *thread, args []Value) (Value, error)

// intrinsics is keyed by "class.name" + descriptor.
var intrinsics = map[string]intrinsic{
	"java/lang/Object.<init>()V": func(*VM, *thread, []Value) (Value, error) { return Value{}, nil },
	"java/lang/Object.getClass()Ljava/lang/Class;": func(vm *VM, _ *thread, args []Value) (Value, error) {
		return RefValue(vm.classOf(args[0].Ref)), nil
	},
	"java/lang/Object.equals(Ljava/lang/Object;)Z": func(_ *VM, _ *thread, args []Value) (Value, error) {
		return boolValue(args[0].Ref == args[1].Ref), nil
	},

	"java/lang/Class.getName()Ljava/lang/String;": func(_ *VM, _ *thread, args []Value) (Value, error) {
		c := args[0].Ref.(*Class)
		return RefValue(c.String()), nil
	},

	"java/lang/String.length()I": func(_ *VM, _ *thread, args []Value) (Value, error) {
		return IntValue(int32(len([]rune(args[0].Ref.(string))))), nil
	},
	"java/lang/String.equals(Ljava/lang/Object;)Z": func(_ *VM, _ *thread, args []Value) (Value, error) {
		s, ok := args[1].Ref.(string)
		return boolValue(ok && s == args[0].Ref.(string)), nil
	},

	"java/lang/Throwable.<init>()V": func(*VM, *thread, []Value) (Value, error) { return Value{}, nil },
	"java/lang/Throwable.<init>(Ljava/lang/String;)V": func(_ *VM, _ *thread, args []Value) (Value, error) {
		obj := args[0].Ref.(*JObject)
		obj.Fields[fieldMessage] = args[1]
		return Value{}, nil
	},
	"java/lang/Throwable.<init>(Ljava/lang/String;Ljava/lang/Throwable;)V": func(_ *VM, _ *thread, args []Value) (Value, error) {
		obj := args[0].Ref.(*JObject)
		obj.Fields[fieldMessage] = args[1]
		obj.Fields[fieldCause] = args[2]
		return Value{}, nil
	},
	"java/lang/Throwable.getMessage()Ljava/lang/String;": func(_ *VM, _ *thread, args []Value) (Value, error) {
		return args[0].Ref.(*JObject).Fields[fieldMessage], nil
	},
	"java/lang/Throwable.getCause()Ljava/lang/Throwable;": func(_ *VM, _ *thread, args []Value) (Value, error) {
		return args[0].Ref.(*JObject).Fields[fieldCause], nil
	},

	"java/io/PrintStream.println()V":                   printlnIntrinsic(""),
	"java/io/PrintStream.println(Z)V":                  printlnIntrinsic("Z"),
	"java/io/PrintStream.println(C)V":                  printlnIntrinsic("C"),
	"java/io/PrintStream.println(I)V":                  printlnIntrinsic("I"),
	"java/io/PrintStream.println(J)V":                  printlnIntrinsic("J"),
	"java/io/PrintStream.println(F)V":                  printlnIntrinsic("F"),
	"java/io/PrintStream.println(D)V":                  printlnIntrinsic("D"),
	"java/io/PrintStream.println(Ljava/lang/String;)V": printlnIntrinsic("Ljava/lang/String;"),
	"java/io/PrintStream.println(Ljava/lang/Object;)V": printlnIntrinsic("Ljava/lang/Object;"),

	"java/util/HashMap.get(Ljava/lang/Object;)Ljava/lang/Object;": func(_ *VM, _ *thread, args []Value) (Value, error) {
		return RefValue(args[0].Ref.(*native.HashMap).Get(args[1].Ref)), nil
	},
	"java/util/HashMap.put(Ljava/lang/Object;Ljava/lang/Object;)Ljava/lang/Object;": func(_ *VM, _ *thread, args []Value) (Value, error) {
		return RefValue(args[0].Ref.(*native.HashMap).Put(args[1].Ref, args[2].Ref)), nil
	},
	"java/util/HashMap.remove(Ljava/lang/Object;)Ljava/lang/Object;": func(_ *VM, _ *thread, args []Value) (Value, error) {
		return RefValue(args[0].Ref.(*native.HashMap).Remove(args[1].Ref)), nil
	},
	"java/util/HashMap.size()I": func(_ *VM, _ *thread, args []Value) (Value, error) {
		return IntValue(int32(args[0].Ref.(*native.HashMap).Size())), nil
	},
}

func init() {
	// Wrapper.valueOf boxes into the Go scalar; Wrapper.xxxValue unboxes.
	for desc, class := range boxClasses {
		desc, class := desc, class
		box := class + ".valueOf(" + desc + ")L" + class + ";"
		intrinsics[box] = func(_ *VM, _ *thread, args []Value) (Value, error) {
			return RefValue(fromValue(args[0], desc)), nil
		}
		unbox := class + "." + classfile.JavaName(desc) + "Value()" + desc
		intrinsics[unbox] = func(_ *VM, _ *thread, args []Value) (Value, error) {
			return toValue(desc, args[0].Ref)
		}
	}
}

func printlnIntrinsic(desc string) intrinsic {
	return func(vm *VM, _ *thread, args []Value) (Value, error) {
		ps, ok := args[0].Ref.(*native.PrintStream)
		if !ok {
			return Value{}, fmt.Errorf("invokevirtual: println receiver is not a PrintStream")
		}
		if desc == "" {
			ps.Println()
			return Value{}, nil
		}
		ps.Println(fromValue(args[1], desc))
		return Value{}, nil
	}
}

func boolValue(b bool) Value {
	if b {
		return IntValue(1)
	}
	return IntValue(0)
}

// intrinsicStatic serves the static fields of built-in classes.
func (vm *VM) intrinsicStatic(class, field string) (Value, bool) {
	if class == "java/lang/System" && field == "out" {
		return RefValue(&native.PrintStream{Writer: vm.Stdout}), true
	}
	if field != "TYPE" {
		return Value{}, false
	}
	if class == "java/lang/Void" {
		return RefValue(vm.primitiveClass("V")), true
	}
	for desc, c := range boxClasses {
		if c == class {
			return RefValue(vm.primitiveClass(desc)), true
		}
	}
	return Value{}, false
}
