package vm

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/daimatz/nativeintercept/pkg/classfile"
	"github.com/daimatz/nativeintercept/pkg/intercept"
	"github.com/daimatz/nativeintercept/pkg/native"
)

// target is a resolved method: bytecode or native in a class definition, or
// a VM intrinsic.
type target struct {
	class  *Class
	file   *classfile.ClassFile
	method *classfile.MethodInfo
	fn     intrinsic
}

func (vm *VM) call(th *thread, t *target, args []Value) (Value, error) {
	if t.fn != nil {
		return t.fn(vm, th, args)
	}
	return vm.executeMethod(th, t.class, t.file, t.method, args)
}

// findDeclared looks name:descriptor up in the current definition of c only.
func (vm *VM) findDeclared(c *Class, name, descriptor string) (*classfile.MethodInfo, *classfile.ClassFile) {
	cf := c.File()
	if cf == nil {
		return nil, nil
	}
	return cf.FindMethod(name, descriptor), cf
}

// resolveMethod walks the superclass chain from class, then the interfaces
// for default methods.
func (vm *VM) resolveMethod(class *Class, name, descriptor string) (*target, error) {
	for k := class; k != nil; k = k.super {
		if m, cf := vm.findDeclared(k, name, descriptor); m != nil {
			return &target{class: k, file: cf, method: m}, nil
		}
		if fn, ok := intrinsics[k.name+"."+name+descriptor]; ok {
			return &target{class: k, fn: fn}, nil
		}
	}
	for k := class; k != nil; k = k.super {
		for _, iface := range k.interfaces() {
			ic, err := vm.LoadClass(iface)
			if err != nil {
				continue
			}
			if t, err := vm.resolveMethod(ic, name, descriptor); err == nil && (t.fn != nil || t.method.Code != nil) {
				return t, nil
			}
		}
	}
	return nil, vm.throw("java/lang/NoSuchMethodError", nil, "%s.%s%s", class.name, name, descriptor)
}

// initialize runs the static initializers of c and its superclasses once.
func (vm *VM) initialize(th *thread, c *Class) error {
	c.mu.Lock()
	if c.initState != uninitialized {
		c.mu.Unlock()
		return nil
	}
	c.initState = initializing
	c.mu.Unlock()

	if c.super != nil {
		if err := vm.initialize(th, c.super); err != nil {
			return err
		}
	}
	var err error
	if m, cf := vm.findDeclared(c, "<clinit>", "()V"); m != nil {
		_, err = vm.executeMethod(th, c, cf, m, nil)
	}

	c.mu.Lock()
	c.initState = initialized
	c.mu.Unlock()
	return err
}

// resolveClass loads and initializes the class named by a CONSTANT_Class entry.
func (vm *VM) resolveClass(th *thread, name string) (*Class, error) {
	c, err := vm.LoadClass(name)
	if err != nil {
		return nil, vm.throw("java/lang/NoClassDefFoundError", err, "%s", name)
	}
	if err := vm.initialize(th, c); err != nil {
		return nil, err
	}
	return c, nil
}

// executeLdc handles the ldc instruction.
func (vm *VM) executeLdc(frame *Frame, index uint16) (Value, bool, error) {
	pool := frame.Class.ConstantPool
	if int(index) >= len(pool) || pool[index] == nil {
		return Value{}, false, fmt.Errorf("ldc: invalid constant pool index %d", index)
	}

	entry := pool[index]
	switch c := entry.(type) {
	case *classfile.ConstantInteger:
		frame.Push(IntValue(c.Value))
	case *classfile.ConstantFloat:
		frame.Push(FloatValue(c.Value))
	case *classfile.ConstantString:
		str, err := classfile.GetUtf8(pool, c.StringIndex)
		if err != nil {
			return Value{}, false, fmt.Errorf("ldc: resolving string: %w", err)
		}
		frame.Push(RefValue(str))
	case *classfile.ConstantClass:
		name, err := classfile.GetUtf8(pool, c.NameIndex)
		if err != nil {
			return Value{}, false, fmt.Errorf("ldc: resolving class: %w", err)
		}
		class, err := vm.LoadClass(name)
		if err != nil {
			return Value{}, false, vm.throw("java/lang/NoClassDefFoundError", err, "%s", name)
		}
		frame.Push(RefValue(class))
	default:
		return Value{}, false, fmt.Errorf("ldc: unsupported constant pool entry type at index %d (tag=%d)", index, entry.Tag())
	}

	return Value{}, false, nil
}

// staticOwner returns the class in the chain from c that declares field name.
func staticOwner(c *Class, name string) *Class {
	for k := c; k != nil; k = k.super {
		if k.declaresField(name) {
			return k
		}
	}
	return c
}

// executeGetstatic handles the getstatic instruction.
func (vm *VM) executeGetstatic(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	fieldRef, err := classfile.ResolveFieldref(frame.Class.ConstantPool, index)
	if err != nil {
		return Value{}, false, fmt.Errorf("getstatic: %w", err)
	}

	if v, ok := vm.intrinsicStatic(fieldRef.ClassName, fieldRef.FieldName); ok {
		frame.Push(v)
		return Value{}, false, nil
	}

	class, err := vm.resolveClass(frame.thread, fieldRef.ClassName)
	if err != nil {
		return Value{}, false, err
	}
	owner := staticOwner(class, fieldRef.FieldName)
	if v, ok := owner.getStatic(fieldRef.FieldName); ok {
		frame.Push(v)
	} else {
		frame.Push(zeroValue(fieldRef.Descriptor))
	}
	return Value{}, false, nil
}

// executePutstatic handles the putstatic instruction.
func (vm *VM) executePutstatic(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	fieldRef, err := classfile.ResolveFieldref(frame.Class.ConstantPool, index)
	if err != nil {
		return Value{}, false, fmt.Errorf("putstatic: %w", err)
	}
	value := frame.Pop()
	class, err := vm.resolveClass(frame.thread, fieldRef.ClassName)
	if err != nil {
		return Value{}, false, err
	}
	staticOwner(class, fieldRef.FieldName).putStatic(fieldRef.FieldName, value)
	return Value{}, false, nil
}

// executeGetfield handles the getfield instruction.
func (vm *VM) executeGetfield(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	fieldRef, err := classfile.ResolveFieldref(frame.Class.ConstantPool, index)
	if err != nil {
		return Value{}, false, fmt.Errorf("getfield: %w", err)
	}

	objectRef := frame.Pop()
	if objectRef.IsNull() {
		return Value{}, false, vm.throw("java/lang/NullPointerException", nil, "getfield %s", fieldRef.FieldName)
	}
	obj, ok := objectRef.Ref.(*JObject)
	if !ok {
		return Value{}, false, fmt.Errorf("getfield: receiver is not a JObject")
	}

	val, exists := obj.Fields[fieldRef.FieldName]
	if !exists {
		val = zeroValue(fieldRef.Descriptor)
	}
	frame.Push(val)
	return Value{}, false, nil
}

// executePutfield handles the putfield instruction.
func (vm *VM) executePutfield(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	fieldRef, err := classfile.ResolveFieldref(frame.Class.ConstantPool, index)
	if err != nil {
		return Value{}, false, fmt.Errorf("putfield: %w", err)
	}

	value := frame.Pop()
	objectRef := frame.Pop()
	if objectRef.IsNull() {
		return Value{}, false, vm.throw("java/lang/NullPointerException", nil, "putfield %s", fieldRef.FieldName)
	}
	obj, ok := objectRef.Ref.(*JObject)
	if !ok {
		return Value{}, false, fmt.Errorf("putfield: receiver is not a JObject")
	}

	obj.Fields[fieldRef.FieldName] = value
	return Value{}, false, nil
}

// popCall pops the arguments of descriptor (and the receiver when virtual)
// and returns them in local variable order.
func popCall(frame *Frame, descriptor string, virtual bool) ([]Value, string, error) {
	params, ret, err := classfile.ParseMethodDescriptor(descriptor)
	if err != nil {
		return nil, "", err
	}
	n := len(params)
	if virtual {
		n++
	}
	return frame.PopN(n), ret, nil
}

func pushResult(frame *Frame, ret string, v Value) {
	if ret != "V" {
		frame.Push(v)
	}
}

// executeInvokevirtual handles invokevirtual and invokeinterface: the
// method is selected from the receiver's runtime class.
func (vm *VM) executeInvokevirtual(frame *Frame, op string, methodRef *classfile.MethodRefInfo) (Value, bool, error) {
	args, ret, err := popCall(frame, methodRef.Descriptor, true)
	if err != nil {
		return Value{}, false, fmt.Errorf("%s: %w", op, err)
	}
	if args[0].IsNull() {
		return Value{}, false, vm.throw("java/lang/NullPointerException", nil, "%s %s.%s", op, methodRef.ClassName, methodRef.MethodName)
	}

	class := vm.classOf(args[0].Ref)
	if class == nil {
		return Value{}, false, fmt.Errorf("%s: receiver %T has no class", op, args[0].Ref)
	}
	t, err := vm.resolveMethod(class, methodRef.MethodName, methodRef.Descriptor)
	if err != nil {
		return Value{}, false, err
	}
	v, err := vm.call(frame.thread, t, args)
	if err != nil {
		return Value{}, false, err
	}
	pushResult(frame, ret, v)
	return Value{}, false, nil
}

// executeInvokespecial handles constructors, private methods and super calls.
func (vm *VM) executeInvokespecial(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	methodRef, err := classfile.ResolveMethodref(frame.Class.ConstantPool, index)
	if err != nil {
		return Value{}, false, fmt.Errorf("invokespecial: %w", err)
	}
	args, ret, err := popCall(frame, methodRef.Descriptor, true)
	if err != nil {
		return Value{}, false, fmt.Errorf("invokespecial: %w", err)
	}
	if args[0].IsNull() {
		return Value{}, false, vm.throw("java/lang/NullPointerException", nil, "invokespecial %s.%s", methodRef.ClassName, methodRef.MethodName)
	}

	class, err := vm.resolveClass(frame.thread, methodRef.ClassName)
	if err != nil {
		return Value{}, false, err
	}
	t, err := vm.resolveMethod(class, methodRef.MethodName, methodRef.Descriptor)
	if err != nil {
		return Value{}, false, err
	}
	v, err := vm.call(frame.thread, t, args)
	if err != nil {
		return Value{}, false, err
	}
	pushResult(frame, ret, v)
	return Value{}, false, nil
}

// executeInvokestatic handles the invokestatic instruction.
func (vm *VM) executeInvokestatic(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	methodRef, err := classfile.ResolveMethodref(frame.Class.ConstantPool, index)
	if err != nil {
		methodRef, err = classfile.ResolveInterfaceMethodref(frame.Class.ConstantPool, index)
	}
	if err != nil {
		return Value{}, false, fmt.Errorf("invokestatic: %w", err)
	}
	args, ret, err := popCall(frame, methodRef.Descriptor, false)
	if err != nil {
		return Value{}, false, fmt.Errorf("invokestatic: %w", err)
	}

	if methodRef.ClassName == intercept.DispatchClass {
		v, err := vm.dispatch(methodRef.MethodName, methodRef.Descriptor, args)
		if err != nil {
			return Value{}, false, err
		}
		pushResult(frame, ret, v)
		return Value{}, false, nil
	}

	class, err := vm.resolveClass(frame.thread, methodRef.ClassName)
	if err != nil {
		return Value{}, false, err
	}
	t, err := vm.resolveMethod(class, methodRef.MethodName, methodRef.Descriptor)
	if err != nil {
		return Value{}, false, err
	}
	v, err := vm.call(frame.thread, t, args)
	if err != nil {
		return Value{}, false, err
	}
	pushResult(frame, ret, v)
	return Value{}, false, nil
}

// executeNew handles the new instruction.
func (vm *VM) executeNew(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	className, err := classfile.GetClassName(frame.Class.ConstantPool, index)
	if err != nil {
		return Value{}, false, fmt.Errorf("new: %w", err)
	}

	if className == "java/util/HashMap" {
		frame.Push(RefValue(native.NewHashMap()))
		return Value{}, false, nil
	}
	class, err := vm.resolveClass(frame.thread, className)
	if err != nil {
		return Value{}, false, err
	}
	frame.Push(RefValue(NewJObject(class)))
	return Value{}, false, nil
}

// lookupNative finds the binding of class.name:desc. A name carrying a
// declared native method prefix is retried with it stripped.
func (vm *VM) lookupNative(class, name, desc string) (native.Func, bool) {
	if fn, ok := vm.natives.Lookup(class, name, desc); ok {
		return fn, true
	}
	for _, prefix := range vm.nativePrefixes() {
		if stripped, found := strings.CutPrefix(name, prefix); found {
			if fn, ok := vm.natives.Lookup(class, stripped, desc); ok {
				return fn, true
			}
		}
	}
	return nil, false
}

// CallNative runs the Go function bound to the native behind m, the way the
// method ran before it was intercepted. Handlers use it to delegate.
func (vm *VM) CallNative(receiver any, m *intercept.Method, args []any) (any, error) {
	if m == nil || m.Declaring == nil {
		return nil, fmt.Errorf("call native: no declaring type")
	}
	class, desc := m.Declaring.Name(), m.Descriptor()
	fn, ok := vm.lookupNative(class, m.Name, desc)
	if !ok {
		return nil, vm.throw("java/lang/UnsatisfiedLinkError", nil, "%s.%s%s", class, m.Name, desc)
	}
	return fn(receiver, args)
}

// invokeNative calls the Go function bound to a native method.
func (vm *VM) invokeNative(class *Class, method *classfile.MethodInfo, args []Value) (Value, error) {
	fn, ok := vm.lookupNative(class.name, method.Name, method.Descriptor)
	if !ok {
		return Value{}, vm.throw("java/lang/UnsatisfiedLinkError", nil, "%s.%s%s", class.name, method.Name, method.Descriptor)
	}

	params, ret, err := classfile.ParseMethodDescriptor(method.Descriptor)
	if err != nil {
		return Value{}, err
	}
	var receiver any = class
	if !method.IsStatic() {
		receiver, args = args[0].Ref, args[1:]
	}
	goArgs := make([]any, len(params))
	for i, p := range params {
		goArgs[i] = fromValue(args[i], p)
	}

	vm.logger.Debug("calling native",
		zap.String("class", class.name),
		zap.String("method", method.Name))
	result, err := fn(receiver, goArgs)
	if err != nil {
		return Value{}, err
	}
	return toValue(ret, result)
}
