package vm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/daimatz/nativeintercept/pkg/classfile"
	"github.com/daimatz/nativeintercept/pkg/intercept"
	"github.com/daimatz/nativeintercept/pkg/native"
)

// maxFrameDepth is the maximum number of nested method calls.
const maxFrameDepth = 1024

// VM is the virtual machine that executes Java bytecode. A VM may run
// several Go callers at once; each top-level call gets its own call stack.
type VM struct {
	Stdout io.Writer

	loader  ClassLoader
	natives *native.Library
	logger  *zap.Logger

	mu       sync.RWMutex
	classes  map[string]*Class
	loads    singleflight.Group
	mirrorMu sync.Mutex
	// primitives holds the mirrors int.class, void.class, ...
	primitives map[string]*Class

	transformMu  sync.RWMutex
	transformers []*transformerEntry
	retransform  sync.Mutex

	dispatcher intercept.Dispatcher
}

// Option configures a VM.
type Option func(*VM)

// WithStdout redirects System.out.
func WithStdout(w io.Writer) Option {
	return func(vm *VM) { vm.Stdout = w }
}

// WithLogger sets the logger for class loading and native binding.
func WithLogger(logger *zap.Logger) Option {
	return func(vm *VM) { vm.logger = logger }
}

// WithNatives binds native methods from lib.
func WithNatives(lib *native.Library) Option {
	return func(vm *VM) { vm.natives = lib }
}

// NewVM creates a new VM loading classes through loader.
func NewVM(loader ClassLoader, opts ...Option) *VM {
	vm := &VM{
		Stdout:     os.Stdout,
		loader:     loader,
		natives:    native.NewLibrary(),
		logger:     zap.NewNop(),
		classes:    make(map[string]*Class),
		primitives: make(map[string]*Class),
	}
	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

// RegisterNative binds fn to the native method class.name:descriptor.
func (vm *VM) RegisterNative(class, name, descriptor string, fn native.Func) {
	vm.natives.Register(class, name, descriptor, fn)
}

// Execute finds and executes the main method of the class.
func (vm *VM) Execute(className string) error {
	class, err := vm.LoadClass(className)
	if err != nil {
		return err
	}
	method, cf := vm.findDeclared(class, "main", "([Ljava/lang/String;)V")
	if method == nil || !method.IsStatic() {
		return fmt.Errorf("main method not found in %s", className)
	}

	th := &thread{}
	if err := vm.initialize(th, class); err != nil {
		return err
	}
	// main(String[] args) gets a null args array
	_, err = vm.executeMethod(th, class, cf, method, []Value{NullValue()})
	return err
}

// NewObject allocates an instance of className and runs its no-argument
// constructor.
func (vm *VM) NewObject(className string) (*JObject, error) {
	class, err := vm.LoadClass(className)
	if err != nil {
		return nil, err
	}
	th := &thread{}
	if err := vm.initialize(th, class); err != nil {
		return nil, err
	}
	obj := NewJObject(class)
	if _, err := vm.invokeMethod(th, class, "<init>", "()V", []Value{RefValue(obj)}); err != nil {
		return nil, err
	}
	return obj, nil
}

// InvokeStatic calls a static method. Arguments and the result use the
// boxed Go forms (int32 for int, ...); a void method returns nil.
func (vm *VM) InvokeStatic(className, name, descriptor string, args ...any) (any, error) {
	class, err := vm.LoadClass(className)
	if err != nil {
		return nil, err
	}
	params, ret, err := classfile.ParseMethodDescriptor(descriptor)
	if err != nil {
		return nil, err
	}
	vals, err := toValues(params, args)
	if err != nil {
		return nil, fmt.Errorf("invoking %s.%s: %w", className, name, err)
	}
	th := &thread{}
	if err := vm.initialize(th, class); err != nil {
		return nil, err
	}
	v, err := vm.invokeMethod(th, class, name, descriptor, vals)
	if err != nil {
		return nil, err
	}
	return fromValue(v, ret), nil
}

// InvokeVirtual calls an instance method on obj, dispatching on its class.
func (vm *VM) InvokeVirtual(obj *JObject, name, descriptor string, args ...any) (any, error) {
	if obj == nil {
		return nil, fmt.Errorf("invoking %s: nil receiver", name)
	}
	params, ret, err := classfile.ParseMethodDescriptor(descriptor)
	if err != nil {
		return nil, err
	}
	vals, err := toValues(params, args)
	if err != nil {
		return nil, fmt.Errorf("invoking %s.%s: %w", obj.ClassName(), name, err)
	}
	full := append([]Value{RefValue(obj)}, vals...)
	v, err := vm.invokeMethod(&thread{}, obj.Class, name, descriptor, full)
	if err != nil {
		return nil, err
	}
	return fromValue(v, ret), nil
}

// invokeMethod resolves name:descriptor from class upwards and runs it.
func (vm *VM) invokeMethod(th *thread, class *Class, name, descriptor string, args []Value) (Value, error) {
	target, err := vm.resolveMethod(class, name, descriptor)
	if err != nil {
		return Value{}, err
	}
	return vm.call(th, target, args)
}

// executeMethod executes a method with the given arguments and returns its return value.
func (vm *VM) executeMethod(th *thread, class *Class, cf *classfile.ClassFile, method *classfile.MethodInfo, args []Value) (Value, error) {
	if method.IsNative() {
		return vm.invokeNative(class, method, args)
	}
	if method.Code == nil {
		return Value{}, vm.throw("java/lang/AbstractMethodError", nil, "%s.%s%s", class.name, method.Name, method.Descriptor)
	}

	th.depth++
	defer func() { th.depth-- }()
	if th.depth > maxFrameDepth {
		return Value{}, vm.throw("java/lang/StackOverflowError", nil, "frame depth exceeded %d", maxFrameDepth)
	}

	frame := NewFrame(class, cf, method)
	frame.thread = th

	// Set arguments into local variables; long and double take two slots.
	slot := 0
	for _, arg := range args {
		frame.SetLocal(slot, arg)
		slot++
		if arg.wide() {
			slot++
		}
	}

	// Execution loop
	for frame.PC < len(frame.Code) {
		start := frame.PC
		opcode := frame.Code[frame.PC]
		frame.PC++

		retVal, hasReturn, err := vm.executeInstruction(frame, opcode)
		if err != nil {
			var exc *JavaException
			if !errors.As(err, &exc) || !vm.catch(frame, start, exc) {
				return Value{}, err
			}
			continue
		}
		if hasReturn {
			return retVal, nil
		}
	}

	// Fell off the end of the method (implicit return for void methods)
	return Value{}, nil
}

// catch transfers control to the first handler of the frame's method that
// covers pc and accepts exc.
func (vm *VM) catch(frame *Frame, pc int, exc *JavaException) bool {
	for _, h := range frame.Method.Code.ExceptionHandlers {
		if pc < int(h.StartPC) || pc >= int(h.EndPC) {
			continue
		}
		if h.CatchType != 0 {
			name, err := classfile.GetClassName(frame.Class.ConstantPool, h.CatchType)
			if err != nil || !vm.isAssignable(exc.Object.Class, name) {
				continue
			}
		}
		frame.SP = 0
		frame.Push(RefValue(exc.Object))
		frame.PC = int(h.HandlerPC)
		return true
	}
	return false
}
