package vm

import (
	"fmt"
	"strings"
	"sync"

	"github.com/daimatz/nativeintercept/pkg/classfile"
	"github.com/daimatz/nativeintercept/pkg/intercept"
)

// Class is a loaded class, interface, array class or primitive mirror.
// It implements intercept.Type; the same *Class also serves as the
// java.lang.Class mirror pushed by ldc.
type Class struct {
	name      string
	desc      string
	super     *Class
	component *Class
	// synthetic classes (built-in stubs, arrays, primitives) have no
	// retransformable bytes.
	synthetic bool
	primitive bool

	mu        sync.RWMutex
	file      *classfile.ClassFile
	markers   intercept.Markers
	base      []byte
	statics   map[string]Value
	initState int
}

const (
	uninitialized = iota
	initializing
	initialized
)

func newClass(name string, super *Class, cf *classfile.ClassFile) *Class {
	c := &Class{
		name:    name,
		desc:    classfile.DescriptorOf(name),
		super:   super,
		statics: make(map[string]Value),
	}
	c.define(cf)
	return c
}

// define installs a new definition.
func (c *Class) define(cf *classfile.ClassFile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.file = cf
	c.markers = intercept.ClassMarkers(cf)
}

// Name returns the internal class name (pkg/Name, [I, or the primitive name).
func (c *Class) Name() string { return c.name }

// Descriptor returns the field descriptor of the class.
func (c *Class) Descriptor() string { return c.desc }

// Superclass implements intercept.Type.
func (c *Class) Superclass() intercept.Type {
	if c.super == nil {
		return nil
	}
	return c.super
}

// Super returns the superclass, or nil.
func (c *Class) Super() *Class { return c.super }

// Markers implements intercept.Type.
func (c *Class) Markers() intercept.Markers {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.markers
}

// File returns the current definition. Nil for primitive mirrors.
func (c *Class) File() *classfile.ClassFile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.file
}

// IsArray reports whether c is an array class.
func (c *Class) IsArray() bool { return c.component != nil }

// IsPrimitive reports whether c is a primitive mirror such as int.class.
func (c *Class) IsPrimitive() bool { return c.primitive }

func (c *Class) String() string {
	if c.primitive {
		return classfile.JavaName(c.desc)
	}
	if c.IsArray() {
		return "class " + c.desc
	}
	return "class " + strings.ReplaceAll(c.name, "/", ".")
}

// DeclaredMethod implements intercept.Type over the current definition.
func (c *Class) DeclaredMethod(name string, params []string) (*intercept.Method, error) {
	cf := c.File()
	if cf != nil {
		prefix := "(" + strings.Join(params, "") + ")"
		for i := range cf.Methods {
			m := &cf.Methods[i]
			if m.Name == name && strings.HasPrefix(m.Descriptor, prefix) {
				return intercept.NewMethod(c, cf, m)
			}
		}
	}
	return nil, fmt.Errorf("%s.%s(%s): %w", c.name, name, strings.Join(params, ""), intercept.ErrNoSuchMethod)
}

func (c *Class) interfaces() []string {
	cf := c.File()
	if cf == nil {
		return nil
	}
	names := make([]string, 0, len(cf.Interfaces))
	for _, idx := range cf.Interfaces {
		if n, err := classfile.GetClassName(cf.ConstantPool, idx); err == nil {
			names = append(names, n)
		}
	}
	return names
}

func (c *Class) getStatic(name string) (Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.statics[name]
	return v, ok
}

func (c *Class) putStatic(name string, v Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statics[name] = v
}

// declaresField reports whether the current definition declares name.
func (c *Class) declaresField(name string) bool {
	cf := c.File()
	if cf == nil {
		return false
	}
	for _, f := range cf.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// builtinClasses are stubbed by the VM rather than loaded, mapped to their
// superclass. Their behaviour comes from the intrinsic table.
var builtinClasses = map[string]string{
	"java/lang/Object":                         "",
	"java/lang/String":                         "java/lang/Object",
	"java/lang/Class":                          "java/lang/Object",
	"java/lang/System":                         "java/lang/Object",
	"java/lang/Number":                         "java/lang/Object",
	"java/lang/Boolean":                        "java/lang/Object",
	"java/lang/Character":                      "java/lang/Object",
	"java/lang/Void":                           "java/lang/Object",
	"java/lang/Byte":                           "java/lang/Number",
	"java/lang/Short":                          "java/lang/Number",
	"java/lang/Integer":                        "java/lang/Number",
	"java/lang/Long":                           "java/lang/Number",
	"java/lang/Float":                          "java/lang/Number",
	"java/lang/Double":                         "java/lang/Number",
	"java/lang/Throwable":                      "java/lang/Object",
	"java/lang/Exception":                      "java/lang/Throwable",
	"java/lang/Error":                          "java/lang/Throwable",
	"java/lang/RuntimeException":               "java/lang/Exception",
	"java/lang/IllegalArgumentException":       "java/lang/RuntimeException",
	"java/lang/IllegalStateException":          "java/lang/RuntimeException",
	"java/lang/NullPointerException":           "java/lang/RuntimeException",
	"java/lang/ArithmeticException":            "java/lang/RuntimeException",
	"java/lang/ClassCastException":             "java/lang/RuntimeException",
	"java/lang/ArrayStoreException":            "java/lang/RuntimeException",
	"java/lang/NegativeArraySizeException":     "java/lang/RuntimeException",
	"java/lang/UnsupportedOperationException":  "java/lang/RuntimeException",
	"java/lang/IndexOutOfBoundsException":      "java/lang/RuntimeException",
	"java/lang/ArrayIndexOutOfBoundsException": "java/lang/IndexOutOfBoundsException",
	"java/lang/LinkageError":                   "java/lang/Error",
	"java/lang/UnsatisfiedLinkError":           "java/lang/LinkageError",
	"java/lang/NoClassDefFoundError":           "java/lang/LinkageError",
	"java/lang/AbstractMethodError":            "java/lang/LinkageError",
	"java/lang/NoSuchMethodError":              "java/lang/LinkageError",
	"java/lang/VirtualMachineError":            "java/lang/Error",
	"java/lang/StackOverflowError":             "java/lang/VirtualMachineError",
	"java/lang/InternalError":                  "java/lang/VirtualMachineError",
	"java/io/IOException":                      "java/lang/Exception",
	"java/io/PrintStream":                      "java/lang/Object",
	"java/util/HashMap":                        "java/lang/Object",
}

func (vm *VM) primitiveClass(desc string) *Class {
	vm.mirrorMu.Lock()
	defer vm.mirrorMu.Unlock()
	if c, ok := vm.primitives[desc]; ok {
		return c
	}
	c := &Class{
		name:      classfile.JavaName(desc),
		desc:      desc,
		synthetic: true,
		primitive: true,
		statics:   make(map[string]Value),
		initState: initialized,
	}
	vm.primitives[desc] = c
	return c
}

// isSubclass reports whether c is name or extends or implements it.
func (vm *VM) isSubclass(c *Class, name string) bool {
	for k := c; k != nil; k = k.super {
		if k.name == name {
			return true
		}
		for _, iface := range k.interfaces() {
			ic, err := vm.LoadClass(iface)
			if err == nil && vm.isSubclass(ic, name) {
				return true
			}
		}
	}
	return false
}

// isAssignable reports whether a value of class from can be stored in a
// variable of the class or array type named to.
func (vm *VM) isAssignable(from *Class, to string) bool {
	if from == nil {
		return false
	}
	if from.primitive {
		return from.desc == to
	}
	if to == "java/lang/Object" || from.name == to {
		return true
	}
	if from.component != nil {
		if !strings.HasPrefix(to, "[") {
			return to == "java/lang/Cloneable" || to == "java/io/Serializable"
		}
		toComp := to[1:]
		fc := from.component
		if fc.primitive || classfile.IsPrimitive(toComp) {
			return fc.desc == toComp
		}
		return vm.isAssignable(fc, classfile.ClassNameOf(toComp))
	}
	return vm.isSubclass(from, to)
}
