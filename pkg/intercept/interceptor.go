package intercept

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/daimatz/nativeintercept/pkg/classfile"
)

// DispatchClass is the class whose static methods intercepted forwarders call.
// The host routes invocations on it to the linked Registry.
const DispatchClass = "nativeintercept/NativeDispatch"

const (
	objectDesc = "Ljava/lang/Object;"
	classDesc  = "Ljava/lang/Class;"
	stringDesc = "Ljava/lang/String;"
)

// wrappers maps a primitive descriptor to its box class.
var wrappers = map[byte]string{
	'Z': "java/lang/Boolean",
	'B': "java/lang/Byte",
	'C': "java/lang/Character",
	'S': "java/lang/Short",
	'I': "java/lang/Integer",
	'J': "java/lang/Long",
	'F': "java/lang/Float",
	'D': "java/lang/Double",
	'V': "java/lang/Void",
}

var returnKinds = map[byte]string{
	'V': "Void",
	'Z': "Boolean",
	'B': "Byte",
	'C': "Char",
	'S': "Short",
	'I': "Int",
	'J': "Long",
	'F': "Float",
	'D': "Double",
}

// WrapperClass returns the box class of a primitive or void descriptor, or ""
// for reference types.
func WrapperClass(desc string) string {
	if len(desc) != 1 {
		return ""
	}
	return wrappers[desc[0]]
}

// DispatchMethod returns the name and descriptor of the NativeDispatch entry
// point for a method returning ret.
//
//	handleInt(Ljava/lang/Object;Ljava/lang/String;[Ljava/lang/Class;[Ljava/lang/Object;)I
//	handleStaticObject(Ljava/lang/Class;Ljava/lang/Class;Ljava/lang/String;[Ljava/lang/Class;[Ljava/lang/Object;)Ljava/lang/Object;
func DispatchMethod(ret string, static bool) (name, desc string) {
	name = "handle"
	receiver := objectDesc
	if static {
		name += "Static"
		receiver = classDesc
	}
	kind, primitive := "", false
	if len(ret) == 1 {
		kind, primitive = returnKinds[ret[0]]
	}
	if !primitive {
		return name + "Object", "(" + receiver + classDesc + stringDesc + "[" + classDesc + "[" + objectDesc + ")" + objectDesc
	}
	return name + kind, "(" + receiver + stringDesc + "[" + classDesc + "[" + objectDesc + ")" + ret
}

// InterceptingTransformer is the second stage. On retransformation of a
// wrapped class it replaces each forwarder body with a call to DispatchClass.
type InterceptingTransformer struct {
	exclusion *Exclusion
	logger    *zap.Logger
}

// NewInterceptingTransformer returns the intercepting stage.
func NewInterceptingTransformer(exclusion *Exclusion, logger *zap.Logger) *InterceptingTransformer {
	return &InterceptingTransformer{exclusion: exclusion, logger: orNop(logger)}
}

// Transform intercepts the forwarders of an already-loaded wrapped class.
// Initial loads, already intercepted types and excluded names are left unchanged.
func (t *InterceptingTransformer) Transform(className string, redefining Type, classBytes []byte) ([]byte, error) {
	if redefining == nil || redefining.Markers().Has(HasInterceptedNatives) || t.exclusion.Matches(className) {
		return nil, nil
	}
	return runStage(t.logger, "intercept", className, func() ([]byte, error) {
		return InterceptNatives(classBytes)
	})
}

// InterceptNatives rewrites every WasNative forwarder of a wrapped class to
// call the dispatcher. It returns nil when the class is not wrapped, is
// already intercepted or has no forwarder.
func InterceptNatives(classBytes []byte) ([]byte, error) {
	cf, err := classfile.ParseBytes(classBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing class: %w", err)
	}
	markers := ClassMarkers(cf)
	if !markers.Has(HasNatives) || markers.Has(HasInterceptedNatives) {
		return nil, nil
	}
	className, err := cf.ClassName()
	if err != nil {
		return nil, err
	}

	found := false
	for i := range cf.Methods {
		m := &cf.Methods[i]
		if m.IsNative() || !MethodMarkers(cf, m).Has(WasNative) {
			continue
		}
		code, err := dispatchBody(cf, className, m)
		if err != nil {
			return nil, fmt.Errorf("intercepting %s%s: %w", m.Name, m.Descriptor, err)
		}
		m.Code = code
		if err := markMethod(cf, m, Intercepted); err != nil {
			return nil, err
		}
		found = true
	}
	if !found {
		return nil, nil
	}
	if err := markClass(cf, HasInterceptedNatives); err != nil {
		return nil, err
	}
	return cf.Bytes()
}

// dispatchBody emits
//
//	receiver [returnClass] name paramTypes args -> invokestatic NativeDispatch.handleX
//
// followed by a checkcast for reference returns and the typed return.
func dispatchBody(cf *classfile.ClassFile, className string, m *classfile.MethodInfo) (*classfile.CodeAttribute, error) {
	params, ret, err := classfile.ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return nil, err
	}
	static := m.IsStatic()
	b := classfile.NewCodeBuilder(cf)

	slot := 0
	if static {
		b.LdcClass(className)
	} else {
		b.Load(objectDesc, 0)
		slot = 1
	}
	primitiveReturn := ret == "V" || classfile.IsPrimitive(ret)
	if !primitiveReturn {
		b.LdcClass(classfile.ClassNameOf(ret))
	}
	b.LdcString(m.Name)

	b.PushInt(int32(len(params)))
	b.Anewarray("java/lang/Class")
	for i, p := range params {
		b.Dup()
		b.PushInt(int32(i))
		if w := WrapperClass(p); w != "" {
			b.Getstatic(w, "TYPE", classDesc)
		} else {
			b.LdcClass(classfile.ClassNameOf(p))
		}
		b.Aastore()
	}

	if len(params) == 0 {
		b.AconstNull()
	} else {
		b.PushInt(int32(len(params)))
		b.Anewarray("java/lang/Object")
		for i, p := range params {
			b.Dup()
			b.PushInt(int32(i))
			b.Load(p, slot)
			if w := WrapperClass(p); w != "" {
				if err := b.Invoke(classfile.OpInvokestatic, w, "valueOf", "("+p+")L"+w+";"); err != nil {
					return nil, err
				}
			}
			b.Aastore()
			slot += classfile.SlotSize(p)
		}
	}

	name, desc := DispatchMethod(ret, static)
	if err := b.Invoke(classfile.OpInvokestatic, DispatchClass, name, desc); err != nil {
		return nil, err
	}
	if !primitiveReturn {
		b.Checkcast(classfile.ClassNameOf(ret))
	}
	b.Return(ret)
	return b.Build(slot)
}
