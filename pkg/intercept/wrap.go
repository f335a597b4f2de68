package intercept

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/daimatz/nativeintercept/pkg/classfile"
)

// WrappingTransformer is the first stage. On a class's initial load it
// renames every native method with NativeMethodPrefix and puts a non-native
// forwarder with the original name and descriptor in its place.
type WrappingTransformer struct {
	exclusion *Exclusion
	logger    *zap.Logger
}

// NewWrappingTransformer returns the wrapping stage. A nil logger discards output.
func NewWrappingTransformer(exclusion *Exclusion, logger *zap.Logger) *WrappingTransformer {
	return &WrappingTransformer{exclusion: exclusion, logger: orNop(logger)}
}

// Transform wraps the natives of a freshly loaded class. Retransformations
// and excluded names are left unchanged.
func (w *WrappingTransformer) Transform(className string, redefining Type, classBytes []byte) ([]byte, error) {
	if redefining != nil || w.exclusion.Matches(className) {
		return nil, nil
	}
	return runStage(w.logger, "wrap", className, func() ([]byte, error) {
		return Wrap(classBytes)
	})
}

// Wrap rewrites a class so each native method m becomes a forwarder m that
// calls the native $$NativeIntercepted$$_m. It returns nil when the class has
// no native methods or already carries HasNatives.
func Wrap(classBytes []byte) ([]byte, error) {
	cf, err := classfile.ParseBytes(classBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing class: %w", err)
	}
	if ClassMarkers(cf).Has(HasNatives) {
		return nil, nil
	}
	className, err := cf.ClassName()
	if err != nil {
		return nil, err
	}

	methods := make([]classfile.MethodInfo, 0, len(cf.Methods)*2)
	found := false
	for i := range cf.Methods {
		m := cf.Methods[i]
		if !m.IsNative() {
			methods = append(methods, m)
			continue
		}
		found = true
		fwd, err := forwarder(cf, className, &m)
		if err != nil {
			return nil, fmt.Errorf("wrapping %s%s: %w", m.Name, m.Descriptor, err)
		}
		methods = append(methods, *fwd, prefixedNative(&m))
	}
	if !found {
		return nil, nil
	}

	cf.Methods = methods
	if err := markClass(cf, HasNatives); err != nil {
		return nil, err
	}
	return cf.Bytes()
}

// prefixedNative re-declares the native under the reserved name with its
// flags, descriptor and attributes intact.
func prefixedNative(m *classfile.MethodInfo) classfile.MethodInfo {
	return classfile.MethodInfo{
		AccessFlags: m.AccessFlags,
		Name:        NativeMethodPrefix + m.Name,
		Descriptor:  m.Descriptor,
		Attributes:  append([]classfile.AttributeInfo(nil), m.Attributes...),
	}
}

// forwarder synthesizes the non-native method that passes its receiver and
// arguments to the prefixed native and returns its result.
func forwarder(cf *classfile.ClassFile, className string, native *classfile.MethodInfo) (*classfile.MethodInfo, error) {
	params, ret, err := classfile.ParseMethodDescriptor(native.Descriptor)
	if err != nil {
		return nil, err
	}

	b := classfile.NewCodeBuilder(cf)
	slot := 0
	var op byte = classfile.OpInvokestatic
	if !native.IsStatic() {
		b.Load(classfile.DescriptorOf(className), 0)
		slot = 1
		op = classfile.OpInvokevirtual
		if native.AccessFlags&classfile.AccPrivate != 0 {
			op = classfile.OpInvokespecial
		}
	}
	for _, p := range params {
		b.Load(p, slot)
		slot += classfile.SlotSize(p)
	}
	if err := b.Invoke(op, className, NativeMethodPrefix+native.Name, native.Descriptor); err != nil {
		return nil, err
	}
	b.Return(ret)

	code, err := b.Build(slot)
	if err != nil {
		return nil, err
	}
	fwd := &classfile.MethodInfo{
		AccessFlags: native.AccessFlags &^ classfile.AccNative,
		Name:        native.Name,
		Descriptor:  native.Descriptor,
		Attributes:  keepAttributes(native.Attributes, "Exceptions", "Signature"),
		Code:        code,
	}
	if err := markMethod(cf, fwd, WasNative); err != nil {
		return nil, err
	}
	return fwd, nil
}

func keepAttributes(attrs []classfile.AttributeInfo, names ...string) []classfile.AttributeInfo {
	var out []classfile.AttributeInfo
	for _, a := range attrs {
		for _, n := range names {
			if a.Name == n {
				out = append(out, a)
				break
			}
		}
	}
	return out
}
