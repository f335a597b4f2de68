package intercept

import (
	"strings"

	"github.com/daimatz/nativeintercept/pkg/classfile"
)

// Type is the host's view of a loaded class.
type Type interface {
	// Name is the internal class name (java/lang/String).
	Name() string
	// Superclass returns the direct superclass, or nil for a root class.
	Superclass() Type
	// Markers returns the pipeline markers on the class's current definition.
	Markers() Markers
	// DeclaredMethod returns the method declared by this type with the given
	// name and parameter descriptors. It fails with ErrNoSuchMethod or
	// ErrAccessDenied.
	DeclaredMethod(name string, params []string) (*Method, error)
}

// Object is implemented by host instances so the registry can find their
// runtime type.
type Object interface {
	RuntimeType() Type
}

// Method describes a method of a loaded type. Parameter and return types are
// field descriptors, the same form the intercepting stage emits. Immutable.
type Method struct {
	Name      string
	Params    []string
	Return    string
	Static    bool
	Declaring Type
	WasNative bool
	Access    uint16
}

// NewMethod builds a Method from a class file method of declaring.
func NewMethod(declaring Type, cf *classfile.ClassFile, m *classfile.MethodInfo) (*Method, error) {
	params, ret, err := classfile.ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return nil, err
	}
	return &Method{
		Name:      m.Name,
		Params:    params,
		Return:    ret,
		Static:    m.IsStatic(),
		Declaring: declaring,
		WasNative: MethodMarkers(cf, m).Has(WasNative),
		Access:    m.AccessFlags,
	}, nil
}

// Descriptor returns the method descriptor.
func (m *Method) Descriptor() string {
	return "(" + strings.Join(m.Params, "") + ")" + m.Return
}

// String renders the method in source form:
// "public static int[] pkg.Data.compute(java.lang.Object,float[])".
func (m *Method) String() string {
	var b strings.Builder
	for _, mod := range []struct {
		flag uint16
		name string
	}{
		{classfile.AccPublic, "public"},
		{classfile.AccPrivate, "private"},
		{classfile.AccProtected, "protected"},
		{classfile.AccStatic, "static"},
		{classfile.AccFinal, "final"},
		{classfile.AccNative, "native"},
	} {
		if m.Access&mod.flag != 0 {
			b.WriteString(mod.name)
			b.WriteByte(' ')
		}
	}
	b.WriteString(classfile.JavaName(m.Return))
	b.WriteByte(' ')
	if m.Declaring != nil {
		b.WriteString(strings.ReplaceAll(m.Declaring.Name(), "/", "."))
		b.WriteByte('.')
	}
	b.WriteString(m.Name)
	b.WriteByte('(')
	for i, p := range m.Params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(classfile.JavaName(p))
	}
	b.WriteByte(')')
	return b.String()
}
