// Package fixture assembles the class files the tests run through the
// pipeline and the VM.
package fixture

import (
	"encoding/binary"
	"fmt"

	"github.com/daimatz/nativeintercept/pkg/classfile"
)

// Fixture class names.
const (
	// Data declares instance and static natives of every return kind.
	Data = "fixture/NativeData"
	// Sub extends Data and adds one native of its own.
	Sub = "fixture/NativeDataSub"
	// Plain declares no native methods.
	Plain = "fixture/Plain"
	// Caller calls into Data from bytecode, catching exceptions.
	Caller = "fixture/Caller"
)

const majorVersion = 52

// Native describes a native method to declare.
type Native struct {
	Name       string
	Descriptor string
	// Flags are added to ACC_NATIVE; zero means public.
	Flags      uint16
	Exceptions []string
}

// DataNatives are the natives of Data.
var DataNatives = []Native{
	{Name: "voidMethod", Descriptor: "()V"},
	{Name: "objectMethod", Descriptor: "(Ljava/lang/Object;)Ljava/lang/Object;"},
	{Name: "arrayMethod", Descriptor: "(ILjava/lang/String;)[I", Exceptions: []string{"java/io/IOException"}},
	{Name: "intMethod", Descriptor: "(IJD)I"},
	{Name: "booleanMethod", Descriptor: "(Z)Z"},
	{Name: "charMethod", Descriptor: "(C)C"},
	{Name: "privateMethod", Descriptor: "(I)I", Flags: classfile.AccPrivate},
	{Name: "staticVoidMethod", Descriptor: "()V", Flags: classfile.AccPublic | classfile.AccStatic},
	{Name: "staticStringMethod", Descriptor: "(Ljava/lang/String;)Ljava/lang/String;", Flags: classfile.AccPublic | classfile.AccStatic},
	{Name: "staticLongMethod", Descriptor: "(J)J", Flags: classfile.AccPublic | classfile.AccStatic},
	{Name: "staticDoubleMethod", Descriptor: "(DF)D", Flags: classfile.AccPublic | classfile.AccStatic},
}

// SubNatives are the natives Sub adds.
var SubNatives = []Native{
	{Name: "subMethod", Descriptor: "()I"},
}

// ClassWithNatives builds a class extending super with a no-argument
// constructor and the given natives.
func ClassWithNatives(name, super string, natives ...Native) ([]byte, error) {
	cf, err := newClass(name, super)
	if err != nil {
		return nil, err
	}
	for _, n := range natives {
		if err := addNative(cf, n); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", name, n.Name, err)
		}
	}
	return cf.Bytes()
}

// NativeData returns Data. Besides its natives it has callPrivate(I)I,
// which reaches the private native through invokespecial, and plain()I.
func NativeData() ([]byte, error) {
	cf, err := newClass(Data, "java/lang/Object")
	if err != nil {
		return nil, err
	}
	for _, n := range DataNatives {
		if err := addNative(cf, n); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", Data, n.Name, err)
		}
	}

	b := classfile.NewCodeBuilder(cf)
	b.Load(classfile.DescriptorOf(Data), 0)
	b.Load("I", 1)
	if err := b.Invoke(classfile.OpInvokespecial, Data, "privateMethod", "(I)I"); err != nil {
		return nil, err
	}
	b.Return("I")
	if err := addMethod(cf, classfile.AccPublic, "callPrivate", "(I)I", b, 2); err != nil {
		return nil, err
	}

	b = classfile.NewCodeBuilder(cf)
	b.PushInt(7)
	b.Return("I")
	if err := addMethod(cf, classfile.AccPublic, "plain", "()I", b, 1); err != nil {
		return nil, err
	}
	return cf.Bytes()
}

// NativeDataSub returns Sub.
func NativeDataSub() ([]byte, error) {
	return ClassWithNatives(Sub, Data, SubNatives...)
}

// PlainClass returns Plain, which has a constructor and answer()I only.
func PlainClass() ([]byte, error) {
	cf, err := newClass(Plain, "java/lang/Object")
	if err != nil {
		return nil, err
	}
	b := classfile.NewCodeBuilder(cf)
	b.PushInt(42)
	b.Return("I")
	if err := addMethod(cf, classfile.AccPublic|classfile.AccStatic, "answer", "()I", b, 0); err != nil {
		return nil, err
	}
	return cf.Bytes()
}

// CallerClass returns Caller:
//
//	static String catching(NativeData d) {
//	    try { d.voidMethod(); return "ok"; }
//	    catch (Exception e) { return e.getMessage(); }
//	}
//	static int sum(NativeData d, int a) { return d.intMethod(a, 2L, 3.0); }
//	public static void main(String[] args) {
//	    System.out.println(NativeData.staticStringMethod("hello"));
//	}
func CallerClass() ([]byte, error) {
	cf, err := newClass(Caller, "java/lang/Object")
	if err != nil {
		return nil, err
	}
	dataDesc := classfile.DescriptorOf(Data)
	static := uint16(classfile.AccPublic | classfile.AccStatic)

	b := classfile.NewCodeBuilder(cf)
	start := b.Len()
	b.Load(dataDesc, 0)
	if err := b.Invoke(classfile.OpInvokevirtual, Data, "voidMethod", "()V"); err != nil {
		return nil, err
	}
	end := b.Len()
	b.LdcString("ok")
	b.Return("Ljava/lang/String;")
	handler := b.Handler()
	b.Store("Ljava/lang/Exception;", 1)
	b.Load("Ljava/lang/Exception;", 1)
	if err := b.Invoke(classfile.OpInvokevirtual, "java/lang/Throwable", "getMessage", "()Ljava/lang/String;"); err != nil {
		return nil, err
	}
	b.Return("Ljava/lang/String;")
	b.Catch(start, end, handler, "java/lang/Exception")
	if err := addMethod(cf, static, "catching", "("+dataDesc+")Ljava/lang/String;", b, 2); err != nil {
		return nil, err
	}

	b = classfile.NewCodeBuilder(cf)
	b.Load(dataDesc, 0)
	b.Load("I", 1)
	b.PushLong(2)
	b.PushDouble(3)
	if err := b.Invoke(classfile.OpInvokevirtual, Data, "intMethod", "(IJD)I"); err != nil {
		return nil, err
	}
	b.Return("I")
	if err := addMethod(cf, static, "sum", "("+dataDesc+"I)I", b, 2); err != nil {
		return nil, err
	}

	b = classfile.NewCodeBuilder(cf)
	b.Getstatic("java/lang/System", "out", "Ljava/io/PrintStream;")
	b.LdcString("hello")
	if err := b.Invoke(classfile.OpInvokestatic, Data, "staticStringMethod", "(Ljava/lang/String;)Ljava/lang/String;"); err != nil {
		return nil, err
	}
	if err := b.Invoke(classfile.OpInvokevirtual, "java/io/PrintStream", "println", "(Ljava/lang/String;)V"); err != nil {
		return nil, err
	}
	b.Return("V")
	if err := addMethod(cf, static, "main", "([Ljava/lang/String;)V", b, 1); err != nil {
		return nil, err
	}
	return cf.Bytes()
}

// All returns every fixture class keyed by name.
func All() (map[string][]byte, error) {
	builders := map[string]func() ([]byte, error){
		Data:   NativeData,
		Sub:    NativeDataSub,
		Plain:  PlainClass,
		Caller: CallerClass,
	}
	out := make(map[string][]byte, len(builders))
	for name, build := range builders {
		b, err := build()
		if err != nil {
			return nil, fmt.Errorf("building %s: %w", name, err)
		}
		out[name] = b
	}
	return out, nil
}

func newClass(name, super string) (*classfile.ClassFile, error) {
	cf := classfile.NewClassFile(name, super, majorVersion)
	b := classfile.NewCodeBuilder(cf)
	b.Load(classfile.DescriptorOf(name), 0)
	if err := b.Invoke(classfile.OpInvokespecial, super, "<init>", "()V"); err != nil {
		return nil, err
	}
	b.Return("V")
	if err := addMethod(cf, classfile.AccPublic, "<init>", "()V", b, 1); err != nil {
		return nil, err
	}
	return cf, nil
}

func addMethod(cf *classfile.ClassFile, flags uint16, name, desc string, b *classfile.CodeBuilder, maxLocals int) error {
	code, err := b.Build(maxLocals)
	if err != nil {
		return fmt.Errorf("%s%s: %w", name, desc, err)
	}
	cf.AddMethod(classfile.MethodInfo{AccessFlags: flags, Name: name, Descriptor: desc, Code: code})
	return nil
}

func addNative(cf *classfile.ClassFile, n Native) error {
	if _, _, err := classfile.ParseMethodDescriptor(n.Descriptor); err != nil {
		return err
	}
	flags := n.Flags
	if flags == 0 {
		flags = classfile.AccPublic
	}
	m := classfile.MethodInfo{AccessFlags: flags | classfile.AccNative, Name: n.Name, Descriptor: n.Descriptor}
	if len(n.Exceptions) > 0 {
		data := binary.BigEndian.AppendUint16(nil, uint16(len(n.Exceptions)))
		for _, e := range n.Exceptions {
			data = binary.BigEndian.AppendUint16(data, cf.AddClass(e))
		}
		m.Attributes = append(m.Attributes, classfile.AttributeInfo{Name: "Exceptions", Data: data})
	}
	cf.AddMethod(m)
	return nil
}
