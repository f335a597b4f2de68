package vm

import (
	"fmt"

	"github.com/daimatz/nativeintercept/pkg/classfile"
	"github.com/daimatz/nativeintercept/pkg/native"
)

// ValueType represents the type of a Value on the stack or in local variables.
type ValueType int

const (
	TypeInt ValueType = iota
	TypeLong
	TypeFloat
	TypeDouble
	TypeRef
	TypeNull
)

// Value represents a value on the operand stack or in local variables.
// A long or double is a single Value; the slot after it stays unused.
type Value struct {
	Type   ValueType
	Int    int32
	Long   int64
	Float  float32
	Double float64
	Ref    any
}

// IntValue creates an integer Value.
func IntValue(v int32) Value {
	return Value{Type: TypeInt, Int: v}
}

// LongValue creates a long Value.
func LongValue(v int64) Value {
	return Value{Type: TypeLong, Long: v}
}

// FloatValue creates a float Value.
func FloatValue(v float32) Value {
	return Value{Type: TypeFloat, Float: v}
}

// DoubleValue creates a double Value.
func DoubleValue(v float64) Value {
	return Value{Type: TypeDouble, Double: v}
}

// RefValue creates a reference Value. A nil ref, typed or not, is null.
func RefValue(ref any) Value {
	if isNullRef(ref) {
		return NullValue()
	}
	return Value{Type: TypeRef, Ref: ref}
}

// isNullRef reports whether ref is nil or a nil pointer of a reference kind.
func isNullRef(ref any) bool {
	switch x := ref.(type) {
	case nil:
		return true
	case *JObject:
		return x == nil
	case *JArray:
		return x == nil
	case *Class:
		return x == nil
	case *native.PrintStream:
		return x == nil
	case *native.HashMap:
		return x == nil
	}
	return false
}

// NullValue creates a null reference Value.
func NullValue() Value {
	return Value{Type: TypeNull}
}

// IsNull reports whether v is the null reference.
func (v Value) IsNull() bool {
	return v.Type == TypeNull || (v.Type == TypeRef && v.Ref == nil)
}

// wide reports whether v takes two local variable slots.
func (v Value) wide() bool {
	return v.Type == TypeLong || v.Type == TypeDouble
}

// zeroValue returns the default value of a field descriptor.
func zeroValue(desc string) Value {
	switch desc {
	case "J":
		return LongValue(0)
	case "F":
		return FloatValue(0)
	case "D":
		return DoubleValue(0)
	case "Z", "B", "C", "S", "I":
		return IntValue(0)
	default:
		return NullValue()
	}
}

// thread carries per-invocation state for one Go caller.
type thread struct {
	depth int
}

// Frame represents a stack frame for method execution.
type Frame struct {
	LocalVars    []Value
	OperandStack []Value
	SP           int
	Code         []byte
	PC           int
	// Class is the definition the method was taken from; its constant pool
	// resolves the method's operands even if the class is retransformed meanwhile.
	Class  *classfile.ClassFile
	Owner  *Class
	Method *classfile.MethodInfo
	thread *thread
}

// NewFrame creates a Frame for a method of owner whose code comes from cf.
func NewFrame(owner *Class, cf *classfile.ClassFile, method *classfile.MethodInfo) *Frame {
	code := method.Code
	return &Frame{
		LocalVars:    make([]Value, code.MaxLocals),
		OperandStack: make([]Value, code.MaxStack),
		Code:         code.Code,
		Class:        cf,
		Owner:        owner,
		Method:       method,
	}
}

// Push pushes a value onto the operand stack.
func (f *Frame) Push(v Value) {
	if f.SP >= len(f.OperandStack) {
		panic(fmt.Sprintf("operand stack overflow: SP=%d, max=%d", f.SP, len(f.OperandStack)))
	}
	f.OperandStack[f.SP] = v
	f.SP++
}

// Pop pops a value from the operand stack.
func (f *Frame) Pop() Value {
	if f.SP <= 0 {
		panic("operand stack underflow: SP=0")
	}
	f.SP--
	return f.OperandStack[f.SP]
}

// Peek returns the top of the operand stack without popping it.
func (f *Frame) Peek() Value {
	if f.SP <= 0 {
		panic("operand stack underflow: SP=0")
	}
	return f.OperandStack[f.SP-1]
}

// PopN pops n values and returns them in push order.
func (f *Frame) PopN(n int) []Value {
	vals := make([]Value, n)
	for i := n - 1; i >= 0; i-- {
		vals[i] = f.Pop()
	}
	return vals
}

// GetLocal returns the value at the given local variable index.
func (f *Frame) GetLocal(index int) Value {
	if index < 0 || index >= len(f.LocalVars) {
		panic(fmt.Sprintf("local variable index out of range: index=%d, max=%d", index, len(f.LocalVars)))
	}
	return f.LocalVars[index]
}

// SetLocal sets the value at the given local variable index.
func (f *Frame) SetLocal(index int, v Value) {
	if index < 0 || index >= len(f.LocalVars) {
		panic(fmt.Sprintf("local variable index out of range: index=%d, max=%d", index, len(f.LocalVars)))
	}
	f.LocalVars[index] = v
}

// ReadU8 reads a uint8 operand and advances PC.
func (f *Frame) ReadU8() uint8 {
	val := f.Code[f.PC]
	f.PC++
	return val
}

// ReadI8 reads an int8 operand and advances PC.
func (f *Frame) ReadI8() int8 {
	val := int8(f.Code[f.PC])
	f.PC++
	return val
}

// ReadU16 reads a uint16 operand (big-endian) and advances PC by 2.
func (f *Frame) ReadU16() uint16 {
	val := uint16(f.Code[f.PC])<<8 | uint16(f.Code[f.PC+1])
	f.PC += 2
	return val
}

// ReadI16 reads an int16 operand (big-endian) and advances PC by 2.
func (f *Frame) ReadI16() int16 {
	val := int16(f.Code[f.PC])<<8 | int16(f.Code[f.PC+1])
	f.PC += 2
	return val
}

// ReadI32 reads an int32 operand (big-endian) and advances PC by 4.
func (f *Frame) ReadI32() int32 {
	val := int32(f.Code[f.PC])<<24 | int32(f.Code[f.PC+1])<<16 | int32(f.Code[f.PC+2])<<8 | int32(f.Code[f.PC+3])
	f.PC += 4
	return val
}
