package classfile

import (
	"fmt"
	"math"
)

// CodeBuilder assembles straight-line bytecode for a method of cf, adding
// the constants it references to cf's pool. It tracks operand stack depth in
// JVM slots so the resulting max_stack is exact.
type CodeBuilder struct {
	cf       *ClassFile
	code     []byte
	depth    int
	maxDepth int
	handlers []ExceptionHandler
}

// NewCodeBuilder returns a builder emitting code for a method of cf.
func NewCodeBuilder(cf *ClassFile) *CodeBuilder {
	return &CodeBuilder{cf: cf}
}

func (b *CodeBuilder) emit(delta int, bytes ...byte) {
	b.code = append(b.code, bytes...)
	b.depth += delta
	if b.depth > b.maxDepth {
		b.maxDepth = b.depth
	}
}

func (b *CodeBuilder) emitU16(op byte, delta int, operand uint16) {
	b.emit(delta, op, byte(operand>>8), byte(operand))
}

// Len returns the number of bytes emitted so far.
func (b *CodeBuilder) Len() int { return len(b.code) }

// Build returns the Code attribute for the emitted instructions.
func (b *CodeBuilder) Build(maxLocals int) (*CodeAttribute, error) {
	if len(b.code) == 0 {
		return nil, fmt.Errorf("empty method body")
	}
	if b.maxDepth > math.MaxUint16 || maxLocals > math.MaxUint16 {
		return nil, fmt.Errorf("method frame too large: stack=%d locals=%d", b.maxDepth, maxLocals)
	}
	return &CodeAttribute{
		MaxStack:          uint16(b.maxDepth),
		MaxLocals:         uint16(maxLocals),
		Code:              b.code,
		ExceptionHandlers: b.handlers,
	}, nil
}

// Op emits a single operand-less instruction with the given stack effect.
func (b *CodeBuilder) Op(op byte, delta int) { b.emit(delta, op) }

// PushInt pushes an int constant using the shortest encoding.
func (b *CodeBuilder) PushInt(v int32) {
	switch {
	case v >= -1 && v <= 5:
		b.emit(1, byte(OpIconst0+int(v)))
	case v >= math.MinInt8 && v <= math.MaxInt8:
		b.emit(1, OpBipush, byte(int8(v)))
	case v >= math.MinInt16 && v <= math.MaxInt16:
		b.emit(1, OpSipush, byte(uint16(v)>>8), byte(uint16(v)))
	default:
		b.ldc(b.cf.AddInteger(v))
	}
}

// PushLong pushes a long constant.
func (b *CodeBuilder) PushLong(v int64) {
	if v == 0 || v == 1 {
		b.emit(2, byte(OpLconst0+v))
		return
	}
	b.emitU16(OpLdc2W, 2, b.cf.AddLong(v))
}

// PushDouble pushes a double constant.
func (b *CodeBuilder) PushDouble(v float64) {
	if (v == 0 && !math.Signbit(v)) || v == 1 {
		b.emit(2, byte(OpDconst0+int(v)))
		return
	}
	b.emitU16(OpLdc2W, 2, b.cf.AddDouble(v))
}

func (b *CodeBuilder) ldc(index uint16) {
	if index <= math.MaxUint8 {
		b.emit(1, OpLdc, byte(index))
		return
	}
	b.emitU16(OpLdcW, 1, index)
}

// LdcString pushes a string constant.
func (b *CodeBuilder) LdcString(s string) { b.ldc(b.cf.AddString(s)) }

// LdcClass pushes a class mirror for the named class or array type.
func (b *CodeBuilder) LdcClass(name string) { b.ldc(b.cf.AddClass(name)) }

// AconstNull pushes null.
func (b *CodeBuilder) AconstNull() { b.emit(1, OpAconstNull) }

// Dup duplicates a single-slot value.
func (b *CodeBuilder) Dup() { b.emit(1, OpDup) }

// Aastore stores a reference into an array.
func (b *CodeBuilder) Aastore() { b.emit(-3, OpAastore) }

// Anewarray pops a length and pushes a new array of the named class.
func (b *CodeBuilder) Anewarray(class string) {
	b.emitU16(OpAnewarray, 0, b.cf.AddClass(class))
}

// Checkcast checks the reference on top of the stack against class.
func (b *CodeBuilder) Checkcast(class string) {
	b.emitU16(OpCheckcast, 0, b.cf.AddClass(class))
}

// Getstatic pushes a static field.
func (b *CodeBuilder) Getstatic(class, name, desc string) {
	b.emitU16(OpGetstatic, SlotSize(desc), b.cf.AddFieldref(class, name, desc))
}

var loadOps = map[byte][2]byte{ // descriptor kind -> {xload, xload_0}
	'I': {OpIload, OpIload0},
	'J': {OpLload, OpLload0},
	'F': {OpFload, OpFload0},
	'D': {OpDload, OpDload0},
	'L': {OpAload, OpAload0},
}

// Load pushes the local at slot, typed by field descriptor desc.
func (b *CodeBuilder) Load(desc string, slot int) {
	kind := desc[0]
	switch kind {
	case 'Z', 'B', 'C', 'S':
		kind = 'I'
	case '[':
		kind = 'L'
	}
	ops := loadOps[kind]
	size := SlotSize(desc)
	switch {
	case slot <= 3:
		b.emit(size, ops[1]+byte(slot))
	case slot <= math.MaxUint8:
		b.emit(size, ops[0], byte(slot))
	default:
		b.emit(size, OpWide, ops[0], byte(slot>>8), byte(slot))
	}
}

var storeOps = map[byte][2]byte{
	'I': {OpIstore, OpIstore0},
	'J': {OpLstore, OpLstore0},
	'F': {OpFstore, OpFstore0},
	'D': {OpDstore, OpDstore0},
	'L': {OpAstore, OpAstore0},
}

// Store pops into the local at slot, typed by field descriptor desc.
func (b *CodeBuilder) Store(desc string, slot int) {
	kind := desc[0]
	switch kind {
	case 'Z', 'B', 'C', 'S':
		kind = 'I'
	case '[':
		kind = 'L'
	}
	ops := storeOps[kind]
	size := SlotSize(desc)
	switch {
	case slot <= 3:
		b.emit(-size, ops[1]+byte(slot))
	case slot <= math.MaxUint8:
		b.emit(-size, ops[0], byte(slot))
	default:
		b.emit(-size, OpWide, ops[0], byte(slot>>8), byte(slot))
	}
}

// New pushes an uninitialized instance of class.
func (b *CodeBuilder) New(class string) {
	b.emitU16(OpNew, 1, b.cf.AddClass(class))
}

// Athrow throws the reference on top of the stack.
func (b *CodeBuilder) Athrow() { b.emit(-1, OpAthrow) }

// Handler starts an exception handler at the current offset, where the
// stack holds only the thrown exception, and returns that offset.
func (b *CodeBuilder) Handler() int {
	b.depth = 0
	b.emit(1)
	return len(b.code)
}

// Catch routes exceptions of class thrown in [start, end) to handler. An
// empty class catches everything.
func (b *CodeBuilder) Catch(start, end, handler int, class string) {
	var catchType uint16
	if class != "" {
		catchType = b.cf.AddClass(class)
	}
	b.handlers = append(b.handlers, ExceptionHandler{
		StartPC:   uint16(start),
		EndPC:     uint16(end),
		HandlerPC: uint16(handler),
		CatchType: catchType,
	})
}

// Return emits the return instruction for return descriptor desc.
func (b *CodeBuilder) Return(desc string) {
	switch desc[0] {
	case 'V':
		b.emit(0, OpReturn)
	case 'Z', 'B', 'C', 'S', 'I':
		b.emit(-1, OpIreturn)
	case 'J':
		b.emit(-2, OpLreturn)
	case 'F':
		b.emit(-1, OpFreturn)
	case 'D':
		b.emit(-2, OpDreturn)
	default:
		b.emit(-1, OpAreturn)
	}
}

// Invoke emits invokevirtual, invokespecial or invokestatic of
// class.name:desc. The stack effect is derived from the descriptor.
func (b *CodeBuilder) Invoke(op byte, class, name, desc string) error {
	params, ret, err := ParseMethodDescriptor(desc)
	if err != nil {
		return err
	}
	delta := -ArgSlots(params)
	if op != OpInvokestatic {
		delta-- // receiver
	}
	if ret != "V" {
		delta += SlotSize(ret)
	}
	b.emitU16(op, delta, b.cf.AddMethodref(class, name, desc))
	return nil
}
