package classfile

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddConstantDedup(t *testing.T) {
	cf := NewClassFile("demo/Pool", "java/lang/Object", 52)
	size := len(cf.ConstantPool)

	assert.Equal(t, cf.ThisClass, cf.AddClass("demo/Pool"))
	assert.Equal(t, cf.AddUtf8("demo/Pool"), cf.AddUtf8("demo/Pool"))
	assert.Equal(t, size, len(cf.ConstantPool))

	m := cf.AddMethodref("demo/Pool", "run", "()V")
	assert.Equal(t, m, cf.AddMethodref("demo/Pool", "run", "()V"))
	assert.NotEqual(t, m, cf.AddMethodref("demo/Pool", "run", "(I)V"))

	assert.Equal(t, cf.AddInteger(7), cf.AddInteger(7))
	assert.Equal(t, cf.AddString("s"), cf.AddString("s"))
	assert.Equal(t, cf.AddLong(9), cf.AddLong(9))
	assert.NotEqual(t, cf.AddDouble(0), cf.AddDouble(math.Copysign(0, -1)))
}

func TestCodeBuilderShortForms(t *testing.T) {
	tests := []struct {
		name string
		emit func(b *CodeBuilder)
		want []byte
	}{
		{"iconst_m1", func(b *CodeBuilder) { b.PushInt(-1) }, []byte{OpIconstM1}},
		{"iconst_5", func(b *CodeBuilder) { b.PushInt(5) }, []byte{OpIconst5}},
		{"bipush", func(b *CodeBuilder) { b.PushInt(-100) }, []byte{OpBipush, 0x9C}},
		{"sipush", func(b *CodeBuilder) { b.PushInt(1000) }, []byte{OpSipush, 0x03, 0xE8}},
		{"lconst_1", func(b *CodeBuilder) { b.PushLong(1) }, []byte{OpLconst1}},
		{"dconst_1", func(b *CodeBuilder) { b.PushDouble(1) }, []byte{OpDconst1}},
		{"aload_3", func(b *CodeBuilder) { b.Load("[I", 3) }, []byte{OpAload3}},
		{"iload", func(b *CodeBuilder) { b.Load("Z", 4) }, []byte{OpIload, 4}},
		{"wide dload", func(b *CodeBuilder) { b.Load("D", 300) }, []byte{OpWide, OpDload, 0x01, 0x2C}},
		{"lstore_2", func(b *CodeBuilder) { b.Store("J", 2) }, []byte{OpLstore0 + 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewCodeBuilder(NewClassFile("demo/Code", "java/lang/Object", 52))
			tt.emit(b)
			code, err := b.Build(1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, code.Code)
		})
	}
}

func TestCodeBuilderMaxStack(t *testing.T) {
	cf := NewClassFile("demo/Code", "java/lang/Object", 52)
	b := NewCodeBuilder(cf)
	b.Load("J", 0)
	b.PushDouble(2.5)
	b.PushInt(1 << 20)
	require.NoError(t, b.Invoke(OpInvokestatic, "demo/Code", "f", "(JDI)D"))
	b.Return("D")

	code, err := b.Build(2)
	require.NoError(t, err)
	assert.Equal(t, uint16(5), code.MaxStack)
	assert.Equal(t, uint16(2), code.MaxLocals)

	assert.Error(t, b.Invoke(OpInvokestatic, "demo/Code", "g", "(Q)V"))
	_, err = NewCodeBuilder(cf).Build(0)
	assert.Error(t, err)
}

func TestCodeBuilderHandlers(t *testing.T) {
	cf := NewClassFile("demo/Try", "java/lang/Object", 52)
	b := NewCodeBuilder(cf)
	start := b.Len()
	b.PushInt(100)
	b.PushInt(200)
	end := b.Len()
	b.Op(OpIadd, -1)
	b.Return("I")
	handler := b.Handler()
	b.Athrow()
	b.Catch(start, end, handler, "java/lang/ArithmeticException")
	b.Catch(start, end, handler, "")

	code, err := b.Build(0)
	require.NoError(t, err)
	require.Len(t, code.ExceptionHandlers, 2)
	h := code.ExceptionHandlers[0]
	assert.Equal(t, uint16(start), h.StartPC)
	assert.Equal(t, uint16(end), h.EndPC)
	assert.Equal(t, uint16(handler), h.HandlerPC)
	name, err := GetClassName(cf.ConstantPool, h.CatchType)
	require.NoError(t, err)
	assert.Equal(t, "java/lang/ArithmeticException", name)
	assert.Zero(t, code.ExceptionHandlers[1].CatchType)
	assert.Equal(t, uint16(2), code.MaxStack)
}
