package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/daimatz/nativeintercept/pkg/classfile"
)

func newTestFrame(maxStack, maxLocals uint16, code []byte) *Frame {
	m := &classfile.MethodInfo{
		Name:       "test",
		Descriptor: "()V",
		Code:       &classfile.CodeAttribute{MaxStack: maxStack, MaxLocals: maxLocals, Code: code},
	}
	return NewFrame(nil, nil, m)
}

func TestFramePushPop(t *testing.T) {
	t.Run("LIFO order", func(t *testing.T) {
		frame := newTestFrame(10, 0, nil)
		frame.Push(IntValue(10))
		frame.Push(IntValue(20))
		frame.Push(IntValue(30))

		assert.Equal(t, int32(30), frame.Pop().Int)
		assert.Equal(t, int32(20), frame.Pop().Int)
		assert.Equal(t, int32(10), frame.Pop().Int)
	})

	t.Run("push after pop reuses space", func(t *testing.T) {
		frame := newTestFrame(2, 0, nil)
		frame.Push(IntValue(1))
		frame.Push(IntValue(2))
		frame.Pop()
		frame.Push(IntValue(3))

		assert.Equal(t, int32(3), frame.Pop().Int)
		assert.Equal(t, int32(1), frame.Pop().Int)
	})

	t.Run("PopN keeps push order", func(t *testing.T) {
		frame := newTestFrame(4, 0, nil)
		frame.Push(IntValue(1))
		frame.Push(LongValue(2))
		frame.Push(RefValue("three"))

		got := frame.PopN(3)
		assert.Equal(t, []Value{IntValue(1), LongValue(2), RefValue("three")}, got)
		assert.Zero(t, frame.SP)
	})

	t.Run("peek does not pop", func(t *testing.T) {
		frame := newTestFrame(1, 0, nil)
		frame.Push(DoubleValue(1.5))
		assert.Equal(t, 1.5, frame.Peek().Double)
		assert.Equal(t, 1, frame.SP)
	})

	t.Run("overflow and underflow panic", func(t *testing.T) {
		frame := newTestFrame(1, 0, nil)
		frame.Push(IntValue(1))
		assert.Panics(t, func() { frame.Push(IntValue(2)) })
		frame.Pop()
		assert.Panics(t, func() { frame.Pop() })
	})
}

func TestFrameLocals(t *testing.T) {
	frame := newTestFrame(0, 4, nil)
	frame.SetLocal(0, IntValue(42))
	frame.SetLocal(1, LongValue(-1))
	frame.SetLocal(3, NullValue())

	assert.Equal(t, IntValue(42), frame.GetLocal(0))
	assert.Equal(t, LongValue(-1), frame.GetLocal(1))
	assert.True(t, frame.GetLocal(3).IsNull())
	assert.Panics(t, func() { frame.GetLocal(4) })
	assert.Panics(t, func() { frame.SetLocal(-1, IntValue(0)) })
}

func TestFrameOperands(t *testing.T) {
	frame := newTestFrame(0, 0, []byte{
		0xFF,       // u8 255
		0xFF,       // i8 -1
		0x80, 0x00, // u16 32768
		0xFF, 0xFE, // i16 -2
		0x00, 0x01, 0x00, 0x00, // i32 65536
	})
	assert.Equal(t, uint8(255), frame.ReadU8())
	assert.Equal(t, int8(-1), frame.ReadI8())
	assert.Equal(t, uint16(32768), frame.ReadU16())
	assert.Equal(t, int16(-2), frame.ReadI16())
	assert.Equal(t, int32(65536), frame.ReadI32())
	assert.Equal(t, 10, frame.PC)
}

func TestValues(t *testing.T) {
	assert.True(t, RefValue(nil).IsNull())
	assert.True(t, NullValue().IsNull())
	assert.False(t, RefValue("s").IsNull())
	assert.True(t, LongValue(1).wide())
	assert.True(t, DoubleValue(1).wide())
	assert.False(t, FloatValue(1).wide())

	assert.Equal(t, IntValue(0), zeroValue("Z"))
	assert.Equal(t, LongValue(0), zeroValue("J"))
	assert.Equal(t, FloatValue(0), zeroValue("F"))
	assert.True(t, zeroValue("[I").IsNull())
}
