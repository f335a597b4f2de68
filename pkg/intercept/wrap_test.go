package intercept

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/daimatz/nativeintercept/internal/fixture"
	"github.com/daimatz/nativeintercept/pkg/classfile"
)

func parse(t *testing.T, b []byte) *classfile.ClassFile {
	t.Helper()
	require.NotNil(t, b)
	cf, err := classfile.ParseBytes(b)
	require.NoError(t, err)
	return cf
}

func build(t *testing.T, fn func() ([]byte, error)) []byte {
	t.Helper()
	b, err := fn()
	require.NoError(t, err)
	return b
}

// lastInvoke resolves the invocation that produces m's return value.
func lastInvoke(t *testing.T, cf *classfile.ClassFile, m *classfile.MethodInfo) *classfile.MethodRefInfo {
	t.Helper()
	require.NotNil(t, m.Code)
	code := m.Code.Code
	pos := len(code) - 4
	require.GreaterOrEqual(t, pos, 0)
	if code[pos] == classfile.OpCheckcast {
		pos -= 3
	}
	switch code[pos] {
	case classfile.OpInvokevirtual, classfile.OpInvokespecial, classfile.OpInvokestatic:
	default:
		t.Fatalf("%s%s: opcode 0x%02X at %d is not an invoke", m.Name, m.Descriptor, code[pos], pos)
	}
	ref, err := classfile.ResolveMethodref(cf.ConstantPool, uint16(code[pos+1])<<8|uint16(code[pos+2]))
	require.NoError(t, err)
	return ref
}

func TestWrap(t *testing.T) {
	cf := parse(t, build(t, func() ([]byte, error) { return Wrap(build(t, fixture.NativeData)) }))

	assert.Equal(t, HasNatives, ClassMarkers(cf))
	// <init>, callPrivate and plain, plus a forwarder and a prefixed native per native
	assert.Len(t, cf.Methods, 3+2*len(fixture.DataNatives))

	for _, n := range fixture.DataNatives {
		t.Run(n.Name, func(t *testing.T) {
			fwd := cf.FindMethod(n.Name, n.Descriptor)
			require.NotNil(t, fwd)
			assert.False(t, fwd.IsNative())
			assert.Equal(t, WasNative, MethodMarkers(cf, fwd))

			wrapped := cf.FindMethod(NativeMethodPrefix+n.Name, n.Descriptor)
			require.NotNil(t, wrapped)
			assert.True(t, wrapped.IsNative())
			assert.Equal(t, fwd.AccessFlags|classfile.AccNative, wrapped.AccessFlags)
			assert.Equal(t, Markers(0), MethodMarkers(cf, wrapped))

			ref := lastInvoke(t, cf, fwd)
			assert.Equal(t, fixture.Data, ref.ClassName)
			assert.Equal(t, NativeMethodPrefix+n.Name, ref.MethodName)
			assert.Equal(t, n.Descriptor, ref.Descriptor)

			if n.Exceptions != nil {
				assert.NotNil(t, fwd.Attribute("Exceptions"))
				assert.NotNil(t, wrapped.Attribute("Exceptions"))
			}
		})
	}

	for _, name := range []string{"<init>", "callPrivate", "plain"} {
		m := cf.FindMethodByName(name)
		require.NotNil(t, m, name)
		assert.Equal(t, Markers(0), MethodMarkers(cf, m), name)
	}
}

func TestWrapForwarderShape(t *testing.T) {
	cf := parse(t, build(t, func() ([]byte, error) { return Wrap(build(t, fixture.NativeData)) }))

	tests := []struct {
		name, desc string
		op         byte
		maxLocals  uint16
	}{
		{"voidMethod", "()V", classfile.OpInvokevirtual, 1},
		{"intMethod", "(IJD)I", classfile.OpInvokevirtual, 6},
		{"privateMethod", "(I)I", classfile.OpInvokespecial, 2},
		{"staticVoidMethod", "()V", classfile.OpInvokestatic, 0},
		{"staticDoubleMethod", "(DF)D", classfile.OpInvokestatic, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := cf.FindMethod(tt.name, tt.desc)
			require.NotNil(t, m)
			code := m.Code.Code
			assert.Equal(t, tt.op, code[len(code)-4])
			assert.Equal(t, tt.maxLocals, m.Code.MaxLocals)
		})
	}
}

func TestWrapUnchanged(t *testing.T) {
	plain, err := Wrap(build(t, fixture.PlainClass))
	require.NoError(t, err)
	assert.Nil(t, plain, "a class without natives is left alone")

	wrapped := build(t, func() ([]byte, error) { return Wrap(build(t, fixture.NativeData)) })
	again, err := Wrap(wrapped)
	require.NoError(t, err)
	assert.Nil(t, again, "wrapping is idempotent")

	_, err = Wrap([]byte("not a class"))
	assert.Error(t, err)
}

func TestWrapNativeCount(t *testing.T) {
	for n := 0; n <= 5; n++ {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			natives := make([]fixture.Native, n)
			for i := range natives {
				natives[i] = fixture.Native{Name: fmt.Sprintf("m%d", i), Descriptor: "(I)I"}
			}
			b, err := fixture.ClassWithNatives("demo/Count", "java/lang/Object", natives...)
			require.NoError(t, err)

			out, err := Wrap(b)
			require.NoError(t, err)
			if n == 0 {
				assert.Nil(t, out)
				return
			}
			cf := parse(t, out)
			assert.Len(t, cf.Methods, 1+2*n)
			forwarders := 0
			for i := range cf.Methods {
				if MethodMarkers(cf, &cf.Methods[i]).Has(WasNative) {
					forwarders++
				}
			}
			assert.Equal(t, n, forwarders)
		})
	}
}

func TestPipelineDeterministic(t *testing.T) {
	run := func() []byte {
		wrapped, err := Wrap(build(t, fixture.NativeData))
		require.NoError(t, err)
		out, err := InterceptNatives(wrapped)
		require.NoError(t, err)
		return out
	}
	first, second := run(), run()
	assert.True(t, bytes.Equal(first, second), "the pipeline produced different bytes for the same input")

	out, err := Wrap(first)
	require.NoError(t, err)
	assert.Nil(t, out)
	out, err = InterceptNatives(first)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestWrappingTransformer(t *testing.T) {
	data := build(t, fixture.NativeData)

	t.Run("initial load", func(t *testing.T) {
		w := NewWrappingTransformer(NewExclusion(), nil)
		out, err := w.Transform(fixture.Data, nil, data)
		require.NoError(t, err)
		assert.Equal(t, HasNatives, ClassMarkers(parse(t, out)))
	})

	t.Run("retransform is ignored", func(t *testing.T) {
		w := NewWrappingTransformer(NewExclusion(), nil)
		out, err := w.Transform(fixture.Data, &fakeType{name: fixture.Data}, data)
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("excluded", func(t *testing.T) {
		w := NewWrappingTransformer(NewExclusion(ContainsFilter("fixture/")), nil)
		out, err := w.Transform(fixture.Data, nil, data)
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("failure is logged", func(t *testing.T) {
		core, logs := observer.New(zap.ErrorLevel)
		w := NewWrappingTransformer(NewExclusion(), zap.New(core))
		out, err := w.Transform("broken/Class", nil, []byte{0xCA, 0xFE})
		assert.Nil(t, out)
		assert.ErrorIs(t, err, ErrTransform)

		require.Equal(t, 1, logs.Len())
		entry := logs.All()[0]
		assert.Equal(t, "Error while transforming class for intercepting", entry.Message)
		assert.Equal(t, "broken/Class", entry.ContextMap()["class"])
		assert.Equal(t, "wrap", entry.ContextMap()["stage"])
	})
}
