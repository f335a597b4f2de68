package vm

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/daimatz/nativeintercept/internal/fixture"
	"github.com/daimatz/nativeintercept/pkg/classfile"
	"github.com/daimatz/nativeintercept/pkg/intercept"
)

const (
	sumDesc   = "(Lfixture/NativeData;I)I"
	catchDesc = "(Lfixture/NativeData;)Ljava/lang/String;"
)

type host struct {
	vm     *VM
	agent  *intercept.Agent
	stdout *bytes.Buffer
}

// newHost boots a VM over the fixture classes with the interceptor attached.
func newHost(t *testing.T, opts intercept.Options) *host {
	t.Helper()
	classes, err := fixture.All()
	require.NoError(t, err)
	cl := NewMemoryClassLoader(nil)
	for name, b := range classes {
		cl.Define(name, b)
	}
	logger := zaptest.NewLogger(t)
	h := &host{stdout: &bytes.Buffer{}}
	h.vm = NewVM(cl, WithLogger(logger), WithStdout(h.stdout))
	if opts.Logger == nil {
		opts.Logger = logger
	}
	h.agent, err = intercept.Attach(h.vm, opts)
	require.NoError(t, err)
	return h
}

func (h *host) class(t *testing.T, name string) *Class {
	t.Helper()
	c, err := h.vm.LoadClass(name)
	require.NoError(t, err)
	return c
}

func (h *host) object(t *testing.T, name string) *JObject {
	t.Helper()
	obj, err := h.vm.NewObject(name)
	require.NoError(t, err)
	return obj
}

func (h *host) intercept(t *testing.T, name string, inherited bool, fn intercept.HandlerFunc) {
	t.Helper()
	require.NoError(t, h.agent.Intercept(h.class(t, name), fn, inherited))
}

func TestWrappedNativeBindsThroughPrefix(t *testing.T) {
	h := newHost(t, intercept.Options{})
	var got []any
	h.vm.RegisterNative(fixture.Data, "intMethod", "(IJD)I", func(receiver any, args []any) (any, error) {
		got = args
		return args[0].(int32) + int32(args[1].(int64)) + int32(args[2].(float64)), nil
	})

	data := h.class(t, fixture.Data)
	assert.True(t, data.Markers().Has(intercept.HasNatives))
	assert.False(t, data.Markers().Has(intercept.HasInterceptedNatives))

	obj := h.object(t, fixture.Data)
	res, err := h.vm.InvokeStatic(fixture.Caller, "sum", sumDesc, obj, int32(4))
	require.NoError(t, err)
	assert.Equal(t, int32(9), res)
	assert.Equal(t, []any{int32(4), int64(2), float64(3)}, got)
}

func TestUnboundNative(t *testing.T) {
	h := newHost(t, intercept.Options{})
	obj := h.object(t, fixture.Data)

	_, err := h.vm.InvokeStatic(fixture.Caller, "catching", catchDesc, obj)
	exc := requireThrown(t, err, "java/lang/UnsatisfiedLinkError")
	msg, _ := exc.Message()
	assert.Contains(t, msg, "voidMethod")
}

func TestInterceptInstance(t *testing.T) {
	h := newHost(t, intercept.Options{})
	obj := h.object(t, fixture.Data)

	var receiver any
	var method *intercept.Method
	var args []any
	h.intercept(t, fixture.Data, false, func(r any, m *intercept.Method, a []any) (any, error) {
		receiver, method, args = r, m, a
		return int32(100), nil
	})
	data := h.class(t, fixture.Data)
	assert.True(t, data.Markers().Has(intercept.HasInterceptedNatives))

	res, err := h.vm.InvokeStatic(fixture.Caller, "sum", sumDesc, obj, int32(4))
	require.NoError(t, err)
	assert.Equal(t, int32(100), res)
	assert.Same(t, obj, receiver)
	require.NotNil(t, method)
	assert.Equal(t, "intMethod", method.Name)
	assert.Equal(t, "(IJD)I", method.Descriptor())
	assert.True(t, method.WasNative)
	assert.Same(t, data, method.Declaring)
	assert.Equal(t, []any{int32(4), int64(2), float64(3)}, args)
}

func TestInterceptKinds(t *testing.T) {
	h := newHost(t, intercept.Options{})
	obj := h.object(t, fixture.Data)
	h.intercept(t, fixture.Data, false, func(r any, m *intercept.Method, a []any) (any, error) {
		switch m.Name {
		case "voidMethod":
			return nil, nil
		case "objectMethod":
			return a[0], nil
		case "arrayMethod":
			return nil, nil
		case "booleanMethod":
			return !a[0].(bool), nil
		case "charMethod":
			return a[0].(uint16) + 1, nil
		}
		return nil, errors.New("unexpected " + m.Name)
	})

	tests := []struct {
		name string
		desc string
		args []any
		want any
	}{
		{"voidMethod", "()V", nil, nil},
		{"objectMethod", "(Ljava/lang/Object;)Ljava/lang/Object;", []any{"x"}, "x"},
		{"arrayMethod", "(ILjava/lang/String;)[I", []any{int32(1), "s"}, nil},
		{"booleanMethod", "(Z)Z", []any{true}, false},
		{"charMethod", "(C)C", []any{uint16('a')}, uint16('b')},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.vm.InvokeVirtual(obj, tt.name, tt.desc, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandlerTypedNilResult(t *testing.T) {
	h := newHost(t, intercept.Options{})
	obj := h.object(t, fixture.Data)
	h.intercept(t, fixture.Data, false, func(r any, m *intercept.Method, a []any) (any, error) {
		var none *JObject
		return none, nil
	})

	got, err := h.vm.InvokeVirtual(obj, "objectMethod", "(Ljava/lang/Object;)Ljava/lang/Object;", "x")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInterceptStatic(t *testing.T) {
	h := newHost(t, intercept.Options{})
	data := h.class(t, fixture.Data)

	var receivers []any
	h.intercept(t, fixture.Data, false, func(r any, m *intercept.Method, a []any) (any, error) {
		receivers = append(receivers, r)
		assert.True(t, m.Static)
		switch m.Name {
		case "staticStringMethod":
			return strings.ToUpper(a[0].(string)), nil
		case "staticDoubleMethod":
			return a[0].(float64) * float64(a[1].(float32)), nil
		case "staticLongMethod":
			return -a[0].(int64), nil
		}
		return nil, nil
	})

	got, err := h.vm.InvokeStatic(fixture.Data, "staticStringMethod", "(Ljava/lang/String;)Ljava/lang/String;", "abc")
	require.NoError(t, err)
	assert.Equal(t, "ABC", got)

	got, err = h.vm.InvokeStatic(fixture.Data, "staticDoubleMethod", "(DF)D", 1.5, float32(2))
	require.NoError(t, err)
	assert.Equal(t, 3.0, got)

	got, err = h.vm.InvokeStatic(fixture.Data, "staticLongMethod", "(J)J", int64(1<<40))
	require.NoError(t, err)
	assert.Equal(t, int64(-(1 << 40)), got)

	got, err = h.vm.InvokeStatic(fixture.Data, "staticVoidMethod", "()V")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.Len(t, receivers, 4)
	for _, r := range receivers {
		assert.Same(t, data, r)
	}
}

func TestInterceptPrivate(t *testing.T) {
	h := newHost(t, intercept.Options{})
	obj := h.object(t, fixture.Data)
	h.intercept(t, fixture.Data, false, func(r any, m *intercept.Method, a []any) (any, error) {
		assert.Equal(t, "privateMethod", m.Name)
		assert.NotZero(t, m.Access&classfile.AccPrivate)
		return a[0].(int32) * 2, nil
	})

	got, err := h.vm.InvokeVirtual(obj, "callPrivate", "(I)I", int32(21))
	require.NoError(t, err)
	assert.Equal(t, int32(42), got)
}

func TestInterceptInherited(t *testing.T) {
	h := newHost(t, intercept.Options{})
	sub := h.object(t, fixture.Sub)
	data := h.class(t, fixture.Data)

	var declaring []intercept.Type
	h.intercept(t, fixture.Sub, true, func(r any, m *intercept.Method, a []any) (any, error) {
		declaring = append(declaring, m.Declaring)
		if m.Name == "subMethod" {
			return int32(1), nil
		}
		return int32(2), nil
	})
	assert.True(t, data.Markers().Has(intercept.HasInterceptedNatives))

	got, err := h.vm.InvokeVirtual(sub, "subMethod", "()I")
	require.NoError(t, err)
	assert.Equal(t, int32(1), got)

	got, err = h.vm.InvokeStatic(fixture.Caller, "sum", sumDesc, sub, int32(1))
	require.NoError(t, err)
	assert.Equal(t, int32(2), got)

	require.Len(t, declaring, 2)
	assert.Equal(t, fixture.Sub, declaring[0].Name())
	assert.Same(t, data, declaring[1])
}

func TestInterceptWithoutInherited(t *testing.T) {
	h := newHost(t, intercept.Options{})
	sub := h.object(t, fixture.Sub)
	h.intercept(t, fixture.Sub, false, func(r any, m *intercept.Method, a []any) (any, error) {
		return int32(1), nil
	})
	assert.False(t, h.class(t, fixture.Data).Markers().Has(intercept.HasInterceptedNatives))

	got, err := h.vm.InvokeVirtual(sub, "subMethod", "()I")
	require.NoError(t, err)
	assert.Equal(t, int32(1), got)

	// Data's natives still forward to the unbound prefixed native.
	_, err = h.vm.InvokeStatic(fixture.Caller, "sum", sumDesc, sub, int32(1))
	requireThrown(t, err, "java/lang/UnsatisfiedLinkError")
}

func TestHandlerThrowable(t *testing.T) {
	h := newHost(t, intercept.Options{})
	obj := h.object(t, fixture.Data)
	h.intercept(t, fixture.Data, false, func(r any, m *intercept.Method, a []any) (any, error) {
		exc, err := h.vm.NewThrowable("java/lang/IllegalStateException", "nope")
		if err != nil {
			return nil, err
		}
		return nil, exc
	})

	got, err := h.vm.InvokeStatic(fixture.Caller, "catching", catchDesc, obj)
	require.NoError(t, err)
	assert.Equal(t, "nope", got)

	_, err = h.vm.NewThrowable("java/lang/String", "x")
	assert.Error(t, err)
}

func TestHandlerThrowableUncaught(t *testing.T) {
	h := newHost(t, intercept.Options{})
	obj := h.object(t, fixture.Data)
	var pending *JavaException
	h.intercept(t, fixture.Data, false, func(r any, m *intercept.Method, a []any) (any, error) {
		return nil, pending
	})

	tests := []struct {
		name  string
		class string
	}{
		{"checked", "java/io/IOException"},
		{"runtime", "java/lang/IllegalStateException"},
		{"error", "java/lang/StackOverflowError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exc, err := h.vm.NewThrowable(tt.class, tt.name)
			require.NoError(t, err)
			pending = exc

			_, err = h.vm.InvokeVirtual(obj, "voidMethod", "()V")
			got := requireThrown(t, err, tt.class)
			assert.Same(t, exc.Object, got.Object)
		})
	}
}

func TestHandlerGoErrorPassesThrough(t *testing.T) {
	h := newHost(t, intercept.Options{})
	obj := h.object(t, fixture.Data)
	boom := errors.New("boom")
	h.intercept(t, fixture.Data, false, func(r any, m *intercept.Method, a []any) (any, error) {
		return nil, boom
	})

	_, err := h.vm.InvokeStatic(fixture.Caller, "catching", catchDesc, obj)
	assert.ErrorIs(t, err, boom)
	var exc *JavaException
	assert.False(t, errors.As(err, &exc))
}

func TestDispatchFailures(t *testing.T) {
	h := newHost(t, intercept.Options{})
	obj := h.object(t, fixture.Data)
	h.intercept(t, fixture.Data, false, func(r any, m *intercept.Method, a []any) (any, error) {
		return int64(1), nil
	})

	t.Run("wrong result type", func(t *testing.T) {
		_, err := h.vm.InvokeStatic(fixture.Caller, "sum", sumDesc, obj, int32(1))
		requireThrown(t, err, "java/lang/IllegalStateException")
		assert.ErrorIs(t, err, intercept.ErrState)
	})

	t.Run("result for void", func(t *testing.T) {
		_, err := h.vm.InvokeVirtual(obj, "voidMethod", "()V")
		requireThrown(t, err, "java/lang/IllegalStateException")
	})

	t.Run("missing handler", func(t *testing.T) {
		h.agent.Registry().Unregister(h.class(t, fixture.Data))
		_, err := h.vm.InvokeVirtual(obj, "voidMethod", "()V")
		requireThrown(t, err, "java/lang/UnsatisfiedLinkError")
		assert.ErrorIs(t, err, intercept.ErrMissingHandler)

		// an Error is not caught by catch (Exception)
		_, err = h.vm.InvokeStatic(fixture.Caller, "catching", catchDesc, obj)
		assert.ErrorIs(t, err, intercept.ErrMissingHandler)
	})
}

func TestExecuteMain(t *testing.T) {
	h := newHost(t, intercept.Options{})
	h.intercept(t, fixture.Data, false, func(r any, m *intercept.Method, a []any) (any, error) {
		return strings.ToUpper(a[0].(string)), nil
	})

	require.NoError(t, h.vm.Execute(fixture.Caller))
	assert.Equal(t, "HELLO\n", h.stdout.String())

	assert.Error(t, h.vm.Execute(fixture.Plain))
}

func TestDispatchArity(t *testing.T) {
	h := newHost(t, intercept.Options{})
	tests := []struct {
		name string
		desc string
		push func(b *classfile.CodeBuilder)
	}{
		{"handleVoid", "()V", func(*classfile.CodeBuilder) {}},
		{"handleVoid", "(Ljava/lang/Object;)V", func(b *classfile.CodeBuilder) { b.AconstNull() }},
		{"handleObject", "(Ljava/lang/Object;Ljava/lang/String;)Ljava/lang/Object;", func(b *classfile.CodeBuilder) {
			b.AconstNull()
			b.AconstNull()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			cf := classfile.NewClassFile("test/Code", "java/lang/Object", 52)
			b := classfile.NewCodeBuilder(cf)
			tt.push(b)
			require.NoError(t, b.Invoke(classfile.OpInvokestatic, intercept.DispatchClass, tt.name, tt.desc))
			b.Return("V")
			attr, err := b.Build(0)
			require.NoError(t, err)
			m := &classfile.MethodInfo{
				AccessFlags: classfile.AccPublic | classfile.AccStatic,
				Name:        "test",
				Descriptor:  "()V",
				Code:        attr,
			}

			_, err = h.vm.executeMethod(&thread{}, nil, cf, m, nil)
			requireThrown(t, err, "java/lang/IllegalArgumentException")
			assert.ErrorIs(t, err, intercept.ErrArgument)
		})
	}
}

func TestInterceptPreconditions(t *testing.T) {
	h := newHost(t, intercept.Options{})
	noop := intercept.HandlerFunc(func(any, *intercept.Method, []any) (any, error) { return nil, nil })

	for _, name := range []string{fixture.Plain, "java/lang/String"} {
		err := h.agent.Intercept(h.class(t, name), noop, false)
		assert.ErrorIs(t, err, intercept.ErrPrecondition, name)
	}
	assert.ErrorIs(t, h.agent.Intercept(nil, noop, false), intercept.ErrArgument)
}

func TestInterceptTwice(t *testing.T) {
	h := newHost(t, intercept.Options{})
	obj := h.object(t, fixture.Data)
	data := h.class(t, fixture.Data)

	h.intercept(t, fixture.Data, false, func(any, *intercept.Method, []any) (any, error) { return int32(1), nil })
	first := data.File()
	h.intercept(t, fixture.Data, false, func(any, *intercept.Method, []any) (any, error) { return int32(2), nil })
	assert.Len(t, data.File().Methods, len(first.Methods))

	got, err := h.vm.InvokeStatic(fixture.Caller, "sum", sumDesc, obj, int32(1))
	require.NoError(t, err)
	assert.Equal(t, int32(2), got)

	// Removing the handler leaves the rewritten forwarders in place.
	require.NoError(t, h.agent.Intercept(data, nil, false))
	_, err = h.vm.InvokeStatic(fixture.Caller, "sum", sumDesc, obj, int32(1))
	assert.ErrorIs(t, err, intercept.ErrMissingHandler)
}

func TestExcludedClassIsNotWrapped(t *testing.T) {
	h := newHost(t, intercept.Options{Filters: []intercept.ClassnameFilter{intercept.ContainsFilter("NativeData")}})
	h.vm.RegisterNative(fixture.Data, "intMethod", "(IJD)I", func(any, []any) (any, error) {
		return int32(5), nil
	})

	data := h.class(t, fixture.Data)
	assert.False(t, data.Markers().Has(intercept.HasNatives))
	err := h.agent.Intercept(data, intercept.HandlerFunc(func(any, *intercept.Method, []any) (any, error) {
		return nil, nil
	}), false)
	assert.ErrorIs(t, err, intercept.ErrPrecondition)

	got, err := h.vm.InvokeStatic(fixture.Caller, "sum", sumDesc, h.object(t, fixture.Data), int32(1))
	require.NoError(t, err)
	assert.Equal(t, int32(5), got)
}

func TestConcurrentInvocation(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHost(t, intercept.Options{})
	var loads errgroup.Group
	// Concurrent first loads coalesce onto one definition.
	classes := make([]*Class, 8)
	for i := range classes {
		loads.Go(func() error {
			c, err := h.vm.LoadClass(fixture.Sub)
			classes[i] = c
			return err
		})
	}
	require.NoError(t, loads.Wait())
	for _, c := range classes {
		assert.Same(t, classes[0], c)
	}

	h.intercept(t, fixture.Data, false, func(r any, m *intercept.Method, a []any) (any, error) {
		return a[0].(int32) + 1, nil
	})
	obj := h.object(t, fixture.Data)
	var g errgroup.Group
	for i := int32(0); i < 32; i++ {
		g.Go(func() error {
			got, err := h.vm.InvokeStatic(fixture.Caller, "sum", sumDesc, obj, i)
			if err != nil {
				return err
			}
			if got != i+1 {
				return errors.New("unexpected result")
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}
