package native

import (
	"bytes"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNativeHashMap(t *testing.T) {
	t.Run("put and get", func(t *testing.T) {
		hm := NewHashMap()
		assert.Nil(t, hm.Put("key1", "value1"))
		assert.Equal(t, "value1", hm.Get("key1"))
	})

	t.Run("get missing key returns nil", func(t *testing.T) {
		assert.Nil(t, NewHashMap().Get("nonexistent"))
	})

	t.Run("overwrite returns previous value", func(t *testing.T) {
		hm := NewHashMap()
		hm.Put("key", "old")
		assert.Equal(t, "old", hm.Put("key", "new"))
		assert.Equal(t, "new", hm.Get("key"))
		assert.Equal(t, 1, hm.Size())
	})

	t.Run("boxed keys compare by kind and value", func(t *testing.T) {
		hm := NewHashMap()
		hm.Put(int32(1), "int")
		hm.Put(int64(1), "long")
		assert.Equal(t, "int", hm.Get(int32(1)))
		assert.Equal(t, "long", hm.Get(int64(1)))
		assert.Equal(t, 2, hm.Size())
	})

	t.Run("remove", func(t *testing.T) {
		hm := NewHashMap()
		hm.Put("a", int32(1))
		assert.Equal(t, int32(1), hm.Remove("a"))
		assert.Nil(t, hm.Remove("a"))
		assert.Zero(t, hm.Size())
	})
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "null"},
		{true, "true"},
		{int8(-3), "-3"},
		{uint16('x'), "x"},
		{int32(42), "42"},
		{int64(1) << 40, "1099511627776"},
		{float32(1.5), "1.5"},
		{float64(3), "3.0"},
		{math.Inf(-1), "-Infinity"},
		{math.NaN(), "NaN"},
		{"text", "text"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.in))
		})
	}
}

func TestPrintStream(t *testing.T) {
	var buf bytes.Buffer
	ps := &PrintStream{Writer: &buf}
	ps.Println("hello")
	ps.Println()
	ps.Println(int32(7))
	assert.Equal(t, "hello\n\n7\n", buf.String())
}

func TestLibrary(t *testing.T) {
	lib := NewLibrary()
	_, ok := lib.Lookup("demo/A", "f", "()I")
	assert.False(t, ok)

	lib.Register("demo/A", "f", "()I", func(any, []any) (any, error) { return int32(1), nil })
	lib.Register("demo/A", "f", "()I", func(any, []any) (any, error) { return int32(2), nil })
	lib.Register("demo/A", "f", "(I)I", func(_ any, args []any) (any, error) { return args[0], nil })
	assert.Equal(t, 2, lib.Len())

	fn, ok := lib.Lookup("demo/A", "f", "()I")
	require.True(t, ok)
	got, err := fn(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), got, "a later binding replaces the earlier one")
	assert.Equal(t, "demo/A.f(I)I", Key{"demo/A", "f", "(I)I"}.String())
}

func TestLibraryConcurrent(t *testing.T) {
	lib := NewLibrary()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := string(rune('a' + i))
			lib.Register("demo/A", name, "()V", func(any, []any) (any, error) { return nil, nil })
			_, _ = lib.Lookup("demo/A", name, "()V")
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 16, lib.Len())
}
