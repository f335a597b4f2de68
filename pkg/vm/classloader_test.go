package vm

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/nativeintercept/internal/fixture"
)

func TestMemoryClassLoader(t *testing.T) {
	parent := NewMemoryClassLoader(nil)
	parent.Define("demo/P", []byte{1})

	cl := NewMemoryClassLoader(parent)
	cl.Define("demo/A", []byte{2})

	b, err := cl.LoadClass("demo/A")
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, b)

	b, err = cl.LoadClass("demo/P")
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, b)

	_, err = cl.LoadClass("demo/Missing")
	assert.ErrorIs(t, err, ErrClassNotFound)
}

func TestUserClassLoader(t *testing.T) {
	data, err := fixture.PlainClass()
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "fixture"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fixture", "Plain.class"), data, 0o644))

	parent := NewMemoryClassLoader(nil)
	parent.Define("demo/FromParent", []byte{9})
	cl := NewUserClassLoader(dir, parent)

	b, err := cl.LoadClass(fixture.Plain)
	require.NoError(t, err)
	assert.Equal(t, data, b)

	b, err = cl.LoadClass("demo/FromParent")
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, b)

	_, err = cl.LoadClass("fixture/Missing")
	assert.ErrorIs(t, err, ErrClassNotFound)
}

// writeJmod writes a jmod holding classes under classes/.
func writeJmod(t *testing.T, classes map[string][]byte) string {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("JM\x01\x00")
	zw := zip.NewWriter(&buf)
	for name, b := range classes {
		w, err := zw.Create("classes/" + name + ".class")
		require.NoError(t, err)
		_, err = w.Write(b)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "java.base.jmod")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestJmodClassLoader(t *testing.T) {
	data, err := fixture.PlainClass()
	require.NoError(t, err)
	cl := NewJmodClassLoader(writeJmod(t, map[string][]byte{fixture.Plain: data}))

	b, err := cl.LoadClass(fixture.Plain)
	require.NoError(t, err)
	assert.Equal(t, data, b)

	// Served from the cache the second time.
	b, err = cl.LoadClass(fixture.Plain)
	require.NoError(t, err)
	assert.Equal(t, data, b)

	_, err = cl.LoadClass("demo/Absent")
	assert.ErrorIs(t, err, ErrClassNotFound)
}

func TestJmodClassLoaderErrors(t *testing.T) {
	dir := t.TempDir()
	noHeader := filepath.Join(dir, "bad.jmod")
	require.NoError(t, os.WriteFile(noHeader, []byte("PK\x03\x04"), 0o644))
	badZip := filepath.Join(dir, "badzip.jmod")
	require.NoError(t, os.WriteFile(badZip, []byte("JM\x01\x00garbage"), 0o644))

	tests := []struct {
		name string
		path string
		want string
	}{
		{"missing file", filepath.Join(dir, "absent.jmod"), "reading"},
		{"missing header", noHeader, "missing JM header"},
		{"not a zip", badZip, "opening zip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cl := NewJmodClassLoader(tt.path)
			_, err := cl.LoadClass("java/lang/Object")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.NotErrorIs(t, err, ErrClassNotFound)

			// The open error sticks.
			_, err2 := cl.LoadClass("java/lang/String")
			assert.Equal(t, err.Error(), err2.Error())
		})
	}
}

func TestVMLoadClass(t *testing.T) {
	classes, err := fixture.All()
	require.NoError(t, err)
	cl := NewMemoryClassLoader(nil)
	for name, b := range classes {
		cl.Define(name, b)
	}
	v := NewVM(cl)

	sub, err := v.LoadClass(fixture.Sub)
	require.NoError(t, err)
	require.NotNil(t, sub.Super())
	assert.Equal(t, fixture.Data, sub.Super().Name())

	data, err := v.LoadClass(fixture.Data)
	require.NoError(t, err)
	assert.Same(t, sub.Super(), data)

	_, err = v.LoadClass("fixture/Missing")
	assert.ErrorIs(t, err, ErrClassNotFound)

	cl.Define("fixture/Renamed", classes[fixture.Plain])
	_, err = v.LoadClass("fixture/Renamed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `class file defines "fixture/Plain"`)

	got, err := v.InvokeStatic(fixture.Plain, "answer", "()I")
	require.NoError(t, err)
	assert.Equal(t, int32(42), got)
}
