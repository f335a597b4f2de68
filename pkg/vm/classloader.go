package vm

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// ErrClassNotFound is returned by a ClassLoader that has no bytes for a class.
var ErrClassNotFound = errors.New("class not found")

// ClassLoader supplies the bytes of .class files by internal class name.
// Implementations must be safe for concurrent use.
type ClassLoader interface {
	LoadClass(name string) ([]byte, error)
}

// JmodClassLoader loads classes from a JDK jmod file.
type JmodClassLoader struct {
	JmodPath string

	once      sync.Once
	openErr   error
	zipReader *zip.Reader
	mu        sync.Mutex
	cache     map[string][]byte
}

// NewJmodClassLoader creates a new JmodClassLoader.
func NewJmodClassLoader(jmodPath string) *JmodClassLoader {
	return &JmodClassLoader{
		JmodPath: jmodPath,
		cache:    make(map[string][]byte),
	}
}

func (cl *JmodClassLoader) open() error {
	cl.once.Do(func() {
		data, err := os.ReadFile(cl.JmodPath)
		if err != nil {
			cl.openErr = fmt.Errorf("jmod: reading %s: %w", cl.JmodPath, err)
			return
		}
		if len(data) < 4 || !bytes.Equal(data[:2], []byte("JM")) {
			cl.openErr = fmt.Errorf("jmod: %s: missing JM header", cl.JmodPath)
			return
		}
		data = data[4:] // Skip "JM\x01\x00" header
		cl.zipReader, err = zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			cl.openErr = fmt.Errorf("jmod: opening zip: %w", err)
		}
	})
	return cl.openErr
}

func (cl *JmodClassLoader) LoadClass(name string) ([]byte, error) {
	cl.mu.Lock()
	if b, ok := cl.cache[name]; ok {
		cl.mu.Unlock()
		return b, nil
	}
	cl.mu.Unlock()

	if err := cl.open(); err != nil {
		return nil, err
	}

	target := "classes/" + name + ".class"
	for _, file := range cl.zipReader.File {
		if file.Name != target {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("jmod: opening %s: %w", target, err)
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("jmod: reading %s: %w", target, err)
		}
		cl.mu.Lock()
		cl.cache[name] = b
		cl.mu.Unlock()
		return b, nil
	}

	return nil, fmt.Errorf("jmod: class %s in %s: %w", name, cl.JmodPath, ErrClassNotFound)
}

// UserClassLoader loads user classes from the classpath, delegating to the parent first.
type UserClassLoader struct {
	ClassPath string
	Parent    ClassLoader
}

// NewUserClassLoader creates a new UserClassLoader. parent may be nil.
func NewUserClassLoader(classPath string, parent ClassLoader) *UserClassLoader {
	return &UserClassLoader{
		ClassPath: classPath,
		Parent:    parent,
	}
}

func (cl *UserClassLoader) LoadClass(name string) ([]byte, error) {
	if cl.Parent != nil {
		if b, err := cl.Parent.LoadClass(name); err == nil {
			return b, nil
		}
	}
	path := filepath.Join(cl.ClassPath, filepath.FromSlash(name)+".class")
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("user: class %s: %w", name, ErrClassNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("user: reading %s: %w", path, err)
	}
	return b, nil
}

// MemoryClassLoader serves class bytes defined in memory.
type MemoryClassLoader struct {
	mu      sync.RWMutex
	classes map[string][]byte
	Parent  ClassLoader
}

// NewMemoryClassLoader creates an empty MemoryClassLoader. parent may be nil.
func NewMemoryClassLoader(parent ClassLoader) *MemoryClassLoader {
	return &MemoryClassLoader{classes: make(map[string][]byte), Parent: parent}
}

// Define makes b the bytes of class name.
func (cl *MemoryClassLoader) Define(name string, b []byte) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.classes[name] = b
}

func (cl *MemoryClassLoader) LoadClass(name string) ([]byte, error) {
	cl.mu.RLock()
	b, ok := cl.classes[name]
	cl.mu.RUnlock()
	if ok {
		return b, nil
	}
	if cl.Parent != nil {
		return cl.Parent.LoadClass(name)
	}
	return nil, fmt.Errorf("memory: class %s: %w", name, ErrClassNotFound)
}
