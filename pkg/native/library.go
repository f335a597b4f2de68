package native

import (
	"sync"
)

// Func implements a native method in Go. receiver is the instance for
// instance methods and the declaring class for static ones. Arguments and
// the result use the boxed Go forms: bool, int8, uint16, int16, int32,
// int64, float32, float64, or a reference (nil for null).
type Func func(receiver any, args []any) (any, error)

// Key identifies a native method.
type Key struct {
	Class      string
	Name       string
	Descriptor string
}

func (k Key) String() string { return k.Class + "." + k.Name + k.Descriptor }

// Library is the set of Go functions bound to native methods. Safe for
// concurrent use.
type Library struct {
	mu    sync.RWMutex
	funcs map[Key]Func
}

// NewLibrary returns an empty library.
func NewLibrary() *Library {
	return &Library{funcs: make(map[Key]Func)}
}

// Register binds fn to class.name:descriptor, replacing any previous binding.
func (l *Library) Register(class, name, descriptor string, fn Func) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.funcs[Key{class, name, descriptor}] = fn
}

// Lookup returns the function bound to class.name:descriptor.
func (l *Library) Lookup(class, name, descriptor string) (Func, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fn, ok := l.funcs[Key{class, name, descriptor}]
	return fn, ok
}

// Len returns the number of bindings.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.funcs)
}
