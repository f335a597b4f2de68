package vm

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/daimatz/nativeintercept/pkg/classfile"
	"github.com/daimatz/nativeintercept/pkg/intercept"
)

type transformerEntry struct {
	t            intercept.Transformer
	retransform  bool
	nativePrefix string
}

// The VM is the host capability the interception agent attaches to.
var (
	_ intercept.Instrumentation = (*VM)(nil)
	_ intercept.DispatchLinker  = (*VM)(nil)
	_ intercept.Conformer       = (*VM)(nil)
)

// AddTransformer appends t to the transformer chain. Every transformer runs
// on class load; only those added with canRetransform run on
// RetransformClasses.
func (vm *VM) AddTransformer(t intercept.Transformer, canRetransform bool) {
	vm.transformMu.Lock()
	defer vm.transformMu.Unlock()
	vm.transformers = append(vm.transformers, &transformerEntry{t: t, retransform: canRetransform})
}

// SetNativeMethodPrefix declares the prefix t puts on the natives it wraps.
// A native that has no binding under its own name is bound by stripping the
// prefixes in transformer order.
func (vm *VM) SetNativeMethodPrefix(t intercept.Transformer, prefix string) error {
	vm.transformMu.Lock()
	defer vm.transformMu.Unlock()
	for _, e := range vm.transformers {
		if e.t == t {
			e.nativePrefix = prefix
			return nil
		}
	}
	return fmt.Errorf("set native method prefix: transformer not registered")
}

func (vm *VM) chain() []*transformerEntry {
	vm.transformMu.RLock()
	defer vm.transformMu.RUnlock()
	return append([]*transformerEntry(nil), vm.transformers...)
}

// LinkDispatcher routes nativeintercept/NativeDispatch calls to d.
func (vm *VM) LinkDispatcher(d intercept.Dispatcher) {
	vm.transformMu.Lock()
	defer vm.transformMu.Unlock()
	vm.dispatcher = d
}

func (vm *VM) linkedDispatcher() intercept.Dispatcher {
	vm.transformMu.RLock()
	defer vm.transformMu.RUnlock()
	return vm.dispatcher
}

// Conforms reports whether v is an instance of the reference type desc. A
// null reference conforms to every reference type.
func (vm *VM) Conforms(v any, desc string) bool {
	if isNullRef(v) {
		return true
	}
	return vm.isAssignable(vm.classOf(v), classfile.ClassNameOf(desc))
}

// LoadClass returns the loaded class name, loading, transforming and
// defining it first if needed. Concurrent loads of one name are coalesced.
func (vm *VM) LoadClass(name string) (*Class, error) {
	vm.mu.RLock()
	c, ok := vm.classes[name]
	vm.mu.RUnlock()
	if ok {
		return c, nil
	}

	v, err, _ := vm.loads.Do(name, func() (any, error) {
		vm.mu.RLock()
		c, ok := vm.classes[name]
		vm.mu.RUnlock()
		if ok {
			return c, nil
		}
		c, err := vm.defineClass(name)
		if err != nil {
			return nil, err
		}
		vm.mu.Lock()
		vm.classes[name] = c
		vm.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Class), nil
}

func (vm *VM) defineClass(name string) (*Class, error) {
	if strings.HasPrefix(name, "[") {
		return vm.arrayClass(name)
	}
	if super, ok := builtinClasses[name]; ok {
		return vm.builtinClass(name, super)
	}

	if vm.loader == nil {
		return nil, fmt.Errorf("loading %s: no class loader: %w", name, ErrClassNotFound)
	}
	b, err := vm.loader.LoadClass(name)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", name, err)
	}

	// Transformers run outside the class table lock.
	base := b
	for _, e := range vm.chain() {
		out, err := e.t.Transform(name, nil, b)
		if err != nil {
			return nil, fmt.Errorf("transforming %s: %w", name, err)
		}
		if out != nil {
			b = out
		}
		if !e.retransform {
			base = b
		}
	}

	cf, err := classfile.ParseBytes(b)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	if got, err := cf.ClassName(); err != nil || got != name {
		return nil, fmt.Errorf("loading %s: class file defines %q", name, got)
	}

	var super *Class
	if superName := cf.SuperClassName(); superName != "" {
		if super, err = vm.LoadClass(superName); err != nil {
			return nil, fmt.Errorf("loading superclass of %s: %w", name, err)
		}
	}
	c := newClass(name, super, cf)
	c.base = base
	vm.logger.Debug("class defined",
		zap.String("class", name),
		zap.Stringer("markers", c.Markers()))
	return c, nil
}

func (vm *VM) builtinClass(name, superName string) (*Class, error) {
	var super *Class
	if superName != "" {
		var err error
		if super, err = vm.LoadClass(superName); err != nil {
			return nil, err
		}
	}
	c := newClass(name, super, classfile.NewClassFile(name, superName, 52))
	c.synthetic = true
	return c, nil
}

func (vm *VM) arrayClass(name string) (*Class, error) {
	elem := name[1:]
	var component *Class
	if classfile.IsPrimitive(elem) {
		component = vm.primitiveClass(elem)
	} else {
		var err error
		if component, err = vm.LoadClass(classfile.ClassNameOf(elem)); err != nil {
			return nil, err
		}
	}
	object, err := vm.LoadClass("java/lang/Object")
	if err != nil {
		return nil, err
	}
	return &Class{
		name:      name,
		desc:      name,
		super:     object,
		component: component,
		synthetic: true,
		statics:   make(map[string]Value),
		initState: initialized,
	}, nil
}

// RetransformClasses reruns the retransform-capable transformers over each
// class, starting from the bytes the other transformers produced at load.
// A class no transformer changes keeps its current definition.
func (vm *VM) RetransformClasses(types ...intercept.Type) error {
	vm.retransform.Lock()
	defer vm.retransform.Unlock()

	for _, t := range types {
		c, ok := t.(*Class)
		if !ok || c == nil {
			return fmt.Errorf("retransform: %T is not a class of this VM", t)
		}
		if c.synthetic {
			return fmt.Errorf("retransform %s: %w", c.name, errUnmodifiable)
		}
		if err := vm.retransformClass(c); err != nil {
			return err
		}
	}
	return nil
}

var errUnmodifiable = errors.New("unmodifiable class")

func (vm *VM) retransformClass(c *Class) error {
	b := c.base
	changed := false
	for _, e := range vm.chain() {
		if !e.retransform {
			continue
		}
		out, err := e.t.Transform(c.name, c, b)
		if err != nil {
			return fmt.Errorf("retransforming %s: %w", c.name, err)
		}
		if out != nil {
			b = out
			changed = true
		}
	}
	if !changed {
		vm.logger.Debug("retransform left class unchanged", zap.String("class", c.name))
		return nil
	}

	cf, err := classfile.ParseBytes(b)
	if err != nil {
		return fmt.Errorf("parsing retransformed %s: %w", c.name, err)
	}
	c.define(cf)
	vm.logger.Debug("class retransformed",
		zap.String("class", c.name),
		zap.Stringer("markers", c.Markers()))
	return nil
}

// nativePrefixes returns the declared prefixes in transformer order.
func (vm *VM) nativePrefixes() []string {
	vm.transformMu.RLock()
	defer vm.transformMu.RUnlock()
	var prefixes []string
	for _, e := range vm.transformers {
		if e.nativePrefix != "" {
			prefixes = append(prefixes, e.nativePrefix)
		}
	}
	return prefixes
}
