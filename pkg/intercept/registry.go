package intercept

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/daimatz/nativeintercept/pkg/classfile"
)

// Handler is invoked in place of an intercepted native method. receiver is
// the instance for instance methods and the declaring Type for static ones.
// An error returned by Invoke reaches the original caller unchanged.
type Handler interface {
	Invoke(receiver any, method *Method, args []any) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(receiver any, method *Method, args []any) (any, error)

func (f HandlerFunc) Invoke(receiver any, method *Method, args []any) (any, error) {
	return f(receiver, method, args)
}

// Call is one intercepted invocation as emitted by a rewritten forwarder.
type Call struct {
	// Receiver is the instance; unused for static calls.
	Receiver any
	// Declaring is the class whose forwarder made a static call.
	Declaring Type
	Static    bool
	// Return is the expected return descriptor ("V", "I", "Ljava/lang/String;").
	Return string
	Name   string
	Params []string
	// Args holds the boxed arguments; nil means none.
	Args []any
}

// Dispatcher is the entry point a host routes NativeDispatch calls to.
type Dispatcher interface {
	Dispatch(call Call) (any, error)
}

// ConformFunc reports whether a non-nil v is an instance of the reference
// type with descriptor desc.
type ConformFunc func(v any, desc string) bool

// Registry maps types to handlers and dispatches intercepted calls. Safe for
// concurrent use; lookups take no lock.
type Registry struct {
	handlers  sync.Map // Type -> Handler
	exclusion *Exclusion
	conform   ConformFunc
	logger    *zap.Logger
}

// NewRegistry returns an empty registry. Resolution stops at types matched
// by exclusion.
func NewRegistry(exclusion *Exclusion, logger *zap.Logger) *Registry {
	if exclusion == nil {
		exclusion = NewExclusion()
	}
	return &Registry{exclusion: exclusion, logger: orNop(logger)}
}

// SetConformance installs the host's reference type check. Without one any
// non-nil value satisfies a reference return type.
func (r *Registry) SetConformance(fn ConformFunc) { r.conform = fn }

// Register associates h with t, replacing any previous handler. A nil h
// removes the registration; a nil t is ignored.
func (r *Registry) Register(t Type, h Handler) {
	if t == nil {
		return
	}
	if h == nil {
		r.Unregister(t)
		return
	}
	r.handlers.Store(t, h)
	r.logger.Debug("registered native handler", zap.String("class", t.Name()))
}

// Unregister removes the handler of t, if any.
func (r *Registry) Unregister(t Type) {
	if t == nil {
		return
	}
	if _, ok := r.handlers.LoadAndDelete(t); ok {
		r.logger.Debug("unregistered native handler", zap.String("class", t.Name()))
	}
}

// Lookup returns the handler registered for t.
func (r *Registry) Lookup(t Type) (Handler, bool) {
	if t == nil {
		return nil, false
	}
	h, ok := r.handlers.Load(t)
	if !ok {
		return nil, false
	}
	return h.(Handler), true
}

// Dispatch resolves call, invokes its handler and checks the result against
// the expected return type.
func (r *Registry) Dispatch(call Call) (any, error) {
	const op = "dispatch"
	if call.Name == "" {
		return nil, newError(KindArgument, op, "no method name")
	}
	if call.Return == "" || (call.Return != "V" && !validFieldDescriptor(call.Return)) {
		return nil, newError(KindArgument, op, "invalid return type %q for %s", call.Return, call.Name)
	}

	var target Type
	var receiver any
	if call.Static {
		if call.Declaring == nil {
			return nil, newError(KindArgument, op, "no declaring type for static %s", call.Name)
		}
		target, receiver = call.Declaring, call.Declaring
	} else {
		obj, ok := call.Receiver.(Object)
		if !ok || obj == nil {
			return nil, newError(KindArgument, op, "receiver of %s is not an object: %T", call.Name, call.Receiver)
		}
		target, receiver = obj.RuntimeType(), call.Receiver
		if target == nil {
			return nil, newError(KindArgument, op, "receiver of %s has no type", call.Name)
		}
	}

	method, err := r.resolve(target, call.Name, params(call.Params))
	if err != nil {
		return nil, err
	}
	h, ok := r.Lookup(target)
	if !ok {
		return nil, &Error{Kind: KindMissingHandler, Op: op, Msg: method.String()}
	}

	args := call.Args
	if args == nil {
		args = []any{}
	}
	result, err := h.Invoke(receiver, method, args)
	if err != nil {
		return nil, err
	}
	if err := r.check(method, call.Return, result); err != nil {
		return nil, err
	}
	return result, nil
}

func params(p []string) []string {
	if p == nil {
		return []string{}
	}
	return p
}

func validFieldDescriptor(desc string) bool {
	_, _, err := classfile.ParseMethodDescriptor("(" + desc + ")V")
	return err == nil && desc != ""
}

// resolve walks from start up the superclass chain, stopping at the first
// excluded name, and returns the method declared by the first intercepted
// ancestor that has it.
func (r *Registry) resolve(start Type, name string, params []string) (*Method, error) {
	var first error
	for t := start; t != nil && !r.exclusion.Matches(t.Name()); t = t.Superclass() {
		if !t.Markers().Has(HasInterceptedNatives) {
			continue
		}
		m, err := t.DeclaredMethod(name, params)
		if err == nil {
			return m, nil
		}
		if first == nil {
			first = err
		}
	}
	switch {
	case errors.Is(first, ErrAccessDenied):
		return nil, wrapError(KindResolution, "resolve", first, "native method %s of %s is not accessible", name, start.Name())
	case first != nil:
		return nil, wrapError(KindResolution, "resolve", first, "native method %s of %s", name, start.Name())
	default:
		return nil, newError(KindResolution, "resolve", "unable to determine native method %s of %s", name, start.Name())
	}
}

// check validates a handler result. Primitive returns must be the exact
// boxed Go scalar: Z bool, B int8, C uint16, S int16, I int32, J int64,
// F float32, D float64.
func (r *Registry) check(method *Method, ret string, v any) error {
	const op = "dispatch"
	if ret == "V" {
		if v != nil {
			return newError(KindState, op, "handler returned %T for void method %s", v, method)
		}
		return nil
	}
	if v == nil {
		if classfile.IsPrimitive(ret) {
			return newError(KindState, op, "handler returned null for primitive-typed method %s", method)
		}
		return nil
	}
	var ok bool
	switch ret {
	case "Z":
		_, ok = v.(bool)
	case "B":
		_, ok = v.(int8)
	case "C":
		_, ok = v.(uint16)
	case "S":
		_, ok = v.(int16)
	case "I":
		_, ok = v.(int32)
	case "J":
		_, ok = v.(int64)
	case "F":
		_, ok = v.(float32)
	case "D":
		_, ok = v.(float64)
	default:
		ok = r.conform == nil || r.conform(v, ret)
	}
	if !ok {
		return newError(KindState, op, "handler returned wrong type %T for %s", v, method)
	}
	return nil
}

func handleAs[T any](r *Registry, call Call) (T, error) {
	var zero T
	v, err := r.Dispatch(call)
	if err != nil || v == nil {
		return zero, err
	}
	return v.(T), nil
}

// The typed entry points mirror the NativeDispatch family. The instance forms
// take the receiver, the static forms the declaring type.

func (r *Registry) HandleVoid(receiver any, name string, params []string, args []any) error {
	_, err := r.Dispatch(Call{Receiver: receiver, Return: "V", Name: name, Params: params, Args: args})
	return err
}

func (r *Registry) HandleBoolean(receiver any, name string, params []string, args []any) (bool, error) {
	return handleAs[bool](r, Call{Receiver: receiver, Return: "Z", Name: name, Params: params, Args: args})
}

func (r *Registry) HandleByte(receiver any, name string, params []string, args []any) (int8, error) {
	return handleAs[int8](r, Call{Receiver: receiver, Return: "B", Name: name, Params: params, Args: args})
}

func (r *Registry) HandleChar(receiver any, name string, params []string, args []any) (uint16, error) {
	return handleAs[uint16](r, Call{Receiver: receiver, Return: "C", Name: name, Params: params, Args: args})
}

func (r *Registry) HandleShort(receiver any, name string, params []string, args []any) (int16, error) {
	return handleAs[int16](r, Call{Receiver: receiver, Return: "S", Name: name, Params: params, Args: args})
}

func (r *Registry) HandleInt(receiver any, name string, params []string, args []any) (int32, error) {
	return handleAs[int32](r, Call{Receiver: receiver, Return: "I", Name: name, Params: params, Args: args})
}

func (r *Registry) HandleLong(receiver any, name string, params []string, args []any) (int64, error) {
	return handleAs[int64](r, Call{Receiver: receiver, Return: "J", Name: name, Params: params, Args: args})
}

func (r *Registry) HandleFloat(receiver any, name string, params []string, args []any) (float32, error) {
	return handleAs[float32](r, Call{Receiver: receiver, Return: "F", Name: name, Params: params, Args: args})
}

func (r *Registry) HandleDouble(receiver any, name string, params []string, args []any) (float64, error) {
	return handleAs[float64](r, Call{Receiver: receiver, Return: "D", Name: name, Params: params, Args: args})
}

// HandleObject dispatches a call returning the reference type ret.
func (r *Registry) HandleObject(receiver any, ret, name string, params []string, args []any) (any, error) {
	return r.Dispatch(Call{Receiver: receiver, Return: ret, Name: name, Params: params, Args: args})
}

func (r *Registry) HandleStaticVoid(declaring Type, name string, params []string, args []any) error {
	_, err := r.Dispatch(Call{Declaring: declaring, Static: true, Return: "V", Name: name, Params: params, Args: args})
	return err
}

func (r *Registry) HandleStaticBoolean(declaring Type, name string, params []string, args []any) (bool, error) {
	return handleAs[bool](r, Call{Declaring: declaring, Static: true, Return: "Z", Name: name, Params: params, Args: args})
}

func (r *Registry) HandleStaticByte(declaring Type, name string, params []string, args []any) (int8, error) {
	return handleAs[int8](r, Call{Declaring: declaring, Static: true, Return: "B", Name: name, Params: params, Args: args})
}

func (r *Registry) HandleStaticChar(declaring Type, name string, params []string, args []any) (uint16, error) {
	return handleAs[uint16](r, Call{Declaring: declaring, Static: true, Return: "C", Name: name, Params: params, Args: args})
}

func (r *Registry) HandleStaticShort(declaring Type, name string, params []string, args []any) (int16, error) {
	return handleAs[int16](r, Call{Declaring: declaring, Static: true, Return: "S", Name: name, Params: params, Args: args})
}

func (r *Registry) HandleStaticInt(declaring Type, name string, params []string, args []any) (int32, error) {
	return handleAs[int32](r, Call{Declaring: declaring, Static: true, Return: "I", Name: name, Params: params, Args: args})
}

func (r *Registry) HandleStaticLong(declaring Type, name string, params []string, args []any) (int64, error) {
	return handleAs[int64](r, Call{Declaring: declaring, Static: true, Return: "J", Name: name, Params: params, Args: args})
}

func (r *Registry) HandleStaticFloat(declaring Type, name string, params []string, args []any) (float32, error) {
	return handleAs[float32](r, Call{Declaring: declaring, Static: true, Return: "F", Name: name, Params: params, Args: args})
}

func (r *Registry) HandleStaticDouble(declaring Type, name string, params []string, args []any) (float64, error) {
	return handleAs[float64](r, Call{Declaring: declaring, Static: true, Return: "D", Name: name, Params: params, Args: args})
}

// HandleStaticObject dispatches a static call returning the reference type ret.
func (r *Registry) HandleStaticObject(declaring Type, ret, name string, params []string, args []any) (any, error) {
	return r.Dispatch(Call{Declaring: declaring, Static: true, Return: ret, Name: name, Params: params, Args: args})
}
