package intercept

import (
	"go.uber.org/zap"
)

// Instrumentation is the host capability the agent drives.
type Instrumentation interface {
	// AddTransformer appends t to the transformer chain. Only transformers
	// added with canRetransform run on RetransformClasses.
	AddTransformer(t Transformer, canRetransform bool)
	// SetNativeMethodPrefix makes native binding for classes transformed by t
	// retry with prefix stripped from the method name.
	SetNativeMethodPrefix(t Transformer, prefix string) error
	// RetransformClasses reruns the retransform-capable transformers on the
	// given loaded types and installs the results.
	RetransformClasses(types ...Type) error
}

// DispatchLinker is implemented by hosts that route NativeDispatch calls.
type DispatchLinker interface {
	LinkDispatcher(d Dispatcher)
}

// Conformer is implemented by hosts that can check reference results.
type Conformer interface {
	Conforms(v any, desc string) bool
}

// Options configures Attach.
type Options struct {
	// Filters widen the built-in exclusion set.
	Filters []ClassnameFilter
	Logger  *zap.Logger
}

// Agent owns the pipeline installed on one Instrumentation.
type Agent struct {
	inst        Instrumentation
	exclusion   *Exclusion
	registry    *Registry
	wrapper     *WrappingTransformer
	interceptor *InterceptingTransformer
	logger      *zap.Logger
}

// Attach installs the wrapping transformer, then the intercepting
// transformer, on inst and declares NativeMethodPrefix for the wrapped natives.
func Attach(inst Instrumentation, opts Options) (*Agent, error) {
	if inst == nil {
		return nil, newError(KindArgument, "attach", "no instrumentation")
	}
	logger := orNop(opts.Logger).Named("intercept")
	exclusion := NewExclusion(opts.Filters...)
	a := &Agent{
		inst:        inst,
		exclusion:   exclusion,
		registry:    NewRegistry(exclusion, logger),
		wrapper:     NewWrappingTransformer(exclusion, logger),
		interceptor: NewInterceptingTransformer(exclusion, logger),
		logger:      logger,
	}
	if c, ok := inst.(Conformer); ok {
		a.registry.SetConformance(c.Conforms)
	}
	if l, ok := inst.(DispatchLinker); ok {
		l.LinkDispatcher(a.registry)
	}

	inst.AddTransformer(a.wrapper, false)
	inst.AddTransformer(a.interceptor, true)
	if err := inst.SetNativeMethodPrefix(a.wrapper, NativeMethodPrefix); err != nil {
		return nil, wrapError(KindPrecondition, "attach", err, "native method prefix not supported")
	}
	logger.Debug("native interceptor attached", zap.String("prefix", NativeMethodPrefix))
	return a, nil
}

// Registry returns the dispatch registry.
func (a *Agent) Registry() *Registry { return a.registry }

// Exclusion returns the process-wide exclusion rule.
func (a *Agent) Exclusion() *Exclusion { return a.exclusion }

// Intercept routes the native methods of t to h. With includeInherited, every
// wrapped ancestor of t below the first excluded class is intercepted too.
// A nil h removes the registrations instead.
func (a *Agent) Intercept(t Type, h Handler, includeInherited bool) error {
	const op = "intercept"
	if t == nil {
		return newError(KindArgument, op, "cannot intercept native methods on nil type")
	}
	targets := a.targets(t, includeInherited)
	if h == nil {
		a.registry.Unregister(t)
		for _, anc := range targets {
			a.registry.Unregister(anc)
		}
		return nil
	}
	if !t.Markers().Has(HasNatives) {
		return newError(KindPrecondition, op, "class %s has no wrapped native methods", t.Name())
	}

	// Handlers go in first so a class intercepted before a later one fails
	// never dispatches without one.
	types := append([]Type{t}, targets...)
	prev := make([]Handler, len(types))
	for i, typ := range types {
		prev[i], _ = a.registry.Lookup(typ)
		a.registry.Register(typ, h)
	}
	if err := a.inst.RetransformClasses(types...); err != nil {
		a.rollback(types, prev, h)
		if KindOf(err) == KindTransform {
			return err
		}
		return wrapError(KindState, op, err, "unable to intercept native methods of %s", t.Name())
	}
	a.logger.Debug("intercepting native methods",
		zap.String("class", t.Name()),
		zap.Int("types", len(types)))
	return nil
}

// rollback restores the registrations replaced by a failed Intercept. A type
// the failed retransformation left intercepted keeps h unless it had a
// handler before.
func (a *Agent) rollback(types []Type, prev []Handler, h Handler) {
	for i, typ := range types {
		switch {
		case prev[i] != nil:
			a.registry.Register(typ, prev[i])
		case typ.Markers().Has(HasInterceptedNatives):
			a.logger.Warn("class left intercepted by failed retransformation",
				zap.String("class", typ.Name()))
		default:
			a.registry.Unregister(typ)
		}
	}
}

// targets lists the wrapped ancestors of t (excluding t) when inherited is set.
func (a *Agent) targets(t Type, inherited bool) []Type {
	if !inherited {
		return nil
	}
	var out []Type
	for anc := t.Superclass(); anc != nil && !a.exclusion.Matches(anc.Name()); anc = anc.Superclass() {
		if anc.Markers().Has(HasNatives) {
			out = append(out, anc)
		}
	}
	return out
}
