package intercept

import (
	"errors"
	"fmt"
)

// Kind classifies the failures raised by the engine itself. Errors returned
// by handlers are never wrapped in an *Error.
type Kind int

const (
	// KindArgument marks a malformed or absent call parameter.
	KindArgument Kind = iota + 1
	// KindPrecondition marks an operation on a type that skipped a required stage.
	KindPrecondition
	// KindResolution marks a failed method lookup on the type hierarchy.
	KindResolution
	// KindMissingHandler marks a resolved method with no registered handler.
	KindMissingHandler
	// KindState marks a handler result inconsistent with the return type.
	KindState
	// KindTransform marks a bytecode rewrite that could not be completed.
	KindTransform
)

func (k Kind) String() string {
	switch k {
	case KindArgument:
		return "argument error"
	case KindPrecondition:
		return "precondition error"
	case KindResolution:
		return "resolution error"
	case KindMissingHandler:
		return "missing handler"
	case KindState:
		return "state error"
	case KindTransform:
		return "transformation failure"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Sentinels for errors.Is. Each matches any *Error of the same Kind.
var (
	ErrArgument       = &Error{Kind: KindArgument}
	ErrPrecondition   = &Error{Kind: KindPrecondition}
	ErrResolution     = &Error{Kind: KindResolution}
	ErrMissingHandler = &Error{Kind: KindMissingHandler}
	ErrState          = &Error{Kind: KindState}
	ErrTransform      = &Error{Kind: KindTransform}
)

// ErrAccessDenied is returned by a Type's DeclaredMethod when the host
// refuses to expose the method. Resolution reports it separately from a
// missing method.
var ErrAccessDenied = errors.New("access denied")

// ErrNoSuchMethod is returned by a Type's DeclaredMethod when the type does
// not declare the requested method.
var ErrNoSuchMethod = errors.New("no such method")

// Error is a failure raised by the transformers, the registry or the agent.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

func newError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
