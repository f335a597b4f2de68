package vm

import (
	"errors"
	"fmt"

	"github.com/daimatz/nativeintercept/pkg/intercept"
)

// JavaException represents a JVM exception being thrown. Cause links back
// to the Go error the exception was raised for, if any.
type JavaException struct {
	Object *JObject
	Cause  error
}

func (e *JavaException) Error() string {
	if msg, ok := e.Message(); ok {
		return fmt.Sprintf("%s: %s", e.Object.ClassName(), msg)
	}
	return e.Object.ClassName()
}

func (e *JavaException) Unwrap() error { return e.Cause }

// Message returns the detail message, if it has one.
func (e *JavaException) Message() (string, bool) {
	v, ok := e.Object.Fields[fieldMessage]
	if !ok || v.IsNull() {
		return "", false
	}
	s, ok := v.Ref.(string)
	return s, ok
}

const (
	fieldMessage = "detailMessage"
	fieldCause   = "cause"
)

// NewThrowable instantiates the throwable className with a detail message.
// Handlers return the result to throw it from the intercepted method.
func (vm *VM) NewThrowable(className, message string) (*JavaException, error) {
	class, err := vm.LoadClass(className)
	if err != nil {
		return nil, err
	}
	if !vm.isSubclass(class, "java/lang/Throwable") {
		return nil, fmt.Errorf("%s is not a java/lang/Throwable", className)
	}
	obj := NewJObject(class)
	obj.Fields[fieldMessage] = RefValue(message)
	return &JavaException{Object: obj}, nil
}

// throw builds the exception for an error raised by the VM itself. It falls
// back to a plain Go error when the class cannot be loaded.
func (vm *VM) throw(className string, cause error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	exc, err := vm.NewThrowable(className, msg)
	if err != nil {
		return fmt.Errorf("%s: %s", className, msg)
	}
	exc.Cause = cause
	return exc
}

// throwFor maps an engine failure onto the Java exception a native call
// would have raised.
func (vm *VM) throwFor(err error) error {
	var exc *JavaException
	if errors.As(err, &exc) {
		return err
	}
	var className string
	switch intercept.KindOf(err) {
	case intercept.KindArgument:
		className = "java/lang/IllegalArgumentException"
	case intercept.KindResolution, intercept.KindMissingHandler:
		className = "java/lang/UnsatisfiedLinkError"
	case intercept.KindState, intercept.KindPrecondition, intercept.KindTransform:
		className = "java/lang/IllegalStateException"
	default:
		return err
	}
	return vm.throw(className, err, "%s", err.Error())
}
