package intercept

import (
	"fmt"

	"go.uber.org/zap"
)

// Transformer rewrites class bytes when a class is loaded or retransformed.
// redefining is nil for an initial load and the already-loaded type for a
// retransformation. A nil result with a nil error means "unchanged"; the host
// then keeps the bytes it already has.
//
// Implementations keep all per-call state local, so Transform may run
// concurrently for unrelated classes.
type Transformer interface {
	Transform(className string, redefining Type, classBytes []byte) ([]byte, error)
}

// runStage executes one rewrite. A failure, including a panic, is logged in
// full (class loading may otherwise swallow it) and returned as a
// KindTransform error so the host aborts the load.
func runStage(logger *zap.Logger, stage, className string, fn func() ([]byte, error)) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err == nil {
			return
		}
		if KindOf(err) != KindTransform {
			err = wrapError(KindTransform, stage, err, "class %s", className)
		}
		logger.Error("Error while transforming class for intercepting",
			zap.String("stage", stage),
			zap.String("class", className),
			zap.Error(err),
			zap.Stack("stack"))
		out = nil
	}()
	return fn()
}

func orNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
