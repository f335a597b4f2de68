package intercept

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsByKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", newError(KindMissingHandler, "dispatch", "public native void a.B.c()"))

	assert.ErrorIs(t, err, ErrMissingHandler)
	assert.NotErrorIs(t, err, ErrState)
	assert.Equal(t, KindMissingHandler, KindOf(err))
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
	assert.Equal(t, "outer: dispatch: missing handler: public native void a.B.c()", err.Error())
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := wrapError(KindTransform, "wrap", cause, "class %s", "a/B")

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrTransform)
	assert.Equal(t, "wrap: transformation failure: class a/B: boom", err.Error())
	assert.Equal(t, "Kind(42)", Kind(42).String())
}

func TestMarkers(t *testing.T) {
	m := HasNatives | WasNative
	assert.True(t, m.Has(HasNatives))
	assert.False(t, m.Has(HasNatives|Intercepted))
	assert.Equal(t, "HasNatives|WasNative", m.String())
	assert.Equal(t, "none", Markers(0).String())
	assert.Equal(t, "Lnativeintercept/HasInterceptedNatives;", HasInterceptedNatives.Descriptor())
	assert.Empty(t, m.Descriptor(), "a combined set has no single descriptor")
}
