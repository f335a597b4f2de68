package classfile

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAnnotation(t *testing.T) {
	cf := NewClassFile("demo/Marked", "java/lang/Object", 52)

	attrs, err := cf.AddAnnotation(nil, "Ldemo/First;")
	require.NoError(t, err)
	require.Len(t, attrs, 1)

	merged, err := cf.AddAnnotation(attrs, "Ldemo/Second;")
	require.NoError(t, err)
	require.Len(t, merged, 1, "annotations share one attribute")

	types, err := cf.AnnotationTypes(merged)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ldemo/First;", "Ldemo/Second;"}, types)
	assert.True(t, cf.HasAnnotation(merged, "Ldemo/Second;"))
	assert.False(t, cf.HasAnnotation(attrs, "Ldemo/Second;"), "input attributes are left untouched")
}

func TestAnnotationTypesSkipsElements(t *testing.T) {
	cf := NewClassFile("demo/Marked", "java/lang/Object", 52)
	withValues := cf.AddUtf8("Ldemo/WithValues;")
	plain := cf.AddUtf8("Ldemo/Plain;")
	elem := cf.AddUtf8("value")
	constant := cf.AddInteger(3)

	// @WithValues(value = {3, @Plain}) @Plain
	var data []byte
	u2 := func(v uint16) { data = binary.BigEndian.AppendUint16(data, v) }
	u2(2)
	u2(withValues)
	u2(1)
	u2(elem)
	data = append(data, '[')
	u2(2)
	data = append(data, 'I')
	u2(constant)
	data = append(data, '@')
	u2(plain)
	u2(0)
	u2(plain)
	u2(0)

	attrs := []AttributeInfo{{Name: "RuntimeVisibleAnnotations", Data: data}}
	types, err := cf.AnnotationTypes(attrs)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ldemo/WithValues;", "Ldemo/Plain;"}, types)

	merged, err := cf.AddAnnotation(attrs, "Ldemo/Added;")
	require.NoError(t, err)
	types, err = cf.AnnotationTypes(merged)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ldemo/WithValues;", "Ldemo/Plain;", "Ldemo/Added;"}, types)
}

func TestAnnotationTypesMalformed(t *testing.T) {
	cf := NewClassFile("demo/Marked", "java/lang/Object", 52)
	attrs := []AttributeInfo{{Name: "RuntimeVisibleAnnotations", Data: []byte{0, 1, 0}}}

	_, err := cf.AnnotationTypes(attrs)
	assert.Error(t, err)
	assert.False(t, cf.HasAnnotation(attrs, "Ldemo/Any;"))

	types, err := cf.AnnotationTypes(nil)
	assert.NoError(t, err)
	assert.Empty(t, types)
}
