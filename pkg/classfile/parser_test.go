package classfile

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// adder builds a class with a constructor-less static add(II)I and a
// native declaration, enough to exercise every section of the format.
func adder(t *testing.T) *ClassFile {
	t.Helper()
	cf := NewClassFile("demo/Add", "java/lang/Object", 52)

	b := NewCodeBuilder(cf)
	b.Load("I", 0)
	b.Load("I", 1)
	b.Op(OpIadd, -1)
	b.Return("I")
	code, err := b.Build(2)
	require.NoError(t, err)
	cf.AddMethod(MethodInfo{AccessFlags: AccPublic | AccStatic, Name: "add", Descriptor: "(II)I", Code: code})
	cf.AddMethod(MethodInfo{AccessFlags: AccPublic | AccNative, Name: "peer", Descriptor: "(J)J"})
	cf.Fields = append(cf.Fields, FieldInfo{AccessFlags: AccPrivate, Name: "count", Descriptor: "I"})
	cf.AddLong(1 << 40)
	return cf
}

func TestParseClassFile(t *testing.T) {
	data, err := adder(t).Bytes()
	require.NoError(t, err)

	cf, err := ParseBytes(data)
	require.NoError(t, err)

	assert.Equal(t, uint16(52), cf.MajorVersion)
	name, err := cf.ClassName()
	require.NoError(t, err)
	assert.Equal(t, "demo/Add", name)
	assert.Equal(t, "java/lang/Object", cf.SuperClassName())

	add := cf.FindMethod("add", "(II)I")
	require.NotNil(t, add)
	require.NotNil(t, add.Code)
	assert.Equal(t, uint16(2), add.Code.MaxStack)
	assert.Equal(t, uint16(2), add.Code.MaxLocals)
	assert.Equal(t, []byte{OpIload0, OpIload1, OpIadd, OpIreturn}, add.Code.Code)
	assert.True(t, add.IsStatic())

	peer := cf.FindMethodByName("peer")
	require.NotNil(t, peer)
	assert.True(t, peer.IsNative())
	assert.Nil(t, peer.Code)

	require.Len(t, cf.Fields, 1)
	assert.Equal(t, "count", cf.Fields[0].Name)
}

func TestWriteRoundTrip(t *testing.T) {
	first, err := adder(t).Bytes()
	require.NoError(t, err)
	cf, err := ParseBytes(first)
	require.NoError(t, err)
	second, err := cf.Bytes()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(first, second), "re-encoding a parsed class changed its bytes")
}

func TestParseLongConstantSlots(t *testing.T) {
	cf := NewClassFile("demo/Wide", "", 52)
	long := cf.AddLong(-5)
	double := cf.AddDouble(2.5)
	after := cf.AddUtf8("after")
	assert.Equal(t, long+2, double)
	assert.Equal(t, double+2, after)

	data, err := cf.Bytes()
	require.NoError(t, err)
	parsed, err := ParseBytes(data)
	require.NoError(t, err)

	assert.Equal(t, int64(-5), parsed.ConstantPool[long].(*ConstantLong).Value)
	assert.Nil(t, parsed.ConstantPool[long+1])
	assert.Equal(t, 2.5, parsed.ConstantPool[double].(*ConstantDouble).Value)
	s, err := GetUtf8(parsed.ConstantPool, after)
	require.NoError(t, err)
	assert.Equal(t, "after", s)
	assert.Equal(t, "", parsed.SuperClassName())
}

func TestParseInvalid(t *testing.T) {
	good, err := adder(t).Bytes()
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", []byte{0xDE, 0xAD, 0xBE, 0xEF, 0, 0, 0, 52}},
		{"truncated pool", good[:12]},
		{"truncated body", good[:len(good)-3]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBytes(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestResolveMethodref(t *testing.T) {
	cf := NewClassFile("demo/Ref", "java/lang/Object", 52)
	idx := cf.AddMethodref("java/io/PrintStream", "println", "(I)V")

	ref, err := ResolveMethodref(cf.ConstantPool, idx)
	require.NoError(t, err)
	assert.Equal(t, &MethodRefInfo{ClassName: "java/io/PrintStream", MethodName: "println", Descriptor: "(I)V"}, ref)

	_, err = ResolveFieldref(cf.ConstantPool, idx)
	assert.Error(t, err)
	_, err = ResolveMethodref(cf.ConstantPool, 999)
	assert.Error(t, err)
}
