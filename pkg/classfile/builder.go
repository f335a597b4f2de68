package classfile

import "math"

// NewClassFile returns an empty class named name extending super.
// An empty super produces a root class (super_class == 0).
func NewClassFile(name, super string, majorVersion uint16) *ClassFile {
	cf := &ClassFile{
		MajorVersion: majorVersion,
		ConstantPool: []ConstantPoolEntry{nil},
		AccessFlags:  AccPublic | AccSuper,
	}
	cf.ThisClass = cf.AddClass(name)
	if super != "" {
		cf.SuperClass = cf.AddClass(super)
	}
	return cf
}

// AddMethod appends a method and returns a pointer to it.
func (cf *ClassFile) AddMethod(m MethodInfo) *MethodInfo {
	cf.Methods = append(cf.Methods, m)
	return &cf.Methods[len(cf.Methods)-1]
}

// The Add* functions below return the index of an existing identical entry
// when there is one, and append a new entry otherwise.

func (cf *ClassFile) addEntry(e ConstantPoolEntry) uint16 {
	index := uint16(len(cf.ConstantPool))
	cf.ConstantPool = append(cf.ConstantPool, e)
	switch e.(type) {
	case *ConstantLong, *ConstantDouble:
		cf.ConstantPool = append(cf.ConstantPool, nil)
	}
	return index
}

// AddUtf8 adds a CONSTANT_Utf8 entry.
func (cf *ClassFile) AddUtf8(s string) uint16 {
	for i, e := range cf.ConstantPool {
		if c, ok := e.(*ConstantUtf8); ok && c.Value == s {
			return uint16(i)
		}
	}
	return cf.addEntry(&ConstantUtf8{Value: s})
}

// AddClass adds a CONSTANT_Class entry. Array classes take their descriptor
// as name ("[I").
func (cf *ClassFile) AddClass(name string) uint16 {
	nameIndex := cf.AddUtf8(name)
	for i, e := range cf.ConstantPool {
		if c, ok := e.(*ConstantClass); ok && c.NameIndex == nameIndex {
			return uint16(i)
		}
	}
	return cf.addEntry(&ConstantClass{NameIndex: nameIndex})
}

// AddString adds a CONSTANT_String entry.
func (cf *ClassFile) AddString(s string) uint16 {
	utf8Index := cf.AddUtf8(s)
	for i, e := range cf.ConstantPool {
		if c, ok := e.(*ConstantString); ok && c.StringIndex == utf8Index {
			return uint16(i)
		}
	}
	return cf.addEntry(&ConstantString{StringIndex: utf8Index})
}

// AddInteger adds a CONSTANT_Integer entry.
func (cf *ClassFile) AddInteger(v int32) uint16 {
	for i, e := range cf.ConstantPool {
		if c, ok := e.(*ConstantInteger); ok && c.Value == v {
			return uint16(i)
		}
	}
	return cf.addEntry(&ConstantInteger{Value: v})
}

// AddLong adds a CONSTANT_Long entry, which takes two pool slots.
func (cf *ClassFile) AddLong(v int64) uint16 {
	for i, e := range cf.ConstantPool {
		if c, ok := e.(*ConstantLong); ok && c.Value == v {
			return uint16(i)
		}
	}
	return cf.addEntry(&ConstantLong{Value: v})
}

// AddDouble adds a CONSTANT_Double entry, which takes two pool slots.
func (cf *ClassFile) AddDouble(v float64) uint16 {
	for i, e := range cf.ConstantPool {
		if c, ok := e.(*ConstantDouble); ok && math.Float64bits(c.Value) == math.Float64bits(v) {
			return uint16(i)
		}
	}
	return cf.addEntry(&ConstantDouble{Value: v})
}

// AddNameAndType adds a CONSTANT_NameAndType entry.
func (cf *ClassFile) AddNameAndType(name, descriptor string) uint16 {
	nameIndex := cf.AddUtf8(name)
	descIndex := cf.AddUtf8(descriptor)
	for i, e := range cf.ConstantPool {
		if c, ok := e.(*ConstantNameAndType); ok && c.NameIndex == nameIndex && c.DescriptorIndex == descIndex {
			return uint16(i)
		}
	}
	return cf.addEntry(&ConstantNameAndType{NameIndex: nameIndex, DescriptorIndex: descIndex})
}

// AddMethodref adds a CONSTANT_Methodref entry.
func (cf *ClassFile) AddMethodref(class, name, descriptor string) uint16 {
	classIndex := cf.AddClass(class)
	natIndex := cf.AddNameAndType(name, descriptor)
	for i, e := range cf.ConstantPool {
		if c, ok := e.(*ConstantMethodref); ok && c.ClassIndex == classIndex && c.NameAndTypeIndex == natIndex {
			return uint16(i)
		}
	}
	return cf.addEntry(&ConstantMethodref{ClassIndex: classIndex, NameAndTypeIndex: natIndex})
}

// AddFieldref adds a CONSTANT_Fieldref entry.
func (cf *ClassFile) AddFieldref(class, name, descriptor string) uint16 {
	classIndex := cf.AddClass(class)
	natIndex := cf.AddNameAndType(name, descriptor)
	for i, e := range cf.ConstantPool {
		if c, ok := e.(*ConstantFieldref); ok && c.ClassIndex == classIndex && c.NameAndTypeIndex == natIndex {
			return uint16(i)
		}
	}
	return cf.addEntry(&ConstantFieldref{ClassIndex: classIndex, NameAndTypeIndex: natIndex})
}
