package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// maxPoolSize is the largest constant_pool_count a class file can carry.
const maxPoolSize = math.MaxUint16

// byteWriter accumulates big-endian class file data.
type byteWriter struct {
	buf bytes.Buffer
}

func (w *byteWriter) u1(v uint8)  { w.buf.WriteByte(v) }
func (w *byteWriter) u2(v uint16) { w.buf.Write(binary.BigEndian.AppendUint16(nil, v)) }
func (w *byteWriter) u4(v uint32) { w.buf.Write(binary.BigEndian.AppendUint32(nil, v)) }
func (w *byteWriter) raw(b []byte) {
	w.buf.Write(b)
}

// Bytes serializes the class file.
func (cf *ClassFile) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := cf.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write serializes the class file to w. Attribute names that are not yet in
// the constant pool are added before the pool is written.
func (cf *ClassFile) Write(w io.Writer) error {
	// The body is built first: it may append Utf8 entries to the pool.
	body := &byteWriter{}
	body.u2(cf.AccessFlags)
	body.u2(cf.ThisClass)
	body.u2(cf.SuperClass)
	body.u2(uint16(len(cf.Interfaces)))
	for _, i := range cf.Interfaces {
		body.u2(i)
	}

	body.u2(uint16(len(cf.Fields)))
	for _, f := range cf.Fields {
		body.u2(f.AccessFlags)
		body.u2(cf.AddUtf8(f.Name))
		body.u2(cf.AddUtf8(f.Descriptor))
		if err := cf.writeAttributes(body, f.Attributes); err != nil {
			return fmt.Errorf("writing field %s: %w", f.Name, err)
		}
	}

	body.u2(uint16(len(cf.Methods)))
	for i := range cf.Methods {
		m := &cf.Methods[i]
		body.u2(m.AccessFlags)
		body.u2(cf.AddUtf8(m.Name))
		body.u2(cf.AddUtf8(m.Descriptor))
		attrs, err := cf.methodAttributes(m)
		if err != nil {
			return fmt.Errorf("writing method %s%s: %w", m.Name, m.Descriptor, err)
		}
		if err := cf.writeAttributes(body, attrs); err != nil {
			return fmt.Errorf("writing method %s%s: %w", m.Name, m.Descriptor, err)
		}
	}

	if err := cf.writeAttributes(body, cf.Attributes); err != nil {
		return fmt.Errorf("writing class attributes: %w", err)
	}

	head := &byteWriter{}
	head.u4(classMagic)
	head.u2(cf.MinorVersion)
	head.u2(cf.MajorVersion)
	if err := cf.writeConstantPool(head); err != nil {
		return err
	}

	if _, err := w.Write(head.buf.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(body.buf.Bytes())
	return err
}

// methodAttributes returns m's attributes with the Code attribute re-encoded
// from m.Code, so rewritten bytecode is what gets written.
func (cf *ClassFile) methodAttributes(m *MethodInfo) ([]AttributeInfo, error) {
	if m.Code == nil {
		return m.Attributes, nil
	}
	data, err := cf.EncodeCode(m.Code)
	if err != nil {
		return nil, err
	}
	attrs := make([]AttributeInfo, 0, len(m.Attributes)+1)
	replaced := false
	for _, a := range m.Attributes {
		if a.Name == "Code" {
			if replaced {
				continue
			}
			a = AttributeInfo{Name: "Code", Data: data}
			replaced = true
		}
		attrs = append(attrs, a)
	}
	if !replaced {
		attrs = append([]AttributeInfo{{Name: "Code", Data: data}}, attrs...)
	}
	return attrs, nil
}

// EncodeCode builds the payload of a Code attribute.
func (cf *ClassFile) EncodeCode(c *CodeAttribute) ([]byte, error) {
	if len(c.Code) == 0 || len(c.Code) >= 65536 {
		return nil, fmt.Errorf("invalid code length %d", len(c.Code))
	}
	w := &byteWriter{}
	w.u2(c.MaxStack)
	w.u2(c.MaxLocals)
	w.u4(uint32(len(c.Code)))
	w.raw(c.Code)
	w.u2(uint16(len(c.ExceptionHandlers)))
	for _, h := range c.ExceptionHandlers {
		w.u2(h.StartPC)
		w.u2(h.EndPC)
		w.u2(h.HandlerPC)
		w.u2(h.CatchType)
	}
	if err := cf.writeAttributes(w, c.Attributes); err != nil {
		return nil, err
	}
	return w.buf.Bytes(), nil
}

func (cf *ClassFile) writeAttributes(w *byteWriter, attrs []AttributeInfo) error {
	if len(attrs) > math.MaxUint16 {
		return fmt.Errorf("too many attributes: %d", len(attrs))
	}
	w.u2(uint16(len(attrs)))
	for _, a := range attrs {
		if uint64(len(a.Data)) > math.MaxUint32 {
			return fmt.Errorf("attribute %s too large", a.Name)
		}
		w.u2(cf.AddUtf8(a.Name))
		w.u4(uint32(len(a.Data)))
		w.raw(a.Data)
	}
	return nil
}

func (cf *ClassFile) writeConstantPool(w *byteWriter) error {
	if len(cf.ConstantPool) > maxPoolSize {
		return fmt.Errorf("constant pool overflow: %d entries", len(cf.ConstantPool))
	}
	w.u2(uint16(len(cf.ConstantPool)))
	for i := 1; i < len(cf.ConstantPool); i++ {
		e := cf.ConstantPool[i]
		if e == nil {
			// second slot of a long or double
			continue
		}
		w.u1(e.Tag())
		switch c := e.(type) {
		case *ConstantUtf8:
			if len(c.Value) > math.MaxUint16 {
				return fmt.Errorf("constant pool index %d: Utf8 too long", i)
			}
			w.u2(uint16(len(c.Value)))
			w.raw([]byte(c.Value))
		case *ConstantInteger:
			w.u4(uint32(c.Value))
		case *ConstantFloat:
			w.u4(math.Float32bits(c.Value))
		case *ConstantLong:
			w.u4(uint32(uint64(c.Value) >> 32))
			w.u4(uint32(c.Value))
		case *ConstantDouble:
			bits := math.Float64bits(c.Value)
			w.u4(uint32(bits >> 32))
			w.u4(uint32(bits))
		case *ConstantClass:
			w.u2(c.NameIndex)
		case *ConstantString:
			w.u2(c.StringIndex)
		case *ConstantFieldref:
			w.u2(c.ClassIndex)
			w.u2(c.NameAndTypeIndex)
		case *ConstantMethodref:
			w.u2(c.ClassIndex)
			w.u2(c.NameAndTypeIndex)
		case *ConstantInterfaceMethodref:
			w.u2(c.ClassIndex)
			w.u2(c.NameAndTypeIndex)
		case *ConstantNameAndType:
			w.u2(c.NameIndex)
			w.u2(c.DescriptorIndex)
		case *ConstantRaw:
			w.raw(c.Data)
		default:
			return fmt.Errorf("constant pool index %d: cannot write tag %d", i, e.Tag())
		}
	}
	return nil
}
