package classfile

import (
	"encoding/binary"
	"fmt"
)

const runtimeVisibleAnnotations = "RuntimeVisibleAnnotations"

// AnnotationTypes returns the type descriptors of the runtime-visible
// annotations in attrs.
func (cf *ClassFile) AnnotationTypes(attrs []AttributeInfo) ([]string, error) {
	attr := findAttribute(attrs, runtimeVisibleAnnotations)
	if attr == nil {
		return nil, nil
	}
	r := &annotationReader{data: attr.Data}
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	types := make([]string, 0, count)
	for i := uint16(0); i < count; i++ {
		typeIndex, err := r.annotation()
		if err != nil {
			return nil, fmt.Errorf("annotation %d: %w", i, err)
		}
		desc, err := GetUtf8(cf.ConstantPool, typeIndex)
		if err != nil {
			return nil, fmt.Errorf("annotation %d type: %w", i, err)
		}
		types = append(types, desc)
	}
	return types, nil
}

// HasAnnotation reports whether attrs carry a runtime-visible annotation of
// the given type descriptor. Malformed annotation data counts as absent.
func (cf *ClassFile) HasAnnotation(attrs []AttributeInfo, desc string) bool {
	types, err := cf.AnnotationTypes(attrs)
	if err != nil {
		return false
	}
	for _, t := range types {
		if t == desc {
			return true
		}
	}
	return false
}

// AddAnnotation returns attrs with an element-less annotation of type desc
// appended to the RuntimeVisibleAnnotations attribute, creating it if needed.
// attrs itself is not modified.
func (cf *ClassFile) AddAnnotation(attrs []AttributeInfo, desc string) ([]AttributeInfo, error) {
	typeIndex := cf.AddUtf8(desc)
	out := make([]AttributeInfo, len(attrs), len(attrs)+1)
	copy(out, attrs)

	for i := range out {
		if out[i].Name != runtimeVisibleAnnotations {
			continue
		}
		data := out[i].Data
		if len(data) < 2 {
			return nil, fmt.Errorf("%s attribute too short", runtimeVisibleAnnotations)
		}
		count := binary.BigEndian.Uint16(data[0:2])
		if count == 0xFFFF {
			return nil, fmt.Errorf("too many annotations")
		}
		merged := make([]byte, 0, len(data)+4)
		merged = binary.BigEndian.AppendUint16(merged, count+1)
		merged = append(merged, data[2:]...)
		merged = binary.BigEndian.AppendUint16(merged, typeIndex)
		merged = binary.BigEndian.AppendUint16(merged, 0)
		out[i] = AttributeInfo{Name: runtimeVisibleAnnotations, Data: merged}
		return out, nil
	}

	data := make([]byte, 0, 6)
	data = binary.BigEndian.AppendUint16(data, 1)
	data = binary.BigEndian.AppendUint16(data, typeIndex)
	data = binary.BigEndian.AppendUint16(data, 0)
	return append(out, AttributeInfo{Name: runtimeVisibleAnnotations, Data: data}), nil
}

// annotationReader walks annotation structures (JVMS 4.7.16) only far enough
// to find their type indexes.
type annotationReader struct {
	data []byte
	pos  int
}

func (r *annotationReader) u1() (uint8, error) {
	if r.pos+1 > len(r.data) {
		return 0, fmt.Errorf("annotation data truncated at %d", r.pos)
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *annotationReader) u2() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, fmt.Errorf("annotation data truncated at %d", r.pos)
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

// annotation consumes one annotation and returns its type_index.
func (r *annotationReader) annotation() (uint16, error) {
	typeIndex, err := r.u2()
	if err != nil {
		return 0, err
	}
	pairs, err := r.u2()
	if err != nil {
		return 0, err
	}
	for i := uint16(0); i < pairs; i++ {
		if _, err := r.u2(); err != nil { // element_name_index
			return 0, err
		}
		if err := r.elementValue(); err != nil {
			return 0, err
		}
	}
	return typeIndex, nil
}

func (r *annotationReader) elementValue() error {
	tag, err := r.u1()
	if err != nil {
		return err
	}
	switch tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's', 'c':
		_, err = r.u2()
		return err
	case 'e':
		if _, err = r.u2(); err != nil {
			return err
		}
		_, err = r.u2()
		return err
	case '@':
		_, err = r.annotation()
		return err
	case '[':
		n, err := r.u2()
		if err != nil {
			return err
		}
		for i := uint16(0); i < n; i++ {
			if err := r.elementValue(); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown element_value tag '%c'", tag)
	}
}
