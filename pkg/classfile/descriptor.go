package classfile

import (
	"fmt"
	"strings"
)

// ParseMethodDescriptor splits a method descriptor into its parameter field
// descriptors and its return descriptor ("V" for void).
//
//	(ILjava/lang/String;[J)V -> ["I", "Ljava/lang/String;", "[J"], "V"
func ParseMethodDescriptor(descriptor string) ([]string, string, error) {
	if !strings.HasPrefix(descriptor, "(") {
		return nil, "", fmt.Errorf("invalid method descriptor: %s", descriptor)
	}
	end := strings.IndexByte(descriptor, ')')
	if end == -1 {
		return nil, "", fmt.Errorf("invalid method descriptor: %s", descriptor)
	}

	params := []string{}
	rest := descriptor[1:end]
	for rest != "" {
		n, err := fieldDescriptorLen(rest)
		if err != nil {
			return nil, "", fmt.Errorf("%w in %s", err, descriptor)
		}
		params = append(params, rest[:n])
		rest = rest[n:]
	}

	ret := descriptor[end+1:]
	if ret != "V" {
		n, err := fieldDescriptorLen(ret)
		if err != nil || n != len(ret) {
			return nil, "", fmt.Errorf("invalid return type in %s", descriptor)
		}
	}
	return params, ret, nil
}

// fieldDescriptorLen returns the length of the field descriptor at the start of s.
func fieldDescriptorLen(s string) (int, error) {
	i := 0
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i == len(s) {
		return 0, fmt.Errorf("truncated array descriptor")
	}
	switch s[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return i + 1, nil
	case 'L':
		semi := strings.IndexByte(s[i:], ';')
		if semi == -1 {
			return 0, fmt.Errorf("unterminated class descriptor")
		}
		return i + semi + 1, nil
	default:
		return 0, fmt.Errorf("invalid type descriptor char '%c'", s[i])
	}
}

// IsPrimitive reports whether desc is a primitive field descriptor.
func IsPrimitive(desc string) bool {
	if len(desc) != 1 {
		return false
	}
	return strings.ContainsAny(desc, "BCDFIJSZ")
}

// SlotSize returns the number of local variable slots a value of the given
// field descriptor occupies.
func SlotSize(desc string) int {
	if desc == "J" || desc == "D" {
		return 2
	}
	return 1
}

// ArgSlots returns the number of local slots the parameters occupy, not
// counting the receiver.
func ArgSlots(params []string) int {
	n := 0
	for _, p := range params {
		n += SlotSize(p)
	}
	return n
}

// ClassNameOf returns the CONSTANT_Class name for a reference descriptor:
// "Ljava/lang/Object;" -> "java/lang/Object", "[I" -> "[I".
func ClassNameOf(desc string) string {
	if strings.HasPrefix(desc, "L") && strings.HasSuffix(desc, ";") {
		return desc[1 : len(desc)-1]
	}
	return desc
}

// DescriptorOf is the inverse of ClassNameOf.
func DescriptorOf(className string) string {
	if strings.HasPrefix(className, "[") || IsPrimitive(className) {
		return className
	}
	return "L" + className + ";"
}

var primitiveNames = map[byte]string{
	'B': "byte", 'C': "char", 'D': "double", 'F': "float",
	'I': "int", 'J': "long", 'S': "short", 'Z': "boolean", 'V': "void",
}

// JavaName renders a descriptor in source form: "[Ljava/lang/String;" -> "java.lang.String[]".
func JavaName(desc string) string {
	dims := 0
	for dims < len(desc) && desc[dims] == '[' {
		dims++
	}
	elem := desc[dims:]
	var name string
	if len(elem) == 1 {
		name = primitiveNames[elem[0]]
	} else {
		name = strings.ReplaceAll(ClassNameOf(elem), "/", ".")
	}
	return name + strings.Repeat("[]", dims)
}
