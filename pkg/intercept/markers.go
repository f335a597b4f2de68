package intercept

import (
	"strings"

	"github.com/daimatz/nativeintercept/pkg/classfile"
)

// NativeMethodPrefix is prepended to the name of every wrapped native method.
// The host strips it when binding the native implementation.
const NativeMethodPrefix = "$$NativeIntercepted$$_"

// markerPackage holds the marker annotation types written into class files.
const markerPackage = "nativeintercept/"

// Markers is the set of pipeline markers carried by a class or method.
type Markers uint8

const (
	// HasNatives is set on a class rewritten by the wrapping stage.
	HasNatives Markers = 1 << iota
	// HasInterceptedNatives is set on a class rewritten by the intercepting stage.
	HasInterceptedNatives
	// WasNative is set on every forwarder synthesized for a native method.
	WasNative
	// Intercepted is set on a forwarder whose body calls the dispatcher.
	Intercepted
)

var markerNames = []struct {
	m    Markers
	name string
}{
	{HasNatives, "HasNatives"},
	{HasInterceptedNatives, "HasInterceptedNatives"},
	{WasNative, "WasNative"},
	{Intercepted, "Intercepted"},
}

// Has reports whether every marker in m2 is set in m.
func (m Markers) Has(m2 Markers) bool { return m&m2 == m2 }

func (m Markers) String() string {
	var parts []string
	for _, mn := range markerNames {
		if m.Has(mn.m) {
			parts = append(parts, mn.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Descriptor returns the annotation type descriptor of a single marker.
func (m Markers) Descriptor() string {
	for _, mn := range markerNames {
		if mn.m == m {
			return "L" + markerPackage + mn.name + ";"
		}
	}
	return ""
}

func markersOf(cf *classfile.ClassFile, attrs []classfile.AttributeInfo) Markers {
	types, err := cf.AnnotationTypes(attrs)
	if err != nil {
		return 0
	}
	var m Markers
	for _, t := range types {
		for _, mn := range markerNames {
			if t == mn.m.Descriptor() {
				m |= mn.m
			}
		}
	}
	return m
}

// ClassMarkers reads the markers recorded on a class.
func ClassMarkers(cf *classfile.ClassFile) Markers {
	return markersOf(cf, cf.Attributes)
}

// MethodMarkers reads the markers recorded on a method of cf.
func MethodMarkers(cf *classfile.ClassFile, m *classfile.MethodInfo) Markers {
	return markersOf(cf, m.Attributes)
}

func markClass(cf *classfile.ClassFile, m Markers) error {
	attrs, err := cf.AddAnnotation(cf.Attributes, m.Descriptor())
	if err != nil {
		return err
	}
	cf.Attributes = attrs
	return nil
}

func markMethod(cf *classfile.ClassFile, method *classfile.MethodInfo, m Markers) error {
	attrs, err := cf.AddAnnotation(method.Attributes, m.Descriptor())
	if err != nil {
		return err
	}
	method.Attributes = attrs
	return nil
}
