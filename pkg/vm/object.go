package vm

import (
	"github.com/daimatz/nativeintercept/pkg/intercept"
)

// JObject represents a JVM object instance.
type JObject struct {
	Class  *Class
	Fields map[string]Value
}

// NewJObject allocates an instance of class with empty fields.
func NewJObject(class *Class) *JObject {
	return &JObject{Class: class, Fields: make(map[string]Value)}
}

// RuntimeType implements intercept.Object.
func (o *JObject) RuntimeType() intercept.Type {
	if o == nil || o.Class == nil {
		return nil
	}
	return o.Class
}

// ClassName returns the internal name of the object's class.
func (o *JObject) ClassName() string {
	return o.Class.Name()
}

// JArray represents a JVM array. Class is the array class ([I, [Ljava/lang/String;).
type JArray struct {
	Class    *Class
	Elements []Value
}

// RuntimeType implements intercept.Object.
func (a *JArray) RuntimeType() intercept.Type {
	if a == nil || a.Class == nil {
		return nil
	}
	return a.Class
}
