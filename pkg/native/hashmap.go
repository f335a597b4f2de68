package native

// HashMap backs java.util.HashMap. Keys are the VM's reference values, which
// are all comparable: boxed scalars and strings by value, objects by identity.
type HashMap struct {
	Data map[any]any
}

// NewHashMap creates an empty HashMap.
func NewHashMap() *HashMap {
	return &HashMap{Data: make(map[any]any)}
}

// Get returns the value for the given key, or nil.
func (m *HashMap) Get(key any) any {
	return m.Data[key]
}

// Put stores a key-value pair and returns the previous value.
func (m *HashMap) Put(key, value any) any {
	old := m.Data[key]
	m.Data[key] = value
	return old
}

// Remove deletes key and returns its value.
func (m *HashMap) Remove(key any) any {
	old := m.Data[key]
	delete(m.Data, key)
	return old
}

// Size returns the number of mappings.
func (m *HashMap) Size() int { return len(m.Data) }
