package tags

import "sync"

// Write is one recorded Set call.
type Write struct {
	Tag    string
	Source string
	Value  Value
}

// MemoryStore is an in-process tag store. Writes are visible to later reads
// and are recorded for test assertions. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[key]Value
	writes []Write

	// SetError, if set, is returned by Set and nothing is stored.
	SetError error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[key]Value)}
}

// Get returns the last value put or set for (tag, source).
func (m *MemoryStore) Get(tag, source string) (Value, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key{tag, source}]
	return v, ok
}

// Set stores v and records the write.
func (m *MemoryStore) Set(tag, source string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetError != nil {
		return m.SetError
	}
	val := NewValue(v)
	m.values[key{tag, source}] = val
	m.writes = append(m.writes, Write{Tag: tag, Source: source, Value: val})
	return nil
}

// Put stores v as if an upstream application had published it. It is not recorded as a write.
func (m *MemoryStore) Put(tag, source string, v any) {
	m.mu.Lock()
	m.values[key{tag, source}] = NewValue(v)
	m.mu.Unlock()
}

// Delete removes a tag, as if its source stopped reporting it.
func (m *MemoryStore) Delete(tag, source string) {
	m.mu.Lock()
	delete(m.values, key{tag, source})
	m.mu.Unlock()
}

// Writes returns a copy of the recorded writes.
func (m *MemoryStore) Writes() []Write {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Write, len(m.writes))
	copy(out, m.writes)
	return out
}

// WritesOf returns the recorded writes of one tag.
func (m *MemoryStore) WritesOf(tag string) []Write {
	var out []Write
	for _, w := range m.Writes() {
		if w.Tag == tag {
			out = append(out, w)
		}
	}
	return out
}

// ResetWrites forgets recorded writes but keeps values.
func (m *MemoryStore) ResetWrites() {
	m.mu.Lock()
	m.writes = nil
	m.mu.Unlock()
}
