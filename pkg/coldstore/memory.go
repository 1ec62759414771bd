package coldstore

import "sync"

// MemStore is a volatile Store for ephemeral databases and tests
type MemStore struct {
	mu     sync.RWMutex
	docs   map[string][]byte
	closed bool
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{docs: make(map[string][]byte)}
}

func (m *MemStore) Read(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	buf, ok := m.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	doc, err := decodeDocument(buf)
	if err != nil {
		return nil, err
	}
	return doc.Value, nil
}

func (m *MemStore) Write(key string, value []byte, lsn uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.docs[key] = encodeDocument(key, value, lsn, false)
	return nil
}

func (m *MemStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.docs, key)
	return nil
}

// Len returns the number of stored documents
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Has reports whether key has a cold copy
func (m *MemStore) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.docs[key]
	return ok
}

func (m *MemStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
