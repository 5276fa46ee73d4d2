package cache

import (
	"sort"
	"sync"

	"github.com/contentsquare/webfetch/selection"
)

// memoryIndex keeps entries in process memory. It is lost on restart, so
// files left on disk by a previous run are removed by the sweeper as orphans.
type memoryIndex struct {
	mu     sync.RWMutex
	byID   map[int64]Entry
	byName map[string]int64
	lastID int64
}

// NewMemoryIndex returns an empty in-memory index.
func NewMemoryIndex() Index {
	return &memoryIndex{
		byID:   make(map[int64]Entry),
		byName: make(map[string]int64),
	}
}

func (m *memoryIndex) Name() string { return "memory" }

func (m *memoryIndex) Close() error { return nil }

func (m *memoryIndex) Replace(e Entry) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byName[e.FileName]; ok {
		e.ID = id
	} else {
		m.lastID++
		e.ID = m.lastID
	}
	m.byID[e.ID] = e
	m.byName[e.FileName] = e.ID
	return e, nil
}

func (m *memoryIndex) Delete(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.byID[id]; ok {
		delete(m.byName, e.FileName)
		delete(m.byID, id)
	}
	return nil
}

func (m *memoryIndex) Query(expr *selection.Expression) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	for _, e := range m.byID {
		e := e
		if expr.Match(&e) {
			out = append(out, e)
		}
	}
	sortByID(out)
	return out, nil
}

func sortByID(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID < entries[j].ID
	})
}
