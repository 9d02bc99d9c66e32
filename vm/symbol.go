package vm

import (
	"sync"
)

// ---------------------------------------------------------------------------
// SymbolTable: interned attribute and method names
// ---------------------------------------------------------------------------

// SymbolTable interns strings into dense uint32 IDs. Attribute tables and
// vtables key on symbol IDs so lookups compare integers rather than strings.
//
// The table is shared by every process in the machine and therefore
// synchronized. Interning is rare after startup (names come from the image's
// string literal table), and lookups by ID take only the read lock on an
// append-only names slice.
type SymbolTable struct {
	mu    sync.RWMutex
	ids   map[string]uint32
	names []string
}

// NewSymbolTable creates an empty symbol table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		ids: make(map[string]uint32),
	}
}

// Intern returns the ID for name, assigning a new one if needed.
func (t *SymbolTable) Intern(name string) uint32 {
	t.mu.RLock()
	if id, ok := t.ids[name]; ok {
		t.mu.RUnlock()
		return id
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.ids[name]; ok {
		return id
	}
	id := uint32(len(t.names))
	t.ids[name] = id
	t.names = append(t.names, name)
	return id
}

// Lookup returns the ID for name and whether it was interned.
func (t *SymbolTable) Lookup(name string) (uint32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.ids[name]
	return id, ok
}

// Name returns the name for an interned ID.
// Panics if the ID was never assigned.
func (t *SymbolTable) Name(id uint32) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(id) >= len(t.names) {
		panic("SymbolTable.Name: unknown symbol ID")
	}
	return t.names[id]
}

// Len returns the number of interned symbols.
func (t *SymbolTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.names)
}
