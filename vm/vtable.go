package vm

import (
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// VTable: symbol -> method table with inheritance chaining
// ---------------------------------------------------------------------------

// VTable maps interned symbol IDs to compiled code objects. Lookups that
// miss fall through to the parent table, so a chain of vtables implements
// method inheritance.
//
// Each table carries a version counter bumped on every Define. Inline
// caches record the version they resolved against and revalidate on use,
// so redefining a method anywhere in a chain invalidates stale call sites
// without tracking them individually.
type VTable struct {
	class   *Class
	parent  *VTable
	methods map[uint32]*CompiledCode
	version atomic.Uint64
}

// NewVTable creates an empty vtable for class, chained to parent.
func NewVTable(class *Class, parent *VTable) *VTable {
	return &VTable{
		class:   class,
		parent:  parent,
		methods: make(map[uint32]*CompiledCode),
	}
}

// Class returns the class this vtable describes.
func (t *VTable) Class() *Class { return t.class }

// Version returns the sum of the version counters along the chain, so a
// Define in this table or any ancestor changes it. Inline caches compare
// this against the version they captured at fill time.
func (t *VTable) Version() uint64 {
	var v uint64
	for vt := t; vt != nil; vt = vt.parent {
		v += vt.version.Load()
	}
	return v
}

// Define installs code under symbol and bumps the version, invalidating
// every inline cache that resolved through this table or a descendant.
//
// Defines happen at bootstrap and module load, before the defining class
// is visible to running processes, so the map itself is not synchronized.
func (t *VTable) Define(symbol uint32, code *CompiledCode) {
	t.methods[symbol] = code
	t.version.Add(1)
}

// Lookup resolves symbol through the chain. Returns nil if no table in the
// chain defines the symbol.
func (t *VTable) Lookup(symbol uint32) *CompiledCode {
	for vt := t; vt != nil; vt = vt.parent {
		if code, ok := vt.methods[symbol]; ok {
			return code
		}
	}
	return nil
}

// LookupLocal resolves symbol in this table only, without walking the
// chain.
func (t *VTable) LookupLocal(symbol uint32) (*CompiledCode, bool) {
	code, ok := t.methods[symbol]
	return code, ok
}

// EachMethod calls fn for every locally defined method.
func (t *VTable) EachMethod(fn func(symbol uint32, code *CompiledCode)) {
	for sym, code := range t.methods {
		fn(sym, code)
	}
}
