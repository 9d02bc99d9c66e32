package vm

import (
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// InlineCache: per-call-site method lookup memoization
// ---------------------------------------------------------------------------

// CacheState tracks how many distinct receiver classes a call site has
// seen.
type CacheState uint8

const (
	// CacheEmpty means the site has not dispatched yet.
	CacheEmpty CacheState = iota
	// CacheMonomorphic means one receiver class so far, the fast path.
	CacheMonomorphic
	// CachePolymorphic means a handful of classes, checked linearly.
	CachePolymorphic
	// CacheMegamorphic means too many classes; every dispatch walks the
	// vtable chain.
	CacheMegamorphic
)

// MaxPICEntries is the number of class entries a polymorphic site holds
// before collapsing to megamorphic.
const MaxPICEntries = 6

type cacheEntry struct {
	class   *Class
	version uint64
	code    *CompiledCode
}

type cacheEntries struct {
	megamorphic bool
	entries     []cacheEntry
}

// InlineCache memoizes the result of a vtable lookup at a single call
// site. An entry is valid while the receiver class matches and the class
// vtable version has not moved since the entry was filled.
//
// Caches live in CompiledCode, which is shared by every process running
// the method, so the entry list is published through an atomic pointer
// and replaced copy-on-write. A racing Update may lose its store; the
// loser just pays another full lookup on its next dispatch.
type InlineCache struct {
	state atomic.Pointer[cacheEntries]
}

// State returns the cache state.
func (c *InlineCache) State() CacheState {
	s := c.state.Load()
	switch {
	case s == nil:
		return CacheEmpty
	case s.megamorphic:
		return CacheMegamorphic
	case len(s.entries) == 1:
		return CacheMonomorphic
	default:
		return CachePolymorphic
	}
}

// Lookup returns the cached code for class, or nil on a miss. A hit
// requires the class vtable version to match the one captured when the
// entry was filled.
func (c *InlineCache) Lookup(class *Class) *CompiledCode {
	s := c.state.Load()
	if s == nil || s.megamorphic {
		return nil
	}
	for i := range s.entries {
		e := &s.entries[i]
		if e.class == class && e.version == class.VTable.Version() {
			return e.code
		}
	}
	return nil
}

// Update records the result of a full lookup for class. Stale entries for
// the same class are replaced; new classes grow the cache until it
// collapses to megamorphic.
func (c *InlineCache) Update(class *Class, code *CompiledCode) {
	old := c.state.Load()
	if old != nil && old.megamorphic {
		return
	}

	entry := cacheEntry{class: class, version: class.VTable.Version(), code: code}
	next := &cacheEntries{}

	if old != nil {
		next.entries = make([]cacheEntry, 0, len(old.entries)+1)
		for _, e := range old.entries {
			if e.class != class {
				next.entries = append(next.entries, e)
			}
		}
	}
	next.entries = append(next.entries, entry)

	if len(next.entries) > MaxPICEntries {
		next.entries = nil
		next.megamorphic = true
	}

	c.state.CompareAndSwap(old, next)
}
