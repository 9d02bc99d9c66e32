package vm

import (
	"sync"
)

// ---------------------------------------------------------------------------
// PermanentSpace: machine-wide immortal objects
// ---------------------------------------------------------------------------

// PermanentSpace holds objects that live for the whole life of the
// machine: classes' singleton instances, module objects, interned string
// literals and the top-level object. Permanent objects are never moved or
// collected and may be referenced from any process without copying.
//
// Allocation is synchronized because module loading can race with running
// processes interning literals. Permanent objects must only reference
// other permanent objects; the collectors rely on never having to trace
// into this space.
type PermanentSpace struct {
	mu    sync.Mutex
	space *chunkSpace

	// Interned string literals, keyed by content.
	strings map[string]Value
}

// NewPermanentSpace creates an empty permanent space.
func NewPermanentSpace() *PermanentSpace {
	return &PermanentSpace{
		space:   newChunkSpace(),
		strings: make(map[string]Value),
	}
}

// Allocate creates a permanent object of the given class.
func (s *PermanentSpace) Allocate(class *Class, payload Payload) *Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocate(class, payload)
}

func (s *PermanentSpace) allocate(class *Class, payload Payload) *Object {
	obj := s.space.allocate()
	*obj = Object{class: class, payload: payload}
	obj.setGeneration(GenPermanent)
	return obj
}

// AllocateValue creates a permanent object and returns it boxed.
func (s *PermanentSpace) AllocateValue(class *Class, payload Payload) Value {
	return s.Allocate(class, payload).ToValue()
}

// InternString returns the permanent string object for content, creating
// it on first use. Bytecode string literals all go through here so
// identical literals across modules share one object.
func (s *PermanentSpace) InternString(class *Class, content string) Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.strings[content]; ok {
		return v
	}
	v := s.allocate(class, &StringPayload{Value: content}).ToValue()
	s.strings[content] = v
	return v
}

// ObjectCount returns the number of permanent objects.
func (s *PermanentSpace) ObjectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.space.objectCount()
}
