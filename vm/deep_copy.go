package vm

import (
	"fmt"
	"math/big"
)

// ---------------------------------------------------------------------------
// Deep copy: moving values between heaps
// ---------------------------------------------------------------------------

// copyAllocator allocates an object slot in whichever space a copy is
// headed for: a mailbox's message space or a receiving process's heap.
type copyAllocator func(class *Class, payload Payload) *Object

// DeepCopy copies value into the space behind alloc. Immediates are
// returned as-is and permanent objects are shared by reference; every
// mutable object is cloned so the copy shares no mutable state with the
// original.
//
// Sharing within one value is preserved: if the same object appears twice
// in the input graph, the output references one copy twice. Objects whose
// payload wraps an external resource or a suspended activation cannot be
// copied and yield an error.
func DeepCopy(value Value, alloc copyAllocator) (Value, error) {
	c := &copier{
		alloc:    alloc,
		objects:  make(map[*Object]Value),
		bindings: make(map[*Binding]*Binding),
	}
	return c.copy(value)
}

type copier struct {
	alloc    copyAllocator
	objects  map[*Object]Value
	bindings map[*Binding]*Binding
}

func (c *copier) copy(value Value) (Value, error) {
	if !value.IsObject() {
		return value, nil
	}
	src := ObjectFromValue(value)
	if src.IsPermanent() {
		return value, nil
	}
	if copied, ok := c.objects[src]; ok {
		return copied, nil
	}

	dest := c.alloc(src.Class(), nil)
	copied := dest.ToValue()

	// Register before descending so cycles and repeated references
	// resolve to the copy under construction.
	c.objects[src] = copied

	payload, err := c.copyPayload(src)
	if err != nil {
		return Undefined, err
	}
	dest.SetPayload(payload)

	var attrErr error
	src.EachAttribute(func(symbol uint32, attr Value) {
		if attrErr != nil {
			return
		}
		copiedAttr, err := c.copy(attr)
		if err != nil {
			attrErr = err
			return
		}
		dest.SetAttributeRaw(symbol, copiedAttr)
	})
	if attrErr != nil {
		return Undefined, attrErr
	}
	return copied, nil
}

func (c *copier) copyPayload(src *Object) (Payload, error) {
	switch p := src.Payload().(type) {
	case nil:
		return nil, nil
	case *StringPayload:
		// Strings are immutable, the payload can be shared even though
		// the object box cannot.
		return p, nil
	case *ByteArrayPayload:
		bytes := make([]byte, len(p.Bytes))
		copy(bytes, p.Bytes)
		return &ByteArrayPayload{Bytes: bytes}, nil
	case *BigIntPayload:
		return &BigIntPayload{Int: new(big.Int).Set(p.Int)}, nil
	case *ArrayPayload:
		values := make([]Value, len(p.Values))
		for i, v := range p.Values {
			copied, err := c.copy(v)
			if err != nil {
				return nil, err
			}
			values[i] = copied
		}
		return &ArrayPayload{Values: values}, nil
	case *BlockPayload:
		binding, err := c.copyBinding(p.Binding)
		if err != nil {
			return nil, err
		}
		receiver, err := c.copy(p.Receiver)
		if err != nil {
			return nil, err
		}
		return &BlockPayload{Code: p.Code, Binding: binding, Receiver: receiver}, nil
	case *ProcessPayload:
		// Process handles stay shared: a copied message must still name
		// its sender.
		return p, nil
	case *ModulePayload:
		return p, nil
	default:
		return nil, fmt.Errorf(
			"unable to deep copy a %s object", src.Class().Name,
		)
	}
}

func (c *copier) copyBinding(b *Binding) (*Binding, error) {
	if b == nil {
		return nil, nil
	}
	if copied, ok := c.bindings[b]; ok {
		return copied, nil
	}

	parent, err := c.copyBinding(b.parent)
	if err != nil {
		return nil, err
	}
	copied := &Binding{parent: parent, locals: make([]Value, len(b.locals))}
	c.bindings[b] = copied
	for i, v := range b.locals {
		cv, err := c.copy(v)
		if err != nil {
			return nil, err
		}
		copied.locals[i] = cv
	}
	return copied, nil
}
