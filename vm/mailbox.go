package vm

import (
	"sync"
)

// ---------------------------------------------------------------------------
// Mailbox: per-process message queue with its own allocator
// ---------------------------------------------------------------------------

// Mailbox is an unbounded FIFO of incoming messages. Messages are deep
// copied twice: into the mailbox's private space at send time, under the
// mailbox lock, and out into the receiving process's heap at receive
// time. Neither heap ever holds a pointer into the other.
//
// Any thread may send; only the owning process receives. One lock covers
// both the queue and the space, which also yields the per-sender FIFO
// guarantee: a sender's second Send cannot overtake its first.
type Mailbox struct {
	mu       sync.Mutex
	messages []Value
	space    *chunkSpace
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{space: newChunkSpace()}
}

// Send copies value into the mailbox and enqueues it.
func (m *Mailbox) Send(value Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied, err := DeepCopy(value, func(class *Class, payload Payload) *Object {
		obj := m.space.allocate()
		*obj = Object{class: class, payload: payload}
		return obj
	})
	if err != nil {
		return err
	}
	m.messages = append(m.messages, copied)
	return nil
}

// Receive dequeues the oldest message and copies it into heap. Returns
// false with no error when the mailbox is empty.
func (m *Mailbox) Receive(heap *Heap) (Value, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.messages) == 0 {
		return Undefined, false, nil
	}
	head := m.messages[0]
	m.messages = m.messages[1:]

	copied, err := DeepCopy(head, heap.Allocate)
	if err != nil {
		return Undefined, false, err
	}

	// Once drained, every object in the space is dead: all enqueued
	// messages were copied out. Dropping the chunks releases them.
	if len(m.messages) == 0 {
		m.messages = nil
		m.space = newChunkSpace()
	}
	return copied, true, nil
}

// Len returns the number of queued messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}
