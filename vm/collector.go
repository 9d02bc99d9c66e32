package vm

// ---------------------------------------------------------------------------
// Collector: young evacuation and mature mark-compact
// ---------------------------------------------------------------------------

// RootIterator hands the collector the address of every root Value slot:
// call frame registers, binding locals, generator state and any other slot
// the owning process can still reach directly.
type RootIterator func(fn func(*Value))

// CollectYoung evacuates live young objects into a fresh semispace,
// promoting objects that survived enough collections into the mature
// space. Every root and remembered-set slot is rewritten to the new
// addresses; unreachable objects with external resources are finalized.
func (h *Heap) CollectYoung(roots RootIterator) {
	c := &youngCollection{heap: h, to: newChunkSpace()}

	roots(c.evacuateSlot)
	c.scanRememberedSet()
	c.drain()

	// Anything left unforwarded in the old space is garbage.
	h.young.each(func(o *Object) {
		if !o.Forwarded() && o.NeedsFinalize() {
			if f, ok := o.Payload().(Finalizable); ok {
				h.runFinalizer(f)
			}
		}
	})

	h.young = c.to
	h.youngAllocated = 0
	h.youngCollections++
}

type youngCollection struct {
	heap *Heap
	to   *chunkSpace

	// Newly promoted objects pending a trace of their own slots.
	promoted []*Object

	// Index of the next tospace object to scan, in allocation order.
	scanned int
}

// evacuateSlot rewrites one slot in place.
func (c *youngCollection) evacuateSlot(slot *Value) {
	*slot = c.evacuate(*slot)
}

// evacuate returns the post-collection value for v, copying young objects
// into the target space on first visit.
func (c *youngCollection) evacuate(v Value) Value {
	if !v.IsObject() {
		return v
	}
	o := ObjectFromValue(v)
	if !o.IsYoung() {
		return v
	}
	if o.Forwarded() {
		return o.ForwardTo().ToValue()
	}

	age := o.Age() + 1
	var dest *Object
	if age >= promotionAge {
		dest = c.heap.mature.allocate()
		header := dest.header
		*dest = *o
		dest.header = header
		if o.NeedsFinalize() {
			dest.setNeedsFinalize()
		}
		dest.forward = nil
		c.heap.matureAllocated++
		c.promoted = append(c.promoted, dest)
	} else {
		dest = c.to.allocate()
		*dest = *o
		dest.forward = nil
		dest.setAge(age)
	}
	o.setForward(dest)
	return dest.ToValue()
}

// scanRememberedSet treats mature objects under dirty cards as roots,
// then recomputes each card: a card stays dirty only while some object in
// its range still points at a young object.
func (c *youngCollection) scanRememberedSet() {
	for _, b := range c.heap.mature.blocks {
		for card := range b.cards {
			if !b.cards[card] {
				continue
			}
			dirty := false
			start := card * cardObjects
			end := start + cardObjects
			for slot := start; slot < end; slot++ {
				if !b.used[slot] {
					continue
				}
				obj := &b.objects[slot]
				c.traceObject(obj)
				if holdsYoungPointer(obj) {
					dirty = true
				}
			}
			b.cards[card] = dirty
		}
	}
}

// drain scans evacuated objects until no new ones appear. Promoted
// objects that still hold young pointers dirty their own cards.
func (c *youngCollection) drain() {
	for {
		progressed := false

		for c.scanned < c.to.objectCount() {
			c.traceObject(c.objectAt(c.scanned))
			c.scanned++
			progressed = true
		}

		for len(c.promoted) > 0 {
			obj := c.promoted[len(c.promoted)-1]
			c.promoted = c.promoted[:len(c.promoted)-1]
			c.traceObject(obj)
			if holdsYoungPointer(obj) {
				block, slot := obj.matureLocation()
				c.heap.mature.markCard(block, slot)
			}
			progressed = true
		}

		if !progressed {
			return
		}
	}
}

func (c *youngCollection) objectAt(index int) *Object {
	for _, ch := range c.to.chunks {
		if index < ch.used {
			return &ch.objects[index]
		}
		index -= ch.used
	}
	panic("youngCollection.objectAt: index out of range")
}

func (c *youngCollection) traceObject(o *Object) {
	if o.attributes != nil {
		o.attributes.EachPointer(c.evacuateSlot)
	}
	if o.payload != nil {
		o.payload.EachPointer(c.evacuateSlot)
	}
}

// holdsYoungPointer reports whether any slot of o references a young
// object.
func holdsYoungPointer(o *Object) bool {
	found := false
	check := func(v *Value) {
		if found || !v.IsObject() {
			return
		}
		if ObjectFromValue(*v).IsYoung() {
			found = true
		}
	}
	if o.attributes != nil {
		o.attributes.EachPointer(check)
	}
	if o.payload != nil {
		o.payload.EachPointer(check)
	}
	return found
}

// ---------------------------------------------------------------------------
// Mature mark-compact
// ---------------------------------------------------------------------------

// CollectMature runs a full collection of the mature space: mark every
// reachable mature object, compact survivors into fresh blocks, then
// rewrite every reference in the roots, the young space and the mature
// space itself. Cards are rebuilt from scratch afterwards.
func (h *Heap) CollectMature(roots RootIterator) {
	m := &matureCollection{heap: h, visitedYoung: make(map[*Object]struct{})}

	roots(m.markSlot)
	m.drain()

	// Compact: copy marked objects into a fresh space in block order and
	// leave forwarding pointers behind. Unmarked resource holders are
	// finalized.
	to := newMatureSpace()
	h.mature.each(func(o *Object) {
		if !o.Marked() {
			if o.NeedsFinalize() {
				if f, ok := o.Payload().(Finalizable); ok {
					h.runFinalizer(f)
				}
			}
			return
		}
		dest := to.allocate()
		block, slot := dest.matureLocation()
		*dest = *o
		dest.forward = nil
		dest.setMarked(false)
		dest.setMatureLocation(block, slot)
		o.setForward(dest)
	})

	// Fixup: every surviving slot anywhere may hold a stale mature
	// pointer.
	roots(fixupMatureSlot)
	h.young.each(func(o *Object) {
		fixupMatureObject(o)
	})
	to.each(func(o *Object) {
		fixupMatureObject(o)
	})

	// Rebuild the remembered set for the compacted space.
	to.each(func(o *Object) {
		if holdsYoungPointer(o) {
			block, slot := o.matureLocation()
			to.markCard(block, slot)
		}
	})

	h.mature = to
	h.matureAllocated = 0
	h.matureCollections++
}

type matureCollection struct {
	heap         *Heap
	worklist     []*Object
	visitedYoung map[*Object]struct{}
}

// markSlot marks the object behind one slot, if any, without rewriting
// it; rewriting happens in the fixup pass once targets are known.
func (m *matureCollection) markSlot(slot *Value) {
	v := *slot
	if !v.IsObject() {
		return
	}
	o := ObjectFromValue(v)
	switch {
	case o.IsMature():
		if !o.Marked() {
			o.setMarked(true)
			m.worklist = append(m.worklist, o)
		}
	case o.IsYoung():
		// Young objects are not moved here, but their slots can reach
		// mature objects and must be traced exactly once.
		if _, seen := m.visitedYoung[o]; !seen {
			m.visitedYoung[o] = struct{}{}
			m.worklist = append(m.worklist, o)
		}
	}
}

func (m *matureCollection) drain() {
	for len(m.worklist) > 0 {
		o := m.worklist[len(m.worklist)-1]
		m.worklist = m.worklist[:len(m.worklist)-1]
		if o.attributes != nil {
			o.attributes.EachPointer(m.markSlot)
		}
		if o.payload != nil {
			o.payload.EachPointer(m.markSlot)
		}
	}
}

func fixupMatureSlot(slot *Value) {
	v := *slot
	if !v.IsObject() {
		return
	}
	o := ObjectFromValue(v)
	if o.IsMature() && o.Forwarded() {
		*slot = o.ForwardTo().ToValue()
	}
}

func fixupMatureObject(o *Object) {
	if o.attributes != nil {
		o.attributes.EachPointer(fixupMatureSlot)
	}
	if o.payload != nil {
		o.payload.EachPointer(fixupMatureSlot)
	}
}
