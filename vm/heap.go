package vm

// ---------------------------------------------------------------------------
// Heap: per-process generational allocator
// ---------------------------------------------------------------------------

const (
	// chunkObjects is the number of object slots per young chunk.
	chunkObjects = 512

	// matureBlockObjects is the number of object slots per mature block.
	matureBlockObjects = 1024

	// cardObjects is the number of mature slots covered by one remembered
	// set card.
	cardObjects = 64

	// promotionAge is the number of young collections an object survives
	// before being promoted to the mature generation.
	promotionAge = 4
)

// ---------------------------------------------------------------------------
// chunkSpace: bump allocation over fixed-size chunks
// ---------------------------------------------------------------------------

type chunk struct {
	objects []Object
	used    int
}

func newChunk() *chunk {
	return &chunk{objects: make([]Object, chunkObjects)}
}

// chunkSpace bump-allocates object slots out of a growing list of chunks.
// The young generation uses one per semispace; mailboxes use one as their
// message space.
//
// Objects always live inside a chunk's slice, so the Go runtime keeps the
// backing memory alive for as long as any chunk is referenced; dropping a
// whole space releases every object in it at once.
type chunkSpace struct {
	chunks []*chunk
}

func newChunkSpace() *chunkSpace {
	return &chunkSpace{}
}

// allocate returns a zeroed object slot.
func (s *chunkSpace) allocate() *Object {
	if n := len(s.chunks); n > 0 {
		c := s.chunks[n-1]
		if c.used < len(c.objects) {
			obj := &c.objects[c.used]
			c.used++
			return obj
		}
	}
	c := newChunk()
	s.chunks = append(s.chunks, c)
	c.used = 1
	return &c.objects[0]
}

// each calls fn for every allocated slot in allocation order.
func (s *chunkSpace) each(fn func(*Object)) {
	for _, c := range s.chunks {
		for i := 0; i < c.used; i++ {
			fn(&c.objects[i])
		}
	}
}

// objectCount returns the number of allocated slots.
func (s *chunkSpace) objectCount() int {
	n := 0
	for _, c := range s.chunks {
		n += c.used
	}
	return n
}

// ---------------------------------------------------------------------------
// matureSpace: slotted blocks with card-marked remembered set
// ---------------------------------------------------------------------------

type matureBlock struct {
	objects []Object
	used    []bool
	cards   []bool
	inUse   int
}

func newMatureBlock() *matureBlock {
	return &matureBlock{
		objects: make([]Object, matureBlockObjects),
		used:    make([]bool, matureBlockObjects),
		cards:   make([]bool, matureBlockObjects/cardObjects),
	}
}

// matureSpace allocates object slots out of blocks. Each block tracks
// per-slot occupancy and a card bitmap used as the remembered set: a dirty
// card means some object in its slot range may hold a young pointer, so
// young collections scan those objects as roots.
type matureSpace struct {
	blocks []*matureBlock
	count  int
	cursor int
}

func newMatureSpace() *matureSpace {
	return &matureSpace{}
}

// allocate returns a zeroed slot and stamps its block and slot coordinates
// into the object header so the write barrier can find the covering card.
func (s *matureSpace) allocate() *Object {
	for ; s.cursor < len(s.blocks); s.cursor++ {
		b := s.blocks[s.cursor]
		if b.inUse == len(b.objects) {
			continue
		}
		for i := range b.used {
			if !b.used[i] {
				return s.claim(s.cursor, i)
			}
		}
	}
	s.blocks = append(s.blocks, newMatureBlock())
	return s.claim(len(s.blocks)-1, 0)
}

func (s *matureSpace) claim(block, slot int) *Object {
	b := s.blocks[block]
	b.used[slot] = true
	b.inUse++
	s.count++
	obj := &b.objects[slot]
	*obj = Object{}
	obj.setGeneration(GenMature)
	obj.setMatureLocation(block, slot)
	return obj
}

// markCard flags the card covering the given slot.
func (s *matureSpace) markCard(block, slot int) {
	s.blocks[block].cards[slot/cardObjects] = true
}

// each calls fn for every live object.
func (s *matureSpace) each(fn func(*Object)) {
	for _, b := range s.blocks {
		for i := range b.used {
			if b.used[i] {
				fn(&b.objects[i])
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Heap
// ---------------------------------------------------------------------------

// Heap is a process-local generational heap. Young objects are bump
// allocated and evacuated between semispaces; survivors old enough are
// promoted into the slotted mature space, which is collected by
// mark-compact.
//
// A heap is only ever touched by the thread currently running its owner
// process, so nothing here is synchronized.
type Heap struct {
	young  *chunkSpace
	mature *matureSpace

	// Allocations since the last collection of each generation, compared
	// against the configured thresholds to decide when to collect.
	youngAllocated  int
	matureAllocated int

	youngThreshold  int
	matureThreshold int

	youngCollections  int
	matureCollections int

	// finalize receives payloads of unreachable objects that hold
	// external resources. Nil means release inline during collection.
	finalize func(Finalizable)
}

// NewHeap creates an empty heap with the given collection thresholds,
// expressed in objects allocated per generation.
func NewHeap(youngThreshold, matureThreshold int, finalize func(Finalizable)) *Heap {
	return &Heap{
		young:           newChunkSpace(),
		mature:          newMatureSpace(),
		youngThreshold:  youngThreshold,
		matureThreshold: matureThreshold,
		finalize:        finalize,
	}
}

// Allocate creates a young object of the given class.
func (h *Heap) Allocate(class *Class, payload Payload) *Object {
	obj := h.young.allocate()
	*obj = Object{class: class, payload: payload}
	if class.NeedsFinalize {
		obj.setNeedsFinalize()
	}
	h.youngAllocated++
	return obj
}

// AllocateValue creates a young object and returns it boxed.
func (h *Heap) AllocateValue(class *Class, payload Payload) Value {
	return h.Allocate(class, payload).ToValue()
}

// ShouldCollectYoung returns true once young allocations pass the
// threshold.
func (h *Heap) ShouldCollectYoung() bool {
	return h.youngAllocated >= h.youngThreshold
}

// ShouldCollectMature returns true once promotions pass the mature
// threshold.
func (h *Heap) ShouldCollectMature() bool {
	return h.matureAllocated >= h.matureThreshold
}

// YoungCollections returns the number of young collections run.
func (h *Heap) YoungCollections() int { return h.youngCollections }

// MatureCollections returns the number of full collections run.
func (h *Heap) MatureCollections() int { return h.matureCollections }

// LiveMature returns the number of live mature objects.
func (h *Heap) LiveMature() int { return h.mature.count }

// WriteBarrier records a store of value into target. Storing a young
// pointer into a mature object dirties the covering card so the next
// young collection treats the mature object as a root.
func (h *Heap) WriteBarrier(target *Object, value Value) {
	if !target.IsMature() || !value.IsObject() {
		return
	}
	if ObjectFromValue(value).IsYoung() {
		block, slot := target.matureLocation()
		h.mature.markCard(block, slot)
	}
}

// SetAttribute stores an attribute on target with the write barrier
// applied.
func (h *Heap) SetAttribute(target *Object, symbol uint32, value Value) {
	h.WriteBarrier(target, value)
	target.SetAttributeRaw(symbol, value)
}

// ArrayPush appends to an array payload with the write barrier applied.
func (h *Heap) ArrayPush(target *Object, payload *ArrayPayload, value Value) {
	h.WriteBarrier(target, value)
	payload.Values = append(payload.Values, value)
}

// ArraySet stores into an array payload with the write barrier applied.
func (h *Heap) ArraySet(target *Object, payload *ArrayPayload, index int, value Value) {
	h.WriteBarrier(target, value)
	payload.Values[index] = value
}

// FinalizeAll releases every resource-holding object still in the heap.
// Called when the owning process terminates; the heap is dead afterwards.
func (h *Heap) FinalizeAll() {
	release := func(o *Object) {
		if !o.NeedsFinalize() {
			return
		}
		if p, ok := o.Payload().(Finalizable); ok {
			h.runFinalizer(p)
		}
	}
	h.young.each(release)
	h.mature.each(release)
}

// runFinalizer releases an unreachable resource-holding payload.
func (h *Heap) runFinalizer(p Finalizable) {
	if h.finalize != nil {
		h.finalize(p)
		return
	}
	// Errors from closing dead resources are dropped.
	_ = p.Finalize()
}
