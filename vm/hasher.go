package vm

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
	"math"
)

// ---------------------------------------------------------------------------
// Hasher: incremental value hashing
// ---------------------------------------------------------------------------

// Hasher incrementally hashes values. Each write is prefixed with a type
// tag so e.g. the integer 0 and the empty string hash differently.
// Integral floats are the exception: they hash like integers (see
// WriteFloat).
type Hasher struct {
	h hash.Hash64
}

const (
	hashTagInt byte = iota + 1
	hashTagFloat
	hashTagString
	hashTagBytes
	hashTagBool
	hashTagNil
	hashTagObject
)

// NewHasher creates a hasher in its initial state.
func NewHasher() *Hasher {
	return &Hasher{h: fnv.New64a()}
}

func (h *Hasher) writeTagged(tag byte, payload uint64) {
	var buf [9]byte
	buf[0] = tag
	binary.LittleEndian.PutUint64(buf[1:], payload)
	h.h.Write(buf[:])
}

// WriteInt hashes an integer.
func (h *Hasher) WriteInt(n int64) {
	h.writeTagged(hashTagInt, uint64(n))
}

// WriteFloat hashes a float. Integral floats hash like the equivalent
// integer so 1 and 1.0 land in the same bucket.
func (h *Hasher) WriteFloat(f float64) {
	if f == math.Trunc(f) && !math.IsInf(f, 0) {
		h.writeTagged(hashTagInt, uint64(int64(f)))
		return
	}
	h.writeTagged(hashTagFloat, math.Float64bits(f))
}

// WriteString hashes a string.
func (h *Hasher) WriteString(s string) {
	h.writeTagged(hashTagString, uint64(len(s)))
	h.h.Write([]byte(s))
}

// WriteBytes hashes a byte slice.
func (h *Hasher) WriteBytes(b []byte) {
	h.writeTagged(hashTagBytes, uint64(len(b)))
	h.h.Write(b)
}

// WriteBool hashes a boolean.
func (h *Hasher) WriteBool(b bool) {
	if b {
		h.writeTagged(hashTagBool, 1)
	} else {
		h.writeTagged(hashTagBool, 0)
	}
}

// WriteNil hashes the nil value.
func (h *Hasher) WriteNil() {
	h.writeTagged(hashTagNil, 0)
}

// WriteObjectIdentity hashes an object by identity.
func (h *Hasher) WriteObjectIdentity(o *Object) {
	h.writeTagged(hashTagObject, uint64(o.ToValue()))
}

// Finish returns the accumulated hash as an integer that fits the small
// integer range.
func (h *Hasher) Finish() int64 {
	return int64(h.h.Sum64() & uint64(MaxSmallInt))
}

// Reset returns the hasher to its initial state.
func (h *Hasher) Reset() {
	h.h.Reset()
}
