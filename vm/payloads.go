package vm

import (
	"math/big"
	"os"
)

// ---------------------------------------------------------------------------
// Payloads: concrete data carried by boxed objects
// ---------------------------------------------------------------------------

// Payload is the concrete data behind an object. The payload's dynamic
// type must agree with the object's class kind; the interpreter
// type-asserts the payload and treats a mismatch as a wrong operand.
type Payload interface {
	Kind() PayloadKind

	// EachPointer calls fn with the address of every Value the payload
	// holds, so the collector can trace and rewrite them in place.
	// Payloads without Value slots do nothing.
	EachPointer(fn func(*Value))
}

// Finalizable payloads hold an external resource released when the owning
// object becomes unreachable.
type Finalizable interface {
	Payload
	Finalize() error
}

// ---------------------------------------------------------------------------
// Immutable data payloads
// ---------------------------------------------------------------------------

// StringPayload holds an immutable UTF-8 string.
type StringPayload struct {
	Value string
}

func (*StringPayload) Kind() PayloadKind        { return KindString }
func (*StringPayload) EachPointer(func(*Value)) {}

// ByteArrayPayload holds a mutable byte buffer.
type ByteArrayPayload struct {
	Bytes []byte
}

func (*ByteArrayPayload) Kind() PayloadKind        { return KindByteArray }
func (*ByteArrayPayload) EachPointer(func(*Value)) {}

// BigIntPayload holds an integer outside the small integer range.
type BigIntPayload struct {
	Int *big.Int
}

func (*BigIntPayload) Kind() PayloadKind        { return KindBigInt }
func (*BigIntPayload) EachPointer(func(*Value)) {}

// ---------------------------------------------------------------------------
// Container payloads
// ---------------------------------------------------------------------------

// ArrayPayload holds an ordered slice of values.
type ArrayPayload struct {
	Values []Value
}

func (*ArrayPayload) Kind() PayloadKind { return KindArray }

func (p *ArrayPayload) EachPointer(fn func(*Value)) {
	for i := range p.Values {
		fn(&p.Values[i])
	}
}

// ---------------------------------------------------------------------------
// Code payloads
// ---------------------------------------------------------------------------

// BlockPayload is a closure: compiled code plus the binding it captured
// and the receiver it was created against.
type BlockPayload struct {
	Code     *CompiledCode
	Binding  *Binding
	Receiver Value
}

func (*BlockPayload) Kind() PayloadKind { return KindBlock }

func (p *BlockPayload) EachPointer(fn func(*Value)) {
	fn(&p.Receiver)
	p.Binding.EachPointer(fn)
}

// GeneratorPayload wraps a suspendable generator.
type GeneratorPayload struct {
	Generator *Generator
}

func (*GeneratorPayload) Kind() PayloadKind { return KindGenerator }

func (p *GeneratorPayload) EachPointer(fn func(*Value)) {
	p.Generator.EachPointer(fn)
}

// ModulePayload wraps a loaded module.
type ModulePayload struct {
	Module *Module
}

func (*ModulePayload) Kind() PayloadKind { return KindModule }

func (p *ModulePayload) EachPointer(fn func(*Value)) {
	p.Module.EachPointer(fn)
}

// ---------------------------------------------------------------------------
// Process payload
// ---------------------------------------------------------------------------

// ProcessPayload wraps a lightweight process. The payload lives in the
// heap of whichever process holds the reference; the Process itself is
// shared and owns its own heap.
type ProcessPayload struct {
	Process *Process
}

func (*ProcessPayload) Kind() PayloadKind        { return KindProcess }
func (*ProcessPayload) EachPointer(func(*Value)) {}

// ---------------------------------------------------------------------------
// Resource payloads
// ---------------------------------------------------------------------------

// FilePayload wraps an open file.
type FilePayload struct {
	File *os.File
	Path string
	Mode int
}

func (*FilePayload) Kind() PayloadKind        { return KindFile }
func (*FilePayload) EachPointer(func(*Value)) {}

func (p *FilePayload) Finalize() error {
	if p.File == nil {
		return nil
	}
	err := p.File.Close()
	p.File = nil
	return err
}

// SocketPayload wraps a non-blocking socket registered with the reactor
// by file descriptor.
type SocketPayload struct {
	FD         int
	Registered bool
}

func (*SocketPayload) Kind() PayloadKind        { return KindSocket }
func (*SocketPayload) EachPointer(func(*Value)) {}

func (p *SocketPayload) Finalize() error {
	if p.FD < 0 {
		return nil
	}
	err := closeFD(p.FD)
	p.FD = -1
	return err
}

// LibraryPayload names a set of registered external functions. Function
// resolution goes through the machine's external function registry.
type LibraryPayload struct {
	Name string
}

func (*LibraryPayload) Kind() PayloadKind        { return KindLibrary }
func (*LibraryPayload) EachPointer(func(*Value)) {}

func (p *LibraryPayload) Finalize() error { return nil }

// FunctionPayload is a resolved external function.
type FunctionPayload struct {
	Name string
	Fn   ExternalFunction
}

func (*FunctionPayload) Kind() PayloadKind        { return KindFunction }
func (*FunctionPayload) EachPointer(func(*Value)) {}

// PointerPayload is a raw address produced by external functions. The
// interpreter never dereferences it; external functions do.
type PointerPayload struct {
	Address uintptr
}

func (*PointerPayload) Kind() PayloadKind        { return KindPointer }
func (*PointerPayload) EachPointer(func(*Value)) {}

// HasherPayload wraps an incremental hasher.
type HasherPayload struct {
	Hasher *Hasher
}

func (*HasherPayload) Kind() PayloadKind        { return KindHasher }
func (*HasherPayload) EachPointer(func(*Value)) {}
