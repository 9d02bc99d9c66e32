// Package image reads and writes Inko bytecode images.
//
// An image is a flat document: shared literal tables, a code object
// table with child references by index, a module table and the entry
// module. The File type is the document as stored on disk; realizing a
// File against a machine produces the runtime modules.
package image

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Magic identifies an image file. Version bumps on any layout change;
// there is no cross-version compatibility.
var Magic = [4]byte{'i', 'n', 'k', 'o'}

// Version is the image format version this package reads and writes.
const Version = 1

// Literal kinds used in code object literal tables.
const (
	LiteralString = iota
	LiteralInteger
	LiteralFloat
	LiteralBigInteger
	LiteralSymbol
)

// Literal references an entry in one of the image's literal tables.
// Strings, big integers and symbols index the string table; integers
// and floats index their own tables.
type Literal struct {
	Kind  uint8
	Index uint32
}

// Instruction is one encoded VM instruction.
type Instruction struct {
	Opcode uint8
	Args   []uint16
	Line   uint16
}

// CatchEntry is one catch table row: [Start, End) jumps to Jump with the
// thrown value in Register.
type CatchEntry struct {
	Start    uint32
	End      uint32
	Jump     uint32
	Register uint16
}

// Code is one code object record. Children reference other rows of the
// image's code table by index.
type Code struct {
	Name uint32
	File uint32
	Line uint16

	Arguments    uint8
	Required     uint8
	RestArgument bool
	Generator    bool

	Locals    uint16
	Registers uint16

	Instructions []Instruction
	Literals     []Literal
	Children     []uint32
	CatchTable   []CatchEntry
}

// Module is one module record.
type Module struct {
	Name    uint32
	Path    uint32
	Globals uint16
	Body    uint32
}

// File is a complete decoded image.
type File struct {
	Strings  []string
	Integers []int64
	Floats   []float64
	Code     []Code
	Modules  []Module
	Entry    uint32
}

// ---------------------------------------------------------------------------
// Reading
// ---------------------------------------------------------------------------

type reader struct {
	r   *bufio.Reader
	err error
}

func (r *reader) read(v any) {
	if r.err != nil {
		return
	}
	r.err = binary.Read(r.r, binary.BigEndian, v)
}

func (r *reader) u8() uint8 {
	var v uint8
	r.read(&v)
	return v
}

func (r *reader) u16() uint16 {
	var v uint16
	r.read(&v)
	return v
}

func (r *reader) u32() uint32 {
	var v uint32
	r.read(&v)
	return v
}

func (r *reader) u64() uint64 {
	var v uint64
	r.read(&v)
	return v
}

func (r *reader) count(what string) (int, bool) {
	n := r.u32()
	if r.err != nil {
		return 0, false
	}
	// Arbitrarily large counts mean a corrupt image; reject before
	// allocating.
	if n > 1<<24 {
		r.err = fmt.Errorf("%s count %d is out of range", what, n)
		return 0, false
	}
	return int(n), true
}

func (r *reader) str() string {
	n, ok := r.count("string byte")
	if !ok {
		return ""
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		r.err = err
		return ""
	}
	return string(buf)
}

// Read decodes an image from src.
func Read(src io.Reader) (*File, error) {
	r := &reader{r: bufio.NewReader(src)}

	var magic [4]byte
	r.read(&magic)
	if r.err == nil && magic != Magic {
		return nil, fmt.Errorf("not an image file (magic %q)", magic[:])
	}
	if version := r.u8(); r.err == nil && version != Version {
		return nil, fmt.Errorf("unsupported image version %d", version)
	}

	f := &File{}

	if n, ok := r.count("string"); ok {
		f.Strings = make([]string, n)
		for i := range f.Strings {
			f.Strings[i] = r.str()
		}
	}
	if n, ok := r.count("integer"); ok {
		f.Integers = make([]int64, n)
		for i := range f.Integers {
			f.Integers[i] = int64(r.u64())
		}
	}
	if n, ok := r.count("float"); ok {
		f.Floats = make([]float64, n)
		for i := range f.Floats {
			f.Floats[i] = math.Float64frombits(r.u64())
		}
	}
	if n, ok := r.count("code object"); ok {
		f.Code = make([]Code, n)
		for i := range f.Code {
			f.Code[i] = r.code()
		}
	}
	if n, ok := r.count("module"); ok {
		f.Modules = make([]Module, n)
		for i := range f.Modules {
			f.Modules[i] = Module{
				Name:    r.u32(),
				Path:    r.u32(),
				Globals: r.u16(),
				Body:    r.u32(),
			}
		}
	}
	f.Entry = r.u32()

	if r.err != nil {
		return nil, fmt.Errorf("reading image: %w", r.err)
	}
	return f, f.validate()
}

func (r *reader) code() Code {
	c := Code{
		Name:         r.u32(),
		File:         r.u32(),
		Line:         r.u16(),
		Arguments:    r.u8(),
		Required:     r.u8(),
		RestArgument: r.u8() != 0,
		Generator:    r.u8() != 0,
		Locals:       r.u16(),
		Registers:    r.u16(),
	}

	if n, ok := r.count("instruction"); ok {
		c.Instructions = make([]Instruction, n)
		for i := range c.Instructions {
			inst := Instruction{Opcode: r.u8()}
			argc := r.u8()
			inst.Args = make([]uint16, argc)
			for a := range inst.Args {
				inst.Args[a] = r.u16()
			}
			inst.Line = r.u16()
			c.Instructions[i] = inst
		}
	}
	if n, ok := r.count("literal"); ok {
		c.Literals = make([]Literal, n)
		for i := range c.Literals {
			c.Literals[i] = Literal{Kind: r.u8(), Index: r.u32()}
		}
	}
	if n, ok := r.count("child"); ok {
		c.Children = make([]uint32, n)
		for i := range c.Children {
			c.Children[i] = r.u32()
		}
	}
	if n, ok := r.count("catch entry"); ok {
		c.CatchTable = make([]CatchEntry, n)
		for i := range c.CatchTable {
			c.CatchTable[i] = CatchEntry{
				Start:    r.u32(),
				End:      r.u32(),
				Jump:     r.u32(),
				Register: r.u16(),
			}
		}
	}
	return c
}

// validate checks every cross-table index so realization can trust them.
func (f *File) validate() error {
	strings := uint32(len(f.Strings))
	ints := uint32(len(f.Integers))
	floats := uint32(len(f.Floats))
	codes := uint32(len(f.Code))

	for ci := range f.Code {
		c := &f.Code[ci]
		if c.Name >= strings || c.File >= strings {
			return fmt.Errorf("code object %d: name or file index out of range", ci)
		}
		for _, lit := range c.Literals {
			switch lit.Kind {
			case LiteralString, LiteralBigInteger, LiteralSymbol:
				if lit.Index >= strings {
					return fmt.Errorf("code object %d: string literal %d out of range", ci, lit.Index)
				}
			case LiteralInteger:
				if lit.Index >= ints {
					return fmt.Errorf("code object %d: integer literal %d out of range", ci, lit.Index)
				}
			case LiteralFloat:
				if lit.Index >= floats {
					return fmt.Errorf("code object %d: float literal %d out of range", ci, lit.Index)
				}
			default:
				return fmt.Errorf("code object %d: unknown literal kind %d", ci, lit.Kind)
			}
		}
		for _, child := range c.Children {
			if child >= codes {
				return fmt.Errorf("code object %d: child index %d out of range", ci, child)
			}
		}
	}

	if len(f.Modules) == 0 {
		return fmt.Errorf("the image contains no modules")
	}
	for mi, mod := range f.Modules {
		if mod.Name >= strings || mod.Path >= strings {
			return fmt.Errorf("module %d: name or path index out of range", mi)
		}
		if mod.Body >= codes {
			return fmt.Errorf("module %d: body index %d out of range", mi, mod.Body)
		}
	}
	if f.Entry >= uint32(len(f.Modules)) {
		return fmt.Errorf("entry module index %d out of range", f.Entry)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Writing
// ---------------------------------------------------------------------------

type writer struct {
	w   *bufio.Writer
	err error
}

func (w *writer) write(v any) {
	if w.err != nil {
		return
	}
	w.err = binary.Write(w.w, binary.BigEndian, v)
}

func (w *writer) str(s string) {
	w.write(uint32(len(s)))
	if w.err == nil {
		_, w.err = w.w.WriteString(s)
	}
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// Write encodes f to dst. Writing then reading yields an equal File, and
// re-writing that File reproduces the bytes.
func Write(dst io.Writer, f *File) error {
	w := &writer{w: bufio.NewWriter(dst)}

	w.write(Magic)
	w.write(uint8(Version))

	w.write(uint32(len(f.Strings)))
	for _, s := range f.Strings {
		w.str(s)
	}
	w.write(uint32(len(f.Integers)))
	for _, n := range f.Integers {
		w.write(uint64(n))
	}
	w.write(uint32(len(f.Floats)))
	for _, n := range f.Floats {
		w.write(math.Float64bits(n))
	}

	w.write(uint32(len(f.Code)))
	for i := range f.Code {
		w.code(&f.Code[i])
	}

	w.write(uint32(len(f.Modules)))
	for _, m := range f.Modules {
		w.write(m.Name)
		w.write(m.Path)
		w.write(m.Globals)
		w.write(m.Body)
	}
	w.write(f.Entry)

	if w.err != nil {
		return fmt.Errorf("writing image: %w", w.err)
	}
	return w.w.Flush()
}

func (w *writer) code(c *Code) {
	w.write(c.Name)
	w.write(c.File)
	w.write(c.Line)
	w.write(c.Arguments)
	w.write(c.Required)
	w.write(boolByte(c.RestArgument))
	w.write(boolByte(c.Generator))
	w.write(c.Locals)
	w.write(c.Registers)

	w.write(uint32(len(c.Instructions)))
	for _, inst := range c.Instructions {
		w.write(inst.Opcode)
		w.write(uint8(len(inst.Args)))
		for _, arg := range inst.Args {
			w.write(arg)
		}
		w.write(inst.Line)
	}
	w.write(uint32(len(c.Literals)))
	for _, lit := range c.Literals {
		w.write(lit.Kind)
		w.write(lit.Index)
	}
	w.write(uint32(len(c.Children)))
	for _, child := range c.Children {
		w.write(child)
	}
	w.write(uint32(len(c.CatchTable)))
	for _, entry := range c.CatchTable {
		w.write(entry.Start)
		w.write(entry.End)
		w.write(entry.Jump)
		w.write(entry.Register)
	}
}
