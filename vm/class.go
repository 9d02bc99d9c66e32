package vm

// ---------------------------------------------------------------------------
// Class: behavior descriptor
// ---------------------------------------------------------------------------

// PayloadKind describes the shape of the payload objects of a class carry.
type PayloadKind uint8

const (
	KindPlain PayloadKind = iota
	KindString
	KindByteArray
	KindBigInt
	KindArray
	KindBlock
	KindGenerator
	KindProcess
	KindSocket
	KindFile
	KindLibrary
	KindPointer
	KindFunction
	KindHasher
	KindModule
)

// Class describes the behavior of a family of objects: its vtable of
// method code objects, its parent for lookup inheritance, and the payload
// kind its instances carry.
//
// Classes are permanent: they are created at bootstrap or image load and
// shared by every process.
type Class struct {
	Name   string
	Parent *Class
	VTable *VTable
	Kind   PayloadKind

	// Instances hold an external resource that must be released when the
	// object becomes unreachable.
	NeedsFinalize bool
}

// NewClass creates a class with an empty vtable chained to the parent's.
func NewClass(name string, parent *Class, kind PayloadKind) *Class {
	c := &Class{Name: name, Parent: parent, Kind: kind}
	var parentVT *VTable
	if parent != nil {
		parentVT = parent.VTable
	}
	c.VTable = NewVTable(c, parentVT)
	return c
}

// DefineMethod installs a code object under the symbol, invalidating any
// inline caches that resolved through this vtable.
func (c *Class) DefineMethod(symbol uint32, code *CompiledCode) {
	c.VTable.Define(symbol, code)
}

// LookupMethod resolves a method through the vtable chain.
func (c *Class) LookupMethod(symbol uint32) *CompiledCode {
	return c.VTable.Lookup(symbol)
}

// IsKindOf returns true if c is target or a descendant of target.
func (c *Class) IsKindOf(target *Class) bool {
	for k := c; k != nil; k = k.Parent {
		if k == target {
			return true
		}
	}
	return false
}
