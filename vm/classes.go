package vm

// ---------------------------------------------------------------------------
// Builtin class registry
// ---------------------------------------------------------------------------

// BuiltinClasses holds the classes the machine creates at bootstrap.
// Object is the root; every other class inherits from it directly unless
// noted. Classes are shared by all processes and never collected.
type BuiltinClasses struct {
	Object    *Class
	Integer   *Class
	BigInt    *Class
	Float     *Class
	String    *Class
	Symbol    *Class
	Boolean   *Class
	NilClass  *Class
	ByteArray *Class
	Array     *Class
	Block     *Class
	Generator *Class
	Process   *Class
	Module    *Class
	File      *Class
	Socket    *Class
	Library   *Class
	Function  *Class
	Pointer   *Class
	Hasher    *Class
}

// NewBuiltinClasses creates the bootstrap class hierarchy.
func NewBuiltinClasses() *BuiltinClasses {
	object := NewClass("Object", nil, KindPlain)
	c := &BuiltinClasses{
		Object:    object,
		Integer:   NewClass("Integer", object, KindPlain),
		BigInt:    NewClass("BigInteger", object, KindBigInt),
		Float:     NewClass("Float", object, KindPlain),
		String:    NewClass("String", object, KindString),
		Symbol:    NewClass("Symbol", object, KindPlain),
		Boolean:   NewClass("Boolean", object, KindPlain),
		NilClass:  NewClass("Nil", object, KindPlain),
		ByteArray: NewClass("ByteArray", object, KindByteArray),
		Array:     NewClass("Array", object, KindArray),
		Block:     NewClass("Block", object, KindBlock),
		Generator: NewClass("Generator", object, KindGenerator),
		Process:   NewClass("Process", object, KindProcess),
		Module:    NewClass("Module", object, KindModule),
		File:      NewClass("File", object, KindFile),
		Socket:    NewClass("Socket", object, KindSocket),
		Library:   NewClass("Library", object, KindLibrary),
		Function:  NewClass("Function", object, KindFunction),
		Pointer:   NewClass("Pointer", object, KindPointer),
		Hasher:    NewClass("Hasher", object, KindHasher),
	}
	c.File.NeedsFinalize = true
	c.Socket.NeedsFinalize = true
	c.Library.NeedsFinalize = true
	return c
}

// ClassFor returns the class used to dispatch methods on value.
// Immediates map onto the bootstrap classes; boxed objects carry their
// own.
func (c *BuiltinClasses) ClassFor(value Value) *Class {
	switch {
	case value.IsObject():
		return ObjectFromValue(value).Class()
	case value.IsSmallInt():
		return c.Integer
	case value.IsFloat():
		return c.Float
	case value.IsSymbol():
		return c.Symbol
	case value.IsBool():
		return c.Boolean
	default:
		return c.NilClass
	}
}
