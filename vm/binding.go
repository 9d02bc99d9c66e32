package vm

// ---------------------------------------------------------------------------
// Binding: local variable scopes
// ---------------------------------------------------------------------------

// Binding holds the local variables of one executing block, chained to
// the binding of the enclosing lexical scope. Closures capture their
// defining binding, so parent chains can outlive the frames that created
// them.
//
// Locals start out Undefined, which is how LocalExists distinguishes a
// never-written slot from one holding nil.
type Binding struct {
	parent *Binding
	locals []Value
}

// NewBinding creates a binding with room for count locals.
func NewBinding(parent *Binding, count int) *Binding {
	b := &Binding{parent: parent, locals: make([]Value, count)}
	for i := range b.locals {
		b.locals[i] = Undefined
	}
	return b
}

// Parent returns the enclosing binding, or nil.
func (b *Binding) Parent() *Binding { return b.parent }

// Get returns the local at index.
func (b *Binding) Get(index int) Value {
	return b.locals[index]
}

// Set stores value into the local at index.
func (b *Binding) Set(index int, value Value) {
	b.locals[index] = value
}

// Exists returns true if the local at index was ever written.
func (b *Binding) Exists(index int) bool {
	return index < len(b.locals) && !b.locals[index].IsUndefined()
}

// at returns the binding depth scopes up the parent chain.
// Panics if the chain is shorter than depth; the compiler guarantees
// depths are in range for code it emits.
func (b *Binding) at(depth int) *Binding {
	scope := b
	for i := 0; i < depth; i++ {
		scope = scope.parent
		if scope == nil {
			panic("Binding.at: depth exceeds scope chain")
		}
	}
	return scope
}

// GetDepth returns the local at index, depth scopes up.
func (b *Binding) GetDepth(depth, index int) Value {
	return b.at(depth).Get(index)
}

// SetDepth stores value into the local at index, depth scopes up.
func (b *Binding) SetDepth(depth, index int, value Value) {
	b.at(depth).Set(index, value)
}

// EachPointer calls fn with the address of every local in this binding
// and its parents.
func (b *Binding) EachPointer(fn func(*Value)) {
	for scope := b; scope != nil; scope = scope.parent {
		for i := range scope.locals {
			fn(&scope.locals[i])
		}
	}
}
