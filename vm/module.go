package vm

// ---------------------------------------------------------------------------
// Module: top-level code and its global scope
// ---------------------------------------------------------------------------

// Module pairs a module's body code with its global variable scope.
// Globals are the only mutable module state; since modules are shared by
// every process, a global may only hold immediates or permanent objects.
//
// Module bodies execute once, on the process that loads them, before any
// spawned process can observe the module, so the globals slice itself is
// not synchronized.
type Module struct {
	Name string
	Path string
	Body *CompiledCode

	globals []Value
}

// NewModule creates a module with room for count globals, all Undefined.
func NewModule(name, path string, body *CompiledCode, count int) *Module {
	m := &Module{Name: name, Path: path, Body: body, globals: make([]Value, count)}
	for i := range m.globals {
		m.globals[i] = Undefined
	}
	return m
}

// GetGlobal returns the global at index.
func (m *Module) GetGlobal(index int) Value {
	return m.globals[index]
}

// SetGlobal stores value into the global at index.
// Panics if value is a heap object that is not permanent: globals are
// visible to every process, and only permanent objects may be shared.
func (m *Module) SetGlobal(index int, value Value) {
	if value.IsObject() && !ObjectFromValue(value).IsPermanent() {
		panic("Module.SetGlobal: globals may only hold permanent objects")
	}
	m.globals[index] = value
}

// GlobalCount returns the number of global slots.
func (m *Module) GlobalCount() int { return len(m.globals) }

// EachPointer calls fn with the address of every global. Globals only
// hold permanent values, so collectors never rewrite them; the deep
// copier uses this to walk module payloads.
func (m *Module) EachPointer(fn func(*Value)) {
	for i := range m.globals {
		fn(&m.globals[i])
	}
}
