package vm

// ---------------------------------------------------------------------------
// Generator: suspendable frames
// ---------------------------------------------------------------------------

// generatorState tracks where a generator is in its lifecycle.
type generatorState uint8

const (
	generatorCreated generatorState = iota
	generatorRunning
	generatorSuspended
	generatorFinished
)

// Generator is a restartable activation: the frame of the generator's
// body, parked between resumes with its instruction pointer and register
// file intact.
//
// A generator belongs to the process that allocated it and is resumed on
// that process's stack; a value thrown out of the body propagates to
// whichever frame performed the resume.
type Generator struct {
	frame *Frame
	state generatorState

	// value is the most recently yielded value, Undefined once the
	// body returns.
	value Value

	// resumer is the frame that performed the latest resume and the
	// register it expects the produced flag in.
	resumer        *Frame
	resumeRegister int
}

// NewGenerator creates a generator around an unstarted frame.
func NewGenerator(frame *Frame) *Generator {
	g := &Generator{frame: frame, state: generatorCreated, value: Undefined}
	frame.generator = g
	return g
}

// Resumable returns true if the generator can be resumed.
func (g *Generator) Resumable() bool {
	return g.state == generatorCreated || g.state == generatorSuspended
}

// Finished returns true once the body has returned.
func (g *Generator) Finished() bool {
	return g.state == generatorFinished
}

// Value returns the most recently yielded value.
func (g *Generator) Value() Value { return g.value }

// take detaches the frame for a resume.
// Panics unless the generator is resumable; the interpreter checks first
// and turns a dead resume into a process panic instead.
func (g *Generator) take() *Frame {
	if !g.Resumable() {
		panic("Generator.take: generator is not resumable")
	}
	g.state = generatorRunning
	return g.frame
}

// yield parks the generator with a produced value.
func (g *Generator) yield(value Value) {
	g.value = value
	g.state = generatorSuspended
}

// finish marks the body as returned. Subsequent resumes fail.
func (g *Generator) finish() {
	g.value = Undefined
	g.state = generatorFinished
	g.frame = nil
}

// EachPointer calls fn for the saved value and, while suspended, every
// slot of the parked frame.
func (g *Generator) EachPointer(fn func(*Value)) {
	fn(&g.value)
	if g.frame != nil && g.state != generatorRunning {
		g.frame.EachPointer(fn)
	}
}
