package vm

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Machine: shared state and lifecycle
// ---------------------------------------------------------------------------

// Config carries the tunables of a machine. Zero fields take defaults.
type Config struct {
	// PrimaryWorkers and BlockingWorkers size the two scheduler pools.
	PrimaryWorkers  int
	BlockingWorkers int

	// Reductions is the quantum a process gets per resumption.
	Reductions int

	// YoungThreshold and MatureThreshold are per-process collection
	// triggers, in objects allocated per generation.
	YoungThreshold  int
	MatureThreshold int

	// FinalizerThreads sizes the pool releasing dead file and socket
	// handles off the worker threads. Negative disables the pool and
	// releases them inline.
	FinalizerThreads int
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		PrimaryWorkers:   runtime.NumCPU(),
		BlockingWorkers:  runtime.NumCPU(),
		Reductions:       1000,
		YoungThreshold:   8192,
		MatureThreshold:  16384,
		FinalizerThreads: 1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PrimaryWorkers <= 0 {
		c.PrimaryWorkers = d.PrimaryWorkers
	}
	if c.BlockingWorkers <= 0 {
		c.BlockingWorkers = d.BlockingWorkers
	}
	if c.Reductions <= 0 {
		c.Reductions = d.Reductions
	}
	if c.YoungThreshold <= 0 {
		c.YoungThreshold = d.YoungThreshold
	}
	if c.MatureThreshold <= 0 {
		c.MatureThreshold = d.MatureThreshold
	}
	if c.FinalizerThreads == 0 {
		c.FinalizerThreads = d.FinalizerThreads
	} else if c.FinalizerThreads < 0 {
		c.FinalizerThreads = 0
	}
	return c
}

// Machine ties the shared pieces together: classes, the permanent space,
// the scheduler, the timer wheel, the reactor and the external function
// registry. One machine runs one program.
type Machine struct {
	Classes        *BuiltinClasses
	PermanentSpace *PermanentSpace
	Symbols        *SymbolTable
	External       *ExternalRegistry
	Scheduler      *Scheduler
	ProcessTable   *ProcessTable
	TimerWheel     *TimerWheel
	Reactor        *Reactor

	// TimeoutValue is the permanent string thrown when a receive with a
	// timeout expires.
	TimeoutValue Value

	// Arguments are the program arguments exposed through env.arguments.
	Arguments []string

	config      Config
	interpreter *Interpreter
	log         commonlog.Logger
	start       time.Time

	stdout   io.Writer
	stderr   io.Writer
	outMu    sync.Mutex
	errMu    sync.Mutex
	exitCode atomic.Int32
	stopping atomic.Bool

	finalizers chan Finalizable
	wg         sync.WaitGroup
}

// NewMachine creates a machine ready to boot an image.
func NewMachine(config Config, arguments []string) (*Machine, error) {
	m := &Machine{
		Classes:        NewBuiltinClasses(),
		PermanentSpace: NewPermanentSpace(),
		Symbols:        NewSymbolTable(),
		External:       NewExternalRegistry(),
		ProcessTable:   NewProcessTable(),
		Arguments:      arguments,
		config:         config.withDefaults(),
		log:            commonlog.GetLogger("inko.vm"),
		start:          time.Now(),
		stdout:         os.Stdout,
		stderr:         os.Stderr,
	}
	m.interpreter = NewInterpreter(m)
	m.Scheduler = NewScheduler(m.config.PrimaryWorkers, m.config.BlockingWorkers, m)
	m.TimerWheel = NewTimerWheel(m.Schedule)
	m.TimeoutValue = m.PermanentSpace.InternString(m.Classes.String, "timeout")

	reactor, err := NewReactor(m.Schedule)
	if err != nil {
		return nil, fmt.Errorf("starting the reactor: %w", err)
	}
	m.Reactor = reactor

	if m.config.FinalizerThreads > 0 {
		m.finalizers = make(chan Finalizable, 128)
	}
	return m, nil
}

// StartTime returns when the machine was created, the monotonic clock
// origin.
func (m *Machine) StartTime() time.Time { return m.start }

// Config returns the effective configuration.
func (m *Machine) Config() Config { return m.config }

// SetOutput redirects the program's standard streams, used by tests.
func (m *Machine) SetOutput(stdout, stderr io.Writer) {
	m.stdout = stdout
	m.stderr = stderr
}

// Start boots the machine with entry as the main module and blocks until
// the program finishes. Returns the exit code.
func (m *Machine) Start(entry *Module) int {
	m.log.Infof("starting: %d primary workers, %d blocking workers",
		m.config.PrimaryWorkers, m.config.BlockingWorkers)

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.TimerWheel.Run()
	}()
	go func() {
		defer m.wg.Done()
		m.Reactor.Run()
	}()
	for n := 0; n < m.config.FinalizerThreads; n++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for payload := range m.finalizers {
				if err := payload.Finalize(); err != nil {
					m.log.Debugf("finalizer: %s", err)
				}
			}
		}()
	}

	var workers sync.WaitGroup
	m.Scheduler.Start(&workers)

	main := m.spawnMain(entry)
	m.Schedule(main)

	workers.Wait()

	m.TimerWheel.Terminate()
	m.Reactor.Terminate()
	if m.finalizers != nil {
		close(m.finalizers)
	}
	m.wg.Wait()

	code := int(m.exitCode.Load())
	m.log.Infof("stopped: exit code %d, %d processes spawned",
		code, m.ProcessTable.Spawned())
	return code
}

// newHeap creates a process heap wired to the finalizer pool.
func (m *Machine) newHeap() *Heap {
	var finalize func(Finalizable)
	if m.finalizers != nil {
		finalize = func(p Finalizable) {
			select {
			case m.finalizers <- p:
			default:
				// Pool backed up; release inline rather than block a
				// worker mid-collection.
				_ = p.Finalize()
			}
		}
	}
	return NewHeap(m.config.YoungThreshold, m.config.MatureThreshold, finalize)
}

// spawnMain creates the main process running entry's body.
func (m *Machine) spawnMain(entry *Module) *Process {
	receiver := m.PermanentSpace.AllocateValue(
		m.Classes.Module, &ModulePayload{Module: entry})
	binding := NewBinding(nil, int(entry.Body.Locals))
	frame := NewFrame(entry.Body, entry, binding, receiver)

	process := NewProcess(m.ProcessTable.NextID(), m.newHeap(), frame)
	process.SetMain()
	m.ProcessTable.Register(process)
	return process
}

// SpawnProcess creates a process running block, deep copying the block
// into the child's heap so the two processes share no mutable state.
func (m *Machine) SpawnProcess(block Value) (*Process, error) {
	heap := m.newHeap()
	copied, err := DeepCopy(block, func(class *Class, payload Payload) *Object {
		return heap.Allocate(class, payload)
	})
	if err != nil {
		return nil, err
	}

	payload := ObjectFromValue(copied).Payload().(*BlockPayload)
	binding := NewBinding(payload.Binding, int(payload.Code.Locals))
	frame := NewFrame(payload.Code, payload.Code.Module, binding, payload.Receiver)

	process := NewProcess(m.ProcessTable.NextID(), heap, frame)
	m.ProcessTable.Register(process)
	m.Schedule(process)
	return process, nil
}

// Schedule makes process runnable on the right pool and worker.
func (m *Machine) Schedule(process *Process) {
	pool := m.Scheduler.Primary
	if process.Blocking() {
		pool = m.Scheduler.Blocking
	}
	if process.Pinned() {
		pool.ScheduleOnto(process.PinnedWorker(), process)
		return
	}
	pool.Schedule(process)
}

// WakeReceiver moves a process waiting in receive back to runnable after
// a send. Exactly one caller wins the transition; losing means the
// process was already woken, timed out or never waited.
func (m *Machine) WakeReceiver(process *Process) {
	if process.TransitionStatus(StatusWaitingMessage, StatusRunnable) {
		m.Schedule(process)
		return
	}
	if process.TransitionStatus(StatusWaitingTimer, StatusRunnable) {
		// Invalidate the armed timeout; the entry dies in the wheel.
		process.NextTimerToken()
		m.Schedule(process)
	}
}

// RunProcess executes one scheduler job. Implements ProcessRunner.
func (m *Machine) RunProcess(worker *Worker, process *Process) {
	if process.Terminated() || m.stopping.Load() {
		return
	}
	process.SetStatus(StatusRunning)
	process.SetReductions(m.config.Reductions)

	outcome := m.interpreter.Run(worker, process, nil)
	switch outcome.kind {
	case outcomeTerminated:
		m.finishProcess(process)
	case outcomeYield:
		m.Schedule(process)
	case outcomeParked:
		// Whoever wakes the process owns the reschedule.
	case outcomePanic:
		m.writePanic(outcome.message)
		m.initiateShutdown(1)
		m.finishProcess(process)
	case outcomeExit:
		m.initiateShutdown(outcome.exitCode)
		m.finishProcess(process)
	default:
		panic("Machine.RunProcess: unexpected outcome")
	}
}

// finishProcess tears down a terminated process: its table entry goes
// away and held resources are released. The main process finishing stops
// the machine.
func (m *Machine) finishProcess(process *Process) {
	m.ProcessTable.Unregister(process.ID())
	process.Heap().FinalizeAll()

	if process.IsMain() {
		code := 0
		if result := process.Result(); result.IsSmallInt() {
			code = int(result.SmallInt())
		}
		m.initiateShutdown(code)
	}
}

// initiateShutdown stops the scheduler once; the first caller's exit
// code wins.
func (m *Machine) initiateShutdown(code int) {
	if m.stopping.Swap(true) {
		return
	}
	m.exitCode.Store(int32(code))
	m.Scheduler.Terminate()
}

func (m *Machine) writePanic(message string) {
	m.errMu.Lock()
	fmt.Fprint(m.stderr, message)
	m.errMu.Unlock()
}

func (m *Machine) writeStdout(b []byte) (int, error) {
	m.outMu.Lock()
	defer m.outMu.Unlock()
	return m.stdout.Write(b)
}

func (m *Machine) writeStderr(b []byte) (int, error) {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.stderr.Write(b)
}
