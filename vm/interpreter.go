package vm

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// ---------------------------------------------------------------------------
// Interpreter: the dispatch loop
// ---------------------------------------------------------------------------

// outcomeKind says why Run handed control back to the worker.
type outcomeKind uint8

const (
	// outcomeTerminated means the process finished: the bottom frame
	// returned, or it terminated itself.
	outcomeTerminated outcomeKind = iota
	// outcomeYield means the process is still runnable and must be
	// rescheduled: quantum exhausted, explicit yield or pool migration.
	outcomeYield
	// outcomeParked means the process armed a waiting state (message,
	// timer, I/O) or lost a wake-up race; some other thread owns the
	// reschedule.
	outcomeParked
	// outcomePanic means the process hit an unrecoverable error; the
	// message carries the formatted trace and the machine exits.
	outcomePanic
	// outcomeExit means the program requested a VM exit with a status.
	outcomeExit
	// outcomeBarrier is internal to nested runs of deferred blocks.
	outcomeBarrier
)

type runOutcome struct {
	kind     outcomeKind
	exitCode int
	message  string
}

// Interpreter executes bytecode against a process. One interpreter is
// shared by every worker; all mutable state lives in the process.
type Interpreter struct {
	machine *Machine
}

// NewInterpreter creates an interpreter bound to machine.
func NewInterpreter(machine *Machine) *Interpreter {
	return &Interpreter{machine: machine}
}

// Run executes process until it terminates, suspends or exhausts its
// quantum. barrier is nil for a normal run; nested runs of deferred
// blocks pass the frame to stop at.
func (i *Interpreter) Run(worker *Worker, process *Process, barrier *Frame) runOutcome {
	for {
		frame := process.Frame()
		if frame == nil {
			return i.finishProcess(process)
		}

		if process.Heap().ShouldCollectYoung() || process.Heap().ShouldCollectMature() {
			i.machine.log.Debugf("process %d: collecting garbage", process.ID())
			process.CollectYoungIfNeeded()
		}

		if frame.ip >= len(frame.Code.Instructions) {
			// Fall off the end of a body: implicit return of nil.
			if out, done := i.returnFrom(worker, process, Nil, barrier); done {
				return out
			}
			continue
		}

		inst := &frame.Code.Instructions[frame.ip]
		frame.ip++

		switch inst.Opcode {
		case OpLoadLiteral:
			frame.SetRegister(inst.Arg(0), frame.Code.Literal(inst.Arg(1)))
		case OpLoadNil:
			frame.SetRegister(inst.Arg(0), Nil)
		case OpLoadTrue:
			frame.SetRegister(inst.Arg(0), True)
		case OpLoadFalse:
			frame.SetRegister(inst.Arg(0), False)
		case OpLoadSelf:
			frame.SetRegister(inst.Arg(0), frame.Receiver)
		case OpMoveRegister:
			frame.SetRegister(inst.Arg(0), frame.GetRegister(inst.Arg(1)))

		case OpSetLocal:
			frame.Binding.Set(inst.Arg(0), frame.GetRegister(inst.Arg(1)))
		case OpGetLocal:
			frame.SetRegister(inst.Arg(0), frame.Binding.Get(inst.Arg(1)))
		case OpSetParentLocal:
			frame.Binding.SetDepth(inst.Arg(1), inst.Arg(0), frame.GetRegister(inst.Arg(2)))
		case OpGetParentLocal:
			frame.SetRegister(inst.Arg(0), frame.Binding.GetDepth(inst.Arg(1), inst.Arg(2)))
		case OpLocalExists:
			frame.SetRegister(inst.Arg(0), FromBool(frame.Binding.Exists(inst.Arg(1))))

		case OpGetGlobal:
			frame.SetRegister(inst.Arg(0), frame.Module.GetGlobal(inst.Arg(1)))
		case OpSetGlobal:
			value := frame.GetRegister(inst.Arg(1))
			if value.IsObject() && !ObjectFromValue(value).IsPermanent() {
				if out, done := i.processPanic(worker, process,
					"only permanent objects may be stored in globals"); done {
					return out
				}
				continue
			}
			frame.Module.SetGlobal(inst.Arg(0), value)

		case OpAllocate:
			class := i.machine.Classes.Object
			if len(inst.Args) > 1 {
				class = i.machine.Classes.ClassFor(frame.GetRegister(inst.Arg(1)))
			}
			frame.SetRegister(inst.Arg(0), process.Heap().AllocateValue(class, nil))
		case OpAllocatePermanent:
			class := i.machine.Classes.Object
			if len(inst.Args) > 1 {
				class = i.machine.Classes.ClassFor(frame.GetRegister(inst.Arg(1)))
			}
			frame.SetRegister(inst.Arg(0), i.machine.PermanentSpace.AllocateValue(class, nil))
		case OpAllocateArray:
			values := make([]Value, len(inst.Args)-1)
			for n := 1; n < len(inst.Args); n++ {
				values[n-1] = frame.GetRegister(inst.Arg(n))
			}
			frame.SetRegister(inst.Arg(0), process.Heap().AllocateValue(
				i.machine.Classes.Array, &ArrayPayload{Values: values}))
		case OpSetBlock:
			payload := &BlockPayload{
				Code:     frame.Code.Child(inst.Arg(1)),
				Binding:  frame.Binding,
				Receiver: frame.Receiver,
			}
			frame.SetRegister(inst.Arg(0), process.Heap().AllocateValue(
				i.machine.Classes.Block, payload))

		case OpSetAttribute:
			target := frame.GetRegister(inst.Arg(0))
			if !target.IsObject() {
				if out, done := i.processPanic(worker, process,
					"attributes can only be set on objects"); done {
					return out
				}
				continue
			}
			obj := ObjectFromValue(target)
			symbol := frame.Code.Literal(inst.Arg(1)).SymbolID()
			process.Heap().SetAttribute(obj, symbol, frame.GetRegister(inst.Arg(2)))
		case OpGetAttribute:
			target := frame.GetRegister(inst.Arg(1))
			symbol := frame.Code.Literal(inst.Arg(2)).SymbolID()
			result := Nil
			if target.IsObject() {
				if v, ok := ObjectFromValue(target).GetAttribute(symbol); ok {
					result = v
				}
			}
			frame.SetRegister(inst.Arg(0), result)
		case OpAttributeExists:
			target := frame.GetRegister(inst.Arg(1))
			symbol := frame.Code.Literal(inst.Arg(2)).SymbolID()
			exists := target.IsObject() && ObjectFromValue(target).AttributeExists(symbol)
			frame.SetRegister(inst.Arg(0), FromBool(exists))
		case OpGetClass:
			class := i.machine.Classes.ClassFor(frame.GetRegister(inst.Arg(1)))
			frame.SetRegister(inst.Arg(0), i.machine.PermanentSpace.InternString(
				i.machine.Classes.String, class.Name))
		case OpObjectEquals:
			a := frame.GetRegister(inst.Arg(1))
			b := frame.GetRegister(inst.Arg(2))
			frame.SetRegister(inst.Arg(0), FromBool(SameObject(a, b)))
		case OpKindOf:
			a := i.machine.Classes.ClassFor(frame.GetRegister(inst.Arg(1)))
			b := i.machine.Classes.ClassFor(frame.GetRegister(inst.Arg(2)))
			frame.SetRegister(inst.Arg(0), FromBool(a.IsKindOf(b)))

		case OpIntAdd, OpIntSub, OpIntMul, OpIntDiv, OpIntMod,
			OpIntBitAnd, OpIntBitOr, OpIntBitXor,
			OpIntShiftLeft, OpIntShiftRight,
			OpIntSmaller, OpIntGreater, OpIntSmallerOrEqual,
			OpIntGreaterOrEqual, OpIntEquals:
			if msg, ok := i.integerBinaryOp(process, frame, inst); !ok {
				if out, done := i.processPanic(worker, process, msg); done {
					return out
				}
				continue
			}
		case OpIntToFloat:
			n, ok := i.intOperand(frame.GetRegister(inst.Arg(1)))
			if !ok {
				if out, done := i.processPanic(worker, process, "IntToFloat: not an integer"); done {
					return out
				}
				continue
			}
			frame.SetRegister(inst.Arg(0), FromFloat64(n.AsFloat()))
		case OpIntToString:
			n, ok := i.intOperand(frame.GetRegister(inst.Arg(1)))
			if !ok {
				if out, done := i.processPanic(worker, process, "IntToString: not an integer"); done {
					return out
				}
				continue
			}
			frame.SetRegister(inst.Arg(0), i.allocString(process, n.String()))

		case OpFloatAdd, OpFloatSub, OpFloatMul, OpFloatDiv, OpFloatMod,
			OpFloatSmaller, OpFloatGreater, OpFloatEquals:
			if msg, ok := floatBinaryOp(frame, inst); !ok {
				if out, done := i.processPanic(worker, process, msg); done {
					return out
				}
				continue
			}
		case OpFloatToInt:
			v := frame.GetRegister(inst.Arg(1))
			if !v.IsFloat() {
				if out, done := i.processPanic(worker, process, "FloatToInt: not a float"); done {
					return out
				}
				continue
			}
			frame.SetRegister(inst.Arg(0), i.allocInt(process, int64(v.Float64())))
		case OpFloatToString:
			v := frame.GetRegister(inst.Arg(1))
			if !v.IsFloat() {
				if out, done := i.processPanic(worker, process, "FloatToString: not a float"); done {
					return out
				}
				continue
			}
			frame.SetRegister(inst.Arg(0), i.allocString(process, formatFloat(v.Float64())))

		case OpStringConcat, OpStringSize, OpStringEquals:
			if msg, ok := i.stringOp(process, frame, inst); !ok {
				if out, done := i.processPanic(worker, process, msg); done {
					return out
				}
				continue
			}

		case OpArrayGet, OpArraySet, OpArrayLength:
			if msg, ok := i.arrayOp(process, frame, inst); !ok {
				if out, done := i.processPanic(worker, process, msg); done {
					return out
				}
				continue
			}

		case OpGoto:
			target := inst.Arg(0)
			if target <= frame.ip-1 {
				// Loop back-edge: charge a reduction so tight loops
				// still yield.
				if !process.ConsumeReduction() {
					frame.ip = target
					process.SetStatus(StatusRunnable)
					return runOutcome{kind: outcomeYield}
				}
			}
			frame.ip = target
		case OpGotoIfTrue:
			if frame.GetRegister(inst.Arg(1)).IsTruthy() {
				frame.ip = inst.Arg(0)
			}
		case OpGotoIfFalse:
			if !frame.GetRegister(inst.Arg(1)).IsTruthy() {
				frame.ip = inst.Arg(0)
			}
		case OpReturn:
			value := frame.GetRegister(inst.Arg(0))
			if out, done := i.returnFrom(worker, process, value, barrier); done {
				return out
			}
		case OpThrow:
			if out, done := i.throw(worker, process, frame.GetRegister(inst.Arg(0)), barrier); done {
				return out
			}

		case OpRunBlock:
			block := frame.GetRegister(inst.Arg(1))
			args := i.collectArgs(frame, inst, 2)
			if out, done := i.invokeBlock(worker, process, block, nil, args, inst.Arg(0)); done {
				return out
			}
		case OpRunBlockWithReceiver:
			block := frame.GetRegister(inst.Arg(1))
			receiver := frame.GetRegister(inst.Arg(2))
			args := i.collectArgs(frame, inst, 3)
			if out, done := i.invokeBlock(worker, process, block, &receiver, args, inst.Arg(0)); done {
				return out
			}
		case OpSendMessage:
			if out, done := i.sendMessage(worker, process, frame, inst); done {
				return out
			}
		case OpTailCall:
			block := frame.GetRegister(inst.Arg(0))
			args := i.collectArgs(frame, inst, 1)
			if out, done := i.tailCall(worker, process, block, args); done {
				return out
			}
		case OpExternalFunctionCall:
			if out, done := i.externalCall(worker, process, frame, inst); done {
				return out
			}

		case OpDeferBlock:
			frame.Defer(frame.GetRegister(inst.Arg(0)))

		case OpGeneratorAllocate:
			if out, done := i.generatorAllocate(worker, process, frame, inst); done {
				return out
			}
		case OpGeneratorResume:
			if out, done := i.generatorResume(worker, process, frame, inst); done {
				return out
			}
		case OpGeneratorValue:
			gen, msg := i.generatorOperand(frame.GetRegister(inst.Arg(1)))
			if gen == nil {
				if out, done := i.processPanic(worker, process, msg); done {
					return out
				}
				continue
			}
			frame.SetRegister(inst.Arg(0), gen.Value())
		case OpGeneratorYield:
			if out, done := i.generatorYield(worker, process, frame, inst, barrier); done {
				return out
			}

		case OpProcessSpawn:
			if out, done := i.processSpawn(worker, process, frame, inst); done {
				return out
			}
		case OpProcessSendMessage:
			if out, done := i.processSend(worker, process, frame, inst, barrier); done {
				return out
			}
		case OpProcessReceiveMessage:
			if out, done := i.processReceive(worker, process, frame, inst, barrier); done {
				return out
			}
		case OpProcessSuspendCurrent:
			if out, done := i.processSuspend(worker, process, frame, inst, barrier); done {
				return out
			}
		case OpProcessTerminateCurrent:
			process.Terminate()
		case OpProcessCurrent:
			frame.SetRegister(inst.Arg(0), process.Heap().AllocateValue(
				i.machine.Classes.Process, &ProcessPayload{Process: process}))
		case OpProcessSetBlocking:
			flag := frame.GetRegister(inst.Arg(1)).IsTruthy()
			frame.SetRegister(inst.Arg(0), FromBool(flag))
			if process.SetBlocking(flag) && barrier == nil {
				// The process changed pools; stop here and let the
				// scheduler requeue it on the right one.
				process.SetStatus(StatusRunnable)
				return runOutcome{kind: outcomeYield}
			}
		case OpProcessSetPinned:
			flag := frame.GetRegister(inst.Arg(1)).IsTruthy()
			prev := process.SetPinned(flag)
			if flag && !prev {
				process.SetPinnedWorker(worker.ID())
				worker.EnterExclusiveMode()
			}
			if !flag && prev {
				worker.LeaveExclusiveMode()
			}
			frame.SetRegister(inst.Arg(0), FromBool(prev))
		case OpProcessIdentifier:
			target := process
			if len(inst.Args) > 1 {
				proc, msg := i.processOperand(frame.GetRegister(inst.Arg(1)))
				if proc == nil {
					if out, done := i.processPanic(worker, process, msg); done {
						return out
					}
					continue
				}
				target = proc
			}
			frame.SetRegister(inst.Arg(0), i.allocInt(process, int64(target.ID())))
		case OpProcessTerminated:
			proc, msg := i.processOperand(frame.GetRegister(inst.Arg(1)))
			if proc == nil {
				if out, done := i.processPanic(worker, process, msg); done {
					return out
				}
				continue
			}
			frame.SetRegister(inst.Arg(0), FromBool(proc.Terminated()))

		case OpPanic:
			message := i.describe(frame.GetRegister(inst.Arg(0)))
			if out, done := i.processPanic(worker, process, message); done {
				return out
			}
		case OpExit:
			code := 0
			if v := frame.GetRegister(inst.Arg(0)); v.IsSmallInt() {
				code = int(v.SmallInt())
			}
			process.Terminate()
			return runOutcome{kind: outcomeExit, exitCode: code}
		case OpPlatform:
			frame.SetRegister(inst.Arg(0), i.machine.PermanentSpace.InternString(
				i.machine.Classes.String, Platform()))
		case OpStdoutWrite:
			n, err := i.machine.writeStdout(i.bytesOperand(frame.GetRegister(inst.Arg(1))))
			if err != nil {
				if out, done := i.throwErrno(worker, process, err, barrier); done {
					return out
				}
				continue
			}
			frame.SetRegister(inst.Arg(0), i.allocInt(process, int64(n)))
		case OpStderrWrite:
			n, err := i.machine.writeStderr(i.bytesOperand(frame.GetRegister(inst.Arg(1))))
			if err != nil {
				if out, done := i.throwErrno(worker, process, err, barrier); done {
					return out
				}
				continue
			}
			frame.SetRegister(inst.Arg(0), i.allocInt(process, int64(n)))

		default:
			if out, done := i.processPanic(worker, process,
				fmt.Sprintf("invalid opcode %d", inst.Opcode)); done {
				return out
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Frame control
// ---------------------------------------------------------------------------

// finishProcess handles an emptied call stack.
func (i *Interpreter) finishProcess(process *Process) runOutcome {
	process.SetStatus(StatusTerminated)
	return runOutcome{kind: outcomeTerminated}
}

// returnFrom pops the current frame after running its deferred blocks
// latest-first. Returns (outcome, true) when the caller of Run must take
// over: the stack emptied, a barrier was reached, or a deferred block
// failed.
func (i *Interpreter) returnFrom(worker *Worker, process *Process, value Value, barrier *Frame) (runOutcome, bool) {
	frame := process.Frame()

	if out, ok := i.runDeferred(worker, process, frame); !ok {
		return out, true
	}

	if gen := frame.generator; gen != nil {
		gen.finish()
		i.deliverResume(gen, False)
	}

	popped, more := process.PopFrame()
	if !more {
		process.result = value
		process.SetStatus(StatusTerminated)
		return runOutcome{kind: outcomeTerminated}, true
	}
	if popped.returnRegister >= 0 {
		process.Frame().SetRegister(popped.returnRegister, value)
	}
	if process.Frame() == barrier {
		return runOutcome{kind: outcomeBarrier}, true
	}
	return runOutcome{}, false
}

// runDeferred executes a frame's deferred blocks, most recent first.
// Returns ok=false with a propagating outcome if one of them panicked.
func (i *Interpreter) runDeferred(worker *Worker, process *Process, frame *Frame) (runOutcome, bool) {
	for {
		block, ok := frame.PopDeferred()
		if !ok {
			return runOutcome{}, true
		}
		payload, msg := i.blockOperand(block)
		if payload == nil {
			return i.panicOutcome(process, msg), false
		}
		callee := i.frameForBlock(payload, nil, -1)
		if err := bindArguments(callee, payload.Code, nil, process.Heap(), i.machine.Classes.Array); err != nil {
			return i.panicOutcome(process, err.Error()), false
		}
		process.PushFrame(callee)
		out := i.Run(worker, process, frame)
		if out.kind != outcomeBarrier {
			if out.kind == outcomePanic || out.kind == outcomeExit {
				return out, false
			}
			// Deferred blocks run to completion on the spot; they have
			// no process identity to suspend with.
			return i.panicOutcome(process, "deferred blocks cannot suspend"), false
		}
	}
}

// throw unwinds the stack looking for a catch entry. Frames popped on
// the way run their deferred blocks; an uncaught throw is a panic and runs
// no deferred blocks.
func (i *Interpreter) throw(worker *Worker, process *Process, value Value, barrier *Frame) (runOutcome, bool) {
	// Panics skip deferred blocks, so find a catching frame before
	// unwinding anything.
	for f := process.Frame(); f.Code.CatchFor(uint32(f.ip-1)) == nil; f = f.parent {
		if f.parent == nil {
			return i.panicOutcome(process, fmt.Sprintf(
				"the thrown value %s reached the top of the stack", i.describe(value))), true
		}
		if f.parent == barrier {
			return i.panicOutcome(process, "deferred blocks cannot throw past their caller"), true
		}
	}

	for {
		frame := process.Frame()

		if entry := frame.Code.CatchFor(uint32(frame.ip - 1)); entry != nil {
			frame.SetRegister(int(entry.Register), value)
			frame.ip = int(entry.Jump)
			return runOutcome{}, false
		}

		if out, ok := i.runDeferred(worker, process, frame); !ok {
			return out, true
		}
		if gen := frame.generator; gen != nil {
			gen.finish()
		}

		_, more := process.PopFrame()
		if !more {
			return i.panicOutcome(process,
				fmt.Sprintf("the thrown value %s reached the top of the stack", i.describe(value))), true
		}
		if process.Frame() == barrier {
			// A deferred block threw past its own stack; nothing above
			// the barrier may unwind.
			return i.panicOutcome(process, "deferred blocks cannot throw past their caller"), true
		}
	}
}

// processPanic terminates the process with a formatted trace.
func (i *Interpreter) processPanic(worker *Worker, process *Process, message string) (runOutcome, bool) {
	return i.panicOutcome(process, message), true
}

func (i *Interpreter) panicOutcome(process *Process, message string) runOutcome {
	formatted := FormatPanic(process, message)
	process.Terminate()
	return runOutcome{kind: outcomePanic, message: formatted}
}

// throwErrno converts a syscall error into a thrown integer code, the
// shape the standard library unwraps I/O failures from.
func (i *Interpreter) throwErrno(worker *Worker, process *Process, err error, barrier *Frame) (runOutcome, bool) {
	if errno, ok := err.(unix.Errno); ok {
		return i.throw(worker, process, FromSmallInt(int64(errno)), barrier)
	}
	return i.processPanic(worker, process, err.Error())
}

// ---------------------------------------------------------------------------
// Invocation
// ---------------------------------------------------------------------------

func (i *Interpreter) collectArgs(frame *Frame, inst *Instruction, from int) []Value {
	if len(inst.Args) <= from {
		return nil
	}
	args := make([]Value, 0, len(inst.Args)-from)
	for n := from; n < len(inst.Args); n++ {
		args = append(args, frame.GetRegister(inst.Arg(n)))
	}
	return args
}

// frameForBlock builds an activation for a block, capturing its binding
// as the parent scope.
func (i *Interpreter) frameForBlock(payload *BlockPayload, receiver *Value, returnReg int) *Frame {
	recv := payload.Receiver
	if receiver != nil {
		recv = *receiver
	}
	binding := NewBinding(payload.Binding, int(payload.Code.Locals))
	frame := NewFrame(payload.Code, payload.Code.Module, binding, recv)
	frame.returnRegister = returnReg
	return frame
}

// bindArguments copies call arguments into the callee's locals,
// enforcing arity. Extra arguments go into the rest array when the code
// declares one.
func bindArguments(frame *Frame, code *CompiledCode, args []Value, heap *Heap, arrayClass *Class) error {
	declared := int(code.Arguments)
	fixed := declared
	if code.RestArgument {
		fixed--
	}

	if len(args) < int(code.Required) {
		return fmt.Errorf(
			"%q requires %d arguments, but %d were given",
			code.Name, code.Required, len(args),
		)
	}
	if len(args) > fixed && !code.RestArgument {
		return fmt.Errorf(
			"%q accepts at most %d arguments, but %d were given",
			code.Name, fixed, len(args),
		)
	}

	for idx := 0; idx < len(args) && idx < fixed; idx++ {
		frame.Binding.Set(idx, args[idx])
	}
	if code.RestArgument {
		var rest []Value
		if len(args) > fixed {
			rest = append(rest, args[fixed:]...)
		}
		frame.Binding.Set(fixed, heap.AllocateValue(arrayClass, &ArrayPayload{Values: rest}))
	}
	return nil
}

// invokeBlock pushes a frame running block. Returns (outcome, true) only
// on a panic-grade failure.
func (i *Interpreter) invokeBlock(worker *Worker, process *Process, block Value, receiver *Value, args []Value, returnReg int) (runOutcome, bool) {
	payload, msg := i.blockOperand(block)
	if payload == nil {
		return i.processPanic(worker, process, msg)
	}
	callee := i.frameForBlock(payload, receiver, returnReg)
	if err := bindArguments(callee, payload.Code, args, process.Heap(), i.machine.Classes.Array); err != nil {
		return i.processPanic(worker, process, err.Error())
	}
	process.PushFrame(callee)

	if !process.ConsumeReduction() {
		process.SetStatus(StatusRunnable)
		return runOutcome{kind: outcomeYield}, true
	}
	return runOutcome{}, false
}

// tailCall replaces the current frame with an activation of block,
// reusing the caller's return register. Deferred blocks of the replaced
// frame run first: the frame is logically returning.
func (i *Interpreter) tailCall(worker *Worker, process *Process, block Value, args []Value) (runOutcome, bool) {
	payload, msg := i.blockOperand(block)
	if payload == nil {
		return i.processPanic(worker, process, msg)
	}

	current := process.Frame()
	if out, ok := i.runDeferred(worker, process, current); !ok {
		return out, true
	}

	callee := i.frameForBlock(payload, nil, current.returnRegister)
	if err := bindArguments(callee, payload.Code, args, process.Heap(), i.machine.Classes.Array); err != nil {
		return i.processPanic(worker, process, err.Error())
	}
	process.PopFrame()
	process.PushFrame(callee)

	if !process.ConsumeReduction() {
		process.SetStatus(StatusRunnable)
		return runOutcome{kind: outcomeYield}, true
	}
	return runOutcome{}, false
}

// sendMessage dispatches through the receiver's class vtable, memoized
// by the call site's inline cache.
func (i *Interpreter) sendMessage(worker *Worker, process *Process, frame *Frame, inst *Instruction) (runOutcome, bool) {
	receiver := frame.GetRegister(inst.Arg(1))
	symbol := frame.Code.Literal(inst.Arg(2)).SymbolID()
	class := i.machine.Classes.ClassFor(receiver)

	cache := frame.Code.Cache(frame.ip - 1)
	code := cache.Lookup(class)
	if code == nil {
		code = class.LookupMethod(symbol)
		if code == nil {
			return i.processPanic(worker, process, fmt.Sprintf(
				"%s does not respond to %q",
				class.Name, i.machine.Symbols.Name(symbol),
			))
		}
		cache.Update(class, code)
	}

	args := i.collectArgs(frame, inst, 3)
	binding := NewBinding(nil, int(code.Locals))
	callee := NewFrame(code, code.Module, binding, receiver)
	callee.returnRegister = inst.Arg(0)
	if err := bindArguments(callee, code, args, process.Heap(), i.machine.Classes.Array); err != nil {
		return i.processPanic(worker, process, err.Error())
	}
	process.PushFrame(callee)

	if !process.ConsumeReduction() {
		process.SetStatus(StatusRunnable)
		return runOutcome{kind: outcomeYield}, true
	}
	return runOutcome{}, false
}

// externalCall invokes a registered external function.
func (i *Interpreter) externalCall(worker *Worker, process *Process, frame *Frame, inst *Instruction) (runOutcome, bool) {
	name := i.stringOperand(frame.Code.Literal(inst.Arg(1)))
	fn, ok := i.machine.External.Get(name)
	if !ok {
		return i.processPanic(worker, process,
			fmt.Sprintf("undefined external function %q", name))
	}

	args := i.collectArgs(frame, inst, 2)
	ctx := &ExternalContext{Machine: i.machine, Process: process, Worker: worker}
	result, err := fn(ctx, args)
	if err != nil {
		if wb, ok := err.(*WouldBlock); ok {
			return i.parkForIO(worker, process, frame, wb)
		}
		return i.throwErrno(worker, process, err, nil)
	}
	frame.SetRegister(inst.Arg(0), result)
	return runOutcome{}, false
}

// parkForIO rewinds the instruction pointer so the external call retries
// on wake-up, then registers the fd with the reactor.
func (i *Interpreter) parkForIO(worker *Worker, process *Process, frame *Frame, wb *WouldBlock) (runOutcome, bool) {
	frame.ip--
	process.NextTimerToken()
	process.SetStatus(StatusWaitingIO)
	if err := i.machine.Reactor.Register(wb.FD, wb.Interest, process); err != nil {
		process.SetStatus(StatusRunning)
		frame.ip++
		return i.throwErrno(worker, process, err, nil)
	}
	return runOutcome{kind: outcomeParked}, true
}

// ---------------------------------------------------------------------------
// Generators
// ---------------------------------------------------------------------------

func (i *Interpreter) generatorAllocate(worker *Worker, process *Process, frame *Frame, inst *Instruction) (runOutcome, bool) {
	code := frame.Code.Child(inst.Arg(1))
	args := i.collectArgs(frame, inst, 2)

	binding := NewBinding(frame.Binding, int(code.Locals))
	genFrame := NewFrame(code, code.Module, binding, frame.Receiver)
	if err := bindArguments(genFrame, code, args, process.Heap(), i.machine.Classes.Array); err != nil {
		return i.processPanic(worker, process, err.Error())
	}

	gen := NewGenerator(genFrame)
	frame.SetRegister(inst.Arg(0), process.Heap().AllocateValue(
		i.machine.Classes.Generator, &GeneratorPayload{Generator: gen}))
	return runOutcome{}, false
}

func (i *Interpreter) generatorResume(worker *Worker, process *Process, frame *Frame, inst *Instruction) (runOutcome, bool) {
	gen, msg := i.generatorOperand(frame.GetRegister(inst.Arg(1)))
	if gen == nil {
		return i.processPanic(worker, process, msg)
	}
	if gen.Finished() {
		frame.SetRegister(inst.Arg(0), False)
		return runOutcome{}, false
	}
	if !gen.Resumable() {
		return i.processPanic(worker, process, "the generator is already running")
	}

	gen.resumer = frame
	gen.resumeRegister = inst.Arg(0)
	genFrame := gen.take()
	process.PushFrame(genFrame)

	if !process.ConsumeReduction() {
		process.SetStatus(StatusRunnable)
		return runOutcome{kind: outcomeYield}, true
	}
	return runOutcome{}, false
}

func (i *Interpreter) generatorYield(worker *Worker, process *Process, frame *Frame, inst *Instruction, barrier *Frame) (runOutcome, bool) {
	gen := frame.generator
	if gen == nil {
		return i.processPanic(worker, process, "yield outside of a generator")
	}
	gen.yield(frame.GetRegister(inst.Arg(0)))
	i.deliverResume(gen, True)

	// Detach the frame without finishing the generator: the saved ip
	// resumes right after the yield.
	process.PopFrame()
	if process.Frame() == barrier {
		return runOutcome{kind: outcomeBarrier}, true
	}
	return runOutcome{}, false
}

// deliverResume writes the resume result into the resuming frame.
func (i *Interpreter) deliverResume(gen *Generator, produced Value) {
	if gen.resumer != nil {
		gen.resumer.SetRegister(gen.resumeRegister, produced)
	}
}

// ---------------------------------------------------------------------------
// Process instructions
// ---------------------------------------------------------------------------

func (i *Interpreter) processSpawn(worker *Worker, process *Process, frame *Frame, inst *Instruction) (runOutcome, bool) {
	block := frame.GetRegister(inst.Arg(1))
	if payload, _ := i.blockOperand(block); payload == nil {
		return i.processPanic(worker, process, "spawn requires a block")
	}

	child, err := i.machine.SpawnProcess(block)
	if err != nil {
		return i.processPanic(worker, process, err.Error())
	}
	frame.SetRegister(inst.Arg(0), process.Heap().AllocateValue(
		i.machine.Classes.Process, &ProcessPayload{Process: child}))
	return runOutcome{}, false
}

func (i *Interpreter) processSend(worker *Worker, process *Process, frame *Frame, inst *Instruction, barrier *Frame) (runOutcome, bool) {
	target, msg := i.processOperand(frame.GetRegister(inst.Arg(1)))
	if target == nil {
		return i.processPanic(worker, process, msg)
	}
	message := frame.GetRegister(inst.Arg(2))

	if err := target.Mailbox().Send(message); err != nil {
		return i.processPanic(worker, process, err.Error())
	}
	i.machine.WakeReceiver(target)
	frame.SetRegister(inst.Arg(0), message)
	return runOutcome{}, false
}

// processReceive pops the mailbox head, or parks the process. The
// instruction re-executes on wake-up.
func (i *Interpreter) processReceive(worker *Worker, process *Process, frame *Frame, inst *Instruction, barrier *Frame) (runOutcome, bool) {
	message, ok, err := process.Mailbox().Receive(process.Heap())
	if err != nil {
		// Deep-copy failure on receive panics the receiver; the sender
		// is long gone.
		return i.processPanic(worker, process, err.Error())
	}
	if ok {
		process.TookTimeout()
		frame.SetRegister(inst.Arg(0), message)
		return runOutcome{}, false
	}

	if process.TookTimeout() {
		return i.throw(worker, process, i.machine.TimeoutValue, barrier)
	}

	if barrier != nil {
		return i.processPanic(worker, process, "deferred blocks cannot receive")
	}

	var timeout time.Duration
	hasTimeout := false
	if len(inst.Args) > 1 {
		if v := frame.GetRegister(inst.Arg(1)); !v.IsNil() && !v.IsUndefined() {
			d, dmsg := durationOperand(v)
			if dmsg != "" {
				return i.processPanic(worker, process, dmsg)
			}
			timeout = d
			hasTimeout = true
		}
	}

	// Re-run the receive when woken.
	frame.ip--

	token := process.NextTimerToken()
	waitState := StatusWaitingMessage
	if hasTimeout {
		waitState = StatusWaitingTimer
	}
	process.SetStatus(waitState)

	// A message may have landed between the empty check and the status
	// store; reclaim the run if no sender claimed the wake-up yet.
	if process.Mailbox().Len() > 0 {
		if process.TransitionStatus(waitState, StatusRunning) {
			return runOutcome{}, false
		}
		// A sender already made the process runnable and queued it; it
		// will run again from the queue.
		return runOutcome{kind: outcomeParked}, true
	}

	if hasTimeout {
		i.machine.TimerWheel.Schedule(process, timeout, token, StatusWaitingTimer)
	}
	return runOutcome{kind: outcomeParked}, true
}

// processSuspend yields, optionally sleeping for a duration first.
func (i *Interpreter) processSuspend(worker *Worker, process *Process, frame *Frame, inst *Instruction, barrier *Frame) (runOutcome, bool) {
	if barrier != nil {
		return i.processPanic(worker, process, "deferred blocks cannot suspend")
	}

	var duration time.Duration
	if len(inst.Args) > 0 {
		if v := frame.GetRegister(inst.Arg(0)); !v.IsNil() && !v.IsUndefined() {
			d, msg := durationOperand(v)
			if msg != "" {
				return i.processPanic(worker, process, msg)
			}
			duration = d
		}
	}

	if duration <= 0 {
		process.SetStatus(StatusRunnable)
		return runOutcome{kind: outcomeYield}, true
	}

	token := process.NextTimerToken()
	process.SetStatus(StatusSleeping)
	i.machine.TimerWheel.Schedule(process, duration, token, StatusSleeping)
	return runOutcome{kind: outcomeParked}, true
}
