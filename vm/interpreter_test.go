package vm

import (
	"bytes"
	"strings"
	"testing"
)

func inst(op Opcode, args ...uint16) Instruction {
	return Instruction{Opcode: op, Args: args, Line: 1}
}

func bodyCode(name string, registers uint16, literals []Value, insts []Instruction) *CompiledCode {
	code := NewCompiledCode(name, "main.inko", 1, insts)
	code.Registers = registers
	code.Literals = literals
	return code
}

func testModule(body *CompiledCode) *Module {
	mod := NewModule("main", "main.inko", body, 0)
	var wire func(*CompiledCode)
	wire = func(code *CompiledCode) {
		code.Module = mod
		for _, child := range code.Code {
			wire(child)
		}
	}
	wire(body)
	return mod
}

// runProgram boots a small machine, runs the module produced by build and
// returns the exit code with everything written to the standard streams.
func runProgram(t *testing.T, build func(*Machine) *Module) (int, string, string) {
	t.Helper()

	machine, err := NewMachine(Config{
		PrimaryWorkers:   2,
		BlockingWorkers:  1,
		FinalizerThreads: -1,
	}, nil)
	if err != nil {
		t.Fatalf("NewMachine: %s", err)
	}

	var stdout, stderr bytes.Buffer
	machine.SetOutput(&stdout, &stderr)

	code := machine.Start(build(machine))
	return code, stdout.String(), stderr.String()
}

func TestMachineRunsArithmetic(t *testing.T) {
	code, out, _ := runProgram(t, func(m *Machine) *Module {
		body := bodyCode("main", 5,
			[]Value{FromSmallInt(40), FromSmallInt(2)},
			[]Instruction{
				inst(OpLoadLiteral, 0, 0),
				inst(OpLoadLiteral, 1, 1),
				inst(OpIntAdd, 2, 0, 1),
				inst(OpIntToString, 3, 2),
				inst(OpStdoutWrite, 4, 3),
			})
		return testModule(body)
	})

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if out != "42" {
		t.Errorf("stdout = %q, want %q", out, "42")
	}
}

func TestMainReturnValueBecomesExitCode(t *testing.T) {
	code, _, _ := runProgram(t, func(m *Machine) *Module {
		body := bodyCode("main", 1,
			[]Value{FromSmallInt(3)},
			[]Instruction{
				inst(OpLoadLiteral, 0, 0),
				inst(OpReturn, 0),
			})
		return testModule(body)
	})

	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
}

func TestExitInstruction(t *testing.T) {
	code, _, _ := runProgram(t, func(m *Machine) *Module {
		body := bodyCode("main", 1,
			[]Value{FromSmallInt(7)},
			[]Instruction{
				inst(OpLoadLiteral, 0, 0),
				inst(OpExit, 0),
			})
		return testModule(body)
	})

	if code != 7 {
		t.Errorf("exit code = %d, want 7", code)
	}
}

func TestProcessTerminatedOnRunningProcess(t *testing.T) {
	code, out, _ := runProgram(t, func(m *Machine) *Module {
		live := m.PermanentSpace.InternString(m.Classes.String, "live")
		body := bodyCode("main", 4,
			[]Value{live},
			[]Instruction{
				inst(OpProcessCurrent, 0),
				inst(OpProcessTerminated, 1, 0),
				inst(OpGotoIfTrue, 5, 1),
				inst(OpLoadLiteral, 2, 0),
				inst(OpStdoutWrite, 3, 2),
			})
		return testModule(body)
	})

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if out != "live" {
		t.Errorf("stdout = %q, a running process reported itself terminated", out)
	}
}

func TestPanicWritesTrace(t *testing.T) {
	code, _, errText := runProgram(t, func(m *Machine) *Module {
		boom := m.PermanentSpace.InternString(m.Classes.String, "boom")
		body := bodyCode("main", 1,
			[]Value{boom},
			[]Instruction{
				inst(OpLoadLiteral, 0, 0),
				inst(OpPanic, 0),
			})
		return testModule(body)
	})

	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(errText, "boom") {
		t.Errorf("stderr %q does not mention the panic message", errText)
	}
}

func TestThrowCaughtByHandler(t *testing.T) {
	code, out, _ := runProgram(t, func(m *Machine) *Module {
		oops := m.PermanentSpace.InternString(m.Classes.String, "oops")
		body := bodyCode("main", 3,
			[]Value{oops},
			[]Instruction{
				inst(OpLoadLiteral, 0, 0),
				inst(OpThrow, 0),
				inst(OpGoto, 4),
				inst(OpStdoutWrite, 2, 1),
			})
		body.CatchTable = []CatchEntry{{Start: 1, End: 2, Jump: 3, Register: 1}}
		return testModule(body)
	})

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if out != "oops" {
		t.Errorf("stdout = %q, want the caught value", out)
	}
}

func TestUncaughtThrowPanics(t *testing.T) {
	code, _, errText := runProgram(t, func(m *Machine) *Module {
		body := bodyCode("main", 1,
			[]Value{FromSmallInt(13)},
			[]Instruction{
				inst(OpLoadLiteral, 0, 0),
				inst(OpThrow, 0),
			})
		return testModule(body)
	})

	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if errText == "" {
		t.Error("nothing written to stderr for an uncaught throw")
	}
}

func TestProcessSpawnEcho(t *testing.T) {
	code, out, _ := runProgram(t, func(m *Machine) *Module {
		pong := m.PermanentSpace.InternString(m.Classes.String, "pong")

		// The child waits for the parent's process handle and answers it.
		child := bodyCode("child", 3,
			[]Value{pong},
			[]Instruction{
				inst(OpProcessReceiveMessage, 0),
				inst(OpLoadLiteral, 1, 0),
				inst(OpProcessSendMessage, 2, 0, 1),
			})

		body := bodyCode("main", 6, nil,
			[]Instruction{
				inst(OpSetBlock, 0, 0),
				inst(OpProcessSpawn, 1, 0),
				inst(OpProcessCurrent, 2),
				inst(OpProcessSendMessage, 3, 1, 2),
				inst(OpProcessReceiveMessage, 4),
				inst(OpStdoutWrite, 5, 4),
			})
		body.Code = []*CompiledCode{child}
		return testModule(body)
	})

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if out != "pong" {
		t.Errorf("stdout = %q, want %q", out, "pong")
	}
}

func TestReceiveTimeoutThrows(t *testing.T) {
	code, out, _ := runProgram(t, func(m *Machine) *Module {
		marker := m.PermanentSpace.InternString(m.Classes.String, "timed out")
		body := bodyCode("main", 5,
			[]Value{FromSmallInt(1), marker},
			[]Instruction{
				inst(OpLoadLiteral, 0, 0),
				inst(OpProcessReceiveMessage, 1, 0),
				inst(OpGoto, 5),
				inst(OpLoadLiteral, 2, 1),
				inst(OpStdoutWrite, 4, 2),
			})
		body.CatchTable = []CatchEntry{{Start: 1, End: 2, Jump: 3, Register: 3}}
		return testModule(body)
	})

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if out != "timed out" {
		t.Errorf("stdout = %q, want the timeout handler's output", out)
	}
}

func TestGeneratorYields(t *testing.T) {
	code, out, _ := runProgram(t, func(m *Machine) *Module {
		a := m.PermanentSpace.InternString(m.Classes.String, "a")
		b := m.PermanentSpace.InternString(m.Classes.String, "b")

		gen := bodyCode("gen", 2,
			[]Value{a, b},
			[]Instruction{
				inst(OpLoadLiteral, 0, 0),
				inst(OpGeneratorYield, 0),
				inst(OpLoadLiteral, 1, 1),
				inst(OpGeneratorYield, 1),
			})
		gen.Generator = true

		body := bodyCode("main", 4, nil,
			[]Instruction{
				inst(OpGeneratorAllocate, 0, 0),
				inst(OpGeneratorResume, 1, 0),
				inst(OpGeneratorValue, 2, 0),
				inst(OpStdoutWrite, 3, 2),
				inst(OpGeneratorResume, 1, 0),
				inst(OpGeneratorValue, 2, 0),
				inst(OpStdoutWrite, 3, 2),
				inst(OpGeneratorResume, 1, 0),
			})
		body.Code = []*CompiledCode{gen}
		return testModule(body)
	})

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if out != "ab" {
		t.Errorf("stdout = %q, want %q", out, "ab")
	}
}

func TestDeferredBlocksRunOnReturn(t *testing.T) {
	code, out, _ := runProgram(t, func(m *Machine) *Module {
		d := m.PermanentSpace.InternString(m.Classes.String, "d")
		mk := m.PermanentSpace.InternString(m.Classes.String, "m")

		deferred := bodyCode("deferred", 2,
			[]Value{d},
			[]Instruction{
				inst(OpLoadLiteral, 0, 0),
				inst(OpStdoutWrite, 1, 0),
			})

		body := bodyCode("main", 3,
			[]Value{mk},
			[]Instruction{
				inst(OpSetBlock, 0, 0),
				inst(OpDeferBlock, 0),
				inst(OpLoadLiteral, 1, 1),
				inst(OpStdoutWrite, 2, 1),
			})
		body.Code = []*CompiledCode{deferred}
		return testModule(body)
	})

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if out != "md" {
		t.Errorf("stdout = %q, want %q", out, "md")
	}
}

func TestRunBlockWithArguments(t *testing.T) {
	code, out, _ := runProgram(t, func(m *Machine) *Module {
		// double(n) { return n + n }
		double := bodyCode("double", 3, nil,
			[]Instruction{
				inst(OpGetLocal, 0, 0),
				inst(OpIntAdd, 1, 0, 0),
				inst(OpReturn, 1),
			})
		double.Arguments = 1
		double.Required = 1
		double.Locals = 1

		body := bodyCode("main", 5,
			[]Value{FromSmallInt(21)},
			[]Instruction{
				inst(OpSetBlock, 0, 0),
				inst(OpLoadLiteral, 1, 0),
				inst(OpRunBlock, 2, 0, 1),
				inst(OpIntToString, 3, 2),
				inst(OpStdoutWrite, 4, 3),
			})
		body.Code = []*CompiledCode{double}
		return testModule(body)
	})

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if out != "42" {
		t.Errorf("stdout = %q, want %q", out, "42")
	}
}

func TestRunBlockArityMismatchPanics(t *testing.T) {
	code, _, errText := runProgram(t, func(m *Machine) *Module {
		needsOne := bodyCode("needs_one", 1, nil,
			[]Instruction{
				inst(OpLoadNil, 0),
			})
		needsOne.Arguments = 1
		needsOne.Required = 1
		needsOne.Locals = 1

		body := bodyCode("main", 2, nil,
			[]Instruction{
				inst(OpSetBlock, 0, 0),
				inst(OpRunBlock, 1, 0),
			})
		body.Code = []*CompiledCode{needsOne}
		return testModule(body)
	})

	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(errText, "requires 1 arguments") {
		t.Errorf("stderr %q does not mention the arity failure", errText)
	}
}

func TestGotoLoopCountsDown(t *testing.T) {
	code, out, _ := runProgram(t, func(m *Machine) *Module {
		// n = 5; while n > 0 { n = n - 1 }; print(n)
		body := bodyCode("main", 7,
			[]Value{FromSmallInt(5), FromSmallInt(0), FromSmallInt(1)},
			[]Instruction{
				inst(OpLoadLiteral, 0, 0),
				inst(OpLoadLiteral, 1, 1),
				inst(OpLoadLiteral, 2, 2),
				inst(OpIntGreater, 3, 0, 1),
				inst(OpGotoIfFalse, 7, 3),
				inst(OpIntSub, 0, 0, 2),
				inst(OpGoto, 3),
				inst(OpIntToString, 4, 0),
				inst(OpStdoutWrite, 5, 4),
			})
		return testModule(body)
	})

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if out != "0" {
		t.Errorf("stdout = %q, want %q", out, "0")
	}
}
