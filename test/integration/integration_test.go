package integration_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/YorickPeterse/inko/image"
	"github.com/YorickPeterse/inko/vm"
)

// ---------------------------------------------------------------------------
// Integration test helpers
// ---------------------------------------------------------------------------

func op(code vm.Opcode, args ...uint16) image.Instruction {
	return image.Instruction{Opcode: uint8(code), Args: args, Line: 1}
}

// newMachine builds a small machine with its streams captured.
func newMachine(t *testing.T) (*vm.Machine, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	machine, err := vm.NewMachine(vm.Config{
		PrimaryWorkers:   2,
		BlockingWorkers:  1,
		FinalizerThreads: -1,
	}, nil)
	if err != nil {
		t.Fatalf("NewMachine: %s", err)
	}
	var stdout, stderr bytes.Buffer
	machine.SetOutput(&stdout, &stderr)
	return machine, &stdout, &stderr
}

// runImage round-trips f through the wire format, realizes it and runs
// the entry module, so every stage of the pipeline is exercised.
func runImage(t *testing.T, f *image.File) (int, string, string) {
	t.Helper()

	var buf bytes.Buffer
	if err := image.Write(&buf, f); err != nil {
		t.Fatalf("Write: %s", err)
	}
	decoded, err := image.Read(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Read: %s", err)
	}

	machine, stdout, stderr := newMachine(t)
	_, entry, err := image.Realize(decoded, machine)
	if err != nil {
		t.Fatalf("Realize: %s", err)
	}
	code := machine.Start(entry)
	return code, stdout.String(), stderr.String()
}

// ---------------------------------------------------------------------------
// Programs
// ---------------------------------------------------------------------------

func helloImage() *image.File {
	return &image.File{
		Strings: []string{"main", "main.inko", "hello"},
		Code: []image.Code{{
			Name:      0,
			File:      1,
			Line:      1,
			Registers: 2,
			Instructions: []image.Instruction{
				op(vm.OpLoadLiteral, 0, 0),
				op(vm.OpStdoutWrite, 1, 0),
			},
			Literals: []image.Literal{{Kind: image.LiteralString, Index: 2}},
		}},
		Modules: []image.Module{{Name: 0, Path: 1, Body: 0}},
	}
}

func TestRunHelloImage(t *testing.T) {
	code, out, errText := runImage(t, helloImage())

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if out != "hello" {
		t.Errorf("stdout = %q, want %q", out, "hello")
	}
	if errText != "" {
		t.Errorf("stderr = %q, want nothing", errText)
	}
}

func TestRunArithmeticImage(t *testing.T) {
	f := &image.File{
		Strings:  []string{"main", "main.inko"},
		Integers: []int64{40, 2},
		Code: []image.Code{{
			Name:      0,
			File:      1,
			Line:      1,
			Registers: 5,
			Instructions: []image.Instruction{
				op(vm.OpLoadLiteral, 0, 0),
				op(vm.OpLoadLiteral, 1, 1),
				op(vm.OpIntAdd, 2, 0, 1),
				op(vm.OpIntToString, 3, 2),
				op(vm.OpStdoutWrite, 4, 3),
			},
			Literals: []image.Literal{
				{Kind: image.LiteralInteger, Index: 0},
				{Kind: image.LiteralInteger, Index: 1},
			},
		}},
		Modules: []image.Module{{Name: 0, Path: 1, Body: 0}},
	}

	code, out, _ := runImage(t, f)
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if out != "42" {
		t.Errorf("stdout = %q, want %q", out, "42")
	}
}

func TestRunExitCodeImage(t *testing.T) {
	f := &image.File{
		Strings:  []string{"main", "main.inko"},
		Integers: []int64{4},
		Code: []image.Code{{
			Name:      0,
			File:      1,
			Line:      1,
			Registers: 1,
			Instructions: []image.Instruction{
				op(vm.OpLoadLiteral, 0, 0),
				op(vm.OpReturn, 0),
			},
			Literals: []image.Literal{{Kind: image.LiteralInteger, Index: 0}},
		}},
		Modules: []image.Module{{Name: 0, Path: 1, Body: 0}},
	}

	code, _, _ := runImage(t, f)
	if code != 4 {
		t.Errorf("exit code = %d, want 4", code)
	}
}

func TestRunSpawnImage(t *testing.T) {
	// The child answers the parent's process handle with a string.
	f := &image.File{
		Strings: []string{"main", "main.inko", "child", "pong"},
		Code: []image.Code{
			{
				Name:      0,
				File:      1,
				Line:      1,
				Registers: 6,
				Instructions: []image.Instruction{
					op(vm.OpSetBlock, 0, 0),
					op(vm.OpProcessSpawn, 1, 0),
					op(vm.OpProcessCurrent, 2),
					op(vm.OpProcessSendMessage, 3, 1, 2),
					op(vm.OpProcessReceiveMessage, 4),
					op(vm.OpStdoutWrite, 5, 4),
				},
				Children: []uint32{1},
			},
			{
				Name:      2,
				File:      1,
				Line:      5,
				Registers: 3,
				Instructions: []image.Instruction{
					op(vm.OpProcessReceiveMessage, 0),
					op(vm.OpLoadLiteral, 1, 0),
					op(vm.OpProcessSendMessage, 2, 0, 1),
				},
				Literals: []image.Literal{{Kind: image.LiteralString, Index: 3}},
			},
		},
		Modules: []image.Module{{Name: 0, Path: 1, Body: 0}},
	}

	code, out, _ := runImage(t, f)
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if out != "pong" {
		t.Errorf("stdout = %q, want %q", out, "pong")
	}
}

func TestLoadFromDiskWithCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.ibi")

	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	if err := image.Write(file, helloImage()); err != nil {
		t.Fatalf("Write: %s", err)
	}
	file.Close()

	cache, err := image.OpenCache(filepath.Join(dir, "images.db"))
	if err != nil {
		t.Fatalf("OpenCache: %s", err)
	}
	defer cache.Close()

	// Run twice: the first load decodes and caches, the second hits the
	// cache. Both must behave identically.
	for run := 0; run < 2; run++ {
		f, err := image.Load(path, cache)
		if err != nil {
			t.Fatalf("run %d: Load: %s", run, err)
		}

		machine, stdout, _ := newMachine(t)
		_, entry, err := image.Realize(f, machine)
		if err != nil {
			t.Fatalf("run %d: Realize: %s", run, err)
		}
		if code := machine.Start(entry); code != 0 {
			t.Errorf("run %d: exit code = %d, want 0", run, code)
		}
		if stdout.String() != "hello" {
			t.Errorf("run %d: stdout = %q", run, stdout.String())
		}
	}
}
