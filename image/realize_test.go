package image

import (
	"strings"
	"testing"

	"github.com/YorickPeterse/inko/vm"
)

func testMachine(t *testing.T) *vm.Machine {
	t.Helper()
	m, err := vm.NewMachine(vm.Config{
		PrimaryWorkers:   1,
		BlockingWorkers:  1,
		FinalizerThreads: -1,
	}, nil)
	if err != nil {
		t.Fatalf("NewMachine: %s", err)
	}
	return m
}

func TestRealizeBuildsModules(t *testing.T) {
	m := testMachine(t)
	f := sampleFile()

	modules, entry, err := Realize(f, m)
	if err != nil {
		t.Fatalf("Realize: %s", err)
	}
	if len(modules) != 1 || entry != modules[0] {
		t.Fatal("wrong module table")
	}
	if entry.Name != "main" || entry.Path != "main.inko" {
		t.Errorf("entry = %s (%s)", entry.Name, entry.Path)
	}
	if entry.GlobalCount() != 2 {
		t.Errorf("GlobalCount() = %d, want 2", entry.GlobalCount())
	}

	body := entry.Body
	if body.Name != "main" || body.Registers != 4 || body.Locals != 1 {
		t.Error("body code lost its shape")
	}
	if len(body.Instructions) != 2 || body.Instructions[0].Opcode != vm.OpLoadLiteral {
		t.Error("instructions were not realized")
	}
	if len(body.Code) != 1 || !body.Code[0].Generator {
		t.Error("child code was not wired")
	}
	if body.Module != entry || body.Code[0].Module != entry {
		t.Error("module back references were not wired")
	}
	if len(body.CatchTable) != 1 || body.CatchTable[0].Jump != 2 {
		t.Error("catch table was not realized")
	}
}

func TestRealizeLiterals(t *testing.T) {
	m := testMachine(t)
	f := sampleFile()

	_, entry, err := Realize(f, m)
	if err != nil {
		t.Fatalf("Realize: %s", err)
	}
	literals := entry.Body.Literals

	str := literals[0]
	if !str.IsObject() {
		t.Fatal("string literal is not an object")
	}
	if p := vm.ObjectFromValue(str).Payload().(*vm.StringPayload); p.Value != "hello" {
		t.Errorf("string literal = %q", p.Value)
	}
	if !vm.SameObject(str, m.PermanentSpace.InternString(m.Classes.String, "hello")) {
		t.Error("string literal was not interned")
	}

	if got := literals[1]; !got.IsSmallInt() || got.SmallInt() != 42 {
		t.Error("small integer literal lost its value")
	}

	big := literals[2]
	if !big.IsObject() {
		t.Fatal("out-of-range integer did not box")
	}
	if p := vm.ObjectFromValue(big).Payload().(*vm.BigIntPayload); !p.Int.IsInt64() {
		t.Error("boxed integer lost its value")
	}

	if got := literals[3]; !got.IsFloat() || got.Float64() != 1.5 {
		t.Error("float literal lost its value")
	}

	huge := literals[4]
	if p := vm.ObjectFromValue(huge).Payload().(*vm.BigIntPayload); p.Int.String() != f.Strings[3] {
		t.Errorf("big integer literal = %s", p.Int)
	}

	sym := literals[5]
	if !sym.IsSymbol() {
		t.Fatal("symbol literal is not a symbol")
	}
	if name := m.Symbols.Name(sym.SymbolID()); name != "hello" {
		t.Errorf("symbol name = %q", name)
	}
}

func TestRealizeRejectsInvalidOpcode(t *testing.T) {
	m := testMachine(t)
	f := sampleFile()
	f.Code[0].Instructions[0].Opcode = 255

	_, _, err := Realize(f, m)
	if err == nil {
		t.Fatal("an invalid opcode was accepted")
	}
	if !strings.Contains(err.Error(), "invalid opcode 255") {
		t.Errorf("error = %q", err)
	}
}

func TestRealizeRejectsMalformedBigInteger(t *testing.T) {
	m := testMachine(t)
	f := sampleFile()
	f.Strings[3] = "not a number"

	_, _, err := Realize(f, m)
	if err == nil {
		t.Fatal("a malformed big integer literal was accepted")
	}
	if !strings.Contains(err.Error(), "malformed big integer") {
		t.Errorf("error = %q", err)
	}
}
