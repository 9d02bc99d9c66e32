package image

import (
	"fmt"
	"math/big"

	"github.com/YorickPeterse/inko/vm"
)

// Realize turns a decoded File into runtime modules attached to a
// machine. Literals are interned into the machine's permanent space and
// symbol table; code objects are built once and shared by every process.
//
// Returns all modules in table order and the entry module.
func Realize(f *File, m *vm.Machine) ([]*vm.Module, *vm.Module, error) {
	codes := make([]*vm.CompiledCode, len(f.Code))

	// Pass one creates every code object so child references can be
	// wired regardless of table order.
	for i := range f.Code {
		c := &f.Code[i]
		insts := make([]vm.Instruction, len(c.Instructions))
		for ip, inst := range c.Instructions {
			op := vm.Opcode(inst.Opcode)
			if !op.Valid() {
				return nil, nil, fmt.Errorf(
					"code object %d: invalid opcode %d at instruction %d",
					i, inst.Opcode, ip)
			}
			insts[ip] = vm.Instruction{Opcode: op, Args: inst.Args, Line: inst.Line}
		}
		codes[i] = vm.NewCompiledCode(
			f.Strings[c.Name], f.Strings[c.File], c.Line, insts)
	}

	// Pass two fills in everything that may reference other code
	// objects or the literal tables.
	for i := range f.Code {
		c := &f.Code[i]
		code := codes[i]
		code.Arguments = c.Arguments
		code.Required = c.Required
		code.RestArgument = c.RestArgument
		code.Generator = c.Generator
		code.Locals = c.Locals
		code.Registers = c.Registers

		code.Literals = make([]vm.Value, len(c.Literals))
		for li, lit := range c.Literals {
			value, err := realizeLiteral(f, m, lit)
			if err != nil {
				return nil, nil, fmt.Errorf("code object %d: %w", i, err)
			}
			code.Literals[li] = value
		}

		code.Code = make([]*vm.CompiledCode, len(c.Children))
		for ci, child := range c.Children {
			code.Code[ci] = codes[child]
		}

		code.CatchTable = make([]vm.CatchEntry, len(c.CatchTable))
		for ei, e := range c.CatchTable {
			code.CatchTable[ei] = vm.CatchEntry{
				Start:    e.Start,
				End:      e.End,
				Jump:     e.Jump,
				Register: e.Register,
			}
		}
	}

	modules := make([]*vm.Module, len(f.Modules))
	for i, rec := range f.Modules {
		modules[i] = vm.NewModule(
			f.Strings[rec.Name], f.Strings[rec.Path],
			codes[rec.Body], int(rec.Globals))
	}

	// Every code object belongs to the module whose body tree contains
	// it; the interpreter needs the back reference for block frames.
	for _, mod := range modules {
		wireModule(mod.Body, mod)
	}

	return modules, modules[f.Entry], nil
}

func wireModule(code *vm.CompiledCode, mod *vm.Module) {
	if code.Module != nil {
		return
	}
	code.Module = mod
	for _, child := range code.Code {
		wireModule(child, mod)
	}
}

func realizeLiteral(f *File, m *vm.Machine, lit Literal) (vm.Value, error) {
	switch lit.Kind {
	case LiteralString:
		return m.PermanentSpace.InternString(
			m.Classes.String, f.Strings[lit.Index]), nil
	case LiteralSymbol:
		return vm.FromSymbolID(m.Symbols.Intern(f.Strings[lit.Index])), nil
	case LiteralInteger:
		n := f.Integers[lit.Index]
		if v, ok := vm.TryFromSmallInt(n); ok {
			return v, nil
		}
		return m.PermanentSpace.AllocateValue(
			m.Classes.BigInt, &vm.BigIntPayload{Int: big.NewInt(n)}), nil
	case LiteralBigInteger:
		text := f.Strings[lit.Index]
		n, ok := new(big.Int).SetString(text, 10)
		if !ok {
			return vm.Undefined, fmt.Errorf("malformed big integer literal %q", text)
		}
		return m.PermanentSpace.AllocateValue(
			m.Classes.BigInt, &vm.BigIntPayload{Int: n}), nil
	case LiteralFloat:
		return vm.FromFloat64(f.Floats[lit.Index]), nil
	default:
		panic("image.realizeLiteral: unknown literal kind")
	}
}
