package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Bytecode: opcodes and instructions
// ---------------------------------------------------------------------------

// Opcode identifies one VM instruction. The numeric values are part of
// the image format and must not be reordered.
type Opcode uint8

const (
	// Registers and literals.
	OpLoadLiteral Opcode = iota
	OpLoadNil
	OpLoadTrue
	OpLoadFalse
	OpLoadSelf
	OpMoveRegister

	// Locals.
	OpSetLocal
	OpGetLocal
	OpSetParentLocal
	OpGetParentLocal
	OpLocalExists

	// Module globals.
	OpGetGlobal
	OpSetGlobal

	// Allocation.
	OpAllocate
	OpAllocatePermanent
	OpAllocateArray
	OpSetBlock

	// Attributes and identity.
	OpSetAttribute
	OpGetAttribute
	OpAttributeExists
	OpGetClass
	OpObjectEquals
	OpKindOf

	// Integer arithmetic and comparison.
	OpIntAdd
	OpIntSub
	OpIntMul
	OpIntDiv
	OpIntMod
	OpIntBitAnd
	OpIntBitOr
	OpIntBitXor
	OpIntShiftLeft
	OpIntShiftRight
	OpIntSmaller
	OpIntGreater
	OpIntSmallerOrEqual
	OpIntGreaterOrEqual
	OpIntEquals
	OpIntToFloat
	OpIntToString

	// Float arithmetic and comparison.
	OpFloatAdd
	OpFloatSub
	OpFloatMul
	OpFloatDiv
	OpFloatMod
	OpFloatSmaller
	OpFloatGreater
	OpFloatEquals
	OpFloatToInt
	OpFloatToString

	// Strings.
	OpStringConcat
	OpStringSize
	OpStringEquals

	// Arrays.
	OpArrayGet
	OpArraySet
	OpArrayLength

	// Control flow.
	OpGoto
	OpGotoIfTrue
	OpGotoIfFalse
	OpReturn
	OpThrow

	// Invocation.
	OpRunBlock
	OpRunBlockWithReceiver
	OpSendMessage
	OpTailCall
	OpExternalFunctionCall

	// Deferred blocks.
	OpDeferBlock

	// Generators.
	OpGeneratorAllocate
	OpGeneratorResume
	OpGeneratorValue
	OpGeneratorYield

	// Processes.
	OpProcessSpawn
	OpProcessSendMessage
	OpProcessReceiveMessage
	OpProcessSuspendCurrent
	OpProcessTerminateCurrent
	OpProcessCurrent
	OpProcessSetBlocking
	OpProcessSetPinned
	OpProcessIdentifier
	OpProcessTerminated

	// Machine.
	OpPanic
	OpExit
	OpPlatform
	OpStdoutWrite
	OpStderrWrite

	opcodeCount
)

var opcodeNames = [...]string{
	OpLoadLiteral:             "LoadLiteral",
	OpLoadNil:                 "LoadNil",
	OpLoadTrue:                "LoadTrue",
	OpLoadFalse:               "LoadFalse",
	OpLoadSelf:                "LoadSelf",
	OpMoveRegister:            "MoveRegister",
	OpSetLocal:                "SetLocal",
	OpGetLocal:                "GetLocal",
	OpSetParentLocal:          "SetParentLocal",
	OpGetParentLocal:          "GetParentLocal",
	OpLocalExists:             "LocalExists",
	OpGetGlobal:               "GetGlobal",
	OpSetGlobal:               "SetGlobal",
	OpAllocate:                "Allocate",
	OpAllocatePermanent:       "AllocatePermanent",
	OpAllocateArray:           "AllocateArray",
	OpSetBlock:                "SetBlock",
	OpSetAttribute:            "SetAttribute",
	OpGetAttribute:            "GetAttribute",
	OpAttributeExists:         "AttributeExists",
	OpGetClass:                "GetClass",
	OpObjectEquals:            "ObjectEquals",
	OpKindOf:                  "KindOf",
	OpIntAdd:                  "IntAdd",
	OpIntSub:                  "IntSub",
	OpIntMul:                  "IntMul",
	OpIntDiv:                  "IntDiv",
	OpIntMod:                  "IntMod",
	OpIntBitAnd:               "IntBitAnd",
	OpIntBitOr:                "IntBitOr",
	OpIntBitXor:               "IntBitXor",
	OpIntShiftLeft:            "IntShiftLeft",
	OpIntShiftRight:           "IntShiftRight",
	OpIntSmaller:              "IntSmaller",
	OpIntGreater:              "IntGreater",
	OpIntSmallerOrEqual:       "IntSmallerOrEqual",
	OpIntGreaterOrEqual:       "IntGreaterOrEqual",
	OpIntEquals:               "IntEquals",
	OpIntToFloat:              "IntToFloat",
	OpIntToString:             "IntToString",
	OpFloatAdd:                "FloatAdd",
	OpFloatSub:                "FloatSub",
	OpFloatMul:                "FloatMul",
	OpFloatDiv:                "FloatDiv",
	OpFloatMod:                "FloatMod",
	OpFloatSmaller:            "FloatSmaller",
	OpFloatGreater:            "FloatGreater",
	OpFloatEquals:             "FloatEquals",
	OpFloatToInt:              "FloatToInt",
	OpFloatToString:           "FloatToString",
	OpStringConcat:            "StringConcat",
	OpStringSize:              "StringSize",
	OpStringEquals:            "StringEquals",
	OpArrayGet:                "ArrayGet",
	OpArraySet:                "ArraySet",
	OpArrayLength:             "ArrayLength",
	OpGoto:                    "Goto",
	OpGotoIfTrue:              "GotoIfTrue",
	OpGotoIfFalse:             "GotoIfFalse",
	OpReturn:                  "Return",
	OpThrow:                   "Throw",
	OpRunBlock:                "RunBlock",
	OpRunBlockWithReceiver:    "RunBlockWithReceiver",
	OpSendMessage:             "SendMessage",
	OpTailCall:                "TailCall",
	OpExternalFunctionCall:    "ExternalFunctionCall",
	OpDeferBlock:              "DeferBlock",
	OpGeneratorAllocate:       "GeneratorAllocate",
	OpGeneratorResume:         "GeneratorResume",
	OpGeneratorValue:          "GeneratorValue",
	OpGeneratorYield:          "GeneratorYield",
	OpProcessSpawn:            "ProcessSpawn",
	OpProcessSendMessage:      "ProcessSendMessage",
	OpProcessReceiveMessage:   "ProcessReceiveMessage",
	OpProcessSuspendCurrent:   "ProcessSuspendCurrent",
	OpProcessTerminateCurrent: "ProcessTerminateCurrent",
	OpProcessCurrent:          "ProcessCurrent",
	OpProcessSetBlocking:      "ProcessSetBlocking",
	OpProcessSetPinned:        "ProcessSetPinned",
	OpProcessIdentifier:       "ProcessIdentifier",
	OpProcessTerminated:       "ProcessTerminated",
	OpPanic:                   "Panic",
	OpExit:                    "Exit",
	OpPlatform:                "Platform",
	OpStdoutWrite:             "StdoutWrite",
	OpStderrWrite:             "StderrWrite",
}

// String returns the mnemonic for the opcode.
func (o Opcode) String() string {
	if int(o) < len(opcodeNames) {
		return opcodeNames[o]
	}
	return fmt.Sprintf("Opcode(%d)", uint8(o))
}

// Valid returns true for opcodes the interpreter implements.
func (o Opcode) Valid() bool {
	return o < opcodeCount
}

// Instruction is one decoded bytecode instruction. Operand meaning is
// opcode specific; most operands name registers, the rest index literals,
// child code objects or instruction targets.
type Instruction struct {
	Opcode Opcode
	Args   []uint16
	Line   uint16
}

// Arg returns operand i.
// Panics if the instruction carries fewer operands; images that trip
// this are corrupt.
func (i *Instruction) Arg(index int) int {
	if index >= len(i.Args) {
		panic(fmt.Sprintf("Instruction.Arg: %s has no operand %d", i.Opcode, index))
	}
	return int(i.Args[index])
}

func (i *Instruction) String() string {
	return fmt.Sprintf("%s %v (line %d)", i.Opcode, i.Args, i.Line)
}
