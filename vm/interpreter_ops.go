package vm

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Operand helpers and arithmetic
// ---------------------------------------------------------------------------

// intNumber is an integer operand in either representation: a small
// integer or a boxed big integer.
type intNumber struct {
	small int64
	big   *big.Int
}

func (n intNumber) isSmall() bool { return n.big == nil }

// AsBig returns the operand as a big integer, promoting small values.
func (n intNumber) AsBig() *big.Int {
	if n.big != nil {
		return n.big
	}
	return big.NewInt(n.small)
}

// AsFloat returns the operand as a float64, losing precision for values
// outside the exact float range.
func (n intNumber) AsFloat() float64 {
	if n.big != nil {
		f, _ := new(big.Float).SetInt(n.big).Float64()
		return f
	}
	return float64(n.small)
}

func (n intNumber) String() string {
	if n.big != nil {
		return n.big.String()
	}
	return strconv.FormatInt(n.small, 10)
}

// intOperand extracts an integer operand from a value.
func (i *Interpreter) intOperand(v Value) (intNumber, bool) {
	if v.IsSmallInt() {
		return intNumber{small: v.SmallInt()}, true
	}
	if v.IsObject() {
		if p, ok := ObjectFromValue(v).Payload().(*BigIntPayload); ok {
			return intNumber{big: p.Int}, true
		}
	}
	return intNumber{}, false
}

// allocInt boxes n, preferring the immediate representation.
func (i *Interpreter) allocInt(process *Process, n int64) Value {
	if v, ok := TryFromSmallInt(n); ok {
		return v
	}
	return process.Heap().AllocateValue(
		i.machine.Classes.BigInt, &BigIntPayload{Int: big.NewInt(n)})
}

// allocBig boxes n, demoting results that fit the small integer range.
func (i *Interpreter) allocBig(process *Process, n *big.Int) Value {
	if n.IsInt64() {
		if v, ok := TryFromSmallInt(n.Int64()); ok {
			return v
		}
	}
	return process.Heap().AllocateValue(
		i.machine.Classes.BigInt, &BigIntPayload{Int: n})
}

// allocString boxes content as a string object.
func (i *Interpreter) allocString(process *Process, content string) Value {
	return process.Heap().AllocateValue(
		i.machine.Classes.String, &StringPayload{Value: content})
}

// integerBinaryOp performs one of the integer instructions. Small
// integer pairs take a fast path; overflow and big operands fall back to
// arbitrary precision. Returns ok=false with a panic message on type or
// arithmetic errors.
func (i *Interpreter) integerBinaryOp(process *Process, frame *Frame, inst *Instruction) (string, bool) {
	left, lok := i.intOperand(frame.GetRegister(inst.Arg(1)))
	right, rok := i.intOperand(frame.GetRegister(inst.Arg(2)))
	if !lok || !rok {
		return fmt.Sprintf("%s requires integer operands", inst.Opcode), false
	}

	switch inst.Opcode {
	case OpIntSmaller, OpIntGreater, OpIntSmallerOrEqual,
		OpIntGreaterOrEqual, OpIntEquals:
		var cmp int
		if left.isSmall() && right.isSmall() {
			switch {
			case left.small < right.small:
				cmp = -1
			case left.small > right.small:
				cmp = 1
			}
		} else {
			cmp = left.AsBig().Cmp(right.AsBig())
		}
		var result bool
		switch inst.Opcode {
		case OpIntSmaller:
			result = cmp < 0
		case OpIntGreater:
			result = cmp > 0
		case OpIntSmallerOrEqual:
			result = cmp <= 0
		case OpIntGreaterOrEqual:
			result = cmp >= 0
		case OpIntEquals:
			result = cmp == 0
		}
		frame.SetRegister(inst.Arg(0), FromBool(result))
		return "", true
	}

	if left.isSmall() && right.isSmall() {
		if v, ok := smallIntOp(inst.Opcode, left.small, right.small); ok {
			frame.SetRegister(inst.Arg(0), i.allocInt(process, v))
			return "", true
		}
		// Overflow, or a shift too wide for the fast path.
	}

	result, msg := bigIntOp(inst.Opcode, left.AsBig(), right.AsBig())
	if msg != "" {
		return msg, false
	}
	frame.SetRegister(inst.Arg(0), i.allocBig(process, result))
	return "", true
}

// smallIntOp computes an arithmetic instruction on two small integers.
// Returns ok=false when the result overflows int64 or the operation
// needs the big integer path; division errors also take that path so
// the message lives in one place.
func smallIntOp(op Opcode, a, b int64) (int64, bool) {
	switch op {
	case OpIntAdd:
		r := a + b
		if ((a ^ r) & (b ^ r)) < 0 {
			return 0, false
		}
		return r, true
	case OpIntSub:
		r := a - b
		if ((a ^ b) & (a ^ r)) < 0 {
			return 0, false
		}
		return r, true
	case OpIntMul:
		if a == 0 || b == 0 {
			return 0, true
		}
		r := a * b
		if r/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
			return 0, false
		}
		return r, true
	case OpIntDiv:
		if b == 0 || (a == math.MinInt64 && b == -1) {
			return 0, false
		}
		return a / b, true
	case OpIntMod:
		if b == 0 {
			return 0, false
		}
		return a % b, true
	case OpIntBitAnd:
		return a & b, true
	case OpIntBitOr:
		return a | b, true
	case OpIntBitXor:
		return a ^ b, true
	case OpIntShiftLeft:
		if b < 0 || b > 47 {
			return 0, false
		}
		r := a << uint(b)
		if r>>uint(b) != a {
			return 0, false
		}
		return r, true
	case OpIntShiftRight:
		if b < 0 {
			return 0, false
		}
		if b > 63 {
			b = 63
		}
		return a >> uint(b), true
	default:
		panic("smallIntOp: not an integer instruction")
	}
}

// bigIntOp computes an arithmetic instruction with arbitrary precision.
func bigIntOp(op Opcode, a, b *big.Int) (*big.Int, string) {
	result := new(big.Int)
	switch op {
	case OpIntAdd:
		result.Add(a, b)
	case OpIntSub:
		result.Sub(a, b)
	case OpIntMul:
		result.Mul(a, b)
	case OpIntDiv:
		if b.Sign() == 0 {
			return nil, "integer division by zero"
		}
		result.Quo(a, b)
	case OpIntMod:
		if b.Sign() == 0 {
			return nil, "integer modulo by zero"
		}
		result.Rem(a, b)
	case OpIntBitAnd:
		result.And(a, b)
	case OpIntBitOr:
		result.Or(a, b)
	case OpIntBitXor:
		result.Xor(a, b)
	case OpIntShiftLeft:
		if !b.IsInt64() || b.Int64() < 0 {
			return nil, "shift amounts must be non-negative integers"
		}
		if b.Int64() > math.MaxUint16*64 {
			return nil, "shift amount too large"
		}
		result.Lsh(a, uint(b.Int64()))
	case OpIntShiftRight:
		if !b.IsInt64() || b.Int64() < 0 {
			return nil, "shift amounts must be non-negative integers"
		}
		result.Rsh(a, uint(min(b.Int64(), math.MaxUint16*64)))
	default:
		panic("bigIntOp: not an integer instruction")
	}
	return result, ""
}

// floatBinaryOp performs one of the float instructions. Floats are
// immediates, so no allocation happens here.
func floatBinaryOp(frame *Frame, inst *Instruction) (string, bool) {
	left := frame.GetRegister(inst.Arg(1))
	right := frame.GetRegister(inst.Arg(2))
	if !left.IsFloat() || !right.IsFloat() {
		return fmt.Sprintf("%s requires float operands", inst.Opcode), false
	}
	a := left.Float64()
	b := right.Float64()

	var result Value
	switch inst.Opcode {
	case OpFloatAdd:
		result = FromFloat64(a + b)
	case OpFloatSub:
		result = FromFloat64(a - b)
	case OpFloatMul:
		result = FromFloat64(a * b)
	case OpFloatDiv:
		result = FromFloat64(a / b)
	case OpFloatMod:
		result = FromFloat64(math.Mod(a, b))
	case OpFloatSmaller:
		result = FromBool(a < b)
	case OpFloatGreater:
		result = FromBool(a > b)
	case OpFloatEquals:
		result = FromBool(a == b)
	default:
		panic("floatBinaryOp: not a float instruction")
	}
	frame.SetRegister(inst.Arg(0), result)
	return "", true
}

// formatFloat renders a float the way programs observe it: shortest
// round-tripping form, always with a decimal point or exponent.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// ---------------------------------------------------------------------------
// String and array instructions
// ---------------------------------------------------------------------------

func stringPayloadOf(v Value) (*StringPayload, bool) {
	if !v.IsObject() {
		return nil, false
	}
	p, ok := ObjectFromValue(v).Payload().(*StringPayload)
	return p, ok
}

// stringOp performs one of the string instructions.
func (i *Interpreter) stringOp(process *Process, frame *Frame, inst *Instruction) (string, bool) {
	left, lok := stringPayloadOf(frame.GetRegister(inst.Arg(1)))
	if !lok {
		return fmt.Sprintf("%s requires string operands", inst.Opcode), false
	}

	switch inst.Opcode {
	case OpStringSize:
		frame.SetRegister(inst.Arg(0), i.allocInt(process, int64(len(left.Value))))
		return "", true
	case OpStringConcat:
		right, rok := stringPayloadOf(frame.GetRegister(inst.Arg(2)))
		if !rok {
			return "StringConcat requires string operands", false
		}
		frame.SetRegister(inst.Arg(0), i.allocString(process, left.Value+right.Value))
		return "", true
	case OpStringEquals:
		right, rok := stringPayloadOf(frame.GetRegister(inst.Arg(2)))
		frame.SetRegister(inst.Arg(0), FromBool(rok && left.Value == right.Value))
		return "", true
	default:
		panic("stringOp: not a string instruction")
	}
}

// arrayOp performs one of the array instructions. Reads past the end
// produce nil; writes past the end are a panic.
func (i *Interpreter) arrayOp(process *Process, frame *Frame, inst *Instruction) (string, bool) {
	target := frame.GetRegister(inst.Arg(1))
	if !target.IsObject() {
		return fmt.Sprintf("%s requires an array", inst.Opcode), false
	}
	obj := ObjectFromValue(target)
	payload, ok := obj.Payload().(*ArrayPayload)
	if !ok {
		return fmt.Sprintf("%s requires an array", inst.Opcode), false
	}

	switch inst.Opcode {
	case OpArrayLength:
		frame.SetRegister(inst.Arg(0), i.allocInt(process, int64(len(payload.Values))))
		return "", true
	case OpArrayGet:
		index := frame.GetRegister(inst.Arg(2))
		if !index.IsSmallInt() {
			return "array indexes must be integers", false
		}
		n := index.SmallInt()
		if n < 0 || n >= int64(len(payload.Values)) {
			frame.SetRegister(inst.Arg(0), Nil)
			return "", true
		}
		frame.SetRegister(inst.Arg(0), payload.Values[n])
		return "", true
	case OpArraySet:
		index := frame.GetRegister(inst.Arg(2))
		if !index.IsSmallInt() {
			return "array indexes must be integers", false
		}
		n := index.SmallInt()
		value := frame.GetRegister(inst.Arg(3))
		if n == int64(len(payload.Values)) {
			process.Heap().ArrayPush(obj, payload, value)
		} else if n >= 0 && n < int64(len(payload.Values)) {
			process.Heap().ArraySet(obj, payload, int(n), value)
		} else {
			return fmt.Sprintf(
				"array index %d is out of bounds (length %d)", n, len(payload.Values)), false
		}
		frame.SetRegister(inst.Arg(0), value)
		return "", true
	default:
		panic("arrayOp: not an array instruction")
	}
}

// ---------------------------------------------------------------------------
// Typed operand extraction
// ---------------------------------------------------------------------------

func (i *Interpreter) blockOperand(v Value) (*BlockPayload, string) {
	if v.IsObject() {
		if p, ok := ObjectFromValue(v).Payload().(*BlockPayload); ok {
			return p, ""
		}
	}
	return nil, fmt.Sprintf("%s is not a block", i.describe(v))
}

func (i *Interpreter) generatorOperand(v Value) (*Generator, string) {
	if v.IsObject() {
		if p, ok := ObjectFromValue(v).Payload().(*GeneratorPayload); ok {
			return p.Generator, ""
		}
	}
	return nil, fmt.Sprintf("%s is not a generator", i.describe(v))
}

func (i *Interpreter) processOperand(v Value) (*Process, string) {
	if v.IsObject() {
		if p, ok := ObjectFromValue(v).Payload().(*ProcessPayload); ok {
			return p.Process, ""
		}
	}
	return nil, fmt.Sprintf("%s is not a process", i.describe(v))
}

// stringOperand returns the string content of v, or the empty string
// for non-string values.
func (i *Interpreter) stringOperand(v Value) string {
	if p, ok := stringPayloadOf(v); ok {
		return p.Value
	}
	return ""
}

// bytesOperand returns the raw bytes of a string or byte array, falling
// back to the rendered form of other values.
func (i *Interpreter) bytesOperand(v Value) []byte {
	if v.IsObject() {
		switch p := ObjectFromValue(v).Payload().(type) {
		case *StringPayload:
			return []byte(p.Value)
		case *ByteArrayPayload:
			return p.Bytes
		}
	}
	return []byte(i.describe(v))
}

// describe renders a value for panic messages and diagnostics.
func (i *Interpreter) describe(v Value) string {
	switch {
	case v == Nil:
		return "Nil"
	case v == True:
		return "True"
	case v == False:
		return "False"
	case v == Undefined:
		return "Undefined"
	case v.IsSmallInt():
		return strconv.FormatInt(v.SmallInt(), 10)
	case v.IsFloat():
		return formatFloat(v.Float64())
	case v.IsSymbol():
		return i.machine.Symbols.Name(v.SymbolID())
	}

	obj := ObjectFromValue(v)
	switch p := obj.Payload().(type) {
	case *StringPayload:
		return p.Value
	case *BigIntPayload:
		return p.Int.String()
	case *ByteArrayPayload:
		return fmt.Sprintf("ByteArray(%d bytes)", len(p.Bytes))
	case *ArrayPayload:
		return fmt.Sprintf("Array(%d values)", len(p.Values))
	case *ProcessPayload:
		return fmt.Sprintf("Process(%d)", p.Process.ID())
	default:
		return fmt.Sprintf("a %s", obj.Class().Name)
	}
}

// durationOperand converts a value to a duration: integers are
// milliseconds, floats are seconds. Negative durations clamp to zero.
func durationOperand(v Value) (time.Duration, string) {
	var d time.Duration
	switch {
	case v.IsSmallInt():
		d = time.Duration(v.SmallInt()) * time.Millisecond
	case v.IsFloat():
		d = time.Duration(v.Float64() * float64(time.Second))
	case v.IsObject():
		if p, ok := ObjectFromValue(v).Payload().(*BigIntPayload); ok && p.Int.IsInt64() {
			d = time.Duration(p.Int.Int64()) * time.Millisecond
			break
		}
		return 0, "durations must be integers or floats"
	default:
		return 0, "durations must be integers or floats"
	}
	if d < 0 {
		d = 0
	}
	return d, ""
}
