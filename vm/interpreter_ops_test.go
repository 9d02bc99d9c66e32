package vm

import (
	"math"
	"testing"
	"time"
)

func TestSmallIntOpArithmetic(t *testing.T) {
	tests := []struct {
		op   Opcode
		a, b int64
		want int64
	}{
		{OpIntAdd, 2, 3, 5},
		{OpIntSub, 2, 3, -1},
		{OpIntMul, -4, 3, -12},
		{OpIntBitAnd, 0b1100, 0b1010, 0b1000},
		{OpIntBitOr, 0b1100, 0b1010, 0b1110},
		{OpIntBitXor, 0b1100, 0b1010, 0b0110},
		{OpIntShiftLeft, 1, 10, 1024},
		{OpIntShiftRight, 1024, 10, 1},
		{OpIntShiftRight, -8, 1, -4},
	}

	for _, tt := range tests {
		got, ok := smallIntOp(tt.op, tt.a, tt.b)
		if !ok {
			t.Errorf("%s(%d, %d) fell back to big integers", tt.op, tt.a, tt.b)
			continue
		}
		if got != tt.want {
			t.Errorf("%s(%d, %d) = %d, want %d", tt.op, tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSmallIntOpOverflow(t *testing.T) {
	tests := []struct {
		name string
		op   Opcode
		a, b int64
	}{
		{"add overflow", OpIntAdd, math.MaxInt64, 1},
		{"add underflow", OpIntAdd, math.MinInt64, -1},
		{"sub overflow", OpIntSub, math.MinInt64, 1},
		{"mul overflow", OpIntMul, math.MaxInt64, 2},
		{"mul min by -1", OpIntMul, math.MinInt64, -1},
		{"huge shift", OpIntShiftLeft, 1, 64},
	}

	for _, tt := range tests {
		if _, ok := smallIntOp(tt.op, tt.a, tt.b); ok {
			t.Errorf("%s: expected fallback to big integers", tt.name)
		}
	}
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1.5, "1.5"},
		{10, "10.0"},
		{-3, "-3.0"},
		{0.25, "0.25"},
		{math.NaN(), "NaN"},
		{math.Inf(1), "Infinity"},
		{math.Inf(-1), "-Infinity"},
		{1e21, "1e+21"},
	}

	for _, tt := range tests {
		if got := formatFloat(tt.in); got != tt.want {
			t.Errorf("formatFloat(%g) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDurationOperand(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		want time.Duration
	}{
		{"integer milliseconds", FromSmallInt(1500), 1500 * time.Millisecond},
		{"float seconds", FromFloat64(1.5), 1500 * time.Millisecond},
		{"negative clamps", FromSmallInt(-5), 0},
	}

	for _, tt := range tests {
		got, msg := durationOperand(tt.in)
		if msg != "" {
			t.Errorf("%s: unexpected error %q", tt.name, msg)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: %s, want %s", tt.name, got, tt.want)
		}
	}

	if _, msg := durationOperand(True); msg == "" {
		t.Error("booleans should not convert to durations")
	}
}
