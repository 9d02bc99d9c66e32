package vm

import (
	"math"
	"testing"
)

func TestSmallIntRoundTrip(t *testing.T) {
	tests := []int64{0, 1, -1, 42, -42, MaxSmallInt, MinSmallInt, 1 << 30, -(1 << 30)}

	for _, n := range tests {
		v := FromSmallInt(n)
		if !v.IsSmallInt() {
			t.Errorf("FromSmallInt(%d) is not a small int", n)
			continue
		}
		if got := v.SmallInt(); got != n {
			t.Errorf("SmallInt() = %d, want %d", got, n)
		}
		if v.IsFloat() || v.IsObject() || v.IsSymbol() || v.IsSpecial() {
			t.Errorf("small int %d claims another kind", n)
		}
	}
}

func TestFromSmallIntOutOfRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("FromSmallInt(MaxSmallInt+1) did not panic")
		}
	}()
	FromSmallInt(MaxSmallInt + 1)
}

func TestTryFromSmallInt(t *testing.T) {
	if _, ok := TryFromSmallInt(MaxSmallInt); !ok {
		t.Error("MaxSmallInt should fit")
	}
	if _, ok := TryFromSmallInt(MinSmallInt); !ok {
		t.Error("MinSmallInt should fit")
	}
	if _, ok := TryFromSmallInt(MaxSmallInt + 1); ok {
		t.Error("MaxSmallInt+1 should not fit")
	}
	if _, ok := TryFromSmallInt(MinSmallInt - 1); ok {
		t.Error("MinSmallInt-1 should not fit")
	}
}

func TestFloatRoundTrip(t *testing.T) {
	tests := []float64{0, 1.5, -1.5, math.Pi, math.MaxFloat64, math.SmallestNonzeroFloat64, math.Inf(1), math.Inf(-1)}

	for _, f := range tests {
		v := FromFloat64(f)
		if !v.IsFloat() {
			t.Errorf("FromFloat64(%g) is not a float", f)
			continue
		}
		if got := v.Float64(); got != f {
			t.Errorf("Float64() = %g, want %g", got, f)
		}
	}
}

func TestFloatNaN(t *testing.T) {
	v := FromFloat64(math.NaN())
	if !v.IsFloat() {
		t.Fatal("NaN is not a float")
	}
	if !math.IsNaN(v.Float64()) {
		t.Errorf("Float64() = %g, want NaN", v.Float64())
	}
	if v.IsObject() || v.IsSmallInt() || v.IsSpecial() {
		t.Error("NaN claims another kind")
	}
}

func TestSpecials(t *testing.T) {
	if !Nil.IsNil() || !Nil.IsSpecial() {
		t.Error("Nil is not nil")
	}
	if !Undefined.IsUndefined() {
		t.Error("Undefined is not undefined")
	}
	if !True.IsBool() || !True.Bool() {
		t.Error("True is not true")
	}
	if !False.IsBool() || False.Bool() {
		t.Error("False is not false")
	}
	if FromBool(true) != True || FromBool(false) != False {
		t.Error("FromBool does not return the singletons")
	}
}

func TestSymbolRoundTrip(t *testing.T) {
	for _, id := range []uint32{0, 1, 42, 1 << 20, math.MaxUint32} {
		v := FromSymbolID(id)
		if !v.IsSymbol() {
			t.Errorf("FromSymbolID(%d) is not a symbol", id)
			continue
		}
		if got := v.SymbolID(); got != id {
			t.Errorf("SymbolID() = %d, want %d", got, id)
		}
	}
}

func TestIsTruthy(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  bool
	}{
		{"nil", Nil, false},
		{"false", False, false},
		{"undefined", Undefined, false},
		{"true", True, true},
		{"zero", FromSmallInt(0), true},
		{"integer", FromSmallInt(7), true},
		{"float zero", FromFloat64(0), true},
		{"symbol", FromSymbolID(3), true},
	}

	for _, tt := range tests {
		if got := tt.value.IsTruthy(); got != tt.want {
			t.Errorf("%s: IsTruthy() = %t, want %t", tt.name, got, tt.want)
		}
	}
}

func TestObjectRoundTrip(t *testing.T) {
	classes := NewBuiltinClasses()
	heap := NewHeap(100, 100, nil)

	obj := heap.Allocate(classes.Object, nil)
	v := obj.ToValue()
	if !v.IsObject() {
		t.Fatal("object value is not an object")
	}
	if ObjectFromValue(v) != obj {
		t.Error("ObjectFromValue did not return the original object")
	}
	if v.IsTruthy() != true {
		t.Error("objects should be truthy")
	}
}

func TestSameObject(t *testing.T) {
	classes := NewBuiltinClasses()
	heap := NewHeap(100, 100, nil)

	a := heap.AllocateValue(classes.Object, nil)
	b := heap.AllocateValue(classes.Object, nil)

	if !SameObject(a, a) {
		t.Error("an object should equal itself")
	}
	if SameObject(a, b) {
		t.Error("distinct objects compare equal")
	}
	if !SameObject(FromSmallInt(3), FromSmallInt(3)) {
		t.Error("equal immediates compare unequal")
	}
	if SameObject(FromSmallInt(3), FromSmallInt(4)) {
		t.Error("distinct immediates compare equal")
	}
}
