package value

import (
	"encoding/json"
	"math"
	"testing"
)

func TestPlusWidening(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Value
		expected Value
	}{
		{"int+int", int64(1), int64(2), int64(3)},
		{"int+double", int64(1), float64(2.5), float64(3.5)},
		{"double+int", float64(2.5), int64(1), float64(3.5)},
		{"string+string", "a", "b", "ab"},
		{"int+string", int64(1), "x", "1x"},
		{"string+int", "x", int64(1), "x1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Plus(tt.a, tt.b)
			if err != nil {
				t.Fatalf("Plus(%v, %v) error: %v", tt.a, tt.b, err)
			}
			if got != tt.expected {
				t.Fatalf("Plus(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestPlusNumericWideningSymmetric(t *testing.T) {
	a, err := Plus(int64(2), float64(3))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Plus(float64(2), int64(3))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("plus(int,double) = %v != plus(double,int) = %v", a, b)
	}
}

func TestDivideByZero(t *testing.T) {
	if _, err := Divide(int64(1), int64(0)); err == nil {
		t.Fatal("expected error dividing int by zero")
	}
	got, err := Divide(float64(1), float64(0))
	if err != nil {
		t.Fatalf("double division by zero should not error: %v", err)
	}
	f, ok := got.(float64)
	if !ok || !math.IsInf(f, 1) {
		t.Fatalf("1.0/0.0 = %v, want +Inf", got)
	}
}

func TestEqualsCompositeNeverEqual(t *testing.T) {
	a := NewObject()
	b := NewObject()
	if Equals(a, b) {
		t.Fatal("composite values must never be equal under Equals")
	}
	if !Equals(int64(1), int64(1)) {
		t.Fatal("equal scalars should compare equal")
	}
	if !Equals(nil, nil) {
		t.Fatal("none should equal none")
	}
}

func TestCompareOrientation(t *testing.T) {
	ord, err := Compare(int64(1), int64(2))
	if err != nil {
		t.Fatal(err)
	}
	if ord != Less {
		t.Fatalf("Compare(1, 2) = %v, want Less", ord)
	}
}

func TestHashDeterministicRegardlessOfKeyOrder(t *testing.T) {
	a := NewObject()
	a.Fields["x"] = int64(1)
	a.Fields["y"] = int64(2)

	b := NewObject()
	b.Fields["y"] = int64(2)
	b.Fields["x"] = int64(1)

	if Hash(a) != Hash(b) {
		t.Fatal("hash must not depend on object-literal key order")
	}
}

func TestHashStableAcrossCalls(t *testing.T) {
	v := NewArray(int64(1), "two", true)
	h1 := Hash(v)
	h2 := Hash(v)
	if h1 != h2 {
		t.Fatal("hash must be stable across repeated calls")
	}
}

func TestCloneDeepCopiesComposites(t *testing.T) {
	orig := NewObject()
	orig.Fields["arr"] = NewArray(int64(1), int64(2))

	cloned := Clone(orig).(*Object)
	clonedArr := cloned.Fields["arr"].(*Array)
	clonedArr.Elements[0] = int64(99)

	origArr := orig.Fields["arr"].(*Array)
	if origArr.Elements[0] == int64(99) {
		t.Fatal("Clone must deep-copy nested composites")
	}
}

func TestEncodeDecodeRoundTripsIntVsDouble(t *testing.T) {
	cases := []Value{int64(5), float64(5), float64(5.5), "hi", true, nil}
	for _, v := range cases {
		enc, err := Encode(v)
		if err != nil {
			t.Fatalf("encoding %v: %v", v, err)
		}
		dec, err := Decode(enc)
		if err != nil {
			t.Fatalf("decoding %v: %v", v, err)
		}
		if dec != v {
			t.Fatalf("round trip %v -> %s -> %v, want unchanged (int/double distinction lost?)", v, enc, dec)
		}
	}
}

func TestEncodeDecodeObjectAndArray(t *testing.T) {
	obj := NewObject()
	obj.Fields["n"] = int64(3)
	obj.Fields["arr"] = NewArray(int64(1), float64(2.5))

	enc, err := Encode(obj)
	if err != nil {
		t.Fatal(err)
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(enc, &probe); err != nil {
		t.Fatalf("object must encode as an untagged JSON object: %v", err)
	}

	dec, err := Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := dec.(*Object)
	if !ok {
		t.Fatalf("decoded value is %T, want *Object", dec)
	}
	if got.Fields["n"] != int64(3) {
		t.Fatalf("n decoded as %v (%T), want int64(3)", got.Fields["n"], got.Fields["n"])
	}
}

func TestRoleMessageDeterministic(t *testing.T) {
	state := NewObject()
	state.Fields["balance"] = int64(100)

	m1 := RoleMessage("account", state)
	m2 := RoleMessage("account", state)
	if string(m1) != string(m2) {
		t.Fatal("RoleMessage must be deterministic for signing round-trips to verify")
	}
	if len(m1) != 8 {
		t.Fatalf("RoleMessage must be 8 bytes, got %d", len(m1))
	}
}

func TestGetSetObjectAndArray(t *testing.T) {
	obj := NewObject()
	if err := Set(obj, []Value{"k"}, int64(42)); err != nil {
		t.Fatal(err)
	}
	got, ok, err := Get(obj, "k")
	if err != nil || !ok {
		t.Fatalf("Get after Set: got=%v ok=%v err=%v", got, ok, err)
	}
	if got != int64(42) {
		t.Fatalf("Get returned %v, want 42", got)
	}

	arr := NewArray(int64(10), int64(20))
	got, ok, err = Get(arr, int64(1))
	if err != nil || !ok || got != int64(20) {
		t.Fatalf("array Get(1) = %v, %v, %v; want 20, true, nil", got, ok, err)
	}
}
