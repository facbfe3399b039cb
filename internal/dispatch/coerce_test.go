package dispatch

import (
	"encoding/json"
	"math"
	"testing"
)

func TestCoerce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		kind    Kind
		raw     any
		want    Value
		wantErr bool
	}{
		// integer
		{"int", KindInteger, 7, Int(7), false},
		{"int64", KindInteger, int64(-3), Int(-3), false},
		{"uint8", KindInteger, uint8(9), Int(9), false},
		{"whole float64", KindInteger, 4.0, Int(4), false},
		{"json number", KindInteger, json.Number("12"), Int(12), false},
		{"numeric string", KindInteger, " 3 ", Int(3), false},
		{"whole string float", KindInteger, "5.0", Int(5), false},
		{"fraction", KindInteger, 1.5, Value{}, true},
		{"fraction string", KindInteger, "1.5", Value{}, true},
		{"huge uint64", KindInteger, uint64(math.MaxUint64), Value{}, true},
		{"float out of range", KindInteger, 1e19, Value{}, true},
		{"integer bool", KindInteger, true, Value{}, true},

		// number
		{"number from int", KindFloat, 2, Int(2), false},
		{"number from float", KindFloat, 2.5, Float(2.5), false},
		{"number keeps whole float", KindFloat, 2.0, Float(2), false},
		{"number json int", KindFloat, json.Number("6"), Int(6), false},
		{"number json float", KindFloat, json.Number("6.0"), Float(6), false},
		{"number exponent", KindFloat, "1e3", Float(1000), false},
		{"number NaN", KindFloat, math.NaN(), Value{}, true},
		{"number Inf string", KindFloat, "Inf", Value{}, true},
		{"number word", KindFloat, "x", Value{}, true},
		{"number empty", KindFloat, "", Value{}, true},
		{"number array", KindFloat, []any{1}, Value{}, true},
		{"number null", KindFloat, nil, Value{}, true},
		{"number huge uint64", KindFloat, uint64(math.MaxUint64), Float(float64(math.MaxUint64)), false},
		{"number max int64 uint64", KindFloat, uint64(math.MaxInt64), Int(math.MaxInt64), false},
		{"number underscores", KindFloat, "1_000", Value{}, true},
		{"number hex float", KindFloat, "0x1p4", Value{}, true},
		{"number underflow", KindFloat, "1e-400", Value{}, true},
		{"number json underflow", KindFloat, json.Number("-2.5e-999"), Value{}, true},
		{"number zero with exponent", KindFloat, "0.0e-400", Float(0), false},
		{"number subnormal", KindFloat, "1e-310", Float(1e-310), false},
		{"number leading dot", KindFloat, ".5", Float(0.5), false},
		{"integer underscores", KindInteger, "1_000", Value{}, true},
		{"integer hex", KindInteger, "0x10", Value{}, true},

		// string
		{"string", KindString, "hi", String("hi"), false},
		{"string from int", KindString, 1, Value{}, true},

		// boolean
		{"bool", KindBoolean, false, Bool(false), false},
		{"bool string", KindBoolean, "true", Bool(true), false},
		{"bool word", KindBoolean, "yes", Value{}, true},
		{"bool int", KindBoolean, 1, Value{}, true},

		// already-coerced values
		{"value int as number", KindFloat, Int(3), Int(3), false},
		{"value whole float as integer", KindInteger, Float(3), Int(3), false},
		{"value string as number", KindFloat, String("3"), Value{}, true},
		{"zero value", KindFloat, Value{}, Value{}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Coerce(tc.kind, tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Errorf("Coerce(%s, %#v) = %v, want error", tc.kind, tc.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Coerce(%s, %#v): %v", tc.kind, tc.raw, err)
			}
			if got != tc.want {
				t.Errorf("Coerce(%s, %#v) = %v (%s), want %v (%s)", tc.kind, tc.raw, got, got.Kind(), tc.want, tc.want.Kind())
			}
		})
	}
}

func TestValueMarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		v    Value
		want string
	}{
		{Int(2), `2`},
		{Int(-9), `-9`},
		{Float(2), `2.0`},
		{Float(0.5), `0.5`},
		{Float(1e21), `1e+21`},
		{Float(math.Inf(1)), `"+Inf"`},
		{Float(math.Inf(-1)), `"-Inf"`},
		{String(`a"b`), `"a\"b"`},
		{Bool(true), `true`},
		{Value{}, `null`},
	}
	for _, tc := range tests {
		got, err := json.Marshal(tc.v)
		if err != nil {
			t.Errorf("Marshal(%v): %v", tc.v, err)
			continue
		}
		if string(got) != tc.want {
			t.Errorf("Marshal(%v) = %s, want %s", tc.v, got, tc.want)
		}
	}
}

func TestValueAccessors(t *testing.T) {
	t.Parallel()

	if got := Int(3).Float(); got != 3 {
		t.Errorf("Int(3).Float() = %v", got)
	}
	if got := Float(3.9).Int(); got != 3 {
		t.Errorf("Float(3.9).Int() = %v", got)
	}
	if got := Float(2).Any(); got != float64(2) {
		t.Errorf("Float(2).Any() = %#v", got)
	}
	if got := Int(2).Any(); got != int64(2) {
		t.Errorf("Int(2).Any() = %#v", got)
	}
	if Value{}.IsValid() {
		t.Error("zero Value reports valid")
	}
	if String("x").IsNumber() {
		t.Error("String reports IsNumber")
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q", got)
	}
	if got := KindOf(Fail(ErrMissingArgument, "x")); got != ErrMissingArgument {
		t.Errorf("KindOf(failure) = %q", got)
	}
	if got := KindOf(ErrUnknownTool); got != ErrUnknownTool {
		t.Errorf("KindOf(kind) = %q", got)
	}
	if got := KindOf(json.Unmarshal([]byte("{"), new(any))); got != ErrInternal {
		t.Errorf("KindOf(other) = %q", got)
	}
}
