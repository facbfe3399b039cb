package calculator

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/calcagent/internal/dispatch"
)

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func newRegistry(t *testing.T) *dispatch.Registry {
	t.Helper()
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func invoke(t *testing.T, r *dispatch.Registry, tool string, args map[string]any) dispatch.Result {
	t.Helper()
	return r.Invoke(context.Background(), dispatch.Request{ToolName: tool, Arguments: args})
}

// ─────────────────────────────────────────────────────────────────────────────
// Registry shape
// ─────────────────────────────────────────────────────────────────────────────

func TestDescribe(t *testing.T) {
	t.Parallel()
	r := newRegistry(t)

	for range 3 {
		descs := r.Describe()
		want := []string{"add", "multiply", "divide"}
		if len(descs) != len(want) {
			t.Fatalf("Describe returned %d tools, want %d", len(descs), len(want))
		}
		for i, d := range descs {
			if d.Name != want[i] {
				t.Errorf("tool %d = %q, want %q", i, d.Name, want[i])
			}
			if d.Description == "" {
				t.Errorf("tool %q has no description", d.Name)
			}
			if len(d.Parameters) != 2 {
				t.Fatalf("tool %q has %d parameters, want 2", d.Name, len(d.Parameters))
			}
			for j, p := range d.Parameters {
				if !p.Required {
					t.Errorf("%s.%s not required", d.Name, p.Name)
				}
				if p.Kind != dispatch.KindFloat && p.Kind != dispatch.KindInteger {
					t.Errorf("%s.%s kind = %s, want numeric", d.Name, p.Name, p.Kind)
				}
				if wantName := []string{"a", "b"}[j]; p.Name != wantName {
					t.Errorf("%s parameter %d = %q, want %q", d.Name, j, p.Name, wantName)
				}
			}
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Arithmetic
// ─────────────────────────────────────────────────────────────────────────────

func TestArithmetic(t *testing.T) {
	t.Parallel()
	r := newRegistry(t)

	tests := []struct {
		name string
		tool string
		args map[string]any
		want dispatch.Value
	}{
		{"add ints", "add", map[string]any{"a": 2, "b": 3}, dispatch.Int(5)},
		{"add negatives", "add", map[string]any{"a": -7, "b": 4}, dispatch.Int(-3)},
		{"add float", "add", map[string]any{"a": 1.5, "b": 2}, dispatch.Float(3.5)},
		{"add wraps", "add", map[string]any{"a": int64(math.MaxInt64), "b": 1}, dispatch.Int(math.MinInt64)},
		{"multiply ints", "multiply", map[string]any{"a": 6, "b": 7}, dispatch.Int(42)},
		{"multiply zero", "multiply", map[string]any{"a": 0, "b": 99}, dispatch.Int(0)},
		{"multiply floats", "multiply", map[string]any{"a": 0.5, "b": 0.5}, dispatch.Float(0.25)},
		{"divide exact", "divide", map[string]any{"a": 6, "b": 3}, dispatch.Float(2)},
		{"divide fraction", "divide", map[string]any{"a": 1, "b": 4}, dispatch.Float(0.25)},
		{"divide negative", "divide", map[string]any{"a": -9, "b": 2}, dispatch.Float(-4.5)},
		{"divide zero numerator", "divide", map[string]any{"a": 0, "b": 5}, dispatch.Float(0)},
		{"add huge unsigned", "add", map[string]any{"a": uint64(math.MaxUint64), "b": 0}, dispatch.Float(float64(math.MaxUint64))},
		{"add json integers", "add", map[string]any{"a": json.Number("1"), "b": json.Number("2")}, dispatch.Int(3)},
		{"add whole float64", "add", map[string]any{"a": 1.0, "b": 2.0}, dispatch.Float(3)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := invoke(t, r, tc.tool, tc.args)
			if !res.OK() {
				t.Fatalf("%s(%v) failed: %v", tc.tool, tc.args, res.Failure)
			}
			if res.Value != tc.want {
				t.Errorf("%s(%v) = %v (%s), want %v (%s)",
					tc.tool, tc.args, res.Value, res.Value.Kind(), tc.want, tc.want.Kind())
			}
		})
	}
}

func TestIntegerProperties(t *testing.T) {
	t.Parallel()
	r := newRegistry(t)

	samples := []int64{0, 1, -1, 2, 17, -250, 1 << 20, math.MaxInt32, math.MinInt32}
	for _, a := range samples {
		for _, b := range samples {
			args := map[string]any{"a": a, "b": b}

			if res := invoke(t, r, "add", args); !res.OK() || res.Value != dispatch.Int(a+b) {
				t.Errorf("add(%d, %d) = %+v, want Int(%d)", a, b, res, a+b)
			}
			if res := invoke(t, r, "multiply", args); !res.OK() || res.Value != dispatch.Int(a*b) {
				t.Errorf("multiply(%d, %d) = %+v, want Int(%d)", a, b, res, a*b)
			}

			res := invoke(t, r, "divide", args)
			if b == 0 {
				if res.OK() || res.Failure.Kind != dispatch.ErrDivisionByZero {
					t.Errorf("divide(%d, 0) = %+v, want division_by_zero", a, res)
				}
				continue
			}
			want := float64(a) / float64(b)
			if !res.OK() || res.Value.Kind() != dispatch.KindFloat || res.Value.Float() != want {
				t.Errorf("divide(%d, %d) = %+v, want Float(%v)", a, b, res, want)
			}
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Failures
// ─────────────────────────────────────────────────────────────────────────────

func TestFailures(t *testing.T) {
	t.Parallel()
	r := newRegistry(t)

	tests := []struct {
		name string
		tool string
		args map[string]any
		want dispatch.ErrorKind
	}{
		{"divide by zero", "divide", map[string]any{"a": 5, "b": 0}, dispatch.ErrDivisionByZero},
		{"divide by float zero", "divide", map[string]any{"a": 5, "b": 0.0}, dispatch.ErrDivisionByZero},
		{"divide by negative zero", "divide", map[string]any{"a": 5, "b": math.Copysign(0, -1)}, dispatch.ErrDivisionByZero},
		{"unknown tool", "subtract", map[string]any{"a": 1, "b": 2}, dispatch.ErrUnknownTool},
		{"missing b", "add", map[string]any{"a": 1}, dispatch.ErrMissingArgument},
		{"invalid a", "add", map[string]any{"a": "x", "b": 2}, dispatch.ErrInvalidArgument},
		{"extra argument", "multiply", map[string]any{"a": 1, "b": 2, "c": 3}, dispatch.ErrInvalidArgument},
		{"divisor underflows", "divide", map[string]any{"a": 5, "b": "1e-400"}, dispatch.ErrInvalidArgument},
		{"divisor with underscores", "divide", map[string]any{"a": 5, "b": "1_000"}, dispatch.ErrInvalidArgument},
		{"hex float operand", "multiply", map[string]any{"a": "0x1p4", "b": 2}, dispatch.ErrInvalidArgument},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := invoke(t, r, tc.tool, tc.args)
			if res.OK() {
				t.Fatalf("%s(%v) = %v, want %s", tc.tool, tc.args, res.Value, tc.want)
			}
			if res.Failure.Kind != tc.want {
				t.Errorf("Kind = %s, want %s (%s)", res.Failure.Kind, tc.want, res.Failure.Message)
			}
		})
	}
}

func TestDivideByZeroMessage(t *testing.T) {
	t.Parallel()

	_, err := Divide(dispatch.Int(5), dispatch.Int(0))
	if !errors.Is(err, dispatch.ErrDivisionByZero) {
		t.Fatalf("Divide(5, 0) error = %v, want division_by_zero", err)
	}
	var f *dispatch.Failure
	if !errors.As(err, &f) || f.Message != "division by zero" {
		t.Errorf("Divide(5, 0) failure = %+v, want message %q", f, "division by zero")
	}
}
