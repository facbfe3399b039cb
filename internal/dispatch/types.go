package dispatch

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Kind is the declared type of a tool parameter. Its string form is the
// matching JSON Schema type name.
type Kind int

const (
	// KindInteger accepts whole numbers only.
	KindInteger Kind = iota + 1

	// KindFloat accepts any finite number. Integer-valued inputs keep their
	// integer representation because JSON Schema treats integer as a subset
	// of number.
	KindFloat

	// KindString accepts strings only.
	KindString

	// KindBoolean accepts booleans and the strings "true" and "false".
	KindBoolean
)

// String returns the JSON Schema type name for k.
func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "number"
	case KindString:
		return "string"
	case KindBoolean:
		return "boolean"
	default:
		return "unknown"
	}
}

// IsValid reports whether k is one of the declared kinds.
func (k Kind) IsValid() bool {
	return k >= KindInteger && k <= KindBoolean
}

// MarshalJSON encodes k as its JSON Schema type name.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// ParameterSpec declares a single named, typed tool parameter.
type ParameterSpec struct {
	// Name is the argument key the caller must supply.
	Name string `json:"name"`

	// Kind is the type the argument is coerced to before the tool runs.
	Kind Kind `json:"kind"`

	// Description documents the parameter for the model. It is not validated.
	Description string `json:"description"`

	// Required marks the parameter as mandatory.
	Required bool `json:"required"`
}

// Descriptor is the model-facing description of a registered tool.
type Descriptor struct {
	// Name is unique within a [Registry].
	Name string `json:"name"`

	// Description is shown to the model for tool selection.
	Description string `json:"description"`

	// Parameters are the declared arguments, in declaration order.
	Parameters []ParameterSpec `json:"parameters"`
}

// clone returns a deep copy of d so callers cannot mutate registry state.
func (d Descriptor) clone() Descriptor {
	params := make([]ParameterSpec, len(d.Parameters))
	copy(params, d.Parameters)
	d.Parameters = params
	return d
}

// Value is a coerced argument or tool result. The zero Value is invalid.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    bool
}

// Int returns an Integer value.
func Int(i int64) Value { return Value{kind: KindInteger, i: i} }

// Float returns a Float value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String returns a String value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Bool returns a Boolean value.
func Bool(b bool) Value { return Value{kind: KindBoolean, b: b} }

// Kind reports the kind of the stored value. A Float-declared argument whose
// input was a whole number reports [KindInteger].
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v holds a value.
func (v Value) IsValid() bool { return v.kind.IsValid() }

// IsNumber reports whether v is an Integer or a Float.
func (v Value) IsNumber() bool { return v.kind == KindInteger || v.kind == KindFloat }

// Int returns the integer held by v. Floats are truncated.
func (v Value) Int() int64 {
	if v.kind == KindFloat {
		return int64(v.f)
	}
	return v.i
}

// Float returns the number held by v as a float64. Integers are converted.
func (v Value) Float() float64 {
	if v.kind == KindInteger {
		return float64(v.i)
	}
	return v.f
}

// Str returns the string held by v.
func (v Value) Str() string { return v.s }

// Bool returns the boolean held by v.
func (v Value) Bool() bool { return v.b }

// Any returns v as a plain Go value: int64, float64, string, bool or nil.
func (v Value) Any() any {
	switch v.kind {
	case KindInteger:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBoolean:
		return v.b
	default:
		return nil
	}
}

// String renders v the same way MarshalJSON does, without quoting strings.
func (v Value) String() string {
	switch v.kind {
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return formatFloat(v.f)
	case KindString:
		return v.s
	case KindBoolean:
		return strconv.FormatBool(v.b)
	default:
		return "<invalid>"
	}
}

// MarshalJSON encodes v. Floats always carry a decimal point so that 2.0 is
// not confused with the integer 2 on the wire; non-finite floats are encoded
// as strings because JSON has no literal for them.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInteger:
		return strconv.AppendInt(nil, v.i, 10), nil
	case KindFloat:
		if math.IsInf(v.f, 0) || math.IsNaN(v.f) {
			return json.Marshal(formatFloat(v.f))
		}
		return []byte(formatFloat(v.f)), nil
	case KindString:
		return json.Marshal(v.s)
	case KindBoolean:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	case math.IsNaN(f):
		return "NaN"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// Args holds the validated arguments of a single invocation, keyed by
// parameter name.
type Args map[string]Value

// Get returns the named argument. The second result is false when the name
// was not declared.
func (a Args) Get(name string) (Value, bool) {
	v, ok := a[name]
	return v, ok
}

// Func is the callable behind a tool. It receives arguments that have already
// been validated against the tool's [Descriptor]. Returning a [*Failure] (or
// an error wrapping an [ErrorKind]) reports a domain failure; any other error
// is reported as [ErrInternal].
type Func func(args Args) (Value, error)

// Tool pairs a descriptor with its callable.
type Tool struct {
	Descriptor Descriptor
	Func       Func
}

// Request names a tool and supplies its raw arguments.
type Request struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// Result is the outcome of [Registry.Invoke]: exactly one of Value (on
// success) or Failure (on failure) is meaningful.
type Result struct {
	Value   Value
	Failure *Failure
}

// OK reports whether the invocation succeeded.
func (r Result) OK() bool { return r.Failure == nil }

// Err returns the failure as an error, or nil on success.
func (r Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

// Success wraps v as a successful [Result].
func Success(v Value) Result { return Result{Value: v} }

// Failed wraps f as a failed [Result].
func Failed(f *Failure) Result { return Result{Failure: f} }
