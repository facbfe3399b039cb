package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	errNull       = errors.New("value is null")
	errNotFinite  = errors.New("value is not a finite number")
	errFractional = errors.New("value has a fractional part")
	errOutOfRange = errors.New("value is out of the 64-bit integer range")
	errUnderflow  = errors.New("value is too small to represent and would round to zero")
)

// decimalLiteral is the numeric string syntax accepted from callers: an
// optional sign, decimal digits with an optional fraction and an optional
// exponent. Go-only forms such as "1_000" or "0x1p4" do not match.
var decimalLiteral = regexp.MustCompile(`^[+-]?(?:[0-9]+\.?[0-9]*|\.[0-9]+)(?:[eE][+-]?[0-9]+)?$`)

// Coerce converts a raw argument into a [Value] of the given kind. Raw values
// may be any of the shapes produced by encoding/json (float64, json.Number,
// string, bool, nil) or native Go numeric types.
//
// For KindFloat the integer/float distinction follows the input's type: Go
// integer types and integer literals (json.Number "2", string "2") become
// Integer values, while float32 and float64 always become Float, whole or
// not. Decode JSON with [json.Decoder.UseNumber] to keep 2 and 2.0 apart;
// plain encoding/json hands both over as float64.
func Coerce(kind Kind, raw any) (Value, error) {
	if raw == nil {
		return Value{}, errNull
	}
	if v, ok := raw.(Value); ok {
		return coerceValue(kind, v)
	}
	switch kind {
	case KindInteger:
		return coerceInteger(raw)
	case KindFloat:
		return coerceNumber(raw)
	case KindString:
		s, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("expected string, got %s", describe(raw))
		}
		return String(s), nil
	case KindBoolean:
		return coerceBoolean(raw)
	default:
		return Value{}, fmt.Errorf("undeclared kind %d", int(kind))
	}
}

func coerceValue(kind Kind, v Value) (Value, error) {
	switch {
	case !v.IsValid():
		return Value{}, errNull
	case v.Kind() == kind:
		return v, nil
	case kind == KindFloat && v.IsNumber():
		return v, nil
	case kind == KindInteger && v.Kind() == KindFloat:
		return integralFloat(v.Float())
	}
	return Value{}, fmt.Errorf("expected %s, got %s", kind, v.Kind())
}

func coerceInteger(raw any) (Value, error) {
	switch n := raw.(type) {
	case int:
		return Int(int64(n)), nil
	case int8:
		return Int(int64(n)), nil
	case int16:
		return Int(int64(n)), nil
	case int32:
		return Int(int64(n)), nil
	case int64:
		return Int(n), nil
	case uint:
		return unsignedInt(uint64(n))
	case uint8:
		return Int(int64(n)), nil
	case uint16:
		return Int(int64(n)), nil
	case uint32:
		return Int(int64(n)), nil
	case uint64:
		return unsignedInt(n)
	case float32:
		return integralFloat(float64(n))
	case float64:
		return integralFloat(n)
	case json.Number:
		return parseInteger(string(n))
	case string:
		return parseInteger(strings.TrimSpace(n))
	}
	return Value{}, fmt.Errorf("expected integer, got %s", describe(raw))
}

func coerceNumber(raw any) (Value, error) {
	switch n := raw.(type) {
	case float32:
		return finiteNumber(float64(n))
	case float64:
		return finiteNumber(n)
	case json.Number:
		return parseNumber(string(n))
	case string:
		return parseNumber(strings.TrimSpace(n))
	}
	case uint:
		return unsignedNumber(uint64(n)), nil
	case uint64:
		return unsignedNumber(n), nil
	}
	if v, err := coerceInteger(raw); err == nil {
		return v, nil
	}
	return Value{}, fmt.Errorf("expected number, got %s", describe(raw))
}

func coerceBoolean(raw any) (Value, error) {
	switch b := raw.(type) {
	case bool:
		return Bool(b), nil
	case string:
		switch strings.TrimSpace(b) {
		case "true":
			return Bool(true), nil
		case "false":
			return Bool(false), nil
		}
	}
	return Value{}, fmt.Errorf("expected boolean, got %s", describe(raw))
}

func unsignedInt(n uint64) (Value, error) {
	if n > math.MaxInt64 {
		return Value{}, errOutOfRange
	}
	return Int(int64(n)), nil
}

// unsignedNumber keeps n as an Integer when it fits and widens it to a Float
// otherwise.
func unsignedNumber(n uint64) Value {
	if n > math.MaxInt64 {
		return Float(float64(n))
	}
	return Int(int64(n))
}

func integralFloat(f float64) (Value, error) {
	switch {
	case math.IsNaN(f) || math.IsInf(f, 0):
		return Value{}, errNotFinite
	case f != math.Trunc(f):
		return Value{}, errFractional
	case f < math.MinInt64 || f >= math.MaxInt64:
		return Value{}, errOutOfRange
	}
	return Int(int64(f)), nil
}

// finiteNumber keeps an explicit float as a Float, even when it is whole:
// 2.0 and 2 are distinct inputs. Integer literals are matched earlier.
func finiteNumber(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, errNotFinite
	}
	return Float(f), nil
}

func parseInteger(s string) (Value, error) {
	if s == "" {
		return Value{}, errors.New("expected integer, got empty string")
	}
	if !decimalLiteral.MatchString(s) {
		return Value{}, fmt.Errorf("expected integer, got %q", s)
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(i), nil
	}
	f, err := parseDecimal(s)
	if err != nil {
		return Value{}, err
	}
	return integralFloat(f)
}

func parseNumber(s string) (Value, error) {
	if s == "" {
		return Value{}, errors.New("expected number, got empty string")
	}
	if !decimalLiteral.MatchString(s) {
		return Value{}, fmt.Errorf("expected number, got %q", s)
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(i), nil
	}
	f, err := parseDecimal(s)
	if err != nil {
		return Value{}, err
	}
	return finiteNumber(f)
}

// parseDecimal parses a string already matched by decimalLiteral. A literal
// with a nonzero mantissa that rounds to zero is rejected rather than read
// as 0.
func parseDecimal(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errNotFinite
	}
	if f == 0 {
		mantissa, _, _ := strings.Cut(strings.ToLower(s), "e")
		if strings.ContainsAny(mantissa, "123456789") {
			return 0, errUnderflow
		}
	}
	return f, nil
}

func describe(raw any) string {
	switch v := raw.(type) {
	case string:
		return fmt.Sprintf("string %q", v)
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", raw)
}
