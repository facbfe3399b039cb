// Package calculator provides the arithmetic tools served by the agent.
//
// Three tools are exported via [Tools]:
//   - "add": sums two numbers.
//   - "multiply": multiplies two numbers.
//   - "divide": divides the first number by the second.
//
// add and multiply keep integer results when both operands are integers and
// switch to floating point as soon as either operand is a float. Integer
// arithmetic wraps on overflow. divide always returns a float and reports
// [dispatch.ErrDivisionByZero] instead of producing an infinity.
package calculator

import (
	"github.com/MrWong99/calcagent/internal/dispatch"
)

// Tool names.
const (
	AddName      = "add"
	MultiplyName = "multiply"
	DivideName   = "divide"
)

// Add returns a+b. Two integers produce an integer; any float operand
// produces a float.
func Add(a, b dispatch.Value) dispatch.Value {
	if bothIntegers(a, b) {
		return dispatch.Int(a.Int() + b.Int())
	}
	return dispatch.Float(a.Float() + b.Float())
}

// Multiply returns a*b following the same kind rule as [Add].
func Multiply(a, b dispatch.Value) dispatch.Value {
	if bothIntegers(a, b) {
		return dispatch.Int(a.Int() * b.Int())
	}
	return dispatch.Float(a.Float() * b.Float())
}

// Divide returns a/b as a float. A zero divisor yields a division_by_zero
// failure.
func Divide(a, b dispatch.Value) (dispatch.Value, error) {
	if b.Float() == 0 {
		return dispatch.Value{}, dispatch.Fail(dispatch.ErrDivisionByZero, "division by zero")
	}
	return dispatch.Float(a.Float() / b.Float()), nil
}

func bothIntegers(a, b dispatch.Value) bool {
	return a.Kind() == dispatch.KindInteger && b.Kind() == dispatch.KindInteger
}

// operands declares the two numeric parameters shared by every tool.
func operands(aDesc, bDesc string) []dispatch.ParameterSpec {
	return []dispatch.ParameterSpec{
		{Name: "a", Kind: dispatch.KindFloat, Description: aDesc, Required: true},
		{Name: "b", Kind: dispatch.KindFloat, Description: bDesc, Required: true},
	}
}

// binary adapts a two-operand function to a [dispatch.Func].
func binary(fn func(a, b dispatch.Value) (dispatch.Value, error)) dispatch.Func {
	return func(args dispatch.Args) (dispatch.Value, error) {
		return fn(args["a"], args["b"])
	}
}

func infallible(fn func(a, b dispatch.Value) dispatch.Value) func(a, b dispatch.Value) (dispatch.Value, error) {
	return func(a, b dispatch.Value) (dispatch.Value, error) {
		return fn(a, b), nil
	}
}

// Tools returns the calculator tools in registration order.
func Tools() []dispatch.Tool {
	return []dispatch.Tool{
		{
			Descriptor: dispatch.Descriptor{
				Name:        AddName,
				Description: "Adds a and b.",
				Parameters:  operands("The first number to add", "The second number to add"),
			},
			Func: binary(infallible(Add)),
		},
		{
			Descriptor: dispatch.Descriptor{
				Name:        MultiplyName,
				Description: "Multiply a and b.",
				Parameters:  operands("The first number to multiply", "The second number to multiply"),
			},
			Func: binary(infallible(Multiply)),
		},
		{
			Descriptor: dispatch.Descriptor{
				Name:        DivideName,
				Description: "Divide a and b. The result is always a floating-point number.",
				Parameters:  operands("The dividend (numerator)", "The divisor (denominator)"),
			},
			Func: binary(Divide),
		},
	}
}

// NewRegistry returns a dispatcher holding exactly the calculator tools.
func NewRegistry() (*dispatch.Registry, error) {
	return dispatch.New(Tools()...)
}
