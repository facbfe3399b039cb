// Package dispatch maps declared tool signatures to callables that a hosting
// runtime can invoke safely.
//
// A [Registry] is built once from explicit [Tool] values (a [Descriptor] plus a
// [Func]) and is immutable afterwards, so it may be shared by any number of
// goroutines without synchronisation. [Registry.Invoke] validates the raw
// argument map against the descriptor, coerces every argument to its declared
// [Kind], runs the callable and returns a [Result]. It never panics: every
// failure path, including a panic inside a callable, is reported as a
// [*Failure] with a stable [ErrorKind].
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
)

// Sentinel errors returned by [New].
var (
	// ErrEmptyName is returned when a tool or parameter has no name.
	ErrEmptyName = errors.New("dispatch: name must not be empty")

	// ErrDuplicateName is returned when two tools, or two parameters of the
	// same tool, share a name.
	ErrDuplicateName = errors.New("dispatch: duplicate name")

	// ErrNilFunc is returned when a tool has no callable.
	ErrNilFunc = errors.New("dispatch: tool has no callable")

	// ErrInvalidKind is returned when a parameter declares an unknown kind.
	ErrInvalidKind = errors.New("dispatch: invalid parameter kind")
)

type entry struct {
	desc Descriptor
	fn   Func
}

// Registry is an immutable set of tools. The zero value is an empty registry.
type Registry struct {
	order   []string
	entries map[string]entry
}

// New builds a registry from tools, preserving their order. All problems are
// reported together.
func New(tools ...Tool) (*Registry, error) {
	r := &Registry{
		order:   make([]string, 0, len(tools)),
		entries: make(map[string]entry, len(tools)),
	}

	var errs []error
	for i, t := range tools {
		name := t.Descriptor.Name
		if name == "" {
			errs = append(errs, fmt.Errorf("tool[%d]: %w", i, ErrEmptyName))
			continue
		}
		if _, exists := r.entries[name]; exists {
			errs = append(errs, fmt.Errorf("tool %q: %w", name, ErrDuplicateName))
			continue
		}
		if t.Func == nil {
			errs = append(errs, fmt.Errorf("tool %q: %w", name, ErrNilFunc))
		}
		errs = append(errs, validateParameters(name, t.Descriptor.Parameters)...)

		r.order = append(r.order, name)
		r.entries[name] = entry{desc: t.Descriptor.clone(), fn: t.Func}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r, nil
}

// MustNew is like [New] but panics on error. It is intended for package-level
// tool sets whose declarations are fixed at compile time.
func MustNew(tools ...Tool) *Registry {
	r, err := New(tools...)
	if err != nil {
		panic(err)
	}
	return r
}

func validateParameters(tool string, params []ParameterSpec) []error {
	var errs []error
	seen := make(map[string]bool, len(params))
	for i, p := range params {
		switch {
		case p.Name == "":
			errs = append(errs, fmt.Errorf("tool %q: parameter[%d]: %w", tool, i, ErrEmptyName))
		case seen[p.Name]:
			errs = append(errs, fmt.Errorf("tool %q: parameter %q: %w", tool, p.Name, ErrDuplicateName))
		case !p.Kind.IsValid():
			errs = append(errs, fmt.Errorf("tool %q: parameter %q: %w", tool, p.Name, ErrInvalidKind))
		}
		seen[p.Name] = true
	}
	return errs
}

// Describe returns the descriptors of all registered tools in registration
// order. The slice and its parameters are fresh copies.
func (r *Registry) Describe() []Descriptor {
	if r == nil {
		return []Descriptor{}
	}
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].desc.clone())
	}
	return out
}

// Lookup returns the descriptor of the named tool.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	if r == nil {
		return Descriptor{}, false
	}
	e, ok := r.entries[name]
	if !ok {
		return Descriptor{}, false
	}
	return e.desc.clone(), true
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return slices.Clone(r.order)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}

// Invoke validates req against the named tool's descriptor and runs the tool.
//
// Arguments are checked in a fixed order: every declared parameter must be
// present (missing_argument), every present value must coerce to its declared
// kind (invalid_argument), and no undeclared argument may be supplied
// (invalid_argument). The context is accepted for symmetry with the callers
// that carry one; tool execution is pure and is not interrupted by
// cancellation.
func (r *Registry) Invoke(_ context.Context, req Request) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = Failed(Fail(ErrInternal, "tool %s panicked: %v", req.ToolName, p))
			res.Failure.stack = debug.Stack()
		}
	}()

	e, ok := r.lookup(req.ToolName)
	if !ok {
		return Failed(Fail(ErrUnknownTool, "no such tool: %s", req.ToolName))
	}

	args, f := bind(e.desc, req.Arguments)
	if f != nil {
		return Failed(f)
	}

	v, err := e.fn(args)
	if err != nil {
		return Failed(asFailure(err))
	}
	if !v.IsValid() {
		return Failed(Fail(ErrInternal, "tool %s returned no value", req.ToolName))
	}
	return Success(v)
}

func (r *Registry) lookup(name string) (entry, bool) {
	if r == nil {
		return entry{}, false
	}
	e, ok := r.entries[name]
	return e, ok
}

// bind checks raw against the declared parameters and returns the coerced
// arguments.
func bind(desc Descriptor, raw map[string]any) (Args, *Failure) {
	for _, p := range desc.Parameters {
		if _, ok := raw[p.Name]; !ok && p.Required {
			return nil, Fail(ErrMissingArgument, "missing required argument %q", p.Name)
		}
	}

	args := make(Args, len(desc.Parameters))
	declared := make(map[string]bool, len(desc.Parameters))
	for _, p := range desc.Parameters {
		declared[p.Name] = true
		v, ok := raw[p.Name]
		if !ok {
			continue
		}
		cv, err := Coerce(p.Kind, v)
		if err != nil {
			return nil, Fail(ErrInvalidArgument, "argument %q: %v", p.Name, err)
		}
		args[p.Name] = cv
	}

	var extra []string
	for name := range raw {
		if !declared[name] {
			extra = append(extra, name)
		}
	}
	if len(extra) > 0 {
		slices.Sort(extra)
		return nil, Fail(ErrInvalidArgument, "unexpected argument %s", quoteJoin(extra))
	}
	return args, nil
}

func quoteJoin(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	return strings.Join(quoted, ", ")
}
