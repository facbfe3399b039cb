// Package toolhost sits between JSON-speaking callers (model tool calls, MCP
// sessions, the HTTP surface) and a [dispatch.Registry].
//
// A [Host] renders the registry's descriptors as LLM tool definitions, decodes
// JSON arguments, invokes tools, encodes their results as JSON and records
// per-tool latency and error statistics in rolling windows alongside the
// OpenTelemetry metrics in [observe.Metrics].
//
// Typical usage:
//
//	reg, _ := calculator.NewRegistry()
//	h := toolhost.New(reg, toolhost.WithMetrics(m))
//
//	// Offer the tools to a model.
//	defs := h.Definitions()
//
//	// Execute a model tool call.
//	res := h.ExecuteTool(ctx, "divide", `{"a": 6, "b": 3}`)
//	// res.Content == `{"result":2.0}`
package toolhost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"maps"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/calcagent/internal/dispatch"
	"github.com/MrWong99/calcagent/internal/observe"
	"github.com/MrWong99/calcagent/pkg/provider/llm"
)

// unknownToolLabel replaces unregistered tool names in metric attributes so a
// model inventing names cannot blow up label cardinality.
const unknownToolLabel = "unknown"

// ToolResult is the JSON-encoded outcome of [Host.ExecuteTool].
type ToolResult struct {
	// Content is {"result": <value>} on success or
	// {"error": {"kind": ..., "message": ...}} on failure.
	Content string

	// IsError is true when the tool failed for any reason.
	IsError bool

	// Kind is the failure's error kind; empty on success.
	Kind dispatch.ErrorKind

	// DurationMs is the wall-clock time spent decoding and invoking.
	DurationMs int64
}

// ToolStats summarises one tool's recent behaviour.
type ToolStats struct {
	Name      string  `json:"name"`
	Calls     int     `json:"calls"`
	Errors    int     `json:"errors"`
	ErrorRate float64 `json:"error_rate"`
	P50Micros int64   `json:"p50_us"`
	P99Micros int64   `json:"p99_us"`
}

// Host executes tools from an immutable [dispatch.Registry]. The zero value is
// not usable; create instances with [New]. A Host is safe for concurrent use.
type Host struct {
	reg     *dispatch.Registry
	defs    []llm.ToolDefinition
	windows map[string]*rollingWindow
	metrics *observe.Metrics
}

// Option configures a [Host].
type Option func(*options)

type options struct {
	metrics    *observe.Metrics
	windowSize int
}

// WithMetrics records tool calls to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithWindowSize sets how many recent calls per tool feed [Host.Stats].
// Default: 100.
func WithWindowSize(n int) Option {
	return func(o *options) { o.windowSize = n }
}

// New creates a Host for reg. Descriptors are rendered once; the registry
// cannot change afterwards.
func New(reg *dispatch.Registry, opts ...Option) *Host {
	o := options{windowSize: defaultWindowSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}

	descs := reg.Describe()
	h := &Host{
		reg:     reg,
		defs:    make([]llm.ToolDefinition, 0, len(descs)),
		windows: make(map[string]*rollingWindow, len(descs)),
		metrics: o.metrics,
	}
	for _, d := range descs {
		params, err := d.SchemaMap()
		if err != nil {
			slog.Warn("tool schema could not be rendered", "tool", d.Name, "err", err)
			params = map[string]any{"type": "object"}
		}
		h.defs = append(h.defs, llm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  params,
		})
		h.windows[d.Name] = newRollingWindow(o.windowSize)
	}
	return h
}

// Registry returns the registry the host dispatches to.
func (h *Host) Registry() *dispatch.Registry {
	return h.reg
}

// Definitions returns the tools as LLM tool definitions in registration order.
// The slice and the top-level parameter maps are copies.
func (h *Host) Definitions() []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, len(h.defs))
	for i, d := range h.defs {
		d.Parameters = maps.Clone(d.Parameters)
		out[i] = d
	}
	return out
}

// Invoke dispatches req and records the outcome.
func (h *Host) Invoke(ctx context.Context, req dispatch.Request) dispatch.Result {
	ctx, span := observe.StartSpan(ctx, "toolhost.invoke",
		trace.WithAttributes(attribute.String("tool", req.ToolName)))
	defer span.End()

	start := time.Now()
	res := h.reg.Invoke(ctx, req)
	h.record(ctx, req.ToolName, res, time.Since(start))

	if !res.OK() {
		observe.RecordError(span, res.Failure)
	}
	return res
}

// ExecuteTool decodes args as a JSON object, invokes name and returns the
// JSON-encoded outcome. It never returns nil. Empty args mean no arguments;
// anything that is not a single JSON object fails with invalid_argument.
func (h *Host) ExecuteTool(ctx context.Context, name string, args string) *ToolResult {
	start := time.Now()
	out := Encode(h.Call(ctx, name, args))
	out.DurationMs = time.Since(start).Milliseconds()
	return out
}

// Call is [Host.ExecuteTool] without the JSON encoding of the outcome.
func (h *Host) Call(ctx context.Context, name string, args string) dispatch.Result {
	start := time.Now()
	raw, err := decodeArguments(args)
	if err != nil {
		res := dispatch.Failed(dispatch.Fail(dispatch.ErrInvalidArgument, "arguments: %v", err))
		h.record(ctx, name, res, time.Since(start))
		return res
	}
	return h.Invoke(ctx, dispatch.Request{ToolName: name, Arguments: raw})
}

// Stats returns a snapshot of every tool's recent calls in registration order.
func (h *Host) Stats() []ToolStats {
	out := make([]ToolStats, 0, len(h.defs))
	for _, d := range h.defs {
		st := h.windows[d.Name].Snapshot()
		out = append(out, ToolStats{
			Name:      d.Name,
			Calls:     st.calls,
			Errors:    st.errors,
			ErrorRate: st.errorRate,
			P50Micros: st.p50,
			P99Micros: st.p99,
		})
	}
	return out
}

// record feeds one outcome into the rolling window, the OTel instruments and
// the log.
func (h *Host) record(ctx context.Context, name string, res dispatch.Result, elapsed time.Duration) {
	label := name
	w, known := h.windows[name]
	if known {
		w.Record(elapsed.Microseconds(), !res.OK())
	} else {
		label = unknownToolLabel
	}

	status := observe.StatusOK
	if !res.OK() {
		status = string(res.Failure.Kind)
	}
	h.metrics.RecordToolCall(ctx, label, status, elapsed.Seconds())

	if res.OK() {
		return
	}
	log := observe.Logger(ctx)
	if res.Failure.Kind == dispatch.ErrInternal {
		log.Error("tool failed",
			"tool", name,
			"kind", res.Failure.Kind,
			"err", res.Failure.Message,
			"stack", string(res.Failure.Stack()),
		)
		return
	}
	log.Debug("tool call rejected", "tool", name, "kind", res.Failure.Kind, "err", res.Failure.Message)
}

type envelope struct {
	Result *dispatch.Value   `json:"result,omitempty"`
	Error  *dispatch.Failure `json:"error,omitempty"`
}

// Encode renders res as a [ToolResult]. DurationMs is left zero.
func Encode(res dispatch.Result) *ToolResult {
	var env envelope
	out := &ToolResult{}
	if res.OK() {
		v := res.Value
		env.Result = &v
	} else {
		env.Error = res.Failure
		out.IsError = true
		out.Kind = res.Failure.Kind
	}

	data, err := json.Marshal(env)
	if err != nil {
		// Only reachable with a value that cannot be encoded.
		data, _ = json.Marshal(envelope{
			Error: dispatch.Fail(dispatch.ErrInternal, "encode result: %v", err),
		})
		out.IsError = true
		out.Kind = dispatch.ErrInternal
	}
	out.Content = string(data)
	return out
}

var errNotObject = errors.New("expected a JSON object")

// decodeArguments parses args into a map, keeping numbers as [json.Number] so
// integer literals stay integers.
func decodeArguments(args string) (map[string]any, error) {
	trimmed := bytes.TrimSpace([]byte(args))
	if len(trimmed) == 0 {
		return map[string]any{}, nil
	}
	if trimmed[0] != '{' {
		return nil, errNotObject
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON object")
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}
