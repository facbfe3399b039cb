// Package agent runs the calculator agent's tool-calling loop.
//
// An [Agent] pairs an [llm.Provider] with a [ToolExecutor]. [Agent.Run] sends
// the conversation to the model together with every tool definition, executes
// each tool call the model requests, feeds the JSON results back as tool
// messages, and repeats until the model answers in plain text.
//
// Tool failures never abort a run: they reach the model as
// {"error": {"kind": ..., "message": ...}} content so it can correct itself.
// A run does stop with [ErrMaxTurns] when the model keeps calling tools, with
// [ErrRepeatedToolCall] when it issues the same call over and over, and with
// [ErrContextWindow] when the conversation no longer fits the model.
//
// [Agent.Stream] runs the same loop over [llm.Provider.StreamCompletion] and
// reports text deltas and executed tool calls as they happen.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/calcagent/internal/dispatch"
	"github.com/MrWong99/calcagent/internal/observe"
	"github.com/MrWong99/calcagent/internal/toolhost"
	"github.com/MrWong99/calcagent/pkg/provider/llm"
)

// Defaults applied by [New] to zero-valued [Config] fields.
const (
	DefaultName             = "CalculatorAgent"
	DefaultInstructions     = "You are a helpful assistant tasked with performing arithmetic on a set of inputs. Use the provided tools to perform calculations."
	DefaultMaxTurns         = 8
	DefaultMaxRepeatedCalls = 3
)

var (
	// ErrMaxTurns is returned by [Agent.Run] when the model is still calling
	// tools after the configured number of completions.
	ErrMaxTurns = errors.New("agent: maximum turns reached")

	// ErrRepeatedToolCall is returned by [Agent.Run] when the model issues the
	// same tool call with the same arguments too many times in a row.
	ErrRepeatedToolCall = errors.New("agent: tool call repeated too many times")

	// ErrEmptyInput is returned by [Agent.Run] when there is nothing to answer.
	ErrEmptyInput = errors.New("agent: input must contain at least one message")

	// ErrContextWindow is returned by [Agent.Run] when the estimated prompt of
	// the next completion exceeds the prompt budget.
	ErrContextWindow = errors.New("agent: conversation exceeds the model context window")

	errNoCompletion = errors.New("provider returned no completion")
)

// ToolExecutor offers tools to the model and runs its tool calls.
// [*toolhost.Host] is the production implementation.
type ToolExecutor interface {
	Definitions() []llm.ToolDefinition
	ExecuteTool(ctx context.Context, name string, args string) *toolhost.ToolResult
}

// Config configures an [Agent].
type Config struct {
	// Name identifies the agent in metrics, spans and logs.
	Name string

	// Instructions is sent as the system prompt of every completion.
	Instructions string

	// Provider is the model backend. Required.
	Provider llm.Provider

	// Tools executes the model's tool calls. Required.
	Tools ToolExecutor

	// MaxTurns caps the number of completions per run.
	MaxTurns int

	// MaxRepeatedCalls is how many times the same call may be repeated back to
	// back before the run is aborted.
	MaxRepeatedCalls int

	// Temperature and MaxTokens are passed through to the provider; zero means
	// provider default.
	Temperature float64
	MaxTokens   int

	// MaxPromptTokens bounds the estimated prompt of each completion. Zero
	// derives it from the provider's context window minus MaxTokens.
	MaxPromptTokens int

	// Metrics receives run metrics. Default: [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger receives construction warnings. Default: [slog.Default].
	Logger *slog.Logger
}

// ToolInvocation records one executed tool call.
type ToolInvocation struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Arguments string             `json:"arguments"`
	Output    string             `json:"output"`
	IsError   bool               `json:"is_error"`
	Kind      dispatch.ErrorKind `json:"error_kind,omitempty"`
	Turn      int                `json:"turn"`
}

// Response is the outcome of one [Agent.Run].
type Response struct {
	// ID uniquely identifies the run.
	ID string

	// Output is the model's final text answer.
	Output string

	// Messages is the full conversation including the input, assistant tool
	// call messages, tool results and the final answer.
	Messages []llm.Message

	// ToolCalls lists every executed tool call in order.
	ToolCalls []ToolInvocation

	// Usage sums token usage across all completions.
	Usage llm.Usage

	// Turns is the number of completions issued.
	Turns int
}

// EventType names a streamed [Event].
type EventType string

const (
	// EventTextDelta carries a fragment of assistant text.
	EventTextDelta EventType = "response.output_text.delta"

	// EventToolCall carries a tool call once it has been executed.
	EventToolCall EventType = "response.tool_call"
)

// Event is one progress report of [Agent.Stream].
type Event struct {
	Type     EventType
	Delta    string
	ToolCall *ToolInvocation
}

// EmitFunc receives stream events in order. Returning an error aborts the
// run with that error.
type EmitFunc func(Event) error

// Agent is a configured calculator agent. It holds no per-run state and is
// safe for concurrent use.
type Agent struct {
	cfg   Config
	caps  llm.ModelCapabilities
	tools []llm.ToolDefinition
}

// New validates cfg, applies defaults and returns a ready Agent.
func New(cfg Config) (*Agent, error) {
	var errs []error
	if cfg.Provider == nil {
		errs = append(errs, errors.New("agent: provider is required"))
	}
	if cfg.Tools == nil {
		errs = append(errs, errors.New("agent: tool executor is required"))
	}
	if cfg.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("agent: max turns must not be negative, got %d", cfg.MaxTurns))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Instructions == "" {
		cfg.Instructions = DefaultInstructions
	}
	if cfg.MaxTurns == 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.MaxRepeatedCalls <= 0 {
		cfg.MaxRepeatedCalls = DefaultMaxRepeatedCalls
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	a := &Agent{cfg: cfg, caps: cfg.Provider.Capabilities(), tools: cfg.Tools.Definitions()}
	if !a.caps.SupportsToolCalling {
		cfg.Logger.Warn("model does not report tool calling; calculator tools may be ignored", "agent", cfg.Name)
	}
	return a, nil
}

// Name returns the agent's configured name.
func (a *Agent) Name() string { return a.cfg.Name }

// Provider returns the agent's model backend.
func (a *Agent) Provider() llm.Provider { return a.cfg.Provider }

// PromptBudget returns the largest estimated prompt a completion may carry,
// or 0 when there is no limit.
func (a *Agent) PromptBudget() int {
	if a.cfg.MaxPromptTokens > 0 {
		return a.cfg.MaxPromptTokens
	}
	window := a.caps.ContextWindow
	if window <= 0 {
		return 0
	}
	if limit := window - a.cfg.MaxTokens; limit > 0 {
		return limit
	}
	return window
}

// Run answers input, calling tools as the model requests.
//
// On error the returned Response is still non-nil and holds everything that
// happened before the failure.
func (a *Agent) Run(ctx context.Context, input []llm.Message) (*Response, error) {
	return a.execute(ctx, input, nil)
}

// Stream is [Agent.Run] with progress reporting: emit receives every text
// delta and every executed tool call before Stream returns. Models that do not
// support streaming are completed in one call and reported as a single delta.
func (a *Agent) Stream(ctx context.Context, input []llm.Message, emit EmitFunc) (*Response, error) {
	if emit == nil {
		emit = func(Event) error { return nil }
	}
	return a.execute(ctx, input, emit)
}

func (a *Agent) execute(ctx context.Context, input []llm.Message, emit EmitFunc) (*Response, error) {
	resp := &Response{ID: "resp_" + uuid.NewString()}
	if len(input) == 0 {
		return resp, ErrEmptyInput
	}

	ctx, span := observe.StartSpan(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("agent", a.cfg.Name),
			attribute.String("run_id", resp.ID),
			attribute.Bool("stream", emit != nil),
		))
	defer span.End()

	m := a.cfg.Metrics
	agentAttr := metric.WithAttributes(attribute.String("agent", a.cfg.Name))
	m.ActiveRuns.Add(ctx, 1, agentAttr)
	defer m.ActiveRuns.Add(ctx, -1, agentAttr)

	start := time.Now()
	err := a.run(ctx, resp, input, emit)

	status := observe.StatusOK
	if err != nil {
		status = observe.StatusError
		observe.RecordError(span, err)
	}
	span.SetAttributes(
		attribute.Int("turns", resp.Turns),
		attribute.Int("tool_calls", len(resp.ToolCalls)),
	)
	m.RecordAgentRun(ctx, a.cfg.Name, status, time.Since(start).Seconds(), resp.Turns)

	log := observe.Logger(ctx).With("agent", a.cfg.Name, "run_id", resp.ID)
	if err != nil {
		log.Warn("agent run failed", "turns", resp.Turns, "err", err)
	} else {
		log.Debug("agent run completed",
			"turns", resp.Turns,
			"tool_calls", len(resp.ToolCalls),
			"duration", time.Since(start),
		)
	}
	return resp, err
}

func (a *Agent) run(ctx context.Context, resp *Response, input []llm.Message, emit EmitFunc) error {
	resp.Messages = append(make([]llm.Message, 0, len(input)+4), input...)
	tracker := newRepeatTracker(a.cfg.MaxRepeatedCalls)

	for turn := 1; turn <= a.cfg.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.checkPrompt(ctx, resp.Messages); err != nil {
			return fmt.Errorf("agent: turn %d: %w", turn, err)
		}

		completion, err := a.complete(ctx, llm.CompletionRequest{
			SystemPrompt: a.cfg.Instructions,
			Messages:     resp.Messages,
			Tools:        a.tools,
			Temperature:  a.cfg.Temperature,
			MaxTokens:    a.cfg.MaxTokens,
		}, emit)
		resp.Turns = turn
		if err != nil {
			return fmt.Errorf("agent: turn %d: %w", turn, err)
		}
		if completion == nil {
			return fmt.Errorf("agent: turn %d: %w", turn, errNoCompletion)
		}
		resp.Usage = resp.Usage.Add(completion.Usage)

		if len(completion.ToolCalls) == 0 {
			resp.Output = completion.Content
			resp.Messages = append(resp.Messages, llm.Message{
				Role:    llm.RoleAssistant,
				Content: completion.Content,
			})
			return nil
		}

		calls := make([]llm.ToolCall, len(completion.ToolCalls))
		for i, tc := range completion.ToolCalls {
			if tc.ID == "" {
				tc.ID = "call_" + uuid.NewString()
			}
			calls[i] = tc
		}
		resp.Messages = append(resp.Messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: calls,
		})

		for _, tc := range calls {
			if tracker.exceeded(tc.Name, tc.Arguments) {
				return fmt.Errorf("%w: %s(%s)", ErrRepeatedToolCall, tc.Name, tc.Arguments)
			}
			result := a.cfg.Tools.ExecuteTool(ctx, tc.Name, tc.Arguments)
			resp.Messages = append(resp.Messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    result.Content,
				ToolCallID: tc.ID,
			})
			inv := ToolInvocation{
				ID:        tc.ID,
				Name:      tc.Name,
				Arguments: tc.Arguments,
				Output:    result.Content,
				IsError:   result.IsError,
				Kind:      result.Kind,
				Turn:      turn,
			}
			resp.ToolCalls = append(resp.ToolCalls, inv)
			if emit != nil {
				if err := emit(Event{Type: EventToolCall, ToolCall: &inv}); err != nil {
					return err
				}
			}
		}
	}
	return fmt.Errorf("%w (%d)", ErrMaxTurns, a.cfg.MaxTurns)
}

// complete issues one completion. Without emit it is a plain Complete call;
// with emit the reply is streamed when the model supports it.
func (a *Agent) complete(ctx context.Context, req llm.CompletionRequest, emit EmitFunc) (*llm.CompletionResponse, error) {
	if emit == nil {
		return a.cfg.Provider.Complete(ctx, req)
	}
	onText := func(s string) error { return emit(Event{Type: EventTextDelta, Delta: s}) }

	if !a.caps.SupportsStreaming {
		completion, err := a.cfg.Provider.Complete(ctx, req)
		if err != nil || completion == nil || completion.Content == "" {
			return completion, err
		}
		return completion, onText(completion.Content)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := a.cfg.Provider.StreamCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	return llm.Collect(ctx, ch, onText)
}

// checkPrompt estimates the next prompt, system instructions included, and
// rejects it when it is over budget. A provider that cannot count does not
// block the run.
func (a *Agent) checkPrompt(ctx context.Context, msgs []llm.Message) error {
	prompt := make([]llm.Message, 0, len(msgs)+1)
	prompt = append(prompt, llm.Message{Role: llm.RoleSystem, Content: a.cfg.Instructions})
	prompt = append(prompt, msgs...)

	log := observe.Logger(ctx)
	n, err := a.cfg.Provider.CountTokens(prompt)
	if err != nil {
		log.Debug("prompt size unknown", "agent", a.cfg.Name, "err", err)
		return nil
	}
	limit := a.PromptBudget()
	log.Debug("prompt size", "agent", a.cfg.Name, "tokens", n, "limit", limit)
	if limit > 0 && n > limit {
		return fmt.Errorf("%w: about %d tokens, limit %d", ErrContextWindow, n, limit)
	}
	return nil
}

// repeatTracker detects the model issuing the same call back to back.
type repeatTracker struct {
	max     int
	last    string
	repeats int
}

func newRepeatTracker(max int) *repeatTracker {
	return &repeatTracker{max: max}
}

// exceeded records a call and reports whether it has now been repeated more
// than max times in a row.
func (t *repeatTracker) exceeded(name, args string) bool {
	sig := name + ":" + args
	if sig != t.last {
		t.last = sig
		t.repeats = 0
		return false
	}
	t.repeats++
	return t.repeats > t.max
}
