package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/calcagent/internal/calculator"
	"github.com/MrWong99/calcagent/internal/dispatch"
	"github.com/MrWong99/calcagent/internal/observe"
	"github.com/MrWong99/calcagent/internal/toolhost"
	"github.com/MrWong99/calcagent/pkg/provider/llm"
	"github.com/MrWong99/calcagent/pkg/provider/llm/mock"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func newHost(t *testing.T, m *observe.Metrics) *toolhost.Host {
	t.Helper()
	reg, err := calculator.NewRegistry()
	if err != nil {
		t.Fatalf("calculator.NewRegistry: %v", err)
	}
	return toolhost.New(reg, toolhost.WithMetrics(m))
}

func newAgent(t *testing.T, p llm.Provider, mutate func(*Config)) *Agent {
	t.Helper()
	m, _ := testMetrics(t)
	cfg := Config{Provider: p, Tools: newHost(t, m), Metrics: m}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func userInput(text string) []llm.Message {
	return []llm.Message{{Role: llm.RoleUser, Content: text}}
}

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: args}
}

// ─── New ─────────────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxTurns: -1})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"provider is required", "tool executor is required", "max turns"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	a := newAgent(t, &mock.Provider{}, nil)
	if a.Name() != DefaultName {
		t.Errorf("Name = %q, want %q", a.Name(), DefaultName)
	}
	if a.cfg.Instructions != DefaultInstructions {
		t.Errorf("Instructions = %q", a.cfg.Instructions)
	}
	if !strings.HasPrefix(DefaultInstructions, "You are a helpful assistant tasked with performing arithmetic on a set of inputs.") {
		t.Errorf("DefaultInstructions = %q", DefaultInstructions)
	}
	if a.cfg.MaxTurns != DefaultMaxTurns || a.cfg.MaxRepeatedCalls != DefaultMaxRepeatedCalls {
		t.Errorf("MaxTurns/MaxRepeatedCalls = %d/%d", a.cfg.MaxTurns, a.cfg.MaxRepeatedCalls)
	}
	if len(a.tools) != 3 {
		t.Errorf("tools = %d, want 3", len(a.tools))
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

func TestRun_DirectAnswer(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "Hello!",
		Usage:   llm.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12},
	}}
	a := newAgent(t, p, nil)

	resp, err := a.Run(context.Background(), userInput("hi"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Output != "Hello!" {
		t.Errorf("Output = %q", resp.Output)
	}
	if resp.Turns != 1 || len(resp.ToolCalls) != 0 {
		t.Errorf("Turns/ToolCalls = %d/%d, want 1/0", resp.Turns, len(resp.ToolCalls))
	}
	if resp.Usage.TotalTokens != 12 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
	if !strings.HasPrefix(resp.ID, "resp_") {
		t.Errorf("ID = %q, want resp_ prefix", resp.ID)
	}
	if len(resp.Messages) != 2 || resp.Messages[1].Role != llm.RoleAssistant {
		t.Errorf("Messages = %+v", resp.Messages)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("Complete calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if req.SystemPrompt != DefaultInstructions {
		t.Errorf("SystemPrompt = %q", req.SystemPrompt)
	}
	if len(req.Tools) != 3 {
		t.Errorf("Tools = %d, want 3", len(req.Tools))
	}
}

func TestRun_ToolRoundTrip(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponses: []*llm.CompletionResponse{
		{
			ToolCalls: []llm.ToolCall{
				toolCall("c1", "add", `{"a": 2, "b": 3}`),
				toolCall("c2", "divide", `{"a": 1, "b": 4}`),
			},
			Usage: llm.Usage{TotalTokens: 20},
		},
		{Content: "2+3 is 5 and 1/4 is 0.25.", Usage: llm.Usage{TotalTokens: 30}},
	}}
	a := newAgent(t, p, nil)

	resp, err := a.Run(context.Background(), userInput("2+3 and 1/4?"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Turns != 2 {
		t.Errorf("Turns = %d, want 2", resp.Turns)
	}
	if resp.Usage.TotalTokens != 50 {
		t.Errorf("TotalTokens = %d, want 50", resp.Usage.TotalTokens)
	}

	want := []ToolInvocation{
		{ID: "c1", Name: "add", Arguments: `{"a": 2, "b": 3}`, Output: `{"result":5}`, Turn: 1},
		{ID: "c2", Name: "divide", Arguments: `{"a": 1, "b": 4}`, Output: `{"result":0.25}`, Turn: 1},
	}
	if len(resp.ToolCalls) != len(want) {
		t.Fatalf("ToolCalls = %+v", resp.ToolCalls)
	}
	for i, w := range want {
		if resp.ToolCalls[i] != w {
			t.Errorf("ToolCalls[%d] = %+v, want %+v", i, resp.ToolCalls[i], w)
		}
	}

	// The second completion sees: user, assistant(tool calls), tool, tool.
	second := p.Calls()[1].Req.Messages
	if len(second) != 4 {
		t.Fatalf("second request messages = %d, want 4", len(second))
	}
	if len(second[1].ToolCalls) != 2 {
		t.Errorf("assistant tool calls = %d, want 2", len(second[1].ToolCalls))
	}
	for i, id := range []string{"c1", "c2"} {
		msg := second[2+i]
		if msg.Role != llm.RoleTool || msg.ToolCallID != id {
			t.Errorf("message %d = %+v, want tool result for %s", 2+i, msg, id)
		}
	}
}

func TestRun_ToolFailureReachesModel(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponses: []*llm.CompletionResponse{
		{ToolCalls: []llm.ToolCall{toolCall("c1", "divide", `{"a": 1, "b": 0}`)}},
		{Content: "You cannot divide by zero."},
	}}
	a := newAgent(t, p, nil)

	resp, err := a.Run(context.Background(), userInput("1/0?"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	tc := resp.ToolCalls[0]
	if !tc.IsError || tc.Kind != dispatch.ErrDivisionByZero {
		t.Errorf("invocation = %+v, want division_by_zero", tc)
	}
	wantContent := `{"error":{"kind":"division_by_zero","message":"division by zero"}}`
	if tc.Output != wantContent {
		t.Errorf("Output = %s, want %s", tc.Output, wantContent)
	}
	if resp.Output != "You cannot divide by zero." {
		t.Errorf("Output = %q", resp.Output)
	}
}

func TestRun_UnknownToolAndBadArguments(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponses: []*llm.CompletionResponse{
		{ToolCalls: []llm.ToolCall{
			toolCall("c1", "subtract", `{"a": 1, "b": 2}`),
			toolCall("c2", "add", `not json`),
			toolCall("c3", "add", `{"a": "x", "b": 2}`),
		}},
		{Content: "done"},
	}}
	a := newAgent(t, p, nil)

	resp, err := a.Run(context.Background(), userInput("?"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	kinds := []dispatch.ErrorKind{dispatch.ErrUnknownTool, dispatch.ErrInvalidArgument, dispatch.ErrInvalidArgument}
	for i, k := range kinds {
		if got := resp.ToolCalls[i].Kind; got != k {
			t.Errorf("ToolCalls[%d].Kind = %q, want %q", i, got, k)
		}
	}
}

func TestRun_GeneratesMissingCallIDs(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponses: []*llm.CompletionResponse{
		{ToolCalls: []llm.ToolCall{toolCall("", "multiply", `{"a": 3, "b": 4}`)}},
		{Content: "12"},
	}}
	a := newAgent(t, p, nil)

	resp, err := a.Run(context.Background(), userInput("3*4"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	id := resp.ToolCalls[0].ID
	if !strings.HasPrefix(id, "call_") {
		t.Fatalf("generated ID = %q, want call_ prefix", id)
	}
	msgs := p.Calls()[1].Req.Messages
	if msgs[1].ToolCalls[0].ID != id || msgs[2].ToolCallID != id {
		t.Errorf("assistant/tool messages do not share generated ID %q", id)
	}
}

func TestRun_MaxTurns(t *testing.T) {
	t.Parallel()

	n := 0
	p := &mock.Provider{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		n++
		// Distinct arguments each turn so the repeat guard stays quiet.
		args := `{"a": ` + strings.Repeat("1", n) + `, "b": 1}`
		return &llm.CompletionResponse{ToolCalls: []llm.ToolCall{toolCall("", "add", args)}}, nil
	}}
	a := newAgent(t, p, func(c *Config) { c.MaxTurns = 3 })

	resp, err := a.Run(context.Background(), userInput("loop"))
	if !errors.Is(err, ErrMaxTurns) {
		t.Fatalf("err = %v, want ErrMaxTurns", err)
	}
	if resp.Turns != 3 || len(resp.ToolCalls) != 3 {
		t.Errorf("Turns/ToolCalls = %d/%d, want 3/3", resp.Turns, len(resp.ToolCalls))
	}
}

func TestRun_RepeatedToolCall(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{
		ToolCalls: []llm.ToolCall{toolCall("", "add", `{"a": 1, "b": 1}`)},
	}}
	a := newAgent(t, p, func(c *Config) {
		c.MaxTurns = 10
		c.MaxRepeatedCalls = 2
	})

	resp, err := a.Run(context.Background(), userInput("loop"))
	if !errors.Is(err, ErrRepeatedToolCall) {
		t.Fatalf("err = %v, want ErrRepeatedToolCall", err)
	}
	// The first call plus two repeats execute; the third repeat aborts.
	if len(resp.ToolCalls) != 3 {
		t.Errorf("ToolCalls = %d, want 3", len(resp.ToolCalls))
	}
	if resp.Turns != 4 {
		t.Errorf("Turns = %d, want 4", resp.Turns)
	}
}

func TestRun_ProviderError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	m, reader := testMetrics(t)
	a, err := New(Config{
		Provider: &mock.Provider{CompleteErr: boom},
		Tools:    newHost(t, m),
		Metrics:  m,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := a.Run(context.Background(), userInput("hi"))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if !strings.Contains(err.Error(), "turn 1") {
		t.Errorf("err = %q, want turn number", err)
	}
	if resp == nil || resp.Turns != 1 {
		t.Errorf("resp = %+v, want partial response with 1 turn", resp)
	}
	if got := counterTotal(t, reader, "calcagent.agent.runs"); got != 1 {
		t.Errorf("agent runs = %d, want 1", got)
	}
}

func TestRun_NilCompletion(t *testing.T) {
	t.Parallel()

	a := newAgent(t, &mock.Provider{}, nil)
	if _, err := a.Run(context.Background(), userInput("hi")); !errors.Is(err, errNoCompletion) {
		t.Fatalf("err = %v, want errNoCompletion", err)
	}
}

func TestRun_EmptyInput(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	a := newAgent(t, p, nil)
	if _, err := a.Run(context.Background(), nil); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("err = %v, want ErrEmptyInput", err)
	}
	if len(p.Calls()) != 0 {
		t.Error("provider called for empty input")
	}
}

func TestRun_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := &mock.Provider{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		cancel()
		return &llm.CompletionResponse{ToolCalls: []llm.ToolCall{toolCall("c1", "add", `{"a": 1, "b": 2}`)}}, nil
	}}
	a := newAgent(t, p, nil)

	_, err := a.Run(ctx, userInput("hi"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(p.Calls()) != 1 {
		t.Errorf("Complete calls = %d, want 1", len(p.Calls()))
	}
}

func TestRun_RecordsMetrics(t *testing.T) {
	t.Parallel()

	m, reader := testMetrics(t)
	p := &mock.Provider{CompleteResponses: []*llm.CompletionResponse{
		{ToolCalls: []llm.ToolCall{toolCall("c1", "add", `{"a": 1, "b": 2}`)}},
		{Content: "3"},
	}}
	a, err := New(Config{Provider: p, Tools: newHost(t, m), Metrics: m})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.Run(context.Background(), userInput("1+2")); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := counterTotal(t, reader, "calcagent.agent.runs"); got != 1 {
		t.Errorf("agent runs = %d, want 1", got)
	}
	if got := counterTotal(t, reader, "calcagent.agent.turns"); got != 2 {
		t.Errorf("agent turns = %d, want 2", got)
	}
	if got := counterTotal(t, reader, "calcagent.active_runs"); got != 0 {
		t.Errorf("active runs = %d, want 0 after completion", got)
	}
}

// ─── repeatTracker ───────────────────────────────────────────────────────────

func TestRepeatTracker(t *testing.T) {
	t.Parallel()

	tr := newRepeatTracker(1)
	steps := []struct {
		name, args string
		want       bool
	}{
		{"add", "{}", false},
		{"add", "{}", false},
		{"add", "{}", true},
		{"multiply", "{}", false},
		{"add", "{}", false},
		{"add", `{"a":1}`, false},
	}
	for i, s := range steps {
		if got := tr.exceeded(s.name, s.args); got != s.want {
			t.Errorf("step %d exceeded(%s, %s) = %v, want %v", i, s.name, s.args, got, s.want)
		}
	}
}
