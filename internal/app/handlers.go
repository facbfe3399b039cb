package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/MrWong99/calcagent/internal/agent"
	"github.com/MrWong99/calcagent/internal/config"
	"github.com/MrWong99/calcagent/internal/dispatch"
	"github.com/MrWong99/calcagent/internal/observe"
	"github.com/MrWong99/calcagent/internal/resilience"
	"github.com/MrWong99/calcagent/internal/toolhost"
	"github.com/MrWong99/calcagent/pkg/provider/llm"
)

// Error kinds of the HTTP surface that are not tool failures.
const (
	kindBadRequest  = "bad_request"
	kindTooLarge    = "request_too_large"
	kindUnavailable = "unavailable"
	kindMaxTurns    = "max_turns"
	kindRepeated    = "repeated_tool_call"
	kindTimeout     = "timeout"
	kindCancelled   = "cancelled"
	kindProvider    = "provider_error"
	kindContext     = "context_length_exceeded"
)

// Server-sent event names of a streamed /responses call, besides the agent's
// own delta and tool-call events.
const (
	eventCompleted = "response.completed"
	eventError     = "error"
)

var errMissingInput = errors.New("input is required")

type apiError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorBody struct {
	Error apiError `json:"error"`
}

// ─── Tools ───────────────────────────────────────────────────────────────────

type toolInfo struct {
	dispatch.Descriptor
	InputSchema *jsonschema.Schema `json:"input_schema"`
}

func newToolInfo(d dispatch.Descriptor) toolInfo {
	return toolInfo{Descriptor: d, InputSchema: d.InputSchema()}
}

type toolsBody struct {
	Tools []toolInfo `json:"tools"`
}

type statsBody struct {
	Tools []toolhost.ToolStats `json:"tools"`
}

type invokeBody struct {
	Tool  string            `json:"tool"`
	OK    bool              `json:"ok"`
	Value *dispatch.Value   `json:"value,omitempty"`
	Error *dispatch.Failure `json:"error,omitempty"`
}

func (a *App) handleListTools(w http.ResponseWriter, _ *http.Request) {
	descs := a.registry.Describe()
	body := toolsBody{Tools: make([]toolInfo, 0, len(descs))}
	for _, d := range descs {
		body.Tools = append(body.Tools, newToolInfo(d))
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *App) handleDescribeTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	d, ok := a.registry.Lookup(name)
	if !ok {
		writeError(w, http.StatusNotFound, string(dispatch.ErrUnknownTool), fmt.Sprintf("unknown tool %q", name))
		return
	}
	writeJSON(w, http.StatusOK, newToolInfo(d))
}

func (a *App) handleToolStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statsBody{Tools: a.host.Stats()})
}

// handleInvokeTool runs one tool with the request body as its JSON arguments.
// Tool failures are reported in the body with a status derived from their
// kind.
func (a *App) handleInvokeTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	args, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBody()))
	if err != nil {
		writeBodyError(w, err)
		return
	}

	res := a.host.Call(r.Context(), name, string(args))
	body := invokeBody{Tool: name, OK: res.OK()}
	if res.OK() {
		v := res.Value
		body.Value = &v
		writeJSON(w, http.StatusOK, body)
		return
	}
	body.Error = res.Failure
	writeJSON(w, failureStatus(res.Failure.Kind), body)
}

// failureStatus maps a tool failure kind to an HTTP status.
func failureStatus(kind dispatch.ErrorKind) int {
	switch kind {
	case dispatch.ErrUnknownTool:
		return http.StatusNotFound
	case dispatch.ErrMissingArgument, dispatch.ErrInvalidArgument, dispatch.ErrDivisionByZero:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// ─── Providers ───────────────────────────────────────────────────────────────

type providersBody struct {
	Configured bool                     `json:"configured"`
	Providers  []resilience.EntryHealth `json:"providers"`
}

// providerHealth is implemented by [*resilience.LLMFallback].
type providerHealth interface {
	Health() []resilience.EntryHealth
}

func (a *App) handleProviders(w http.ResponseWriter, _ *http.Request) {
	body := providersBody{Providers: []resilience.EntryHealth{}}
	if a.providers.LLM != nil {
		body.Configured = true
		if ph, ok := a.providers.LLM.(providerHealth); ok {
			body.Providers = ph.Health()
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// ─── Responses ───────────────────────────────────────────────────────────────

type responseRequest struct {
	// Input is either a plain string or an array of role/content messages.
	Input json.RawMessage `json:"input"`

	// Stream answers as server-sent events instead of one JSON body.
	Stream bool `json:"stream"`
}

type deltaBody struct {
	Delta string `json:"delta"`
}

type inputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type usageBody struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type responseBody struct {
	ID        string                 `json:"id"`
	Object    string                 `json:"object"`
	Agent     string                 `json:"agent"`
	Output    string                 `json:"output"`
	ToolCalls []agent.ToolInvocation `json:"tool_calls"`
	Usage     usageBody              `json:"usage"`
	Turns     int                    `json:"turns"`
}

func (a *App) handleResponses(w http.ResponseWriter, r *http.Request) {
	ag := a.agent.Load()
	if ag == nil {
		writeError(w, http.StatusServiceUnavailable, kindUnavailable, "no LLM provider configured")
		return
	}

	var req responseRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, a.maxBody())).Decode(&req); err != nil {
		writeBodyError(w, err)
		return
	}
	input, err := parseInput(req.Input)
	if err != nil {
		writeError(w, http.StatusBadRequest, kindBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if t := a.cfg.Server.RequestTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	if req.Stream {
		streamResponse(ctx, w, ag, input)
		return
	}

	resp, err := ag.Run(ctx, input)
	if err != nil {
		status, kind := runErrorStatus(err)
		observe.Logger(r.Context()).Warn("agent run failed", "agent", ag.Name(), "status", status, "err", err)
		writeError(w, status, kind, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newResponseBody(ag.Name(), resp))
}

// streamResponse answers with server-sent events: one per text delta and per
// executed tool call, then a final response.completed or error event. The
// status is always 200 once the stream has started.
func streamResponse(ctx context.Context, w http.ResponseWriter, ag *agent.Agent, input []llm.Message) {
	rc := http.NewResponseController(w)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	send := func(event string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	}

	resp, err := ag.Stream(ctx, input, func(ev agent.Event) error {
		switch ev.Type {
		case agent.EventTextDelta:
			return send(string(ev.Type), deltaBody{Delta: ev.Delta})
		case agent.EventToolCall:
			return send(string(ev.Type), ev.ToolCall)
		}
		return nil
	})
	if err != nil {
		status, kind := runErrorStatus(err)
		observe.Logger(ctx).Warn("agent stream failed", "agent", ag.Name(), "status", status, "err", err)
		if err := send(eventError, errorBody{Error: apiError{Kind: kind, Message: err.Error()}}); err != nil {
			observe.Logger(ctx).Debug("stream closed before error event", "err", err)
		}
		return
	}
	if err := send(eventCompleted, newResponseBody(ag.Name(), resp)); err != nil {
		observe.Logger(ctx).Debug("stream closed before completion event", "err", err)
	}
}

func newResponseBody(agentName string, resp *agent.Response) responseBody {
	calls := resp.ToolCalls
	if calls == nil {
		calls = []agent.ToolInvocation{}
	}
	return responseBody{
		ID:        resp.ID,
		Object:    "response",
		Agent:     agentName,
		Output:    resp.Output,
		ToolCalls: calls,
		Usage: usageBody{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		Turns: resp.Turns,
	}
}

// parseInput accepts a string (one user message) or an array of messages
// with roles user, assistant or system. A missing role means user.
func parseInput(raw json.RawMessage) ([]llm.Message, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, errMissingInput
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("input: %w", err)
		}
		if strings.TrimSpace(s) == "" {
			return nil, errMissingInput
		}
		return []llm.Message{{Role: llm.RoleUser, Content: s}}, nil

	case '[':
		var items []inputMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("input: %w", err)
		}
		if len(items) == 0 {
			return nil, errMissingInput
		}
		msgs := make([]llm.Message, 0, len(items))
		for i, it := range items {
			role := it.Role
			if role == "" {
				role = llm.RoleUser
			}
			switch role {
			case llm.RoleUser, llm.RoleAssistant, llm.RoleSystem:
			default:
				return nil, fmt.Errorf("input[%d]: unsupported role %q", i, it.Role)
			}
			msgs = append(msgs, llm.Message{Role: role, Content: it.Content})
		}
		return msgs, nil

	default:
		return nil, errors.New("input must be a string or an array of messages")
	}
}

// runErrorStatus maps an [agent.Agent.Run] error to a status and error kind.
func runErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, agent.ErrEmptyInput):
		return http.StatusBadRequest, kindBadRequest
	case errors.Is(err, agent.ErrContextWindow):
		return http.StatusBadRequest, kindContext
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, kindTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, kindCancelled
	case errors.Is(err, agent.ErrMaxTurns):
		return http.StatusBadGateway, kindMaxTurns
	case errors.Is(err, agent.ErrRepeatedToolCall):
		return http.StatusBadGateway, kindRepeated
	default:
		return http.StatusBadGateway, kindProvider
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (a *App) maxBody() int64 {
	if n := a.cfg.Server.MaxBodyBytes; n > 0 {
		return n
	}
	return config.DefaultMaxBodyBytes
}

func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, kindTooLarge, err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, kindBadRequest, "invalid request body: "+err.Error())
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorBody{Error: apiError{Kind: kind, Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observe.Logger(context.Background()).Warn("app: failed to encode response", "err", err)
	}
}
