// Package llm is the model-backend abstraction used by the calculator agent.
//
// A Provider wraps one chat-completion API (OpenAI, Azure OpenAI, or any
// backend reachable through any-llm) behind a single interface so the agent
// loop can offer tools, read back tool calls, and account for tokens without
// importing a vendor SDK.
//
// Providers must be safe for concurrent use.
package llm

import (
	"context"
)

// Usage is the token accounting reported for one completion. Counts are in the
// backend's own token unit.
type Usage struct {
	// PromptTokens counts the system prompt, history and tool definitions.
	PromptTokens int

	// CompletionTokens counts the generated reply, tool calls included.
	CompletionTokens int

	// TotalTokens is the sum of both. Backends that report it directly are
	// trusted as-is.
	TotalTokens int
}

// CompletionRequest is one turn of the agent loop. Messages must not be empty.
type CompletionRequest struct {
	// Messages is the conversation so far, oldest first.
	Messages []Message

	// Tools are offered to the model on this turn. Backends without tool
	// support report that through Capabilities().SupportsToolCalling.
	Tools []ToolDefinition

	// Temperature in [0.0, 2.0]. Zero asks for greedy decoding.
	Temperature float64

	// MaxTokens caps the reply. Zero leaves it to the backend.
	MaxTokens int

	// SystemPrompt carries the agent instructions. Backends without a dedicated
	// system field send it as a leading "system" message.
	SystemPrompt string
}

// Chunk is one fragment of a streamed completion. Any field may be set.
type Chunk struct {
	// Text is the incremental reply text.
	Text string

	// FinishReason is empty until the last chunk, which carries "stop",
	// "length", "tool_calls" or [FinishReasonError].
	FinishReason string

	// ToolCalls requested by the model, each complete. Adapters assemble the
	// fragments with a [ToolCallBuffer] and deliver them on the final chunk.
	ToolCalls []ToolCall
}

// CompletionResponse is the result of [Provider.Complete].
type CompletionResponse struct {
	// Content is the reply text. It is empty when the model only calls tools.
	Content string

	// ToolCalls the caller has to execute and answer with tool messages.
	ToolCalls []ToolCall

	Usage Usage
}

// Provider is a chat-completion backend.
//
// Every method honours ctx: cancellation ends the call, or closes the stream,
// promptly.
type Provider interface {
	// StreamCompletion starts a completion and returns its chunks. The channel
	// is non-nil whenever err is nil and is closed by the provider when
	// generation ends or ctx is done. Failures after the stream has started
	// arrive as a chunk with [FinishReasonError]. [Collect] drains it.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete runs a completion to the end and returns the whole reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the prompt size of messages. The agent logs it
	// before each turn; an approximation is fine as long as it does not
	// undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities describes the configured model. It does not change over the
	// life of the Provider.
	Capabilities() ModelCapabilities
}
