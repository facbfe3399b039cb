package llm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// FinishReasonError is the FinishReason of a chunk that reports a failure
// after the stream started. Its Text holds the error message.
const FinishReasonError = "error"

// ErrStream wraps failures reported inside a stream.
var ErrStream = errors.New("llm: stream failed")

// ToolCallBuffer assembles tool calls from streamed fragments, keyed by the
// backend's tool-call index. The zero value is ready to use.
type ToolCallBuffer struct {
	calls map[int]*ToolCall
}

// Add merges one fragment into the call at index. A non-empty id or name
// replaces the stored one; args is appended.
func (b *ToolCallBuffer) Add(index int, id, name, args string) {
	if b.calls == nil {
		b.calls = make(map[int]*ToolCall)
	}
	tc, ok := b.calls[index]
	if !ok {
		tc = &ToolCall{}
		b.calls[index] = tc
	}
	if id != "" {
		tc.ID = id
	}
	if name != "" {
		tc.Name = name
	}
	tc.Arguments += args
}

// Len returns the number of distinct calls seen so far.
func (b *ToolCallBuffer) Len() int { return len(b.calls) }

// Calls returns the assembled calls ordered by index, or nil when there are
// none.
func (b *ToolCallBuffer) Calls() []ToolCall {
	if len(b.calls) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(b.calls))
	for _, i := range slices.Sorted(maps.Keys(b.calls)) {
		out = append(out, *b.calls[i])
	}
	return out
}

// Collect drains a stream into a single CompletionResponse. onText, when
// non-nil, receives each text fragment as it arrives; an error from it stops
// collection and is returned as is.
//
// Collect returns early on ctx cancellation or on an error chunk. Callers
// that stop reading must cancel the context the stream was started with so
// the provider can release it.
func Collect(ctx context.Context, ch <-chan Chunk, onText func(string) error) (*CompletionResponse, error) {
	var (
		text  strings.Builder
		calls []ToolCall
	)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case c, ok := <-ch:
			if !ok {
				// Providers also close the channel when ctx ends.
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				return &CompletionResponse{Content: text.String(), ToolCalls: calls}, nil
			}
			if c.FinishReason == FinishReasonError {
				return nil, fmt.Errorf("%w: %s", ErrStream, c.Text)
			}
			if c.Text != "" {
				text.WriteString(c.Text)
				if onText != nil {
					if err := onText(c.Text); err != nil {
						return nil, err
					}
				}
			}
			calls = append(calls, c.ToolCalls...)
		}
	}
}
