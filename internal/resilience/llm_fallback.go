package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/calcagent/internal/observe"
	"github.com/MrWong99/calcagent/pkg/provider/llm"
)

// ErrNoProviderAvailable is returned by [LLMFallback.Ready] when every
// backend's circuit breaker is open.
var ErrNoProviderAvailable = errors.New("resilience: no llm provider available")

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// LLM backends. Each backend has its own circuit breaker; when the primary fails
// or its breaker is open, the next healthy fallback is tried.
type LLMFallback struct {
	group   *FallbackGroup[llm.Provider]
	metrics *observe.Metrics
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// LLMOption configures an [LLMFallback].
type LLMOption func(*LLMFallback)

// WithMetrics records provider request, error and latency metrics for every
// attempt. Without it [observe.DefaultMetrics] is used.
func WithMetrics(m *observe.Metrics) LLMOption {
	return func(f *LLMFallback) {
		f.metrics = m
	}
}

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig, opts ...LLMOption) *LLMFallback {
	f := &LLMFallback{}
	for _, o := range opts {
		o(f)
	}
	if f.metrics == nil {
		f.metrics = observe.DefaultMetrics()
	}
	f.group = NewFallbackGroup(primary, primaryName, cfg)
	return f
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Health reports the breaker state of every backend.
func (f *LLMFallback) Health() []EntryHealth {
	return f.group.Health()
}

// Ready returns nil when at least one backend would accept a request. It is
// shaped as a readiness check.
func (f *LLMFallback) Ready(context.Context) error {
	if f.group.Available() {
		return nil
	}
	return ErrNoProviderAvailable
}

// call runs fn against the group, recording one provider request per attempt.
func call[R any](ctx context.Context, f *LLMFallback, kind string, fn func(llm.Provider) (R, error)) (R, error) {
	res, err := ExecuteNamed(f.group, func(name string, p llm.Provider) (R, error) {
		start := time.Now()
		r, err := fn(p)
		status := observe.StatusOK
		if err != nil {
			status = observe.StatusError
			f.metrics.RecordProviderError(ctx, name, kind)
		}
		f.metrics.RecordProviderRequest(ctx, name, kind, status)
		f.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("provider", name)))
		return r, err
	})
	if err != nil {
		var zero R
		return zero, fmt.Errorf("resilience: %s: %w", kind, err)
	}
	return res, nil
}

// Complete sends the request to the first healthy provider and returns its
// response. If the primary fails, subsequent fallbacks are tried.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return call(ctx, f, "complete", func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion sends the request to the first healthy provider and returns a
// streaming chunk channel. Only the initial connection attempt is covered
// by failover; once a stream is established, mid-stream errors are the caller's
// responsibility.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return call(ctx, f, "stream", func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// CountTokens delegates to the first healthy provider's token counter.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities returns the capabilities of the primary. This does not
// participate in failover because capabilities are static metadata.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	return f.group.Primary().Capabilities()
}
