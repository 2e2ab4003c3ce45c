package engine

import (
	"context"
	"fmt"
)

// Message is one entry of the ordered list sent to the completion service.
type Message struct {
	Role    string // "system", "user" or "assistant"
	Content string
}

// CallOptions carries the sampling parameters for a single generation call.
// The orchestrator varies these between the draft, rewrite and escalation
// attempts.
type CallOptions struct {
	Temperature float64
	MaxTokens   int64
}

// Completer is the language-model service as the engine sees it. Both calls
// respect ctx cancellation; CompleteStream invokes onDelta for every text
// fragment and returns the accumulated full text.
type Completer interface {
	Complete(ctx context.Context, messages []Message, opts CallOptions) (string, error)
	CompleteStream(ctx context.Context, messages []Message, opts CallOptions, onDelta func(delta string)) (string, error)
}

// GenerationError is a failed provider call. Retryable failures (timeout,
// rate limit, transient network or server trouble) may be retried within the
// orchestrator's call budget; non-retryable ones (auth, bad request) are
// not.
type GenerationError struct {
	Retryable bool
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (retryable=%t): %v", e.Retryable, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
