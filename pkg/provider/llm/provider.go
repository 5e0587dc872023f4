// Package llm defines the Provider interface for the language-model backends
// that generate villager speech.
//
// A provider wraps a remote model API (OpenAI directly, or any backend
// supported by any-llm-go) behind a uniform single-shot completion call.
// The tick processor treats every provider as a black box with exactly one
// interesting failure mode: rate limiting, surfaced via [RateLimitError] so
// callers can decide to retry.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Message is a single entry of a completion conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// CompletionRequest carries everything a provider needs to produce one reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is an optional high-priority instruction injected before
	// the messages. Providers without a dedicated system slot prepend it as
	// a "system"-role message.
	SystemPrompt string

	// Messages is the ordered conversation. For villager speech this is a
	// single "user" message holding the rendered scene prompt.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero means use
	// the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the full, non-streaming reply.
type CompletionResponse struct {
	// Content is the text of the model's reply. May be empty; callers are
	// expected to treat empty content as "no usable line".
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Capabilities describes static metadata about a provider's model.
type Capabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum completion length in tokens.
	MaxOutputTokens int
}

// Provider is the abstraction over any LLM backend.
//
// Complete must propagate context cancellation promptly and must wrap
// upstream HTTP 429 responses in [RateLimitError].
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the underlying model. The
	// result is assumed constant for the lifetime of the Provider.
	Capabilities() Capabilities
}
