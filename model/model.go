// Package model provides the provider-agnostic LLM abstraction used by the
// agent pipeline and the review engine. It defines chat completion, streaming,
// and embedding contracts so callers never couple to a specific SDK;
// implementations live in model/anthropic and model/openai. Model identifiers
// are opaque strings; only the tier router chooses among them.
package model

import (
	"context"
	"errors"
	"fmt"
)

// Tier names a capability class. Callers request a tier; the router maps it to
// the configured concrete model identifier.
type Tier string

const (
	// TierFast is the cheap, low-latency model used for classification,
	// routing, and title generation.
	TierFast Tier = "fast"
	// TierStandard is the main generation model.
	TierStandard Tier = "standard"
	// TierAdvanced is the high-reasoning model reserved for complex queries.
	TierAdvanced Tier = "advanced"
)

type (
	// Client is the contract for chat generation. Implementations wrap
	// provider SDKs and must be safe for concurrent use.
	Client interface {
		// Complete sends a single-shot completion request and returns the
		// full response.
		Complete(ctx context.Context, req Request) (Response, error)

		// Stream sends a completion request and returns a Streamer yielding
		// incremental chunks. The caller must Close the streamer.
		Stream(ctx context.Context, req Request) (Streamer, error)
	}

	// Streamer delivers incremental model output. Successive Recv calls
	// return chunks until io.EOF. Single-goroutine use; Close releases the
	// underlying stream.
	Streamer interface {
		// Recv returns the next chunk from the stream.
		Recv() (Chunk, error)
		// Close closes the stream.
		Close() error
	}

	// Embedder produces dense query/document embeddings.
	Embedder interface {
		// Embed returns one vector per input text, in input order.
		Embed(ctx context.Context, texts []string) ([][]float32, error)
	}

	// Request captures the normalized parameters for a model invocation.
	Request struct {
		// Model is the provider-specific identifier. When empty, Tier is
		// resolved through the client's router.
		Model string
		// Tier selects a capability class when Model is empty.
		Tier Tier
		// System is the system prompt, if any.
		System string
		// Messages is the ordered chat history.
		Messages []Message
		// MaxTokens caps completion length. Zero uses the client default.
		MaxTokens int
		// Temperature controls sampling. Zero means provider default.
		Temperature float64
	}

	// Message is one turn of chat history.
	Message struct {
		// Role is "user" or "assistant".
		Role string
		// Content is the message text.
		Content string
	}

	// Response wraps a completed generation.
	Response struct {
		// Text is the concatenated assistant output.
		Text string
		// Model is the concrete model identifier that produced the response.
		Model string
		// Usage reports token counts when the provider supplies them.
		Usage TokenUsage
		// StopReason is the provider-specific termination reason.
		StopReason string
	}

	// Chunk is one streaming event. Type indicates which fields are set.
	Chunk struct {
		// Type is one of the ChunkType constants.
		Type string
		// Text is the incremental text when Type is ChunkTypeText.
		Text string
		// Usage reports incremental token usage when Type is ChunkTypeUsage.
		Usage *TokenUsage
		// StopReason is set when Type is ChunkTypeStop.
		StopReason string
	}

	// TokenUsage records prompt and completion token counts.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
	}

	// TierRouter maps capability tiers to configured model identifiers.
	TierRouter struct {
		// Fast is the model identifier for TierFast.
		Fast string
		// Standard is the model identifier for TierStandard.
		Standard string
		// Advanced is the model identifier for TierAdvanced.
		Advanced string
	}
)

// Chunk type constants.
const (
	ChunkTypeText  = "text"
	ChunkTypeUsage = "usage"
	ChunkTypeStop  = "stop"
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrRateLimited marks provider rate limiting; callers may retry with backoff.
var ErrRateLimited = errors.New("model: rate limited")

// Resolve returns the model identifier for a request: an explicit Model wins,
// otherwise the tier mapping applies, defaulting to the standard tier.
func (r TierRouter) Resolve(req Request) (string, error) {
	if req.Model != "" {
		return req.Model, nil
	}
	switch req.Tier {
	case TierFast:
		if r.Fast != "" {
			return r.Fast, nil
		}
	case TierAdvanced:
		if r.Advanced != "" {
			return r.Advanced, nil
		}
	case TierStandard, "":
	default:
		return "", fmt.Errorf("model: unknown tier %q", req.Tier)
	}
	if r.Standard == "" {
		return "", errors.New("model: no model configured for standard tier")
	}
	return r.Standard, nil
}
