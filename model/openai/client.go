// Package openai provides a model.Embedder implementation backed by the
// OpenAI embeddings API via github.com/openai/openai-go. Generation runs on
// the Anthropic adapter; this package exists for the dense vectors used by
// retrieval and the semantic cache.
package openai

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/clearline-ai/clearline/model"
)

type (
	// EmbeddingsClient captures the subset of the OpenAI SDK used by the
	// adapter. Satisfied by the SDK's embedding service and by test mocks.
	EmbeddingsClient interface {
		New(ctx context.Context, body sdk.EmbeddingNewParams, opts ...option.RequestOption) (*sdk.CreateEmbeddingResponse, error)
	}

	// Options configures the embedder.
	Options struct {
		// Model is the embedding model identifier. Required.
		Model string
		// Dimensions requests reduced-dimension output when > 0. The
		// retrieval index dimension must match.
		Dimensions int
		// BatchSize caps how many texts one API call carries. Defaults to 96.
		BatchSize int
	}

	// Embedder implements model.Embedder on top of OpenAI embeddings.
	Embedder struct {
		client EmbeddingsClient
		opts   Options
	}
)

var _ model.Embedder = (*Embedder)(nil)

// New builds an OpenAI-backed embedder.
func New(client EmbeddingsClient, opts Options) (*Embedder, error) {
	if client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("embedding model identifier is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 96
	}
	return &Embedder{client: client, opts: opts}, nil
}

// NewFromAPIKey constructs an embedder using the default OpenAI HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Embedder, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&client.Embeddings, opts)
}

// Embed returns one vector per input text, batching requests per the
// configured batch size.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.opts.BatchSize {
		end := start + e.opts.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	params := sdk.EmbeddingNewParams{
		Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: sdk.EmbeddingModel(e.opts.Model),
	}
	if e.opts.Dimensions > 0 {
		params.Dimensions = sdk.Int(int64(e.opts.Dimensions))
	}
	resp, err := e.client.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings.new: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: %d inputs produced %d vectors", len(texts), len(resp.Data))
	}
	out := make([][]float32, len(resp.Data))
	for _, item := range resp.Data {
		idx := int(item.Index)
		if idx < 0 || idx >= len(out) {
			return nil, fmt.Errorf("openai embeddings: out-of-range result index %d", idx)
		}
		vec := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float32(v)
		}
		out[idx] = vec
	}
	return out, nil
}
