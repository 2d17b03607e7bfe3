// Package embedding produces vector embeddings for case text and the
// cosine arithmetic the muscle-memory layer ranks them with.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/tmc/langchaingo/llms/openai"

	"github.com/caseops/casepilot/pkg/taxonomy"
)

// DefaultModel is the embedding model used when CASE_EMBEDDING_MODEL is
// unset.
const DefaultModel = "text-embedding-3-small"

// DefaultDimensions is the vector width of the default model.
const DefaultDimensions = 1536

// Client produces fixed-dimension embeddings for text.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// OpenAIClient is the production Client over the OpenAI embeddings API.
type OpenAIClient struct {
	llm    *openai.LLM
	model  string
	dims   int
	logger *slog.Logger
}

// Option customizes an OpenAIClient.
type Option func(*options)

type options struct {
	baseURL string
	dims    int
}

// WithBaseURL points the client at a different API host. Used in tests.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithDimensions overrides the expected vector width for non-default
// models.
func WithDimensions(dims int) Option {
	return func(o *options) { o.dims = dims }
}

// NewOpenAIClient builds the embedding client. An empty model selects
// DefaultModel.
func NewOpenAIClient(apiKey, model string, opts ...Option) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required for embeddings")
	}
	if model == "" {
		model = DefaultModel
	}

	o := options{dims: DefaultDimensions}
	for _, opt := range opts {
		opt(&o)
	}

	llmOpts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithEmbeddingModel(model),
	}
	if o.baseURL != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(o.baseURL))
	}

	llm, err := openai.New(llmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}

	return &OpenAIClient{
		llm:    llm,
		model:  model,
		dims:   o.dims,
		logger: slog.Default().With("component", "embedding", "model", model),
	}, nil
}

// Embed returns the embedding vector for one text.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, taxonomy.Validation(fmt.Errorf("embedding input is empty"))
	}

	vectors, err := c.llm.CreateEmbedding(ctx, []string{text})
	if err != nil {
		if ctx.Err() != nil {
			return nil, taxonomy.Timeout(ctx.Err())
		}
		return nil, taxonomy.Transient(fmt.Errorf("create embedding: %w", err))
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, taxonomy.Transient(fmt.Errorf("embedding response is empty"))
	}

	vec := vectors[0]
	if c.dims > 0 && len(vec) != c.dims {
		c.logger.Warn("Embedding dimension mismatch", "expected", c.dims, "got", len(vec))
	}
	return vec, nil
}

// Dimensions returns the expected vector width.
func (c *OpenAIClient) Dimensions() int {
	return c.dims
}

// CosineSimilarity returns the cosine of the angle between a and b in
// [-1,1]. Mismatched or zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CosineDistance is 1 - CosineSimilarity, so identical vectors are at
// distance 0 and orthogonal ones at 1.
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}
