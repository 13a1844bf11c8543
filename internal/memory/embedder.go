package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"google.golang.org/genai"
)

// DefaultEmbedTimeout bounds a single embedding call.
const DefaultEmbedTimeout = 10 * time.Second

// VectorDimension is the embedding size. It must match the vector
// column width in the database schema.
const VectorDimension = 768

// GenkitEmbedder adapts a Genkit ai.Embedder to the Embedder interface,
// normalizing the returned vector.
type GenkitEmbedder struct {
	embedder ai.Embedder
	timeout  time.Duration
}

// NewGenkitEmbedder wraps embedder. A zero timeout uses
// DefaultEmbedTimeout.
func NewGenkitEmbedder(embedder ai.Embedder, timeout time.Duration) *GenkitEmbedder {
	if timeout <= 0 {
		timeout = DefaultEmbedTimeout
	}
	return &GenkitEmbedder{embedder: embedder, timeout: timeout}
}

// Embed returns the L2-normalized embedding of text.
func (e *GenkitEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	dim := int32(VectorDimension)
	resp, err := e.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			ai.DocumentFromText(text, nil),
		},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedder returned no embedding")
	}
	return L2Normalize(resp.Embeddings[0].Embedding), nil
}
