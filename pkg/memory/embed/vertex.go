package embed

import (
	"context"
	"fmt"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// VertexAIEmbedder wraps the Gemini embedding endpoint.
type VertexAIEmbedder struct {
	client *genai.Client
	model  *genai.EmbeddingModel
}

func NewVertexAIEmbedder(model string) (Embedder, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(os.Getenv("GOOGLE_API_KEY")))
	if err != nil {
		return nil, fmt.Errorf("%w: vertex: %v", ErrUnavailable, err)
	}
	if model == "" {
		model = "text-embedding-004"
	}
	return &VertexAIEmbedder{client: client, model: client.EmbeddingModel(model)}, nil
}

func (e *VertexAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("%w: vertex: %v", ErrUnavailable, err)
	}
	if resp == nil || resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, ErrNotSupported
	}
	return resp.Embedding.Values, nil
}
