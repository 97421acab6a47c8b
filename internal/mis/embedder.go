package mis

import (
	"context"
	"fmt"

	"github.com/goodclips/videoindex/internal/models"

	openai "github.com/sashabaranov/go-openai"
)

// TextEmbedder embeds text scene transcripts into DimText-dimensional
// vectors.
type TextEmbedder interface {
	EmbedText(ctx context.Context, texts []string) ([][]float32, error)
}

// VisionEmbedder embeds representative scene frames into
// DimImage-dimensional vectors. Implementations are pluggable: this service
// is deliberately the only component in the system allowed to carry model
// weight, so callers elsewhere never import a vision library directly.
type VisionEmbedder interface {
	EmbedImages(ctx context.Context, imagePaths []string) ([][]float32, error)
}

type openaiTextEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAITextEmbedder constructs a TextEmbedder over go-openai's
// embeddings endpoint.
func NewOpenAITextEmbedder(client *openai.Client, model openai.EmbeddingModel) TextEmbedder {
	return &openaiTextEmbedder{client: client, model: model}
}

func (e *openaiTextEmbedder) EmbedText(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	// The embedding model must be one that honors the Dimensions parameter
	// (text-embedding-3-*): its native width is 3072/1536, not the 1024 the
	// scenes table's vector column is declared with.
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      e.model,
		Dimensions: models.DimText,
	})
	if err != nil {
		return nil, fmt.Errorf("embedder: text embedding request failed: %w", err)
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		out[d.Index] = l2Normalize(d.Embedding)
	}
	if len(out) > 0 && len(out[0]) != models.DimText {
		return nil, fmt.Errorf("embedder: expected %d-dim text vectors, got %d", models.DimText, len(out[0]))
	}
	return out, nil
}
