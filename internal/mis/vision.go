package mis

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/goodclips/videoindex/internal/models"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"
)

// captionVisionEmbedder implements VisionEmbedder by asking a multimodal
// chat model for a dense visual caption of each frame, then embedding that
// caption with the same text-embedding model used for transcripts. go-openai
// has no native image-embedding call, so caption-then-embed keeps frames
// and transcripts on a shared semantic basis with the models already wired.
type captionVisionEmbedder struct {
	client    *openai.Client
	chatModel string
	textEmbed TextEmbedder
}

// NewCaptionVisionEmbedder constructs a VisionEmbedder backed by a
// multimodal chat model plus a text embedder.
func NewCaptionVisionEmbedder(client *openai.Client, chatModel string, textEmbed TextEmbedder) VisionEmbedder {
	return &captionVisionEmbedder{client: client, chatModel: chatModel, textEmbed: textEmbed}
}

// captionConcurrency bounds parallel caption requests per embed batch.
const captionConcurrency = 4

func (e *captionVisionEmbedder) EmbedImages(ctx context.Context, imagePaths []string) ([][]float32, error) {
	captions := make([]string, len(imagePaths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(captionConcurrency)
	for i, path := range imagePaths {
		i, path := i, path
		g.Go(func() error {
			caption, err := e.caption(gctx, path)
			if err != nil {
				return fmt.Errorf("vision: failed to caption frame %d (%s): %w", i, path, err)
			}
			captions[i] = caption
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	vectors, err := e.textEmbed.EmbedText(ctx, captions)
	if err != nil {
		return nil, fmt.Errorf("vision: failed to embed captions: %w", err)
	}

	out := make([][]float32, len(vectors))
	for i, v := range vectors {
		out[i] = projectToImageDim(v)
	}
	return out, nil
}

func (e *captionVisionEmbedder) caption(ctx context.Context, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to read frame: %w", err)
	}
	b64 := base64.StdEncoding.EncodeToString(data)

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: "Describe this video frame in one dense, literal sentence covering subjects, setting, and action. No speculation.",
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: "data:image/jpeg;base64," + b64,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no caption returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// projectToImageDim reshapes a DimText-length vector into a DimImage-length
// one by truncation or zero-padding, keeping text and image vectors on a
// shared semantic basis without requiring the embedding model to natively
// support both dimensions.
func projectToImageDim(v []float32) []float32 {
	out := make([]float32, models.DimImage)
	n := len(v)
	if n > models.DimImage {
		n = models.DimImage
	}
	copy(out, v[:n])
	return l2Normalize(out)
}
