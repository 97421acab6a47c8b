package mis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// FaceDetection is one detected face: a normalized bounding box (x, y,
// width, height in [0,1] relative to the frame) and a confidence score.
type FaceDetection struct {
	BBox       [4]float64 `json:"bbox"`
	Confidence float64    `json:"confidence"`
}

// FaceDetector locates faces in a frame. Detection only — recognition and
// enrollment matching are future work.
type FaceDetector interface {
	DetectFaces(ctx context.Context, imagePath string) ([]FaceDetection, error)
}

// visionFaceDetector asks a multimodal chat model for face bounding boxes
// as strict JSON, the same call shape the caption embedder uses.
type visionFaceDetector struct {
	client    *openai.Client
	chatModel string
}

// NewVisionFaceDetector constructs a FaceDetector backed by a multimodal
// chat model.
func NewVisionFaceDetector(client *openai.Client, chatModel string) FaceDetector {
	return &visionFaceDetector{client: client, chatModel: chatModel}
}

const faceDetectPrompt = `Detect every human face in this image. Respond with only a JSON array, no prose: [{"bbox":[x,y,w,h],"confidence":c}] where x,y,w,h are fractions of image width/height in [0,1] and c is your confidence in [0,1]. Respond with [] if there are no faces.`

func (d *visionFaceDetector) DetectFaces(ctx context.Context, imagePath string) ([]FaceDetection, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("face: failed to read image: %w", err)
	}
	b64 := base64.StdEncoding.EncodeToString(data)

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: faceDetectPrompt},
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
		return nil, fmt.Errorf("face: detection request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("face: no detection response returned")
	}

	return parseDetections(resp.Choices[0].Message.Content)
}

// parseDetections decodes the model's JSON array, tolerating a markdown
// code fence around it, and drops malformed entries rather than failing the
// whole call.
func parseDetections(raw string) ([]FaceDetection, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var detections []FaceDetection
	if err := json.Unmarshal([]byte(raw), &detections); err != nil {
		return nil, fmt.Errorf("face: malformed detection output: %w", err)
	}

	out := detections[:0]
	for _, det := range detections {
		if det.BBox[2] <= 0 || det.BBox[3] <= 0 || det.Confidence < 0 || det.Confidence > 1 {
			continue
		}
		out = append(out, det)
	}
	return out, nil
}
