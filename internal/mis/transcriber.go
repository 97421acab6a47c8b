package mis

import (
	"context"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

// Segment is a timed piece of transcript text.
type Segment struct {
	StartS float64
	EndS   float64
	Text   string
}

// Transcriber turns an audio file into timed text segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string) ([]Segment, string, error)
}

// whisperTranscriber calls a Whisper-compatible transcription endpoint
// through go-openai.
type whisperTranscriber struct {
	client *openai.Client
}

// NewWhisperTranscriber constructs a Transcriber backed by go-openai.
func NewWhisperTranscriber(client *openai.Client) Transcriber {
	return &whisperTranscriber{client: client}
}

func (t *whisperTranscriber) Transcribe(ctx context.Context, audioPath, language string) ([]Segment, string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("transcriber: failed to open audio file: %w", err)
	}
	defer f.Close()

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   f,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: language,
	})
	if err != nil {
		return nil, "", fmt.Errorf("transcriber: whisper request failed: %w", err)
	}

	segments := make([]Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segments = append(segments, Segment{
			StartS: s.Start,
			EndS:   s.End,
			Text:   s.Text,
		})
	}
	// A silent or speechless video legitimately has zero segments; that is
	// not itself an error.
	return segments, resp.Language, nil
}
