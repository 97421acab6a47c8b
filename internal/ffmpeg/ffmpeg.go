// Package ffmpeg shells out to ffprobe/ffmpeg for the media operations the
// Indexing Pipeline needs: duration probing, mono PCM audio extraction for
// ASR, and single-frame extraction for the vision embedding stage.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// VideoMetadata is the ffprobe "format" section this repo reads.
type VideoMetadata struct {
	Duration       string `json:"duration"`
	BitRate        string `json:"bit_rate"`
	FormatName     string `json:"format_name"`
	FormatLongName string `json:"format_long_name"`
	Size           string `json:"size"`
}

// Stream is one ffprobe stream entry.
type Stream struct {
	Index        int               `json:"index"`
	CodecName    string            `json:"codec_name"`
	CodecType    string            `json:"codec_type"`
	Width        int               `json:"width,omitempty"`
	Height       int               `json:"height,omitempty"`
	SampleRate   string            `json:"sample_rate,omitempty"`
	AvgFrameRate string            `json:"avg_frame_rate,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
}

// FFprobeResult is the parsed `ffprobe -show_format -show_streams` output.
type FFprobeResult struct {
	Streams []Stream      `json:"streams"`
	Format  VideoMetadata `json:"format"`
}

// Client wraps ffprobe/ffmpeg invocations.
type Client struct {
	ffprobePath string
	ffmpegPath  string
}

// NewClient returns a Client invoking ffprobe/ffmpeg from $PATH.
func NewClient() *Client {
	return &Client{ffprobePath: "ffprobe", ffmpegPath: "ffmpeg"}
}

// Probe runs ffprobe and returns the parsed format+stream metadata, used by
// the upload_validate stage to check duration and codec plausibility.
func (c *Client) Probe(ctx context.Context, path string) (*FFprobeResult, error) {
	cmd := exec.CommandContext(ctx, c.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, stderr.String())
	}

	var result FFprobeResult
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	return &result, nil
}

// Duration returns the container duration in seconds.
func (c *Client) Duration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, c.ffprobePath,
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, stderr.String())
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(out.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}
	return duration, nil
}

// HasVideoStream reports whether the probe result contains at least one
// decodable video stream, used to reject audio-only or corrupt uploads.
func (r *FFprobeResult) HasVideoStream() bool {
	for _, s := range r.Streams {
		if s.CodecType == "video" {
			return true
		}
	}
	return false
}

// ExtractAudio decodes the input's audio track to mono, 16kHz, 16-bit PCM
// WAV at outputPath, the format the transcription backend expects.
func (c *Client) ExtractAudio(ctx context.Context, inputPath, outputPath string) error {
	cmd := exec.CommandContext(ctx, c.ffmpegPath,
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-sample_fmt", "s16",
		outputPath)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed to extract audio: %w, stderr: %s", err, stderr.String())
	}
	return nil
}

// ExtractFrameAt decodes a single JPEG frame at timestampS seconds into
// outputPath, used by the sample_frames stage to pick one representative
// frame per scene.
func (c *Client) ExtractFrameAt(ctx context.Context, inputPath string, timestampS float64, outputPath string) error {
	cmd := exec.CommandContext(ctx, c.ffmpegPath,
		"-y",
		"-ss", fmt.Sprintf("%.3f", timestampS),
		"-i", inputPath,
		"-frames:v", "1",
		"-q:v", "2",
		outputPath)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed to extract frame at %.3fs: %w, stderr: %s", timestampS, err, stderr.String())
	}
	return nil
}

// ExtractRawFrames decodes the whole input to a stream of raw grayscale
// frames at the given sampling fps on stdout, consumed by
// internal/scenedetect for frame-difference scoring without writing one file
// per frame.
func (c *Client) ExtractRawFrames(ctx context.Context, inputPath string, fps float64, width, height int) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, c.ffmpegPath,
		"-i", inputPath,
		"-vf", fmt.Sprintf("fps=%.3f,scale=%d:%d,format=gray", fps, width, height),
		"-f", "rawvideo",
		"-")
	cmd.Stderr = nil
	return cmd, nil
}

// CheckFFmpeg verifies ffprobe and ffmpeg are both reachable on $PATH,
// called once at worker startup.
func (c *Client) CheckFFmpeg(ctx context.Context) error {
	if err := exec.CommandContext(ctx, c.ffprobePath, "-version").Run(); err != nil {
		return fmt.Errorf("ffprobe not found: %w", err)
	}
	if err := exec.CommandContext(ctx, c.ffmpegPath, "-version").Run(); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	return nil
}
