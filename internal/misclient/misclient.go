// Package misclient is the Indexing Pipeline's HTTP client for the Model
// Inference Service: a token-bucket limiter bounds outbound request rate,
// and a bounded exponential backoff absorbs transient MIS hiccups before
// the pipeline gives up and classifies the stage as DEPENDENCY_UNAVAILABLE.
package misclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goodclips/videoindex/internal/apierror"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// Client calls the Model Inference Service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New constructs a Client bound to baseURL, allowing up to rps requests per
// second with a burst of burst.
func New(baseURL string, rps float64, burst int, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// TranscribeRequest asks MIS to transcribe the audio at audioKey.
type TranscribeRequest struct {
	AudioKey string `json:"audio_key"`
}

// TranscriptSegment is one ASR segment with its start and end time in
// seconds.
type TranscriptSegment struct {
	StartS float64 `json:"start_s"`
	EndS   float64 `json:"end_s"`
	Text   string  `json:"text"`
}

// TranscribeResponse is MIS's /transcribe result.
type TranscribeResponse struct {
	Segments []TranscriptSegment `json:"segments"`
	Language string              `json:"language"`
}

// Transcribe calls MIS's /transcribe endpoint.
func (c *Client) Transcribe(ctx context.Context, req TranscribeRequest) (*TranscribeResponse, error) {
	var resp TranscribeResponse
	if err := c.call(ctx, "/transcribe", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EmbedTextRequest asks MIS to embed a batch of text segments.
type EmbedTextRequest struct {
	Texts []string `json:"texts"`
}

// EmbedResponse carries one L2-normalized vector per input, in order.
type EmbedResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

// EmbedText calls MIS's /embed/text endpoint.
func (c *Client) EmbedText(ctx context.Context, texts []string) (*EmbedResponse, error) {
	var resp EmbedResponse
	if err := c.call(ctx, "/embed/text", EmbedTextRequest{Texts: texts}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EmbedImageRequest asks MIS to embed a batch of frame object-store keys.
type EmbedImageRequest struct {
	ImageKeys []string `json:"image_keys"`
}

// EmbedImage calls MIS's /embed/image endpoint.
func (c *Client) EmbedImage(ctx context.Context, imageKeys []string) (*EmbedResponse, error) {
	var resp EmbedResponse
	if err := c.call(ctx, "/embed/image", EmbedImageRequest{ImageKeys: imageKeys}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// call performs one rate-limited, retried POST against MIS, unmarshalling
// the JSON body into out. Non-2xx responses and exhausted retries are
// surfaced as apierror.CodeDependencyUnavailable so the pipeline's failure
// classification treats every MIS outage uniformly.
func (c *Client) call(ctx context.Context, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apierror.Wrap(apierror.CodeDependencyUnavailable, "mis rate limiter", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return apierror.Wrap(apierror.CodeInternal, "failed to marshal mis request", err)
	}

	// At most 3 attempts total: 250ms initial delay, doubling. A saturated
	// MIS refuses with a 5xx and recovers within a retry or two; anything
	// longer-lived is the queue redelivery's problem.
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 250 * time.Millisecond
	eb.Multiplier = 2
	policy := backoff.WithMaxRetries(eb, 2)

	var respBody []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err // transient: retry
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		// 503 is MIS's backpressure refusal (429 likewise from any proxy in
		// front of it): transient by contract, retried with the same backoff
		// as a network failure. Other 4xx means the request itself is wrong
		// and retrying cannot help.
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("mis returned %d: %s", resp.StatusCode, string(data))
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("mis returned %d: %s", resp.StatusCode, string(data)))
		}

		respBody = data
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		return apierror.Wrap(apierror.CodeDependencyUnavailable, "mis call failed after retries", err)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return apierror.Wrap(apierror.CodeInternal, "failed to unmarshal mis response", err)
	}
	return nil
}
