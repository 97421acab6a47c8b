package mis

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

// blockingTextEmbedder parks every call until release is closed, so a test
// can hold one request in flight while probing the concurrency ceiling.
type blockingTextEmbedder struct {
	entered chan struct{}
	release chan struct{}
}

func (e *blockingTextEmbedder) EmbedText(ctx context.Context, texts []string) ([][]float32, error) {
	e.entered <- struct{}{}
	<-e.release
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}

func TestLimitConcurrencyRefusesBeyondCeiling(t *testing.T) {
	embedder := &blockingTextEmbedder{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	srv := NewServer(nil, embedder, nil, nil, nil, t.TempDir(), nil, "cpu", 1)
	router := srv.Router()

	body := []byte(`{"texts":["hello"]}`)

	var wg sync.WaitGroup
	wg.Add(1)
	firstCode := 0
	go func() {
		defer wg.Done()
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/embed/text", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		firstCode = w.Code
	}()
	<-embedder.entered // first request now holds the only slot

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/embed/text", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("second concurrent request status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	close(embedder.release)
	wg.Wait()
	if firstCode != http.StatusOK {
		t.Errorf("first request status = %d, want %d", firstCode, http.StatusOK)
	}

	// The refused request must not leak a slot: with the first done, a new
	// request goes through.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/embed/text", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("post-release request status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestHealthBypassesConcurrencyCeiling(t *testing.T) {
	embedder := &blockingTextEmbedder{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	srv := NewServer(nil, embedder, nil, nil, nil, t.TempDir(), []string{"embed-model"}, "cpu", 1)
	router := srv.Router()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/embed/text", bytes.NewReader([]byte(`{"texts":["hello"]}`)))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
	}()
	<-embedder.entered

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health during saturation status = %d, want %d", w.Code, http.StatusOK)
	}

	close(embedder.release)
	wg.Wait()
}
