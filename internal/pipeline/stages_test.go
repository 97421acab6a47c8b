package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goodclips/videoindex/internal/misclient"
)

// newMISStub answers every embed call with one unit vector per input, so
// stage tests can assert which inputs were actually sent.
func newMISStub(t *testing.T, dim int, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		var req struct {
			Texts     []string `json:"texts"`
			ImageKeys []string `json:"image_keys"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		n := len(req.Texts) + len(req.ImageKeys)
		vectors := make([][]float32, n)
		for i := range vectors {
			v := make([]float32, dim)
			v[0] = 1
			vectors[i] = v
		}
		json.NewEncoder(w).Encode(map[string]any{"vectors": vectors})
	}))
}

func stubbedRun(t *testing.T, baseURL string) *stageRun {
	t.Helper()
	return &stageRun{
		runner: &Runner{mis: misclient.New(baseURL, 100, 100, 5*time.Second)},
		ctx:    context.Background(),
	}
}

func TestEmbedTextLeavesEmptyTranscriptScenesNil(t *testing.T) {
	calls := 0
	srv := newMISStub(t, 8, &calls)
	defer srv.Close()

	run := stubbedRun(t, srv.URL)
	run.scenes = threeScenes()
	run.sceneTexts = []string{"first scene speech", "", "third scene speech"}

	if err := run.embedText(); err != nil {
		t.Fatalf("embedText() error: %v", err)
	}
	if len(run.textVectors) != 3 {
		t.Fatalf("len(textVectors) = %d, want 3", len(run.textVectors))
	}
	if run.textVectors[0] == nil || run.textVectors[2] == nil {
		t.Errorf("scenes with speech must get a vector: %v", run.textVectors)
	}
	if run.textVectors[1] != nil {
		t.Errorf("empty-transcript scene must keep a nil vector, got %v", run.textVectors[1])
	}
}

func TestEmbedTextAllScenesSilentMakesNoCall(t *testing.T) {
	calls := 0
	srv := newMISStub(t, 8, &calls)
	defer srv.Close()

	run := stubbedRun(t, srv.URL)
	run.scenes = threeScenes()
	run.sceneTexts = []string{"", "", ""}

	if err := run.embedText(); err != nil {
		t.Fatalf("embedText() error: %v", err)
	}
	if calls != 0 {
		t.Errorf("embedText made %d MIS calls for an all-silent video, want 0", calls)
	}
	for i, v := range run.textVectors {
		if v != nil {
			t.Errorf("textVectors[%d] = %v, want nil", i, v)
		}
	}
}

func TestEmbedVisionSkipsScenesWithoutFrames(t *testing.T) {
	calls := 0
	srv := newMISStub(t, 8, &calls)
	defer srv.Close()

	run := stubbedRun(t, srv.URL)
	run.scenes = threeScenes()
	run.frameKeys = []string{"vid/frame_0.jpg", "", "vid/frame_2.jpg"}

	if err := run.embedVision(); err != nil {
		t.Fatalf("embedVision() error: %v", err)
	}
	if len(run.imageVectors) != 3 {
		t.Fatalf("len(imageVectors) = %d, want 3", len(run.imageVectors))
	}
	if run.imageVectors[0] == nil || run.imageVectors[2] == nil {
		t.Errorf("scenes with sampled frames must get a vector: %v", run.imageVectors)
	}
	if run.imageVectors[1] != nil {
		t.Errorf("scene whose frame sampling failed must keep a nil vector, got %v", run.imageVectors[1])
	}
}

func TestMarshalSidecarFixedKeyOrder(t *testing.T) {
	data, err := marshalSidecar(sidecarScene{
		SceneID:    "scene-1",
		VideoID:    "vid-1",
		StartS:     0,
		EndS:       2.5,
		Transcript: "hello",
	})
	if err != nil {
		t.Fatalf("marshalSidecar() error: %v", err)
	}

	want := `{"scene_id":"scene-1","video_id":"vid-1","start_s":0,"end_s":2.5,"transcript":"hello","vision_tags":{}}`
	if string(data) != want {
		t.Errorf("marshalSidecar() = %s, want %s", data, want)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("sidecar is not valid JSON: %v", err)
	}
}
