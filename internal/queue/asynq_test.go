package queue

import (
	"encoding/json"
	"testing"
)

func TestIndexVideoPayloadRoundTrip(t *testing.T) {
	p := IndexVideoPayload{VideoID: "vid-123"}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var out IndexVideoPayload
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if out.VideoID != p.VideoID {
		t.Errorf("round-tripped VideoID = %q, want %q", out.VideoID, p.VideoID)
	}
}

func TestTaskIndexVideoConstant(t *testing.T) {
	if TaskIndexVideo != "video:index" {
		t.Errorf("TaskIndexVideo = %q, want %q", TaskIndexVideo, "video:index")
	}
}
