package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

// sidecarScene is the per-scene artifact written to the sidecars bucket at
// build_sidecar and the row shape inserted at commit.
type sidecarScene struct {
	SceneID    string
	VideoID    string
	StartS     float64
	EndS       float64
	Transcript string
	Key        string
}

// marshalSidecar serializes a scene's sidecar with a fixed key ordering
// (scene_id, video_id, start_s, end_s, transcript, vision_tags), so two
// runs over identical input produce byte-identical sidecar JSON and diffs
// stay stable.
func marshalSidecar(s sidecarScene) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{")
	fmt.Fprintf(&buf, "%q:%s,", "scene_id", mustJSON(s.SceneID))
	fmt.Fprintf(&buf, "%q:%s,", "video_id", mustJSON(s.VideoID))
	fmt.Fprintf(&buf, "%q:%s,", "start_s", mustJSON(s.StartS))
	fmt.Fprintf(&buf, "%q:%s,", "end_s", mustJSON(s.EndS))
	fmt.Fprintf(&buf, "%q:%s,", "transcript", mustJSON(s.Transcript))
	buf.WriteString(`"vision_tags":{}`)
	buf.WriteString("}")
	return buf.Bytes(), nil
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Every field here is a plain string/number/int; marshaling cannot fail.
		panic(err)
	}
	return data
}

// toPgvector converts a float32 slice returned by MIS into the pgvector
// type gorm writes to the scenes table's vector columns.
func toPgvector(v []float32) *pgvector.Vector {
	if v == nil {
		return nil
	}
	vec := pgvector.NewVector(v)
	return &vec
}
