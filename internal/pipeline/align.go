package pipeline

import (
	"strings"

	"github.com/goodclips/videoindex/internal/misclient"
	"github.com/goodclips/videoindex/internal/scenedetect"
)

// alignTranscriptToScenes assigns ASR segments to scene transcripts. For
// scene interval [a, b), every segment s with s.start_s < b && s.end_s > a
// is included, concatenated in time order and whitespace-joined. A segment
// overlapping a cut point deliberately appears in every scene it overlaps
// rather than being assigned to just one. Segments are assumed already
// ordered by start time (ASR's own monotonic-start contract), so appending
// in input order yields a time-ordered concatenation per scene. Scenes with
// no overlapping segment keep an empty transcript.
func alignTranscriptToScenes(scenes []scenedetect.Scene, segments []misclient.TranscriptSegment) []string {
	transcripts := make([]string, len(scenes))
	builders := make([]strings.Builder, len(scenes))

	for i, sc := range scenes {
		for _, seg := range segments {
			if seg.StartS >= sc.EndTime || seg.EndS <= sc.StartTime {
				continue
			}
			text := strings.TrimSpace(seg.Text)
			if text == "" {
				continue
			}
			if builders[i].Len() > 0 {
				builders[i].WriteByte(' ')
			}
			builders[i].WriteString(text)
		}
	}

	for i := range scenes {
		transcripts[i] = builders[i].String()
	}
	return transcripts
}
