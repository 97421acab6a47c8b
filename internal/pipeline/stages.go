package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goodclips/videoindex/internal/apierror"
	"github.com/goodclips/videoindex/internal/keys"
	"github.com/goodclips/videoindex/internal/misclient"
	"github.com/goodclips/videoindex/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// validate implements upload_validate: probe the uploaded file, enforce the
// duration ceiling, and reject media ffprobe cannot make sense of.
func (run *stageRun) validate() error {
	r := run.runner

	localPath := run.scratchPath("source")
	obj, err := r.storage.GetObject(run.ctx, keys.BucketUploads, run.video.StorageKey)
	if err != nil {
		return apierror.Wrap(apierror.CodeInvalidMedia, "failed to read uploaded object", err)
	}
	defer obj.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create scratch file: %w", err)
	}
	if _, err := io.Copy(f, obj); err != nil {
		f.Close()
		return fmt.Errorf("failed to download uploaded object: %w", err)
	}
	f.Close()

	probe, err := r.ffmpeg.Probe(run.ctx, localPath)
	if err != nil || !probe.HasVideoStream() {
		return apierror.New(apierror.CodeInvalidMedia, "uploaded file is not a decodable video")
	}

	duration, err := r.ffmpeg.Duration(run.ctx, localPath)
	if err != nil {
		return apierror.Wrap(apierror.CodeInvalidMedia, "failed to determine duration", err)
	}
	if duration > MaxDurationS {
		return apierror.New(apierror.CodeDurationExceeded, fmt.Sprintf("duration %.3fs exceeds maximum of %.0fs", duration, MaxDurationS))
	}

	run.probe = probe
	run.video.DurationS = &duration
	if run.video.State == models.VideoUploading || run.video.State == models.VideoValidating {
		run.video.State = models.VideoProcessing
	}
	if err := r.db.UpdateVideo(run.video); err != nil {
		return fmt.Errorf("failed to persist validated video: %w", err)
	}
	return nil
}

// audioExtract implements audio_extract: decode the source to mono 16kHz
// PCM and stage it in the tmp bucket for MIS to fetch.
func (run *stageRun) audioExtract() error {
	r := run.runner

	localPath := run.scratchPath("audio.wav")
	if err := r.ffmpeg.ExtractAudio(run.ctx, run.scratchPath("source"), localPath); err != nil {
		return apierror.Wrap(apierror.CodeInvalidMedia, "audio extraction failed", err)
	}

	data, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to reopen extracted audio: %w", err)
	}
	defer data.Close()
	info, err := data.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat extracted audio: %w", err)
	}

	key := keys.Tmp(run.video.VideoID, "audio.wav")
	if err := r.storage.PutObject(run.ctx, keys.BucketTmp, key, data, info.Size(), "audio/wav"); err != nil {
		return apierror.Wrap(apierror.CodeDependencyUnavailable, "failed to stage extracted audio", err)
	}

	run.audioPath = localPath
	run.audioKey = key
	return nil
}

// asr implements asr: transcribe the staged audio via MIS. A video with no
// detected speech legitimately yields zero segments.
func (run *stageRun) asr() error {
	resp, err := run.runner.mis.Transcribe(run.ctx, misclient.TranscribeRequest{AudioKey: run.audioKey})
	if err != nil {
		return err
	}
	run.transcript = resp.Segments
	return nil
}

// sceneDetect implements scene_detect: find cut boundaries in the source
// video.
func (run *stageRun) sceneDetect() error {
	scenes, err := run.runner.scenes.DetectScenes(run.ctx, run.scratchPath("source"), *run.video.DurationS)
	if err != nil {
		return apierror.Wrap(apierror.CodeInvalidMedia, "scene detection failed", err)
	}
	run.scenes = scenes
	return nil
}

// align implements align: assign transcript text to each scene.
func (run *stageRun) align() error {
	run.sceneTexts = alignTranscriptToScenes(run.scenes, run.transcript)
	return nil
}

// embedText implements embed_text: embed only scenes with a non-empty
// aligned transcript. Empty-transcript scenes are left with a nil vector,
// which toPgvector later persists as a null text_vec column.
func (run *stageRun) embedText() error {
	var toEmbed []string
	indices := make([]int, 0, len(run.sceneTexts))
	for i, t := range run.sceneTexts {
		if t == "" {
			continue
		}
		toEmbed = append(toEmbed, t)
		indices = append(indices, i)
	}

	vectors := make([][]float32, len(run.scenes))
	if len(toEmbed) > 0 {
		resp, err := run.runner.mis.EmbedText(run.ctx, toEmbed)
		if err != nil {
			return err
		}
		if len(resp.Vectors) != len(toEmbed) {
			return fmt.Errorf("embed_text: expected %d vectors, got %d", len(toEmbed), len(resp.Vectors))
		}
		for j, idx := range indices {
			vectors[idx] = resp.Vectors[j]
		}
	}

	run.textVectors = vectors
	return nil
}

// sampleFrames implements sample_frames: extract one representative frame
// per scene at its midpoint, falling back to the scene start if the midpoint
// cannot be decoded. A scene whose frame cannot be decoded at either
// timestamp is kept with no frame at all — embed_vision leaves its
// image_vec null rather than failing the video.
func (run *stageRun) sampleFrames() error {
	r := run.runner
	framePaths := make([]string, len(run.scenes))
	frameKeys := make([]string, len(run.scenes))

	for i, sc := range run.scenes {
		mid := (sc.StartTime + sc.EndTime) / 2
		localPath := run.scratchPath(fmt.Sprintf("frame_%d.jpg", i))

		if err := r.ffmpeg.ExtractFrameAt(run.ctx, run.scratchPath("source"), mid, localPath); err != nil {
			if fallbackErr := r.ffmpeg.ExtractFrameAt(run.ctx, run.scratchPath("source"), sc.StartTime, localPath); fallbackErr != nil {
				run.log.Warn("frame undecodable at midpoint and start, keeping scene without image vector",
					zap.Int("scene", i), zap.Error(fallbackErr))
				continue
			}
		}

		f, err := os.Open(localPath)
		if err != nil {
			return fmt.Errorf("failed to reopen sampled frame: %w", err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to stat sampled frame: %w", err)
		}

		key := keys.Tmp(run.video.VideoID, fmt.Sprintf("frame_%d.jpg", i))
		err = r.storage.PutObject(run.ctx, keys.BucketTmp, key, f, info.Size(), "image/jpeg")
		f.Close()
		if err != nil {
			return apierror.Wrap(apierror.CodeDependencyUnavailable, "failed to stage sampled frame", err)
		}

		framePaths[i] = localPath
		frameKeys[i] = key
	}

	run.framePaths = framePaths
	run.frameKeys = frameKeys
	return nil
}

// embedVision implements embed_vision: embed every sampled frame in one
// batched MIS call. Scenes whose frame sampling failed have no key and are
// skipped, leaving a nil image vector.
func (run *stageRun) embedVision() error {
	var toEmbed []string
	indices := make([]int, 0, len(run.frameKeys))
	for i, key := range run.frameKeys {
		if key == "" {
			continue
		}
		toEmbed = append(toEmbed, key)
		indices = append(indices, i)
	}

	vectors := make([][]float32, len(run.scenes))
	if len(toEmbed) > 0 {
		resp, err := run.runner.mis.EmbedImage(run.ctx, toEmbed)
		if err != nil {
			return err
		}
		if len(resp.Vectors) != len(toEmbed) {
			return fmt.Errorf("embed_vision: expected %d vectors, got %d", len(toEmbed), len(resp.Vectors))
		}
		for j, idx := range indices {
			vectors[idx] = resp.Vectors[j]
		}
	}

	run.imageVectors = vectors
	return nil
}

// buildSidecar implements build_sidecar: write one deterministic-field-order
// JSON sidecar per scene to object storage.
func (run *stageRun) buildSidecar() error {
	r := run.runner
	sidecars := make([]sidecarScene, len(run.scenes))

	for i, sc := range run.scenes {
		sceneID := uuid.NewString()
		sidecar := sidecarScene{
			SceneID:    sceneID,
			VideoID:    run.video.VideoID,
			StartS:     sc.StartTime,
			EndS:       sc.EndTime,
			Transcript: run.sceneTexts[i],
		}

		data, err := marshalSidecar(sidecar)
		if err != nil {
			return fmt.Errorf("failed to marshal sidecar for scene %d: %w", i, err)
		}

		key := keys.Sidecar(run.video.UserID, run.video.VideoID, sceneID)
		if err := r.storage.PutObject(run.ctx, keys.BucketSidecars, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
			return apierror.Wrap(apierror.CodeDependencyUnavailable, "failed to write sidecar", err)
		}

		sidecar.Key = key
		sidecars[i] = sidecar
	}

	run.sidecars = sidecars
	return nil
}

// commit implements commit: insert every Scene row and flip the video to
// indexed inside one serializable transaction. Nothing earlier in the run
// has written a Scene row, so a redelivered task that died mid-pipeline
// re-derives everything and commits exactly once.
func (run *stageRun) commit() error {
	r := run.runner

	scenes := make([]models.Scene, len(run.sidecars))
	for i, sc := range run.sidecars {
		textVec := toPgvector(run.textVectors[i])
		imageVec := toPgvector(run.imageVectors[i])
		scenes[i] = models.Scene{
			SceneID:    sc.SceneID,
			VideoID:    run.video.VideoID,
			StartS:     sc.StartS,
			EndS:       sc.EndS,
			Transcript: sc.Transcript,
			TextVec:    textVec,
			ImageVec:   imageVec,
			VisionTags: models.JSONObject{},
			SidecarKey: sc.Key,
		}
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		if len(scenes) > 0 {
			if err := tx.Create(&scenes).Error; err != nil {
				return fmt.Errorf("failed to insert scenes: %w", err)
			}
		}

		now := time.Now().UTC()
		run.video.State = models.VideoIndexed
		run.video.IndexedAt = &now
		if err := tx.Save(run.video).Error; err != nil {
			return fmt.Errorf("failed to mark video indexed: %w", err)
		}
		return nil
	})
}
