// Package pipeline implements the ten-stage Indexing Pipeline: upload
// validation, audio extraction, ASR, scene detection, transcript alignment,
// text embedding, frame sampling, vision embedding, sidecar construction,
// and the final commit transaction. Stages run strictly in order for one
// video inside a single asynq task handler invocation, guarded by a
// per-video Postgres advisory lock.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goodclips/videoindex/internal/apierror"
	"github.com/goodclips/videoindex/internal/database"
	"github.com/goodclips/videoindex/internal/ffmpeg"
	"github.com/goodclips/videoindex/internal/misclient"
	"github.com/goodclips/videoindex/internal/models"
	"github.com/goodclips/videoindex/internal/queue"
	"github.com/goodclips/videoindex/internal/scenedetect"
	"github.com/goodclips/videoindex/internal/storage"

	"go.uber.org/zap"
)

// MaxDurationS is the hard duration ceiling enforced at upload_validate.
const MaxDurationS = 600.0

// Runner executes the full pipeline for one video.
type Runner struct {
	db          *database.DB
	storage     *storage.Gateway
	statusCache *queue.StatusCache
	ffmpeg      *ffmpeg.Client
	scenes      *scenedetect.Detector
	mis         *misclient.Client
	log         *zap.Logger
	scratchDir  string
}

// NewRunner constructs a Runner with all stage dependencies wired in.
func NewRunner(db *database.DB, store *storage.Gateway, statusCache *queue.StatusCache, ffmpegClient *ffmpeg.Client, detector *scenedetect.Detector, misClient *misclient.Client, logger *zap.Logger, scratchDir string) *Runner {
	return &Runner{
		db:          db,
		storage:     store,
		statusCache: statusCache,
		ffmpeg:      ffmpegClient,
		scenes:      detector,
		mis:         misClient,
		log:         logger,
		scratchDir:  scratchDir,
	}
}

// Run executes every stage for videoID, guarded by the per-video advisory
// lock. It is the asynq task handler body.
func (r *Runner) Run(ctx context.Context, videoID string) error {
	log := r.log.With(zap.String("video_id", videoID))

	// The advisory lock is session-scoped: it must be acquired and released
	// on the exact same physical connection, so a dedicated conn is held for
	// the whole pipeline run rather than reopened per call.
	conn, err := r.db.AcquireConn(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: failed to acquire db connection: %w", err)
	}
	defer conn.Close()

	acquired, err := r.db.TryAdvisoryLock(ctx, conn, videoID)
	if err != nil {
		return fmt.Errorf("pipeline: failed to acquire advisory lock: %w", err)
	}
	if !acquired {
		log.Info("video already locked by another worker, skipping")
		return nil
	}
	defer func() {
		if err := r.db.ReleaseAdvisoryLock(ctx, conn, videoID); err != nil {
			log.Error("failed to release advisory lock", zap.Error(err))
		}
	}()

	video, err := r.loadVideo(videoID)
	if err != nil {
		return err
	}

	// Entry guard: only {validating, processing} with no indexed_at may run.
	// A redelivered task for an already-terminal video is a safe, cheap
	// no-op, which is what makes at-least-once delivery survivable.
	if video.IndexedAt != nil {
		log.Info("video already indexed, skipping redelivered task")
		return nil
	}
	if video.State != models.VideoValidating && video.State != models.VideoProcessing {
		log.Info("video not in a runnable state, skipping", zap.String("state", string(video.State)))
		return nil
	}

	scratch, err := os.MkdirTemp(r.scratchDir, "vid-"+videoID+"-")
	if err != nil {
		return fmt.Errorf("pipeline: failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	run := &stageRun{
		runner:  r,
		ctx:     ctx,
		video:   video,
		scratch: scratch,
		log:     log,
	}

	stages := []struct {
		stage models.JobStage
		fn    func() error
	}{
		{models.StageUploadValidate, run.validate},
		{models.StageAudioExtract, run.audioExtract},
		{models.StageASR, run.asr},
		{models.StageSceneDetect, run.sceneDetect},
		{models.StageAlign, run.align},
		{models.StageEmbedText, run.embedText},
		{models.StageSampleFrames, run.sampleFrames},
		{models.StageEmbedVision, run.embedVision},
		{models.StageBuildSidecar, run.buildSidecar},
		{models.StageCommit, run.commit},
	}

	for _, s := range stages {
		if err := r.runStage(run, s.stage, s.fn); err != nil {
			if isFatal(err) {
				r.failVideo(video, err)
			} else {
				log.Warn("stage failed transiently, leaving video state unchanged for redelivery",
					zap.String("stage", string(s.stage)), zap.Error(err))
			}
			return err
		}
	}

	return nil
}

// isFatal reports whether err should terminate the video. A
// CodeDependencyUnavailable error — a MIS call that still failed after
// misclient's retries, or a failed object-store write, which the storage
// gateway surfaces without retrying — is transient: the task is
// abandoned with the video state untouched so asynq's redelivery
// (internal/queue/asynq.go's MaxRetry/RetryDelayFunc) and the entry guard's
// {validating, processing} acceptance can resume the video where it left
// off. Any other error, including one with no apierror classification at
// all, fails the video.
func isFatal(err error) bool {
	apiErr, ok := apierror.As(err)
	if !ok {
		return true
	}
	return apiErr.Code != apierror.CodeDependencyUnavailable
}

func (r *Runner) loadVideo(videoID string) (*models.Video, error) {
	var video models.Video
	if err := r.db.Where("video_id = ?", videoID).First(&video).Error; err != nil {
		return nil, fmt.Errorf("pipeline: failed to load video: %w", err)
	}
	return &video, nil
}

// runStage wraps one stage function with Job bookkeeping and status-cache
// updates. The Job row is taken over from a pre-created pending row when one
// exists (complete_upload seeds upload_validate's) so (video_id, stage)
// never carries two active rows.
func (r *Runner) runStage(run *stageRun, stage models.JobStage, fn func() error) error {
	job, err := r.db.StartJob(run.video.VideoID, stage)
	if err != nil {
		return fmt.Errorf("pipeline: failed to start job row for stage %s: %w", stage, err)
	}
	r.setStatus(run.ctx, run.video.VideoID, stage, "running", 0, nil)

	err = fn()

	finished := time.Now().UTC()
	job.FinishedAt = &finished
	if err != nil {
		job.State = models.JobFailed
		msg := err.Error()
		job.ErrorText = &msg
		r.db.Save(job)
		r.setStatus(run.ctx, run.video.VideoID, stage, "failed", job.Progress, &msg)
		return fmt.Errorf("pipeline: stage %s failed: %w", stage, err)
	}

	job.State = models.JobCompleted
	job.Progress = 100
	r.db.Save(job)
	r.setStatus(run.ctx, run.video.VideoID, stage, "completed", 100, nil)
	run.log.Info("stage completed", zap.String("stage", string(stage)))
	return nil
}

func (r *Runner) setStatus(ctx context.Context, videoID string, stage models.JobStage, status string, progress int, errText *string) {
	if r.statusCache == nil {
		return
	}
	if err := r.statusCache.Set(ctx, queue.StageStatus{
		VideoID:   videoID,
		Stage:     string(stage),
		Status:    status,
		Progress:  progress,
		UpdatedAt: time.Now(),
		ErrorText: errText,
	}); err != nil {
		r.log.Warn("failed to update status cache", zap.Error(err))
	}
}

// failVideo marks the video failed. The stored error_text leads with the
// error code so operators can tell a refused upload from a broken stage at
// a glance.
func (r *Runner) failVideo(video *models.Video, stageErr error) {
	msg := stageErr.Error()
	if apiErr, ok := apierror.As(stageErr); ok {
		msg = fmt.Sprintf("[%s] %s", apiErr.Code, apiErr.Message)
	}
	video.State = models.VideoFailed
	video.ErrorText = &msg
	if err := r.db.UpdateVideo(video); err != nil {
		r.log.Error("failed to persist video failure state", zap.Error(err))
	}
}

// stageRun carries the per-invocation working state threaded through the
// ten stage methods in stages.go.
type stageRun struct {
	runner  *Runner
	ctx     context.Context
	video   *models.Video
	scratch string
	log     *zap.Logger

	probe        *ffmpeg.FFprobeResult
	audioPath    string
	audioKey     string
	transcript   []misclient.TranscriptSegment
	scenes       []scenedetect.Scene
	sceneTexts   []string
	textVectors  [][]float32
	framePaths   []string
	frameKeys    []string
	imageVectors [][]float32
	sidecars     []sidecarScene
}

func (run *stageRun) scratchPath(name string) string {
	return filepath.Join(run.scratch, name)
}
