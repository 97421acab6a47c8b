package ucp

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goodclips/videoindex/internal/apierror"
	"github.com/goodclips/videoindex/internal/auth"
	"github.com/goodclips/videoindex/internal/keys"
	"github.com/goodclips/videoindex/internal/models"
	"github.com/goodclips/videoindex/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// allowedMimeTypes is the exact set init_upload accepts.
var allowedMimeTypes = map[string]bool{
	"video/mp4":        true,
	"video/quicktime":  true,
	"video/x-msvideo":  true,
	"video/x-matroska": true,
	"video/webm":       true,
}

const (
	maxSizeBytes = 1073741824 // 1 GiB
	maxFilename  = 255
	uploadTTL    = 15 * time.Minute
)

func (h *Handlers) handleHealth(c *gin.Context) {
	status := "ok"
	if err := h.db.Health(); err != nil {
		status = "error: " + err.Error()
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

type initUploadRequest struct {
	Filename    string  `json:"filename" binding:"required"`
	MimeType    string  `json:"mime_type" binding:"required"`
	SizeBytes   int64   `json:"size_bytes" binding:"required"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

// handleInitUpload implements init_upload: validates mime_type/size_bytes,
// creates a Video row in state=uploading, and returns a presigned PUT URL.
// Never fails with a duplicate-check error — every call allocates a fresh
// video_id.
func (h *Handlers) handleInitUpload(c *gin.Context) {
	var req initUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Respond(c, apierror.New(apierror.CodeInvalidInput, err.Error()))
		return
	}

	if len(req.Filename) == 0 || len(req.Filename) > maxFilename || strings.ContainsAny(req.Filename, "/\\") {
		apierror.Respond(c, apierror.New(apierror.CodeInvalidInput, "invalid filename"))
		return
	}
	if !allowedMimeTypes[req.MimeType] {
		apierror.Respond(c, apierror.New(apierror.CodeInvalidInput, "unsupported mime_type"))
		return
	}
	if req.SizeBytes <= 0 || req.SizeBytes > maxSizeBytes {
		apierror.Respond(c, apierror.New(apierror.CodeInvalidInput, "size_bytes out of range"))
		return
	}

	user, err := h.currentUser(c)
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	videoID := uuid.NewString()
	storageKey := keys.Upload(user.UserID, videoID, filepath.Base(req.Filename))

	video := &models.Video{
		VideoID:     videoID,
		UserID:      user.UserID,
		StorageKey:  storageKey,
		Filename:    req.Filename,
		MimeType:    req.MimeType,
		SizeBytes:   req.SizeBytes,
		Title:       req.Title,
		Description: req.Description,
		State:       models.VideoUploading,
	}
	if err := h.db.CreateVideo(video); err != nil {
		apierror.Respond(c, apierror.Wrap(apierror.CodeInternal, "failed to create video", err))
		return
	}

	expiresAt := time.Now().Add(uploadTTL)
	uploadURL, err := h.storage.PresignPut(c.Request.Context(), storage.PresignedPutParams{
		Bucket:      keys.BucketUploads,
		Key:         storageKey,
		ContentType: req.MimeType,
		MaxBytes:    req.SizeBytes,
		TTL:         uploadTTL,
	})
	if err != nil {
		apierror.Respond(c, apierror.Wrap(apierror.CodeDependencyUnavailable, "failed to issue upload url", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"video_id":   video.VideoID,
		"upload_url": uploadURL.String(),
		"expires_at": expiresAt,
	})
}

type completeUploadRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

// handleCompleteUpload implements complete_upload: checks the object landed,
// transitions uploading→validating, and enqueues the indexing task.
// Idempotent modulo state — a second call on an already-transitioned video
// is a CONFLICT carrying the current state, not a second enqueue.
func (h *Handlers) handleCompleteUpload(c *gin.Context) {
	videoID := c.Param("id")
	user, err := h.currentUser(c)
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	var req completeUploadRequest
	_ = c.ShouldBindJSON(&req) // body is optional

	// Two complete_upload calls landing near-simultaneously on the same
	// video_id must yield exactly one enqueue. CompleteUpload row-locks the
	// Video inside one transaction to serialize them: the second caller
	// blocks until the first commits, then observes state=validating and
	// returns alreadyTransitioned=true instead of re-enqueuing.
	video, alreadyTransitioned, err := h.db.CompleteUpload(c.Request.Context(), videoID, user.UserID, req.Title, req.Description,
		func(storageKey string) error {
			_, statErr := h.storage.StatObject(c.Request.Context(), keys.BucketUploads, storageKey)
			return statErr
		})
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	if alreadyTransitioned {
		c.JSON(http.StatusConflict, gin.H{
			"error": gin.H{"code": apierror.CodeConflict, "message": "video is not awaiting upload completion"},
			"state": video.State,
		})
		return
	}

	if h.jobs != nil {
		if err := h.jobs.EnqueueIndexVideo(c.Request.Context(), video.VideoID); err != nil {
			h.log.Error("failed to enqueue index task", zap.String("video_id", video.VideoID), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"state": video.State})
}

func (h *Handlers) handleListVideos(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	videos, err := h.db.ListVideosForUser(user.UserID, limit, offset)
	if err != nil {
		apierror.Respond(c, apierror.Wrap(apierror.CodeInternal, "failed to list videos", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"videos": videos})
}

func (h *Handlers) handleGetVideo(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	video, err := h.db.GetVideoForUser(c.Param("id"), user.UserID)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, video)
}

type jobStatusView struct {
	Stage      string  `json:"stage"`
	State      string  `json:"state"`
	Progress   int     `json:"progress"`
	ErrorText  *string `json:"error_text,omitempty"`
	StartedAt  *string `json:"started_at,omitempty"`
	FinishedAt *string `json:"finished_at,omitempty"`
}

// handleGetStatus implements get_status: a read-only snapshot of video
// state plus every job's stage/state/progress. Postgres's Job rows are the
// source of truth for the job list and its timestamps, but the
// state/progress/error_text of each stage's most recent attempt is read
// through StatusCache first, falling back to the stored Job row on a cache
// miss, a cache error, or when no cache is configured.
func (h *Handlers) handleGetStatus(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	video, err := h.db.GetVideoForUser(c.Param("id"), user.UserID)
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	jobs, err := h.db.GetJobsForVideo(video.VideoID)
	if err != nil {
		apierror.Respond(c, apierror.Wrap(apierror.CodeInternal, "failed to load jobs", err))
		return
	}

	views := make([]jobStatusView, 0, len(jobs))
	seenStage := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		v := jobStatusView{
			Stage:     string(j.Stage),
			State:     string(j.State),
			Progress:  j.Progress,
			ErrorText: j.ErrorText,
		}
		if j.StartedAt != nil {
			s := j.StartedAt.Format(time.RFC3339)
			v.StartedAt = &s
		}
		if j.FinishedAt != nil {
			s := j.FinishedAt.Format(time.RFC3339)
			v.FinishedAt = &s
		}

		// GetJobsForVideo orders most-recent-first, so the first row seen
		// for a stage is the one the cache (if any) actually tracks; older
		// attempts for a re-run stage are left as their stored Job row.
		if !seenStage[v.Stage] {
			seenStage[v.Stage] = true
			if h.statusCache != nil {
				cached, cacheErr := h.statusCache.Get(c.Request.Context(), video.VideoID, v.Stage)
				if cacheErr != nil {
					h.log.Warn("status cache read failed, falling back to stored job row",
						zap.String("video_id", video.VideoID), zap.String("stage", v.Stage), zap.Error(cacheErr))
				} else if cached != nil {
					v.State = cached.Status
					v.Progress = cached.Progress
					v.ErrorText = cached.ErrorText
				}
			}
		}

		views = append(views, v)
	}

	c.JSON(http.StatusOK, gin.H{
		"state":      video.State,
		"error_text": video.ErrorText,
		"jobs":       views,
	})
}

// currentUser resolves the gin context's authenticated external identity to
// a User row, creating it on first sight.
func (h *Handlers) currentUser(c *gin.Context) (*models.User, error) {
	externalID, ok := auth.ExternalID(c)
	if !ok {
		return nil, apierror.New(apierror.CodeInvalidInput, "unauthenticated")
	}
	email, _ := auth.Email(c)
	return h.db.GetOrCreateUser(externalID, email, true)
}
