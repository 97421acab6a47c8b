// Package models defines the gorm entities for the metadata store: users,
// videos, scenes, jobs, and face profiles. Enum-as-state fields are tagged
// variants at the application boundary (VideoState, JobStage, JobState),
// persisted as their canonical lowercase string. VideoState.Valid reports
// whether a value is recognized; reading a row does not reject an
// unrecognized string for any of the three types.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
)

// Vector dimensions, fixed at compile time and mirrored by MIS's health
// response; the Scene schema's vector columns must match these exactly.
const (
	DimText  = 1024
	DimImage = 1152
	DimFace  = 512
)

// UserTier is the subscription tier recorded for a User.
type UserTier string

const (
	TierFree       UserTier = "free"
	TierPro        UserTier = "pro"
	TierEnterprise UserTier = "enterprise"
)

// User is created on first authenticated request linking a verified external
// identity. Users are never destroyed; there is no soft-delete in this
// version.
type User struct {
	UserID         string    `json:"user_id" gorm:"type:uuid;primaryKey"`
	ExternalAuthID *string   `json:"external_auth_id" gorm:"uniqueIndex"`
	Email          string    `json:"email" gorm:"uniqueIndex;not null"`
	EmailVerified  bool      `json:"email_verified" gorm:"not null;default:false"`
	Tier           UserTier  `json:"tier" gorm:"not null;default:'free'"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// VideoState is the tagged variant for Video.State. The zero value is not a
// valid state; every Video row must carry one of the constants below.
type VideoState string

const (
	VideoUploading  VideoState = "uploading"
	VideoValidating VideoState = "validating"
	VideoProcessing VideoState = "processing"
	VideoIndexed    VideoState = "indexed"
	VideoFailed     VideoState = "failed"
	VideoDeleted    VideoState = "deleted"
)

// Valid reports whether s is a recognized VideoState.
func (s VideoState) Valid() bool {
	switch s {
	case VideoUploading, VideoValidating, VideoProcessing, VideoIndexed, VideoFailed, VideoDeleted:
		return true
	}
	return false
}

// validTransitions enumerates every permitted Video.State edge. Terminal
// states (indexed, failed, deleted) have no outgoing edges.
var validTransitions = map[VideoState]map[VideoState]bool{
	VideoUploading:  {VideoValidating: true, VideoDeleted: true},
	VideoValidating: {VideoProcessing: true, VideoFailed: true, VideoDeleted: true},
	VideoProcessing: {VideoIndexed: true, VideoFailed: true, VideoDeleted: true},
	VideoIndexed:    {},
	VideoFailed:     {},
	VideoDeleted:    {},
}

// CanTransition reports whether moving from s to next is permitted by the
// video state machine.
func (s VideoState) CanTransition(next VideoState) bool {
	edges, ok := validTransitions[s]
	if !ok {
		return false
	}
	return edges[next]
}

// Video is a user-uploaded asset moving through the ingestion pipeline.
type Video struct {
	VideoID     string     `json:"video_id" gorm:"type:uuid;primaryKey"`
	UserID      string     `json:"user_id" gorm:"type:uuid;not null;index"`
	StorageKey  string     `json:"storage_key" gorm:"not null"`
	Filename    string     `json:"filename" gorm:"not null"`
	MimeType    string     `json:"mime_type" gorm:"not null"`
	SizeBytes   int64      `json:"size_bytes" gorm:"not null"`
	DurationS   *float64   `json:"duration_s"`
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	State       VideoState `json:"state" gorm:"not null;default:'uploading';index"`
	ErrorText   *string    `json:"error_text,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	IndexedAt   *time.Time `json:"indexed_at,omitempty"`

	Scenes []Scene `json:"scenes,omitempty" gorm:"foreignKey:VideoID;references:VideoID;constraint:OnDelete:CASCADE"`
	Jobs   []Job   `json:"jobs,omitempty" gorm:"foreignKey:VideoID;references:VideoID;constraint:OnDelete:CASCADE"`
}

func (Video) TableName() string { return "videos" }

// Scene is a contiguous, non-overlapping time interval within a video,
// materialized only at the pipeline's commit stage.
type Scene struct {
	SceneID    string           `json:"scene_id" gorm:"type:uuid;primaryKey"`
	VideoID    string           `json:"video_id" gorm:"type:uuid;not null;index:idx_scene_video_start"`
	StartS     float64          `json:"start_s" gorm:"not null;index:idx_scene_video_start"`
	EndS       float64          `json:"end_s" gorm:"not null"`
	Transcript string           `json:"transcript" gorm:"not null;default:''"`
	TextVec    *pgvector.Vector `json:"text_vec,omitempty" gorm:"type:vector(1024)"`
	ImageVec   *pgvector.Vector `json:"image_vec,omitempty" gorm:"type:vector(1152)"`
	VisionTags JSONObject       `json:"vision_tags" gorm:"type:jsonb;default:'{}'"`
	SidecarKey string           `json:"sidecar_key" gorm:"not null"`
	CreatedAt  time.Time        `json:"created_at"`
}

func (Scene) TableName() string { return "scenes" }

// JobStage is one of the ten pipeline stages, in execution order.
type JobStage string

const (
	StageUploadValidate JobStage = "upload_validate"
	StageAudioExtract   JobStage = "audio_extract"
	StageASR            JobStage = "asr"
	StageSceneDetect    JobStage = "scene_detect"
	StageAlign          JobStage = "align"
	StageEmbedText      JobStage = "embed_text"
	StageSampleFrames   JobStage = "sample_frames"
	StageEmbedVision    JobStage = "embed_vision"
	StageBuildSidecar   JobStage = "build_sidecar"
	StageCommit         JobStage = "commit"
)

// Stages is the fixed, ordered list of pipeline stages a fully indexed video
// must have a completed Job row for.
var Stages = []JobStage{
	StageUploadValidate,
	StageAudioExtract,
	StageASR,
	StageSceneDetect,
	StageAlign,
	StageEmbedText,
	StageSampleFrames,
	StageEmbedVision,
	StageBuildSidecar,
	StageCommit,
}

// JobState is the tagged variant for Job.State.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Job tracks one pipeline stage's execution for one video. At most one Job
// per (video_id, stage) may be in {pending, running}.
type Job struct {
	JobID      string     `json:"job_id" gorm:"type:uuid;primaryKey"`
	VideoID    string     `json:"video_id" gorm:"type:uuid;not null;index:idx_job_video_stage"`
	Stage      JobStage   `json:"stage" gorm:"not null;index:idx_job_video_stage"`
	State      JobState   `json:"state" gorm:"not null;default:'pending'"`
	Progress   int        `json:"progress" gorm:"not null;default:0;check:progress >= 0 AND progress <= 100"`
	ErrorText  *string    `json:"error_text,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (Job) TableName() string { return "jobs" }

// FaceProfile is enrollment data for future recognition work; present in the
// schema but unused by the current pipeline.
type FaceProfile struct {
	FaceProfileID string           `json:"face_profile_id" gorm:"type:uuid;primaryKey"`
	UserID        string           `json:"user_id" gorm:"type:uuid;not null;index"`
	Name          string           `json:"name" gorm:"not null"`
	PhotoKey      string           `json:"photo_key" gorm:"not null"`
	FaceVec       *pgvector.Vector `json:"face_vec,omitempty" gorm:"type:vector(512)"`
	CreatedAt     time.Time        `json:"created_at"`
}

func (FaceProfile) TableName() string { return "face_profiles" }

// JSONObject is a JSONB-backed map used for vision_tags and any other
// free-form metadata.
type JSONObject map[string]interface{}

func (j *JSONObject) Scan(value interface{}) error {
	if value == nil {
		*j = JSONObject{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("JSONObject: unsupported scan type %T", value)
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONObject) Value() (driver.Value, error) {
	if j == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(j)
}
