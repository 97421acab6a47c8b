// Package database wraps the gorm/postgres connection and the repository
// methods used by the Upload Control Plane and the Indexing Pipeline,
// covering the full User/Video/Scene/Job/FaceProfile schema plus the
// per-video advisory lock the pipeline's entry guard depends on.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goodclips/videoindex/internal/apierror"
	"github.com/goodclips/videoindex/internal/config"
	"github.com/goodclips/videoindex/internal/models"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DB wraps *gorm.DB with this service's repository methods.
type DB struct {
	*gorm.DB
}

// NewConnection opens the Postgres connection pool and configures gorm.
func NewConnection(cfg *config.Config, zapLevel logger.LogLevel) (*DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(zapLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &DB{db}, nil
}

// AutoMigrate creates/updates tables for every entity in the schema. The
// pgvector extension, the generated tsvector column + GIN index on
// scenes.transcript, and the partial unique index enforcing at most one
// pending/running job per (video_id, stage) are created here too, since
// AutoMigrate does not know about any of them.
func (db *DB) AutoMigrate() error {
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error; err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error; err != nil {
		return fmt.Errorf("failed to create uuid-ossp extension: %w", err)
	}

	if err := db.DB.AutoMigrate(
		&models.User{},
		&models.Video{},
		&models.Scene{},
		&models.Job{},
		&models.FaceProfile{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate: %w", err)
	}

	// tsv is computed by the metadata store on write, not by the pipeline: a
	// generated column kept in sync by Postgres itself, indexed with GIN for
	// full-text search.
	if err := db.Exec(`
		ALTER TABLE scenes ADD COLUMN IF NOT EXISTS tsv tsvector
		GENERATED ALWAYS AS (to_tsvector('english', coalesce(transcript, ''))) STORED
	`).Error; err != nil {
		return fmt.Errorf("failed to add tsv generated column: %w", err)
	}
	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_scenes_tsv ON scenes USING GIN (tsv)`).Error; err != nil {
		return fmt.Errorf("failed to create tsv index: %w", err)
	}

	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_one_active_per_stage
		ON jobs (video_id, stage) WHERE state IN ('pending', 'running')
	`).Error; err != nil {
		return fmt.Errorf("failed to create active-job unique index: %w", err)
	}

	return nil
}

// Health pings the underlying connection.
func (db *DB) Health() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Ping()
}

// Close releases the connection pool.
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Transaction wraps fn in a serializable-isolation transaction, used by the
// pipeline's commit stage and by any multi-row write.
func (db *DB) Transaction(fn func(tx *gorm.DB) error) error {
	return db.DB.Transaction(fn, &sql.TxOptions{Isolation: sql.LevelSerializable})
}

// --- Users ---------------------------------------------------------------

// GetOrCreateUser looks up a user by external_auth_id, creating the row on
// first authenticated request.
func (db *DB) GetOrCreateUser(externalAuthID, email string, emailVerified bool) (*models.User, error) {
	var user models.User
	err := db.Where("external_auth_id = ?", externalAuthID).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user = models.User{
		UserID:         newUUID(),
		ExternalAuthID: &externalAuthID,
		Email:          email,
		EmailVerified:  emailVerified,
		Tier:           models.TierFree,
	}
	if err := db.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// --- Videos ----------------------------------------------------------------

// CreateVideo inserts a new Video row in state=uploading.
func (db *DB) CreateVideo(video *models.Video) error {
	return db.Create(video).Error
}

// GetVideoForUser fetches a video scoped to its owner, returning NOT_FOUND
// uniformly whether the row is missing or owned by someone else, so the
// client cannot distinguish the two.
func (db *DB) GetVideoForUser(videoID, userID string) (*models.Video, error) {
	var video models.Video
	err := db.Where("video_id = ? AND user_id = ?", videoID, userID).First(&video).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierror.New(apierror.CodeNotFound, "video not found")
		}
		return nil, err
	}
	return &video, nil
}

// ListVideosForUser returns a user's videos ordered by created_at DESC,
// video_id DESC, a deterministic pagination order.
func (db *DB) ListVideosForUser(userID string, limit, offset int) ([]models.Video, error) {
	var videos []models.Video
	err := db.Where("user_id = ?", userID).
		Order("created_at DESC, video_id DESC").
		Limit(limit).Offset(offset).
		Find(&videos).Error
	return videos, err
}

// UpdateVideo persists changes to an existing Video row.
func (db *DB) UpdateVideo(video *models.Video) error {
	return db.Save(video).Error
}

// CompleteUpload performs complete_upload's state transition: row-locks the
// Video, checks the uploaded object is present via checkUploaded, transitions
// uploading→validating, and records the pending upload_validate Job the
// worker will pick up. Two concurrent calls on the same video_id yield
// exactly one transition: the row lock serializes them, so the second caller
// observes state!=uploading and returns alreadyTransitioned=true instead of
// re-applying the transition.
func (db *DB) CompleteUpload(ctx context.Context, videoID, userID string, title, description *string, checkUploaded func(storageKey string) error) (*models.Video, bool, error) {
	var video models.Video
	var alreadyTransitioned bool

	err := db.Transaction(func(tx *gorm.DB) error {
		if txErr := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("video_id = ? AND user_id = ?", videoID, userID).
			First(&video).Error; txErr != nil {
			if errors.Is(txErr, gorm.ErrRecordNotFound) {
				return apierror.New(apierror.CodeNotFound, "video not found")
			}
			return txErr
		}

		if video.State != models.VideoUploading {
			alreadyTransitioned = true
			return nil
		}

		if err := checkUploaded(video.StorageKey); err != nil {
			return apierror.New(apierror.CodeNotReady, "uploaded object not yet present")
		}

		if title != nil {
			video.Title = title
		}
		if description != nil {
			video.Description = description
		}
		video.State = models.VideoValidating
		if err := tx.Save(&video).Error; err != nil {
			return err
		}

		_, err := db.CreateJob(tx, video.VideoID, models.StageUploadValidate)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return &video, alreadyTransitioned, nil
}

// --- Jobs ------------------------------------------------------------------

// CreateJob inserts a pending Job row for (videoID, stage). A second
// pending/running row for the same pair is rejected by the partial unique
// index AutoMigrate creates.
func (db *DB) CreateJob(tx *gorm.DB, videoID string, stage models.JobStage) (*models.Job, error) {
	job := &models.Job{
		JobID:   newUUID(),
		VideoID: videoID,
		Stage:   stage,
		State:   models.JobPending,
	}
	if err := tx.Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

// StartJob transitions the (videoID, stage) Job to running, reusing the
// pending row if one exists (complete_upload pre-creates upload_validate's)
// and inserting a fresh row otherwise. Completed and failed rows from
// earlier attempts are left untouched as history.
func (db *DB) StartJob(videoID string, stage models.JobStage) (*models.Job, error) {
	now := time.Now().UTC()

	var job models.Job
	err := db.Where("video_id = ? AND stage = ? AND state IN ?", videoID, stage,
		[]models.JobState{models.JobPending, models.JobRunning}).
		First(&job).Error
	if err == nil {
		job.State = models.JobRunning
		job.StartedAt = &now
		return &job, db.Save(&job).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	job = models.Job{
		JobID:     newUUID(),
		VideoID:   videoID,
		Stage:     stage,
		State:     models.JobRunning,
		StartedAt: &now,
	}
	return &job, db.Create(&job).Error
}

// GetJobsForVideo returns every Job row for a video, most recent first.
func (db *DB) GetJobsForVideo(videoID string) ([]models.Job, error) {
	var jobs []models.Job
	err := db.Where("video_id = ?", videoID).Order("created_at DESC").Find(&jobs).Error
	return jobs, err
}

// UpdateJob persists changes to an existing Job row.
func (db *DB) UpdateJob(tx *gorm.DB, job *models.Job) error {
	return tx.Save(job).Error
}

// --- Advisory lock -----------------------------------------------------

// AcquireConn checks out one physical connection from the pool, dedicated
// to this caller until Close()d. Session-scoped advisory locks must be
// taken and released on the same connection, which a *gorm.DB call (even
// inside db.Transaction) does not guarantee across two separate calls —
// the pool may hand out a different connection the second time. Callers
// hold this conn for the lock's entire lifetime.
func (db *DB) AcquireConn(ctx context.Context) (*sql.Conn, error) {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Conn(ctx)
}

// TryAdvisoryLock attempts to acquire a session-scoped Postgres advisory
// lock keyed by a hash of videoID on conn, non-blocking: the second taker
// gets acquired=false immediately rather than waiting.
func (db *DB) TryAdvisoryLock(ctx context.Context, conn *sql.Conn, videoID string) (bool, error) {
	var acquired bool
	row := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, videoID)
	if err := row.Scan(&acquired); err != nil {
		return false, err
	}
	return acquired, nil
}

// ReleaseAdvisoryLock releases the lock taken by TryAdvisoryLock, on the
// same conn.
func (db *DB) ReleaseAdvisoryLock(ctx context.Context, conn *sql.Conn, videoID string) error {
	_, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, videoID)
	return err
}

func newUUID() string {
	return uuid.NewString()
}
