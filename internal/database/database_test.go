package database_test

import (
	"context"
	"testing"

	"github.com/goodclips/videoindex/internal/apierror"
	"github.com/goodclips/videoindex/internal/database"
	"github.com/goodclips/videoindex/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// openSQLite builds a *database.DB backed by an in-memory SQLite database,
// migrating only the relational, pgvector-free subset of the schema
// (users/videos/jobs) that SQLite can represent, for exercising the plain
// CRUD/ownership-scoping repository methods without a Postgres instance.
func openSQLite(t *testing.T) *database.DB {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, gormDB.AutoMigrate(&models.User{}, &models.Video{}, &models.Job{}))

	return &database.DB{DB: gormDB}
}

func TestGetOrCreateUser_CreatesThenReturnsExisting(t *testing.T) {
	db := openSQLite(t)

	created, err := db.GetOrCreateUser("ext-auth-1", "a@example.com", true)
	require.NoError(t, err)
	require.NotEmpty(t, created.UserID)
	require.Equal(t, models.TierFree, created.Tier)

	again, err := db.GetOrCreateUser("ext-auth-1", "a@example.com", true)
	require.NoError(t, err)
	require.Equal(t, created.UserID, again.UserID)
}

func TestGetVideoForUser_NotFoundForWrongOwner(t *testing.T) {
	db := openSQLite(t)

	owner, err := db.GetOrCreateUser("owner", "owner@example.com", true)
	require.NoError(t, err)
	stranger, err := db.GetOrCreateUser("stranger", "stranger@example.com", true)
	require.NoError(t, err)

	video := &models.Video{
		VideoID:    "vid-1",
		UserID:     owner.UserID,
		StorageKey: "vid-1/clip.mp4",
		Filename:   "clip.mp4",
		MimeType:   "video/mp4",
		SizeBytes:  1024,
		State:      models.VideoUploading,
	}
	require.NoError(t, db.CreateVideo(video))

	got, err := db.GetVideoForUser("vid-1", owner.UserID)
	require.NoError(t, err)
	require.Equal(t, video.VideoID, got.VideoID)

	_, err = db.GetVideoForUser("vid-1", stranger.UserID)
	require.Error(t, err)
	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	require.Equal(t, apierror.CodeNotFound, apiErr.Code)

	_, err = db.GetVideoForUser("does-not-exist", owner.UserID)
	require.Error(t, err)
	apiErr, ok = apierror.As(err)
	require.True(t, ok)
	require.Equal(t, apierror.CodeNotFound, apiErr.Code)
}

func TestListVideosForUser_OrderedMostRecentFirst(t *testing.T) {
	db := openSQLite(t)

	user, err := db.GetOrCreateUser("owner", "owner@example.com", true)
	require.NoError(t, err)

	for _, id := range []string{"vid-a", "vid-b", "vid-c"} {
		require.NoError(t, db.CreateVideo(&models.Video{
			VideoID:    id,
			UserID:     user.UserID,
			StorageKey: id + "/clip.mp4",
			Filename:   "clip.mp4",
			MimeType:   "video/mp4",
			SizeBytes:  1024,
			State:      models.VideoUploading,
		}))
	}

	videos, err := db.ListVideosForUser(user.UserID, 10, 0)
	require.NoError(t, err)
	require.Len(t, videos, 3)
	require.Equal(t, "vid-c", videos[0].VideoID)
	require.Equal(t, "vid-a", videos[2].VideoID)

	videos, err = db.ListVideosForUser(user.UserID, 1, 1)
	require.NoError(t, err)
	require.Len(t, videos, 1)
	require.Equal(t, "vid-b", videos[0].VideoID)
}

func TestCreateJob_GetJobsForVideo(t *testing.T) {
	db := openSQLite(t)

	user, err := db.GetOrCreateUser("owner", "owner@example.com", true)
	require.NoError(t, err)
	require.NoError(t, db.CreateVideo(&models.Video{
		VideoID:    "vid-1",
		UserID:     user.UserID,
		StorageKey: "vid-1/clip.mp4",
		Filename:   "clip.mp4",
		MimeType:   "video/mp4",
		SizeBytes:  1024,
		State:      models.VideoUploading,
	}))

	tx := db.DB.Begin()
	job, err := db.CreateJob(tx, "vid-1", models.StageUploadValidate)
	require.NoError(t, err)
	require.NoError(t, tx.Commit().Error)
	require.Equal(t, models.JobPending, job.State)

	jobs, err := db.GetJobsForVideo("vid-1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, models.StageUploadValidate, jobs[0].Stage)
}

// TestStartJob_ReusesPendingRow covers the at-most-one-active-job rule:
// starting a stage that already has a pending row (complete_upload
// pre-creates upload_validate's) flips that row to running instead of
// inserting a second active row.
func TestStartJob_ReusesPendingRow(t *testing.T) {
	db := openSQLite(t)

	user, err := db.GetOrCreateUser("owner", "owner@example.com", true)
	require.NoError(t, err)
	require.NoError(t, db.CreateVideo(&models.Video{
		VideoID:    "vid-1",
		UserID:     user.UserID,
		StorageKey: "vid-1/clip.mp4",
		Filename:   "clip.mp4",
		MimeType:   "video/mp4",
		SizeBytes:  1024,
		State:      models.VideoValidating,
	}))

	tx := db.DB.Begin()
	pending, err := db.CreateJob(tx, "vid-1", models.StageUploadValidate)
	require.NoError(t, err)
	require.NoError(t, tx.Commit().Error)

	started, err := db.StartJob("vid-1", models.StageUploadValidate)
	require.NoError(t, err)
	require.Equal(t, pending.JobID, started.JobID)
	require.Equal(t, models.JobRunning, started.State)
	require.NotNil(t, started.StartedAt)

	jobs, err := db.GetJobsForVideo("vid-1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	// A stage with no pending row gets a fresh one.
	fresh, err := db.StartJob("vid-1", models.StageAudioExtract)
	require.NoError(t, err)
	require.NotEqual(t, started.JobID, fresh.JobID)
	require.Equal(t, models.JobRunning, fresh.State)
}

func TestAcquireConn_ReturnsUsableConnection(t *testing.T) {
	db := openSQLite(t)

	conn, err := db.AcquireConn(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.PingContext(context.Background()))
}
