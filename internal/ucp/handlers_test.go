package ucp

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goodclips/videoindex/internal/auth"
	"github.com/goodclips/videoindex/internal/database"
	"github.com/goodclips/videoindex/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// openSQLite builds a *database.DB backed by an in-memory SQLite database
// for handler tests that only touch the relational, pgvector-free subset of
// the schema (users/videos/jobs).
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

// bearerFor mints an unsigned-signature-irrelevant JWT for externalID/email:
// auth.Middleware only decodes claims (ParseUnverified), trusting the edge
// already checked the signature, so any signing key works in tests.
func bearerFor(t *testing.T, externalID, email string) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   externalID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email:         email,
		EmailVerified: true,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return "Bearer " + signed
}

func newTestRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(auth.Middleware("", ""))
	r.POST("/init-upload", h.handleInitUpload)
	r.GET("/videos/:id/status", h.handleGetStatus)
	return r
}

func TestHandleInitUpload_RejectsInvalidFilename(t *testing.T) {
	h := &Handlers{db: openSQLite(t), log: zap.NewNop()}
	r := newTestRouter(h)

	body, _ := json.Marshal(map[string]any{
		"filename":   "../escape.mp4",
		"mime_type":  "video/mp4",
		"size_bytes": 1024,
	})
	req := httptest.NewRequest(http.MethodPost, "/init-upload", bytes.NewReader(body))
	req.Header.Set("Authorization", bearerFor(t, "user-1", "user1@example.com"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleInitUpload_RejectsUnsupportedMimeType(t *testing.T) {
	h := &Handlers{db: openSQLite(t), log: zap.NewNop()}
	r := newTestRouter(h)

	body, _ := json.Marshal(map[string]any{
		"filename":   "clip.mov",
		"mime_type":  "application/octet-stream",
		"size_bytes": 1024,
	})
	req := httptest.NewRequest(http.MethodPost, "/init-upload", bytes.NewReader(body))
	req.Header.Set("Authorization", bearerFor(t, "user-1", "user1@example.com"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleInitUpload_RejectsSizeOutOfRange(t *testing.T) {
	h := &Handlers{db: openSQLite(t), log: zap.NewNop()}
	r := newTestRouter(h)

	body, _ := json.Marshal(map[string]any{
		"filename":   "clip.mp4",
		"mime_type":  "video/mp4",
		"size_bytes": 0,
	})
	req := httptest.NewRequest(http.MethodPost, "/init-upload", bytes.NewReader(body))
	req.Header.Set("Authorization", bearerFor(t, "user-1", "user1@example.com"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

// TestHandleGetStatus_FallsBackToStoredJobRows exercises get_status with no
// StatusCache configured: every stage's state/progress must come straight
// from the Postgres-backed Job rows instead of silently returning
// stale/empty data.
func TestHandleGetStatus_FallsBackToStoredJobRows(t *testing.T) {
	db := openSQLite(t)
	h := &Handlers{db: db, log: zap.NewNop()}
	r := newTestRouter(h)

	user, err := db.GetOrCreateUser("user-1", "user1@example.com", true)
	require.NoError(t, err)
	require.NoError(t, db.CreateVideo(&models.Video{
		VideoID:    "vid-1",
		UserID:     user.UserID,
		StorageKey: "vid-1/clip.mp4",
		Filename:   "clip.mp4",
		MimeType:   "video/mp4",
		SizeBytes:  1024,
		State:      models.VideoProcessing,
	}))
	tx := db.DB.Begin()
	job, err := db.CreateJob(tx, "vid-1", models.StageAudioExtract)
	require.NoError(t, err)
	job.State = models.JobRunning
	job.Progress = 42
	require.NoError(t, db.UpdateJob(tx, job))
	require.NoError(t, tx.Commit().Error)

	req := httptest.NewRequest(http.MethodGet, "/videos/vid-1/status", nil)
	req.Header.Set("Authorization", bearerFor(t, "user-1", "user1@example.com"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		State string `json:"state"`
		Jobs  []struct {
			Stage    string `json:"stage"`
			State    string `json:"state"`
			Progress int    `json:"progress"`
		} `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, string(models.VideoProcessing), resp.State)
	require.Len(t, resp.Jobs, 1)
	require.Equal(t, string(models.StageAudioExtract), resp.Jobs[0].Stage)
	require.Equal(t, string(models.JobRunning), resp.Jobs[0].State)
	require.Equal(t, 42, resp.Jobs[0].Progress)
}

func TestHandleGetStatus_UnknownVideoIsNotFound(t *testing.T) {
	db := openSQLite(t)
	h := &Handlers{db: db, log: zap.NewNop()}
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/videos/does-not-exist/status", nil)
	req.Header.Set("Authorization", bearerFor(t, "user-1", "user1@example.com"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}
