// Package ucp is the Upload Control Plane: the gin HTTP surface through
// which clients initiate uploads, finalize them, and poll video/job status.
package ucp

import (
	"time"

	"github.com/goodclips/videoindex/internal/auth"
	"github.com/goodclips/videoindex/internal/database"
	"github.com/goodclips/videoindex/internal/queue"
	"github.com/goodclips/videoindex/internal/storage"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handlers bundles the UCP's dependencies.
type Handlers struct {
	db          *database.DB
	storage     *storage.Gateway
	jobs        *queue.Client
	statusCache *queue.StatusCache
	log         *zap.Logger
}

// NewHandlers constructs Handlers.
func NewHandlers(db *database.DB, store *storage.Gateway, jobs *queue.Client, statusCache *queue.StatusCache, logger *zap.Logger) *Handlers {
	return &Handlers{db: db, storage: store, jobs: jobs, statusCache: statusCache, log: logger}
}

// Router builds the gin engine for cmd/api, with the external-IdP JWT
// middleware gating every authenticated route.
func Router(h *Handlers, issuer, audience string, corsOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	r.Use(cors.New(corsConfig))

	r.GET("/health", h.handleHealth)

	v1 := r.Group("/api/v1")
	v1.Use(auth.Middleware(issuer, audience))
	{
		v1.POST("/videos/init-upload", h.handleInitUpload)
		v1.POST("/videos/:id/complete-upload", h.handleCompleteUpload)
		v1.GET("/videos", h.handleListVideos)
		v1.GET("/videos/:id", h.handleGetVideo)
		v1.GET("/videos/:id/status", h.handleGetStatus)
	}

	return r
}
