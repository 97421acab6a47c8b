// Package mis implements the Model Inference Service: the single component
// in this system allowed to carry ML model/runtime weight. It exposes
// transcription, text/image embedding, and face detection over a small gin
// HTTP API that internal/misclient calls from the pipeline.
package mis

import (
	"net/http"
	"os"
	"path/filepath"
	"runtime"

	"github.com/goodclips/videoindex/internal/apierror"
	"github.com/goodclips/videoindex/internal/keys"
	"github.com/goodclips/videoindex/internal/models"
	"github.com/goodclips/videoindex/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Server wires the transcription/embedding/detection backends to HTTP
// handlers.
type Server struct {
	transcriber  Transcriber
	textEmbed    TextEmbedder
	visionEmbed  VisionEmbedder
	faceDetect   FaceDetector
	storage      *storage.Gateway
	scratchDir   string
	loadedModels []string
	device       string
	inflight     *semaphore.Weighted
}

// NewServer constructs a Server. scratchDir holds files downloaded from
// object storage for the duration of one request; loadedModels and device
// are reported verbatim by /health; maxConcurrent is the inference
// concurrency ceiling above which requests are refused.
func NewServer(transcriber Transcriber, textEmbed TextEmbedder, visionEmbed VisionEmbedder, faceDetect FaceDetector, store *storage.Gateway, scratchDir string, loadedModels []string, device string, maxConcurrent int) *Server {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Server{
		transcriber:  transcriber,
		textEmbed:    textEmbed,
		visionEmbed:  visionEmbed,
		faceDetect:   faceDetect,
		storage:      store,
		scratchDir:   scratchDir,
		loadedModels: loadedModels,
		device:       device,
		inflight:     semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Router builds the gin engine for cmd/mis. Every inference route sits
// behind the concurrency ceiling; /health does not, so operators can still
// probe a saturated instance.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)

	inference := r.Group("/", s.limitConcurrency)
	inference.POST("/transcribe", s.handleTranscribe)
	inference.POST("/embed/text", s.handleEmbedText)
	inference.POST("/embed/image", s.handleEmbedImage)
	inference.POST("/detect-faces", s.handleDetectFaces)
	return r
}

// limitConcurrency refuses requests beyond the configured ceiling instead
// of queueing them: a saturated model server answering slowly for everyone
// is worse than a fast 503 the caller retries with backoff.
func (s *Server) limitConcurrency(c *gin.Context) {
	if !s.inflight.TryAcquire(1) {
		apierror.Respond(c, apierror.New(apierror.CodeDependencyUnavailable, "inference capacity exhausted, retry with backoff"))
		c.Abort()
		return
	}
	defer s.inflight.Release(1)
	c.Next()
}

// handleHealth reports the loaded model set, device affinity, process
// memory, and the fixed vector dimensions callers must match their schema
// against.
func (s *Server) handleHealth(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"loaded_models": s.loadedModels,
		"device":        s.device,
		"memory_used":   mem.Alloc,
		"dim_text":      models.DimText,
		"dim_image":     models.DimImage,
		"dim_face":      models.DimFace,
	})
}

type transcribeRequest struct {
	AudioKey     string `json:"audio_key" binding:"required"`
	LanguageHint string `json:"language_hint"`
}

func (s *Server) handleTranscribe(c *gin.Context) {
	var req transcribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Respond(c, apierror.New(apierror.CodeInvalidInput, err.Error()))
		return
	}

	localPath, err := s.fetchToScratch(c, keys.BucketTmp, req.AudioKey)
	if err != nil {
		apierror.Respond(c, apierror.Wrap(apierror.CodeDependencyUnavailable, "failed to fetch audio", err))
		return
	}
	defer os.Remove(localPath)

	segments, language, err := s.transcriber.Transcribe(c.Request.Context(), localPath, req.LanguageHint)
	if err != nil {
		apierror.Respond(c, apierror.Wrap(apierror.CodeDependencyUnavailable, "transcription failed", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"segments": segments, "language": language})
}

type embedTextRequest struct {
	Texts []string `json:"texts" binding:"required"`
}

func (s *Server) handleEmbedText(c *gin.Context) {
	var req embedTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Respond(c, apierror.New(apierror.CodeInvalidInput, err.Error()))
		return
	}

	vectors, err := s.textEmbed.EmbedText(c.Request.Context(), req.Texts)
	if err != nil {
		apierror.Respond(c, apierror.Wrap(apierror.CodeDependencyUnavailable, "text embedding failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"vectors": vectors})
}

type embedImageRequest struct {
	ImageKeys []string `json:"image_keys" binding:"required"`
}

func (s *Server) handleEmbedImage(c *gin.Context) {
	var req embedImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Respond(c, apierror.New(apierror.CodeInvalidInput, err.Error()))
		return
	}

	paths := make([]string, len(req.ImageKeys))
	for i, key := range req.ImageKeys {
		path, err := s.fetchToScratch(c, keys.BucketTmp, key)
		if err != nil {
			apierror.Respond(c, apierror.Wrap(apierror.CodeDependencyUnavailable, "failed to fetch frame", err))
			return
		}
		defer os.Remove(path)
		paths[i] = path
	}

	vectors, err := s.visionEmbed.EmbedImages(c.Request.Context(), paths)
	if err != nil {
		apierror.Respond(c, apierror.Wrap(apierror.CodeDependencyUnavailable, "image embedding failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"vectors": vectors})
}

type detectFacesRequest struct {
	ImageKey string `json:"image_key" binding:"required"`
}

func (s *Server) handleDetectFaces(c *gin.Context) {
	var req detectFacesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Respond(c, apierror.New(apierror.CodeInvalidInput, err.Error()))
		return
	}

	path, err := s.fetchToScratch(c, keys.BucketTmp, req.ImageKey)
	if err != nil {
		apierror.Respond(c, apierror.Wrap(apierror.CodeDependencyUnavailable, "failed to fetch image", err))
		return
	}
	defer os.Remove(path)

	faces, err := s.faceDetect.DetectFaces(c.Request.Context(), path)
	if err != nil {
		apierror.Respond(c, apierror.Wrap(apierror.CodeDependencyUnavailable, "face detection failed", err))
		return
	}
	if faces == nil {
		faces = []FaceDetection{}
	}
	c.JSON(http.StatusOK, gin.H{"faces": faces})
}

func (s *Server) fetchToScratch(c *gin.Context, bucket, key string) (string, error) {
	obj, err := s.storage.GetObject(c.Request.Context(), bucket, key)
	if err != nil {
		return "", err
	}
	defer obj.Close()

	localPath := filepath.Join(s.scratchDir, uuid.NewString()+filepath.Ext(key))
	f, err := os.Create(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := f.ReadFrom(obj); err != nil {
		os.Remove(localPath)
		return "", err
	}
	return localPath, nil
}
