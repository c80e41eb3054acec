package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"imagevault/internal/filestore"
	"imagevault/internal/history"
	"imagevault/internal/metrics"
	"imagevault/internal/models"
	"imagevault/internal/storage"
	"imagevault/internal/worker"
)

// UserHeader carries the id of the authenticated user. Sessions are
// validated upstream.
const UserHeader = "X-User-ID"

const defaultHistoryLimit = 50

type ImageStore interface {
	CreateImage(ctx context.Context, img *models.Image) error
	GetImage(ctx context.Context, id uuid.UUID) (*models.Image, error)
	UpdateImage(ctx context.Context, id uuid.UUID, upd models.ImageUpdate) error
	DeleteImage(ctx context.Context, id uuid.UUID) error
}

type Queue interface {
	Enqueue(job worker.Job)
}

type Decryptor interface {
	Decrypt(path string) ([]byte, error)
}

type StatusCache interface {
	GetStatus(ctx context.Context, imageID uuid.UUID) (models.ProcessingStatus, bool, error)
	Forget(ctx context.Context, imageID uuid.UUID) error
}

// Deps are the collaborators the HTTP layer drives.
type Deps struct {
	Store   ImageStore
	Files   filestore.FileStore
	Queue   Queue
	Codec   Decryptor
	History *history.Tracker
	Cache   StatusCache // optional
}

type Server struct {
	cfg    *models.Config
	deps   Deps
	router *gin.Engine
	http   *http.Server
	logger *zap.Logger
}

func NewServer(cfg *models.Config, deps Deps, logger *zap.Logger) *Server {
	r := gin.New()
	s := &Server{cfg: cfg, deps: deps, router: r, logger: logger}

	r.Use(s.recovery(), s.requestLogger(), metrics.Middleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	images := r.Group("/images")
	images.POST("", s.handleUpload)
	images.GET("/history", s.handleUserHistory)
	images.GET("/:id", s.handleGetImage)
	images.GET("/:id/status", s.handleStatus)
	images.GET("/:id/history", s.handleImageHistory)
	images.GET("/:id/stats", s.handleImageStats)
	images.POST("/:id/view", s.handleRecordView)
	images.PATCH("/:id", s.handleRename)
	images.PATCH("/:id/visibility", s.handleVisibility)
	images.DELETE("/:id", s.handleDelete)
	images.POST("/:id/share", s.handleShare)
	images.POST("/:id/share-link", s.handleShareLink)
	images.POST("/:id/like", s.handleLike(true))
	images.DELETE("/:id/like", s.handleLike(false))

	s.http = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.cfg.ServerAddr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err any) {
		s.logger.Error("panic recovered",
			zap.String("path", c.Request.URL.Path),
			zap.Any("error", err),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	})
}

// viewer returns the calling user, if the request names one.
func viewer(c *gin.Context) uuid.NullUUID {
	id, err := uuid.Parse(c.GetHeader(UserHeader))
	if err != nil {
		return uuid.NullUUID{}
	}
	return history.Actor(id)
}

// requireUser aborts with 401 when the request carries no valid user.
func requireUser(c *gin.Context) (uuid.UUID, bool) {
	user := viewer(c)
	if !user.Valid {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return uuid.Nil, false
	}
	return user.UUID, true
}

func imageID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image id"})
		return uuid.Nil, false
	}
	return id, true
}

// loadImage fetches the image named in the path and writes the error
// response itself when it cannot.
func (s *Server) loadImage(c *gin.Context) (*models.Image, bool) {
	id, ok := imageID(c)
	if !ok {
		return nil, false
	}
	img, err := s.deps.Store.GetImage(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
		return nil, false
	}
	if err != nil {
		s.internalError(c, "failed to load image", err)
		return nil, false
	}
	return img, true
}

// loadOwnedImage is loadImage restricted to the image owner.
func (s *Server) loadOwnedImage(c *gin.Context) (*models.Image, uuid.UUID, bool) {
	user, ok := requireUser(c)
	if !ok {
		return nil, uuid.Nil, false
	}
	img, ok := s.loadImage(c)
	if !ok {
		return nil, uuid.Nil, false
	}
	if img.OwnerID != user {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return nil, uuid.Nil, false
	}
	return img, user, true
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.logger.Error(msg, zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

func limitParam(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return defaultHistoryLimit
	}
	return limit
}
