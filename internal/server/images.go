package server

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"imagevault/internal/codec"
	"imagevault/internal/models"
	"imagevault/internal/worker"
)

// maxUploadSize caps a single upload.
const maxUploadSize = 50 << 20

var allowedMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
}

func (s *Server) handleUpload(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file uploaded"})
		return
	}
	if file.Size > maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	src, err := file.Open()
	if err != nil {
		s.internalError(c, "failed to read upload", err)
		return
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, maxUploadSize+1))
	if err != nil {
		s.internalError(c, "failed to read upload", err)
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty file"})
		return
	}
	mimeType := http.DetectContentType(data)
	if !allowedMimeTypes[mimeType] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type " + mimeType})
		return
	}

	id := uuid.New()
	path := filepath.Join(s.cfg.StoragePath, "uploads", id.String()+strings.ToLower(filepath.Ext(file.Filename)))
	if err := s.deps.Files.WriteFile(path, data); err != nil {
		s.internalError(c, "failed to store upload", err)
		return
	}

	title := strings.TrimSpace(c.PostForm("title"))
	if title == "" {
		title = file.Filename
	}
	size := int64(len(data))
	img := &models.Image{
		ID:           id,
		OwnerID:      user,
		Title:        title,
		MimeType:     mimeType,
		Size:         size,
		OriginalSize: size,
		Path:         path,
		IsPublic:     c.PostForm("isPublic") == "true",
		Status:       models.StatusPending,
	}
	ctx := c.Request.Context()
	if err := s.deps.Store.CreateImage(ctx, img); err != nil {
		if rmErr := s.deps.Files.Remove(path); rmErr != nil {
			s.logger.Warn("failed to remove orphaned upload", zap.String("path", path), zap.Error(rmErr))
		}
		s.internalError(c, "failed to save image", err)
		return
	}

	_ = s.deps.History.TrackUpload(ctx, id, user, size, file.Filename)
	s.deps.Queue.Enqueue(worker.Job{Path: path, Filename: file.Filename, ImageID: id})

	s.logger.Info("image uploaded",
		zap.String("image_id", id.String()),
		zap.String("owner_id", user.String()),
		zap.Int64("size", size),
	)
	c.JSON(http.StatusCreated, img)
}

func (s *Server) handleGetImage(c *gin.Context) {
	img, ok := s.loadImage(c)
	if !ok {
		return
	}

	who := viewer(c)
	if !img.IsPublic && (!who.Valid || who.UUID != img.OwnerID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return
	}

	switch img.Status {
	case models.StatusPending, models.StatusProcessing:
		c.JSON(http.StatusAccepted, gin.H{
			"processingStatus": img.Status,
			"message":          "Image is still being processed",
		})
		return
	case models.StatusFailed:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Image processing failed"})
		return
	}

	data, err := s.readImage(img, c.Query("thumbnail") == "true")
	if err != nil {
		s.internalError(c, "failed to read image", err)
		return
	}

	_ = s.deps.History.TrackView(c.Request.Context(), img.ID, who, c.ClientIP(), c.Request.UserAgent())
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}

// readImage returns the plaintext of a completed image. A requested
// thumbnail that is missing on disk falls back to the full image.
func (s *Server) readImage(img *models.Image, thumbnail bool) ([]byte, error) {
	if thumbnail && img.ThumbnailExists && img.ThumbnailPath != "" {
		data, err := s.deps.Codec.Decrypt(img.ThumbnailPath)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, codec.ErrNotFound) {
			return nil, err
		}
		s.logger.Warn("thumbnail missing, serving original", zap.String("image_id", img.ID.String()))
	}

	if img.Encrypted {
		return s.deps.Codec.Decrypt(img.Path)
	}
	return s.deps.Files.ReadFile(img.Path)
}

func (s *Server) handleStatus(c *gin.Context) {
	id, ok := imageID(c)
	if !ok {
		return
	}

	if s.deps.Cache != nil {
		status, hit, err := s.deps.Cache.GetStatus(c.Request.Context(), id)
		if err != nil {
			s.logger.Warn("status cache lookup failed", zap.String("image_id", id.String()), zap.Error(err))
		}
		if hit {
			c.JSON(http.StatusOK, gin.H{"id": id, "processingStatus": status})
			return
		}
	}

	img, ok := s.loadImage(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":               img.ID,
		"processingStatus": img.Status,
		"processedSize":    img.ProcessedSize,
		"processingTime":   img.ProcessingTime,
		"thumbnailExists":  img.ThumbnailExists,
	})
}

type viewRequest struct {
	Action string `json:"action" binding:"required,oneof=view download"`
}

func (s *Server) handleRecordView(c *gin.Context) {
	img, ok := s.loadImage(c)
	if !ok {
		return
	}
	who := viewer(c)
	if !img.IsPublic && (!who.Valid || who.UUID != img.OwnerID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return
	}

	var req viewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be view or download"})
		return
	}

	ctx := c.Request.Context()
	if models.Action(req.Action) == models.ActionDownload {
		_ = s.deps.History.TrackDownload(ctx, img.ID, who, c.ClientIP())
	} else {
		_ = s.deps.History.TrackView(ctx, img.ID, who, c.ClientIP(), c.Request.UserAgent())
	}
	c.Status(http.StatusNoContent)
}

type renameRequest struct {
	Title string `json:"title" binding:"required"`
}

func (s *Server) handleRename(c *gin.Context) {
	img, user, ok := s.loadOwnedImage(c)
	if !ok {
		return
	}

	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}
	title := strings.TrimSpace(req.Title)

	ctx := c.Request.Context()
	if err := s.deps.Store.UpdateImage(ctx, img.ID, models.ImageUpdate{Title: &title}); err != nil {
		s.internalError(c, "failed to rename image", err)
		return
	}
	if title != img.Title {
		_ = s.deps.History.TrackRename(ctx, img.ID, user, img.Title, title)
	}

	img.Title = title
	c.JSON(http.StatusOK, img)
}

type visibilityRequest struct {
	IsPublic *bool `json:"isPublic" binding:"required"`
}

func (s *Server) handleVisibility(c *gin.Context) {
	img, user, ok := s.loadOwnedImage(c)
	if !ok {
		return
	}

	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "isPublic is required"})
		return
	}

	ctx := c.Request.Context()
	if err := s.deps.Store.UpdateImage(ctx, img.ID, models.ImageUpdate{IsPublic: req.IsPublic}); err != nil {
		s.internalError(c, "failed to update visibility", err)
		return
	}
	if *req.IsPublic != img.IsPublic {
		_ = s.deps.History.TrackPrivacyChange(ctx, img.ID, user, img.IsPublic, *req.IsPublic)
	}

	img.IsPublic = *req.IsPublic
	c.JSON(http.StatusOK, img)
}

func (s *Server) handleDelete(c *gin.Context) {
	img, user, ok := s.loadOwnedImage(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	// recorded first so the event reaches the feed before the cascade
	_ = s.deps.History.TrackDelete(ctx, img.ID, user, img.Title, img.Size)

	if err := s.deps.Store.DeleteImage(ctx, img.ID); err != nil {
		s.internalError(c, "failed to delete image", err)
		return
	}

	for _, path := range []string{img.Path, img.ThumbnailPath} {
		if path == "" {
			continue
		}
		if err := s.deps.Files.Remove(path); err != nil {
			s.logger.Warn("failed to remove image file", zap.String("path", path), zap.Error(err))
		}
	}
	if s.deps.Cache != nil {
		if err := s.deps.Cache.Forget(ctx, img.ID); err != nil {
			s.logger.Warn("failed to drop cached status", zap.String("image_id", img.ID.String()), zap.Error(err))
		}
	}

	c.Status(http.StatusNoContent)
}

type shareRequest struct {
	UserID string `json:"userId" binding:"required,uuid"`
}

func (s *Server) handleShare(c *gin.Context) {
	img, user, ok := s.loadOwnedImage(c)
	if !ok {
		return
	}

	var req shareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId must be a uuid"})
		return
	}
	with := uuid.MustParse(req.UserID)

	_ = s.deps.History.TrackShare(c.Request.Context(), img.ID, user, with)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleShareLink(c *gin.Context) {
	img, user, ok := s.loadOwnedImage(c)
	if !ok {
		return
	}

	token, err := codec.GenerateShareToken()
	if err != nil {
		s.internalError(c, "failed to create share link", err)
		return
	}

	_ = s.deps.History.TrackShareLinkCreated(c.Request.Context(), img.ID, user, token)
	c.JSON(http.StatusCreated, gin.H{"token": token, "imageId": img.ID})
}

func (s *Server) handleLike(liked bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := requireUser(c)
		if !ok {
			return
		}
		img, ok := s.loadImage(c)
		if !ok {
			return
		}
		if !img.IsPublic && img.OwnerID != user {
			c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
			return
		}

		_ = s.deps.History.TrackLike(c.Request.Context(), img.ID, user, liked)
		c.Status(http.StatusNoContent)
	}
}
