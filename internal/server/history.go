package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleImageHistory(c *gin.Context) {
	img, _, ok := s.loadOwnedImage(c)
	if !ok {
		return
	}

	events, err := s.deps.History.GetImageHistory(c.Request.Context(), img.ID, limitParam(c))
	if err != nil {
		s.internalError(c, "failed to load image history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imageId": img.ID, "history": events})
}

func (s *Server) handleImageStats(c *gin.Context) {
	img, _, ok := s.loadOwnedImage(c)
	if !ok {
		return
	}

	stats, err := s.deps.History.GetImageStats(c.Request.Context(), img.ID)
	if err != nil {
		s.internalError(c, "failed to load image stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleUserHistory(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	entries, err := s.deps.History.GetUserImageHistory(c.Request.Context(), user, limitParam(c))
	if err != nil {
		s.internalError(c, "failed to load user history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": user, "history": entries})
}
