package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/buulam/clapshot/internal/incoming"
)

type uploadRequest struct {
	FilePath string `json:"file_path" binding:"required"`
	UserId   string `json:"user_id" binding:"required"`
}

// upload is the sink half of the "API boundary (contract only)": it
// takes a (file_path, user_id) pair already placed on disk by whatever
// uploaded it, and forwards it to the ingestion pipeline over the
// uploads channel (spec §4.F, §6). It does not itself receive file
// bytes — that belongs to a real upload implementation out of scope
// here (spec §1 Non-goals).
func (s *Server) upload(c *gin.Context) {
	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	select {
	case s.uploads <- incoming.Event{Path: req.FilePath, UserId: req.UserId}:
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingest queue full"})
	}
}
