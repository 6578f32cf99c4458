package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sercuelabs/sercuescribe/internal/cache"
	"github.com/sercuelabs/sercuescribe/internal/models"
	"github.com/sercuelabs/sercuescribe/internal/stream"
	"github.com/sercuelabs/sercuescribe/internal/utils"
)

type StreamHandler struct {
	controller  *stream.Controller
	transcripts cache.TranscriptStore // nil when no store is configured
}

func NewStreamHandler(controller *stream.Controller, transcripts cache.TranscriptStore) *StreamHandler {
	return &StreamHandler{controller: controller, transcripts: transcripts}
}

type CreateSessionRequest struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Format     string `json:"format"`
}

type CreateSessionResponse struct {
	SessionID string             `json:"session_id"`
	Status    string             `json:"status"`
	Params    models.AudioParams `json:"params"`
}

// Create registers a session over plain HTTP so a client can attach to it
// later through the existing-session WebSocket endpoint.
func (h *StreamHandler) Create(c *gin.Context) {
	var req CreateSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, utils.E(utils.CodeInvalidArgument, "StreamHandler.Create", "invalid request body", err))
			return
		}
	}

	sess, err := h.controller.Create(optionalUserID(c), req.SampleRate, req.Channels, req.Format)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, CreateSessionResponse{
		SessionID: sess.SessionID,
		Status:    sess.Status,
		Params:    sess.Params,
	})
}

// Info returns the session snapshot, or 404 for an unknown identifier.
func (h *StreamHandler) Info(c *gin.Context) {
	info, err := h.controller.Info(c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type CloseSessionResponse struct {
	Success   bool               `json:"success"`
	SessionID string             `json:"session_id"`
	FinalInfo models.SessionInfo `json:"final_info"`
}

// Close finalizes the session and returns the final snapshot. Closing an
// already-closed session succeeds with the same snapshot.
func (h *StreamHandler) Close(c *gin.Context) {
	sessionID := c.Param("session_id")

	info, err := h.controller.Close(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, CloseSessionResponse{
		Success:   true,
		SessionID: sessionID,
		FinalInfo: info,
	})
}

type TranscriptResponse struct {
	SessionID string                  `json:"session_id"`
	Entries   []cache.TranscriptEntry `json:"entries"`
}

// Transcript returns the transcript entries accumulated for a session so far,
// in chunk order. Available only when a transcript store is configured.
func (h *StreamHandler) Transcript(c *gin.Context) {
	const op = "StreamHandler.Transcript"
	sessionID := c.Param("session_id")

	if _, err := h.controller.Info(sessionID); err != nil {
		writeError(c, err)
		return
	}
	if h.transcripts == nil {
		writeError(c, utils.E(utils.CodeUnavailable, op, "transcript store not configured", nil))
		return
	}

	entries, err := h.transcripts.List(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, utils.E(utils.CodeInternal, op, "failed to read transcript", err))
		return
	}
	c.JSON(http.StatusOK, TranscriptResponse{SessionID: sessionID, Entries: entries})
}
