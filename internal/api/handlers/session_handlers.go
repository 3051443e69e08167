package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"face-gate-go/internal/api/middleware"
	"face-gate-go/internal/capture"
	"face-gate-go/internal/server/sse"
	"face-gate-go/internal/session"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type startEnrollmentRequest struct {
	Name string `json:"name"`
}

type switchCameraRequest struct {
	Device *int `json:"device"`
}

// StartEnrollment starts a camera-driven enrollment session for a new name.
func (h *APIHandler) StartEnrollment(c *gin.Context) {
	var req startEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	id, err := h.manager.StartEnrollment(c.Request.Context(), strings.TrimSpace(req.Name))
	if err != nil {
		h.sessionStartError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": id, "mode": session.ModeEnrolling})
}

// StartRecognition starts a camera-driven recognition session. Rejected
// up front when nobody is enrolled.
func (h *APIHandler) StartRecognition(c *gin.Context) {
	id, err := h.manager.StartRecognition(c.Request.Context())
	if err != nil {
		h.sessionStartError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": id, "mode": session.ModeRecognizing})
}

func (h *APIHandler) sessionStartError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrSessionActive):
		c.JSON(http.StatusConflict, gin.H{"error": middleware.T(c, "error.session_active", nil)})
	case errors.Is(err, session.ErrNoEnrolledUsers):
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": middleware.T(c, "error.no_enrolled_users", nil)})
	case errors.Is(err, capture.ErrCameraUnavailable), errors.Is(err, capture.ErrCameraTimeout):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": middleware.T(c, "error.camera_unavailable", nil)})
	default:
		log.WithError(err).Error("Failed to start session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start session"})
	}
}

// CurrentSession reports the status of the running session, if any.
func (h *APIHandler) CurrentSession(c *gin.Context) {
	status, ok := h.manager.Current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": middleware.T(c, "error.no_active_session", nil)})
		return
	}
	c.JSON(http.StatusOK, status)
}

// CancelSession cancels the running session.
func (h *APIHandler) CancelSession(c *gin.Context) {
	if err := h.manager.Cancel(); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": middleware.T(c, "error.no_active_session", nil)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session cancelled"})
}

// SwitchCamera swaps the capture device of the running session. The old
// device keeps serving frames until the replacement is confirmed usable.
func (h *APIHandler) SwitchCamera(c *gin.Context) {
	var req switchCameraRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Device == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device is required"})
		return
	}

	if err := h.manager.SwitchCamera(c.Request.Context(), *req.Device); err != nil {
		switch {
		case errors.Is(err, session.ErrNoActiveSession):
			c.JSON(http.StatusNotFound, gin.H{"error": middleware.T(c, "error.no_active_session", nil)})
		case errors.Is(err, capture.ErrCameraUnavailable), errors.Is(err, capture.ErrCameraTimeout):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": middleware.T(c, "error.camera_unavailable", nil)})
		default:
			log.WithError(err).Error("Failed to switch camera")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to switch camera"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "camera switched", "device": *req.Device})
}

// StreamEvents streams session progress to the client over SSE.
func (h *APIHandler) StreamEvents(c *gin.Context) {
	client := make(sse.Client, 10)
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-client:
			if !ok {
				return false
			}
			c.SSEvent("message", string(msg))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
