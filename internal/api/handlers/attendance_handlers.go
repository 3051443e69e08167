package handlers

import (
	"errors"
	"net/http"
	"time"

	"face-gate-go/internal/attendance"
	"face-gate-go/internal/db/repository"
	"face-gate-go/internal/integrations/mqtt"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type registerChallengeRequest struct {
	Name string `json:"name"`
}

type registerRequest struct {
	ChallengeID  string `json:"challenge_id"`
	Name         string `json:"name"`
	CredentialID string `json:"credential_id"`
}

type assertRequest struct {
	ChallengeID  string `json:"challenge_id"`
	CredentialID string `json:"credential_id"`
}

// AttendanceRegisterChallenge issues a short-lived registration challenge
// for the given name.
func (h *APIHandler) AttendanceRegisterChallenge(c *gin.Context) {
	var req registerChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	challenge, err := h.attendance.RegistrationChallenge(req.Name)
	if err != nil {
		log.WithError(err).Error("Failed to issue registration challenge")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue challenge"})
		return
	}
	c.JSON(http.StatusOK, challenge)
}

// AttendanceRegister completes credential registration against a pending
// challenge.
func (h *APIHandler) AttendanceRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ChallengeID == "" || req.Name == "" || req.CredentialID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "challenge_id, name and credential_id are required"})
		return
	}

	if err := h.attendance.Register(c.Request.Context(), req.ChallengeID, req.Name, req.CredentialID); err != nil {
		h.attendanceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "credential registered", "name": req.Name})
}

// AttendanceAssertChallenge issues a short-lived assertion challenge.
func (h *APIHandler) AttendanceAssertChallenge(c *gin.Context) {
	challenge, err := h.attendance.AssertionChallenge()
	if err != nil {
		log.WithError(err).Error("Failed to issue assertion challenge")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue challenge"})
		return
	}
	c.JSON(http.StatusOK, challenge)
}

// AttendanceAssert completes a check-in: the credential ID is resolved to
// the registered name and the attendance event is recorded.
func (h *APIHandler) AttendanceAssert(c *gin.Context) {
	var req assertRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ChallengeID == "" || req.CredentialID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "challenge_id and credential_id are required"})
		return
	}

	name, err := h.attendance.Assert(c.Request.Context(), req.ChallengeID, req.CredentialID)
	if err != nil {
		h.attendanceError(c, err)
		return
	}

	h.mqtt.PublishAttendance(mqtt.AttendanceMessage{Name: name, CheckedInAt: time.Now()})
	log.WithField("name", name).Info("Attendance check-in")
	c.JSON(http.StatusOK, gin.H{"name": name, "message": "checked in"})
}

func (h *APIHandler) attendanceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, attendance.ErrChallengeUnknown), errors.Is(err, attendance.ErrChallengeExpired), errors.Is(err, attendance.ErrChallengeMismatch):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrCredentialTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrCredentialUnknown):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	default:
		log.WithError(err).Error("Attendance operation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "attendance operation failed"})
	}
}
