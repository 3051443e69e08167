package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"face-gate-go/internal/api/middleware"
	"face-gate-go/internal/core/face"
	"face-gate-go/internal/db/repository"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// userRecord is the wire format of one identity. The descriptor is always
// written as an array of arrays; a flat array is accepted on input as a
// legacy single-sample template.
type userRecord struct {
	Name       string           `json:"name"`
	Descriptor []face.Embedding `json:"descriptor"`
}

type createUserRequest struct {
	Name       string          `json:"name"`
	Descriptor json.RawMessage `json:"descriptor"`
}

type appendSampleRequest struct {
	Descriptor json.RawMessage `json:"descriptor"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

// ListUsers returns every enrolled identity with its template.
func (h *APIHandler) ListUsers(c *gin.Context) {
	records, err := h.repo.ListIdentities(c.Request.Context())
	if err != nil {
		log.WithError(err).Error("Failed to list identities")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}

	users := make([]userRecord, 0, len(records))
	for _, rec := range records {
		users = append(users, userRecord{Name: rec.Name, Descriptor: rec.Samples})
	}
	c.JSON(http.StatusOK, users)
}

// CreateUser enrolls a new identity. The unique-name constraint makes a
// concurrent create on the same name a 409.
func (h *APIHandler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Name == "" || len(req.Descriptor) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and descriptor are required"})
		return
	}

	samples, err := face.DecodeSamples(req.Descriptor)
	if err != nil || len(samples) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "descriptor is malformed"})
		return
	}

	if err := h.repo.CreateIdentity(c.Request.Context(), req.Name, samples); err != nil {
		if errors.Is(err, repository.ErrNameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": middleware.T(c, "error.name_conflict", map[string]interface{}{"Name": req.Name})})
			return
		}
		log.WithError(err).Error("Failed to create identity")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}

	log.WithField("name", req.Name).Infof("Identity enrolled with %d sample(s)", len(samples))
	c.JSON(http.StatusCreated, userRecord{Name: req.Name, Descriptor: samples})
}

// AppendUserSample appends sample(s) to an identity's template; the store
// enforces the sample cap with oldest-first eviction.
func (h *APIHandler) AppendUserSample(c *gin.Context) {
	name := c.Param("name")

	var req appendSampleRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Descriptor) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "descriptor is required"})
		return
	}

	samples, err := face.DecodeSamples(req.Descriptor)
	if err != nil || len(samples) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "descriptor is malformed"})
		return
	}

	var count int
	for _, sample := range samples {
		count, err = h.repo.AppendSample(c.Request.Context(), name, sample)
		if err != nil {
			if errors.Is(err, repository.ErrIdentityNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("user %q not found", name)})
				return
			}
			log.WithError(err).Error("Failed to append sample")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update user"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message":         fmt.Sprintf("descriptor added to %q", name),
		"descriptorCount": count,
	})
}

// ClearUsers removes every enrolled identity. Password-gated; there is no
// selective delete.
func (h *APIHandler) ClearUsers(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if h.cfg.Admin.Password == "" {
		log.Error("Bulk clear requested but no admin password is configured")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server has no configured password"})
		return
	}
	if req.Password != h.cfg.Admin.Password {
		c.JSON(http.StatusUnauthorized, gin.H{"error": middleware.T(c, "error.invalid_password", nil)})
		return
	}

	if err := h.repo.ClearAll(c.Request.Context()); err != nil {
		log.WithError(err).Error("Failed to clear identities")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear users"})
		return
	}

	log.Warn("All enrolled identities cleared")
	c.JSON(http.StatusOK, gin.H{"message": "all users cleared"})
}
