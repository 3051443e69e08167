package handlers

import (
	"net/http"

	"face-gate-go/internal/api/middleware"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const adminSessionKey = "admin_authenticated"

// AdminLogin validates the admin password and marks the cookie session, so
// subsequent admin calls can omit the password.
func (h *APIHandler) AdminLogin(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if !h.adminAuthorized(req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": middleware.T(c, "error.invalid_password", nil)})
		return
	}

	s := sessions.Default(c)
	s.Set(adminSessionKey, true)
	if err := s.Save(); err != nil {
		log.WithError(err).Error("Failed to save admin session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged in"})
}

// AdminListUsers returns names and enrollment metadata without descriptors.
// Accepts either the password in the body or an authenticated session.
func (h *APIHandler) AdminListUsers(c *gin.Context) {
	var req passwordRequest
	_ = c.ShouldBindJSON(&req)

	authed, _ := sessions.Default(c).Get(adminSessionKey).(bool)
	if !authed && !h.adminAuthorized(req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": middleware.T(c, "error.invalid_password", nil)})
		return
	}

	records, err := h.repo.AdminList(c.Request.Context())
	if err != nil {
		log.WithError(err).Error("Failed to build admin listing")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}
	c.JSON(http.StatusOK, records)
}

// adminAuthorized reports whether the given password grants admin access.
// An unset password never authorizes; the distinction between "unset" and
// "wrong" stays in the server log.
func (h *APIHandler) adminAuthorized(password string) bool {
	if h.cfg.Admin.Password == "" {
		log.Warn("Admin request rejected: no admin password configured")
		return false
	}
	return password == h.cfg.Admin.Password
}
