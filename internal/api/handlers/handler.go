// Package handlers implements the HTTP surface: the user/template store
// contract, capture-session control, the WebAuthn attendance flow and the
// administrative endpoints.
package handlers

import (
	"face-gate-go/config"
	"face-gate-go/internal/attendance"
	"face-gate-go/internal/db/repository"
	"face-gate-go/internal/integrations/embedder"
	"face-gate-go/internal/integrations/mqtt"
	"face-gate-go/internal/server/sse"
	"face-gate-go/internal/session"

	"github.com/gin-gonic/gin"
)

// APIHandler carries the dependencies of all HTTP endpoints.
type APIHandler struct {
	cfg        *config.Config
	repo       *repository.Repository
	manager    *session.Manager
	attendance *attendance.Service
	hub        *sse.Hub
	mqtt       *mqtt.Client
	embedder   *embedder.Client
}

// NewAPIHandler creates the handler set.
func NewAPIHandler(cfg *config.Config, repo *repository.Repository, manager *session.Manager, att *attendance.Service, hub *sse.Hub, mqttClient *mqtt.Client, emb *embedder.Client) *APIHandler {
	return &APIHandler{
		cfg:        cfg,
		repo:       repo,
		manager:    manager,
		attendance: att,
		hub:        hub,
		mqtt:       mqttClient,
		embedder:   emb,
	}
}

// RegisterRoutes registers all routes on the engine.
func (h *APIHandler) RegisterRoutes(router *gin.Engine) {
	// Template store contract
	router.GET("/health", h.Health)
	router.GET("/users", h.ListUsers)
	router.POST("/users", h.CreateUser)
	router.PUT("/users/:name", h.AppendUserSample)
	router.DELETE("/users", h.ClearUsers)

	// Admin
	router.POST("/admin/login", h.AdminLogin)
	router.POST("/admin/users", h.AdminListUsers)

	// WebAuthn attendance
	router.POST("/attendance/register/challenge", h.AttendanceRegisterChallenge)
	router.POST("/attendance/register", h.AttendanceRegister)
	router.POST("/attendance/assert/challenge", h.AttendanceAssertChallenge)
	router.POST("/attendance/assert", h.AttendanceAssert)

	// Capture sessions and observability
	api := router.Group("/api")
	api.POST("/sessions/enroll", h.StartEnrollment)
	api.POST("/sessions/recognize", h.StartRecognition)
	api.GET("/sessions/current", h.CurrentSession)
	api.DELETE("/sessions/current", h.CancelSession)
	api.POST("/sessions/camera", h.SwitchCamera)
	api.GET("/events", h.StreamEvents)
	api.GET("/status", h.GetStatus)
}
