package handlers

import (
	"net/http"

	"face-gate-go/internal/utils"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Health is the liveness probe.
func (h *APIHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetStatus reports enrollment counts, embedder reachability and host
// resource usage.
func (h *APIHandler) GetStatus(c *gin.Context) {
	count, err := h.repo.CountIdentities(c.Request.Context())
	if err != nil {
		log.WithError(err).Error("Failed to count identities")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read status"})
		return
	}

	embedderOK, err := h.embedder.Ping(c.Request.Context())
	if err != nil {
		embedderOK = false
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"enrolled_users": count,
		"embedder_ok":    embedderOK,
		"mqtt_connected": h.mqtt.IsConnected(),
		"system":         utils.GetSystemStats(),
	})
}
