// Package cleanup prunes old recognition and attendance events in the
// background so the event tables stay bounded.
package cleanup

import (
	"time"

	"face-gate-go/internal/core/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Service deletes events older than the configured retention window.
type Service struct {
	db            *gorm.DB
	retentionDays int
	interval      time.Duration
	stop          chan struct{}
}

// NewService creates a cleanup service. A retention of 0 days disables it.
func NewService(db *gorm.DB, retentionDays int, interval time.Duration) *Service {
	if retentionDays <= 0 {
		log.Info("Event cleanup disabled (retention_days is 0)")
		return nil
	}
	return &Service{
		db:            db,
		retentionDays: retentionDays,
		interval:      interval,
		stop:          make(chan struct{}),
	}
}

// StartBackgroundCleanup runs one pass immediately and then on a ticker.
func (s *Service) StartBackgroundCleanup() {
	go func() {
		log.Infof("Starting event cleanup, retention %d days, interval %s", s.retentionDays, s.interval)
		s.runOnce()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runOnce()
			case <-s.stop:
				log.Info("Event cleanup stopped")
				return
			}
		}
	}()
}

// StopBackgroundCleanup halts the background loop.
func (s *Service) StopBackgroundCleanup() {
	close(s.stop)
}

func (s *Service) runOnce() {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	res := s.db.Unscoped().Where("matched_at < ?", cutoff).Delete(&models.RecognitionEvent{})
	if res.Error != nil {
		log.WithError(res.Error).Error("Failed to prune recognition events")
	} else if res.RowsAffected > 0 {
		log.Infof("Pruned %d recognition events older than %s", res.RowsAffected, cutoff.Format(time.RFC3339))
	}

	res = s.db.Unscoped().Where("checked_in_at < ?", cutoff).Delete(&models.AttendanceEvent{})
	if res.Error != nil {
		log.WithError(res.Error).Error("Failed to prune attendance events")
	} else if res.RowsAffected > 0 {
		log.Infof("Pruned %d attendance events older than %s", res.RowsAffected, cutoff.Format(time.RFC3339))
	}
}
