package db

import (
	"fmt"
	"time"

	"face-gate-go/config"
	"face-gate-go/internal/core/models"

	"github.com/glebarez/sqlite" // pure Go SQLite driver
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlog "gorm.io/gorm/logger"
)

// Init opens the SQLite database and runs the schema migrations.
func Init(cfg config.DBConfig) (*gorm.DB, error) {
	gormLogger := gormlog.New(
		log.StandardLogger(),
		gormlog.Config{
			SlowThreshold:             2 * time.Second,
			LogLevel:                  gormlog.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	log.Infof("Connecting to database: %s", cfg.File)
	db, err := gorm.Open(sqlite.Open(cfg.File), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database '%s': %w", cfg.File, err)
	}

	log.Info("Running database migrations...")
	if err := db.AutoMigrate(
		&models.Identity{},
		&models.RecognitionEvent{},
		&models.AttendanceCredential{},
		&models.AttendanceEvent{},
	); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	log.Info("Database initialization complete.")
	return db, nil
}
