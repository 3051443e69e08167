package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"face-gate-go/config"
	"face-gate-go/internal/api/handlers"
	"face-gate-go/internal/api/middleware"
	"face-gate-go/internal/attendance"
	"face-gate-go/internal/capture"
	"face-gate-go/internal/cleanup"
	"face-gate-go/internal/db"
	"face-gate-go/internal/db/repository"
	"face-gate-go/internal/integrations/embedder"
	"face-gate-go/internal/integrations/mqtt"
	"face-gate-go/internal/logger"
	"face-gate-go/internal/server/sse"
	"face-gate-go/internal/session"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const defaultConfigPath = "/config/config.yaml"

func main() {
	// .env is optional; environment wins over file values either way
	_ = godotenv.Load()

	configPath := os.Getenv("FACE_GATE_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(cfg.Log); err != nil {
		log.Errorf("Failed to initialize logger completely: %v", err)
	}

	log.Info("Initializing database...")
	database, err := db.Init(cfg.DB)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	repo := repository.New(database, cfg.Enrollment.MaxSamples)

	cleanupService := cleanup.NewService(database, cfg.Cleanup.RetentionDays, 24*time.Hour)
	if cleanupService != nil {
		cleanupService.StartBackgroundCleanup()
	}

	embedderClient := embedder.NewClient(cfg.Embedder)
	if ok, err := embedderClient.Ping(context.Background()); err != nil || !ok {
		log.WithError(err).Warn("Embedder service not reachable at startup, sessions will fail until it is")
	}

	mqttClient := mqtt.NewClient(cfg.MQTT)
	if err := mqttClient.Start(); err != nil {
		log.WithError(err).Warn("MQTT connection failed, continuing without broker")
	}
	defer mqttClient.Stop()

	hub := sse.NewHub()
	go hub.Run()

	attendanceService := attendance.NewService(repo, time.Duration(cfg.Attendance.ChallengeTTLSeconds)*time.Second)

	openCamera := func(ctx context.Context) (session.Source, error) {
		return capture.Open(ctx, cfg.Capture)
	}
	manager := session.NewManager(openCamera, embedderClient, repo, session.MultiNotifier{hub, mqttClient}, session.Config{
		EnrollmentThreshold:    cfg.Matcher.EnrollmentThreshold,
		RecognitionThreshold:   cfg.Matcher.RecognitionThreshold,
		DuplicateCheckFailOpen: cfg.Matcher.DuplicateCheckFailOpen,
		LearningWindow:         time.Duration(cfg.Enrollment.LearningSeconds) * time.Second,
		SampleStride:           cfg.Enrollment.SampleStride,
	})

	router := gin.New()
	router.Use(gin.Recovery())

	// The kiosk frontends are served from other origins.
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	router.Use(cors.New(corsConfig))

	store := cookie.NewStore([]byte(cfg.Server.SessionSecret))
	router.Use(sessions.Sessions("face_gate_session", store))
	router.Use(middleware.I18n("en"))

	apiHandler := handlers.NewAPIHandler(cfg, repo, manager, attendanceService, hub, mqttClient, embedderClient)
	apiHandler.RegisterRoutes(router)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Infof("Starting server on %s", addr)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
