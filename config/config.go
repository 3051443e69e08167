package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Matcher    MatcherConfig    `mapstructure:"matcher"`
	Enrollment EnrollmentConfig `mapstructure:"enrollment"`
	Capture    CaptureConfig    `mapstructure:"capture"`
	Embedder   EmbedderConfig   `mapstructure:"embedder"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Attendance AttendanceConfig `mapstructure:"attendance"`
	Cleanup    CleanupConfig    `mapstructure:"cleanup"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	DataDir       string `mapstructure:"data_dir"`
	SessionSecret string `mapstructure:"session_secret"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig holds database settings.
type DBConfig struct {
	File string `mapstructure:"file"` // SQLite database file
}

// MatcherConfig holds the distance thresholds used for matching.
// The recognition threshold is deliberately tighter than the usual 0.6
// default, trading recall for fewer false accepts.
type MatcherConfig struct {
	RecognitionThreshold   float64 `mapstructure:"recognition_threshold"`
	EnrollmentThreshold    float64 `mapstructure:"enrollment_threshold"`
	DuplicateCheckFailOpen bool    `mapstructure:"duplicate_check_fail_open"`
}

// EnrollmentConfig holds the template learning parameters.
type EnrollmentConfig struct {
	LearningSeconds int `mapstructure:"learning_seconds"` // minimum observation window
	SampleStride    int `mapstructure:"sample_stride"`    // collect every Nth usable frame
	MaxSamples      int `mapstructure:"max_samples"`      // template cap, FIFO eviction
}

// CaptureConfig holds camera device settings.
type CaptureConfig struct {
	Device         int `mapstructure:"device"`          // video device index
	WarmupSeconds  int `mapstructure:"warmup_seconds"`  // how long to wait for usable dimensions
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
}

// EmbedderConfig holds settings for the external detection/embedding service.
type EmbedderConfig struct {
	URL              string  `mapstructure:"url"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	DetProbThreshold float64 `mapstructure:"det_prob_threshold"`
}

// MQTTConfig holds the MQTT publisher settings.
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// AdminConfig holds the password gate for administrative operations.
type AdminConfig struct {
	Password string `mapstructure:"password"`
}

// AttendanceConfig holds settings for the WebAuthn attendance flow.
type AttendanceConfig struct {
	ChallengeTTLSeconds int `mapstructure:"challenge_ttl_seconds"`
}

// CleanupConfig holds retention settings for recognition events.
type CleanupConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

// Load reads the configuration from file, environment variables and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Environment variables overlay the file configuration
	v.AutomaticEnv()
	v.SetEnvPrefix("FACE_GATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers default values for every configuration key.
func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.data_dir", "/data")
	v.SetDefault("server.session_secret", "face-gate-secret")

	// Logging
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "/data/logs/face-gate.log")

	// Database
	v.SetDefault("db.file", "/data/face-gate.db")

	// Matching thresholds (Euclidean distance on 128-d embeddings)
	v.SetDefault("matcher.recognition_threshold", 0.45)
	v.SetDefault("matcher.enrollment_threshold", 0.45)
	v.SetDefault("matcher.duplicate_check_fail_open", true)

	// Enrollment window
	v.SetDefault("enrollment.learning_seconds", 5)
	v.SetDefault("enrollment.sample_stride", 5)
	v.SetDefault("enrollment.max_samples", 25)

	// Camera capture
	v.SetDefault("capture.device", 0)
	v.SetDefault("capture.warmup_seconds", 10)
	v.SetDefault("capture.poll_interval_ms", 250)

	// Embedding service
	v.SetDefault("embedder.url", "http://localhost:18081")
	v.SetDefault("embedder.timeout_seconds", 30)
	v.SetDefault("embedder.det_prob_threshold", 0.8)

	// MQTT
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "face-gate-go")
	v.SetDefault("mqtt.topic_prefix", "face-gate")

	// Attendance
	v.SetDefault("attendance.challenge_ttl_seconds", 120)

	// Cleanup
	v.SetDefault("cleanup.retention_days", 30)
}

// ensureDirectories makes sure all required directories exist.
func ensureDirectories(cfg *Config) error {
	if cfg.Server.DataDir != "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	logDir := filepath.Dir(cfg.Log.File)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	if cfg.DB.File != "" {
		dbDir := filepath.Dir(cfg.DB.File)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
