package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ModeImage = "image"
	ModeVideo = "video"
	ModeAll   = "all"

	JobStoreMemory   = "memory"
	JobStorePostgres = "postgres"
)

type Config struct {
	AppName     string
	AppHost     string
	AppPort     int
	AppLogLevel string
	ServiceMode string

	ModelPath       string
	ModelLabelsPath string
	OnnxLibraryPath string
	ModelPoolSize   int
	ConfThreshold   float32
	IoUThreshold    float32

	StaticDir   string
	UploadDir   string
	ResultDir   string
	MaxUploadMB int64

	VideoCodec     string
	VideoFourCC    string
	VideoWorkers   int
	VideoQueueSize int
	ProgressEvery  int

	JobStore    string
	DatabaseURL string

	RetentionMaxAge        time.Duration
	RetentionSweepInterval time.Duration

	MetricsEnabled bool
	StatsdAddress  string
}

// Addr is the listen address of the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.AppHost, c.AppPort)
}

func (c Config) ServesImages() bool {
	return c.ServiceMode == ModeImage || c.ServiceMode == ModeAll
}

func (c Config) ServesVideos() bool {
	return c.ServiceMode == ModeVideo || c.ServiceMode == ModeAll
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "object-detection-service")
	v.SetDefault("APP_HOST", "127.0.0.1")
	v.SetDefault("APP_PORT", 8080)
	v.SetDefault("APP_LOG_LEVEL", "INFO")
	v.SetDefault("SERVICE_MODE", ModeAll)

	v.SetDefault("MODEL_PATH", "models/garbage.onnx")
	v.SetDefault("MODEL_LABELS_PATH", "")
	v.SetDefault("ONNX_LIBRARY_PATH", "")
	v.SetDefault("MODEL_POOL_SIZE", 4)
	v.SetDefault("CONF_THRESHOLD", 0.25)
	v.SetDefault("IOU_THRESHOLD", 0.45)

	v.SetDefault("STATIC_DIR", "static")
	v.SetDefault("UPLOAD_DIR", "")
	v.SetDefault("RESULT_DIR", "")
	v.SetDefault("MAX_UPLOAD_MB", 0)

	v.SetDefault("VIDEO_CODEC", "libx264")
	v.SetDefault("VIDEO_FOURCC", "avc1")
	v.SetDefault("VIDEO_WORKERS", 1)
	v.SetDefault("VIDEO_QUEUE_SIZE", 16)
	v.SetDefault("PROGRESS_EVERY", 10)

	v.SetDefault("JOB_STORE", JobStoreMemory)
	v.SetDefault("DATABASE_URL", "")

	v.SetDefault("RETENTION_MAX_AGE", "24h")
	v.SetDefault("RETENTION_SWEEP_INTERVAL", "1h")

	v.SetDefault("METRICS_ENABLED", false)
	v.SetDefault("STATSD_ADDRESS", "localhost:8125")
}

// New returns a viper instance with defaults applied and environment
// variables bound. Callers may bind command line flags on top of it.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	return v
}

// Load reads and validates the configuration from v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		AppName:         strings.TrimSpace(v.GetString("APP_NAME")),
		AppHost:         strings.TrimSpace(v.GetString("APP_HOST")),
		AppPort:         v.GetInt("APP_PORT"),
		AppLogLevel:     strings.TrimSpace(v.GetString("APP_LOG_LEVEL")),
		ServiceMode:     strings.ToLower(strings.TrimSpace(v.GetString("SERVICE_MODE"))),
		ModelPath:       v.GetString("MODEL_PATH"),
		ModelLabelsPath: v.GetString("MODEL_LABELS_PATH"),
		OnnxLibraryPath: v.GetString("ONNX_LIBRARY_PATH"),
		ModelPoolSize:   v.GetInt("MODEL_POOL_SIZE"),
		ConfThreshold:   float32(v.GetFloat64("CONF_THRESHOLD")),
		IoUThreshold:    float32(v.GetFloat64("IOU_THRESHOLD")),
		StaticDir:       v.GetString("STATIC_DIR"),
		UploadDir:       v.GetString("UPLOAD_DIR"),
		ResultDir:       v.GetString("RESULT_DIR"),
		MaxUploadMB:     v.GetInt64("MAX_UPLOAD_MB"),
		VideoCodec:      v.GetString("VIDEO_CODEC"),
		VideoFourCC:     v.GetString("VIDEO_FOURCC"),
		VideoWorkers:    v.GetInt("VIDEO_WORKERS"),
		VideoQueueSize:  v.GetInt("VIDEO_QUEUE_SIZE"),
		ProgressEvery:   v.GetInt("PROGRESS_EVERY"),
		JobStore:        strings.ToLower(strings.TrimSpace(v.GetString("JOB_STORE"))),
		DatabaseURL:     v.GetString("DATABASE_URL"),
		MetricsEnabled:  v.GetBool("METRICS_ENABLED"),
		StatsdAddress:   v.GetString("STATSD_ADDRESS"),
	}

	var err error
	if cfg.RetentionMaxAge, err = parseDuration(v, "RETENTION_MAX_AGE"); err != nil {
		return Config{}, err
	}
	if cfg.RetentionSweepInterval, err = parseDuration(v, "RETENTION_SWEEP_INTERVAL"); err != nil {
		return Config{}, err
	}

	if cfg.UploadDir == "" {
		cfg.UploadDir = filepath.Join(cfg.StaticDir, "uploads")
	}
	if cfg.ResultDir == "" {
		cfg.ResultDir = filepath.Join(cfg.StaticDir, "results")
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" || raw == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return d, nil
}

func (c Config) validate() error {
	if c.AppName == "" {
		return fmt.Errorf("invalid APP_NAME: cannot be empty")
	}
	if c.AppPort <= 0 || c.AppPort > 65535 {
		return fmt.Errorf("invalid APP_PORT: %d", c.AppPort)
	}
	switch c.ServiceMode {
	case ModeImage, ModeVideo, ModeAll:
	default:
		return fmt.Errorf("invalid SERVICE_MODE: %q", c.ServiceMode)
	}
	if c.ConfThreshold < 0 || c.ConfThreshold > 1 {
		return fmt.Errorf("invalid CONF_THRESHOLD: %v", c.ConfThreshold)
	}
	if c.IoUThreshold <= 0 || c.IoUThreshold > 1 {
		return fmt.Errorf("invalid IOU_THRESHOLD: %v", c.IoUThreshold)
	}
	if c.ModelPoolSize <= 0 {
		return fmt.Errorf("invalid MODEL_POOL_SIZE: %d", c.ModelPoolSize)
	}
	if c.VideoWorkers <= 0 {
		return fmt.Errorf("invalid VIDEO_WORKERS: %d", c.VideoWorkers)
	}
	if c.VideoQueueSize <= 0 {
		return fmt.Errorf("invalid VIDEO_QUEUE_SIZE: %d", c.VideoQueueSize)
	}
	if c.ProgressEvery <= 0 {
		return fmt.Errorf("invalid PROGRESS_EVERY: %d", c.ProgressEvery)
	}
	if c.MaxUploadMB < 0 {
		return fmt.Errorf("invalid MAX_UPLOAD_MB: %d", c.MaxUploadMB)
	}
	switch c.JobStore {
	case JobStoreMemory:
	case JobStorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("invalid DATABASE_URL: required when JOB_STORE=postgres")
		}
	default:
		return fmt.Errorf("invalid JOB_STORE: %q", c.JobStore)
	}
	return nil
}
