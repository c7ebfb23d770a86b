package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	App       AppConfig
	Server    ServerConfig
	Redis     RedisConfig
	WS        WSConfig
	Media     MediaConfig
	Transcode TranscodeConfig
	AWS       AWSConfig
}

// AppConfig holds process-wide settings.
type AppConfig struct {
	Env      string // development | production
	LogLevel string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	PublicBaseURL      string // e.g. http://192.168.0.10:5000; used to build media and stream URLs
}

// RedisConfig holds Redis connection settings. Empty Addr disables cross-instance fan-out.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// WSConfig holds WebSocket tuning.
type WSConfig struct {
	MaxMessageSize int64
	SendBuffer     int
}

// MediaConfig holds upload collaborator settings.
type MediaConfig struct {
	UploadDir   string
	MaxUploadMB int
}

// TranscodeConfig holds HLS transcoding settings.
type TranscodeConfig struct {
	FFmpegPath       string
	OutputDir        string
	RetentionMinutes int
	PurgeIntervalMin int
	StopTimeoutSec   int
}

// AWSConfig holds AWS credentials for the optional S3 upload backend.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	UploadsBucket        string // empty = store uploads on local disk
	PresignExpireMinutes int
}

// Retention returns the segment retention window.
func (c TranscodeConfig) Retention() time.Duration {
	return time.Duration(c.RetentionMinutes) * time.Minute
}

// PurgeInterval returns how often the retention janitor runs.
func (c TranscodeConfig) PurgeInterval() time.Duration {
	return time.Duration(c.PurgeIntervalMin) * time.Minute
}

// StopTimeout returns how long Stop waits for ffmpeg to exit before killing it.
func (c TranscodeConfig) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutSec) * time.Second
}

// Development reports whether the app runs in development mode.
func (c AppConfig) Development() bool {
	return strings.EqualFold(c.Env, "development")
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	port := getEnv("PORT", "5000")
	cfg := &Config{
		App: AppConfig{
			Env:      getEnv("APP_ENV", "production"),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			Port:               port,
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			PublicBaseURL:      strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		WS: WSConfig{
			MaxMessageSize: int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 1<<20)),
			SendBuffer:     getEnvInt("WS_SEND_BUFFER", 256),
		},
		Media: MediaConfig{
			UploadDir:   getEnv("UPLOAD_DIR", "uploads"),
			MaxUploadMB: getEnvInt("MAX_UPLOAD_MB", 2048),
		},
		Transcode: TranscodeConfig{
			FFmpegPath:       getEnv("FFMPEG_PATH", "ffmpeg"),
			OutputDir:        getEnv("HLS_DIR", "uploads/hls"),
			RetentionMinutes: getEnvInt("HLS_RETENTION_MIN", 60),
			PurgeIntervalMin: getEnvInt("HLS_PURGE_INTERVAL_MIN", 5),
			StopTimeoutSec:   getEnvInt("TRANSCODE_STOP_TIMEOUT_SEC", 5),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			UploadsBucket:        getEnv("AWS_S3_UPLOADS_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 720),
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
