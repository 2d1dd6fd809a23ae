package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

// Queue drivers
const (
	QueueDriverRedis  = "redis"
	QueueDriverMemory = "memory"
)

// Capture device kinds
const (
	DeviceFFmpeg = "ffmpeg"
	DeviceNone   = "none"
)

type Config struct {
	Server      ServerConfig
	Redis       RedisConfig
	JWT         JWTConfig
	RateLimit   RateLimitConfig
	Queue       QueueConfig
	Overlay     OverlayConfig
	Capture     CaptureConfig
	Storage     StorageConfig
	Platform    PlatformConfig
	Permissions PermissionsConfig
	R2          R2Config
}

type ServerConfig struct {
	Port     string `validate:"required,numeric"`
	Env      string
	LogLevel string `validate:"omitempty,oneof=debug info warn error"`
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int `validate:"min=0,max=15"`
}

type JWTConfig struct {
	Secret     string `validate:"required"`
	Expiration int    // hours
}

type RateLimitConfig struct {
	CapturePerMin int `validate:"min=1"`
}

type QueueConfig struct {
	Driver         string `validate:"required,oneof=redis memory"`
	Name           string `validate:"required"`
	MaxRetry       int    `validate:"min=0"`
	RetentionHours int    `validate:"min=0"`
}

type OverlayConfig struct {
	JobKey       string `validate:"required"`
	AssetPath    string `validate:"required"`
	OutputName   string `validate:"required"`
	FFmpegBinary string `validate:"required"`
}

type CaptureConfig struct {
	Device      string `validate:"required,oneof=ffmpeg none"`
	InputFormat string
	InputDevice string
	AudioFormat string
	AudioDevice string
}

type StorageConfig struct {
	Root     string `validate:"required"`
	VideoDir string
}

type PlatformConfig struct {
	APILevel int `validate:"min=1"`
}

type PermissionsConfig struct {
	Granted []string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// Enabled reports whether enough R2 settings are present to publish outputs.
func (c R2Config) Enabled() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = v.BindEnv("ratelimit.capture_per_min", "RATELIMIT_CAPTURE_PER_MIN")
	_ = v.BindEnv("queue.driver", "QUEUE_DRIVER")
	_ = v.BindEnv("queue.name", "QUEUE_NAME")
	_ = v.BindEnv("queue.max_retry", "QUEUE_MAX_RETRY")
	_ = v.BindEnv("queue.retention_hours", "QUEUE_RETENTION_HOURS")
	_ = v.BindEnv("overlay.job_key", "OVERLAY_JOB_KEY")
	_ = v.BindEnv("overlay.asset_path", "OVERLAY_ASSET_PATH")
	_ = v.BindEnv("overlay.output_name", "OVERLAY_OUTPUT_NAME")
	_ = v.BindEnv("overlay.ffmpeg_binary", "FFMPEG_BINARY")
	_ = v.BindEnv("capture.device", "CAPTURE_DEVICE")
	_ = v.BindEnv("capture.input_format", "CAPTURE_INPUT_FORMAT")
	_ = v.BindEnv("capture.input_device", "CAPTURE_INPUT_DEVICE")
	_ = v.BindEnv("capture.audio_format", "CAPTURE_AUDIO_FORMAT")
	_ = v.BindEnv("capture.audio_device", "CAPTURE_AUDIO_DEVICE")
	_ = v.BindEnv("storage.root", "STORAGE_ROOT")
	_ = v.BindEnv("storage.video_dir", "STORAGE_VIDEO_DIR")
	_ = v.BindEnv("platform.api_level", "PLATFORM_API_LEVEL")
	_ = v.BindEnv("permissions.granted", "PERMISSIONS_GRANTED")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expiration", 24)
	v.SetDefault("ratelimit.capture_per_min", 30)

	// Queue defaults
	v.SetDefault("queue.driver", QueueDriverRedis)
	v.SetDefault("queue.name", "overlay")
	v.SetDefault("queue.max_retry", 0)
	v.SetDefault("queue.retention_hours", 24)

	// Overlay defaults
	v.SetDefault("overlay.job_key", "video_overlay_worker")
	v.SetDefault("overlay.asset_path", "logo.png")
	v.SetDefault("overlay.output_name", "FilteredFile.mp4")
	v.SetDefault("overlay.ffmpeg_binary", "ffmpeg")

	// Capture defaults
	v.SetDefault("capture.device", DeviceFFmpeg)
	v.SetDefault("capture.input_format", "v4l2")
	v.SetDefault("capture.input_device", "/dev/video0")
	v.SetDefault("capture.audio_format", "alsa")
	v.SetDefault("capture.audio_device", "default")

	// Storage defaults
	v.SetDefault("storage.root", "./media")
	v.SetDefault("storage.video_dir", "Movies/VideoApp")
	v.SetDefault("platform.api_level", 34)
	v.SetDefault("permissions.granted", []string{"camera", "microphone", "storage"})

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("jwt.secret"),
			Expiration: v.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			CapturePerMin: v.GetInt("ratelimit.capture_per_min"),
		},
		Queue: QueueConfig{
			Driver:         v.GetString("queue.driver"),
			Name:           v.GetString("queue.name"),
			MaxRetry:       v.GetInt("queue.max_retry"),
			RetentionHours: v.GetInt("queue.retention_hours"),
		},
		Overlay: OverlayConfig{
			JobKey:       v.GetString("overlay.job_key"),
			AssetPath:    v.GetString("overlay.asset_path"),
			OutputName:   v.GetString("overlay.output_name"),
			FFmpegBinary: v.GetString("overlay.ffmpeg_binary"),
		},
		Capture: CaptureConfig{
			Device:      v.GetString("capture.device"),
			InputFormat: v.GetString("capture.input_format"),
			InputDevice: v.GetString("capture.input_device"),
			AudioFormat: v.GetString("capture.audio_format"),
			AudioDevice: v.GetString("capture.audio_device"),
		},
		Storage: StorageConfig{
			Root:     v.GetString("storage.root"),
			VideoDir: v.GetString("storage.video_dir"),
		},
		Platform: PlatformConfig{
			APILevel: v.GetInt("platform.api_level"),
		},
		Permissions: PermissionsConfig{
			Granted: splitList(v.GetStringSlice("permissions.granted")),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks the struct tags on every section.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
