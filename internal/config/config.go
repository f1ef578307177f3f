package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
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

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	R2        R2Config
	OIDC      OIDCConfig
	Runway    RunwayConfig
	Media     MediaConfig
	Worker    WorkerConfig
	Gateway   GatewayConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	AnimatePerHour int
	ImportPerHour  int
	CreatePerHour  int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
	WallpaperPrefix string
}

// OIDCConfig points at the identity provider whose access tokens the API accepts.
type OIDCConfig struct {
	Issuer   string
	ClientID string
}

// RunwayConfig configures the image-to-video generation backend.
type RunwayConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	Version      string
	Ratio        string
	Duration     int // seconds of generated footage
	PollInterval int // seconds
	PollTimeout  int // seconds
}

// MediaConfig holds the Live Photo pipeline settings.
type MediaConfig struct {
	FFmpegPath         string
	FFprobePath        string
	WorkDir            string
	CacheDir           string
	TargetWidth        int
	TargetHeight       int
	TargetDuration     float64 // seconds
	TargetFrameRate    int
	VideoCodec         string
	MaxConcurrentTasks int
}

// TargetDurationValue returns TargetDuration as a time.Duration.
func (m MediaConfig) TargetDurationValue() time.Duration {
	return time.Duration(m.TargetDuration * float64(time.Second))
}

// Validate rejects settings the pipeline cannot honour.
func (m MediaConfig) Validate() error {
	if m.TargetWidth <= 0 || m.TargetHeight <= 0 {
		return fmt.Errorf("media target size must be positive, got %dx%d", m.TargetWidth, m.TargetHeight)
	}
	if m.TargetDuration <= 0 {
		return fmt.Errorf("media target duration must be positive, got %v", m.TargetDuration)
	}
	if m.TargetFrameRate <= 0 {
		return fmt.Errorf("media target frame rate must be positive, got %d", m.TargetFrameRate)
	}
	if m.MaxConcurrentTasks < 1 {
		return fmt.Errorf("media max concurrent tasks must be at least 1, got %d", m.MaxConcurrentTasks)
	}
	return nil
}

type WorkerConfig struct {
	Concurrency int
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Local .env is optional; real environment always wins
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("RUNWAY_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("OIDC_CLIENT_ID")
	readSecret("JWT_SECRET")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("ratelimit.animate_per_hour", "RATELIMIT_ANIMATE_PER_HOUR")
	_ = viper.BindEnv("ratelimit.import_per_hour", "RATELIMIT_IMPORT_PER_HOUR")
	_ = viper.BindEnv("ratelimit.create_per_hour", "RATELIMIT_CREATE_PER_HOUR")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("r2.wallpaper_prefix", "R2_WALLPAPER_PREFIX")
	_ = viper.BindEnv("oidc.issuer", "OIDC_ISSUER")
	_ = viper.BindEnv("oidc.client_id", "OIDC_CLIENT_ID")
	_ = viper.BindEnv("runway.api_key", "RUNWAY_API_KEY")
	_ = viper.BindEnv("runway.base_url", "RUNWAY_BASE_URL")
	_ = viper.BindEnv("runway.model", "RUNWAY_MODEL")
	_ = viper.BindEnv("runway.version", "RUNWAY_VERSION")
	_ = viper.BindEnv("runway.ratio", "RUNWAY_RATIO")
	_ = viper.BindEnv("runway.duration", "RUNWAY_DURATION")
	_ = viper.BindEnv("runway.poll_interval", "RUNWAY_POLL_INTERVAL")
	_ = viper.BindEnv("runway.poll_timeout", "RUNWAY_POLL_TIMEOUT")
	_ = viper.BindEnv("media.ffmpeg_path", "FFMPEG_PATH")
	_ = viper.BindEnv("media.ffprobe_path", "FFPROBE_PATH")
	_ = viper.BindEnv("media.work_dir", "MEDIA_WORK_DIR")
	_ = viper.BindEnv("media.cache_dir", "MEDIA_CACHE_DIR")
	_ = viper.BindEnv("media.target_width", "MEDIA_TARGET_WIDTH")
	_ = viper.BindEnv("media.target_height", "MEDIA_TARGET_HEIGHT")
	_ = viper.BindEnv("media.target_duration", "MEDIA_TARGET_DURATION")
	_ = viper.BindEnv("media.target_frame_rate", "MEDIA_TARGET_FRAME_RATE")
	_ = viper.BindEnv("media.video_codec", "MEDIA_VIDEO_CODEC")
	_ = viper.BindEnv("media.max_concurrent_tasks", "MEDIA_MAX_CONCURRENT_TASKS")
	_ = viper.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.animate_per_hour", 10)
	viper.SetDefault("ratelimit.import_per_hour", 60)
	viper.SetDefault("ratelimit.create_per_hour", 60)
	viper.SetDefault("r2.wallpaper_prefix", "wallpapers")

	// Runway defaults
	viper.SetDefault("runway.base_url", "https://api.dev.runwayml.com")
	viper.SetDefault("runway.model", "gen4_turbo")
	viper.SetDefault("runway.version", "2024-11-06")
	viper.SetDefault("runway.ratio", "720:1280")
	viper.SetDefault("runway.duration", 5)
	viper.SetDefault("runway.poll_interval", 5)
	viper.SetDefault("runway.poll_timeout", 600)

	// Media pipeline defaults
	viper.SetDefault("media.ffmpeg_path", "ffmpeg")
	viper.SetDefault("media.ffprobe_path", "ffprobe")
	viper.SetDefault("media.work_dir", os.TempDir())
	viper.SetDefault("media.cache_dir", "./data/wallpapers")
	viper.SetDefault("media.target_width", 1080)
	viper.SetDefault("media.target_height", 1920)
	viper.SetDefault("media.target_duration", 2.0)
	viper.SetDefault("media.target_frame_rate", 60)
	viper.SetDefault("media.video_codec", "libx265")
	viper.SetDefault("media.max_concurrent_tasks", 1)

	viper.SetDefault("worker.concurrency", 4)

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			AnimatePerHour: viper.GetInt("ratelimit.animate_per_hour"),
			ImportPerHour:  viper.GetInt("ratelimit.import_per_hour"),
			CreatePerHour:  viper.GetInt("ratelimit.create_per_hour"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
			WallpaperPrefix: viper.GetString("r2.wallpaper_prefix"),
		},
		OIDC: OIDCConfig{
			Issuer:   viper.GetString("oidc.issuer"),
			ClientID: viper.GetString("oidc.client_id"),
		},
		Runway: RunwayConfig{
			APIKey:       viper.GetString("runway.api_key"),
			BaseURL:      viper.GetString("runway.base_url"),
			Model:        viper.GetString("runway.model"),
			Version:      viper.GetString("runway.version"),
			Ratio:        viper.GetString("runway.ratio"),
			Duration:     viper.GetInt("runway.duration"),
			PollInterval: viper.GetInt("runway.poll_interval"),
			PollTimeout:  viper.GetInt("runway.poll_timeout"),
		},
		Media: MediaConfig{
			FFmpegPath:         viper.GetString("media.ffmpeg_path"),
			FFprobePath:        viper.GetString("media.ffprobe_path"),
			WorkDir:            viper.GetString("media.work_dir"),
			CacheDir:           viper.GetString("media.cache_dir"),
			TargetWidth:        viper.GetInt("media.target_width"),
			TargetHeight:       viper.GetInt("media.target_height"),
			TargetDuration:     viper.GetFloat64("media.target_duration"),
			TargetFrameRate:    viper.GetInt("media.target_frame_rate"),
			VideoCodec:         viper.GetString("media.video_codec"),
			MaxConcurrentTasks: viper.GetInt("media.max_concurrent_tasks"),
		},
		Worker: WorkerConfig{
			Concurrency: viper.GetInt("worker.concurrency"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	if err := cfg.Media.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
