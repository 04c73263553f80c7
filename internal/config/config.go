package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	AnalyzerRemote = "remote"
	AnalyzerGemini = "gemini"

	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreMemory = "memory"

	MaxImageCount = 10
)

type Config struct {
	LogLevel string
	Debug    bool

	PreferIPv4     bool
	HTTPTimeout    time.Duration
	RequestTimeout time.Duration

	KieAPIKey          string
	KieBaseURL         string
	KieTripAfter       int
	KieBreakerCooldown time.Duration

	Analyzer         string
	AnalyzeURL       string
	AnalyzeAPIKey    string
	GeminiAPIKey     string
	GeminiBaseURL    string
	GeminiAPIVersion string
	GeminiModel      string

	ImageCount         int
	PollInterval       time.Duration
	ImagePollTimeout   time.Duration
	VideoPollTimeout   time.Duration
	VideoDuration      string
	VideoResolution    string
	ArchiveFailedJobs  bool
	MediaGroupDebounce time.Duration
	MaxConcurrent      int

	StoreDriver   string
	DataDir       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	WebAddr       string
	TelegramToken string
}

func Load() (Config, error) {
	cfg := Config{
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Debug:          getEnvBool("DEBUG", false),
		PreferIPv4:     getEnvBool("PREFER_IPV4", true),
		HTTPTimeout:    time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 180)) * time.Second,
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 0)) * time.Second,

		KieAPIKey:          getEnv("KIE_API_KEY", ""),
		KieBaseURL:         strings.TrimRight(getEnv("KIE_BASE_URL", "https://api.kie.ai/api/v1"), "/"),
		KieTripAfter:       getEnvInt("KIE_BREAKER_FAILURES", 5),
		KieBreakerCooldown: time.Duration(getEnvInt("KIE_BREAKER_COOLDOWN_SECONDS", 30)) * time.Second,

		Analyzer:         strings.ToLower(getEnv("ANALYZER", AnalyzerRemote)),
		AnalyzeURL:       getEnv("ANALYZE_URL", ""),
		AnalyzeAPIKey:    getEnv("ANALYZE_API_KEY", ""),
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiBaseURL:    getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		GeminiAPIVersion: getEnv("GEMINI_API_VERSION", "v1beta"),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		ImageCount:         getEnvInt("IMAGE_COUNT", 4),
		PollInterval:       time.Duration(getEnvInt("POLL_INTERVAL_MS", 4000)) * time.Millisecond,
		ImagePollTimeout:   time.Duration(getEnvInt("IMAGE_POLL_TIMEOUT_SECONDS", 180)) * time.Second,
		VideoPollTimeout:   time.Duration(getEnvInt("VIDEO_POLL_TIMEOUT_SECONDS", 360)) * time.Second,
		VideoDuration:      getEnv("VIDEO_DURATION", "5"),
		VideoResolution:    getEnv("VIDEO_RESOLUTION", "720p"),
		ArchiveFailedJobs:  getEnvBool("ARCHIVE_FAILED_JOBS", false),
		MediaGroupDebounce: time.Duration(getEnvInt("MEDIA_GROUP_DEBOUNCE_MS", 1200)) * time.Millisecond,
		MaxConcurrent:      getEnvInt("MAX_CONCURRENT", 4),

		StoreDriver:   strings.ToLower(getEnv("STORE_DRIVER", StoreFile)),
		DataDir:       getEnv("DATA_DIR", "./data"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisPrefix:   getEnv("REDIS_PREFIX", "dance-studio:"),

		WebAddr:       getEnv("WEB_ADDR", ":8080"),
		TelegramToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
	}

	switch cfg.Analyzer {
	case AnalyzerRemote:
		if cfg.AnalyzeURL == "" {
			return Config{}, errors.New("ANALYZE_URL is required when ANALYZER=remote")
		}
	case AnalyzerGemini:
		if cfg.GeminiAPIKey == "" {
			return Config{}, errors.New("GEMINI_API_KEY is required when ANALYZER=gemini")
		}
	default:
		return Config{}, fmt.Errorf("unknown ANALYZER %q", cfg.Analyzer)
	}

	switch cfg.StoreDriver {
	case StoreFile, StoreRedis, StoreMemory:
	default:
		return Config{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	if cfg.ImageCount < 1 {
		cfg.ImageCount = 1
	}
	if cfg.ImageCount > MaxImageCount {
		cfg.ImageCount = MaxImageCount
	}
	if cfg.KieTripAfter < 0 {
		cfg.KieTripAfter = 0
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 180 * time.Second
	}
	if cfg.RequestTimeout < 0 {
		cfg.RequestTimeout = 0
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 4 * time.Second
	}
	if cfg.ImagePollTimeout < 0 {
		cfg.ImagePollTimeout = 180 * time.Second
	}
	// 0 keeps video polling unbounded.
	if cfg.VideoPollTimeout < 0 {
		cfg.VideoPollTimeout = 0
	}

	return cfg, nil
}

// RequireTelegram checks the settings only the bot front end needs.
func (c Config) RequireTelegram() error {
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
