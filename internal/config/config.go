package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string

	Logger LoggerConfig

	Primary   ProviderConfig
	Secondary ProviderConfig

	Storage StorageConfig
	Email   EmailConfig
}

type LoggerConfig struct {
	Level string
}

// ProviderConfig describes one LLM completion backend.
type ProviderConfig struct {
	Kind    string // "openai" or "anthropic"
	BaseURL string
	APIKey  string
	Model   string
}

type StorageConfig struct {
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	S3PublicBase   string

	FallbackDir     string
	FallbackBaseURL string
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "planforge"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		DBType:     getenv("DATABASE_TYPE", "postgres"),
		DBHost:     getenv("DATABASE_HOST", "localhost"),
		DBPort:     getenv("DATABASE_PORT", "5432"),
		DBName:     getenv("DATABASE_NAME", "planforge"),
		DBUser:     getenv("DATABASE_USER", "postgres"),
		DBPassword: getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:  getenv("DATABASE_SSLMODE", "disable"),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		Logger: LoggerConfig{
			Level: strings.ToLower(getenv("LOG_LEVEL", "info")),
		},

		Primary: ProviderConfig{
			Kind:    strings.ToLower(getenv("LLM_PRIMARY_KIND", "anthropic")),
			BaseURL: getenv("LLM_PRIMARY_BASE_URL", "https://api.anthropic.com"),
			APIKey:  strings.TrimSpace(getenv("LLM_PRIMARY_API_KEY", "")),
			Model:   getenv("LLM_PRIMARY_MODEL", "claude-sonnet-4-20250514"),
		},
		Secondary: ProviderConfig{
			Kind:    strings.ToLower(getenv("LLM_SECONDARY_KIND", "openai")),
			BaseURL: getenv("LLM_SECONDARY_BASE_URL", "https://api.openai.com"),
			APIKey:  strings.TrimSpace(getenv("LLM_SECONDARY_API_KEY", "")),
			Model:   getenv("LLM_SECONDARY_MODEL", "gpt-4o"),
		},

		Storage: StorageConfig{
			S3Bucket:        getenv("STORAGE_S3_BUCKET", "planforge-deliverables"),
			S3Region:        getenv("STORAGE_S3_REGION", "us-east-1"),
			S3Endpoint:      getenv("STORAGE_S3_ENDPOINT", ""),
			S3AccessKey:     getenv("STORAGE_S3_ACCESS_KEY", ""),
			S3SecretKey:     getenv("STORAGE_S3_SECRET_KEY", ""),
			S3UsePathStyle:  getenvBool("STORAGE_S3_PATH_STYLE", false),
			S3PublicBase:    getenv("STORAGE_S3_PUBLIC_BASE", ""),
			FallbackDir:     getenv("STORAGE_FALLBACK_DIR", "/var/lib/planforge/deliverables"),
			FallbackBaseURL: getenv("STORAGE_FALLBACK_BASE_URL", "file:///var/lib/planforge/deliverables"),
		},

		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", "localhost"),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "delivery@planforge.io"),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
