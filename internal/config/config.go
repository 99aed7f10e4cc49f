package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

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

	RedisAddr     string
	RedisPassword string

	// SweepSecret authorizes the external cron trigger for the publish sweep.
	SweepSecret string

	AuthJWTSecret string

	Instagram InstagramConfig
	Gemini    GeminiConfig
	Runway    TaskProviderConfig
	Suno      TaskProviderConfig
	Storage   StorageConfig
	Stripe    StripeConfig
}

type InstagramConfig struct {
	AppID              string
	AppSecret          string
	RedirectURL        string
	GraphBaseURL       string
	WebhookVerifyToken string
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type TaskProviderConfig struct {
	APIKey  string
	BaseURL string
}

type StorageConfig struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	PublicURL string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "postloom"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postloom"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		SweepSecret:   strings.TrimSpace(getenv("SWEEP_SECRET", "")),
		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),

		Instagram: InstagramConfig{
			AppID:              strings.TrimSpace(getenv("IG_APP_ID", "")),
			AppSecret:          strings.TrimSpace(getenv("IG_APP_SECRET", "")),
			RedirectURL:        getenv("IG_REDIRECT_URL", ""),
			GraphBaseURL:       getenv("IG_GRAPH_BASE_URL", "https://graph.instagram.com"),
			WebhookVerifyToken: strings.TrimSpace(getenv("IG_WEBHOOK_VERIFY_TOKEN", "")),
		},
		Gemini: GeminiConfig{
			APIKey: strings.TrimSpace(getenv("GEMINI_API_KEY", "")),
			Model:  getenv("GEMINI_IMAGE_MODEL", "gemini-2.0-flash-exp-image-generation"),
		},
		Runway: TaskProviderConfig{
			APIKey:  strings.TrimSpace(getenv("RUNWAY_API_KEY", "")),
			BaseURL: getenv("RUNWAY_BASE_URL", "https://api.dev.runwayml.com/v1"),
		},
		Suno: TaskProviderConfig{
			APIKey:  strings.TrimSpace(getenv("SUNO_API_KEY", "")),
			BaseURL: getenv("SUNO_BASE_URL", "https://api.sunoapi.org/api/v1"),
		},
		Storage: StorageConfig{
			Endpoint:  getenv("STORAGE_ENDPOINT", ""),
			Bucket:    getenv("STORAGE_BUCKET", "postloom-media"),
			Region:    getenv("STORAGE_REGION", "auto"),
			AccessKey: strings.TrimSpace(getenv("STORAGE_ACCESS_KEY", "")),
			SecretKey: strings.TrimSpace(getenv("STORAGE_SECRET_KEY", "")),
			PublicURL: getenv("STORAGE_PUBLIC_URL", ""),
		},
		Stripe: StripeConfig{
			SecretKey:     strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			SuccessURL:    getenv("STRIPE_SUCCESS_URL", "http://localhost:3000/credits?status=success"),
			CancelURL:     getenv("STRIPE_CANCEL_URL", "http://localhost:3000/credits?status=canceled"),
		},
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

var Module = fx.Module("config",
	fx.Provide(Load),
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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
