package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all environment-driven settings.
type Config struct {
	DBDSN         string
	DBAutoMigrate bool
	Port          string
	Environment   string
	LogLevel      string
	LogFormat     string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	VapiAPIKey        string
	VapiBaseURL       string
	VapiWebhookSecret string

	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseJWTSecret  string

	LegacyWebhookBaseURL string
	DevWebhookBaseURL    string
	ProdWebhookBaseURL   string

	SessionBackend        string
	SessionSQLitePath     string
	SessionTTL            time.Duration
	SessionLookupAttempts int
	SessionLookupBackoff  time.Duration

	RequestTimeout    time.Duration
	ExtractPromptPath string
	TestDefaultPhone  string
}

// Load reads .env (if present, without overriding the process environment)
// and then the environment.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		DBDSN:         os.Getenv("DB_DSN"),
		DBAutoMigrate: getenvBool("DB_AUTO_MIGRATE", true),
		Port:          getenv("PORT", "8000"),
		Environment:   strings.ToLower(getenv("ENVIRONMENT", "production")),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		LogFormat:     getenv("LOG_FORMAT", "json"),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: getenv("OPENAI_BASE_URL", "https://api.openai.com"),
		OpenAIModel:   getenv("OPENAI_MODEL", "gpt-4o-mini"),

		VapiAPIKey:        os.Getenv("VAPI_API_KEY"),
		VapiBaseURL:       getenv("VAPI_BASE_URL", "https://api.vapi.ai"),
		VapiWebhookSecret: os.Getenv("VAPI_WEBHOOK_SECRET"),

		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),
		SupabaseJWTSecret:  os.Getenv("SUPABASE_JWT_SECRET"),

		LegacyWebhookBaseURL: os.Getenv("WEBHOOK_BASE_URL"),
		DevWebhookBaseURL:    os.Getenv("DEV_WEBHOOK_BASE_URL"),
		ProdWebhookBaseURL:   getenv("PROD_WEBHOOK_BASE_URL", "https://vapi-skills-dispatcher.fly.dev"),

		SessionBackend:        strings.ToLower(getenv("SESSION_BACKEND", "postgres")),
		SessionSQLitePath:     getenv("SESSION_SQLITE_PATH", "./data/sessions.db"),
		SessionTTL:            getenvDuration("SESSION_TTL", 2*time.Hour),
		SessionLookupAttempts: getenvInt("SESSION_LOOKUP_ATTEMPTS", 4),
		SessionLookupBackoff:  getenvDuration("SESSION_LOOKUP_BACKOFF", 150*time.Millisecond),

		RequestTimeout:    getenvDuration("REQUEST_TIMEOUT", 25*time.Second),
		ExtractPromptPath: os.Getenv("EXTRACT_PROMPT_PATH"),
		TestDefaultPhone:  os.Getenv("TEST_DEFAULT_PHONE"),
	}
}

// IsDevelopment reports whether ENVIRONMENT=development.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// WebhookBaseURL is the public base URL VAPI tools should call back on.
// The legacy WEBHOOK_BASE_URL wins when set.
func (c Config) WebhookBaseURL() string {
	switch {
	case c.LegacyWebhookBaseURL != "":
		return strings.TrimRight(c.LegacyWebhookBaseURL, "/")
	case c.IsDevelopment() && c.DevWebhookBaseURL != "":
		return strings.TrimRight(c.DevWebhookBaseURL, "/")
	default:
		return strings.TrimRight(c.ProdWebhookBaseURL, "/")
	}
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "false", "0", "no":
		return false
	case "true", "1", "yes":
		return true
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
