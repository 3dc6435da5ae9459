package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Port     string
	AppEnv   string
	LogLevel string
	LogFile  string

	// Upstream brokerage aggregator
	SnapClientID       string
	SnapConsumerKey    string
	UpstreamBaseURL    string
	UpstreamTimeout    time.Duration
	UpstreamMaxRetries int
	LookbackWindow     time.Duration

	// Webhook authentication
	WebhookSecret           string
	WebhookSigningSecret    string
	WebhookInsecureSkipAuth bool
	IngestTimeout           time.Duration

	// Persistence
	StoreDriver     string
	DatabasePath    string
	StoreBaseURL    string
	StoreSigningKey string
	StoreTokenTTL   time.Duration

	RateLimitRPS     float64
	RateLimitBurst   int
	AllowedOrigins   []string
	ResolverCacheTTL time.Duration

	EmailServiceProvider string
	MailgunDomain        string
	MailgunPrivateAPIKey string
	SenderEmail          string
	SenderName           string
	AlertEmail           string
}

// IsDevelopment reports whether the process runs with APP_ENV=development.
func (c *AppConfig) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

// SkipWebhookAuth is the development-only bypass; it is never honoured outside development.
func (c *AppConfig) SkipWebhookAuth() bool {
	return c.WebhookInsecureSkipAuth && c.IsDevelopment()
}

// fileValues holds defaults read from the optional YAML file named by CONFIG_FILE.
// Keys are the environment variable names, so the file mirrors .env.
var fileValues map[string]string

var secretKeys = map[string]bool{
	"SNAP_CONSUMER_KEY":       true,
	"WEBHOOK_SECRET":          true,
	"WEBHOOK_SIGNING_SECRET":  true,
	"STORE_SIGNING_KEY":       true,
	"MAILGUN_PRIVATE_API_KEY": true,
}

// LoadConfig reads .env, the optional YAML file and the process environment, in that
// order of increasing precedence, and validates the result.
func LoadConfig() (*AppConfig, error) {
	errEnv := godotenv.Load()
	if errEnv != nil {
		log.Println("Info: No .env file found or error loading .env file. Relying on OS environment variables and defaults. Error (if any):", errEnv)
	} else {
		log.Println(".env file loaded successfully.")
	}

	fileValues = nil
	if path, ok := os.LookupEnv("CONFIG_FILE"); ok && path != "" {
		values, err := loadYAMLFile(path)
		if err != nil {
			return nil, err
		}
		fileValues = values
		log.Printf("Configuration file %s loaded (%d keys).", path, len(values))
	}

	log.Println("Loading application configuration...")

	webhookSecret := getEnv("WEBHOOK_SECRET", "")
	cfg := &AppConfig{
		Port:     getEnv("PORT", "8080"),
		AppEnv:   getEnv("APP_ENV", "production"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		SnapClientID:       strings.TrimSpace(getEnv("SNAP_CLIENT_ID", "")),
		SnapConsumerKey:    strings.TrimSpace(getEnv("SNAP_CONSUMER_KEY", "")),
		UpstreamBaseURL:    strings.TrimRight(getEnv("UPSTREAM_BASE", "https://api.snaptrade.com/api/v1"), "/"),
		UpstreamTimeout:    getEnvAsDuration("UPSTREAM_TIMEOUT", 20*time.Second),
		UpstreamMaxRetries: getEnvAsInt("UPSTREAM_MAX_RETRIES", 3),
		LookbackWindow:     time.Duration(getEnvAsInt("LOOKBACK_DAYS", 90)) * 24 * time.Hour,

		WebhookSecret:           strings.TrimSpace(webhookSecret),
		WebhookSigningSecret:    strings.TrimSpace(getEnv("WEBHOOK_SIGNING_SECRET", webhookSecret)),
		WebhookInsecureSkipAuth: getEnvAsBool("WEBHOOK_INSECURE_SKIP_AUTH", false),
		IngestTimeout:           getEnvAsDuration("INGEST_TIMEOUT", 10*time.Second),

		StoreDriver:     strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
		DatabasePath:    getEnv("DATABASE_PATH", "./brokerbridge.db"),
		StoreBaseURL:    strings.TrimRight(getEnv("STORE_BASE_URL", ""), "/"),
		StoreSigningKey: getEnv("STORE_SIGNING_KEY", ""),
		StoreTokenTTL:   getEnvAsDuration("STORE_TOKEN_TTL", 15*time.Minute),

		RateLimitRPS:     getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:   getEnvAsInt("RATE_LIMIT_BURST", 30),
		AllowedOrigins:   splitList(getEnv("ALLOWED_ORIGINS", "*")),
		ResolverCacheTTL: getEnvAsDuration("RESOLVER_CACHE_TTL", 10*time.Minute),

		EmailServiceProvider: strings.ToLower(getEnv("EMAIL_SERVICE_PROVIDER", "mock")),
		MailgunDomain:        getEnv("MAILGUN_DOMAIN", ""),
		MailgunPrivateAPIKey: getEnv("MAILGUN_PRIVATE_API_KEY", ""),
		SenderEmail:          getEnv("SENDER_EMAIL", "noreply@example.com"),
		SenderName:           getEnv("SENDER_NAME", "Brokerbridge"),
		AlertEmail:           getEnv("ALERT_EMAIL", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.WebhookInsecureSkipAuth && !cfg.IsDevelopment() {
		log.Println("WARNING: WEBHOOK_INSECURE_SKIP_AUTH is ignored outside APP_ENV=development.")
	}
	if cfg.WebhookSecret == "" && cfg.SnapConsumerKey == "" {
		log.Println("WARNING: neither WEBHOOK_SECRET nor SNAP_CONSUMER_KEY is set; every webhook will be rejected.")
	}

	log.Printf("Configuration loaded: Port=%s, Env=%s, LogLevel=%s, Store=%s, EmailProvider=%s",
		cfg.Port, cfg.AppEnv, cfg.LogLevel, cfg.StoreDriver, cfg.EmailServiceProvider)
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *AppConfig) Validate() error {
	switch c.StoreDriver {
	case "sqlite":
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required when STORE_DRIVER is 'sqlite'")
		}
	case "http":
		if c.StoreBaseURL == "" {
			return fmt.Errorf("STORE_BASE_URL is required when STORE_DRIVER is 'http'")
		}
		if len(c.StoreSigningKey) < 32 {
			return fmt.Errorf("STORE_SIGNING_KEY must be at least 32 bytes long, got %d", len(c.StoreSigningKey))
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}

	if c.EmailServiceProvider == "mailgun" {
		if c.MailgunDomain == "" || c.MailgunPrivateAPIKey == "" {
			return fmt.Errorf("MAILGUN_DOMAIN and MAILGUN_PRIVATE_API_KEY are required when EMAIL_SERVICE_PROVIDER is 'mailgun'")
		}
		if c.SenderEmail == "" || c.SenderEmail == "noreply@example.com" {
			return fmt.Errorf("SENDER_EMAIL must be configured properly when EMAIL_SERVICE_PROVIDER is 'mailgun'")
		}
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}

func loadYAMLFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		key := strings.ToUpper(strings.TrimSpace(k))
		switch typed := v.(type) {
		case nil:
			continue
		case []any:
			parts := make([]string, 0, len(typed))
			for _, p := range typed {
				parts = append(parts, fmt.Sprint(p))
			}
			values[key] = strings.Join(parts, ",")
		default:
			values[key] = fmt.Sprint(typed)
		}
	}
	return values, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if value, exists := fileValues[key]; exists {
		return value
	}
	if secretKeys[key] {
		log.Printf("Environment variable %s not set", key)
	} else {
		log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	log.Printf("Invalid float value for %s ('%s'), using default: %g", key, valueStr, fallback)
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid boolean value for %s ('%s'), using default: %t", key, valueStr, fallback)
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
