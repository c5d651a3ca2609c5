package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env             string
	HTTPPort        string
	BackendURL      string
	EventID         string
	SessionMode     string
	OrgTimezone     string
	RedisAddr       string
	NotifyBackend   string
	NotifyChannel   string
	JWTIssuer       string
	JWTSigningKey   string
	AccessTTL       time.Duration
	RateLimitPerMin int
	RelayWebhookURL string
}

// Load returns application config populated from environment variables with
// sensible defaults. A .env file is honored when present.
func Load() App {
	_ = godotenv.Load()
	return App{
		Env:             getEnv("APP_ENV", "dev"),
		HTTPPort:        getEnv("HTTP_PORT", "8082"),
		BackendURL:      getEnv("BACKEND_URL", "http://localhost:8080"),
		EventID:         getEnv("EVENT_ID", ""),
		SessionMode:     getEnv("SESSION_MODE", "manage"),
		OrgTimezone:     getEnv("ORG_TIMEZONE", "America/Denver"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		NotifyBackend:   getEnv("NOTIFY_BACKEND", "memory"),
		NotifyChannel:   getEnv("NOTIFY_CHANNEL", "rollcall:signals"),
		JWTIssuer:       getEnv("JWT_ISSUER", "rollcall-kiosk"),
		JWTSigningKey:   getEnv("JWT_SIGNING_KEY", "dev-signing-secret-change"),
		AccessTTL:       durationEnv("ACCESS_TTL", 12*time.Hour),
		RateLimitPerMin: intEnv("RATE_LIMIT_PER_MIN", 120),
		RelayWebhookURL: getEnv("RELAY_WEBHOOK_URL", ""),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}
