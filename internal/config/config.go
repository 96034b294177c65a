package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"portal/threads/internal/rbac"
)

type Config struct {
	Env      string
	LogLevel string
	Addr     string
	// Portal backend
	APIURL       string
	AdminToken   string
	StudentToken string
	HTTPTimeout  time.Duration
	PageLimit    int
	// Viewer on whose behalf this process acts
	DefaultRole rbac.Role
	ActorID     int64
	ActorName   string
	// Redis: snapshot cache and push channel. Empty disables both.
	RedisURL      string
	EventsChannel string
	SnapshotTTL   time.Duration
	// Tracing is disabled when OTelEndpoint is empty
	OTelEndpoint    string
	OTelHeaders     string
	OTelServiceName string
	SnowflakeNode   int64
}

// Load reads the environment. In development a local .env file is applied
// first; variables already set win over it.
func Load() Config {
	if getenv("PORTAL_ENV", "development") == "development" {
		_ = godotenv.Load(".env")
	}
	return Config{
		Env:             getenv("PORTAL_ENV", "development"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		Addr:            getenv("API_ADDR", ":8790"),
		APIURL:          strings.TrimRight(getenv("PORTAL_API_URL", "http://localhost:3001"), "/"),
		AdminToken:      getenv("PORTAL_ADMIN_TOKEN", ""),
		StudentToken:    getenv("PORTAL_STUDENT_TOKEN", ""),
		HTTPTimeout:     getenvDuration("HTTP_TIMEOUT_SECONDS", 15*time.Second),
		PageLimit:       getenvInt("PAGE_LIMIT", 50),
		DefaultRole:     rbac.Normalize(strings.ToLower(getenv("PORTAL_DEFAULT_ROLE", string(rbac.RoleStudent)))),
		ActorID:         int64(getenvInt("PORTAL_ACTOR_ID", 0)),
		ActorName:       getenv("PORTAL_ACTOR_NAME", ""),
		RedisURL:        strings.TrimSpace(os.Getenv("REDIS_URL")),
		EventsChannel:   getenv("PORTAL_EVENTS_CHANNEL", "portal:comments"),
		SnapshotTTL:     getenvDuration("SNAPSHOT_TTL_SECONDS", 24*time.Hour),
		OTelEndpoint:    strings.TrimRight(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""), "/"),
		OTelHeaders:     getenv("OTEL_EXPORTER_OTLP_HEADERS", ""),
		OTelServiceName: getenv("OTEL_SERVICE_NAME", "portal-threads"),
		SnowflakeNode:   int64(getenvInt("SNOWFLAKE_NODE", 1)),
	}
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c Config) TracingEnabled() bool {
	return c.OTelEndpoint != ""
}

func (c Config) RedisEnabled() bool {
	return c.RedisURL != ""
}

// Tokens maps each role to its backend credential. Roles without one are left out.
func (c Config) Tokens() map[rbac.Role]string {
	tokens := make(map[rbac.Role]string)
	if c.AdminToken != "" {
		tokens[rbac.RoleAdmin] = c.AdminToken
	}
	if c.StudentToken != "" {
		tokens[rbac.RoleStudent] = c.StudentToken
	}
	return tokens
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getenvDuration reads a whole number of seconds.
func getenvDuration(key string, fallback time.Duration) time.Duration {
	seconds := getenvInt(key, -1)
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
