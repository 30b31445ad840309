package config

import (
	"log"
	"os"
	"strings"
	"time"
	_ "time/tzdata"
)

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment            string
	Addr                   string
	PublicURL              string
	DatabaseURL            string
	MigrationsDir          string
	JWTSecret              string
	AccessTokenTTL         time.Duration
	RefreshTokenTTL        time.Duration
	LogLevel               string
	Timezone               string
	UptimeFreshness        time.Duration
	LegacyIngestEnabled    bool
	CORSAllowedOrigin      string
	RateLimitRedisAddr     string
	RateLimitRedisPass     string
	RateLimitRedisDB       int
	LatencyBucketSpan      time.Duration
	LatencyFlushEvery      time.Duration
	LiveStreamHeartbeat    time.Duration
	NoisyStatsQueryTimeout time.Duration
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:            GetString("APP_ENV", "development"),
		Addr:                   GetString("API_ADDR", ":4000"),
		PublicURL:              GetString("PUBLIC_URL", "http://localhost:4000"),
		DatabaseURL:            GetString("DATABASE_URL", "postgres://bugradar:bugradar@db:5432/bugradar?sslmode=disable"),
		MigrationsDir:          GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:              GetString("JWT_SECRET", "supersecuresecret"),
		AccessTokenTTL:         time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 60)) * time.Minute,
		RefreshTokenTTL:        time.Duration(GetInt("REFRESH_TOKEN_TTL_HOURS", 24*7)) * time.Hour,
		LogLevel:               GetString("LOG_LEVEL", "info"),
		Timezone:               GetString("TIMEZONE", "UTC"),
		UptimeFreshness:        time.Duration(GetInt("UPTIME_FRESHNESS_SECONDS", 300)) * time.Second,
		LegacyIngestEnabled:    GetBool("LEGACY_INGEST_ENABLED", false),
		CORSAllowedOrigin:      GetString("CORS_ALLOWED_ORIGIN", ""),
		RateLimitRedisAddr:     GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:     GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:       GetInt("RATE_LIMIT_REDIS_DB", 0),
		LatencyBucketSpan:      time.Duration(GetInt("LATENCY_BUCKET_SECONDS", 60)) * time.Second,
		LatencyFlushEvery:      time.Duration(GetInt("LATENCY_FLUSH_SECONDS", 30)) * time.Second,
		LiveStreamHeartbeat:    time.Duration(GetInt("LIVE_STREAM_HEARTBEAT_SECONDS", 15)) * time.Second,
		NoisyStatsQueryTimeout: time.Duration(GetInt("NOISY_STATS_TIMEOUT_SECONDS", 10)) * time.Second,
	}
}

// Location resolves the configured timezone used for calendar-day boundaries.
// The zone name is handed to PostgreSQL's AT TIME ZONE, so it must be an IANA
// name. "Local" resolves through TZ; unknown zones fall back to UTC.
func (c APIConfig) Location() *time.Location {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return time.UTC
	}
	if name == "Local" {
		name = strings.TrimPrefix(strings.TrimSpace(os.Getenv("TZ")), ":")
		if name == "" || name == "Local" {
			log.Printf("TIMEZONE=Local has no IANA name (TZ unset), using UTC")
			return time.UTC
		}
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("invalid TIMEZONE %q: %v", c.Timezone, err)
		return time.UTC
	}
	if loc.String() == "Local" {
		log.Printf("TIMEZONE %q has no IANA name, using UTC", c.Timezone)
		return time.UTC
	}
	return loc
}
