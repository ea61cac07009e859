package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port          string
	CORSOrigins   []string
	JWTSecret     string
	RedisAddr     string
	RedisPassword string

	// AuthTimeout bounds how long a socket may stay unauthenticated before
	// it is force-closed.
	AuthTimeout time.Duration

	// SendQueueDepth bounds the per-connection outbound queue; a client
	// that falls this far behind is disconnected.
	SendQueueDepth int

	// PresenceTTL is the liveness window for redis presence entries; a
	// session that misses heartbeats for this long is considered gone.
	PresenceTTL time.Duration
}

func Load() Config {
	cfg := Config{
		Port:           envOrDefault("PORT", "3001"),
		CORSOrigins:    strings.Split(envOrDefault("CORS_ORIGINS", "http://localhost:3000"), ","),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		AuthTimeout:    envDuration("AUTH_TIMEOUT", 30*time.Second),
		SendQueueDepth: envInt("SEND_QUEUE_DEPTH", 256),
		PresenceTTL:    envDuration("PRESENCE_TTL", 60*time.Second),
	}
	return cfg
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
