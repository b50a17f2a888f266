package config

import (
	"os"
	"time"
)

// Config captures process-level configuration. Everything comes from the
// environment so main stays lean and deployments stay twelve-factor.
type Config struct {
	Addr          string
	DatabaseURL   string
	RedisURL      string
	KafkaBrokers  string
	AuditTopic    string
	JWTSigningKey string
	SweepInterval time.Duration
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	addr := os.Getenv("FORGECERT_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	topic := os.Getenv("FORGECERT_AUDIT_TOPIC")
	if topic == "" {
		topic = "forgecert.audit"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Development default - must be overridden in production.
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	sweep := 1 * time.Minute
	if raw := os.Getenv("FORGECERT_SWEEP_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			sweep = d
		}
	}

	return Config{
		Addr:          addr,
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		KafkaBrokers:  os.Getenv("KAFKA_BROKERS"),
		AuditTopic:    topic,
		JWTSigningKey: jwtSigningKey,
		SweepInterval: sweep,
	}
}
