// Package config loads runtime configuration from the environment and the
// static domains file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all application configuration.
type Config struct {
	// Store settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Resolver settings
	ResolverEndpoint string

	// Monitoring settings
	CheckInterval time.Duration
	Concurrency   int
	DomainsFile   string
	Domains       []string
	DeploymentID  string

	// Notification settings
	WebhookURL string

	// Server settings
	ListenAddr string

	// Logging settings
	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment. An optional .env file is
// loaded first; real environment variables take precedence.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env file")
	}

	cfg := &Config{
		RedisAddr:        getEnv("DNSVIGIL_REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("DNSVIGIL_REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("DNSVIGIL_REDIS_DB", 0),
		ResolverEndpoint: getEnv("DNSVIGIL_RESOLVER_ENDPOINT", "https://1.1.1.1/dns-query"),
		CheckInterval:    getEnvDuration("DNSVIGIL_CHECK_INTERVAL", 5*time.Minute),
		Concurrency:      getEnvInt("DNSVIGIL_CONCURRENCY", 16),
		DomainsFile:      getEnv("DNSVIGIL_DOMAINS_FILE", ""),
		DeploymentID:     getEnv("DNSVIGIL_DEPLOYMENT_ID", ""),
		WebhookURL:       getEnv("DNSVIGIL_WEBHOOK_URL", ""),
		ListenAddr:       getEnv("DNSVIGIL_LISTEN_ADDR", ":9353"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "console"),
	}

	if domains := getEnv("DNSVIGIL_DOMAINS", ""); domains != "" {
		for _, d := range strings.Split(domains, ",") {
			d = strings.ToLower(strings.TrimSpace(d))
			if d != "" {
				cfg.Domains = append(cfg.Domains, d)
			}
		}
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Ignoring non-integer environment value")
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	// Bare numbers are taken as seconds.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Ignoring unparseable duration value")
		return fallback
	}
	return d
}
