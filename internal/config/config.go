package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port          int
	DatabasePath  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Agent configuration
	AgentPort      int
	CollectorURL   string // where agent sessions deliver their batches
	AllowedOrigins string // comma-separated WebSocket Origin allow-list, empty admits all
	Debug          bool
}

func Load() Config {
	cfg := Config{
		Port:           8090,
		AgentPort:      8091,
		DatabasePath:   getenv("UXLENS_DB_PATH", "uxlens.db"),
		RedisAddr:      getenv("UXLENS_REDIS_ADDR", "localhost:6379"),
		RedisDB:        0,
		CollectorURL:   getenv("UXLENS_COLLECTOR_URL", "http://localhost:8090"),
		AllowedOrigins: os.Getenv("UXLENS_ALLOWED_ORIGINS"),
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("UXLENS_AGENT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.AgentPort = port
		}
	}

	if v := os.Getenv("UXLENS_REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("UXLENS_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = db
		}
	}
	if v := os.Getenv("UXLENS_DEBUG"); v == "true" || v == "1" {
		cfg.Debug = true
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
