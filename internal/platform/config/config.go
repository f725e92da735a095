// Package config builds process configuration from environment variables so
// main stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"notaria/internal/domain"
)

// Intake configures the directory watcher and processor.
type Intake struct {
	Enabled       bool
	WatchDir      string
	ProcessedDir  string
	ErrorDir      string
	Extension     string
	ProcessDelay  time.Duration
	StabilityPoll time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
	Concurrency   int
	// SystemActor attributes automatically created records.
	SystemActor string
}

// Config is the full process configuration.
type Config struct {
	Intake       Intake
	OpsAddr      string
	DatabaseURL  string
	RedisURL     string
	LogLevel     string
	RolePriority []domain.StaffRole
}

// FromEnv reads configuration from the environment, with development
// defaults for everything but the directories.
func FromEnv() Config {
	return Config{
		Intake: Intake{
			Enabled:       getenv("NOTARIA_INTAKE_ENABLED", "true") == "true",
			WatchDir:      getenv("NOTARIA_WATCH_DIR", "./data/intake"),
			ProcessedDir:  getenv("NOTARIA_PROCESSED_DIR", "./data/processed"),
			ErrorDir:      getenv("NOTARIA_ERROR_DIR", "./data/error"),
			Extension:     getenv("NOTARIA_WATCH_EXTENSION", ".xml"),
			ProcessDelay:  getenvMillis("NOTARIA_PROCESS_DELAY_MS", 2000),
			StabilityPoll: getenvMillis("NOTARIA_STABILITY_POLL_MS", 500),
			RetryAttempts: getenvInt("NOTARIA_RETRY_ATTEMPTS", 3),
			RetryBackoff:  getenvMillis("NOTARIA_RETRY_BACKOFF_MS", 2000),
			Concurrency:   getenvInt("NOTARIA_CONCURRENCY", 2),
			SystemActor:   getenv("NOTARIA_SYSTEM_ACTOR", "SISTEMA"),
		},
		OpsAddr:      getenv("NOTARIA_OPS_ADDR", ":9090"),
		DatabaseURL:  getenv("DATABASE_URL", ""),
		RedisURL:     getenv("REDIS_URL", ""),
		LogLevel:     getenv("NOTARIA_LOG_LEVEL", "info"),
		RolePriority: parseRoles(getenv("NOTARIA_ROLE_PRIORITY", "")),
	}
}

// parseRoles reads a comma-separated role list; empty input keeps the
// office default tie-break order.
func parseRoles(raw string) []domain.StaffRole {
	if strings.TrimSpace(raw) == "" {
		return domain.DefaultRolePriority
	}
	var roles []domain.StaffRole
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			roles = append(roles, domain.StaffRole(part))
		}
	}
	if len(roles) == 0 {
		return domain.DefaultRolePriority
	}
	return roles
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

func getenvMillis(key string, fallback int) time.Duration {
	return time.Duration(getenvInt(key, fallback)) * time.Millisecond
}
