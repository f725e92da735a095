package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"notaria/internal/domain"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.True(t, cfg.Intake.Enabled)
	assert.Equal(t, "./data/intake", cfg.Intake.WatchDir)
	assert.Equal(t, ".xml", cfg.Intake.Extension)
	assert.Equal(t, 2*time.Second, cfg.Intake.ProcessDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.Intake.StabilityPoll)
	assert.Equal(t, 3, cfg.Intake.RetryAttempts)
	assert.Equal(t, 2, cfg.Intake.Concurrency)
	assert.Equal(t, "SISTEMA", cfg.Intake.SystemActor)
	assert.Equal(t, ":9090", cfg.OpsAddr)
	assert.Equal(t, domain.DefaultRolePriority, cfg.RolePriority)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("NOTARIA_INTAKE_ENABLED", "false")
	t.Setenv("NOTARIA_WATCH_DIR", "/srv/intake")
	t.Setenv("NOTARIA_PROCESS_DELAY_MS", "250")
	t.Setenv("NOTARIA_RETRY_ATTEMPTS", "5")
	t.Setenv("NOTARIA_CONCURRENCY", "8")
	t.Setenv("NOTARIA_SYSTEM_ACTOR", "ROBOT")

	cfg := FromEnv()

	assert.False(t, cfg.Intake.Enabled)
	assert.Equal(t, "/srv/intake", cfg.Intake.WatchDir)
	assert.Equal(t, 250*time.Millisecond, cfg.Intake.ProcessDelay)
	assert.Equal(t, 5, cfg.Intake.RetryAttempts)
	assert.Equal(t, 8, cfg.Intake.Concurrency)
	assert.Equal(t, "ROBOT", cfg.Intake.SystemActor)
}

func TestFromEnvIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("NOTARIA_RETRY_ATTEMPTS", "lots")

	cfg := FromEnv()
	assert.Equal(t, 3, cfg.Intake.RetryAttempts)
}

func TestParseRoles(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []domain.StaffRole
	}{
		{"empty keeps default", "", domain.DefaultRolePriority},
		{"whitespace keeps default", "  ", domain.DefaultRolePriority},
		{"custom order", "matrizador, caja", []domain.StaffRole{domain.RoleMatrizador, domain.RoleCaja}},
		{"stray commas", ",CAJA,,", []domain.StaffRole{domain.RoleCaja}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseRoles(tt.in))
		})
	}
}
