// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package ledger

import (
	"strings"

	"github.com/spf13/viper"

	"ledgerhouse.io/ledgerhouse/ledger/events"
	"ledgerhouse.io/ledgerhouse/ledger/tenants"
)

// Config is the full process configuration, environment-bound.
type Config struct {
	// DatabaseURL is the default (shared) handle.
	DatabaseURL string
	// Handles maps additional handle names to connection URLs, parsed
	// from DATABASE_HANDLES ("name=url,name=url").
	Handles map[string]string

	// ProjectionsSync drains projections inline after each command.
	ProjectionsSync bool
	// ProjectionLagThreshold is the lag at which readiness degrades.
	ProjectionLagThreshold int64
	// ProjectionInterval is the daemon drain interval in seconds.
	ProjectionInterval int

	// DisableEventValidation skips payload schema checks. Tests only.
	DisableEventValidation bool
	// InlineThresholdBytes overrides the payload inlining threshold.
	InlineThresholdBytes int64
	// MaxLinesPerChunk overrides the chunked journal line cap.
	MaxLinesPerChunk int

	// TenantHealthCheck is error, warn, or skip.
	TenantHealthCheck string
	// AllowAdminEmergencyWrites arms the operator escape hatch.
	AllowAdminEmergencyWrites bool

	// HealthAddress is the listen address of the health/metrics server.
	HealthAddress string
	// LogLevel is the zap level name.
	LogLevel string
}

// LoadConfig binds configuration from the environment. Defaults suit a
// single-node dev setup.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("DATABASE_URL", "sqlite3://ledgerhouse.db")
	v.SetDefault("DATABASE_HANDLES", "")
	v.SetDefault("PROJECTIONS_SYNC", false)
	v.SetDefault("PROJECTION_LAG_THRESHOLD", 1000)
	v.SetDefault("PROJECTION_INTERVAL", 5)
	v.SetDefault("DISABLE_EVENT_VALIDATION", false)
	v.SetDefault("INLINE_THRESHOLD_BYTES", 32*1024)
	v.SetDefault("MAX_LINES_PER_CHUNK", 500)
	v.SetDefault("TENANT_HEALTH_CHECK", "error")
	v.SetDefault("ALLOW_ADMIN_EMERGENCY_WRITES", false)
	v.SetDefault("HEALTH_ADDRESS", ":8086")
	v.SetDefault("LOG_LEVEL", "info")

	config := &Config{
		DatabaseURL:               v.GetString("DATABASE_URL"),
		Handles:                   parseHandles(v.GetString("DATABASE_HANDLES")),
		ProjectionsSync:           v.GetBool("PROJECTIONS_SYNC"),
		ProjectionLagThreshold:    v.GetInt64("PROJECTION_LAG_THRESHOLD"),
		ProjectionInterval:        v.GetInt("PROJECTION_INTERVAL"),
		DisableEventValidation:    v.GetBool("DISABLE_EVENT_VALIDATION"),
		InlineThresholdBytes:      v.GetInt64("INLINE_THRESHOLD_BYTES"),
		MaxLinesPerChunk:          v.GetInt("MAX_LINES_PER_CHUNK"),
		TenantHealthCheck:         v.GetString("TENANT_HEALTH_CHECK"),
		AllowAdminEmergencyWrites: v.GetBool("ALLOW_ADMIN_EMERGENCY_WRITES"),
		HealthAddress:             v.GetString("HEALTH_ADDRESS"),
		LogLevel:                  v.GetString("LOG_LEVEL"),
	}

	switch config.TenantHealthCheck {
	case string(tenants.HealthCheckError), string(tenants.HealthCheckWarn), string(tenants.HealthCheckSkip):
	default:
		return nil, Error.New("TENANT_HEALTH_CHECK must be error, warn, or skip, got %q", config.TenantHealthCheck)
	}
	return config, nil
}

// EmitterConfig derives the payload policy from process config.
func (config *Config) EmitterConfig() events.Config {
	return events.Config{
		InlineThresholdBytes: config.InlineThresholdBytes,
		MaxLinesPerChunk:     config.MaxLinesPerChunk,
		DisableValidation:    config.DisableEventValidation,
	}
}

// HealthCheckMode converts the configured string.
func (config *Config) HealthCheckMode() tenants.HealthCheckMode {
	return tenants.HealthCheckMode(config.TenantHealthCheck)
}

// parseHandles parses "analytics=postgres://...,archive=postgres://...".
func parseHandles(raw string) map[string]string {
	handles := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, url, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		handles[strings.TrimSpace(name)] = strings.TrimSpace(url)
	}
	return handles
}
