package middleware

import (
	"time"

	"github.com/GEMINI-Breeding/gemini-engine/internal/config"
)

// Config holds rate limiter configuration.
//
// Limits are requests per second in three tiers: global (all requests),
// per-client (authenticated), and unauthenticated. Zero burst fields are
// computed automatically as 2x the rate.
type Config struct {
	GlobalRPS int
	ClientRPS int
	UnAuthRPS int

	GlobalBurst int
	ClientBurst int
	UnAuthBurst int

	CleanupInterval time.Duration
	IdleTimeout     time.Duration
	MaxClients      int
}

// LoadConfig loads rate limiter config from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS: config.GetEnvInt("GEMINI_GLOBAL_RPS", defaultGlobalRPS),
		ClientRPS: config.GetEnvInt("GEMINI_CLIENT_RPS", defaultClientRPS),
		UnAuthRPS: config.GetEnvInt("GEMINI_UNAUTH_RPS", defaultUnAuthRPS),

		GlobalBurst: config.GetEnvInt("GEMINI_GLOBAL_BURST", 0),
		ClientBurst: config.GetEnvInt("GEMINI_CLIENT_BURST", 0),
		UnAuthBurst: config.GetEnvInt("GEMINI_UNAUTH_BURST", 0),

		CleanupInterval: config.GetEnvDuration("GEMINI_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval),
		IdleTimeout:     config.GetEnvDuration("GEMINI_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxClients:      config.GetEnvInt("GEMINI_RATE_LIMIT_MAX_CLIENTS", maxClients),
	}
}
