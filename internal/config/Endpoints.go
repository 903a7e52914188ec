package config

import (
	"github.com/rs/zerolog/log"
)

// Endpoint configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// NatsURL is the NATS server events are published to. Empty disables NATS publishing.
	NatsURL string
	// NatsSubjectPrefix is joined with each event type to form the NATS subject.
	NatsSubjectPrefix string
	// RedisAddr is the Redis instance holding the latest risk component snapshot.
	// Empty makes the keeper rely on locally observed components only.
	RedisAddr string
	// RedisRiskKey is the hash key the scoring layer writes per-strategy components into.
	RedisRiskKey string
	// WebPort is the port of the read API.
	WebPort string
)

// loadEndpointConfig loads endpoint configuration from environment variables.
// This function is called by LoadConfig() in General.go.
func loadEndpointConfig() error {
	log.Info().Msg("Loading endpoint configuration from environment variables...")

	NatsURL = getEnvOrDefault("NATS_URL", "")
	NatsSubjectPrefix = getEnvOrDefault("NATS_SUBJECT_PREFIX", "safeyield.events")
	RedisAddr = getEnvOrDefault("REDIS_ADDR", "")
	RedisRiskKey = getEnvOrDefault("REDIS_RISK_KEY", "safeyield:risk:components")
	WebPort = getEnvOrDefault("WEB_PORT", "8080")

	log.Debug().
		Str("NatsURL", NatsURL).
		Str("NatsSubjectPrefix", NatsSubjectPrefix).
		Str("RedisAddr", RedisAddr).
		Str("RedisRiskKey", RedisRiskKey).
		Str("WebPort", WebPort).
		Msg("Endpoint configuration loaded successfully.")

	return nil
}
