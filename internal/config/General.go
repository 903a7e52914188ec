package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// VaultAsset is the identifier of the fungible unit the vault accepts (e.g. "USDC").
	VaultAsset string
	// VaultAddress is the vault's own account at the venues; withdrawals are sent there.
	VaultAddress string

	// Mode selects the venue backend. Only "simulation" is wired in this binary.
	Mode string

	// PerformanceFeeBps is the initial performance fee.
	PerformanceFeeBps uint32
	// FeeRecipient receives fee shares on harvest.
	FeeRecipient string

	// RebalanceCooldown overrides DefaultEngineParameters.Vault.RebalanceCooldown when set.
	RebalanceCooldown time.Duration

	// KeeperSchedule is the cron spec for keeper cycles (e.g. "@every 10m").
	KeeperSchedule string
	// KeeperInterval, when set, runs keeper cycles on a fixed ticker instead of KeeperSchedule.
	KeeperInterval time.Duration

	// StrategistAccount, GuardianAccount and AdminAccount are granted their roles at startup.
	StrategistAccount string
	GuardianAccount   string
	AdminAccount      string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	VaultAsset, err = getEnv("VAULT_ASSET")
	if err != nil {
		return err
	}

	VaultAddress, err = getEnv("VAULT_ADDRESS")
	if err != nil {
		return err
	}

	Mode = getEnvOrDefault("VAULT_MODE", "")

	feeBps, err := getEnvAsUint64("PERFORMANCE_FEE_BPS")
	if err != nil {
		return err
	}
	if feeBps > uint64(DefaultEngineParameters.Vault.MaxPerformanceFeeBps) {
		return errors.New("environment variable PERFORMANCE_FEE_BPS exceeds the fee ceiling, got: " + strconv.FormatUint(feeBps, 10))
	}
	PerformanceFeeBps = uint32(feeBps)

	FeeRecipient, err = getEnv("FEE_RECIPIENT")
	if err != nil {
		return err
	}

	RebalanceCooldown, err = getEnvAsDurationOrDefault("REBALANCE_COOLDOWN", DefaultEngineParameters.Vault.RebalanceCooldown)
	if err != nil {
		return err
	}

	KeeperSchedule = getEnvOrDefault("KEEPER_SCHEDULE", "@every 10m")
	KeeperInterval, err = getEnvAsDurationOrDefault("KEEPER_INTERVAL", 0)
	if err != nil {
		return err
	}
	if KeeperInterval < 0 {
		return errors.New("KEEPER_INTERVAL cannot be negative")
	}

	StrategistAccount, err = getEnv("STRATEGIST_ACCOUNT")
	if err != nil {
		return err
	}
	GuardianAccount = getEnvOrDefault("GUARDIAN_ACCOUNT", StrategistAccount)
	AdminAccount = getEnvOrDefault("ADMIN_ACCOUNT", GuardianAccount)

	// Load endpoint configuration
	if err := loadEndpointConfig(); err != nil {
		return err
	}

	log.Debug().
		Str("VaultAsset", VaultAsset).
		Str("VaultAddress", VaultAddress).
		Uint32("PerformanceFeeBps", PerformanceFeeBps).
		Dur("RebalanceCooldown", RebalanceCooldown).
		Str("KeeperSchedule", KeeperSchedule).
		Dur("KeeperInterval", KeeperInterval).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvOrDefault retrieves a string environment variable, falling back to def.
func getEnvOrDefault(key, def string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return def
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsDurationOrDefault parses a Go duration ("90m", "4h"), falling back to def when unset.
func getEnvAsDurationOrDefault(key string, def time.Duration) (time.Duration, error) {
	valueStr := getEnvOrDefault(key, "")
	if valueStr == "" {
		return def, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid duration, got: " + valueStr)
	}
	return value, nil
}
