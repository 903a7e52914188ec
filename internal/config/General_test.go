package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("VAULT_ASSET", "USDC")
	t.Setenv("VAULT_ADDRESS", "vault-1")
	t.Setenv("PERFORMANCE_FEE_BPS", "500")
	t.Setenv("FEE_RECIPIENT", "treasury")
	t.Setenv("STRATEGIST_ACCOUNT", "keeper")
}

func TestLoadConfig(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("REBALANCE_COOLDOWN", "90m")
	t.Setenv("GUARDIAN_ACCOUNT", "")

	require.NoError(t, LoadConfig())
	assert.Equal(t, "USDC", VaultAsset)
	assert.Equal(t, uint32(500), PerformanceFeeBps)
	assert.Equal(t, 90*time.Minute, RebalanceCooldown)
	assert.Equal(t, "keeper", GuardianAccount, "guardian falls back to strategist")
	assert.Equal(t, "@every 10m", KeeperSchedule)
	assert.Zero(t, KeeperInterval)
	assert.Equal(t, "8080", WebPort)
	assert.Equal(t, "safeyield.events", NatsSubjectPrefix)
}

func TestLoadConfigKeeperInterval(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("KEEPER_INTERVAL", "30s")
	require.NoError(t, LoadConfig())
	assert.Equal(t, 30*time.Second, KeeperInterval)

	t.Setenv("KEEPER_INTERVAL", "-1s")
	assert.Error(t, LoadConfig())
}

func TestLoadConfigRejectsFeeAboveCeiling(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PERFORMANCE_FEE_BPS", "1500")

	assert.Error(t, LoadConfig())
}

func TestLoadConfigRequiresAsset(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("VAULT_ASSET", "")

	err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VAULT_ASSET")
}

func TestDefaultLoopParametersAreConsistent(t *testing.T) {
	p := DefaultEngineParameters.Loop
	assert.True(t, p.MaxLTV.LT(p.HardStopLTV))
	assert.True(t, p.HardStopLTV.Sub(p.SafetyBuffer).GTE(p.MaxLTV))
	assert.Equal(t, 4, p.MaxLoops)
}
