package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nexxore/safeyield/internal/access"
	"github.com/nexxore/safeyield/internal/config"
	"github.com/nexxore/safeyield/internal/metrics"
	"github.com/nexxore/safeyield/internal/state"
	"github.com/nexxore/safeyield/internal/types"
	"github.com/nexxore/safeyield/internal/vault"
)

// MockStore is a mock read store for testing
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockStore) GetRecentCycles(ctx context.Context, limit int) ([]types.CycleSnapshot, error) {
	args := m.Called(ctx, limit)
	cycles, _ := args.Get(0).([]types.CycleSnapshot)
	return cycles, args.Error(1)
}

func (m *MockStore) GetCycleByNumber(ctx context.Context, n int) (types.CycleSnapshot, error) {
	args := m.Called(ctx, n)
	return args.Get(0).(types.CycleSnapshot), args.Error(1)
}

func (m *MockStore) GetCycleStats(ctx context.Context, asset string) (state.CycleStats, error) {
	args := m.Called(ctx, asset)
	return args.Get(0).(state.CycleStats), args.Error(1)
}

func (m *MockStore) GetLatestRiskAssessment(ctx context.Context, asset string) (types.RiskAssessment, error) {
	args := m.Called(ctx, asset)
	return args.Get(0).(types.RiskAssessment), args.Error(1)
}

func (m *MockStore) GetRiskHistory(ctx context.Context, asset string, days int) ([]types.RiskAssessment, error) {
	args := m.Called(ctx, asset, days)
	history, _ := args.Get(0).([]types.RiskAssessment)
	return history, args.Error(1)
}

type fakeCycles struct {
	last *types.CycleSnapshot
}

func (f fakeCycles) LastCycle() (types.CycleSnapshot, bool) {
	if f.last == nil {
		return types.CycleSnapshot{}, false
	}
	return *f.last, true
}

func newVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New(vault.Config{
		Asset:   "USDC",
		Address: "vault-1",
		Params:  config.DefaultEngineParameters.Vault,
		Roles:   access.NewStaticRoles(),
	})
	require.NoError(t, err)
	_, err = v.Deposit(context.Background(), "alice", sdkmath.LegacyNewDec(100))
	require.NoError(t, err)
	return v
}

func serve(t *testing.T, ws *WebServer, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]interface{}
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}
	return rec, body
}

func sampleCycle(n int, at time.Time) *types.CycleSnapshot {
	return &types.CycleSnapshot{
		CycleID:     fmt.Sprintf("cycle-%d", n),
		CycleNumber: n,
		Timestamp:   at,
		Harvested:   sdkmath.LegacyZeroDec(),
		Assessment: &types.RiskAssessment{
			VaultAsset: "USDC",
			Timestamp:  at,
			VaultScore: 0.2,
			Level:      types.RiskLevelLow,
		},
	}
}

func TestHealth(t *testing.T) {
	t.Run("ok without database", func(t *testing.T) {
		ws := NewWebServer(Config{Vault: newVault(t), Cycles: fakeCycles{last: sampleCycle(3, time.Now())}, StaleAfter: time.Hour})
		rec, body := serve(t, ws, "/health")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "OK", body["status"])
		assert.Equal(t, "not_configured", body["database"])
		keeper := body["keeper"].(map[string]interface{})
		assert.EqualValues(t, 3, keeper["last_cycle_number"])
	})

	t.Run("degraded when database is down", func(t *testing.T) {
		store := new(MockStore)
		store.On("Ping", mock.Anything).Return(errors.New("connection refused"))
		store.On("GetRecentCycles", mock.Anything, 1).Return(nil, errors.New("connection refused"))

		ws := NewWebServer(Config{Vault: newVault(t), Store: store})
		rec, body := serve(t, ws, "/api/health")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "DEGRADED", body["status"])
		assert.Equal(t, "unreachable", body["database"])
	})

	t.Run("degraded when keeper is overdue", func(t *testing.T) {
		ws := NewWebServer(Config{
			Vault:      newVault(t),
			Cycles:     fakeCycles{last: sampleCycle(1, time.Now().Add(-2*time.Hour))},
			StaleAfter: time.Hour,
		})
		rec, body := serve(t, ws, "/health")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, body["problems"], "keeper cycle overdue")
	})
}

func TestVaultSummary(t *testing.T) {
	store := new(MockStore)
	store.On("GetCycleStats", mock.Anything, "USDC").Return(state.CycleStats{
		TotalCycles:    4,
		TotalHarvested: sdkmath.LegacyNewDec(12),
	}, nil)

	rec, body := serve(t, NewWebServer(Config{Vault: newVault(t), Store: store}), "/api/vault/summary")
	require.Equal(t, http.StatusOK, rec.Code)

	ledger := body["ledger"].(map[string]interface{})
	assert.Equal(t, "USDC", ledger["asset"])
	assert.Equal(t, "100.000000000000000000", ledger["total_assets"])
	assert.Equal(t, "NORMAL", ledger["risk_mode"])
	assert.Nil(t, body["last_rebalance"])

	cycles := body["cycles"].(map[string]interface{})
	assert.EqualValues(t, 4, cycles["total_cycles"])
	store.AssertExpectations(t)
}

func TestLatestRisk(t *testing.T) {
	t.Run("from store", func(t *testing.T) {
		store := new(MockStore)
		store.On("GetLatestRiskAssessment", mock.Anything, "USDC").Return(types.RiskAssessment{
			AssessmentID: 9, VaultScore: 0.7, Level: types.RiskLevelHigh, Action: types.ActionFreezeRebalancing,
		}, nil)

		rec, body := serve(t, NewWebServer(Config{Vault: newVault(t), Store: store}), "/api/risk/latest")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "HIGH", body["level"])
		assert.Equal(t, "FREEZE_REBALANCING", body["action"])
	})

	t.Run("store has none", func(t *testing.T) {
		store := new(MockStore)
		store.On("GetLatestRiskAssessment", mock.Anything, "USDC").
			Return(types.RiskAssessment{}, fmt.Errorf("no risk assessment for USDC: %w", state.ErrNotFound))

		rec, _ := serve(t, NewWebServer(Config{Vault: newVault(t), Store: store}), "/api/risk/latest")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("from keeper memory", func(t *testing.T) {
		ws := NewWebServer(Config{Vault: newVault(t), Cycles: fakeCycles{last: sampleCycle(2, time.Now())}})
		rec, body := serve(t, ws, "/api/risk/latest")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "LOW", body["level"])
	})

	t.Run("nothing yet", func(t *testing.T) {
		rec, _ := serve(t, NewWebServer(Config{Vault: newVault(t), Cycles: fakeCycles{}}), "/api/risk/latest")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRiskHistory(t *testing.T) {
	rec, _ := serve(t, NewWebServer(Config{Vault: newVault(t)}), "/api/risk/history")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	store := new(MockStore)
	store.On("GetRiskHistory", mock.Anything, "USDC", 7).Return([]types.RiskAssessment{{AssessmentID: 1}, {AssessmentID: 2}}, nil)
	store.On("GetRiskHistory", mock.Anything, "USDC", 365).Return([]types.RiskAssessment{}, nil)
	ws := NewWebServer(Config{Vault: newVault(t), Store: store})

	rec, body := serve(t, ws, "/api/risk/history")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["count"])

	rec, body = serve(t, ws, "/api/risk/history?days=1000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 365, body["days"])

	rec, _ = serve(t, ws, "/api/risk/history?days=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	store.AssertExpectations(t)
}

func TestCycles(t *testing.T) {
	t.Run("from store with limit", func(t *testing.T) {
		store := new(MockStore)
		store.On("GetRecentCycles", mock.Anything, 20).Return([]types.CycleSnapshot{*sampleCycle(2, time.Now())}, nil)
		store.On("GetRecentCycles", mock.Anything, 100).Return([]types.CycleSnapshot{}, nil)
		ws := NewWebServer(Config{Vault: newVault(t), Store: store})

		rec, body := serve(t, ws, "/api/cycles")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 1, body["count"])

		rec, body = serve(t, ws, "/api/cycles?limit=500")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 100, body["limit"])
		store.AssertExpectations(t)
	})

	t.Run("from keeper memory", func(t *testing.T) {
		ws := NewWebServer(Config{Vault: newVault(t), Cycles: fakeCycles{last: sampleCycle(5, time.Now())}})
		rec, body := serve(t, ws, "/api/cycles")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 1, body["count"])

		rec, _ = serve(t, ws, "/api/cycles/5")
		assert.Equal(t, http.StatusOK, rec.Code)
		rec, _ = serve(t, ws, "/api/cycles/6")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("empty", func(t *testing.T) {
		rec, body := serve(t, NewWebServer(Config{Vault: newVault(t)}), "/api/cycles")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []interface{}{}, body["cycles"])
	})
}

func TestCycleByNumber(t *testing.T) {
	store := new(MockStore)
	store.On("GetCycleByNumber", mock.Anything, 8).Return(*sampleCycle(8, time.Now()), nil)
	store.On("GetCycleByNumber", mock.Anything, 9).Return(types.CycleSnapshot{}, fmt.Errorf("cycle 9: %w", state.ErrNotFound))
	ws := NewWebServer(Config{Vault: newVault(t), Store: store})

	rec, body := serve(t, ws, "/api/cycles/8")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cycle-8", body["cycle_id"])

	rec, _ = serve(t, ws, "/api/cycles/9")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = serve(t, ws, "/api/cycles/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code, "non-numeric ids do not match the route")
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.ObserveCycle(time.Second, 0)

	rec := httptest.NewRecorder()
	NewWebServer(Config{Vault: newVault(t)}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "safeyield_keeper_cycles_total")
}

func TestCORSHeaders(t *testing.T) {
	rec, _ := serve(t, NewWebServer(Config{Vault: newVault(t)}), "/api/vault/summary")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
