package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/nexxore/safeyield/internal/access"
	"github.com/nexxore/safeyield/internal/config"
	"github.com/nexxore/safeyield/internal/events"
	"github.com/nexxore/safeyield/internal/keeper"
	"github.com/nexxore/safeyield/internal/logger"
	"github.com/nexxore/safeyield/internal/metrics"
	"github.com/nexxore/safeyield/internal/riskfeed"
	"github.com/nexxore/safeyield/internal/riskgate"
	"github.com/nexxore/safeyield/internal/scheduler"
	"github.com/nexxore/safeyield/internal/state"
	"github.com/nexxore/safeyield/internal/types"
	"github.com/nexxore/safeyield/internal/vault"
	"github.com/nexxore/safeyield/internal/web"
)

const (
	CYCLE_TIMEOUT        = 2 * time.Minute
	HEALTH_CHECK_SPEC    = "@every 1m"
	SIMULATION_TICK_SPEC = "@every 1m"
)

// main is the entry point for the vault keeper.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Str("asset", config.VaultAsset).Msg("SafeYield vault keeper starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database is optional: without DB_NAME the keeper runs in memory.
	var store *state.Store
	if dbName := os.Getenv("DB_NAME"); dbName != "" {
		dbCfg := state.DBConfig{
			Host: getenvDefault("DB_HOST", "localhost"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
			User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
			DBName: dbName, SSLMode: getenvDefault("DB_SSLMODE", "disable"),
		}
		if err := state.InitDB(dbCfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}
		defer state.CloseDB()
		if err := state.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure database schema")
		}
		store = state.NewStore(state.DB)
	} else {
		log.Warn().Msg("DB_NAME not set; cycles and assessments will not be persisted")
	}

	// --- 2. Event sinks ---
	emitter := events.Multi{events.NewLogEmitter(), metrics.EventCounter{}}
	if config.NatsURL != "" {
		pub, err := events.NewPublisher(config.NatsURL)
		if err != nil {
			log.Fatal().Err(err).Str("url", config.NatsURL).Msg("Failed to connect to NATS")
		}
		defer pub.Close()
		emitter = append(emitter, events.NewNatsEmitter(pub, config.NatsSubjectPrefix))
	}

	// --- 3. Vault Initialization (with Safety Switch) ---
	if config.Mode != "simulation" {
		log.Fatal().Str("mode", config.Mode).Msg("VAULT_MODE is not 'simulation'. Only simulated venues are wired; halting.")
	}
	log.Warn().Msg("Running against SIMULATED venues. No real funds are moved.")

	roles := access.NewStaticRoles().
		Grant(config.StrategistAccount, types.RoleStrategist).
		Grant(config.GuardianAccount, types.RoleGuardian).
		Grant(config.AdminAccount, types.RoleAdmin)

	sim := newSimulation(config.VaultAsset)
	regs, err := sim.registrations(config.VaultAddress, roles, emitter)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create strategies")
	}

	params := config.DefaultEngineParameters.Vault
	params.RebalanceCooldown = config.RebalanceCooldown
	v, err := vault.New(vault.Config{
		Asset:             config.VaultAsset,
		Address:           config.VaultAddress,
		Strategies:        regs,
		Params:            params,
		PerformanceFeeBps: config.PerformanceFeeBps,
		FeeRecipient:      config.FeeRecipient,
		Roles:             roles,
		Emitter:           emitter,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create vault")
	}
	if seed := os.Getenv("SIM_SEED_DEPOSIT"); seed != "" {
		amount, err := sdkmath.LegacyNewDecFromStr(seed)
		if err != nil {
			log.Fatal().Err(err).Str("value", seed).Msg("Invalid SIM_SEED_DEPOSIT")
		}
		if _, err := v.Deposit(ctx, "sim-depositor", amount); err != nil {
			log.Fatal().Err(err).Msg("Failed to seed simulated deposit")
		}
	}

	// --- 4. Risk pipeline and keeper ---
	var feed riskfeed.Feed = riskfeed.NewStaticFeed()
	if config.RedisAddr != "" {
		redisFeed := riskfeed.NewRedisFeed(config.RedisAddr, config.RedisRiskKey)
		defer redisFeed.Close()
		feed = redisFeed
	} else {
		log.Warn().Msg("REDIS_ADDR not set; risk scores come from local observation only")
	}

	gateCfg := riskgate.Config{Vault: v}
	keeperCfg := keeper.Config{Vault: v, Feed: feed, Strategist: config.StrategistAccount}
	webCfg := web.Config{Port: config.WebPort, Vault: v, StaleAfter: 3 * CYCLE_TIMEOUT}
	if store != nil {
		gateCfg.Store = store
		keeperCfg.Store = store
		webCfg.Store = store
	}

	gate, err := riskgate.New(gateCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create risk gate")
	}
	keeperCfg.Gate = gate
	k, err := keeper.New(keeperCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create keeper")
	}
	webCfg.Cycles = k

	// --- 5. Scheduler and web server ---
	sched := scheduler.New(log.Logger)
	if config.KeeperInterval == 0 {
		if err := sched.AddJob(config.KeeperSchedule, k.Job(ctx, CYCLE_TIMEOUT)); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule keeper")
		}
	}
	if err := sched.AddJob(SIMULATION_TICK_SPEC, sim); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule simulation tick")
	}
	if store != nil {
		if err := sched.AddJob(HEALTH_CHECK_SPEC, scheduler.NewHealthCheckJob(log.Logger, store.Ping, 0)); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule health check")
		}
	}

	webServer := web.NewWebServer(webCfg)
	go func() {
		log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting web API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed")
		}
	}()

	if config.KeeperInterval > 0 {
		go k.RunLoop(ctx, config.KeeperInterval)
	} else if err := sched.RunNow(k.Job(ctx, CYCLE_TIMEOUT)); err != nil {
		log.Warn().Err(err).Msg("Initial keeper cycle finished with errors")
	}
	sched.Start()

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Web server shutdown failed")
	}
	log.Info().Msg("SafeYield vault keeper stopped")
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
