// Package config loads service configuration from the environment and the
// optional schedules file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/dlplabs/proof-service/internal/pipeline"
)

// Config is the full service configuration. Everything operational comes
// from the environment; only cron schedules live in a file.
type Config struct {
	// HTTP server
	ListenAddr string

	// BaseURL is the externally reachable prefix of this service, used to
	// build proof URLs embedded in on-chain metadata.
	BaseURL string

	// Chain
	RPCEndpoint     string
	ChainID         uint64
	RegistryAddress string
	ProverKey       string
	DLPID           int64
	EncryptionSeed  string

	// Relay
	RelayAPIKey  string
	RelayBaseURL string

	// Oracle
	OracleClientID string
	OracleDomain   string
	OracleAPIKey   string

	// Storage: PostgresDSN selects the Postgres store; otherwise
	// SupabaseURL/SupabaseKey select the REST store; otherwise in-memory.
	PostgresDSN string
	SupabaseURL string
	SupabaseKey string

	// RedisURL enables the vehicle-list cache when set.
	RedisURL string

	// Batch drivers
	BatchSize      int
	ItemsPerSecond float64
}

// Load reads configuration from the environment. Only the chain and signing
// settings are mandatory; everything else has a workable default.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:      envOr("LISTEN_ADDR", ":8080"),
		BaseURL:         envOr("BASE_URL", "http://localhost:8080"),
		RPCEndpoint:     os.Getenv("RPC_ENDPOINT"),
		RegistryAddress: os.Getenv("DATAREGISTRY_CONTRACT_ADDRESS"),
		ProverKey:       os.Getenv("PROVER_PRIVATE_KEY"),
		EncryptionSeed:  os.Getenv("ENCRYPTION_SEED"),
		RelayAPIKey:     os.Getenv("GELATO_RELAY_API_KEY"),
		RelayBaseURL:    os.Getenv("GELATO_RELAY_URL"),
		OracleClientID:  os.Getenv("DIMO_CLIENT_ID"),
		OracleDomain:    os.Getenv("DIMO_DOMAIN"),
		OracleAPIKey:    os.Getenv("DIMO_API_KEY"),
		PostgresDSN:     os.Getenv("DATABASE_URL"),
		SupabaseURL:     os.Getenv("SUPABASE_URL"),
		SupabaseKey:     os.Getenv("SUPABASE_SERVICE_KEY"),
		RedisURL:        os.Getenv("REDIS_URL"),
	}

	var err error
	if cfg.ChainID, err = envUint("CHAIN_ID", 1480); err != nil {
		return Config{}, err
	}
	if cfg.DLPID, err = envInt("DLP_ID", 0); err != nil {
		return Config{}, err
	}
	if batch, err := envUint("BATCH_SIZE", 50); err != nil {
		return Config{}, err
	} else {
		cfg.BatchSize = int(batch)
	}
	if rate := os.Getenv("ITEMS_PER_SECOND"); rate != "" {
		cfg.ItemsPerSecond, err = strconv.ParseFloat(rate, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse ITEMS_PER_SECOND: %w", err)
		}
	}

	if cfg.RPCEndpoint == "" {
		return Config{}, fmt.Errorf("RPC_ENDPOINT is required")
	}
	if cfg.RegistryAddress == "" {
		return Config{}, fmt.Errorf("DATAREGISTRY_CONTRACT_ADDRESS is required")
	}
	if cfg.ProverKey == "" {
		return Config{}, fmt.Errorf("PROVER_PRIVATE_KEY is required")
	}
	if cfg.DLPID == 0 {
		return Config{}, fmt.Errorf("DLP_ID is required")
	}

	return cfg, nil
}

// LoadSchedules loads cron schedules from config/schedules.yaml.
func LoadSchedules() (pipeline.Schedules, error) {
	return LoadSchedulesFromPath(filepath.Join("config", "schedules.yaml"))
}

// LoadSchedulesFromPath loads cron schedules from a specific path.
func LoadSchedulesFromPath(path string) (pipeline.Schedules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Schedules{}, fmt.Errorf("read schedules config: %w", err)
	}

	var schedules pipeline.Schedules
	if err := yaml.Unmarshal(data, &schedules); err != nil {
		return pipeline.Schedules{}, fmt.Errorf("parse schedules config: %w", err)
	}
	return schedules, nil
}

// LoadSchedulesOrDefault loads the schedules file or falls back to the
// defaults when it is absent.
func LoadSchedulesOrDefault() pipeline.Schedules {
	schedules, err := LoadSchedules()
	if err != nil {
		return pipeline.DefaultSchedules()
	}
	return schedules
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envUint(key string, fallback uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func envInt(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}
