// Package main implements proverd, the proof generation and submission
// daemon. It ingests registered files, scores contributors against the
// permission oracle, signs proofs and drives them on-chain through the
// sponsored relay.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/dlplabs/proof-service/internal/chain"
	"github.com/dlplabs/proof-service/internal/config"
	"github.com/dlplabs/proof-service/internal/dimo"
	"github.com/dlplabs/proof-service/internal/httpapi"
	"github.com/dlplabs/proof-service/internal/ingest"
	"github.com/dlplabs/proof-service/internal/metrics"
	"github.com/dlplabs/proof-service/internal/pipeline"
	"github.com/dlplabs/proof-service/internal/proof"
	"github.com/dlplabs/proof-service/internal/relay"
	"github.com/dlplabs/proof-service/internal/storage"
	"github.com/dlplabs/proof-service/internal/storage/memory"
	"github.com/dlplabs/proof-service/internal/storage/postgres"
	"github.com/dlplabs/proof-service/internal/storage/supabase"
	"github.com/dlplabs/proof-service/internal/system"
	"github.com/dlplabs/proof-service/pkg/logger"
)

func main() {
	log := logger.NewDefault("proverd")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load configuration")
	}

	files, accounts, closeStore, err := openStores(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("open record store")
	}
	defer closeStore()

	chainClient, err := chain.NewClient(chain.Config{
		RPCURL:          cfg.RPCEndpoint,
		ChainID:         cfg.ChainID,
		RegistryAddress: cfg.RegistryAddress,
	})
	if err != nil {
		log.WithError(err).Fatal("connect chain rpc")
	}
	defer chainClient.Close()

	relayClient, err := relay.NewClient(relay.Config{
		BaseURL: cfg.RelayBaseURL,
		APIKey:  cfg.RelayAPIKey,
	})
	if err != nil {
		log.WithError(err).Fatal("create relay client")
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("parse REDIS_URL")
		}
		cache = redis.NewClient(opts)
		defer cache.Close()
	}

	oracle, err := dimo.NewClient(dimo.Config{
		ClientID: cfg.OracleClientID,
		Domain:   cfg.OracleDomain,
		APIKey:   cfg.OracleAPIKey,
	}, cache, logger.NewDefault("dimo"))
	if err != nil {
		log.WithError(err).Fatal("create oracle client")
	}

	proverAddress, err := proof.SignerAddress(cfg.ProverKey)
	if err != nil {
		log.WithError(err).Fatal("derive prover address")
	}
	builder := proof.NewBuilder(proof.BuilderConfig{
		DLPID:          cfg.DLPID,
		EncryptionSeed: cfg.EncryptionSeed,
		ProverAddress:  proverAddress,
		ProverURL:      cfg.BaseURL,
	})

	collector := metrics.NewCollector("proof_service")

	orc, err := pipeline.NewOrchestrator(pipeline.Config{
		ChainID:         cfg.ChainID,
		RegistryAddress: cfg.RegistryAddress,
		SignerKey:       cfg.ProverKey,
		ProofURLBase:    cfg.BaseURL,
	}, files, accounts, oracle, chainClient, relayClient, builder, collector, logger.NewDefault("pipeline"))
	if err != nil {
		log.WithError(err).Fatal("create orchestrator")
	}

	driver := pipeline.NewDriver(pipeline.DriverConfig{
		BatchSize:      cfg.BatchSize,
		ItemsPerSecond: cfg.ItemsPerSecond,
	}, orc, files, collector, logger.NewDefault("driver"))

	scheduler := pipeline.NewScheduler(config.LoadSchedulesOrDefault(), driver, logger.NewDefault("scheduler"))

	syncer := ingest.NewSyncer(ingest.Config{}, files, accounts, relayClient, chainClient, logger.NewDefault("ingest"))

	server := httpapi.NewServer(httpapi.Config{ListenAddr: cfg.ListenAddr},
		orc, syncer, files, collector.Registry(), logger.NewDefault("httpapi"))

	manager := system.NewManager()
	for _, svc := range []system.Service{server, scheduler} {
		if err := manager.Register(svc); err != nil {
			log.WithError(err).Fatal("register service")
		}
	}

	ctx := context.Background()
	if err := manager.Start(ctx); err != nil {
		log.WithError(err).Fatal("start services")
	}
	log.WithField("addr", cfg.ListenAddr).
		WithField("prover", proverAddress).
		Info("proverd started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := manager.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// openStores selects the store backend: Postgres when DATABASE_URL is set,
// Supabase when its credentials are set, otherwise in-memory for local runs.
func openStores(cfg config.Config, log *logger.Logger) (storage.FileStore, storage.AccountStore, func(), error) {
	switch {
	case cfg.PostgresDSN != "":
		store, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Info("using postgres record store")
		return store, store, func() { _ = store.Close() }, nil
	case cfg.SupabaseURL != "":
		store, err := supabase.NewStore(supabase.Config{URL: cfg.SupabaseURL, ServiceKey: cfg.SupabaseKey})
		if err != nil {
			return nil, nil, nil, err
		}
		log.Info("using supabase record store")
		return store, store, func() {}, nil
	default:
		store := memory.New()
		log.Warn("using in-memory record store; data will not survive restarts")
		return store, store, func() {}, nil
	}
}
