// Package ingest reconciles contributor file registrations into the record
// store. A contributor's upload is registered on-chain through the relay by
// the client application; ingestion resolves that relay task to a mined
// transaction, decodes the registration events from its receipt and creates
// the matching file records.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sethvargo/go-retry"

	"github.com/dlplabs/proof-service/internal/chain"
	"github.com/dlplabs/proof-service/internal/domain/file"
	"github.com/dlplabs/proof-service/internal/relay"
	"github.com/dlplabs/proof-service/internal/storage"
	"github.com/dlplabs/proof-service/pkg/logger"
)

// ErrTaskNotFinished is returned when the registration relay task has not
// reached a terminal state within the polling budget.
var ErrTaskNotFinished = errors.New("registration task still running")

// ErrTaskFailed is returned when the relay reports a terminal negative state
// for the registration task.
var ErrTaskFailed = errors.New("registration task failed")

// Relay is the relay surface ingestion consumes.
type Relay interface {
	TaskStatus(ctx context.Context, taskID string) (relay.Task, error)
}

// ChainReader resolves mined transactions.
type ChainReader interface {
	TransactionReceipt(ctx context.Context, txHash string) (*types.Receipt, error)
	RegistryAddress() common.Address
}

// Config holds ingestion configuration.
type Config struct {
	// PollAttempts bounds the per-account status loop. Zero means 30.
	PollAttempts uint64
	// PollInterval is the fixed delay between attempts. Zero means 2s.
	PollInterval time.Duration
}

// Syncer pulls registered files for contributor accounts into the store.
type Syncer struct {
	cfg      Config
	files    storage.FileStore
	accounts storage.AccountStore
	relay    Relay
	reader   ChainReader
	log      *logger.Logger
}

// NewSyncer creates an ingestion syncer.
func NewSyncer(cfg Config, files storage.FileStore, accounts storage.AccountStore, rly Relay, reader ChainReader, log *logger.Logger) *Syncer {
	if cfg.PollAttempts == 0 {
		cfg.PollAttempts = 30
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("ingest")
	}

	return &Syncer{
		cfg:      cfg,
		files:    files,
		accounts: accounts,
		relay:    rly,
		reader:   reader,
		log:      log,
	}
}

// AccountResult is the outcome of syncing one contributor.
type AccountResult struct {
	PublicID string
	Ingested int
	Err      error
}

// SyncAccounts ingests registered files for each contributor. Per-account
// failures are isolated and reported in the result slice, never aborting
// sibling accounts.
func (s *Syncer) SyncAccounts(ctx context.Context, publicIDs []string) []AccountResult {
	results := make([]AccountResult, 0, len(publicIDs))
	for _, publicID := range publicIDs {
		ingested, err := s.SyncAccount(ctx, publicID)
		if err != nil {
			s.log.WithError(err).WithField("public_id", publicID).Warn("account sync failed")
		}
		results = append(results, AccountResult{PublicID: publicID, Ingested: ingested, Err: err})
	}
	return results
}

// SyncAccount resolves one contributor's registration task and upserts the
// files its receipt registered. Re-ingesting the same events is a no-op
// because the store ignores conflicting inserts. Returns the number of
// records ingested.
func (s *Syncer) SyncAccount(ctx context.Context, publicID string) (int, error) {
	acct, err := s.accounts.GetAccountByPublicID(ctx, publicID)
	if err != nil {
		return 0, fmt.Errorf("load account %q: %w", publicID, err)
	}
	if acct.RelayTaskURL == "" {
		return 0, nil
	}

	taskID, err := relay.TaskIDFromURL(acct.RelayTaskURL)
	if err != nil {
		return 0, err
	}

	txHash, err := s.awaitTask(ctx, taskID)
	if err != nil {
		return 0, err
	}

	receipt, err := s.reader.TransactionReceipt(ctx, txHash)
	if err != nil {
		return 0, err
	}

	events, err := chain.ParseFileAdded(receipt, s.reader.RegistryAddress())
	if err != nil {
		return 0, err
	}

	ingested := 0
	for _, event := range events {
		_, err := s.files.UpsertFile(ctx, file.Record{
			BlockchainFileID: event.FileID,
			URL:              event.URL,
			OwnerAddress:     event.OwnerAddress,
			OwnerPublicID:    publicID,
			TxnHash:          txHash,
			Status:           file.StatusNew,
		})
		if err != nil {
			return ingested, fmt.Errorf("upsert file %d: %w", event.FileID, err)
		}
		ingested++
	}

	s.log.WithField("public_id", publicID).
		WithField("ingested", ingested).
		Info("account files ingested")
	return ingested, nil
}

// awaitTask polls the registration task until it succeeds, fails, or the
// attempt budget runs out. This is the one place the service loops on relay
// status: it is reconciling a single just-submitted transaction, not
// scanning many records.
func (s *Syncer) awaitTask(ctx context.Context, taskID string) (string, error) {
	backoff := retry.WithMaxRetries(s.cfg.PollAttempts, retry.NewConstant(s.cfg.PollInterval))

	var txHash string
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		task, err := s.relay.TaskStatus(ctx, taskID)
		if err != nil {
			return retry.RetryableError(err)
		}
		switch {
		case task.TaskState == relay.TaskStateExecSuccess && task.TransactionHash != "":
			txHash = task.TransactionHash
			return nil
		case task.TaskState.Failed():
			return fmt.Errorf("%w: %s", ErrTaskFailed, task.TaskState)
		default:
			return retry.RetryableError(fmt.Errorf("%w: state %s", ErrTaskNotFinished, task.TaskState))
		}
	})
	if err != nil {
		return "", err
	}
	return txHash, nil
}
