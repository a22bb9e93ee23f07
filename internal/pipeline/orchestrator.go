// Package pipeline drives file records through the proof lifecycle:
// generate a signed proof, dispatch it through the relay, and poll the relay
// task until the submission is confirmed or fails on-chain.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dlplabs/proof-service/internal/chain"
	"github.com/dlplabs/proof-service/internal/dimo"
	"github.com/dlplabs/proof-service/internal/domain/file"
	"github.com/dlplabs/proof-service/internal/httputil"
	"github.com/dlplabs/proof-service/internal/metrics"
	"github.com/dlplabs/proof-service/internal/proof"
	"github.com/dlplabs/proof-service/internal/relay"
	"github.com/dlplabs/proof-service/internal/scoring"
	"github.com/dlplabs/proof-service/internal/storage"
	"github.com/dlplabs/proof-service/pkg/logger"
)

var (
	// ErrNoProof is returned when submit is asked to dispatch a record that
	// has no persisted proof.
	ErrNoProof = errors.New("no proof stored for file")

	// ErrAlreadySubmitted is an idempotent short-circuit: the proof already
	// landed on-chain and the existing transaction is returned unchanged.
	ErrAlreadySubmitted = errors.New("proof already submitted")

	// ErrNoRelayTask is returned when pollStatus runs against a record that
	// never recorded a relay dispatch.
	ErrNoRelayTask = errors.New("no relay task recorded for file")
)

// GenerationError wraps any upstream failure during proof generation. The
// record's status is left unchanged so the next batch pass retries it.
type GenerationError struct {
	FileID uint64
	Err    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("proof generation for file %d failed: %v", e.FileID, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Oracle is the permission-oracle surface the orchestrator consumes.
type Oracle interface {
	ListVehicles(ctx context.Context, walletAddress string) ([]dimo.Vehicle, error)
	CheckAccess(ctx context.Context, tokenID uint64) (dimo.Access, error)
}

// ChainReader reads file records from the data registry.
type ChainReader interface {
	GetFile(ctx context.Context, fileID uint64) (chain.File, error)
}

// Relay dispatches sponsored calls and reports task status.
type Relay interface {
	SponsoredCall(ctx context.Context, chainID uint64, target string, callData []byte) (string, error)
	TaskStatus(ctx context.Context, taskID string) (relay.Task, error)
	TaskStatusURL(taskID string) string
}

// Config holds orchestrator configuration.
type Config struct {
	ChainID         uint64
	RegistryAddress string
	SignerKey       string
	// ProofURLBase is the externally reachable prefix under which this
	// service serves verbose proof documents.
	ProofURLBase string
	// MaxPayloadBytes caps the contributed-payload download. Zero means the
	// 4 MiB default.
	MaxPayloadBytes int64
	PayloadTimeout  time.Duration
}

// Orchestrator owns the stage transitions of the file lifecycle. Each
// transition is a single store write; a failed transition leaves the record
// where it was.
type Orchestrator struct {
	cfg      Config
	files    storage.FileStore
	accounts storage.AccountStore
	oracle   Oracle
	reader   ChainReader
	relay    Relay
	builder  *proof.Builder
	recorder metrics.Recorder
	payload  *http.Client
	log      *logger.Logger
}

// NewOrchestrator wires the pipeline collaborators together.
func NewOrchestrator(
	cfg Config,
	files storage.FileStore,
	accounts storage.AccountStore,
	oracle Oracle,
	reader ChainReader,
	rly Relay,
	builder *proof.Builder,
	recorder metrics.Recorder,
	log *logger.Logger,
) (*Orchestrator, error) {
	if cfg.SignerKey == "" {
		return nil, fmt.Errorf("signer key required")
	}
	if cfg.RegistryAddress == "" {
		return nil, fmt.Errorf("registry address required")
	}
	if cfg.MaxPayloadBytes == 0 {
		cfg.MaxPayloadBytes = 4 << 20
	}
	if cfg.PayloadTimeout == 0 {
		cfg.PayloadTimeout = 30 * time.Second
	}
	if recorder == nil {
		recorder = metrics.NewNoOpCollector()
	}
	if log == nil {
		log = logger.NewDefault("pipeline")
	}

	return &Orchestrator{
		cfg:      cfg,
		files:    files,
		accounts: accounts,
		oracle:   oracle,
		reader:   reader,
		relay:    rly,
		builder:  builder,
		recorder: recorder,
		payload:  &http.Client{Timeout: cfg.PayloadTimeout},
		log:      log,
	}, nil
}

// Generate computes, signs and persists the proof for a file, moving the
// record to proof_generated. Missing records are pulled from the registry
// first so the endpoint works for files ingestion has not seen yet. Any
// upstream failure is returned as a GenerationError and the stored status is
// left untouched.
func (o *Orchestrator) Generate(ctx context.Context, blockchainFileID uint64) (file.Record, error) {
	rec, err := o.loadOrIngest(ctx, blockchainFileID)
	if err != nil {
		o.recorder.RecordGeneration(err)
		return file.Record{}, &GenerationError{FileID: blockchainFileID, Err: err}
	}
	if rec.Status == file.StatusPending || rec.Status == file.StatusConfirmed {
		return rec, ErrAlreadySubmitted
	}

	onchain, err := o.reader.GetFile(ctx, blockchainFileID)
	if err != nil {
		o.recorder.RecordGeneration(err)
		return rec, &GenerationError{FileID: blockchainFileID, Err: err}
	}
	if onchain.ID == 0 {
		err := fmt.Errorf("file %d is not registered on-chain", blockchainFileID)
		o.recorder.RecordGeneration(err)
		return rec, &GenerationError{FileID: blockchainFileID, Err: err}
	}

	payload, publicID, err := o.fetchPayload(ctx, onchain.URL)
	if err != nil {
		o.recorder.RecordGeneration(err)
		return rec, &GenerationError{FileID: blockchainFileID, Err: err}
	}

	result, err := o.scoreContributor(ctx, publicID)
	if err != nil {
		o.recorder.RecordGeneration(err)
		return rec, &GenerationError{FileID: blockchainFileID, Err: err}
	}

	unsigned, err := o.builder.Build(proof.FileDetails{
		FileID:       blockchainFileID,
		URL:          onchain.URL,
		OwnerAddress: onchain.OwnerAddress,
		Bytes:        payload,
	}, result.Fraction(), result.IsValid)
	if err != nil {
		o.recorder.RecordGeneration(err)
		return rec, &GenerationError{FileID: blockchainFileID, Err: err}
	}

	signed, err := proof.Sign(unsigned, o.cfg.SignerKey)
	if err != nil {
		o.recorder.RecordGeneration(err)
		return rec, &GenerationError{FileID: blockchainFileID, Err: err}
	}

	formatted, err := proof.Format(signed, o.proofURL(blockchainFileID))
	if err != nil {
		o.recorder.RecordGeneration(err)
		return rec, &GenerationError{FileID: blockchainFileID, Err: err}
	}

	compact, err := marshalRaw(formatted)
	if err == nil {
		rec.VerboseProof, err = marshalRaw(signed)
	}
	if err != nil {
		o.recorder.RecordGeneration(err)
		return rec, &GenerationError{FileID: blockchainFileID, Err: err}
	}

	rec.Proof = compact
	rec.OwnerPublicID = publicID
	rec.Status = file.StatusProofGenerated
	rec.FailureReason = ""

	updated, err := o.files.UpdateFile(ctx, rec)
	if err != nil {
		o.recorder.RecordGeneration(err)
		return rec, &GenerationError{FileID: blockchainFileID, Err: fmt.Errorf("persist proof: %w", err)}
	}

	o.recorder.RecordGeneration(nil)
	o.log.WithField("file_id", blockchainFileID).
		WithField("score", result.Score).
		Info("proof generated")
	return updated, nil
}

// Submit dispatches the stored proof through the relay and moves the record
// to pending. A record already on-chain short-circuits with
// ErrAlreadySubmitted; dispatch failures leave the record at proof_generated.
func (o *Orchestrator) Submit(ctx context.Context, blockchainFileID uint64) (file.Record, error) {
	rec, err := o.files.GetFileByBlockchainID(ctx, blockchainFileID)
	if err != nil {
		return file.Record{}, err
	}
	if rec.IsOnchain && rec.ProofTxn != "" {
		return rec, ErrAlreadySubmitted
	}
	if len(rec.Proof) == 0 {
		return rec, ErrNoProof
	}

	formatted, err := proof.ParseFormatted(rec.Proof)
	if err != nil {
		o.recorder.RecordSubmission(err)
		return rec, err
	}

	callData, err := chain.PackAddProof(formatted)
	if err != nil {
		o.recorder.RecordSubmission(err)
		return rec, err
	}

	taskID, err := o.relay.SponsoredCall(ctx, o.cfg.ChainID, o.cfg.RegistryAddress, callData)
	o.recorder.RecordRelayDispatch(err)
	if err != nil {
		o.recorder.RecordSubmission(err)
		return rec, err
	}

	rec.RelayURL = o.relay.TaskStatusURL(taskID)
	rec.Status = file.StatusPending
	rec.FailureReason = ""

	updated, err := o.files.UpdateFile(ctx, rec)
	if err != nil {
		o.recorder.RecordSubmission(err)
		return rec, fmt.Errorf("persist relay task: %w", err)
	}

	o.recorder.RecordSubmission(nil)
	o.log.WithField("file_id", blockchainFileID).
		WithField("task_id", taskID).
		Info("proof submitted to relay")
	return updated, nil
}

// PollStatus queries the relay task once and finalizes the record when the
// task reached a terminal state. Confirmed records return immediately; a
// still-running task leaves the record pending without a store write.
func (o *Orchestrator) PollStatus(ctx context.Context, blockchainFileID uint64) (file.Record, error) {
	rec, err := o.files.GetFileByBlockchainID(ctx, blockchainFileID)
	if err != nil {
		return file.Record{}, err
	}
	if rec.Status == file.StatusConfirmed {
		return rec, nil
	}
	if rec.RelayURL == "" {
		return rec, ErrNoRelayTask
	}

	taskID, err := relay.TaskIDFromURL(rec.RelayURL)
	if err != nil {
		return rec, err
	}

	task, err := o.relay.TaskStatus(ctx, taskID)
	if err != nil {
		return rec, err
	}
	o.recorder.RecordStatusUpdate(string(task.TaskState))

	switch {
	case task.TaskState == relay.TaskStateExecSuccess && task.TransactionHash != "":
		rec.ProofTxn = task.TransactionHash
		rec.IsOnchain = true
		rec.Status = file.StatusConfirmed
		rec.FailureReason = ""
	case task.TaskState.Failed():
		rec.Status = file.StatusFailed
		rec.FailureReason = string(task.TaskState)
	default:
		// CheckPending, ExecPending, WaitingForConfirmation, or a success
		// without a hash yet. Nothing to persist.
		return rec, nil
	}

	updated, err := o.files.UpdateFile(ctx, rec)
	if err != nil {
		return rec, fmt.Errorf("persist relay status: %w", err)
	}

	o.log.WithField("file_id", blockchainFileID).
		WithField("status", string(updated.Status)).
		Info("relay task finalized")
	return updated, nil
}

// loadOrIngest returns the stored record, pulling the on-chain record into
// the store first when ingestion has not seen the file yet.
func (o *Orchestrator) loadOrIngest(ctx context.Context, blockchainFileID uint64) (file.Record, error) {
	rec, err := o.files.GetFileByBlockchainID(ctx, blockchainFileID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return file.Record{}, err
	}

	onchain, err := o.reader.GetFile(ctx, blockchainFileID)
	if err != nil {
		return file.Record{}, err
	}
	if onchain.ID == 0 {
		return file.Record{}, fmt.Errorf("file %d is not registered on-chain", blockchainFileID)
	}

	return o.files.UpsertFile(ctx, file.Record{
		BlockchainFileID: blockchainFileID,
		URL:              onchain.URL,
		OwnerAddress:     onchain.OwnerAddress,
		Status:           file.StatusNew,
	})
}

// fetchPayload downloads the contributed payload and extracts the contributor
// public identifier from its JSON body. The raw bytes also feed the proof
// checksums.
func (o *Orchestrator) fetchPayload(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create payload request: %w", err)
	}

	resp, err := o.payload.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch payload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("fetch payload: unexpected status %d", resp.StatusCode)
	}

	data, err := httputil.ReadAllStrict(resp.Body, o.cfg.MaxPayloadBytes)
	if err != nil {
		return nil, "", fmt.Errorf("read payload: %w", err)
	}

	publicID := gjson.GetBytes(data, "id").String()
	if publicID == "" {
		return nil, "", fmt.Errorf("payload carries no contributor id")
	}
	return data, publicID, nil
}

// scoreContributor looks up the contributor's wallet and gathers device
// permissions. A contributor without a linked wallet scores zero; that is a
// valid signed outcome, not an error.
func (o *Orchestrator) scoreContributor(ctx context.Context, publicID string) (scoring.Result, error) {
	acct, err := o.accounts.GetAccountByPublicID(ctx, publicID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !acct.WalletConnected()) {
		return scoring.Calculate(scoring.Input{WalletConnected: false}), nil
	}
	if err != nil {
		return scoring.Result{}, fmt.Errorf("load account %q: %w", publicID, err)
	}

	start := time.Now()
	vehicles, err := o.oracle.ListVehicles(ctx, acct.WalletAddress)
	o.recorder.RecordOracleCall("list_vehicles", time.Since(start), err)
	if err != nil {
		return scoring.Result{}, err
	}

	granted, err := o.checkAccessAll(ctx, vehicles)
	if err != nil {
		return scoring.Result{}, err
	}

	tokenIDs := make([]uint64, len(vehicles))
	for i, v := range vehicles {
		tokenIDs[i] = v.TokenID
	}

	return scoring.Calculate(scoring.Input{
		WalletConnected: true,
		TokenIDs:        tokenIDs,
		Granted:         granted,
	}), nil
}

// checkAccessAll fans out one access probe per device. Probes are independent
// reads; a single oracle failure fails the whole check so the record stays
// retryable instead of scoring on partial data.
func (o *Orchestrator) checkAccessAll(ctx context.Context, vehicles []dimo.Vehicle) (map[uint64]bool, error) {
	granted := make(map[uint64]bool, len(vehicles))
	if len(vehicles) == 0 {
		return granted, nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, v := range vehicles {
		wg.Add(1)
		go func(tokenID uint64) {
			defer wg.Done()
			start := time.Now()
			access, err := o.oracle.CheckAccess(ctx, tokenID)
			o.recorder.RecordOracleCall("check_access", time.Since(start), err)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			granted[tokenID] = access.Granted
		}(v.TokenID)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return granted, nil
}

func (o *Orchestrator) proofURL(blockchainFileID uint64) string {
	return fmt.Sprintf("%s/files/%d/proof", o.cfg.ProofURLBase, blockchainFileID)
}

func marshalRaw(v interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal proof document: %w", err)
	}
	return raw, nil
}
