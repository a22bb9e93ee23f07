package pipeline

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/dlplabs/proof-service/internal/domain/file"
	"github.com/dlplabs/proof-service/internal/metrics"
	"github.com/dlplabs/proof-service/internal/storage"
	"github.com/dlplabs/proof-service/pkg/logger"
)

const defaultBatchSize = 50

// Report aggregates one driver pass.
type Report struct {
	Processed int
	Succeeded int
	Failed    int
}

// Driver runs the cron-triggered batch passes. Each pass scans one status
// bucket and applies the matching transition to every record in it. Per-item
// failures are isolated; one bad record never aborts its siblings.
type Driver struct {
	orc       *Orchestrator
	files     storage.FileStore
	limiter   *rate.Limiter
	batchSize int
	recorder  metrics.Recorder
	log       *logger.Logger
}

// DriverConfig holds batch driver configuration.
type DriverConfig struct {
	// BatchSize caps records per pass. Zero means 50.
	BatchSize int
	// ItemsPerSecond throttles transitions to respect downstream rate
	// limits. Zero means one per second.
	ItemsPerSecond float64
}

// NewDriver creates a batch driver over the orchestrator.
func NewDriver(cfg DriverConfig, orc *Orchestrator, files storage.FileStore, recorder metrics.Recorder, log *logger.Logger) *Driver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.ItemsPerSecond <= 0 {
		cfg.ItemsPerSecond = 1
	}
	if recorder == nil {
		recorder = metrics.NewNoOpCollector()
	}
	if log == nil {
		log = logger.NewDefault("driver")
	}

	return &Driver{
		orc:       orc,
		files:     files,
		limiter:   rate.NewLimiter(rate.Limit(cfg.ItemsPerSecond), 1),
		batchSize: cfg.BatchSize,
		recorder:  recorder,
		log:       log,
	}
}

// DriveGeneration processes records waiting for a proof. A record whose
// generation fails is marked failed with the cause so operators can triage;
// resetting it to new re-queues it.
func (d *Driver) DriveGeneration(ctx context.Context) (Report, error) {
	return d.drive(ctx, "generation", file.StatusNew, func(ctx context.Context, id uint64) error {
		_, err := d.orc.Generate(ctx, id)
		if err != nil {
			d.markFailed(ctx, id, err)
		}
		return err
	})
}

// DriveSubmission processes records with a generated proof awaiting relay
// dispatch. A record already on-chain counts as succeeded.
func (d *Driver) DriveSubmission(ctx context.Context) (Report, error) {
	return d.drive(ctx, "submission", file.StatusProofGenerated, func(ctx context.Context, id uint64) error {
		_, err := d.orc.Submit(ctx, id)
		if errors.Is(err, ErrAlreadySubmitted) {
			return nil
		}
		if err != nil {
			d.markFailed(ctx, id, err)
		}
		return err
	})
}

// DriveStatusUpdate polls each pending record's relay task once. Poll
// failures are transient and never finalize the record; the relay's own
// terminal states are the only path to failed here.
func (d *Driver) DriveStatusUpdate(ctx context.Context) (Report, error) {
	return d.drive(ctx, "status_update", file.StatusPending, func(ctx context.Context, id uint64) error {
		_, err := d.orc.PollStatus(ctx, id)
		return err
	})
}

func (d *Driver) drive(ctx context.Context, name string, status file.Status, fn func(context.Context, uint64) error) (Report, error) {
	start := time.Now()

	records, err := d.files.ListFilesByStatus(ctx, status, d.batchSize)
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, rec := range records {
		if err := d.limiter.Wait(ctx); err != nil {
			return report, err
		}

		report.Processed++
		if err := fn(ctx, rec.BlockchainFileID); err != nil {
			report.Failed++
			d.log.WithError(err).
				WithField("driver", name).
				WithField("file_id", rec.BlockchainFileID).
				Warn("batch item failed")
			continue
		}
		report.Succeeded++
	}

	d.recorder.RecordBatch(name, report.Processed, time.Since(start))
	if report.Processed > 0 {
		d.log.WithField("driver", name).
			WithField("processed", report.Processed).
			WithField("succeeded", report.Succeeded).
			WithField("failed", report.Failed).
			Info("batch pass finished")
	}
	return report, nil
}

// markFailed records the failure cause on the record. Best effort; the next
// pass would retry a record the write missed.
func (d *Driver) markFailed(ctx context.Context, blockchainFileID uint64, cause error) {
	rec, err := d.files.GetFileByBlockchainID(ctx, blockchainFileID)
	if err != nil {
		d.log.WithError(err).WithField("file_id", blockchainFileID).Warn("load record for failure marking")
		return
	}
	rec.Status = file.StatusFailed
	rec.FailureReason = cause.Error()
	if _, err := d.files.UpdateFile(ctx, rec); err != nil {
		d.log.WithError(err).WithField("file_id", blockchainFileID).Warn("persist failure reason")
	}
}
