// Package storage defines the persistence contracts consumed by the proof
// pipeline.
package storage

import (
	"context"
	"errors"

	"github.com/dlplabs/proof-service/internal/domain/account"
	"github.com/dlplabs/proof-service/internal/domain/file"
)

// ErrNotFound is returned when a record or account does not exist.
var ErrNotFound = errors.New("record not found")

// FileStore persists data-registry file records.
type FileStore interface {
	// UpsertFile inserts a record keyed by its blockchain file ID. If a
	// record with the same blockchain file ID already exists the insert is
	// ignored and the existing record is returned, making event re-ingestion
	// safe to retry.
	UpsertFile(ctx context.Context, rec file.Record) (file.Record, error)
	UpdateFile(ctx context.Context, rec file.Record) (file.Record, error)
	GetFileByBlockchainID(ctx context.Context, blockchainFileID uint64) (file.Record, error)
	ListFilesByStatus(ctx context.Context, status file.Status, limit int) ([]file.Record, error)
}

// AccountStore persists contributor accounts.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	GetAccountByPublicID(ctx context.Context, publicID string) (account.Account, error)
}
