// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dlplabs/proof-service/internal/domain/account"
	"github.com/dlplabs/proof-service/internal/domain/file"
	"github.com/dlplabs/proof-service/internal/storage"
)

// Store holds records in process memory.
type Store struct {
	mu              sync.RWMutex
	nextID          int64
	filesByChainID  map[uint64]file.Record
	accounts        map[string]account.Account
	accountPublicID map[string]string
}

var _ storage.FileStore = (*Store)(nil)
var _ storage.AccountStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		nextID:          1,
		filesByChainID:  make(map[uint64]file.Record),
		accounts:        make(map[string]account.Account),
		accountPublicID: make(map[string]string),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// FileStore implementation ----------------------------------------------------

func (s *Store) UpsertFile(_ context.Context, rec file.Record) (file.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.filesByChainID[rec.BlockchainFileID]; ok {
		return cloneFile(existing), nil
	}

	if rec.ID == "" {
		rec.ID = s.nextIDLocked()
	}
	if rec.Status == "" {
		rec.Status = file.StatusNew
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	s.filesByChainID[rec.BlockchainFileID] = cloneFile(rec)
	return cloneFile(rec), nil
}

func (s *Store) UpdateFile(_ context.Context, rec file.Record) (file.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.filesByChainID[rec.BlockchainFileID]
	if !ok {
		return file.Record{}, fmt.Errorf("file %d: %w", rec.BlockchainFileID, storage.ErrNotFound)
	}

	rec.ID = original.ID
	rec.CreatedAt = original.CreatedAt
	rec.UpdatedAt = time.Now().UTC()

	s.filesByChainID[rec.BlockchainFileID] = cloneFile(rec)
	return cloneFile(rec), nil
}

func (s *Store) GetFileByBlockchainID(_ context.Context, blockchainFileID uint64) (file.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.filesByChainID[blockchainFileID]
	if !ok {
		return file.Record{}, fmt.Errorf("file %d: %w", blockchainFileID, storage.ErrNotFound)
	}
	return cloneFile(rec), nil
}

func (s *Store) ListFilesByStatus(_ context.Context, status file.Status, limit int) ([]file.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]file.Record, 0)
	for _, rec := range s.filesByChainID {
		if rec.Status != status {
			continue
		}
		result = append(result, cloneFile(rec))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// AccountStore implementation -------------------------------------------------

func (s *Store) CreateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acct.PublicID == "" {
		return account.Account{}, fmt.Errorf("public_id is required")
	}
	if _, exists := s.accountPublicID[acct.PublicID]; exists {
		return account.Account{}, fmt.Errorf("account %s already exists", acct.PublicID)
	}

	if acct.ID == "" {
		acct.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	s.accounts[acct.ID] = acct
	s.accountPublicID[acct.PublicID] = acct.ID
	return acct, nil
}

func (s *Store) UpdateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.accounts[acct.ID]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s: %w", acct.ID, storage.ErrNotFound)
	}

	acct.CreatedAt = original.CreatedAt
	acct.UpdatedAt = time.Now().UTC()

	delete(s.accountPublicID, original.PublicID)
	s.accounts[acct.ID] = acct
	s.accountPublicID[acct.PublicID] = acct.ID
	return acct, nil
}

func (s *Store) GetAccountByPublicID(_ context.Context, publicID string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.accountPublicID[publicID]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s: %w", publicID, storage.ErrNotFound)
	}
	return s.accounts[id], nil
}

// Helpers ---------------------------------------------------------------------

func cloneFile(rec file.Record) file.Record {
	rec.Proof = cloneRaw(rec.Proof)
	rec.VerboseProof = cloneRaw(rec.VerboseProof)
	return rec
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
