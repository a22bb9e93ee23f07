// Package postgres implements the record store contracts on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/dlplabs/proof-service/internal/domain/account"
	"github.com/dlplabs/proof-service/internal/domain/file"
	"github.com/dlplabs/proof-service/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements storage.FileStore and storage.AccountStore on PostgreSQL.
type Store struct {
	db *sqlx.DB
}

// Open connects to the database and applies pending migrations.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing connection without running migrations. Used by
// tests driving a mocked database.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func runMigrations(db *sql.DB) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("prepare migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("prepare migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// fileRow keeps the proof columns as []byte rather than json.RawMessage:
// database/sql only scans NULL into byte slices, and rows without proofs
// store NULL.
type fileRow struct {
	ID               string    `db:"id"`
	BlockchainFileID uint64    `db:"blockchain_file_id"`
	URL              string    `db:"url"`
	OwnerAddress     string    `db:"owner_address"`
	OwnerPublicID    string    `db:"owner_public_id"`
	Status           string    `db:"status"`
	Proof            []byte    `db:"proof"`
	VerboseProof     []byte    `db:"verbose_proof"`
	ProofTxn         string    `db:"proof_txn"`
	TxnHash          string    `db:"txn_hash"`
	RelayURL         string    `db:"relay_url"`
	IsOnchain        bool      `db:"is_onchain"`
	FailureReason    string    `db:"failure_reason"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r fileRow) toRecord() file.Record {
	return file.Record{
		ID:               r.ID,
		BlockchainFileID: r.BlockchainFileID,
		URL:              r.URL,
		OwnerAddress:     r.OwnerAddress,
		OwnerPublicID:    r.OwnerPublicID,
		Status:           file.Status(r.Status),
		Proof:            json.RawMessage(r.Proof),
		VerboseProof:     json.RawMessage(r.VerboseProof),
		ProofTxn:         r.ProofTxn,
		TxnHash:          r.TxnHash,
		RelayURL:         r.RelayURL,
		IsOnchain:        r.IsOnchain,
		FailureReason:    r.FailureReason,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

const fileColumns = `id, blockchain_file_id, url, owner_address, owner_public_id, status,
	proof, verbose_proof, proof_txn, txn_hash, relay_url, is_onchain, failure_reason,
	created_at, updated_at`

// UpsertFile inserts a record keyed by its blockchain file ID. A conflicting
// insert is ignored and the existing row returned, making event re-ingestion
// safe to retry.
func (s *Store) UpsertFile(ctx context.Context, rec file.Record) (file.Record, error) {
	if rec.Status == "" {
		rec.Status = file.StatusNew
	}
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (id, blockchain_file_id, url, owner_address, owner_public_id, status,
			proof, verbose_proof, proof_txn, txn_hash, relay_url, is_onchain, failure_reason,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())
		ON CONFLICT (blockchain_file_id) DO NOTHING`,
		id, rec.BlockchainFileID, rec.URL, rec.OwnerAddress, rec.OwnerPublicID, string(rec.Status),
		nullableJSON(rec.Proof), nullableJSON(rec.VerboseProof), rec.ProofTxn, rec.TxnHash,
		rec.RelayURL, rec.IsOnchain, rec.FailureReason)
	if err != nil {
		return file.Record{}, fmt.Errorf("upsert file %d: %w", rec.BlockchainFileID, err)
	}

	return s.GetFileByBlockchainID(ctx, rec.BlockchainFileID)
}

// UpdateFile rewrites the mutable fields of a record keyed by its blockchain
// file ID.
func (s *Store) UpdateFile(ctx context.Context, rec file.Record) (file.Record, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE files SET url = $2, owner_address = $3, owner_public_id = $4, status = $5,
			proof = $6, verbose_proof = $7, proof_txn = $8, txn_hash = $9, relay_url = $10,
			is_onchain = $11, failure_reason = $12, updated_at = now()
		WHERE blockchain_file_id = $1`,
		rec.BlockchainFileID, rec.URL, rec.OwnerAddress, rec.OwnerPublicID, string(rec.Status),
		nullableJSON(rec.Proof), nullableJSON(rec.VerboseProof), rec.ProofTxn, rec.TxnHash,
		rec.RelayURL, rec.IsOnchain, rec.FailureReason)
	if err != nil {
		return file.Record{}, fmt.Errorf("update file %d: %w", rec.BlockchainFileID, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return file.Record{}, storage.ErrNotFound
	}

	return s.GetFileByBlockchainID(ctx, rec.BlockchainFileID)
}

// GetFileByBlockchainID loads a record by its unique on-chain file ID.
func (s *Store) GetFileByBlockchainID(ctx context.Context, blockchainFileID uint64) (file.Record, error) {
	var row fileRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+fileColumns+` FROM files WHERE blockchain_file_id = $1`, blockchainFileID)
	if errors.Is(err, sql.ErrNoRows) {
		return file.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return file.Record{}, fmt.Errorf("get file %d: %w", blockchainFileID, err)
	}
	return row.toRecord(), nil
}

// ListFilesByStatus returns up to limit records in the given lifecycle stage,
// oldest first so stuck records are retried before fresh ones.
func (s *Store) ListFilesByStatus(ctx context.Context, status file.Status, limit int) ([]file.Record, error) {
	var rows []fileRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+fileColumns+` FROM files WHERE status = $1 ORDER BY updated_at ASC LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list files with status %s: %w", status, err)
	}

	records := make([]file.Record, len(rows))
	for i, row := range rows {
		records[i] = row.toRecord()
	}
	return records, nil
}

type accountRow struct {
	ID            string    `db:"id"`
	PublicID      string    `db:"public_id"`
	WalletAddress string    `db:"wallet_address"`
	RelayTaskURL  string    `db:"relay_task_url"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r accountRow) toAccount() account.Account {
	return account.Account{
		ID:            r.ID,
		PublicID:      r.PublicID,
		WalletAddress: r.WalletAddress,
		RelayTaskURL:  r.RelayTaskURL,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// CreateAccount inserts a contributor account.
func (s *Store) CreateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	id := acct.ID
	if id == "" {
		id = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, public_id, wallet_address, relay_task_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())`,
		id, acct.PublicID, acct.WalletAddress, acct.RelayTaskURL)
	if err != nil {
		return account.Account{}, fmt.Errorf("create account %q: %w", acct.PublicID, err)
	}

	return s.GetAccountByPublicID(ctx, acct.PublicID)
}

// UpdateAccount rewrites the mutable fields of an account keyed by public ID.
func (s *Store) UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET wallet_address = $2, relay_task_url = $3, updated_at = now()
		WHERE public_id = $1`,
		acct.PublicID, acct.WalletAddress, acct.RelayTaskURL)
	if err != nil {
		return account.Account{}, fmt.Errorf("update account %q: %w", acct.PublicID, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return account.Account{}, storage.ErrNotFound
	}

	return s.GetAccountByPublicID(ctx, acct.PublicID)
}

// GetAccountByPublicID loads an account by its public identifier.
func (s *Store) GetAccountByPublicID(ctx context.Context, publicID string) (account.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, public_id, wallet_address, relay_task_url, created_at, updated_at
		FROM accounts WHERE public_id = $1`, publicID)
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, storage.ErrNotFound
	}
	if err != nil {
		return account.Account{}, fmt.Errorf("get account %q: %w", publicID, err)
	}
	return row.toAccount(), nil
}

// nullableJSON maps an absent document to SQL NULL instead of an empty jsonb
// string, which postgres rejects.
func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

var (
	_ storage.FileStore    = (*Store)(nil)
	_ storage.AccountStore = (*Store)(nil)
)
