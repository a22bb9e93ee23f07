package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/dlplabs/proof-service/internal/domain/file"
	"github.com/dlplabs/proof-service/internal/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "sqlmock")), mock
}

var fileColumnNames = []string{
	"id", "blockchain_file_id", "url", "owner_address", "owner_public_id", "status",
	"proof", "verbose_proof", "proof_txn", "txn_hash", "relay_url", "is_onchain",
	"failure_reason", "created_at", "updated_at",
}

func fileRowValues(id string, chainID uint64, status string) []driver.Value {
	now := time.Now()
	return []driver.Value{
		id, chainID, "https://a", "0xowner", "contrib-1", status,
		nil, nil, "", "", "", false, "", now, now,
	}
}

func TestGetFileByBlockchainID(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows(fileColumnNames).AddRow(fileRowValues("row-1", 42, "new")...)
	mock.ExpectQuery("SELECT (.+) FROM files WHERE blockchain_file_id").
		WithArgs(int64(42)).
		WillReturnRows(rows)

	rec, err := store.GetFileByBlockchainID(context.Background(), 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.BlockchainFileID != 42 || rec.Status != file.StatusNew {
		t.Fatalf("unexpected record %+v", rec)
	}
	// NULL proof columns must scan as absent, not error.
	if rec.Proof != nil || rec.VerboseProof != nil {
		t.Fatalf("proof columns = %q/%q, want nil", rec.Proof, rec.VerboseProof)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetFileByBlockchainIDWithProof(t *testing.T) {
	store, mock := newMockStore(t)

	values := fileRowValues("row-1", 42, "proof_generated")
	values[6] = []byte(`{"score":1}`)
	values[7] = []byte(`{"signed_fields":{}}`)
	rows := sqlmock.NewRows(fileColumnNames).AddRow(values...)
	mock.ExpectQuery("SELECT (.+) FROM files WHERE blockchain_file_id").
		WithArgs(int64(42)).
		WillReturnRows(rows)

	rec, err := store.GetFileByBlockchainID(context.Background(), 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(rec.Proof) != `{"score":1}` || string(rec.VerboseProof) != `{"signed_fields":{}}` {
		t.Fatalf("proof columns = %q/%q", rec.Proof, rec.VerboseProof)
	}
}

func TestGetFileByBlockchainIDNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM files WHERE blockchain_file_id").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(fileColumnNames))

	if _, err := store.GetFileByBlockchainID(context.Background(), 7); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpsertFileConflictIgnore(t *testing.T) {
	store, mock := newMockStore(t)

	// The insert hits an existing key and is ignored; the existing row is
	// read back.
	mock.ExpectExec("INSERT INTO files").
		WillReturnResult(sqlmock.NewResult(0, 0))
	rows := sqlmock.NewRows(fileColumnNames).AddRow(fileRowValues("row-1", 42, "pending")...)
	mock.ExpectQuery("SELECT (.+) FROM files WHERE blockchain_file_id").
		WithArgs(int64(42)).
		WillReturnRows(rows)

	rec, err := store.UpsertFile(context.Background(), file.Record{BlockchainFileID: 42, URL: "https://other"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if rec.Status != file.StatusPending || rec.URL != "https://a" {
		t.Fatalf("conflicting upsert must return the existing row, got %+v", rec)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateFileNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE files SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := store.UpdateFile(context.Background(), file.Record{BlockchainFileID: 9, Status: file.StatusPending})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListFilesByStatus(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows(fileColumnNames).
		AddRow(fileRowValues("row-1", 1, "new")...).
		AddRow(fileRowValues("row-2", 2, "new")...)
	mock.ExpectQuery("SELECT (.+) FROM files WHERE status").
		WithArgs("new", 50).
		WillReturnRows(rows)

	records, err := store.ListFilesByStatus(context.Background(), file.StatusNew, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len = %d, want 2", len(records))
	}
}
