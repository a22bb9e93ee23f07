package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/dlplabs/proof-service/internal/domain/account"
	"github.com/dlplabs/proof-service/internal/domain/file"
	"github.com/dlplabs/proof-service/internal/storage"
)

func TestUpsertFileConflictIgnore(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.UpsertFile(ctx, file.Record{BlockchainFileID: 1, URL: "https://a"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if first.Status != file.StatusNew {
		t.Fatalf("status = %s, want new default", first.Status)
	}

	// Re-ingesting the same key keeps the existing row untouched.
	second, err := s.UpsertFile(ctx, file.Record{BlockchainFileID: 1, URL: "https://b"})
	if err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	if second.URL != "https://a" || second.ID != first.ID {
		t.Fatalf("conflicting upsert replaced the record: %+v", second)
	}
}

func TestUpdateFile(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.UpdateFile(ctx, file.Record{BlockchainFileID: 9}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	seeded, err := s.UpsertFile(ctx, file.Record{BlockchainFileID: 9})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	seeded.Status = file.StatusPending
	seeded.RelayURL = "https://relay.test/tasks/status/t1"
	updated, err := s.UpdateFile(ctx, seeded)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != file.StatusPending || updated.RelayURL == "" {
		t.Fatalf("update lost fields: %+v", updated)
	}
	if updated.ID != seeded.ID {
		t.Fatal("update must preserve the row id")
	}
}

func TestListFilesByStatus(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := uint64(1); i <= 5; i++ {
		status := file.StatusNew
		if i%2 == 0 {
			status = file.StatusPending
		}
		if _, err := s.UpsertFile(ctx, file.Record{BlockchainFileID: i, Status: status}); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	pending, err := s.ListFilesByStatus(ctx, file.StatusPending, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("len = %d, want 2", len(pending))
	}

	limited, err := s.ListFilesByStatus(ctx, file.StatusNew, 1)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("len = %d, want 1 (limit)", len(limited))
	}
}

func TestAccounts(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.GetAccountByPublicID(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	created, err := s.CreateAccount(ctx, account.Account{PublicID: "contrib-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateAccount(ctx, account.Account{PublicID: "contrib-1"}); err == nil {
		t.Fatal("duplicate public id must be rejected")
	}

	created.WalletAddress = "0xabc"
	if _, err := s.UpdateAccount(ctx, created); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetAccountByPublicID(ctx, "contrib-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.WalletAddress != "0xabc" {
		t.Fatalf("wallet = %q, want 0xabc", got.WalletAddress)
	}
	if !got.WalletConnected() {
		t.Fatal("account with wallet must report connected")
	}
}
