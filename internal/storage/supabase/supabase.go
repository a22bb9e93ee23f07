// Package supabase implements the record store contracts on the Supabase
// REST API.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dlplabs/proof-service/internal/domain/account"
	"github.com/dlplabs/proof-service/internal/domain/file"
	"github.com/dlplabs/proof-service/internal/httputil"
	"github.com/dlplabs/proof-service/internal/storage"
)

const (
	maxResponseBytes  = 8 << 20  // 8 MiB
	maxErrorBodyBytes = 32 << 10 // 32 KiB
)

// Config holds Supabase connection settings.
type Config struct {
	URL        string
	ServiceKey string
	Timeout    time.Duration
}

// Store implements storage.FileStore and storage.AccountStore on the
// Supabase REST API.
type Store struct {
	url        string
	serviceKey string
	httpClient *http.Client
}

// NewStore creates a Supabase-backed store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.ServiceKey == "" {
		return nil, fmt.Errorf("supabase service key is required")
	}
	parsed, err := neturl.Parse(cfg.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("supabase URL %q is not a valid URL", cfg.URL)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Store{
		url:        strings.TrimRight(cfg.URL, "/"),
		serviceKey: cfg.ServiceKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type fileRow struct {
	ID               string          `json:"id"`
	BlockchainFileID uint64          `json:"blockchain_file_id"`
	URL              string          `json:"url"`
	OwnerAddress     string          `json:"owner_address"`
	OwnerPublicID    string          `json:"owner_public_id"`
	Status           string          `json:"status"`
	Proof            json.RawMessage `json:"proof,omitempty"`
	VerboseProof     json.RawMessage `json:"verbose_proof,omitempty"`
	ProofTxn         string          `json:"proof_txn"`
	TxnHash          string          `json:"txn_hash"`
	RelayURL         string          `json:"relay_url"`
	IsOnchain        bool            `json:"is_onchain"`
	FailureReason    string          `json:"failure_reason"`
	CreatedAt        time.Time       `json:"created_at,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at,omitempty"`
}

func rowFromRecord(rec file.Record) fileRow {
	return fileRow{
		ID:               rec.ID,
		BlockchainFileID: rec.BlockchainFileID,
		URL:              rec.URL,
		OwnerAddress:     rec.OwnerAddress,
		OwnerPublicID:    rec.OwnerPublicID,
		Status:           string(rec.Status),
		Proof:            rec.Proof,
		VerboseProof:     rec.VerboseProof,
		ProofTxn:         rec.ProofTxn,
		TxnHash:          rec.TxnHash,
		RelayURL:         rec.RelayURL,
		IsOnchain:        rec.IsOnchain,
		FailureReason:    rec.FailureReason,
	}
}

func (r fileRow) toRecord() file.Record {
	return file.Record{
		ID:               r.ID,
		BlockchainFileID: r.BlockchainFileID,
		URL:              r.URL,
		OwnerAddress:     r.OwnerAddress,
		OwnerPublicID:    r.OwnerPublicID,
		Status:           file.Status(r.Status),
		Proof:            r.Proof,
		VerboseProof:     r.VerboseProof,
		ProofTxn:         r.ProofTxn,
		TxnHash:          r.TxnHash,
		RelayURL:         r.RelayURL,
		IsOnchain:        r.IsOnchain,
		FailureReason:    r.FailureReason,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

// UpsertFile inserts a record keyed by its blockchain file ID, ignoring the
// insert when the key already exists.
func (s *Store) UpsertFile(ctx context.Context, rec file.Record) (file.Record, error) {
	if rec.Status == "" {
		rec.Status = file.StatusNew
	}
	row := rowFromRecord(rec)
	if row.ID == "" {
		row.ID = uuid.NewString()
	}

	// resolution=ignore-duplicates turns a conflicting insert into a no-op.
	_, err := s.request(ctx, http.MethodPost, "files", row,
		"on_conflict=blockchain_file_id", "resolution=ignore-duplicates,return=representation")
	if err != nil {
		return file.Record{}, fmt.Errorf("upsert file %d: %w", rec.BlockchainFileID, err)
	}

	return s.GetFileByBlockchainID(ctx, rec.BlockchainFileID)
}

// UpdateFile rewrites the mutable fields of a record keyed by its blockchain
// file ID.
func (s *Store) UpdateFile(ctx context.Context, rec file.Record) (file.Record, error) {
	patch := map[string]interface{}{
		"url":             rec.URL,
		"owner_address":   rec.OwnerAddress,
		"owner_public_id": rec.OwnerPublicID,
		"status":          string(rec.Status),
		"proof_txn":       rec.ProofTxn,
		"txn_hash":        rec.TxnHash,
		"relay_url":       rec.RelayURL,
		"is_onchain":      rec.IsOnchain,
		"failure_reason":  rec.FailureReason,
		"updated_at":      time.Now().UTC().Format(time.RFC3339),
	}
	if len(rec.Proof) > 0 {
		patch["proof"] = rec.Proof
	}
	if len(rec.VerboseProof) > 0 {
		patch["verbose_proof"] = rec.VerboseProof
	}

	body, err := s.request(ctx, http.MethodPatch, "files", patch,
		"blockchain_file_id=eq."+strconv.FormatUint(rec.BlockchainFileID, 10),
		"return=representation")
	if err != nil {
		return file.Record{}, fmt.Errorf("update file %d: %w", rec.BlockchainFileID, err)
	}

	var rows []fileRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return file.Record{}, fmt.Errorf("decode update response: %w", err)
	}
	if len(rows) == 0 {
		return file.Record{}, storage.ErrNotFound
	}
	return rows[0].toRecord(), nil
}

// GetFileByBlockchainID loads a record by its unique on-chain file ID.
func (s *Store) GetFileByBlockchainID(ctx context.Context, blockchainFileID uint64) (file.Record, error) {
	body, err := s.request(ctx, http.MethodGet, "files", nil,
		"blockchain_file_id=eq."+strconv.FormatUint(blockchainFileID, 10)+"&limit=1", "")
	if err != nil {
		return file.Record{}, fmt.Errorf("get file %d: %w", blockchainFileID, err)
	}

	var rows []fileRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return file.Record{}, fmt.Errorf("decode file response: %w", err)
	}
	if len(rows) == 0 {
		return file.Record{}, storage.ErrNotFound
	}
	return rows[0].toRecord(), nil
}

// ListFilesByStatus returns up to limit records in the given lifecycle stage,
// oldest first.
func (s *Store) ListFilesByStatus(ctx context.Context, status file.Status, limit int) ([]file.Record, error) {
	query := "status=eq." + neturl.QueryEscape(string(status)) +
		"&order=updated_at.asc&limit=" + strconv.Itoa(limit)
	body, err := s.request(ctx, http.MethodGet, "files", nil, query, "")
	if err != nil {
		return nil, fmt.Errorf("list files with status %s: %w", status, err)
	}

	var rows []fileRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}

	records := make([]file.Record, len(rows))
	for i, row := range rows {
		records[i] = row.toRecord()
	}
	return records, nil
}

type accountRow struct {
	ID            string    `json:"id"`
	PublicID      string    `json:"public_id"`
	WalletAddress string    `json:"wallet_address"`
	RelayTaskURL  string    `json:"relay_task_url"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
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
	row := accountRow{
		ID:            acct.ID,
		PublicID:      acct.PublicID,
		WalletAddress: acct.WalletAddress,
		RelayTaskURL:  acct.RelayTaskURL,
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}

	body, err := s.request(ctx, http.MethodPost, "accounts", row, "", "return=representation")
	if err != nil {
		return account.Account{}, fmt.Errorf("create account %q: %w", acct.PublicID, err)
	}

	var rows []accountRow
	if err := json.Unmarshal(body, &rows); err != nil || len(rows) == 0 {
		return account.Account{}, fmt.Errorf("decode create response for %q", acct.PublicID)
	}
	return rows[0].toAccount(), nil
}

// UpdateAccount rewrites the mutable fields of an account keyed by public ID.
func (s *Store) UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	patch := map[string]interface{}{
		"wallet_address": acct.WalletAddress,
		"relay_task_url": acct.RelayTaskURL,
		"updated_at":     time.Now().UTC().Format(time.RFC3339),
	}

	body, err := s.request(ctx, http.MethodPatch, "accounts", patch,
		"public_id=eq."+neturl.QueryEscape(acct.PublicID), "return=representation")
	if err != nil {
		return account.Account{}, fmt.Errorf("update account %q: %w", acct.PublicID, err)
	}

	var rows []accountRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return account.Account{}, fmt.Errorf("decode update response: %w", err)
	}
	if len(rows) == 0 {
		return account.Account{}, storage.ErrNotFound
	}
	return rows[0].toAccount(), nil
}

// GetAccountByPublicID loads an account by its public identifier.
func (s *Store) GetAccountByPublicID(ctx context.Context, publicID string) (account.Account, error) {
	body, err := s.request(ctx, http.MethodGet, "accounts", nil,
		"public_id=eq."+neturl.QueryEscape(publicID)+"&limit=1", "")
	if err != nil {
		return account.Account{}, fmt.Errorf("get account %q: %w", publicID, err)
	}

	var rows []accountRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return account.Account{}, fmt.Errorf("decode account response: %w", err)
	}
	if len(rows) == 0 {
		return account.Account{}, storage.ErrNotFound
	}
	return rows[0].toAccount(), nil
}

// request performs one REST call against a table, returning the response
// body. prefer overrides the Prefer header when non-empty.
func (s *Store) request(ctx context.Context, method, table string, body interface{}, query, prefer string) ([]byte, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", s.url, table)
	if query != "" {
		url += "?" + query
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	if prefer == "" {
		prefer = "return=representation"
	}
	req.Header.Set("Prefer", prefer)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, truncated, readErr := httputil.ReadAllWithLimit(resp.Body, maxErrorBodyBytes)
		if readErr != nil {
			return nil, fmt.Errorf("read error response: %w", readErr)
		}
		msg := strings.TrimSpace(string(respBody))
		if truncated {
			msg += "...(truncated)"
		}
		return nil, fmt.Errorf("supabase API error %d: %s", resp.StatusCode, msg)
	}

	respBody, err := httputil.ReadAllStrict(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return respBody, nil
}

var (
	_ storage.FileStore    = (*Store)(nil)
	_ storage.AccountStore = (*Store)(nil)
)
