package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlplabs/proof-service/internal/chain"
	"github.com/dlplabs/proof-service/internal/dimo"
	"github.com/dlplabs/proof-service/internal/domain/account"
	"github.com/dlplabs/proof-service/internal/domain/file"
	"github.com/dlplabs/proof-service/internal/ingest"
	"github.com/dlplabs/proof-service/internal/pipeline"
	"github.com/dlplabs/proof-service/internal/proof"
	"github.com/dlplabs/proof-service/internal/relay"
	"github.com/dlplabs/proof-service/internal/storage/memory"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type stubOracle struct{}

func (stubOracle) ListVehicles(ctx context.Context, wallet string) ([]dimo.Vehicle, error) {
	return nil, nil
}

func (stubOracle) CheckAccess(ctx context.Context, tokenID uint64) (dimo.Access, error) {
	return dimo.Access{}, nil
}

type stubReader struct{}

func (stubReader) GetFile(ctx context.Context, fileID uint64) (chain.File, error) {
	return chain.File{}, nil
}

func (stubReader) TransactionReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	return &types.Receipt{}, nil
}

func (stubReader) RegistryAddress() common.Address { return common.Address{} }

type stubRelay struct{}

func (stubRelay) SponsoredCall(ctx context.Context, chainID uint64, target string, callData []byte) (string, error) {
	return "task-1", nil
}

func (stubRelay) TaskStatus(ctx context.Context, taskID string) (relay.Task, error) {
	return relay.Task{TaskState: relay.TaskStateCheckPending}, nil
}

func (stubRelay) TaskStatusURL(taskID string) string {
	return "https://relay.test/tasks/status/" + taskID
}

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New()

	builder := proof.NewBuilder(proof.BuilderConfig{DLPID: 14, ProverAddress: "0x0", ProverURL: "https://prover.test"})
	orc, err := pipeline.NewOrchestrator(pipeline.Config{
		ChainID:         1480,
		RegistryAddress: "0x1111111111111111111111111111111111111111",
		SignerKey:       testKey,
		ProofURLBase:    "https://prover.test",
	}, store, store, stubOracle{}, stubReader{}, stubRelay{}, builder, nil, nil)
	require.NoError(t, err)

	syncer := ingest.NewSyncer(ingest.Config{}, store, store, stubRelay{}, stubReader{}, nil)
	return NewServer(Config{}, orc, syncer, store, nil, nil), store
}

func doRequest(t *testing.T, srv *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestGetFile(t *testing.T) {
	srv, store := newTestServer(t)

	rr := doRequest(t, srv, http.MethodGet, "/files/42", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	_, err := store.UpsertFile(context.Background(), file.Record{BlockchainFileID: 42, Status: file.StatusPending})
	require.NoError(t, err)

	rr = doRequest(t, srv, http.MethodGet, "/files/42", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		FileID uint64 `json:"fileId"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, uint64(42), resp.FileID)
	assert.Equal(t, "pending", resp.Status)
}

func TestGetFileRejectsBadID(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := doRequest(t, srv, http.MethodGet, "/files/0", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetProof(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	_, err := store.UpsertFile(ctx, file.Record{BlockchainFileID: 42, Status: file.StatusNew})
	require.NoError(t, err)

	rr := doRequest(t, srv, http.MethodGet, "/files/42/proof", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code, "record without proof")

	rec, err := store.GetFileByBlockchainID(ctx, 42)
	require.NoError(t, err)
	rec.VerboseProof = json.RawMessage(`{"signed_fields":{},"signature":"0xabc"}`)
	_, err = store.UpdateFile(ctx, rec)
	require.NoError(t, err)

	rr = doRequest(t, srv, http.MethodGet, "/files/42/proof", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"signed_fields":{},"signature":"0xabc"}`, rr.Body.String())
}

func TestSubmitWithoutProofConflicts(t *testing.T) {
	srv, store := newTestServer(t)

	_, err := store.UpsertFile(context.Background(), file.Record{BlockchainFileID: 42, Status: file.StatusNew})
	require.NoError(t, err)

	rr := doRequest(t, srv, http.MethodPost, "/files/42/submit", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestSubmitIdempotent(t *testing.T) {
	srv, store := newTestServer(t)

	_, err := store.UpsertFile(context.Background(), file.Record{
		BlockchainFileID: 42,
		Status:           file.StatusConfirmed,
		ProofTxn:         "0xexisting",
		IsOnchain:        true,
	})
	require.NoError(t, err)

	rr := doRequest(t, srv, http.MethodPost, "/files/42/submit", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		ProofTxn string `json:"proofTxn"`
		Status   string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "0xexisting", resp.ProofTxn)
	assert.Equal(t, "confirmed", resp.Status)
}

func TestSync(t *testing.T) {
	srv, store := newTestServer(t)

	_, err := store.CreateAccount(context.Background(), account.Account{PublicID: "contrib-1"})
	require.NoError(t, err)

	rr := doRequest(t, srv, http.MethodPost, "/sync", []byte(`{"publicIds":["contrib-1","missing"]}`))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Results []struct {
			PublicID string `json:"publicId"`
			Error    string `json:"error"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Empty(t, resp.Results[0].Error)
	assert.NotEmpty(t, resp.Results[1].Error)

	rr = doRequest(t, srv, http.MethodPost, "/sync", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
}
