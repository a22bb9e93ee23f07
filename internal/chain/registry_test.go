package chain

import (
	"math/big"
	"reflect"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/dlplabs/proof-service/internal/proof"
)

func TestPackAddProof(t *testing.T) {
	fp := proof.FormattedProof{
		FileID:    42,
		Signature: "0x" + strings.Repeat("ab", 65),
		Data: proof.FormattedData{
			Score:    0.853,
			DLPID:    14,
			Metadata: `{"timestamp":1700000000}`,
			ProofURL: "https://prover.test/files/42/proof",
		},
	}

	input, err := PackAddProof(fp)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	method, ok := registry.Methods["addProof"]
	if !ok {
		t.Fatal("addProof missing from ABI")
	}
	if len(input) < 4 || string(input[:4]) != string(method.ID) {
		t.Fatal("packed input does not start with the addProof selector")
	}

	values, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	fileID, ok := values[0].(*big.Int)
	if !ok || fileID.Uint64() != 42 {
		t.Fatalf("fileId = %v, want 42", values[0])
	}

	// The proof argument unpacks to a reflect-generated tuple struct; read
	// it by field name. Score arrives already rescaled to the 1e18
	// fixed-point integer.
	arg := reflect.ValueOf(values[1])
	if sig := arg.FieldByName("Signature").Bytes(); len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}
	data := arg.FieldByName("Data")
	score := data.FieldByName("Score").Interface().(*big.Int)
	if score.String() != "853000000000000000" {
		t.Fatalf("score = %s, want 853000000000000000", score)
	}
	dlpID := data.FieldByName("DlpId").Interface().(*big.Int)
	if dlpID.Int64() != 14 {
		t.Fatalf("dlpId = %s, want 14", dlpID)
	}
	if url := data.FieldByName("ProofUrl").String(); url != fp.Data.ProofURL {
		t.Fatalf("proofUrl = %q", url)
	}
}

func TestPackAddProofRejectsEmptySignature(t *testing.T) {
	if _, err := PackAddProof(proof.FormattedProof{FileID: 1}); err == nil {
		t.Fatal("expected error for empty signature")
	}
}

func TestParseFileAdded(t *testing.T) {
	registryAddr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	owner := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	event := registry.Events["FileAdded"]

	urlData, err := event.Inputs.NonIndexed().Pack("https://storage.test/7.json")
	if err != nil {
		t.Fatalf("pack url: %v", err)
	}

	receipt := &types.Receipt{Logs: []*types.Log{
		{
			// Emitted by another contract; must be ignored.
			Address: common.HexToAddress("0x2222222222222222222222222222222222222222"),
			Topics:  []common.Hash{event.ID, common.BigToHash(big.NewInt(1)), common.BytesToHash(owner.Bytes())},
			Data:    urlData,
		},
		{
			// Wrong signature; must be ignored.
			Address: registryAddr,
			Topics:  []common.Hash{common.HexToHash("0xdead"), common.BigToHash(big.NewInt(2)), common.BytesToHash(owner.Bytes())},
			Data:    urlData,
		},
		{
			Address: registryAddr,
			Topics:  []common.Hash{event.ID, common.BigToHash(big.NewInt(7)), common.BytesToHash(owner.Bytes())},
			Data:    urlData,
		},
	}}

	events, err := ParseFileAdded(receipt, registryAddr)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len = %d, want 1", len(events))
	}
	got := events[0]
	if got.FileID != 7 {
		t.Fatalf("fileId = %d, want 7", got.FileID)
	}
	if !strings.EqualFold(got.OwnerAddress, owner.Hex()) {
		t.Fatalf("owner = %s, want %s", got.OwnerAddress, owner.Hex())
	}
	if got.URL != "https://storage.test/7.json" {
		t.Fatalf("url = %q", got.URL)
	}
}
