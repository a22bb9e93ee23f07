package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/dlplabs/proof-service/internal/proof"
)

// registryABI covers the slice of the data-registry contract the service
// touches: the file record getter, the proof submission entry point and the
// registration event emitted when a file is added.
const registryABI = `[
  {"inputs":[{"name":"fileId","type":"uint256"}],"name":"files","outputs":[{"name":"id","type":"uint256"},{"name":"ownerAddress","type":"address"},{"name":"url","type":"string"},{"name":"addedAtBlock","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"fileId","type":"uint256"},{"components":[{"name":"signature","type":"bytes"},{"components":[{"name":"score","type":"uint256"},{"name":"dlpId","type":"uint256"},{"name":"metadata","type":"string"},{"name":"proofUrl","type":"string"},{"name":"instruction","type":"string"}],"name":"data","type":"tuple"}],"name":"proof","type":"tuple"}],"name":"addProof","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"anonymous":false,"inputs":[{"indexed":true,"name":"fileId","type":"uint256"},{"indexed":true,"name":"ownerAddress","type":"address"},{"indexed":false,"name":"url","type":"string"}],"name":"FileAdded","type":"event"}
]`

var registry = mustParseABI(registryABI)

func mustParseABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(fmt.Sprintf("parse registry abi: %v", err))
	}
	return parsed
}

// File is the immutable on-chain file record.
type File struct {
	ID           uint64
	OwnerAddress string
	URL          string
	AddedAtBlock uint64
}

// FileAddedEvent is one decoded FileAdded log entry.
type FileAddedEvent struct {
	FileID       uint64
	OwnerAddress string
	URL          string
}

// GetFile reads a file record from the registry contract. A zero file id on
// the result means the id is unregistered.
func (c *Client) GetFile(ctx context.Context, fileID uint64) (File, error) {
	input, err := registry.Pack("files", new(big.Int).SetUint64(fileID))
	if err != nil {
		return File{}, &ReadError{Op: "files", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	output, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.registry, Data: input}, nil)
	if err != nil {
		return File{}, &ReadError{Op: "files", Err: err}
	}

	var result struct {
		ID           *big.Int       `abi:"id"`
		OwnerAddress common.Address `abi:"ownerAddress"`
		URL          string         `abi:"url"`
		AddedAtBlock *big.Int       `abi:"addedAtBlock"`
	}
	if err := registry.UnpackIntoInterface(&result, "files", output); err != nil {
		return File{}, &ReadError{Op: "files", Err: err}
	}

	return File{
		ID:           result.ID.Uint64(),
		OwnerAddress: result.OwnerAddress.Hex(),
		URL:          result.URL,
		AddedAtBlock: result.AddedAtBlock.Uint64(),
	}, nil
}

type addProofData struct {
	Score       *big.Int `abi:"score"`
	DlpID       *big.Int `abi:"dlpId"`
	Metadata    string   `abi:"metadata"`
	ProofURL    string   `abi:"proofUrl"`
	Instruction string   `abi:"instruction"`
}

type addProofArg struct {
	Signature []byte       `abi:"signature"`
	Data      addProofData `abi:"data"`
}

// PackAddProof encodes the addProof call for a compact proof. The score is
// rescaled to the 1e18 fixed-point integer here, at the encoding boundary.
func PackAddProof(fp proof.FormattedProof) ([]byte, error) {
	signature := common.FromHex(fp.Signature)
	if len(signature) == 0 {
		return nil, fmt.Errorf("proof signature is empty")
	}

	arg := addProofArg{
		Signature: signature,
		Data: addProofData{
			Score:       proof.ScoreToFixedPoint(fp.Data.Score),
			DlpID:       big.NewInt(fp.Data.DLPID),
			Metadata:    fp.Data.Metadata,
			ProofURL:    fp.Data.ProofURL,
			Instruction: fp.Data.Instruction,
		},
	}

	input, err := registry.Pack("addProof", new(big.Int).SetUint64(fp.FileID), arg)
	if err != nil {
		return nil, fmt.Errorf("pack addProof: %w", err)
	}
	return input, nil
}

// ParseFileAdded decodes the FileAdded events in a transaction receipt,
// ignoring logs emitted by other contracts or with other signatures.
func ParseFileAdded(receipt *types.Receipt, registryAddr common.Address) ([]FileAddedEvent, error) {
	event := registry.Events["FileAdded"]

	var out []FileAddedEvent
	for _, entry := range receipt.Logs {
		if entry.Address != registryAddr {
			continue
		}
		if len(entry.Topics) != 3 || entry.Topics[0] != event.ID {
			continue
		}

		var data struct {
			URL string `abi:"url"`
		}
		if err := registry.UnpackIntoInterface(&data, "FileAdded", entry.Data); err != nil {
			return nil, fmt.Errorf("decode FileAdded log: %w", err)
		}

		out = append(out, FileAddedEvent{
			FileID:       new(big.Int).SetBytes(entry.Topics[1].Bytes()).Uint64(),
			OwnerAddress: common.BytesToAddress(entry.Topics[2].Bytes()).Hex(),
			URL:          data.URL,
		})
	}
	return out, nil
}
