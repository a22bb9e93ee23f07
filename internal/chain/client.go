// Package chain provides EVM blockchain interaction for the proof service.
package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ReadError wraps an RPC failure from a read-only chain call. Reads are
// never retried internally; the caller decides.
type ReadError struct {
	Op  string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("chain read %s: %v", e.Op, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Config holds client configuration.
type Config struct {
	RPCURL          string
	ChainID         uint64
	RegistryAddress string
	Timeout         time.Duration
}

// Client wraps an EVM RPC connection and the data-registry contract.
type Client struct {
	eth      *ethclient.Client
	chainID  uint64
	registry common.Address
	timeout  time.Duration
}

// NewClient dials the RPC endpoint and prepares the registry binding.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}
	if !common.IsHexAddress(cfg.RegistryAddress) {
		return nil, fmt.Errorf("invalid registry address %q", cfg.RegistryAddress)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	return &Client{
		eth:      eth,
		chainID:  cfg.ChainID,
		registry: common.HexToAddress(cfg.RegistryAddress),
		timeout:  timeout,
	}, nil
}

// ChainID returns the configured chain identifier.
func (c *Client) ChainID() uint64 { return c.chainID }

// RegistryAddress returns the data-registry contract address.
func (c *Client) RegistryAddress() common.Address { return c.registry }

// TransactionReceipt fetches the receipt for a mined transaction.
func (c *Client) TransactionReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	receipt, err := c.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return nil, &ReadError{Op: "transaction receipt", Err: err}
	}
	return receipt, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}
