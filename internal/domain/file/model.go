// Package file defines the data-registry file record tracked by the proof
// pipeline.
package file

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle stage of a file record. It only advances forward
// through New -> ProofGenerated -> Pending -> Confirmed/Failed; a failed
// record is reset to an earlier stage only by operator action.
type Status string

const (
	StatusNew            Status = "new"
	StatusProofGenerated Status = "proof_generated"
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusFailed         Status = "failed"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusProofGenerated, StatusPending, StatusConfirmed, StatusFailed:
		return true
	}
	return false
}

// Record is one unit of contributed data registered on-chain. Records are
// created by ingestion when a FileAdded event is observed and are mutated by
// the orchestrator at each stage transition; they are never deleted.
type Record struct {
	ID               string
	BlockchainFileID uint64
	URL              string
	OwnerAddress     string
	OwnerPublicID    string
	Status           Status
	Proof            json.RawMessage // compact contract-ready proof
	VerboseProof     json.RawMessage // full signed proof document
	ProofTxn         string
	TxnHash          string // registration transaction observed at ingestion
	RelayURL         string
	IsOnchain        bool
	FailureReason    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
