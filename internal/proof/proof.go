// Package proof builds, signs and verifies the attestation binding a file,
// its checksums and a contributor score to a prover identity.
package proof

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"
)

// Field order in these structs is part of the signed message: the canonical
// serialization keeps declaration order, and the signature is computed over
// those exact bytes. Do not reorder.

// Subject describes the file under attestation.
type Subject struct {
	FileID                uint64 `json:"file_id"`
	URL                   string `json:"url"`
	OwnerAddress          string `json:"owner_address"`
	DecryptedFileChecksum string `json:"decrypted_file_checksum"`
	EncryptedFileChecksum string `json:"encrypted_file_checksum"`
	EncryptionSeed        string `json:"encryption_seed"`
}

// Prover identifies the signing party.
type Prover struct {
	Type    string `json:"type"`
	Address string `json:"address"`
	URL     string `json:"url"`
}

// Metadata is the nested metadata object inside proof details.
type Metadata struct {
	DLPID int64 `json:"dlp_id"`
}

// Details carries the score and its sub-scores. Scores are 0-1 fractions.
type Details struct {
	ImageURL     string                 `json:"image_url"`
	CreatedAt    int64                  `json:"created_at"`
	Duration     float64                `json:"duration"`
	DLPID        int64                  `json:"dlp_id"`
	Score        float64                `json:"score"`
	Valid        bool                   `json:"valid"`
	Authenticity float64                `json:"authenticity"`
	Ownership    float64                `json:"ownership"`
	Quality      float64                `json:"quality"`
	Uniqueness   float64                `json:"uniqueness"`
	Attributes   map[string]interface{} `json:"attributes"`
	Metadata     Metadata               `json:"metadata"`
}

// SignedFields is the signed portion of a proof.
type SignedFields struct {
	Subject Subject `json:"subject"`
	Prover  Prover  `json:"prover"`
	Proof   Details `json:"proof"`
}

// SignedProof is the full attestation. Signature is empty until Sign is
// called; a signed proof is immutable and only superseded by regenerating.
type SignedProof struct {
	SignedFields SignedFields `json:"signed_fields"`
	Signature    string       `json:"signature"`
}

// CanonicalSignedFields serializes the signed fields to the exact byte
// sequence covered by the signature: compact JSON, declaration key order,
// no HTML escaping.
func CanonicalSignedFields(fields SignedFields) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		return nil, fmt.Errorf("serialize signed fields: %w", err)
	}
	// Encoder appends a newline that is not part of the message.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// BuilderConfig configures proof construction.
type BuilderConfig struct {
	DLPID          int64
	EncryptionSeed string
	ProverAddress  string
	ProverURL      string
	ImageURL       string
}

// Builder assembles unsigned proofs.
type Builder struct {
	cfg BuilderConfig
	now func() time.Time
}

// NewBuilder creates a proof builder.
func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.ImageURL == "" {
		cfg.ImageURL = cfg.ProverURL
	}
	return &Builder{cfg: cfg, now: time.Now}
}

// FileDetails identifies the file the proof attests to. Bytes may be nil
// when the payload was not fetched; checksums then fall back to random
// placeholders.
type FileDetails struct {
	FileID       uint64
	URL          string
	OwnerAddress string
	Bytes        []byte
}

// Build assembles an unsigned proof for the file with the given score
// (0-1 fraction). Sub-scores mirror the overall score.
func (b *Builder) Build(fd FileDetails, score float64, valid bool) (SignedProof, error) {
	var checksums Checksums
	var err error
	if fd.Bytes != nil {
		checksums, err = GenerateChecksums(fd.Bytes)
		if err != nil {
			return SignedProof{}, fmt.Errorf("generate checksums: %w", err)
		}
	} else {
		checksums, err = PlaceholderChecksums()
		if err != nil {
			return SignedProof{}, fmt.Errorf("generate placeholder checksums: %w", err)
		}
	}

	return SignedProof{
		SignedFields: SignedFields{
			Subject: Subject{
				FileID:                fd.FileID,
				URL:                   fd.URL,
				OwnerAddress:          fd.OwnerAddress,
				DecryptedFileChecksum: checksums.Decrypted,
				EncryptedFileChecksum: checksums.Encrypted,
				EncryptionSeed:        b.cfg.EncryptionSeed,
			},
			Prover: Prover{
				Type:    "self-signed",
				Address: b.cfg.ProverAddress,
				URL:     b.cfg.ProverURL,
			},
			Proof: Details{
				ImageURL:  b.cfg.ImageURL,
				CreatedAt: b.now().Unix(),
				// Informational only; excluded from byte-exact comparisons.
				Duration:     rand.Float64() * 20,
				DLPID:        b.cfg.DLPID,
				Score:        score,
				Valid:        valid,
				Authenticity: score,
				Ownership:    score,
				Quality:      score,
				Uniqueness:   score,
				Attributes:   map[string]interface{}{},
				Metadata:     Metadata{DLPID: b.cfg.DLPID},
			},
		},
	}, nil
}
