package proof

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
)

// ErrInvalidStructure is returned when a persisted compact proof does not
// match the expected shape.
var ErrInvalidStructure = errors.New("invalid proof structure")

// FormattedProof is the compact contract-call-ready projection of a signed
// proof. It is derived deterministically and never constructed independently.
type FormattedProof struct {
	FileID    uint64        `json:"fileId"`
	Signature string        `json:"signature"`
	Data      FormattedData `json:"data"`
}

// FormattedData carries the addProof call arguments.
type FormattedData struct {
	Score       float64 `json:"score"`
	DLPID       int64   `json:"dlpId"`
	Metadata    string  `json:"metadata"`
	ProofURL    string  `json:"proofUrl"`
	Instruction string  `json:"instruction"`
}

// Format projects a signed proof into its contract-ready form. The proofURL
// points at the endpoint serving the verbose proof document.
func Format(p SignedProof, proofURL string) (FormattedProof, error) {
	details := p.SignedFields.Proof
	metadata, err := json.Marshal(map[string]interface{}{
		"timestamp":  details.CreatedAt,
		"attributes": AttributesFromScore(details.Score),
	})
	if err != nil {
		return FormattedProof{}, fmt.Errorf("marshal proof metadata: %w", err)
	}

	return FormattedProof{
		FileID:    p.SignedFields.Subject.FileID,
		Signature: p.Signature,
		Data: FormattedData{
			Score:       details.Score,
			DLPID:       details.DLPID,
			Metadata:    string(metadata),
			ProofURL:    proofURL,
			Instruction: "",
		},
	}, nil
}

// AttributesFromScore derives the human-readable attribute map embedded in
// the on-chain metadata string.
func AttributesFromScore(score float64) map[string]interface{} {
	return map[string]interface{}{
		"score": score,
		"valid": score >= 0.5,
	}
}

// ParseFormatted validates and decodes a persisted compact proof. The stored
// document may wrap the proof under a top-level "proof" key.
func ParseFormatted(raw json.RawMessage) (FormattedProof, error) {
	if len(raw) == 0 {
		return FormattedProof{}, ErrInvalidStructure
	}

	var wrapper struct {
		Proof json.RawMessage `json:"proof"`
	}
	body := raw
	if err := json.Unmarshal(raw, &wrapper); err == nil && len(wrapper.Proof) > 0 {
		body = wrapper.Proof
	}

	var fp FormattedProof
	if err := json.Unmarshal(body, &fp); err != nil {
		return FormattedProof{}, fmt.Errorf("%w: %v", ErrInvalidStructure, err)
	}
	if fp.Signature == "" || fp.Data.ProofURL == "" {
		return FormattedProof{}, ErrInvalidStructure
	}
	return fp, nil
}

// ScoreToFixedPoint converts a 0-1 fraction score to the 1e18-scaled integer
// used as the contract argument, rounding down. The float multiply matches
// the reference encoding bit for bit.
func ScoreToFixedPoint(score float64) *big.Int {
	scaled := math.Floor(score * 1e18)
	if scaled <= 0 || math.IsNaN(scaled) {
		return big.NewInt(0)
	}
	return new(big.Int).SetUint64(uint64(scaled))
}
