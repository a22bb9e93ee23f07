package proof

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrSigning is returned when the prover key is malformed or the signature
// cannot be produced.
var ErrSigning = errors.New("proof signing failed")

// Sign signs the canonical serialization of the proof's signed fields with
// the prover's private key using the EIP-191 personal-message scheme and
// returns a copy of the proof carrying the hex signature.
func Sign(p SignedProof, privateKeyHex string) (SignedProof, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return SignedProof{}, fmt.Errorf("%w: parse key: %v", ErrSigning, err)
	}

	message, err := CanonicalSignedFields(p.SignedFields)
	if err != nil {
		return SignedProof{}, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	sig, err := crypto.Sign(accounts.TextHash(message), key)
	if err != nil {
		return SignedProof{}, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	// Shift the recovery id to the 27/28 convention used by wallet
	// signatures so the on-chain verifier accepts it.
	sig[crypto.RecoveryIDOffset] += 27

	p.Signature = "0x" + hex.EncodeToString(sig)
	return p, nil
}

// Verify recovers the signing address from the proof's canonical signed
// fields and compares it case-insensitively with the prover address.
// Verification failures return false, never an error.
func Verify(p SignedProof) bool {
	sig, err := hex.DecodeString(strings.TrimPrefix(p.Signature, "0x"))
	if err != nil || len(sig) != crypto.SignatureLength {
		return false
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}

	message, err := CanonicalSignedFields(p.SignedFields)
	if err != nil {
		return false
	}

	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return false
	}

	recovered := crypto.PubkeyToAddress(*pub).Hex()
	return strings.EqualFold(recovered, p.SignedFields.Prover.Address)
}

// SignerAddress derives the checksummed address for a hex private key.
func SignerAddress(privateKeyHex string) (string, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("%w: parse key: %v", ErrSigning, err)
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}
