package proof

import (
	"bytes"
	"strings"
	"testing"
)

// Well-known throwaway development key; address 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266.
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
const testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func testProof(t *testing.T) SignedProof {
	t.Helper()
	builder := NewBuilder(BuilderConfig{
		DLPID:          14,
		EncryptionSeed: "seed",
		ProverAddress:  testAddress,
		ProverURL:      "https://prover.example.com",
	})

	p, err := builder.Build(FileDetails{
		FileID:       42,
		URL:          "https://storage.example.com/contributions/42.json",
		OwnerAddress: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		Bytes:        []byte(`{"id":"contributor-1","status":200}`),
	}, 0.95, true)
	if err != nil {
		t.Fatalf("build proof: %v", err)
	}
	return p
}

func TestCanonicalSignedFieldsKeyOrder(t *testing.T) {
	p := testProof(t)

	data, err := CanonicalSignedFields(p.SignedFields)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	// Key order is authored, not alphabetical; it is part of the signed
	// message.
	ordered := []string{
		`"subject"`, `"file_id"`, `"url"`, `"owner_address"`,
		`"decrypted_file_checksum"`, `"encrypted_file_checksum"`, `"encryption_seed"`,
		`"prover"`, `"type"`, `"address"`,
		`"proof"`, `"image_url"`, `"created_at"`, `"duration"`, `"dlp_id"`,
		`"score"`, `"valid"`, `"authenticity"`, `"ownership"`, `"quality"`,
		`"uniqueness"`, `"attributes"`, `"metadata"`,
	}
	pos := -1
	for _, key := range ordered {
		idx := bytes.Index(data, []byte(key))
		if idx < 0 {
			t.Fatalf("key %s missing from canonical form", key)
		}
		if idx < pos {
			t.Fatalf("key %s out of order in canonical form:\n%s", key, data)
		}
		pos = idx
	}

	if bytes.HasSuffix(data, []byte("\n")) {
		t.Fatal("canonical form must not carry a trailing newline")
	}
	if bytes.Contains(data, []byte(`&`)) || bytes.Contains(data, []byte(`<`)) {
		t.Fatal("canonical form must not HTML-escape")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	signed, err := Sign(testProof(t), testKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !strings.HasPrefix(signed.Signature, "0x") || len(signed.Signature) != 132 {
		t.Fatalf("unexpected signature format %q", signed.Signature)
	}

	if !Verify(signed) {
		t.Fatal("signature did not verify against prover address")
	}

	// Any change to the signed fields must invalidate the signature.
	tampered := signed
	tampered.SignedFields.Proof.Score = 0.1
	if Verify(tampered) {
		t.Fatal("tampered proof verified")
	}

	wrongProver := signed
	wrongProver.SignedFields.Prover.Address = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	if Verify(wrongProver) {
		t.Fatal("proof verified against wrong prover address")
	}
}

func TestSignRejectsBadKey(t *testing.T) {
	if _, err := Sign(testProof(t), "not-a-key"); err == nil {
		t.Fatal("expected error for malformed key")
	}
}

func TestSignerAddress(t *testing.T) {
	addr, err := SignerAddress("0x" + testKey)
	if err != nil {
		t.Fatalf("derive address: %v", err)
	}
	if !strings.EqualFold(addr, testAddress) {
		t.Fatalf("address = %s, want %s", addr, testAddress)
	}
}

func TestBuildChecksums(t *testing.T) {
	builder := NewBuilder(BuilderConfig{DLPID: 14, ProverAddress: testAddress, ProverURL: "https://prover.example.com"})

	withBytes, err := builder.Build(FileDetails{FileID: 1, Bytes: []byte("payload")}, 1, true)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	again, err := builder.Build(FileDetails{FileID: 1, Bytes: []byte("payload")}, 1, true)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if withBytes.SignedFields.Subject.DecryptedFileChecksum != again.SignedFields.Subject.DecryptedFileChecksum {
		t.Fatal("decrypted checksum must be deterministic for the same bytes")
	}

	placeholder, err := builder.Build(FileDetails{FileID: 1}, 1, true)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(placeholder.SignedFields.Subject.DecryptedFileChecksum) != 64 {
		t.Fatalf("placeholder checksum length = %d, want 64 hex chars",
			len(placeholder.SignedFields.Subject.DecryptedFileChecksum))
	}
}

func TestBuildSubScoresMirrorScore(t *testing.T) {
	p := testProof(t)
	d := p.SignedFields.Proof
	for name, got := range map[string]float64{
		"authenticity": d.Authenticity,
		"ownership":    d.Ownership,
		"quality":      d.Quality,
		"uniqueness":   d.Uniqueness,
	} {
		if got != d.Score {
			t.Errorf("%s = %v, want %v", name, got, d.Score)
		}
	}
	if d.Attributes == nil {
		t.Fatal("attributes must serialize as an object, not null")
	}
}
