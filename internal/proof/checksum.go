package proof

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Checksums holds the two file digests carried in a proof subject.
type Checksums struct {
	Decrypted string
	Encrypted string
}

// GenerateChecksums hashes the raw payload and a placeholder-encrypted copy
// of it. The encryption uses a throwaway random key and IV: the encrypted
// checksum proves nothing about any real ciphertext, it only fills the slot
// the contract schema expects.
func GenerateChecksums(data []byte) (Checksums, error) {
	decrypted := sha256.Sum256(data)

	key := make([]byte, 32)
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(key); err != nil {
		return Checksums{}, fmt.Errorf("generate key: %w", err)
	}
	if _, err := rand.Read(iv); err != nil {
		return Checksums{}, fmt.Errorf("generate iv: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return Checksums{}, fmt.Errorf("init cipher: %w", err)
	}

	padded := pkcs7Pad(data, aes.BlockSize)
	encrypted := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(encrypted, padded)
	encryptedSum := sha256.Sum256(encrypted)

	return Checksums{
		Decrypted: hex.EncodeToString(decrypted[:]),
		Encrypted: hex.EncodeToString(encryptedSum[:]),
	}, nil
}

// PlaceholderChecksums returns random 32-byte hex values for proofs built
// without the file payload. They are explicitly not cryptographically
// meaningful.
func PlaceholderChecksums() (Checksums, error) {
	decrypted := make([]byte, 32)
	encrypted := make([]byte, 32)
	if _, err := rand.Read(decrypted); err != nil {
		return Checksums{}, fmt.Errorf("generate placeholder: %w", err)
	}
	if _, err := rand.Read(encrypted); err != nil {
		return Checksums{}, fmt.Errorf("generate placeholder: %w", err)
	}
	return Checksums{
		Decrypted: hex.EncodeToString(decrypted),
		Encrypted: hex.EncodeToString(encrypted),
	}, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padding)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padding)
	}
	return padded
}
