// Package cryptox encrypts provider API keys at rest. A PBKDF2-derived
// AES-256-GCM key is rebuilt from the operator secret on every call;
// ciphertext and IV travel hex-encoded so they can live in text columns.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// keySalt is application-wide and fixed. Deterministic key material per
	// secret is acceptable here: the secret is a high-entropy operator-held
	// value, not user-supplied.
	keySalt    = "studio-salt"
	iterations = 100_000
	keyLen     = 32
	ivLen      = 12
)

// DeriveKey turns the operator secret into a 256-bit AES key.
func DeriveKey(secret string) []byte {
	return pbkdf2.Key([]byte(secret), []byte(keySalt), iterations, keyLen, sha256.New)
}

// Encrypt seals plaintext under the key derived from secret. A fresh
// 96-bit IV is generated per call and returned alongside the ciphertext;
// both are hex-encoded. The IV is not secret and must be stored with the
// ciphertext.
func Encrypt(secret, plaintext string) (ciphertextHex, ivHex string, err error) {
	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return "", "", fmt.Errorf("generate iv: %w", err)
	}

	aesgcm, err := newGCM(secret)
	if err != nil {
		return "", "", err
	}

	ciphertext := aesgcm.Seal(nil, iv, []byte(plaintext), nil)
	return hex.EncodeToString(ciphertext), hex.EncodeToString(iv), nil
}

// Decrypt reverses Encrypt. Any mismatch in secret, ciphertext or IV fails
// the GCM integrity check and returns an error; corrupted plaintext is
// never returned.
func Decrypt(secret, ciphertextHex, ivHex string) (string, error) {
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", fmt.Errorf("decode iv: %w", err)
	}

	aesgcm, err := newGCM(secret)
	if err != nil {
		return "", err
	}

	plaintext, err := aesgcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(secret string) (cipher.AEAD, error) {
	block, err := aes.NewCipher(DeriveKey(secret))
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return aesgcm, nil
}
