package service

import (
	"fmt"

	"github.com/emrantusho/the-final-studio/infra/storage"
	"github.com/emrantusho/the-final-studio/pkg/cryptox"
)

// CredentialService stores provider API keys encrypted under the operator
// secret. The secret is held in memory only; the table sees ciphertext and
// IV.
type CredentialService struct {
	secret string
	keys   *storage.APIKeyRepository
}

func NewCredentialService(secret string, keys *storage.APIKeyRepository) *CredentialService {
	return &CredentialService{secret: secret, keys: keys}
}

// StoreKey encrypts and upserts a provider key. An empty apiKey deletes the
// stored credential instead.
func (s *CredentialService) StoreKey(providerID, apiKey string) error {
	if apiKey == "" {
		return s.keys.DeleteAPIKey(providerID)
	}
	if s.secret == "" {
		return ErrSecretNotConfigured
	}
	ciphertext, iv, err := cryptox.Encrypt(s.secret, apiKey)
	if err != nil {
		return fmt.Errorf("encrypt api key: %w", err)
	}
	return s.keys.UpsertAPIKey(providerID, ciphertext, iv)
}

// LoadKey decrypts the stored key for a provider. A GCM integrity failure
// propagates as a hard error; corrupted plaintext is never returned.
func (s *CredentialService) LoadKey(providerID string) (string, error) {
	if s.secret == "" {
		return "", ErrSecretNotConfigured
	}
	key, err := s.keys.GetAPIKey(providerID)
	if err != nil {
		return "", err
	}
	plaintext, err := cryptox.Decrypt(s.secret, key.Ciphertext, key.IV)
	if err != nil {
		return "", fmt.Errorf("decrypt api key for %s: %w", providerID, err)
	}
	return plaintext, nil
}

// ListProviders reports which providers have a stored key.
func (s *CredentialService) ListProviders() ([]string, error) {
	return s.keys.ListProviders()
}
