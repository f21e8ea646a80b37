package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/emrantusho/the-final-studio/infra/database"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrAPIKeyNotFound = errors.New("api key not found")

// APIKey stores a provider credential encrypted at rest. Only the
// ciphertext and the (non-secret) IV are persisted; the passphrase that
// derives the encryption key lives in config, never in this table.
type APIKey struct {
	ProviderID string    `json:"provider_id" gorm:"primaryKey;size:255"`
	Ciphertext string    `json:"-" gorm:"type:text;not null"`
	IV         string    `json:"-" gorm:"size:64;not null"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (APIKey) TableName() string {
	return "api_keys"
}

type APIKeyRepository struct {
	db *database.PostgresDB
}

func NewAPIKeyRepository(db *database.PostgresDB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) UpsertAPIKey(providerID, ciphertext, iv string) error {
	key := &APIKey{ProviderID: providerID, Ciphertext: ciphertext, IV: iv}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"ciphertext", "iv", "updated_at"}),
	}).Create(key).Error
	if err != nil {
		return fmt.Errorf("failed to upsert api key: %w", err)
	}
	return nil
}

func (r *APIKeyRepository) GetAPIKey(providerID string) (*APIKey, error) {
	var key APIKey
	if err := r.db.Where("provider_id = ?", providerID).First(&key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return &key, nil
}

func (r *APIKeyRepository) DeleteAPIKey(providerID string) error {
	if err := r.db.Where("provider_id = ?", providerID).Delete(&APIKey{}).Error; err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	return nil
}

// ListProviders returns the provider ids that currently have a stored key.
// Ciphertext is never returned to callers of the admin API.
func (r *APIKeyRepository) ListProviders() ([]string, error) {
	var providers []string
	if err := r.db.Model(&APIKey{}).Order("provider_id").Pluck("provider_id", &providers).Error; err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return providers, nil
}
