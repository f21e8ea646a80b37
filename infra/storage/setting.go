package storage

import (
	"fmt"
	"time"

	"github.com/emrantusho/the-final-studio/infra/database"

	"gorm.io/gorm/clause"
)

type Setting struct {
	Key       string    `json:"key" gorm:"primaryKey;size:255"`
	Value     string    `json:"value" gorm:"type:text;not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Setting) TableName() string {
	return "settings"
}

type SettingRepository struct {
	db *database.PostgresDB
}

func NewSettingRepository(db *database.PostgresDB) *SettingRepository {
	return &SettingRepository{db: db}
}

func (r *SettingRepository) GetAllSettings() (map[string]string, error) {
	var settings []Setting
	if err := r.db.Find(&settings).Error; err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	result := make(map[string]string, len(settings))
	for _, s := range settings {
		result[s.Key] = s.Value
	}
	return result, nil
}

func (r *SettingRepository) GetSetting(key string) (string, bool, error) {
	var setting Setting
	err := r.db.Where("key = ?", key).Limit(1).Find(&setting).Error
	if err != nil {
		return "", false, fmt.Errorf("failed to get setting: %w", err)
	}
	if setting.Key == "" {
		return "", false, nil
	}
	return setting.Value, true, nil
}

func (r *SettingRepository) UpsertSetting(key, value string) error {
	setting := &Setting{Key: key, Value: value}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(setting).Error
	if err != nil {
		return fmt.Errorf("failed to upsert setting: %w", err)
	}
	return nil
}
