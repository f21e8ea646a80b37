package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/emrantusho/the-final-studio/infra/database"

	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is one authenticated browser: an opaque token, the owning user
// and an absolute expiry. A session is valid iff a row exists and
// now < expires_at; expired rows are treated as absent, not eagerly purged.
type Session struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	UserID    uint      `json:"user_id" gorm:"index;not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (Session) TableName() string {
	return "sessions"
}

// Identity is the result of a successful session lookup, joined from the
// user table.
type Identity struct {
	UserID   uint   `json:"id"`
	Username string `json:"username"`
}

type SessionRepository struct {
	db *database.PostgresDB
}

func NewSessionRepository(db *database.PostgresDB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) CreateSession(token string, userID uint, expiresAt time.Time) (*Session, error) {
	session := &Session{
		ID:        token,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}
	if err := r.db.Create(session).Error; err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// GetValidSession resolves a token to the owning identity in one query. The
// expiry predicate is evaluated on every call; validity is never cached.
func (r *SessionRepository) GetValidSession(token string, now time.Time) (*Identity, error) {
	var identity Identity
	err := r.db.Table("sessions").
		Select("sessions.user_id AS user_id, users.username AS username").
		Joins("JOIN users ON users.id = sessions.user_id").
		Where("sessions.id = ? AND sessions.expires_at > ?", token, now).
		Take(&identity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &identity, nil
}

// DeleteSession removes the session row if present. Deleting an unknown
// token is not an error.
func (r *SessionRepository) DeleteSession(token string) error {
	if err := r.db.Where("id = ?", token).Delete(&Session{}).Error; err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
