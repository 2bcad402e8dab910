package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session is the server-side record backing a bearer token. Only the SHA-256
// digest of the token is persisted.
type Session struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID    string    `gorm:"type:uuid;not null;index" json:"userId"`
	User      *User     `gorm:"foreignKey:UserID" json:"-"`
	TokenHash string    `gorm:"uniqueIndex;size:64;not null" json:"-"`
	IPAddress string    `gorm:"size:64" json:"ipAddress"`
	UserAgent string    `gorm:"size:512" json:"userAgent"`
	ExpiresAt time.Time `gorm:"index" json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
