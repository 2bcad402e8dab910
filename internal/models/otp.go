package models

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// OTPChannel names the medium a code is delivered over.
type OTPChannel string

const (
	OTPChannelEmail OTPChannel = "email"
	OTPChannelPhone OTPChannel = "phone"
)

// Valid reports whether c is a supported channel.
func (c OTPChannel) Valid() bool {
	return c == OTPChannelEmail || c == OTPChannelPhone
}

// OTPPurpose scopes a code to the flow it was issued for.
type OTPPurpose string

const (
	OTPPurposeLogin    OTPPurpose = "login"
	OTPPurposeRegister OTPPurpose = "register"
	OTPPurposeReset    OTPPurpose = "reset"
)

// Valid reports whether p is a supported purpose.
func (p OTPPurpose) Valid() bool {
	switch p {
	case OTPPurposeLogin, OTPPurposeRegister, OTPPurposeReset:
		return true
	default:
		return false
	}
}

// OTPRecord stores one issued code. Exactly one of Email or Phone is set,
// matching Channel. Records only ever move from unused to used.
type OTPRecord struct {
	ID        string     `gorm:"primaryKey;size:26" json:"id"`
	Email     *string    `gorm:"index;size:255" json:"email,omitempty"`
	Phone     *string    `gorm:"index;size:32" json:"phone,omitempty"`
	Code      string     `gorm:"size:6;not null" json:"-"`
	Channel   OTPChannel `gorm:"size:16;not null" json:"channel"`
	Purpose   OTPPurpose `gorm:"size:16;not null;index" json:"purpose"`
	IsUsed    bool       `gorm:"not null;default:false" json:"isUsed"`
	ExpiresAt time.Time  `gorm:"index;not null" json:"expiresAt"`
	CreatedAt time.Time  `gorm:"index" json:"createdAt"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
}

// TableName keeps the short table name used by the cleanup queries.
func (OTPRecord) TableName() string {
	return "otps"
}

func (o *OTPRecord) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		stamp := o.CreatedAt
		if stamp.IsZero() {
			stamp = time.Now()
		}
		o.ID = NewOTPID(stamp)
	}
	return nil
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewOTPID returns a ULID for t. IDs minted within the same millisecond are
// strictly increasing, so ordering by id breaks created_at ties.
func NewOTPID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
