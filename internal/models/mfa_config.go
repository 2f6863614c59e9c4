package models

import (
	"time"

	"github.com/google/uuid"
)

// MFAConfig stores a user's TOTP enrollment. The secret is AES-GCM encrypted
// at rest.
type MFAConfig struct {
	BaseModel
	UserID         uuid.UUID  `json:"userID" gorm:"type:uuid;not null;uniqueIndex"`
	TOTPSecret     string     `json:"-" gorm:"type:text;not null"`
	TOTPEnabled    bool       `json:"totpEnabled" gorm:"not null;default:false"`
	TOTPVerifiedAt *time.Time `json:"totpVerifiedAt,omitempty"`

	User User `json:"-" gorm:"foreignKey:UserID"`
}
