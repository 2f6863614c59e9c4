package models

import (
	"time"

	"github.com/google/uuid"
)

// LinkedAccount records an external OAuth identity attached to a user.
type LinkedAccount struct {
	BaseModel
	UserID         uuid.UUID `json:"userID" gorm:"type:uuid;not null;index;uniqueIndex:idx_user_provider"`
	Provider       string    `json:"provider" gorm:"type:varchar(30);not null;uniqueIndex:idx_user_provider"`
	ProviderUserID string    `json:"providerUserID" gorm:"type:varchar(255);not null"`
	Email          string    `json:"email" gorm:"type:varchar(255);not null"`
	LinkedAt       time.Time `json:"linkedAt" gorm:"not null"`

	User User `json:"-" gorm:"foreignKey:UserID"`
}
