package models

import (
	"time"

	"github.com/google/uuid"
)

// Item is a catalogue entry for something the association keeps in its
// inventory (board games, books, hardware, ...).
type Item struct {
	BaseModel
	Name        string  `json:"name" gorm:"type:varchar(150);not null"`
	Category    string  `json:"category" gorm:"type:varchar(50);not null;index"`
	Description *string `json:"description,omitempty" gorm:"type:text"`

	Ownerships []Ownership `json:"ownerships,omitempty" gorm:"foreignKey:ItemID"`
}

// Ownership links an item to its owner: either a member lending it to the
// association or a group owning it outright. Exactly one of MemberID/GroupID
// is set (enforced by a table check constraint). IsActive means the item is
// currently at the association; an inactive member link means the owner took
// it back home.
type Ownership struct {
	BaseModel
	ItemID   uuid.UUID  `json:"itemID" gorm:"type:uuid;not null;index"`
	MemberID *uuid.UUID `json:"memberID,omitempty" gorm:"type:uuid;index"`
	GroupID  *uuid.UUID `json:"groupID,omitempty" gorm:"type:uuid;index"`

	IsActive bool      `json:"isActive" gorm:"not null;default:true;index"`
	Note     *string   `json:"note,omitempty" gorm:"type:text"`
	AddedAt  time.Time `json:"addedAt" gorm:"not null"`

	Item   Item              `json:"item,omitempty" gorm:"foreignKey:ItemID"`
	Member *Member           `json:"-" gorm:"foreignKey:MemberID"`
	Group  *AssociationGroup `json:"-" gorm:"foreignKey:GroupID"`
}

func (Ownership) TableName() string {
	return "ownerships"
}
