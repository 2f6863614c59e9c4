package models

import "github.com/google/uuid"

// Member is the association's administrative record of a person. It exists
// independently of a login: the board registers members first, and a member
// later claims their record through a registration link, which sets UserID.
type Member struct {
	BaseModel
	FirstName string  `json:"firstName" gorm:"type:varchar(100);not null"`
	LastName  string  `json:"lastName" gorm:"type:varchar(100);not null"`
	Email     string  `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	Phone     *string `json:"phone,omitempty" gorm:"type:varchar(30)"`

	UserID *uuid.UUID `json:"userID,omitempty" gorm:"type:uuid;uniqueIndex"`
	User   *User      `json:"-" gorm:"foreignKey:UserID"`

	IsDeregistered bool `json:"isDeregistered" gorm:"not null;default:false;index"`

	GroupMemberships []AssociationGroupMembership `json:"-" gorm:"foreignKey:MemberID"`
	Ownerships       []Ownership                  `json:"-" gorm:"foreignKey:MemberID"`
}

// TokenFields lists the values a registration-link token is bound to. Linking
// the record to a user (or changing its email) invalidates outstanding links.
func (m *Member) TokenFields() []string {
	linkedTo := ""
	if m.UserID != nil {
		linkedTo = m.UserID.String()
	}
	return []string{m.ID.String(), m.Email, linkedTo}
}
