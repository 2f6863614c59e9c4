package models

import "github.com/google/uuid"

type GroupType string

const (
	GroupTypeCommittee GroupType = "committee"
	GroupTypeWorkgroup GroupType = "workgroup"
	GroupTypeBoard     GroupType = "board"
	GroupTypeOrder     GroupType = "order"
)

// AssociationGroup is a committee, workgroup, board or order. Groups act as
// the access-control scope for the committee page collective.
type AssociationGroup struct {
	BaseModel
	Name           string    `json:"name" gorm:"type:varchar(150);not null"`
	ShortName      *string   `json:"shortName,omitempty" gorm:"type:varchar(50)"`
	Type           GroupType `json:"type" gorm:"type:varchar(20);not null;index"`
	Description    *string   `json:"description,omitempty" gorm:"type:text"`
	ContactEmail   *string   `json:"contactEmail,omitempty" gorm:"type:varchar(255)"`
	HomeScreenText *string   `json:"homeScreenText,omitempty" gorm:"type:text"`
	IsPublic       bool      `json:"isPublic" gorm:"not null;default:true"`

	Memberships []AssociationGroupMembership `json:"memberships,omitempty" gorm:"foreignKey:GroupID"`
	Quicklinks  []GroupQuicklink             `json:"quicklinks,omitempty" gorm:"foreignKey:GroupID"`
	Ownerships  []Ownership                  `json:"-" gorm:"foreignKey:GroupID"`
}

type AssociationGroupMembership struct {
	BaseModel
	MemberID uuid.UUID `json:"memberID" gorm:"type:uuid;not null;index;uniqueIndex:idx_member_group"`
	GroupID  uuid.UUID `json:"groupID" gorm:"type:uuid;not null;index;uniqueIndex:idx_member_group"`
	IsAdmin  bool      `json:"isAdmin" gorm:"not null;default:false"`
	Title    *string   `json:"title,omitempty" gorm:"type:varchar(100)"`

	Member Member           `json:"member,omitempty" gorm:"foreignKey:MemberID"`
	Group  AssociationGroup `json:"-" gorm:"foreignKey:GroupID"`
}

// GroupQuicklink is an external resource pinned on a group's page.
type GroupQuicklink struct {
	BaseModel
	GroupID     uuid.UUID `json:"groupID" gorm:"type:uuid;not null;index"`
	Name        string    `json:"name" gorm:"type:varchar(100);not null"`
	URL         string    `json:"url" gorm:"type:text;not null"`
	Description *string   `json:"description,omitempty" gorm:"type:text"`

	Group AssociationGroup `json:"-" gorm:"foreignKey:GroupID"`
}
