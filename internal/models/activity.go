package models

import (
	"time"

	"github.com/google/uuid"
)

type ActivityType string

const (
	ActivityTypePublic  ActivityType = "activity"
	ActivityTypeMeeting ActivityType = "meeting"
)

// Activity is a (possibly recurring) calendar event. RecurrenceRule holds an
// iCalendar RRULE string; an empty rule means a single occurrence at StartDate.
type Activity struct {
	BaseModel
	Title           string       `json:"title" gorm:"type:varchar(255);not null"`
	Description     *string      `json:"description,omitempty" gorm:"type:text"`
	Location        *string      `json:"location,omitempty" gorm:"type:varchar(255)"`
	Type            ActivityType `json:"type" gorm:"type:varchar(20);not null;default:'activity';index"`
	StartDate       time.Time    `json:"startDate" gorm:"not null"`
	EndDate         time.Time    `json:"endDate" gorm:"not null"`
	RecurrenceRule  string       `json:"recurrenceRule" gorm:"type:text;not null;default:''"`
	MaxParticipants int          `json:"maxParticipants" gorm:"not null;default:-1"` // -1 = unbounded

	Moments        []ActivityMoment `json:"-" gorm:"foreignKey:ActivityID"`
	OrganiserLinks []OrganiserLink  `json:"-" gorm:"foreignKey:ActivityID"`
}

type MomentStatus string

const (
	MomentStatusNormal    MomentStatus = "normal"
	MomentStatusCancelled MomentStatus = "cancelled"
)

// ActivityMoment pins down one occurrence of an activity. RecurrenceID is the
// occurrence start time in the parent's recurrence pattern; a moment may also
// exist outside the pattern (an extra occurrence). Local* fields override the
// parent's values when set.
type ActivityMoment struct {
	BaseModel
	ActivityID   uuid.UUID `json:"activityID" gorm:"type:uuid;not null;index;uniqueIndex:idx_activity_recurrence"`
	RecurrenceID time.Time `json:"recurrenceID" gorm:"not null;uniqueIndex:idx_activity_recurrence"`

	LocalTitle       *string      `json:"localTitle,omitempty" gorm:"type:varchar(255)"`
	LocalDescription *string      `json:"localDescription,omitempty" gorm:"type:text"`
	LocalLocation    *string      `json:"localLocation,omitempty" gorm:"type:varchar(255)"`
	Status           MomentStatus `json:"status" gorm:"type:varchar(20);not null;default:'normal'"`

	Activity Activity       `json:"-" gorm:"foreignKey:ActivityID"`
	Slots    []ActivitySlot `json:"slots,omitempty" gorm:"foreignKey:MomentID"`
}

// EffectiveTitle resolves the occurrence title, falling back to the parent.
func (m *ActivityMoment) EffectiveTitle() string {
	if m.LocalTitle != nil && *m.LocalTitle != "" {
		return *m.LocalTitle
	}
	return m.Activity.Title
}

// ActivitySlot is a sign-up slot under one activity occurrence. The legacy
// activity/recurrence columns remain nullable so rows predating the moment
// link can be backfilled at startup.
type ActivitySlot struct {
	BaseModel
	MomentID *uuid.UUID `json:"momentID,omitempty" gorm:"type:uuid;index"`
	Title    string     `json:"title" gorm:"type:varchar(255);not null"`
	MaxUsers int        `json:"maxUsers" gorm:"not null;default:-1"` // -1 = unbounded

	LegacyActivityID   *uuid.UUID `json:"-" gorm:"type:uuid"`
	LegacyRecurrenceID *time.Time `json:"-"`

	Moment       *ActivityMoment `json:"-" gorm:"foreignKey:MomentID"`
	Participants []Participant   `json:"participants,omitempty" gorm:"foreignKey:SlotID"`
}

type Participant struct {
	BaseModel
	SlotID   uuid.UUID `json:"slotID" gorm:"type:uuid;not null;index;uniqueIndex:idx_slot_member"`
	MemberID uuid.UUID `json:"memberID" gorm:"type:uuid;not null;index;uniqueIndex:idx_slot_member"`

	Slot   ActivitySlot `json:"-" gorm:"foreignKey:SlotID"`
	Member Member       `json:"member,omitempty" gorm:"foreignKey:MemberID"`
}

// OrganiserLink connects an association group to an activity it organises.
// Archived links keep history without showing up on the group's pages.
type OrganiserLink struct {
	BaseModel
	ActivityID uuid.UUID `json:"activityID" gorm:"type:uuid;not null;index;uniqueIndex:idx_activity_group"`
	GroupID    uuid.UUID `json:"groupID" gorm:"type:uuid;not null;index;uniqueIndex:idx_activity_group"`
	Archived   bool      `json:"archived" gorm:"not null;default:false"`

	Activity Activity         `json:"activity,omitempty" gorm:"foreignKey:ActivityID"`
	Group    AssociationGroup `json:"-" gorm:"foreignKey:GroupID"`
}
