package services

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/squire/backend/internal/models"
	"github.com/teambition/rrule-go"
	"gorm.io/gorm"
)

// Occurrence is one resolved calendar entry: a pattern occurrence merged with
// its persisted moment override, or an extra moment outside the pattern.
type Occurrence struct {
	ActivityID   uuid.UUID           `json:"activityID"`
	MomentID     *uuid.UUID          `json:"momentID,omitempty"`
	RecurrenceID time.Time           `json:"recurrenceID"`
	Title        string              `json:"title"`
	Description  *string             `json:"description,omitempty"`
	Location     *string             `json:"location,omitempty"`
	Start        time.Time           `json:"start"`
	End          time.Time           `json:"end"`
	Cancelled    bool                `json:"cancelled"`
	Type         models.ActivityType `json:"type"`
}

type CalendarService struct {
	DB *gorm.DB
}

func NewCalendarService(db *gorm.DB) *CalendarService {
	return &CalendarService{DB: db}
}

// PatternOccurrences expands the activity's recurrence rule between the
// bounds (inclusive). An empty rule yields the start date if it falls inside.
func (s *CalendarService) PatternOccurrences(activity *models.Activity, from, to time.Time) ([]time.Time, error) {
	if activity.RecurrenceRule == "" {
		if !activity.StartDate.Before(from) && !activity.StartDate.After(to) {
			return []time.Time{activity.StartDate}, nil
		}
		return nil, nil
	}

	rule, err := rrule.StrToRRule(strings.TrimPrefix(activity.RecurrenceRule, "RRULE:"))
	if err != nil {
		return nil, err
	}
	rule.DTStart(activity.StartDate)
	return rule.Between(from, to, true), nil
}

// OccurrencesBetween resolves the activity's calendar entries in the window:
// pattern occurrences with overrides applied, plus extra moments pinned
// outside the pattern. Cancelled moments stay in the list flagged as such.
func (s *CalendarService) OccurrencesBetween(activity *models.Activity, from, to time.Time) ([]Occurrence, error) {
	times, err := s.PatternOccurrences(activity, from, to)
	if err != nil {
		return nil, err
	}

	var moments []models.ActivityMoment
	if err := s.DB.
		Where("activity_id = ? AND recurrence_id >= ? AND recurrence_id <= ?", activity.ID, from, to).
		Find(&moments).Error; err != nil {
		return nil, err
	}

	byRecurrence := make(map[time.Time]*models.ActivityMoment, len(moments))
	for i := range moments {
		byRecurrence[moments[i].RecurrenceID.UTC()] = &moments[i]
	}

	duration := activity.EndDate.Sub(activity.StartDate)

	occurrences := make([]Occurrence, 0, len(times))
	seen := make(map[time.Time]bool, len(times))
	for _, t := range times {
		seen[t.UTC()] = true
		occurrences = append(occurrences, buildOccurrence(activity, byRecurrence[t.UTC()], t, duration))
	}

	// Extra moments added outside the recurrence pattern.
	for i := range moments {
		if !seen[moments[i].RecurrenceID.UTC()] {
			occurrences = append(occurrences, buildOccurrence(activity, &moments[i], moments[i].RecurrenceID, duration))
		}
	}

	sort.Slice(occurrences, func(i, j int) bool {
		return occurrences[i].Start.Before(occurrences[j].Start)
	})
	return occurrences, nil
}

func buildOccurrence(activity *models.Activity, moment *models.ActivityMoment, start time.Time, duration time.Duration) Occurrence {
	occ := Occurrence{
		ActivityID:   activity.ID,
		RecurrenceID: start,
		Title:        activity.Title,
		Description:  activity.Description,
		Location:     activity.Location,
		Start:        start,
		End:          start.Add(duration),
		Type:         activity.Type,
	}

	if moment != nil {
		occ.MomentID = &moment.ID
		occ.Cancelled = moment.Status == models.MomentStatusCancelled
		if moment.LocalTitle != nil && *moment.LocalTitle != "" {
			occ.Title = *moment.LocalTitle
		}
		if moment.LocalDescription != nil {
			occ.Description = moment.LocalDescription
		}
		if moment.LocalLocation != nil {
			occ.Location = moment.LocalLocation
		}
	}
	return occ
}

// EnsureMeetingActivity returns the group's meeting series, creating it on
// first use. Meetings are explicit moments under this activity.
func (s *CalendarService) EnsureMeetingActivity(group *models.AssociationGroup) (*models.Activity, error) {
	var activity models.Activity
	err := s.DB.
		Joins("JOIN organiser_links ON organiser_links.activity_id = activities.id").
		Where("organiser_links.group_id = ? AND organiser_links.archived = ?", group.ID, false).
		Where("activities.type = ?", models.ActivityTypeMeeting).
		First(&activity).Error
	if err == nil {
		return &activity, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Hour)
	activity = models.Activity{
		Title:           group.Name + " meeting",
		Type:            models.ActivityTypeMeeting,
		StartDate:       now,
		EndDate:         now.Add(2 * time.Hour),
		MaxParticipants: -1,
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&activity).Error; err != nil {
			return err
		}
		link := models.OrganiserLink{ActivityID: activity.ID, GroupID: group.ID}
		return tx.Create(&link).Error
	})
	if err != nil {
		return nil, err
	}
	return &activity, nil
}

// UpcomingMeetings lists the group's future meeting moments in order.
func (s *CalendarService) UpcomingMeetings(group *models.AssociationGroup, limit int) ([]models.ActivityMoment, error) {
	activity, err := s.EnsureMeetingActivity(group)
	if err != nil {
		return nil, err
	}

	var moments []models.ActivityMoment
	query := s.DB.
		Preload("Activity").
		Where("activity_id = ? AND recurrence_id >= ?", activity.ID, time.Now().UTC()).
		Order("recurrence_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&moments).Error; err != nil {
		return nil, err
	}
	return moments, nil
}
