package handlers

import (
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/squire/backend/internal/collective"
	"github.com/squire/backend/internal/middleware"
	"github.com/squire/backend/internal/models"
	"github.com/squire/backend/internal/services"
	"github.com/squire/backend/pkg/logger"
	"github.com/squire/backend/pkg/utils"
	"gorm.io/gorm"
)

// defaultCalendarWindow bounds the expansion when the client sends no range.
const defaultCalendarWindow = 60 * 24 * time.Hour

type CalendarHandler struct {
	DB       *gorm.DB
	Calendar *services.CalendarService
}

func NewCalendarHandler(db *gorm.DB, calendar *services.CalendarService) *CalendarHandler {
	return &CalendarHandler{DB: db, Calendar: calendar}
}

func parseCalendarWindow(c *fiber.Ctx) (time.Time, time.Time, error) {
	from := time.Now().UTC().Truncate(24 * time.Hour)
	to := from.Add(defaultCalendarWindow)

	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, fiber.NewError(fiber.StatusBadRequest, "invalid from timestamp")
		}
		from = parsed.UTC()
		to = from.Add(defaultCalendarWindow)
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, fiber.NewError(fiber.StatusBadRequest, "invalid to timestamp")
		}
		to = parsed.UTC()
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fiber.NewError(fiber.StatusBadRequest, "window end precedes start")
	}
	return from, to, nil
}

// Upcoming expands every public activity in the requested window into a flat,
// chronologically sorted occurrence list.
func (h *CalendarHandler) Upcoming(c *fiber.Ctx) error {
	from, to, err := parseCalendarWindow(c)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	var activities []models.Activity
	if err := h.DB.Where("type = ?", models.ActivityTypePublic).Find(&activities).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading activities")
	}

	occurrences := make([]services.Occurrence, 0)
	for i := range activities {
		occs, err := h.Calendar.OccurrencesBetween(&activities[i], from, to)
		if err != nil {
			logger.Warn("recurrence_expand_failed", map[string]interface{}{
				"activity_id": activities[i].ID.String(),
				"error":       err.Error(),
			})
			continue
		}
		occurrences = append(occurrences, occs...)
	}

	sort.Slice(occurrences, func(i, j int) bool {
		return occurrences[i].Start.Before(occurrences[j].Start)
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"from":        from,
		"to":          to,
		"occurrences": occurrences,
	})
}

// GetActivity returns one activity with its occurrences in the window and the
// groups organising it.
func (h *CalendarHandler) GetActivity(c *fiber.Ctx) error {
	activityID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid activity id")
	}

	var activity models.Activity
	if err := h.DB.First(&activity, "id = ?", activityID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.Error(c, fiber.StatusNotFound, "activity not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading activity")
	}

	from, to, err := parseCalendarWindow(c)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	occurrences, err := h.Calendar.OccurrencesBetween(&activity, from, to)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed expanding recurrence")
	}

	var organisers []models.OrganiserLink
	if err := h.DB.Preload("Group").
		Where("activity_id = ? AND archived = ?", activity.ID, false).
		Find(&organisers).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading organisers")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"activity":    activity,
		"occurrences": occurrences,
		"organisers":  organisers,
	})
}

type createActivityRequest struct {
	Title           string    `json:"title"`
	Description     *string   `json:"description"`
	Location        *string   `json:"location"`
	StartDate       time.Time `json:"startDate"`
	EndDate         time.Time `json:"endDate"`
	RecurrenceRule  string    `json:"recurrenceRule"`
	MaxParticipants *int      `json:"maxParticipants"`
	OrganiserGroup  *string   `json:"organiserGroupID"`
}

// CreateActivity is admin-only. A recurrence rule is validated by expanding it
// once before the row is written.
func (h *CalendarHandler) CreateActivity(c *fiber.Ctx) error {
	var req createActivityRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return utils.Error(c, fiber.StatusBadRequest, "title is required")
	}
	if req.StartDate.IsZero() || req.EndDate.IsZero() || req.EndDate.Before(req.StartDate) {
		return utils.Error(c, fiber.StatusBadRequest, "invalid start or end date")
	}

	activity := models.Activity{
		Title:           req.Title,
		Description:     req.Description,
		Location:        req.Location,
		Type:            models.ActivityTypePublic,
		StartDate:       req.StartDate.UTC(),
		EndDate:         req.EndDate.UTC(),
		RecurrenceRule:  strings.TrimSpace(req.RecurrenceRule),
		MaxParticipants: -1,
	}
	if req.MaxParticipants != nil {
		activity.MaxParticipants = *req.MaxParticipants
	}

	if activity.RecurrenceRule != "" {
		if _, err := h.Calendar.PatternOccurrences(&activity, activity.StartDate, activity.StartDate.Add(24*time.Hour)); err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid recurrence rule")
		}
	}

	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&activity).Error; err != nil {
			return err
		}
		if req.OrganiserGroup != nil {
			groupID, err := parseUUID(*req.OrganiserGroup)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid organiser group id")
			}
			link := models.OrganiserLink{ActivityID: activity.ID, GroupID: groupID}
			if err := tx.Create(&link).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if fe, ok := err.(*fiber.Error); ok {
			return utils.Error(c, fe.Code, fe.Message)
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating activity")
	}

	logger.Info("activity_created", map[string]interface{}{
		"activity_id": activity.ID.String(),
		"title":       activity.Title,
	})

	return utils.Success(c, fiber.StatusCreated, activity)
}

type createMomentRequest struct {
	RecurrenceID     time.Time `json:"recurrenceID"`
	LocalTitle       *string   `json:"localTitle"`
	LocalDescription *string   `json:"localDescription"`
	LocalLocation    *string   `json:"localLocation"`
}

// CreateMoment pins an occurrence down, either to override a pattern
// occurrence or to add an extra one outside the pattern (admin only).
func (h *CalendarHandler) CreateMoment(c *fiber.Ctx) error {
	activityID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid activity id")
	}

	var req createMomentRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.RecurrenceID.IsZero() {
		return utils.Error(c, fiber.StatusBadRequest, "recurrenceID is required")
	}

	var activity models.Activity
	if err := h.DB.First(&activity, "id = ?", activityID).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "activity not found")
	}

	moment := models.ActivityMoment{
		ActivityID:       activity.ID,
		RecurrenceID:     req.RecurrenceID.UTC(),
		LocalTitle:       req.LocalTitle,
		LocalDescription: req.LocalDescription,
		LocalLocation:    req.LocalLocation,
		Status:           models.MomentStatusNormal,
	}
	if err := h.DB.Create(&moment).Error; err != nil {
		return utils.Error(c, fiber.StatusConflict, "a moment already exists for this occurrence")
	}

	return utils.Success(c, fiber.StatusCreated, moment)
}

type updateMomentRequest struct {
	LocalTitle       *string `json:"localTitle"`
	LocalDescription *string `json:"localDescription"`
	LocalLocation    *string `json:"localLocation"`
}

func (h *CalendarHandler) UpdateMoment(c *fiber.Ctx) error {
	momentID, err := parseUUID(c.Params("momentId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid moment id")
	}

	var req updateMomentRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if req.LocalTitle != nil {
		updates["local_title"] = *req.LocalTitle
	}
	if req.LocalDescription != nil {
		updates["local_description"] = *req.LocalDescription
	}
	if req.LocalLocation != nil {
		updates["local_location"] = *req.LocalLocation
	}
	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	result := h.DB.Model(&models.ActivityMoment{}).Where("id = ?", momentID).Updates(updates)
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating moment")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "moment not found")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "moment updated"})
}

// CancelMoment marks an occurrence cancelled. It stays visible on the
// calendar flagged as such; registrations are kept.
func (h *CalendarHandler) CancelMoment(c *fiber.Ctx) error {
	momentID, err := parseUUID(c.Params("momentId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid moment id")
	}

	result := h.DB.Model(&models.ActivityMoment{}).
		Where("id = ?", momentID).
		Update("status", models.MomentStatusCancelled)
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed cancelling moment")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "moment not found")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "moment cancelled"})
}

// Slots lists the sign-up slots of one occurrence with their participants.
func (h *CalendarHandler) Slots(c *fiber.Ctx) error {
	momentID, err := parseUUID(c.Params("momentId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid moment id")
	}

	var slots []models.ActivitySlot
	if err := h.DB.Preload("Participants.Member").
		Where("moment_id = ?", momentID).
		Order("created_at ASC").
		Find(&slots).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing slots")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"slots": slots})
}

type createSlotRequest struct {
	Title    string `json:"title"`
	MaxUsers *int   `json:"maxUsers"`
}

func (h *CalendarHandler) CreateSlot(c *fiber.Ctx) error {
	momentID, err := parseUUID(c.Params("momentId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid moment id")
	}

	var moment models.ActivityMoment
	if err := h.DB.First(&moment, "id = ?", momentID).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "moment not found")
	}

	var req createSlotRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return utils.Error(c, fiber.StatusBadRequest, "title is required")
	}

	slot := models.ActivitySlot{
		MomentID: &moment.ID,
		Title:    req.Title,
		MaxUsers: -1,
	}
	if req.MaxUsers != nil {
		slot.MaxUsers = *req.MaxUsers
	}
	if err := h.DB.Create(&slot).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating slot")
	}

	return utils.Success(c, fiber.StatusCreated, slot)
}

// Register signs the caller's member record up for a slot. Capacity is
// enforced inside one transaction: the slot's own cap first, then the
// activity-wide participant cap across all slots of the occurrence.
func (h *CalendarHandler) Register(c *fiber.Ctx) error {
	member := middleware.GetCurrentMember(c)
	if member == nil {
		return utils.Error(c, fiber.StatusForbidden, "a member record is required to register")
	}

	slotID, err := parseUUID(c.Params("slotId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid slot id")
	}

	var participant models.Participant
	txErr := h.DB.Transaction(func(tx *gorm.DB) error {
		var slot models.ActivitySlot
		if err := tx.Preload("Moment.Activity").First(&slot, "id = ?", slotID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return fiber.NewError(fiber.StatusNotFound, "slot not found")
			}
			return err
		}
		if slot.Moment == nil {
			return fiber.NewError(fiber.StatusConflict, "slot is not attached to an occurrence")
		}
		if slot.Moment.Status == models.MomentStatusCancelled {
			return fiber.NewError(fiber.StatusConflict, "this occurrence has been cancelled")
		}

		if slot.MaxUsers >= 0 {
			var count int64
			if err := tx.Model(&models.Participant{}).Where("slot_id = ?", slot.ID).Count(&count).Error; err != nil {
				return err
			}
			if count >= int64(slot.MaxUsers) {
				return fiber.NewError(fiber.StatusConflict, "slot is full")
			}
		}

		if limit := slot.Moment.Activity.MaxParticipants; limit >= 0 {
			var total int64
			if err := tx.Model(&models.Participant{}).
				Joins("JOIN activity_slots ON activity_slots.id = participants.slot_id").
				Where("activity_slots.moment_id = ?", slot.Moment.ID).
				Count(&total).Error; err != nil {
				return err
			}
			if total >= int64(limit) {
				return fiber.NewError(fiber.StatusConflict, "activity is full")
			}
		}

		participant = models.Participant{SlotID: slot.ID, MemberID: member.ID}
		if err := tx.Create(&participant).Error; err != nil {
			return fiber.NewError(fiber.StatusConflict, "already registered for this slot")
		}
		return nil
	})
	if txErr != nil {
		if fe, ok := txErr.(*fiber.Error); ok {
			return utils.Error(c, fe.Code, fe.Message)
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed registering")
	}

	logger.Info("slot_registered", map[string]interface{}{
		"slot_id":   slotID.String(),
		"member_id": member.ID.String(),
	})

	return utils.Success(c, fiber.StatusCreated, participant)
}

func (h *CalendarHandler) Deregister(c *fiber.Ctx) error {
	member := middleware.GetCurrentMember(c)
	if member == nil {
		return utils.Error(c, fiber.StatusForbidden, "a member record is required")
	}

	slotID, err := parseUUID(c.Params("slotId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid slot id")
	}

	result := h.DB.Where("slot_id = ? AND member_id = ?", slotID, member.ID).Delete(&models.Participant{})
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deregistering")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "no registration for this slot")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "deregistered"})
}

// Committee meetings tab.

type meetingRequest struct {
	Start            time.Time `json:"start"`
	LocalTitle       *string   `json:"localTitle"`
	LocalDescription *string   `json:"localDescription"`
	LocalLocation    *string   `json:"localLocation"`
}

func (h *CalendarHandler) GroupMeetings(c *fiber.Ctx) error {
	scope := collective.ScopeFromContext(c)
	if scope == nil || scope.Group == nil {
		return utils.Error(c, fiber.StatusInternalServerError, "missing group scope")
	}

	moments, err := h.Calendar.UpcomingMeetings(scope.Group, 50)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing meetings")
	}

	return utils.Success(c, fiber.StatusOK, withTabs(c, fiber.Map{"meetings": moments}))
}

func (h *CalendarHandler) CreateGroupMeeting(c *fiber.Ctx) error {
	scope := collective.ScopeFromContext(c)
	if scope == nil || scope.Group == nil {
		return utils.Error(c, fiber.StatusInternalServerError, "missing group scope")
	}
	if !requireGroupAdmin(c) {
		return utils.Error(c, fiber.StatusForbidden, "group admin access required")
	}

	var req meetingRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Start.IsZero() {
		return utils.Error(c, fiber.StatusBadRequest, "start is required")
	}

	activity, err := h.Calendar.EnsureMeetingActivity(scope.Group)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed resolving meeting series")
	}

	moment := models.ActivityMoment{
		ActivityID:       activity.ID,
		RecurrenceID:     req.Start.UTC(),
		LocalTitle:       req.LocalTitle,
		LocalDescription: req.LocalDescription,
		LocalLocation:    req.LocalLocation,
		Status:           models.MomentStatusNormal,
	}
	if err := h.DB.Create(&moment).Error; err != nil {
		return utils.Error(c, fiber.StatusConflict, "a meeting already exists at this time")
	}

	logger.Info("meeting_created", map[string]interface{}{
		"group_id":  scope.Group.ID.String(),
		"moment_id": moment.ID.String(),
	})

	return utils.Success(c, fiber.StatusCreated, moment)
}

func (h *CalendarHandler) groupOwnsMeeting(groupID, momentID string) (*models.ActivityMoment, error) {
	var moment models.ActivityMoment
	err := h.DB.
		Joins("JOIN activities ON activities.id = activity_moments.activity_id").
		Joins("JOIN organiser_links ON organiser_links.activity_id = activities.id").
		Where("activity_moments.id = ? AND organiser_links.group_id = ?", momentID, groupID).
		Where("activities.type = ?", models.ActivityTypeMeeting).
		First(&moment).Error
	if err != nil {
		return nil, err
	}
	return &moment, nil
}

func (h *CalendarHandler) UpdateGroupMeeting(c *fiber.Ctx) error {
	scope := collective.ScopeFromContext(c)
	if scope == nil || scope.Group == nil {
		return utils.Error(c, fiber.StatusInternalServerError, "missing group scope")
	}
	if !requireGroupAdmin(c) {
		return utils.Error(c, fiber.StatusForbidden, "group admin access required")
	}

	momentID, err := parseUUID(c.Params("momentId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid meeting id")
	}
	moment, err := h.groupOwnsMeeting(scope.Group.ID.String(), momentID.String())
	if err != nil {
		return utils.Error(c, fiber.StatusNotFound, "meeting not found")
	}

	var req updateMomentRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if req.LocalTitle != nil {
		updates["local_title"] = *req.LocalTitle
	}
	if req.LocalDescription != nil {
		updates["local_description"] = *req.LocalDescription
	}
	if req.LocalLocation != nil {
		updates["local_location"] = *req.LocalLocation
	}
	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	if err := h.DB.Model(moment).Updates(updates).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating meeting")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "meeting updated"})
}

func (h *CalendarHandler) CancelGroupMeeting(c *fiber.Ctx) error {
	scope := collective.ScopeFromContext(c)
	if scope == nil || scope.Group == nil {
		return utils.Error(c, fiber.StatusInternalServerError, "missing group scope")
	}
	if !requireGroupAdmin(c) {
		return utils.Error(c, fiber.StatusForbidden, "group admin access required")
	}

	momentID, err := parseUUID(c.Params("momentId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid meeting id")
	}
	moment, err := h.groupOwnsMeeting(scope.Group.ID.String(), momentID.String())
	if err != nil {
		return utils.Error(c, fiber.StatusNotFound, "meeting not found")
	}

	if err := h.DB.Model(moment).Update("status", models.MomentStatusCancelled).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed cancelling meeting")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "meeting cancelled"})
}

type committeeMeetingsConfig struct {
	CommitteeConfig
	handler *CalendarHandler
}

func NewCommitteeMeetingsConfig(h *CalendarHandler) collective.Config {
	return &committeeMeetingsConfig{
		CommitteeConfig: CommitteeConfig{
			BaseConfig: collective.BaseConfig{
				TabName:    "Meetings",
				TabIcon:    "fas fa-calendar-alt",
				Keyword:    "meetings",
				OrderValue: 20,
			},
			GroupTypes: []models.GroupType{
				models.GroupTypeCommittee,
				models.GroupTypeWorkgroup,
				models.GroupTypeBoard,
			},
		},
		handler: h,
	}
}

func (cfg *committeeMeetingsConfig) Routes(router fiber.Router) {
	router.Get("/", cfg.handler.GroupMeetings)
	router.Post("/", cfg.handler.CreateGroupMeeting)
	router.Put("/:momentId", cfg.handler.UpdateGroupMeeting)
	router.Post("/:momentId/cancel", cfg.handler.CancelGroupMeeting)
}
