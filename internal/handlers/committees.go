package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/squire/backend/internal/collective"
	"github.com/squire/backend/internal/middleware"
	"github.com/squire/backend/internal/models"
	"github.com/squire/backend/pkg/logger"
	"github.com/squire/backend/pkg/utils"
	"gorm.io/gorm"
)

// NewGroupScopeResolver loads the association group addressed by the request
// path plus the caller's membership of it. The committee collective registry
// uses it to resolve its scope.
func NewGroupScopeResolver(db *gorm.DB) func(c *fiber.Ctx) (*collective.Scope, error) {
	return func(c *fiber.Ctx) (*collective.Scope, error) {
		groupID, err := parseUUID(c.Params("groupId"))
		if err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, "invalid group id")
		}

		var group models.AssociationGroup
		if err := db.First(&group, "id = ?", groupID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, fiber.NewError(fiber.StatusNotFound, "group not found")
			}
			return nil, err
		}

		scope := &collective.Scope{Group: &group}
		if member := middleware.GetCurrentMember(c); member != nil {
			var membership models.AssociationGroupMembership
			err := db.First(&membership, "group_id = ? AND member_id = ?", group.ID, member.ID).Error
			if err == nil {
				scope.Membership = &membership
			}
		}
		return scope, nil
	}
}

// CommitteeConfig is the base for committee page sections: accessible to
// members of the scoped group (site admins bypass), optionally restricted to
// certain group types.
type CommitteeConfig struct {
	collective.BaseConfig
	GroupTypes []models.GroupType
}

func (cc *CommitteeConfig) Accessible(c *fiber.Ctx, scope *collective.Scope) bool {
	if scope == nil || scope.Group == nil {
		return false
	}
	if len(cc.GroupTypes) > 0 && !containsGroupType(cc.GroupTypes, scope.Group.Type) {
		return false
	}
	if user := middleware.GetCurrentUser(c); user != nil && user.Role == models.UserRoleAdmin {
		return true
	}
	return scope.Membership != nil
}

func containsGroupType(types []models.GroupType, t models.GroupType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// requireGroupAdmin allows mutations only to group admins and site admins.
func requireGroupAdmin(c *fiber.Ctx) bool {
	if user := middleware.GetCurrentUser(c); user != nil && user.Role == models.UserRoleAdmin {
		return true
	}
	scope := collective.ScopeFromContext(c)
	return scope != nil && scope.Membership != nil && scope.Membership.IsAdmin
}

type CommitteesHandler struct {
	DB *gorm.DB
}

func NewCommitteesHandler(db *gorm.DB) *CommitteesHandler {
	return &CommitteesHandler{DB: db}
}

// ListMine lists the groups the caller's member record belongs to.
func (h *CommitteesHandler) ListMine(c *fiber.Ctx) error {
	member := middleware.GetCurrentMember(c)
	if member == nil {
		return utils.Error(c, fiber.StatusForbidden, "a member record is required")
	}

	var groups []models.AssociationGroup
	if err := h.DB.
		Joins("JOIN association_group_memberships ON association_group_memberships.group_id = association_groups.id").
		Where("association_group_memberships.member_id = ?", member.ID).
		Order("association_groups.name ASC").
		Find(&groups).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing groups")
	}

	return utils.Success(c, fiber.StatusOK, groups)
}

type createGroupRequest struct {
	Name        string           `json:"name"`
	Type        models.GroupType `json:"type"`
	Description *string          `json:"description"`
}

// CreateGroup is board-level administration (site admins only).
func (h *CommitteesHandler) CreateGroup(c *fiber.Ctx) error {
	var req createGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return utils.Error(c, fiber.StatusBadRequest, "name is required")
	}
	switch req.Type {
	case models.GroupTypeCommittee, models.GroupTypeWorkgroup, models.GroupTypeBoard, models.GroupTypeOrder:
	default:
		return utils.Error(c, fiber.StatusBadRequest, "invalid group type")
	}

	group := models.AssociationGroup{
		Name:        req.Name,
		Type:        req.Type,
		Description: req.Description,
	}
	if err := h.DB.Create(&group).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating group")
	}

	logger.Info("group_created", map[string]interface{}{
		"group_id":   group.ID.String(),
		"group_name": group.Name,
		"group_type": string(group.Type),
	})

	return utils.Success(c, fiber.StatusCreated, group)
}

type addGroupMemberRequest struct {
	MemberID string  `json:"memberID"`
	IsAdmin  bool    `json:"isAdmin"`
	Title    *string `json:"title"`
}

// AddMember adds a member to the scoped group (group admins and site admins).
func (h *CommitteesHandler) AddMember(c *fiber.Ctx) error {
	scope := collective.ScopeFromContext(c)
	if scope == nil || scope.Group == nil {
		return utils.Error(c, fiber.StatusInternalServerError, "missing group scope")
	}
	if !requireGroupAdmin(c) {
		return utils.Error(c, fiber.StatusForbidden, "group admin access required")
	}

	var req addGroupMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	memberID, err := parseUUID(req.MemberID)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid member id")
	}

	var member models.Member
	if err := h.DB.First(&member, "id = ? AND is_deregistered = ?", memberID, false).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "member not found")
	}

	membership := models.AssociationGroupMembership{
		MemberID: member.ID,
		GroupID:  scope.Group.ID,
		IsAdmin:  req.IsAdmin,
		Title:    req.Title,
	}
	if err := h.DB.Create(&membership).Error; err != nil {
		return utils.Error(c, fiber.StatusConflict, "member already belongs to this group")
	}

	return utils.Success(c, fiber.StatusCreated, membership)
}

// Home is the group's landing tab.
func (h *CommitteesHandler) Home(c *fiber.Ctx) error {
	scope := collective.ScopeFromContext(c)
	if scope == nil || scope.Group == nil {
		return utils.Error(c, fiber.StatusInternalServerError, "missing group scope")
	}

	var memberCount int64
	if err := h.DB.Model(&models.AssociationGroupMembership{}).
		Where("group_id = ?", scope.Group.ID).
		Count(&memberCount).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading group")
	}

	return utils.Success(c, fiber.StatusOK, withTabs(c, fiber.Map{
		"group":       scope.Group,
		"memberCount": memberCount,
		"isAdmin":     scope.Membership != nil && scope.Membership.IsAdmin,
	}))
}

type updateGroupHomeRequest struct {
	HomeScreenText *string `json:"homeScreenText"`
	ContactEmail   *string `json:"contactEmail"`
	Description    *string `json:"description"`
}

func (h *CommitteesHandler) UpdateHome(c *fiber.Ctx) error {
	scope := collective.ScopeFromContext(c)
	if scope == nil || scope.Group == nil {
		return utils.Error(c, fiber.StatusInternalServerError, "missing group scope")
	}
	if !requireGroupAdmin(c) {
		return utils.Error(c, fiber.StatusForbidden, "group admin access required")
	}

	var req updateGroupHomeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if req.HomeScreenText != nil {
		updates["home_screen_text"] = *req.HomeScreenText
	}
	if req.ContactEmail != nil {
		updates["contact_email"] = *req.ContactEmail
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	if err := h.DB.Model(scope.Group).Updates(updates).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating group")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "group updated"})
}

// Members lists the group's roster.
func (h *CommitteesHandler) Members(c *fiber.Ctx) error {
	scope := collective.ScopeFromContext(c)
	if scope == nil || scope.Group == nil {
		return utils.Error(c, fiber.StatusInternalServerError, "missing group scope")
	}

	var memberships []models.AssociationGroupMembership
	if err := h.DB.Preload("Member").
		Where("group_id = ?", scope.Group.ID).
		Order("created_at ASC").
		Find(&memberships).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing members")
	}

	return utils.Success(c, fiber.StatusOK, withTabs(c, fiber.Map{"memberships": memberships}))
}

type updateMembershipRequest struct {
	IsAdmin *bool   `json:"isAdmin"`
	Title   *string `json:"title"`
}

func (h *CommitteesHandler) UpdateMembership(c *fiber.Ctx) error {
	scope := collective.ScopeFromContext(c)
	if scope == nil || scope.Group == nil {
		return utils.Error(c, fiber.StatusInternalServerError, "missing group scope")
	}
	if !requireGroupAdmin(c) {
		return utils.Error(c, fiber.StatusForbidden, "group admin access required")
	}

	membershipID, err := parseUUID(c.Params("membershipId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid membership id")
	}

	var req updateMembershipRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if req.IsAdmin != nil {
		updates["is_admin"] = *req.IsAdmin
	}
	if req.Title != nil {
		updates["title"] = strings.TrimSpace(*req.Title)
	}
	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	result := h.DB.Model(&models.AssociationGroupMembership{}).
		Where("id = ? AND group_id = ?", membershipID, scope.Group.ID).
		Updates(updates)
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating membership")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "membership not found")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "membership updated"})
}

func (h *CommitteesHandler) RemoveMembership(c *fiber.Ctx) error {
	scope := collective.ScopeFromContext(c)
	if scope == nil || scope.Group == nil {
		return utils.Error(c, fiber.StatusInternalServerError, "missing group scope")
	}
	if !requireGroupAdmin(c) {
		return utils.Error(c, fiber.StatusForbidden, "group admin access required")
	}

	membershipID, err := parseUUID(c.Params("membershipId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid membership id")
	}

	result := h.DB.
		Where("id = ? AND group_id = ?", membershipID, scope.Group.ID).
		Delete(&models.AssociationGroupMembership{})
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed removing membership")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "membership not found")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "membership removed"})
}

// Quicklinks

func (h *CommitteesHandler) Quicklinks(c *fiber.Ctx) error {
	scope := collective.ScopeFromContext(c)
	if scope == nil || scope.Group == nil {
		return utils.Error(c, fiber.StatusInternalServerError, "missing group scope")
	}

	var links []models.GroupQuicklink
	if err := h.DB.Where("group_id = ?", scope.Group.ID).Order("name ASC").Find(&links).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing quicklinks")
	}

	return utils.Success(c, fiber.StatusOK, withTabs(c, fiber.Map{"quicklinks": links}))
}

type quicklinkRequest struct {
	Name        string  `json:"name"`
	URL         string  `json:"url"`
	Description *string `json:"description"`
}

func (h *CommitteesHandler) CreateQuicklink(c *fiber.Ctx) error {
	scope := collective.ScopeFromContext(c)
	if scope == nil || scope.Group == nil {
		return utils.Error(c, fiber.StatusInternalServerError, "missing group scope")
	}
	if !requireGroupAdmin(c) {
		return utils.Error(c, fiber.StatusForbidden, "group admin access required")
	}

	var req quicklinkRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.URL = strings.TrimSpace(req.URL)
	if req.Name == "" || req.URL == "" {
		return utils.Error(c, fiber.StatusBadRequest, "name and url are required")
	}

	link := models.GroupQuicklink{
		GroupID:     scope.Group.ID,
		Name:        req.Name,
		URL:         req.URL,
		Description: req.Description,
	}
	if err := h.DB.Create(&link).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating quicklink")
	}

	return utils.Success(c, fiber.StatusCreated, link)
}

func (h *CommitteesHandler) DeleteQuicklink(c *fiber.Ctx) error {
	scope := collective.ScopeFromContext(c)
	if scope == nil || scope.Group == nil {
		return utils.Error(c, fiber.StatusInternalServerError, "missing group scope")
	}
	if !requireGroupAdmin(c) {
		return utils.Error(c, fiber.StatusForbidden, "group admin access required")
	}

	linkID, err := parseUUID(c.Params("linkId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid quicklink id")
	}

	result := h.DB.Where("id = ? AND group_id = ?", linkID, scope.Group.ID).Delete(&models.GroupQuicklink{})
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting quicklink")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "quicklink not found")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "quicklink deleted"})
}

// Committee collective configs.

type committeeHomeConfig struct {
	CommitteeConfig
	handler *CommitteesHandler
}

func NewCommitteeHomeConfig(h *CommitteesHandler) collective.Config {
	return &committeeHomeConfig{
		CommitteeConfig: CommitteeConfig{
			BaseConfig: collective.BaseConfig{
				TabName:    "Home",
				TabIcon:    "fas fa-home",
				Keyword:    "home",
				OrderValue: 5,
			},
		},
		handler: h,
	}
}

func (cfg *committeeHomeConfig) Routes(router fiber.Router) {
	router.Get("/", cfg.handler.Home)
	router.Put("/", cfg.handler.UpdateHome)
	router.Post("/members", cfg.handler.AddMember)
}

type committeeMembersConfig struct {
	CommitteeConfig
	handler *CommitteesHandler
}

func NewCommitteeMembersConfig(h *CommitteesHandler) collective.Config {
	return &committeeMembersConfig{
		CommitteeConfig: CommitteeConfig{
			BaseConfig: collective.BaseConfig{
				TabName:    "Members",
				TabIcon:    "fas fa-users",
				Keyword:    "members",
				OrderValue: 10,
			},
			GroupTypes: []models.GroupType{
				models.GroupTypeCommittee,
				models.GroupTypeWorkgroup,
				models.GroupTypeOrder,
			},
		},
		handler: h,
	}
}

func (cfg *committeeMembersConfig) Routes(router fiber.Router) {
	router.Get("/", cfg.handler.Members)
	router.Put("/:membershipId", cfg.handler.UpdateMembership)
	router.Delete("/:membershipId", cfg.handler.RemoveMembership)
}

type committeeQuicklinksConfig struct {
	CommitteeConfig
	handler *CommitteesHandler
}

func NewCommitteeQuicklinksConfig(h *CommitteesHandler) collective.Config {
	return &committeeQuicklinksConfig{
		CommitteeConfig: CommitteeConfig{
			BaseConfig: collective.BaseConfig{
				TabName:    "External sources",
				TabIcon:    "fas fa-external-link-alt",
				Keyword:    "quicklinks",
				OrderValue: 15,
			},
			GroupTypes: []models.GroupType{
				models.GroupTypeCommittee,
				models.GroupTypeWorkgroup,
				models.GroupTypeOrder,
			},
		},
		handler: h,
	}
}

func (cfg *committeeQuicklinksConfig) Routes(router fiber.Router) {
	router.Get("/", cfg.handler.Quicklinks)
	router.Post("/", cfg.handler.CreateQuicklink)
	router.Delete("/:linkId", cfg.handler.DeleteQuicklink)
}
