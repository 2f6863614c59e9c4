package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/squire/backend/internal/collective"
	"github.com/squire/backend/internal/middleware"
	"github.com/squire/backend/internal/models"
	"github.com/squire/backend/pkg/logger"
	"github.com/squire/backend/pkg/utils"
	"gorm.io/gorm"
)

type InventoryHandler struct {
	DB *gorm.DB
}

func NewInventoryHandler(db *gorm.DB) *InventoryHandler {
	return &InventoryHandler{DB: db}
}

// Catalogue lists items currently at the association, optionally filtered by
// category. Items whose every ownership is inactive are at home with their
// owners and stay hidden.
func (h *InventoryHandler) Catalogue(c *fiber.Ctx) error {
	query := h.DB.Model(&models.Item{}).
		Joins("JOIN ownerships ON ownerships.item_id = items.id").
		Where("ownerships.is_active = ?", true).
		Group("items.id").
		Order("items.name ASC")
	if category := c.Query("category"); category != "" {
		query = query.Where("items.category = ?", category)
	}

	var items []models.Item
	if err := query.Find(&items).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing catalogue")
	}

	return utils.Success(c, fiber.StatusOK, items)
}

type itemRequest struct {
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Description *string `json:"description"`
}

func (h *InventoryHandler) CreateItem(c *fiber.Ctx) error {
	var req itemRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" || req.Category == "" {
		return utils.Error(c, fiber.StatusBadRequest, "name and category are required")
	}

	item := models.Item{
		Name:        req.Name,
		Category:    req.Category,
		Description: req.Description,
	}
	if err := h.DB.Create(&item).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating item")
	}

	logger.Info("item_created", map[string]interface{}{
		"item_id": item.ID.String(),
		"name":    item.Name,
	})

	return utils.Success(c, fiber.StatusCreated, item)
}

func (h *InventoryHandler) GetItem(c *fiber.Ctx) error {
	itemID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid item id")
	}

	var item models.Item
	if err := h.DB.Preload("Ownerships").First(&item, "id = ?", itemID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.Error(c, fiber.StatusNotFound, "item not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading item")
	}

	return utils.Success(c, fiber.StatusOK, item)
}

func (h *InventoryHandler) UpdateItem(c *fiber.Ctx) error {
	itemID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid item id")
	}

	var req itemRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if name := strings.TrimSpace(req.Name); name != "" {
		updates["name"] = name
	}
	if category := strings.TrimSpace(req.Category); category != "" {
		updates["category"] = category
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	result := h.DB.Model(&models.Item{}).Where("id = ?", itemID).Updates(updates)
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating item")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "item not found")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "item updated"})
}

func (h *InventoryHandler) DeleteItem(c *fiber.Ctx) error {
	itemID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid item id")
	}

	var count int64
	if err := h.DB.Model(&models.Ownership{}).Where("item_id = ?", itemID).Count(&count).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed checking ownerships")
	}
	if count > 0 {
		return utils.Error(c, fiber.StatusConflict, "item still has ownership records")
	}

	result := h.DB.Delete(&models.Item{}, "id = ?", itemID)
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting item")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "item not found")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "item deleted"})
}

type ownershipRequest struct {
	ItemID   string  `json:"itemID"`
	MemberID *string `json:"memberID"`
	GroupID  *string `json:"groupID"`
	Note     *string `json:"note"`
}

// CreateOwnership registers who an item belongs to. Exactly one of memberID
// and groupID must be given.
func (h *InventoryHandler) CreateOwnership(c *fiber.Ctx) error {
	var req ownershipRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	if (req.MemberID == nil) == (req.GroupID == nil) {
		return utils.Error(c, fiber.StatusBadRequest, "exactly one of memberID and groupID is required")
	}

	itemID, err := parseUUID(req.ItemID)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid item id")
	}
	var item models.Item
	if err := h.DB.First(&item, "id = ?", itemID).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "item not found")
	}

	ownership := models.Ownership{
		ItemID:   item.ID,
		IsActive: true,
		Note:     req.Note,
		AddedAt:  time.Now().UTC(),
	}
	if req.MemberID != nil {
		memberID, err := parseUUID(*req.MemberID)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid member id")
		}
		var member models.Member
		if err := h.DB.First(&member, "id = ? AND is_deregistered = ?", memberID, false).Error; err != nil {
			return utils.Error(c, fiber.StatusNotFound, "member not found")
		}
		ownership.MemberID = &member.ID
	} else {
		groupID, err := parseUUID(*req.GroupID)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
		}
		var group models.AssociationGroup
		if err := h.DB.First(&group, "id = ?", groupID).Error; err != nil {
			return utils.Error(c, fiber.StatusNotFound, "group not found")
		}
		ownership.GroupID = &group.ID
	}

	if err := h.DB.Create(&ownership).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating ownership")
	}

	return utils.Success(c, fiber.StatusCreated, ownership)
}

// MyItems lists the caller's own lending records, active and inactive.
func (h *InventoryHandler) MyItems(c *fiber.Ctx) error {
	member := middleware.GetCurrentMember(c)
	if member == nil {
		return utils.Error(c, fiber.StatusForbidden, "a member record is required")
	}

	var ownerships []models.Ownership
	if err := h.DB.Preload("Item").
		Where("member_id = ?", member.ID).
		Order("added_at DESC").
		Find(&ownerships).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing your items")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"ownerships": ownerships})
}

// TakeHome flips one of the caller's lendings inactive: the item went home
// with its owner.
func (h *InventoryHandler) TakeHome(c *fiber.Ctx) error {
	return h.setOwnLendingActive(c, false)
}

// LoanOut flips an inactive lending back: the owner brought the item in again.
func (h *InventoryHandler) LoanOut(c *fiber.Ctx) error {
	return h.setOwnLendingActive(c, true)
}

func (h *InventoryHandler) setOwnLendingActive(c *fiber.Ctx, active bool) error {
	member := middleware.GetCurrentMember(c)
	if member == nil {
		return utils.Error(c, fiber.StatusForbidden, "a member record is required")
	}

	ownershipID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid ownership id")
	}

	result := h.DB.Model(&models.Ownership{}).
		Where("id = ? AND member_id = ?", ownershipID, member.ID).
		Update("is_active", active)
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating lending")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "lending not found")
	}

	action := "item_taken_home"
	if active {
		action = "item_loaned_out"
	}
	logger.Info(action, map[string]interface{}{
		"ownership_id": ownershipID.String(),
		"member_id":    member.ID.String(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "lending updated"})
}

type ownershipNoteRequest struct {
	Note *string `json:"note"`
}

// UpdateNote edits the note on one of the caller's own lendings.
func (h *InventoryHandler) UpdateNote(c *fiber.Ctx) error {
	member := middleware.GetCurrentMember(c)
	if member == nil {
		return utils.Error(c, fiber.StatusForbidden, "a member record is required")
	}

	ownershipID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid ownership id")
	}

	var req ownershipNoteRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	var value interface{}
	if req.Note != nil && strings.TrimSpace(*req.Note) != "" {
		value = strings.TrimSpace(*req.Note)
	}

	result := h.DB.Model(&models.Ownership{}).
		Where("id = ? AND member_id = ?", ownershipID, member.ID).
		Update("note", value)
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating note")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "lending not found")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "note updated"})
}

// Committee items tab: the scoped group's own items.

func (h *InventoryHandler) GroupItems(c *fiber.Ctx) error {
	scope := collective.ScopeFromContext(c)
	if scope == nil || scope.Group == nil {
		return utils.Error(c, fiber.StatusInternalServerError, "missing group scope")
	}

	var ownerships []models.Ownership
	if err := h.DB.Preload("Item").
		Where("group_id = ?", scope.Group.ID).
		Order("added_at DESC").
		Find(&ownerships).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing group items")
	}

	return utils.Success(c, fiber.StatusOK, withTabs(c, fiber.Map{"ownerships": ownerships}))
}

type groupItemRequest struct {
	ItemID string  `json:"itemID"`
	Note   *string `json:"note"`
}

func (h *InventoryHandler) AddGroupItem(c *fiber.Ctx) error {
	scope := collective.ScopeFromContext(c)
	if scope == nil || scope.Group == nil {
		return utils.Error(c, fiber.StatusInternalServerError, "missing group scope")
	}
	if !requireGroupAdmin(c) {
		return utils.Error(c, fiber.StatusForbidden, "group admin access required")
	}

	var req groupItemRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	itemID, err := parseUUID(req.ItemID)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid item id")
	}
	var item models.Item
	if err := h.DB.First(&item, "id = ?", itemID).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "item not found")
	}

	ownership := models.Ownership{
		ItemID:   item.ID,
		GroupID:  &scope.Group.ID,
		IsActive: true,
		Note:     req.Note,
		AddedAt:  time.Now().UTC(),
	}
	if err := h.DB.Create(&ownership).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed adding group item")
	}

	return utils.Success(c, fiber.StatusCreated, ownership)
}

func (h *InventoryHandler) RemoveGroupItem(c *fiber.Ctx) error {
	scope := collective.ScopeFromContext(c)
	if scope == nil || scope.Group == nil {
		return utils.Error(c, fiber.StatusInternalServerError, "missing group scope")
	}
	if !requireGroupAdmin(c) {
		return utils.Error(c, fiber.StatusForbidden, "group admin access required")
	}

	ownershipID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid ownership id")
	}

	result := h.DB.Where("id = ? AND group_id = ?", ownershipID, scope.Group.ID).Delete(&models.Ownership{})
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed removing group item")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "group item not found")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "group item removed"})
}

type committeeItemsConfig struct {
	CommitteeConfig
	handler *InventoryHandler
}

func NewCommitteeItemsConfig(h *InventoryHandler) collective.Config {
	return &committeeItemsConfig{
		CommitteeConfig: CommitteeConfig{
			BaseConfig: collective.BaseConfig{
				TabName:    "Items",
				TabIcon:    "fas fa-boxes",
				Keyword:    "items",
				OrderValue: 30,
			},
			GroupTypes: []models.GroupType{
				models.GroupTypeCommittee,
				models.GroupTypeWorkgroup,
			},
		},
		handler: h,
	}
}

func (cfg *committeeItemsConfig) Routes(router fiber.Router) {
	router.Get("/", cfg.handler.GroupItems)
	router.Post("/", cfg.handler.AddGroupItem)
	router.Delete("/:id", cfg.handler.RemoveGroupItem)
}
