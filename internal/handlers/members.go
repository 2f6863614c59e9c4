package handlers

import (
	"net/mail"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/squire/backend/internal/models"
	"github.com/squire/backend/pkg/logger"
	"github.com/squire/backend/pkg/utils"
	"gorm.io/gorm"
)

// MembersHandler is the board's member administration (site admins only).
type MembersHandler struct {
	DB *gorm.DB
}

func NewMembersHandler(db *gorm.DB) *MembersHandler {
	return &MembersHandler{DB: db}
}

func (h *MembersHandler) List(c *fiber.Ctx) error {
	var members []models.Member
	if err := h.DB.Order("last_name ASC, first_name ASC").Find(&members).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing members")
	}
	return utils.Success(c, fiber.StatusOK, members)
}

type createMemberRequest struct {
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Email     string  `json:"email"`
	Phone     *string `json:"phone"`
}

func (h *MembersHandler) Create(c *fiber.Ctx) error {
	var req createMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)

	if _, err := mail.ParseAddress(req.Email); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid email")
	}
	if req.FirstName == "" || req.LastName == "" {
		return utils.Error(c, fiber.StatusBadRequest, "firstName and lastName are required")
	}

	member := models.Member{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
	}
	if err := h.DB.Create(&member).Error; err != nil {
		return utils.Error(c, fiber.StatusConflict, "a member with this email already exists")
	}

	logger.Info("member_created", map[string]interface{}{
		"member_id": member.ID.String(),
		"email":     member.Email,
	})

	return utils.Success(c, fiber.StatusCreated, member)
}

func (h *MembersHandler) Get(c *fiber.Ctx) error {
	memberID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid member id")
	}

	var member models.Member
	if err := h.DB.Preload("GroupMemberships").First(&member, "id = ?", memberID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.Error(c, fiber.StatusNotFound, "member not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading member")
	}

	return utils.Success(c, fiber.StatusOK, member)
}

type updateMemberRequest struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Phone     *string `json:"phone"`
}

func (h *MembersHandler) Update(c *fiber.Ctx) error {
	memberID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid member id")
	}

	var req updateMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if req.FirstName != nil {
		updates["first_name"] = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		updates["last_name"] = strings.TrimSpace(*req.LastName)
	}
	if req.Phone != nil {
		updates["phone"] = strings.TrimSpace(*req.Phone)
	}
	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	result := h.DB.Model(&models.Member{}).Where("id = ?", memberID).Updates(updates)
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating member")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "member not found")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "member updated"})
}

// Deregister marks a member as having left; the record is kept for history
// but no longer counts for access checks.
func (h *MembersHandler) Deregister(c *fiber.Ctx) error {
	memberID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid member id")
	}

	result := h.DB.Model(&models.Member{}).Where("id = ?", memberID).Update("is_deregistered", true)
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deregistering member")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "member not found")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "member deregistered"})
}
