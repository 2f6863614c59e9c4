package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/google/uuid"
	"github.com/squire/backend/internal/middleware"
	"github.com/squire/backend/internal/models"
	"github.com/squire/backend/pkg/linktoken"
	"github.com/squire/backend/pkg/logger"
	"github.com/squire/backend/pkg/utils"
	"gorm.io/gorm"
)

// URLTokenPlaceholder replaces the real token in the registration link URL
// after the token has been moved into the session.
const URLTokenPlaceholder = "link-member"

// MemberLinkHandler drives the registration-link flow: the board issues a
// one-time link for a member record, and the person claiming it attaches the
// record to their login.
type MemberLinkHandler struct {
	DB        *gorm.DB
	Generator *linktoken.Generator
	Guard     *middleware.LinkTokenGuard
}

func NewMemberLinkHandler(db *gorm.DB, generator *linktoken.Generator, guard *middleware.LinkTokenGuard) *MemberLinkHandler {
	return &MemberLinkHandler{DB: db, Generator: generator, Guard: guard}
}

// NewMemberLinkGuard builds the token guard for member registration links.
func NewMemberLinkGuard(db *gorm.DB, generator *linktoken.Generator, sessions *session.Store) *middleware.LinkTokenGuard {
	return &middleware.LinkTokenGuard{
		Generator:      generator,
		Sessions:       sessions,
		SessionKey:     "_member_link_token",
		URLPlaceholder: URLTokenPlaceholder,
		ObjectParam:    "uid",
		TokenParam:     "token",
		Lookup: func(c *fiber.Ctx, id uuid.UUID) (middleware.TokenObject, error) {
			var member models.Member
			if err := db.First(&member, "id = ? AND is_deregistered = ?", id, false).Error; err != nil {
				return nil, nil
			}
			return &member, nil
		},
	}
}

// IssueLink creates a fresh registration link for a member (admins only).
// The token dies as soon as the member record is linked to a user.
func (h *MemberLinkHandler) IssueLink(c *fiber.Ctx) error {
	memberID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid member id")
	}

	var member models.Member
	if err := h.DB.First(&member, "id = ?", memberID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.Error(c, fiber.StatusNotFound, "member not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading member")
	}
	if member.UserID != nil {
		return utils.Error(c, fiber.StatusConflict, "member is already linked to a user")
	}

	token, err := h.Generator.Make(member.TokenFields()...)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating link token")
	}

	logger.Info("member_link_issued", map[string]interface{}{
		"member_id": member.ID.String(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"url": fmt.Sprintf("/api/link/member/%s/%s", linktoken.EncodeUID(member.ID), token),
	})
}

// Show runs behind the URL token guard: a valid link reveals which member
// record is being claimed.
func (h *MemberLinkHandler) Show(c *fiber.Ctx) error {
	member, ok := middleware.LinkObject(c).(*models.Member)
	if !ok {
		return utils.Error(c, fiber.StatusForbidden, "invalid or expired link")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"valid":  true,
		"member": member,
	})
}

// Confirm runs behind the session token guard after the URL guard has
// redirected: it attaches the member record to the authenticated user and
// ends the link session.
func (h *MemberLinkHandler) Confirm(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	member, ok := middleware.LinkObject(c).(*models.Member)
	if !ok {
		return utils.Error(c, fiber.StatusForbidden, "invalid or expired link")
	}

	if member.UserID != nil {
		return utils.Error(c, fiber.StatusConflict, "member is already linked to a user")
	}

	var existing models.Member
	if err := h.DB.First(&existing, "user_id = ?", user.ID).Error; err == nil {
		return utils.Error(c, fiber.StatusConflict, "your account is already linked to a member record")
	} else if err != gorm.ErrRecordNotFound {
		return utils.Error(c, fiber.StatusInternalServerError, "failed checking existing link")
	}

	if err := h.DB.Model(member).Update("user_id", user.ID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed linking member")
	}

	h.Guard.DeleteToken(c)

	logger.InfoWithUser(user.ID.String(), "member_linked", map[string]interface{}{
		"member_id": member.ID.String(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"member": member})
}
