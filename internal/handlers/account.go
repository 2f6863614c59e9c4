package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/squire/backend/internal/collective"
	"github.com/squire/backend/internal/middleware"
	"github.com/squire/backend/pkg/utils"
	"gorm.io/gorm"
)

// AccountHandler serves the unscoped account page collective.
type AccountHandler struct {
	DB *gorm.DB
}

func NewAccountHandler(db *gorm.DB) *AccountHandler {
	return &AccountHandler{DB: db}
}

func (h *AccountHandler) Profile(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	return utils.Success(c, fiber.StatusOK, withTabs(c, fiber.Map{
		"user":   user,
		"member": middleware.GetCurrentMember(c),
	}))
}

type updateProfileRequest struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Phone     *string `json:"phone"`
}

func (h *AccountHandler) UpdateProfile(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req updateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if req.FirstName != nil {
		name := strings.TrimSpace(*req.FirstName)
		if name == "" {
			return utils.Error(c, fiber.StatusBadRequest, "firstName cannot be empty")
		}
		updates["first_name"] = name
	}
	if req.LastName != nil {
		name := strings.TrimSpace(*req.LastName)
		if name == "" {
			return utils.Error(c, fiber.StatusBadRequest, "lastName cannot be empty")
		}
		updates["last_name"] = name
	}

	if len(updates) > 0 {
		if err := h.DB.Model(user).Updates(updates).Error; err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed updating profile")
		}
	}

	if req.Phone != nil {
		member := middleware.GetCurrentMember(c)
		if member == nil {
			return utils.Error(c, fiber.StatusBadRequest, "no member record to store a phone number on")
		}
		phone := strings.TrimSpace(*req.Phone)
		var value interface{}
		if phone != "" {
			value = phone
		}
		if err := h.DB.Model(member).Update("phone", value).Error; err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed updating member record")
		}
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "profile updated"})
}

func (h *AccountHandler) Preferences(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	prefs := user.Preferences
	if prefs == nil {
		prefs = map[string]interface{}{}
	}
	return utils.Success(c, fiber.StatusOK, withTabs(c, fiber.Map{"preferences": prefs}))
}

func (h *AccountHandler) UpdatePreferences(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var prefs map[string]interface{}
	if err := c.BodyParser(&prefs); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.DB.Model(user).Update("preferences", prefs).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating preferences")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"preferences": prefs})
}

// Account collective configs. Every tab is reachable for any authenticated
// user; a claimed member record is not required to manage one's own account.

type accountProfileConfig struct {
	collective.BaseConfig
	handler *AccountHandler
}

func NewAccountProfileConfig(h *AccountHandler) collective.Config {
	return &accountProfileConfig{
		BaseConfig: collective.BaseConfig{
			TabName:         "Account",
			TabIcon:         "fas fa-user",
			Keyword:         "profile",
			OrderValue:      5,
			AllowNonMembers: true,
		},
		handler: h,
	}
}

func (cfg *accountProfileConfig) Routes(router fiber.Router) {
	router.Get("/", cfg.handler.Profile)
	router.Put("/", cfg.handler.UpdateProfile)
}

type accountSecurityConfig struct {
	collective.BaseConfig
	auth *AuthHandler
	mfa  *MFAHandler
}

func NewAccountSecurityConfig(auth *AuthHandler, mfa *MFAHandler) collective.Config {
	return &accountSecurityConfig{
		BaseConfig: collective.BaseConfig{
			TabName:         "Security",
			TabIcon:         "fas fa-lock",
			Keyword:         "security",
			OrderValue:      10,
			AllowNonMembers: true,
		},
		auth: auth,
		mfa:  mfa,
	}
}

func (cfg *accountSecurityConfig) Routes(router fiber.Router) {
	router.Put("/password", cfg.auth.ChangePassword)
	router.Get("/mfa", cfg.mfa.Status)
	router.Post("/mfa/totp/setup", cfg.mfa.TOTPSetup)
	router.Post("/mfa/totp/verify", cfg.mfa.TOTPVerifySetup)
	router.Post("/mfa/totp/disable", cfg.mfa.TOTPDisable)
}

type accountPreferencesConfig struct {
	collective.BaseConfig
	handler *AccountHandler
}

func NewAccountPreferencesConfig(h *AccountHandler) collective.Config {
	return &accountPreferencesConfig{
		BaseConfig: collective.BaseConfig{
			TabName:         "Preferences",
			TabIcon:         "fas fa-sliders-h",
			Keyword:         "preferences",
			OrderValue:      20,
			AllowNonMembers: true,
		},
		handler: h,
	}
}

func (cfg *accountPreferencesConfig) Routes(router fiber.Router) {
	router.Get("/", cfg.handler.Preferences)
	router.Put("/", cfg.handler.UpdatePreferences)
}

type accountLinkedConfig struct {
	collective.BaseConfig
	sso *SSOHandler
}

func NewAccountLinkedConfig(sso *SSOHandler) collective.Config {
	return &accountLinkedConfig{
		BaseConfig: collective.BaseConfig{
			TabName:         "Linked accounts",
			TabIcon:         "fas fa-link",
			Keyword:         "linked",
			OrderValue:      30,
			AllowNonMembers: true,
		},
		sso: sso,
	}
}

// Enabled hides the tab entirely when no identity provider is configured.
func (cfg *accountLinkedConfig) Enabled() bool {
	return len(cfg.sso.Providers.EnabledProviders()) > 0
}

func (cfg *accountLinkedConfig) Routes(router fiber.Router) {
	router.Get("/", cfg.sso.ListLinkedAccounts)
	router.Get("/connect/:provider", cfg.sso.Connect)
	router.Delete("/:id", cfg.sso.Unlink)
}
