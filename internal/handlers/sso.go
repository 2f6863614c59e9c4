package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/squire/backend/internal/config"
	"github.com/squire/backend/internal/middleware"
	"github.com/squire/backend/internal/models"
	"github.com/squire/backend/internal/services"
	"github.com/squire/backend/pkg/logger"
	"github.com/squire/backend/pkg/utils"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

// SSOHandler links external OAuth identities to existing accounts. There is
// no SSO login: the flow always starts from an authenticated session.
type SSOHandler struct {
	DB        *gorm.DB
	Providers *services.OAuthProviderService
	Cfg       *config.Config
}

func NewSSOHandler(db *gorm.DB, providers *services.OAuthProviderService, cfg *config.Config) *SSOHandler {
	return &SSOHandler{DB: db, Providers: providers, Cfg: cfg}
}

func (h *SSOHandler) ListProviders(c *fiber.Ctx) error {
	return utils.Success(c, fiber.StatusOK, fiber.Map{"providers": h.Providers.EnabledProviders()})
}

func (h *SSOHandler) ListLinkedAccounts(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var accounts []models.LinkedAccount
	if err := h.DB.Where("user_id = ?", user.ID).Order("linked_at ASC").Find(&accounts).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing linked accounts")
	}

	return utils.Success(c, fiber.StatusOK, withTabs(c, fiber.Map{"accounts": accounts}))
}

// Connect hands the client the provider's authorization URL. The state
// parameter is a short-lived signed token naming the linking user, so the
// callback can run without an Authorization header.
func (h *SSOHandler) Connect(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	provider := c.Params("provider")
	oauthCfg, err := h.Providers.GetOAuthConfig(provider)
	if err != nil {
		return utils.Error(c, fiber.StatusNotFound, err.Error())
	}

	state, err := utils.GenerateStateToken(user.ID, 10*time.Minute)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating state")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"authorizeURL": oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOnline),
	})
}

func (h *SSOHandler) Callback(c *fiber.Ctx) error {
	provider := c.Params("provider")
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		return utils.Error(c, fiber.StatusBadRequest, "missing code or state")
	}

	userID, err := utils.ValidateStateToken(state)
	if err != nil {
		return utils.Error(c, fiber.StatusForbidden, "invalid or expired state")
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", userID).Error; err != nil {
		return utils.Error(c, fiber.StatusForbidden, "unknown linking user")
	}

	token, err := h.Providers.ExchangeCode(c.Context(), provider, code)
	if err != nil {
		return utils.Error(c, fiber.StatusFailedDependency, "identity provider rejected the exchange")
	}

	profile, err := h.Providers.GetUserInfo(c.Context(), provider, token)
	if err != nil {
		return utils.Error(c, fiber.StatusFailedDependency, "failed fetching provider profile")
	}

	account := models.LinkedAccount{
		UserID:         user.ID,
		Provider:       provider,
		ProviderUserID: profile.ProviderUserID,
		Email:          profile.Email,
		LinkedAt:       time.Now().UTC(),
	}
	if err := h.DB.Create(&account).Error; err != nil {
		return utils.Error(c, fiber.StatusConflict, "provider already linked")
	}

	logger.InfoWithUser(user.ID.String(), "account_linked", map[string]interface{}{
		"provider": provider,
	})

	return c.Redirect(h.Cfg.Server.FrontendURL+"/account/linked", fiber.StatusFound)
}

func (h *SSOHandler) Unlink(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	accountID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid linked account id")
	}

	result := h.DB.Where("id = ? AND user_id = ?", accountID, user.ID).Delete(&models.LinkedAccount{})
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed unlinking account")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "linked account not found")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "account unlinked"})
}
