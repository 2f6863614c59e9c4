package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/squire/backend/internal/middleware"
	"github.com/squire/backend/internal/models"
	"github.com/squire/backend/pkg/logger"
	"github.com/squire/backend/pkg/utils"
	"gorm.io/gorm"
)

type MFAHandler struct {
	DB *gorm.DB
}

func NewMFAHandler(db *gorm.DB) *MFAHandler {
	return &MFAHandler{DB: db}
}

func (h *MFAHandler) Status(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var mfaCfg models.MFAConfig
	hasMFA := h.DB.First(&mfaCfg, "user_id = ?", user.ID).Error == nil

	var verifiedAt *time.Time
	if hasMFA {
		verifiedAt = mfaCfg.TOTPVerifiedAt
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"totpEnabled":    hasMFA && mfaCfg.TOTPEnabled,
		"totpVerifiedAt": verifiedAt,
	})
}

func (h *MFAHandler) TOTPSetup(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var existing models.MFAConfig
	if err := h.DB.First(&existing, "user_id = ?", user.ID).Error; err == nil && existing.TOTPEnabled {
		return utils.Error(c, fiber.StatusConflict, "TOTP is already enabled")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "Squire",
		AccountName: user.Email,
	})
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to generate TOTP secret")
	}

	encryptedSecret, err := utils.EncryptAESGCM(key.Secret())
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to encrypt TOTP secret")
	}

	if existing.ID != uuid.Nil {
		if err := h.DB.Model(&existing).Updates(map[string]interface{}{
			"totp_secret":      encryptedSecret,
			"totp_enabled":     false,
			"totp_verified_at": nil,
		}).Error; err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed to update TOTP config")
		}
	} else {
		mfaCfg := models.MFAConfig{
			UserID:     user.ID,
			TOTPSecret: encryptedSecret,
		}
		if err := h.DB.Create(&mfaCfg).Error; err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed to save TOTP config")
		}
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"secret": key.Secret(),
		"qrUri":  key.URL(),
	})
}

type verifyTOTPRequest struct {
	Code string `json:"code"`
}

func (h *MFAHandler) TOTPVerifySetup(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req verifyTOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "code is required")
	}

	var mfaCfg models.MFAConfig
	if err := h.DB.First(&mfaCfg, "user_id = ?", user.ID).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "no pending TOTP setup")
	}

	secret, err := utils.DecryptAESGCM(mfaCfg.TOTPSecret)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to read TOTP secret")
	}

	if !totp.Validate(req.Code, secret) {
		return utils.Error(c, fiber.StatusBadRequest, "invalid code")
	}

	now := time.Now().UTC()
	if err := h.DB.Model(&mfaCfg).Updates(map[string]interface{}{
		"totp_enabled":     true,
		"totp_verified_at": now,
	}).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed enabling TOTP")
	}

	logger.InfoWithUser(user.ID.String(), "totp_enabled", nil)
	return utils.Success(c, fiber.StatusOK, fiber.Map{"totpEnabled": true})
}

func (h *MFAHandler) TOTPDisable(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req verifyTOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	var mfaCfg models.MFAConfig
	if err := h.DB.First(&mfaCfg, "user_id = ?", user.ID).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "TOTP is not configured")
	}

	secret, err := utils.DecryptAESGCM(mfaCfg.TOTPSecret)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to read TOTP secret")
	}
	if !totp.Validate(req.Code, secret) {
		return utils.Error(c, fiber.StatusBadRequest, "invalid code")
	}

	if err := h.DB.Delete(&mfaCfg).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed disabling TOTP")
	}

	logger.InfoWithUser(user.ID.String(), "totp_disabled", nil)
	return utils.Success(c, fiber.StatusOK, fiber.Map{"totpEnabled": false})
}
