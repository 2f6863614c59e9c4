package database

import (
	"fmt"
	"time"

	"github.com/squire/backend/internal/config"
	"github.com/squire/backend/internal/models"
	"github.com/squire/backend/pkg/logger"
	"github.com/squire/backend/pkg/utils"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func Connect(cfg config.DBConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := migrate(db); err != nil {
		return nil, err
	}

	if err := seedAdminUser(db); err != nil {
		return nil, err
	}

	return db, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Member{},
		&models.AssociationGroup{},
		&models.AssociationGroupMembership{},
		&models.GroupQuicklink{},
		&models.Activity{},
		&models.ActivityMoment{},
		&models.ActivitySlot{},
		&models.Participant{},
		&models.OrganiserLink{},
		&models.Item{},
		&models.Ownership{},
		&models.NCFolder{},
		&models.NCFile{},
		&models.LinkedAccount{},
		&models.MFAConfig{},
	); err != nil {
		return err
	}

	constraint := `
DO $$
BEGIN
  IF NOT EXISTS (
    SELECT 1
    FROM pg_constraint
    WHERE conname = 'ownership_owner_check'
  ) THEN
    ALTER TABLE ownerships
    ADD CONSTRAINT ownership_owner_check
    CHECK (
      (member_id IS NOT NULL AND group_id IS NULL)
      OR
      (member_id IS NULL AND group_id IS NOT NULL)
    );
  END IF;
END $$;`

	if err := db.Exec(constraint).Error; err != nil {
		return err
	}

	return BackfillSlotMoments(db)
}

// BackfillSlotMoments resolves legacy activity slots to an activity moment.
// Old rows linked an activity directly through a recurrence id; every such
// slot gets a get-or-create moment for (activity, recurrence id). Slots
// without a recurrence id fall back to the parent activity's start date.
func BackfillSlotMoments(db *gorm.DB) error {
	var slots []models.ActivitySlot
	if err := db.Where("moment_id IS NULL").Find(&slots).Error; err != nil {
		return err
	}

	for i := range slots {
		slot := &slots[i]
		if slot.LegacyActivityID == nil {
			logger.Warn("slot_backfill_orphan", map[string]interface{}{
				"slot_id": slot.ID.String(),
			})
			continue
		}

		var activity models.Activity
		if err := db.First(&activity, "id = ?", *slot.LegacyActivityID).Error; err != nil {
			return err
		}

		recurrenceID := activity.StartDate
		if slot.LegacyRecurrenceID != nil {
			recurrenceID = *slot.LegacyRecurrenceID
		} else {
			logger.Warn("slot_backfill_missing_recurrence", map[string]interface{}{
				"slot_id":     slot.ID.String(),
				"activity_id": activity.ID.String(),
				"fallback":    recurrenceID.Format(time.RFC3339),
			})
		}

		var moment models.ActivityMoment
		err := db.First(&moment, "activity_id = ? AND recurrence_id = ?", activity.ID, recurrenceID).Error
		if err == gorm.ErrRecordNotFound {
			moment = models.ActivityMoment{ActivityID: activity.ID, RecurrenceID: recurrenceID}
			if err := db.Create(&moment).Error; err != nil {
				return err
			}
			logger.Warn("slot_backfill_created_moment", map[string]interface{}{
				"slot_id":   slot.ID.String(),
				"moment_id": moment.ID.String(),
			})
		} else if err != nil {
			return err
		}

		if err := db.Model(slot).Update("moment_id", moment.ID).Error; err != nil {
			return err
		}
	}

	return nil
}

func seedAdminUser(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}

	if count > 0 {
		return nil
	}

	hash, err := utils.HashPassword("admin123")
	if err != nil {
		return err
	}

	admin := models.User{
		Email:        "admin@squire.local",
		PasswordHash: hash,
		FirstName:    "System",
		LastName:     "Admin",
		Role:         models.UserRoleAdmin,
	}

	return db.Create(&admin).Error
}
