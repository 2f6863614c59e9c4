package handlers

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/squire/backend/internal/middleware"
	"github.com/squire/backend/internal/models"
	"github.com/squire/backend/internal/storage"
	"github.com/squire/backend/pkg/logger"
	"github.com/squire/backend/pkg/utils"
	"gorm.io/gorm"
)

// NextcloudHandler serves the mirrored file share: folder and file metadata
// live in the database, the bytes live on the remote object store. Downloads
// that hit a missing remote object repair the mirror's is_missing flags.
type NextcloudHandler struct {
	DB     *gorm.DB
	Remote storage.Remote
}

func NewNextcloudHandler(db *gorm.DB, remote storage.Remote) *NextcloudHandler {
	return &NextcloudHandler{DB: db, Remote: remote}
}

// Enabled reports whether a remote backend is configured at all.
func (h *NextcloudHandler) Enabled() bool {
	return h.Remote != nil
}

func (h *NextcloudHandler) requireRemote(c *fiber.Ctx) error {
	if h.Remote == nil {
		return utils.Error(c, fiber.StatusFailedDependency, "file share is not configured")
	}
	return nil
}

// folderAccessible applies the folder's membership requirement.
func folderAccessible(c *fiber.Ctx, folder *models.NCFolder) bool {
	if !folder.RequiresMembership {
		return true
	}
	return middleware.GetCurrentMember(c) != nil
}

// ListFolders lists the folders the caller may see. Missing folders stay
// listed, flagged, so the board notices them.
func (h *NextcloudHandler) ListFolders(c *fiber.Ctx) error {
	var folders []models.NCFolder
	if err := h.DB.Order("display_name ASC").Find(&folders).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing folders")
	}

	visible := make([]models.NCFolder, 0, len(folders))
	for i := range folders {
		if folderAccessible(c, &folders[i]) {
			visible = append(visible, folders[i])
		}
	}

	return utils.Success(c, fiber.StatusOK, visible)
}

func (h *NextcloudHandler) loadFolder(c *fiber.Ctx) (*models.NCFolder, error) {
	slug := c.Params("folder")
	var folder models.NCFolder
	if err := h.DB.First(&folder, "slug = ?", slug).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fiber.NewError(fiber.StatusNotFound, "folder not found")
		}
		return nil, fiber.NewError(fiber.StatusInternalServerError, "failed loading folder")
	}
	if !folderAccessible(c, &folder) {
		return nil, fiber.NewError(fiber.StatusForbidden, "membership required for this folder")
	}
	return &folder, nil
}

// FolderContents returns the folder's file listing from the mirror metadata.
// No remote call happens here; staleness surfaces at download time.
func (h *NextcloudHandler) FolderContents(c *fiber.Ctx) error {
	folder, err := h.loadFolder(c)
	if err != nil {
		fe := err.(*fiber.Error)
		return utils.Error(c, fe.Code, fe.Message)
	}

	var files []models.NCFile
	if err := h.DB.Where("folder_id = ?", folder.ID).Order("file_name ASC").Find(&files).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing files")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"folder": folder,
		"files":  files,
	})
}

type createFolderRequest struct {
	DisplayName        string  `json:"displayName"`
	Description        *string `json:"description"`
	RequiresMembership *bool   `json:"requiresMembership"`
}

// CreateFolder registers a mirror folder (admin only). The object-store
// prefix is derived from the slug.
func (h *NextcloudHandler) CreateFolder(c *fiber.Ctx) error {
	var req createFolderRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.DisplayName == "" {
		return utils.Error(c, fiber.StatusBadRequest, "displayName is required")
	}

	slug := slugify(req.DisplayName)
	if slug == "" {
		return utils.Error(c, fiber.StatusBadRequest, "displayName yields an empty slug")
	}

	folder := models.NCFolder{
		DisplayName:        req.DisplayName,
		Slug:               slug,
		Description:        req.Description,
		Path:               "squire/" + slug,
		RequiresMembership: true,
	}
	if req.RequiresMembership != nil {
		folder.RequiresMembership = *req.RequiresMembership
	}

	if err := h.DB.Create(&folder).Error; err != nil {
		return utils.Error(c, fiber.StatusConflict, "a folder with this name already exists")
	}

	logger.Info("folder_created", map[string]interface{}{
		"folder_id": folder.ID.String(),
		"slug":      folder.Slug,
	})

	return utils.Success(c, fiber.StatusCreated, folder)
}

// SyncFile uploads a file into a folder and records it in the mirror (admin
// only). Re-uploading an existing slug replaces the object and refreshes the
// metadata.
func (h *NextcloudHandler) SyncFile(c *fiber.Ctx) error {
	if err := h.requireRemote(c); err != nil {
		return err
	}

	folder, err := h.loadFolder(c)
	if err != nil {
		fe := err.(*fiber.Error)
		return utils.Error(c, fe.Code, fe.Message)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "file is required")
	}

	slug := slugify(strings.TrimSuffix(fileHeader.Filename, extensionOf(fileHeader.Filename)))
	if slug == "" {
		return utils.Error(c, fiber.StatusBadRequest, "file name yields an empty slug")
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	src, err := fileHeader.Open()
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed reading upload")
	}
	defer src.Close()

	file := models.NCFile{
		FolderID:    folder.ID,
		Slug:        slug,
		FileName:    fileHeader.Filename,
		ContentType: contentType,
		Size:        fileHeader.Size,
	}

	if err := h.Remote.Upload(c.Context(), file.ObjectName(folder), src, fileHeader.Size, contentType); err != nil {
		return utils.Error(c, fiber.StatusFailedDependency, "file share refused the upload")
	}

	var existing models.NCFile
	lookupErr := h.DB.First(&existing, "folder_id = ? AND slug = ?", folder.ID, slug).Error
	switch {
	case lookupErr == nil:
		updates := map[string]interface{}{
			"file_name":    file.FileName,
			"content_type": file.ContentType,
			"size":         file.Size,
			"is_missing":   false,
		}
		if err := h.DB.Model(&existing).Updates(updates).Error; err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed updating file record")
		}
		file = existing
	case lookupErr == gorm.ErrRecordNotFound:
		if err := h.DB.Create(&file).Error; err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed recording file")
		}
	default:
		return utils.Error(c, fiber.StatusInternalServerError, "failed recording file")
	}

	logger.Info("file_synced", map[string]interface{}{
		"folder_id": folder.ID.String(),
		"file_slug": file.Slug,
		"size":      file.Size,
	})

	return utils.Success(c, fiber.StatusCreated, file)
}

func extensionOf(name string) string {
	if idx := strings.LastIndex(name, "."); idx > 0 {
		return name[idx:]
	}
	return ""
}

// DownloadFile streams a file from the remote. A missing remote object marks
// the mirror record (file, or the whole folder when its prefix is gone) and
// redirects back to the folder with a human-readable message. An unreachable
// remote is a plain 424.
func (h *NextcloudHandler) DownloadFile(c *fiber.Ctx) error {
	if err := h.requireRemote(c); err != nil {
		return err
	}

	folder, err := h.loadFolder(c)
	if err != nil {
		fe := err.(*fiber.Error)
		return utils.Error(c, fe.Code, fe.Message)
	}

	var file models.NCFile
	if err := h.DB.First(&file, "folder_id = ? AND slug = ?", folder.ID, c.Params("file")).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.Error(c, fiber.StatusNotFound, "file not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading file")
	}

	reader, err := h.Remote.Download(c.Context(), file.ObjectName(folder))
	if err != nil {
		if errors.Is(err, storage.ErrObjectMissing) {
			return h.repairMissing(c, folder, &file)
		}
		return utils.Error(c, fiber.StatusFailedDependency, "file share is unreachable")
	}

	c.Set(fiber.HeaderContentType, file.ContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", file.FileName))
	return c.SendStream(reader)
}

// repairMissing distinguishes "this file is gone" from "the whole folder is
// gone" by probing the folder prefix, flags the right record, and bounces the
// client back with an explanation.
func (h *NextcloudHandler) repairMissing(c *fiber.Ctx, folder *models.NCFolder, file *models.NCFile) error {
	message := fmt.Sprintf("The file %q seems to have disappeared from the file share.", file.FileName)

	objects, listErr := h.Remote.List(c.Context(), folder.Path+"/")
	if listErr == nil && len(objects) == 0 {
		if err := h.DB.Model(folder).Update("is_missing", true).Error; err != nil {
			logger.Error("folder_repair_failed", err, map[string]interface{}{
				"folder_id": folder.ID.String(),
			})
		}
		message = fmt.Sprintf("The folder %q seems to have disappeared from the file share.", folder.DisplayName)
	}

	if err := h.DB.Model(file).Update("is_missing", true).Error; err != nil {
		logger.Error("file_repair_failed", err, map[string]interface{}{
			"file_id": file.ID.String(),
		})
	}

	logger.Warn("remote_object_missing", map[string]interface{}{
		"folder_id": folder.ID.String(),
		"file_id":   file.ID.String(),
	})

	return c.Redirect(
		fmt.Sprintf("/api/nextcloud/folders/%s?notice=%s", folder.Slug, url.QueryEscape(message)),
		fiber.StatusFound,
	)
}

// DeleteFile removes a file from the remote and the mirror (admin only). A
// remote object that is already gone is not an error.
func (h *NextcloudHandler) DeleteFile(c *fiber.Ctx) error {
	if err := h.requireRemote(c); err != nil {
		return err
	}

	folder, err := h.loadFolder(c)
	if err != nil {
		fe := err.(*fiber.Error)
		return utils.Error(c, fe.Code, fe.Message)
	}

	var file models.NCFile
	if err := h.DB.First(&file, "folder_id = ? AND slug = ?", folder.ID, c.Params("file")).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.Error(c, fiber.StatusNotFound, "file not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading file")
	}

	if err := h.Remote.Delete(c.Context(), file.ObjectName(folder)); err != nil && !errors.Is(err, storage.ErrObjectMissing) {
		return utils.Error(c, fiber.StatusFailedDependency, "file share is unreachable")
	}

	if err := h.DB.Delete(&file).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting file record")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "file deleted"})
}
