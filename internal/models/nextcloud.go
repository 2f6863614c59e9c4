package models

import "github.com/google/uuid"

// NCFolder mirrors a folder on the association's remote file share. Path is
// the object-store prefix the folder's files live under. IsMissing records
// that the remote confirmed the folder no longer exists; it is flipped as
// best-effort repair when a download fails and must be cleared manually.
type NCFolder struct {
	BaseModel
	DisplayName string  `json:"displayName" gorm:"type:varchar(150);not null"`
	Slug        string  `json:"slug" gorm:"type:varchar(150);uniqueIndex;not null"`
	Description *string `json:"description,omitempty" gorm:"type:text"`
	Path        string  `json:"path" gorm:"type:text;not null"`
	IsMissing   bool    `json:"isMissing" gorm:"not null;default:false"`

	RequiresMembership bool `json:"requiresMembership" gorm:"not null;default:true"`

	Files []NCFile `json:"files,omitempty" gorm:"foreignKey:FolderID"`
}

// NCFile mirrors one file inside an NCFolder.
type NCFile struct {
	BaseModel
	FolderID    uuid.UUID `json:"folderID" gorm:"type:uuid;not null;index;uniqueIndex:idx_folder_slug"`
	Slug        string    `json:"slug" gorm:"type:varchar(150);not null;uniqueIndex:idx_folder_slug"`
	FileName    string    `json:"fileName" gorm:"type:varchar(255);not null"`
	ContentType string    `json:"contentType" gorm:"type:varchar(255);not null;default:'application/octet-stream'"`
	Size        int64     `json:"size" gorm:"not null;default:0"`
	IsMissing   bool      `json:"isMissing" gorm:"not null;default:false"`

	Folder NCFolder `json:"-" gorm:"foreignKey:FolderID"`
}

// ObjectName is the object-store key for this file.
func (f *NCFile) ObjectName(folder *NCFolder) string {
	return folder.Path + "/" + f.FileName
}
