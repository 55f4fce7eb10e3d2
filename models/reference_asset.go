package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ReferenceAsset struct {
	ID             uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"asset_id"`
	UserID         uint                        `gorm:"not null;index;uniqueIndex:idx_reference_asset_user_image" json:"user_id"`
	User           User                        `gorm:"foreignKey:UserID" json:"-"`
	Kind           string                      `gorm:"size:16;not null" json:"kind"` // product|logo|other
	PrimarySubject string                      `gorm:"size:255" json:"primary_subject"`
	StyleTags      datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"style_tags"`
	ColorTags      datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"color_tags"`
	ImageURL       string                      `gorm:"type:text;not null;uniqueIndex:idx_reference_asset_user_image" json:"image_url"`
	UsageCount     int                         `gorm:"not null;default:0" json:"usage_count"`
	CreatedAt      time.Time                   `gorm:"not null;index" json:"created_at"`
	UpdatedAt      time.Time                   `json:"updated_at"`
	// Soft delete only: the pipeline never removes a user's asset.
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (ReferenceAsset) TableName() string {
	return "reference_assets"
}
