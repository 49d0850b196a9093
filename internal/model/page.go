package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Block is one section of a page
type Block struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Page is a marketing page composed of blocks
type Page struct {
	ID          uint                        `json:"id" gorm:"primaryKey"`
	Slug        string                      `json:"slug" gorm:"type:varchar(150);uniqueIndex;not null"`
	Title       string                      `json:"title" gorm:"type:varchar(150);not null"`
	Description string                      `json:"description" gorm:"type:text"`
	IsPublished bool                        `json:"is_published" gorm:"default:false"`
	Blocks      datatypes.JSONType[[]Block] `json:"blocks"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}
