package model

import (
	"time"

	"gorm.io/datatypes"
)

// Row is a tenant-scoped record of an entity
type Row struct {
	ID                uint       `json:"id" gorm:"primaryKey"`
	EntityID          uint       `json:"entity_id" gorm:"index:idx_row_entity_tenant;not null"`
	TenantID          *uint      `json:"tenant_id,omitempty" gorm:"index:idx_row_entity_tenant"`
	Folio             int        `json:"folio" gorm:"not null"`
	CreatedByUserID   *uint      `json:"created_by_user_id,omitempty"`
	CreatedByAPIKeyID *uint      `json:"created_by_api_key_id,omitempty" gorm:"column:created_by_api_key_id"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	Values            []RowValue `json:"values" gorm:"foreignKey:RowID"`
}

// TableName avoids the ROWS keyword
func (Row) TableName() string {
	return "entity_rows"
}

// RowValue stores one property value of a row in the column matching its type
type RowValue struct {
	ID             uint           `json:"id" gorm:"primaryKey"`
	RowID          uint           `json:"row_id" gorm:"uniqueIndex:idx_row_property;not null"`
	PropertyID     uint           `json:"property_id" gorm:"uniqueIndex:idx_row_property;index;not null"`
	TextValue      *string        `json:"text_value,omitempty" gorm:"type:text"`
	NumberValue    *float64       `json:"number_value,omitempty"`
	BooleanValue   *bool          `json:"boolean_value,omitempty"`
	DateValue      *time.Time     `json:"date_value,omitempty"`
	MultipleValues datatypes.JSON `json:"multiple_values,omitempty"`
}
