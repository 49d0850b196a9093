package model

import (
	"time"

	"gorm.io/gorm"
)

// User represents an account that can belong to many tenants
type User struct {
	ID              uint           `json:"id" gorm:"primaryKey"`
	Email           string         `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	Password        string         `json:"-" gorm:"type:varchar(255);not null"`
	FirstName       string         `json:"first_name" gorm:"type:varchar(100)"`
	LastName        string         `json:"last_name" gorm:"type:varchar(100)"`
	IsAdmin         bool           `json:"is_admin" gorm:"default:false"`
	DefaultTenantID *uint          `json:"default_tenant_id,omitempty" gorm:"index"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `json:"-" gorm:"index"`
}
