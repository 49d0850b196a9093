package model

import (
	"time"

	"gorm.io/gorm"
)

// Tenant roles, ranked owner > admin > member
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// RoleRank orders roles so permission checks can compare them
func RoleRank(role string) int {
	switch role {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleMember:
		return 1
	}
	return 0
}

// ValidRole reports whether role is a known tenant role
func ValidRole(role string) bool {
	return RoleRank(role) > 0
}

// Tenant represents a customer organization
type Tenant struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	Name      string         `json:"name" gorm:"type:varchar(100);not null"`
	Slug      string         `json:"slug" gorm:"type:varchar(100);uniqueIndex;not null"`
	Icon      string         `json:"icon" gorm:"type:varchar(255)"`
	OwnerID   uint           `json:"owner_id" gorm:"index;not null"`
	Active    bool           `json:"active" gorm:"default:true"`
	Settings  string         `json:"settings" gorm:"type:text"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// UserTenant represents the association between users and tenants
type UserTenant struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"user_id" gorm:"uniqueIndex:idx_user_tenant;not null"`
	TenantID  uint      `json:"tenant_id" gorm:"uniqueIndex:idx_user_tenant;index;not null"`
	Role      string    `json:"role" gorm:"type:varchar(20);not null;default:'member'"`
	IsDefault bool      `json:"is_default" gorm:"default:false"`
	Active    bool      `json:"active" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	User   User   `json:"user,omitempty" gorm:"foreignKey:UserID"`
	Tenant Tenant `json:"tenant,omitempty" gorm:"foreignKey:TenantID"`
}
