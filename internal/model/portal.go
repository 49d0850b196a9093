package model

import "time"

// Portal is a customer-facing site of a tenant served on a subdomain or a
// custom domain
type Portal struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	TenantID        uint      `json:"tenant_id" gorm:"index;not null"`
	Subdomain       string    `json:"subdomain" gorm:"type:varchar(63);uniqueIndex;not null"`
	Domain          *string   `json:"domain,omitempty" gorm:"type:varchar(255);uniqueIndex"`
	Title           string    `json:"title" gorm:"type:varchar(150);not null"`
	Description     string    `json:"description" gorm:"type:text"`
	ThemeColor      string    `json:"theme_color" gorm:"type:varchar(20)"`
	IsPublished     bool      `json:"is_published" gorm:"default:false"`
	CreatedByUserID *uint     `json:"created_by_user_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
