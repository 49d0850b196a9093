package model

import "time"

// Entity permissions granted to an API key
const (
	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// APIKey authenticates machine access to a tenant's rows
type APIKey struct {
	ID              uint           `json:"id" gorm:"primaryKey"`
	TenantID        uint           `json:"tenant_id" gorm:"index;not null"`
	Alias           string         `json:"alias" gorm:"type:varchar(100);not null"`
	Prefix          string         `json:"prefix" gorm:"type:varchar(16);uniqueIndex;not null"`
	Hash            string         `json:"-" gorm:"type:varchar(255);not null"`
	Active          bool           `json:"active" gorm:"default:true"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
	CreatedByUserID *uint          `json:"created_by_user_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Entities        []APIKeyEntity `json:"entities" gorm:"foreignKey:APIKeyID"`
}

// Allows reports whether the key grants action on entityID
func (k *APIKey) Allows(entityID uint, action string) bool {
	for _, e := range k.Entities {
		if e.EntityID != entityID {
			continue
		}
		switch action {
		case ActionCreate:
			return e.Create
		case ActionRead:
			return e.Read
		case ActionUpdate:
			return e.Update
		case ActionDelete:
			return e.Delete
		}
	}
	return false
}

// APIKeyEntity holds CRUD permissions of a key on one entity
type APIKeyEntity struct {
	ID       uint `json:"id" gorm:"primaryKey"`
	APIKeyID uint `json:"api_key_id" gorm:"column:api_key_id;uniqueIndex:idx_api_key_entity;not null"`
	EntityID uint `json:"entity_id" gorm:"uniqueIndex:idx_api_key_entity;not null"`
	Create   bool `json:"create" gorm:"column:can_create"`
	Read     bool `json:"read" gorm:"column:can_read"`
	Update   bool `json:"update" gorm:"column:can_update"`
	Delete   bool `json:"delete" gorm:"column:can_delete"`
}

// APIKeyLog records one call made with a key
type APIKeyLog struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	APIKeyID  uint      `json:"api_key_id" gorm:"column:api_key_id;index;not null"`
	Method    string    `json:"method" gorm:"type:varchar(10)"`
	Endpoint  string    `json:"endpoint" gorm:"type:varchar(255)"`
	Status    int       `json:"status"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}
