package model

import (
	"time"

	"gorm.io/datatypes"
)

// AnalyticsUniqueVisitor is identified by a cookie and keeps first-touch
// attribution
type AnalyticsUniqueVisitor struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Cookie       string    `json:"cookie" gorm:"type:varchar(64);uniqueIndex;not null"`
	Via          string    `json:"via" gorm:"type:varchar(255)"`
	HTTPReferrer string    `json:"http_referrer" gorm:"column:http_referrer;type:varchar(500)"`
	Browser      string    `json:"browser" gorm:"type:varchar(50)"`
	OS           string    `json:"os" gorm:"column:os;type:varchar(50)"`
	Device       string    `json:"device" gorm:"type:varchar(20)"`
	Source       string    `json:"source" gorm:"type:varchar(255)"`
	Medium       string    `json:"medium" gorm:"type:varchar(255)"`
	Campaign     string    `json:"campaign" gorm:"type:varchar(255)"`
	FirstURL     string    `json:"first_url" gorm:"column:first_url;type:varchar(500)"`
	PortalID     *uint     `json:"portal_id,omitempty" gorm:"index"`
	CreatedAt    time.Time `json:"created_at"`
}

// AnalyticsPageView is one page load of a visitor
type AnalyticsPageView struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	UniqueVisitorID uint      `json:"unique_visitor_id" gorm:"index;not null"`
	URL             string    `json:"url" gorm:"column:url;type:varchar(500);not null"`
	Route           string    `json:"route" gorm:"type:varchar(255)"`
	PortalID        *uint     `json:"portal_id,omitempty" gorm:"index"`
	CreatedAt       time.Time `json:"created_at" gorm:"index"`
}

// AnalyticsEvent is a named interaction of a visitor
type AnalyticsEvent struct {
	ID              uint           `json:"id" gorm:"primaryKey"`
	UniqueVisitorID uint           `json:"unique_visitor_id" gorm:"index;not null"`
	Action          string         `json:"action" gorm:"type:varchar(100);not null"`
	Category        string         `json:"category" gorm:"type:varchar(100)"`
	Label           string         `json:"label" gorm:"type:varchar(255)"`
	Value           string         `json:"value" gorm:"type:varchar(255)"`
	URL             string         `json:"url" gorm:"column:url;type:varchar(500)"`
	Route           string         `json:"route" gorm:"type:varchar(255)"`
	PortalID        *uint          `json:"portal_id,omitempty" gorm:"index"`
	Metadata        datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at" gorm:"index"`
}
