package model

import "time"

// Subscription statuses
const (
	SubscriptionActive   = "active"
	SubscriptionCanceled = "canceled"
)

// SubscriptionPlan limits what a tenant can use. A zero limit means unlimited.
type SubscriptionPlan struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	Slug           string    `json:"slug" gorm:"type:varchar(50);uniqueIndex;not null"`
	Title          string    `json:"title" gorm:"type:varchar(100);not null"`
	Description    string    `json:"description" gorm:"type:text"`
	PriceCents     int       `json:"price_cents" gorm:"default:0"`
	Currency       string    `json:"currency" gorm:"type:varchar(3);default:'usd'"`
	MonthlyCredits int       `json:"monthly_credits" gorm:"default:0"`
	MaxUsers       int       `json:"max_users" gorm:"default:0"`
	MaxRows        int       `json:"max_rows" gorm:"default:0"`
	Order          int       `json:"order" gorm:"column:sort_order;default:0"`
	Active         bool      `json:"active" gorm:"default:true"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TenantSubscription binds a tenant to a plan for a billing period
type TenantSubscription struct {
	ID                 uint             `json:"id" gorm:"primaryKey"`
	TenantID           uint             `json:"tenant_id" gorm:"uniqueIndex;not null"`
	PlanID             uint             `json:"plan_id" gorm:"not null"`
	Status             string           `json:"status" gorm:"type:varchar(20);not null"`
	CurrentPeriodStart time.Time        `json:"current_period_start"`
	CurrentPeriodEnd   time.Time        `json:"current_period_end"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
	Plan               SubscriptionPlan `json:"plan" gorm:"foreignKey:PlanID"`
}

// Credit is one ledger entry of consumed credits
type Credit struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	TenantID  uint      `json:"tenant_id" gorm:"index;not null"`
	UserID    *uint     `json:"user_id,omitempty"`
	Type      string    `json:"type" gorm:"type:varchar(50);not null"`
	ObjectID  string    `json:"object_id" gorm:"type:varchar(100)"`
	Amount    int       `json:"amount" gorm:"not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}
