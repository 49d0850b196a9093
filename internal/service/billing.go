package service

import (
	"context"
	"fmt"
	"time"

	"saaskit/internal/model"
	"saaskit/pkg/apperror"
	"saaskit/pkg/cache"
	"saaskit/pkg/logger"
	"saaskit/prometheus"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Credit types
const (
	CreditPromptTemplate = "prompt-template"
)

// LimitKind names a plan limit
type LimitKind string

const (
	LimitUsers   LimitKind = "users"
	LimitRows    LimitKind = "rows"
	LimitCredits LimitKind = "credits"
)

// UsageItem compares usage with a plan limit. Limit 0 means unlimited and
// Remaining is then -1.
type UsageItem struct {
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
}

func newUsageItem(used int64, limit int) UsageItem {
	item := UsageItem{Used: used, Limit: int64(limit), Remaining: -1}
	if limit > 0 {
		item.Remaining = int64(limit) - used
		if item.Remaining < 0 {
			item.Remaining = 0
		}
	}
	return item
}

// Unlimited reports whether the limit is unbounded
func (u UsageItem) Unlimited() bool {
	return u.Limit == 0
}

// Usage is the state of a tenant against its plan
type Usage struct {
	Plan        model.SubscriptionPlan `json:"plan"`
	PeriodStart time.Time              `json:"period_start"`
	PeriodEnd   time.Time              `json:"period_end"`
	Credits     UsageItem              `json:"credits"`
	Users       UsageItem              `json:"users"`
	Rows        UsageItem              `json:"rows"`
}

// PlanInput creates or updates a plan by slug
type PlanInput struct {
	Slug           string `json:"slug" validate:"required,max=50"`
	Title          string `json:"title" validate:"required,max=100"`
	Description    string `json:"description"`
	PriceCents     int    `json:"price_cents" validate:"gte=0"`
	Currency       string `json:"currency" validate:"omitempty,len=3"`
	MonthlyCredits int    `json:"monthly_credits" validate:"gte=0"`
	MaxUsers       int    `json:"max_users" validate:"gte=0"`
	MaxRows        int    `json:"max_rows" validate:"gte=0"`
	Order          int    `json:"order"`
	Active         *bool  `json:"active"`
}

// ConsumeInput describes credits to take from a tenant
type ConsumeInput struct {
	TenantID uint
	UserID   *uint
	Type     string
	ObjectID string
	Amount   int
}

// BillingService manages plans, subscriptions and the credit ledger
type BillingService struct {
	db          *gorm.DB
	cache       *cache.Cache
	defaultPlan string
	now         func() time.Time
}

// NewBillingService creates a billing service
func NewBillingService(db *gorm.DB, c *cache.Cache, defaultPlan string) *BillingService {
	return &BillingService{db: db, cache: c, defaultPlan: defaultPlan, now: nowFunc}
}

// DefaultPlans are the plans seeded on a fresh install
func DefaultPlans() []model.SubscriptionPlan {
	return []model.SubscriptionPlan{
		{Slug: "free", Title: "Free", Description: "Get started", MonthlyCredits: 10, MaxUsers: 2, MaxRows: 100, Order: 1, Active: true, Currency: "usd"},
		{Slug: "pro", Title: "Pro", Description: "For growing teams", PriceCents: 2900, MonthlyCredits: 1000, MaxUsers: 10, MaxRows: 10000, Order: 2, Active: true, Currency: "usd"},
		{Slug: "enterprise", Title: "Enterprise", Description: "No limits", PriceCents: 19900, Order: 3, Active: true, Currency: "usd"},
	}
}

// SeedDefaultPlans creates the default plans that do not exist yet
func (s *BillingService) SeedDefaultPlans(ctx context.Context) error {
	for _, plan := range DefaultPlans() {
		plan := plan
		err := s.db.WithContext(ctx).Where("slug = ?", plan.Slug).FirstOrCreate(&plan).Error
		if err != nil {
			return apperror.DB(err, "plan")
		}
	}
	return nil
}

// ListPlans returns plans ordered for display
func (s *BillingService) ListPlans(ctx context.Context, activeOnly bool) ([]model.SubscriptionPlan, error) {
	query := s.db.WithContext(ctx).Order("sort_order ASC, id ASC")
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var plans []model.SubscriptionPlan
	if err := query.Find(&plans).Error; err != nil {
		return nil, apperror.DB(err, "plan")
	}
	return plans, nil
}

// GetPlan returns a plan by slug
func (s *BillingService) GetPlan(ctx context.Context, slug string) (*model.SubscriptionPlan, error) {
	var plan model.SubscriptionPlan
	if err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&plan).Error; err != nil {
		return nil, apperror.DB(err, "plan")
	}
	return &plan, nil
}

// UpsertPlan creates the plan or updates the one with the same slug
func (s *BillingService) UpsertPlan(ctx context.Context, in PlanInput) (*model.SubscriptionPlan, error) {
	slug := Slugify(in.Slug)
	if slug == "" {
		return nil, apperror.Invalid("slug is required").WithField("slug", "is required")
	}

	var plan model.SubscriptionPlan
	err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&plan).Error
	if err != nil && !apperror.Is(apperror.DB(err, "plan"), apperror.CodeNotFound) {
		return nil, apperror.DB(err, "plan")
	}

	plan.Slug = slug
	plan.Title = in.Title
	plan.Description = in.Description
	plan.PriceCents = in.PriceCents
	plan.Currency = in.Currency
	if plan.Currency == "" {
		plan.Currency = "usd"
	}
	plan.MonthlyCredits = in.MonthlyCredits
	plan.MaxUsers = in.MaxUsers
	plan.MaxRows = in.MaxRows
	plan.Order = in.Order
	plan.Active = in.Active == nil || *in.Active

	active := plan.Active
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&plan).Error; err != nil {
			return err
		}
		// a false default:true column is skipped on insert
		return tx.Model(&plan).Update("active", active).Error
	})
	if err != nil {
		return nil, apperror.DB(err, "plan")
	}
	plan.Active = active
	s.cache.DeletePrefix("plan:")
	s.cache.DeletePrefix("page:")
	return &plan, nil
}

// Subscribe moves a tenant to a plan starting a new monthly period now
func (s *BillingService) Subscribe(ctx context.Context, tenantID uint, planSlug string) (*model.TenantSubscription, error) {
	plan, err := s.GetPlan(ctx, planSlug)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, apperror.Invalid("plan is not active")
	}

	start := s.now()
	sub := model.TenantSubscription{TenantID: tenantID}
	err = s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).FirstOrInit(&sub).Error
	if err != nil {
		return nil, apperror.DB(err, "subscription")
	}
	sub.PlanID = plan.ID
	sub.Status = model.SubscriptionActive
	sub.CurrentPeriodStart = start
	sub.CurrentPeriodEnd = start.AddDate(0, 1, 0)
	if err := s.db.WithContext(ctx).Save(&sub).Error; err != nil {
		return nil, apperror.DB(err, "subscription")
	}
	sub.Plan = *plan

	s.cache.Delete(planCacheKey(tenantID))
	logger.FromCtx(ctx).Info("Tenant subscribed",
		zap.Uint("tenant_id", tenantID),
		zap.String("plan", plan.Slug))
	return &sub, nil
}

// CancelSubscription drops the tenant back to the default plan
func (s *BillingService) CancelSubscription(ctx context.Context, tenantID uint) error {
	result := s.db.WithContext(ctx).Model(&model.TenantSubscription{}).
		Where("tenant_id = ?", tenantID).
		Update("status", model.SubscriptionCanceled)
	if result.Error != nil {
		return apperror.DB(result.Error, "subscription")
	}
	if result.RowsAffected == 0 {
		return apperror.NotFound("subscription")
	}
	s.cache.Delete(planCacheKey(tenantID))
	return nil
}

func planCacheKey(tenantID uint) string {
	return fmt.Sprintf("plan:%d", tenantID)
}

// PlanFor returns the plan of the tenant's active subscription or the
// configured default plan. When the default plan is not in the database an
// unlimited placeholder is returned.
func (s *BillingService) PlanFor(ctx context.Context, tenantID uint) (*model.SubscriptionPlan, error) {
	return cache.Cachified(ctx, s.cache, planCacheKey(tenantID), 0, func(ctx context.Context) (*model.SubscriptionPlan, error) {
		sub, err := s.activeSubscription(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if sub != nil {
			return &sub.Plan, nil
		}

		plan, err := s.GetPlan(ctx, s.defaultPlan)
		if apperror.Is(err, apperror.CodeNotFound) {
			logger.FromCtx(ctx).Warn("Default plan not found, treating tenant as unlimited",
				zap.String("plan", s.defaultPlan))
			return &model.SubscriptionPlan{Slug: s.defaultPlan, Title: s.defaultPlan, Active: true}, nil
		}
		return plan, err
	})
}

func (s *BillingService) activeSubscription(ctx context.Context, tenantID uint) (*model.TenantSubscription, error) {
	var sub model.TenantSubscription
	err := s.db.WithContext(ctx).Preload("Plan").
		Where("tenant_id = ? AND status = ?", tenantID, model.SubscriptionActive).
		First(&sub).Error
	if err != nil {
		if apperror.Is(apperror.DB(err, "subscription"), apperror.CodeNotFound) {
			return nil, nil
		}
		return nil, apperror.DB(err, "subscription")
	}
	return &sub, nil
}

// CurrentPeriod returns the billing period containing now. Subscription
// periods are rolled forward month by month once they end; tenants without a
// subscription use the calendar month.
func (s *BillingService) CurrentPeriod(ctx context.Context, tenantID uint) (time.Time, time.Time, error) {
	now := s.now()
	sub, err := s.activeSubscription(ctx, tenantID)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if sub == nil {
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0), nil
	}

	start, end := sub.CurrentPeriodStart, sub.CurrentPeriodEnd
	if !now.Before(end) {
		months := 0
		for !now.Before(end) {
			months++
			start = sub.CurrentPeriodStart.AddDate(0, months, 0)
			end = sub.CurrentPeriodStart.AddDate(0, months+1, 0)
		}
		err := s.db.WithContext(ctx).Model(sub).Updates(map[string]interface{}{
			"current_period_start": start,
			"current_period_end":   end,
		}).Error
		if err != nil {
			return time.Time{}, time.Time{}, apperror.DB(err, "subscription")
		}
	}
	return start, end, nil
}

func (s *BillingService) creditsUsed(ctx context.Context, db *gorm.DB, tenantID uint, start, end time.Time) (int64, error) {
	var used int64
	err := db.WithContext(ctx).Model(&model.Credit{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("tenant_id = ? AND created_at >= ? AND created_at < ?", tenantID, start, end).
		Scan(&used).Error
	return used, apperror.DB(err, "credit")
}

func (s *BillingService) countUsers(ctx context.Context, tenantID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.UserTenant{}).
		Where("tenant_id = ? AND active = ?", tenantID, true).Count(&n).Error
	return n, apperror.DB(err, "member")
}

func (s *BillingService) countRows(ctx context.Context, tenantID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Row{}).Where("tenant_id = ?", tenantID).Count(&n).Error
	return n, apperror.DB(err, "row")
}

// Usage reports credits, users and rows against the tenant's plan
func (s *BillingService) Usage(ctx context.Context, tenantID uint) (*Usage, error) {
	plan, err := s.PlanFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	start, end, err := s.CurrentPeriod(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	credits, err := s.creditsUsed(ctx, s.db, tenantID, start, end)
	if err != nil {
		return nil, err
	}
	users, err := s.countUsers(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	rows, err := s.countRows(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	return &Usage{
		Plan:        *plan,
		PeriodStart: start,
		PeriodEnd:   end,
		Credits:     newUsageItem(credits, plan.MonthlyCredits),
		Users:       newUsageItem(users, plan.MaxUsers),
		Rows:        newUsageItem(rows, plan.MaxRows),
	}, nil
}

// CheckLimit fails with CodeLimitExceeded (or CodeInsufficientCredits) when
// adding more of kind would exceed the tenant's plan
func (s *BillingService) CheckLimit(ctx context.Context, tenantID uint, kind LimitKind, adding int) error {
	plan, err := s.PlanFor(ctx, tenantID)
	if err != nil {
		return err
	}

	var limit int
	var used int64
	switch kind {
	case LimitUsers:
		limit = plan.MaxUsers
		if limit > 0 {
			used, err = s.countUsers(ctx, tenantID)
		}
	case LimitRows:
		limit = plan.MaxRows
		if limit > 0 {
			used, err = s.countRows(ctx, tenantID)
		}
	case LimitCredits:
		limit = plan.MonthlyCredits
		if limit > 0 {
			var start, end time.Time
			start, end, err = s.CurrentPeriod(ctx, tenantID)
			if err == nil {
				used, err = s.creditsUsed(ctx, s.db, tenantID, start, end)
			}
		}
	default:
		return apperror.Newf(apperror.CodeInternal, "unknown limit %q", kind)
	}
	if err != nil {
		return err
	}

	if limit > 0 && used+int64(adding) > int64(limit) {
		if kind == LimitCredits {
			return apperror.Newf(apperror.CodeInsufficientCredits,
				"not enough credits: %d remaining, %d required", int64(limit)-used, adding)
		}
		return apperror.Newf(apperror.CodeLimitExceeded,
			"plan %s allows %d %s", plan.Slug, limit, kind)
	}
	return nil
}

// Consume records consumed credits, failing when the plan allowance would be
// exceeded
func (s *BillingService) Consume(ctx context.Context, in ConsumeInput) error {
	if in.Amount <= 0 {
		return apperror.Invalid("credit amount must be positive")
	}
	if err := s.CheckLimit(ctx, in.TenantID, LimitCredits, in.Amount); err != nil {
		return err
	}

	credit := model.Credit{
		TenantID:  in.TenantID,
		UserID:    in.UserID,
		Type:      in.Type,
		ObjectID:  in.ObjectID,
		Amount:    in.Amount,
		CreatedAt: s.now(),
	}
	defer prometheus.TrackDBOperation("insert")(time.Now())
	if err := s.db.WithContext(ctx).Create(&credit).Error; err != nil {
		return apperror.DB(err, "credit")
	}
	prometheus.RecordCreditsConsumed(in.Type, in.Amount)
	return nil
}

// ListCredits returns the tenant's ledger, newest first
func (s *BillingService) ListCredits(ctx context.Context, tenantID uint, page, perPage int) ([]model.Credit, Pagination, error) {
	query := s.db.WithContext(ctx).Model(&model.Credit{}).Where("tenant_id = ?", tenantID)

	var credits []model.Credit
	pagination, err := listPage(query, "created_at DESC, id DESC", page, perPage, &credits)
	if err != nil {
		return nil, Pagination{}, apperror.DB(err, "credit")
	}
	return credits, pagination, nil
}
