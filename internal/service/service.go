// Package service holds the data-access and validation logic behind every
// HTTP surface. Services take *gorm.DB explicitly and return *apperror.Error
// for caller-visible failures.
package service

import (
	"regexp"
	"strings"
	"time"

	"saaskit/internal/promptflow"
	"saaskit/pkg/cache"
	"saaskit/pkg/config"

	"gorm.io/gorm"
)

// Services bundles every service wired to one database
type Services struct {
	Users       *UserService
	Tenants     *TenantService
	Entities    *EntityService
	Rows        *RowService
	CRM         *CRMService
	PromptFlows *PromptFlowService
	Analytics   *AnalyticsService
	Billing     *BillingService
	Portals     *PortalService
	Pages       *PageService
	APIKeys     *APIKeyService
	APISpec     *APISpecService
}

// New wires all services. completer may be nil when no AI backend is
// configured; executing a prompt flow then fails.
func New(db *gorm.DB, cfg *config.Config, c *cache.Cache, completer promptflow.Completer) *Services {
	billing := NewBillingService(db, c, cfg.Billing.DefaultPlan)
	tenants := NewTenantService(db, billing)
	entities := NewEntityService(db, c)
	rows := NewRowService(db, entities, billing)
	pages := NewPageService(db, c, billing)

	aiModel := cfg.AI.DefaultModel

	return &Services{
		Users:       NewUserService(db, tenants),
		Tenants:     tenants,
		Entities:    entities,
		Rows:        rows,
		CRM:         NewCRMService(entities, rows),
		PromptFlows: NewPromptFlowService(db, entities, rows, billing, completer, aiModel),
		Analytics:   NewAnalyticsService(db, cfg.Analytics),
		Billing:     billing,
		Portals:     NewPortalService(db, c, cfg.Server.RootDomain),
		Pages:       pages,
		APIKeys:     NewAPIKeyService(db),
		APISpec:     NewAPISpecService(entities),
	}
}

// Pagination describes one page of a list
type Pagination struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
}

const (
	defaultPerPage = 10
	maxPerPage     = 100
)

func newPagination(page, perPage int, total int64) Pagination {
	page, perPage = normalizePage(page, perPage)
	return Pagination{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: (total + int64(perPage) - 1) / int64(perPage),
	}
}

func normalizePage(page, perPage int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage
}

func paginate(page, perPage int) func(db *gorm.DB) *gorm.DB {
	page, perPage = normalizePage(page, perPage)
	return func(db *gorm.DB) *gorm.DB {
		return db.Offset((page - 1) * perPage).Limit(perPage)
	}
}

// listPage counts the rows matched by query and loads one page of them into
// dest
func listPage(query *gorm.DB, order string, page, perPage int, dest interface{}) (Pagination, error) {
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return Pagination{}, err
	}
	if err := query.Order(order).Scopes(paginate(page, perPage)).Find(dest).Error; err != nil {
		return Pagination{}, err
	}
	return newPagination(page, perPage, total), nil
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lower-cases s and collapses every run of non-alphanumerics to "-"
func Slugify(s string) string {
	slug := nonSlugChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
	return strings.Trim(slug, "-")
}

// likePattern builds a case-insensitive LIKE argument
func likePattern(q string) string {
	return "%" + strings.ToLower(strings.TrimSpace(q)) + "%"
}

func ptr[T any](v T) *T {
	return &v
}

var nowFunc = func() time.Time { return time.Now().UTC() }
