package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"saaskit/internal/model"
	"saaskit/pkg/apperror"
	"saaskit/pkg/cache"
	"saaskit/pkg/logger"
	"saaskit/prometheus"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	subdomainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
	domainPattern    = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)
)

var reservedSubdomains = map[string]bool{
	"www":    true,
	"app":    true,
	"admin":  true,
	"api":    true,
	"mail":   true,
	"portal": true,
}

const portalCacheTTL = 10 * time.Minute

// PortalInput creates or updates a portal
type PortalInput struct {
	Subdomain   string  `json:"subdomain" validate:"required,max=63"`
	Domain      *string `json:"domain" validate:"omitempty,max=255"`
	Title       string  `json:"title" validate:"required,max=150"`
	Description string  `json:"description"`
	ThemeColor  string  `json:"theme_color" validate:"max=20"`
	IsPublished bool    `json:"is_published"`
}

// PortalService manages tenant portals and maps request hosts to them
type PortalService struct {
	db         *gorm.DB
	cache      *cache.Cache
	rootDomain string
}

// NewPortalService creates a portal service. Subdomains are resolved under
// rootDomain.
func NewPortalService(db *gorm.DB, c *cache.Cache, rootDomain string) *PortalService {
	return &PortalService{db: db, cache: c, rootDomain: strings.ToLower(strings.TrimPrefix(rootDomain, "."))}
}

func (s *PortalService) invalidate() {
	if s.cache != nil {
		s.cache.DeletePrefix("portal:")
	}
}

func (s *PortalService) normalize(in *PortalInput) error {
	in.Subdomain = strings.ToLower(strings.TrimSpace(in.Subdomain))
	in.Title = strings.TrimSpace(in.Title)

	if in.Title == "" {
		return apperror.Invalid("title is required").WithField("title", "is required")
	}
	if !subdomainPattern.MatchString(in.Subdomain) {
		return apperror.Invalid("invalid subdomain").WithField("subdomain", "lowercase letters, digits and hyphens")
	}
	if reservedSubdomains[in.Subdomain] {
		return apperror.Newf(apperror.CodeInvalidInput, "subdomain %q is reserved", in.Subdomain).WithField("subdomain", "is reserved")
	}

	if in.Domain == nil {
		return nil
	}
	domain := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(*in.Domain)), ".")
	if domain == "" {
		in.Domain = nil
		return nil
	}
	if !domainPattern.MatchString(domain) {
		return apperror.Invalid("invalid domain").WithField("domain", "is not a valid host name")
	}
	if s.rootDomain != "" && (domain == s.rootDomain || strings.HasSuffix(domain, "."+s.rootDomain)) {
		return apperror.Invalid("domain must not be under the root domain").WithField("domain", "use a subdomain instead")
	}
	in.Domain = &domain
	return nil
}

func (s *PortalService) checkUnique(db *gorm.DB, in PortalInput, exceptID uint) error {
	var count int64
	if err := db.Model(&model.Portal{}).Where("subdomain = ? AND id <> ?", in.Subdomain, exceptID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return apperror.Conflict("subdomain already in use").WithField("subdomain", "already in use")
	}
	if in.Domain == nil {
		return nil
	}
	if err := db.Model(&model.Portal{}).Where("domain = ? AND id <> ?", *in.Domain, exceptID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return apperror.Conflict("domain already in use").WithField("domain", "already in use")
	}
	return nil
}

// Create adds a portal to tenantID
func (s *PortalService) Create(ctx context.Context, tenantID uint, userID *uint, in PortalInput) (*model.Portal, error) {
	if err := s.normalize(&in); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	if err := s.checkUnique(db, in, 0); err != nil {
		return nil, apperror.DB(err, "portal")
	}

	portal := model.Portal{
		TenantID:        tenantID,
		Subdomain:       in.Subdomain,
		Domain:          in.Domain,
		Title:           in.Title,
		Description:     in.Description,
		ThemeColor:      in.ThemeColor,
		IsPublished:     in.IsPublished,
		CreatedByUserID: userID,
	}
	defer prometheus.TrackDBOperation("insert")(time.Now())
	if err := db.Create(&portal).Error; err != nil {
		return nil, apperror.DB(err, "portal")
	}
	s.invalidate()

	logger.FromCtx(ctx).Info("Portal created",
		zap.Uint("portal_id", portal.ID),
		zap.Uint("tenant_id", tenantID),
		zap.String("subdomain", portal.Subdomain))
	return &portal, nil
}

// Get returns a portal of tenantID
func (s *PortalService) Get(ctx context.Context, tenantID, id uint) (*model.Portal, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())

	var portal model.Portal
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&portal, id).Error; err != nil {
		return nil, apperror.DB(err, "portal")
	}
	return &portal, nil
}

// List returns the portals of tenantID
func (s *PortalService) List(ctx context.Context, tenantID uint) ([]model.Portal, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())

	var portals []model.Portal
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("title ASC, id ASC").Find(&portals).Error; err != nil {
		return nil, apperror.DB(err, "portal")
	}
	return portals, nil
}

// Update replaces the editable fields of a portal
func (s *PortalService) Update(ctx context.Context, tenantID, id uint, in PortalInput) (*model.Portal, error) {
	portal, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := s.normalize(&in); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	if err := s.checkUnique(db, in, portal.ID); err != nil {
		return nil, apperror.DB(err, "portal")
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	err = db.Model(portal).Updates(map[string]interface{}{
		"subdomain":    in.Subdomain,
		"domain":       in.Domain,
		"title":        in.Title,
		"description":  in.Description,
		"theme_color":  in.ThemeColor,
		"is_published": in.IsPublished,
	}).Error
	if err != nil {
		return nil, apperror.DB(err, "portal")
	}
	s.invalidate()
	return s.Get(ctx, tenantID, id)
}

// Delete removes a portal
func (s *PortalService) Delete(ctx context.Context, tenantID, id uint) error {
	portal, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	if err := s.db.WithContext(ctx).Delete(portal).Error; err != nil {
		return apperror.DB(err, "portal")
	}
	s.invalidate()
	return nil
}

// stripPort removes a trailing :port from a Host header value
func stripPort(host string) string {
	if strings.HasPrefix(host, "[") {
		if end := strings.Index(host, "]"); end > 0 {
			return host[1:end]
		}
		return host
	}
	if i := strings.LastIndex(host, ":"); i >= 0 && strings.Count(host, ":") == 1 {
		return host[:i]
	}
	return host
}

// ResolveHost finds the published portal served on host. <sub>.<root>
// resolves by subdomain, any other host by custom domain.
func (s *PortalService) ResolveHost(ctx context.Context, host string) (*model.Portal, error) {
	host = strings.TrimSuffix(strings.ToLower(stripPort(strings.TrimSpace(host))), ".")
	if host == "" || host == s.rootDomain {
		return nil, apperror.NotFound("portal")
	}

	load := func(ctx context.Context) (*model.Portal, error) {
		query := s.db.WithContext(ctx).Where("is_published = ?", true)
		if sub, ok := strings.CutSuffix(host, "."+s.rootDomain); ok && s.rootDomain != "" {
			if strings.Contains(sub, ".") {
				return nil, apperror.NotFound("portal")
			}
			query = query.Where("subdomain = ?", sub)
		} else {
			query = query.Where("domain = ?", host)
		}

		defer prometheus.TrackDBOperation("query")(time.Now())
		var portal model.Portal
		if err := query.First(&portal).Error; err != nil {
			return nil, apperror.DB(err, "portal")
		}
		return &portal, nil
	}

	if s.cache == nil {
		return load(ctx)
	}
	return cache.Cachified(ctx, s.cache, "portal:host:"+host, portalCacheTTL, load)
}
