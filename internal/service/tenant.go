package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"saaskit/internal/model"
	"saaskit/pkg/apperror"
	"saaskit/pkg/logger"
	"saaskit/prometheus"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TenantInput creates or updates a tenant
type TenantInput struct {
	Name     string `json:"name" validate:"required,max=100"`
	Slug     string `json:"slug" validate:"omitempty,max=100"`
	Icon     string `json:"icon" validate:"omitempty,max=255"`
	Settings string `json:"settings"`
}

// Membership is a tenant seen from one of its users
type Membership struct {
	Tenant    model.Tenant `json:"tenant"`
	Role      string       `json:"role"`
	IsDefault bool         `json:"is_default"`
}

// Member is a user seen from a tenant
type Member struct {
	UserID    uint      `json:"user_id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	JoinedAt  time.Time `json:"joined_at"`
}

// TenantService manages tenants and their members
type TenantService struct {
	db      *gorm.DB
	billing *BillingService
}

// NewTenantService creates a tenant service
func NewTenantService(db *gorm.DB, billing *BillingService) *TenantService {
	return &TenantService{db: db, billing: billing}
}

// Create creates a tenant owned by ownerID
func (s *TenantService) Create(ctx context.Context, ownerID uint, in TenantInput) (*model.Tenant, error) {
	var tenant *model.Tenant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		tenant, err = s.create(tx, ownerID, in)
		return err
	})
	if err != nil {
		return nil, err
	}

	prometheus.RecordTenantOperation("create")
	logger.FromCtx(ctx).Info("Tenant created",
		zap.String("name", tenant.Name),
		zap.String("slug", tenant.Slug),
		zap.Uint("id", tenant.ID),
		zap.Uint("owner_id", tenant.OwnerID))
	return tenant, nil
}

// create inserts the tenant and its owner membership using tx
func (s *TenantService) create(tx *gorm.DB, ownerID uint, in TenantInput) (*model.Tenant, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperror.Invalid("name is required").WithField("name", "is required")
	}
	if err := validateSettings(in.Settings); err != nil {
		return nil, err
	}

	slug, err := s.pickSlug(tx, name, in.Slug, 0)
	if err != nil {
		return nil, err
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())

	tenant := model.Tenant{
		Name:     name,
		Slug:     slug,
		Icon:     in.Icon,
		OwnerID:  ownerID,
		Settings: in.Settings,
		Active:   true,
	}
	if err := tx.Create(&tenant).Error; err != nil {
		return nil, apperror.DB(err, "tenant")
	}

	var owner model.User
	if err := tx.First(&owner, ownerID).Error; err != nil {
		return nil, apperror.DB(err, "user")
	}

	membership := model.UserTenant{
		UserID:    ownerID,
		TenantID:  tenant.ID,
		Role:      model.RoleOwner,
		IsDefault: owner.DefaultTenantID == nil,
		Active:    true,
	}
	if err := tx.Create(&membership).Error; err != nil {
		return nil, apperror.DB(err, "member")
	}

	if owner.DefaultTenantID == nil {
		if err := tx.Model(&owner).Update("default_tenant_id", tenant.ID).Error; err != nil {
			return nil, apperror.DB(err, "user")
		}
	}
	return &tenant, nil
}

// pickSlug returns the explicit slug when free, or derives one from name
// appending -2, -3, ... until unused. Soft-deleted tenants keep their slug.
func (s *TenantService) pickSlug(tx *gorm.DB, name, explicit string, exceptID uint) (string, error) {
	if explicit != "" {
		slug := Slugify(explicit)
		if slug == "" {
			return "", apperror.Invalid("invalid slug").WithField("slug", "must contain letters or digits")
		}
		taken, err := s.slugTaken(tx, slug, exceptID)
		if err != nil {
			return "", err
		}
		if taken {
			return "", apperror.Conflict("slug already in use").WithField("slug", "already in use")
		}
		return slug, nil
	}

	base := Slugify(name)
	if base == "" {
		base = "tenant"
	}
	slug := base
	for i := 2; ; i++ {
		taken, err := s.slugTaken(tx, slug, exceptID)
		if err != nil {
			return "", err
		}
		if !taken {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}

func (s *TenantService) slugTaken(tx *gorm.DB, slug string, exceptID uint) (bool, error) {
	var n int64
	query := tx.Unscoped().Model(&model.Tenant{}).Where("slug = ?", slug)
	if exceptID != 0 {
		query = query.Where("id <> ?", exceptID)
	}
	if err := query.Count(&n).Error; err != nil {
		return false, apperror.DB(err, "tenant")
	}
	return n > 0, nil
}

func validateSettings(settings string) error {
	if settings != "" && !json.Valid([]byte(settings)) {
		return apperror.Invalid("settings must be valid JSON").WithField("settings", "invalid JSON")
	}
	return nil
}

// Get returns a tenant by id
func (s *TenantService) Get(ctx context.Context, id uint) (*model.Tenant, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())

	var tenant model.Tenant
	if err := s.db.WithContext(ctx).First(&tenant, id).Error; err != nil {
		return nil, apperror.DB(err, "tenant")
	}
	return &tenant, nil
}

// GetBySlug returns a tenant by slug
func (s *TenantService) GetBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	var tenant model.Tenant
	if err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&tenant).Error; err != nil {
		return nil, apperror.DB(err, "tenant")
	}
	return &tenant, nil
}

// ListForUser returns the active tenants of a user with role and default flag
func (s *TenantService) ListForUser(ctx context.Context, userID uint) ([]Membership, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())

	var links []model.UserTenant
	err := s.db.WithContext(ctx).
		Joins("Tenant").
		Where("user_tenants.user_id = ? AND user_tenants.active = ?", userID, true).
		Order("user_tenants.id ASC").
		Find(&links).Error
	if err != nil {
		return nil, apperror.DB(err, "tenant")
	}

	memberships := make([]Membership, 0, len(links))
	for _, ut := range links {
		if ut.Tenant.ID == 0 {
			continue
		}
		memberships = append(memberships, Membership{Tenant: ut.Tenant, Role: ut.Role, IsDefault: ut.IsDefault})
	}
	return memberships, nil
}

// AdminList searches all tenants by name or slug
func (s *TenantService) AdminList(ctx context.Context, q string, page, perPage int) ([]model.Tenant, Pagination, error) {
	query := s.db.WithContext(ctx).Model(&model.Tenant{})
	if strings.TrimSpace(q) != "" {
		pattern := likePattern(q)
		query = query.Where("LOWER(name) LIKE ? OR LOWER(slug) LIKE ?", pattern, pattern)
	}

	var tenants []model.Tenant
	pagination, err := listPage(query, "created_at DESC, id DESC", page, perPage, &tenants)
	if err != nil {
		return nil, Pagination{}, apperror.DB(err, "tenant")
	}
	return tenants, pagination, nil
}

// Update changes a tenant's name, slug, icon and settings. An empty slug
// keeps the current one.
func (s *TenantService) Update(ctx context.Context, id uint, in TenantInput) (*model.Tenant, error) {
	tenant, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperror.Invalid("name is required").WithField("name", "is required")
	}
	if err := validateSettings(in.Settings); err != nil {
		return nil, err
	}

	if in.Slug != "" && Slugify(in.Slug) != tenant.Slug {
		slug, err := s.pickSlug(s.db.WithContext(ctx), tenant.Name, in.Slug, tenant.ID)
		if err != nil {
			return nil, err
		}
		tenant.Slug = slug
	}
	tenant.Name = strings.TrimSpace(in.Name)
	tenant.Icon = in.Icon
	tenant.Settings = in.Settings

	defer prometheus.TrackDBOperation("update")(time.Now())
	if err := s.db.WithContext(ctx).Save(tenant).Error; err != nil {
		return nil, apperror.DB(err, "tenant")
	}
	prometheus.RecordTenantOperation("update")
	return tenant, nil
}

// Delete soft-deletes the tenant and removes everything scoped to it
func (s *TenantService) Delete(ctx context.Context, id uint) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rowIDs := tx.Model(&model.Row{}).Select("id").Where("tenant_id = ?", id)
		if err := tx.Where("row_id IN (?)", rowIDs).Delete(&model.RowValue{}).Error; err != nil {
			return err
		}
		if err := tx.Where("tenant_id = ?", id).Delete(&model.Row{}).Error; err != nil {
			return err
		}

		keyIDs := tx.Model(&model.APIKey{}).Select("id").Where("tenant_id = ?", id)
		if err := tx.Where("api_key_id IN (?)", keyIDs).Delete(&model.APIKeyEntity{}).Error; err != nil {
			return err
		}
		if err := tx.Where("api_key_id IN (?)", keyIDs).Delete(&model.APIKeyLog{}).Error; err != nil {
			return err
		}
		if err := tx.Where("tenant_id = ?", id).Delete(&model.APIKey{}).Error; err != nil {
			return err
		}

		flowIDs := tx.Model(&model.PromptFlow{}).Select("id").Where("tenant_id = ?", id)
		for _, m := range []interface{}{&model.PromptTemplate{}, &model.PromptFlowOutputMapping{}, &model.PromptFlowExecution{}} {
			if err := tx.Where("flow_id IN (?)", flowIDs).Delete(m).Error; err != nil {
				return err
			}
		}
		for _, m := range []interface{}{
			&model.PromptFlowExecution{}, &model.PromptFlow{}, &model.Portal{},
			&model.TenantSubscription{}, &model.Credit{}, &model.UserTenant{},
		} {
			if err := tx.Where("tenant_id = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}

		var users []model.User
		if err := tx.Where("default_tenant_id = ?", id).Find(&users).Error; err != nil {
			return err
		}
		for i := range users {
			if err := reassignDefault(tx, &users[i]); err != nil {
				return err
			}
		}
		return tx.Delete(&model.Tenant{}, id).Error
	})
	if err != nil {
		return apperror.DB(err, "tenant")
	}

	s.billing.cache.Delete(planCacheKey(id))
	prometheus.RecordTenantOperation("delete")
	logger.FromCtx(ctx).Info("Tenant deleted", zap.Uint("id", id))
	return nil
}

// Membership returns the active membership of a user in a tenant
func (s *TenantService) Membership(ctx context.Context, userID, tenantID uint) (*model.UserTenant, error) {
	var ut model.UserTenant
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND tenant_id = ? AND active = ?", userID, tenantID, true).
		First(&ut).Error
	if err != nil {
		return nil, apperror.DB(err, "membership")
	}
	return &ut, nil
}

// Access returns the current membership of userID in tenantID. A removed or
// deactivated membership, or a deleted or deactivated tenant, is Forbidden.
func (s *TenantService) Access(ctx context.Context, userID, tenantID uint) (*model.UserTenant, error) {
	ut, err := s.Membership(ctx, userID, tenantID)
	if err != nil {
		if apperror.Is(err, apperror.CodeNotFound) {
			return nil, apperror.Forbidden("access denied to the specified tenant")
		}
		return nil, err
	}
	tenant, err := s.Get(ctx, tenantID)
	if err != nil {
		if apperror.Is(err, apperror.CodeNotFound) {
			return nil, apperror.Forbidden("access denied to the specified tenant")
		}
		return nil, err
	}
	if !tenant.Active {
		return nil, apperror.Forbidden("tenant is inactive")
	}
	return ut, nil
}

// ListMembers returns the users of a tenant ordered by role
func (s *TenantService) ListMembers(ctx context.Context, tenantID uint) ([]Member, error) {
	var links []model.UserTenant
	err := s.db.WithContext(ctx).Joins("User").
		Where("user_tenants.tenant_id = ?", tenantID).
		Order("user_tenants.id ASC").
		Find(&links).Error
	if err != nil {
		return nil, apperror.DB(err, "member")
	}

	members := make([]Member, 0, len(links))
	for _, ut := range links {
		members = append(members, Member{
			UserID:    ut.UserID,
			Email:     ut.User.Email,
			FirstName: ut.User.FirstName,
			LastName:  ut.User.LastName,
			Role:      ut.Role,
			Active:    ut.Active,
			JoinedAt:  ut.CreatedAt,
		})
	}
	return members, nil
}

func memberRole(role string) (string, error) {
	if role == "" {
		return model.RoleMember, nil
	}
	if role != model.RoleAdmin && role != model.RoleMember {
		return "", apperror.Invalid("role must be admin or member").WithField("role", "must be admin or member")
	}
	return role, nil
}

// AddMember adds the user with email to the tenant, or updates the role of
// an existing member. The plan's user limit applies to new members.
func (s *TenantService) AddMember(ctx context.Context, tenantID uint, email, role string) (*model.UserTenant, error) {
	log := logger.FromCtx(ctx)

	role, err := memberRole(role)
	if err != nil {
		return nil, err
	}

	var user model.User
	if err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&user).Error; err != nil {
		return nil, apperror.DB(err, "user")
	}

	var existing model.UserTenant
	err = s.db.WithContext(ctx).Where("user_id = ? AND tenant_id = ?", user.ID, tenantID).First(&existing).Error
	if err == nil {
		if existing.Role == model.RoleOwner {
			return nil, apperror.Forbidden("the owner's role cannot be changed")
		}
		if existing.Role != role || !existing.Active {
			if !existing.Active {
				if err := s.billing.CheckLimit(ctx, tenantID, LimitUsers, 1); err != nil {
					return nil, err
				}
			}
			err := s.db.WithContext(ctx).Model(&existing).
				Updates(map[string]interface{}{"role": role, "active": true}).Error
			if err != nil {
				return nil, apperror.DB(err, "member")
			}
			existing.Role, existing.Active = role, true
			log.Info("Updated user role in tenant",
				zap.Uint("tenant_id", tenantID),
				zap.String("user_email", user.Email),
				zap.String("role", role))
		}
		return &existing, nil
	}
	if !apperror.Is(apperror.DB(err, "member"), apperror.CodeNotFound) {
		return nil, apperror.DB(err, "member")
	}

	if err := s.billing.CheckLimit(ctx, tenantID, LimitUsers, 1); err != nil {
		return nil, err
	}

	membership := model.UserTenant{UserID: user.ID, TenantID: tenantID, Role: role, Active: true}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&membership).Error; err != nil {
			return err
		}
		if user.DefaultTenantID == nil {
			if err := tx.Model(&membership).Update("is_default", true).Error; err != nil {
				return err
			}
			membership.IsDefault = true
			return tx.Model(&user).Update("default_tenant_id", tenantID).Error
		}
		return nil
	})
	if err != nil {
		return nil, apperror.DB(err, "member")
	}

	prometheus.RecordTenantOperation("add_member")
	log.Info("User added to tenant",
		zap.Uint("tenant_id", tenantID),
		zap.String("user_email", user.Email),
		zap.String("role", role))
	return &membership, nil
}

// UpdateMemberRole changes the role of a non-owner member
func (s *TenantService) UpdateMemberRole(ctx context.Context, tenantID, userID uint, role string) (*model.UserTenant, error) {
	if role == "" {
		return nil, apperror.Invalid("role is required").WithField("role", "is required")
	}
	role, err := memberRole(role)
	if err != nil {
		return nil, err
	}

	var ut model.UserTenant
	if err := s.db.WithContext(ctx).Where("user_id = ? AND tenant_id = ?", userID, tenantID).First(&ut).Error; err != nil {
		return nil, apperror.DB(err, "member")
	}
	if ut.Role == model.RoleOwner {
		return nil, apperror.Forbidden("the owner's role cannot be changed")
	}
	if err := s.db.WithContext(ctx).Model(&ut).Update("role", role).Error; err != nil {
		return nil, apperror.DB(err, "member")
	}
	ut.Role = role
	prometheus.RecordTenantOperation("update_member")
	return &ut, nil
}

// RemoveMember removes a non-owner member. When it was the user's default
// tenant another membership becomes the default.
func (s *TenantService) RemoveMember(ctx context.Context, tenantID, userID uint) error {
	var ut model.UserTenant
	if err := s.db.WithContext(ctx).Where("user_id = ? AND tenant_id = ?", userID, tenantID).First(&ut).Error; err != nil {
		return apperror.DB(err, "member")
	}
	if ut.Role == model.RoleOwner {
		return apperror.Forbidden("the owner cannot be removed")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ut).Error; err != nil {
			return err
		}

		var user model.User
		if err := tx.First(&user, userID).Error; err != nil {
			return err
		}
		if user.DefaultTenantID == nil || *user.DefaultTenantID != tenantID {
			return nil
		}

		return reassignDefault(tx, &user)
	})
	if err != nil {
		return apperror.DB(err, "member")
	}

	prometheus.RecordTenantOperation("remove_member")
	logger.FromCtx(ctx).Info("User removed from tenant",
		zap.Uint("tenant_id", tenantID),
		zap.Uint("user_id", userID))
	return nil
}

// reassignDefault makes the user's oldest remaining active membership the
// default tenant, or clears the default when none is left
func reassignDefault(tx *gorm.DB, user *model.User) error {
	var next model.UserTenant
	err := tx.Where("user_id = ? AND active = ?", user.ID, true).Order("id ASC").First(&next).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Model(user).Update("default_tenant_id", nil).Error
	}
	if err != nil {
		return err
	}
	if err := tx.Model(&next).Update("is_default", true).Error; err != nil {
		return err
	}
	return tx.Model(user).Update("default_tenant_id", next.TenantID).Error
}
