package service

import (
	"context"
	"strings"
	"time"

	"saaskit/internal/model"
	"saaskit/pkg/apperror"
	"saaskit/pkg/logger"
	"saaskit/prometheus"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const minPasswordLength = 8

// passwordCost is lowered by tests
var passwordCost = bcrypt.DefaultCost

// RegisterInput creates a user and optionally their first tenant
type RegisterInput struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,min=8"`
	FirstName  string `json:"first_name" validate:"max=100"`
	LastName   string `json:"last_name" validate:"max=100"`
	TenantName string `json:"tenant_name" validate:"max=100"`
}

// ProfileInput updates a user's names
type ProfileInput struct {
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
}

// Session is an authenticated user with the tenant they act in. Tenant is nil
// for users without memberships.
type Session struct {
	User   *model.User   `json:"user"`
	Tenant *model.Tenant `json:"tenant,omitempty"`
	Role   string        `json:"role,omitempty"`
}

// UserService manages accounts and authentication
type UserService struct {
	db      *gorm.DB
	tenants *TenantService
}

// NewUserService creates a user service
func NewUserService(db *gorm.DB, tenants *TenantService) *UserService {
	return &UserService{db: db, tenants: tenants}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", apperror.Invalid("password must be at least 8 characters").
			WithField("password", "must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", apperror.Wrap(err, apperror.CodeInternal, "password hashing failed")
	}
	return string(hash), nil
}

// Register creates a user. When TenantName is set a tenant owned by the user
// is created in the same transaction and becomes their default.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	email := normalizeEmail(in.Email)
	if email == "" {
		return nil, apperror.Invalid("email is required").WithField("email", "is required")
	}
	hash, err := hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	var exists int64
	if err := s.db.WithContext(ctx).Unscoped().Model(&model.User{}).Where("email = ?", email).Count(&exists).Error; err != nil {
		return nil, apperror.DB(err, "user")
	}
	if exists > 0 {
		return nil, apperror.Conflict("email already registered").WithField("email", "already registered")
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())

	session := &Session{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user := model.User{
			Email:     email,
			Password:  hash,
			FirstName: strings.TrimSpace(in.FirstName),
			LastName:  strings.TrimSpace(in.LastName),
		}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}

		if strings.TrimSpace(in.TenantName) != "" {
			tenant, err := s.tenants.create(tx, user.ID, TenantInput{Name: in.TenantName})
			if err != nil {
				return err
			}
			user.DefaultTenantID = &tenant.ID
			session.Tenant = tenant
			session.Role = model.RoleOwner
		}
		session.User = &user
		return nil
	})
	if err != nil {
		return nil, apperror.DB(err, "user")
	}

	fields := []zap.Field{zap.String("email", email), zap.Uint("user_id", session.User.ID)}
	if session.Tenant != nil {
		fields = append(fields, zap.Uint("tenant_id", session.Tenant.ID))
		prometheus.RecordTenantOperation("create")
	}
	logger.FromCtx(ctx).Info("User registered", fields...)
	return session, nil
}

// Authenticate verifies credentials and resolves the tenant context. Unknown
// emails and wrong passwords fail the same way.
func (s *UserService) Authenticate(ctx context.Context, email, password string, tenantID *uint) (*Session, error) {
	log := logger.FromCtx(ctx)
	defer prometheus.TrackDBOperation("query")(time.Now())

	var user model.User
	if err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&user).Error; err != nil {
		if apperror.Is(apperror.DB(err, "user"), apperror.CodeNotFound) {
			log.Warn("User not found", zap.String("email", email))
			return nil, apperror.Unauthorized("invalid credentials")
		}
		return nil, apperror.DB(err, "user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		log.Warn("Invalid password", zap.String("email", user.Email))
		return nil, apperror.Unauthorized("invalid credentials")
	}

	return s.ResolveTenant(ctx, &user, tenantID)
}

// ResolveTenant builds a session for user acting in tenantID, which must be
// an active membership. A nil tenantID selects the user's default tenant.
func (s *UserService) ResolveTenant(ctx context.Context, user *model.User, tenantID *uint) (*Session, error) {
	session := &Session{User: user}

	id := tenantID
	if id == nil {
		id = user.DefaultTenantID
	}
	if id == nil {
		return session, nil
	}

	membership, err := s.tenants.Membership(ctx, user.ID, *id)
	if err != nil {
		if tenantID == nil && apperror.Is(err, apperror.CodeNotFound) {
			// Stale default; continue without a tenant
			return session, nil
		}
		if apperror.Is(err, apperror.CodeNotFound) {
			return nil, apperror.Forbidden("access denied to the specified tenant")
		}
		return nil, err
	}

	tenant, err := s.tenants.Get(ctx, *id)
	if err != nil {
		if apperror.Is(err, apperror.CodeNotFound) {
			return nil, apperror.Forbidden("access denied to the specified tenant")
		}
		return nil, err
	}
	if !tenant.Active {
		return nil, apperror.Forbidden("tenant is inactive")
	}

	session.Tenant = tenant
	session.Role = membership.Role
	return session, nil
}

// Get returns a user by id
func (s *UserService) Get(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, apperror.DB(err, "user")
	}
	return &user, nil
}

// GetByEmail returns a user by email
func (s *UserService) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&user).Error; err != nil {
		return nil, apperror.DB(err, "user")
	}
	return &user, nil
}

// UpdateProfile changes a user's names
func (s *UserService) UpdateProfile(ctx context.Context, id uint, in ProfileInput) (*model.User, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Model(user).Updates(map[string]interface{}{
		"first_name": strings.TrimSpace(in.FirstName),
		"last_name":  strings.TrimSpace(in.LastName),
	}).Error
	if err != nil {
		return nil, apperror.DB(err, "user")
	}
	user.FirstName = strings.TrimSpace(in.FirstName)
	user.LastName = strings.TrimSpace(in.LastName)
	return user, nil
}

// ChangePassword replaces the password after verifying the current one
func (s *UserService) ChangePassword(ctx context.Context, id uint, current, next string) error {
	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(current)); err != nil {
		return apperror.Invalid("current password is incorrect").WithField("current_password", "is incorrect")
	}
	hash, err := hashPassword(next)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(user).Update("password", hash).Error; err != nil {
		return apperror.DB(err, "user")
	}
	logger.FromCtx(ctx).Info("Password changed", zap.Uint("user_id", id))
	return nil
}

// SetDefaultTenant flags tenantID as the user's only default membership
func (s *UserService) SetDefaultTenant(ctx context.Context, userID, tenantID uint) error {
	if _, err := s.tenants.Membership(ctx, userID, tenantID); err != nil {
		if apperror.Is(err, apperror.CodeNotFound) {
			return apperror.Forbidden("access denied to the specified tenant")
		}
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.UserTenant{}).Where("user_id = ?", userID).
			Update("is_default", false).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.UserTenant{}).Where("user_id = ? AND tenant_id = ?", userID, tenantID).
			Update("is_default", true).Error; err != nil {
			return err
		}
		return tx.Model(&model.User{}).Where("id = ?", userID).Update("default_tenant_id", tenantID).Error
	})
	return apperror.DB(err, "user")
}

// CreateAdmin creates an application admin, or promotes and resets the
// password of an existing user with that email
func (s *UserService) CreateAdmin(ctx context.Context, email, password string) (*model.User, error) {
	email = normalizeEmail(email)
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	var user model.User
	err = s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	switch {
	case err == nil:
		err = s.db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
			"is_admin": true,
			"password": hash,
		}).Error
		user.IsAdmin = true
	case apperror.Is(apperror.DB(err, "user"), apperror.CodeNotFound):
		user = model.User{Email: email, Password: hash, IsAdmin: true, FirstName: "Admin"}
		err = s.db.WithContext(ctx).Create(&user).Error
	}
	if err != nil {
		return nil, apperror.DB(err, "user")
	}
	logger.FromCtx(ctx).Info("Admin user ready", zap.String("email", email))
	return &user, nil
}
