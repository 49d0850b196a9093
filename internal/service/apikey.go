package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"saaskit/internal/model"
	"saaskit/pkg/apperror"
	"saaskit/pkg/logger"
	"saaskit/prometheus"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const apiKeyScheme = "sk"

// PermissionInput grants CRUD actions on one entity
type PermissionInput struct {
	EntityID uint `json:"entity_id" validate:"required"`
	Create   bool `json:"create"`
	Read     bool `json:"read"`
	Update   bool `json:"update"`
	Delete   bool `json:"delete"`
}

// APIKeyInput creates or updates an API key
type APIKeyInput struct {
	Alias       string            `json:"alias" validate:"required,max=100"`
	Active      *bool             `json:"active"`
	ExpiresAt   *time.Time        `json:"expires_at"`
	Permissions []PermissionInput `json:"permissions" validate:"dive"`
}

// APIKeyService issues and verifies tenant API keys
type APIKeyService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAPIKeyService creates an API key service
func NewAPIKeyService(db *gorm.DB) *APIKeyService {
	return &APIKeyService{db: db, now: nowFunc}
}

// newKey returns the public prefix and the secret of a fresh key
func newKey() (string, string) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	secret := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:12], secret
}

// FormatKey renders the plaintext form sk_<prefix>_<secret>
func FormatKey(prefix, secret string) string {
	return apiKeyScheme + "_" + prefix + "_" + secret
}

// ParseKey splits a plaintext key into prefix and secret
func ParseKey(key string) (string, string, bool) {
	parts := strings.Split(strings.TrimSpace(key), "_")
	if len(parts) != 3 || parts[0] != apiKeyScheme || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func (s *APIKeyService) validate(ctx context.Context, in *APIKeyInput) error {
	in.Alias = strings.TrimSpace(in.Alias)
	if in.Alias == "" {
		return apperror.Invalid("alias is required").WithField("alias", "is required")
	}

	seen := make(map[uint]bool, len(in.Permissions))
	ids := make([]uint, 0, len(in.Permissions))
	for _, p := range in.Permissions {
		if seen[p.EntityID] {
			return apperror.Newf(apperror.CodeInvalidInput, "entity %d listed twice", p.EntityID).WithField("permissions", "duplicate entity")
		}
		seen[p.EntityID] = true
		ids = append(ids, p.EntityID)
	}
	if len(ids) == 0 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Entity{}).Where("id IN ?", ids).Count(&count).Error; err != nil {
		return apperror.DB(err, "entity")
	}
	if int(count) != len(ids) {
		return apperror.Invalid("permissions reference unknown entities").WithField("permissions", "unknown entity")
	}
	return nil
}

func buildPermissions(keyID uint, in []PermissionInput) []model.APIKeyEntity {
	out := make([]model.APIKeyEntity, 0, len(in))
	for _, p := range in {
		out = append(out, model.APIKeyEntity{
			APIKeyID: keyID,
			EntityID: p.EntityID,
			Create:   p.Create,
			Read:     p.Read,
			Update:   p.Update,
			Delete:   p.Delete,
		})
	}
	return out
}

// Create issues a key for tenantID. The plaintext key is returned only here.
func (s *APIKeyService) Create(ctx context.Context, tenantID uint, userID *uint, in APIKeyInput) (*model.APIKey, string, error) {
	if err := s.validate(ctx, &in); err != nil {
		return nil, "", err
	}

	prefix, secret := newKey()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), passwordCost)
	if err != nil {
		return nil, "", apperror.Wrap(err, apperror.CodeInternal, "failed to hash key")
	}

	key := model.APIKey{
		TenantID:        tenantID,
		Alias:           in.Alias,
		Prefix:          prefix,
		Hash:            string(hash),
		Active:          true,
		ExpiresAt:       in.ExpiresAt,
		CreatedByUserID: userID,
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&key).Error; err != nil {
			return err
		}
		if in.Active != nil && !*in.Active {
			if err := tx.Model(&key).Update("active", false).Error; err != nil {
				return err
			}
			key.Active = false
		}
		if len(in.Permissions) == 0 {
			return nil
		}
		key.Entities = buildPermissions(key.ID, in.Permissions)
		return tx.Create(&key.Entities).Error
	})
	if err != nil {
		return nil, "", apperror.DB(err, "api key")
	}

	logger.FromCtx(ctx).Info("API key created",
		zap.Uint("api_key_id", key.ID),
		zap.Uint("tenant_id", tenantID),
		zap.String("prefix", prefix))
	return &key, FormatKey(prefix, secret), nil
}

// Get returns a key of tenantID with its permissions
func (s *APIKeyService) Get(ctx context.Context, tenantID, id uint) (*model.APIKey, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())

	var key model.APIKey
	err := s.db.WithContext(ctx).Preload("Entities").Where("tenant_id = ?", tenantID).First(&key, id).Error
	if err != nil {
		return nil, apperror.DB(err, "api key")
	}
	return &key, nil
}

// List returns the keys of tenantID
func (s *APIKeyService) List(ctx context.Context, tenantID uint) ([]model.APIKey, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())

	var keys []model.APIKey
	err := s.db.WithContext(ctx).Preload("Entities").Where("tenant_id = ?", tenantID).Order("created_at DESC, id DESC").Find(&keys).Error
	if err != nil {
		return nil, apperror.DB(err, "api key")
	}
	return keys, nil
}

// Update changes alias, active flag, expiry and replaces the permissions
func (s *APIKeyService) Update(ctx context.Context, tenantID, id uint, in APIKeyInput) (*model.APIKey, error) {
	key, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := s.validate(ctx, &in); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"alias":      in.Alias,
		"expires_at": in.ExpiresAt,
	}
	if in.Active != nil {
		updates["active"] = *in.Active
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(key).Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.Where("api_key_id = ?", key.ID).Delete(&model.APIKeyEntity{}).Error; err != nil {
			return err
		}
		if len(in.Permissions) == 0 {
			return nil
		}
		entities := buildPermissions(key.ID, in.Permissions)
		return tx.Create(&entities).Error
	})
	if err != nil {
		return nil, apperror.DB(err, "api key")
	}
	return s.Get(ctx, tenantID, id)
}

// Delete removes a key with its permissions and logs
func (s *APIKeyService) Delete(ctx context.Context, tenantID, id uint) error {
	key, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("api_key_id = ?", key.ID).Delete(&model.APIKeyEntity{}).Error; err != nil {
			return err
		}
		if err := tx.Where("api_key_id = ?", key.ID).Delete(&model.APIKeyLog{}).Error; err != nil {
			return err
		}
		return tx.Delete(key).Error
	})
	return apperror.DB(err, "api key")
}

// Authenticate returns the active, unexpired key matching the plaintext key
func (s *APIKeyService) Authenticate(ctx context.Context, plaintext string) (*model.APIKey, error) {
	invalid := apperror.Unauthorized("invalid API key")

	prefix, secret, ok := ParseKey(plaintext)
	if !ok {
		return nil, invalid
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var key model.APIKey
	err := s.db.WithContext(ctx).Preload("Entities").Where("prefix = ?", prefix).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, invalid
	}
	if err != nil {
		return nil, apperror.DB(err, "api key")
	}

	if bcrypt.CompareHashAndPassword([]byte(key.Hash), []byte(secret)) != nil {
		return nil, invalid
	}
	if !key.Active {
		return nil, apperror.Unauthorized("API key is inactive")
	}
	if key.ExpiresAt != nil && !s.now().Before(*key.ExpiresAt) {
		return nil, apperror.Unauthorized("API key has expired")
	}
	return &key, nil
}

// Can reports whether key grants action on entityID
func (s *APIKeyService) Can(key *model.APIKey, entityID uint, action string) bool {
	return key != nil && key.Allows(entityID, action)
}

// Log records one call made with a key
func (s *APIKeyService) Log(ctx context.Context, keyID uint, method, endpoint string, status int) error {
	entry := model.APIKeyLog{
		APIKeyID: keyID,
		Method:   method,
		Endpoint: truncate(endpoint, 255),
		Status:   status,
	}
	defer prometheus.TrackDBOperation("insert")(time.Now())
	return apperror.DB(s.db.WithContext(ctx).Create(&entry).Error, "api key log")
}

// ListLogs returns the calls of a key of tenantID, newest first
func (s *APIKeyService) ListLogs(ctx context.Context, tenantID, keyID uint, page, perPage int) ([]model.APIKeyLog, Pagination, error) {
	if _, err := s.Get(ctx, tenantID, keyID); err != nil {
		return nil, Pagination{}, err
	}

	var logs []model.APIKeyLog
	query := s.db.WithContext(ctx).Model(&model.APIKeyLog{}).Where("api_key_id = ?", keyID)
	pagination, err := listPage(query, "created_at DESC, id DESC", page, perPage, &logs)
	if err != nil {
		return nil, Pagination{}, apperror.DB(err, "api key log")
	}
	return logs, pagination, nil
}
