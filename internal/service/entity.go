package service

import (
	"context"
	"fmt"
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
	identifierPattern = regexp.MustCompile(`^[a-z][a-zA-Z0-9]*$`)
	prefixPattern     = regexp.MustCompile(`^[A-Z]{2,5}$`)
)

// Property names that collide with row fields
var reservedPropertyNames = map[string]bool{
	"id":        true,
	"folio":     true,
	"tenantId":  true,
	"createdAt": true,
	"updatedAt": true,
	"createdBy": true,
}

// OptionInput is one choice of a select property
type OptionInput struct {
	Value string `json:"value" validate:"required,max=100" yaml:"value"`
	Name  string `json:"name" validate:"max=100" yaml:"name"`
}

// PropertyInput creates or updates a property
type PropertyInput struct {
	Name       string        `json:"name" validate:"required,max=50" yaml:"name"`
	Title      string        `json:"title" validate:"max=100" yaml:"title"`
	Type       string        `json:"type" validate:"omitempty,oneof=text number boolean date email url select multiSelect" yaml:"type"`
	Order      *int          `json:"order" yaml:"order"`
	IsRequired bool          `json:"is_required" yaml:"is_required"`
	IsHidden   bool          `json:"is_hidden" yaml:"is_hidden"`
	Options    []OptionInput `json:"options" validate:"dive" yaml:"options"`
}

// EntityInput creates or updates an entity
type EntityInput struct {
	Name        string          `json:"name" validate:"required,max=50" yaml:"name"`
	Slug        string          `json:"slug" validate:"max=50" yaml:"slug"`
	Title       string          `json:"title" validate:"required,max=100" yaml:"title"`
	TitlePlural string          `json:"title_plural" validate:"max=100" yaml:"title_plural"`
	Prefix      string          `json:"prefix" validate:"required" yaml:"prefix"`
	Description string          `json:"description" yaml:"description"`
	HasAPI      *bool           `json:"has_api" yaml:"has_api"`
	Active      *bool           `json:"active" yaml:"active"`
	Properties  []PropertyInput `json:"properties" validate:"dive" yaml:"properties"`
}

// EntityService manages the admin-defined schema of the generic data layer
type EntityService struct {
	db    *gorm.DB
	cache *cache.Cache
}

// NewEntityService creates an entity service
func NewEntityService(db *gorm.DB, c *cache.Cache) *EntityService {
	return &EntityService{db: db, cache: c}
}

func withProperties(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Properties", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC, id ASC") }).
		Preload("Properties.Options", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC, id ASC") })
}

func (s *EntityService) invalidate() {
	s.cache.DeletePrefix("entity:")
}

func validateProperty(in PropertyInput) error {
	if !identifierPattern.MatchString(in.Name) {
		return apperror.Invalid("invalid property name").
			WithField("name", "must start with a lower-case letter and contain only letters and digits")
	}
	if reservedPropertyNames[in.Name] {
		return apperror.Newf(apperror.CodeInvalidInput, "property name %q is reserved", in.Name).
			WithField("name", "is reserved")
	}
	if !validPropertyType(in.Type) {
		return apperror.Newf(apperror.CodeInvalidInput, "invalid property type %q", in.Type).
			WithField("type", "is invalid")
	}
	return validateOptions(in.Type, in.Options)
}

func validPropertyType(t string) bool {
	for _, known := range model.PropertyTypes {
		if t == known {
			return true
		}
	}
	return false
}

func validateOptions(propertyType string, options []OptionInput) error {
	selectable := propertyType == model.PropertySelect || propertyType == model.PropertyMultiSelect
	if selectable && len(options) == 0 {
		return apperror.Invalid("select properties need at least one option").WithField("options", "at least one required")
	}
	seen := make(map[string]bool, len(options))
	for _, o := range options {
		v := strings.TrimSpace(o.Value)
		if v == "" {
			return apperror.Invalid("option value is required").WithField("options", "value is required")
		}
		if seen[v] {
			return apperror.Newf(apperror.CodeInvalidInput, "duplicate option %q", v).WithField("options", "duplicate value")
		}
		seen[v] = true
	}
	return nil
}

func buildOptions(options []OptionInput) []model.PropertyOption {
	out := make([]model.PropertyOption, 0, len(options))
	for i, o := range options {
		name := o.Name
		if name == "" {
			name = o.Value
		}
		out = append(out, model.PropertyOption{Value: strings.TrimSpace(o.Value), Name: name, Order: i + 1})
	}
	return out
}

func buildProperty(in PropertyInput, order int) model.Property {
	title := in.Title
	if title == "" {
		title = in.Name
	}
	if in.Order != nil {
		order = *in.Order
	}
	return model.Property{
		Name:       in.Name,
		Title:      title,
		Type:       in.Type,
		Order:      order,
		IsRequired: in.IsRequired,
		IsHidden:   in.IsHidden,
		Options:    buildOptions(in.Options),
	}
}

// normalize validates in and fills derived fields
func (s *EntityService) normalize(in *EntityInput) error {
	in.Name = strings.TrimSpace(in.Name)
	if !identifierPattern.MatchString(in.Name) {
		return apperror.Invalid("invalid entity name").
			WithField("name", "must start with a lower-case letter and contain only letters and digits")
	}
	in.Prefix = strings.ToUpper(strings.TrimSpace(in.Prefix))
	if !prefixPattern.MatchString(in.Prefix) {
		return apperror.Invalid("invalid prefix").WithField("prefix", "must be 2 to 5 letters")
	}
	if strings.TrimSpace(in.Title) == "" {
		return apperror.Invalid("title is required").WithField("title", "is required")
	}
	if in.TitlePlural == "" {
		in.TitlePlural = in.Title + "s"
	}
	if in.Slug == "" {
		in.Slug = Slugify(in.TitlePlural)
	} else {
		in.Slug = Slugify(in.Slug)
	}
	if in.Slug == "" {
		return apperror.Invalid("invalid slug").WithField("slug", "must contain letters or digits")
	}
	return nil
}

func (s *EntityService) checkUnique(db *gorm.DB, in EntityInput, exceptID uint) error {
	checks := []struct {
		column, value string
	}{
		{"name", in.Name},
		{"slug", in.Slug},
		{"prefix", in.Prefix},
	}
	for _, check := range checks {
		var n int64
		query := db.Model(&model.Entity{}).Where(check.column+" = ?", check.value)
		if exceptID != 0 {
			query = query.Where("id <> ?", exceptID)
		}
		if err := query.Count(&n).Error; err != nil {
			return apperror.DB(err, "entity")
		}
		if n > 0 {
			return apperror.Newf(apperror.CodeAlreadyExists, "entity %s %q already exists", check.column, check.value).
				WithField(check.column, "already in use")
		}
	}
	return nil
}

// Create creates an entity with its properties
func (s *EntityService) Create(ctx context.Context, in EntityInput) (*model.Entity, error) {
	if err := s.normalize(&in); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(in.Properties))
	for _, p := range in.Properties {
		if err := validateProperty(p); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, apperror.Newf(apperror.CodeInvalidInput, "duplicate property %q", p.Name).WithField("properties", "duplicate name")
		}
		seen[p.Name] = true
	}
	if err := s.checkUnique(s.db.WithContext(ctx), in, 0); err != nil {
		return nil, err
	}

	entity := model.Entity{
		Name:        in.Name,
		Slug:        in.Slug,
		Title:       in.Title,
		TitlePlural: in.TitlePlural,
		Prefix:      in.Prefix,
		Description: in.Description,
		HasAPI:      true,
		Active:      true,
	}
	for i, p := range in.Properties {
		entity.Properties = append(entity.Properties, buildProperty(p, i+1))
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&entity).Error; err != nil {
			return err
		}
		// Zero-valued booleans are skipped on insert in favour of column defaults
		return applyFlags(tx, &entity, in.HasAPI, in.Active)
	})
	if err != nil {
		return nil, apperror.DB(err, "entity")
	}

	s.invalidate()
	logger.FromCtx(ctx).Info("Entity created",
		zap.String("name", entity.Name),
		zap.Uint("id", entity.ID),
		zap.Int("properties", len(entity.Properties)))
	return &entity, nil
}

func applyFlags(tx *gorm.DB, entity *model.Entity, hasAPI, active *bool) error {
	updates := map[string]interface{}{}
	if hasAPI != nil {
		updates["has_api"] = *hasAPI
		entity.HasAPI = *hasAPI
	}
	if active != nil {
		updates["active"] = *active
		entity.Active = *active
	}
	if len(updates) == 0 {
		return nil
	}
	return tx.Model(&model.Entity{}).Where("id = ?", entity.ID).Updates(updates).Error
}

// Update changes an entity's identity and flags. Properties are managed with
// the property operations and are ignored here.
func (s *EntityService) Update(ctx context.Context, id uint, in EntityInput) (*model.Entity, error) {
	entity, err := s.load(ctx, s.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	if err := s.normalize(&in); err != nil {
		return nil, err
	}
	if err := s.checkUnique(s.db.WithContext(ctx), in, id); err != nil {
		return nil, err
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&model.Entity{}).Where("id = ?", id).Updates(map[string]interface{}{
			"name":         in.Name,
			"slug":         in.Slug,
			"title":        in.Title,
			"title_plural": in.TitlePlural,
			"prefix":       in.Prefix,
			"description":  in.Description,
		}).Error
		if err != nil {
			return err
		}
		return applyFlags(tx, entity, in.HasAPI, in.Active)
	})
	if err != nil {
		return nil, apperror.DB(err, "entity")
	}

	s.invalidate()
	return s.Get(ctx, id)
}

// Delete removes an entity with its properties, rows and values. Prompt
// flows bound to it are unbound.
func (s *EntityService) Delete(ctx context.Context, id uint) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rowIDs := tx.Model(&model.Row{}).Select("id").Where("entity_id = ?", id)
		if err := tx.Where("row_id IN (?)", rowIDs).Delete(&model.RowValue{}).Error; err != nil {
			return err
		}
		if err := tx.Where("entity_id = ?", id).Delete(&model.Row{}).Error; err != nil {
			return err
		}
		propertyIDs := tx.Model(&model.Property{}).Select("id").Where("entity_id = ?", id)
		if err := tx.Where("property_id IN (?)", propertyIDs).Delete(&model.PropertyOption{}).Error; err != nil {
			return err
		}
		if err := tx.Where("entity_id = ?", id).Delete(&model.Property{}).Error; err != nil {
			return err
		}
		if err := tx.Where("entity_id = ?", id).Delete(&model.APIKeyEntity{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.PromptFlow{}).Where("input_entity_id = ?", id).
			Update("input_entity_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.PromptFlow{}).Where("output_entity_id = ?", id).
			Update("output_entity_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Entity{}, id).Error
	})
	if err != nil {
		return apperror.DB(err, "entity")
	}

	s.invalidate()
	logger.FromCtx(ctx).Info("Entity deleted", zap.Uint("id", id))
	return nil
}

func (s *EntityService) load(ctx context.Context, db *gorm.DB, id uint) (*model.Entity, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())

	var entity model.Entity
	if err := withProperties(db).First(&entity, id).Error; err != nil {
		return nil, apperror.DB(err, "entity")
	}
	return &entity, nil
}

// Get returns an entity with its properties
func (s *EntityService) Get(ctx context.Context, id uint) (*model.Entity, error) {
	return s.load(ctx, s.db.WithContext(ctx), id)
}

func (s *EntityService) getBy(ctx context.Context, column, value string) (*model.Entity, error) {
	return cache.Cachified(ctx, s.cache, fmt.Sprintf("entity:%s:%s", column, value), 0, func(ctx context.Context) (*model.Entity, error) {
		var entity model.Entity
		if err := withProperties(s.db.WithContext(ctx)).Where(column+" = ?", value).First(&entity).Error; err != nil {
			return nil, apperror.DB(err, "entity")
		}
		return &entity, nil
	})
}

// GetByName returns an entity by its identifier. The result is shared and
// must not be modified.
func (s *EntityService) GetByName(ctx context.Context, name string) (*model.Entity, error) {
	return s.getBy(ctx, "name", name)
}

// GetBySlug returns an entity by its URL segment. The result is shared and
// must not be modified.
func (s *EntityService) GetBySlug(ctx context.Context, slug string) (*model.Entity, error) {
	return s.getBy(ctx, "slug", slug)
}

// List returns entities ordered by title
func (s *EntityService) List(ctx context.Context, activeOnly bool) ([]model.Entity, error) {
	query := withProperties(s.db.WithContext(ctx)).Order("title ASC, id ASC")
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var entities []model.Entity
	if err := query.Find(&entities).Error; err != nil {
		return nil, apperror.DB(err, "entity")
	}
	return entities, nil
}

// AddProperty appends a property. Without an explicit order it goes last.
func (s *EntityService) AddProperty(ctx context.Context, entityID uint, in PropertyInput) (*model.Property, error) {
	entity, err := s.Get(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if err := validateProperty(in); err != nil {
		return nil, err
	}
	if entity.Property(in.Name) != nil {
		return nil, apperror.Newf(apperror.CodeAlreadyExists, "property %q already exists", in.Name).
			WithField("name", "already exists")
	}

	last := 0
	for _, p := range entity.Properties {
		if p.Order > last {
			last = p.Order
		}
	}
	property := buildProperty(in, last+1)
	property.EntityID = entityID

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if err := s.db.WithContext(ctx).Create(&property).Error; err != nil {
		return nil, apperror.DB(err, "property")
	}
	s.invalidate()
	return &property, nil
}

// UpdateProperty changes title, flags, order and options of a property. The
// name and type are fixed once created.
func (s *EntityService) UpdateProperty(ctx context.Context, entityID uint, name string, in PropertyInput) (*model.Property, error) {
	entity, err := s.Get(ctx, entityID)
	if err != nil {
		return nil, err
	}
	property := entity.Property(name)
	if property == nil {
		return nil, apperror.NotFound("property")
	}
	if in.Name != "" && in.Name != property.Name {
		return nil, apperror.Invalid("property name cannot change").WithField("name", "cannot change")
	}
	if in.Type != "" && in.Type != property.Type {
		return nil, apperror.Invalid("property type cannot change").WithField("type", "cannot change")
	}
	selectable := property.Type == model.PropertySelect || property.Type == model.PropertyMultiSelect
	if selectable || len(in.Options) > 0 {
		if err := validateOptions(property.Type, in.Options); err != nil {
			return nil, err
		}
	}

	if in.Title != "" {
		property.Title = in.Title
	}
	if in.Order != nil {
		property.Order = *in.Order
	}
	property.IsRequired = in.IsRequired
	property.IsHidden = in.IsHidden

	defer prometheus.TrackDBOperation("update")(time.Now())
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&model.Property{}).Where("id = ?", property.ID).Updates(map[string]interface{}{
			"title":       property.Title,
			"sort_order":  property.Order,
			"is_required": property.IsRequired,
			"is_hidden":   property.IsHidden,
		}).Error
		if err != nil {
			return err
		}
		if !selectable {
			return nil
		}
		if err := tx.Where("property_id = ?", property.ID).Delete(&model.PropertyOption{}).Error; err != nil {
			return err
		}
		property.Options = buildOptions(in.Options)
		for i := range property.Options {
			property.Options[i].PropertyID = property.ID
		}
		return tx.Create(&property.Options).Error
	})
	if err != nil {
		return nil, apperror.DB(err, "property")
	}
	s.invalidate()
	return property, nil
}

// DeleteProperty removes a property with its options and stored values
func (s *EntityService) DeleteProperty(ctx context.Context, entityID uint, name string) error {
	entity, err := s.Get(ctx, entityID)
	if err != nil {
		return err
	}
	property := entity.Property(name)
	if property == nil {
		return apperror.NotFound("property")
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("property_id = ?", property.ID).Delete(&model.RowValue{}).Error; err != nil {
			return err
		}
		if err := tx.Where("property_id = ?", property.ID).Delete(&model.PropertyOption{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Property{}, property.ID).Error
	})
	if err != nil {
		return apperror.DB(err, "property")
	}
	s.invalidate()
	return nil
}

// ReorderProperties sets property order to the position in names, which must
// list every property exactly once
func (s *EntityService) ReorderProperties(ctx context.Context, entityID uint, names []string) (*model.Entity, error) {
	entity, err := s.Get(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if len(names) != len(entity.Properties) {
		return nil, apperror.Newf(apperror.CodeInvalidInput,
			"expected %d property names, got %d", len(entity.Properties), len(names))
	}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if entity.Property(name) == nil {
			return nil, apperror.Newf(apperror.CodeInvalidInput, "unknown property %q", name)
		}
		if seen[name] {
			return nil, apperror.Newf(apperror.CodeInvalidInput, "property %q listed twice", name)
		}
		seen[name] = true
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, name := range names {
			err := tx.Model(&model.Property{}).Where("id = ?", entity.Property(name).ID).
				Update("sort_order", i+1).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperror.DB(err, "property")
	}
	s.invalidate()
	return s.Get(ctx, entityID)
}
