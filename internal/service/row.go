package service

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"saaskit/internal/model"
	"saaskit/pkg/apperror"
	"saaskit/pkg/logger"
	"saaskit/prometheus"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreatedBy identifies who writes a row
type CreatedBy struct {
	UserID   *uint
	APIKeyID *uint
}

// RowDTO is the public shape of a row
type RowDTO struct {
	ID                uint           `json:"id"`
	Folio             int            `json:"folio"`
	Key               string         `json:"key"`
	TenantID          *uint          `json:"tenantId"`
	CreatedByUserID   *uint          `json:"createdByUserId,omitempty"`
	CreatedByAPIKeyID *uint          `json:"createdByApiKeyId,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
	Values            map[string]any `json:"values"`
}

// ListOptions filters, searches, sorts and pages rows
type ListOptions struct {
	Filters map[string]string
	Query   string
	SortBy  string
	Desc    bool
	Page    int
	PerPage int
}

// RowService stores rows of admin-defined entities
type RowService struct {
	db       *gorm.DB
	entities *EntityService
	billing  *BillingService
}

// NewRowService creates a row service
func NewRowService(db *gorm.DB, entities *EntityService, billing *BillingService) *RowService {
	return &RowService{db: db, entities: entities, billing: billing}
}

// RowKey formats the human identifier of a row, e.g. CTC-0001
func RowKey(prefix string, folio int) string {
	return fmt.Sprintf("%s-%04d", prefix, folio)
}

// ToDTO maps a row with its values to the public shape
func ToDTO(entity *model.Entity, row *model.Row) RowDTO {
	dto := RowDTO{
		ID:                row.ID,
		Folio:             row.Folio,
		Key:               RowKey(entity.Prefix, row.Folio),
		TenantID:          row.TenantID,
		CreatedByUserID:   row.CreatedByUserID,
		CreatedByAPIKeyID: row.CreatedByAPIKeyID,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
		Values:            make(map[string]any, len(entity.Properties)),
	}
	byProperty := make(map[uint]*model.RowValue, len(row.Values))
	for i := range row.Values {
		byProperty[row.Values[i].PropertyID] = &row.Values[i]
	}
	for i := range entity.Properties {
		p := &entity.Properties[i]
		dto.Values[p.Name] = valueOf(p, byProperty[p.ID])
	}
	return dto
}

// tenantScope restricts a row query to tenantID; nil selects global rows
func tenantScope(tenantID *uint) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if tenantID == nil {
			return db.Where("entity_rows.tenant_id IS NULL")
		}
		return db.Where("entity_rows.tenant_id = ?", *tenantID)
	}
}

// coerceAll validates values against entity. With partial false every
// required property must be present and non-empty. Nil map entries come back
// as nil so the caller can clear them.
func coerceAll(entity *model.Entity, values map[string]any, partial bool) (map[uint]*model.RowValue, error) {
	out := make(map[uint]*model.RowValue, len(values))
	for name, raw := range values {
		p := entity.Property(name)
		if p == nil {
			return nil, apperror.Newf(apperror.CodeInvalidInput, "unknown property %q", name).
				WithField(name, "unknown property")
		}
		if isEmptyValue(raw) {
			if p.IsRequired {
				return nil, invalidValue(p, "is required")
			}
			out[p.ID] = nil
			continue
		}
		rv, err := coerceValue(p, raw)
		if err != nil {
			return nil, err
		}
		rv.PropertyID = p.ID
		out[p.ID] = &rv
	}

	if !partial {
		for i := range entity.Properties {
			p := &entity.Properties[i]
			if p.IsRequired && out[p.ID] == nil {
				return nil, invalidValue(p, "is required")
			}
		}
	}
	return out, nil
}

// Create validates values and stores a new row with the next folio
func (s *RowService) Create(ctx context.Context, entity *model.Entity, tenantID *uint, by CreatedBy, values map[string]any) (*model.Row, error) {
	coerced, err := coerceAll(entity, values, false)
	if err != nil {
		return nil, err
	}
	if tenantID != nil {
		if err := s.billing.CheckLimit(ctx, *tenantID, LimitRows, 1); err != nil {
			return nil, err
		}
	}

	row := model.Row{
		EntityID:          entity.ID,
		TenantID:          tenantID,
		CreatedByUserID:   by.UserID,
		CreatedByAPIKeyID: by.APIKeyID,
	}
	for _, rv := range coerced {
		if rv != nil {
			row.Values = append(row.Values, *rv)
		}
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last int
		err := tx.Model(&model.Row{}).
			Where("entity_rows.entity_id = ?", entity.ID).
			Scopes(tenantScope(tenantID)).
			Select("COALESCE(MAX(folio), 0)").
			Scan(&last).Error
		if err != nil {
			return err
		}
		row.Folio = last + 1
		return tx.Create(&row).Error
	})
	if err != nil {
		return nil, apperror.DB(err, "row")
	}

	prometheus.RecordRowOperation(entity.Name, "create")
	logger.FromCtx(ctx).Info("Row created",
		zap.String("entity", entity.Name),
		zap.String("key", RowKey(entity.Prefix, row.Folio)),
		zap.Uint("id", row.ID))
	return &row, nil
}

func (s *RowService) find(ctx context.Context, entity *model.Entity, tenantID *uint, where string, arg any) (*model.Row, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())

	var row model.Row
	err := s.db.WithContext(ctx).Preload("Values").
		Where("entity_rows.entity_id = ?", entity.ID).
		Scopes(tenantScope(tenantID)).
		Where(where, arg).
		First(&row).Error
	if err != nil {
		return nil, apperror.DB(err, "row")
	}
	return &row, nil
}

// Get returns a row of entity visible to tenantID
func (s *RowService) Get(ctx context.Context, entity *model.Entity, tenantID *uint, id uint) (*model.Row, error) {
	return s.find(ctx, entity, tenantID, "entity_rows.id = ?", id)
}

// GetByFolio returns a row by its per-tenant sequence number
func (s *RowService) GetByFolio(ctx context.Context, entity *model.Entity, tenantID *uint, folio int) (*model.Row, error) {
	return s.find(ctx, entity, tenantID, "entity_rows.folio = ?", folio)
}

// Update changes only the given properties. A nil or empty value clears a
// non-required property.
func (s *RowService) Update(ctx context.Context, entity *model.Entity, tenantID *uint, id uint, values map[string]any) (*model.Row, error) {
	row, err := s.Get(ctx, entity, tenantID, id)
	if err != nil {
		return nil, err
	}
	coerced, err := coerceAll(entity, values, true)
	if err != nil {
		return nil, err
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.applyValues(tx, row, coerced)
	})
	if err != nil {
		return nil, apperror.DB(err, "row")
	}

	prometheus.RecordRowOperation(entity.Name, "update")
	return s.Get(ctx, entity, tenantID, id)
}

// applyValues writes coerced values of row using tx
func (s *RowService) applyValues(tx *gorm.DB, row *model.Row, coerced map[uint]*model.RowValue) error {
	existing := make(map[uint]*model.RowValue, len(row.Values))
	for i := range row.Values {
		existing[row.Values[i].PropertyID] = &row.Values[i]
	}

	for propertyID, rv := range coerced {
		current := existing[propertyID]
		switch {
		case rv == nil && current != nil:
			if err := tx.Delete(&model.RowValue{}, current.ID).Error; err != nil {
				return err
			}
		case rv == nil:
		case current != nil:
			rv.ID = current.ID
			rv.RowID = row.ID
			if err := tx.Save(rv).Error; err != nil {
				return err
			}
		default:
			rv.RowID = row.ID
			if err := tx.Create(rv).Error; err != nil {
				return err
			}
		}
	}
	return tx.Model(&model.Row{}).Where("id = ?", row.ID).Update("updated_at", nowFunc()).Error
}

// Delete removes a row and its values
func (s *RowService) Delete(ctx context.Context, entity *model.Entity, tenantID *uint, id uint) error {
	row, err := s.Get(ctx, entity, tenantID, id)
	if err != nil {
		return err
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("row_id = ?", row.ID).Delete(&model.RowValue{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Row{}, row.ID).Error
	})
	if err != nil {
		return apperror.DB(err, "row")
	}
	prometheus.RecordRowOperation(entity.Name, "delete")
	return nil
}

// valueColumn is the row_values column holding values of the type
func valueColumn(propertyType string) string {
	switch propertyType {
	case model.PropertyNumber:
		return "number_value"
	case model.PropertyBoolean:
		return "boolean_value"
	case model.PropertyDate:
		return "date_value"
	case model.PropertyMultiSelect:
		return "multiple_values"
	}
	return "text_value"
}

func filterScope(p *model.Property, value string) (func(*gorm.DB) *gorm.DB, error) {
	const sub = "entity_rows.id IN (SELECT row_id FROM row_values WHERE property_id = ? AND "

	var cond string
	var args []any
	switch p.Type {
	case model.PropertyNumber:
		n, err := strconv.ParseFloat(value, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, invalidValue(p, "filter must be a finite number")
		}
		cond, args = "number_value = ?", []any{n}
	case model.PropertyBoolean:
		b, err := asBool(p, value)
		if err != nil {
			return nil, err
		}
		cond, args = "boolean_value = ?", []any{b}
	case model.PropertyDate:
		day, err := asDate(p, value)
		if err != nil {
			return nil, err
		}
		day = day.Truncate(24 * time.Hour)
		cond, args = "date_value >= ? AND date_value < ?", []any{day, day.Add(24 * time.Hour)}
	case model.PropertyMultiSelect:
		cond, args = "%s LIKE ?", []any{"%" + strconv.Quote(value) + "%"}
	default:
		cond, args = "LOWER(text_value) = ?", []any{strings.ToLower(value)}
	}

	return func(db *gorm.DB) *gorm.DB {
		where := cond
		if p.Type == model.PropertyMultiSelect {
			where = fmt.Sprintf(cond, jsonText(db, "multiple_values"))
		}
		return db.Where(sub+where+")", append([]any{p.ID}, args...)...)
	}, nil
}

// jsonText renders a JSON column as text for LIKE matching
func jsonText(db *gorm.DB, column string) string {
	switch db.Dialector.Name() {
	case "postgres":
		return column + "::text"
	case "mysql":
		return "CAST(" + column + " AS CHAR)"
	}
	return column
}

// List returns one page of rows of entity visible to tenantID
func (s *RowService) List(ctx context.Context, entity *model.Entity, tenantID *uint, opts ListOptions) ([]RowDTO, Pagination, error) {
	query := s.db.WithContext(ctx).Model(&model.Row{}).
		Where("entity_rows.entity_id = ?", entity.ID).
		Scopes(tenantScope(tenantID))

	for name, value := range opts.Filters {
		p := entity.Property(name)
		if p == nil {
			return nil, Pagination{}, apperror.Newf(apperror.CodeInvalidInput, "unknown property %q", name).
				WithField(name, "unknown property")
		}
		scope, err := filterScope(p, value)
		if err != nil {
			return nil, Pagination{}, err
		}
		query = query.Scopes(scope)
	}

	if q := strings.TrimSpace(opts.Query); q != "" {
		var searchable []uint
		for _, p := range entity.Properties {
			if textLike(p.Type) {
				searchable = append(searchable, p.ID)
			}
		}
		if len(searchable) == 0 {
			return []RowDTO{}, newPagination(opts.Page, opts.PerPage, 0), nil
		}
		query = query.Where(
			"entity_rows.id IN (SELECT row_id FROM row_values WHERE property_id IN ? AND LOWER(text_value) LIKE ?)",
			searchable, likePattern(q))
	}

	order, err := rowOrder(entity, opts)
	if err != nil {
		return nil, Pagination{}, err
	}

	query = query.Session(&gorm.Session{})
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, Pagination{}, apperror.DB(err, "row")
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var rows []model.Row
	err = query.Preload("Values").
		Clauses(order).
		Scopes(paginate(opts.Page, opts.PerPage)).
		Find(&rows).Error
	if err != nil {
		return nil, Pagination{}, apperror.DB(err, "row")
	}

	dtos := make([]RowDTO, 0, len(rows))
	for i := range rows {
		dtos = append(dtos, ToDTO(entity, &rows[i]))
	}
	return dtos, newPagination(opts.Page, opts.PerPage, total), nil
}

func rowOrder(entity *model.Entity, opts ListOptions) (clause.OrderBy, error) {
	direction := "ASC"
	if opts.Desc {
		direction = "DESC"
	}

	var expr clause.Expr
	switch opts.SortBy {
	case "", "folio":
		expr = clause.Expr{SQL: "entity_rows.folio " + direction}
	case "createdAt":
		expr = clause.Expr{SQL: "entity_rows.created_at " + direction + ", entity_rows.folio " + direction}
	default:
		p := entity.Property(opts.SortBy)
		if p == nil {
			return clause.OrderBy{}, apperror.Newf(apperror.CodeInvalidInput, "cannot sort by %q", opts.SortBy).
				WithField("sortBy", "unknown property")
		}
		expr = clause.Expr{
			SQL: fmt.Sprintf("(SELECT %s FROM row_values WHERE row_values.row_id = entity_rows.id AND row_values.property_id = ?) %s, entity_rows.folio %s",
				valueColumn(p.Type), direction, direction),
			Vars:               []any{p.ID},
			WithoutParentheses: true,
		}
	}
	return clause.OrderBy{Expression: expr}, nil
}

// Counts returns the number of rows of entity per value of a select
// property, scoped to tenantID
func (s *RowService) Counts(ctx context.Context, entity *model.Entity, tenantID *uint, property string) (map[string]int64, error) {
	p := entity.Property(property)
	if p == nil {
		return nil, apperror.Newf(apperror.CodeInvalidInput, "unknown property %q", property)
	}

	var results []struct {
		Value string
		Total int64
	}
	err := s.db.WithContext(ctx).Model(&model.Row{}).
		Select("COALESCE(row_values.text_value, '') AS value, COUNT(*) AS total").
		Joins("LEFT JOIN row_values ON row_values.row_id = entity_rows.id AND row_values.property_id = ?", p.ID).
		Where("entity_rows.entity_id = ?", entity.ID).
		Scopes(tenantScope(tenantID)).
		Group("COALESCE(row_values.text_value, '')").
		Scan(&results).Error
	if err != nil {
		return nil, apperror.DB(err, "row")
	}

	counts := make(map[string]int64, len(results))
	for _, r := range results {
		counts[r.Value] = r.Total
	}
	return counts, nil
}

// Sum adds up a number property grouped by a select property
func (s *RowService) Sum(ctx context.Context, entity *model.Entity, tenantID *uint, numberProperty, groupProperty string) (map[string]float64, error) {
	number, group := entity.Property(numberProperty), entity.Property(groupProperty)
	if number == nil || group == nil {
		return nil, apperror.Invalid("unknown property")
	}

	var results []struct {
		Value string
		Total float64
	}
	err := s.db.WithContext(ctx).Model(&model.Row{}).
		Select("COALESCE(g.text_value, '') AS value, COALESCE(SUM(n.number_value), 0) AS total").
		Joins("LEFT JOIN row_values g ON g.row_id = entity_rows.id AND g.property_id = ?", group.ID).
		Joins("LEFT JOIN row_values n ON n.row_id = entity_rows.id AND n.property_id = ?", number.ID).
		Where("entity_rows.entity_id = ?", entity.ID).
		Scopes(tenantScope(tenantID)).
		Group("COALESCE(g.text_value, '')").
		Scan(&results).Error
	if err != nil {
		return nil, apperror.DB(err, "row")
	}

	sums := make(map[string]float64, len(results))
	for _, r := range results {
		sums[r.Value] = r.Total
	}
	return sums, nil
}

// FindByValue returns the first row whose text-like property equals value,
// compared case-insensitively
func (s *RowService) FindByValue(ctx context.Context, entity *model.Entity, tenantID *uint, property, value string) (*model.Row, error) {
	p := entity.Property(property)
	if p == nil {
		return nil, apperror.Newf(apperror.CodeInvalidInput, "unknown property %q", property)
	}
	scope, err := filterScope(p, value)
	if err != nil {
		return nil, err
	}

	var row model.Row
	err = s.db.WithContext(ctx).Preload("Values").
		Where("entity_rows.entity_id = ?", entity.ID).
		Scopes(tenantScope(tenantID), scope).
		Order("entity_rows.folio ASC").
		First(&row).Error
	if err != nil {
		return nil, apperror.DB(err, "row")
	}
	return &row, nil
}

// Count returns the number of rows of entity visible to tenantID
func (s *RowService) Count(ctx context.Context, entity *model.Entity, tenantID *uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Row{}).
		Where("entity_rows.entity_id = ?", entity.ID).
		Scopes(tenantScope(tenantID)).
		Count(&n).Error
	return n, apperror.DB(err, "row")
}
