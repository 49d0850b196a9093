package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"saaskit/internal/model"
	"saaskit/internal/promptflow"
	"saaskit/pkg/apperror"
	"saaskit/pkg/logger"
	"saaskit/prometheus"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultTemperature = 0.7

// PromptTemplateInput is one step of a flow, executed in list order
type PromptTemplateInput struct {
	Title       string   `json:"title" validate:"max=150"`
	Template    string   `json:"template" validate:"required"`
	Temperature *float64 `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   int      `json:"max_tokens" validate:"gte=0"`
}

// OutputMappingInput writes the result of template TemplateOrder (0-based)
// into PropertyName
type OutputMappingInput struct {
	TemplateOrder int    `json:"template_order" validate:"gte=0"`
	PropertyName  string `json:"property_name" validate:"required"`
}

// PromptFlowInput creates or replaces a flow with its templates and mappings
type PromptFlowInput struct {
	Title          string                `json:"title" validate:"required,max=150"`
	Description    string                `json:"description"`
	ActionTitle    string                `json:"action_title" validate:"max=100"`
	Model          string                `json:"model" validate:"max=100"`
	InputEntityID  *uint                 `json:"input_entity_id"`
	OutputEntityID *uint                 `json:"output_entity_id"`
	Public         bool                  `json:"public"`
	Templates      []PromptTemplateInput `json:"templates" validate:"required,min=1,dive"`
	OutputMappings []OutputMappingInput  `json:"output_mappings" validate:"dive"`
}

// ExecuteInput starts a flow run
type ExecuteInput struct {
	Input string `json:"input"`
	RowID *uint  `json:"row_id"`
}

// PromptFlowService manages prompt flows and runs them
type PromptFlowService struct {
	db        *gorm.DB
	entities  *EntityService
	rows      *RowService
	billing   *BillingService
	completer promptflow.Completer
	model     string
	now       func() time.Time
}

// NewPromptFlowService creates a prompt flow service. completer may be nil,
// in which case Execute fails.
func NewPromptFlowService(db *gorm.DB, entities *EntityService, rows *RowService, billing *BillingService, completer promptflow.Completer, defaultModel string) *PromptFlowService {
	return &PromptFlowService{
		db:        db,
		entities:  entities,
		rows:      rows,
		billing:   billing,
		completer: completer,
		model:     defaultModel,
		now:       nowFunc,
	}
}

func sameTenant(a, b *uint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// visible reports whether a caller in tenantID may read or run flow. Tenants
// see their own flows and public global ones.
func visible(flow *model.PromptFlow, tenantID *uint) bool {
	return sameTenant(flow.TenantID, tenantID) || (flow.TenantID == nil && flow.Public)
}

func (s *PromptFlowService) validate(ctx context.Context, in *PromptFlowInput) error {
	if strings.TrimSpace(in.Title) == "" {
		return apperror.Invalid("title is required").WithField("title", "is required")
	}
	if len(in.Templates) == 0 {
		return apperror.Invalid("at least one template is required").WithField("templates", "at least one required")
	}
	for i, t := range in.Templates {
		if strings.TrimSpace(t.Template) == "" {
			return apperror.Newf(apperror.CodeInvalidInput, "template %d is empty", i).WithField("templates", "template is required")
		}
		for _, path := range promptflow.Placeholders(t.Template) {
			if n, ok := resultIndex(path); ok && n >= i {
				return apperror.Newf(apperror.CodeInvalidInput,
					"template %d references the result of template %d which has not run yet", i, n).
					WithField("templates", "references a later result")
			}
		}
	}

	var input, output *model.Entity
	var err error
	if in.InputEntityID != nil {
		if input, err = s.entities.Get(ctx, *in.InputEntityID); err != nil {
			return err
		}
	}
	if in.OutputEntityID != nil {
		if output, err = s.entities.Get(ctx, *in.OutputEntityID); err != nil {
			return err
		}
	}

	target := output
	if target == nil {
		target = input
	}
	for _, m := range in.OutputMappings {
		if m.TemplateOrder < 0 || m.TemplateOrder >= len(in.Templates) {
			return apperror.Newf(apperror.CodeInvalidInput, "mapping references unknown template %d", m.TemplateOrder).
				WithField("output_mappings", "unknown template")
		}
		if target == nil {
			return apperror.Invalid("output mappings need an input or output entity").
				WithField("output_mappings", "no entity to write to")
		}
		if target.Property(m.PropertyName) == nil {
			return apperror.Newf(apperror.CodeInvalidInput, "entity %s has no property %q", target.Name, m.PropertyName).
				WithField("output_mappings", "unknown property")
		}
	}
	return nil
}

// resultIndex extracts n from promptFlow.results[n]
func resultIndex(path string) (int, bool) {
	const prefix = "promptFlow.results["
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, "]") {
		return 0, false
	}
	n, err := strconv.Atoi(path[len(prefix) : len(path)-1])
	return n, err == nil
}

func buildTemplates(in []PromptTemplateInput) []model.PromptTemplate {
	out := make([]model.PromptTemplate, 0, len(in))
	for i, t := range in {
		temperature := defaultTemperature
		if t.Temperature != nil {
			temperature = *t.Temperature
		}
		title := t.Title
		if title == "" {
			title = fmt.Sprintf("Step %d", i+1)
		}
		out = append(out, model.PromptTemplate{
			Order:       i,
			Title:       title,
			Template:    t.Template,
			Temperature: temperature,
			MaxTokens:   t.MaxTokens,
		})
	}
	return out
}

func buildMappings(in []OutputMappingInput) []model.PromptFlowOutputMapping {
	out := make([]model.PromptFlowOutputMapping, 0, len(in))
	for _, m := range in {
		out = append(out, model.PromptFlowOutputMapping{TemplateOrder: m.TemplateOrder, PropertyName: m.PropertyName})
	}
	return out
}

func (s *PromptFlowService) modelOr(name string) string {
	if name == "" {
		return s.model
	}
	return name
}

// Create stores a flow owned by tenantID; nil creates a global flow
func (s *PromptFlowService) Create(ctx context.Context, tenantID *uint, in PromptFlowInput) (*model.PromptFlow, error) {
	if err := s.validate(ctx, &in); err != nil {
		return nil, err
	}

	flow := model.PromptFlow{
		TenantID:       tenantID,
		Title:          strings.TrimSpace(in.Title),
		Description:    in.Description,
		ActionTitle:    in.ActionTitle,
		Model:          s.modelOr(in.Model),
		InputEntityID:  in.InputEntityID,
		OutputEntityID: in.OutputEntityID,
		Public:         in.Public,
		Templates:      buildTemplates(in.Templates),
		OutputMappings: buildMappings(in.OutputMappings),
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if err := s.db.WithContext(ctx).Create(&flow).Error; err != nil {
		return nil, apperror.DB(err, "prompt flow")
	}
	logger.FromCtx(ctx).Info("Prompt flow created",
		zap.Uint("id", flow.ID),
		zap.String("title", flow.Title),
		zap.Int("templates", len(flow.Templates)))
	return &flow, nil
}

func (s *PromptFlowService) load(ctx context.Context, id uint) (*model.PromptFlow, error) {
	var flow model.PromptFlow
	err := s.db.WithContext(ctx).
		Preload("Templates", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		Preload("OutputMappings").
		First(&flow, id).Error
	if err != nil {
		return nil, apperror.DB(err, "prompt flow")
	}
	return &flow, nil
}

// Get returns a flow visible to tenantID
func (s *PromptFlowService) Get(ctx context.Context, tenantID *uint, id uint) (*model.PromptFlow, error) {
	flow, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visible(flow, tenantID) {
		return nil, apperror.NotFound("prompt flow")
	}
	return flow, nil
}

func (s *PromptFlowService) owned(ctx context.Context, tenantID *uint, id uint) (*model.PromptFlow, error) {
	flow, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sameTenant(flow.TenantID, tenantID) {
		return nil, apperror.NotFound("prompt flow")
	}
	return flow, nil
}

// List returns the flows of tenantID plus public global flows. A nil tenant
// lists the global flows only.
func (s *PromptFlowService) List(ctx context.Context, tenantID *uint) ([]model.PromptFlow, error) {
	query := s.db.WithContext(ctx).
		Preload("Templates", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		Preload("OutputMappings").
		Order("title ASC, id ASC")
	if tenantID == nil {
		query = query.Where("tenant_id IS NULL")
	} else {
		query = query.Where("tenant_id = ? OR (tenant_id IS NULL AND public = ?)", *tenantID, true)
	}

	var flows []model.PromptFlow
	if err := query.Find(&flows).Error; err != nil {
		return nil, apperror.DB(err, "prompt flow")
	}
	return flows, nil
}

// Update replaces a flow with its templates and mappings
func (s *PromptFlowService) Update(ctx context.Context, tenantID *uint, id uint, in PromptFlowInput) (*model.PromptFlow, error) {
	flow, err := s.owned(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := s.validate(ctx, &in); err != nil {
		return nil, err
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("flow_id = ?", flow.ID).Delete(&model.PromptTemplate{}).Error; err != nil {
			return err
		}
		if err := tx.Where("flow_id = ?", flow.ID).Delete(&model.PromptFlowOutputMapping{}).Error; err != nil {
			return err
		}
		err := tx.Model(&model.PromptFlow{}).Where("id = ?", flow.ID).Updates(map[string]interface{}{
			"title":            strings.TrimSpace(in.Title),
			"description":      in.Description,
			"action_title":     in.ActionTitle,
			"model":            s.modelOr(in.Model),
			"input_entity_id":  in.InputEntityID,
			"output_entity_id": in.OutputEntityID,
			"public":           in.Public,
		}).Error
		if err != nil {
			return err
		}

		templates := buildTemplates(in.Templates)
		for i := range templates {
			templates[i].FlowID = flow.ID
		}
		if err := tx.Create(&templates).Error; err != nil {
			return err
		}
		mappings := buildMappings(in.OutputMappings)
		if len(mappings) == 0 {
			return nil
		}
		for i := range mappings {
			mappings[i].FlowID = flow.ID
		}
		return tx.Create(&mappings).Error
	})
	if err != nil {
		return nil, apperror.DB(err, "prompt flow")
	}
	return s.load(ctx, id)
}

// Delete removes a flow with its templates, mappings and executions
func (s *PromptFlowService) Delete(ctx context.Context, tenantID *uint, id uint) error {
	flow, err := s.owned(ctx, tenantID, id)
	if err != nil {
		return err
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []interface{}{&model.PromptTemplate{}, &model.PromptFlowOutputMapping{}, &model.PromptFlowExecution{}} {
			if err := tx.Where("flow_id = ?", flow.ID).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&model.PromptFlow{}, flow.ID).Error
	})
	return apperror.DB(err, "prompt flow")
}

// AvailableVariables lists the placeholders a flow on the named entity can
// use. An empty name lists the ones that need no input row.
func (s *PromptFlowService) AvailableVariables(ctx context.Context, entityName string, templates int) ([]string, error) {
	if entityName == "" {
		return promptflow.AvailableVariables(nil, templates), nil
	}
	entity, err := s.entities.GetByName(ctx, entityName)
	if err != nil {
		return nil, err
	}
	return promptflow.AvailableVariables(entity, templates), nil
}

// rowVariables loads the input row as template variables
func (s *PromptFlowService) rowVariables(ctx context.Context, flow *model.PromptFlow, tenantID *uint, rowID uint) (map[string]any, error) {
	if flow.InputEntityID == nil {
		return nil, apperror.Invalid("flow has no input entity").WithField("row_id", "flow does not take a row")
	}
	entity, err := s.entities.Get(ctx, *flow.InputEntityID)
	if err != nil {
		return nil, err
	}
	row, err := s.rows.Get(ctx, entity, tenantID, rowID)
	if err != nil {
		return nil, err
	}

	dto := ToDTO(entity, row)
	vars := make(map[string]any, len(dto.Values)+2)
	for name, value := range dto.Values {
		vars[name] = value
	}
	vars["folio"] = float64(dto.Folio)
	vars["key"] = dto.Key
	return vars, nil
}

// Execute runs every template of the flow in order, charging one credit per
// template to the tenant. The execution is stored whatever the outcome.
func (s *PromptFlowService) Execute(ctx context.Context, flowID uint, tenantID, userID *uint, in ExecuteInput) (*model.PromptFlowExecution, error) {
	log := logger.FromCtx(ctx)

	flow, err := s.Get(ctx, tenantID, flowID)
	if err != nil {
		return nil, err
	}
	if s.completer == nil {
		return nil, apperror.Wrap(promptflow.ErrNotConfigured, apperror.CodeInternal, "AI completion is not configured")
	}
	if tenantID != nil {
		if err := s.billing.CheckLimit(ctx, *tenantID, LimitCredits, len(flow.Templates)); err != nil {
			return nil, err
		}
	}

	pctx := promptflow.Context{Input: in.Input}
	if in.RowID != nil {
		if pctx.Row, err = s.rowVariables(ctx, flow, tenantID, *in.RowID); err != nil {
			return nil, err
		}
	}
	if tenantID != nil {
		var tenant model.Tenant
		if err := s.db.WithContext(ctx).First(&tenant, *tenantID).Error; err != nil {
			return nil, apperror.DB(err, "tenant")
		}
		pctx.Tenant = &tenant
	}
	if userID != nil {
		var user model.User
		if err := s.db.WithContext(ctx).First(&user, *userID).Error; err != nil {
			return nil, apperror.DB(err, "user")
		}
		pctx.User = &user
	}

	exec := model.PromptFlowExecution{
		FlowID:    flow.ID,
		TenantID:  tenantID,
		UserID:    userID,
		RowID:     in.RowID,
		Status:    model.ExecutionRunning,
		Input:     in.Input,
		Results:   datatypes.NewJSONType([]model.PromptTemplateResult{}),
		StartedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&exec).Error; err != nil {
		return nil, apperror.DB(err, "execution")
	}

	templates := append([]model.PromptTemplate(nil), flow.Templates...)
	sort.SliceStable(templates, func(i, j int) bool { return templates[i].Order < templates[j].Order })

	var results []model.PromptTemplateResult
	runErr := func() error {
		for _, t := range templates {
			prompt, missing := promptflow.Render(t.Template, pctx.Variables())
			result := model.PromptTemplateResult{Order: t.Order, Title: t.Title, Prompt: prompt}

			if len(missing) > 0 {
				result.Status = model.ExecutionError
				result.Error = "missing variables: " + strings.Join(missing, ", ")
				results = append(results, result)
				return apperror.Newf(apperror.CodeInvalidInput, "template %q uses unknown variables: %s",
					t.Title, strings.Join(missing, ", "))
			}

			response, err := s.completer.Complete(ctx, promptflow.CompletionRequest{
				Model:       flow.Model,
				Prompt:      prompt,
				Temperature: t.Temperature,
				MaxTokens:   t.MaxTokens,
			})
			if err != nil {
				result.Status = model.ExecutionError
				result.Error = err.Error()
				results = append(results, result)
				return apperror.Wrap(err, apperror.CodeInternal, "completion failed")
			}
			result.Status = model.ExecutionSuccess
			result.Response = response
			results = append(results, result)
			pctx.Results = append(pctx.Results, response)

			if tenantID != nil {
				err := s.billing.Consume(ctx, ConsumeInput{
					TenantID: *tenantID,
					UserID:   userID,
					Type:     CreditPromptTemplate,
					ObjectID: fmt.Sprintf("execution:%d:%d", exec.ID, t.Order),
					Amount:   1,
				})
				if err != nil {
					return err
				}
			}
		}
		return s.applyOutputs(ctx, flow, tenantID, userID, in.RowID, pctx.Results, &exec)
	}()

	completed := s.now()
	exec.CompletedAt = &completed
	exec.DurationMs = completed.Sub(exec.StartedAt).Milliseconds()
	exec.Results = datatypes.NewJSONType(results)
	exec.Status = model.ExecutionSuccess
	if runErr != nil {
		exec.Status = model.ExecutionError
		exec.Error = runErr.Error()
		var appErr *apperror.Error
		if errors.As(runErr, &appErr) {
			exec.Error = appErr.Message
		}
	}
	if err := s.db.WithContext(ctx).Save(&exec).Error; err != nil {
		return nil, apperror.DB(err, "execution")
	}

	prometheus.RecordPromptFlowExecution(exec.Status, completed.Sub(exec.StartedAt))
	fields := []zap.Field{
		zap.Uint("flow_id", flow.ID),
		zap.Uint("execution_id", exec.ID),
		zap.String("status", exec.Status),
		zap.Int64("duration_ms", exec.DurationMs),
	}
	if runErr != nil {
		log.Warn("Prompt flow execution failed", append(fields, zap.Error(runErr))...)
		return &exec, runErr
	}
	log.Info("Prompt flow executed", fields...)
	return &exec, nil
}

// applyOutputs writes mapped results. Flows with a separate output entity
// create a row there; otherwise the input row is updated.
func (s *PromptFlowService) applyOutputs(ctx context.Context, flow *model.PromptFlow, tenantID, userID, rowID *uint, results []string, exec *model.PromptFlowExecution) error {
	if len(flow.OutputMappings) == 0 {
		return nil
	}
	values := make(map[string]any, len(flow.OutputMappings))
	for _, m := range flow.OutputMappings {
		if m.TemplateOrder < len(results) {
			values[m.PropertyName] = results[m.TemplateOrder]
		}
	}

	separateOutput := flow.OutputEntityID != nil &&
		(flow.InputEntityID == nil || *flow.OutputEntityID != *flow.InputEntityID)

	switch {
	case separateOutput:
		entity, err := s.entities.Get(ctx, *flow.OutputEntityID)
		if err != nil {
			return err
		}
		row, err := s.rows.Create(ctx, entity, tenantID, CreatedBy{UserID: userID}, values)
		if err != nil {
			return err
		}
		exec.OutputRowID = &row.ID
	case rowID != nil && flow.InputEntityID != nil:
		entity, err := s.entities.Get(ctx, *flow.InputEntityID)
		if err != nil {
			return err
		}
		if _, err := s.rows.Update(ctx, entity, tenantID, *rowID, values); err != nil {
			return err
		}
		exec.OutputRowID = rowID
	case flow.OutputEntityID != nil:
		entity, err := s.entities.Get(ctx, *flow.OutputEntityID)
		if err != nil {
			return err
		}
		row, err := s.rows.Create(ctx, entity, tenantID, CreatedBy{UserID: userID}, values)
		if err != nil {
			return err
		}
		exec.OutputRowID = &row.ID
	}
	return nil
}

// ListExecutions returns the runs of a flow made within tenantID, newest
// first
func (s *PromptFlowService) ListExecutions(ctx context.Context, tenantID *uint, flowID uint, page, perPage int) ([]model.PromptFlowExecution, Pagination, error) {
	if _, err := s.Get(ctx, tenantID, flowID); err != nil {
		return nil, Pagination{}, err
	}

	query := s.db.WithContext(ctx).Model(&model.PromptFlowExecution{}).Where("flow_id = ?", flowID)
	if tenantID == nil {
		query = query.Where("tenant_id IS NULL")
	} else {
		query = query.Where("tenant_id = ?", *tenantID)
	}

	var executions []model.PromptFlowExecution
	pagination, err := listPage(query, "started_at DESC, id DESC", page, perPage, &executions)
	if err != nil {
		return nil, Pagination{}, apperror.DB(err, "execution")
	}
	return executions, pagination, nil
}
