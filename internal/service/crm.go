package service

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"saaskit/pkg/apperror"
	"saaskit/pkg/logger"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// CRM entity names
const (
	EntityContact     = "contact"
	EntityCompany     = "company"
	EntityOpportunity = "opportunity"
)

//go:embed crm_entities.yaml
var crmEntitiesYAML []byte

// ContactInput is a contact written through the CRM helpers
type ContactInput struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone" validate:"max=50"`
	Company   string `json:"company" validate:"max=150"`
	Status    string `json:"status" validate:"omitempty,oneof=lead prospect customer lost"`
	Source    string `json:"source" validate:"max=100"`
}

// StageSummary aggregates opportunities of one stage
type StageSummary struct {
	Count int64   `json:"count"`
	Value float64 `json:"value"`
}

// CRMSummary is the dashboard of a tenant's CRM
type CRMSummary struct {
	Contacts             int64                   `json:"contacts"`
	ContactsByStatus     map[string]int64        `json:"contacts_by_status"`
	Companies            int64                   `json:"companies"`
	Opportunities        int64                   `json:"opportunities"`
	OpportunitiesByStage map[string]StageSummary `json:"opportunities_by_stage"`
	OpenPipelineValue    float64                 `json:"open_pipeline_value"`
}

// CRMService layers contacts, companies and opportunities on the generic
// data layer
type CRMService struct {
	entities *EntityService
	rows     *RowService
}

// NewCRMService creates a CRM service
func NewCRMService(entities *EntityService, rows *RowService) *CRMService {
	return &CRMService{entities: entities, rows: rows}
}

// DefaultEntities returns the built-in CRM entity definitions
func DefaultEntities() ([]EntityInput, error) {
	var defs []EntityInput
	if err := yaml.Unmarshal(crmEntitiesYAML, &defs); err != nil {
		return nil, fmt.Errorf("parsing CRM entities: %w", err)
	}
	return defs, nil
}

// EnsureDefaults creates the CRM entities that do not exist yet and returns
// the names created
func (s *CRMService) EnsureDefaults(ctx context.Context) ([]string, error) {
	defs, err := DefaultEntities()
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "invalid CRM definitions")
	}
	return s.entities.EnsureEntities(ctx, defs)
}

// EnsureEntities creates each definition whose name is not taken yet
func (s *EntityService) EnsureEntities(ctx context.Context, defs []EntityInput) ([]string, error) {
	var created []string
	for _, def := range defs {
		_, err := s.GetByName(ctx, def.Name)
		if err == nil {
			continue
		}
		if !apperror.Is(err, apperror.CodeNotFound) {
			return created, err
		}
		if _, err := s.Create(ctx, def); err != nil {
			return created, err
		}
		created = append(created, def.Name)
	}
	if len(created) > 0 {
		logger.FromCtx(ctx).Info("Default entities created", zap.Strings("entities", created))
	}
	return created, nil
}

// CreateContact stores a contact row in the tenant. The email must be unique
// among the tenant's contacts.
func (s *CRMService) CreateContact(ctx context.Context, tenantID uint, by CreatedBy, in ContactInput) (*RowDTO, error) {
	entity, err := s.entities.GetByName(ctx, EntityContact)
	if err != nil {
		return nil, err
	}

	email := normalizeEmail(in.Email)
	if email != "" {
		_, err := s.rows.FindByValue(ctx, entity, &tenantID, "email", email)
		if err == nil {
			return nil, apperror.Conflict("a contact with this email already exists").WithField("email", "already exists")
		}
		if !apperror.Is(err, apperror.CodeNotFound) {
			return nil, err
		}
	}

	status := in.Status
	if status == "" {
		status = "lead"
	}
	values := map[string]any{
		"firstName": strings.TrimSpace(in.FirstName),
		"lastName":  strings.TrimSpace(in.LastName),
		"email":     email,
		"phone":     in.Phone,
		"company":   in.Company,
		"status":    status,
		"source":    in.Source,
	}
	row, err := s.rows.Create(ctx, entity, &tenantID, by, values)
	if err != nil {
		return nil, err
	}
	dto := ToDTO(entity, row)
	return &dto, nil
}

// Summary aggregates the tenant's CRM rows
func (s *CRMService) Summary(ctx context.Context, tenantID uint) (*CRMSummary, error) {
	summary := &CRMSummary{
		ContactsByStatus:     map[string]int64{},
		OpportunitiesByStage: map[string]StageSummary{},
	}

	contacts, err := s.entities.GetByName(ctx, EntityContact)
	if err != nil {
		return nil, err
	}
	byStatus, err := s.rows.Counts(ctx, contacts, &tenantID, "status")
	if err != nil {
		return nil, err
	}
	for status, n := range byStatus {
		summary.Contacts += n
		if status == "" {
			status = "none"
		}
		summary.ContactsByStatus[status] += n
	}

	companies, err := s.entities.GetByName(ctx, EntityCompany)
	if err != nil {
		return nil, err
	}
	if summary.Companies, err = s.rows.Count(ctx, companies, &tenantID); err != nil {
		return nil, err
	}

	opportunities, err := s.entities.GetByName(ctx, EntityOpportunity)
	if err != nil {
		return nil, err
	}
	byStage, err := s.rows.Counts(ctx, opportunities, &tenantID, "stage")
	if err != nil {
		return nil, err
	}
	values, err := s.rows.Sum(ctx, opportunities, &tenantID, "value", "stage")
	if err != nil {
		return nil, err
	}
	for stage, n := range byStage {
		summary.Opportunities += n
		value := values[stage]
		if stage == "" {
			stage = "none"
		}
		summary.OpportunitiesByStage[stage] = StageSummary{Count: n, Value: value}
	}
	summary.OpenPipelineValue = summary.OpportunitiesByStage["open"].Value

	return summary, nil
}
