package model

import (
	"time"

	"gorm.io/datatypes"
)

// Prompt flow execution statuses
const (
	ExecutionPending = "pending"
	ExecutionRunning = "running"
	ExecutionSuccess = "success"
	ExecutionError   = "error"
)

// PromptFlow is an ordered sequence of prompt templates, optionally bound to
// an input entity whose row values feed the templates
type PromptFlow struct {
	ID             uint                      `json:"id" gorm:"primaryKey"`
	TenantID       *uint                     `json:"tenant_id,omitempty" gorm:"index"`
	Title          string                    `json:"title" gorm:"type:varchar(150);not null"`
	Description    string                    `json:"description" gorm:"type:text"`
	ActionTitle    string                    `json:"action_title" gorm:"type:varchar(100)"`
	Model          string                    `json:"model" gorm:"type:varchar(100);not null"`
	InputEntityID  *uint                     `json:"input_entity_id,omitempty"`
	OutputEntityID *uint                     `json:"output_entity_id,omitempty"`
	Public         bool                      `json:"public" gorm:"default:false"`
	CreatedAt      time.Time                 `json:"created_at"`
	UpdatedAt      time.Time                 `json:"updated_at"`
	Templates      []PromptTemplate          `json:"templates" gorm:"foreignKey:FlowID"`
	OutputMappings []PromptFlowOutputMapping `json:"output_mappings" gorm:"foreignKey:FlowID"`
}

// PromptTemplate is one step of a prompt flow
type PromptTemplate struct {
	ID          uint    `json:"id" gorm:"primaryKey"`
	FlowID      uint    `json:"flow_id" gorm:"index;not null"`
	Order       int     `json:"order" gorm:"column:sort_order;not null"`
	Title       string  `json:"title" gorm:"type:varchar(150)"`
	Template    string  `json:"template" gorm:"type:text;not null"`
	Temperature float64 `json:"temperature" gorm:"not null"`
	MaxTokens   int     `json:"max_tokens" gorm:"default:0"`
}

// PromptFlowOutputMapping writes the result of a template into a property
type PromptFlowOutputMapping struct {
	ID            uint   `json:"id" gorm:"primaryKey"`
	FlowID        uint   `json:"flow_id" gorm:"index;not null"`
	TemplateOrder int    `json:"template_order" gorm:"not null"`
	PropertyName  string `json:"property_name" gorm:"type:varchar(50);not null"`
}

// PromptTemplateResult is the outcome of one template within an execution
type PromptTemplateResult struct {
	Order    int    `json:"order"`
	Title    string `json:"title"`
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// PromptFlowExecution records one run of a flow
type PromptFlowExecution struct {
	ID          uint                                      `json:"id" gorm:"primaryKey"`
	FlowID      uint                                      `json:"flow_id" gorm:"index;not null"`
	TenantID    *uint                                     `json:"tenant_id,omitempty" gorm:"index"`
	UserID      *uint                                     `json:"user_id,omitempty"`
	RowID       *uint                                     `json:"row_id,omitempty"`
	OutputRowID *uint                                     `json:"output_row_id,omitempty"`
	Status      string                                    `json:"status" gorm:"type:varchar(20);not null"`
	Error       string                                    `json:"error,omitempty" gorm:"type:text"`
	Input       string                                    `json:"input" gorm:"type:text"`
	Results     datatypes.JSONType[[]PromptTemplateResult] `json:"results"`
	StartedAt   time.Time                                 `json:"started_at"`
	CompletedAt *time.Time                                `json:"completed_at,omitempty"`
	DurationMs  int64                                     `json:"duration_ms"`
}
