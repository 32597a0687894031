// Package transport defines the replication HTTP contracts.
package transport

import (
	"time"

	"github.com/google/uuid"

	"insight_backoffice_backend/internal/replication/repository"
)

// RunRequest triggers the engine for a single deal or drains the retry queue.
type RunRequest struct {
	DealID       *uuid.UUID `json:"deal_id"`
	ProcessQueue bool       `json:"process_queue"`
}

// DealResult reports the outcome of evaluating one deal.
type DealResult struct {
	DealID       uuid.UUID `json:"deal_id"`
	Success      bool      `json:"success"`
	Replications int       `json:"replications"`
	Details      []string  `json:"details,omitempty"`
}

// RunResponse is the engine's report.
type RunResponse struct {
	Success   bool         `json:"success"`
	Processed int          `json:"processed"`
	Results   []DealResult `json:"results"`
}

// ConditionPayload mirrors repository.Condition on the wire.
type ConditionPayload struct {
	Operator string   `json:"operator,omitempty" validate:"omitempty,oneof=contains exact"`
	Values   []string `json:"values,omitempty"`
	Field    string   `json:"field,omitempty"`
	Mode     string   `json:"mode,omitempty" validate:"omitempty,oneof=any all"`
	Tags     []string `json:"tags,omitempty"`
}

// RuleRequest creates or updates a replication rule.
type RuleRequest struct {
	Name             string           `json:"name" validate:"required,min=1,max=200"`
	SourceOriginID   uuid.UUID        `json:"source_origin_id" validate:"required"`
	SourceStageID    uuid.UUID        `json:"source_stage_id" validate:"required"`
	TargetOriginID   uuid.UUID        `json:"target_origin_id" validate:"required"`
	TargetStageID    uuid.UUID        `json:"target_stage_id" validate:"required"`
	ConditionType    *string          `json:"condition_type" validate:"omitempty,oneof=product_name tags custom_field"`
	Condition        ConditionPayload `json:"condition"`
	CopyCustomFields bool             `json:"copy_custom_fields"`
	Priority         int              `json:"priority" validate:"gte=0"`
	IsActive         *bool            `json:"is_active"`
}

// RuleResponse is one rule on the wire.
type RuleResponse struct {
	ID               uuid.UUID        `json:"id"`
	Name             string           `json:"name"`
	SourceOriginID   uuid.UUID        `json:"source_origin_id"`
	SourceStageID    uuid.UUID        `json:"source_stage_id"`
	TargetOriginID   uuid.UUID        `json:"target_origin_id"`
	TargetStageID    uuid.UUID        `json:"target_stage_id"`
	ConditionType    *string          `json:"condition_type"`
	Condition        ConditionPayload `json:"condition"`
	CopyCustomFields bool             `json:"copy_custom_fields"`
	Priority         int              `json:"priority"`
	IsActive         bool             `json:"is_active"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// RuleListResponse wraps a rule listing.
type RuleListResponse struct {
	Success bool           `json:"success"`
	Items   []RuleResponse `json:"items"`
	Total   int            `json:"total"`
}

// ToRule converts a request into the storage model.
func (r RuleRequest) ToRule(organizationID uuid.UUID) repository.Rule {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return repository.Rule{
		OrganizationID:   organizationID,
		Name:             r.Name,
		SourceOriginID:   r.SourceOriginID,
		SourceStageID:    r.SourceStageID,
		TargetOriginID:   r.TargetOriginID,
		TargetStageID:    r.TargetStageID,
		ConditionType:    r.ConditionType,
		Condition:        repository.Condition(r.Condition),
		CopyCustomFields: r.CopyCustomFields,
		Priority:         r.Priority,
		IsActive:         active,
	}
}

// ToRuleResponse converts a storage rule into its wire form.
func ToRuleResponse(rule repository.Rule) RuleResponse {
	return RuleResponse{
		ID:               rule.ID,
		Name:             rule.Name,
		SourceOriginID:   rule.SourceOriginID,
		SourceStageID:    rule.SourceStageID,
		TargetOriginID:   rule.TargetOriginID,
		TargetStageID:    rule.TargetStageID,
		ConditionType:    rule.ConditionType,
		Condition:        ConditionPayload(rule.Condition),
		CopyCustomFields: rule.CopyCustomFields,
		Priority:         rule.Priority,
		IsActive:         rule.IsActive,
		CreatedAt:        rule.CreatedAt,
		UpdatedAt:        rule.UpdatedAt,
	}
}
