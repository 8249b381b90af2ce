// Package scenario implements step scenarios: the persisted step list, its
// editable graph form, condition evaluation and the runtime that advances
// enrolled patients through the steps.
package scenario

import (
	"time"

	"github.com/clinicops/platform/internal/shared/types"
)

// StepType is the action a step performs.
type StepType string

const (
	StepSendText     StepType = "send_text"
	StepSendTemplate StepType = "send_template"
	StepTagAdd       StepType = "tag_add"
	StepTagRemove    StepType = "tag_remove"
	StepMarkChange   StepType = "mark_change"
	StepCondition    StepType = "condition"
)

var stepTypes = map[StepType]bool{
	StepSendText:     true,
	StepSendTemplate: true,
	StepTagAdd:       true,
	StepTagRemove:    true,
	StepMarkChange:   true,
	StepCondition:    true,
}

// ExitAction is what happens when a step's exit guard holds.
type ExitAction string

const (
	ExitNone ExitAction = ""
	ExitStop ExitAction = "exit"
	ExitJump ExitAction = "jump"
)

// Scenario is a named step sequence started by a trigger (follow, tag,
// keyword).
type Scenario struct {
	ID          types.ID  `json:"id" db:"id"`
	TenantID    types.ID  `json:"tenant_id" db:"tenant_id"`
	Name        string    `json:"name" db:"name"`
	TriggerType string    `json:"trigger_type" db:"trigger_type"`
	IsEnabled   bool      `json:"is_enabled" db:"is_enabled"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Step is one persisted step. BranchTrueStep, BranchFalseStep and
// ExitJumpTo are positions in the scenario's step list, nil meaning exit.
type Step struct {
	ID                 types.ID   `json:"id" db:"id"`
	ScenarioID         types.ID   `json:"scenario_id" db:"scenario_id"`
	SortOrder          int        `json:"sort_order" db:"sort_order"`
	DelayType          string     `json:"delay_type" db:"delay_type"`
	DelayValue         int        `json:"delay_value" db:"delay_value"`
	SendTime           string     `json:"send_time" db:"send_time"`
	StepType           StepType   `json:"step_type" db:"step_type"`
	Content            string     `json:"content" db:"content"`
	TemplateID         string     `json:"template_id" db:"template_id"`
	TagID              *int64     `json:"tag_id" db:"tag_id"`
	Mark               string     `json:"mark" db:"mark"`
	ConditionRules     []Rule     `json:"condition_rules" db:"condition_rules"`
	BranchTrueStep     *int       `json:"branch_true_step" db:"branch_true_step"`
	BranchFalseStep    *int       `json:"branch_false_step" db:"branch_false_step"`
	ExitConditionRules []Rule     `json:"exit_condition_rules" db:"exit_condition_rules"`
	ExitAction         ExitAction `json:"exit_action" db:"exit_action"`
	ExitJumpTo         *int       `json:"exit_jump_to" db:"exit_jump_to"`
}

// Rule is one predicate of a condition or exit guard.
type Rule struct {
	Type string `json:"type"`

	TagIDs   []int64 `json:"tagIds,omitempty"`
	TagMatch string  `json:"tagMatch,omitempty"`

	Marks     []string `json:"marks,omitempty"`
	MarkMatch string   `json:"markMatch,omitempty"`

	Field    string `json:"field,omitempty"`
	Operator string `json:"operator,omitempty"`
	Value    string `json:"value,omitempty"`
}

// Rule types and match modes.
const (
	RuleTag    = "tag"
	RuleMark   = "mark"
	RuleAnswer = "answer"

	TagAnyInclude  = "any_include"
	TagAllInclude  = "all_include"
	TagNoneInclude = "none_include"

	MarkIn    = "in"
	MarkNotIn = "not_in"

	AnswerEquals    = "equals"
	AnswerNotEquals = "not_equals"
	AnswerContains  = "contains"
	AnswerExists    = "exists"
)

// PatientState is what conditions are evaluated against.
type PatientState struct {
	TagIDs  []int64
	Mark    string
	Answers map[string]string
}

// HasTag reports whether the patient carries tag id.
func (s *PatientState) HasTag(id int64) bool {
	for _, t := range s.TagIDs {
		if t == id {
			return true
		}
	}
	return false
}

func (s *PatientState) addTag(id int64) {
	if !s.HasTag(id) {
		s.TagIDs = append(s.TagIDs, id)
	}
}

func (s *PatientState) removeTag(id int64) {
	out := s.TagIDs[:0]
	for _, t := range s.TagIDs {
		if t != id {
			out = append(out, t)
		}
	}
	s.TagIDs = out
}

// EnrollmentStatus is the lifecycle of an enrollment.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentExited    EnrollmentStatus = "exited"
)

// Enrollment is a patient's position in a scenario.
type Enrollment struct {
	ID          types.ID         `json:"id" db:"id"`
	TenantID    types.ID         `json:"tenant_id" db:"tenant_id"`
	ScenarioID  types.ID         `json:"scenario_id" db:"scenario_id"`
	PatientID   types.ID         `json:"patient_id" db:"patient_id"`
	CurrentStep int              `json:"current_step" db:"current_step"`
	NextFireAt  *time.Time       `json:"next_fire_at" db:"next_fire_at"`
	Status      EnrollmentStatus `json:"status" db:"status"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
}
