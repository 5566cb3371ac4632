package domain

import "time"

// RuleStatus is the lifecycle state of an automation rule.
type RuleStatus string

const (
	RuleStatusActive    RuleStatus = "active"
	RuleStatusPaused    RuleStatus = "paused"
	RuleStatusCompleted RuleStatus = "completed"
	RuleStatusFailed    RuleStatus = "failed"
)

// AutomationRule binds a trigger type and a set of conditions to an action.
// Paused rules never match; a one-time rule that executes successfully
// transitions to completed and is never matched again.
type AutomationRule struct {
	ID                string
	Team              string
	TriggerType       string
	TriggerConditions map[string]interface{}
	ActionType        string
	ActionParams      map[string]interface{}
	Status            RuleStatus
	IsOneTime         bool
	ExecutionCount    int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Matchable reports whether the rule is eligible to be evaluated at all
// (active, not paused/completed/failed).
func (r AutomationRule) Matchable() bool {
	return r.Status == RuleStatusActive
}

// ExecutionStatus is the outcome of a single rule match attempt.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

// RuleExecution is an append-only record of one rule-match/action-dispatch
// attempt.
type RuleExecution struct {
	ID               string
	RuleID           string
	TriggerSnapshot  map[string]interface{}
	Status           ExecutionStatus
	ActionsPerformed []string
	Error            string
	Timestamp        time.Time
}
