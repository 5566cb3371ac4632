// Package rules implements the Automation Rule Engine (spec §4.6): trigger
// matching against per-team rules, pronoun resolution, action dispatch, and
// RuleExecution recording.
package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/eventcore/pipeline/internal/domain"
)

// Repository is the persistence seam the engine depends on.
type Repository interface {
	RulesForTrigger(ctx context.Context, team, triggerType string) ([]domain.AutomationRule, error)
	MarkRuleCompleted(ctx context.Context, ruleID string) error
	IncrementRuleExecutionCount(ctx context.Context, ruleID string) error
	CreateRuleExecution(ctx context.Context, e domain.RuleExecution) (domain.RuleExecution, error)
}

// ActionResult is what an action execution reports back to the caller.
type ActionResult struct {
	Success bool
	Result  string
	Error   string
}

// ActionExecutor dispatches a resolved action. Implementations live in
// internal/workers, which has access to the broker/store/chat capabilities
// an action's side effects require.
type ActionExecutor interface {
	Execute(ctx context.Context, actionType string, params map[string]interface{}, trigger Context) ActionResult
}

// Context is the evaluation context threaded into action params for
// pronoun resolution and passed to the executor.
type Context struct {
	RuleID      string
	TriggerType string
	TriggerData map[string]interface{}
	TriggerUser string
}

// Engine evaluates triggers against stored rules and dispatches actions.
type Engine struct {
	repo     Repository
	executor ActionExecutor
}

// New constructs an Engine.
func New(repo Repository, executor ActionExecutor) *Engine {
	return &Engine{repo: repo, executor: executor}
}

var pronouns = map[string]bool{"him": true, "her": true, "them": true, "they": true}

// HandleTrigger evaluates trigger_type against every active rule for team,
// dispatching actions for matches and recording a RuleExecution each time.
func (e *Engine) HandleTrigger(ctx context.Context, team, triggerType string, triggerData map[string]interface{}) error {
	candidates, err := e.repo.RulesForTrigger(ctx, team, triggerType)
	if err != nil {
		return err
	}

	triggerUser := resolveTriggerUser(triggerData)

	for _, rule := range candidates {
		if !MatchesWithScript(rule.TriggerConditions, triggerData) {
			continue
		}

		evalCtx := Context{
			RuleID:      rule.ID,
			TriggerType: triggerType,
			TriggerData: triggerData,
			TriggerUser: triggerUser,
		}

		params := resolvePronouns(rule.ActionParams, triggerUser)
		result := e.executor.Execute(ctx, rule.ActionType, params, evalCtx)

		status := domain.ExecutionFailed
		if result.Success {
			status = domain.ExecutionSuccess
		}

		var actionsPerformed []string
		if result.Success {
			actionsPerformed = []string{rule.ActionType}
		}

		if _, err := e.repo.CreateRuleExecution(ctx, domain.RuleExecution{
			RuleID:           rule.ID,
			TriggerSnapshot:  triggerData,
			Status:           status,
			ActionsPerformed: actionsPerformed,
			Error:            result.Error,
		}); err != nil {
			return err
		}
		if err := e.repo.IncrementRuleExecutionCount(ctx, rule.ID); err != nil {
			return err
		}

		if rule.IsOneTime && result.Success {
			if err := e.repo.MarkRuleCompleted(ctx, rule.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func resolveTriggerUser(triggerData map[string]interface{}) string {
	if u, ok := triggerData["user"]; ok {
		if s, ok := u.(string); ok {
			return s
		}
	}
	if u, ok := triggerData["author"]; ok {
		if s, ok := u.(string); ok {
			return s
		}
	}
	return ""
}

func resolvePronouns(params map[string]interface{}, triggerUser string) map[string]interface{} {
	if triggerUser == "" {
		return params
	}
	resolved := make(map[string]interface{}, len(params))
	for k, v := range params {
		if s, ok := v.(string); ok && pronouns[strings.ToLower(strings.TrimSpace(s))] {
			resolved[k] = triggerUser
			continue
		}
		resolved[k] = v
	}
	return resolved
}

// Matches implements the §4.6 condition-matching semantics: a list value
// matches if any of its elements appears in (or equals) the actual value; a
// string value matches as a case-insensitive substring; anything else
// matches by equality. A condition key absent from triggerData is treated
// as not applicable and never fails the match.
func Matches(conditions map[string]interface{}, triggerData map[string]interface{}) bool {
	for key, expected := range conditions {
		actual, present := triggerData[key]
		if !present {
			continue
		}
		if !matchOne(expected, actual) {
			return false
		}
	}
	return true
}

func matchOne(expected, actual interface{}) bool {
	switch want := expected.(type) {
	case []interface{}:
		for _, item := range want {
			if matchOne(item, actual) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range want {
			if matchOne(item, actual) {
				return true
			}
		}
		return false
	case string:
		actualStr := fmt.Sprintf("%v", actual)
		return strings.Contains(strings.ToLower(actualStr), strings.ToLower(want))
	default:
		return expected == actual
	}
}
