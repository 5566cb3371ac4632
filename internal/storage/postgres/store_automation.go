package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/eventcore/pipeline/internal/domain"
)

// CreateRule persists a new automation rule for a team.
func (s *Store) CreateRule(ctx context.Context, r domain.AutomationRule) (domain.AutomationRule, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = domain.RuleStatusActive
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	conditionsJSON, err := json.Marshal(r.TriggerConditions)
	if err != nil {
		return domain.AutomationRule{}, err
	}
	paramsJSON, err := json.Marshal(r.ActionParams)
	if err != nil {
		return domain.AutomationRule{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automation_rules (id, team, trigger_type, trigger_conditions, action_type, action_params, status, is_one_time, execution_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, r.ID, r.Team, r.TriggerType, conditionsJSON, r.ActionType, paramsJSON, r.Status, r.IsOneTime, r.ExecutionCount, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return domain.AutomationRule{}, err
	}
	return r, nil
}

// RulesForTrigger returns active rules for (team, triggerType). Condition
// matching against trigger_data happens in the rule engine, not in SQL, so
// this is a coarse prefilter.
func (s *Store) RulesForTrigger(ctx context.Context, team, triggerType string) ([]domain.AutomationRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, team, trigger_type, trigger_conditions, action_type, action_params, status, is_one_time, execution_count, created_at, updated_at
		FROM automation_rules
		WHERE team = $1 AND trigger_type = $2 AND status = $3
		ORDER BY created_at
	`, team, triggerType, domain.RuleStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AutomationRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkRuleCompleted transitions a one-time rule to completed after a
// successful execution.
func (s *Store) MarkRuleCompleted(ctx context.Context, ruleID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE automation_rules SET status = $2, updated_at = now() WHERE id = $1
	`, ruleID, domain.RuleStatusCompleted)
	return err
}

// IncrementRuleExecutionCount bumps the rule's execution_count after every
// match attempt regardless of outcome.
func (s *Store) IncrementRuleExecutionCount(ctx context.Context, ruleID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE automation_rules SET execution_count = execution_count + 1, updated_at = now() WHERE id = $1
	`, ruleID)
	return err
}

func scanRule(row rowScanner) (domain.AutomationRule, error) {
	var (
		r              domain.AutomationRule
		conditionsRaw  []byte
		paramsRaw      []byte
	)
	if err := row.Scan(&r.ID, &r.Team, &r.TriggerType, &conditionsRaw, &r.ActionType, &paramsRaw, &r.Status, &r.IsOneTime, &r.ExecutionCount, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return domain.AutomationRule{}, err
	}
	if len(conditionsRaw) > 0 {
		_ = json.Unmarshal(conditionsRaw, &r.TriggerConditions)
	}
	if len(paramsRaw) > 0 {
		_ = json.Unmarshal(paramsRaw, &r.ActionParams)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

// CreateRuleExecution records the outcome of a single rule match attempt.
// RuleExecutions are append-only.
func (s *Store) CreateRuleExecution(ctx context.Context, e domain.RuleExecution) (domain.RuleExecution, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	snapshotJSON, err := json.Marshal(e.TriggerSnapshot)
	if err != nil {
		return domain.RuleExecution{}, err
	}
	actionsJSON, err := json.Marshal(e.ActionsPerformed)
	if err != nil {
		return domain.RuleExecution{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rule_executions (id, rule_id, trigger_snapshot, status, actions_performed, error, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.RuleID, snapshotJSON, e.Status, actionsJSON, e.Error, e.Timestamp)
	if err != nil {
		return domain.RuleExecution{}, err
	}
	return e, nil
}
