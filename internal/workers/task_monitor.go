package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/eventcore/pipeline/internal/broker"
	"github.com/eventcore/pipeline/internal/domain"
	"github.com/eventcore/pipeline/internal/knowledge"
)

// taskCreatedData is the task_created entry shape.
type taskCreatedData struct {
	TaskID   string `json:"task_id"`
	Team     string `json:"team"`
	Title    string `json:"title"`
	Creator  string `json:"creator"`
	Assignee string `json:"assignee"`
}

// taskCompletedData is the task_completed entry shape.
type taskCompletedData struct {
	TaskID    string `json:"task_id"`
	Team      string `json:"team"`
	Completer string `json:"completer"`
}

// taskExtractedData mirrors the fields the change processor appends for its
// task_extracted entries.
type taskExtractedData struct {
	Team     string `json:"team"`
	Title    string `json:"title"`
	Assignee string `json:"assignee"`
	Source   string `json:"source"`
	SourceID string `json:"source_id"`
}

// taskUpdatedData is the task_updated entry shape.
type taskUpdatedData struct {
	TaskID      string `json:"task_id"`
	Team        string `json:"team"`
	Updater     string `json:"updater"`
	OldAssignee string `json:"old_assignee"`
	NewAssignee string `json:"new_assignee"`
}

// RuleTrigger is the subset of *rules.Engine the task monitor depends on.
type RuleTrigger interface {
	HandleTrigger(ctx context.Context, team, triggerType string, triggerData map[string]interface{}) error
}

// OpenTaskCounter is the subset of *postgres.Store the task monitor depends
// on for the all_tasks_completed trigger.
type OpenTaskCounter interface {
	CountOpenTasksForUser(ctx context.Context, team, user string) (int, error)
}

// TaskMonitor implements §4.8's dispatch table over task_events.
type TaskMonitor struct {
	rules     RuleTrigger
	counter   OpenTaskCounter
	knowledge *knowledge.Writer
	appender  Appender
}

// NewTaskMonitor constructs a TaskMonitor.
func NewTaskMonitor(rules RuleTrigger, counter OpenTaskCounter, kw *knowledge.Writer, appender Appender) *TaskMonitor {
	return &TaskMonitor{rules: rules, counter: counter, knowledge: kw, appender: appender}
}

// Handle implements workers.Handler for the task_events consumer group.
func (m *TaskMonitor) Handle(ctx context.Context, entry broker.Entry) error {
	raw, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("re-encode task event payload: %w", err)
	}

	switch entry.EventType {
	case "task_created":
		var data taskCreatedData
		if err := json.Unmarshal(raw, &data); err != nil {
			return err
		}
		return m.handleTaskCreated(ctx, data)
	case "task_completed":
		var data taskCompletedData
		if err := json.Unmarshal(raw, &data); err != nil {
			return err
		}
		return m.handleTaskCompleted(ctx, data)
	case "task_extracted":
		var data taskExtractedData
		if err := json.Unmarshal(raw, &data); err != nil {
			return err
		}
		return m.handleTaskExtracted(ctx, data)
	case "task_updated":
		var data taskUpdatedData
		if err := json.Unmarshal(raw, &data); err != nil {
			return err
		}
		return m.handleTaskUpdated(ctx, data)
	default:
		// pr_activity/pr_review_activity and any other activity-only entries
		// the change processor appends to this stream need no further action.
		return nil
	}
}

func (m *TaskMonitor) handleTaskCreated(ctx context.Context, data taskCreatedData) error {
	if data.Assignee == "" || data.Assignee == data.Creator {
		return nil
	}
	_, err := m.appender.Append(ctx, broker.StreamNotifications, "task_assigned", map[string]interface{}{
		"recipient": data.Assignee, "team": data.Team, "kind": "task_assigned",
		"title": "New task: " + data.Title, "priority": string(domain.PriorityNormal),
	})
	if err != nil {
		return fmt.Errorf("append task_assigned notification: %w", err)
	}
	return nil
}

func (m *TaskMonitor) handleTaskCompleted(ctx context.Context, data taskCompletedData) error {
	triggerData := map[string]interface{}{"task_id": data.TaskID, "user": data.Completer, "team": data.Team}
	if err := m.rules.HandleTrigger(ctx, data.Team, "task_completed", triggerData); err != nil {
		return fmt.Errorf("evaluate task_completed rules: %w", err)
	}

	remaining, err := m.counter.CountOpenTasksForUser(ctx, data.Team, data.Completer)
	if err != nil {
		return fmt.Errorf("count open tasks: %w", err)
	}
	if remaining == 0 {
		if err := m.rules.HandleTrigger(ctx, data.Team, "all_tasks_completed", map[string]interface{}{
			"user": data.Completer, "team": data.Team,
		}); err != nil {
			return fmt.Errorf("evaluate all_tasks_completed rules: %w", err)
		}
	}
	return nil
}

func (m *TaskMonitor) handleTaskExtracted(ctx context.Context, data taskExtractedData) error {
	task, err := m.knowledge.WriteExtractedTask(ctx, knowledge.TaskInput{
		Team: data.Team, Title: data.Title, Assignee: data.Assignee,
		Priority: domain.PriorityNormal, Source: data.Source, SourceID: data.SourceID,
	})
	if err != nil {
		return fmt.Errorf("write extracted task: %w", err)
	}

	if task.Assignee == "" {
		return nil
	}
	_, err = m.appender.Append(ctx, broker.StreamNotifications, "task_assigned", map[string]interface{}{
		"recipient": task.Assignee, "team": task.Team, "kind": "task_assigned",
		"title": "New task: " + task.Title, "priority": string(domain.PriorityNormal),
	})
	if err != nil {
		return fmt.Errorf("append task_assigned notification: %w", err)
	}
	return nil
}

func (m *TaskMonitor) handleTaskUpdated(ctx context.Context, data taskUpdatedData) error {
	if data.NewAssignee == "" || data.NewAssignee == data.OldAssignee || data.NewAssignee == data.Updater {
		return nil
	}
	_, err := m.appender.Append(ctx, broker.StreamNotifications, "task_assigned", map[string]interface{}{
		"recipient": data.NewAssignee, "team": data.Team, "kind": "task_assigned",
		"title": "Reassigned task", "priority": string(domain.PriorityNormal),
	})
	if err != nil {
		return fmt.Errorf("append task_assigned notification: %w", err)
	}
	return nil
}
