package workers

import (
	"context"
	"testing"

	"github.com/eventcore/pipeline/internal/broker"
	"github.com/eventcore/pipeline/internal/domain"
	"github.com/eventcore/pipeline/internal/knowledge"
)

type fakeRuleTrigger struct {
	calls []string
}

func (f *fakeRuleTrigger) HandleTrigger(ctx context.Context, team, triggerType string, triggerData map[string]interface{}) error {
	f.calls = append(f.calls, triggerType)
	return nil
}

type fakeOpenTaskCounter struct {
	remaining int
}

func (f fakeOpenTaskCounter) CountOpenTasksForUser(ctx context.Context, team, user string) (int, error) {
	return f.remaining, nil
}

type fakeTaskRepoForKnowledge struct {
	created []domain.Task
}

func (f *fakeTaskRepoForKnowledge) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	t.ID = "task-extracted-1"
	f.created = append(f.created, t)
	return t, nil
}

func TestTaskMonitorTaskCreatedNotifiesDistinctAssignee(t *testing.T) {
	appender := &fakeAppender{}
	m := NewTaskMonitor(&fakeRuleTrigger{}, fakeOpenTaskCounter{}, knowledge.New(nil, &fakeTaskRepoForKnowledge{}, nil), appender)

	entry := broker.Entry{
		Stream: broker.StreamTaskEvents, EventType: "task_created",
		Payload: toEntryPayload(t, taskCreatedData{TaskID: "t1", Team: "eng", Title: "fix bug", Creator: "alice", Assignee: "bob"}),
	}
	if err := m.Handle(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(appender.appends) != 1 || appender.appends[0].payload["recipient"] != "bob" {
		t.Fatalf("expected one notification for bob, got %+v", appender.appends)
	}
}

func TestTaskMonitorTaskCreatedSkipsSelfAssignment(t *testing.T) {
	appender := &fakeAppender{}
	m := NewTaskMonitor(&fakeRuleTrigger{}, fakeOpenTaskCounter{}, knowledge.New(nil, &fakeTaskRepoForKnowledge{}, nil), appender)

	entry := broker.Entry{
		Stream: broker.StreamTaskEvents, EventType: "task_created",
		Payload: toEntryPayload(t, taskCreatedData{TaskID: "t1", Team: "eng", Title: "fix bug", Creator: "alice", Assignee: "alice"}),
	}
	if err := m.Handle(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(appender.appends) != 0 {
		t.Fatalf("expected no notification for self-assignment, got %+v", appender.appends)
	}
}

func TestTaskMonitorTaskCompletedFiresAllTasksCompletedWhenNoneRemain(t *testing.T) {
	triggers := &fakeRuleTrigger{}
	m := NewTaskMonitor(triggers, fakeOpenTaskCounter{remaining: 0}, knowledge.New(nil, &fakeTaskRepoForKnowledge{}, nil), &fakeAppender{})

	entry := broker.Entry{
		Stream: broker.StreamTaskEvents, EventType: "task_completed",
		Payload: toEntryPayload(t, taskCompletedData{TaskID: "t1", Team: "eng", Completer: "bob"}),
	}
	if err := m.Handle(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(triggers.calls) != 2 || triggers.calls[0] != "task_completed" || triggers.calls[1] != "all_tasks_completed" {
		t.Fatalf("expected task_completed then all_tasks_completed triggers, got %v", triggers.calls)
	}
}

func TestTaskMonitorTaskCompletedSkipsAllTasksCompletedWhenWorkRemains(t *testing.T) {
	triggers := &fakeRuleTrigger{}
	m := NewTaskMonitor(triggers, fakeOpenTaskCounter{remaining: 3}, knowledge.New(nil, &fakeTaskRepoForKnowledge{}, nil), &fakeAppender{})

	entry := broker.Entry{
		Stream: broker.StreamTaskEvents, EventType: "task_completed",
		Payload: toEntryPayload(t, taskCompletedData{TaskID: "t1", Team: "eng", Completer: "bob"}),
	}
	if err := m.Handle(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(triggers.calls) != 1 || triggers.calls[0] != "task_completed" {
		t.Fatalf("expected only task_completed trigger, got %v", triggers.calls)
	}
}

func TestTaskMonitorTaskExtractedPersistsAndNotifiesAssignee(t *testing.T) {
	appender := &fakeAppender{}
	tasks := &fakeTaskRepoForKnowledge{}
	m := NewTaskMonitor(&fakeRuleTrigger{}, fakeOpenTaskCounter{}, knowledge.New(nil, tasks, nil), appender)

	entry := broker.Entry{
		Stream: broker.StreamTaskEvents, EventType: "task_extracted",
		Payload: toEntryPayload(t, taskExtractedData{Team: "eng", Title: "follow up on PR #4", Assignee: "carol", Source: "issue_extraction", SourceID: "4"}),
	}
	if err := m.Handle(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks.created) != 1 || tasks.created[0].Status != domain.TaskStatusPending {
		t.Fatalf("expected one pending task, got %+v", tasks.created)
	}
	if len(appender.appends) != 1 || appender.appends[0].payload["recipient"] != "carol" {
		t.Fatalf("expected notification for carol, got %+v", appender.appends)
	}
}

func TestTaskMonitorTaskExtractedWithoutAssigneeSkipsNotification(t *testing.T) {
	appender := &fakeAppender{}
	m := NewTaskMonitor(&fakeRuleTrigger{}, fakeOpenTaskCounter{}, knowledge.New(nil, &fakeTaskRepoForKnowledge{}, nil), appender)

	entry := broker.Entry{
		Stream: broker.StreamTaskEvents, EventType: "task_extracted",
		Payload: toEntryPayload(t, taskExtractedData{Team: "eng", Title: "cleanup", Source: "issue_extraction", SourceID: "5"}),
	}
	if err := m.Handle(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(appender.appends) != 0 {
		t.Fatalf("expected no notification without an assignee, got %+v", appender.appends)
	}
}

func TestTaskMonitorTaskUpdatedNotifiesNewAssigneeOnReassignment(t *testing.T) {
	appender := &fakeAppender{}
	m := NewTaskMonitor(&fakeRuleTrigger{}, fakeOpenTaskCounter{}, knowledge.New(nil, &fakeTaskRepoForKnowledge{}, nil), appender)

	entry := broker.Entry{
		Stream: broker.StreamTaskEvents, EventType: "task_updated",
		Payload: toEntryPayload(t, taskUpdatedData{TaskID: "t1", Team: "eng", Updater: "alice", OldAssignee: "bob", NewAssignee: "carol"}),
	}
	if err := m.Handle(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(appender.appends) != 1 || appender.appends[0].payload["recipient"] != "carol" {
		t.Fatalf("expected notification for carol, got %+v", appender.appends)
	}
}

func TestTaskMonitorTaskUpdatedSkipsWhenUpdaterSelfAssigns(t *testing.T) {
	appender := &fakeAppender{}
	m := NewTaskMonitor(&fakeRuleTrigger{}, fakeOpenTaskCounter{}, knowledge.New(nil, &fakeTaskRepoForKnowledge{}, nil), appender)

	entry := broker.Entry{
		Stream: broker.StreamTaskEvents, EventType: "task_updated",
		Payload: toEntryPayload(t, taskUpdatedData{TaskID: "t1", Team: "eng", Updater: "alice", OldAssignee: "bob", NewAssignee: "alice"}),
	}
	if err := m.Handle(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(appender.appends) != 0 {
		t.Fatalf("expected no notification when updater self-assigns, got %+v", appender.appends)
	}
}

func TestTaskMonitorIgnoresActivityOnlyEntries(t *testing.T) {
	m := NewTaskMonitor(&fakeRuleTrigger{}, fakeOpenTaskCounter{}, knowledge.New(nil, &fakeTaskRepoForKnowledge{}, nil), &fakeAppender{})

	entry := broker.Entry{Stream: broker.StreamTaskEvents, EventType: "pr_activity", Payload: map[string]interface{}{"repo": "r"}}
	if err := m.Handle(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
