package workers

import (
	"context"
	"fmt"

	"github.com/eventcore/pipeline/internal/broker"
	"github.com/eventcore/pipeline/internal/chatclient"
	"github.com/eventcore/pipeline/internal/domain"
	"github.com/eventcore/pipeline/internal/rules"
)

// TaskRepository is the persistence seam the action executor uses for
// create_task/assign_task/update_task.
type TaskRepository interface {
	CreateTask(ctx context.Context, t domain.Task) (domain.Task, error)
	AssignTask(ctx context.Context, id, assignee string) (domain.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus) (domain.Task, error)
}

// ChatSender is the subset of *chatclient.Client the send_message action
// depends on.
type ChatSender interface {
	PostMessage(ctx context.Context, recipient string, msg chatclient.Message) error
}

// ActionExecutor implements rules.ActionExecutor, dispatching the five
// actions §4.6 names. notify_user/create_task/assign_task/update_task feed
// back into the broker's notifications/task stream or the task repository;
// send_message posts directly to chat without consulting the rate limiter
// (Open Question (c): default "no").
type ActionExecutor struct {
	appender Appender
	tasks    TaskRepository
	chat     ChatSender
}

// NewActionExecutor constructs an ActionExecutor.
func NewActionExecutor(appender Appender, tasks TaskRepository, chat ChatSender) *ActionExecutor {
	return &ActionExecutor{appender: appender, tasks: tasks, chat: chat}
}

// Execute implements rules.ActionExecutor.
func (e *ActionExecutor) Execute(ctx context.Context, actionType string, params map[string]interface{}, trigger rules.Context) rules.ActionResult {
	switch actionType {
	case "notify_user":
		return e.notifyUser(ctx, params, trigger)
	case "create_task":
		return e.createTask(ctx, params, trigger)
	case "assign_task":
		return e.assignTask(ctx, params)
	case "send_message":
		return e.sendMessage(ctx, params)
	case "update_task":
		return e.updateTask(ctx, params)
	default:
		return rules.ActionResult{Success: false, Error: "unknown action"}
	}
}

func stringParam(params map[string]interface{}, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func teamOf(trigger rules.Context) string {
	if team, ok := trigger.TriggerData["team"].(string); ok {
		return team
	}
	return ""
}

func (e *ActionExecutor) notifyUser(ctx context.Context, params map[string]interface{}, trigger rules.Context) rules.ActionResult {
	user := stringParam(params, "user")
	if user == "" {
		return rules.ActionResult{Success: false, Error: "notify_user requires a user"}
	}
	priority := stringParam(params, "priority")
	if priority == "" {
		priority = string(domain.PriorityNormal)
	}

	_, err := e.appender.Append(ctx, broker.StreamNotifications, "automation_triggered", map[string]interface{}{
		"recipient": user,
		"team":      teamOf(trigger),
		"kind":      "automation_triggered",
		"title":     "Automation triggered",
		"body":      stringParam(params, "message"),
		"priority":  priority,
	})
	if err != nil {
		return rules.ActionResult{Success: false, Error: err.Error()}
	}
	return rules.ActionResult{Success: true, Result: "notified " + user}
}

func (e *ActionExecutor) createTask(ctx context.Context, params map[string]interface{}, trigger rules.Context) rules.ActionResult {
	title := stringParam(params, "title")
	if title == "" {
		return rules.ActionResult{Success: false, Error: "create_task requires a title"}
	}
	priority := domain.Priority(stringParam(params, "priority"))
	if priority == "" {
		priority = domain.PriorityNormal
	}
	assignee := stringParam(params, "assignee")

	task, err := e.tasks.CreateTask(ctx, domain.Task{
		Team:        teamOf(trigger),
		Title:       title,
		Description: stringParam(params, "description"),
		Assignee:    assignee,
		Priority:    priority,
		Status:      domain.TaskStatusPending,
		Source:      "rule",
	})
	if err != nil {
		return rules.ActionResult{Success: false, Error: err.Error()}
	}

	if assignee != "" {
		if _, err := e.appender.Append(ctx, broker.StreamNotifications, "task_assigned", map[string]interface{}{
			"recipient": assignee, "team": task.Team, "kind": "task_assigned",
			"title": "New task: " + task.Title, "body": task.Description, "priority": string(priority),
		}); err != nil {
			return rules.ActionResult{Success: false, Error: err.Error()}
		}
	}
	return rules.ActionResult{Success: true, Result: task.ID}
}

func (e *ActionExecutor) assignTask(ctx context.Context, params map[string]interface{}) rules.ActionResult {
	taskID := stringParam(params, "task_id")
	assignee := stringParam(params, "assignee")
	if taskID == "" || assignee == "" {
		return rules.ActionResult{Success: false, Error: "assign_task requires task_id and assignee"}
	}

	task, err := e.tasks.AssignTask(ctx, taskID, assignee)
	if err != nil {
		return rules.ActionResult{Success: false, Error: err.Error()}
	}

	if _, err := e.appender.Append(ctx, broker.StreamNotifications, "task_assigned", map[string]interface{}{
		"recipient": assignee, "team": task.Team, "kind": "task_assigned",
		"title": "Assigned: " + task.Title, "body": task.Description, "priority": string(task.Priority),
	}); err != nil {
		return rules.ActionResult{Success: false, Error: err.Error()}
	}
	return rules.ActionResult{Success: true, Result: task.ID}
}

func (e *ActionExecutor) sendMessage(ctx context.Context, params map[string]interface{}) rules.ActionResult {
	channel := stringParam(params, "channel")
	message := stringParam(params, "message")
	if channel == "" {
		return rules.ActionResult{Success: false, Error: "send_message requires a channel"}
	}

	if err := e.chat.PostMessage(ctx, channel, chatclient.Message{Body: message}); err != nil {
		return rules.ActionResult{Success: false, Error: err.Error()}
	}
	return rules.ActionResult{Success: true, Result: "sent to " + channel}
}

func (e *ActionExecutor) updateTask(ctx context.Context, params map[string]interface{}) rules.ActionResult {
	taskID := stringParam(params, "task_id")
	status := stringParam(params, "status")
	if taskID == "" || status == "" {
		return rules.ActionResult{Success: false, Error: "update_task requires task_id and status"}
	}

	task, err := e.tasks.UpdateTaskStatus(ctx, taskID, domain.TaskStatus(status))
	if err != nil {
		return rules.ActionResult{Success: false, Error: err.Error()}
	}
	return rules.ActionResult{Success: true, Result: fmt.Sprintf("%s -> %s", task.ID, task.Status)}
}
