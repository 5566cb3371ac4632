package domain

import "time"

// TaskStatus is the lifecycle state of an extracted or manually created task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
)

// Task is a unit of work, either manually created by a rule action or
// extracted from an issue/comment by the classifier.
type Task struct {
	ID          string
	Team        string
	Title       string
	Description string
	Assignee    string
	Priority    Priority
	Status      TaskStatus
	Source      string // "rule", "issue_extraction", ...
	SourceID    string // fingerprint used for idempotent creation
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Decision is a knowledge artifact extracted from PR/issue/comment bodies.
// SupersededBy models the cyclic-reference risk noted in the design notes as
// a one-directional edge rather than mutual ownership.
type Decision struct {
	ID            string
	Team          string
	Repo          string
	Summary       string
	SourceRef     string
	SourceID      string // fingerprint: PR number, comment id, ...
	SupersededBy  string
	CreatedAt     time.Time
}
