package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/eventcore/pipeline/internal/domain"
)

// CreateTask persists a task. When source/source_id are set and a row with
// the same pair already exists, the insert is skipped and the existing task
// is returned, giving the task-extracted path idempotent replay behavior.
func (s *Store) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = domain.TaskStatusPending
	}

	if t.SourceID != "" {
		if existing, err := s.GetTaskBySource(ctx, t.Source, t.SourceID); err == nil {
			return existing, nil
		} else if !IsNotFound(err) {
			return domain.Task{}, err
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, team, title, description, assignee, priority, status, source, source_id, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, t.ID, t.Team, t.Title, t.Description, t.Assignee, t.Priority, t.Status, t.Source, t.SourceID, t.CreatedAt, t.UpdatedAt, toNullTime(ptrTime(t.CompletedAt)))
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// GetTaskBySource looks up a task by its idempotency key.
func (s *Store) GetTaskBySource(ctx context.Context, source, sourceID string) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, team, title, description, assignee, priority, status, source, source_id, created_at, updated_at, completed_at
		FROM tasks WHERE source = $1 AND source_id = $2
	`, source, sourceID)
	return scanTask(row)
}

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, team, title, description, assignee, priority, status, source, source_id, created_at, updated_at, completed_at
		FROM tasks WHERE id = $1
	`, id)
	return scanTask(row)
}

// AssignTask updates the assignee of a task.
func (s *Store) AssignTask(ctx context.Context, id, assignee string) (domain.Task, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET assignee = $2, updated_at = now() WHERE id = $1
	`, id, assignee)
	if err != nil {
		return domain.Task{}, err
	}
	return s.GetTask(ctx, id)
}

// UpdateTaskStatus transitions a task's status, stamping completed_at when
// the new status is completed.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus) (domain.Task, error) {
	var completedAt sql.NullTime
	if status == domain.TaskStatusCompleted {
		completedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = $2, updated_at = now(), completed_at = COALESCE($3, completed_at) WHERE id = $1
	`, id, status, completedAt)
	if err != nil {
		return domain.Task{}, err
	}
	return s.GetTask(ctx, id)
}

// CountOpenTasksForUser returns the number of pending/in_progress tasks
// assigned to user within team, used by the all_tasks_completed trigger.
func (s *Store) CountOpenTasksForUser(ctx context.Context, team, user string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM tasks
		WHERE team = $1 AND assignee = $2 AND status IN ($3, $4)
	`, team, user, domain.TaskStatusPending, domain.TaskStatusInProgress).Scan(&count)
	return count, err
}

func scanTask(scanner rowScanner) (domain.Task, error) {
	var (
		t           domain.Task
		completedAt sql.NullTime
	)
	if err := scanner.Scan(&t.ID, &t.Team, &t.Title, &t.Description, &t.Assignee, &t.Priority, &t.Status, &t.Source, &t.SourceID, &t.CreatedAt, &t.UpdatedAt, &completedAt); err != nil {
		return domain.Task{}, err
	}
	if completedAt.Valid {
		tm := completedAt.Time.UTC()
		t.CompletedAt = &tm
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}
