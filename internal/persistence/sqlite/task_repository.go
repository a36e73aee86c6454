package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/example/taskhub/internal/persistence"
	"github.com/example/taskhub/internal/recurrence"
)

// TaskRepository implements persistence.TaskRepository.
type TaskRepository struct {
	db *DB
}

// NewTaskRepository creates a task repository.
func NewTaskRepository(db *DB) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `id, user_id, title, description, category, priority, status, due_date,
	reminder_at, notes, parent_task_id, completed_at, created_at, updated_at`

// CreateTask inserts the task together with its tags and rule.
func (r *TaskRepository) CreateTask(ctx context.Context, task persistence.Task) error {
	return r.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		return insertTask(ctx, tx, task)
	})
}

func insertTask(ctx context.Context, tx *sql.Tx, task persistence.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.UserID,
		task.Title,
		task.Description,
		task.Category,
		task.Priority,
		task.Status,
		formatNullableTime(task.DueDate),
		formatNullableTime(task.ReminderAt),
		task.Notes,
		nullableString(task.ParentTaskID),
		formatNullableTime(task.CompletedAt),
		formatTime(task.CreatedAt),
		formatTime(task.UpdatedAt),
	)
	if err != nil {
		return mapError(err)
	}
	if err := writeTags(ctx, tx, task.ID, task.Tags); err != nil {
		return err
	}
	if task.Recurrence != nil {
		return taskRules.put(ctx, tx, task.ID, *task.Recurrence)
	}
	return nil
}

// UpdateTask replaces the task's fields and tags.
func (r *TaskRepository) UpdateTask(ctx context.Context, task persistence.Task) error {
	return r.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE tasks
			SET title = ?, description = ?, category = ?, priority = ?, status = ?, due_date = ?,
				reminder_at = ?, notes = ?, completed_at = ?, updated_at = ?
			WHERE id = ?`,
			task.Title,
			task.Description,
			task.Category,
			task.Priority,
			task.Status,
			formatNullableTime(task.DueDate),
			formatNullableTime(task.ReminderAt),
			task.Notes,
			formatNullableTime(task.CompletedAt),
			formatTime(task.UpdatedAt),
			task.ID,
		)
		if err != nil {
			return mapError(err)
		}
		if err := requireAffected(result); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM task_tags WHERE task_id = ?`, task.ID); err != nil {
			return mapError(err)
		}
		return writeTags(ctx, tx, task.ID, task.Tags)
	})
}

// GetTask returns the task with its tags and rule.
func (r *TaskRepository) GetTask(ctx context.Context, id string) (persistence.Task, error) {
	return loadTask(ctx, r.db.db, id)
}

func loadTask(ctx context.Context, q querier, id string) (persistence.Task, error) {
	task, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err != nil {
		return persistence.Task{}, err
	}
	if task.Tags, err = readTags(ctx, q, id); err != nil {
		return persistence.Task{}, err
	}
	if task.Recurrence, _, err = taskRules.get(ctx, q, id); err != nil {
		return persistence.Task{}, err
	}
	return task, nil
}

// ListTasks returns the user's tasks ordered by due date (undated last) then
// creation time.
func (r *TaskRepository) ListTasks(ctx context.Context, filter persistence.TaskFilter) ([]persistence.Task, error) {
	var (
		conditions = []string{"user_id = ?"}
		args       = []any{filter.UserID}
	)
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.Tag != "" {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM task_tags tt WHERE tt.task_id = tasks.id AND tt.tag = ?)")
		args = append(args, filter.Tag)
	}
	if filter.DueAfter != nil {
		conditions = append(conditions, "due_date >= ?")
		args = append(args, formatTime(*filter.DueAfter))
	}
	if filter.DueBefore != nil {
		conditions = append(conditions, "due_date < ?")
		args = append(args, formatTime(*filter.DueBefore))
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(conditions, " AND ") +
		` ORDER BY due_date IS NULL, due_date, created_at, id`

	var tasks []persistence.Task
	err := r.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return mapError(err)
		}
		for rows.Next() {
			task, err := scanTask(rows)
			if err != nil {
				rows.Close()
				return err
			}
			tasks = append(tasks, task)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}

		// Details are read after the cursor is closed; the pool may hold a single connection.
		for i := range tasks {
			if tasks[i].Tags, err = readTags(ctx, tx, tasks[i].ID); err != nil {
				return err
			}
			if tasks[i].Recurrence, _, err = taskRules.get(ctx, tx, tasks[i].ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// DeleteTask removes the task; tags and rule cascade.
func (r *TaskRepository) DeleteTask(ctx context.Context, id string) error {
	result, err := r.db.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(result)
}

// RemoveRecurrence deletes the task's rule. It reports ErrNotFound when the
// task does not recur.
func (r *TaskRepository) RemoveRecurrence(ctx context.Context, id string) error {
	removed, err := taskRules.remove(ctx, r.db.db, id)
	if err != nil {
		return err
	}
	if !removed {
		return persistence.ErrNotFound
	}
	return nil
}

// ReplanRecurrence rewrites the task's rule inside one transaction.
func (r *TaskRepository) ReplanRecurrence(ctx context.Context, id string, plan persistence.ReplanFunc) error {
	return taskRules.replan(ctx, r.db, id, plan)
}

// RecurrenceStore exposes recurring tasks to a recurrence.Processor.
func (r *TaskRepository) RecurrenceStore() recurrence.Store[persistence.Task] {
	return &recurringStore[persistence.Task]{
		db:     r.db,
		rules:  taskRules,
		load:   loadTask,
		insert: insertTask,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (persistence.Task, error) {
	var (
		task                             persistence.Task
		due, reminder, completed, parent sql.NullString
		createdAt, updatedAt             string
	)
	err := row.Scan(&task.ID, &task.UserID, &task.Title, &task.Description, &task.Category, &task.Priority,
		&task.Status, &due, &reminder, &task.Notes, &parent, &completed, &createdAt, &updatedAt)
	if err != nil {
		return persistence.Task{}, mapError(err)
	}

	if task.DueDate, err = parseNullableTime("due_date", due); err != nil {
		return persistence.Task{}, err
	}
	if task.ReminderAt, err = parseNullableTime("reminder_at", reminder); err != nil {
		return persistence.Task{}, err
	}
	if task.CompletedAt, err = parseNullableTime("completed_at", completed); err != nil {
		return persistence.Task{}, err
	}
	if task.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return persistence.Task{}, err
	}
	if task.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return persistence.Task{}, err
	}
	task.ParentTaskID = stringPtr(parent)
	return task, nil
}

func writeTags(ctx context.Context, tx *sql.Tx, taskID string, tags []string) error {
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_tags (task_id, tag) VALUES (?, ?)`, taskID, tag); err != nil {
			return fmt.Errorf("insert tag %q: %w", tag, mapError(err))
		}
	}
	return nil
}

func readTags(ctx context.Context, q querier, taskID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT tag FROM task_tags WHERE task_id = ?`, taskID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(tags)
	return tags, nil
}
