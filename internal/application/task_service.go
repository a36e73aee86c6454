package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/example/taskhub/internal/persistence"
	"github.com/example/taskhub/internal/recurrence"
)

var (
	taskPriorities = []string{"low", "medium", "high", "urgent"}
	taskStatuses   = []string{"todo", "in_progress", "done"}
)

const (
	defaultTaskPriority = "medium"
	defaultTaskStatus   = "todo"
	statusDone          = "done"
	maxTitleLength      = 200
	maxTags             = 20
)

// TaskService orchestrates validation, tenancy, and persistence for tasks.
type TaskService struct {
	tasks       persistence.TaskRepository
	scheduler   *recurrence.Scheduler
	processor   *recurrence.Processor[persistence.Task]
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewTaskService constructs a task service. processor may be nil when on-demand
// recurrence processing is not offered.
func NewTaskService(tasks persistence.TaskRepository, scheduler *recurrence.Scheduler, processor *recurrence.Processor[persistence.Task], idGenerator func() string, now func() time.Time, logger *slog.Logger) *TaskService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if scheduler == nil {
		scheduler = recurrence.NewScheduler(nil, time.UTC)
	}
	return &TaskService{
		tasks:       tasks,
		scheduler:   scheduler,
		processor:   processor,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (s *TaskService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "TaskService", operation, attrs...)
}

// TaskMaterializer builds the task generated for one occurrence of a recurring
// task. The clone is due at the occurrence, keeps the owner's reminder offset,
// starts over as todo and does not itself recur.
func TaskMaterializer(idGenerator func() string, now func() time.Time) recurrence.Materializer[persistence.Task] {
	if now == nil {
		now = time.Now
	}
	return func(owner persistence.Task, occurrence time.Time) persistence.Task {
		created := now()
		due := occurrence
		clone := persistence.Task{
			ID:           idGenerator(),
			UserID:       owner.UserID,
			Title:        owner.Title,
			Description:  owner.Description,
			Category:     owner.Category,
			Tags:         slices.Clone(owner.Tags),
			Priority:     owner.Priority,
			Status:       defaultTaskStatus,
			DueDate:      &due,
			Notes:        owner.Notes,
			ParentTaskID: &owner.ID,
			CreatedAt:    created,
			UpdatedAt:    created,
		}
		if owner.ReminderAt != nil && owner.DueDate != nil {
			reminder := occurrence.Add(owner.ReminderAt.Sub(*owner.DueDate))
			clone.ReminderAt = &reminder
		}
		return clone
	}
}

// CreateTask validates input and stores a task owned by the principal.
func (s *TaskService) CreateTask(ctx context.Context, params CreateTaskParams) (task persistence.Task, err error) {
	if s == nil {
		err = fmt.Errorf("TaskService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CreateTask", "principal_id", params.Principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create task", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("task_id", task.ID).InfoContext(ctx, "task created")
	}()

	if params.Principal.UserID == "" {
		err = ErrUnauthorized
		return
	}

	input := normalizeTaskInput(params.Input)
	vErr := validateTaskInput(input)

	now := s.now()
	var rule *recurrence.Rule
	if input.Recurrence != nil {
		start := now
		if input.DueDate != nil {
			start = *input.DueDate
		}
		var ruleErr *ValidationError
		rule, ruleErr = planRule(s.scheduler, input.Recurrence, start, nil)
		vErr.merge(ruleErr)
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	task = persistence.Task{
		ID:          s.idGenerator(),
		UserID:      params.Principal.UserID,
		Title:       input.Title,
		Description: input.Description,
		Category:    input.Category,
		Tags:        input.Tags,
		Priority:    input.Priority,
		Status:      input.Status,
		DueDate:     input.DueDate,
		ReminderAt:  input.ReminderAt,
		Notes:       input.Notes,
		Recurrence:  rule,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if task.Status == statusDone {
		task.CompletedAt = &now
	}

	if err = s.tasks.CreateTask(ctx, task); err != nil {
		err = mapRepoError(err)
		return
	}
	return
}

// GetTask returns one of the principal's tasks.
func (s *TaskService) GetTask(ctx context.Context, principal Principal, taskID string) (persistence.Task, error) {
	if s == nil {
		return persistence.Task{}, fmt.Errorf("TaskService is nil")
	}
	return s.ownedTask(ctx, principal, taskID)
}

// ownedTask loads a task and hides tasks of other users behind ErrNotFound.
func (s *TaskService) ownedTask(ctx context.Context, principal Principal, taskID string) (persistence.Task, error) {
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return persistence.Task{}, mapRepoError(err)
	}
	if !principal.canAccess(task.UserID) {
		return persistence.Task{}, ErrNotFound
	}
	return task, nil
}

// ListTasks returns the principal's tasks matching the filters.
func (s *TaskService) ListTasks(ctx context.Context, params ListTasksParams) ([]persistence.Task, error) {
	if s == nil {
		return nil, fmt.Errorf("TaskService is nil")
	}
	if params.Principal.UserID == "" {
		return nil, ErrUnauthorized
	}

	vErr := &ValidationError{}
	if params.Status != "" && !slices.Contains(taskStatuses, params.Status) {
		vErr.add("status", "status must be one of "+strings.Join(taskStatuses, ", "))
	}
	if params.DueAfter != nil && params.DueBefore != nil && params.DueBefore.Before(*params.DueAfter) {
		vErr.add("due_before", "due_before must not precede due_after")
	}
	if vErr.HasErrors() {
		return nil, vErr
	}

	tasks, err := s.tasks.ListTasks(ctx, persistence.TaskFilter{
		UserID:    params.Principal.UserID,
		Status:    params.Status,
		Category:  strings.TrimSpace(params.Category),
		Tag:       normalizeTag(params.Tag),
		DueAfter:  params.DueAfter,
		DueBefore: params.DueBefore,
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	return tasks, nil
}

// UpdateTask validates input and replaces the task's fields. Completing a task
// stamps CompletedAt; reopening it clears the stamp.
func (s *TaskService) UpdateTask(ctx context.Context, params UpdateTaskParams) (task persistence.Task, err error) {
	if s == nil {
		err = fmt.Errorf("TaskService is nil")
		return
	}

	logger := s.loggerWith(ctx, "UpdateTask",
		"principal_id", params.Principal.UserID,
		"task_id", params.TaskID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update task", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "task updated")
	}()

	var existing persistence.Task
	existing, err = s.ownedTask(ctx, params.Principal, params.TaskID)
	if err != nil {
		return
	}

	input := normalizeTaskInput(params.Input)
	vErr := validateTaskInput(input)

	if input.Recurrence != nil {
		_, ruleErr := planRule(s.scheduler, input.Recurrence, recurrenceStart(existing.Recurrence, input.DueDate, existing.CreatedAt), existing.Recurrence)
		vErr.merge(ruleErr)
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	now := s.now()
	updated := existing
	updated.Title = input.Title
	updated.Description = input.Description
	updated.Category = input.Category
	updated.Tags = input.Tags
	updated.Priority = input.Priority
	updated.Status = input.Status
	updated.DueDate = input.DueDate
	updated.ReminderAt = input.ReminderAt
	updated.Notes = input.Notes
	updated.UpdatedAt = now
	switch {
	case updated.Status == statusDone && existing.CompletedAt == nil:
		updated.CompletedAt = &now
	case updated.Status != statusDone:
		updated.CompletedAt = nil
	}

	if err = s.tasks.UpdateTask(ctx, updated); err != nil {
		err = mapRepoError(err)
		return
	}
	if input.Recurrence != nil {
		err = s.tasks.ReplanRecurrence(ctx, updated.ID, func(current *recurrence.Rule) (*recurrence.Rule, error) {
			rule, ruleErr := planRule(s.scheduler, input.Recurrence, recurrenceStart(current, input.DueDate, existing.CreatedAt), current)
			if ruleErr.HasErrors() {
				return nil, ruleErr
			}
			return rule, nil
		})
		if err != nil {
			err = mapRepoError(err)
			return
		}
	}

	task, err = s.tasks.GetTask(ctx, updated.ID)
	err = mapRepoError(err)
	return
}

// recurrenceStart picks the start of an edited schedule: the current rule's
// start if there is one, else the due date, else fallback.
func recurrenceStart(current *recurrence.Rule, due *time.Time, fallback time.Time) time.Time {
	switch {
	case current != nil:
		return current.StartDate
	case due != nil:
		return *due
	}
	return fallback
}

// DeleteTask removes one of the principal's tasks along with its schedule.
func (s *TaskService) DeleteTask(ctx context.Context, principal Principal, taskID string) (err error) {
	if s == nil {
		return fmt.Errorf("TaskService is nil")
	}

	logger := s.loggerWith(ctx, "DeleteTask", "principal_id", principal.UserID, "task_id", taskID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to delete task", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "task deleted")
	}()

	if _, err = s.ownedTask(ctx, principal, taskID); err != nil {
		return
	}
	err = mapRepoError(s.tasks.DeleteTask(ctx, taskID))
	return
}

// CancelRecurrence stops a task from repeating. Occurrences already
// materialized are kept.
func (s *TaskService) CancelRecurrence(ctx context.Context, principal Principal, taskID string) error {
	if s == nil {
		return fmt.Errorf("TaskService is nil")
	}
	if _, err := s.ownedTask(ctx, principal, taskID); err != nil {
		return err
	}
	if err := s.tasks.RemoveRecurrence(ctx, taskID); err != nil {
		return mapRepoError(err)
	}
	s.loggerWith(ctx, "CancelRecurrence", "principal_id", principal.UserID, "task_id", taskID).
		InfoContext(ctx, "task recurrence cancelled")
	return nil
}

// ProcessRecurrence materializes every occurrence of the task that is due now.
func (s *TaskService) ProcessRecurrence(ctx context.Context, principal Principal, taskID string) (recurrence.Result, error) {
	if s == nil {
		return recurrence.Result{}, fmt.Errorf("TaskService is nil")
	}
	if s.processor == nil {
		return recurrence.Result{}, errors.New("task recurrence processing not configured")
	}

	task, err := s.ownedTask(ctx, principal, taskID)
	if err != nil {
		return recurrence.Result{}, err
	}
	if task.Recurrence == nil {
		return recurrence.Result{}, fmt.Errorf("%w: task %s does not recur", ErrNotFound, taskID)
	}

	result, err := s.processor.Process(ctx, taskID, s.now())
	if err != nil {
		return result, mapRepoError(err)
	}
	return result, nil
}

func normalizeTaskInput(input TaskInput) TaskInput {
	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	input.Category = strings.TrimSpace(input.Category)
	input.Notes = strings.TrimSpace(input.Notes)
	input.Priority = strings.ToLower(strings.TrimSpace(input.Priority))
	if input.Priority == "" {
		input.Priority = defaultTaskPriority
	}
	input.Status = strings.ToLower(strings.TrimSpace(input.Status))
	if input.Status == "" {
		input.Status = defaultTaskStatus
	}

	tags := make([]string, 0, len(input.Tags))
	for _, tag := range input.Tags {
		if tag = normalizeTag(tag); tag != "" && !slices.Contains(tags, tag) {
			tags = append(tags, tag)
		}
	}
	slices.Sort(tags)
	input.Tags = tags
	return input
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

func validateTaskInput(input TaskInput) *ValidationError {
	vErr := &ValidationError{}

	if input.Title == "" {
		vErr.add("title", "title is required")
	} else if len([]rune(input.Title)) > maxTitleLength {
		vErr.add("title", fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	}
	if !slices.Contains(taskPriorities, input.Priority) {
		vErr.add("priority", "priority must be one of "+strings.Join(taskPriorities, ", "))
	}
	if !slices.Contains(taskStatuses, input.Status) {
		vErr.add("status", "status must be one of "+strings.Join(taskStatuses, ", "))
	}
	if len(input.Tags) > maxTags {
		vErr.add("tags", fmt.Sprintf("at most %d tags are allowed", maxTags))
	}
	if input.ReminderAt != nil && input.DueDate != nil && input.ReminderAt.After(*input.DueDate) {
		vErr.add("reminder_at", "reminder must not be after the due date")
	}

	return vErr
}
