package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/taskhub/internal/application"
	"github.com/example/taskhub/internal/persistence"
	"github.com/example/taskhub/internal/recurrence"
)

type taskService interface {
	CreateTask(ctx context.Context, params application.CreateTaskParams) (persistence.Task, error)
	GetTask(ctx context.Context, principal application.Principal, taskID string) (persistence.Task, error)
	ListTasks(ctx context.Context, params application.ListTasksParams) ([]persistence.Task, error)
	UpdateTask(ctx context.Context, params application.UpdateTaskParams) (persistence.Task, error)
	DeleteTask(ctx context.Context, principal application.Principal, taskID string) error
	CancelRecurrence(ctx context.Context, principal application.Principal, taskID string) error
	ProcessRecurrence(ctx context.Context, principal application.Principal, taskID string) (recurrence.Result, error)
}

// TaskHandler serves the /tasks endpoints.
type TaskHandler struct {
	service   taskService
	responder responder
	logger    *slog.Logger
}

func NewTaskHandler(service taskService, logger *slog.Logger) *TaskHandler {
	logger = defaultLogger(logger)
	return &TaskHandler{service: service, responder: newResponder(logger), logger: logger}
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req taskRequest
	if !h.responder.decode(w, r, &req) {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	task, err := h.service.CreateTask(r.Context(), application.CreateTaskParams{
		Principal: principal,
		Input:     req.toInput(),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	handlerLogger(r.Context(), h.logger, "TaskHandler", "Create", "task_id", task.ID).InfoContext(r.Context(), "task created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toTaskDTO(task))
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	task, err := h.service.GetTask(r.Context(), principal, pathParam(r, "id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toTaskDTO(task))
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	query := r.URL.Query()
	vErr := &application.ValidationError{}
	params := application.ListTasksParams{
		Principal: principal,
		Status:    query.Get("status"),
		Category:  query.Get("category"),
		Tag:       query.Get("tag"),
		DueAfter:  queryTime(query, "due_after", vErr),
		DueBefore: queryTime(query, "due_before", vErr),
	}
	if vErr.HasErrors() {
		h.responder.handleServiceError(r.Context(), w, vErr)
		return
	}

	tasks, err := h.service.ListTasks(r.Context(), params)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	dtos := make([]taskDTO, 0, len(tasks))
	for _, task := range tasks {
		dtos = append(dtos, toTaskDTO(task))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listTasksResponse{Tasks: dtos})
}

func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req taskRequest
	if !h.responder.decode(w, r, &req) {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	task, err := h.service.UpdateTask(r.Context(), application.UpdateTaskParams{
		Principal: principal,
		TaskID:    pathParam(r, "id"),
		Input:     req.toInput(),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toTaskDTO(task))
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.DeleteTask(r.Context(), principal, pathParam(r, "id")); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *TaskHandler) CancelRecurrence(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.CancelRecurrence(r.Context(), principal, pathParam(r, "id")); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *TaskHandler) ProcessRecurrence(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	result, err := h.service.ProcessRecurrence(r.Context(), principal, pathParam(r, "id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toRecurrenceResultDTO(result))
}

type taskRequest struct {
	Title       string             `json:"title" validate:"required,max=200"`
	Description string             `json:"description" validate:"max=4000"`
	Category    string             `json:"category" validate:"max=100"`
	Tags        []string           `json:"tags" validate:"max=20,dive,max=50"`
	Priority    string             `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Status      string             `json:"status" validate:"omitempty,oneof=todo in_progress done"`
	DueDate     *time.Time         `json:"due_date"`
	ReminderAt  *time.Time         `json:"reminder_at"`
	Notes       string             `json:"notes" validate:"max=4000"`
	Recurrence  *recurrenceRequest `json:"recurrence"`
}

func (r taskRequest) toInput() application.TaskInput {
	return application.TaskInput{
		Title:       r.Title,
		Description: r.Description,
		Category:    r.Category,
		Tags:        r.Tags,
		Priority:    r.Priority,
		Status:      r.Status,
		DueDate:     r.DueDate,
		ReminderAt:  r.ReminderAt,
		Notes:       r.Notes,
		Recurrence:  r.Recurrence.toInput(),
	}
}

type taskDTO struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	Category     string         `json:"category,omitempty"`
	Tags         []string       `json:"tags"`
	Priority     string         `json:"priority"`
	Status       string         `json:"status"`
	DueDate      *time.Time     `json:"due_date,omitempty"`
	ReminderAt   *time.Time     `json:"reminder_at,omitempty"`
	Notes        string         `json:"notes,omitempty"`
	ParentTaskID *string        `json:"parent_task_id,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Recurrence   *recurrenceDTO `json:"recurrence,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type listTasksResponse struct {
	Tasks []taskDTO `json:"tasks"`
}

func toTaskDTO(task persistence.Task) taskDTO {
	tags := task.Tags
	if tags == nil {
		tags = []string{}
	}
	return taskDTO{
		ID:           task.ID,
		Title:        task.Title,
		Description:  task.Description,
		Category:     task.Category,
		Tags:         tags,
		Priority:     task.Priority,
		Status:       task.Status,
		DueDate:      task.DueDate,
		ReminderAt:   task.ReminderAt,
		Notes:        task.Notes,
		ParentTaskID: task.ParentTaskID,
		CompletedAt:  task.CompletedAt,
		Recurrence:   toRecurrenceDTO(task.Recurrence),
		CreatedAt:    task.CreatedAt,
		UpdatedAt:    task.UpdatedAt,
	}
}
