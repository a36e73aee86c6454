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

type expenseService interface {
	CreateExpense(ctx context.Context, params application.CreateExpenseParams) (persistence.Expense, error)
	GetExpense(ctx context.Context, principal application.Principal, expenseID string) (persistence.Expense, error)
	ListExpenses(ctx context.Context, params application.ListExpensesParams) ([]persistence.Expense, error)
	UpdateExpense(ctx context.Context, params application.UpdateExpenseParams) (persistence.Expense, error)
	DeleteExpense(ctx context.Context, principal application.Principal, expenseID string) error
	CancelRecurrence(ctx context.Context, principal application.Principal, expenseID string) error
	ProcessRecurrence(ctx context.Context, principal application.Principal, expenseID string) (recurrence.Result, error)
}

// ExpenseHandler serves the /expenses endpoints.
type ExpenseHandler struct {
	service   expenseService
	responder responder
	logger    *slog.Logger
}

func NewExpenseHandler(service expenseService, logger *slog.Logger) *ExpenseHandler {
	logger = defaultLogger(logger)
	return &ExpenseHandler{service: service, responder: newResponder(logger), logger: logger}
}

func (h *ExpenseHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req expenseRequest
	if !h.responder.decode(w, r, &req) {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	expense, err := h.service.CreateExpense(r.Context(), application.CreateExpenseParams{
		Principal: principal,
		Input:     req.toInput(),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	handlerLogger(r.Context(), h.logger, "ExpenseHandler", "Create", "expense_id", expense.ID).InfoContext(r.Context(), "expense created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toExpenseDTO(expense))
}

func (h *ExpenseHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	expense, err := h.service.GetExpense(r.Context(), principal, pathParam(r, "id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toExpenseDTO(expense))
}

func (h *ExpenseHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	query := r.URL.Query()
	vErr := &application.ValidationError{}
	params := application.ListExpensesParams{
		Principal:   principal,
		Category:    query.Get("category"),
		SpentAfter:  queryTime(query, "spent_after", vErr),
		SpentBefore: queryTime(query, "spent_before", vErr),
	}
	if vErr.HasErrors() {
		h.responder.handleServiceError(r.Context(), w, vErr)
		return
	}

	expenses, err := h.service.ListExpenses(r.Context(), params)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	dtos := make([]expenseDTO, 0, len(expenses))
	for _, expense := range expenses {
		dtos = append(dtos, toExpenseDTO(expense))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listExpensesResponse{Expenses: dtos})
}

func (h *ExpenseHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req expenseRequest
	if !h.responder.decode(w, r, &req) {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	expense, err := h.service.UpdateExpense(r.Context(), application.UpdateExpenseParams{
		Principal: principal,
		ExpenseID: pathParam(r, "id"),
		Input:     req.toInput(),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toExpenseDTO(expense))
}

func (h *ExpenseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.DeleteExpense(r.Context(), principal, pathParam(r, "id")); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *ExpenseHandler) CancelRecurrence(w http.ResponseWriter, r *http.Request) {
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

func (h *ExpenseHandler) ProcessRecurrence(w http.ResponseWriter, r *http.Request) {
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

type expenseRequest struct {
	Title       string             `json:"title" validate:"required,max=200"`
	AmountCents int64              `json:"amount_cents" validate:"gte=0"`
	Currency    string             `json:"currency" validate:"required,len=3"`
	Category    string             `json:"category" validate:"max=100"`
	SpentAt     *time.Time         `json:"spent_at"`
	Notes       string             `json:"notes" validate:"max=4000"`
	Recurrence  *recurrenceRequest `json:"recurrence"`
}

func (r expenseRequest) toInput() application.ExpenseInput {
	input := application.ExpenseInput{
		Title:       r.Title,
		AmountCents: r.AmountCents,
		Currency:    r.Currency,
		Category:    r.Category,
		Notes:       r.Notes,
		Recurrence:  r.Recurrence.toInput(),
	}
	if r.SpentAt != nil {
		input.SpentAt = *r.SpentAt
	}
	return input
}

type expenseDTO struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	AmountCents     int64          `json:"amount_cents"`
	Currency        string         `json:"currency"`
	Category        string         `json:"category,omitempty"`
	SpentAt         time.Time      `json:"spent_at"`
	Notes           string         `json:"notes,omitempty"`
	ParentExpenseID *string        `json:"parent_expense_id,omitempty"`
	Recurrence      *recurrenceDTO `json:"recurrence,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

type listExpensesResponse struct {
	Expenses []expenseDTO `json:"expenses"`
}

func toExpenseDTO(expense persistence.Expense) expenseDTO {
	return expenseDTO{
		ID:              expense.ID,
		Title:           expense.Title,
		AmountCents:     expense.AmountCents,
		Currency:        expense.Currency,
		Category:        expense.Category,
		SpentAt:         expense.SpentAt,
		Notes:           expense.Notes,
		ParentExpenseID: expense.ParentExpenseID,
		Recurrence:      toRecurrenceDTO(expense.Recurrence),
		CreatedAt:       expense.CreatedAt,
		UpdatedAt:       expense.UpdatedAt,
	}
}
