package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/taskhub/internal/application"
	"github.com/example/taskhub/internal/persistence"
)

type budgetService interface {
	CreateBudget(ctx context.Context, params application.CreateBudgetParams) (persistence.Budget, error)
	GetBudget(ctx context.Context, principal application.Principal, budgetID string) (persistence.Budget, error)
	ListBudgets(ctx context.Context, principal application.Principal, year, month int) ([]persistence.Budget, error)
	UpdateBudget(ctx context.Context, params application.UpdateBudgetParams) (persistence.Budget, error)
	DeleteBudget(ctx context.Context, principal application.Principal, budgetID string) error
	Summary(ctx context.Context, principal application.Principal, year, month int) (application.BudgetSummary, error)
}

// BudgetHandler serves the /budgets endpoints.
type BudgetHandler struct {
	service   budgetService
	responder responder
}

func NewBudgetHandler(service budgetService, logger *slog.Logger) *BudgetHandler {
	return &BudgetHandler{service: service, responder: newResponder(logger)}
}

func (h *BudgetHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req budgetRequest
	if !h.responder.decode(w, r, &req) {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	budget, err := h.service.CreateBudget(r.Context(), application.CreateBudgetParams{
		Principal: principal,
		Input:     req.toInput(),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toBudgetDTO(budget))
}

func (h *BudgetHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	budget, err := h.service.GetBudget(r.Context(), principal, pathParam(r, "id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toBudgetDTO(budget))
}

func (h *BudgetHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	year, month, ok := h.period(w, r)
	if !ok {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	budgets, err := h.service.ListBudgets(r.Context(), principal, year, month)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	dtos := make([]budgetDTO, 0, len(budgets))
	for _, budget := range budgets {
		dtos = append(dtos, toBudgetDTO(budget))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listBudgetsResponse{Budgets: dtos})
}

func (h *BudgetHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req budgetRequest
	if !h.responder.decode(w, r, &req) {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	budget, err := h.service.UpdateBudget(r.Context(), application.UpdateBudgetParams{
		Principal: principal,
		BudgetID:  pathParam(r, "id"),
		Input:     req.toInput(),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toBudgetDTO(budget))
}

func (h *BudgetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.DeleteBudget(r.Context(), principal, pathParam(r, "id")); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// Summary reports spend against budgets for ?year=&month=, defaulting to the
// current month.
func (h *BudgetHandler) Summary(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	year, month, ok := h.period(w, r)
	if !ok {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	summary, err := h.service.Summary(r.Context(), principal, year, month)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toBudgetSummaryDTO(summary))
}

func (h *BudgetHandler) period(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	query := r.URL.Query()
	vErr := &application.ValidationError{}
	year := queryInt(query, "year", vErr)
	month := queryInt(query, "month", vErr)
	if vErr.HasErrors() {
		h.responder.handleServiceError(r.Context(), w, vErr)
		return 0, 0, false
	}
	return year, month, true
}

type budgetRequest struct {
	Category   string `json:"category" validate:"required,max=100"`
	Year       int    `json:"year" validate:"required,min=1970,max=9999"`
	Month      int    `json:"month" validate:"required,min=1,max=12"`
	LimitCents int64  `json:"limit_cents" validate:"gte=0"`
	Currency   string `json:"currency" validate:"required,len=3"`
}

func (r budgetRequest) toInput() application.BudgetInput {
	return application.BudgetInput{
		Category:   r.Category,
		Year:       r.Year,
		Month:      r.Month,
		LimitCents: r.LimitCents,
		Currency:   r.Currency,
	}
}

type budgetDTO struct {
	ID         string    `json:"id"`
	Category   string    `json:"category"`
	Year       int       `json:"year"`
	Month      int       `json:"month"`
	LimitCents int64     `json:"limit_cents"`
	Currency   string    `json:"currency"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type listBudgetsResponse struct {
	Budgets []budgetDTO `json:"budgets"`
}

func toBudgetDTO(budget persistence.Budget) budgetDTO {
	return budgetDTO{
		ID:         budget.ID,
		Category:   budget.Category,
		Year:       budget.Year,
		Month:      int(budget.Month),
		LimitCents: budget.LimitCents,
		Currency:   budget.Currency,
		CreatedAt:  budget.CreatedAt,
		UpdatedAt:  budget.UpdatedAt,
	}
}

type budgetLineDTO struct {
	BudgetID       string `json:"budget_id"`
	Category       string `json:"category"`
	Currency       string `json:"currency"`
	LimitCents     int64  `json:"limit_cents"`
	SpentCents     int64  `json:"spent_cents"`
	RemainingCents int64  `json:"remaining_cents"`
	OverBudget     bool   `json:"over_budget"`
}

type categoryTotalDTO struct {
	Category   string `json:"category"`
	Currency   string `json:"currency"`
	TotalCents int64  `json:"total_cents"`
}

type budgetSummaryDTO struct {
	Year       int                `json:"year"`
	Month      int                `json:"month"`
	Lines      []budgetLineDTO    `json:"lines"`
	Unbudgeted []categoryTotalDTO `json:"unbudgeted"`
}

func toBudgetSummaryDTO(summary application.BudgetSummary) budgetSummaryDTO {
	dto := budgetSummaryDTO{
		Year:       summary.Year,
		Month:      int(summary.Month),
		Lines:      make([]budgetLineDTO, 0, len(summary.Lines)),
		Unbudgeted: make([]categoryTotalDTO, 0, len(summary.Unbudgeted)),
	}
	for _, line := range summary.Lines {
		dto.Lines = append(dto.Lines, budgetLineDTO(line))
	}
	for _, total := range summary.Unbudgeted {
		dto.Unbudgeted = append(dto.Unbudgeted, categoryTotalDTO(total))
	}
	return dto
}
