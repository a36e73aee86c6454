package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/taskhub/internal/persistence"
)

// BudgetService manages monthly category budgets and reports spend against them.
type BudgetService struct {
	budgets     persistence.BudgetRepository
	expenses    persistence.ExpenseRepository
	idGenerator func() string
	now         func() time.Time
	location    *time.Location
	logger      *slog.Logger
}

// NewBudgetService constructs a budget service. Month boundaries are taken in
// loc, which defaults to UTC.
func NewBudgetService(budgets persistence.BudgetRepository, expenses persistence.ExpenseRepository, idGenerator func() string, now func() time.Time, loc *time.Location, logger *slog.Logger) *BudgetService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &BudgetService{
		budgets:     budgets,
		expenses:    expenses,
		idGenerator: idGenerator,
		now:         now,
		location:    loc,
		logger:      defaultLogger(logger),
	}
}

func (s *BudgetService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "BudgetService", operation, attrs...)
}

// CreateBudget stores a budget for the principal. One budget exists per
// category and month.
func (s *BudgetService) CreateBudget(ctx context.Context, params CreateBudgetParams) (budget persistence.Budget, err error) {
	if s == nil {
		err = fmt.Errorf("BudgetService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CreateBudget", "principal_id", params.Principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create budget", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("budget_id", budget.ID).InfoContext(ctx, "budget created")
	}()

	if params.Principal.UserID == "" {
		err = ErrUnauthorized
		return
	}

	input := normalizeBudgetInput(params.Input)
	if vErr := validateBudgetInput(input); vErr.HasErrors() {
		err = vErr
		return
	}

	now := s.now()
	budget = persistence.Budget{
		ID:         s.idGenerator(),
		UserID:     params.Principal.UserID,
		Category:   input.Category,
		Year:       input.Year,
		Month:      time.Month(input.Month),
		LimitCents: input.LimitCents,
		Currency:   input.Currency,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err = s.budgets.CreateBudget(ctx, budget); err != nil {
		err = mapRepoError(err)
	}
	return
}

// GetBudget returns one of the principal's budgets.
func (s *BudgetService) GetBudget(ctx context.Context, principal Principal, budgetID string) (persistence.Budget, error) {
	if s == nil {
		return persistence.Budget{}, fmt.Errorf("BudgetService is nil")
	}
	return s.ownedBudget(ctx, principal, budgetID)
}

func (s *BudgetService) ownedBudget(ctx context.Context, principal Principal, budgetID string) (persistence.Budget, error) {
	budget, err := s.budgets.GetBudget(ctx, budgetID)
	if err != nil {
		return persistence.Budget{}, mapRepoError(err)
	}
	if !principal.canAccess(budget.UserID) {
		return persistence.Budget{}, ErrNotFound
	}
	return budget, nil
}

// ListBudgets returns the principal's budgets; zero year or month match all.
func (s *BudgetService) ListBudgets(ctx context.Context, principal Principal, year, month int) ([]persistence.Budget, error) {
	if s == nil {
		return nil, fmt.Errorf("BudgetService is nil")
	}
	if principal.UserID == "" {
		return nil, ErrUnauthorized
	}
	if month < 0 || month > 12 {
		return nil, &ValidationError{FieldErrors: map[string]string{"month": "month must be between 1 and 12"}}
	}
	budgets, err := s.budgets.ListBudgets(ctx, principal.UserID, year, time.Month(month))
	if err != nil {
		return nil, mapRepoError(err)
	}
	return budgets, nil
}

// UpdateBudget replaces a budget's fields.
func (s *BudgetService) UpdateBudget(ctx context.Context, params UpdateBudgetParams) (budget persistence.Budget, err error) {
	if s == nil {
		err = fmt.Errorf("BudgetService is nil")
		return
	}

	logger := s.loggerWith(ctx, "UpdateBudget", "principal_id", params.Principal.UserID, "budget_id", params.BudgetID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update budget", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "budget updated")
	}()

	budget, err = s.ownedBudget(ctx, params.Principal, params.BudgetID)
	if err != nil {
		return
	}

	input := normalizeBudgetInput(params.Input)
	if vErr := validateBudgetInput(input); vErr.HasErrors() {
		err = vErr
		return
	}

	budget.Category = input.Category
	budget.Year = input.Year
	budget.Month = time.Month(input.Month)
	budget.LimitCents = input.LimitCents
	budget.Currency = input.Currency
	budget.UpdatedAt = s.now()

	if err = s.budgets.UpdateBudget(ctx, budget); err != nil {
		err = mapRepoError(err)
	}
	return
}

// DeleteBudget removes one of the principal's budgets.
func (s *BudgetService) DeleteBudget(ctx context.Context, principal Principal, budgetID string) error {
	if s == nil {
		return fmt.Errorf("BudgetService is nil")
	}
	if _, err := s.ownedBudget(ctx, principal, budgetID); err != nil {
		return err
	}
	return mapRepoError(s.budgets.DeleteBudget(ctx, budgetID))
}

// Summary compares the principal's spend in the given month with the month's
// budgets. Spend is matched to a budget by category and currency.
func (s *BudgetService) Summary(ctx context.Context, principal Principal, year, month int) (BudgetSummary, error) {
	if s == nil {
		return BudgetSummary{}, fmt.Errorf("BudgetService is nil")
	}
	if principal.UserID == "" {
		return BudgetSummary{}, ErrUnauthorized
	}
	if year == 0 && month == 0 {
		now := s.now().In(s.location)
		year, month = now.Year(), int(now.Month())
	}
	vErr := &ValidationError{}
	validatePeriod(vErr, year, month)
	if vErr.HasErrors() {
		return BudgetSummary{}, vErr
	}

	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, s.location)
	to := from.AddDate(0, 1, 0)

	budgets, err := s.budgets.ListBudgets(ctx, principal.UserID, year, time.Month(month))
	if err != nil {
		return BudgetSummary{}, mapRepoError(err)
	}
	totals, err := s.expenses.SumByCategory(ctx, principal.UserID, from, to)
	if err != nil {
		return BudgetSummary{}, mapRepoError(err)
	}

	type key struct{ category, currency string }
	spent := make(map[key]int64, len(totals))
	for _, total := range totals {
		spent[key{total.Category, total.Currency}] = total.TotalCents
	}

	summary := BudgetSummary{Year: year, Month: time.Month(month)}
	for _, budget := range budgets {
		k := key{budget.Category, budget.Currency}
		line := BudgetLine{
			BudgetID:   budget.ID,
			Category:   budget.Category,
			Currency:   budget.Currency,
			LimitCents: budget.LimitCents,
			SpentCents: spent[k],
		}
		line.RemainingCents = line.LimitCents - line.SpentCents
		line.OverBudget = line.RemainingCents < 0
		summary.Lines = append(summary.Lines, line)
		delete(spent, k)
	}
	for _, total := range totals {
		if _, ok := spent[key{total.Category, total.Currency}]; ok {
			summary.Unbudgeted = append(summary.Unbudgeted, total)
		}
	}
	sort.Slice(summary.Lines, func(i, j int) bool {
		if summary.Lines[i].Category == summary.Lines[j].Category {
			return summary.Lines[i].Currency < summary.Lines[j].Currency
		}
		return summary.Lines[i].Category < summary.Lines[j].Category
	})
	return summary, nil
}

func normalizeBudgetInput(input BudgetInput) BudgetInput {
	input.Category = strings.TrimSpace(input.Category)
	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))
	return input
}

func validateBudgetInput(input BudgetInput) *ValidationError {
	vErr := &ValidationError{}
	if input.Category == "" {
		vErr.add("category", "category is required")
	}
	validatePeriod(vErr, input.Year, input.Month)
	if input.LimitCents < 0 {
		vErr.add("limit_cents", "limit must not be negative")
	}
	if !currencyPattern.MatchString(input.Currency) {
		vErr.add("currency", "currency must be a three letter ISO 4217 code")
	}
	return vErr
}

func validatePeriod(vErr *ValidationError, year, month int) {
	if year < 1970 || year > 9999 {
		vErr.add("year", "year must be between 1970 and 9999")
	}
	if month < 1 || month > 12 {
		vErr.add("month", "month must be between 1 and 12")
	}
}
