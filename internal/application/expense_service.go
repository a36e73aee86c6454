package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/example/taskhub/internal/persistence"
	"github.com/example/taskhub/internal/recurrence"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// ExpenseService orchestrates validation, tenancy, and persistence for expenses.
type ExpenseService struct {
	expenses    persistence.ExpenseRepository
	scheduler   *recurrence.Scheduler
	processor   *recurrence.Processor[persistence.Expense]
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewExpenseService constructs an expense service.
func NewExpenseService(expenses persistence.ExpenseRepository, scheduler *recurrence.Scheduler, processor *recurrence.Processor[persistence.Expense], idGenerator func() string, now func() time.Time, logger *slog.Logger) *ExpenseService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if scheduler == nil {
		scheduler = recurrence.NewScheduler(nil, time.UTC)
	}
	return &ExpenseService{
		expenses:    expenses,
		scheduler:   scheduler,
		processor:   processor,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (s *ExpenseService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ExpenseService", operation, attrs...)
}

// ExpenseMaterializer builds the expense recorded for one occurrence of a
// recurring expense.
func ExpenseMaterializer(idGenerator func() string, now func() time.Time) recurrence.Materializer[persistence.Expense] {
	if now == nil {
		now = time.Now
	}
	return func(owner persistence.Expense, occurrence time.Time) persistence.Expense {
		created := now()
		return persistence.Expense{
			ID:              idGenerator(),
			UserID:          owner.UserID,
			Title:           owner.Title,
			AmountCents:     owner.AmountCents,
			Currency:        owner.Currency,
			Category:        owner.Category,
			SpentAt:         occurrence,
			Notes:           owner.Notes,
			ParentExpenseID: &owner.ID,
			CreatedAt:       created,
			UpdatedAt:       created,
		}
	}
}

// CreateExpense validates input and stores an expense owned by the principal.
func (s *ExpenseService) CreateExpense(ctx context.Context, params CreateExpenseParams) (expense persistence.Expense, err error) {
	if s == nil {
		err = fmt.Errorf("ExpenseService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CreateExpense", "principal_id", params.Principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create expense", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("expense_id", expense.ID).InfoContext(ctx, "expense created")
	}()

	if params.Principal.UserID == "" {
		err = ErrUnauthorized
		return
	}

	now := s.now()
	input := normalizeExpenseInput(params.Input, now)
	vErr := validateExpenseInput(input)

	var rule *recurrence.Rule
	if input.Recurrence != nil {
		var ruleErr *ValidationError
		rule, ruleErr = planRule(s.scheduler, input.Recurrence, input.SpentAt, nil)
		vErr.merge(ruleErr)
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	expense = persistence.Expense{
		ID:          s.idGenerator(),
		UserID:      params.Principal.UserID,
		Title:       input.Title,
		AmountCents: input.AmountCents,
		Currency:    input.Currency,
		Category:    input.Category,
		SpentAt:     input.SpentAt,
		Notes:       input.Notes,
		Recurrence:  rule,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err = s.expenses.CreateExpense(ctx, expense); err != nil {
		err = mapRepoError(err)
	}
	return
}

// GetExpense returns one of the principal's expenses.
func (s *ExpenseService) GetExpense(ctx context.Context, principal Principal, expenseID string) (persistence.Expense, error) {
	if s == nil {
		return persistence.Expense{}, fmt.Errorf("ExpenseService is nil")
	}
	return s.ownedExpense(ctx, principal, expenseID)
}

func (s *ExpenseService) ownedExpense(ctx context.Context, principal Principal, expenseID string) (persistence.Expense, error) {
	expense, err := s.expenses.GetExpense(ctx, expenseID)
	if err != nil {
		return persistence.Expense{}, mapRepoError(err)
	}
	if !principal.canAccess(expense.UserID) {
		return persistence.Expense{}, ErrNotFound
	}
	return expense, nil
}

// ListExpenses returns the principal's expenses, most recent first.
func (s *ExpenseService) ListExpenses(ctx context.Context, params ListExpensesParams) ([]persistence.Expense, error) {
	if s == nil {
		return nil, fmt.Errorf("ExpenseService is nil")
	}
	if params.Principal.UserID == "" {
		return nil, ErrUnauthorized
	}
	if params.SpentAfter != nil && params.SpentBefore != nil && params.SpentBefore.Before(*params.SpentAfter) {
		return nil, &ValidationError{FieldErrors: map[string]string{"spent_before": "spent_before must not precede spent_after"}}
	}

	expenses, err := s.expenses.ListExpenses(ctx, persistence.ExpenseFilter{
		UserID:      params.Principal.UserID,
		Category:    strings.TrimSpace(params.Category),
		SpentAfter:  params.SpentAfter,
		SpentBefore: params.SpentBefore,
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	return expenses, nil
}

// UpdateExpense validates input and replaces the expense's fields. A nil
// Input.Recurrence keeps the current schedule.
func (s *ExpenseService) UpdateExpense(ctx context.Context, params UpdateExpenseParams) (expense persistence.Expense, err error) {
	if s == nil {
		err = fmt.Errorf("ExpenseService is nil")
		return
	}

	logger := s.loggerWith(ctx, "UpdateExpense",
		"principal_id", params.Principal.UserID,
		"expense_id", params.ExpenseID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update expense", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "expense updated")
	}()

	var existing persistence.Expense
	existing, err = s.ownedExpense(ctx, params.Principal, params.ExpenseID)
	if err != nil {
		return
	}

	input := normalizeExpenseInput(params.Input, existing.SpentAt)
	vErr := validateExpenseInput(input)
	if input.Recurrence != nil {
		_, ruleErr := planRule(s.scheduler, input.Recurrence, recurrenceStart(existing.Recurrence, &input.SpentAt, existing.CreatedAt), existing.Recurrence)
		vErr.merge(ruleErr)
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	updated := existing
	updated.Title = input.Title
	updated.AmountCents = input.AmountCents
	updated.Currency = input.Currency
	updated.Category = input.Category
	updated.SpentAt = input.SpentAt
	updated.Notes = input.Notes
	updated.UpdatedAt = s.now()

	if err = s.expenses.UpdateExpense(ctx, updated); err != nil {
		err = mapRepoError(err)
		return
	}
	if input.Recurrence != nil {
		err = s.expenses.ReplanRecurrence(ctx, updated.ID, func(current *recurrence.Rule) (*recurrence.Rule, error) {
			rule, ruleErr := planRule(s.scheduler, input.Recurrence, recurrenceStart(current, &input.SpentAt, existing.CreatedAt), current)
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

	expense, err = s.expenses.GetExpense(ctx, updated.ID)
	err = mapRepoError(err)
	return
}

// DeleteExpense removes one of the principal's expenses.
func (s *ExpenseService) DeleteExpense(ctx context.Context, principal Principal, expenseID string) (err error) {
	if s == nil {
		return fmt.Errorf("ExpenseService is nil")
	}

	logger := s.loggerWith(ctx, "DeleteExpense", "principal_id", principal.UserID, "expense_id", expenseID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to delete expense", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "expense deleted")
	}()

	if _, err = s.ownedExpense(ctx, principal, expenseID); err != nil {
		return
	}
	err = mapRepoError(s.expenses.DeleteExpense(ctx, expenseID))
	return
}

// CancelRecurrence stops an expense from repeating.
func (s *ExpenseService) CancelRecurrence(ctx context.Context, principal Principal, expenseID string) error {
	if s == nil {
		return fmt.Errorf("ExpenseService is nil")
	}
	if _, err := s.ownedExpense(ctx, principal, expenseID); err != nil {
		return err
	}
	if err := s.expenses.RemoveRecurrence(ctx, expenseID); err != nil {
		return mapRepoError(err)
	}
	s.loggerWith(ctx, "CancelRecurrence", "principal_id", principal.UserID, "expense_id", expenseID).
		InfoContext(ctx, "expense recurrence cancelled")
	return nil
}

// ProcessRecurrence records every occurrence of the expense that is due now.
func (s *ExpenseService) ProcessRecurrence(ctx context.Context, principal Principal, expenseID string) (recurrence.Result, error) {
	if s == nil {
		return recurrence.Result{}, fmt.Errorf("ExpenseService is nil")
	}
	if s.processor == nil {
		return recurrence.Result{}, errors.New("expense recurrence processing not configured")
	}

	expense, err := s.ownedExpense(ctx, principal, expenseID)
	if err != nil {
		return recurrence.Result{}, err
	}
	if expense.Recurrence == nil {
		return recurrence.Result{}, fmt.Errorf("%w: expense %s does not recur", ErrNotFound, expenseID)
	}

	result, err := s.processor.Process(ctx, expenseID, s.now())
	if err != nil {
		return result, mapRepoError(err)
	}
	return result, nil
}

func normalizeExpenseInput(input ExpenseInput, defaultSpentAt time.Time) ExpenseInput {
	input.Title = strings.TrimSpace(input.Title)
	input.Category = strings.TrimSpace(input.Category)
	input.Notes = strings.TrimSpace(input.Notes)
	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))
	if input.SpentAt.IsZero() {
		input.SpentAt = defaultSpentAt
	}
	return input
}

func validateExpenseInput(input ExpenseInput) *ValidationError {
	vErr := &ValidationError{}

	if input.Title == "" {
		vErr.add("title", "title is required")
	} else if len([]rune(input.Title)) > maxTitleLength {
		vErr.add("title", fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	}
	if input.AmountCents < 0 {
		vErr.add("amount_cents", "amount must not be negative")
	}
	if !currencyPattern.MatchString(input.Currency) {
		vErr.add("currency", "currency must be a three letter ISO 4217 code")
	}

	return vErr
}
