package sqlite

import (
	"context"
	"time"

	"github.com/example/taskhub/internal/persistence"
)

// BudgetRepository implements persistence.BudgetRepository.
type BudgetRepository struct {
	db *DB
}

// NewBudgetRepository creates a budget repository.
func NewBudgetRepository(db *DB) *BudgetRepository {
	return &BudgetRepository{db: db}
}

const budgetColumns = `id, user_id, category, year, month, limit_cents, currency, created_at, updated_at`

// CreateBudget inserts a budget. A second budget for the same user, category and month is a duplicate.
func (r *BudgetRepository) CreateBudget(ctx context.Context, budget persistence.Budget) error {
	_, err := r.db.db.ExecContext(ctx, `INSERT INTO budgets (`+budgetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		budget.ID,
		budget.UserID,
		budget.Category,
		budget.Year,
		int(budget.Month),
		budget.LimitCents,
		budget.Currency,
		formatTime(budget.CreatedAt),
		formatTime(budget.UpdatedAt),
	)
	return mapError(err)
}

// UpdateBudget overwrites the limit and period of an existing budget.
func (r *BudgetRepository) UpdateBudget(ctx context.Context, budget persistence.Budget) error {
	result, err := r.db.db.ExecContext(ctx, `
		UPDATE budgets
		SET category = ?, year = ?, month = ?, limit_cents = ?, currency = ?, updated_at = ?
		WHERE id = ?`,
		budget.Category,
		budget.Year,
		int(budget.Month),
		budget.LimitCents,
		budget.Currency,
		formatTime(budget.UpdatedAt),
		budget.ID,
	)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(result)
}

// GetBudget loads a budget by id.
func (r *BudgetRepository) GetBudget(ctx context.Context, id string) (persistence.Budget, error) {
	return scanBudget(r.db.db.QueryRowContext(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id = ?`, id))
}

// ListBudgets returns the user's budgets ordered by period and category. A zero year or month
// leaves that part of the period unfiltered.
func (r *BudgetRepository) ListBudgets(ctx context.Context, userID string, year int, month time.Month) ([]persistence.Budget, error) {
	rows, err := r.db.db.QueryContext(ctx, `
		SELECT `+budgetColumns+` FROM budgets
		WHERE user_id = ? AND (? = 0 OR year = ?) AND (? = 0 OR month = ?)
		ORDER BY year, month, category`,
		userID, year, year, int(month), int(month),
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var budgets []persistence.Budget
	for rows.Next() {
		budget, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		budgets = append(budgets, budget)
	}
	return budgets, rows.Err()
}

// DeleteBudget removes a budget by id.
func (r *BudgetRepository) DeleteBudget(ctx context.Context, id string) error {
	result, err := r.db.db.ExecContext(ctx, `DELETE FROM budgets WHERE id = ?`, id)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(result)
}

func scanBudget(row rowScanner) (persistence.Budget, error) {
	var (
		budget               persistence.Budget
		month                int
		createdAt, updatedAt string
	)
	err := row.Scan(&budget.ID, &budget.UserID, &budget.Category, &budget.Year, &month,
		&budget.LimitCents, &budget.Currency, &createdAt, &updatedAt)
	if err != nil {
		return persistence.Budget{}, mapError(err)
	}
	budget.Month = time.Month(month)
	if budget.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return persistence.Budget{}, err
	}
	if budget.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return persistence.Budget{}, err
	}
	return budget, nil
}
