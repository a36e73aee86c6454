package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/example/taskhub/internal/persistence"
	"github.com/example/taskhub/internal/recurrence"
)

// ExpenseRepository implements persistence.ExpenseRepository.
type ExpenseRepository struct {
	db *DB
}

// NewExpenseRepository creates an expense repository.
func NewExpenseRepository(db *DB) *ExpenseRepository {
	return &ExpenseRepository{db: db}
}

const expenseColumns = `id, user_id, title, amount_cents, currency, category, spent_at, notes,
	parent_expense_id, created_at, updated_at`

// CreateExpense inserts an expense together with its recurrence rule, if any.
func (r *ExpenseRepository) CreateExpense(ctx context.Context, expense persistence.Expense) error {
	return r.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		return insertExpense(ctx, tx, expense)
	})
}

func insertExpense(ctx context.Context, tx *sql.Tx, expense persistence.Expense) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO expenses (`+expenseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		expense.ID,
		expense.UserID,
		expense.Title,
		expense.AmountCents,
		expense.Currency,
		expense.Category,
		formatTime(expense.SpentAt),
		expense.Notes,
		nullableString(expense.ParentExpenseID),
		formatTime(expense.CreatedAt),
		formatTime(expense.UpdatedAt),
	)
	if err != nil {
		return mapError(err)
	}
	if expense.Recurrence != nil {
		return expenseRules.put(ctx, tx, expense.ID, *expense.Recurrence)
	}
	return nil
}

// UpdateExpense overwrites the editable fields of an expense.
func (r *ExpenseRepository) UpdateExpense(ctx context.Context, expense persistence.Expense) error {
	result, err := r.db.db.ExecContext(ctx, `
		UPDATE expenses
		SET title = ?, amount_cents = ?, currency = ?, category = ?, spent_at = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		expense.Title,
		expense.AmountCents,
		expense.Currency,
		expense.Category,
		formatTime(expense.SpentAt),
		expense.Notes,
		formatTime(expense.UpdatedAt),
		expense.ID,
	)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(result)
}

// GetExpense loads an expense and its recurrence rule.
func (r *ExpenseRepository) GetExpense(ctx context.Context, id string) (persistence.Expense, error) {
	return loadExpense(ctx, r.db.db, id)
}

func loadExpense(ctx context.Context, q querier, id string) (persistence.Expense, error) {
	expense, err := scanExpense(q.QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id))
	if err != nil {
		return persistence.Expense{}, err
	}
	if expense.Recurrence, _, err = expenseRules.get(ctx, q, id); err != nil {
		return persistence.Expense{}, err
	}
	return expense, nil
}

// ListExpenses returns the user's expenses, most recent first.
func (r *ExpenseRepository) ListExpenses(ctx context.Context, filter persistence.ExpenseFilter) ([]persistence.Expense, error) {
	var (
		conditions = []string{"user_id = ?"}
		args       = []any{filter.UserID}
	)
	if filter.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.SpentAfter != nil {
		conditions = append(conditions, "spent_at >= ?")
		args = append(args, formatTime(*filter.SpentAfter))
	}
	if filter.SpentBefore != nil {
		conditions = append(conditions, "spent_at < ?")
		args = append(args, formatTime(*filter.SpentBefore))
	}
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE ` + strings.Join(conditions, " AND ") +
		` ORDER BY spent_at DESC, id`

	var expenses []persistence.Expense
	err := r.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return mapError(err)
		}
		for rows.Next() {
			expense, err := scanExpense(rows)
			if err != nil {
				rows.Close()
				return err
			}
			expenses = append(expenses, expense)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		for i := range expenses {
			if expenses[i].Recurrence, _, err = expenseRules.get(ctx, tx, expenses[i].ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expenses, nil
}

// DeleteExpense removes an expense; its rule goes with it.
func (r *ExpenseRepository) DeleteExpense(ctx context.Context, id string) error {
	result, err := r.db.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, id)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(result)
}

// RemoveRecurrence deletes the expense's rule. It reports ErrNotFound when the
// expense does not recur.
func (r *ExpenseRepository) RemoveRecurrence(ctx context.Context, id string) error {
	removed, err := expenseRules.remove(ctx, r.db.db, id)
	if err != nil {
		return err
	}
	if !removed {
		return persistence.ErrNotFound
	}
	return nil
}

// SumByCategory totals a user's expenses in [from, to) per category and currency.
func (r *ExpenseRepository) SumByCategory(ctx context.Context, userID string, from, to time.Time) ([]persistence.CategoryTotal, error) {
	rows, err := r.db.db.QueryContext(ctx, `
		SELECT category, currency, SUM(amount_cents)
		FROM expenses
		WHERE user_id = ? AND spent_at >= ? AND spent_at < ?
		GROUP BY category, currency
		ORDER BY category, currency`,
		userID, formatTime(from), formatTime(to),
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var totals []persistence.CategoryTotal
	for rows.Next() {
		var total persistence.CategoryTotal
		if err := rows.Scan(&total.Category, &total.Currency, &total.TotalCents); err != nil {
			return nil, err
		}
		totals = append(totals, total)
	}
	return totals, rows.Err()
}

// ReplanRecurrence rewrites the expense's rule inside one transaction.
func (r *ExpenseRepository) ReplanRecurrence(ctx context.Context, id string, plan persistence.ReplanFunc) error {
	return expenseRules.replan(ctx, r.db, id, plan)
}

// RecurrenceStore exposes recurring expenses to a recurrence.Processor.
func (r *ExpenseRepository) RecurrenceStore() recurrence.Store[persistence.Expense] {
	return &recurringStore[persistence.Expense]{
		db:     r.db,
		rules:  expenseRules,
		load:   loadExpense,
		insert: insertExpense,
	}
}

func scanExpense(row rowScanner) (persistence.Expense, error) {
	var (
		expense              persistence.Expense
		spentAt              string
		parent               sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&expense.ID, &expense.UserID, &expense.Title, &expense.AmountCents, &expense.Currency,
		&expense.Category, &spentAt, &expense.Notes, &parent, &createdAt, &updatedAt)
	if err != nil {
		return persistence.Expense{}, mapError(err)
	}
	if expense.SpentAt, err = parseTime("spent_at", spentAt); err != nil {
		return persistence.Expense{}, err
	}
	if expense.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return persistence.Expense{}, err
	}
	if expense.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return persistence.Expense{}, err
	}
	expense.ParentExpenseID = stringPtr(parent)
	return expense, nil
}
