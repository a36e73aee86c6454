package persistence

import (
	"context"
	"time"

	"github.com/example/taskhub/internal/recurrence"
)

// ReplanFunc computes an owner's new rule from its current one, which is nil
// when the owner does not recur. Returning a nil rule removes the schedule.
type ReplanFunc func(current *recurrence.Rule) (*recurrence.Rule, error)

// UserRepository exposes CRUD operations for users and their role membership.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) error
	UpdateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	DeleteUser(ctx context.Context, id string) error
	// SetUserRoles replaces the user's role memberships.
	SetUserRoles(ctx context.Context, userID string, roles []string) error
}

// RoleRepository exposes CRUD operations for roles.
type RoleRepository interface {
	CreateRole(ctx context.Context, role Role) error
	UpdateRole(ctx context.Context, role Role) error
	GetRole(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	DeleteRole(ctx context.Context, name string) error
}

// TaskFilter narrows task queries. UserID is required.
type TaskFilter struct {
	UserID    string
	Status    string
	Category  string
	Tag       string
	DueAfter  *time.Time
	DueBefore *time.Time
}

// TaskRepository stores tasks, their tags and their recurrence rule.
type TaskRepository interface {
	CreateTask(ctx context.Context, task Task) error
	// UpdateTask replaces the task's fields and tags. The rule is left alone.
	UpdateTask(ctx context.Context, task Task) error
	GetTask(ctx context.Context, id string) (Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error)
	DeleteTask(ctx context.Context, id string) error
	// ReplanRecurrence rewrites the task's rule atomically with respect to
	// concurrent processing.
	ReplanRecurrence(ctx context.Context, id string, plan ReplanFunc) error
	// RemoveRecurrence deletes the rule, or reports ErrNotFound if there is none.
	RemoveRecurrence(ctx context.Context, id string) error
}

// ExpenseFilter narrows expense queries. UserID is required.
type ExpenseFilter struct {
	UserID      string
	Category    string
	SpentAfter  *time.Time
	SpentBefore *time.Time
}

// ExpenseRepository stores expenses and their recurrence rule.
type ExpenseRepository interface {
	CreateExpense(ctx context.Context, expense Expense) error
	// UpdateExpense replaces the expense's fields. The rule is left alone.
	UpdateExpense(ctx context.Context, expense Expense) error
	GetExpense(ctx context.Context, id string) (Expense, error)
	ListExpenses(ctx context.Context, filter ExpenseFilter) ([]Expense, error)
	DeleteExpense(ctx context.Context, id string) error
	ReplanRecurrence(ctx context.Context, id string, plan ReplanFunc) error
	RemoveRecurrence(ctx context.Context, id string) error
	// SumByCategory totals the user's expenses with from <= spent_at < to.
	SumByCategory(ctx context.Context, userID string, from, to time.Time) ([]CategoryTotal, error)
}

// BudgetRepository stores monthly category budgets.
type BudgetRepository interface {
	CreateBudget(ctx context.Context, budget Budget) error
	UpdateBudget(ctx context.Context, budget Budget) error
	GetBudget(ctx context.Context, id string) (Budget, error)
	// ListBudgets returns the user's budgets; a zero year or month matches all.
	ListBudgets(ctx context.Context, userID string, year int, month time.Month) ([]Budget, error)
	DeleteBudget(ctx context.Context, id string) error
}
