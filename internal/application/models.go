package application

import (
	"slices"
	"time"

	"github.com/example/taskhub/internal/featureflag"
	"github.com/example/taskhub/internal/persistence"
)

// AdminRole is the role that grants administrative access.
const AdminRole = "admin"

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID string
	Roles  []string
}

// HasRole reports whether the principal holds role.
func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool {
	return p.HasRole(AdminRole)
}

// canAccess reports whether the principal may see a record owned by ownerID.
func (p Principal) canAccess(ownerID string) bool {
	return p.UserID != "" && p.UserID == ownerID
}

// RecurrenceInput captures caller provided schedule fields. Type "none"
// removes an existing rule on update.
type RecurrenceInput struct {
	Type           string
	Interval       int
	StartDate      *time.Time
	EndDate        *time.Time
	CronExpression string
	DayOfMonth     *int
	DayOfWeek      *time.Weekday
}

// TaskInput captures caller provided task fields.
type TaskInput struct {
	Title       string
	Description string
	Category    string
	Tags        []string
	Priority    string
	Status      string
	DueDate     *time.Time
	ReminderAt  *time.Time
	Notes       string
	Recurrence  *RecurrenceInput
}

// CreateTaskParams wraps the data required to create a task.
type CreateTaskParams struct {
	Principal Principal
	Input     TaskInput
}

// UpdateTaskParams wraps the data required to update a task. A nil
// Input.Recurrence keeps the current schedule.
type UpdateTaskParams struct {
	Principal Principal
	TaskID    string
	Input     TaskInput
}

// ListTasksParams narrows a task listing to the principal's own tasks.
type ListTasksParams struct {
	Principal Principal
	Status    string
	Category  string
	Tag       string
	DueAfter  *time.Time
	DueBefore *time.Time
}

// ExpenseInput captures caller provided expense fields.
type ExpenseInput struct {
	Title       string
	AmountCents int64
	Currency    string
	Category    string
	SpentAt     time.Time
	Notes       string
	Recurrence  *RecurrenceInput
}

// CreateExpenseParams wraps the data required to create an expense.
type CreateExpenseParams struct {
	Principal Principal
	Input     ExpenseInput
}

// UpdateExpenseParams wraps the data required to update an expense.
type UpdateExpenseParams struct {
	Principal Principal
	ExpenseID string
	Input     ExpenseInput
}

// ListExpensesParams narrows an expense listing to the principal's own expenses.
type ListExpensesParams struct {
	Principal   Principal
	Category    string
	SpentAfter  *time.Time
	SpentBefore *time.Time
}

// BudgetInput captures caller provided budget fields.
type BudgetInput struct {
	Category   string
	Year       int
	Month      int
	LimitCents int64
	Currency   string
}

// CreateBudgetParams wraps the data required to create a budget.
type CreateBudgetParams struct {
	Principal Principal
	Input     BudgetInput
}

// UpdateBudgetParams wraps the data required to update a budget.
type UpdateBudgetParams struct {
	Principal Principal
	BudgetID  string
	Input     BudgetInput
}

// BudgetLine compares one budget with the matching spend.
type BudgetLine struct {
	BudgetID       string
	Category       string
	Currency       string
	LimitCents     int64
	SpentCents     int64
	RemainingCents int64
	OverBudget     bool
}

// BudgetSummary is the spend against every budget of one month. Unbudgeted
// lists spend in categories or currencies without a budget.
type BudgetSummary struct {
	Year       int
	Month      time.Month
	Lines      []BudgetLine
	Unbudgeted []persistence.CategoryTotal
}

// UserInput captures caller provided user attributes. Password is optional
// on update; IsActive defaults to true on create.
type UserInput struct {
	Email       string
	DisplayName string
	Password    string
	IsActive    *bool
	Roles       []string
}

// CreateUserParams wraps the data required to create a user.
type CreateUserParams struct {
	Principal Principal
	Input     UserInput
}

// UpdateUserParams wraps the data required to update a user.
type UpdateUserParams struct {
	Principal Principal
	UserID    string
	Input     UserInput
}

// RoleInput captures caller provided role attributes.
type RoleInput struct {
	Name        string
	Description string
}

// FeatureInput captures caller provided feature definition fields.
type FeatureInput struct {
	Name             string
	Description      string
	EnabledByDefault bool
	AvailableFrom    *time.Time
	AvailableUntil   *time.Time
}

// CreateFeatureParams wraps the data required to create a feature.
type CreateFeatureParams struct {
	Principal Principal
	Input     FeatureInput
}

// UpdateFeatureParams wraps the data required to update a feature.
type UpdateFeatureParams struct {
	Principal Principal
	FeatureID string
	Input     FeatureInput
}

// OverrideParams identifies a user or role override of a feature.
type OverrideParams struct {
	Principal Principal
	FeatureID string
	// Subject is a user id for user flags and a role name for role access.
	Subject string
	Enabled bool
}

// FeatureStatus is a feature as evaluated for one user.
type FeatureStatus struct {
	Name    string
	Enabled bool
	Source  featureflag.Source
}

// AuthenticateParams captures the data required to authenticate a user.
type AuthenticateParams struct {
	Email    string
	Password string
}

// AuthenticateResult captures the outcome of a successful authentication attempt.
type AuthenticateResult struct {
	User      persistence.User
	Token     string
	ExpiresAt time.Time
}
