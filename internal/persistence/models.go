package persistence

import (
	"time"

	"github.com/example/taskhub/internal/recurrence"
)

// User is an account. Roles holds role names.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	IsActive     bool
	Roles        []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Role is a named group of users. The name is the role's identity.
type Role struct {
	Name        string
	Description string
	CreatedAt   time.Time
}

// Task is a todo item owned by one user.
type Task struct {
	ID           string
	UserID       string
	Title        string
	Description  string
	Category     string
	Tags         []string
	Priority     string
	Status       string
	DueDate      *time.Time
	ReminderAt   *time.Time
	Notes        string
	ParentTaskID *string
	CompletedAt  *time.Time
	Recurrence   *recurrence.Rule
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expense is a spending record owned by one user. Amounts are in minor units.
type Expense struct {
	ID              string
	UserID          string
	Title           string
	AmountCents     int64
	Currency        string
	Category        string
	SpentAt         time.Time
	Notes           string
	ParentExpenseID *string
	Recurrence      *recurrence.Rule
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Budget caps spending in one category for one calendar month.
type Budget struct {
	ID         string
	UserID     string
	Category   string
	Year       int
	Month      time.Month
	LimitCents int64
	Currency   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CategoryTotal is the summed spend of one category in one currency.
type CategoryTotal struct {
	Category   string
	Currency   string
	TotalCents int64
}
