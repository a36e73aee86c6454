package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/taskhub/internal/persistence/sqlite"
	"github.com/example/taskhub/internal/recurrence"
)

type expenseFixture struct {
	expenses *ExpenseService
	budgets  *BudgetService
	clock    *testClock
	alice    Principal
	bob      Principal
}

func newExpenseFixture(t *testing.T) expenseFixture {
	t.Helper()
	db := openTestDB(t)
	repo := sqlite.NewExpenseRepository(db)
	clk := newTestClock(testNow)
	scheduler := recurrence.NewScheduler(nil, time.UTC)
	processor := recurrence.NewProcessor(scheduler, repo.RecurrenceStore(),
		ExpenseMaterializer(sequentialIDs("clone"), clk.Now),
		recurrence.ProcessorConfig{Name: "expenses", Logger: discardLogger()})

	return expenseFixture{
		expenses: NewExpenseService(repo, scheduler, processor, sequentialIDs("expense"), clk.Now, discardLogger()),
		budgets:  NewBudgetService(sqlite.NewBudgetRepository(db), repo, sequentialIDs("budget"), clk.Now, time.UTC, discardLogger()),
		clock:    clk,
		alice:    seedUser(t, db, "alice"),
		bob:      seedUser(t, db, "bob"),
	}
}

func TestExpenseService_CreateExpense(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("validates amount and currency", func(t *testing.T) {
		f := newExpenseFixture(t)
		_, err := f.expenses.CreateExpense(ctx, CreateExpenseParams{
			Principal: f.alice,
			Input:     ExpenseInput{Title: "Coffee", AmountCents: -1, Currency: "EURO"},
		})
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if _, ok := vErr.FieldErrors["amount_cents"]; !ok {
			t.Fatalf("expected amount error, got %v", vErr.FieldErrors)
		}
		if _, ok := vErr.FieldErrors["currency"]; !ok {
			t.Fatalf("expected currency error, got %v", vErr.FieldErrors)
		}
	})

	t.Run("custom schedules need a cron evaluator", func(t *testing.T) {
		f := newExpenseFixture(t)
		_, err := f.expenses.CreateExpense(ctx, CreateExpenseParams{
			Principal: f.alice,
			Input: ExpenseInput{
				Title: "Rent", AmountCents: 100000, Currency: "usd",
				Recurrence: &RecurrenceInput{Type: "custom", CronExpression: "0 9 1 * *"},
			},
		})
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if _, ok := vErr.FieldErrors["recurrence.cron_expression"]; !ok {
			t.Fatalf("expected cron expression error, got %v", vErr.FieldErrors)
		}
	})

	t.Run("defaults spent at to now and uppercases currency", func(t *testing.T) {
		f := newExpenseFixture(t)
		expense, err := f.expenses.CreateExpense(ctx, CreateExpenseParams{
			Principal: f.alice,
			Input:     ExpenseInput{Title: "Lunch", AmountCents: 1250, Currency: "eur", Category: "food"},
		})
		if err != nil {
			t.Fatalf("CreateExpense: %v", err)
		}
		if !expense.SpentAt.Equal(testNow) || expense.Currency != "EUR" {
			t.Fatalf("unexpected expense %+v", expense)
		}
		if _, err := f.expenses.GetExpense(ctx, f.bob, expense.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound for another user, got %v", err)
		}
	})
}

func TestExpenseService_MonthlyRecurrenceClampsToMonthEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newExpenseFixture(t)

	start := time.Date(2025, time.January, 31, 8, 0, 0, 0, time.UTC)
	owner, err := f.expenses.CreateExpense(ctx, CreateExpenseParams{
		Principal: f.alice,
		Input: ExpenseInput{
			Title: "Gym", AmountCents: 3000, Currency: "EUR", Category: "health", SpentAt: start,
			Recurrence: &RecurrenceInput{Type: "monthly"},
		},
	})
	if err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}

	f.clock.Set(time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC))
	result, err := f.expenses.ProcessRecurrence(ctx, f.alice, owner.ID)
	if err != nil {
		t.Fatalf("ProcessRecurrence: %v", err)
	}

	want := []time.Time{
		time.Date(2025, time.February, 28, 8, 0, 0, 0, time.UTC),
		time.Date(2025, time.March, 31, 8, 0, 0, 0, time.UTC),
	}
	if len(result.Occurrences) != len(want) {
		t.Fatalf("occurrences = %v, want %v", result.Occurrences, want)
	}
	for i := range want {
		if !result.Occurrences[i].Equal(want[i]) {
			t.Fatalf("occurrence %d = %s, want %s", i, result.Occurrences[i], want[i])
		}
	}

	clone, err := f.expenses.GetExpense(ctx, f.alice, "clone-1")
	if err != nil {
		t.Fatalf("GetExpense clone: %v", err)
	}
	if clone.ParentExpenseID == nil || *clone.ParentExpenseID != owner.ID || !clone.SpentAt.Equal(want[0]) {
		t.Fatalf("unexpected clone %+v", clone)
	}
}

func TestExpenseService_UpdateExpense(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newExpenseFixture(t)

	expense, err := f.expenses.CreateExpense(ctx, CreateExpenseParams{
		Principal: f.alice,
		Input: ExpenseInput{
			Title: "Netflix", AmountCents: 1299, Currency: "USD", Category: "media",
			Recurrence: &RecurrenceInput{Type: "monthly"},
		},
	})
	if err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}

	updated, err := f.expenses.UpdateExpense(ctx, UpdateExpenseParams{
		Principal: f.alice,
		ExpenseID: expense.ID,
		Input:     ExpenseInput{Title: "Netflix", AmountCents: 1599, Currency: "USD", Category: "media", SpentAt: expense.SpentAt},
	})
	if err != nil {
		t.Fatalf("UpdateExpense: %v", err)
	}
	if updated.AmountCents != 1599 || updated.Recurrence == nil {
		t.Fatalf("expected new amount and kept schedule, got %+v", updated)
	}

	if err := f.expenses.CancelRecurrence(ctx, f.alice, expense.ID); err != nil {
		t.Fatalf("CancelRecurrence: %v", err)
	}
	got, err := f.expenses.GetExpense(ctx, f.alice, expense.ID)
	if err != nil {
		t.Fatalf("GetExpense: %v", err)
	}
	if got.Recurrence != nil {
		t.Fatalf("expected schedule removed, got %+v", got.Recurrence)
	}

	if err := f.expenses.DeleteExpense(ctx, f.bob, expense.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting another user's expense, got %v", err)
	}
	if err := f.expenses.DeleteExpense(ctx, f.alice, expense.ID); err != nil {
		t.Fatalf("DeleteExpense: %v", err)
	}
}

func TestBudgetService_Summary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newExpenseFixture(t)

	budget := func(category string, limit int64) {
		t.Helper()
		if _, err := f.budgets.CreateBudget(ctx, CreateBudgetParams{
			Principal: f.alice,
			Input:     BudgetInput{Category: category, Year: 2025, Month: 3, LimitCents: limit, Currency: "eur"},
		}); err != nil {
			t.Fatalf("CreateBudget %s: %v", category, err)
		}
	}
	spend := func(p Principal, category string, amount int64, currency string, at time.Time) {
		t.Helper()
		if _, err := f.expenses.CreateExpense(ctx, CreateExpenseParams{
			Principal: p,
			Input:     ExpenseInput{Title: category, AmountCents: amount, Currency: currency, Category: category, SpentAt: at},
		}); err != nil {
			t.Fatalf("CreateExpense: %v", err)
		}
	}

	budget("food", 10000)
	budget("travel", 5000)
	spend(f.alice, "food", 6000, "EUR", testNow)
	spend(f.alice, "food", 5000, "EUR", testNow.Add(24*time.Hour))
	spend(f.alice, "books", 2000, "EUR", testNow)
	spend(f.alice, "food", 9999, "EUR", time.Date(2025, time.February, 28, 23, 59, 0, 0, time.UTC))
	spend(f.bob, "travel", 9999, "EUR", testNow)

	if _, err := f.budgets.CreateBudget(ctx, CreateBudgetParams{
		Principal: f.alice,
		Input:     BudgetInput{Category: "food", Year: 2025, Month: 3, LimitCents: 1, Currency: "EUR"},
	}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists for duplicate budget, got %v", err)
	}

	summary, err := f.budgets.Summary(ctx, f.alice, 0, 0)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.Year != 2025 || summary.Month != time.March {
		t.Fatalf("expected current month, got %d-%d", summary.Year, summary.Month)
	}
	if len(summary.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %+v", summary.Lines)
	}

	food, travel := summary.Lines[0], summary.Lines[1]
	if food.Category != "food" || food.SpentCents != 11000 || food.RemainingCents != -1000 || !food.OverBudget {
		t.Fatalf("unexpected food line %+v", food)
	}
	if travel.Category != "travel" || travel.SpentCents != 0 || travel.OverBudget {
		t.Fatalf("unexpected travel line %+v", travel)
	}
	if len(summary.Unbudgeted) != 1 || summary.Unbudgeted[0].Category != "books" || summary.Unbudgeted[0].TotalCents != 2000 {
		t.Fatalf("unexpected unbudgeted spend %+v", summary.Unbudgeted)
	}

	var vErr *ValidationError
	if _, err := f.budgets.Summary(ctx, f.alice, 2025, 13); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for month 13, got %v", err)
	}
}
