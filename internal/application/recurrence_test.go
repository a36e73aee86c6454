package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/taskhub/internal/lock"
	"github.com/example/taskhub/internal/persistence/sqlite"
	"github.com/example/taskhub/internal/recurrence"
)

func TestRecurrenceService_Sweep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db := openTestDB(t)
	clk := newTestClock(testNow)
	scheduler := recurrence.NewScheduler(recurrence.NewStandardCron(), time.UTC)
	locker := lock.NewMemoryLocker(clk)

	taskRepo := sqlite.NewTaskRepository(db)
	expenseRepo := sqlite.NewExpenseRepository(db)
	taskProc := recurrence.NewProcessor(scheduler, taskRepo.RecurrenceStore(), TaskMaterializer(sequentialIDs("task-clone"), clk.Now),
		recurrence.ProcessorConfig{Name: "tasks", Locker: locker, Logger: discardLogger()})
	expenseProc := recurrence.NewProcessor(scheduler, expenseRepo.RecurrenceStore(), ExpenseMaterializer(sequentialIDs("expense-clone"), clk.Now),
		recurrence.ProcessorConfig{Name: "expenses", Locker: locker, Logger: discardLogger()})

	tasks := NewTaskService(taskRepo, scheduler, taskProc, sequentialIDs("task"), clk.Now, discardLogger())
	expenses := NewExpenseService(expenseRepo, scheduler, expenseProc, sequentialIDs("expense"), clk.Now, discardLogger())
	sweeper := NewRecurrenceService(taskProc, expenseProc, clk.Now, discardLogger())

	alice := seedUser(t, db, "alice")
	root := seedUser(t, db, "root", AdminRole)

	if _, err := tasks.CreateTask(ctx, CreateTaskParams{
		Principal: alice,
		Input: TaskInput{
			Title:      "Weekday check-in",
			DueDate:    timePtr(testNow),
			Recurrence: &RecurrenceInput{Type: "custom", CronExpression: "0 9 * * 1-5"},
		},
	}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := expenses.CreateExpense(ctx, CreateExpenseParams{
		Principal: alice,
		Input: ExpenseInput{
			Title: "Rent", AmountCents: 90000, Currency: "EUR", SpentAt: testNow,
			Recurrence: &RecurrenceInput{Type: "weekly", EndDate: timePtr(testNow.AddDate(0, 0, 14))},
		},
	}); err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}

	if _, err := sweeper.SweepAs(ctx, alice); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-admin sweep, got %v", err)
	}

	// Monday 2025-03-03 09:00 through Monday 2025-03-24 12:00.
	clk.Set(testNow.AddDate(0, 0, 21).Add(3 * time.Hour))
	report, err := sweeper.SweepAs(ctx, root)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Tasks.Occurrences != 15 {
		t.Fatalf("expected 15 weekday task occurrences, got %+v", report.Tasks)
	}
	if report.Expenses.Occurrences != 2 {
		t.Fatalf("expected 2 weekly expenses before the end date, got %+v", report.Expenses)
	}

	again, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if again.Tasks.Occurrences != 0 || again.Expenses.Occurrences != 0 {
		t.Fatalf("expected an idempotent second sweep, got %+v", again)
	}
}

func TestRecurrenceService_SweepHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	db := openTestDB(t)
	repo := sqlite.NewTaskRepository(db)
	scheduler := recurrence.NewScheduler(nil, time.UTC)
	proc := recurrence.NewProcessor(scheduler, repo.RecurrenceStore(), TaskMaterializer(sequentialIDs("clone"), nil),
		recurrence.ProcessorConfig{Logger: discardLogger()})
	tasks := NewTaskService(repo, scheduler, proc, sequentialIDs("task"), func() time.Time { return testNow }, discardLogger())

	alice := seedUser(t, db, "alice")
	if _, err := tasks.CreateTask(context.Background(), CreateTaskParams{
		Principal: alice,
		Input:     TaskInput{Title: "Daily", DueDate: timePtr(testNow), Recurrence: &RecurrenceInput{Type: "daily"}},
	}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	svc := NewRecurrenceService(proc, nil, func() time.Time { return testNow.AddDate(0, 0, 3) }, discardLogger())
	if _, err := svc.Sweep(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
