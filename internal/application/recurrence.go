package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/taskhub/internal/persistence"
	"github.com/example/taskhub/internal/recurrence"
)

// planRule builds the schedule described by input and computes its first
// pending occurrence. It returns a nil rule for type "none". previous, when
// set, carries the processed position forward so an edited schedule does not
// replay occurrences that were already materialized.
func planRule(scheduler *recurrence.Scheduler, input *RecurrenceInput, fallbackStart time.Time, previous *recurrence.Rule) (*recurrence.Rule, *ValidationError) {
	vErr := &ValidationError{}

	typ, err := recurrence.ParseType(input.Type)
	if err != nil {
		vErr.add("recurrence.type", "recurrence type must be one of none, daily, weekly, monthly, yearly, custom")
		return nil, vErr
	}
	if typ == recurrence.TypeNone {
		return nil, nil
	}

	start := fallbackStart
	if input.StartDate != nil {
		start = *input.StartDate
	}
	rule := recurrence.Rule{
		Type:           typ,
		Interval:       input.Interval,
		StartDate:      start,
		EndDate:        input.EndDate,
		CronExpression: input.CronExpression,
		DayOfMonth:     input.DayOfMonth,
		DayOfWeek:      input.DayOfWeek,
	}.WithDefaults()
	if previous != nil {
		rule.LastProcessedDate = previous.LastProcessedDate
	}

	if err := rule.Validate(); err != nil {
		if ruleErr := ruleValidationError(err); ruleErr != nil {
			return nil, ruleErr
		}
		vErr.add("recurrence", err.Error())
		return nil, vErr
	}

	planned, err := scheduler.Plan(rule)
	if err != nil {
		if ruleErr := ruleValidationError(err); ruleErr != nil {
			return nil, ruleErr
		}
		vErr.add("recurrence", err.Error())
		return nil, vErr
	}
	return &planned, nil
}

// SweepReport summarizes one sweep over every recurring owner type.
type SweepReport struct {
	Tasks    recurrence.SweepReport
	Expenses recurrence.SweepReport
}

// RecurrenceService materializes due occurrences of recurring tasks and expenses.
type RecurrenceService struct {
	tasks    *recurrence.Processor[persistence.Task]
	expenses *recurrence.Processor[persistence.Expense]
	now      func() time.Time
	logger   *slog.Logger
}

// NewRecurrenceService constructs a recurrence service. Either processor may be nil.
func NewRecurrenceService(tasks *recurrence.Processor[persistence.Task], expenses *recurrence.Processor[persistence.Expense], now func() time.Time, logger *slog.Logger) *RecurrenceService {
	if now == nil {
		now = time.Now
	}
	return &RecurrenceService{tasks: tasks, expenses: expenses, now: now, logger: defaultLogger(logger)}
}

// Sweep processes every due task and expense rule. Per-rule failures are
// counted in the report; only listing failures and cancellation are returned.
func (s *RecurrenceService) Sweep(ctx context.Context) (report SweepReport, err error) {
	if s == nil {
		err = fmt.Errorf("RecurrenceService is nil")
		return
	}

	now := s.now()
	logger := serviceLogger(ctx, s.logger, "RecurrenceService", "Sweep", "now", now)

	var errs []error
	if s.tasks != nil {
		report.Tasks, err = s.tasks.Sweep(ctx, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep tasks: %w", err))
		}
	}
	if s.expenses != nil && ctx.Err() == nil {
		report.Expenses, err = s.expenses.Sweep(ctx, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep expenses: %w", err))
		}
	}

	err = errors.Join(errs...)
	if err != nil {
		logger.ErrorContext(ctx, "recurrence sweep incomplete", "error", err, "error_kind", ErrorKind(err))
		return
	}
	logger.DebugContext(ctx, "recurrence sweep completed",
		"task_occurrences", report.Tasks.Occurrences,
		"expense_occurrences", report.Expenses.Occurrences,
	)
	return
}

// SweepAs runs Sweep on behalf of an administrator.
func (s *RecurrenceService) SweepAs(ctx context.Context, principal Principal) (SweepReport, error) {
	if !principal.IsAdmin() {
		return SweepReport{}, ErrUnauthorized
	}
	return s.Sweep(ctx)
}
