package recurrence

import (
	"errors"
	"fmt"
	"time"
)

// ErrCronUnavailable indicates a custom rule was evaluated by a scheduler that
// has no CronEvaluator configured.
var ErrCronUnavailable = errors.New("recurrence: no cron evaluator configured")

// Scheduler computes occurrence timestamps for recurrence rules. It holds no
// mutable state and never touches persistence.
type Scheduler struct {
	cron     CronEvaluator
	location *time.Location
}

// NewScheduler constructs a Scheduler that evaluates calendar arithmetic in loc.
// If loc is nil, UTC is used. cron may be nil when custom rules are not needed.
func NewScheduler(cron CronEvaluator, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{cron: cron, location: loc}
}

// Location reports the time zone used for calendar arithmetic.
func (s *Scheduler) Location() *time.Location {
	if s == nil || s.location == nil {
		return time.UTC
	}
	return s.location
}

// NextOccurrence computes the occurrence that follows the rule's anchor, which
// is the later of StartDate and LastProcessedDate.
//
// The boolean is false when the rule does not repeat (TypeNone) or when the
// candidate falls after EndDate; both are terminal, non-error outcomes. The
// rule is never modified, so repeated calls return the same answer.
func (s *Scheduler) NextOccurrence(rule Rule) (time.Time, bool, error) {
	if rule.Type == TypeNone {
		return time.Time{}, false, nil
	}
	if err := rule.Validate(); err != nil {
		return time.Time{}, false, err
	}

	loc := s.Location()
	anchor := anchorOf(rule).In(loc)
	start := rule.StartDate.In(loc)

	var next time.Time
	switch rule.Type {
	case TypeDaily:
		next = anchor.AddDate(0, 0, rule.Interval)
	case TypeWeekly:
		next = anchor.AddDate(0, 0, 7*rule.Interval)
		if rule.DayOfWeek != nil {
			delta := (int(*rule.DayOfWeek) - int(next.Weekday()) + 7) % 7
			next = next.AddDate(0, 0, delta)
		}
	case TypeMonthly:
		day := start.Day()
		if rule.DayOfMonth != nil {
			day = *rule.DayOfMonth
		}
		next = addMonthsClamped(anchor, rule.Interval, day)
	case TypeYearly:
		next = addMonthsClamped(anchor, 12*rule.Interval, start.Day())
	case TypeCustom:
		if s == nil || s.cron == nil {
			return time.Time{}, false, ErrCronUnavailable
		}
		candidate, err := s.cron.NextAfter(rule.CronExpression, anchor)
		if err != nil {
			return time.Time{}, false, err
		}
		if !candidate.After(anchor) {
			return time.Time{}, false, fmt.Errorf("%w: %q did not advance past %s", ErrInvalidCronExpression, rule.CronExpression, anchor.Format(time.RFC3339))
		}
		next = candidate.In(loc)
	default:
		return time.Time{}, false, ErrInvalidType
	}

	if rule.EndDate != nil && next.After(*rule.EndDate) {
		return time.Time{}, false, nil
	}
	return next, true, nil
}

// Step is the outcome of processing one due occurrence. Rule is a copy of the
// input with LastProcessedDate set to Occurrence and NextProcessingDate
// recomputed for the following cycle (nil once the series is exhausted).
type Step struct {
	Occurrence time.Time
	Rule       Rule
}

// ProcessDue reports whether the rule's next occurrence is due at now and, if
// so, returns the occurrence together with the advanced rule. Only the earliest
// unprocessed occurrence is returned; callers catching up after downtime call
// again with the advanced rule until it reports false.
func (s *Scheduler) ProcessDue(rule Rule, now time.Time) (Step, bool, error) {
	occurrence, ok, err := s.NextOccurrence(rule)
	if err != nil || !ok {
		return Step{}, false, err
	}
	if occurrence.After(now) {
		return Step{}, false, nil
	}

	advanced := rule
	advanced.LastProcessedDate = &occurrence
	advanced.NextProcessingDate = nil

	following, ok, err := s.NextOccurrence(advanced)
	if err != nil {
		return Step{}, false, err
	}
	if ok {
		advanced.NextProcessingDate = &following
	}

	return Step{Occurrence: occurrence, Rule: advanced}, true, nil
}

// Plan returns a copy of the rule with NextProcessingDate populated from its
// current anchor. It is used when a rule is created or its schedule edited.
func (s *Scheduler) Plan(rule Rule) (Rule, error) {
	rule = rule.WithDefaults()
	next, ok, err := s.NextOccurrence(rule)
	if err != nil {
		return Rule{}, err
	}
	rule.NextProcessingDate = nil
	if ok {
		rule.NextProcessingDate = &next
	}
	return rule, nil
}

func anchorOf(rule Rule) time.Time {
	if rule.LastProcessedDate != nil && rule.LastProcessedDate.After(rule.StartDate) {
		return *rule.LastProcessedDate
	}
	return rule.StartDate
}

// addMonthsClamped moves t forward by months and places it on day, clamped to
// the last day of the target month. The clock time of t is preserved.
func addMonthsClamped(t time.Time, months, day int) time.Time {
	y, m, _ := t.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
