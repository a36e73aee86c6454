package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type identifies the cadence of a recurrence rule.
type Type int

const (
	// TypeNone marks an item that does not repeat.
	TypeNone Type = iota
	// TypeDaily repeats every Interval days.
	TypeDaily
	// TypeWeekly repeats every Interval weeks, optionally pinned to a weekday.
	TypeWeekly
	// TypeMonthly repeats every Interval months, optionally pinned to a day of month.
	TypeMonthly
	// TypeYearly repeats every Interval years on the start date's month and day.
	TypeYearly
	// TypeCustom delegates to a cron expression.
	TypeCustom
)

var typeNames = [...]string{"none", "daily", "weekly", "monthly", "yearly", "custom"}

func (t Type) String() string {
	if t < TypeNone || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// ParseType converts a textual cadence into a Type. Matching is case-insensitive
// and the empty string parses as TypeNone.
func ParseType(value string) (Type, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return TypeNone, nil
	}
	for i, name := range typeNames {
		if name == v {
			return Type(i), nil
		}
	}
	return TypeNone, fmt.Errorf("%w: %q", ErrInvalidType, value)
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	if t < TypeNone || int(t) >= len(typeNames) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidType, int(t))
	}
	return []byte(typeNames[t]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Rule describes a repeating schedule attached to a task or an expense.
//
// LastProcessedDate and NextProcessingDate are owned by the scheduler and
// advanced after every processed occurrence; callers only set the schedule
// fields.
type Rule struct {
	Type               Type
	Interval           int
	StartDate          time.Time
	EndDate            *time.Time
	CronExpression     string
	DayOfMonth         *int
	DayOfWeek          *time.Weekday
	LastProcessedDate  *time.Time
	NextProcessingDate *time.Time
}

var (
	// ErrInvalidRule is wrapped by every rule validation failure.
	ErrInvalidRule = errors.New("recurrence: invalid rule")
	// ErrInvalidType indicates an unknown recurrence type.
	ErrInvalidType = fmt.Errorf("%w: unknown type", ErrInvalidRule)
	// ErrInvalidInterval indicates an interval below one.
	ErrInvalidInterval = fmt.Errorf("%w: interval must be at least 1", ErrInvalidRule)
	// ErrMissingStartDate indicates the rule has no start date.
	ErrMissingStartDate = fmt.Errorf("%w: start date is required", ErrInvalidRule)
	// ErrInvalidWindow indicates the end date precedes the start date.
	ErrInvalidWindow = fmt.Errorf("%w: end date must not precede start date", ErrInvalidRule)
	// ErrInvalidDayOfMonth indicates a day of month outside 1..31.
	ErrInvalidDayOfMonth = fmt.Errorf("%w: day of month must be between 1 and 31", ErrInvalidRule)
	// ErrInvalidDayOfWeek indicates a weekday outside Sunday..Saturday.
	ErrInvalidDayOfWeek = fmt.Errorf("%w: day of week must be between 0 and 6", ErrInvalidRule)
	// ErrMissingCronExpression indicates a custom rule without an expression.
	ErrMissingCronExpression = fmt.Errorf("%w: custom rules require a cron expression", ErrInvalidRule)
)

// WithDefaults returns a copy of the rule with Interval defaulted to 1 and
// fields that only apply to other cadences cleared.
func (r Rule) WithDefaults() Rule {
	if r.Interval == 0 {
		r.Interval = 1
	}
	if r.Type != TypeMonthly {
		r.DayOfMonth = nil
	}
	if r.Type != TypeWeekly {
		r.DayOfWeek = nil
	}
	if r.Type != TypeCustom {
		r.CronExpression = ""
	}
	return r
}

// Validate reports every structural problem with the rule. The returned error
// is nil or joins one or more of the Err* sentinels above, all of which wrap
// ErrInvalidRule.
func (r Rule) Validate() error {
	var errs []error

	if r.Type < TypeNone || r.Type > TypeCustom {
		errs = append(errs, ErrInvalidType)
	}
	if r.Type == TypeNone {
		return errors.Join(errs...)
	}
	if r.Interval < 1 {
		errs = append(errs, ErrInvalidInterval)
	}
	if r.StartDate.IsZero() {
		errs = append(errs, ErrMissingStartDate)
	} else if r.EndDate != nil && r.EndDate.Before(r.StartDate) {
		errs = append(errs, ErrInvalidWindow)
	}
	if r.DayOfMonth != nil && (*r.DayOfMonth < 1 || *r.DayOfMonth > 31) {
		errs = append(errs, ErrInvalidDayOfMonth)
	}
	if r.DayOfWeek != nil && (*r.DayOfWeek < time.Sunday || *r.DayOfWeek > time.Saturday) {
		errs = append(errs, ErrInvalidDayOfWeek)
	}
	if r.Type == TypeCustom && strings.TrimSpace(r.CronExpression) == "" {
		errs = append(errs, ErrMissingCronExpression)
	}

	return errors.Join(errs...)
}

// State is the lifecycle position of a recurring item's rule.
type State int

const (
	// StatePending means no occurrence has been processed yet.
	StatePending State = iota
	// StateActive means occurrences have been processed and another is scheduled.
	StateActive
	// StateExhausted means the end date has been reached.
	StateExhausted
	// StateCancelled means the rule was removed. Terminal.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateExhausted:
		return "exhausted"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StateOf derives the lifecycle state from the persisted scheduler fields. A nil
// rule, or one whose type is TypeNone, is treated as cancelled.
func StateOf(rule *Rule) State {
	switch {
	case rule == nil || rule.Type == TypeNone:
		return StateCancelled
	case rule.LastProcessedDate == nil:
		return StatePending
	case rule.NextProcessingDate == nil:
		return StateExhausted
	default:
		return StateActive
	}
}
