package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCronExpression indicates a custom rule's expression could not be
// parsed or never fires after the anchor.
var ErrInvalidCronExpression = fmt.Errorf("%w: invalid cron expression", ErrInvalidRule)

// CronEvaluator resolves the first activation of a cron expression strictly
// after anchor.
type CronEvaluator interface {
	NextAfter(expr string, anchor time.Time) (time.Time, error)
}

// StandardCron evaluates five-field cron expressions and the @daily style
// descriptors.
type StandardCron struct {
	parser cron.Parser
}

// NewStandardCron constructs a StandardCron.
func NewStandardCron() *StandardCron {
	return &StandardCron{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// NextAfter implements CronEvaluator.
func (c *StandardCron) NextAfter(expr string, anchor time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return time.Time{}, errors.Join(ErrInvalidCronExpression, ErrMissingCronExpression)
	}
	schedule, err := c.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidCronExpression, err)
	}
	next := schedule.Next(anchor)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q never fires after %s", ErrInvalidCronExpression, expr, anchor.Format(time.RFC3339))
	}
	return next, nil
}
