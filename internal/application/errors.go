package application

import (
	"errors"
	"fmt"

	"github.com/example/taskhub/internal/featureflag"
	"github.com/example/taskhub/internal/persistence"
	"github.com/example/taskhub/internal/recurrence"
)

var (
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested resource does not exist or
	// belongs to another user.
	ErrNotFound = errors.New("application: not found")
	// ErrAlreadyExists is returned when a create would violate a uniqueness rule.
	ErrAlreadyExists = errors.New("application: already exists")
	// ErrConflict is returned when the resource changed or is busy; the caller may retry.
	ErrConflict = errors.New("application: conflict")
	// ErrInvalidCredentials is returned for unknown emails and wrong passwords alike.
	ErrInvalidCredentials = errors.New("application: invalid credentials")
	// ErrAccountDisabled is returned when an inactive user attempts to log in.
	ErrAccountDisabled = errors.New("application: account disabled")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

// mapRepoError translates persistence and core sentinels into application ones.
func mapRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound),
		errors.Is(err, persistence.ErrReference),
		errors.Is(err, featureflag.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, persistence.ErrDuplicate), errors.Is(err, featureflag.ErrDuplicateName):
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	case errors.Is(err, recurrence.ErrConcurrentUpdate), errors.Is(err, recurrence.ErrLocked):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// ruleFields names the input field responsible for each rule validation failure.
var ruleFields = []struct {
	err   error
	field string
}{
	{recurrence.ErrInvalidType, "recurrence.type"},
	{recurrence.ErrInvalidInterval, "recurrence.interval"},
	{recurrence.ErrMissingStartDate, "recurrence.start_date"},
	{recurrence.ErrInvalidWindow, "recurrence.end_date"},
	{recurrence.ErrInvalidDayOfMonth, "recurrence.day_of_month"},
	{recurrence.ErrInvalidDayOfWeek, "recurrence.day_of_week"},
	{recurrence.ErrMissingCronExpression, "recurrence.cron_expression"},
	{recurrence.ErrInvalidCronExpression, "recurrence.cron_expression"},
	{recurrence.ErrCronUnavailable, "recurrence.cron_expression"},
}

// ruleValidationError converts a rule failure into field errors. It returns
// nil when err is not a rule validation failure.
func ruleValidationError(err error) *ValidationError {
	vErr := &ValidationError{}
	for _, rf := range ruleFields {
		if errors.Is(err, rf.err) {
			vErr.add(rf.field, rf.err.Error())
		}
	}
	if !vErr.HasErrors() && errors.Is(err, recurrence.ErrInvalidRule) {
		vErr.add("recurrence", err.Error())
	}
	if !vErr.HasErrors() {
		return nil
	}
	return vErr
}
