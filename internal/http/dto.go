package http

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/taskhub/internal/application"
	"github.com/example/taskhub/internal/recurrence"
)

type recurrenceRequest struct {
	Type           string     `json:"type" validate:"required,oneof=none daily weekly monthly yearly custom"`
	Interval       int        `json:"interval" validate:"gte=0,lte=1000"`
	StartDate      *time.Time `json:"start_date"`
	EndDate        *time.Time `json:"end_date"`
	CronExpression string     `json:"cron_expression" validate:"max=120"`
	DayOfMonth     *int       `json:"day_of_month" validate:"omitempty,min=1,max=31"`
	DayOfWeek      *int       `json:"day_of_week" validate:"omitempty,min=0,max=6"`
}

func (r *recurrenceRequest) toInput() *application.RecurrenceInput {
	if r == nil {
		return nil
	}
	input := &application.RecurrenceInput{
		Type:           r.Type,
		Interval:       r.Interval,
		StartDate:      r.StartDate,
		EndDate:        r.EndDate,
		CronExpression: strings.TrimSpace(r.CronExpression),
		DayOfMonth:     r.DayOfMonth,
	}
	if r.DayOfWeek != nil {
		wd := time.Weekday(*r.DayOfWeek)
		input.DayOfWeek = &wd
	}
	return input
}

type recurrenceDTO struct {
	Type               string     `json:"type"`
	Interval           int        `json:"interval"`
	StartDate          time.Time  `json:"start_date"`
	EndDate            *time.Time `json:"end_date,omitempty"`
	CronExpression     string     `json:"cron_expression,omitempty"`
	DayOfMonth         *int       `json:"day_of_month,omitempty"`
	DayOfWeek          *int       `json:"day_of_week,omitempty"`
	State              string     `json:"state"`
	LastProcessedDate  *time.Time `json:"last_processed_date,omitempty"`
	NextProcessingDate *time.Time `json:"next_processing_date,omitempty"`
}

func toRecurrenceDTO(rule *recurrence.Rule) *recurrenceDTO {
	if rule == nil {
		return nil
	}
	dto := &recurrenceDTO{
		Type:               rule.Type.String(),
		Interval:           rule.Interval,
		StartDate:          rule.StartDate,
		EndDate:            rule.EndDate,
		CronExpression:     rule.CronExpression,
		DayOfMonth:         rule.DayOfMonth,
		State:              recurrence.StateOf(rule).String(),
		LastProcessedDate:  rule.LastProcessedDate,
		NextProcessingDate: rule.NextProcessingDate,
	}
	if rule.DayOfWeek != nil {
		wd := int(*rule.DayOfWeek)
		dto.DayOfWeek = &wd
	}
	return dto
}

type recurrenceResultDTO struct {
	ID          string      `json:"id"`
	Occurrences []time.Time `json:"occurrences"`
	State       string      `json:"state"`
}

func toRecurrenceResultDTO(result recurrence.Result) recurrenceResultDTO {
	occurrences := result.Occurrences
	if occurrences == nil {
		occurrences = []time.Time{}
	}
	return recurrenceResultDTO{ID: result.ID, Occurrences: occurrences, State: result.State.String()}
}

type sweepCountsDTO struct {
	Processed   int `json:"processed"`
	Occurrences int `json:"occurrences"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
}

type sweepReportDTO struct {
	Tasks    sweepCountsDTO `json:"tasks"`
	Expenses sweepCountsDTO `json:"expenses"`
}

func toSweepCountsDTO(r recurrence.SweepReport) sweepCountsDTO {
	return sweepCountsDTO{Processed: r.Processed, Occurrences: r.Occurrences, Skipped: r.Skipped, Failed: r.Failed}
}

// queryTime parses an optional RFC 3339 query parameter. Failures are
// recorded on vErr under the parameter name.
func queryTime(values url.Values, key string, vErr *application.ValidationError) *time.Time {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		setFieldError(vErr, key, "must be an RFC 3339 timestamp")
		return nil
	}
	return &parsed
}

// queryInt parses an optional integer query parameter; absent means zero.
func queryInt(values url.Values, key string, vErr *application.ValidationError) int {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		setFieldError(vErr, key, "must be an integer")
		return 0
	}
	return n
}

func setFieldError(vErr *application.ValidationError, field, message string) {
	if vErr.FieldErrors == nil {
		vErr.FieldErrors = make(map[string]string)
	}
	vErr.FieldErrors[field] = message
}
