package recurrence

import (
	"errors"
	"testing"
	"time"
)

func TestStandardCron_NextAfter(t *testing.T) {
	t.Parallel()

	c := NewStandardCron()
	anchor := time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		expr string
		want time.Time
	}{
		{expr: "0 9 * * *", want: time.Date(2024, time.January, 2, 9, 0, 0, 0, time.UTC)},
		{expr: "@daily", want: time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)},
		{expr: "0 12 1 * *", want: time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)},
		{expr: "0 8 1 * *", want: time.Date(2024, time.February, 1, 8, 0, 0, 0, time.UTC)},
		{expr: "15 10 * * 1-5", want: time.Date(2024, time.January, 1, 10, 15, 0, 0, time.UTC)},
	}

	for _, tc := range tests {
		got, err := c.NextAfter(tc.expr, anchor)
		if err != nil {
			t.Fatalf("NextAfter(%q) returned error: %v", tc.expr, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("NextAfter(%q) = %s, want %s", tc.expr, got, tc.want)
		}
	}
}

func TestStandardCron_Errors(t *testing.T) {
	t.Parallel()

	c := NewStandardCron()
	anchor := time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)

	if _, err := c.NextAfter("", anchor); !errors.Is(err, ErrMissingCronExpression) {
		t.Fatalf("expected ErrMissingCronExpression, got %v", err)
	}
	if _, err := c.NextAfter("61 * * * *", anchor); !errors.Is(err, ErrInvalidCronExpression) {
		t.Fatalf("expected ErrInvalidCronExpression, got %v", err)
	}
	if _, err := c.NextAfter("0 0 30 2 *", anchor); !errors.Is(err, ErrInvalidCronExpression) {
		t.Fatalf("expected ErrInvalidCronExpression for a date that never occurs, got %v", err)
	}
}
