package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/taskhub/internal/persistence"
	"github.com/example/taskhub/internal/recurrence"
)

// ruleTable reads and writes one of the *_recurrences tables. The tables share
// a shape and differ only in the owner they reference.
type ruleTable struct {
	name  string
	owner string
}

var (
	taskRules    = ruleTable{name: "task_recurrences", owner: "tasks"}
	expenseRules = ruleTable{name: "expense_recurrences", owner: "expenses"}
)

const ruleColumns = `type, interval_count, start_date, end_date, cron_expression, day_of_month,
	day_of_week, last_processed_date, next_processing_date, version`

// get returns the owner's rule and its version, or (nil, 0, nil) if the owner
// does not recur.
func (t ruleTable) get(ctx context.Context, q querier, ownerID string) (*recurrence.Rule, int64, error) {
	row := q.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM `+t.name+` WHERE owner_id = ?`, ownerID)

	var (
		typeName                          string
		start                             string
		end, lastProcessed, nextProcessed sql.NullString
		dayOfMonth, dayOfWeek             sql.NullInt64
		rule                              recurrence.Rule
		version                           int64
	)
	err := row.Scan(&typeName, &rule.Interval, &start, &end, &rule.CronExpression, &dayOfMonth,
		&dayOfWeek, &lastProcessed, &nextProcessed, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, mapError(err)
	}

	if rule.Type, err = recurrence.ParseType(typeName); err != nil {
		return nil, 0, err
	}
	if rule.StartDate, err = parseTime("start_date", start); err != nil {
		return nil, 0, err
	}
	if rule.EndDate, err = parseNullableTime("end_date", end); err != nil {
		return nil, 0, err
	}
	if rule.LastProcessedDate, err = parseNullableTime("last_processed_date", lastProcessed); err != nil {
		return nil, 0, err
	}
	if rule.NextProcessingDate, err = parseNullableTime("next_processing_date", nextProcessed); err != nil {
		return nil, 0, err
	}
	if dayOfMonth.Valid {
		d := int(dayOfMonth.Int64)
		rule.DayOfMonth = &d
	}
	if dayOfWeek.Valid {
		d := time.Weekday(dayOfWeek.Int64)
		rule.DayOfWeek = &d
	}
	return &rule, version, nil
}

// put inserts or replaces the owner's rule and bumps its version so any
// in-flight advance computed from the old schedule fails its version check.
func (t ruleTable) put(ctx context.Context, q querier, ownerID string, rule recurrence.Rule) error {
	var dayOfMonth, dayOfWeek sql.NullInt64
	if rule.DayOfMonth != nil {
		dayOfMonth = sql.NullInt64{Int64: int64(*rule.DayOfMonth), Valid: true}
	}
	if rule.DayOfWeek != nil {
		dayOfWeek = sql.NullInt64{Int64: int64(*rule.DayOfWeek), Valid: true}
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO `+t.name+` (owner_id, `+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (owner_id) DO UPDATE SET
			type = excluded.type,
			interval_count = excluded.interval_count,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			cron_expression = excluded.cron_expression,
			day_of_month = excluded.day_of_month,
			day_of_week = excluded.day_of_week,
			last_processed_date = excluded.last_processed_date,
			next_processing_date = excluded.next_processing_date,
			version = `+t.name+`.version + 1`,
		ownerID,
		rule.Type.String(),
		rule.Interval,
		formatTime(rule.StartDate),
		formatNullableTime(rule.EndDate),
		rule.CronExpression,
		dayOfMonth,
		dayOfWeek,
		formatNullableTime(rule.LastProcessedDate),
		formatNullableTime(rule.NextProcessingDate),
	)
	return mapError(err)
}

func (t ruleTable) remove(ctx context.Context, q querier, ownerID string) (bool, error) {
	result, err := q.ExecContext(ctx, `DELETE FROM `+t.name+` WHERE owner_id = ?`, ownerID)
	if err != nil {
		return false, mapError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// advance moves the scheduler fields forward if the stored version still
// matches. A mismatch, or a rule deleted meanwhile, is a concurrent update.
func (t ruleTable) advance(ctx context.Context, q querier, ownerID string, version int64, next recurrence.Rule) error {
	result, err := q.ExecContext(ctx, `
		UPDATE `+t.name+`
		SET last_processed_date = ?, next_processing_date = ?, version = version + 1
		WHERE owner_id = ? AND version = ?`,
		formatNullableTime(next.LastProcessedDate),
		formatNullableTime(next.NextProcessingDate),
		ownerID,
		version,
	)
	if err != nil {
		return mapError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s at version %d: %w", t.name, ownerID, version, recurrence.ErrConcurrentUpdate)
	}
	return nil
}

// replan reads the current rule, lets plan derive the new one and writes it in
// a single transaction, so it cannot interleave with an advance.
func (t ruleTable) replan(ctx context.Context, db *DB, ownerID string, plan persistence.ReplanFunc) error {
	return db.WithTransaction(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM `+t.owner+` WHERE id = ?`, ownerID).Scan(&exists); err != nil {
			return mapError(err)
		}
		current, _, err := t.get(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		next, err := plan(current)
		if err != nil {
			return err
		}
		if next == nil {
			_, err := t.remove(ctx, tx, ownerID)
			return err
		}
		return t.put(ctx, tx, ownerID, *next)
	})
}

func (t ruleTable) listDue(ctx context.Context, q querier, now time.Time) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT owner_id FROM `+t.name+`
		WHERE next_processing_date IS NOT NULL AND next_processing_date <= ?
		ORDER BY next_processing_date, owner_id`,
		formatTime(now),
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// recurringStore adapts a repository to recurrence.Store[T].
type recurringStore[T any] struct {
	db    *DB
	rules ruleTable
	// load reads the owner with its rule attached.
	load func(ctx context.Context, q querier, id string) (T, error)
	// insert writes a materialized occurrence.
	insert func(ctx context.Context, tx *sql.Tx, clone T) error
}

// ListDue returns the owner ids whose next occurrence is at or before now.
func (s *recurringStore[T]) ListDue(ctx context.Context, now time.Time) ([]string, error) {
	return s.rules.listDue(ctx, s.db.db, now)
}

// Load reads an owner with its rule and current version.
func (s *recurringStore[T]) Load(ctx context.Context, id string) (recurrence.Item[T], error) {
	var item recurrence.Item[T]
	err := s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		owner, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		rule, version, err := s.rules.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if rule == nil {
			return fmt.Errorf("%s for %s: %w", s.rules.name, id, persistence.ErrNotFound)
		}
		item = recurrence.Item[T]{ID: id, Owner: owner, Rule: *rule, Version: version}
		return nil
	})
	return item, err
}

// Advance stores next and inserts clone in one transaction, provided the
// rule still has the version item was loaded with.
func (s *recurringStore[T]) Advance(ctx context.Context, item recurrence.Item[T], next recurrence.Rule, clone T) error {
	return s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := s.rules.advance(ctx, tx, item.ID, item.Version, next); err != nil {
			return err
		}
		return s.insert(ctx, tx, clone)
	})
}
