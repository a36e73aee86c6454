package recurrence

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var (
	// ErrConcurrentUpdate is returned by Store.Advance when the persisted rule
	// changed since it was loaded. Callers must re-read and recompute.
	ErrConcurrentUpdate = errors.New("recurrence: concurrent update conflict")
	// ErrLocked indicates another worker currently holds the rule.
	ErrLocked = errors.New("recurrence: rule is locked by another worker")
)

// Item is a recurring owner record together with its rule and the version
// the rule was read at.
type Item[T any] struct {
	ID      string
	Owner   T
	Rule    Rule
	Version int64
}

// Store persists recurring owners of type T.
type Store[T any] interface {
	// ListDue returns the ids of owners whose NextProcessingDate is at or
	// before now.
	ListDue(ctx context.Context, now time.Time) ([]string, error)
	// Load reads an owner and its rule.
	Load(ctx context.Context, id string) (Item[T], error)
	// Advance atomically replaces the rule with next, provided the stored
	// version still equals item.Version, and inserts clone as the materialized
	// occurrence. A version mismatch yields ErrConcurrentUpdate and no writes.
	Advance(ctx context.Context, item Item[T], next Rule, clone T) error
}

// Materializer builds the concrete record for one occurrence of owner.
type Materializer[T any] func(owner T, occurrence time.Time) T

// Locker provides optional per-rule mutual exclusion across workers.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), acquired bool, err error)
}

// ProcessorConfig tunes a Processor.
type ProcessorConfig struct {
	// Name prefixes lock keys and log lines, e.g. "tasks".
	Name string
	// Locker, when set, is acquired per rule for the duration of processing.
	Locker Locker
	// LockTTL bounds how long a crashed worker can hold a rule. Defaults to 1m.
	LockTTL time.Duration
	// MaxAttempts caps read-compute-write retries after conflicts. Defaults to 3.
	MaxAttempts int
	// MaxCatchUp caps occurrences emitted per rule per call; zero means no cap.
	MaxCatchUp int
	Logger     *slog.Logger
}

// Result summarizes processing of one rule.
type Result struct {
	ID          string
	Occurrences []time.Time
	State       State
}

// SweepReport summarizes a sweep over all due rules.
type SweepReport struct {
	Processed   int
	Occurrences int
	Skipped     int
	Failed      int
}

// Processor applies a Scheduler to persisted owners of type T. It is the
// single implementation shared by every recurring owner type.
type Processor[T any] struct {
	scheduler   *Scheduler
	store       Store[T]
	materialize Materializer[T]
	cfg         ProcessorConfig
	logger      *slog.Logger
}

// NewProcessor wires a Processor.
func NewProcessor[T any](scheduler *Scheduler, store Store[T], materialize Materializer[T], cfg ProcessorConfig) *Processor[T] {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Name == "" {
		cfg.Name = "recurrence"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor[T]{
		scheduler:   scheduler,
		store:       store,
		materialize: materialize,
		cfg:         cfg,
		logger:      logger.With("processor", cfg.Name),
	}
}

// Process emits every occurrence of rule id that is due at now, oldest first.
// Each occurrence is committed before the next one is computed, so a call that
// stops early (cancellation, error) leaves the rule consistent and a later call
// resumes from persisted state.
func (p *Processor[T]) Process(ctx context.Context, id string, now time.Time) (Result, error) {
	result := Result{ID: id}

	if p.cfg.Locker != nil {
		unlock, acquired, err := p.cfg.Locker.TryLock(ctx, p.cfg.Name+":"+id, p.cfg.LockTTL)
		if err != nil {
			return result, err
		}
		if !acquired {
			return result, ErrLocked
		}
		defer unlock()
	}

	conflicts := 0
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		item, err := p.store.Load(ctx, id)
		if err != nil {
			return result, err
		}
		result.State = StateOf(&item.Rule)

		step, due, err := p.scheduler.ProcessDue(item.Rule, now)
		if err != nil {
			return result, err
		}
		if !due {
			return result, nil
		}

		clone := p.materialize(item.Owner, step.Occurrence)
		if err := p.store.Advance(ctx, item, step.Rule, clone); err != nil {
			if errors.Is(err, ErrConcurrentUpdate) {
				conflicts++
				p.logger.DebugContext(ctx, "rule changed concurrently, re-reading", "rule_id", id, "attempt", conflicts)
				if conflicts >= p.cfg.MaxAttempts {
					return result, err
				}
				continue
			}
			return result, err
		}

		conflicts = 0
		result.Occurrences = append(result.Occurrences, step.Occurrence)
		result.State = StateOf(&step.Rule)

		if p.cfg.MaxCatchUp > 0 && len(result.Occurrences) >= p.cfg.MaxCatchUp {
			return result, nil
		}
	}
}

// Sweep processes every rule that is due at now. A failure on one rule is
// logged and counted without stopping the sweep; cancellation is honoured
// between rules.
func (p *Processor[T]) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	var report SweepReport

	ids, err := p.store.ListDue(ctx, now)
	if err != nil {
		return report, err
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result, err := p.Process(ctx, id, now)
		report.Occurrences += len(result.Occurrences)
		switch {
		case err == nil:
			report.Processed++
		case errors.Is(err, ErrLocked):
			report.Skipped++
		case ctx.Err() != nil:
			return report, ctx.Err()
		default:
			report.Failed++
			p.logger.ErrorContext(ctx, "recurrence processing failed", "rule_id", id, "error", err)
		}
	}

	p.logger.InfoContext(ctx, "recurrence sweep finished",
		"due", len(ids),
		"processed", report.Processed,
		"occurrences", report.Occurrences,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, nil
}
