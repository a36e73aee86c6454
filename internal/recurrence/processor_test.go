package recurrence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"
)

type memoryStore struct {
	mu        sync.Mutex
	items     map[string]Item[string]
	clones    []string
	loadErr   map[string]error
	onAdvance func(id string)
}

func newMemoryStore() *memoryStore {
	return &memoryStore{items: make(map[string]Item[string]), loadErr: make(map[string]error)}
}

func (s *memoryStore) put(id, owner string, rule Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = Item[string]{ID: id, Owner: owner, Rule: rule, Version: 1}
}

func (s *memoryStore) ListDue(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, item := range s.items {
		next := item.Rule.NextProcessingDate
		if next != nil && !next.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memoryStore) Load(_ context.Context, id string) (Item[string], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadErr[id]; err != nil {
		return Item[string]{}, err
	}
	item, ok := s.items[id]
	if !ok {
		return Item[string]{}, errors.New("not found")
	}
	return item, nil
}

func (s *memoryStore) Advance(_ context.Context, item Item[string], next Rule, clone string) error {
	if s.onAdvance != nil {
		s.onAdvance(item.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[item.ID]
	if !ok || current.Version != item.Version {
		return ErrConcurrentUpdate
	}
	current.Rule = next
	current.Version++
	s.items[item.ID] = current
	s.clones = append(s.clones, clone)
	return nil
}

func (s *memoryStore) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.clones...)
}

func materializeTitle(owner string, occurrence time.Time) string {
	return owner + "@" + occurrence.Format("2006-01-02")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func plannedDaily(t *testing.T, s *Scheduler, start time.Time) Rule {
	t.Helper()
	rule, err := s.Plan(Rule{Type: TypeDaily, Interval: 1, StartDate: start})
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	return rule
}

func TestProcessor_ProcessCatchesUpInOrder(t *testing.T) {
	t.Parallel()

	scheduler := NewScheduler(nil, nil)
	store := newMemoryStore()
	store.put("r1", "standup", plannedDaily(t, scheduler, date(2024, time.January, 1)))

	p := NewProcessor[string](scheduler, store, materializeTitle, ProcessorConfig{Name: "tasks", Logger: discardLogger()})

	result, err := p.Process(context.Background(), "r1", date(2024, time.January, 4).Add(time.Hour))
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	want := []string{"standup@2024-01-02", "standup@2024-01-03", "standup@2024-01-04"}
	got := store.snapshot()
	if len(got) != len(want) {
		t.Fatalf("expected %d clones, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("clone %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if len(result.Occurrences) != 3 || result.State != StateActive {
		t.Fatalf("unexpected result %+v", result)
	}

	item, _ := store.Load(context.Background(), "r1")
	if !item.Rule.LastProcessedDate.Equal(date(2024, time.January, 4)) {
		t.Fatalf("expected last processed Jan 4, got %s", item.Rule.LastProcessedDate)
	}
	if !item.Rule.NextProcessingDate.Equal(date(2024, time.January, 5)) {
		t.Fatalf("expected next processing Jan 5, got %s", item.Rule.NextProcessingDate)
	}

	again, err := p.Process(context.Background(), "r1", date(2024, time.January, 4).Add(time.Hour))
	if err != nil || len(again.Occurrences) != 0 {
		t.Fatalf("expected idempotent reprocessing, got %+v err=%v", again, err)
	}
	if len(store.snapshot()) != 3 {
		t.Fatalf("expected no additional clones")
	}
}

func TestProcessor_ProcessRespectsMaxCatchUp(t *testing.T) {
	t.Parallel()

	scheduler := NewScheduler(nil, nil)
	store := newMemoryStore()
	store.put("r1", "standup", plannedDaily(t, scheduler, date(2024, time.January, 1)))

	p := NewProcessor[string](scheduler, store, materializeTitle, ProcessorConfig{MaxCatchUp: 2, Logger: discardLogger()})

	result, err := p.Process(context.Background(), "r1", date(2024, time.January, 10))
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if len(result.Occurrences) != 2 {
		t.Fatalf("expected 2 occurrences, got %d", len(result.Occurrences))
	}
	if got := store.snapshot(); got[1] != "standup@2024-01-03" {
		t.Fatalf("expected the oldest occurrences first, got %v", got)
	}
}

func TestProcessor_ProcessExhaustsAtEndDate(t *testing.T) {
	t.Parallel()

	scheduler := NewScheduler(nil, nil)
	store := newMemoryStore()
	end := date(2024, time.January, 3)
	rule, err := scheduler.Plan(Rule{Type: TypeDaily, Interval: 1, StartDate: date(2024, time.January, 1), EndDate: &end})
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	store.put("r1", "standup", rule)

	p := NewProcessor[string](scheduler, store, materializeTitle, ProcessorConfig{Logger: discardLogger()})

	result, err := p.Process(context.Background(), "r1", date(2024, time.February, 1))
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if len(result.Occurrences) != 2 || result.State != StateExhausted {
		t.Fatalf("expected two occurrences and exhausted state, got %+v", result)
	}

	due, _ := store.ListDue(context.Background(), date(2025, time.January, 1))
	if len(due) != 0 {
		t.Fatalf("expected exhausted rule to drop out of the due list, got %v", due)
	}
}

func TestProcessor_ConcurrentProcessingAdvancesOnce(t *testing.T) {
	t.Parallel()

	scheduler := NewScheduler(nil, nil)
	store := newMemoryStore()
	store.put("r1", "standup", plannedDaily(t, scheduler, date(2024, time.January, 1)))

	p := NewProcessor[string](scheduler, store, materializeTitle, ProcessorConfig{Logger: discardLogger()})
	now := date(2024, time.January, 2).Add(time.Hour)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Process(context.Background(), "r1", now); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if !errors.Is(err, ErrConcurrentUpdate) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := store.snapshot(); len(got) != 1 || got[0] != "standup@2024-01-02" {
		t.Fatalf("expected exactly one clone, got %v", got)
	}
}

func TestProcessor_ConflictRereadsBeforeRetrying(t *testing.T) {
	t.Parallel()

	scheduler := NewScheduler(nil, nil)
	store := newMemoryStore()
	store.put("r1", "standup", plannedDaily(t, scheduler, date(2024, time.January, 1)))

	// Another worker commits Jan 2 between our read and our write.
	var once sync.Once
	store.onAdvance = func(id string) {
		once.Do(func() {
			store.mu.Lock()
			defer store.mu.Unlock()
			item := store.items[id]
			step, _, _ := scheduler.ProcessDue(item.Rule, date(2024, time.January, 2))
			item.Rule = step.Rule
			item.Version++
			store.items[id] = item
			store.clones = append(store.clones, "other@"+step.Occurrence.Format("2006-01-02"))
		})
	}

	p := NewProcessor[string](scheduler, store, materializeTitle, ProcessorConfig{Logger: discardLogger()})
	result, err := p.Process(context.Background(), "r1", date(2024, time.January, 3).Add(time.Hour))
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	want := []string{"other@2024-01-02", "standup@2024-01-03"}
	got := store.snapshot()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if len(result.Occurrences) != 1 {
		t.Fatalf("expected one occurrence from this worker, got %d", len(result.Occurrences))
	}
}

func TestProcessor_ConflictGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	scheduler := NewScheduler(nil, nil)
	store := newMemoryStore()
	store.put("r1", "standup", plannedDaily(t, scheduler, date(2024, time.January, 1)))
	store.onAdvance = func(id string) {
		store.mu.Lock()
		defer store.mu.Unlock()
		item := store.items[id]
		item.Version++
		store.items[id] = item
	}

	p := NewProcessor[string](scheduler, store, materializeTitle, ProcessorConfig{MaxAttempts: 2, Logger: discardLogger()})
	_, err := p.Process(context.Background(), "r1", date(2024, time.January, 2))
	if !errors.Is(err, ErrConcurrentUpdate) {
		t.Fatalf("expected ErrConcurrentUpdate, got %v", err)
	}
	if len(store.snapshot()) != 0 {
		t.Fatalf("expected no clones")
	}
}

type stubLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
}

func (l *stubLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		l.released = append(l.released, key)
	}, true, nil
}

func TestProcessor_SweepSkipsLockedRules(t *testing.T) {
	t.Parallel()

	scheduler := NewScheduler(nil, nil)
	store := newMemoryStore()
	store.put("a", "alpha", plannedDaily(t, scheduler, date(2024, time.January, 1)))
	store.put("b", "beta", plannedDaily(t, scheduler, date(2024, time.January, 1)))

	locker := &stubLocker{held: map[string]bool{"tasks:a": true}}
	p := NewProcessor[string](scheduler, store, materializeTitle, ProcessorConfig{Name: "tasks", Locker: locker, Logger: discardLogger()})

	report, err := p.Sweep(context.Background(), date(2024, time.January, 2))
	if err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	if report.Skipped != 1 || report.Processed != 1 || report.Occurrences != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if got := store.snapshot(); len(got) != 1 || got[0] != "beta@2024-01-02" {
		t.Fatalf("expected only beta to be processed, got %v", got)
	}
	if len(locker.released) != 1 || locker.released[0] != "tasks:b" {
		t.Fatalf("expected lock on b to be released, got %v", locker.released)
	}
}

func TestProcessor_SweepIsolatesFailures(t *testing.T) {
	t.Parallel()

	scheduler := NewScheduler(nil, nil)
	store := newMemoryStore()
	store.put("a", "alpha", plannedDaily(t, scheduler, date(2024, time.January, 1)))
	store.put("b", "beta", plannedDaily(t, scheduler, date(2024, time.January, 1)))
	store.put("c", "gamma", plannedDaily(t, scheduler, date(2024, time.January, 1)))
	store.loadErr["b"] = errors.New("disk on fire")

	p := NewProcessor[string](scheduler, store, materializeTitle, ProcessorConfig{Logger: discardLogger()})

	report, err := p.Sweep(context.Background(), date(2024, time.January, 2))
	if err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	if report.Processed != 2 || report.Failed != 1 || report.Occurrences != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	got := store.snapshot()
	if len(got) != 2 || got[0] != "alpha@2024-01-02" || got[1] != "gamma@2024-01-02" {
		t.Fatalf("unexpected clones %v", got)
	}
}

func TestProcessor_SweepStopsOnCancellation(t *testing.T) {
	t.Parallel()

	scheduler := NewScheduler(nil, nil)
	store := newMemoryStore()
	store.put("a", "alpha", plannedDaily(t, scheduler, date(2024, time.January, 1)))
	store.put("b", "beta", plannedDaily(t, scheduler, date(2024, time.January, 1)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	materialize := func(owner string, occurrence time.Time) string {
		cancel()
		return materializeTitle(owner, occurrence)
	}
	p := NewProcessor[string](scheduler, store, materialize, ProcessorConfig{Logger: discardLogger()})

	report, err := p.Sweep(ctx, date(2024, time.January, 2))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if report.Occurrences != 1 {
		t.Fatalf("expected the in-flight occurrence to be committed, got %+v", report)
	}
	if got := store.snapshot(); len(got) != 1 || got[0] != "alpha@2024-01-02" {
		t.Fatalf("expected only alpha to be processed, got %v", got)
	}

	item, _ := store.Load(context.Background(), "a")
	if StateOf(&item.Rule) != StateActive {
		t.Fatalf("expected committed rule to be active, got %s", StateOf(&item.Rule))
	}
}
