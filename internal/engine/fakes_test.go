package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"callwatch/internal/logging"
	"callwatch/internal/models"
)

// memLedger is an in-memory Ledger with the same insert-if-absent contract as
// the database implementation.
type memLedger struct {
	mu      sync.Mutex
	records map[models.DispatchKey]models.DispatchRecord
	failAll bool
}

func newMemLedger() *memLedger {
	return &memLedger{records: make(map[models.DispatchKey]models.DispatchRecord)}
}

func (l *memLedger) CreatePending(ctx context.Context, rec models.DispatchRecord) (models.DispatchRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failAll {
		return models.DispatchRecord{}, false, fmt.Errorf("ledger unavailable")
	}
	if existing, ok := l.records[rec.Key()]; ok {
		return existing, false, nil
	}
	rec.Status = models.DispatchPending
	l.records[rec.Key()] = rec
	return rec, true, nil
}

func (l *memLedger) MarkSuccess(ctx context.Context, key models.DispatchKey, attempts int) error {
	return l.resolve(key, models.DispatchSuccess, attempts, "")
}

func (l *memLedger) MarkFailed(ctx context.Context, key models.DispatchKey, attempts int, lastErr string) error {
	return l.resolve(key, models.DispatchFailed, attempts, lastErr)
}

func (l *memLedger) resolve(key models.DispatchKey, status models.DispatchStatus, attempts int, lastErr string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[key]
	if !ok || rec.Status != models.DispatchPending {
		return fmt.Errorf("no pending record for %v", key)
	}
	now := time.Now().UTC()
	rec.Status = status
	rec.Attempts = attempts
	rec.LastError = lastErr
	rec.ResolvedAt = &now
	l.records[key] = rec
	return nil
}

func (l *memLedger) PendingRecords(ctx context.Context) ([]models.DispatchRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var pending []models.DispatchRecord
	for _, rec := range l.records {
		if rec.Status == models.DispatchPending {
			pending = append(pending, rec)
		}
	}
	return pending, nil
}

func (l *memLedger) get(key models.DispatchKey) (models.DispatchRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[key]
	return rec, ok
}

func (l *memLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// memEventStore is an in-memory EventStore keyed by SID.
type memEventStore struct {
	mu     sync.Mutex
	events map[string]models.Event
	fail   bool
}

func newMemEventStore() *memEventStore {
	return &memEventStore{events: make(map[string]models.Event)}
}

func (s *memEventStore) AdmitEvent(ctx context.Context, ev models.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return false, fmt.Errorf("event store unavailable")
	}
	if _, ok := s.events[ev.SID]; ok {
		return false, nil
	}
	s.events[ev.SID] = ev
	return true, nil
}

func (s *memEventStore) GetEvent(ctx context.Context, sid string) (models.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[sid]
	return ev, ok, nil
}

// memRuleStore serves a fixed snapshot.
type memRuleStore struct {
	rules   []models.Rule
	actions []models.Action
}

func (s *memRuleStore) Snapshot(ctx context.Context) ([]models.Rule, []models.Action, error) {
	return s.rules, s.actions, nil
}

// fakeTransport counts sends and fails according to script.
type fakeTransport struct {
	mu    sync.Mutex
	calls int
	// errs[i] is returned from call i; calls beyond the script succeed.
	errs []error
}

func (f *fakeTransport) Send(ctx context.Context, action models.Action, match models.MatchEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) {
		return f.errs[i]
	}
	return nil
}

func (f *fakeTransport) sends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// gateTransport blocks every send until gate is closed.
type gateTransport struct {
	gate chan struct{}
}

func (g *gateTransport) Send(ctx context.Context, action models.Action, match models.MatchEvent) error {
	select {
	case <-g.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func testRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Timeout:        time.Second,
	}
}

func testLogger() *logging.Logger {
	return logging.Discard()
}
