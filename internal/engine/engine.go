package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"callwatch/internal/logging"
	"callwatch/internal/models"
)

// EventStore is the durable event membership store. AdmitEvent must be atomic
// per SID: of any number of concurrent admissions of the same identifier,
// exactly one returns admitted=true.
type EventStore interface {
	AdmitEvent(ctx context.Context, ev models.Event) (admitted bool, err error)
	GetEvent(ctx context.Context, sid string) (models.Event, bool, error)
}

// RuleStore supplies a read-consistent snapshot of rules and their actions,
// taken once per cycle and never refreshed mid-pass.
type RuleStore interface {
	Snapshot(ctx context.Context) ([]models.Rule, []models.Action, error)
}

// CycleReport summarizes one polling cycle.
type CycleReport struct {
	Admitted   int `json:"admitted"`
	Duplicates int `json:"duplicates"`
	Invalid    int `json:"invalid_rules"`
	Matches    int `json:"matches"`
	Dispatched int `json:"dispatched"`
	Failed     int `json:"failed"`
	Resumed    int `json:"resumed"`
}

// Engine is the rule evaluation and action dispatch pipeline. It is invoked
// once per polling cycle with a batch of freshly fetched events and owns no
// state besides the window aggregator; everything durable lives behind the
// store interfaces.
type Engine struct {
	events     EventStore
	rules      RuleStore
	ledger     Ledger
	dispatcher *Dispatcher
	pipeline   *Pipeline
	windows    *Aggregator
	workers    int
	logger     *logging.Logger

	notifyMu sync.RWMutex
	notify   func(models.MatchEvent, models.DispatchRecord)
}

// New assembles an Engine. workers bounds in-cycle parallelism.
func New(events EventStore, rules RuleStore, ledger Ledger, dispatcher *Dispatcher, workers int, logger *logging.Logger) *Engine {
	if workers < 1 {
		workers = 1
	}
	windows := NewAggregator()
	return &Engine{
		events:     events,
		rules:      rules,
		ledger:     ledger,
		dispatcher: dispatcher,
		pipeline:   NewPipeline(windows),
		windows:    windows,
		workers:    workers,
		logger:     logger,
	}
}

// OnDispatch registers a callback invoked for every terminal dispatch record,
// e.g. the websocket alert feed.
func (e *Engine) OnDispatch(fn func(models.MatchEvent, models.DispatchRecord)) {
	e.notifyMu.Lock()
	e.notify = fn
	e.notifyMu.Unlock()
}

func (e *Engine) emit(match models.MatchEvent, rec models.DispatchRecord) {
	e.notifyMu.RLock()
	fn := e.notify
	e.notifyMu.RUnlock()
	if fn != nil && rec.Status.Terminal() {
		fn(match, rec)
	}
}

// RunCycle evaluates a batch of events against the current rule snapshot and
// dispatches actions for every match. Duplicate events are dropped and
// counted. An event is marked admitted only after every one of its dispatch
// records is terminal, so a storage failure mid-cycle leaves the event
// unadmitted; the next cycle re-fetches and reprocesses it, and the ledger's
// insert-if-absent keeps redelivery from duplicating notifications.
func (e *Engine) RunCycle(ctx context.Context, events []models.Event) (CycleReport, error) {
	log := e.logger.WithComponent("engine")

	rules, actions, err := e.rules.Snapshot(ctx)
	if err != nil {
		return CycleReport{}, fmt.Errorf("rule snapshot failed: %w", err)
	}
	rs := Compile(rules, actions)
	for _, bad := range rs.Invalid {
		log.Warnf("Rule %s (%s) excluded from evaluation: %v", bad.Name, bad.RuleID, bad.Err)
	}

	keep := make(map[uuid.UUID]struct{}, len(rs.Rules))
	for _, cr := range rs.Rules {
		keep[cr.Rule.ID] = struct{}{}
	}
	e.windows.Prune(keep)

	report := CycleReport{Invalid: len(rs.Invalid)}

	// Finish what a previous, interrupted cycle left pending before taking
	// on new work.
	if err := e.resumePending(ctx, rs, &report); err != nil {
		return report, err
	}

	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		dispatches sync.WaitGroup
		firstErr   error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	jobs := make(chan models.Event)
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range jobs {
				if err := e.processEvent(cycleCtx, ev, rs, &mu, &report, &dispatches, fail); err != nil {
					fail(err)
					return
				}
			}
		}()
	}

	// Same-identifier repeats inside one batch are filtered at the feed so
	// each rule window sees at most one insertion per event.
	batchSeen := make(map[string]struct{}, len(events))
feed:
	for _, ev := range events {
		if _, dup := batchSeen[ev.SID]; dup {
			mu.Lock()
			report.Duplicates++
			mu.Unlock()
			continue
		}
		batchSeen[ev.SID] = struct{}{}
		select {
		case jobs <- ev:
		case <-cycleCtx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	dispatches.Wait()

	if firstErr != nil {
		log.Errorf("Cycle aborted: %v", firstErr)
		return report, firstErr
	}

	log.Infof("Cycle complete: admitted=%d duplicates=%d matches=%d dispatched=%d failed=%d resumed=%d",
		report.Admitted, report.Duplicates, report.Matches, report.Dispatched, report.Failed, report.Resumed)
	return report, nil
}

// processEvent evaluates one event. Dispatch and the admission mark run on a
// separate goroutine so a retrying transport never stalls evaluation of the
// events queued behind this one.
func (e *Engine) processEvent(ctx context.Context, ev models.Event, rs *RuleSet, mu *sync.Mutex, report *CycleReport, dispatches *sync.WaitGroup, fail func(error)) error {
	_, seen, err := e.events.GetEvent(ctx, ev.SID)
	if err != nil {
		return fmt.Errorf("duplicate check for event %s failed: %w", ev.SID, err)
	}
	if seen {
		mu.Lock()
		report.Duplicates++
		mu.Unlock()
		return nil
	}

	matches := e.pipeline.Evaluate(ev, rs)
	mu.Lock()
	report.Matches += len(matches)
	mu.Unlock()

	dispatches.Add(1)
	go func() {
		defer dispatches.Done()
		if err := e.settleEvent(ctx, ev, matches, rs, mu, report); err != nil {
			fail(err)
		}
	}()
	return nil
}

// settleEvent drives every match to a terminal dispatch record and only then
// marks the event admitted. Admission last means a ledger or store failure
// leaves the event eligible for reprocessing instead of silently dropping
// its alert.
func (e *Engine) settleEvent(ctx context.Context, ev models.Event, matches []models.MatchEvent, rs *RuleSet, mu *sync.Mutex, report *CycleReport) error {
	for _, match := range matches {
		records, err := e.dispatcher.Dispatch(ctx, match, rs.ActionsFor(match.RuleID))
		if err != nil {
			return fmt.Errorf("dispatch for rule %s failed: %w", match.RuleName, err)
		}
		mu.Lock()
		for _, rec := range records {
			switch rec.Status {
			case models.DispatchSuccess:
				report.Dispatched++
			case models.DispatchFailed:
				report.Failed++
			}
		}
		mu.Unlock()
		for _, rec := range records {
			e.emit(match, rec)
		}
	}

	admitted, err := e.events.AdmitEvent(ctx, ev)
	if err != nil {
		return fmt.Errorf("admission of event %s failed: %w", ev.SID, err)
	}
	mu.Lock()
	if admitted {
		report.Admitted++
	} else {
		report.Duplicates++
	}
	mu.Unlock()
	return nil
}

// resumePending re-drives dispatch records left pending by an aborted cycle.
// Records whose rule, action, or event no longer exists are closed out as
// failed rather than silently abandoned.
func (e *Engine) resumePending(ctx context.Context, rs *RuleSet, report *CycleReport) error {
	log := e.logger.WithComponent("engine")

	pending, err := e.ledger.PendingRecords(ctx)
	if err != nil {
		return fmt.Errorf("listing pending dispatches failed: %w", err)
	}

	ruleNames := make(map[uuid.UUID]string, len(rs.Rules))
	for _, cr := range rs.Rules {
		ruleNames[cr.Rule.ID] = cr.Rule.Name
	}

	for _, rec := range pending {
		var action *models.Action
		for _, a := range rs.ActionsFor(rec.RuleID) {
			if a.ID == rec.ActionID {
				action = &a
				break
			}
		}
		ev, found, err := e.events.GetEvent(ctx, rec.EventSID)
		if err != nil {
			return fmt.Errorf("loading event %s for pending dispatch failed: %w", rec.EventSID, err)
		}

		if action == nil || !found {
			if _, err := e.dispatcher.markFailed(ctx, rec, "rule, action, or event no longer configured"); err != nil {
				return err
			}
			report.Failed++
			continue
		}

		match := models.MatchEvent{
			RuleID:    rec.RuleID,
			RuleName:  ruleNames[rec.RuleID],
			Event:     ev,
			MatchedAt: rec.FirstAttemptAt,
		}
		log.Infof("Resuming pending dispatch for event %s action %s", rec.EventSID, rec.ActionID)

		final, err := e.dispatcher.Resume(ctx, rec, match, *action)
		if err != nil {
			return fmt.Errorf("resuming dispatch for event %s failed: %w", rec.EventSID, err)
		}
		report.Resumed++
		switch final.Status {
		case models.DispatchSuccess:
			report.Dispatched++
		case models.DispatchFailed:
			report.Failed++
		}
		e.emit(match, final)
	}
	return nil
}
