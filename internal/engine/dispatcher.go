package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"callwatch/internal/logging"
	"callwatch/internal/models"
)

// Ledger is the durable dispatch-outcome store. CreatePending must be an
// atomic insert-if-absent on the (rule, event, action) key: when a record
// already exists it is returned with created=false.
type Ledger interface {
	CreatePending(ctx context.Context, rec models.DispatchRecord) (models.DispatchRecord, bool, error)
	MarkSuccess(ctx context.Context, key models.DispatchKey, attempts int) error
	MarkFailed(ctx context.Context, key models.DispatchKey, attempts int, lastErr string) error
	PendingRecords(ctx context.Context) ([]models.DispatchRecord, error)
}

// Transport delivers one notification for one match. Implementations must
// honor ctx cancellation; the dispatcher enforces the per-attempt timeout.
type Transport interface {
	Send(ctx context.Context, action models.Action, match models.MatchEvent) error
}

// PermanentError marks a failure that must not be retried, e.g. a malformed
// action configuration or a rejected request.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func isPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// RetryConfig bounds dispatch attempts.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultRetryConfig returns the dispatch retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
		Timeout:        30 * time.Second,
	}
}

// Dispatcher executes the actions bound to a matched rule and records every
// outcome in the ledger. The ledger key makes redelivery idempotent: a match
// that was already resolved is skipped without side effects.
type Dispatcher struct {
	ledger     Ledger
	transports map[models.ActionKind]Transport
	retry      RetryConfig
	logger     *logging.Logger
}

// NewDispatcher builds a Dispatcher over a transport registry.
func NewDispatcher(ledger Ledger, transports map[models.ActionKind]Transport, retry RetryConfig, logger *logging.Logger) *Dispatcher {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &Dispatcher{
		ledger:     ledger,
		transports: transports,
		retry:      retry,
		logger:     logger,
	}
}

// Dispatch executes every enabled action for the match concurrently and
// returns the resulting records. Failure of one action never blocks or skips
// the others. The returned error reports ledger unavailability only;
// transport failures are recorded, not returned.
func (d *Dispatcher) Dispatch(ctx context.Context, match models.MatchEvent, actions []models.Action) ([]models.DispatchRecord, error) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		records  []models.DispatchRecord
		firstErr error
	)

	for _, action := range actions {
		if !action.Enabled {
			continue
		}
		wg.Add(1)
		go func(action models.Action) {
			defer wg.Done()
			rec, err := d.dispatchOne(ctx, match, action)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			records = append(records, rec)
		}(action)
	}
	wg.Wait()

	return records, firstErr
}

// dispatchOne runs the check-then-create idempotency protocol for a single
// action and drives the attempt loop to a terminal status.
func (d *Dispatcher) dispatchOne(ctx context.Context, match models.MatchEvent, action models.Action) (models.DispatchRecord, error) {
	log := d.logger.WithComponent("dispatcher").WithField("rule", match.RuleName)

	pending := models.DispatchRecord{
		ID:             uuid.New(),
		RuleID:         match.RuleID,
		EventSID:       match.Event.SID,
		ActionID:       action.ID,
		Status:         models.DispatchPending,
		FirstAttemptAt: time.Now().UTC(),
	}

	rec, created, err := d.ledger.CreatePending(ctx, pending)
	if err != nil {
		return models.DispatchRecord{}, fmt.Errorf("ledger create failed: %w", err)
	}
	if !created && rec.Status.Terminal() {
		log.Debugf("Skipping already-resolved dispatch for event %s action %s", rec.EventSID, rec.ActionID)
		return rec, nil
	}

	// A pre-existing pending record is an interrupted dispatch; resume it
	// with whatever attempt budget remains.
	return d.Resume(ctx, rec, match, action)
}

// Resume drives an existing pending record to a terminal status. It is used
// both for fresh records and for records left pending by an aborted cycle.
func (d *Dispatcher) Resume(ctx context.Context, rec models.DispatchRecord, match models.MatchEvent, action models.Action) (models.DispatchRecord, error) {
	log := d.logger.WithComponent("dispatcher").WithField("rule", match.RuleName)

	transport, ok := d.transports[action.Kind]
	if !ok {
		return d.markFailed(ctx, rec, fmt.Sprintf("no transport for action kind %q", action.Kind))
	}

	var lastErr error
	for attempt := rec.Attempts; attempt < d.retry.MaxAttempts; attempt++ {
		if attempt > rec.Attempts {
			backoff := d.backoff(attempt - 1)
			select {
			case <-ctx.Done():
				// Record stays pending; the next cycle resumes it.
				return rec, ctx.Err()
			case <-time.After(backoff):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, d.retry.Timeout)
		err := transport.Send(attemptCtx, action, match)
		cancel()

		rec.Attempts = attempt + 1

		if err == nil {
			if err := d.ledger.MarkSuccess(ctx, rec.Key(), rec.Attempts); err != nil {
				return models.DispatchRecord{}, fmt.Errorf("ledger mark success failed: %w", err)
			}
			now := time.Now().UTC()
			rec.Status = models.DispatchSuccess
			rec.ResolvedAt = &now
			log.Infof("Action %s delivered for event %s (attempt %d)", action.Kind, rec.EventSID, rec.Attempts)
			return rec, nil
		}

		lastErr = err
		if isPermanent(err) {
			log.Errorf("Action %s failed permanently for event %s: %v", action.Kind, rec.EventSID, err)
			return d.markFailed(ctx, rec, err.Error())
		}
		log.Warnf("Action %s attempt %d/%d failed for event %s: %v",
			action.Kind, rec.Attempts, d.retry.MaxAttempts, rec.EventSID, err)
	}

	log.Errorf("Action %s exhausted %d attempts for event %s: %v",
		action.Kind, d.retry.MaxAttempts, rec.EventSID, lastErr)
	return d.markFailed(ctx, rec, fmt.Sprintf("exhausted %d attempts: %v", d.retry.MaxAttempts, lastErr))
}

func (d *Dispatcher) markFailed(ctx context.Context, rec models.DispatchRecord, detail string) (models.DispatchRecord, error) {
	if err := d.ledger.MarkFailed(ctx, rec.Key(), rec.Attempts, detail); err != nil {
		return models.DispatchRecord{}, fmt.Errorf("ledger mark failed failed: %w", err)
	}
	now := time.Now().UTC()
	rec.Status = models.DispatchFailed
	rec.LastError = detail
	rec.ResolvedAt = &now
	return rec, nil
}

// backoff returns the exponential backoff for a completed attempt index,
// capped and jittered by ±25%.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	b := float64(d.retry.InitialBackoff) * math.Pow(2, float64(attempt))
	if b > float64(d.retry.MaxBackoff) {
		b = float64(d.retry.MaxBackoff)
	}
	b += b * 0.25 * (rand.Float64()*2 - 1)
	return time.Duration(b)
}
