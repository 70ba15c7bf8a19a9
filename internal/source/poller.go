package source

import (
	"context"
	"sync"
	"time"

	"callwatch/internal/engine"
	"callwatch/internal/logging"
)

// Poller drives the engine on a fixed cadence: fetch a batch from Twilio,
// hand it to RunCycle, advance the watermark only after the cycle succeeds.
// An aborted cycle leaves the watermark alone, so the same range is
// re-fetched and reprocessed (dedup-safe) next time.
type Poller struct {
	client   *TwilioClient
	engine   *engine.Engine
	interval time.Duration
	lookback time.Duration
	pageSize int
	logger   *logging.Logger

	mu        sync.Mutex
	watermark time.Time
}

// NewPoller builds a Poller.
func NewPoller(client *TwilioClient, eng *engine.Engine, interval, lookback time.Duration, pageSize int, logger *logging.Logger) *Poller {
	return &Poller{
		client:   client,
		engine:   eng,
		interval: interval,
		lookback: lookback,
		pageSize: pageSize,
		logger:   logger,
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	log := p.logger.WithComponent("poller")
	log.Infof("Polling every %s", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Errorf("Polling cycle failed: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Infof("Poller stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single fetch-and-evaluate cycle. Cycles are serialized
// so a manual trigger from the API never overlaps the ticker's cycle.
func (p *Poller) RunOnce(ctx context.Context) (engine.CycleReport, error) {
	log := p.logger.WithComponent("poller")

	p.mu.Lock()
	defer p.mu.Unlock()

	since := p.watermark
	start := time.Now().UTC()
	if since.IsZero() {
		since = start.Add(-p.lookback)
	}

	events, err := p.client.FetchSince(ctx, since, p.pageSize)
	if err != nil {
		return engine.CycleReport{}, err
	}

	report, err := p.engine.RunCycle(ctx, events)
	if err != nil {
		return report, err
	}

	p.watermark = start

	log.Infof("Cycle done: %d fetched, %d admitted, %d duplicates, %d matches",
		len(events), report.Admitted, report.Duplicates, report.Matches)
	return report, nil
}
