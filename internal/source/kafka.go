package source

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"callwatch/internal/config"
	"callwatch/internal/engine"
	"callwatch/internal/logging"
	"callwatch/internal/models"
)

// KafkaSource consumes JSON event records from a Kafka topic and feeds them
// to the engine in small batches. Offsets are committed only after the cycle
// succeeds; redelivered records are dropped by the deduplicator.
type KafkaSource struct {
	reader *kafka.Reader
	engine *engine.Engine
	logger *logging.Logger

	batchSize    int
	flushTimeout time.Duration
}

// NewKafkaSource builds a consumer for the configured broker and topic.
func NewKafkaSource(cfg config.Config, eng *engine.Engine, logger *logging.Logger) *KafkaSource {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Kafka.Broker},
		Topic:    cfg.Kafka.Topic,
		GroupID:  cfg.Kafka.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &KafkaSource{
		reader:       reader,
		engine:       eng,
		logger:       logger,
		batchSize:    100,
		flushTimeout: 2 * time.Second,
	}
}

// Run consumes until ctx is cancelled.
func (s *KafkaSource) Run(ctx context.Context) error {
	log := s.logger.WithComponent("kafka")
	log.Infof("Kafka source started")

	for {
		batch, msgs, err := s.readBatch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Infof("Kafka source stopped")
				return nil
			}
			return err
		}
		if len(batch) == 0 {
			continue
		}

		if _, err := s.engine.RunCycle(ctx, batch); err != nil {
			// Offsets stay uncommitted, so the records come back after a
			// restart or rebalance and the deduplicator drops what was
			// already admitted.
			log.Errorf("Cycle failed for kafka batch: %v", err)
			continue
		}
		if err := s.reader.CommitMessages(ctx, msgs...); err != nil {
			log.Errorf("Commit failed: %v", err)
		}
	}
}

// readBatch collects up to batchSize events, returning early after the flush
// timeout once at least one record is buffered.
func (s *KafkaSource) readBatch(ctx context.Context) ([]models.Event, []kafka.Message, error) {
	log := s.logger.WithComponent("kafka")

	var (
		events []models.Event
		msgs   []kafka.Message
	)

	for len(events) < s.batchSize {
		readCtx := ctx
		var cancel context.CancelFunc
		if len(events) > 0 {
			readCtx, cancel = context.WithTimeout(ctx, s.flushTimeout)
		}
		msg, err := s.reader.FetchMessage(readCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			if len(events) > 0 && (errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil) {
				break
			}
			return events, msgs, err
		}

		var ev models.Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Errorf("Dropping malformed event record at offset %d: %v", msg.Offset, err)
			msgs = append(msgs, msg)
			continue
		}
		if ev.SID == "" || !models.ValidCategory(ev.Category) {
			log.Errorf("Dropping event record at offset %d: missing sid or bad category", msg.Offset)
			msgs = append(msgs, msg)
			continue
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}

		events = append(events, ev)
		msgs = append(msgs, msg)
	}

	return events, msgs, nil
}

// Close releases the underlying reader.
func (s *KafkaSource) Close() error {
	return s.reader.Close()
}
