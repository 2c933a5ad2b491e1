// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

package collector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/evertrail/evertrail/internal/audit"
	"github.com/evertrail/evertrail/internal/bus"
	"github.com/evertrail/evertrail/internal/logging"
	"github.com/evertrail/evertrail/internal/metrics"

	gobreaker "github.com/sony/gobreaker/v2"
)

// Recorder is the audit write path the collector feeds. Satisfied by
// audit.Repository.
type Recorder interface {
	Create(ctx context.Context, raw *audit.RawEvent) (*audit.Event, error)
	CreateBatch(ctx context.Context, raws []*audit.RawEvent) ([]*audit.Event, error)
}

// Stats holds collector runtime statistics for monitoring.
type Stats struct {
	EventsCollected     int64     // Events accepted into the buffer
	EventsClassified    int64     // Events that reached classification
	EventsPersisted     int64     // Events written to the audit trail
	EventsDropped       int64     // Events lost to breaker-open or failed flushes
	BatchesFlushed      int64     // Successful flush operations
	StorageFailures     int64     // Failed storage writes
	ParseErrors         int64     // Malformed bus payloads
	BufferSize          int       // Current buffer occupancy
	LastFlushTime       time.Time // Time of last successful flush
	LastError           string    // Last flush error message
	CircuitBreakerTrips int64     // Times the breaker transitioned to open
	CircuitBreakerState string    // closed, open or half-open
}

// Collector subscribes to every audited namespace on the bus, buffers
// incoming events and writes them through the repository in batches.
// A batch flushes when it reaches BatchSize or when FlushInterval elapses
// with a partial batch, whichever comes first.
//
// Flush operations are serialized via flushMu so timer-based and
// size-triggered flushes cannot interleave and reorder inserts.
type Collector struct {
	config  Config
	source  bus.Source
	repo    Recorder
	breaker *gobreaker.CircuitBreaker[[]*audit.Event]

	mu      sync.Mutex
	buffer  []*audit.RawEvent
	flushMu sync.Mutex

	closed   atomic.Bool
	started  atomic.Bool
	stopChan chan struct{}
	doneChan chan struct{}
	loopWg   sync.WaitGroup // consume loops and flush loop
	flushWg  sync.WaitGroup // in-flight size-triggered flushes

	eventsCollected     int64
	eventsClassified    int64
	eventsPersisted     int64
	eventsDropped       int64
	batchesFlushed      int64
	storageFailures     int64
	parseErrors         int64
	circuitBreakerTrips int64
	lastFlushTime       atomic.Value // time.Time
	lastError           atomic.Value // string
}

// New creates a collector over the given bus source and recorder.
func New(cfg Config, source bus.Source, repo Recorder) (*Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("collector config: %w", err)
	}
	if source == nil {
		return nil, fmt.Errorf("bus source required")
	}
	if repo == nil {
		return nil, fmt.Errorf("recorder required")
	}

	c := &Collector{
		config:   cfg,
		source:   source,
		repo:     repo,
		buffer:   make([]*audit.RawEvent, 0, cfg.BatchSize),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
	// The breaker's state-change hook feeds the trip counter, so the
	// collector must exist before the breaker does.
	c.breaker = newBreaker(cfg.BreakerMaxFailures, cfg.BreakerResetTimeout, &c.circuitBreakerTrips)
	c.lastFlushTime.Store(time.Time{})
	c.lastError.Store("")
	return c, nil
}

// Start subscribes to all configured topics and begins consuming.
// Safe to call once; subsequent calls are no-ops.
func (c *Collector) Start(ctx context.Context) error {
	if c.closed.Load() {
		return fmt.Errorf("collector is closed")
	}
	if c.started.Swap(true) {
		return nil
	}

	for _, topic := range c.config.Topics {
		messages, err := c.source.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
		c.loopWg.Add(1)
		go c.consumeLoop(ctx, topic, messages)
	}

	c.loopWg.Add(1)
	go c.flushLoop(ctx)

	go func() {
		c.loopWg.Wait()
		close(c.doneChan)
	}()

	logging.Info().
		Int("topics", len(c.config.Topics)).
		Int("batch_size", c.config.BatchSize).
		Dur("flush_interval", c.config.FlushInterval).
		Msg("Audit collector started")
	return nil
}

// Close stops consumption and flushes any pending events.
// Safe to call multiple times.
func (c *Collector) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	if c.started.Load() {
		close(c.stopChan)
		<-c.doneChan
	}

	c.flushWg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), c.config.FlushTimeout)
	defer cancel()
	return c.doFlushSync(ctx)
}

// consumeLoop processes messages from one subscription. On shutdown it
// drains buffered messages briefly so events received before the stop
// signal are not lost.
func (c *Collector) consumeLoop(ctx context.Context, topic string, messages <-chan *message.Message) {
	defer c.loopWg.Done()

	for {
		select {
		case <-ctx.Done():
			c.drainMessages(topic, messages)
			return
		case <-c.stopChan:
			c.drainMessages(topic, messages)
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			c.processMessage(topic, msg)
		}
	}
}

func (c *Collector) drainMessages(topic string, messages <-chan *message.Message) {
	drainTimeout := time.After(100 * time.Millisecond)
	drained := 0

	for {
		select {
		case <-drainTimeout:
			if drained > 0 {
				logging.Info().Str("topic", topic).Int("count", drained).Msg("Collector drained messages during shutdown")
			}
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			c.processMessage(topic, msg)
			drained++
		default:
			if drained > 0 {
				logging.Info().Str("topic", topic).Int("count", drained).Msg("Collector drained messages during shutdown")
			}
			return
		}
	}
}

// processMessage parses and buffers one bus message. Malformed payloads
// are acked and counted; redelivering them could never succeed.
func (c *Collector) processMessage(topic string, msg *message.Message) {
	subject := msg.Metadata.Get("nats_subject")
	if subject == "" {
		subject = topic
	}

	raw, err := parseMessage(msg.Payload, subject)
	if err != nil {
		atomic.AddInt64(&c.parseErrors, 1)
		metrics.ParseErrors.Inc()
		logging.Warn().
			Str("message_uuid", msg.UUID).
			Str("topic", topic).
			Err(err).
			Msg("Failed to parse bus event")
		msg.Ack()
		return
	}

	c.enqueue(raw)
	metrics.EventsCollected.Inc()
	msg.Ack()
}

// enqueue appends an event to the buffer and triggers an async flush when
// the buffer reaches batch size. The async flush uses a detached context:
// the message context is canceled once the handler returns, but the flush
// must still complete.
func (c *Collector) enqueue(raw *audit.RawEvent) {
	c.mu.Lock()
	c.buffer = append(c.buffer, raw)
	needsFlush := len(c.buffer) >= c.config.BatchSize
	c.mu.Unlock()

	atomic.AddInt64(&c.eventsCollected, 1)

	if needsFlush {
		c.flushWg.Add(1)
		go func() {
			defer c.flushWg.Done()
			flushCtx, cancel := context.WithTimeout(context.Background(), c.config.FlushTimeout)
			defer cancel()
			if err := c.doFlushSync(flushCtx); err != nil {
				logging.Debug().Err(err).Msg("Async flush error")
			}
		}()
	}
}

// flushLoop runs the interval trigger for partial batches. Each tick uses
// a fresh context so the parent context only controls shutdown, never a
// flush deadline.
func (c *Collector) flushLoop(ctx context.Context) {
	defer c.loopWg.Done()

	ticker := time.NewTicker(c.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case <-ticker.C:
			flushCtx, cancel := context.WithTimeout(context.Background(), c.config.FlushTimeout)
			if err := c.doFlushSync(flushCtx); err != nil {
				logging.Debug().Err(err).Msg("Interval flush error")
			}
			cancel()
		}
	}
}

// Flush synchronously flushes all buffered events, waiting first for any
// in-flight size-triggered flushes.
func (c *Collector) Flush(ctx context.Context) error {
	c.flushWg.Wait()
	return c.doFlushSync(ctx)
}

// doFlushSync takes ownership of the buffer and writes it through the
// breaker. While the breaker is open the batch is dropped rather than
// retried; audit capture must never back-pressure the event bus.
// A storage failure mid-batch persists the leading events and drops the
// rest, there is no batch atomicity.
func (c *Collector) doFlushSync(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return nil
	}
	events := c.buffer
	c.buffer = make([]*audit.RawEvent, 0, c.config.BatchSize)
	c.mu.Unlock()

	start := time.Now()
	stored, err := c.breaker.Execute(func() ([]*audit.Event, error) {
		return c.repo.CreateBatch(ctx, events)
	})

	if err != nil {
		c.lastError.Store(err.Error())

		if breakerRejected(err) {
			atomic.AddInt64(&c.eventsDropped, int64(len(events)))
			metrics.RecordBatchDropped(len(events))
			logging.Warn().
				Int("count", len(events)).
				Str("breaker_state", c.breaker.State().String()).
				Msg("Circuit breaker open, dropping batch")
			return err
		}

		atomic.AddInt64(&c.eventsClassified, int64(len(events)))
		atomic.AddInt64(&c.storageFailures, 1)
		atomic.AddInt64(&c.eventsPersisted, int64(len(stored)))
		atomic.AddInt64(&c.eventsDropped, int64(len(events)-len(stored)))
		metrics.StorageFailures.Inc()
		metrics.RecordBatchDropped(len(events) - len(stored))
		logging.Error().
			Int("count", len(events)).
			Int("stored", len(stored)).
			Err(err).
			Msg("Batch flush failed")
		return err
	}

	atomic.AddInt64(&c.eventsClassified, int64(len(stored)))
	atomic.AddInt64(&c.eventsPersisted, int64(len(stored)))
	atomic.AddInt64(&c.batchesFlushed, 1)
	c.lastFlushTime.Store(time.Now())
	metrics.EventsClassified.Add(float64(len(stored)))
	metrics.RecordBatchFlush(time.Since(start), len(stored))

	logging.Debug().
		Int("count", len(stored)).
		Dur("elapsed", time.Since(start)).
		Msg("Audit batch flushed")
	return nil
}

// RecordAuditEvent writes a single event synchronously, bypassing the
// buffer. It shares the circuit breaker with the batch path, so a trail
// outage observed here also protects interval flushes. Unlike the bus
// path the error is returned to the caller.
func (c *Collector) RecordAuditEvent(ctx context.Context, raw *audit.RawEvent) (*audit.Event, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("collector is closed")
	}

	atomic.AddInt64(&c.eventsCollected, 1)
	metrics.EventsCollected.Inc()

	stored, err := c.breaker.Execute(func() ([]*audit.Event, error) {
		ev, err := c.repo.Create(ctx, raw)
		if err != nil {
			return nil, err
		}
		return []*audit.Event{ev}, nil
	})
	if err != nil {
		c.lastError.Store(err.Error())
		atomic.AddInt64(&c.eventsDropped, 1)
		if breakerRejected(err) {
			metrics.RecordBatchDropped(1)
			return nil, fmt.Errorf("audit trail unavailable: %w", err)
		}
		atomic.AddInt64(&c.eventsClassified, 1)
		atomic.AddInt64(&c.storageFailures, 1)
		metrics.StorageFailures.Inc()
		return nil, fmt.Errorf("record audit event: %w", err)
	}

	atomic.AddInt64(&c.eventsClassified, 1)
	atomic.AddInt64(&c.eventsPersisted, 1)
	metrics.EventsClassified.Inc()
	metrics.EventsPersisted.Inc()
	return stored[0], nil
}

// Stats returns current runtime statistics.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	bufferSize := len(c.buffer)
	c.mu.Unlock()

	var lastFlush time.Time
	if t, ok := c.lastFlushTime.Load().(time.Time); ok {
		lastFlush = t
	}
	var lastErr string
	if e, ok := c.lastError.Load().(string); ok {
		lastErr = e
	}

	return Stats{
		EventsCollected:     atomic.LoadInt64(&c.eventsCollected),
		EventsClassified:    atomic.LoadInt64(&c.eventsClassified),
		EventsPersisted:     atomic.LoadInt64(&c.eventsPersisted),
		EventsDropped:       atomic.LoadInt64(&c.eventsDropped),
		BatchesFlushed:      atomic.LoadInt64(&c.batchesFlushed),
		StorageFailures:     atomic.LoadInt64(&c.storageFailures),
		ParseErrors:         atomic.LoadInt64(&c.parseErrors),
		CircuitBreakerTrips: atomic.LoadInt64(&c.circuitBreakerTrips),
		BufferSize:          bufferSize,
		LastFlushTime:       lastFlush,
		LastError:           lastErr,
		CircuitBreakerState: c.breaker.State().String(),
	}
}
