// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/evertrail/evertrail/internal/audit"
)

// mockSource delivers messages through in-memory channels, one per topic.
type mockSource struct {
	mu    sync.Mutex
	chans map[string]chan *message.Message
}

func newMockSource() *mockSource {
	return &mockSource{chans: make(map[string]chan *message.Message)}
}

func (s *mockSource) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan *message.Message, 128)
	s.chans[topic] = ch
	return ch, nil
}

func (s *mockSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.chans {
		close(ch)
	}
	s.chans = make(map[string]chan *message.Message)
	return nil
}

func (s *mockSource) publish(t *testing.T, topic string, payload []byte) {
	t.Helper()
	s.mu.Lock()
	ch, ok := s.chans[topic]
	s.mu.Unlock()
	if !ok {
		t.Fatalf("no subscription for topic %s", topic)
	}
	ch <- message.NewMessage(watermill.NewUUID(), payload)
}

// mockRecorder counts writes and signals each batch flush. Set fail to
// make every write error.
type mockRecorder struct {
	mu      sync.Mutex
	fail    bool
	events  []*audit.RawEvent
	flushes chan int
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{flushes: make(chan int, 16)}
}

func (r *mockRecorder) setFail(fail bool) {
	r.mu.Lock()
	r.fail = fail
	r.mu.Unlock()
}

func (r *mockRecorder) Create(ctx context.Context, raw *audit.RawEvent) (*audit.Event, error) {
	stored, err := r.CreateBatch(ctx, []*audit.RawEvent{raw})
	if err != nil {
		return nil, err
	}
	return stored[0], nil
}

func (r *mockRecorder) CreateBatch(ctx context.Context, raws []*audit.RawEvent) ([]*audit.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return nil, errors.New("trail unavailable")
	}
	stored := make([]*audit.Event, len(raws))
	for i, raw := range raws {
		r.events = append(r.events, raw)
		stored[i] = &audit.Event{ID: uuid.New().String(), EventType: raw.EventType, Tier: audit.TierHot}
	}
	select {
	case r.flushes <- len(raws):
	default:
	}
	return stored, nil
}

func (r *mockRecorder) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func waitForFlush(t *testing.T, r *mockRecorder, timeout time.Duration) int {
	t.Helper()
	select {
	case n := <-r.flushes:
		return n
	case <-time.After(timeout):
		t.Fatal("timed out waiting for flush")
		return 0
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Topics = []string{"task.>"}
	cfg.BatchSize = 5
	cfg.FlushInterval = time.Hour // interval trigger disabled unless a test wants it
	cfg.FlushTimeout = 5 * time.Second
	return cfg
}

func TestCollectorFlushesFullBatch(t *testing.T) {
	source := newMockSource()
	recorder := newMockRecorder()
	col, err := New(testConfig(), source, recorder)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := col.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer col.Close()

	for i := 0; i < 5; i++ {
		source.publish(t, "task.>", []byte(fmt.Sprintf(`{"event_type":"task.created","actor":{"id":"user-%d"}}`, i)))
	}

	if n := waitForFlush(t, recorder, 2*time.Second); n != 5 {
		t.Errorf("flushed %d events, want 5", n)
	}
	// Drains the in-flight size-triggered flush so statistics are settled.
	if err := col.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	stats := col.Stats()
	if stats.EventsCollected != 5 {
		t.Errorf("EventsCollected = %d, want 5", stats.EventsCollected)
	}
	if stats.EventsPersisted != 5 {
		t.Errorf("EventsPersisted = %d, want 5", stats.EventsPersisted)
	}
	if stats.BatchesFlushed != 1 {
		t.Errorf("BatchesFlushed = %d, want 1", stats.BatchesFlushed)
	}
}

func TestCollectorFlushesDefaultBatchSize(t *testing.T) {
	source := newMockSource()
	recorder := newMockRecorder()
	cfg := testConfig()
	cfg.BatchSize = DefaultConfig().BatchSize
	col, err := New(cfg, source, recorder)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := col.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer col.Close()

	for i := 0; i < 50; i++ {
		source.publish(t, "task.>", []byte(fmt.Sprintf(`{"event_type":"task.created","actor":{"id":"user-%d"}}`, i)))
	}

	if n := waitForFlush(t, recorder, 2*time.Second); n != 50 {
		t.Errorf("flushed %d events, want 50", n)
	}
	// Drains the in-flight size-triggered flush so statistics are settled.
	if err := col.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	stats := col.Stats()
	if stats.EventsCollected != 50 {
		t.Errorf("EventsCollected = %d, want 50", stats.EventsCollected)
	}
	if stats.EventsPersisted != 50 {
		t.Errorf("EventsPersisted = %d, want 50", stats.EventsPersisted)
	}
	if stats.BatchesFlushed != 1 {
		t.Errorf("BatchesFlushed = %d, want 1", stats.BatchesFlushed)
	}
	if stats.BufferSize != 0 {
		t.Errorf("BufferSize = %d, want 0", stats.BufferSize)
	}
}

func TestCollectorFlushesPartialBatchOnInterval(t *testing.T) {
	source := newMockSource()
	recorder := newMockRecorder()
	cfg := testConfig()
	cfg.BatchSize = 50
	cfg.FlushInterval = 50 * time.Millisecond
	col, err := New(cfg, source, recorder)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := col.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer col.Close()

	source.publish(t, "task.>", []byte(`{"event_type":"task.created"}`))
	source.publish(t, "task.>", []byte(`{"event_type":"task.updated"}`))

	if n := waitForFlush(t, recorder, 2*time.Second); n != 2 {
		t.Errorf("flushed %d events, want 2", n)
	}
	if stats := col.Stats(); stats.BufferSize != 0 {
		t.Errorf("BufferSize = %d, want 0 after interval flush", stats.BufferSize)
	}
}

func TestCollectorCountsParseErrors(t *testing.T) {
	source := newMockSource()
	recorder := newMockRecorder()
	col, err := New(testConfig(), source, recorder)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := col.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	source.publish(t, "task.>", []byte(`{not json`))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if col.Stats().ParseErrors == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	stats := col.Stats()
	if stats.ParseErrors != 1 {
		t.Errorf("ParseErrors = %d, want 1", stats.ParseErrors)
	}
	if stats.EventsCollected != 0 {
		t.Errorf("EventsCollected = %d, want 0", stats.EventsCollected)
	}
	if err := col.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestCollectorBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	recorder := newMockRecorder()
	recorder.setFail(true)
	cfg := testConfig()
	cfg.BreakerMaxFailures = 3
	col, err := New(cfg, newMockSource(), recorder)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	raw := &audit.RawEvent{EventType: "task.created"}

	for i := 0; i < 3; i++ {
		if _, err := col.RecordAuditEvent(ctx, raw); err == nil {
			t.Fatalf("RecordAuditEvent %d: expected storage error", i)
		}
	}

	stats := col.Stats()
	if stats.CircuitBreakerState != "open" {
		t.Fatalf("breaker state = %s, want open", stats.CircuitBreakerState)
	}
	if stats.StorageFailures != 3 {
		t.Errorf("StorageFailures = %d, want 3", stats.StorageFailures)
	}
	if stats.CircuitBreakerTrips != 1 {
		t.Errorf("CircuitBreakerTrips = %d, want 1", stats.CircuitBreakerTrips)
	}

	// With the breaker open the recorder is never called.
	before := recorder.eventCount()
	_, err = col.RecordAuditEvent(ctx, raw)
	if err == nil || !strings.Contains(err.Error(), "audit trail unavailable") {
		t.Errorf("err = %v, want audit trail unavailable", err)
	}
	if recorder.eventCount() != before {
		t.Error("recorder called while breaker open")
	}
	if stats := col.Stats(); stats.EventsDropped != 4 {
		t.Errorf("EventsDropped = %d, want 4", stats.EventsDropped)
	}
}

func TestCollectorBreakerDropsBufferedBatch(t *testing.T) {
	recorder := newMockRecorder()
	recorder.setFail(true)
	cfg := testConfig()
	cfg.BreakerMaxFailures = 1
	col, err := New(cfg, newMockSource(), recorder)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()

	// First failure opens the breaker.
	col.enqueue(&audit.RawEvent{EventType: "task.created"})
	col.flushWg.Wait()
	if err := col.Flush(ctx); err == nil {
		t.Fatal("expected flush failure")
	}
	if state := col.Stats().CircuitBreakerState; state != "open" {
		t.Fatalf("breaker state = %s, want open", state)
	}

	// The next buffered batch is dropped without reaching the recorder.
	before := recorder.eventCount()
	col.enqueue(&audit.RawEvent{EventType: "task.updated"})
	col.enqueue(&audit.RawEvent{EventType: "task.deleted"})
	if err := col.Flush(ctx); err == nil {
		t.Fatal("expected breaker rejection")
	}
	if recorder.eventCount() != before {
		t.Error("recorder called while breaker open")
	}

	stats := col.Stats()
	if stats.EventsDropped != 3 {
		t.Errorf("EventsDropped = %d, want 3", stats.EventsDropped)
	}
	if stats.BatchesFlushed != 0 {
		t.Errorf("BatchesFlushed = %d, want 0", stats.BatchesFlushed)
	}
	if stats.BufferSize != 0 {
		t.Errorf("BufferSize = %d, want 0 after dropped batch", stats.BufferSize)
	}
}

func TestCollectorBreakerRecoversAfterTimeout(t *testing.T) {
	recorder := newMockRecorder()
	recorder.setFail(true)
	cfg := testConfig()
	cfg.BreakerMaxFailures = 1
	cfg.BreakerResetTimeout = 50 * time.Millisecond
	col, err := New(cfg, newMockSource(), recorder)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	raw := &audit.RawEvent{EventType: "task.created"}

	if _, err := col.RecordAuditEvent(ctx, raw); err == nil {
		t.Fatal("expected storage error")
	}
	if state := col.Stats().CircuitBreakerState; state != "open" {
		t.Fatalf("breaker state = %s, want open", state)
	}

	// The reset timeout alone moves the breaker out of open, before any
	// write goes through it.
	recorder.setFail(false)
	time.Sleep(80 * time.Millisecond)
	if state := col.Stats().CircuitBreakerState; state != "half-open" {
		t.Fatalf("breaker state after reset timeout = %s, want half-open", state)
	}

	// A successful half-open write closes the breaker again.
	ev, err := col.RecordAuditEvent(ctx, raw)
	if err != nil {
		t.Fatalf("RecordAuditEvent after recovery: %v", err)
	}
	if ev == nil || ev.ID == "" {
		t.Error("expected stored event after recovery")
	}
	if state := col.Stats().CircuitBreakerState; state != "closed" {
		t.Errorf("breaker state = %s, want closed", state)
	}
}

func TestRecordAuditEventAfterClose(t *testing.T) {
	col, err := New(testConfig(), newMockSource(), newMockRecorder())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := col.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := col.RecordAuditEvent(context.Background(), &audit.RawEvent{EventType: "task.created"}); err == nil {
		t.Error("expected error on closed collector")
	}
}

func TestCollectorCloseFlushesPending(t *testing.T) {
	source := newMockSource()
	recorder := newMockRecorder()
	col, err := New(testConfig(), source, recorder)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := col.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	source.publish(t, "task.>", []byte(`{"event_type":"task.created"}`))
	source.publish(t, "task.>", []byte(`{"event_type":"task.updated"}`))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && col.Stats().EventsCollected < 2 {
		time.Sleep(10 * time.Millisecond)
	}

	if err := col.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := recorder.eventCount(); got != 2 {
		t.Errorf("persisted %d events on close, want 2", got)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no topics", func(c *Config) { c.Topics = nil }},
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }},
		{"zero flush interval", func(c *Config) { c.FlushInterval = 0 }},
		{"zero flush timeout", func(c *Config) { c.FlushTimeout = 0 }},
		{"zero breaker failures", func(c *Config) { c.BreakerMaxFailures = 0 }},
		{"zero breaker reset", func(c *Config) { c.BreakerResetTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}
