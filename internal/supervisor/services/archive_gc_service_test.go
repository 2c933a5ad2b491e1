// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// countingGC records RunGC invocations and signals the first one.
type countingGC struct {
	runs  atomic.Int64
	err   error
	first chan struct{}
	once  atomic.Bool
}

func newCountingGC(err error) *countingGC {
	return &countingGC{err: err, first: make(chan struct{})}
}

func (c *countingGC) RunGC() error {
	c.runs.Add(1)
	if c.once.CompareAndSwap(false, true) {
		close(c.first)
	}
	return c.err
}

func TestArchiveGCServiceRunsOnInterval(t *testing.T) {
	gc := newCountingGC(nil)
	svc := NewArchiveGCService(gc, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	select {
	case <-gc.first:
	case <-time.After(2 * time.Second):
		t.Fatal("RunGC was not invoked")
	}
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
	if gc.runs.Load() == 0 {
		t.Error("expected at least one GC cycle")
	}
}

func TestArchiveGCServiceContinuesAfterError(t *testing.T) {
	gc := newCountingGC(errors.New("value log rewrite failed"))
	svc := NewArchiveGCService(gc, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	select {
	case <-gc.first:
	case <-time.After(2 * time.Second):
		t.Fatal("RunGC was not invoked")
	}
	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve returned %v, want context.Canceled", err)
	}
	if gc.runs.Load() < 2 {
		t.Errorf("GC runs = %d, want at least 2 despite errors", gc.runs.Load())
	}
}

func TestNewArchiveGCServiceDefaultsInterval(t *testing.T) {
	svc := NewArchiveGCService(newCountingGC(nil), 0)
	if svc.interval != 10*time.Minute {
		t.Errorf("interval = %v, want 10m default", svc.interval)
	}
	if svc.String() != "archive-gc" {
		t.Errorf("String() = %q, want archive-gc", svc.String())
	}
}
