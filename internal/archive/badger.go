// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

// Package archive implements the COLD-tier archival target of the audit
// trail as a BadgerDB key-value store. Records migrated here have left
// the hot/warm store; entries expire after the cold retention window.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"

	"github.com/evertrail/evertrail/internal/audit"
	"github.com/evertrail/evertrail/internal/logging"
)

const keyPrefix = "cold:"

// Config holds cold archive configuration.
type Config struct {
	// Path is the BadgerDB directory.
	Path string

	// TTL is the retention of archived records. Entries are removed by
	// Badger once expired. Default: audit.RetentionCold (7 years).
	TTL time.Duration

	// SyncWrites forces fsync on every write. Slower but durable.
	SyncWrites bool
}

// ColdArchive is a BadgerDB-backed audit.Archiver.
type ColdArchive struct {
	db  *badger.DB
	ttl time.Duration
}

// Open opens (or creates) the cold archive at cfg.Path.
func Open(cfg Config) (*ColdArchive, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("archive path required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = audit.RetentionCold
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.Compression = options.Snappy
	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cold archive: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Dur("ttl", ttl).
		Msg("Cold archive opened")

	return &ColdArchive{db: db, ttl: ttl}, nil
}

// Archive writes an event record with the cold retention TTL.
func (a *ColdArchive) Archive(ctx context.Context, event *audit.Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event for archive: %w", err)
	}

	err = a.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(keyPrefix+event.ID), data).WithTTL(a.ttl)
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("archive event %s: %w", event.ID, err)
	}
	return nil
}

// Retrieve reads an archived event by ID. Returns audit.ErrNotFound if
// the record is absent or has expired.
func (a *ColdArchive) Retrieve(ctx context.Context, id string) (*audit.Event, error) {
	var event audit.Event

	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &event)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, audit.ErrNotFound
		}
		return nil, fmt.Errorf("retrieve archived event %s: %w", id, err)
	}
	return &event, nil
}

// RunGC runs one value-log garbage collection cycle. Safe to call
// periodically; no-ops when there is nothing to rewrite.
func (a *ColdArchive) RunGC() error {
	err := a.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Close closes the archive database.
func (a *ColdArchive) Close() error {
	return a.db.Close()
}
