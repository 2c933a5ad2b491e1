// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	_ "github.com/duckdb/duckdb-go/v2"
)

// DuckDBConfig holds connection settings for the trail database.
type DuckDBConfig struct {
	// Path is the database file path. ":memory:" opens an in-memory
	// database.
	Path string

	// MaxMemory bounds DuckDB's memory usage, e.g. "2GB".
	MaxMemory string

	// Threads is the DuckDB worker thread count. Zero uses NumCPU.
	Threads int
}

// OpenDuckDB opens the trail database with tuning options applied.
// The parent directory is created if missing.
func OpenDuckDB(cfg DuckDBConfig) (*sql.DB, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "2GB"
	}

	if cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dir, err)
			}
		}
	}

	// Auto-install/auto-load is disabled to prevent hangs in restricted
	// network environments.
	connStr := fmt.Sprintf(
		"%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, threads, maxMemory)

	db, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open trail database: %w", err)
	}

	// DuckDB is embedded; a small pool avoids write contention.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	return db, nil
}
