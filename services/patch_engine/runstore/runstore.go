// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runstore persists finished workflow runs in an embedded
// BadgerDB so the attempt history outlives the process that produced
// it.
//
// Runs are stored as JSON under `run:<id>` with a secondary
// `idx:<started_at>:<id>` key used to list runs newest-first. The
// store holds complete WorkflowRun records; it never mutates them.
package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/patchsmith/services/patch_engine/workflow"
)

var (
	// ErrRunNotFound indicates no run exists for the given ID.
	ErrRunNotFound = errors.New("run not found")

	// ErrNilRun indicates a nil run was passed to Put.
	ErrNilRun = errors.New("run must not be nil")
)

const (
	runKeyPrefix = "run:"
	idxKeyPrefix = "idx:"

	// DefaultGCInterval is how often value log garbage collection runs.
	DefaultGCInterval = 5 * time.Minute

	// DefaultGCDiscardRatio is the garbage fraction that triggers GC.
	DefaultGCDiscardRatio = 0.5
)

// Config holds configuration for a run store.
type Config struct {
	// Path is the directory for database files. Required unless
	// InMemory is true.
	Path string

	// InMemory enables in-memory mode with no disk persistence.
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// GCInterval is how often to run value log garbage collection.
	// Zero disables GC.
	GCInterval time.Duration

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// DefaultConfig returns the production configuration for a path.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
		GCInterval: DefaultGCInterval,
	}
}

// InMemoryConfig returns a configuration for testing. Data is lost
// when the store closes.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store persists workflow runs.
//
// Thread Safety: Safe for concurrent use; BadgerDB transactions
// provide isolation.
type Store struct {
	db     *badger.DB
	stopGC chan struct{}
	doneGC chan struct{}
	logger *slog.Logger
}

// Open creates and opens a run store with the given configuration.
//
// Description:
//
//	Opens a BadgerDB at the configured path, or in memory if InMemory
//	is true. Creates the directory if it doesn't exist and starts the
//	GC loop when an interval is configured.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*Store - The opened store. Caller must call Close() when done.
//	error - Non-nil if the path is invalid or the database cannot open.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}

	s := &Store{db: db, logger: cfg.Logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.doneGC = make(chan struct{})
		go s.gcLoop(cfg.GCInterval)
	}
	return s, nil
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.doneGC
		s.stopGC = nil
	}
	return s.db.Close()
}

func (s *Store) gcLoop(interval time.Duration) {
	defer close(s.doneGC)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(DefaultGCDiscardRatio)
			// ErrNoRewrite means nothing needed collecting.
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && s.logger != nil {
				s.logger.Warn("run store value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

// Put persists a run record, replacing any previous version.
//
// Description:
//
//	Serializes the run to JSON and writes both the record and its
//	list-index entry in one transaction.
//
// Inputs:
//
//	ctx - Context for cancellation (checked before the transaction)
//	run - The run to persist. Must have a non-empty ID.
//
// Outputs:
//
//	error - Non-nil if serialization or the write fails.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) Put(ctx context.Context, run *workflow.WorkflowRun) error {
	if run == nil || run.ID == "" {
		return ErrNilRun
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.ID, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(runKey(run.ID)), data); err != nil {
			return err
		}
		// The index value is just the run ID; the record is read
		// through the primary key.
		return txn.Set([]byte(idxKey(run.StartedAt, run.ID)), []byte(run.ID))
	})
}

// Get retrieves a run by ID.
//
// Outputs:
//
//	*workflow.WorkflowRun - The stored run.
//	error - ErrRunNotFound if no run exists for the ID.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) Get(ctx context.Context, id string) (*workflow.WorkflowRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	var run workflow.WorkflowRun
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(runKey(id)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &run)
		})
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// List returns stored runs newest-first, up to limit. A limit of zero
// or less returns all runs.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) List(ctx context.Context, limit int) ([]*workflow.WorkflowRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek key past the whole prefix.
		seek := append([]byte(idxKeyPrefix), 0xff)
		for it.Seek(seek); it.ValidForPrefix([]byte(idxKeyPrefix)); it.Next() {
			if limit > 0 && len(ids) >= limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				ids = append(ids, string(val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	runs := make([]*workflow.WorkflowRun, 0, len(ids))
	for _, id := range ids {
		run, err := s.Get(ctx, id)
		if err != nil {
			// An index entry without a record means a partially
			// deleted run; skip it rather than fail the listing.
			if errors.Is(err, ErrRunNotFound) {
				continue
			}
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// Delete removes a run and its index entry. Deleting a missing run is
// not an error.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	run, err := s.Get(ctx, id)
	if errors.Is(err, ErrRunNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(runKey(id))); err != nil {
			return err
		}
		return txn.Delete([]byte(idxKey(run.StartedAt, id)))
	})
}

// Count returns the number of stored runs.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context cancelled: %w", err)
	}

	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(runKeyPrefix)); it.ValidForPrefix([]byte(runKeyPrefix)); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func runKey(id string) string {
	return runKeyPrefix + id
}

// idxKey orders runs by start time; the ID suffix keeps keys unique
// when two runs start in the same nanosecond.
func idxKey(startedAt time.Time, id string) string {
	var b strings.Builder
	b.WriteString(idxKeyPrefix)
	b.WriteString(fmt.Sprintf("%020d", startedAt.UnixNano()))
	b.WriteString(":")
	b.WriteString(id)
	return b.String()
}
