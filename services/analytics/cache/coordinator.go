// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache implements the report result cache: content-addressed
// entries validated against a row-count snapshot, with in-flight
// request coalescing so concurrent identical reports compute once.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/singleflight"

	"github.com/omnilytics/omnilytics/services/analytics/observability"
	"github.com/omnilytics/omnilytics/services/analytics/storage"
)

const cachePrefix = "rc/"

// DefaultTTL is how long a cached result may live even when it never
// goes stale by row count.
const DefaultTTL = 30 * 24 * time.Hour

// RowCounter reports the current number of stored rows in a
// project/user scope. Satisfied by storage.SalesStore.
type RowCounter interface {
	Count(ctx context.Context, projectID, userID string) (int, error)
}

// entry is the stored cache value. RowCount is the scope's row count
// at compute time; a different count at read time invalidates the
// entry.
type entry struct {
	RowCount int             `json:"rowCount"`
	StoredAt time.Time       `json:"storedAt"`
	Result   json.RawMessage `json:"result"`
}

// Coordinator serves report results through the cache. Every cache
// failure degrades to a recompute; a broken cache never breaks a
// report.
type Coordinator struct {
	db      *storage.DB
	counter RowCounter
	group   singleflight.Group
	ttl     time.Duration
	logger  *slog.Logger
}

// NewCoordinator creates a coordinator over the shared database.
// A nil logger disables cache logging.
func NewCoordinator(db *storage.DB, counter RowCounter, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Coordinator{db: db, counter: counter, ttl: DefaultTTL, logger: logger}
}

// WithTTL overrides the entry TTL. Non-positive values are ignored.
func (c *Coordinator) WithTTL(ttl time.Duration) *Coordinator {
	if ttl > 0 {
		c.ttl = ttl
	}
	return c
}

// ComputeFunc produces a report result. cacheable is false when the
// result must not be stored (e.g. it is empty because no rows matched
// and an upload may be in flight).
type ComputeFunc func(ctx context.Context) (result json.RawMessage, cacheable bool, err error)

// Do returns the cached result for key when it is still fresh,
// otherwise computes, stores and returns a new one.
//
// Description:
//
//	Requests for the same key coalesce: one computation runs, every
//	waiter receives its result. Freshness is a row-count snapshot
//	comparison against the project/user scope; any difference (upload,
//	re-import) invalidates the entry. Cache read or probe errors are
//	logged and treated as a miss.
//
// Thread Safety: safe for concurrent use.
func (c *Coordinator) Do(ctx context.Context, projectID, userID, key string, compute ComputeFunc) (json.RawMessage, error) {
	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		return c.lookupOrCompute(ctx, projectID, userID, key, compute)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		observability.CacheOutcomes.WithLabelValues("coalesced").Inc()
	}
	return v.(json.RawMessage), nil
}

func (c *Coordinator) lookupOrCompute(ctx context.Context, projectID, userID, key string, compute ComputeFunc) (json.RawMessage, error) {
	count, countErr := c.counter.Count(ctx, projectID, userID)
	if countErr != nil {
		observability.CacheOutcomes.WithLabelValues("error").Inc()
		c.logger.Warn("cache freshness probe failed, bypassing cache",
			slog.String("error", countErr.Error()))
	} else {
		cached, err := c.read(ctx, key)
		switch {
		case err != nil:
			observability.CacheOutcomes.WithLabelValues("error").Inc()
			c.logger.Warn("cache read failed, treating as miss",
				slog.String("error", err.Error()))
		case cached == nil:
			observability.CacheOutcomes.WithLabelValues("miss").Inc()
		case cached.RowCount != count:
			observability.CacheOutcomes.WithLabelValues("stale").Inc()
		default:
			observability.CacheOutcomes.WithLabelValues("hit").Inc()
			return cached.Result, nil
		}
	}

	result, cacheable, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	if cacheable && countErr == nil {
		if err := c.write(ctx, key, entry{RowCount: count, StoredAt: time.Now().UTC(), Result: result}); err != nil {
			c.logger.Warn("cache write failed", slog.String("error", err.Error()))
		}
	}
	return result, nil
}

// read returns the entry for key, or nil on a clean miss.
func (c *Coordinator) read(ctx context.Context, key string) (*entry, error) {
	var e *entry
	err := c.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cachePrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decoded entry
			if err := json.Unmarshal(val, &decoded); err != nil {
				return fmt.Errorf("decode cache entry: %w", err)
			}
			e = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (c *Coordinator) write(ctx context.Context, key string, e entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	return c.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(cachePrefix+key), data).WithTTL(c.ttl))
	})
}

// Flush drops every cached result.
func (c *Coordinator) Flush() error {
	return c.db.DropPrefix([]byte(cachePrefix))
}
