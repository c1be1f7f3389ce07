// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnilytics/omnilytics/services/analytics/datatypes"
	"github.com/omnilytics/omnilytics/services/analytics/storage"
)

func testCoordinator(t *testing.T) (*Coordinator, *storage.SalesStore) {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := storage.NewSalesStore(db)
	return NewCoordinator(db, store, nil), store
}

func uploadRows(t *testing.T, store *storage.SalesStore, n int) {
	t.Helper()
	rows := make([]*datatypes.SaleRow, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, &datatypes.SaleRow{
			TransactionCode:         "tx-" + string(rune('a'+i)),
			TransactionDate:         "2024-01-01",
			ProductID:               "prod-1",
			OfferID:                 "offer-1",
			ProjectID:               "proj-1",
			UserID:                  "user-1",
			PurchaseValueWithoutTax: 10,
		})
	}
	_, err := store.Upsert(context.Background(), rows)
	require.NoError(t, err)
}

func staticResult(result string, calls *atomic.Int32) ComputeFunc {
	return func(ctx context.Context) (json.RawMessage, bool, error) {
		calls.Add(1)
		return json.RawMessage(result), true, nil
	}
}

func TestDo_MissThenHit(t *testing.T) {
	c, store := testCoordinator(t)
	ctx := context.Background()
	uploadRows(t, store, 2)

	var calls atomic.Int32
	compute := staticResult(`{"buyers":2}`, &calls)

	first, err := c.Do(ctx, "proj-1", "user-1", "key-1", compute)
	require.NoError(t, err)
	assert.JSONEq(t, `{"buyers":2}`, string(first))
	assert.Equal(t, int32(1), calls.Load())

	// Unchanged row count: served from cache.
	second, err := c.Do(ctx, "proj-1", "user-1", "key-1", compute)
	require.NoError(t, err)
	assert.JSONEq(t, `{"buyers":2}`, string(second))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_StaleAfterUpload(t *testing.T) {
	c, store := testCoordinator(t)
	ctx := context.Background()
	uploadRows(t, store, 1)

	var calls atomic.Int32
	_, err := c.Do(ctx, "proj-1", "user-1", "key-1", staticResult(`{"v":1}`, &calls))
	require.NoError(t, err)

	// New rows change the count snapshot and invalidate the entry.
	uploadRows(t, store, 3)

	result, err := c.Do(ctx, "proj-1", "user-1", "key-1", staticResult(`{"v":2}`, &calls))
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(result))
	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_UncacheableResultNotStored(t *testing.T) {
	c, store := testCoordinator(t)
	ctx := context.Background()
	uploadRows(t, store, 1)

	var calls atomic.Int32
	compute := func(ctx context.Context) (json.RawMessage, bool, error) {
		calls.Add(1)
		return json.RawMessage(`[]`), false, nil
	}

	for i := 0; i < 2; i++ {
		result, err := c.Do(ctx, "proj-1", "user-1", "key-1", compute)
		require.NoError(t, err)
		assert.JSONEq(t, `[]`, string(result))
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_ComputeErrorPropagates(t *testing.T) {
	c, store := testCoordinator(t)
	uploadRows(t, store, 1)

	wantErr := errors.New("store unavailable")
	_, err := c.Do(context.Background(), "proj-1", "user-1", "key-1",
		func(ctx context.Context) (json.RawMessage, bool, error) {
			return nil, false, wantErr
		})
	assert.ErrorIs(t, err, wantErr)
}

func TestDo_CoalescesConcurrentRequests(t *testing.T) {
	c, store := testCoordinator(t)
	ctx := context.Background()
	uploadRows(t, store, 1)

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context) (json.RawMessage, bool, error) {
		calls.Add(1)
		close(started)
		<-release
		return json.RawMessage(`{"v":1}`), true, nil
	}

	var wg sync.WaitGroup
	results := make([]json.RawMessage, 5)

	wg.Add(1)
	go func() {
		defer wg.Done()
		r, err := c.Do(ctx, "proj-1", "user-1", "key-1", compute)
		require.NoError(t, err)
		results[0] = r
	}()

	// Wait for the first computation to be in flight, then pile on.
	<-started
	for i := 1; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := c.Do(ctx, "proj-1", "user-1", "key-1", compute)
			require.NoError(t, err)
			results[i] = r
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.JSONEq(t, `{"v":1}`, string(r))
	}
}

func TestFlush(t *testing.T) {
	c, store := testCoordinator(t)
	ctx := context.Background()
	uploadRows(t, store, 1)

	var calls atomic.Int32
	compute := staticResult(`{"v":1}`, &calls)

	_, err := c.Do(ctx, "proj-1", "user-1", "key-1", compute)
	require.NoError(t, err)
	require.NoError(t, c.Flush())

	_, err = c.Do(ctx, "proj-1", "user-1", "key-1", compute)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
