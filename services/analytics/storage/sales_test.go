// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnilytics/omnilytics/services/analytics/datatypes"
)

func testStore(t *testing.T) *SalesStore {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSalesStore(db)
}

func saleRow(txCode, date string) *datatypes.SaleRow {
	return &datatypes.SaleRow{
		TransactionCode:         txCode,
		TransactionDate:         date,
		ProductID:               "prod-1",
		OfferID:                 "offer-1",
		Currency:                "BRL",
		PurchaseValueWithoutTax: 10,
		BuyerEmail:              "a@x.com",
		ProjectID:               "proj-1",
		UserID:                  "user-1",
	}
}

func TestUpsert_Idempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	rows := []*datatypes.SaleRow{saleRow("tx-1", "2024-01-01"), saleRow("tx-2", "2024-01-02")}
	n, err := store.Upsert(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Same export again: same keys, no growth.
	_, err = store.Upsert(ctx, rows)
	require.NoError(t, err)

	count, err := store.Count(ctx, "proj-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestUpsert_InBatchDedup(t *testing.T) {
	store := testStore(t)

	a := saleRow("tx-1", "2024-01-01")
	b := saleRow("tx-1", "2024-01-01")
	b.PurchaseValueWithoutTax = 99

	n, err := store.Upsert(context.Background(), []*datatypes.SaleRow{a, b})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// First occurrence wins within a batch.
	rows, err := store.FetchAll(context.Background(), "proj-1", "user-1", RowFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 10.0, rows[0].PurchaseValueWithoutTax, 1e-9)
}

func TestUpsert_PreservesCustomerHash(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	tagged := saleRow("tx-1", "2024-01-01")
	tagged.CustomerHash = "cluster-abc"
	_, err := store.Upsert(ctx, []*datatypes.SaleRow{tagged})
	require.NoError(t, err)

	// Re-import without the tag must not erase it.
	_, err = store.Upsert(ctx, []*datatypes.SaleRow{saleRow("tx-1", "2024-01-01")})
	require.NoError(t, err)

	rows, err := store.FetchAll(ctx, "proj-1", "user-1", RowFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "cluster-abc", rows[0].CustomerHash)
}

func TestFetchAll_AscendingDateOrder(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, []*datatypes.SaleRow{
		saleRow("tx-3", "2024-03-01"),
		saleRow("tx-1", "2024-01-01"),
		saleRow("tx-2", "2024-02-01"),
	})
	require.NoError(t, err)

	rows, err := store.FetchAll(ctx, "proj-1", "user-1", RowFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "2024-01-01", rows[0].TransactionDate)
	assert.Equal(t, "2024-02-01", rows[1].TransactionDate)
	assert.Equal(t, "2024-03-01", rows[2].TransactionDate)
}

func TestFetchAll_ScopeIsolation(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	other := saleRow("tx-9", "2024-01-01")
	other.ProjectID = "proj-2"
	_, err := store.Upsert(ctx, []*datatypes.SaleRow{saleRow("tx-1", "2024-01-01"), other})
	require.NoError(t, err)

	rows, err := store.FetchAll(ctx, "proj-1", "user-1", RowFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestFetchAll_Filters(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	jan := saleRow("tx-1", "2024-01-15")
	feb := saleRow("tx-2", "2024-02-15")
	usd := saleRow("tx-3", "2024-01-20")
	usd.Currency = "USD"
	src := saleRow("tx-4", "2024-01-25")
	src.SrcCode = "src-a"
	tagged := saleRow("tx-5", "2024-01-26")
	tagged.CustomerHash = "cluster-1"

	_, err := store.Upsert(ctx, []*datatypes.SaleRow{jan, feb, usd, src, tagged})
	require.NoError(t, err)

	t.Run("date range", func(t *testing.T) {
		rows, err := store.FetchAll(ctx, "proj-1", "user-1", RowFilter{
			StartDate: "2024-02-01", EndDate: "2024-02-28",
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "tx-2", rows[0].TransactionCode)
	})

	t.Run("currency", func(t *testing.T) {
		rows, err := store.FetchAll(ctx, "proj-1", "user-1", RowFilter{Currency: "USD"})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "tx-3", rows[0].TransactionCode)
	})

	t.Run("currency sentinel disables filter", func(t *testing.T) {
		rows, err := store.FetchAll(ctx, "proj-1", "user-1", RowFilter{Currency: datatypes.CurrencyAny})
		require.NoError(t, err)
		assert.Len(t, rows, 5)
	})

	t.Run("src codes", func(t *testing.T) {
		rows, err := store.FetchAll(ctx, "proj-1", "user-1", RowFilter{SourceSrcs: []string{"src-a"}})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "tx-4", rows[0].TransactionCode)
	})

	t.Run("cluster ids", func(t *testing.T) {
		rows, err := store.FetchAll(ctx, "proj-1", "user-1", RowFilter{ClusterIDs: []string{"cluster-1"}})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "tx-5", rows[0].TransactionCode)
	})
}

func TestCount(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	count, err := store.Count(ctx, "proj-1", "user-1")
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = store.Upsert(ctx, []*datatypes.SaleRow{
		saleRow("tx-1", "2024-01-01"),
		saleRow("tx-2", "2024-01-02"),
	})
	require.NoError(t, err)

	count, err = store.Count(ctx, "proj-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
