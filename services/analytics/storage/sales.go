// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/omnilytics/omnilytics/services/analytics/datatypes"
)

const (
	salesPrefix = "tx/"

	// upsertBatchSize bounds rows per transaction to stay under
	// Badger's transaction size limit.
	upsertBatchSize = 1000
)

// SalesStore persists raw sale rows keyed by project, user and
// transaction identity. Rows upsert idempotently: re-importing the
// same export rewrites the same keys.
type SalesStore struct {
	db *DB
}

// NewSalesStore wraps db with the sales row access layer.
func NewSalesStore(db *DB) *SalesStore {
	return &SalesStore{db: db}
}

// rowKey builds the storage key for a row. The date segment sits
// before the transaction identity so prefix iteration returns rows in
// ascending date order.
func rowKey(r *datatypes.SaleRow) []byte {
	return []byte(salesPrefix + r.ProjectID + "/" + r.UserID + "/" + r.TransactionDate +
		"/" + r.TransactionCode + "/" + r.ProductID + "/" + r.OfferID)
}

func scopePrefix(projectID, userID string) []byte {
	return []byte(salesPrefix + projectID + "/" + userID + "/")
}

// Upsert writes the given rows, deduplicating within the batch by
// idempotency key (first occurrence wins) and preserving a previously
// stored CustomerHash when the incoming row carries none.
//
// Outputs:
//   - int: number of distinct rows written after in-batch dedup.
//   - error: non-nil on storage failure; the batch may be partially
//     applied across chunk boundaries.
func (s *SalesStore) Upsert(ctx context.Context, rows []*datatypes.SaleRow) (int, error) {
	deduped := make([]*datatypes.SaleRow, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		key := r.IdempotencyKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, r)
	}

	for start := 0; start < len(deduped); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(deduped) {
			end = len(deduped)
		}
		chunk := deduped[start:end]

		err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
			for _, r := range chunk {
				key := rowKey(r)
				if r.CustomerHash == "" {
					if prev, err := readRow(txn, key); err == nil {
						r.CustomerHash = prev.CustomerHash
					}
				}
				data, err := json.Marshal(r)
				if err != nil {
					return fmt.Errorf("marshal sale row %s: %w", r.TransactionCode, err)
				}
				if err := txn.Set(key, data); err != nil {
					return fmt.Errorf("write sale row %s: %w", r.TransactionCode, err)
				}
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return len(deduped), nil
}

func readRow(txn *badger.Txn, key []byte) (*datatypes.SaleRow, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	var row datatypes.SaleRow
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &row)
	}); err != nil {
		return nil, err
	}
	return &row, nil
}

// RowFilter narrows a row scan. Zero-valued fields are inactive.
type RowFilter struct {
	// StartDate and EndDate bound the transaction date, inclusive,
	// in DateLayout format. Rows without a parseable date are
	// excluded when either bound is set.
	StartDate string
	EndDate   string

	// Currency restricts rows to one currency code. The CurrencyAny
	// sentinel (and the empty string) disable the restriction.
	Currency string

	// SourceSrcs and SourceScks restrict rows to the listed tracking
	// codes.
	SourceSrcs []string
	SourceScks []string

	// ClusterIDs restricts rows to sales tagged with one of the given
	// customer clusters.
	ClusterIDs []string
}

func (f *RowFilter) match(r *datatypes.SaleRow) bool {
	if f.StartDate != "" || f.EndDate != "" {
		if _, ok := r.Date(); !ok {
			return false
		}
		if f.StartDate != "" && r.TransactionDate < f.StartDate {
			return false
		}
		if f.EndDate != "" && r.TransactionDate > f.EndDate {
			return false
		}
	}
	if f.Currency != "" && f.Currency != datatypes.CurrencyAny && r.Currency != f.Currency {
		return false
	}
	if len(f.SourceSrcs) > 0 && !containsString(f.SourceSrcs, r.SrcCode) {
		return false
	}
	if len(f.SourceScks) > 0 && !containsString(f.SourceScks, r.SckCode) {
		return false
	}
	if len(f.ClusterIDs) > 0 && !containsString(f.ClusterIDs, r.CustomerHash) {
		return false
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// FetchAll returns every row in the project/user scope passing the
// filter, in ascending transaction-date order.
func (s *SalesStore) FetchAll(ctx context.Context, projectID, userID string, f RowFilter) ([]*datatypes.SaleRow, error) {
	if projectID == "" || userID == "" {
		return nil, errors.New("projectID and userID are required")
	}

	prefix := scopePrefix(projectID, userID)
	var rows []*datatypes.SaleRow

	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Date-first keys let a start bound become a seek target.
		seek := prefix
		if f.StartDate != "" {
			seek = []byte(string(prefix) + f.StartDate)
		}
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			var row datatypes.SaleRow
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			}); err != nil {
				return fmt.Errorf("decode sale row %s: %w", it.Item().Key(), err)
			}
			if f.match(&row) {
				rows = append(rows, &row)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// UpdateBumpIndex rewrites the OrderBumpIndex field of every stored
// row in the project/user scope matching productID, narrowed to the
// given offers when offerIDs is non-empty. Rows are rewritten in
// place; the key is unchanged.
//
// Outputs:
//   - int: number of rows rewritten.
//   - error: non-nil on storage failure; the update may be partially
//     applied across chunk boundaries.
func (s *SalesStore) UpdateBumpIndex(ctx context.Context, projectID, userID, productID string, offerIDs []string, value string) (int, error) {
	if projectID == "" || userID == "" || productID == "" {
		return 0, errors.New("projectID, userID and productID are required")
	}

	prefix := scopePrefix(projectID, userID)
	var matched []*datatypes.SaleRow

	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var row datatypes.SaleRow
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			}); err != nil {
				return fmt.Errorf("decode sale row %s: %w", it.Item().Key(), err)
			}
			if row.ProductID != productID {
				continue
			}
			if len(offerIDs) > 0 && !containsString(offerIDs, row.OfferID) {
				continue
			}
			if row.OrderBumpIndex == value {
				continue
			}
			row.OrderBumpIndex = value
			matched = append(matched, &row)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for start := 0; start < len(matched); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(matched) {
			end = len(matched)
		}
		chunk := matched[start:end]

		err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
			for _, r := range chunk {
				data, err := json.Marshal(r)
				if err != nil {
					return fmt.Errorf("marshal sale row %s: %w", r.TransactionCode, err)
				}
				if err := txn.Set(rowKey(r), data); err != nil {
					return fmt.Errorf("write sale row %s: %w", r.TransactionCode, err)
				}
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return len(matched), nil
}

// Count returns the number of stored rows in the project/user scope.
// The scan is key-only; values are never fetched.
func (s *SalesStore) Count(ctx context.Context, projectID, userID string) (int, error) {
	prefix := scopePrefix(projectID, userID)
	count := 0

	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
