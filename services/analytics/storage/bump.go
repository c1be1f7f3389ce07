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
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/omnilytics/omnilytics/services/analytics/datatypes"
)

const bumpPrefix = "bi/"

// BumpIndexStore persists the order-bump index: per-scope markers for
// products whose sales are bump children. Entries are unique per
// (project, user, product); re-adding replaces the stored offer list.
type BumpIndexStore struct {
	db  *DB
	now func() time.Time
}

// NewBumpIndexStore wraps db with the bump-index access layer.
func NewBumpIndexStore(db *DB) *BumpIndexStore {
	return &BumpIndexStore{db: db, now: time.Now}
}

func bumpKey(projectID, userID, productID string) []byte {
	return []byte(bumpPrefix + projectID + "/" + userID + "/" + productID)
}

func bumpScopePrefix(projectID, userID string) []byte {
	return []byte(bumpPrefix + projectID + "/" + userID + "/")
}

// List returns every bump-index entry in the project/user scope, in
// product-id order.
func (s *BumpIndexStore) List(ctx context.Context, projectID, userID string) ([]*datatypes.BumpIndexEntry, error) {
	prefix := bumpScopePrefix(projectID, userID)
	entries := []*datatypes.BumpIndexEntry{}

	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var entry datatypes.BumpIndexEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return fmt.Errorf("decode bump-index entry %s: %w", it.Item().Key(), err)
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Put upserts the entry under its (project, user, product) key.
func (s *BumpIndexStore) Put(ctx context.Context, entry *datatypes.BumpIndexEntry) error {
	entry.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal bump-index entry %s: %w", entry.ProductID, err)
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(bumpKey(entry.ProjectID, entry.UserID, entry.ProductID), data)
	})
}

// Delete removes the entry. Deleting an absent entry is not an error.
func (s *BumpIndexStore) Delete(ctx context.Context, projectID, userID, productID string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete(bumpKey(projectID, userID, productID))
	})
}
