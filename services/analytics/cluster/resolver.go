// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cluster maintains the durable identity graph: every
// normalized identity key (email, phone, document) maps to exactly one
// customer cluster id, and clusters absorb each other when a sale
// proves two of them belong to the same person.
//
// Storage layout (shared BadgerDB, see the storage package):
//
//	ck/<keyType>/<value>             -> cluster id
//	cc/<clusterId>                   -> Record (JSON)
//	cm/<clusterId>/<keyType>/<value> -> "" (membership index)
//
// The membership index exists so a merge can repoint every key of the
// losing cluster without scanning the whole key table.
package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/omnilytics/omnilytics/pkg/normalize"
	"github.com/omnilytics/omnilytics/services/analytics/storage"
)

// Key type discriminators in the ck/ and cm/ tables.
const (
	KeyEmail    = "email"
	KeyPhone    = "phone"
	KeyDocument = "document"
)

const (
	keyPrefix        = "ck/"
	recordPrefix     = "cc/"
	membershipPrefix = "cm/"
)

// ErrNoIdentity is returned when a row carries no usable identity key.
var ErrNoIdentity = errors.New("no valid identity key")

// Identity is the set of identity values observed on one sale row.
// Values are raw; the resolver normalizes them.
type Identity struct {
	Email    string
	Phone    string
	Document string
	Name     string
}

// Record is the durable per-cluster snapshot. The Last* fields hold
// the most recent non-empty value seen for each identity dimension
// and are never overwritten with an empty value. Clusters are never
// deleted; a cluster that lost a merge keeps its record with
// MergedInto set.
type Record struct {
	ClusterID    string    `json:"clusterId"`
	LastName     string    `json:"lastName,omitempty"`
	LastEmail    string    `json:"lastEmail,omitempty"`
	LastPhone    string    `json:"lastPhone,omitempty"`
	LastDocument string    `json:"lastDocument,omitempty"`
	MergedInto   string    `json:"mergedInto,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Resolver assigns cluster ids to identities and keeps the key table
// consistent across merges.
type Resolver struct {
	db  *storage.DB
	now func() time.Time
}

// NewResolver creates a resolver over the shared database.
func NewResolver(db *storage.DB) *Resolver {
	return &Resolver{db: db, now: time.Now}
}

type identityKey struct {
	keyType string
	value   string
}

func (k identityKey) storageKey() []byte {
	return []byte(keyPrefix + k.keyType + "/" + k.value)
}

func membershipKey(clusterID string, k identityKey) []byte {
	return []byte(membershipPrefix + clusterID + "/" + k.keyType + "/" + k.value)
}

func recordKey(clusterID string) []byte {
	return []byte(recordPrefix + clusterID)
}

// normalizedKeys returns the valid identity keys of id, normalized the
// same way the aggregation engine normalizes them.
func normalizedKeys(id Identity) []identityKey {
	var keys []identityKey
	if email := normalize.Email(id.Email); normalize.Valid(email) {
		keys = append(keys, identityKey{KeyEmail, email})
	}
	if phone := normalize.Phone(id.Phone); normalize.Valid(phone) {
		keys = append(keys, identityKey{KeyPhone, phone})
	}
	if doc := normalize.Document(id.Document); normalize.Valid(doc) {
		keys = append(keys, identityKey{KeyDocument, normalize.StripLeadingZeros(doc)})
	}
	return keys
}

// Resolve maps the identity to its cluster id, creating, attaching or
// merging as needed.
//
// Description:
//
//	Looks up every normalized key of the identity in the key table.
//	No hit: a new cluster is created and all keys attach to it. One
//	distinct cluster: missing keys attach to it. Multiple clusters:
//	they merge into the one with the lexically smallest id, every key
//	of each losing cluster is repointed, and the losers keep their
//	records with MergedInto set.
//
// Outputs:
//   - string: the surviving cluster id.
//   - error: ErrNoIdentity when no key is usable, otherwise storage
//     errors. Callers treat failures as "row stays untagged".
//
// Thread Safety: safe for concurrent use; conflicting transactions
// retry at the caller's discretion.
func (r *Resolver) Resolve(ctx context.Context, id Identity) (string, error) {
	keys := normalizedKeys(id)
	if len(keys) == 0 {
		return "", ErrNoIdentity
	}

	var clusterID string
	err := r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		found := make(map[string]bool)
		for _, k := range keys {
			cid, err := lookupKey(txn, k)
			if err != nil {
				return err
			}
			if cid != "" {
				found[cid] = true
			}
		}

		var err error
		switch len(found) {
		case 0:
			clusterID, err = r.createCluster(txn, keys, id)
		case 1:
			for cid := range found {
				clusterID = cid
			}
			err = r.attachKeys(txn, clusterID, keys, id)
		default:
			clusterID, err = r.mergeClusters(txn, found)
			if err == nil {
				err = r.attachKeys(txn, clusterID, keys, id)
			}
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return clusterID, nil
}

func lookupKey(txn *badger.Txn, k identityKey) (string, error) {
	item, err := txn.Get(k.storageKey())
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup identity key %s/%s: %w", k.keyType, k.value, err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func (r *Resolver) createCluster(txn *badger.Txn, keys []identityKey, id Identity) (string, error) {
	clusterID := uuid.NewString()
	now := r.now().UTC()
	rec := Record{ClusterID: clusterID, CreatedAt: now, UpdatedAt: now}
	applyIdentity(&rec, id)

	if err := writeRecord(txn, &rec); err != nil {
		return "", err
	}
	for _, k := range keys {
		if err := txn.Set(k.storageKey(), []byte(clusterID)); err != nil {
			return "", err
		}
		if err := txn.Set(membershipKey(clusterID, k), nil); err != nil {
			return "", err
		}
	}
	return clusterID, nil
}

func (r *Resolver) attachKeys(txn *badger.Txn, clusterID string, keys []identityKey, id Identity) error {
	for _, k := range keys {
		if err := txn.Set(k.storageKey(), []byte(clusterID)); err != nil {
			return err
		}
		if err := txn.Set(membershipKey(clusterID, k), nil); err != nil {
			return err
		}
	}

	rec, err := readRecord(txn, clusterID)
	if err != nil {
		return err
	}
	applyIdentity(rec, id)
	rec.UpdatedAt = r.now().UTC()
	return writeRecord(txn, rec)
}

// mergeClusters collapses the given clusters into the one with the
// lexically smallest id and returns the survivor.
func (r *Resolver) mergeClusters(txn *badger.Txn, found map[string]bool) (string, error) {
	ids := make([]string, 0, len(found))
	for cid := range found {
		ids = append(ids, cid)
	}
	sort.Strings(ids)
	survivor := ids[0]

	survivorRec, err := readRecord(txn, survivor)
	if err != nil {
		return "", err
	}

	for _, loser := range ids[1:] {
		if err := r.repointMembers(txn, loser, survivor); err != nil {
			return "", err
		}

		loserRec, err := readRecord(txn, loser)
		if err != nil {
			return "", err
		}
		// Loser identity values backfill survivor gaps only.
		fillIfEmpty(&survivorRec.LastName, loserRec.LastName)
		fillIfEmpty(&survivorRec.LastEmail, loserRec.LastEmail)
		fillIfEmpty(&survivorRec.LastPhone, loserRec.LastPhone)
		fillIfEmpty(&survivorRec.LastDocument, loserRec.LastDocument)

		loserRec.MergedInto = survivor
		loserRec.UpdatedAt = r.now().UTC()
		if err := writeRecord(txn, loserRec); err != nil {
			return "", err
		}
	}

	survivorRec.UpdatedAt = r.now().UTC()
	if err := writeRecord(txn, survivorRec); err != nil {
		return "", err
	}
	return survivor, nil
}

// repointMembers moves every membership entry of loser under survivor
// and rewrites the key table accordingly.
func (r *Resolver) repointMembers(txn *badger.Txn, loser, survivor string) error {
	prefix := []byte(membershipPrefix + loser + "/")

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)

	var members []identityKey
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		rest := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
		keyType, value, ok := strings.Cut(rest, "/")
		if !ok {
			continue
		}
		members = append(members, identityKey{keyType, value})
	}
	it.Close()

	for _, k := range members {
		if err := txn.Set(k.storageKey(), []byte(survivor)); err != nil {
			return err
		}
		if err := txn.Set(membershipKey(survivor, k), nil); err != nil {
			return err
		}
		if err := txn.Delete(membershipKey(loser, k)); err != nil {
			return err
		}
	}
	return nil
}

// applyIdentity refreshes the Last* snapshot with the incoming raw
// values. Empty incoming values never overwrite stored ones.
func applyIdentity(rec *Record, id Identity) {
	setIfPresent(&rec.LastName, id.Name)
	setIfPresent(&rec.LastEmail, normalize.Email(id.Email))
	setIfPresent(&rec.LastPhone, normalize.Phone(id.Phone))
	if doc := normalize.Document(id.Document); normalize.Valid(doc) {
		rec.LastDocument = normalize.StripLeadingZeros(doc)
	}
}

func setIfPresent(dst *string, v string) {
	if normalize.Valid(v) {
		*dst = v
	}
}

func fillIfEmpty(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}

func readRecord(txn *badger.Txn, clusterID string) (*Record, error) {
	item, err := txn.Get(recordKey(clusterID))
	if err != nil {
		return nil, fmt.Errorf("read cluster record %s: %w", clusterID, err)
	}
	var rec Record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, err
	}
	return &rec, nil
}

func writeRecord(txn *badger.Txn, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal cluster record %s: %w", rec.ClusterID, err)
	}
	return txn.Set(recordKey(rec.ClusterID), data)
}

// Lookup returns the cluster id currently bound to a single raw
// identity value of the given key type, or "" when unbound.
func (r *Resolver) Lookup(ctx context.Context, keyType, rawValue string) (string, error) {
	var value string
	switch keyType {
	case KeyEmail:
		value = normalize.Email(rawValue)
	case KeyPhone:
		value = normalize.Phone(rawValue)
	case KeyDocument:
		value = normalize.StripLeadingZeros(normalize.Document(rawValue))
	default:
		return "", fmt.Errorf("unknown key type %q", keyType)
	}
	if !normalize.Valid(value) {
		return "", nil
	}

	var clusterID string
	err := r.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		cid, err := lookupKey(txn, identityKey{keyType, value})
		clusterID = cid
		return err
	})
	if err != nil {
		return "", err
	}
	return clusterID, nil
}

// Query selects clusters for the buyer-attribute report filters.
// Email, phone and document match exactly on the key table; Name is a
// case-insensitive substring match over cluster records.
type Query struct {
	Email    string
	Phone    string
	Document string
	Name     string
}

// Empty reports whether the query has no active criteria.
func (q Query) Empty() bool {
	return q.Email == "" && q.Phone == "" && q.Document == "" && q.Name == ""
}

// FindClusters returns the ids of every cluster matching any of the
// query's criteria, sorted and deduplicated.
func (r *Resolver) FindClusters(ctx context.Context, q Query) ([]string, error) {
	found := make(map[string]bool)

	exact := []struct {
		keyType string
		value   string
	}{
		{KeyEmail, q.Email},
		{KeyPhone, q.Phone},
		{KeyDocument, q.Document},
	}
	for _, e := range exact {
		if e.value == "" {
			continue
		}
		cid, err := r.Lookup(ctx, e.keyType, e.value)
		if err != nil {
			return nil, err
		}
		if cid != "" {
			found[cid] = true
		}
	}

	if q.Name != "" {
		if err := r.scanByName(ctx, q.Name, found); err != nil {
			return nil, err
		}
	}

	ids := make([]string, 0, len(found))
	for cid := range found {
		ids = append(ids, cid)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Resolver) scanByName(ctx context.Context, name string, found map[string]bool) error {
	needle := strings.ToLower(name)
	prefix := []byte(recordPrefix)

	return r.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if rec.MergedInto != "" {
				continue
			}
			if strings.Contains(strings.ToLower(rec.LastName), needle) {
				found[rec.ClusterID] = true
			}
		}
		return nil
	})
}
