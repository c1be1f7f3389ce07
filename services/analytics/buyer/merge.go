// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package buyer

import (
	"sort"

	"github.com/omnilytics/omnilytics/pkg/normalize"
	"github.com/omnilytics/omnilytics/services/analytics/datatypes"
)

// Synthetic key prefixes for buyers lacking a valid document/phone.
// The per-email suffix guarantees such buyers never spuriously
// collide with each other.
const (
	noDocPrefix   = "no-doc-"
	noPhonePrefix = "no-phone-"
)

// MergeByDocument re-keys the buyer map by normalized document,
// merging records that collide on the same document.
func MergeByDocument(buyers map[string]*datatypes.BuyerData) map[string]*datatypes.BuyerData {
	return rekey(buyers, func(b *datatypes.BuyerData) string {
		doc := normalize.Digits(b.BuyerDocument)
		if !normalize.Valid(doc) {
			return noDocPrefix + b.BuyerEmail
		}
		return doc
	})
}

// MergeByPhone re-keys the buyer map by normalized phone, merging
// records that collide on the same phone. Runs after MergeByDocument.
func MergeByPhone(buyers map[string]*datatypes.BuyerData) map[string]*datatypes.BuyerData {
	return rekey(buyers, func(b *datatypes.BuyerData) string {
		phone := normalize.Digits(b.Phone)
		if !normalize.Valid(phone) {
			return noPhonePrefix + b.BuyerEmail
		}
		return phone
	})
}

// rekey moves every record under its new key, merging on collision.
// Records are visited in sorted key order so the surviving identity
// snapshot does not depend on map iteration order; the merged
// counters, shop-list contents and identity sets are order-independent
// regardless.
func rekey(buyers map[string]*datatypes.BuyerData, keyOf func(*datatypes.BuyerData) string) map[string]*datatypes.BuyerData {
	keys := make([]string, 0, len(buyers))
	for k := range buyers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	merged := make(map[string]*datatypes.BuyerData, len(buyers))
	for _, k := range keys {
		b := buyers[k]
		target := keyOf(b)
		if existing, ok := merged[target]; ok {
			mergeInto(existing, b)
		} else {
			merged[target] = b
		}
	}
	return merged
}

// mergeInto folds src into dst: shop lists concatenate and re-sort
// chronologically with the earliest non-child item promoted to the
// front, boundary fields are recomputed from the merged list, counters
// sum, and the identity-alternate sets union. Nothing from src is
// dropped.
func mergeInto(dst, src *datatypes.BuyerData) {
	dst.ShopList = append(dst.ShopList, src.ShopList...)
	sortShopList(dst.ShopList)
	promoteFirstNonChild(dst.ShopList)

	if n := len(dst.ShopList); n > 0 {
		first := dst.ShopList[0]
		last := dst.ShopList[n-1]
		dst.FirstBuy = first
		dst.LastBuy = last
		firstDate := first.Time()
		lastDate := last.Time()
		dst.FirstBuyDate = &firstDate
		dst.LastBuyDate = &lastDate
	}

	dst.TotalSpend += src.TotalSpend
	dst.TotalTransactions += src.TotalTransactions

	dst.AllEmails = datatypes.UnionSets(dst.AllEmails, src.AllEmails)
	dst.AllPhones = datatypes.UnionSets(dst.AllPhones, src.AllPhones)
	dst.AllNames = datatypes.UnionSets(dst.AllNames, src.AllNames)
	dst.AllDocuments = datatypes.UnionSets(dst.AllDocuments, src.AllDocuments)
}

// sortShopList sorts chronologically ascending. The sort is stable so
// same-day items keep their relative order across repeated runs.
func sortShopList(list []*datatypes.ShopItem) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Time().Before(list[j].Time())
	})
}

// promoteFirstNonChild moves the earliest non-child item to position
// 0, leaving the relative order of everything else unchanged. A child
// bump item must never be treated as the canonical first purchase,
// even when it is chronologically earliest.
func promoteFirstNonChild(list []*datatypes.ShopItem) {
	idx := -1
	for i, item := range list {
		if !item.IsChild() {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return
	}
	promoted := list[idx]
	copy(list[1:idx+1], list[0:idx])
	list[0] = promoted
}
