// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package buyer

import (
	"sort"
	"time"

	"github.com/omnilytics/omnilytics/services/analytics/datatypes"
)

// Filters is the buyer-level predicate set applied after aggregation.
// Nil pointers mean "no bound", so zero is a usable bound value.
// Empty id lists disable the corresponding clause, including the
// must-not-contain clauses (an empty removal list removes nobody,
// under both OR and AND conditions).
type Filters struct {
	FirstBuyStart *time.Time
	FirstBuyEnd   *time.Time

	FirstBuyProductIDs []string
	FirstBuyOfferIDs   []string

	MaxDaysWithoutBuy *int
	MinDaysWithoutBuy *int
	MaxLTV            *float64
	MinLTV            *float64
	MaxTransactions   *int
	MinTransactions   *int

	ContainProductIDs []string
	ContainOfferIDs   []string
	RemProductIDs     []string
	RemOfferIDs       []string

	ConditionContainProductIDs datatypes.ConditionType
	ConditionContainOfferIDs   datatypes.ConditionType
	ConditionRemProductIDs     datatypes.ConditionType
	ConditionRemOfferIDs       datatypes.ConditionType
}

// FiltersFromRequest converts the transport-level request into the
// engine's filter set. The request must already be normalized.
func FiltersFromRequest(r *datatypes.ReportRequest) Filters {
	f := Filters{
		FirstBuyProductIDs:         r.FirstBuyProductIDs,
		FirstBuyOfferIDs:           r.FirstBuyOfferIDs,
		MaxDaysWithoutBuy:          r.MaxDaysWithoutBuy,
		MinDaysWithoutBuy:          r.MinDaysWithoutBuy,
		MaxLTV:                     r.MaxLTV,
		MinLTV:                     r.MinLTV,
		MaxTransactions:            r.MaxTransactions,
		MinTransactions:            r.MinTransactions,
		ContainProductIDs:          r.ContainProductIDs,
		ContainOfferIDs:            r.ContainOfferIDs,
		RemProductIDs:              r.RemProductIDs,
		RemOfferIDs:                r.RemOfferIDs,
		ConditionContainProductIDs: r.ConditionContainProductIDs,
		ConditionContainOfferIDs:   r.ConditionContainOfferIDs,
		ConditionRemProductIDs:     r.ConditionRemProductIDs,
		ConditionRemOfferIDs:       r.ConditionRemOfferIDs,
	}
	if t, ok := datatypes.ParseDate(r.FirstBuyStartDate); ok {
		f.FirstBuyStart = &t
	}
	if t, ok := datatypes.ParseDate(r.FirstBuyEndDate); ok {
		f.FirstBuyEnd = &t
	}
	return f
}

// SortByTransactions flattens the buyer map into a slice ordered by
// TotalTransactions descending. Email breaks ties so the output is
// stable across runs.
func SortByTransactions(buyers map[string]*datatypes.BuyerData) []*datatypes.BuyerData {
	out := make([]*datatypes.BuyerData, 0, len(buyers))
	for _, b := range buyers {
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalTransactions != out[j].TotalTransactions {
			return out[i].TotalTransactions > out[j].TotalTransactions
		}
		return out[i].BuyerEmail < out[j].BuyerEmail
	})
	return out
}

// Apply runs both filter stages over the buyer slice and returns the
// survivors in their incoming order. Rejection short-circuits; the
// input is not modified.
func Apply(buyers []*datatypes.BuyerData, f Filters) []*datatypes.BuyerData {
	out := make([]*datatypes.BuyerData, 0, len(buyers))
	for _, b := range buyers {
		if passesScalarFilters(b, f) && passesSetFilters(b, f) {
			out = append(out, b)
		}
	}
	return out
}

// passesScalarFilters is stage 1: range/bound checks anchored on the
// first-buy date plus a final check that the canonical first purchase
// is not itself a child bump item. That last clause should be
// unreachable after merge and metric promotion; it is kept as an
// explicit invariant check.
func passesScalarFilters(b *datatypes.BuyerData, f Filters) bool {
	if b.FirstBuyDate == nil {
		return false
	}

	if f.FirstBuyStart != nil && b.FirstBuyDate.Before(*f.FirstBuyStart) {
		return false
	}
	if f.FirstBuyEnd != nil && b.FirstBuyDate.After(*f.FirstBuyEnd) {
		return false
	}

	if len(f.FirstBuyProductIDs) > 0 {
		if b.FirstBuy == nil || !contains(f.FirstBuyProductIDs, b.FirstBuy.ProductID) {
			return false
		}
	}

	if f.MaxDaysWithoutBuy != nil && b.DaysWithoutBuy != nil && *b.DaysWithoutBuy > *f.MaxDaysWithoutBuy {
		return false
	}
	if f.MinDaysWithoutBuy != nil && b.DaysWithoutBuy != nil && *b.DaysWithoutBuy < *f.MinDaysWithoutBuy {
		return false
	}
	if f.MaxTransactions != nil && b.TotalTransactions > *f.MaxTransactions {
		return false
	}
	if f.MinTransactions != nil && b.TotalTransactions < *f.MinTransactions {
		return false
	}
	if f.MaxLTV != nil && b.TotalSpend > *f.MaxLTV {
		return false
	}
	if f.MinLTV != nil && b.TotalSpend < *f.MinLTV {
		return false
	}

	if b.FirstBuy != nil && b.FirstBuy.IsChild() {
		return false
	}
	return true
}

// passesSetFilters is stage 2: OR/AND membership over the full shop
// list plus the optional first-purchase offer allow-list.
func passesSetFilters(b *datatypes.BuyerData, f Filters) bool {
	if b.FirstBuy == nil {
		return false
	}

	productID := func(item *datatypes.ShopItem) string { return item.ProductID }
	offerID := func(item *datatypes.ShopItem) string { return item.OfferID }

	if !matchesItems(b.ShopList, f.ContainProductIDs, productID, f.ConditionContainProductIDs) {
		return false
	}
	if !matchesItems(b.ShopList, f.ContainOfferIDs, offerID, f.ConditionContainOfferIDs) {
		return false
	}
	if matchesItemsToRemove(b.ShopList, f.RemProductIDs, productID, f.ConditionRemProductIDs) {
		return false
	}
	if matchesItemsToRemove(b.ShopList, f.RemOfferIDs, offerID, f.ConditionRemOfferIDs) {
		return false
	}

	if len(f.FirstBuyOfferIDs) > 0 {
		if len(b.ShopList) == 0 || !contains(f.FirstBuyOfferIDs, b.ShopList[0].OfferID) {
			return false
		}
	}
	return true
}

// matchesItems is the must-contain check. An empty id list passes
// everyone.
func matchesItems(list []*datatypes.ShopItem, ids []string, key func(*datatypes.ShopItem) string, cond datatypes.ConditionType) bool {
	if len(ids) == 0 {
		return true
	}
	switch cond {
	case datatypes.ConditionAnd:
		for _, id := range ids {
			if !someItemHas(list, key, id) {
				return false
			}
		}
		return true
	default: // ConditionOr
		for _, item := range list {
			if contains(ids, key(item)) {
				return true
			}
		}
		return false
	}
}

// matchesItemsToRemove is the must-not-contain check with inverted
// polarity: true means "reject this buyer". An empty id list never
// rejects, under both conditions.
func matchesItemsToRemove(list []*datatypes.ShopItem, ids []string, key func(*datatypes.ShopItem) string, cond datatypes.ConditionType) bool {
	if len(ids) == 0 {
		return false
	}
	switch cond {
	case datatypes.ConditionAnd:
		for _, id := range ids {
			if !someItemHas(list, key, id) {
				return false
			}
		}
		return true
	default: // ConditionOr
		for _, item := range list {
			if contains(ids, key(item)) {
				return true
			}
		}
		return false
	}
}

func someItemHas(list []*datatypes.ShopItem, key func(*datatypes.ShopItem) string, id string) bool {
	for _, item := range list {
		if key(item) == id {
			return true
		}
	}
	return false
}

func contains(ids []string, v string) bool {
	for _, id := range ids {
		if id == v {
			return true
		}
	}
	return false
}
