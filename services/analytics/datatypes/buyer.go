// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// BumpChild marks an order-bump child item: an add-on sale attached
// to another purchase. A child item is never a buyer's canonical
// first purchase.
const BumpChild = "Child"

// ShopItem is one purchase inside a buyer's shop list. It is owned
// exclusively by the BuyerData it belongs to and never shared.
type ShopItem struct {
	Date          string  `json:"date"`
	ProductID     string  `json:"productId"`
	ProductName   string  `json:"productName"`
	CurrencyCode  string  `json:"currencyCode"`
	PurchaseValue float64 `json:"purchaseValue"`
	BumpType      string  `json:"bumpType"`
	BumpIndex     string  `json:"bumpIndex"`
	OfferID       string  `json:"offerId"`
}

// IsChild reports whether the item is an order-bump child. Either
// flag alone marks the item; upstream platforms disagree on which
// field they populate.
func (s *ShopItem) IsChild() bool {
	return s.BumpType == BumpChild || s.BumpIndex == BumpChild
}

// Time parses the item's date. Unparseable dates sort as the zero
// time, i.e. before everything else.
func (s *ShopItem) Time() time.Time {
	t, _ := time.Parse(DateLayout, s.Date)
	return t
}

// BuyerData is the per-buyer aggregate. Lifecycle: created empty on
// first sighting of an email key, mutated additively during grouping,
// merged (union, never dropped) during cross-identity merge,
// finalized by the metric calculator, read-only afterwards.
type BuyerData struct {
	BuyerName     string `json:"buyerName"`
	BuyerEmail    string `json:"buyerEmail"`
	BuyerDocument string `json:"buyerDocument"`
	Phone         string `json:"telefone"`
	Country       string `json:"pais"`

	TotalSpend        float64     `json:"totalSpend"`
	TotalTransactions int         `json:"totalTransactions"`
	ShopList          []*ShopItem `json:"shopList"`

	FirstBuyDate *time.Time `json:"firstBuyDate"`
	LastBuyDate  *time.Time `json:"lastBuyDate"`
	FirstBuy     *ShopItem  `json:"firstBuy"`
	LastBuy      *ShopItem  `json:"lastBuy"`

	AverageDaysBetweenPurchases *float64 `json:"averageDaysBetweenPurchases"`
	AverageTicket               float64  `json:"averageTicket"`
	DaysInTheBusiness           *int     `json:"daysInTheBusiness"`
	DaysWithoutBuy              *int     `json:"daysWithoutBuy"`

	// Every identity value ever observed for this buyer. Monotonically
	// growing unions across merges; no key is ever dropped.
	AllEmails    []string `json:"allEmails"`
	AllPhones    []string `json:"allPhones"`
	AllNames     []string `json:"allNames"`
	AllDocuments []string `json:"allDocuments"`
}

// AddToSet appends v to set when not already present, preserving the
// slice-as-set convention of the identity fields.
func AddToSet(set []string, v string) []string {
	for _, existing := range set {
		if existing == v {
			return set
		}
	}
	return append(set, v)
}

// UnionSets returns a ∪ b, keeping a's order first.
func UnionSets(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	for _, v := range b {
		out = AddToSet(out, v)
	}
	return out
}
