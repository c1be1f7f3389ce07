// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package buyer implements the in-memory aggregation engine: per-email
// grouping of raw sale rows, cross-identity merging by document and
// phone, derived metric computation, and the configurable buyer
// filter set.
//
// The pipeline is pure: it performs no I/O and is deterministic for a
// given row sequence and clock. The stages are intended to run in
// order:
//
//	grouped := buyer.Group(rows)
//	merged := buyer.MergeByPhone(buyer.MergeByDocument(grouped))
//	buyer.ComputeMetrics(merged, time.Now())
//	result := buyer.Apply(buyer.SortByTransactions(merged), filters)
//
// or via the Aggregate convenience wrapper.
package buyer

import (
	"github.com/omnilytics/omnilytics/pkg/normalize"
	"github.com/omnilytics/omnilytics/services/analytics/datatypes"
)

// Group folds a flat row sequence into one BuyerData per raw email.
//
// Mutation is purely additive: counters accumulate, shop items append,
// identity alternates union in. FirstBuyDate only moves backward in
// time and only for rows that are not order-bump children; LastBuyDate
// always moves forward. A placeholder document/phone is overwritten
// exactly once, the first time a valid value appears.
//
// Invariant on return: TotalTransactions == len(ShopList) for every
// buyer.
func Group(rows []*datatypes.SaleRow) map[string]*datatypes.BuyerData {
	buyers := make(map[string]*datatypes.BuyerData)
	for _, row := range rows {
		groupRow(buyers, row)
	}
	return buyers
}

func groupRow(buyers map[string]*datatypes.BuyerData, row *datatypes.SaleRow) {
	b, ok := buyers[row.BuyerEmail]
	if !ok {
		b = newBuyer(row)
		buyers[row.BuyerEmail] = b
	}

	cleanPhone := normalize.Phone(row.BuyerPhone)
	cleanDoc := normalize.Document(row.BuyerDocument)

	if b.Phone == normalize.NotFound && normalize.Valid(cleanPhone) {
		b.Phone = cleanPhone
	}
	if b.BuyerDocument == normalize.NotFound && normalize.Valid(cleanDoc) {
		b.BuyerDocument = normalize.StripLeadingZeros(cleanDoc)
	}

	b.TotalSpend += row.PurchaseValueWithoutTax
	b.TotalTransactions++

	item := &datatypes.ShopItem{
		Date:          row.TransactionDate,
		ProductID:     row.ProductID,
		ProductName:   row.ProductName,
		CurrencyCode:  row.Currency,
		PurchaseValue: row.PurchaseValueWithoutTax,
		BumpType:      row.OrderBumpType,
		BumpIndex:     row.OrderBumpIndex,
		OfferID:       row.OfferID,
	}
	b.ShopList = append(b.ShopList, item)

	if date, ok := row.Date(); ok {
		if b.FirstBuyDate == nil || (date.Before(*b.FirstBuyDate) && !item.IsChild()) {
			d := date
			b.FirstBuyDate = &d
		}
		if b.LastBuyDate == nil || date.After(*b.LastBuyDate) {
			d := date
			b.LastBuyDate = &d
		}
	}

	if normalize.Valid(cleanDoc) {
		b.AllDocuments = datatypes.AddToSet(b.AllDocuments, cleanDoc)
	}
	if normalize.Valid(cleanPhone) {
		b.AllPhones = datatypes.AddToSet(b.AllPhones, cleanPhone)
	}
	if normalize.Valid(row.BuyerName) {
		b.AllNames = datatypes.AddToSet(b.AllNames, row.BuyerName)
	}
	if normalize.Valid(row.BuyerEmail) {
		b.AllEmails = datatypes.AddToSet(b.AllEmails, row.BuyerEmail)
	}
}

func newBuyer(row *datatypes.SaleRow) *datatypes.BuyerData {
	doc := normalize.NotFound
	if clean := normalize.Document(row.BuyerDocument); normalize.Valid(clean) {
		doc = normalize.StripLeadingZeros(clean)
	}
	phone := normalize.NotFound
	if clean := normalize.Phone(row.BuyerPhone); normalize.Valid(clean) {
		phone = clean
	}
	return &datatypes.BuyerData{
		BuyerName:     row.BuyerName,
		BuyerEmail:    row.BuyerEmail,
		BuyerDocument: doc,
		Phone:         phone,
		Country:       row.BuyerCountry,
	}
}
