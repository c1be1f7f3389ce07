// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package buyer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnilytics/omnilytics/pkg/normalize"
	"github.com/omnilytics/omnilytics/services/analytics/datatypes"
)

func row(email, doc, phone, date string, value float64) *datatypes.SaleRow {
	return &datatypes.SaleRow{
		TransactionCode:         "tx-" + email + "-" + date,
		TransactionDate:         date,
		ProductID:               "prod-1",
		ProductName:             "Course",
		OfferID:                 "offer-1",
		Currency:                "BRL",
		PurchaseValueWithoutTax: value,
		BuyerName:               "Buyer " + email,
		BuyerEmail:              email,
		BuyerPhone:              phone,
		BuyerDocument:           doc,
		ProjectID:               "proj-1",
		UserID:                  "user-1",
	}
}

func childRow(email, doc, phone, date string, value float64) *datatypes.SaleRow {
	r := row(email, doc, phone, date, value)
	r.OrderBumpType = datatypes.BumpChild
	return r
}

func TestGroup_OneBuyerPerEmail(t *testing.T) {
	rows := []*datatypes.SaleRow{
		row("a@x.com", "111", "5511999990000", "2024-01-01", 10),
		row("a@x.com", "111", "5511999990000", "2024-02-01", 20),
		row("b@x.com", "222", "5511888880000", "2024-01-15", 30),
	}

	buyers := Group(rows)
	require.Len(t, buyers, 2)

	a := buyers["a@x.com"]
	require.NotNil(t, a)
	assert.Equal(t, 2, a.TotalTransactions)
	assert.InDelta(t, 30.0, a.TotalSpend, 1e-9)
	assert.Len(t, a.ShopList, 2)

	for _, b := range buyers {
		assert.Equal(t, b.TotalTransactions, len(b.ShopList))
	}
}

func TestGroup_PlaceholderOverwrittenOnce(t *testing.T) {
	rows := []*datatypes.SaleRow{
		row("a@x.com", "null", "", "2024-01-01", 10),
		row("a@x.com", "00111", "5511999990000", "2024-01-02", 10),
		row("a@x.com", "999", "5511777770000", "2024-01-03", 10),
	}

	buyers := Group(rows)
	a := buyers["a@x.com"]
	require.NotNil(t, a)

	// First valid values win; later valid values only land in the
	// identity sets.
	assert.Equal(t, "111", a.BuyerDocument)
	assert.Equal(t, "5511999990000", a.Phone)
	assert.Contains(t, a.AllDocuments, "999")
	assert.Contains(t, a.AllPhones, "5511777770000")
}

func TestGroup_InvalidIdentityStaysNotFound(t *testing.T) {
	buyers := Group([]*datatypes.SaleRow{
		row("a@x.com", "undefined", "(none)", "2024-01-01", 10),
	})

	a := buyers["a@x.com"]
	require.NotNil(t, a)
	assert.Equal(t, normalize.NotFound, a.BuyerDocument)
	assert.Equal(t, normalize.NotFound, a.Phone)
	assert.Empty(t, a.AllDocuments)
	assert.Empty(t, a.AllPhones)
}

func TestGroup_ChildNeverSetsFirstBuyDate(t *testing.T) {
	buyers := Group([]*datatypes.SaleRow{
		row("a@x.com", "111", "", "2024-03-01", 50),
		childRow("a@x.com", "111", "", "2024-01-01", 5),
	})

	a := buyers["a@x.com"]
	require.NotNil(t, a)
	require.NotNil(t, a.FirstBuyDate)
	// The child is chronologically earliest but must not pull the
	// first-buy date backward.
	assert.Equal(t, "2024-03-01", a.FirstBuyDate.Format(datatypes.DateLayout))
	require.NotNil(t, a.LastBuyDate)
	assert.Equal(t, "2024-03-01", a.LastBuyDate.Format(datatypes.DateLayout))
}

func TestMergeByDocument_SharedDocumentCollapses(t *testing.T) {
	rows := []*datatypes.SaleRow{
		row("a@x.com", "111", "5511111110000", "2024-01-01", 10),
		row("b@x.com", "111", "5522222220000", "2024-01-02", 20),
	}

	merged := MergeByDocument(Group(rows))
	require.Len(t, merged, 1)

	b := merged["111"]
	require.NotNil(t, b)
	assert.Equal(t, 2, b.TotalTransactions)
	assert.InDelta(t, 30.0, b.TotalSpend, 1e-9)
	assert.ElementsMatch(t, []string{"a@x.com", "b@x.com"}, b.AllEmails)
	assert.ElementsMatch(t, []string{"5511111110000", "5522222220000"}, b.AllPhones)
}

func TestMergeByDocument_MissingDocumentsNeverCollide(t *testing.T) {
	rows := []*datatypes.SaleRow{
		row("a@x.com", "", "5511111110000", "2024-01-01", 10),
		row("b@x.com", "null", "5522222220000", "2024-01-02", 20),
	}

	merged := MergeByDocument(Group(rows))
	assert.Len(t, merged, 2)
}

func TestMergeByPhone_NoTransitiveChaining(t *testing.T) {
	// a and b share a document, b and c share a phone. The document
	// pass folds b into a, whose phone snapshot stays a's phone, so
	// the phone pass cannot reach c through b: two buyers remain.
	rows := []*datatypes.SaleRow{
		row("a@x.com", "111", "5511111110000", "2024-01-01", 10),
		row("b@x.com", "111", "5533333330000", "2024-01-02", 20),
		row("c@x.com", "222", "5533333330000", "2024-01-03", 30),
	}

	merged := MergeByPhone(MergeByDocument(Group(rows)))
	require.Len(t, merged, 2)

	ab := merged["5511111110000"]
	require.NotNil(t, ab)
	assert.Equal(t, 2, ab.TotalTransactions)
	assert.ElementsMatch(t, []string{"a@x.com", "b@x.com"}, ab.AllEmails)
	// b's phone survives in the alternates even though it is not the
	// merge key.
	assert.ElementsMatch(t, []string{"5511111110000", "5533333330000"}, ab.AllPhones)

	c := merged["5533333330000"]
	require.NotNil(t, c)
	assert.Equal(t, 1, c.TotalTransactions)
	assert.ElementsMatch(t, []string{"c@x.com"}, c.AllEmails)
}

func TestMergeByPhone_SharedPhoneCollapses(t *testing.T) {
	rows := []*datatypes.SaleRow{
		row("a@x.com", "111", "5533333330000", "2024-01-01", 10),
		row("b@x.com", "222", "5533333330000", "2024-01-02", 20),
	}

	merged := MergeByPhone(MergeByDocument(Group(rows)))
	require.Len(t, merged, 1)

	b := merged["5533333330000"]
	require.NotNil(t, b)
	assert.Equal(t, 2, b.TotalTransactions)
	assert.ElementsMatch(t, []string{"a@x.com", "b@x.com"}, b.AllEmails)
	assert.ElementsMatch(t, []string{"111", "222"}, b.AllDocuments)
}

func TestMerge_OrderIndependence(t *testing.T) {
	mk := func() []*datatypes.SaleRow {
		return []*datatypes.SaleRow{
			row("a@x.com", "111", "5511111110000", "2024-01-05", 10),
			childRow("b@x.com", "111", "5522222220000", "2024-01-01", 5),
			row("c@x.com", "333", "5522222220000", "2024-01-03", 20),
		}
	}

	forward := mk()
	reversed := mk()
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	a := Aggregate(forward, Filters{}, now)
	b := Aggregate(reversed, Filters{}, now)

	// The document pass folds the child row into a's buyer; c stays
	// separate because the survivor's phone snapshot is a's.
	require.Len(t, a, 2)
	require.Len(t, b, 2)
	for i := range a {
		assert.Equal(t, a[i].TotalSpend, b[i].TotalSpend)
		assert.Equal(t, a[i].TotalTransactions, b[i].TotalTransactions)
		assert.ElementsMatch(t, a[i].AllEmails, b[i].AllEmails)
		assert.ElementsMatch(t, a[i].AllPhones, b[i].AllPhones)
		assert.ElementsMatch(t, a[i].AllDocuments, b[i].AllDocuments)
		assert.Equal(t, a[i].FirstBuyDate, b[i].FirstBuyDate)
		assert.Equal(t, a[i].LastBuyDate, b[i].LastBuyDate)
	}
	assert.ElementsMatch(t, []string{"a@x.com", "b@x.com"}, a[0].AllEmails)
	assert.ElementsMatch(t, []string{"c@x.com"}, a[1].AllEmails)
}

func TestPromoteFirstNonChild(t *testing.T) {
	list := []*datatypes.ShopItem{
		{Date: "2024-01-01", ProductID: "bump", BumpType: datatypes.BumpChild},
		{Date: "2024-01-02", ProductID: "bump2", BumpIndex: datatypes.BumpChild},
		{Date: "2024-01-03", ProductID: "main"},
		{Date: "2024-01-04", ProductID: "later"},
	}

	promoteFirstNonChild(list)

	assert.Equal(t, "main", list[0].ProductID)
	// Displaced children keep their relative order.
	assert.Equal(t, "bump", list[1].ProductID)
	assert.Equal(t, "bump2", list[2].ProductID)
	assert.Equal(t, "later", list[3].ProductID)
}

func TestPromoteFirstNonChild_AllChildren(t *testing.T) {
	list := []*datatypes.ShopItem{
		{Date: "2024-01-01", ProductID: "a", BumpType: datatypes.BumpChild},
		{Date: "2024-01-02", ProductID: "b", BumpType: datatypes.BumpChild},
	}
	promoteFirstNonChild(list)
	assert.Equal(t, "a", list[0].ProductID)
}

func TestComputeMetrics(t *testing.T) {
	buyers := Group([]*datatypes.SaleRow{
		row("a@x.com", "111", "", "2024-01-01", 10),
		row("a@x.com", "111", "", "2024-01-11", 30),
	})
	now := time.Date(2024, 1, 21, 6, 0, 0, 0, time.UTC)
	ComputeMetrics(buyers, now)

	a := buyers["a@x.com"]
	require.NotNil(t, a)

	require.NotNil(t, a.AverageDaysBetweenPurchases)
	assert.InDelta(t, 10.0, *a.AverageDaysBetweenPurchases, 1e-9)
	assert.InDelta(t, 20.0, a.AverageTicket, 1e-9)

	require.NotNil(t, a.DaysInTheBusiness)
	assert.Equal(t, 20, *a.DaysInTheBusiness)
	require.NotNil(t, a.DaysWithoutBuy)
	assert.Equal(t, 10, *a.DaysWithoutBuy)

	require.NotNil(t, a.FirstBuy)
	assert.Equal(t, "2024-01-01", a.FirstBuy.Date)
	require.NotNil(t, a.LastBuy)
	assert.Equal(t, "2024-01-11", a.LastBuy.Date)
}

func TestComputeMetrics_Idempotent(t *testing.T) {
	buyers := Group([]*datatypes.SaleRow{
		childRow("a@x.com", "111", "", "2024-01-01", 5),
		row("a@x.com", "111", "", "2024-02-01", 50),
	})
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	ComputeMetrics(buyers, now)
	a := buyers["a@x.com"]
	firstBuy := a.FirstBuy
	avg := *a.AverageDaysBetweenPurchases
	ticket := a.AverageTicket

	ComputeMetrics(buyers, now)
	assert.Equal(t, firstBuy, a.FirstBuy)
	assert.InDelta(t, avg, *a.AverageDaysBetweenPurchases, 1e-9)
	assert.InDelta(t, ticket, a.AverageTicket, 1e-9)
}

func TestComputeMetrics_SingleChildBuyer(t *testing.T) {
	buyers := Group([]*datatypes.SaleRow{
		childRow("a@x.com", "111", "", "2024-01-01", 5),
	})
	ComputeMetrics(buyers, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))

	a := buyers["a@x.com"]
	assert.Nil(t, a.FirstBuy)
	assert.Nil(t, a.AverageDaysBetweenPurchases)
	assert.NotNil(t, a.LastBuy)
}

func TestSortByTransactions(t *testing.T) {
	buyers := map[string]*datatypes.BuyerData{
		"a": {BuyerEmail: "a@x.com", TotalTransactions: 1},
		"b": {BuyerEmail: "b@x.com", TotalTransactions: 5},
		"c": {BuyerEmail: "c@x.com", TotalTransactions: 5},
	}

	ordered := SortByTransactions(buyers)
	require.Len(t, ordered, 3)
	assert.Equal(t, "b@x.com", ordered[0].BuyerEmail)
	assert.Equal(t, "c@x.com", ordered[1].BuyerEmail)
	assert.Equal(t, "a@x.com", ordered[2].BuyerEmail)
}

func TestAggregate_EndToEnd(t *testing.T) {
	rows := []*datatypes.SaleRow{
		row("a@x.com", "111", "", "2024-01-01", 10),
		childRow("b@x.com", "111", "", "2024-01-02", 20),
	}
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	result := Aggregate(rows, Filters{}, now)
	require.Len(t, result, 1)

	b := result[0]
	assert.InDelta(t, 30.0, b.TotalSpend, 1e-9)
	assert.Equal(t, 2, b.TotalTransactions)
	require.NotNil(t, b.FirstBuyDate)
	assert.Equal(t, "2024-01-01", b.FirstBuyDate.Format(datatypes.DateLayout))
	assert.ElementsMatch(t, []string{"a@x.com", "b@x.com"}, b.AllEmails)
}
