// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reports

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnilytics/omnilytics/services/analytics/buyer"
	"github.com/omnilytics/omnilytics/services/analytics/datatypes"
)

func testBuyer(email string, items ...*datatypes.ShopItem) *datatypes.BuyerData {
	b := &datatypes.BuyerData{
		BuyerEmail:        email,
		ShopList:          items,
		TotalTransactions: len(items),
	}
	for _, it := range items {
		b.TotalSpend += it.PurchaseValue
	}
	bm := map[string]*datatypes.BuyerData{email: b}
	buyer.ComputeMetrics(bm, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	return b
}

func shopItem(date, productID, productName, offerID string, value float64) *datatypes.ShopItem {
	return &datatypes.ShopItem{
		Date: date, ProductID: productID, ProductName: productName,
		OfferID: offerID, PurchaseValue: value, CurrencyCode: "BRL",
	}
}

func TestBuildCustomerSummary(t *testing.T) {
	buyers := []*datatypes.BuyerData{
		testBuyer("one@x.com", shopItem("2024-01-01", "p1", "P1", "o1", 100)),
		testBuyer("two@x.com",
			shopItem("2024-01-01", "p1", "P1", "o1", 100),
			shopItem("2024-01-11", "p2", "P2", "o2", 50),
		),
	}

	s := BuildCustomerSummary(buyers)

	assert.Equal(t, 3, s.TotalTransactions)
	assert.Equal(t, 2, s.TotalBuyers)
	assert.Equal(t, 1, s.StoppedInFunnel)
	assert.Equal(t, 1, s.ProgressingInFunnel)
	assert.InDelta(t, 0.5, s.StoppedInFunnelPercent, 1e-9)
	assert.InDelta(t, 250.0, s.TotalSpend, 1e-9)
	assert.InDelta(t, 125.0, s.AverageLtv, 1e-9)
	assert.InDelta(t, 83.33, s.AverageTicket, 1e-9)
	// Rebuy: the second buyer's second item only.
	assert.InDelta(t, 50.0, s.TotalReBuy, 1e-9)
	assert.InDelta(t, 50.0, s.AverageRebuyTicket, 1e-9)
	assert.InDelta(t, 10.0, s.AverageDaysUntilFirstRebuy, 1e-9)
	assert.InDelta(t, 200.0, s.TotalFirstBuyPurchases, 1e-9)
	assert.InDelta(t, 100.0, s.AverageFirstBuyTicket, 1e-9)
}

func TestBuildCustomerSummary_Empty(t *testing.T) {
	s := BuildCustomerSummary(nil)
	assert.Zero(t, s.TotalBuyers)
	assert.Zero(t, s.AverageTicket)
	assert.Zero(t, s.StoppedInFunnelPercent)
}

func TestBuildCustomerDetails_Pagination(t *testing.T) {
	var buyers []*datatypes.BuyerData
	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com"} {
		buyers = append(buyers, testBuyer(email, shopItem("2024-01-01", "p1", "P1", "o1", 10)))
	}

	d := BuildCustomerDetails(buyers, 2, 2, "", "")
	assert.Equal(t, 2, d.CurrentPage)
	assert.Equal(t, 3, d.TotalPages)
	assert.Equal(t, 5, d.TotalBuyers)
	assert.Equal(t, 5, d.TotalTransactions)
	require.Len(t, d.Data, 2)
	assert.Equal(t, "c@x.com", d.Data[0].BuyerEmail)

	// Page past the end comes back empty, not out of range.
	d = BuildCustomerDetails(buyers, 9, 2, "", "")
	assert.Empty(t, d.Data)
}

func TestBuildCustomerDetails_Ordering(t *testing.T) {
	low := testBuyer("low@x.com", shopItem("2024-01-01", "p1", "P1", "o1", 10))
	high := testBuyer("high@x.com", shopItem("2024-01-01", "p1", "P1", "o1", 500))
	buyers := []*datatypes.BuyerData{low, high}

	d := BuildCustomerDetails(buyers, 1, 20, "totalSpend", "ASC")
	assert.Equal(t, "low@x.com", d.Data[0].BuyerEmail)

	// Direction defaults to descending.
	d = BuildCustomerDetails(buyers, 1, 20, "totalSpend", "")
	assert.Equal(t, "high@x.com", d.Data[0].BuyerEmail)

	// Unknown key keeps incoming order.
	d = BuildCustomerDetails(buyers, 1, 20, "shoeSize", "ASC")
	assert.Equal(t, "low@x.com", d.Data[0].BuyerEmail)
}

func TestBuildProductReports(t *testing.T) {
	buyers := []*datatypes.BuyerData{
		testBuyer("a@x.com",
			shopItem("2024-01-01", "p1", "P1", "o1", 100),
			shopItem("2024-02-01", "p2", "P2", "o2", 40),
		),
		testBuyer("b@x.com", shopItem("2024-01-05", "p1", "P1", "o1", 100)),
	}

	resp := BuildProductReports(buyers)
	require.Len(t, resp.Data, 2)

	p1 := resp.Data[0]
	assert.Equal(t, "p1", p1.ProductID)
	// Both buyers first-bought p1.
	assert.Equal(t, 2, p1.TotalCustomers)
	assert.Equal(t, 2, p1.TotalBuyersOfThisProduct)
	assert.InDelta(t, 240.0, p1.TotalSpend, 1e-9)
	assert.InDelta(t, 200.0, p1.TotalFirstSpend, 1e-9)
	assert.InDelta(t, 40.0, p1.TotalProgressSpend, 1e-9)
	require.Len(t, p1.Offers, 1)
	assert.Equal(t, "o1", p1.Offers[0].OfferCode)
	assert.Equal(t, 2, p1.Offers[0].TotalBuyersOfThisOffer)

	p2 := resp.Data[1]
	assert.Equal(t, "p2", p2.ProductID)
	assert.Zero(t, p2.TotalCustomers)
	assert.Equal(t, 1, p2.TotalBuyersOfThisProduct)
}

func TestBuildRankingLtv(t *testing.T) {
	buyers := []*datatypes.BuyerData{
		testBuyer("a@x.com",
			shopItem("2024-01-01", "p1", "P1", "o1", 100),
			shopItem("2024-02-01", "p2", "P2", "o2", 50),
		),
		testBuyer("b@x.com", shopItem("2024-01-05", "p2", "P2", "o2", 30)),
	}

	resp := BuildRankingLtv(buyers)
	assert.Equal(t, 3, resp.TotalTransactions)
	assert.InDelta(t, 180.0, resp.TotalSumSpend, 1e-9)

	first := resp.FirstPurchase
	require.NotNil(t, first)
	assert.InDelta(t, 130.0, first.SumOfTotalPositionValue, 1e-9)
	assert.InDelta(t, 130.0/180.0*100, first.PercentOfTotal, 1e-9)

	require.Len(t, first.TopPurchases, 2)
	// Sorted by revenue descending.
	assert.Equal(t, "p1", first.TopPurchases[0].ProductID)
	assert.Equal(t, 1, first.TopPurchases[0].Count)
	assert.Equal(t, "p2", first.TopPurchases[1].ProductID)
}

func TestBuildNewCustomersByDay(t *testing.T) {
	buyers := []*datatypes.BuyerData{
		testBuyer("a@x.com",
			shopItem("2024-01-01", "p1", "P1", "o1", 100),
			shopItem("2024-03-01", "p2", "P2", "o2", 100),
		),
		testBuyer("b@x.com", shopItem("2024-01-01", "p1", "P1", "o1", 50)),
		testBuyer("c@x.com", shopItem("2024-01-02", "p1", "P1", "o1", 70)),
	}

	resp := BuildNewCustomersByDay(buyers)
	require.Len(t, resp.Data, 2)

	day1 := resp.Data[0]
	assert.Equal(t, "2024-01-01", day1.Date)
	assert.Equal(t, 2, day1.TotalDailyBuyers)
	assert.InDelta(t, 250.0, day1.TotalDailyAllSpend, 1e-9)
	// Lifetime 250 over first-buy 150.
	assert.InDelta(t, 1.67, day1.TotalDailyReturn, 1e-9)

	assert.Equal(t, "2024-01-02", resp.Data[1].Date)
}

func TestBuildRebuySummary(t *testing.T) {
	buyers := []*datatypes.BuyerData{
		testBuyer("a@x.com",
			shopItem("2024-01-01", "p1", "P1", "o1", 100),
			shopItem("2024-01-11", "p2", "P2", "o2", 60),
			shopItem("2024-01-21", "p2", "P2", "o2", 60), // repeat product, ignored
		),
		testBuyer("b@x.com", shopItem("2024-01-01", "p1", "P1", "o1", 100)),
	}

	resp := BuildRebuySummary(buyers)
	s := resp.Data
	require.NotNil(t, s)

	assert.Equal(t, 1, s.TotalTransactions)
	assert.InDelta(t, 60.0, s.TotalSumSpend, 1e-9)

	require.Len(t, s.TotalRebuyGroupedByProducts, 1)
	p := s.TotalRebuyGroupedByProducts[0]
	assert.Equal(t, "p2", p.ProductID)
	assert.Equal(t, 1, p.TotalTransactions)
	assert.InDelta(t, 10.0, p.AverageDaysBetweenPurchases, 1e-9)
	assert.InDelta(t, 60.0/320.0, p.PercentOfTotalSumSpend, 1e-9)
	assert.InDelta(t, 1.0/4.0, p.PercentOfTotalTransactions, 1e-9)
}

func TestBuildFirstBuyProducts(t *testing.T) {
	buyers := []*datatypes.BuyerData{
		testBuyer("a@x.com", shopItem("2024-01-01", "p1", "P1", "o1", 100)),
		testBuyer("b@x.com", shopItem("2024-01-02", "p1", "P1", "o2", 100)),
		testBuyer("c@x.com", shopItem("2024-01-03", "p2", "P2", "o3", 100)),
	}

	resp := BuildFirstBuyProducts(buyers)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "p1", resp.Data[0].ProductID)
	assert.ElementsMatch(t, []string{"o1", "o2"}, resp.Data[0].OfferIDs)
	assert.Equal(t, "p2", resp.Data[1].ProductID)
	assert.Equal(t, []string{"o3"}, resp.Data[1].OfferIDs)
}
