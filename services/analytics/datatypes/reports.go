// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// CustomerSummary is the funnel overview produced by the customer
// report endpoint. Monetary aggregates are rounded to 2 decimals.
type CustomerSummary struct {
	TotalTransactions         int     `json:"totalTransactions"`
	StoppedInFunnel           int     `json:"stoppedInFunnel"`
	StoppedInFunnelPercent    float64 `json:"stoppedInFunnelPercent"`
	ProgressingInFunnel       int     `json:"progressingInFunnel"`
	ProgressingInFunnelPct    float64 `json:"progressingInFunnelPercent"`
	AverageTransactions       float64 `json:"averageTransactions"`
	TotalSpend                float64 `json:"totalSpend"`
	TotalBuyers               int     `json:"totalBuyers"`
	AverageLtv                float64 `json:"averageLtv"`
	AverageTicket             float64 `json:"averageTicket"`
	TotalReBuy                float64 `json:"totalReBuy"`
	TotalFirstBuyPurchases    float64 `json:"totalFirstBuyPurchases"`
	AverageDaysUntilFirstRebuy float64 `json:"averageDaysUntilFirstRebuy"`
	AverageFirstBuyTicket     float64 `json:"averageFirstBuyTicket"`
	AverageRebuyTicket        float64 `json:"averageRebuyTicket"`
}

// CustomerDetails is the paginated buyer listing.
type CustomerDetails struct {
	CurrentPage       int          `json:"currentPage"`
	TotalPages        int          `json:"totalPages"`
	TotalBuyers       int          `json:"totalBuyers"`
	TotalTransactions int          `json:"totalTransactions"`
	Data              []*BuyerData `json:"data"`
}

// OfferReport aggregates spend attributed to one offer.
type OfferReport struct {
	OfferCode             string  `json:"offerCode"`
	TotalCustomers        int     `json:"totalCustomers"`
	TotalBuyersOfThisOffer int    `json:"totalBuyersOfThisOffer"`
	TotalSpend            float64 `json:"totalSpend"`
	TotalFirstSpend       float64 `json:"totalFirstSpend"`
	TotalProgressSpend    float64 `json:"totalProgressSpend"`
}

// ProductReport aggregates spend attributed to one product.
// TotalCustomers counts buyers whose first purchase was this product;
// TotalBuyersOfThisProduct counts buyers with the product anywhere in
// their shop list.
type ProductReport struct {
	ProductID                string         `json:"productId"`
	Product                  string         `json:"product"`
	TotalCustomers           int            `json:"totalCustomers"`
	TotalBuyersOfThisProduct int            `json:"totalBuyersOfThisProduct"`
	TotalSpend               float64        `json:"totalSpend"`
	TotalFirstSpend          float64        `json:"totalFirstSpend"`
	TotalProgressSpend       float64        `json:"totalProgressSpend"`
	Offers                   []*OfferReport `json:"offers"`
}

// ProductReportsResponse wraps the per-product reports.
type ProductReportsResponse struct {
	Data []*ProductReport `json:"data"`
}

// RankedProduct is one product's aggregate at a fixed shop-list
// position in the LTV ranking report.
type RankedProduct struct {
	ProductID          string    `json:"productId"`
	ProductName        string    `json:"productName"`
	CurrencyCode       string    `json:"currencyCode"`
	PurchaseValues     []float64 `json:"purchaseValue"`
	TotalPurchaseValue float64   `json:"totalPurchaseValue"`
	Count              int       `json:"count"`
}

// PositionRanking holds the product ranking for one purchase position.
type PositionRanking struct {
	TopPurchases            []*RankedProduct `json:"topPurchases"`
	SumOfTotalPositionValue float64          `json:"sumOfTotalPositionValue"`
	PercentOfTotal          float64          `json:"percentOfTotal"`
}

// RankingLtvResponse is the purchase-position ranking report.
type RankingLtvResponse struct {
	TotalTransactions int              `json:"totalTransactions"`
	TotalSumSpend     float64          `json:"totalSumSpend"`
	FirstPurchase     *PositionRanking `json:"t5FirstPurchase"`
}

// DailyNewCustomers is one day's cohort in the new-customers report.
type DailyNewCustomers struct {
	Date                string  `json:"date"`
	TotalDailyBuyers    int     `json:"totalDailyBuyers"`
	TotalDailyAllSpend  float64 `json:"totalDailyAllSpend"`
	TotalDailyReturn    float64 `json:"totalDailyReturn"`
}

// NewCustomersByDayResponse wraps the daily cohorts.
type NewCustomersByDayResponse struct {
	Data []*DailyNewCustomers `json:"data"`
}

// RebuyProduct is one product's rebuy aggregate.
type RebuyProduct struct {
	ProductID                   string   `json:"productId"`
	ProductName                 string   `json:"productName"`
	OfferIDList                 []string `json:"offerIdList"`
	TotalSpend                  float64  `json:"totalSpend"`
	TotalTransactions           int      `json:"totalTransactions"`
	AverageDaysBetweenPurchases float64  `json:"averageDaysBetweenPurchases"`
	PercentOfTotalSumSpend      float64  `json:"percentOfTotalSumSpend"`
	PercentOfTotalTransactions  float64  `json:"percentOfTotalTransactions"`
}

// RebuySummary is the product rebuy report.
type RebuySummary struct {
	TotalTransactions         int             `json:"totalTransactions"`
	TotalSumSpend             float64         `json:"totalSumSpend"`
	TotalRebuyGroupedByProducts []*RebuyProduct `json:"totalRebuyGroupedByProducts"`
}

// RebuySummaryResponse wraps the rebuy report.
type RebuySummaryResponse struct {
	Data *RebuySummary `json:"data"`
}

// FirstBuyProduct lists a product seen as some buyer's first purchase
// together with the offers it was first-bought under.
type FirstBuyProduct struct {
	ProductID   string   `json:"productId"`
	ProductName string   `json:"productName"`
	OfferIDs    []string `json:"offerIds"`
}

// FirstBuyProductsResponse wraps the first-buy product listing.
type FirstBuyProductsResponse struct {
	Data []*FirstBuyProduct `json:"data"`
}

// UploadResponse reports the outcome of a sales CSV chunk upload.
type UploadResponse struct {
	Message          string `json:"message"`
	RowsReceived     int    `json:"rowsReceived"`
	RowsUpserted     int    `json:"rowsUpserted"`
	ClustersResolved int    `json:"clustersResolved"`
	ClusterFailures  int    `json:"clusterFailures"`
}
