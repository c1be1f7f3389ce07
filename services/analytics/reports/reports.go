// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package reports derives the dashboard report payloads from a
// filtered, finalized buyer list. Every builder is pure and leaves
// its input untouched.
package reports

import (
	"math"
	"sort"
	"time"

	"github.com/omnilytics/omnilytics/services/analytics/buyer"
	"github.com/omnilytics/omnilytics/services/analytics/datatypes"
)

// BuildCustomerSummary computes the funnel overview. Buyers with a
// single transaction count as stopped in the funnel, everyone else as
// progressing. Rebuy aggregates cover every purchase after the first.
func BuildCustomerSummary(buyers []*datatypes.BuyerData) *datatypes.CustomerSummary {
	s := &datatypes.CustomerSummary{}

	var (
		allSpend               float64
		totalReBuy             float64
		totalFirstBuyTicket    float64
		firstBuyCount          int
		totalRebuyTicket       float64
		rebuyCount             int
		totalDaysToFirstRebuy  float64
		buyersWithRebuy        int
		totalFirstBuyPurchases float64
	)

	for _, b := range buyers {
		s.TotalTransactions += b.TotalTransactions
		allSpend += b.TotalSpend
		s.TotalBuyers++

		if b.FirstBuy != nil {
			totalReBuy += b.TotalSpend - b.FirstBuy.PurchaseValue
			totalFirstBuyTicket += b.FirstBuy.PurchaseValue
			totalFirstBuyPurchases += b.FirstBuy.PurchaseValue
			firstBuyCount++

			if len(b.ShopList) > 1 {
				days := b.ShopList[1].Time().Sub(b.ShopList[0].Time()).Hours() / 24
				totalDaysToFirstRebuy += days
				buyersWithRebuy++
				for _, item := range b.ShopList[1:] {
					totalRebuyTicket += item.PurchaseValue
					rebuyCount++
				}
			}
		}

		if b.TotalTransactions == 1 {
			s.StoppedInFunnel++
		} else {
			s.ProgressingInFunnel++
		}
	}

	s.TotalSpend = buyer.Round2(allSpend)
	s.TotalReBuy = buyer.Round2(totalReBuy)
	s.TotalFirstBuyPurchases = buyer.Round2(totalFirstBuyPurchases)

	if s.TotalBuyers > 0 {
		s.StoppedInFunnelPercent = float64(s.StoppedInFunnel) / float64(s.TotalBuyers)
		s.ProgressingInFunnelPct = float64(s.ProgressingInFunnel) / float64(s.TotalBuyers)
		s.AverageTransactions = float64(s.TotalTransactions) / float64(s.TotalBuyers)
		s.AverageLtv = buyer.Round2(allSpend / float64(s.TotalBuyers))
	}
	if s.TotalTransactions > 0 {
		s.AverageTicket = buyer.Round2(allSpend / float64(s.TotalTransactions))
	}
	if firstBuyCount > 0 {
		s.AverageFirstBuyTicket = buyer.Round2(totalFirstBuyTicket / float64(firstBuyCount))
	}
	if rebuyCount > 0 {
		s.AverageRebuyTicket = buyer.Round2(totalRebuyTicket / float64(rebuyCount))
	}
	if buyersWithRebuy > 0 {
		s.AverageDaysUntilFirstRebuy = buyer.Round2(totalDaysToFirstRebuy / float64(buyersWithRebuy))
	}
	return s
}

// Sortable order keys for the customer details listing.
var detailsOrderKeys = map[string]func(a, b *datatypes.BuyerData) bool{
	"buyerName":         func(a, b *datatypes.BuyerData) bool { return a.BuyerName < b.BuyerName },
	"buyerEmail":        func(a, b *datatypes.BuyerData) bool { return a.BuyerEmail < b.BuyerEmail },
	"totalSpend":        func(a, b *datatypes.BuyerData) bool { return a.TotalSpend < b.TotalSpend },
	"totalTransactions": func(a, b *datatypes.BuyerData) bool { return a.TotalTransactions < b.TotalTransactions },
	"averageTicket":     func(a, b *datatypes.BuyerData) bool { return a.AverageTicket < b.AverageTicket },
	"firstBuyDate":      func(a, b *datatypes.BuyerData) bool { return timeLess(a.FirstBuyDate, b.FirstBuyDate) },
	"lastBuyDate":       func(a, b *datatypes.BuyerData) bool { return timeLess(a.LastBuyDate, b.LastBuyDate) },
	"daysWithoutBuy":    func(a, b *datatypes.BuyerData) bool { return intPtrLess(a.DaysWithoutBuy, b.DaysWithoutBuy) },
	"daysInTheBusiness": func(a, b *datatypes.BuyerData) bool { return intPtrLess(a.DaysInTheBusiness, b.DaysInTheBusiness) },
}

func timeLess(a, b *time.Time) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return a.Before(*b)
}

func intPtrLess(a, b *int) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return *a < *b
}

// BuildCustomerDetails paginates the buyer listing. An unrecognized
// orderKey leaves the incoming order untouched; the direction
// defaults to descending.
func BuildCustomerDetails(buyers []*datatypes.BuyerData, page, limit int, orderKey, orderDirection string) *datatypes.CustomerDetails {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	sorted := make([]*datatypes.BuyerData, len(buyers))
	copy(sorted, buyers)

	if less, ok := detailsOrderKeys[orderKey]; ok {
		sort.SliceStable(sorted, func(i, j int) bool {
			if orderDirection == "ASC" {
				return less(sorted[i], sorted[j])
			}
			return less(sorted[j], sorted[i])
		})
	}

	totalBuyers := len(sorted)
	totalPages := (totalBuyers + limit - 1) / limit

	start := (page - 1) * limit
	if start > totalBuyers {
		start = totalBuyers
	}
	end := start + limit
	if end > totalBuyers {
		end = totalBuyers
	}

	totalTransactions := 0
	for _, b := range sorted {
		totalTransactions += b.TotalTransactions
	}

	return &datatypes.CustomerDetails{
		CurrentPage:       page,
		TotalPages:        totalPages,
		TotalBuyers:       totalBuyers,
		TotalTransactions: totalTransactions,
		Data:              sorted[start:end],
	}
}

// BuildProductReports aggregates spend per product and per offer.
// First-purchase attribution (TotalCustomers, spend fields) goes to
// the head of the shop list; TotalBuyersOfThisProduct and
// TotalBuyersOfThisOffer count each buyer once for any position.
func BuildProductReports(buyers []*datatypes.BuyerData) *datatypes.ProductReportsResponse {
	byProduct := make(map[string]*datatypes.ProductReport)
	var order []string

	getProduct := func(productID, productName string) *datatypes.ProductReport {
		p, ok := byProduct[productID]
		if !ok {
			p = &datatypes.ProductReport{ProductID: productID, Product: productName, Offers: []*datatypes.OfferReport{}}
			byProduct[productID] = p
			order = append(order, productID)
		}
		return p
	}
	getOffer := func(p *datatypes.ProductReport, offerID string) *datatypes.OfferReport {
		for _, o := range p.Offers {
			if o.OfferCode == offerID {
				return o
			}
		}
		o := &datatypes.OfferReport{OfferCode: offerID}
		p.Offers = append(p.Offers, o)
		return o
	}

	for _, b := range buyers {
		if len(b.ShopList) > 0 {
			first := b.ShopList[0]
			progress := b.TotalSpend - first.PurchaseValue

			p := getProduct(first.ProductID, first.ProductName)
			p.TotalCustomers++
			p.TotalSpend += b.TotalSpend
			p.TotalFirstSpend += first.PurchaseValue
			p.TotalProgressSpend += progress

			o := getOffer(p, first.OfferID)
			o.TotalCustomers++
			o.TotalSpend += b.TotalSpend
			o.TotalFirstSpend += first.PurchaseValue
			o.TotalProgressSpend += progress
		}

		countedProducts := make(map[string]bool)
		countedOffers := make(map[string]bool)
		for _, item := range b.ShopList {
			p := getProduct(item.ProductID, item.ProductName)
			if !countedProducts[item.ProductID] {
				p.TotalBuyersOfThisProduct++
				countedProducts[item.ProductID] = true
			}
			o := getOffer(p, item.OfferID)
			if !countedOffers[item.OfferID] {
				o.TotalBuyersOfThisOffer++
				countedOffers[item.OfferID] = true
			}
		}
	}

	data := make([]*datatypes.ProductReport, 0, len(order))
	for _, productID := range order {
		data = append(data, byProduct[productID])
	}
	return &datatypes.ProductReportsResponse{Data: data}
}

// rankedPositions is how many shop-list positions the LTV ranking
// covers. Purchases past the window are ignored.
const rankedPositions = 5

// BuildRankingLtv ranks products by revenue at each of the first five
// purchase positions and reports the first-purchase ranking.
func BuildRankingLtv(buyers []*datatypes.BuyerData) *datatypes.RankingLtvResponse {
	type position struct {
		total    float64
		products map[string]*datatypes.RankedProduct
		order    []string
	}
	positions := make([]*position, rankedPositions)
	for i := range positions {
		positions[i] = &position{products: make(map[string]*datatypes.RankedProduct)}
	}

	resp := &datatypes.RankingLtvResponse{}

	for _, b := range buyers {
		for idx, item := range b.ShopList {
			if idx >= rankedPositions {
				break
			}
			pos := positions[idx]
			resp.TotalSumSpend += item.PurchaseValue
			resp.TotalTransactions++
			pos.total += item.PurchaseValue

			rp, ok := pos.products[item.ProductID]
			if !ok {
				rp = &datatypes.RankedProduct{
					ProductID:    item.ProductID,
					ProductName:  item.ProductName,
					CurrencyCode: item.CurrencyCode,
				}
				pos.products[item.ProductID] = rp
				pos.order = append(pos.order, item.ProductID)
			}
			if !containsFloat(rp.PurchaseValues, item.PurchaseValue) {
				rp.PurchaseValues = append(rp.PurchaseValues, item.PurchaseValue)
			}
			rp.TotalPurchaseValue += item.PurchaseValue
			rp.Count++
		}
	}

	first := positions[0]
	ranking := &datatypes.PositionRanking{
		TopPurchases:            make([]*datatypes.RankedProduct, 0, len(first.order)),
		SumOfTotalPositionValue: first.total,
	}
	for _, productID := range first.order {
		ranking.TopPurchases = append(ranking.TopPurchases, first.products[productID])
	}
	sort.SliceStable(ranking.TopPurchases, func(i, j int) bool {
		return ranking.TopPurchases[i].TotalPurchaseValue > ranking.TopPurchases[j].TotalPurchaseValue
	})
	if resp.TotalSumSpend > 0 {
		ranking.PercentOfTotal = first.total / resp.TotalSumSpend * 100
	}
	resp.FirstPurchase = ranking
	return resp
}

func containsFloat(list []float64, v float64) bool {
	for _, f := range list {
		if f == v {
			return true
		}
	}
	return false
}

// BuildNewCustomersByDay groups buyers into daily cohorts by the date
// of their canonical first purchase. Buyers without one land in the
// "Unknown" cohort. The return multiple is lifetime value over
// first-purchase value.
func BuildNewCustomersByDay(buyers []*datatypes.BuyerData) *datatypes.NewCustomersByDayResponse {
	type cohort struct {
		buyers        int
		allSpend      float64
		firstBuyValue float64
		lifetimeValue float64
	}
	byDate := make(map[string]*cohort)

	for _, b := range buyers {
		date := "Unknown"
		if b.FirstBuy != nil {
			date = b.FirstBuy.Date
		}
		c, ok := byDate[date]
		if !ok {
			c = &cohort{}
			byDate[date] = c
		}
		c.buyers++
		c.allSpend += b.TotalSpend
		if b.FirstBuy != nil {
			c.firstBuyValue += b.FirstBuy.PurchaseValue
		}
		for _, item := range b.ShopList {
			c.lifetimeValue += item.PurchaseValue
		}
	}

	dates := make([]string, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	data := make([]*datatypes.DailyNewCustomers, 0, len(dates))
	for _, date := range dates {
		c := byDate[date]
		ret := 0.0
		if c.firstBuyValue > 0 {
			ret = c.lifetimeValue / c.firstBuyValue
		}
		data = append(data, &datatypes.DailyNewCustomers{
			Date:               date,
			TotalDailyBuyers:   c.buyers,
			TotalDailyAllSpend: buyer.Round2(c.allSpend),
			TotalDailyReturn:   buyer.Round2(ret),
		})
	}
	return &datatypes.NewCustomersByDayResponse{Data: data}
}

// BuildRebuySummary aggregates repeat purchases per product. Each
// buyer contributes their unique products past the first one; days
// between purchases are measured against the buyer's first purchase
// and rounded up.
func BuildRebuySummary(buyers []*datatypes.BuyerData) *datatypes.RebuySummaryResponse {
	summary := &datatypes.RebuySummary{TotalRebuyGroupedByProducts: []*datatypes.RebuyProduct{}}

	type rebuyAccum struct {
		product   *datatypes.RebuyProduct
		totalDays float64
	}
	byProduct := make(map[string]*rebuyAccum)
	var order []string

	var totalSpendBusiness float64
	var totalTransactionsBusiness int

	for _, b := range buyers {
		if len(b.ShopList) == 0 {
			continue
		}
		firstDate := b.ShopList[0].Time()
		totalSpendBusiness += b.TotalSpend
		totalTransactionsBusiness += b.TotalTransactions

		unique := make(map[string]bool)
		uniqueItems := make([]*datatypes.ShopItem, 0, len(b.ShopList))
		for _, item := range b.ShopList {
			if unique[item.ProductID] {
				continue
			}
			unique[item.ProductID] = true
			uniqueItems = append(uniqueItems, item)
		}

		for idx, item := range uniqueItems {
			if idx == 0 {
				continue
			}
			daysBetween := math.Ceil(item.Time().Sub(firstDate).Hours() / 24)
			summary.TotalSumSpend += item.PurchaseValue
			summary.TotalTransactions++

			acc, ok := byProduct[item.ProductID]
			if !ok {
				acc = &rebuyAccum{product: &datatypes.RebuyProduct{
					ProductID:   item.ProductID,
					ProductName: item.ProductName,
					OfferIDList: []string{},
				}}
				byProduct[item.ProductID] = acc
				order = append(order, item.ProductID)
			}
			acc.product.TotalSpend += item.PurchaseValue
			acc.product.TotalTransactions++
			acc.totalDays += daysBetween
		}
	}

	for _, productID := range order {
		acc := byProduct[productID]
		if acc.product.TotalTransactions > 0 {
			acc.product.AverageDaysBetweenPurchases = acc.totalDays / float64(acc.product.TotalTransactions)
		}
		if totalSpendBusiness > 0 {
			acc.product.PercentOfTotalSumSpend = acc.product.TotalSpend / totalSpendBusiness
		}
		if totalTransactionsBusiness > 0 {
			acc.product.PercentOfTotalTransactions = float64(acc.product.TotalTransactions) / float64(totalTransactionsBusiness)
		}
		summary.TotalRebuyGroupedByProducts = append(summary.TotalRebuyGroupedByProducts, acc.product)
	}
	return &datatypes.RebuySummaryResponse{Data: summary}
}

// BuildFirstBuyProducts lists every product that appears as some
// buyer's canonical first purchase, with the offers it was
// first-bought under.
func BuildFirstBuyProducts(buyers []*datatypes.BuyerData) *datatypes.FirstBuyProductsResponse {
	byProduct := make(map[string]*datatypes.FirstBuyProduct)
	var order []string

	for _, b := range buyers {
		if b.FirstBuy == nil || b.FirstBuy.ProductID == "" {
			continue
		}
		p, ok := byProduct[b.FirstBuy.ProductID]
		if !ok {
			p = &datatypes.FirstBuyProduct{
				ProductID:   b.FirstBuy.ProductID,
				ProductName: b.FirstBuy.ProductName,
				OfferIDs:    []string{},
			}
			byProduct[b.FirstBuy.ProductID] = p
			order = append(order, b.FirstBuy.ProductID)
		}
		if b.FirstBuy.OfferID != "" {
			p.OfferIDs = datatypes.AddToSet(p.OfferIDs, b.FirstBuy.OfferID)
		}
	}

	data := make([]*datatypes.FirstBuyProduct, 0, len(order))
	for _, productID := range order {
		data = append(data, byProduct[productID])
	}
	return &datatypes.FirstBuyProductsResponse{Data: data}
}
