// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package buyer

import (
	"math"
	"time"

	"github.com/omnilytics/omnilytics/services/analytics/datatypes"
)

const hoursPerDay = 24

// ComputeMetrics finalizes every buyer in the map: orders the shop
// list, fixes the canonical first purchase, and computes the derived
// fields. The clock is injected so day-based metrics are
// deterministic under test; callers pass time.Now().
//
// The computation is idempotent: re-running it on a finalized buyer
// produces identical derived fields.
func ComputeMetrics(buyers map[string]*datatypes.BuyerData, now time.Time) {
	for _, b := range buyers {
		computeBuyerMetrics(b, now)
	}
}

func computeBuyerMetrics(b *datatypes.BuyerData, now time.Time) {
	sortShopList(b.ShopList)
	promoteFirstNonChild(b.ShopList)

	b.FirstBuy = nil
	for _, item := range b.ShopList {
		if !item.IsChild() {
			b.FirstBuy = item
			break
		}
	}

	b.AverageDaysBetweenPurchases = nil
	if len(b.ShopList) > 1 {
		var totalDays float64
		for i := 1; i < len(b.ShopList); i++ {
			delta := b.ShopList[i].Time().Sub(b.ShopList[i-1].Time())
			totalDays += delta.Hours() / hoursPerDay
		}
		avg := totalDays / float64(len(b.ShopList)-1)
		b.AverageDaysBetweenPurchases = &avg
	}

	b.AverageTicket = 0
	if b.TotalTransactions > 0 {
		b.AverageTicket = Round2(b.TotalSpend / float64(b.TotalTransactions))
	}

	b.DaysInTheBusiness = wholeDaysSince(b.FirstBuyDate, now)
	b.DaysWithoutBuy = wholeDaysSince(b.LastBuyDate, now)

	b.LastBuy = nil
	if n := len(b.ShopList); n > 0 {
		b.LastBuy = b.ShopList[n-1]
	}
}

// wholeDaysSince returns the whole-day floor of now-anchor, or nil
// when the anchor is absent.
func wholeDaysSince(anchor *time.Time, now time.Time) *int {
	if anchor == nil {
		return nil
	}
	days := int(math.Floor(now.Sub(*anchor).Hours() / hoursPerDay))
	return &days
}

// Round2 rounds to 2 decimal places, the precision of every monetary
// aggregate in the reports.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
