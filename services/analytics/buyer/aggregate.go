// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package buyer

import (
	"time"

	"github.com/omnilytics/omnilytics/services/analytics/datatypes"
)

// Aggregate runs the full resolution pipeline over a slice of raw sale
// rows and returns the filtered, ordered buyer list.
//
// Description:
//
//	Rows are grouped per email, merged across shared documents and then
//	shared phones, enriched with derived metrics relative to now, sorted
//	by transaction count descending and finally reduced by the filter
//	set. The pipeline is pure: callers own the input slice and may
//	reuse it afterwards.
//
// Inputs:
//   - rows: raw sale rows, any order.
//   - f: buyer-level filters built via FiltersFromRequest.
//   - now: reference instant for day-based metrics.
//
// Outputs:
//   - []*datatypes.BuyerData: surviving buyers, transactions descending.
func Aggregate(rows []*datatypes.SaleRow, f Filters, now time.Time) []*datatypes.BuyerData {
	buyers := Group(rows)
	buyers = MergeByDocument(buyers)
	buyers = MergeByPhone(buyers)
	ComputeMetrics(buyers, now)
	ordered := SortByTransactions(buyers)
	return Apply(ordered, f)
}
