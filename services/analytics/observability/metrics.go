// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability holds the Prometheus metrics exposed by the
// analytics service.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReportRequests counts report requests by endpoint and result.
	ReportRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omnilytics_report_requests_total",
		Help: "Total report requests by endpoint and result",
	}, []string{"endpoint", "result"})

	// ReportDuration tracks end-to-end report latency per endpoint.
	ReportDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "omnilytics_report_duration_seconds",
		Help:    "Report request duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
	}, []string{"endpoint"})

	// CacheOutcomes counts result cache lookups by outcome.
	CacheOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omnilytics_result_cache_total",
		Help: "Result cache lookups by outcome (hit, stale, miss, coalesced, error)",
	}, []string{"outcome"})

	// RowsUploaded counts raw sale rows accepted per upload.
	RowsUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omnilytics_rows_uploaded_total",
		Help: "Total raw sale rows accepted by the upload endpoint",
	})

	// ClusterResolutions counts identity cluster resolutions by result.
	ClusterResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omnilytics_cluster_resolutions_total",
		Help: "Identity cluster resolutions by result (resolved, failed)",
	}, []string{"result"})

	// AggregationRows tracks how many rows each aggregation processed.
	AggregationRows = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "omnilytics_aggregation_rows",
		Help:    "Rows processed per buyer aggregation",
		Buckets: []float64{10, 100, 1000, 10000, 100000, 1000000},
	})
)
