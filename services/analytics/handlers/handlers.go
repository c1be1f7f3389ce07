// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers contains the HTTP handlers for the analytics
// service: the sales upload endpoint and the report endpoints.
//
// Every report endpoint shares one pipeline: bind and normalize the
// request, expand buyer-attribute filters to cluster ids, fetch the
// scoped rows, aggregate them into buyers, and derive the
// endpoint-specific payload. The aggregated buyer list is what the
// result cache stores; the per-endpoint derivation is cheap and runs
// on every request.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/omnilytics/omnilytics/services/analytics/buyer"
	"github.com/omnilytics/omnilytics/services/analytics/cache"
	"github.com/omnilytics/omnilytics/services/analytics/cluster"
	"github.com/omnilytics/omnilytics/services/analytics/datatypes"
	"github.com/omnilytics/omnilytics/services/analytics/observability"
	"github.com/omnilytics/omnilytics/services/analytics/reports"
	"github.com/omnilytics/omnilytics/services/analytics/storage"
)

// ServiceVersion is the analytics service version.
const ServiceVersion = "1.0.0"

// Handlers wires the HTTP surface to the storage, cluster and cache
// layers.
type Handlers struct {
	store    *storage.SalesStore
	bumps    *storage.BumpIndexStore
	resolver *cluster.Resolver
	cache    *cache.Coordinator
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandlers creates the handler set. A nil logger disables request
// logging.
func NewHandlers(store *storage.SalesStore, bumps *storage.BumpIndexStore, resolver *cluster.Resolver, coordinator *cache.Coordinator, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handlers{
		store:    store,
		bumps:    bumps,
		resolver: resolver,
		cache:    coordinator,
		logger:   logger,
		now:      time.Now,
	}
}

// HealthCheck handles GET /health.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": ServiceVersion})
}

// bindReport decodes and normalizes a report request. A nil return
// means the response has already been written.
func (h *Handlers) bindReport(c *gin.Context) *datatypes.ReportRequest {
	var req datatypes.ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil
	}
	req.Normalize()
	return &req
}

// filteredBuyers returns the aggregated, filtered buyer list for the
// request, served through the result cache. An empty list is never
// cached: the caller may be racing an upload.
func (h *Handlers) filteredBuyers(ctx context.Context, req *datatypes.ReportRequest) ([]*datatypes.BuyerData, error) {
	raw, err := h.cache.Do(ctx, req.ProjectID, req.UserID, req.CacheKey(), func(ctx context.Context) (json.RawMessage, bool, error) {
		buyers, err := h.aggregate(ctx, req)
		if err != nil {
			return nil, false, err
		}
		data, err := json.Marshal(buyers)
		if err != nil {
			return nil, false, err
		}
		return data, len(buyers) > 0, nil
	})
	if err != nil {
		return nil, err
	}

	var buyers []*datatypes.BuyerData
	if err := json.Unmarshal(raw, &buyers); err != nil {
		return nil, err
	}
	return buyers, nil
}

func (h *Handlers) aggregate(ctx context.Context, req *datatypes.ReportRequest) ([]*datatypes.BuyerData, error) {
	filter := storage.RowFilter{
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		Currency:   req.Currency,
		SourceSrcs: req.SourceSrcs,
		SourceScks: req.SourceScks,
	}

	// Buyer-attribute filters narrow the row scan to matching
	// clusters. A lookup failure or an empty match degrades to no
	// narrowing rather than an error.
	query := cluster.Query{
		Email:    req.BuyerEmail,
		Phone:    req.BuyerPhone,
		Document: req.BuyerDocument,
		Name:     req.BuyerName,
	}
	if !query.Empty() {
		clusterIDs, err := h.resolver.FindClusters(ctx, query)
		if err != nil {
			h.logger.Warn("cluster filter expansion failed, scanning full scope",
				slog.String("error", err.Error()))
		} else if len(clusterIDs) > 0 {
			filter.ClusterIDs = clusterIDs
		}
	}

	rows, err := h.store.FetchAll(ctx, req.ProjectID, req.UserID, filter)
	if err != nil {
		return nil, err
	}
	observability.AggregationRows.Observe(float64(len(rows)))

	buyers := buyer.Aggregate(rows, buyer.FiltersFromRequest(req), h.now())
	return buyers, nil
}

// report runs the shared pipeline and hands the buyer list to the
// endpoint-specific builder.
func (h *Handlers) report(c *gin.Context, endpoint string, build func(buyers []*datatypes.BuyerData, req *datatypes.ReportRequest) any) {
	start := time.Now()
	req := h.bindReport(c)
	if req == nil {
		observability.ReportRequests.WithLabelValues(endpoint, "bad_request").Inc()
		return
	}

	buyers, err := h.filteredBuyers(c.Request.Context(), req)
	if err != nil {
		observability.ReportRequests.WithLabelValues(endpoint, "error").Inc()
		h.logger.Error("report failed",
			slog.String("endpoint", endpoint),
			slog.String("project_id", req.ProjectID),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	observability.ReportRequests.WithLabelValues(endpoint, "ok").Inc()
	observability.ReportDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	c.JSON(http.StatusOK, build(buyers, req))
}

// CustomerReport handles POST /v1/reports/customers.
func (h *Handlers) CustomerReport(c *gin.Context) {
	h.report(c, "customers", func(buyers []*datatypes.BuyerData, _ *datatypes.ReportRequest) any {
		return reports.BuildCustomerSummary(buyers)
	})
}

// CustomerDetails handles POST /v1/reports/customers/details.
func (h *Handlers) CustomerDetails(c *gin.Context) {
	h.report(c, "customer_details", func(buyers []*datatypes.BuyerData, req *datatypes.ReportRequest) any {
		return reports.BuildCustomerDetails(buyers, req.Page, req.Limit, req.OrderKey, req.OrderDirection)
	})
}

// NewCustomersByDay handles POST /v1/reports/customers/by-day.
func (h *Handlers) NewCustomersByDay(c *gin.Context) {
	h.report(c, "customers_by_day", func(buyers []*datatypes.BuyerData, _ *datatypes.ReportRequest) any {
		return reports.BuildNewCustomersByDay(buyers)
	})
}

// ProductReports handles POST /v1/reports/products.
func (h *Handlers) ProductReports(c *gin.Context) {
	h.report(c, "products", func(buyers []*datatypes.BuyerData, _ *datatypes.ReportRequest) any {
		return reports.BuildProductReports(buyers)
	})
}

// RankingLtv handles POST /v1/reports/products/ranking-ltv.
func (h *Handlers) RankingLtv(c *gin.Context) {
	h.report(c, "ranking_ltv", func(buyers []*datatypes.BuyerData, _ *datatypes.ReportRequest) any {
		return reports.BuildRankingLtv(buyers)
	})
}

// RebuySummary handles POST /v1/reports/products/rebuy-summary.
func (h *Handlers) RebuySummary(c *gin.Context) {
	h.report(c, "rebuy_summary", func(buyers []*datatypes.BuyerData, _ *datatypes.ReportRequest) any {
		return reports.BuildRebuySummary(buyers)
	})
}

// FirstBuyProducts handles POST /v1/reports/products/first-buy.
func (h *Handlers) FirstBuyProducts(c *gin.Context) {
	h.report(c, "first_buy_products", func(buyers []*datatypes.BuyerData, _ *datatypes.ReportRequest) any {
		return reports.BuildFirstBuyProducts(buyers)
	})
}

// UploadSales handles POST /v1/sales/upload. The body is a JSON array
// of raw sale rows, one CSV chunk per request.
//
// Description:
//
//	Rows get a fresh id, malformed transaction dates are blanked, the
//	chunk is deduplicated by idempotency key, and each unique row's
//	identity is resolved to a customer cluster before the batch is
//	upserted. Cluster resolution is best effort: a failure leaves the
//	row untagged and is reported in the response, never as an error
//	status.
func (h *Handlers) UploadSales(c *gin.Context) {
	var rows []*datatypes.SaleRow
	if err := c.ShouldBindJSON(&rows); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be an array of sale rows"})
		return
	}

	ctx := c.Request.Context()
	resolved := 0
	failures := 0

	for _, row := range rows {
		row.ID = uuid.NewString()
		if _, ok := row.Date(); !ok {
			row.TransactionDate = ""
		}

		clusterID, err := h.resolver.Resolve(ctx, cluster.Identity{
			Email:    row.BuyerEmail,
			Phone:    row.BuyerPhone,
			Document: row.BuyerDocument,
			Name:     row.BuyerName,
		})
		switch {
		case errors.Is(err, cluster.ErrNoIdentity):
			// Row has no usable identity key; it stays untagged.
		case err != nil:
			failures++
			observability.ClusterResolutions.WithLabelValues("failed").Inc()
			h.logger.Warn("cluster resolution failed",
				slog.String("transaction_code", row.TransactionCode),
				slog.String("error", err.Error()))
		default:
			resolved++
			observability.ClusterResolutions.WithLabelValues("resolved").Inc()
			row.CustomerHash = clusterID
		}
	}

	upserted, err := h.store.Upsert(ctx, rows)
	if err != nil {
		h.logger.Error("sales upsert failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	observability.RowsUploaded.Add(float64(len(rows)))
	c.JSON(http.StatusOK, datatypes.UploadResponse{
		Message:          "upload processed",
		RowsReceived:     len(rows),
		RowsUpserted:     upserted,
		ClustersResolved: resolved,
		ClusterFailures:  failures,
	})
}

// ListBumpIndex handles GET /v1/sales/bump-index. projectId and
// userId arrive as query parameters.
func (h *Handlers) ListBumpIndex(c *gin.Context) {
	projectID := c.Query("projectId")
	userID := c.Query("userId")
	if projectID == "" || userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "projectId and userId query parameters are required"})
		return
	}

	entries, err := h.bumps.List(c.Request.Context(), projectID, userID)
	if err != nil {
		h.logger.Error("bump-index list failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entries)
}

// ManageBumpIndex handles POST /v1/sales/bump-index. Condition "add"
// upserts the entry and tags every matching stored sale as a bump
// child; "delete" removes the entry and clears the tag. Either way
// the report cache is flushed: a bump change rewrites rows in place,
// which the cache's row-count probe cannot detect.
func (h *Handlers) ManageBumpIndex(c *gin.Context) {
	var req datatypes.BumpIndexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	var (
		updated int
		err     error
	)
	switch req.Condition {
	case datatypes.BumpConditionAdd:
		err = h.bumps.Put(ctx, &datatypes.BumpIndexEntry{
			ProjectID:   req.ProjectID,
			UserID:      req.UserID,
			ProductID:   req.ProductID,
			ProductName: req.ProductName,
			OfferIDs:    req.OfferIDs,
		})
		if err == nil {
			updated, err = h.store.UpdateBumpIndex(ctx, req.ProjectID, req.UserID, req.ProductID, req.OfferIDs, datatypes.BumpChild)
		}
	case datatypes.BumpConditionDelete:
		err = h.bumps.Delete(ctx, req.ProjectID, req.UserID, req.ProductID)
		if err == nil {
			updated, err = h.store.UpdateBumpIndex(ctx, req.ProjectID, req.UserID, req.ProductID, req.OfferIDs, "")
		}
	}
	if err != nil {
		h.logger.Error("bump-index update failed",
			slog.String("product_id", req.ProductID),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.cache.Flush(); err != nil {
		h.logger.Warn("cache flush after bump-index update failed", slog.String("error", err.Error()))
	}

	c.JSON(http.StatusOK, datatypes.BumpIndexResponse{
		Message:     "bump index updated",
		RowsUpdated: updated,
	})
}
