// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
)

// ConditionType selects the semantics of a set-membership filter:
// "OU" (OR) passes when at least one shop-list item matches, "E"
// (AND) requires every id in the filter list to be matched by some
// item. The Portuguese values are the wire contract of the upstream
// dashboard and are kept as-is.
type ConditionType string

const (
	// ConditionOr is the "OU" (at least one) condition.
	ConditionOr ConditionType = "OU"

	// ConditionAnd is the "E" (all of) condition.
	ConditionAnd ConditionType = "E"
)

// CurrencyAny is the sentinel the dashboard sends to disable the
// currency filter entirely.
const CurrencyAny = "DESCONSIDERAR MOEDA"

// ReportRequest is the read-path input shared by every report
// endpoint. ProjectID and UserID scope the query; everything else is
// optional. Dynamic upstream bodies are mapped onto this one explicit
// struct; unrecognized fields are dropped at decode time.
type ReportRequest struct {
	ProjectID string `json:"projectId" binding:"required" validate:"required"`
	UserID    string `json:"userId" binding:"required" validate:"required"`

	// Row-level scoping, applied by the backing store query.
	StartDate  string   `json:"startDate,omitempty"`
	EndDate    string   `json:"endDate,omitempty"`
	Currency   string   `json:"currencyReq,omitempty"`
	SourceSrcs []string `json:"sourceSrcs,omitempty"`
	SourceScks []string `json:"sourceScks,omitempty"`

	// Buyer-attribute filters, expanded to cluster ids before the
	// store query.
	BuyerEmail    string `json:"buyer_email,omitempty"`
	BuyerPhone    string `json:"buyer_phone,omitempty"`
	BuyerDocument string `json:"buyer_document,omitempty"`
	BuyerName     string `json:"buyer_name,omitempty"`

	// Buyer-level filters, applied by the filter engine after
	// aggregation. Pointer fields distinguish "absent" from zero.
	FirstBuyStartDate  string   `json:"firstBuyStartDate,omitempty"`
	FirstBuyEndDate    string   `json:"firstBuyEndDate,omitempty"`
	FirstBuyProductIDs []string `json:"firstBuyProductIds,omitempty"`
	FirstBuyOfferIDs   []string `json:"firstBuyOfferIds,omitempty"`
	MaxDaysWithoutBuy  *int     `json:"maxDaysWoBuy,omitempty"`
	MinDaysWithoutBuy  *int     `json:"minDaysWoBuy,omitempty"`
	MaxLTV             *float64 `json:"maxLTV,omitempty"`
	MinLTV             *float64 `json:"minLTV,omitempty"`
	MaxTransactions    *int     `json:"maxTransactions,omitempty"`
	MinTransactions    *int     `json:"minTransactions,omitempty"`

	ContainProductIDs []string `json:"containProductIds,omitempty"`
	ContainOfferIDs   []string `json:"containOfferIds,omitempty"`
	RemProductIDs     []string `json:"remProductIds,omitempty"`
	RemOfferIDs       []string `json:"remOfferIds,omitempty"`

	ConditionContainProductIDs ConditionType `json:"conditionContainProductIds,omitempty" binding:"omitempty,oneof=OU E" validate:"omitempty,oneof=OU E"`
	ConditionContainOfferIDs   ConditionType `json:"conditionContainOfferIds,omitempty" binding:"omitempty,oneof=OU E" validate:"omitempty,oneof=OU E"`
	ConditionRemProductIDs     ConditionType `json:"conditionRemProductIds,omitempty" binding:"omitempty,oneof=OU E" validate:"omitempty,oneof=OU E"`
	ConditionRemOfferIDs       ConditionType `json:"conditionRemOfferIds,omitempty" binding:"omitempty,oneof=OU E" validate:"omitempty,oneof=OU E"`

	// Presentation hints, consumed by the reporting layer only. They
	// are excluded from the cache key: the underlying buyer set does
	// not depend on them.
	Page           int    `json:"page,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	OrderKey       string `json:"orderKey,omitempty"`
	OrderDirection string `json:"orderDirection,omitempty" binding:"omitempty,oneof=ASC DESC" validate:"omitempty,oneof=ASC DESC"`
}

var requestValidator = validator.New()

// Validate checks the request outside of gin's binding path (CLI,
// tests, internal callers).
func (r *ReportRequest) Validate() error {
	return requestValidator.Struct(r)
}

// Normalize applies upstream defaulting rules in place: the literal
// string "null" counts as absent, the currency defaults to BRL, and
// conditions default to OR.
func (r *ReportRequest) Normalize() {
	clearNullString(&r.StartDate)
	clearNullString(&r.EndDate)
	clearNullString(&r.FirstBuyStartDate)
	clearNullString(&r.FirstBuyEndDate)

	if r.Currency == "null" || r.Currency == "" {
		r.Currency = "BRL"
	}

	defaultCondition(&r.ConditionContainProductIDs)
	defaultCondition(&r.ConditionContainOfferIDs)
	defaultCondition(&r.ConditionRemProductIDs)
	defaultCondition(&r.ConditionRemOfferIDs)

	if r.Page <= 0 {
		r.Page = 1
	}
	if r.Limit <= 0 {
		r.Limit = 20
	}
}

func clearNullString(s *string) {
	if *s == "null" {
		*s = ""
	}
}

func defaultCondition(c *ConditionType) {
	if *c != ConditionAnd {
		*c = ConditionOr
	}
}

// ParseDate parses a request-level date bound. ok is false for empty
// or malformed values, which are treated as "no bound".
func ParseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{DateLayout, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// cacheKeyBody is the canonical projection of a ReportRequest used
// for cache keying: normalized defaults, sorted id lists, and no
// presentation hints.
type cacheKeyBody struct {
	ProjectID string `json:"projectId"`
	UserID    string `json:"userId"`

	StartDate  string   `json:"startDate"`
	EndDate    string   `json:"endDate"`
	Currency   string   `json:"currency"`
	SourceSrcs []string `json:"sourceSrcs"`
	SourceScks []string `json:"sourceScks"`

	BuyerEmail    string `json:"buyerEmail"`
	BuyerPhone    string `json:"buyerPhone"`
	BuyerDocument string `json:"buyerDocument"`
	BuyerName     string `json:"buyerName"`

	FirstBuyStartDate  string   `json:"firstBuyStartDate"`
	FirstBuyEndDate    string   `json:"firstBuyEndDate"`
	FirstBuyProductIDs []string `json:"firstBuyProductIds"`
	FirstBuyOfferIDs   []string `json:"firstBuyOfferIds"`
	MaxDaysWithoutBuy  *int     `json:"maxDaysWoBuy"`
	MinDaysWithoutBuy  *int     `json:"minDaysWoBuy"`
	MaxLTV             *float64 `json:"maxLTV"`
	MinLTV             *float64 `json:"minLTV"`
	MaxTransactions    *int     `json:"maxTransactions"`
	MinTransactions    *int     `json:"minTransactions"`

	ContainProductIDs []string `json:"containProductIds"`
	ContainOfferIDs   []string `json:"containOfferIds"`
	RemProductIDs     []string `json:"remProductIds"`
	RemOfferIDs       []string `json:"remOfferIds"`

	ConditionContainProductIDs ConditionType `json:"conditionContainProductIds"`
	ConditionContainOfferIDs   ConditionType `json:"conditionContainOfferIds"`
	ConditionRemProductIDs     ConditionType `json:"conditionRemProductIds"`
	ConditionRemOfferIDs       ConditionType `json:"conditionRemOfferIds"`
}

// CacheKey returns the deterministic content-addressed key for this
// request: sha256 over the canonical body. Two requests that differ
// only in list order or presentation hints share a key.
func (r *ReportRequest) CacheKey() string {
	normalized := *r
	normalized.Normalize()

	body := cacheKeyBody{
		ProjectID:          normalized.ProjectID,
		UserID:             normalized.UserID,
		StartDate:          normalized.StartDate,
		EndDate:            normalized.EndDate,
		Currency:           normalized.Currency,
		SourceSrcs:         sortedCopy(normalized.SourceSrcs),
		SourceScks:         sortedCopy(normalized.SourceScks),
		BuyerEmail:         normalized.BuyerEmail,
		BuyerPhone:         normalized.BuyerPhone,
		BuyerDocument:      normalized.BuyerDocument,
		BuyerName:          normalized.BuyerName,
		FirstBuyStartDate:  normalized.FirstBuyStartDate,
		FirstBuyEndDate:    normalized.FirstBuyEndDate,
		FirstBuyProductIDs: sortedCopy(normalized.FirstBuyProductIDs),
		FirstBuyOfferIDs:   sortedCopy(normalized.FirstBuyOfferIDs),
		MaxDaysWithoutBuy:  normalized.MaxDaysWithoutBuy,
		MinDaysWithoutBuy:  normalized.MinDaysWithoutBuy,
		MaxLTV:             normalized.MaxLTV,
		MinLTV:             normalized.MinLTV,
		MaxTransactions:    normalized.MaxTransactions,
		MinTransactions:    normalized.MinTransactions,
		ContainProductIDs:  sortedCopy(normalized.ContainProductIDs),
		ContainOfferIDs:    sortedCopy(normalized.ContainOfferIDs),
		RemProductIDs:      sortedCopy(normalized.RemProductIDs),
		RemOfferIDs:        sortedCopy(normalized.RemOfferIDs),

		ConditionContainProductIDs: normalized.ConditionContainProductIDs,
		ConditionContainOfferIDs:   normalized.ConditionContainOfferIDs,
		ConditionRemProductIDs:     normalized.ConditionRemProductIDs,
		ConditionRemOfferIDs:       normalized.ConditionRemOfferIDs,
	}

	// Struct marshaling has deterministic field order.
	data, _ := json.Marshal(body)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
