// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the wire and domain types shared by the
// analytics service: raw sale rows, the buyer aggregate, report
// requests and report responses.
package datatypes

import "time"

// DateLayout is the canonical transaction date format used across the
// store, the engine, and the reports.
const DateLayout = "2006-01-02"

// SaleRow is one raw sales transaction as uploaded from a CSV chunk.
// Rows are immutable once stored; CustomerHash is the only field
// written after the initial upsert (best-effort cluster tagging).
type SaleRow struct {
	ID                string `json:"id"`
	TransactionCode   string `json:"transaction_code"`
	TransactionStatus string `json:"transaction_status"`

	// TransactionDate is an ISO date (DateLayout) or empty when the
	// upload carried an unparseable value.
	TransactionDate string `json:"transaction_date"`

	Producer    string `json:"producer"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	OfferID     string `json:"offer_id"`
	OfferName   string `json:"offer_name"`

	Currency                string  `json:"currency"`
	PurchaseValueWithTax    float64 `json:"purchase_value_with_tax"`
	PurchaseValueWithoutTax float64 `json:"purchase_value_without_tax"`
	CommissionCurrency      string  `json:"commission_currency"`
	MyCommissionValue       float64 `json:"my_commission_value"`

	SrcCode           string `json:"src_code"`
	SckCode           string `json:"sck_code"`
	PaymentMethod     string `json:"payment_method"`
	TotalInstallments int    `json:"total_installments"`
	TotalCharges      int    `json:"total_charges"`
	CouponCode        string `json:"coupon_code"`

	BuyerName      string `json:"buyer_name"`
	BuyerEmail     string `json:"buyer_email"`
	BuyerCountry   string `json:"buyer_country"`
	BuyerPhone     string `json:"buyer_phone"`
	BuyerDocument  string `json:"buyer_document"`
	BuyerState     string `json:"buyer_state"`
	BuyerInstagram string `json:"buyer_instagram"`

	OrderBumpType        string `json:"order_bump_type"`
	OrderBumpTransaction string `json:"order_bump_transaction"`
	OrderBumpIndex       string `json:"order_bump_index"`

	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id"`
	Platform  string `json:"platform"`

	// CustomerHash is the resolved cluster id, empty when resolution
	// failed or has not happened yet.
	CustomerHash string `json:"customer_hash,omitempty"`
}

// IdempotencyKey identifies a logical transaction across repeated
// uploads of the same export.
func (r *SaleRow) IdempotencyKey() string {
	return r.TransactionCode + "-" + r.ProductID + "-" + r.OfferID + "-" + r.ProjectID + "-" + r.UserID
}

// Date parses the row's transaction date. ok is false when the date
// is absent or malformed.
func (r *SaleRow) Date() (time.Time, bool) {
	if r.TransactionDate == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, r.TransactionDate)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
