// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// Bump-index mutation conditions.
const (
	BumpConditionAdd    = "add"
	BumpConditionDelete = "delete"
)

// BumpIndexEntry marks a product (optionally narrowed to specific
// offers) whose sales are order-bump children. Entries are unique per
// (projectId, userId, productId).
type BumpIndexEntry struct {
	ProjectID   string   `json:"projectId"`
	UserID      string   `json:"userId"`
	ProductID   string   `json:"productId"`
	ProductName string   `json:"productName,omitempty"`
	OfferIDs    []string `json:"offersIds,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// BumpIndexRequest mutates the bump index. Condition "add" upserts
// the entry and tags matching stored sales as children; "delete"
// removes the entry and clears the tag.
type BumpIndexRequest struct {
	ProjectID   string   `json:"projectId" binding:"required"`
	UserID      string   `json:"userId" binding:"required"`
	ProductID   string   `json:"productId" binding:"required"`
	ProductName string   `json:"productName,omitempty"`
	OfferIDs    []string `json:"offersIds,omitempty"`
	Condition   string   `json:"condition" binding:"required,oneof=add delete"`
}

// BumpIndexResponse reports a bump-index mutation.
type BumpIndexResponse struct {
	Message     string `json:"message"`
	RowsUpdated int    `json:"rowsUpdated"`
}
