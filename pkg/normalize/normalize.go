// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package normalize provides canonicalization for the buyer identity
// keys (email, phone, document) used by both the aggregation engine
// and the durable cluster resolver.
//
// Every identity comparison in the system goes through these
// functions. Uploaded rows keep their raw values; only keys derived
// from them are normalized.
package normalize

import "strings"

// NotFound is the placeholder stored for a missing document or phone.
//
// It is deliberately a member of the invalid-value set so a buyer
// created with a placeholder never collides with another buyer on it.
const NotFound = "not_found"

// invalidValues are strings that upload sources emit for "no value".
var invalidValues = map[string]struct{}{
	"":          {},
	"null":      {},
	"undefined": {},
	"(none)":    {},
	NotFound:    {},
}

// Valid reports whether v carries a usable identity value.
func Valid(v string) bool {
	_, bad := invalidValues[v]
	return !bad
}

// Email lowercases and trims an email address.
func Email(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Phone reduces a phone number to its digits. Returns "" when no
// digits remain.
func Phone(phone string) string {
	return Digits(phone)
}

// Document reduces a tax document to its digits. Returns "" when no
// digits remain.
func Document(doc string) string {
	return Digits(doc)
}

// Digits strips every non-digit rune from s.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.TrimSpace(s) {
		if r >= '0' && r <= '9' {
			b.WriteByte(byte(r))
		}
	}
	return b.String()
}

// StripLeadingZeros removes leading zeros from a digits-only document.
// "000123" and "123" are the same document in the upstream platforms.
func StripLeadingZeros(s string) string {
	return strings.TrimLeft(s, "0")
}
