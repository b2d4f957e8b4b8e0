package model

import (
	"strings"
	"time"
)

// AlertKind selects which record field an alert predicate tests.
type AlertKind string

const (
	// AlertOrigin matches the producing distillery, by display name or by
	// raw origin token.
	AlertOrigin AlertKind = "origin"
	// AlertRegion matches the region display name.
	AlertRegion AlertKind = "region"
	// AlertMinAge matches records whose stated age is at least the alert
	// value. Non-numeric ages never match.
	AlertMinAge AlertKind = "min_age"
)

// ParseAlertKind normalizes user input to a known kind.
func ParseAlertKind(s string) (AlertKind, bool) {
	switch AlertKind(strings.ToLower(strings.TrimSpace(s))) {
	case AlertOrigin:
		return AlertOrigin, true
	case AlertRegion:
		return AlertRegion, true
	case AlertMinAge:
		return AlertMinAge, true
	}
	return "", false
}

// Alert is a user-owned predicate evaluated against every newly inserted
// record. (OwnerID, ScopeID, Kind, Value) is unique; rows are immutable
// once created.
type Alert struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	ScopeID   string    `json:"scope_id"`
	Kind      AlertKind `json:"kind"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// Matches evaluates the predicate against one record. Comparisons are
// case-insensitive; min_age follows the parse-or-skip contract on both
// sides.
func (a Alert) Matches(r Record) bool {
	switch a.Kind {
	case AlertOrigin:
		return strings.EqualFold(r.OriginName, a.Value) ||
			strings.EqualFold(r.Code.Origin, a.Value)
	case AlertRegion:
		return strings.EqualFold(r.Region, a.Value)
	case AlertMinAge:
		return r.Age.AtLeast(ParseOptionalInt(a.Value))
	}
	return false
}

// Notification is one delivery directive: this record matched this alert,
// tell its owner. One directive per matching (record, alert) pair — the
// matcher never deduplicates across a user's alerts.
type Notification struct {
	RecipientID string `json:"recipient_id"`
	ScopeID     string `json:"scope_id"`
	Alert       Alert  `json:"alert"`
	Record      Record `json:"record"`
}
