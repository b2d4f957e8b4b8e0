package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ListingRef is one entry scraped from a listing page. It lives only for
// the duration of a cycle; Name is the key the reconciliation engine diffs
// on.
type ListingRef struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// NaturalCode is the source site's composite cask identifier,
// "<originToken>.<sequenceNumber>" (e.g. "59.12" or "RW3.4"). The origin
// token identifies the producing distillery; the sequence number is the
// cask release within that distillery.
type NaturalCode struct {
	Origin   string `json:"origin"`
	Sequence string `json:"sequence"`
}

// ParseNaturalCode splits a raw code on the first dot. The origin token may
// be numeric or alphanumeric; the sequence half may itself contain dots.
func ParseNaturalCode(raw string) (NaturalCode, error) {
	raw = strings.TrimSpace(raw)
	origin, seq, found := strings.Cut(raw, ".")
	if !found {
		return NaturalCode{}, eris.Errorf("model: natural code %q has no separator", raw)
	}
	if origin == "" || seq == "" {
		return NaturalCode{}, eris.Errorf("model: natural code %q has an empty half", raw)
	}
	return NaturalCode{Origin: origin, Sequence: seq}, nil
}

func (c NaturalCode) String() string {
	return c.Origin + "." + c.Sequence
}

// OptionalInt is a numeric field whose source is free text that frequently
// isn't a number ("unknown", "—", empty). Parse-or-skip contract: parsing
// never fails, it just yields an invalid value, and an invalid value never
// satisfies a numeric comparison.
type OptionalInt struct {
	Value int
	Valid bool
}

// ParseOptionalInt parses trimmed decimal text. Anything non-numeric comes
// back invalid, not as an error.
func ParseOptionalInt(s string) OptionalInt {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return OptionalInt{}
	}
	return OptionalInt{Value: n, Valid: true}
}

// AtLeast reports whether both values are present and o >= min.
func (o OptionalInt) AtLeast(min OptionalInt) bool {
	return o.Valid && min.Valid && o.Value >= min.Value
}

// String returns the decimal form, or "" when invalid. Used when the value
// round-trips through text columns and payloads.
func (o OptionalInt) String() string {
	if !o.Valid {
		return ""
	}
	return strconv.Itoa(o.Value)
}

// Record is one mirrored catalog item. Created on first detection of a new
// listing, refreshed on every cycle it is re-seen, flipped unavailable —
// never deleted — when its listing disappears.
type Record struct {
	Code          NaturalCode `json:"code"`
	Name          string      `json:"name"`
	Price         string      `json:"price,omitempty"`
	Strength      string      `json:"strength,omitempty"`
	Age           OptionalInt `json:"-"`
	AgeText       string      `json:"age,omitempty"`
	CaskType      string      `json:"cask_type,omitempty"`
	OriginName    string      `json:"origin_name,omitempty"`
	Region        string      `json:"region,omitempty"`
	Available     bool        `json:"available"`
	URL           string      `json:"url"`
	RecentlyAdded bool        `json:"recently_added"`
	RecentSince   *time.Time  `json:"recent_since,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// SetAge stores both the raw text (persisted as-is) and its parsed form.
func (r *Record) SetAge(raw string) {
	r.AgeText = strings.TrimSpace(raw)
	r.Age = ParseOptionalInt(raw)
}
