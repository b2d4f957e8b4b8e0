package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAlertKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		kind AlertKind
		ok   bool
	}{
		{"origin", AlertOrigin, true},
		{"Region", AlertRegion, true},
		{"MIN_AGE", AlertMinAge, true},
		{" origin ", AlertOrigin, true},
		{"distillery", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		kind, ok := ParseAlertKind(tt.in)
		assert.Equal(t, tt.ok, ok, "in=%q", tt.in)
		if ok {
			assert.Equal(t, tt.kind, kind, "in=%q", tt.in)
		}
	}
}

func TestAlertMatchesOrigin(t *testing.T) {
	t.Parallel()

	rec := Record{
		Code:       NaturalCode{Origin: "59", Sequence: "12"},
		OriginName: "Ardbeg",
	}

	// Either the human name or the raw origin token satisfies the alert.
	assert.True(t, Alert{Kind: AlertOrigin, Value: "ardbeg"}.Matches(rec))
	assert.True(t, Alert{Kind: AlertOrigin, Value: "59"}.Matches(rec))
	assert.False(t, Alert{Kind: AlertOrigin, Value: "laphroaig"}.Matches(rec))
	assert.False(t, Alert{Kind: AlertOrigin, Value: "29"}.Matches(rec))
}

func TestAlertMatchesRegion(t *testing.T) {
	t.Parallel()

	rec := Record{Region: "Islay"}

	assert.True(t, Alert{Kind: AlertRegion, Value: "islay"}.Matches(rec))
	assert.False(t, Alert{Kind: AlertRegion, Value: "speyside"}.Matches(rec))
}

func TestAlertMatchesMinAge(t *testing.T) {
	t.Parallel()

	aged := func(s string) Record {
		var r Record
		r.SetAge(s)
		return r
	}

	assert.True(t, Alert{Kind: AlertMinAge, Value: "15"}.Matches(aged("18")))
	assert.True(t, Alert{Kind: AlertMinAge, Value: "15"}.Matches(aged("15")))
	assert.False(t, Alert{Kind: AlertMinAge, Value: "15"}.Matches(aged("12")))

	// Parse-or-skip: non-numeric on either side never matches and never errors.
	assert.False(t, Alert{Kind: AlertMinAge, Value: "15"}.Matches(aged("unknown")))
	assert.False(t, Alert{Kind: AlertMinAge, Value: "old"}.Matches(aged("18")))
}

func TestAlertMatchesUnknownKind(t *testing.T) {
	t.Parallel()

	assert.False(t, Alert{Kind: "bottler", Value: "x"}.Matches(Record{}))
}
