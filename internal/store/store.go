package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/dramline/caskwatch/internal/model"
)

// ErrDuplicateAlert is returned when (owner, scope, kind, value) already exists.
var ErrDuplicateAlert = eris.New("store: alert already exists")

// ErrAlertNotFound is returned when removing an alert that does not exist.
var ErrAlertNotFound = eris.New("store: alert not found")

// MirrorEntry is the minimal projection of a persisted record that the
// reconciliation engine diffs against.
type MirrorEntry struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Store defines the persistence gateway for the mirror and alerts.
type Store interface {
	// Mirror returns the (name, url) projection of every persisted record,
	// available or not.
	Mirror(ctx context.Context) ([]MirrorEntry, error)

	// UpsertRecord inserts or refreshes a record keyed by natural code.
	// On conflict every descriptive field, availability and updated_at are
	// overwritten; recently_added and recent_since are written only on a
	// true insert. Returns whether a true insert happened.
	UpsertRecord(ctx context.Context, rec *model.Record) (bool, error)

	// SetAvailability bulk-updates availability for the named records.
	SetAvailability(ctx context.Context, names []string, available bool) (int64, error)

	// ExpireRecent clears the recently-added flag on records whose
	// recent_since is before cutoff. Returns the number of rows cleared.
	ExpireRecent(ctx context.Context, cutoff time.Time) (int64, error)

	// ListRecords returns every persisted record.
	ListRecords(ctx context.Context) ([]model.Record, error)

	// Alerts
	ListAlerts(ctx context.Context) ([]model.Alert, error)
	ListAlertsByOwner(ctx context.Context, ownerID, scopeID string) ([]model.Alert, error)
	CreateAlert(ctx context.Context, alert model.Alert) (*model.Alert, error)
	DeleteAlert(ctx context.Context, ownerID, scopeID string, kind model.AlertKind, value string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
