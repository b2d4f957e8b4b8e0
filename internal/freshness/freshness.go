// Package freshness clears the recently-added flag once records age past
// the freshness window.
package freshness

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultWindow is how long a newly inserted record stays flagged.
const DefaultWindow = 72 * time.Hour

// Expirer is the store operation the tracker drives.
type Expirer interface {
	ExpireRecent(ctx context.Context, cutoff time.Time) (int64, error)
}

// Tracker runs the per-cycle expiry pass. Monotonic: once cleared, a flag
// is only ever re-set by a fresh insert.
type Tracker struct {
	store  Expirer
	window time.Duration
	now    func() time.Time
}

// NewTracker creates a Tracker with the given window; window <= 0 uses
// DefaultWindow.
func NewTracker(store Expirer, window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{store: store, window: window, now: time.Now}
}

// Expire clears recently-added on every record whose recent_since is older
// than the window. Returns the number of rows cleared.
func (t *Tracker) Expire(ctx context.Context) (int64, error) {
	cutoff := t.now().UTC().Add(-t.window)
	n, err := t.store.ExpireRecent(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		zap.L().Info("freshness: cleared recently-added flags",
			zap.Int64("rows", n),
			zap.Time("cutoff", cutoff),
		)
	}
	return n, nil
}
