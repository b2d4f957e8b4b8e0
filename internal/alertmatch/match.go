// Package alertmatch evaluates newly inserted records against every
// stored alert and drives delivery of the resulting notifications.
package alertmatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/dramline/caskwatch/internal/model"
	"github.com/dramline/caskwatch/internal/notify"
)

// Match evaluates every (record, alert) pair and returns one notification
// directive per match. No deduplication: a record matching three of a
// user's alerts yields three directives.
func Match(records []model.Record, alerts []model.Alert) []model.Notification {
	var out []model.Notification
	for _, rec := range records {
		for _, alert := range alerts {
			if !alert.Matches(rec) {
				continue
			}
			out = append(out, model.Notification{
				RecipientID: alert.OwnerID,
				ScopeID:     alert.ScopeID,
				Alert:       alert,
				Record:      rec,
			})
		}
	}
	return out
}

// Deliver sends each directive through the notifier. Failures are logged
// per directive and never abort the remaining deliveries. Returns
// (delivered, failed) counts.
func Deliver(ctx context.Context, notifier notify.Notifier, directives []model.Notification) (int, int) {
	var delivered, failed int
	for _, n := range directives {
		if err := notifier.Deliver(ctx, n); err != nil {
			failed++
			zap.L().Warn("alertmatch: notification delivery failed",
				zap.String("recipient", n.RecipientID),
				zap.String("code", n.Record.Code.String()),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}
	return delivered, failed
}
