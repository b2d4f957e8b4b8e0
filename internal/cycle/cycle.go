// Package cycle runs one end-to-end crawl + reconcile + notify pass.
package cycle

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/dramline/caskwatch/internal/alertmatch"
	"github.com/dramline/caskwatch/internal/config"
	"github.com/dramline/caskwatch/internal/freshness"
	"github.com/dramline/caskwatch/internal/model"
	"github.com/dramline/caskwatch/internal/notify"
	"github.com/dramline/caskwatch/internal/recon"
	"github.com/dramline/caskwatch/internal/source"
	"github.com/dramline/caskwatch/internal/store"
)

// Kind selects which listing root a cycle crawls.
type Kind string

const (
	// KindLive crawls the current outturn.
	KindLive Kind = "live"
	// KindArchive crawls the archive listing.
	KindArchive Kind = "archive"
)

// ParseKind normalizes user input to a known cycle kind.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindLive:
		return KindLive, true
	case KindArchive:
		return KindArchive, true
	}
	return "", false
}

// ErrCycleBusy is returned when a cycle of the same kind is already in
// flight. One cycle per kind at a time; the trigger surfaces report this
// instead of queueing.
var ErrCycleBusy = eris.New("cycle: already running")

// Summary is the outcome of one cycle. A cycle that ran always produces
// one, partial failures included.
type Summary struct {
	Kind           Kind          `json:"kind"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	Crawled        int           `json:"crawled"`
	New            int           `json:"new"`
	Removed        int           `json:"removed"`
	Retained       int           `json:"retained"`
	Inserted       int           `json:"inserted"`
	Refreshed      int           `json:"refreshed"`
	Dropped        int           `json:"dropped"`
	FetchFailures  int           `json:"fetch_failures"`
	WriteFailures  int           `json:"write_failures"`
	Expired        int64         `json:"expired"`
	Notified       int           `json:"notified"`
	NotifyFailures int           `json:"notify_failures"`
}

// fetchSession is what a cycle needs from the acquired session.
type fetchSession interface {
	Fetch(ctx context.Context, pageURL string) ([]byte, error)
	Close()
}

// Runner owns the per-cycle orchestration and the single-in-flight gates.
type Runner struct {
	cfg      *config.Config
	store    store.Store
	notifier notify.Notifier
	origins  source.OriginLookup

	gates map[Kind]*semaphore.Weighted

	// newSession is swapped in tests.
	newSession func(ctx context.Context) (fetchSession, error)
}

// NewRunner creates a Runner over the given collaborators.
func NewRunner(cfg *config.Config, st store.Store, notifier notify.Notifier, origins source.OriginLookup) *Runner {
	r := &Runner{
		cfg:      cfg,
		store:    st,
		notifier: notifier,
		origins:  origins,
		gates: map[Kind]*semaphore.Weighted{
			KindLive:    semaphore.NewWeighted(1),
			KindArchive: semaphore.NewWeighted(1),
		},
	}
	r.newSession = func(ctx context.Context) (fetchSession, error) {
		return source.NewSession(ctx, cfg.Source)
	}
	return r
}

func (r *Runner) listPath(kind Kind) string {
	if kind == KindArchive {
		return r.cfg.Source.ArchivePath
	}
	return r.cfg.Source.LivePath
}

// Run executes one cycle end to end. It returns an error only when the
// cycle cannot meaningfully start (gate busy, session or mirror read
// failed, crawl produced nothing); once reconciliation begins, failures
// degrade the summary instead of aborting.
func (r *Runner) Run(ctx context.Context, kind Kind) (*Summary, error) {
	gate, ok := r.gates[kind]
	if !ok {
		return nil, eris.Errorf("cycle: unknown kind %q", kind)
	}
	if !gate.TryAcquire(1) {
		return nil, ErrCycleBusy
	}
	defer gate.Release(1)

	log := zap.L().With(zap.String("kind", string(kind)))
	start := time.Now()
	log.Info("cycle: starting")

	sess, err := r.newSession(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "cycle: acquire session")
	}
	defer sess.Close()

	collector := source.NewCollector(sess, r.cfg.Source.BaseURL, r.cfg.Source.MaxPages)
	refs, err := collector.Collect(ctx, r.listPath(kind))
	if err != nil {
		return nil, eris.Wrap(err, "cycle: collect listing")
	}
	// An empty crawl is indistinguishable from a broken landing page;
	// reconciling it would mark the whole mirror unavailable.
	if len(refs) == 0 {
		return nil, eris.New("cycle: crawl produced no listings")
	}

	mirror, err := r.store.Mirror(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "cycle: read mirror")
	}

	diff := recon.Classify(refs, mirror)
	engine := recon.NewEngine(r.store, source.NewDetailFetcher(sess, r.origins))
	res := engine.Apply(ctx, diff)

	summary := &Summary{
		Kind:          kind,
		StartedAt:     start.UTC(),
		Crawled:       len(refs),
		New:           len(diff.New),
		Removed:       len(diff.Removed),
		Retained:      len(diff.Retained),
		Inserted:      len(res.Inserted),
		Refreshed:     res.Refreshed,
		Dropped:       res.Dropped,
		FetchFailures: res.FetchFailures,
		WriteFailures: res.WriteFailures,
	}

	window := time.Duration(r.cfg.Freshness.WindowHours) * time.Hour
	tracker := freshness.NewTracker(r.store, window)
	expired, err := tracker.Expire(ctx)
	if err != nil {
		log.Error("cycle: freshness pass failed", zap.Error(err))
	}
	summary.Expired = expired

	summary.Notified, summary.NotifyFailures = r.notifyInserted(ctx, log, res.Inserted)

	summary.Duration = time.Since(start)
	log.Info("cycle: finished",
		zap.Int("crawled", summary.Crawled),
		zap.Int("new", summary.New),
		zap.Int("removed", summary.Removed),
		zap.Int("retained", summary.Retained),
		zap.Int("inserted", summary.Inserted),
		zap.Int("notified", summary.Notified),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

func (r *Runner) notifyInserted(ctx context.Context, log *zap.Logger, inserted []model.Record) (int, int) {
	if len(inserted) == 0 {
		return 0, 0
	}

	alerts, err := r.store.ListAlerts(ctx)
	if err != nil {
		log.Error("cycle: listing alerts failed, skipping notifications", zap.Error(err))
		return 0, 0
	}

	directives := alertmatch.Match(inserted, alerts)
	if len(directives) == 0 {
		return 0, 0
	}
	return alertmatch.Deliver(ctx, r.notifier, directives)
}
