// Package recon classifies a fresh crawl against the persisted mirror and
// applies the resulting status mutations and upserts in a fixed order.
package recon

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/dramline/caskwatch/internal/model"
	"github.com/dramline/caskwatch/internal/source"
	"github.com/dramline/caskwatch/internal/store"
)

// Diff is the three-way classification of one crawl against the mirror.
// The sets are disjoint and together cover every name seen in either
// input. Names, not natural codes, are the key: a renamed cask shows up as
// a remove+new pair.
type Diff struct {
	// New is in the crawl but not the mirror, in crawl order.
	New []model.ListingRef
	// Removed is in the mirror but not the crawl.
	Removed []string
	// Retained is in both.
	Retained []string
}

// Classify partitions crawl and mirror by display name. Duplicate names
// within the crawl collapse to their first occurrence.
func Classify(crawl []model.ListingRef, mirror []store.MirrorEntry) Diff {
	inMirror := make(map[string]bool, len(mirror))
	for _, e := range mirror {
		inMirror[e.Name] = true
	}

	var diff Diff
	inCrawl := make(map[string]bool, len(crawl))
	for _, ref := range crawl {
		if inCrawl[ref.Name] {
			continue
		}
		inCrawl[ref.Name] = true
		if inMirror[ref.Name] {
			diff.Retained = append(diff.Retained, ref.Name)
		} else {
			diff.New = append(diff.New, ref)
		}
	}

	seen := make(map[string]bool, len(mirror))
	for _, e := range mirror {
		if seen[e.Name] {
			continue
		}
		seen[e.Name] = true
		if !inCrawl[e.Name] {
			diff.Removed = append(diff.Removed, e.Name)
		}
	}

	return diff
}

// Mirror is the slice of the persistence gateway the engine mutates.
type Mirror interface {
	SetAvailability(ctx context.Context, names []string, available bool) (int64, error)
	UpsertRecord(ctx context.Context, rec *model.Record) (bool, error)
}

// DetailFetcher resolves one new listing reference into a candidate record.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, ref model.ListingRef) (*model.Record, error)
}

// Result summarizes one Apply pass.
type Result struct {
	// Inserted holds the records that were truly inserted this cycle; the
	// alert matcher runs over exactly these.
	Inserted []model.Record
	// Refreshed counts conflict updates (re-detected after prior existence).
	Refreshed int
	// Dropped counts uncoded item classes skipped by design.
	Dropped int
	// FetchFailures counts per-item detail failures; those items stay "new"
	// next cycle because they never reached the mirror.
	FetchFailures int
	// WriteFailures counts upserts that failed; the cycle continues.
	WriteFailures int
}

// Engine applies a Diff to the mirror.
type Engine struct {
	mirror  Mirror
	fetcher DetailFetcher
}

// NewEngine creates a reconciliation engine.
func NewEngine(mirror Mirror, fetcher DetailFetcher) *Engine {
	return &Engine{mirror: mirror, fetcher: fetcher}
}

// Apply executes the effects of a classification in strict order: removed
// records are marked unavailable, retained records are marked available,
// then new references are detail-fetched and upserted one by one. Every
// failure is isolated to its own write; anything missed is picked up by
// the next cycle's re-reconciliation against persisted truth.
func (e *Engine) Apply(ctx context.Context, diff Diff) *Result {
	log := zap.L()
	res := &Result{}

	if len(diff.Removed) > 0 {
		n, err := e.mirror.SetAvailability(ctx, diff.Removed, false)
		if err != nil {
			res.WriteFailures++
			log.Error("recon: marking removed unavailable failed", zap.Error(err))
		} else {
			log.Info("recon: marked removed unavailable", zap.Int64("rows", n))
		}
	}

	if len(diff.Retained) > 0 {
		n, err := e.mirror.SetAvailability(ctx, diff.Retained, true)
		if err != nil {
			res.WriteFailures++
			log.Error("recon: refreshing retained availability failed", zap.Error(err))
		} else {
			log.Debug("recon: refreshed retained availability", zap.Int64("rows", n))
		}
	}
	for _, ref := range diff.New {
		rec, err := e.fetcher.FetchDetail(ctx, ref)
		if err != nil {
			if errors.Is(err, source.ErrNotCask) {
				res.Dropped++
				log.Debug("recon: uncoded item dropped", zap.String("name", ref.Name))
				continue
			}
			res.FetchFailures++
			log.Warn("recon: detail fetch failed, item skipped",
				zap.String("name", ref.Name),
				zap.Error(err),
			)
			continue
		}

		inserted, err := e.mirror.UpsertRecord(ctx, rec)
		if err != nil {
			res.WriteFailures++
			log.Error("recon: upsert failed, item skipped",
				zap.String("code", rec.Code.String()),
				zap.Error(err),
			)
			continue
		}
		if inserted {
			// Mark what the store just set so the alert matcher sees the
			// record as persisted.
			rec.RecentlyAdded = true
			res.Inserted = append(res.Inserted, *rec)
		} else {
			res.Refreshed++
			log.Debug("recon: record re-detected, refreshed",
				zap.String("code", rec.Code.String()),
			)
		}
	}

	return res
}
