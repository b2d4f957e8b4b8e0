package source

import (
	"bytes"
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/dramline/caskwatch/internal/model"
)

// ErrNotCask marks a detail page without a cask code. Bundles, glassware
// and other uncoded merchandise share the listing with coded casks; they
// are a different item class, not a failure.
var ErrNotCask = eris.New("source: not an individually coded cask")

// DetailFetcher turns one new listing reference into a parsed candidate
// record by fetching and parsing its detail page.
type DetailFetcher struct {
	fetcher Fetcher
	origins OriginLookup
}

// NewDetailFetcher creates a DetailFetcher using the given session and
// origin lookup table.
func NewDetailFetcher(fetcher Fetcher, origins OriginLookup) *DetailFetcher {
	return &DetailFetcher{fetcher: fetcher, origins: origins}
}

// FetchDetail fetches ref's detail page and parses a candidate record.
// Returns ErrNotCask for uncoded item classes; any other error means this
// item is skipped this cycle and retried on the next one.
func (f *DetailFetcher) FetchDetail(ctx context.Context, ref model.ListingRef) (*model.Record, error) {
	body, err := f.fetcher.Fetch(ctx, ref.URL)
	if err != nil {
		return nil, err
	}
	return f.parseDetail(ref, body)
}

func (f *DetailFetcher) parseDetail(ref model.ListingRef, body []byte) (*model.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrapf(err, "source: parse detail html for %q", ref.Name)
	}

	rawCode := strings.TrimSpace(doc.Find(".product-detail__code").First().Text())
	if rawCode == "" {
		return nil, ErrNotCask
	}

	code, err := model.ParseNaturalCode(rawCode)
	if err != nil {
		return nil, eris.Wrapf(err, "source: detail page for %q", ref.Name)
	}

	rec := &model.Record{
		Code:      code,
		Name:      ref.Name,
		URL:       ref.URL,
		Available: true,
		Price:     strings.TrimSpace(doc.Find(".product-detail__price").First().Text()),
	}

	specs := parseSpecList(doc)
	rec.Strength = specs["strength"]
	rec.CaskType = specs["cask type"]
	rec.Region = specs["region"]
	rec.OriginName = specs["distillery"]
	rec.SetAge(specs["age"])

	// The page usually names the distillery; fall back to the static
	// lookup keyed by origin token when it doesn't.
	if rec.OriginName == "" {
		rec.OriginName = f.origins.Name(code.Origin)
	}

	return rec, nil
}

// parseSpecList reads the detail page's dt/dd spec table into a lowercase
// key map.
func parseSpecList(doc *goquery.Document) map[string]string {
	specs := make(map[string]string)
	doc.Find(".product-detail__specs dt").Each(func(_ int, dt *goquery.Selection) {
		key := strings.ToLower(strings.TrimSpace(dt.Text()))
		val := strings.TrimSpace(dt.NextFiltered("dd").Text())
		if key != "" && val != "" {
			specs[key] = val
		}
	})
	return specs
}
