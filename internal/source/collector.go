package source

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dramline/caskwatch/internal/model"
)

// Fetcher retrieves one page body. *Session is the production
// implementation.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) ([]byte, error)
}

// Collector walks paginated listing pages and yields lightweight listing
// references until an empty page is seen. It never deduplicates across
// pages and never restarts: one Collect call is one pass.
type Collector struct {
	fetcher  Fetcher
	baseURL  string
	maxPages int
}

// NewCollector creates a Collector over the given fetch session.
func NewCollector(fetcher Fetcher, baseURL string, maxPages int) *Collector {
	if maxPages <= 0 {
		maxPages = 50
	}
	return &Collector{fetcher: fetcher, baseURL: baseURL, maxPages: maxPages}
}

// Collect requests successive pages of the listing rooted at listPath
// until a page yields zero items. On a per-page transient failure the
// crawl halts early and returns everything accumulated so far; a partial
// but faithful result beats retry pressure on the source.
func (c *Collector) Collect(ctx context.Context, listPath string) ([]model.ListingRef, error) {
	log := zap.L().With(zap.String("listing", listPath))

	var refs []model.ListingRef
	for page := 1; page <= c.maxPages; page++ {
		pageURL, err := c.pageURL(listPath, page)
		if err != nil {
			return refs, err
		}

		body, err := c.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			log.Warn("collector: page fetch failed, halting crawl",
				zap.Int("page", page),
				zap.Int("collected", len(refs)),
				zap.Error(err),
			)
			return refs, nil
		}

		pageRefs, err := parseListing(body, c.baseURL)
		if err != nil {
			log.Warn("collector: page shape unexpected, halting crawl",
				zap.Int("page", page),
				zap.Int("collected", len(refs)),
				zap.Error(err),
			)
			return refs, nil
		}
		if len(pageRefs) == 0 {
			break
		}

		refs = append(refs, pageRefs...)
		log.Debug("collector: page collected",
			zap.Int("page", page),
			zap.Int("items", len(pageRefs)),
		)
	}

	return refs, nil
}

func (c *Collector) pageURL(listPath string, page int) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", eris.Wrap(err, "collector: parse base url")
	}
	ref, err := url.Parse(listPath)
	if err != nil {
		return "", eris.Wrapf(err, "collector: parse listing path %q", listPath)
	}
	u := base.ResolveReference(ref)
	q := u.Query()
	q.Set("page", fmt.Sprintf("%d", page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// parseListing extracts (name, link) pairs from one listing page. A page
// without the listing container is a shape mismatch, not an empty page —
// the two must not be confused or a markup change would mass-expire the
// mirror.
func parseListing(body []byte, baseURL string) ([]model.ListingRef, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "collector: parse listing html")
	}

	container := doc.Find(".product-list, ul.products").First()
	if container.Length() == 0 {
		return nil, eris.New("collector: listing container not found")
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, eris.Wrap(err, "collector: parse base url")
	}

	var refs []model.ListingRef
	container.Find(".product-card").Each(func(_ int, card *goquery.Selection) {
		link := card.Find("a").First()
		name := strings.TrimSpace(card.Find(".product-card__name").First().Text())
		if name == "" {
			name = strings.TrimSpace(link.Text())
		}
		href, ok := link.Attr("href")
		if name == "" || !ok || href == "" {
			return
		}
		hrefURL, err := url.Parse(href)
		if err != nil {
			return
		}
		refs = append(refs, model.ListingRef{
			Name: name,
			URL:  base.ResolveReference(hrefURL).String(),
		})
	})

	return refs, nil
}
