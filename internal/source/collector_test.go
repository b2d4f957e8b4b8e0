package source

import (
	"context"
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dramline/caskwatch/internal/resilience"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// stubFetcher serves canned bodies keyed by URL and records requests.
type stubFetcher struct {
	pages    map[string]string
	errs     map[string]error
	requests []string
}

func (s *stubFetcher) Fetch(_ context.Context, pageURL string) ([]byte, error) {
	s.requests = append(s.requests, pageURL)
	if err, ok := s.errs[pageURL]; ok {
		return nil, err
	}
	body, ok := s.pages[pageURL]
	if !ok {
		return nil, eris.Errorf("stub: no page for %s", pageURL)
	}
	return []byte(body), nil
}

func listingPage(names ...string) string {
	html := `<html><body><ul class="product-list">`
	for i, name := range names {
		html += fmt.Sprintf(
			`<li class="product-card"><a href="/casks/%d"><span class="product-card__name">%s</span></a></li>`,
			i+1, name)
	}
	html += `</ul></body></html>`
	return html
}

const emptyListingPage = `<html><body><ul class="product-list"></ul></body></html>`

func TestCollector_WalksUntilEmptyPage(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]string{
		"https://shop.example/whiskies?page=1": listingPage("A", "B"),
		"https://shop.example/whiskies?page=2": listingPage("C"),
		"https://shop.example/whiskies?page=3": emptyListingPage,
	}}
	c := NewCollector(fetcher, "https://shop.example", 10)

	refs, err := c.Collect(context.Background(), "/whiskies")
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, "A", refs[0].Name)
	assert.Equal(t, "https://shop.example/casks/1", refs[0].URL)
	assert.Equal(t, "C", refs[2].Name)
	assert.Len(t, fetcher.requests, 3)
}

func TestCollector_SoftHaltOnTransientFailure(t *testing.T) {
	fetcher := &stubFetcher{
		pages: map[string]string{
			"https://shop.example/whiskies?page=1": listingPage("A", "B"),
		},
		errs: map[string]error{
			"https://shop.example/whiskies?page=2": resilience.NewTransientError(eris.New("timeout"), 504),
		},
	}
	c := NewCollector(fetcher, "https://shop.example", 10)

	// Partial result, no error: the cycle reconciles what it has.
	refs, err := c.Collect(context.Background(), "/whiskies")
	require.NoError(t, err)
	require.Len(t, refs, 2)
}

func TestCollector_SoftHaltOnMissingContainer(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]string{
		"https://shop.example/whiskies?page=1": listingPage("A"),
		"https://shop.example/whiskies?page=2": `<html><body><p>maintenance</p></body></html>`,
	}}
	c := NewCollector(fetcher, "https://shop.example", 10)

	refs, err := c.Collect(context.Background(), "/whiskies")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "A", refs[0].Name)
}

func TestCollector_NoCrossPageDeduplication(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]string{
		"https://shop.example/whiskies?page=1": listingPage("A"),
		"https://shop.example/whiskies?page=2": listingPage("A"),
		"https://shop.example/whiskies?page=3": emptyListingPage,
	}}
	c := NewCollector(fetcher, "https://shop.example", 10)

	refs, err := c.Collect(context.Background(), "/whiskies")
	require.NoError(t, err)
	assert.Len(t, refs, 2)
}

func TestCollector_RespectsMaxPages(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]string{
		"https://shop.example/whiskies?page=1": listingPage("A"),
		"https://shop.example/whiskies?page=2": listingPage("B"),
		"https://shop.example/whiskies?page=3": listingPage("C"),
	}}
	c := NewCollector(fetcher, "https://shop.example", 2)

	refs, err := c.Collect(context.Background(), "/whiskies")
	require.NoError(t, err)
	assert.Len(t, refs, 2)
	assert.Len(t, fetcher.requests, 2)
}

func TestParseListing_SkipsCardsWithoutNameOrLink(t *testing.T) {
	html := `<html><body><ul class="product-list">
		<li class="product-card"><a href="/casks/1"><span class="product-card__name">Good</span></a></li>
		<li class="product-card"><span class="product-card__name">No link</span></li>
		<li class="product-card"><a href="/casks/3"></a></li>
	</ul></body></html>`

	refs, err := parseListing([]byte(html), "https://shop.example")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "Good", refs[0].Name)
}
