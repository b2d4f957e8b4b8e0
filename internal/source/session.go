// Package source implements crawling of the catalog site: the listing
// collector, the detail fetcher, and the fetch session they share.
package source

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dramline/caskwatch/internal/config"
	"github.com/dramline/caskwatch/internal/resilience"
)

// maxBodyBytes caps how much of a page we read.
const maxBodyBytes = 2 * 1024 * 1024

// Session is the exclusively owned fetch state for one cycle: cookie jar,
// resolved consent gate, and the polite rate limit against the source
// site. Acquire with NewSession, release with Close on every exit path.
type Session struct {
	cfg     config.SourceConfig
	client  *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewSession builds a session and resolves the site's age/consent gate so
// that subsequent listing and detail fetches see the real catalog.
func NewSession(ctx context.Context, cfg config.SourceConfig) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, eris.Wrap(err, "source: cookie jar")
	}

	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 1.0
	}

	s := &Session{
		cfg: cfg,
		client: &http.Client{
			Jar:     jar,
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		retry:   resilience.DefaultRetryConfig(),
	}

	if err := s.resolveConsent(ctx); err != nil {
		s.Close()
		return nil, eris.Wrap(err, "source: resolve consent")
	}
	return s, nil
}

// resolveConsent loads the landing page and, if an age-verification form is
// present, submits it so the consent cookie lands in the jar. A site
// without the gate is fine.
func (s *Session) resolveConsent(ctx context.Context) error {
	body, err := s.fetchOnce(ctx, s.cfg.BaseURL)
	if err != nil {
		return err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "source: parse landing page")
	}

	form := doc.Find("form#age-gate, form.age-gate").First()
	if form.Length() == 0 && s.cfg.ConsentPath == "" {
		return nil
	}

	action := s.cfg.ConsentPath
	if href, ok := form.Attr("action"); ok && href != "" {
		action = href
	}
	if action == "" {
		return nil
	}

	target, err := s.resolveURL(action)
	if err != nil {
		return err
	}

	values := url.Values{"confirm": {"yes"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(values.Encode()))
	if err != nil {
		return eris.Wrap(err, "source: consent request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "source: submit consent")
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode >= 400 {
		return eris.Errorf("source: consent rejected with status %d", resp.StatusCode)
	}

	zap.L().Debug("source: consent gate resolved", zap.String("action", target))
	return nil
}

// Fetch retrieves one page, rate-limited, with a single retry on transient
// failures. Callers decide whether a failure halts the crawl.
func (s *Session) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "source: rate limit wait")
	}
	return resilience.DoVal(ctx, s.retry, func(ctx context.Context) ([]byte, error) {
		return s.fetchOnce(ctx, pageURL)
	})
}

func (s *Session) fetchOnce(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "source: create request")
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "source: fetch %s", pageURL)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrapf(err, "source: read %s", pageURL)
	}

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(
			eris.Errorf("source: status %d for %s", resp.StatusCode, pageURL),
			resp.StatusCode,
		)
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("source: status %d for %s", resp.StatusCode, pageURL)
	}

	return body, nil
}

// resolveURL turns a possibly relative href into an absolute URL against
// the configured base.
func (s *Session) resolveURL(href string) (string, error) {
	base, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return "", eris.Wrap(err, "source: parse base url")
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", eris.Wrapf(err, "source: parse href %q", href)
	}
	return base.ResolveReference(ref).String(), nil
}

// Close releases the session's connections.
func (s *Session) Close() {
	s.client.CloseIdleConnections()
}
