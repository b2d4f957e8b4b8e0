package cycle

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dramline/caskwatch/internal/config"
	"github.com/dramline/caskwatch/internal/model"
	"github.com/dramline/caskwatch/internal/source"
	"github.com/dramline/caskwatch/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const baseURL = "https://shop.example"

// stubSession serves canned page bodies keyed by URL.
type stubSession struct {
	pages  map[string]string
	errs   map[string]error
	closed bool
}

func (s *stubSession) Fetch(_ context.Context, pageURL string) ([]byte, error) {
	if err, ok := s.errs[pageURL]; ok {
		return nil, err
	}
	body, ok := s.pages[pageURL]
	if !ok {
		return nil, eris.Errorf("stub: no page for %s", pageURL)
	}
	return []byte(body), nil
}

func (s *stubSession) Close() { s.closed = true }

func listingHTML(names ...string) string {
	html := `<html><body><ul class="product-list">`
	for _, name := range names {
		html += fmt.Sprintf(
			`<li class="product-card"><a href="/casks/%s"><span class="product-card__name">%s</span></a></li>`,
			name, name)
	}
	html += `</ul></body></html>`
	return html
}

func detailHTML(code, distillery, region, age string) string {
	return fmt.Sprintf(`<html><body><div class="product-detail">
		<span class="product-detail__code">%s</span>
		<span class="product-detail__price">£70.00</span>
		<dl class="product-detail__specs">
			<dt>Distillery</dt><dd>%s</dd>
			<dt>Region</dt><dd>%s</dd>
			<dt>Age</dt><dd>%s</dd>
		</dl>
	</div></body></html>`, code, distillery, region, age)
}

func testConfig() *config.Config {
	return &config.Config{
		Source: config.SourceConfig{
			BaseURL:  baseURL,
			LivePath: "/whiskies",
			MaxPages: 10,
		},
		Freshness: config.FreshnessConfig{WindowHours: 72},
	}
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "cycle.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedRecord(t *testing.T, st *store.SQLiteStore, code, name string) {
	t.Helper()
	nc, err := model.ParseNaturalCode(code)
	require.NoError(t, err)
	_, err = st.UpsertRecord(context.Background(), &model.Record{
		Code: nc, Name: name, Available: true, URL: baseURL + "/casks/" + name,
	})
	require.NoError(t, err)
}

type recordingNotifier struct {
	errs      map[string]error
	delivered []model.Notification
}

func (n *recordingNotifier) Deliver(_ context.Context, d model.Notification) error {
	if err, ok := n.errs[d.RecipientID]; ok {
		return err
	}
	n.delivered = append(n.delivered, d)
	return nil
}

func newTestRunner(t *testing.T, st *store.SQLiteStore, sess *stubSession, notifier *recordingNotifier) *Runner {
	t.Helper()
	origins, err := source.ParseOrigins([]byte("origins:\n  \"59\": \"Ardbeg\"\n"))
	require.NoError(t, err)
	r := NewRunner(testConfig(), st, notifier, origins)
	r.newSession = func(context.Context) (fetchSession, error) { return sess, nil }
	return r
}

func TestRun_FullScenario(t *testing.T) {
	st := newTestStore(t)
	seedRecord(t, st, "1.1", "B")
	seedRecord(t, st, "1.2", "C")
	seedRecord(t, st, "1.3", "D")

	sess := &stubSession{pages: map[string]string{
		baseURL + "/whiskies?page=1": listingHTML("A", "B", "C"),
		baseURL + "/whiskies?page=2": listingHTML(),
		baseURL + "/casks/A":         detailHTML("59.12", "Ardbeg", "Islay", "18"),
	}}
	notifier := &recordingNotifier{}
	r := newTestRunner(t, st, sess, notifier)

	_, err := st.CreateAlert(context.Background(), model.Alert{
		OwnerID: "u1", ScopeID: "g1", Kind: model.AlertOrigin, Value: "ardbeg",
	})
	require.NoError(t, err)
	_, err = st.CreateAlert(context.Background(), model.Alert{
		OwnerID: "u1", ScopeID: "g1", Kind: model.AlertMinAge, Value: "15",
	})
	require.NoError(t, err)

	summary, err := r.Run(context.Background(), KindLive)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Crawled)
	assert.Equal(t, 1, summary.New)
	assert.Equal(t, 1, summary.Removed)
	assert.Equal(t, 2, summary.Retained)
	assert.Equal(t, 1, summary.Inserted)
	assert.True(t, sess.closed)

	records, err := st.ListRecords(context.Background())
	require.NoError(t, err)
	byName := make(map[string]model.Record, len(records))
	for _, rec := range records {
		byName[rec.Name] = rec
	}

	assert.False(t, byName["D"].Available)
	assert.True(t, byName["B"].Available)
	assert.True(t, byName["C"].Available)

	inserted := byName["A"]
	assert.True(t, inserted.Available)
	assert.True(t, inserted.RecentlyAdded)
	assert.Equal(t, "59.12", inserted.Code.String())
	assert.Equal(t, "Ardbeg", inserted.OriginName)

	// Two alerts matched, two directives, no deduplication.
	assert.Equal(t, 2, summary.Notified)
	require.Len(t, notifier.delivered, 2)
	assert.Equal(t, "u1", notifier.delivered[0].RecipientID)
}

func TestRun_PartialDetailFailure(t *testing.T) {
	st := newTestStore(t)

	pages := map[string]string{
		baseURL + "/whiskies?page=1": listingHTML("X", "Y"),
		baseURL + "/whiskies?page=2": listingHTML(),
		baseURL + "/casks/Y":         detailHTML("29.1", "Laphroaig", "Islay", "10"),
	}
	sess := &stubSession{
		pages: pages,
		errs:  map[string]error{baseURL + "/casks/X": eris.New("timeout")},
	}
	r := newTestRunner(t, st, sess, &recordingNotifier{})

	summary, err := r.Run(context.Background(), KindLive)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.New)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 1, summary.FetchFailures)

	// X never reached the mirror, so the next cycle classifies it as new
	// again.
	sess2 := &stubSession{pages: pages}
	r2 := newTestRunner(t, st, sess2, &recordingNotifier{})
	summary2, err := r2.Run(context.Background(), KindLive)
	require.NoError(t, err)
	assert.Equal(t, 1, summary2.New)
	assert.Equal(t, 1, summary2.Inserted)
}

func TestRun_RedetectionDoesNotRenotify(t *testing.T) {
	st := newTestStore(t)
	// Z existed before and was marked unavailable when it vanished.
	seedRecord(t, st, "29.7", "Z")
	_, err := st.SetAvailability(context.Background(), []string{"Z"}, false)
	require.NoError(t, err)
	// Clear its recency so a re-detection must not look like an insert.
	_, err = st.ExpireRecent(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	sess := &stubSession{pages: map[string]string{
		baseURL + "/whiskies?page=1": listingHTML("Z"),
		baseURL + "/whiskies?page=2": listingHTML(),
		baseURL + "/casks/Z":         detailHTML("29.7", "Laphroaig", "Islay", "10"),
	}}
	notifier := &recordingNotifier{}
	r := newTestRunner(t, st, sess, notifier)

	_, err = st.CreateAlert(context.Background(), model.Alert{
		OwnerID: "u1", ScopeID: "g1", Kind: model.AlertRegion, Value: "Islay",
	})
	require.NoError(t, err)

	summary, err := r.Run(context.Background(), KindLive)
	require.NoError(t, err)

	assert.Zero(t, summary.Inserted)
	assert.Equal(t, 1, summary.Refreshed)
	assert.Empty(t, notifier.delivered)

	records, err := st.ListRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Available)
	assert.False(t, records[0].RecentlyAdded)
}

func TestRun_EmptyCrawlAborts(t *testing.T) {
	st := newTestStore(t)
	seedRecord(t, st, "1.1", "B")

	sess := &stubSession{pages: map[string]string{
		baseURL + "/whiskies?page=1": listingHTML(),
	}}
	r := newTestRunner(t, st, sess, &recordingNotifier{})

	_, err := r.Run(context.Background(), KindLive)
	require.Error(t, err)

	// Mirror untouched.
	records, err := st.ListRecords(context.Background())
	require.NoError(t, err)
	assert.True(t, records[0].Available)
}

func TestRun_BusyGate(t *testing.T) {
	st := newTestStore(t)
	r := newTestRunner(t, st, &stubSession{}, &recordingNotifier{})

	require.True(t, r.gates[KindLive].TryAcquire(1))
	defer r.gates[KindLive].Release(1)

	_, err := r.Run(context.Background(), KindLive)
	assert.ErrorIs(t, err, ErrCycleBusy)

	// The archive gate is independent of the live gate.
	sess := &stubSession{pages: map[string]string{
		baseURL + "/archive?page=1": listingHTML(),
	}}
	r2 := newTestRunner(t, st, sess, &recordingNotifier{})
	r2.cfg.Source.ArchivePath = "/archive"
	require.True(t, r2.gates[KindLive].TryAcquire(1))
	defer r2.gates[KindLive].Release(1)

	_, err = r2.Run(context.Background(), KindArchive)
	assert.NotErrorIs(t, err, ErrCycleBusy)
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	kind, ok := ParseKind("live")
	assert.True(t, ok)
	assert.Equal(t, KindLive, kind)

	kind, ok = ParseKind(" Archive ")
	assert.True(t, ok)
	assert.Equal(t, KindArchive, kind)

	_, ok = ParseKind("weekly")
	assert.False(t, ok)
}
