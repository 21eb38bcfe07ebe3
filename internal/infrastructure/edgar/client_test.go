package edgar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"FilingsMonitor/internal/config"
	"FilingsMonitor/internal/domain"
)

const submissionsJSON = `{
  "name": "ACME CORP",
  "filings": {"recent": {
    "accessionNumber": ["0000012345-25-000003", "0000012345-25-000002", "0000012345-25-000001", "0000012345-25-000000"],
    "filingDate": ["2025-03-03", "2025-02-02", "2025-03-01", "2025-01-01"],
    "acceptanceDateTime": ["2025-03-03T16:05:00.000Z", "2025-02-02T09:00:00.000Z", "", "2025-01-01T08:00:00.000Z"],
    "form": ["8-K", "10-Q", "SC 13G", "4"],
    "primaryDocument": ["acme-8k.htm", "acme-10q.htm", "sc13g.htm", "xslF345X05/form4.xml"]
  }}
}`

type requestLog struct {
	mu    sync.Mutex
	paths []string
}

func (l *requestLog) add(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = append(l.paths, path)
}

func (l *requestLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.paths...)
}

func newEdgarServer(t *testing.T, requests *requestLog) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.add(r.URL.Path)
		}
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "FilingsMonitor") {
			t.Errorf("missing user agent, got %q", ua)
		}
		switch {
		case r.URL.Path == "/submissions/CIK0000012345.json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(submissionsJSON))
		case strings.HasPrefix(r.URL.Path, "/Archives/12345/"):
			_, _ = w.Write([]byte(`<html><head><style>p{}</style><script>var x;</script></head>
				<body><div><p>Item 8.01 Other Events.</p><p>The company   settled litigation.</p></div></body></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestClient(server *httptest.Server) *Client {
	return NewClient(ClientOptions{
		SubmissionsURL:    server.URL + "/submissions",
		ArchivesURL:       server.URL + "/Archives",
		UserAgent:         "FilingsMonitor/test (ops@example.com)",
		RequestsPerSecond: 1000,
	})
}

func TestRecentFilingsFiltersAndSorts(t *testing.T) {
	t.Parallel()

	client := newTestClient(newEdgarServer(t, nil))
	filings, err := client.RecentFilings(context.Background(), "0000012345", []string{"8-K", "10-Q", "10-K", "4"})
	if err != nil {
		t.Fatalf("RecentFilings error: %v", err)
	}

	if len(filings) != 3 {
		t.Fatalf("expected 3 filings, got %d", len(filings))
	}
	if filings[0].Form != "8-K" || filings[2].Form != "4" {
		t.Fatalf("unexpected order: %+v", filings)
	}
	if !strings.HasSuffix(filings[0].DocumentURL, "/Archives/12345/000001234525000003/acme-8k.htm") {
		t.Fatalf("unexpected document url: %s", filings[0].DocumentURL)
	}
	if !strings.HasSuffix(filings[2].DocumentURL, "/000001234525000000/form4.xml") {
		t.Fatalf("form 4 should point at raw xml: %s", filings[2].DocumentURL)
	}
	want := time.Date(2025, 3, 3, 16, 5, 0, 0, time.UTC)
	if !filings[0].FiledAt.Equal(want) {
		t.Fatalf("unexpected filed at: %v", filings[0].FiledAt)
	}
}

func TestRecentFilingsRejectsBadCIK(t *testing.T) {
	t.Parallel()

	client := newTestClient(newEdgarServer(t, nil))
	if _, err := client.RecentFilings(context.Background(), "acme", nil); err == nil {
		t.Fatalf("expected error for non-numeric cik")
	}
}

func TestExtractText(t *testing.T) {
	t.Parallel()

	html := `<html><body>
	  <script>alert(1)</script>
	  <div style="display:none">hidden header</div>
	  <p>First   paragraph.</p><p>Second paragraph.</p>
	</body></html>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("new document: %v", err)
	}

	text := extractText(doc)
	if strings.Contains(text, "alert") || strings.Contains(text, "hidden header") {
		t.Fatalf("non-visible content leaked: %q", text)
	}
	if !strings.Contains(text, "First paragraph.\nSecond paragraph.") {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := truncate("héllo", 2); got != "hé" {
		t.Fatalf("unexpected truncation: %q", got)
	}
	if got := truncate("abc", 0); got != "abc" {
		t.Fatalf("zero limit should keep text: %q", got)
	}
}

type seenSet map[string]bool

func (s seenSet) HasSeen(_ context.Context, id string) (bool, error) { return s[id], nil }

func TestSourceStopsAtFirstSeen(t *testing.T) {
	t.Parallel()

	requests := &requestLog{}
	server := newEdgarServer(t, requests)
	cfg := config.EdgarConfig{
		Forms:     []string{"8-K", "10-Q", "4"},
		Companies: []config.CompanyConfig{{Symbol: "acme", CIK: "12345"}},
	}
	seen := seenSet{domain.EventID("ACME", "0000012345-25-000002", domain.Form10Q): true}

	source := NewSource(newTestClient(server), cfg, 100, seen, nil)
	events, err := source.FetchEvents(context.Background())
	if err != nil {
		t.Fatalf("FetchEvents error: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.EventID != "ACME:0000012345-25-000003:8-K" {
		t.Fatalf("unexpected event id: %s", ev.EventID)
	}
	if !strings.Contains(ev.RawText, "The company settled litigation.") {
		t.Fatalf("unexpected text: %q", ev.RawText)
	}
	if ev.ContentHash == "" {
		t.Fatalf("content hash not derived")
	}
	for _, path := range requests.snapshot() {
		if strings.HasSuffix(path, "form4.xml") {
			t.Fatalf("scan continued past a seen filing: %v", requests.snapshot())
		}
	}
}

func TestSourceAllCompaniesFail(t *testing.T) {
	t.Parallel()

	server := newEdgarServer(t, nil)
	cfg := config.EdgarConfig{Companies: []config.CompanyConfig{{Symbol: "BAD", CIK: "nope"}}}

	if _, err := NewSource(newTestClient(server), cfg, 0, nil, nil).FetchEvents(context.Background()); err == nil {
		t.Fatalf("expected error when every company fails")
	}
}
