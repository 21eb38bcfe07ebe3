package edgar

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// Filing is one entry of a company's recent filings list.
type Filing struct {
	Accession   string
	Form        string
	FiledAt     time.Time
	PrimaryDoc  string
	DocumentURL string
}

// Client reads the SEC submissions API and archive documents. Every request
// waits on a shared limiter to stay inside SEC fair-access limits.
type Client struct {
	http           *resty.Client
	limiter        *rate.Limiter
	submissionsURL string
	archivesURL    string
}

// ClientOptions configures endpoints, identification and pacing.
type ClientOptions struct {
	SubmissionsURL    string
	ArchivesURL       string
	UserAgent         string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// NewClient wires a resty client with the SEC-required User-Agent.
func NewClient(opts ClientOptions) *Client {
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}

	return &Client{
		http: resty.New().
			SetTimeout(opts.Timeout).
			SetHeader("User-Agent", opts.UserAgent).
			SetHeader("Accept", "application/json, text/html").
			SetRetryCount(2).
			SetRetryWaitTime(2 * time.Second),
		limiter:        rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		submissionsURL: strings.TrimRight(opts.SubmissionsURL, "/"),
		archivesURL:    strings.TrimRight(opts.ArchivesURL, "/"),
	}
}

type submissionsResponse struct {
	Name    string `json:"name"`
	Filings struct {
		Recent recentFilings `json:"recent"`
	} `json:"filings"`
}

type recentFilings struct {
	AccessionNumber    []string `json:"accessionNumber"`
	FilingDate         []string `json:"filingDate"`
	AcceptanceDateTime []string `json:"acceptanceDateTime"`
	Form               []string `json:"form"`
	PrimaryDocument    []string `json:"primaryDocument"`
}

// RecentFilings returns the company's recent filings of the wanted forms,
// newest first.
func (c *Client) RecentFilings(ctx context.Context, cik string, forms []string) ([]Filing, error) {
	cikNum, err := strconv.ParseUint(strings.TrimSpace(cik), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid cik %q: %w", cik, err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&submissionsResponse{}).
		Get(fmt.Sprintf("%s/CIK%010d.json", c.submissionsURL, cikNum))
	if err != nil {
		return nil, fmt.Errorf("request submissions: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("submissions returned %s", resp.Status())
	}

	recent := resp.Result().(*submissionsResponse).Filings.Recent
	wanted := make(map[string]bool, len(forms))
	for _, f := range forms {
		wanted[strings.ToUpper(f)] = true
	}

	var filings []Filing
	for i, acc := range recent.AccessionNumber {
		form := at(recent.Form, i)
		if len(wanted) > 0 && !wanted[strings.ToUpper(form)] {
			continue
		}
		doc := at(recent.PrimaryDocument, i)
		filings = append(filings, Filing{
			Accession:   acc,
			Form:        form,
			FiledAt:     filedAt(at(recent.AcceptanceDateTime, i), at(recent.FilingDate, i)),
			PrimaryDoc:  doc,
			DocumentURL: c.documentURL(cikNum, acc, doc),
		})
	}

	sort.SliceStable(filings, func(i, j int) bool { return filings[i].FiledAt.After(filings[j].FiledAt) })
	return filings, nil
}

// DocumentText downloads a filing document and returns its visible text,
// cut to maxChars runes when maxChars is positive.
func (c *Client) DocumentText(ctx context.Context, url string, maxChars int) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", fmt.Errorf("request document: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("document returned %s", resp.Status())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return "", fmt.Errorf("parse document: %w", err)
	}
	return truncate(extractText(doc), maxChars), nil
}

func (c *Client) documentURL(cik uint64, accession, primaryDoc string) string {
	if primaryDoc == "" {
		return ""
	}
	// XSL-rendered Form 4 paths point at a viewer; the raw XML sits beside it.
	if i := strings.LastIndex(primaryDoc, "/"); i >= 0 && strings.HasPrefix(primaryDoc, "xsl") {
		primaryDoc = primaryDoc[i+1:]
	}
	return fmt.Sprintf("%s/%d/%s/%s", c.archivesURL, cik, strings.ReplaceAll(accession, "-", ""), primaryDoc)
}

var blankLines = regexp.MustCompile(`\n\s*\n+`)

// extractText returns the document text without scripts, styles or hidden
// inline-XBRL header blocks.
func extractText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, ix\\:header, [style*='display:none']").Remove()

	// Block boundaries become line breaks so paragraphs do not run together.
	doc.Find("br, p, div, tr, li, h1, h2, h3, h4, h5, h6, table").AppendHtml("\n")

	text := doc.Find("body").Text()
	if strings.TrimSpace(text) == "" {
		text = doc.Text()
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}

func truncate(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars])
}

func filedAt(acceptance, filingDate string) time.Time {
	if t, err := time.Parse(time.RFC3339, acceptance); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse("2006-01-02", filingDate); err == nil {
		return t
	}
	return time.Time{}
}

func at(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}
	return ""
}
