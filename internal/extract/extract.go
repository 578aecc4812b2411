// Package extract fetches a URL and reduces the page to plain text for analysis.
package extract

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	neturl "net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/unpieceof/meemoo/internal/config"
	"github.com/unpieceof/meemoo/internal/memo"
)

const maxBodyBytes = 2 << 20

var (
	scriptRe   = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe    = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	tagRe      = regexp.MustCompile(`<[^>]+>`)
	spaceRunRe = regexp.MustCompile(`\s+`)
)

// Extractor turns a URL into (source type, text). It never returns an error;
// fetch and parse failures yield empty text.
type Extractor struct {
	client    *http.Client
	userAgent string
	maxChars  int
}

func New(cfg config.ExtractorConfig) *Extractor {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = config.DefaultFetchTimeout * time.Second
	}
	return &Extractor{
		client:    &http.Client{Timeout: timeout},
		userAgent: cfg.UserAgent,
		maxChars:  cfg.MaxChars,
	}
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func (e *Extractor) WithHTTPClient(c *http.Client) *Extractor {
	e.client = c
	return e
}

func (e *Extractor) Extract(ctx context.Context, url string) (string, string) {
	sourceType := DetectSource(url)
	body, err := e.fetch(ctx, url)
	if err != nil {
		log.Printf("[extract] fetch %s failed: %v", url, err)
		return sourceType, ""
	}
	text := pageText(body)
	return sourceType, memo.Truncate(text, e.maxChars)
}

// DetectSource classifies a URL as x, instagram or web by its host.
func DetectSource(rawURL string) string {
	host := urlHost(rawURL)
	switch {
	case onDomain(host, "x.com"), onDomain(host, "twitter.com"):
		return memo.SourceX
	case onDomain(host, "instagram.com"):
		return memo.SourceInstagram
	default:
		return memo.SourceWeb
	}
}

func urlHost(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	u, err := neturl.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// onDomain reports whether host is domain or one of its subdomains.
func onDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func (e *Extractor) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status=%d", resp.StatusCode)
	}
	return string(body), nil
}

// pageText prefers Open Graph title/description plus the main content block,
// and falls back to regex tag stripping when the document cannot be parsed.
func pageText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return stripTags(html)
	}
	doc.Find("script, style, noscript").Remove()

	var parts []string
	for _, prop := range []string{"og:title", "og:description"} {
		if v, ok := doc.Find(`meta[property="` + prop + `"]`).Attr("content"); ok {
			if v = collapse(v); v != "" {
				parts = append(parts, v)
			}
		}
	}
	if len(parts) == 0 {
		if t := collapse(doc.Find("title").First().Text()); t != "" {
			parts = append(parts, t)
		}
	}

	for _, sel := range []string{"article", "main", "body"} {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if t := collapse(node.Text()); t != "" {
			parts = append(parts, t)
			break
		}
	}
	if len(parts) == 0 {
		return stripTags(html)
	}
	return strings.Join(parts, " ")
}

func stripTags(html string) string {
	text := scriptRe.ReplaceAllString(html, "")
	text = styleRe.ReplaceAllString(text, "")
	text = tagRe.ReplaceAllString(text, " ")
	return collapse(text)
}

func collapse(s string) string {
	return strings.TrimSpace(spaceRunRe.ReplaceAllString(s, " "))
}
