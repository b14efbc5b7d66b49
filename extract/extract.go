// Package extract implements the Content Extraction Chain: a fixed,
// ordered list of strategies for pulling readable text out of an
// arbitrary URL, generalized from
// original_source's production_content_extractor.py strategy chain
// (hosted reader service, boilerplate-stripping HTML parse, raw
// DOM-aware fallback, raw-body last resort). Each strategy isolates its
// own failures so one broken strategy never aborts the chain.
package extract

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/marketlens/engine/errs"
	"github.com/marketlens/engine/logger"
	"github.com/marketlens/engine/telemetry"
)

// MinValidLength is the minimum character count a strategy's extracted
// text must reach to be considered successful.
const MinValidLength = 100

// DefaultTimeout is the per-strategy timeout used when the caller does
// not override it via Option.
const DefaultTimeout = 30 * time.Second

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
}

// strategy is one named extraction attempt.
type strategy struct {
	name string
	run  func(c *Chain, ctx context.Context, url string) (string, error)
}

// Chain runs strategies in a fixed order, returning the first result
// that meets MinValidLength.
type Chain struct {
	client       *http.Client
	timeout      time.Duration
	userAgents   []string
	readerPrefix string
	strategies   []strategy
	rand         *rand.Rand
	log          logger.Logger
}

// Option configures a Chain.
type Option func(*Chain)

// WithHTTPClient overrides the default http.Client (useful for tests).
func WithHTTPClient(c *http.Client) Option { return func(ch *Chain) { ch.client = c } }

// WithLogger attaches a logger.Logger used to record per-strategy
// attempts at debug level. Without it, a no-op logger is used.
func WithLogger(l logger.Logger) Option {
	return func(ch *Chain) {
		if l != nil {
			ch.log = l
		}
	}
}

// WithTimeout overrides the per-strategy timeout.
func WithTimeout(d time.Duration) Option { return func(ch *Chain) { ch.timeout = d } }

// WithUserAgents overrides the rotation pool of User-Agent strings.
func WithUserAgents(agents []string) Option {
	return func(ch *Chain) {
		if len(agents) > 0 {
			ch.userAgents = agents
		}
	}
}

// WithReaderPrefix overrides the hosted reader service's URL prefix
// (default matches Jina Reader's "https://r.jina.ai/").
func WithReaderPrefix(prefix string) Option { return func(ch *Chain) { ch.readerPrefix = prefix } }

// New constructs a Chain with the four strategies in their fixed order:
// reader_service, html_to_text, raw_http_dom, raw_http_fallback.
func New(opts ...Option) *Chain {
	c := &Chain{
		client:       &http.Client{Timeout: DefaultTimeout},
		timeout:      DefaultTimeout,
		userAgents:   defaultUserAgents,
		readerPrefix: "https://r.jina.ai/",
		rand:         rand.New(rand.NewSource(1)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.strategies = []strategy{
		{name: "reader_service", run: (*Chain).readerService},
		{name: "html_to_text", run: (*Chain).htmlToText},
		{name: "raw_http_dom", run: (*Chain).rawHTTPDOM},
		{name: "raw_http_fallback", run: (*Chain).rawHTTPFallback},
	}
	return c
}

func (c *Chain) userAgent() string {
	return c.userAgents[c.rand.Intn(len(c.userAgents))]
}

func (c *Chain) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errs.New("extract.fetch", errs.KindProtocol, url, err)
	}
	req.Header.Set("User-Agent", c.userAgent())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errs.New("extract.fetch", errs.KindTimeout, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", errs.New("extract.fetch", errs.KindServerError, url, fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", errs.New("extract.fetch", errs.KindProtocol, url, err)
	}
	return string(body), nil
}

func (c *Chain) readerService(ctx context.Context, url string) (string, error) {
	return c.fetch(ctx, c.readerPrefix+url)
}

func (c *Chain) htmlToText(ctx context.Context, url string) (string, error) {
	body, err := c.fetch(ctx, url)
	if err != nil {
		return "", err
	}
	return readableText(body, true), nil
}

func (c *Chain) rawHTTPDOM(ctx context.Context, url string) (string, error) {
	body, err := c.fetch(ctx, url)
	if err != nil {
		return "", err
	}
	return readableText(body, false), nil
}

func (c *Chain) rawHTTPFallback(ctx context.Context, url string) (string, error) {
	body, err := c.fetch(ctx, url)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(stripTags(body)), nil
}

var skipTags = map[string]bool{
	"script": true, "style": true, "nav": true, "footer": true, "header": true, "noscript": true,
}

var preferredTags = map[string]bool{
	"main": true, "article": true,
}

// readableText walks the parsed DOM, skipping boilerplate tags and, when
// preferMain is true, restricting to the first main/article element
// found (the boilerplate-removal pass); falls back to the whole body
// otherwise.
func readableText(body string, preferMain bool) string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return ""
	}

	var mainNode *html.Node
	var walk func(*html.Node)
	var b strings.Builder

	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.ElementNode && skipTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				b.WriteString(text)
				b.WriteString(" ")
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			collect(ch)
		}
	}

	walk = func(n *html.Node) {
		if preferMain && mainNode == nil && n.Type == html.ElementNode && preferredTags[n.Data] {
			mainNode = n
			return
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}

	if preferMain {
		walk(doc)
	}
	if mainNode != nil {
		collect(mainNode)
	} else {
		collect(doc)
	}
	return strings.TrimSpace(b.String())
}

func stripTags(body string) string {
	var b strings.Builder
	inTag := false
	for _, r := range body {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Extract runs each strategy in order. The first result with at least
// MinValidLength characters wins. A strategy's error is logged to
// telemetry and never aborts the chain; if every strategy fails or
// falls short, Extract returns ("", false).
func (c *Chain) Extract(ctx context.Context, url string) (string, bool) {
	for _, s := range c.strategies {
		stratCtx, cancel := context.WithTimeout(ctx, c.timeout)
		text, err := s.run(c, stratCtx, url)
		cancel()

		if err != nil {
			telemetry.Counter("extract.strategy_failed", "strategy", s.name)
			if c.log != nil {
				c.log.Debug("extraction strategy failed", "strategy", s.name, "url", url, "error", err.Error())
			}
			continue
		}
		if len(text) >= MinValidLength {
			telemetry.Counter("extract.strategy_succeeded", "strategy", s.name)
			if c.log != nil {
				c.log.Debug("extraction strategy succeeded", "strategy", s.name, "url", url, "chars", len(text))
			}
			return text, true
		}
		telemetry.Counter("extract.strategy_too_short", "strategy", s.name)
		if c.log != nil {
			c.log.Debug("extraction strategy below minimum length", "strategy", s.name, "url", url, "chars", len(text))
		}
	}
	return "", false
}
