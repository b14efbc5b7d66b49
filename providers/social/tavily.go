// Package social implements the social-class dispatch.Adapter, grounded
// on original_source's tavily_mcp_client.py: a single Tavily Search API
// call restricted to a platform's domain via a "site:" query qualifier.
// Unlike the original, which silently fabricated placeholder results
// when a platform returned nothing, this adapter only returns synthetic
// placeholders when config.Config.AllowSyntheticFallback is explicitly
// set.
package social

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/marketlens/engine/dispatch"
	"github.com/marketlens/engine/errs"
	"github.com/marketlens/engine/providerreg"
	"github.com/marketlens/engine/telemetry"
)

// Result is one normalized social-search hit.
type Result struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Snippet  string `json:"snippet"`
	Platform string `json:"platform"`
	Synthetic bool  `json:"synthetic"`
}

var platformDomains = map[string]string{
	"twitter":   "twitter.com",
	"linkedin":  "linkedin.com",
	"facebook":  "facebook.com",
	"instagram": "instagram.com",
	"youtube":   "youtube.com",
	"tiktok":    "tiktok.com",
}

// TavilyAdapter calls the Tavily Search API, scoped to a fixed list of
// social platforms via "site:" qualifiers.
type TavilyAdapter struct {
	client                 *http.Client
	creds                  map[string]string // provider name -> API key
	allowSyntheticFallback bool
	platforms              []string
}

// NewTavilyAdapter builds a TavilyAdapter keyed by provider name.
// allowSyntheticFallback mirrors config.Config.AllowSyntheticFallback:
// when false, a platform with zero real results is simply omitted
// rather than padded with placeholder data.
func NewTavilyAdapter(client *http.Client, creds map[string]string, allowSyntheticFallback bool) *TavilyAdapter {
	if client == nil {
		client = telemetry.NewTracedHTTPClient(nil)
	}
	return &TavilyAdapter{
		client:                 client,
		creds:                  creds,
		allowSyntheticFallback: allowSyntheticFallback,
		platforms:              []string{"twitter", "linkedin", "facebook", "instagram", "youtube", "tiktok"},
	}
}

type tavilyRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Invoke satisfies dispatch.Adapter for providerreg.ClassSocial. It
// queries every configured platform and aggregates the hits into
// Response.Raw as a []Result; a platform whose query fails or returns
// nothing contributes no entries unless AllowSyntheticFallback is set.
func (a *TavilyAdapter) Invoke(ctx context.Context, entry providerreg.Snapshot, req dispatch.Request) (dispatch.Response, error) {
	apiKey, ok := a.creds[entry.Name]
	if !ok {
		return dispatch.Response{}, errs.New("social.tavily.Invoke", errs.KindDependencyMissing, entry.Name, fmt.Errorf("no tavily api key configured for provider %q", entry.Name))
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	var all []Result
	for _, platform := range a.platforms {
		domain, ok := platformDomains[platform]
		if !ok {
			continue
		}
		query := fmt.Sprintf("%s site:%s", req.Query, domain)
		hits, err := a.searchOne(ctx, apiKey, query, limit)
		if err != nil || len(hits) == 0 {
			if a.allowSyntheticFallback {
				all = append(all, syntheticPlaceholder(platform, req.Query))
			}
			continue
		}
		for _, h := range hits {
			all = append(all, Result{Title: h.Title, URL: h.URL, Snippet: h.Content, Platform: platform})
		}
	}

	if len(all) == 0 {
		return dispatch.Response{}, errs.New("social.tavily.Invoke", errs.KindEmptyResponse, entry.Name, fmt.Errorf("no social results for any configured platform"))
	}
	return dispatch.Response{Raw: all}, nil
}

func (a *TavilyAdapter) searchOne(ctx context.Context, apiKey, query string, limit int) ([]struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}, error) {
	payload, err := json.Marshal(tavilyRequest{APIKey: apiKey, Query: query, MaxResults: limit})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.tavily.com/search", strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("tavily returned status %d", resp.StatusCode)
	}

	var body tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Results, nil
}

func syntheticPlaceholder(platform, query string) Result {
	return Result{
		Title:     fmt.Sprintf("%s mentions of %q (no live results)", capitalize(platform), query),
		URL:       "",
		Snippet:   "synthetic placeholder: no live results were available for this platform",
		Platform:  platform,
		Synthetic: true,
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
