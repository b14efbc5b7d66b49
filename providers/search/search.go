// Package search implements search-class dispatch.Adapters, grounded on
// original_source's production_search_manager.py provider rotation
// (Google Custom Search priority 2, Serper priority 3): each provider is
// a thin REST client over credentials handed to its constructor keyed by
// provider name, and
// each call result is reshaped into dispatch.Response.Raw as a slice of
// Result so callers stay decoupled from the upstream JSON shape.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/marketlens/engine/dispatch"
	"github.com/marketlens/engine/errs"
	"github.com/marketlens/engine/providerreg"
	"github.com/marketlens/engine/telemetry"
)

// Result is one normalized search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"`
}

// GoogleCredential holds a Google Programmable Search Engine API key and
// CSE ID, encoded together as "apiKey|cseID" in
// config.ProviderCredential.Credentials.
type GoogleCredential struct {
	APIKey string
	CSEID  string
}

// ParseGoogleCredential splits the "apiKey|cseID" encoding used in
// configuration files.
func ParseGoogleCredential(raw string) (GoogleCredential, error) {
	parts := strings.SplitN(raw, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return GoogleCredential{}, fmt.Errorf("search: malformed google credential, want \"apiKey|cseID\"")
	}
	return GoogleCredential{APIKey: parts[0], CSEID: parts[1]}, nil
}

// GoogleAdapter calls the Google Custom Search JSON API.
type GoogleAdapter struct {
	client *http.Client
	creds  map[string]GoogleCredential
}

// NewGoogleAdapter builds a GoogleAdapter keyed by provider name.
func NewGoogleAdapter(client *http.Client, creds map[string]GoogleCredential) *GoogleAdapter {
	if client == nil {
		client = telemetry.NewTracedHTTPClient(nil)
	}
	return &GoogleAdapter{client: client, creds: creds}
}

type googleSearchResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

// Invoke satisfies dispatch.Adapter for providerreg.ClassSearch.
func (a *GoogleAdapter) Invoke(ctx context.Context, entry providerreg.Snapshot, req dispatch.Request) (dispatch.Response, error) {
	cred, ok := a.creds[entry.Name]
	if !ok {
		return dispatch.Response{}, errs.New("search.google.Invoke", errs.KindDependencyMissing, entry.Name, fmt.Errorf("no google credential configured for provider %q", entry.Name))
	}

	limit := req.Limit
	if limit <= 0 || limit > 10 {
		limit = 10
	}

	q := url.Values{}
	q.Set("key", cred.APIKey)
	q.Set("cx", cred.CSEID)
	q.Set("q", req.Query)
	q.Set("num", fmt.Sprintf("%d", limit))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://www.googleapis.com/customsearch/v1?"+q.Encode(), nil)
	if err != nil {
		return dispatch.Response{}, errs.New("search.google.Invoke", errs.KindProtocol, entry.Name, err)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return dispatch.Response{}, errs.New("search.google.Invoke", errs.KindTimeout, entry.Name, err)
	}
	defer resp.Body.Close()

	if kind, failed := statusKind(resp.StatusCode); failed {
		return dispatch.Response{}, errs.New("search.google.Invoke", kind, entry.Name, fmt.Errorf("google search returned status %d", resp.StatusCode))
	}

	var body googleSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return dispatch.Response{}, errs.New("search.google.Invoke", errs.KindProtocol, entry.Name, err)
	}

	if len(body.Items) == 0 {
		return dispatch.Response{}, errs.New("search.google.Invoke", errs.KindEmptyResponse, entry.Name, fmt.Errorf("no results for query"))
	}

	results := make([]Result, 0, len(body.Items))
	for _, item := range body.Items {
		results = append(results, Result{Title: item.Title, URL: item.Link, Snippet: item.Snippet, Source: "google"})
	}
	return dispatch.Response{Raw: results}, nil
}

// SerperAdapter calls the Serper Google-search-proxy API.
type SerperAdapter struct {
	client *http.Client
	creds  map[string]string // provider name -> API key
}

// NewSerperAdapter builds a SerperAdapter keyed by provider name.
func NewSerperAdapter(client *http.Client, creds map[string]string) *SerperAdapter {
	if client == nil {
		client = telemetry.NewTracedHTTPClient(nil)
	}
	return &SerperAdapter{client: client, creds: creds}
}

type serperSearchResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

// Invoke satisfies dispatch.Adapter for providerreg.ClassSearch.
func (a *SerperAdapter) Invoke(ctx context.Context, entry providerreg.Snapshot, req dispatch.Request) (dispatch.Response, error) {
	apiKey, ok := a.creds[entry.Name]
	if !ok {
		return dispatch.Response{}, errs.New("search.serper.Invoke", errs.KindDependencyMissing, entry.Name, fmt.Errorf("no serper api key configured for provider %q", entry.Name))
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	payload, err := json.Marshal(map[string]interface{}{"q": req.Query, "num": limit})
	if err != nil {
		return dispatch.Response{}, errs.New("search.serper.Invoke", errs.KindProtocol, entry.Name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://google.serper.dev/search", strings.NewReader(string(payload)))
	if err != nil {
		return dispatch.Response{}, errs.New("search.serper.Invoke", errs.KindProtocol, entry.Name, err)
	}
	httpReq.Header.Set("X-API-KEY", apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return dispatch.Response{}, errs.New("search.serper.Invoke", errs.KindTimeout, entry.Name, err)
	}
	defer resp.Body.Close()

	if kind, failed := statusKind(resp.StatusCode); failed {
		return dispatch.Response{}, errs.New("search.serper.Invoke", kind, entry.Name, fmt.Errorf("serper returned status %d", resp.StatusCode))
	}

	var body serperSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return dispatch.Response{}, errs.New("search.serper.Invoke", errs.KindProtocol, entry.Name, err)
	}

	if len(body.Organic) == 0 {
		return dispatch.Response{}, errs.New("search.serper.Invoke", errs.KindEmptyResponse, entry.Name, fmt.Errorf("no results for query"))
	}

	results := make([]Result, 0, len(body.Organic))
	for _, item := range body.Organic {
		results = append(results, Result{Title: item.Title, URL: item.Link, Snippet: item.Snippet, Source: "serper"})
	}
	return dispatch.Response{Raw: results}, nil
}

func statusKind(code int) (errs.Kind, bool) {
	switch {
	case code == http.StatusTooManyRequests:
		return errs.KindRateLimited, true
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errs.KindAuth, true
	case code == http.StatusRequestTimeout:
		return errs.KindTimeout, true
	case code >= 500:
		return errs.KindServerError, true
	case code >= 400:
		return errs.KindServerError, true
	default:
		return "", false
	}
}
