// Package llmrest implements llm-class dispatch.Adapters for the three
// hosted chat-completion APIs this codebase's ai/providers package
// talks to directly over HTTP: Anthropic's native Messages API, OpenAI's
// Chat Completions API, and Google's Gemini generateContent API. Each
// adapter is a thin, stateless REST client keyed by provider name,
// grounded on ai/providers/{anthropic,openai,gemini}/client.go's
// request/response shapes and trimmed to the single synchronous
// generate-response call path the Fallback Dispatcher needs — the
// source clients' streaming, tool-calling, and reasoning-effort paths
// aren't exercised by this engine's single-prompt-in/single-text-out
// Request shape.
package llmrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/marketlens/engine/dispatch"
	"github.com/marketlens/engine/errs"
	"github.com/marketlens/engine/providerreg"
	"github.com/marketlens/engine/telemetry"
)

func newClient(client *http.Client) *http.Client {
	if client == nil {
		return telemetry.NewTracedHTTPClient(nil)
	}
	return client
}

func doJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body interface{}, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusErr{code: resp.StatusCode}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type statusErr struct{ code int }

func (e statusErr) Error() string { return fmt.Sprintf("llm provider returned status %d", e.code) }

func classifyStatus(err error) errs.Kind {
	se, ok := err.(statusErr)
	if !ok {
		return errs.KindTimeout
	}
	switch {
	case se.code == http.StatusTooManyRequests:
		return errs.KindRateLimited
	case se.code == http.StatusUnauthorized || se.code == http.StatusForbidden:
		return errs.KindAuth
	case se.code == http.StatusRequestTimeout:
		return errs.KindTimeout
	case se.code >= 500:
		return errs.KindServerError
	default:
		return errs.KindServerError
	}
}

// ---- Anthropic ----

const anthropicAPIVersion = "2023-06-01"

// AnthropicAdapter calls Anthropic's native Messages API.
type AnthropicAdapter struct {
	client *http.Client
	creds  map[string]string // provider name -> API key
}

func NewAnthropicAdapter(client *http.Client, creds map[string]string) *AnthropicAdapter {
	return &AnthropicAdapter{client: newClient(client), creds: creds}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// Invoke satisfies dispatch.Adapter for providerreg.ClassLLM.
func (a *AnthropicAdapter) Invoke(ctx context.Context, entry providerreg.Snapshot, req dispatch.Request) (dispatch.Response, error) {
	apiKey, ok := a.creds[entry.Name]
	if !ok {
		return dispatch.Response{}, errs.New("llmrest.anthropic.Invoke", errs.KindDependencyMissing, entry.Name, fmt.Errorf("no anthropic api key configured for provider %q", entry.Name))
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}

	var body anthropicResponse
	err := doJSON(ctx, a.client, http.MethodPost, "https://api.anthropic.com/v1/messages",
		map[string]string{"x-api-key": apiKey, "anthropic-version": anthropicAPIVersion},
		anthropicRequest{
			Model:     entry.ModelOrIndex,
			MaxTokens: maxTokens,
			Messages:  []anthropicMessage{{Role: "user", Content: req.Prompt}},
		}, &body)
	if err != nil {
		return dispatch.Response{}, errs.New("llmrest.anthropic.Invoke", classifyStatus(err), entry.Name, err)
	}
	if len(body.Content) == 0 || body.Content[0].Text == "" {
		return dispatch.Response{}, errs.New("llmrest.anthropic.Invoke", errs.KindEmptyResponse, entry.Name, fmt.Errorf("empty anthropic response"))
	}
	return dispatch.Response{Text: body.Content[0].Text, Raw: body}, nil
}

// ---- OpenAI ----

// OpenAIAdapter calls OpenAI's Chat Completions API.
type OpenAIAdapter struct {
	client *http.Client
	creds  map[string]string
}

func NewOpenAIAdapter(client *http.Client, creds map[string]string) *OpenAIAdapter {
	return &OpenAIAdapter{client: newClient(client), creds: creds}
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Invoke satisfies dispatch.Adapter for providerreg.ClassLLM.
func (a *OpenAIAdapter) Invoke(ctx context.Context, entry providerreg.Snapshot, req dispatch.Request) (dispatch.Response, error) {
	apiKey, ok := a.creds[entry.Name]
	if !ok {
		return dispatch.Response{}, errs.New("llmrest.openai.Invoke", errs.KindDependencyMissing, entry.Name, fmt.Errorf("no openai api key configured for provider %q", entry.Name))
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}

	var body openAIResponse
	err := doJSON(ctx, a.client, http.MethodPost, "https://api.openai.com/v1/chat/completions",
		map[string]string{"Authorization": "Bearer " + apiKey},
		openAIRequest{
			Model:     entry.ModelOrIndex,
			MaxTokens: maxTokens,
			Messages:  []openAIMessage{{Role: "user", Content: req.Prompt}},
		}, &body)
	if err != nil {
		return dispatch.Response{}, errs.New("llmrest.openai.Invoke", classifyStatus(err), entry.Name, err)
	}
	if len(body.Choices) == 0 || body.Choices[0].Message.Content == "" {
		return dispatch.Response{}, errs.New("llmrest.openai.Invoke", errs.KindEmptyResponse, entry.Name, fmt.Errorf("empty openai response"))
	}
	return dispatch.Response{Text: body.Choices[0].Message.Content, Raw: body}, nil
}

// ---- Gemini ----

// GeminiAdapter calls Google's Gemini generateContent API.
type GeminiAdapter struct {
	client *http.Client
	creds  map[string]string
}

func NewGeminiAdapter(client *http.Client, creds map[string]string) *GeminiAdapter {
	return &GeminiAdapter{client: newClient(client), creds: creds}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Invoke satisfies dispatch.Adapter for providerreg.ClassLLM.
func (a *GeminiAdapter) Invoke(ctx context.Context, entry providerreg.Snapshot, req dispatch.Request) (dispatch.Response, error) {
	apiKey, ok := a.creds[entry.Name]
	if !ok {
		return dispatch.Response{}, errs.New("llmrest.gemini.Invoke", errs.KindDependencyMissing, entry.Name, fmt.Errorf("no gemini api key configured for provider %q", entry.Name))
	}

	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s", entry.ModelOrIndex, apiKey)

	var body geminiResponse
	err := doJSON(ctx, a.client, http.MethodPost, url, nil,
		geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{{Text: req.Prompt}}}}}, &body)
	if err != nil {
		return dispatch.Response{}, errs.New("llmrest.gemini.Invoke", classifyStatus(err), entry.Name, err)
	}
	if len(body.Candidates) == 0 || len(body.Candidates[0].Content.Parts) == 0 {
		return dispatch.Response{}, errs.New("llmrest.gemini.Invoke", errs.KindEmptyResponse, entry.Name, fmt.Errorf("empty gemini response"))
	}
	return dispatch.Response{Text: body.Candidates[0].Content.Parts[0].Text, Raw: body}, nil
}
