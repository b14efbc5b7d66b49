// Package components registers the reference analysis catalog: the
// twelve-step market-analysis pipeline, generalized from
// original_source's enhanced_analysis_orchestrator.py
// step list (avatar, positioning, competition, mental drivers,
// anti-objection, pre-pitch, future predictions, visual proofs,
// forensic metrics, consolidated report) into component.Executor
// closures over a dispatch.Dispatcher and an extract.Chain. Every
// LLM-backed step shares one executor shape (llmStep); the two
// search-backed leaves and the two purely aggregating steps are written
// out individually since their shapes differ enough that a shared
// abstraction would hide more than it would save.
package components

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/marketlens/engine/component"
	"github.com/marketlens/engine/dispatch"
	"github.com/marketlens/engine/extract"
	"github.com/marketlens/engine/normalize"
	"github.com/marketlens/engine/providerreg"
	"github.com/marketlens/engine/providers/search"
)

// Deps bundles the shared collaborators every component executor in the
// catalog needs.
type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Extractor  *extract.Chain
}

// maxExtractedResults caps how many of web_search's top hits get their
// full page content pulled via the Extractor, keeping one component run
// from fanning out into dozens of slow HTTP fetches.
const maxExtractedResults = 3

// Register adds the full reference catalog to reg: web_search and
// social_search (no dependencies), avatar, positioning, competition,
// drivers, anti_objection, pre_pitch, future_predictions, visual_proofs
// (each LLM-backed, deriving its prompt from predecessor output), and
// metrics plus consolidated_report (pure aggregation, no provider
// calls). web_search, avatar, and drivers are required; every other
// step may fail without aborting the session.
func Register(reg *component.Registry, deps Deps) error {
	steps := []component.Definition{
		{
			Name:     "web_search",
			Required: true,
			Executor: webSearchStep(deps.Dispatcher, deps.Extractor),
		},
		{
			Name:     "social_search",
			Required: false,
			Executor: socialSearchStep(deps.Dispatcher),
		},
		{
			Name:         "avatar",
			Dependencies: []string{"web_search"},
			Required:     true,
			Executor: llmStep(deps.Dispatcher, "avatar", 1200, func(in component.Input) string {
				return fmt.Sprintf(
					"Using the web search findings below, build a detailed ideal-customer "+
						"profile: demographics, goals, daily frustrations, objections they raise "+
						"before buying, and the language they use to describe their problem.\n\n"+
						"Subject: %s\n\nWeb search findings:\n%s",
					subjectOf(in), jsonOf(in.PreviousResults["web_search"]))
			}),
		},
		{
			Name:         "positioning",
			Dependencies: []string{"avatar"},
			Required:     false,
			Executor: llmStep(deps.Dispatcher, "positioning", 900, func(in component.Input) string {
				return fmt.Sprintf(
					"Given this customer profile, propose a market positioning statement: "+
						"the category we compete in, the one claim that differentiates us, and "+
						"the proof points that back it up.\n\nCustomer profile:\n%s",
					jsonOf(in.PreviousResults["avatar"]))
			}),
		},
		{
			Name:         "competition",
			Dependencies: []string{"web_search", "social_search"},
			Required:     false,
			Executor: llmStep(deps.Dispatcher, "competition", 1000, func(in component.Input) string {
				return fmt.Sprintf(
					"Summarize the competitive landscape from the search results below: who the "+
						"visible competitors are, their apparent positioning, and gaps they leave "+
						"unaddressed.\n\nWeb results:\n%s\n\nSocial results:\n%s",
					jsonOf(in.PreviousResults["web_search"]), jsonOf(in.PreviousResults["social_search"]))
			}),
		},
		{
			Name:         "drivers",
			Dependencies: []string{"avatar"},
			Required:     true,
			Executor: llmStep(deps.Dispatcher, "drivers", 1200, func(in component.Input) string {
				return fmt.Sprintf(
					"From this customer profile, derive the psychological drivers that move this "+
						"buyer to act: the core fears, desires, and identity stakes at play, each "+
						"with a one-line trigger phrase.\n\nCustomer profile:\n%s",
					jsonOf(in.PreviousResults["avatar"]))
			}),
		},
		{
			Name:         "anti_objection",
			Dependencies: []string{"drivers"},
			Required:     false,
			Executor: llmStep(deps.Dispatcher, "anti_objection", 1000, func(in component.Input) string {
				return fmt.Sprintf(
					"Using these psychological drivers, write a rebuttal for each objection a "+
						"buyer is likely to raise, grounded in the same drivers rather than generic "+
						"reassurance.\n\nDrivers:\n%s",
					jsonOf(in.PreviousResults["drivers"]))
			}),
		},
		{
			Name:         "pre_pitch",
			Dependencies: []string{"drivers", "avatar"},
			Required:     false,
			Executor: llmStep(deps.Dispatcher, "pre_pitch", 1000, func(in component.Input) string {
				return fmt.Sprintf(
					"Design a pre-pitch sequence (the narrative beats before the offer is shown) "+
						"that primes the drivers below for this customer profile.\n\n"+
						"Customer profile:\n%s\n\nDrivers:\n%s",
					jsonOf(in.PreviousResults["avatar"]), jsonOf(in.PreviousResults["drivers"]))
			}),
		},
		{
			Name:         "future_predictions",
			Dependencies: []string{"competition", "avatar"},
			Required:     false,
			Executor: llmStep(deps.Dispatcher, "future_predictions", 900, func(in component.Input) string {
				return fmt.Sprintf(
					"Given the competitive landscape and customer profile below, predict how this "+
						"market segment is likely to shift over the next 12 months and what it means "+
						"for our positioning.\n\nCompetitive landscape:\n%s\n\nCustomer profile:\n%s",
					jsonOf(in.PreviousResults["competition"]), jsonOf(in.PreviousResults["avatar"]))
			}),
		},
		{
			Name:         "visual_proofs",
			Dependencies: []string{"avatar", "drivers"},
			Required:     false,
			Executor: llmStep(deps.Dispatcher, "visual_proofs", 900, func(in component.Input) string {
				return fmt.Sprintf(
					"Propose concrete visual or demonstrable proof concepts (not claims — "+
						"physical or visual demonstrations) that would land with this customer "+
						"given these psychological drivers.\n\nCustomer profile:\n%s\n\nDrivers:\n%s",
					jsonOf(in.PreviousResults["avatar"]), jsonOf(in.PreviousResults["drivers"]))
			}),
		},
		{
			Name:         "metrics",
			Dependencies: []string{"competition", "future_predictions"},
			Required:     false,
			Executor:     metricsStep(),
		},
		{
			Name: "consolidated_report",
			Dependencies: []string{
				"web_search", "social_search", "avatar", "positioning", "competition",
				"drivers", "anti_objection", "pre_pitch", "future_predictions",
				"visual_proofs", "metrics",
			},
			Required: false,
			Executor: consolidatedReportStep(),
		},
	}

	for _, s := range steps {
		if err := reg.Register(s); err != nil {
			return err
		}
	}
	return nil
}

// subjectOf pulls a human-readable description of the analysis subject
// out of the job's base context, falling back to a JSON dump of the
// whole context when no recognized key is present.
func subjectOf(in component.Input) string {
	for _, key := range []string{"subject", "product", "segment", "query", "topic"} {
		if v, ok := in.BaseContext[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return jsonOf(in.BaseContext)
}

func jsonOf(v interface{}) string {
	if v == nil {
		return "(none)"
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// llmStep builds a component.Executor that dispatches one LLM call
// whose prompt is built from the component's predecessor outputs, and
// wraps the resulting text in a document alongside the component name.
func llmStep(d *dispatch.Dispatcher, name string, maxTokens int, buildPrompt func(component.Input) string) component.Executor {
	return func(ctx context.Context, in component.Input) (interface{}, error) {
		resp, err := d.Invoke(ctx, providerreg.ClassLLM, dispatch.Request{
			Prompt:    buildPrompt(in),
			MaxTokens: maxTokens,
		})
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"step":     name,
			"provider": resp.ProviderName,
			"content":  resp.Text,
		}, nil
	}
}

// webSearchStep runs the search dispatch and, when an extractor is
// configured, pulls the full readable text of the top few result URLs
// so later LLM-backed steps have more than a title and snippet to work
// from.
func webSearchStep(d *dispatch.Dispatcher, extractor *extract.Chain) component.Executor {
	return func(ctx context.Context, in component.Input) (interface{}, error) {
		resp, err := d.Invoke(ctx, providerreg.ClassSearch, dispatch.Request{Query: subjectOf(in), Limit: 10})
		if err != nil {
			return nil, err
		}

		out := map[string]interface{}{
			"provider": resp.ProviderName,
			"results":  resp.Raw,
		}

		if extractor == nil {
			return out, nil
		}
		results, ok := resp.Raw.([]search.Result)
		if !ok {
			return out, nil
		}

		extracted := make(map[string]string, maxExtractedResults)
		for i, r := range results {
			if i >= maxExtractedResults || r.URL == "" {
				break
			}
			if text, ok := extractor.Extract(ctx, r.URL); ok {
				extracted[r.URL] = text
			}
		}
		if len(extracted) > 0 {
			out["extracted_content"] = extracted
		}
		return out, nil
	}
}

func socialSearchStep(d *dispatch.Dispatcher) component.Executor {
	return func(ctx context.Context, in component.Input) (interface{}, error) {
		resp, err := d.Invoke(ctx, providerreg.ClassSocial, dispatch.Request{Query: subjectOf(in), Limit: 10})
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"provider": resp.ProviderName,
			"results":  resp.Raw,
		}, nil
	}
}

// metricsStep derives a small set of forensic-style signals from the
// shape of its predecessors' output rather than calling a provider: the
// character length of the competition content and of the
// future-predictions content, plus whether each is non-empty, mirroring
// original_source's metricas_forenses aggregation without the numerology
// of its 0-100 persuasion score.
func metricsStep() component.Executor {
	return func(ctx context.Context, in component.Input) (interface{}, error) {
		competitionResult, _ := in.PreviousResults["competition"].(normalize.ComponentResult)
		predictionsResult, _ := in.PreviousResults["future_predictions"].(normalize.ComponentResult)

		competitionChars := 0
		if content, ok := competitionResult.Document["content"].(string); ok {
			competitionChars = len(content)
		}
		predictionChars := 0
		if content, ok := predictionsResult.Document["content"].(string); ok {
			predictionChars = len(content)
		}

		return map[string]interface{}{
			"competition_signal_chars": competitionChars,
			"prediction_signal_chars":  predictionChars,
			"has_competition_data":     competitionChars > 0,
			"has_prediction_data":      predictionChars > 0,
		}, nil
	}
}

// consolidatedReportStep merges every predecessor's raw output into a
// single document keyed by component name, mirroring
// original_source's consolidation pass without re-deriving any of the
// underlying analysis.
func consolidatedReportStep() component.Executor {
	return func(ctx context.Context, in component.Input) (interface{}, error) {
		out := make(map[string]interface{}, len(in.PreviousResults))
		for name, result := range in.PreviousResults {
			out[name] = result
		}
		return out, nil
	}
}
