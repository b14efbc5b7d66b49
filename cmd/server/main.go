// Command server wires the market-analysis engine's storage backend,
// provider registry, rate limiter, dispatcher, extraction chain,
// component catalog, session manager, and HTTP surface together into a
// single runnable process, the same sequential assemble-then-listen
// shape this codebase's own cmd/example/main.go uses for its simplest
// tool.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/marketlens/engine/component"
	"github.com/marketlens/engine/components"
	"github.com/marketlens/engine/config"
	"github.com/marketlens/engine/dispatch"
	"github.com/marketlens/engine/engine"
	"github.com/marketlens/engine/extract"
	"github.com/marketlens/engine/httpapi"
	"github.com/marketlens/engine/logger"
	"github.com/marketlens/engine/providerreg"
	"github.com/marketlens/engine/providers/bedrock"
	"github.com/marketlens/engine/providers/llmrest"
	"github.com/marketlens/engine/providers/search"
	"github.com/marketlens/engine/providers/social"
	"github.com/marketlens/engine/ratelimit"
	"github.com/marketlens/engine/session"
	"github.com/marketlens/engine/storage"
	"github.com/marketlens/engine/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	appLogger := telemetry.NewTelemetryLogger("market-analysis-engine")

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		provider, err := telemetry.EnableTelemetry(appLogger, "market-analysis-engine", endpoint)
		if err != nil {
			appLogger.Warn("telemetry exporter disabled", map[string]interface{}{"error": err.Error()})
		} else {
			defer provider.Shutdown(context.Background())
		}
	}

	backend, err := storageBackend(cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	checkpointStore := storage.NewCheckpointStore(backend)

	providerRegistry := providerreg.NewRegistry(time.Now)
	registerProviders(providerRegistry, cfg)

	limiter := ratelimit.New(ratelimit.Config{
		MinInterval: func(string) time.Duration { return time.Second },
		DailyQuota: func(name string) int64 {
			for _, class := range cfg.Providers {
				for _, cred := range class {
					if cred.Name == name {
						return cred.DailyQuota
					}
				}
			}
			return 0
		},
	})

	adapters := buildAdapters(cfg)
	dispatcher := dispatch.New(providerRegistry, limiter, adapters, dispatch.WithDeadline(cfg.DispatchDeadline))

	extractor := extract.New(extract.WithLogger(logger.NewDefaultLogger()), extract.WithTimeout(30*time.Second))

	componentRegistry := component.NewRegistry()
	if err := components.Register(componentRegistry, components.Deps{Dispatcher: dispatcher, Extractor: extractor}); err != nil {
		log.Fatalf("components: %v", err)
	}

	broadcaster := component.NewBroadcaster()
	scheduler := component.NewScheduler(componentRegistry, checkpointStore, component.WithDeadline(cfg.ComponentDeadline))
	sessions := session.New(checkpointStore, scheduler, broadcaster)

	classes := []providerreg.Class{providerreg.ClassLLM, providerreg.ClassSearch, providerreg.ClassSocial}
	facade := engine.New(sessions, providerRegistry, componentRegistry, classes...)

	server := httpapi.NewServer(httpapi.Config{
		Facade:     facade,
		Sessions:   sessions,
		Checkpoint: checkpointStore,
		Providers:  providerRegistry,
		Classes:    classes,
		Logger:     appLogger,
	})

	addr := os.Getenv("ENGINE_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	httpServer := &http.Server{
		Addr:    addr,
		Handler: server,
	}

	go func() {
		appLogger.Info("listening", map[string]interface{}{"addr": addr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	appLogger.Info("shutting down", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		appLogger.Error("shutdown error", map[string]interface{}{"error": err.Error()})
	}
	sessions.Wait()
}

// storageBackend picks Redis when cfg.RedisAddr is set, otherwise a
// filesystem store rooted at cfg.StorageRoot.
func storageBackend(cfg config.Config) (storage.Provider, error) {
	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		return storage.NewRedisProvider(client, "market-analysis"), nil
	}
	return storage.NewFilesystemProvider(cfg.StorageRoot)
}

// registerProviders populates the Provider Registry from configuration,
// one Entry per configured credential across every class.
func registerProviders(reg *providerreg.Registry, cfg config.Config) {
	for className, creds := range cfg.Providers {
		class := providerreg.Class(className)
		for _, c := range creds {
			reg.Register(providerreg.Entry{
				Name:         c.Name,
				Class:        class,
				Priority:     c.Priority,
				Credentials:  c.Credentials,
				ModelOrIndex: c.ModelOrIndex,
				DailyQuota:   c.DailyQuota,
			})
		}
	}
}

// buildAdapters assembles one dispatch.Adapter per class, each holding
// its own pre-resolved per-provider-name credential map built from
// configuration — never from providerreg.Snapshot, which deliberately
// omits credentials.
func buildAdapters(cfg config.Config) map[providerreg.Class]dispatch.Adapter {
	adapters := map[providerreg.Class]dispatch.Adapter{}

	if llmAdapter := buildLLMAdapter(cfg); llmAdapter != nil {
		adapters[providerreg.ClassLLM] = llmAdapter
	}
	if searchAdapter := buildSearchAdapter(cfg); searchAdapter != nil {
		adapters[providerreg.ClassSearch] = searchAdapter
	}
	if socialAdapter := buildSocialAdapter(cfg); socialAdapter != nil {
		adapters[providerreg.ClassSocial] = socialAdapter
	}
	return adapters
}

// buildLLMAdapter fans llm-class providers out across bedrock,
// anthropic, openai, and gemini by provider name prefix, then dispatches
// each Invoke to whichever backing adapter owns that provider name.
func buildLLMAdapter(cfg config.Config) dispatch.Adapter {
	bedrockCreds := map[string]bedrock.Credential{}
	anthropicCreds := map[string]string{}
	openaiCreds := map[string]string{}
	geminiCreds := map[string]string{}

	for _, c := range cfg.Providers["llm"] {
		switch providerVendor(c.Name) {
		case "bedrock":
			bedrockCreds[c.Name] = bedrock.Credential{Region: c.Credentials}
		case "anthropic":
			anthropicCreds[c.Name] = c.Credentials
		case "openai":
			openaiCreds[c.Name] = c.Credentials
		case "gemini":
			geminiCreds[c.Name] = c.Credentials
		}
	}

	var bedrockAdapter *bedrock.Adapter
	if len(bedrockCreds) > 0 {
		var err error
		bedrockAdapter, err = bedrock.New(context.Background(), bedrockCreds)
		if err != nil {
			log.Printf("bedrock adapter disabled: %v", err)
			bedrockAdapter = nil
		}
	}
	anthropicAdapter := llmrest.NewAnthropicAdapter(nil, anthropicCreds)
	openaiAdapter := llmrest.NewOpenAIAdapter(nil, openaiCreds)
	geminiAdapter := llmrest.NewGeminiAdapter(nil, geminiCreds)

	return func(ctx context.Context, entry providerreg.Snapshot, req dispatch.Request) (dispatch.Response, error) {
		switch providerVendor(entry.Name) {
		case "bedrock":
			if bedrockAdapter == nil {
				return dispatch.Response{}, notConfigured(entry.Name)
			}
			return bedrockAdapter.Invoke(ctx, entry, req)
		case "anthropic":
			return anthropicAdapter.Invoke(ctx, entry, req)
		case "openai":
			return openaiAdapter.Invoke(ctx, entry, req)
		case "gemini":
			return geminiAdapter.Invoke(ctx, entry, req)
		default:
			return dispatch.Response{}, notConfigured(entry.Name)
		}
	}
}

// buildSearchAdapter fans search-class providers out across Google
// Custom Search and Serper by provider name prefix.
func buildSearchAdapter(cfg config.Config) dispatch.Adapter {
	googleCreds := map[string]search.GoogleCredential{}
	serperCreds := map[string]string{}

	for _, c := range cfg.Providers["search"] {
		switch providerVendor(c.Name) {
		case "google":
			if cred, err := search.ParseGoogleCredential(c.Credentials); err == nil {
				googleCreds[c.Name] = cred
			}
		case "serper":
			serperCreds[c.Name] = c.Credentials
		}
	}

	googleAdapter := search.NewGoogleAdapter(nil, googleCreds)
	serperAdapter := search.NewSerperAdapter(nil, serperCreds)

	return func(ctx context.Context, entry providerreg.Snapshot, req dispatch.Request) (dispatch.Response, error) {
		switch providerVendor(entry.Name) {
		case "google":
			return googleAdapter.Invoke(ctx, entry, req)
		case "serper":
			return serperAdapter.Invoke(ctx, entry, req)
		default:
			return dispatch.Response{}, notConfigured(entry.Name)
		}
	}
}

// buildSocialAdapter configures a single Tavily adapter shared across
// every social-class provider entry.
func buildSocialAdapter(cfg config.Config) dispatch.Adapter {
	tavilyCreds := map[string]string{}
	for _, c := range cfg.Providers["social"] {
		tavilyCreds[c.Name] = c.Credentials
	}
	if len(tavilyCreds) == 0 {
		return nil
	}
	adapter := social.NewTavilyAdapter(nil, tavilyCreds, cfg.AllowSyntheticFallback)
	return adapter.Invoke
}

// providerVendor extracts the vendor prefix from a "vendor.alias"
// provider name (e.g. "bedrock.claude" -> "bedrock").
func providerVendor(name string) string {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return name[:i]
		}
	}
	return name
}

func notConfigured(name string) error {
	return &dependencyMissingError{name: name}
}

type dependencyMissingError struct{ name string }

func (e *dependencyMissingError) Error() string {
	return "no adapter configured for provider " + e.name
}
