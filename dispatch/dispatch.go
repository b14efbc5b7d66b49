// Package dispatch implements the Fallback Dispatcher: one Invoke per
// provider class that walks the Provider
// Registry's ranked list, respects the Rate Limiter, calls a
// class-specific adapter under a deadline, and rotates to the next
// provider on failure. The retry-with-rotation shape is grounded on
// this codebase's resilience retry policy, generalized from a single
// endpoint's retry loop to a multi-provider rotation loop; the
// success/failure bookkeeping calls straight into providerreg.
//
// Each provider name additionally gets its own resilience.CircuitBreaker
// (sliding-window error-rate breaker, not the registry's simpler
// consecutive-failure counter) so a provider that is erroring fast trips
// open and is skipped without waiting out its adapter deadline; the
// registry's cooldown/disabled state still governs whether the provider
// is offered as a candidate at all.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/marketlens/engine/errs"
	"github.com/marketlens/engine/providerreg"
	"github.com/marketlens/engine/ratelimit"
	"github.com/marketlens/engine/resilience"
	"github.com/marketlens/engine/telemetry"
)

// Request is the class-specific call payload. Only the fields relevant
// to the target class need to be set.
type Request struct {
	Prompt    string
	MaxTokens int
	Query     string
	Limit     int
	URL       string
}

// Response is the class-specific call result.
type Response struct {
	ProviderName string
	Text         string
	Raw          interface{}
}

// Adapter performs the actual network call against one named provider
// entry. Implementations classify their own failures into an errs.Kind
// via the returned error (wrapped with errs.New, or a bare error that
// errs.KindOf defaults to server_error).
type Adapter func(ctx context.Context, entry providerreg.Snapshot, req Request) (Response, error)

// Dispatcher ties a Provider Registry, a Rate Limiter, and one Adapter
// per class together.
type Dispatcher struct {
	registry *providerreg.Registry
	limiter  *ratelimit.Limiter
	adapters map[providerreg.Class]Adapter

	maxWait  time.Duration
	deadline time.Duration

	breakersMu sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxWait overrides the default 2s limit on how long Invoke sleeps
// for a rate-limited provider; a provider whose required wait is longer,
// or whose daily quota is spent, is treated as failed for this attempt.
func WithMaxWait(d time.Duration) Option { return func(p *Dispatcher) { p.maxWait = d } }

// WithDeadline overrides the default 60s hard deadline on each adapter
// call.
func WithDeadline(d time.Duration) Option { return func(p *Dispatcher) { p.deadline = d } }

// New constructs a Dispatcher. adapters must contain one entry per
// class the caller intends to Invoke.
func New(registry *providerreg.Registry, limiter *ratelimit.Limiter, adapters map[providerreg.Class]Adapter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		limiter:  limiter,
		adapters: adapters,
		maxWait:  2 * time.Second,
		deadline: 60 * time.Second,
		breakers: make(map[string]*resilience.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// breakerFor returns the per-provider circuit breaker, creating one on
// first use. Breakers are independent per provider name so one bad key
// in a class never trips its siblings.
func (d *Dispatcher) breakerFor(name string) *resilience.CircuitBreaker {
	d.breakersMu.Lock()
	defer d.breakersMu.Unlock()
	if cb, ok := d.breakers[name]; ok {
		return cb
	}
	cb, err := resilience.CreateCircuitBreaker(name, resilience.ResilienceDependencies{})
	if err != nil {
		// DefaultConfig() is always valid; CreateCircuitBreaker only
		// fails on a bad config, which cannot happen here.
		panic("dispatch: unexpected circuit breaker construction failure: " + err.Error())
	}
	d.breakers[name] = cb
	return cb
}

// Invoke tries providers of the given class in ranked order until one
// succeeds, or returns an EngineError of kind all_providers_exhausted
// once every candidate has failed. That error wraps the last candidate's
// error, or ErrAllProvidersExhausted when no attempt recorded one.
func (d *Dispatcher) Invoke(ctx context.Context, class providerreg.Class, req Request) (Response, error) {
	adapter, ok := d.adapters[class]
	if !ok {
		return Response{}, errs.New("dispatch.Invoke", errs.KindDependencyMissing, string(class), errors.New("no adapter registered for class"))
	}

	candidates := d.registry.ListAvailable(class)
	if len(candidates) == 0 {
		return Response{}, errs.New("dispatch.Invoke", errs.KindAllProvidersExhausted, string(class), errs.ErrNoProvidersConfigured)
	}

	tried := make(map[string]bool)
	var lastErr error

	for {
		var next *providerreg.Snapshot
		for i := range candidates {
			if !tried[candidates[i].Name] {
				next = &candidates[i]
				break
			}
		}
		if next == nil {
			if lastErr == nil {
				lastErr = errs.ErrAllProvidersExhausted
			}
			return Response{}, errs.New("dispatch.Invoke", errs.KindAllProvidersExhausted, string(class), lastErr)
		}

		tried[next.Name] = true

		decision, err := d.limiter.Acquire(ctx, next.Name)
		if err != nil {
			return Response{}, err
		}
		if !decision.Allowed && !decision.QuotaExhausted && decision.Wait > 0 && decision.Wait <= d.maxWait {
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(decision.Wait):
			}
			if decision, err = d.limiter.Acquire(ctx, next.Name); err != nil {
				return Response{}, err
			}
		}
		if !decision.Allowed {
			kind := errs.KindRateLimited
			_ = d.registry.RecordFailure(next.Name, kind)
			telemetry.Counter("dispatch.rate_limited", "class", string(class), "provider", next.Name)
			lastErr = errs.New("dispatch.Invoke", kind, next.Name, errors.New("rate limited or quota exhausted"))
			continue
		}

		breaker := d.breakerFor(next.Name)
		if !breaker.CanExecute() {
			kind := errs.KindServerError
			_ = d.registry.RecordFailure(next.Name, kind)
			telemetry.Counter("dispatch.circuit_open", "class", string(class), "provider", next.Name)
			lastErr = errs.New("dispatch.Invoke", kind, next.Name, errs.ErrCircuitOpen)
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, d.deadline)
		var resp Response
		cbErr := breaker.Execute(callCtx, func() error {
			var adapterErr error
			resp, adapterErr = adapter(callCtx, *next, req)
			return adapterErr
		})
		cancel()

		if cbErr == nil {
			_ = d.registry.RecordSuccess(next.Name)
			telemetry.Counter("dispatch.success", "class", string(class), "provider", next.Name)
			resp.ProviderName = next.Name
			return resp, nil
		}

		kind := errs.KindOf(cbErr)
		_ = d.registry.RecordFailure(next.Name, kind)
		telemetry.Counter("dispatch.failure", "class", string(class), "provider", next.Name, "kind", string(kind))
		lastErr = cbErr
	}
}
