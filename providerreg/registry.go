// Package providerreg implements the Provider Registry: per-class pools
// of named credentials with health state, priority, and cooldown
// tracking. It is grounded on this codebase's provider-selection pattern
// (detectBestProvider-style ranking) generalized from a single AI
// provider pool to the multi-class (llm, search, social, extractor)
// registry the engine needs, and on resilience's circuit breaker for the
// open/half-open/closed shape of the per-provider disabled/cooldown
// state machine.
package providerreg

import (
	"sort"
	"sync"
	"time"

	"github.com/marketlens/engine/errs"
	"github.com/marketlens/engine/telemetry"
)

// Class identifies the kind of external capability a provider offers.
type Class string

const (
	ClassLLM       Class = "llm"
	ClassSearch    Class = "search"
	ClassSocial    Class = "social"
	ClassExtractor Class = "extractor"
)

// State is the health state of a single provider entry.
type State string

const (
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StateDisabled State = "disabled"
)

// Entry is one named credential within a class's pool.
type Entry struct {
	Name          string
	Class         Class
	Priority      int
	Credentials   interface{}
	ModelOrIndex  string
	DailyQuota    int64

	mu sync.Mutex

	state               State
	consecutiveFailures  int
	totalFailures        int64
	totalSuccesses       int64
	disabledUntil        time.Time
	requestsToday        int64
	dayBucketStart       time.Time
	successRateEMA       float64
	rateLimitHitOnce     bool
}

// Snapshot is a read-only copy of an Entry's public fields, safe to hand
// to callers outside the registry's lock (the usage-stats surface, the
// final report's provider_status_snapshot).
type Snapshot struct {
	Name                string
	Class               Class
	Priority            int
	ModelOrIndex        string
	State               State
	ConsecutiveFailures int
	TotalFailures       int64
	TotalSuccesses      int64
	DisabledUntil       time.Time
	RequestsToday       int64
	DailyQuota          int64
	SuccessRateEMA      float64
}

func (e *Entry) snapshot() Snapshot {
	return Snapshot{
		Name:                e.Name,
		Class:               e.Class,
		Priority:            e.Priority,
		ModelOrIndex:        e.ModelOrIndex,
		State:               e.state,
		ConsecutiveFailures: e.consecutiveFailures,
		TotalFailures:       e.totalFailures,
		TotalSuccesses:      e.totalSuccesses,
		DisabledUntil:       e.disabledUntil,
		RequestsToday:       e.requestsToday,
		DailyQuota:          e.DailyQuota,
		SuccessRateEMA:      e.successRateEMA,
	}
}

const emaAlpha = 0.1

// MaxConsecutiveFailures is the default threshold at which a
// non-rate-limit failure run disables a provider.
const MaxConsecutiveFailures = 3

// Registry holds every provider entry across every class.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
}

// NewRegistry constructs an empty Registry. now is injectable for tests;
// pass nil to use time.Now.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{entries: make(map[string]*Entry), now: now}
}

// Register adds or overwrites a provider entry by name.
func (r *Registry) Register(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.state = StateHealthy
	e.dayBucketStart = r.now()
	r.entries[e.Name] = &e
}

// ListAvailable returns entries of the given class that are currently
// usable (not disabled, or past their cooldown), sorted by
// (priority, consecutive_failures) ascending, with a stable tie-break
// by name.
func (r *Registry) ListAvailable(class Class) []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var out []Snapshot
	for _, e := range r.entries {
		if e.Class != class {
			continue
		}
		e.mu.Lock()
		r.rolloverQuotaLocked(e, now)
		usable := e.state != StateDisabled || !now.Before(e.disabledUntil)
		quotaOK := e.DailyQuota <= 0 || e.requestsToday < e.DailyQuota
		snap := e.snapshot()
		e.mu.Unlock()
		if usable && quotaOK {
			out = append(out, snap)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if out[i].ConsecutiveFailures != out[j].ConsecutiveFailures {
			return out[i].ConsecutiveFailures < out[j].ConsecutiveFailures
		}
		return out[i].Name < out[j].Name
	})
	telemetry.Gauge("providerreg.available", float64(len(out)), "class", string(class))
	return out
}

func (r *Registry) rolloverQuotaLocked(e *Entry, now time.Time) {
	y1, m1, d1 := e.dayBucketStart.Date()
	y2, m2, d2 := now.Date()
	if y1 != y2 || m1 != m2 || d1 != d2 {
		e.requestsToday = 0
		e.dayBucketStart = now
	}
}

// RecordSuccess marks a provider call as successful.
func (r *Registry) RecordSuccess(name string) error {
	e, err := r.find(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = StateHealthy
	e.consecutiveFailures = 0
	e.rateLimitHitOnce = false
	e.totalSuccesses++
	e.requestsToday++
	e.successRateEMA = emaAlpha*1.0 + (1-emaAlpha)*e.successRateEMA
	return nil
}

// Backoff computes the cooldown duration for the k-th consecutive
// failure of the given kind. base is 120s for rate_limited, 30s for
// everything else; the result is capped at one hour.
func Backoff(kind errs.Kind, k int) time.Duration {
	base := 30.0
	if kind == errs.KindRateLimited {
		base = 120.0
	}
	exp := k
	if exp > 6 {
		exp = 6
	}
	seconds := base
	for i := 0; i < exp; i++ {
		seconds *= 2
	}
	if seconds > 3600 {
		seconds = 3600
	}
	return time.Duration(seconds) * time.Second
}

// RecordFailure marks a provider call as failed with the given error
// kind, updating cooldowns and disabled state per the registry's
// rules. A rate_limited failure disables the provider immediately; the
// very first rate_limited hit an entry sees additionally doubles its
// computed cooldown, mirroring original_source's rotation logic
// (record_rate_limit_hit blocks for twice its normal cooldown period on
// a provider's first observed rate limit).
func (r *Registry) RecordFailure(name string, kind errs.Kind) error {
	e, err := r.find(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.consecutiveFailures++
	e.totalFailures++
	e.successRateEMA = emaAlpha*0.0 + (1-emaAlpha)*e.successRateEMA

	now := r.now()
	if kind == errs.KindRateLimited {
		cooldown := Backoff(kind, e.consecutiveFailures)
		if !e.rateLimitHitOnce {
			cooldown *= 2
			e.rateLimitHitOnce = true
		}
		e.state = StateDisabled
		e.disabledUntil = now.Add(cooldown)
		telemetry.Counter("providerreg.state_transition", "class", string(e.Class), "provider", name, "state", string(StateDisabled))
		return nil
	}

	if e.consecutiveFailures >= MaxConsecutiveFailures {
		e.state = StateDisabled
		e.disabledUntil = now.Add(Backoff(kind, e.consecutiveFailures))
		telemetry.Counter("providerreg.state_transition", "class", string(e.Class), "provider", name, "state", string(StateDisabled))
		return nil
	}
	e.state = StateDegraded
	telemetry.Counter("providerreg.state_transition", "class", string(e.Class), "provider", name, "state", string(StateDegraded))
	return nil
}

// RehabilitateExpired promotes any disabled entry whose cooldown has
// passed back to healthy.
func (r *Registry) RehabilitateExpired(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.mu.Lock()
		if e.state == StateDisabled && !now.Before(e.disabledUntil) {
			e.state = StateHealthy
			e.consecutiveFailures = 0
		}
		e.mu.Unlock()
	}
}

// Reset clears failure/cooldown state for a named provider, or every
// provider if name is empty.
func (r *Registry) Reset(name string) error {
	if name == "" {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, e := range r.entries {
			e.mu.Lock()
			e.state = StateHealthy
			e.consecutiveFailures = 0
			e.disabledUntil = time.Time{}
			e.rateLimitHitOnce = false
			e.mu.Unlock()
		}
		return nil
	}
	e, err := r.find(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateHealthy
	e.consecutiveFailures = 0
	e.disabledUntil = time.Time{}
	e.rateLimitHitOnce = false
	return nil
}

// Snapshot returns a read-only copy of every entry in a class,
// regardless of availability, for operational visibility.
func (r *Registry) Snapshot(class Class) []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Snapshot
	for _, e := range r.entries {
		if e.Class != class {
			continue
		}
		e.mu.Lock()
		out = append(out, e.snapshot())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) find(name string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, errs.New("providerreg.find", errs.KindValidationFailed, name, errs.ErrProviderNotFound)
	}
	return e, nil
}
