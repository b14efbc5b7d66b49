package telemetry

// This file declares the metric catalog for the engine's core packages.
// It lives in the telemetry package to avoid import cycles with scheduler,
// dispatch, and providerreg.

func init() {
	DeclareMetrics("scheduler", ModuleConfig{
		Metrics: []MetricDefinition{
			{
				Name:    "scheduler.component.duration_ms",
				Type:    "histogram",
				Help:    "Component executor wall-clock duration",
				Labels:  []string{"component", "status"},
				Unit:    "ms",
				Buckets: []float64{10, 50, 100, 500, 1000, 5000, 30000, 60000},
			},
			{
				Name:   "scheduler.component.results",
				Type:   "counter",
				Help:   "Component execution outcomes",
				Labels: []string{"component", "status"},
			},
			{
				Name:   "scheduler.session.completed",
				Type:   "counter",
				Help:   "Sessions reaching a terminal state",
				Labels: []string{"status"},
			},
		},
	})

	DeclareMetrics("dispatch", ModuleConfig{
		Metrics: []MetricDefinition{
			{
				Name:   "dispatch.success",
				Type:   "counter",
				Help:   "Successful provider invocations",
				Labels: []string{"class", "provider"},
			},
			{
				Name:   "dispatch.failure",
				Type:   "counter",
				Help:   "Failed provider invocations",
				Labels: []string{"class", "provider", "kind"},
			},
			{
				Name:   "dispatch.rate_limited",
				Type:   "counter",
				Help:   "Provider calls rejected by the rate limiter (after any permitted wait)",
				Labels: []string{"class", "provider"},
			},
			{
				Name:   "dispatch.all_providers_exhausted",
				Type:   "counter",
				Help:   "Invocations where every candidate provider failed",
				Labels: []string{"class"},
			},
		},
	})

	DeclareMetrics("providerreg", ModuleConfig{
		Metrics: []MetricDefinition{
			{
				Name:   "providerreg.state_transition",
				Type:   "counter",
				Help:   "Provider health-state transitions",
				Labels: []string{"class", "provider", "state"},
			},
			{
				Name:   "providerreg.available",
				Type:   "gauge",
				Help:   "Number of usable providers in a class at last ListAvailable call",
				Labels: []string{"class"},
			},
		},
	})

	DeclareMetrics("checkpoint", ModuleConfig{
		Metrics: []MetricDefinition{
			{
				Name:   "checkpoint.appends",
				Type:   "counter",
				Help:   "Artifact append operations",
				Labels: []string{"category", "status"},
			},
			{
				Name:    "checkpoint.append.duration_ms",
				Type:    "histogram",
				Help:    "Checkpoint store write latency",
				Labels:  []string{"category"},
				Unit:    "ms",
				Buckets: []float64{1, 5, 25, 100, 500, 2000},
			},
		},
	})

	DeclareMetrics("extract", ModuleConfig{
		Metrics: []MetricDefinition{
			{
				Name:   "extract.strategy_succeeded",
				Type:   "counter",
				Help:   "Extraction strategy attempts that met the minimum-length bar",
				Labels: []string{"strategy"},
			},
			{
				Name:   "extract.strategy_failed",
				Type:   "counter",
				Help:   "Extraction strategy attempts that errored",
				Labels: []string{"strategy"},
			},
			{
				Name:   "extract.strategy_too_short",
				Type:   "counter",
				Help:   "Extraction strategy attempts below the minimum-length bar",
				Labels: []string{"strategy"},
			},
		},
	})
}
