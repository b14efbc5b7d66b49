package resilience

import (
	"context"
	"fmt"
	"math"
	"time"
	
	"github.com/marketlens/engine/core"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	JitterEnabled   bool
}

// DefaultRetryConfig provides sensible defaults
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// Retry executes a function with retry logic
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	
	var lastErr error
	delay := config.InitialDelay
	
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		// Check context
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		
		// Try the function
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		
		// Don't sleep after the last attempt
		if attempt == config.MaxAttempts {
			break
		}
		
		// Calculate next delay with exponential backoff
		if attempt > 1 {
			delay = time.Duration(float64(delay) * config.BackoffFactor)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}
		
		// Add jitter if enabled to prevent synchronized retries
		// across multiple clients (thundering herd mitigation)
		if config.JitterEnabled {
			jitter := time.Duration(float64(delay) * 0.1 * math.Sin(float64(attempt)))
			delay += jitter
		}
		
		// Sleep with context cancellation
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	
	return fmt.Errorf("max retry attempts (%d) exceeded for %v: %w", config.MaxAttempts, lastErr, core.ErrMaxRetriesExceeded)
}

// RetryWithCircuitBreaker combines retry logic with circuit breaker
func RetryWithCircuitBreaker(ctx context.Context, config *RetryConfig, cb *CircuitBreaker, fn func() error) error {
	return Retry(ctx, config, func() error {
		if !cb.CanExecute() {
			return core.ErrCircuitBreakerOpen
		}

		err := fn()
		if err != nil {
			cb.RecordFailure()
			return err
		}

		cb.RecordSuccess()
		return nil
	})
}

// RetryExecutor is Retry with a named operation and structured logging
// attached, for call sites that want to see each attempt and backoff in
// their log stream rather than just the final outcome.
type RetryExecutor struct {
	config           *RetryConfig
	logger           core.Logger
	telemetryEnabled bool
}

// NewRetryExecutor builds a RetryExecutor. A nil config falls back to
// DefaultRetryConfig.
func NewRetryExecutor(config *RetryConfig) *RetryExecutor {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &RetryExecutor{config: config, logger: &core.NoOpLogger{}}
}

// SetLogger swaps the executor's logger; passing nil restores the no-op
// logger rather than leaving a nil pointer that would panic on use.
func (r *RetryExecutor) SetLogger(logger core.Logger) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	r.logger = logger
}

// Execute runs fn under the executor's retry policy, logging the start
// of the operation, each backoff, and the terminal outcome.
func (r *RetryExecutor) Execute(ctx context.Context, operation string, fn func() error) error {
	r.logger.Info("Starting retry operation", map[string]interface{}{
		"operation":      "retry_start",
		"retry_operation": operation,
		"max_attempts":   r.config.MaxAttempts,
		"initial_delay":  r.config.InitialDelay.String(),
		"backoff_factor": r.config.BackoffFactor,
	})

	var lastErr error
	delay := r.config.InitialDelay

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.logger.Debug("retry attempt", map[string]interface{}{
			"operation":       "retry_attempt",
			"retry_operation": operation,
			"attempt":         attempt,
		})

		err := fn()
		if err == nil {
			r.logger.Info("retry operation succeeded", map[string]interface{}{
				"operation":       "retry_success",
				"retry_operation": operation,
				"attempt":         attempt,
			})
			return nil
		}
		lastErr = err

		if attempt == r.config.MaxAttempts {
			break
		}

		if attempt > 1 {
			delay = time.Duration(float64(delay) * r.config.BackoffFactor)
			if delay > r.config.MaxDelay {
				delay = r.config.MaxDelay
			}
		}
		if r.config.JitterEnabled {
			jitter := time.Duration(float64(delay) * 0.1 * math.Sin(float64(attempt)))
			delay += jitter
		}

		r.logger.Debug("backing off before next attempt", map[string]interface{}{
			"operation":       "retry_backoff",
			"retry_operation": operation,
			"attempt":         attempt,
			"delay_ms":        delay.Milliseconds(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	r.logger.Error("retry operation exhausted", map[string]interface{}{
		"operation":       "retry_exhausted",
		"retry_operation": operation,
		"max_attempts":    r.config.MaxAttempts,
		"last_error":      lastErr.Error(),
	})

	return fmt.Errorf("max retry attempts (%d) exceeded for operation %q: %v: %w", r.config.MaxAttempts, operation, lastErr, core.ErrMaxRetriesExceeded)
}