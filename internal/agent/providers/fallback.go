package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/magi/internal/agent"
	"github.com/haasonsaas/magi/pkg/models"
)

// FallbackConfig configures the fallback composite provider (§4.2(a)'s
// "fallback-on-quota" composition, the provider-level sibling to
// routing.Router's model-class-pool selection).
type FallbackConfig struct {
	// MaxRetries is the maximum number of retry attempts per provider.
	MaxRetries int

	// RetryBackoff is the initial backoff between retries.
	RetryBackoff time.Duration

	// MaxRetryBackoff is the maximum backoff duration.
	MaxRetryBackoff time.Duration

	// FailoverOnRateLimit enables failover on rate limit errors.
	FailoverOnRateLimit bool

	// FailoverOnServerError enables failover on server errors.
	FailoverOnServerError bool

	// CircuitBreakerThreshold is the number of failures before opening circuit.
	CircuitBreakerThreshold int

	// CircuitBreakerTimeout is how long to wait before trying a failed provider again.
	CircuitBreakerTimeout time.Duration
}

// DefaultFallbackConfig returns sensible defaults for fallback composition.
func DefaultFallbackConfig() *FallbackConfig {
	return &FallbackConfig{
		MaxRetries:              2,
		RetryBackoff:            100 * time.Millisecond,
		MaxRetryBackoff:         5 * time.Second,
		FailoverOnRateLimit:     true,
		FailoverOnServerError:   true,
		CircuitBreakerThreshold: 3,
		CircuitBreakerTimeout:   30 * time.Second,
	}
}

// ProviderState tracks the health of one member provider of a FallbackProvider.
type ProviderState struct {
	Name          string
	Failures      int
	LastFailure   time.Time
	CircuitOpen   bool
	CircuitOpenAt time.Time
}

// IsAvailable reports whether the provider can accept requests.
func (s *ProviderState) IsAvailable(cfg *FallbackConfig) bool {
	if !s.CircuitOpen {
		return true
	}
	return time.Since(s.CircuitOpenAt) > cfg.CircuitBreakerTimeout
}

// FallbackProvider composes a list of agent.LLMProvider members behind a
// single agent.LLMProvider, trying them in order with per-provider retry
// and a health-cooldown circuit breaker. It is meant to be registered as
// one named entry in a routing.Router pool — routing picks which
// (provider, model) candidate to try next; FallbackProvider adds
// resilience within a single candidate's provider call (e.g. several API
// keys or regions fronting the same model family).
type FallbackProvider struct {
	providers []agent.LLMProvider
	config    *FallbackConfig
	states    map[string]*ProviderState
	mu        sync.RWMutex
	metrics   *FallbackMetrics
}

// FallbackMetrics tracks fallback statistics.
type FallbackMetrics struct {
	mu               sync.Mutex
	TotalRequests    int64
	TotalFailovers   int64
	TotalRetries     int64
	ProviderFailures map[string]int64
	CircuitBreaks    int64
}

// NewFallbackProvider creates a fallback composite over primary.
func NewFallbackProvider(primary agent.LLMProvider, config *FallbackConfig) *FallbackProvider {
	if config == nil {
		config = DefaultFallbackConfig()
	}

	return &FallbackProvider{
		providers: []agent.LLMProvider{primary},
		config:    config,
		states:    make(map[string]*ProviderState),
		metrics: &FallbackMetrics{
			ProviderFailures: make(map[string]int64),
		},
	}
}

// AddProvider adds a fallback candidate, tried after earlier entries fail.
func (o *FallbackProvider) AddProvider(p agent.LLMProvider) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.providers = append(o.providers, p)
}

// Stream implements agent.LLMProvider with fallback support.
func (o *FallbackProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan models.StreamingEvent, error) {
	o.metrics.mu.Lock()
	o.metrics.TotalRequests++
	o.metrics.mu.Unlock()

	o.mu.RLock()
	providersCopy := make([]agent.LLMProvider, len(o.providers))
	copy(providersCopy, o.providers)
	o.mu.RUnlock()

	var lastErr error

	for i, provider := range providersCopy {
		state := o.getOrCreateState(provider.Name())

		if !state.IsAvailable(o.config) {
			continue
		}

		ch, err := o.tryProvider(ctx, provider, req)
		if err == nil {
			o.recordSuccess(provider.Name())
			return ch, nil
		}

		lastErr = err
		o.recordFailure(provider.Name(), err)

		if !o.shouldFailover(err) {
			return nil, err
		}

		if i < len(providersCopy)-1 {
			o.metrics.mu.Lock()
			o.metrics.TotalFailovers++
			o.metrics.mu.Unlock()
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("fallback: no available providers")
	}

	return nil, lastErr
}

// tryProvider attempts to start a stream with retries.
func (o *FallbackProvider) tryProvider(ctx context.Context, provider agent.LLMProvider, req *agent.CompletionRequest) (<-chan models.StreamingEvent, error) {
	var lastErr error
	backoff := o.config.RetryBackoff

	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		ch, err := provider.Stream(ctx, req)
		if err == nil {
			return ch, nil
		}

		lastErr = err

		if !isProviderRetryable(err) {
			return nil, err
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt >= o.config.MaxRetries {
			break
		}

		o.metrics.mu.Lock()
		o.metrics.TotalRetries++
		o.metrics.mu.Unlock()

		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > o.config.MaxRetryBackoff {
				backoff = o.config.MaxRetryBackoff
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// shouldFailover determines if an error warrants trying another provider.
func (o *FallbackProvider) shouldFailover(err error) bool {
	if shouldProviderFailover(err) {
		return true
	}

	reason := classifyProviderError(err)

	if o.config.FailoverOnRateLimit && reason == "rate_limit" {
		return true
	}

	if o.config.FailoverOnServerError && reason == "server_error" {
		return true
	}

	return false
}

// isProviderRetryable checks if an error is worth retrying against the
// same provider before failing over.
func isProviderRetryable(err error) bool {
	reason := classifyProviderError(err)
	switch reason {
	case "rate_limit", "timeout", "server_error":
		return true
	default:
		return false
	}
}

// shouldProviderFailover checks if an error warrants trying a different provider.
func shouldProviderFailover(err error) bool {
	reason := classifyProviderError(err)
	switch reason {
	case "billing", "auth", "model_unavailable":
		return true
	default:
		return false
	}
}

// classifyProviderError determines the error type from the error content.
func classifyProviderError(err error) string {
	if err == nil {
		return "unknown"
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context deadline") {
		return "timeout"
	}

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return "rate_limit"
	}

	if strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") {
		return "auth"
	}

	if strings.Contains(errStr, "billing") ||
		strings.Contains(errStr, "payment") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "402") {
		return "billing"
	}

	if strings.Contains(errStr, "model not found") ||
		strings.Contains(errStr, "does not exist") ||
		strings.Contains(errStr, "unavailable") {
		return "model_unavailable"
	}

	if strings.Contains(errStr, "internal server") ||
		strings.Contains(errStr, "server error") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return "server_error"
	}

	if strings.Contains(errStr, "invalid") ||
		strings.Contains(errStr, "bad request") ||
		strings.Contains(errStr, "400") {
		return "invalid_request"
	}

	return "unknown"
}

// getOrCreateState returns the state for a provider.
func (o *FallbackProvider) getOrCreateState(name string) *ProviderState {
	o.mu.Lock()
	defer o.mu.Unlock()

	if state, ok := o.states[name]; ok {
		return state
	}

	state := &ProviderState{Name: name}
	o.states[name] = state
	return state
}

// recordSuccess records a successful request.
func (o *FallbackProvider) recordSuccess(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	state := o.states[name]
	if state == nil {
		return
	}

	state.Failures = 0
	state.CircuitOpen = false
}

// recordFailure records a failed request.
func (o *FallbackProvider) recordFailure(name string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	state := o.states[name]
	if state == nil {
		state = &ProviderState{Name: name}
		o.states[name] = state
	}

	state.Failures++
	state.LastFailure = time.Now()

	if state.Failures >= o.config.CircuitBreakerThreshold {
		if !state.CircuitOpen {
			state.CircuitOpen = true
			state.CircuitOpenAt = time.Now()
			o.metrics.mu.Lock()
			o.metrics.CircuitBreaks++
			o.metrics.mu.Unlock()
		}
	}

	o.metrics.mu.Lock()
	o.metrics.ProviderFailures[name]++
	o.metrics.mu.Unlock()
}

// Name implements agent.LLMProvider.
func (o *FallbackProvider) Name() string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if len(o.providers) == 0 {
		return "fallback"
	}
	return "fallback:" + o.providers[0].Name()
}

// Models implements agent.LLMProvider.
func (o *FallbackProvider) Models() []agent.Model {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var all []agent.Model
	seen := make(map[string]bool)

	for _, p := range o.providers {
		for _, m := range p.Models() {
			if !seen[m.ID] {
				seen[m.ID] = true
				all = append(all, m)
			}
		}
	}

	return all
}

// SupportsTools implements agent.LLMProvider.
func (o *FallbackProvider) SupportsTools() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	for _, p := range o.providers {
		if p.SupportsTools() {
			return true
		}
	}
	return false
}

// Metrics returns a snapshot of fallback metrics.
func (o *FallbackProvider) Metrics() FallbackMetrics {
	o.metrics.mu.Lock()
	defer o.metrics.mu.Unlock()

	failures := make(map[string]int64)
	for k, v := range o.metrics.ProviderFailures {
		failures[k] = v
	}

	return FallbackMetrics{
		TotalRequests:    o.metrics.TotalRequests,
		TotalFailovers:   o.metrics.TotalFailovers,
		TotalRetries:     o.metrics.TotalRetries,
		ProviderFailures: failures,
		CircuitBreaks:    o.metrics.CircuitBreaks,
	}
}

// ProviderStates returns the current state of all member providers.
func (o *FallbackProvider) ProviderStates() []ProviderState {
	o.mu.RLock()
	defer o.mu.RUnlock()

	states := make([]ProviderState, 0, len(o.states))
	for _, s := range o.states {
		states = append(states, *s)
	}
	return states
}

// ResetCircuitBreaker resets the circuit breaker for one provider.
func (o *FallbackProvider) ResetCircuitBreaker(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if state, ok := o.states[name]; ok {
		state.Failures = 0
		state.CircuitOpen = false
	}
}

// ResetAllCircuitBreakers resets all circuit breakers.
func (o *FallbackProvider) ResetAllCircuitBreakers() {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, state := range o.states {
		state.Failures = 0
		state.CircuitOpen = false
	}
}
