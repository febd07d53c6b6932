// Package routing selects, for each model class, an ordered candidate
// chain of (provider, model) pairs and tries them in turn, with a
// health-cooldown circuit breaker per provider and a fallback to the
// standard class pool on exhaustion.
package routing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/magi/internal/agent"
	catalog "github.com/haasonsaas/magi/internal/models"
	"github.com/haasonsaas/magi/pkg/models"
)

// PoolEntry is one ranked candidate within a model class's pool.
type PoolEntry struct {
	Provider string
	Model    string
}

// ClassLimit caps and shapes request parameters for a model class whose
// models can't accept the full parameter surface.
type ClassLimit struct {
	MaxTokens       int
	OmitTemperature bool
	OmitTopP        bool
}

// ClassLimits is the per-class parameter-capping table (§4.2(a)):
// reasoning-class models reject temperature/top_p outright, and every
// class caps max tokens to a sane default when the caller didn't ask for
// less.
var ClassLimits = map[models.ModelClass]ClassLimit{
	models.ClassReasoning:       {MaxTokens: 32000, OmitTemperature: true, OmitTopP: true},
	models.ClassStandard:        {MaxTokens: 8192},
	models.ClassMini:            {MaxTokens: 4096},
	models.ClassCode:            {MaxTokens: 8192},
	models.ClassVision:          {MaxTokens: 4096},
	models.ClassSearch:          {MaxTokens: 4096},
	models.ClassSummary:         {MaxTokens: 2048},
	models.ClassMonologue:       {MaxTokens: 8192},
	models.ClassImageGeneration: {MaxTokens: 1024},
}

// Router holds the configured class pools and the health state of each
// provider.
type Router struct {
	providers       map[string]agent.LLMProvider
	pools           map[models.ModelClass][]PoolEntry
	failureCooldown time.Duration

	healthMu  sync.Mutex
	unhealthy map[string]time.Time
}

// Config configures a Router.
type Config struct {
	// Pools maps each model class to its ordered candidate chain.
	Pools map[models.ModelClass][]PoolEntry

	// FailureCooldown is how long a provider that just failed a
	// candidate attempt is skipped for. Zero disables the circuit
	// breaker entirely.
	FailureCooldown time.Duration
}

// NewRouter builds a Router over the given provider set.
func NewRouter(cfg Config, providers map[string]agent.LLMProvider) *Router {
	pools := cfg.Pools
	if pools == nil {
		pools = make(map[models.ModelClass][]PoolEntry)
	}
	return &Router{
		providers:       providers,
		pools:           pools,
		failureCooldown: cfg.FailureCooldown,
		unhealthy:       make(map[string]time.Time),
	}
}

// ClassPool returns the configured candidate chain for class, or nil if
// none is configured for it.
func (r *Router) ClassPool(class models.ModelClass) []PoolEntry {
	return r.pools[class]
}

// Stream selects a model for req and returns its streaming response,
// grounded on the teacher's candidate-chain-with-health-cooldown pattern
// (router.go's Complete/candidates), adapted from provider-name routing
// to model-class routing (§4.3 step 1):
//
//   - an explicit, non-default req.Model wins outright and is dispatched
//     to whichever configured provider serves it;
//   - otherwise the class pool is tried candidate by candidate; the first
//     candidate whose stream produces any event before failing wins;
//   - if every candidate in class fails before producing output, the
//     standard class pool is tried once as a fallback;
//   - total exhaustion yields a single error event on the returned
//     channel rather than a Go error.
func (r *Router) Stream(ctx context.Context, req *agent.CompletionRequest, class models.ModelClass) (<-chan models.StreamingEvent, error) {
	if req == nil {
		return nil, errInvalidRequest("request is nil")
	}
	if req.Model != "" {
		return r.streamExplicit(ctx, req)
	}
	return r.streamClass(ctx, req, class, true), nil
}

// Name identifies this router as an agent.LLMProvider for callers that
// still expect a single named provider (e.g. model listing UIs).
func (r *Router) Name() string {
	return "router"
}

// Models returns the union of models advertised by every configured
// provider.
func (r *Router) Models() []agent.Model {
	var out []agent.Model
	seen := make(map[string]struct{})
	for _, provider := range r.providers {
		for _, m := range provider.Models() {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

// SupportsTools reports whether any configured provider supports tools.
func (r *Router) SupportsTools() bool {
	for _, provider := range r.providers {
		if provider.SupportsTools() {
			return true
		}
	}
	return false
}

func (r *Router) streamExplicit(ctx context.Context, req *agent.CompletionRequest) (<-chan models.StreamingEvent, error) {
	name := r.providerForModel(req.Model)
	if name == "" {
		return nil, errInvalidRequest(fmt.Sprintf("no configured provider serves model %q", req.Model))
	}
	provider := r.providers[name]
	creq := *req
	applyClassLimits(&creq, "")
	ch, err := provider.Stream(ctx, &creq)
	if err != nil {
		return nil, catalog.CoerceToFailoverError(err, name, req.Model)
	}
	return ch, nil
}

func (r *Router) providerForModel(modelID string) string {
	for name, provider := range r.providers {
		for _, m := range provider.Models() {
			if m.ID == modelID {
				return name
			}
		}
	}
	return ""
}

// streamClass tries every healthy candidate in class's pool in order,
// returning the first one whose stream produces an event before
// failing. allowStandardFallback gates the one-level fallback to the
// standard class pool, so the fallback attempt itself never recurses.
func (r *Router) streamClass(ctx context.Context, req *agent.CompletionRequest, class models.ModelClass, allowStandardFallback bool) <-chan models.StreamingEvent {
	var lastErr error
	for _, cand := range r.pools[class] {
		name := normalizeID(cand.Provider)
		if !r.isHealthy(name) {
			continue
		}
		provider, ok := r.providers[name]
		if !ok {
			continue
		}

		creq := *req
		creq.Model = cand.Model
		applyClassLimits(&creq, class)

		ch, err := provider.Stream(ctx, &creq)
		if err != nil {
			ferr := catalog.CoerceToFailoverError(err, name, cand.Model)
			if catalog.IsAbortError(ferr) {
				return exhaustedStream(class, ferr)
			}
			r.markUnhealthy(name)
			lastErr = ferr
			continue
		}
		if out, produced := firstEventPassed(ch); produced {
			return out
		}
		r.markUnhealthy(name)
	}

	if allowStandardFallback && class != models.ClassStandard {
		return r.streamClass(ctx, req, models.ClassStandard, false)
	}
	return exhaustedStream(class, lastErr)
}

// firstEventPassed reads the first event off ch. An error event there
// means the candidate failed before producing any assistant output, so
// the caller moves on to the next candidate. Anything else is forwarded,
// along with the rest of ch, on a fresh channel.
func firstEventPassed(ch <-chan models.StreamingEvent) (<-chan models.StreamingEvent, bool) {
	first, ok := <-ch
	if !ok {
		return nil, false
	}
	if first.Type == models.EventError {
		return nil, false
	}

	out := make(chan models.StreamingEvent, 1)
	out <- first
	go func() {
		defer close(out)
		for evt := range ch {
			out <- evt
		}
	}()
	return out, true
}

func exhaustedStream(class models.ModelClass, lastErr error) <-chan models.StreamingEvent {
	msg := fmt.Sprintf("routing: no healthy candidate in class %q produced output", class)
	if lastErr != nil {
		msg = fmt.Sprintf("routing: class %q exhausted, last error: %v", class, lastErr)
	}
	out := make(chan models.StreamingEvent, 1)
	out <- models.StreamingEvent{Type: models.EventError, Error: msg}
	close(out)
	return out
}

func applyClassLimits(req *agent.CompletionRequest, class models.ModelClass) {
	limit, ok := ClassLimits[class]
	if !ok {
		return
	}
	if limit.MaxTokens > 0 && (req.MaxTokens == 0 || req.MaxTokens > limit.MaxTokens) {
		req.MaxTokens = limit.MaxTokens
	}
	if limit.OmitTemperature {
		req.Temperature = nil
	}
	if limit.OmitTopP {
		req.TopP = nil
	}
}

func (r *Router) isHealthy(name string) bool {
	if r.failureCooldown <= 0 || name == "" {
		return true
	}
	r.healthMu.Lock()
	defer r.healthMu.Unlock()
	until, ok := r.unhealthy[name]
	if !ok {
		return true
	}
	if time.Now().After(until) {
		delete(r.unhealthy, name)
		return true
	}
	return false
}

func (r *Router) markUnhealthy(name string) {
	if r.failureCooldown <= 0 || name == "" {
		return
	}
	r.healthMu.Lock()
	r.unhealthy[name] = time.Now().Add(r.failureCooldown)
	r.healthMu.Unlock()
}

func normalizeID(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func errInvalidRequest(msg string) error {
	return fmt.Errorf("routing: %s", msg)
}
