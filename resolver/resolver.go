// Package resolver selects the provider and model to use for an agent in a
// given resolution context. Auxiliary pipeline stages ask for a fast model,
// the main call uses the agent's exact preference, and embedding lookups get
// the embedding override or the provider default.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/turnstile-ai/turnstile/llm"
)

// ResolveContext selects which flavor of model a resolution is for.
type ResolveContext string

const (
	// ContextFast favors low-latency, low-cost models for auxiliary stages.
	ContextFast ResolveContext = "fast"
	// ContextMain returns the agent's exact preference.
	ContextMain ResolveContext = "main"
	// ContextEmbedding returns the embedding override or provider default.
	ContextEmbedding ResolveContext = "embedding"
)

// ResolvedModel is the output of a resolution. Params carries the agent's
// free-form parameter bag (temperature, max tokens) and is only populated
// when the resolved model is the agent's own preference.
type ResolvedModel struct {
	Provider string
	Model    string
	Context  ResolveContext
	Params   map[string]any
}

// Preference is one agent's stored model preference.
type Preference struct {
	Provider       string
	Model          string
	Params         map[string]any
	EmbeddingModel string
}

// PreferenceStore loads agent model preferences. A nil preference with a nil
// error means no row exists for the agent.
type PreferenceStore interface {
	AgentModelPreference(ctx context.Context, agentID string) (*Preference, error)
}

const (
	defaultTTL        = time.Minute
	defaultMaxEntries = 100
)

// slowModelSiblings maps slow flagship/reasoning model prefixes to a fast
// sibling from the same provider family. Checked only for ContextFast.
var slowModelSiblings = []struct {
	Prefix  string
	Sibling string
}{
	{"claude-opus-", "claude-haiku-4-5"},
	{"claude-sonnet-", "claude-haiku-4-5"},
	{"o1", "gpt-4o-mini"},
	{"o3", "gpt-4o-mini"},
	{"gpt-5", "gpt-4o-mini"},
	{"gemini-2.5-pro", "gemini-2.0-flash"},
	{"gemini-1.5-pro", "gemini-2.0-flash"},
	{"deepseek-r1", "llama3.2"},
}

// systemDefaults is returned when no preference row exists or the store is
// unavailable.
var systemDefaults = map[ResolveContext]ResolvedModel{
	ContextFast:      {Provider: llm.ProviderAnthropic, Model: "claude-haiku-4-5", Context: ContextFast},
	ContextMain:      {Provider: llm.ProviderAnthropic, Model: "claude-sonnet-4-5", Context: ContextMain},
	ContextEmbedding: {Provider: llm.ProviderOpenAI, Model: "text-embedding-3-small", Context: ContextEmbedding},
}

// providerEmbeddingDefaults gives the default embedding model per provider.
// Providers without an embedding model fall through to the system default.
var providerEmbeddingDefaults = map[string]string{
	llm.ProviderOpenAI: "text-embedding-3-small",
	llm.ProviderGemini: "text-embedding-004",
	llm.ProviderOllama: "nomic-embed-text",
}

type cacheKey struct {
	AgentID string
	Context ResolveContext
}

type cacheEntry struct {
	value     ResolvedModel
	expiresAt time.Time
}

// Resolver resolves agent model preferences with a short-lived cache. Safe
// for concurrent use. The clock is injected so tests can control expiry.
type Resolver struct {
	store      PreferenceStore
	now        func() time.Time
	ttl        time.Duration
	maxEntries int
	logger     zerolog.Logger

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
	// insertion order of live keys, oldest first
	order []cacheKey
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithTTL overrides the cache entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) { r.ttl = ttl }
}

// WithMaxEntries overrides the cache size bound.
func WithMaxEntries(n int) Option {
	return func(r *Resolver) { r.maxEntries = n }
}

// New creates a Resolver backed by the given preference store.
func New(store PreferenceStore, logger zerolog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		store:      store,
		now:        time.Now,
		ttl:        defaultTTL,
		maxEntries: defaultMaxEntries,
		logger:     logger.With().Str("component", "modelResolver").Logger(),
		cache:      make(map[cacheKey]cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AgentModel returns the provider and model for the agent in the given
// context. Store failures are not fatal: the per-context system default is
// returned and the failure logged.
func (r *Resolver) AgentModel(ctx context.Context, agentID string, rctx ResolveContext) (ResolvedModel, error) {
	switch rctx {
	case ContextFast, ContextMain, ContextEmbedding:
	default:
		return ResolvedModel{}, fmt.Errorf("unknown resolve context: %q", rctx)
	}

	key := cacheKey{AgentID: agentID, Context: rctx}

	r.mu.Lock()
	if entry, ok := r.cache[key]; ok && r.now().Before(entry.expiresAt) {
		resolved := entry.value
		r.mu.Unlock()
		return resolved, nil
	}
	r.mu.Unlock()

	resolved := r.resolve(ctx, agentID, rctx)
	r.put(key, resolved)
	return resolved, nil
}

// Invalidate drops any cached entries for the agent, forcing the next
// resolution to hit the store. Called after a preference change.
func (r *Resolver) Invalidate(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rctx := range []ResolveContext{ContextFast, ContextMain, ContextEmbedding} {
		delete(r.cache, cacheKey{AgentID: agentID, Context: rctx})
	}
	live := r.order[:0]
	for _, key := range r.order {
		if _, ok := r.cache[key]; ok {
			live = append(live, key)
		}
	}
	r.order = live
}

func (r *Resolver) resolve(ctx context.Context, agentID string, rctx ResolveContext) ResolvedModel {
	pref, err := r.store.AgentModelPreference(ctx, agentID)
	if err != nil {
		r.logger.Warn().Err(err).
			Str("agent_id", agentID).
			Str("context", string(rctx)).
			Msg("Preference lookup failed, using system default")
		return systemDefaults[rctx]
	}
	if pref == nil {
		return systemDefaults[rctx]
	}

	switch rctx {
	case ContextFast:
		if sibling, ok := fastSibling(pref.Model); ok {
			return ResolvedModel{Provider: pref.Provider, Model: sibling, Context: rctx}
		}
		return ResolvedModel{Provider: pref.Provider, Model: pref.Model, Context: rctx, Params: pref.Params}
	case ContextEmbedding:
		if pref.EmbeddingModel != "" {
			return ResolvedModel{Provider: pref.Provider, Model: pref.EmbeddingModel, Context: rctx}
		}
		if def, ok := providerEmbeddingDefaults[pref.Provider]; ok {
			return ResolvedModel{Provider: pref.Provider, Model: def, Context: rctx}
		}
		return systemDefaults[ContextEmbedding]
	default:
		return ResolvedModel{Provider: pref.Provider, Model: pref.Model, Context: rctx, Params: pref.Params}
	}
}

// put inserts a cache entry, evicting the least-recently-inserted entry once
// the size bound is exceeded. Overwriting an existing key keeps its original
// position in the insertion order.
func (r *Resolver) put(key cacheKey, value ResolvedModel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.cache[key]; !exists {
		r.order = append(r.order, key)
	}
	r.cache[key] = cacheEntry{value: value, expiresAt: r.now().Add(r.ttl)}

	for len(r.cache) > r.maxEntries && len(r.order) > 0 {
		oldest := r.order[0]
		r.order = r.order[1:]
		if _, ok := r.cache[oldest]; ok {
			delete(r.cache, oldest)
		}
	}
}

func fastSibling(model string) (string, bool) {
	lower := strings.ToLower(model)
	for _, s := range slowModelSiblings {
		if strings.HasPrefix(lower, s.Prefix) {
			return s.Sibling, true
		}
	}
	return "", false
}
