package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ppiankov/crewclaims/internal/cache"
	"github.com/ppiankov/crewclaims/internal/llm"
	"github.com/ppiankov/crewclaims/internal/model"
)

// LLMEvaluator asks the reasoning backend for a verdict on one aspect of a
// claim. Verdicts are cached by the canonical input so repeats are free.
type LLMEvaluator struct {
	agent    model.AgentType
	provider llm.Provider
	cache    cache.Cache
	ttl      time.Duration
	logger   *slog.Logger
}

// LLMOption configures an LLMEvaluator
type LLMOption func(*LLMEvaluator)

// WithCache caches verdicts in c for ttl (zero uses the cache default)
func WithCache(c cache.Cache, ttl time.Duration) LLMOption {
	return func(e *LLMEvaluator) {
		e.cache = c
		e.ttl = ttl
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) LLMOption {
	return func(e *LLMEvaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewLLMEvaluator creates the evaluator for agent backed by provider
func NewLLMEvaluator(agent model.AgentType, provider llm.Provider, opts ...LLMOption) (*LLMEvaluator, error) {
	if !agent.Valid() {
		return nil, fmt.Errorf("unknown agent type %q", agent)
	}
	if provider == nil {
		return nil, fmt.Errorf("%s: provider is required", agent)
	}
	e := &LLMEvaluator{
		agent:    agent,
		provider: provider,
		logger:   slog.Default().With("component", "evaluator"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate implements Evaluator
func (e *LLMEvaluator) Evaluate(ctx context.Context, in model.AgentInput) (model.AgentResult, error) {
	key := ""
	if e.cache != nil {
		k, err := cache.Key(e.agent, in)
		if err != nil {
			e.logger.Debug("cache key failed", "agent", e.agent, "error", err)
		} else {
			key = k
			if res, ok := e.cached(ctx, key); ok {
				return res, nil
			}
		}
	}

	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		System: systemPrompt(e.agent),
		Prompt: buildPrompt(in),
		JSON:   true,
	})
	if err != nil {
		return model.AgentResult{}, fmt.Errorf("%s backend: %w", e.provider.Name(), err)
	}

	verdict, err := llm.ParseVerdict(resp.Text)
	if err != nil {
		return model.AgentResult{}, fmt.Errorf("%s reply: %w", e.provider.Name(), err)
	}
	res := verdict.Result(e.agent)

	if key != "" {
		if data, err := json.Marshal(res); err == nil {
			if err := e.cache.Set(ctx, key, data, e.ttl); err != nil {
				e.logger.Debug("cache write failed", "agent", e.agent, "error", err)
			}
		}
	}

	e.logger.Debug("verdict received",
		"agent", e.agent,
		"claim_id", in.Claim.ID,
		"status", res.Status,
		"model", resp.Model,
		"tokens", resp.TokensUsed,
	)
	return res, nil
}

func (e *LLMEvaluator) cached(ctx context.Context, key string) (model.AgentResult, bool) {
	data, ok := e.cache.Get(ctx, key)
	if !ok {
		return model.AgentResult{}, false
	}
	var res model.AgentResult
	if err := json.Unmarshal(data, &res); err != nil {
		_ = e.cache.Delete(ctx, key)
		return model.AgentResult{}, false
	}
	return res, true
}
