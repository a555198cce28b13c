// Package cache stores evaluator results keyed by the canonical form of the
// evaluator input, so a resubmitted claim does not cost another backend call.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/ppiankov/crewclaims/internal/model"
)

// Cache defines the interface for caching
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

const keyPrefix = "crewclaims:v1:"

// Key derives the cache key for agent evaluating input. Inputs that differ
// only in JSON field order or whitespace share a key.
func Key(agent model.AgentType, input model.AgentInput) (string, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("marshal input: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize input: %w", err)
	}
	hash := sha256.Sum256(canonical)
	return keyPrefix + string(agent) + ":" + hex.EncodeToString(hash[:]), nil
}

// New builds the cache backend named in cfg. A disabled cache returns nil.
func New(cfg model.CacheConfig) (Cache, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryCache(cfg.TTL, 10*time.Minute), nil
	case "disk":
		return NewDiskCache(cfg.Dir, cfg.TTL), nil
	case "layered":
		return NewLayeredCache(cfg.TTL, cfg.Dir, cfg.TTL), nil
	case "redis":
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.TTL), nil
	default:
		return nil, model.NewConfigError("cache.backend", fmt.Errorf("unknown backend %q", cfg.Backend))
	}
}
