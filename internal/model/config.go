package model

import (
	"fmt"
	"time"
)

// Config holds all crewclaims configuration
type Config struct {
	Dispatch    DispatchConfig    `yaml:"dispatch" mapstructure:"dispatch"`
	Aggregation AggregationConfig `yaml:"aggregation" mapstructure:"aggregation"`
	Registry    RegistryConfig    `yaml:"registry" mapstructure:"registry"`
	LLM         LLMConfig         `yaml:"llm" mapstructure:"llm"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" mapstructure:"telemetry"`
	Output      OutputConfig      `yaml:"output" mapstructure:"output"`
}

// DispatchConfig bounds evaluator execution
type DispatchConfig struct {
	EvaluatorTimeout  time.Duration `yaml:"evaluator_timeout" mapstructure:"evaluator_timeout"`     // T_eval
	SessionTimeout    time.Duration `yaml:"session_timeout" mapstructure:"session_timeout"`         // T_session, >= T_eval
	MaxConcurrent     int           `yaml:"max_concurrent" mapstructure:"max_concurrent"`           // process-wide evaluator calls
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"` // 0 = unlimited
	Burst             int           `yaml:"burst" mapstructure:"burst"`
	BatchWorkers      int           `yaml:"batch_workers" mapstructure:"batch_workers"`
}

// AggregationConfig tunes the reduction of evaluator verdicts
type AggregationConfig struct {
	ApprovalThreshold float64 `yaml:"approval_threshold" mapstructure:"approval_threshold"`
}

// ConditionalRule adds Agent to the evaluator set when the CEL expression When
// holds. Expressions see claim, trip and has_trip.
type ConditionalRule struct {
	Name  string    `yaml:"name" mapstructure:"name"`
	Agent AgentType `yaml:"agent" mapstructure:"agent"`
	When  string    `yaml:"when" mapstructure:"when"`
}

// RegistryConfig is the data-driven claim type to evaluator mapping
type RegistryConfig struct {
	Rules       map[ClaimType][]AgentType `yaml:"rules" mapstructure:"rules"`
	Conditional []ConditionalRule         `yaml:"conditional" mapstructure:"conditional"`
	AlwaysOn    []AgentType               `yaml:"always_on" mapstructure:"always_on"`
}

// LLMConfig configures the reasoning backend. An empty provider selects the
// offline rule evaluators.
type LLMConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"` // openai, ollama, rules, ""
	Model     string `yaml:"model" mapstructure:"model"`
	APIKey    string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL   string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout   int    `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`

	HTTPProxy  string `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy string `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
}

// CacheConfig configures evaluator result caching
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	Backend       string        `yaml:"backend" mapstructure:"backend"` // memory, disk, layered, redis
	Dir           string        `yaml:"dir" mapstructure:"dir"`
	TTL           time.Duration `yaml:"ttl" mapstructure:"ttl"`
	RedisAddr     string        `yaml:"redis_addr,omitempty" mapstructure:"redis_addr"`
	RedisPassword string        `yaml:"redis_password,omitempty" mapstructure:"redis_password"`
	RedisDB       int           `yaml:"redis_db,omitempty" mapstructure:"redis_db"`
}

// StoreConfig configures the session audit store. An empty driver disables it.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // sqlite, postgres, ""
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// TelemetryConfig configures OpenTelemetry export
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint    string  `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure    bool    `yaml:"insecure" mapstructure:"insecure"`
	SampleRate  float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
	ServiceName string  `yaml:"service_name" mapstructure:"service_name"`
	Environment string  `yaml:"environment" mapstructure:"environment"`
}

// OutputConfig holds report output options
type OutputConfig struct {
	Dir           string `yaml:"dir" mapstructure:"dir"`
	Markdown      bool   `yaml:"markdown" mapstructure:"markdown"`
	IncludeFooter bool   `yaml:"include_footer" mapstructure:"include_footer"`
	Currency      string `yaml:"currency" mapstructure:"currency"` // ISO 4217
	Locale        string `yaml:"locale" mapstructure:"locale"`     // BCP 47
}

// DefaultRegistryConfig returns the built-in evaluator selection rules
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		Rules: map[ClaimType][]AgentType{
			ClaimTypeFlightTime: {AgentFlightTime, AgentDutyTime},
			ClaimTypeDutyTime:   {AgentDutyTime, AgentFlightTime},
			ClaimTypePerDiem:    {AgentPerDiem},
			ClaimTypePremiumPay: {AgentPremiumPay, AgentFlightTime},
			ClaimTypeGuarantee:  {AgentGuarantee, AgentFlightTime, AgentDutyTime},
			ClaimTypeDispute:    {AgentDispute},
		},
		Conditional: []ConditionalRule{
			{
				Name:  "international-per-diem",
				Agent: AgentDutyTime,
				When:  `claim.type == "per-diem" && has_trip && trip.international`,
			},
			{
				Name:  "premium-duty-overlap",
				Agent: AgentDutyTime,
				When:  `claim.type == "premium-pay" && has_trip && trip.dutyMinutes > 0`,
			},
		},
		AlwaysOn: []AgentType{AgentExcessPayment, AgentCompliance},
	}
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Dispatch: DispatchConfig{
			EvaluatorTimeout:  30 * time.Second,
			SessionTimeout:    90 * time.Second,
			MaxConcurrent:     8,
			RequestsPerSecond: 0,
			Burst:             1,
			BatchWorkers:      4,
		},
		Aggregation: AggregationConfig{
			ApprovalThreshold: 0.6,
		},
		Registry: DefaultRegistryConfig(),
		LLM: LLMConfig{
			Provider:  "", // offline rule evaluators
			Timeout:   30,
			MaxTokens: 800,
		},
		Cache: CacheConfig{
			Enabled: true,
			Backend: "memory",
			Dir:     ".crewclaims/cache",
			TTL:     24 * time.Hour,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    ".crewclaims/sessions.db",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			Insecure:    true,
			SampleRate:  1.0,
			ServiceName: "crewclaims",
			Environment: "development",
		},
		Output: OutputConfig{
			Dir:           ".",
			Markdown:      true,
			IncludeFooter: true,
			Currency:      "USD",
			Locale:        "en-US",
		},
	}
}

// Validate checks the invariants the engine relies on
func (c Config) Validate() error {
	d := c.Dispatch
	if d.EvaluatorTimeout <= 0 {
		return NewConfigError("dispatch.evaluator_timeout", fmt.Errorf("must be positive, got %s", d.EvaluatorTimeout))
	}
	if d.SessionTimeout < d.EvaluatorTimeout {
		return NewConfigError("dispatch.session_timeout",
			fmt.Errorf("%s is shorter than evaluator timeout %s", d.SessionTimeout, d.EvaluatorTimeout))
	}
	if d.MaxConcurrent <= 0 {
		return NewConfigError("dispatch.max_concurrent", fmt.Errorf("must be positive, got %d", d.MaxConcurrent))
	}
	if d.RequestsPerSecond < 0 {
		return NewConfigError("dispatch.requests_per_second", fmt.Errorf("must not be negative, got %g", d.RequestsPerSecond))
	}
	if d.BatchWorkers < 0 {
		return NewConfigError("dispatch.batch_workers", fmt.Errorf("must not be negative, got %d", d.BatchWorkers))
	}
	t := c.Aggregation.ApprovalThreshold
	if t < 0 || t > 1 {
		return NewConfigError("aggregation.approval_threshold", fmt.Errorf("must be within [0,1], got %g", t))
	}
	switch c.Cache.Backend {
	case "", "memory", "disk", "layered", "redis":
	default:
		return NewConfigError("cache.backend", fmt.Errorf("unknown backend %q", c.Cache.Backend))
	}
	switch c.Store.Driver {
	case "", "sqlite", "postgres":
	default:
		return NewConfigError("store.driver", fmt.Errorf("unknown driver %q", c.Store.Driver))
	}
	return nil
}
