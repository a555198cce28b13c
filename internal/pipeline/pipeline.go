package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ppiankov/crewclaims/internal/aggregate"
	"github.com/ppiankov/crewclaims/internal/cache"
	"github.com/ppiankov/crewclaims/internal/dispatch"
	"github.com/ppiankov/crewclaims/internal/evaluator"
	"github.com/ppiankov/crewclaims/internal/llm"
	"github.com/ppiankov/crewclaims/internal/model"
	"github.com/ppiankov/crewclaims/internal/observability"
	"github.com/ppiankov/crewclaims/internal/registry"
	"github.com/ppiankov/crewclaims/internal/session"
	"github.com/ppiankov/crewclaims/internal/store"
	"github.com/ppiankov/crewclaims/internal/worker"
)

// Pipeline wires the engine together: registry, evaluators, dispatch,
// aggregation, the session boundary and its audit store
type Pipeline struct {
	registry  *registry.Registry
	catalog   *evaluator.Catalog
	validator *session.Validator
	store     *store.Store // nil when auditing is disabled
	cache     cache.Cache
	telemetry *observability.Provider
	limiter   *worker.Limiter
	renderer  *Renderer
	config    model.Config
	logger    *slog.Logger
}

// Option configures a Pipeline
type Option func(*options)

type options struct {
	logger   *slog.Logger
	version  string
	provider llm.Provider
	catalog  *evaluator.Catalog
}

// WithLogger sets the logger handed to every component
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithVersion sets the service version reported in telemetry
func WithVersion(version string) Option {
	return func(o *options) { o.version = version }
}

// WithProvider overrides the reasoning backend built from config
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithCatalog supplies the evaluators directly instead of building them
func WithCatalog(c *evaluator.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

// New builds a pipeline from cfg. It fails when cfg is invalid or when the
// registry can route a claim to an evaluator that does not exist.
func New(ctx context.Context, cfg model.Config, opts ...Option) (*Pipeline, error) {
	o := &options{logger: slog.Default(), version: "dev"}
	for _, opt := range opts {
		opt(o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		config:   cfg,
		logger:   o.logger.With("component", "pipeline"),
		renderer: NewRenderer(cfg.Output),
	}

	reg, err := registry.New(cfg.Registry, o.logger.With("component", "registry"))
	if err != nil {
		return nil, err
	}
	p.registry = reg

	telemetry, err := observability.New(ctx, observability.ConfigFromModel(cfg.Telemetry, o.version))
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	p.telemetry = telemetry

	p.catalog = o.catalog
	if p.catalog == nil {
		if p.catalog, err = p.buildCatalog(cfg, o.provider); err != nil {
			_ = p.Close(ctx)
			return nil, err
		}
	}
	if err := p.catalog.Require(reg.AgentTypes()); err != nil {
		_ = p.Close(ctx)
		return nil, err
	}

	p.limiter = worker.NewLimiter(cfg.Dispatch.MaxConcurrent, cfg.Dispatch.RequestsPerSecond, cfg.Dispatch.Burst)
	coordinator, err := dispatch.New(p.catalog, p.limiter, dispatch.Config{
		EvaluatorTimeout: cfg.Dispatch.EvaluatorTimeout,
		SessionTimeout:   cfg.Dispatch.SessionTimeout,
	},
		dispatch.WithLogger(o.logger.With("component", "dispatch")),
		dispatch.WithTelemetry(telemetry),
	)
	if err != nil {
		_ = p.Close(ctx)
		return nil, err
	}

	aggregator := aggregate.New(cfg.Aggregation.ApprovalThreshold, o.logger.With("component", "aggregate"))

	sessionOpts := []session.Option{
		session.WithLogger(o.logger.With("component", "session")),
		session.WithTelemetry(telemetry),
	}
	if cfg.Store.Driver != "" {
		st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			_ = p.Close(ctx)
			return nil, fmt.Errorf("open session store: %w", err)
		}
		p.store = st
		sessionOpts = append(sessionOpts, session.WithRecorder(st))
	}

	p.validator, err = session.NewValidator(reg, coordinator, aggregator, sessionOpts...)
	if err != nil {
		_ = p.Close(ctx)
		return nil, err
	}

	p.logger.Debug("pipeline ready",
		"evaluators", len(p.catalog.Agents()),
		"llm", cfg.LLM.Provider,
		"cache", cfg.Cache.Backend,
		"store", cfg.Store.Driver,
	)
	return p, nil
}

// buildCatalog registers an evaluator for every agent type: the offline rules
// when no reasoning backend is configured, LLM evaluators otherwise
func (p *Pipeline) buildCatalog(cfg model.Config, provider llm.Provider) (*evaluator.Catalog, error) {
	if provider == nil {
		var err error
		provider, err = llm.NewProvider(llm.ConfigFromModel(cfg.LLM))
		if err != nil {
			return nil, model.NewConfigError("llm.provider", err)
		}
	}

	catalog := evaluator.NewCatalog()
	if provider == nil {
		limits := evaluator.DefaultLimits()
		err := catalog.RegisterAll(func(a model.AgentType) (evaluator.Evaluator, error) {
			return evaluator.NewRules(a, limits), nil
		})
		return catalog, err
	}

	c, err := cache.New(cfg.Cache)
	if err != nil {
		return nil, err
	}
	p.cache = c

	evalOpts := []evaluator.LLMOption{evaluator.WithLogger(p.logger.With("component", "evaluator"))}
	if c != nil {
		evalOpts = append(evalOpts, evaluator.WithCache(c, cfg.Cache.TTL))
	}
	err = catalog.RegisterAll(func(a model.AgentType) (evaluator.Evaluator, error) {
		return evaluator.NewLLMEvaluator(a, provider, evalOpts...)
	})
	return catalog, err
}

// Validate runs one validation session. It satisfies worker.ClaimValidator.
func (p *Pipeline) Validate(ctx context.Context, input model.AgentInput) (*model.ValidationResult, error) {
	return p.validator.Validate(ctx, input)
}

// Run validates input and returns a renderable report
func (p *Pipeline) Run(ctx context.Context, input model.AgentInput) (*Report, error) {
	vr, s, err := p.validator.Run(ctx, input)
	if err != nil {
		return nil, err
	}
	return &Report{SessionID: s.ID, Claim: input.Claim, Result: vr}, nil
}

// Plan returns the evaluators the registry selects for input, without running them
func (p *Pipeline) Plan(input model.AgentInput) ([]model.AgentType, error) {
	if err := model.ValidateClaim(input.Claim); err != nil {
		return nil, err
	}
	return p.registry.Select(input.Claim, input.Trip)
}

// BackendSlots reports how many backend calls are running now and how many
// may run at once across every session of this pipeline
func (p *Pipeline) BackendSlots() (inFlight, capacity int) {
	return p.limiter.InFlight(), p.limiter.Capacity()
}

// History lists recorded sessions for a claim, newest first
func (p *Pipeline) History(ctx context.Context, claimID string, limit int) ([]*store.Record, error) {
	if p.store == nil {
		return nil, model.NewConfigError("store.driver", errors.New("session store is disabled"))
	}
	return p.store.ListByClaim(ctx, claimID, limit)
}

// Session returns one recorded session
func (p *Pipeline) Session(ctx context.Context, id string) (*store.Record, error) {
	if p.store == nil {
		return nil, model.NewConfigError("store.driver", errors.New("session store is disabled"))
	}
	return p.store.Get(ctx, id)
}

// Renderer returns the report renderer
func (p *Pipeline) Renderer() *Renderer {
	return p.renderer
}

// Close releases the store, the cache and telemetry exporters
func (p *Pipeline) Close(ctx context.Context) error {
	var errs []error
	if p.store != nil {
		errs = append(errs, p.store.Close())
	}
	if c, ok := p.cache.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if p.telemetry != nil {
		errs = append(errs, p.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
