// Package dispatch runs the selected evaluators for one validation session
// concurrently and turns every outcome, including hangs and crashes, into
// exactly one AgentResult per evaluator.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/crewclaims/internal/evaluator"
	"github.com/ppiankov/crewclaims/internal/model"
	"github.com/ppiankov/crewclaims/internal/observability"
)

// Summaries of synthesized error results
const (
	SummaryTimedOut        = "timed out"
	SummarySessionDeadline = "session deadline exceeded"
	SummarySessionCanceled = "session canceled"
	SummaryNotRegistered   = "no evaluator registered"
)

// Catalog resolves an agent type to its evaluator
type Catalog interface {
	Lookup(agent model.AgentType) (evaluator.Evaluator, bool)
}

// Limiter bounds simultaneous calls into the reasoning backend. The release
// func is called once the evaluator call has actually returned.
type Limiter interface {
	Acquire(ctx context.Context) (func(), error)
}

// Config holds the two execution budgets
type Config struct {
	EvaluatorTimeout time.Duration // T_eval, per evaluator
	SessionTimeout   time.Duration // T_session, whole fan-out
}

// Outcome is the total result of one dispatch
type Outcome struct {
	Results  map[model.AgentType]model.AgentResult
	TimedOut bool
}

// Ordered returns the results in the given order
func (o Outcome) Ordered(order []model.AgentType) []model.AgentResult {
	out := make([]model.AgentResult, 0, len(order))
	for _, a := range order {
		if r, ok := o.Results[a]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Coordinator fans a claim out to evaluators under T_eval and T_session
type Coordinator struct {
	catalog   Catalog
	limiter   Limiter
	cfg       Config
	telemetry *observability.Provider
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTelemetry records a span and RED metrics per evaluator call
func WithTelemetry(p *observability.Provider) Option {
	return func(c *Coordinator) { c.telemetry = p }
}

// New creates a coordinator. The limiter is shared with every other
// coordinator talking to the same backend.
func New(catalog Catalog, limiter Limiter, cfg Config, opts ...Option) (*Coordinator, error) {
	if catalog == nil {
		return nil, fmt.Errorf("dispatch: catalog is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("dispatch: limiter is required")
	}
	if cfg.EvaluatorTimeout <= 0 {
		return nil, model.NewConfigError("dispatch.evaluator_timeout", fmt.Errorf("must be positive"))
	}
	if cfg.SessionTimeout < cfg.EvaluatorTimeout {
		return nil, model.NewConfigError("dispatch.session_timeout", fmt.Errorf("must not be shorter than evaluator timeout"))
	}

	c := &Coordinator{
		catalog: catalog,
		limiter: limiter,
		cfg:     cfg,
		logger:  slog.Default().With("component", "dispatch"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type report struct {
	agent  model.AgentType
	result model.AgentResult
}

type callResult struct {
	result model.AgentResult
	err    error
}

// Dispatch invokes every agent at most once and returns one result per agent.
// It returns no later than T_session (or ctx's own deadline); evaluators still
// running then get synthesized error results and the outcome is marked
// TimedOut.
func (c *Coordinator) Dispatch(ctx context.Context, input model.AgentInput, agents []model.AgentType) Outcome {
	sessionCtx, cancel := context.WithTimeout(ctx, c.cfg.SessionTimeout)
	defer cancel()

	unique := dedupe(agents)
	start := c.now()
	reports := make(chan report, len(unique))

	for _, agent := range unique {
		go c.run(sessionCtx, agent, input.Clone(), reports)
	}

	outcome := Outcome{Results: make(map[model.AgentType]model.AgentResult, len(unique))}
	pending := len(unique)

collect:
	for pending > 0 {
		select {
		case r := <-reports:
			outcome.Results[r.agent] = r.result
			pending--
		case <-sessionCtx.Done():
			break collect
		}
	}

	// Take whatever already arrived without waiting further
drain:
	for pending > 0 {
		select {
		case r := <-reports:
			outcome.Results[r.agent] = r.result
			pending--
		default:
			break drain
		}
	}

	for _, r := range outcome.Results {
		if r.Status == model.StatusError && (r.Summary == SummarySessionDeadline || r.Summary == SummarySessionCanceled) {
			outcome.TimedOut = true
		}
	}

	if pending > 0 {
		outcome.TimedOut = true
		summary := sessionSummary(sessionCtx)
		elapsed := c.now().Sub(start)
		for _, agent := range unique {
			if _, ok := outcome.Results[agent]; !ok {
				outcome.Results[agent] = failure(agent, summary, elapsed)
			}
		}
		c.logger.Warn("session budget exhausted before all evaluators reported",
			"claim_id", input.Claim.ID,
			"missing", pending,
			"budget", c.cfg.SessionTimeout,
		)
	}

	return outcome
}

func (c *Coordinator) run(sessionCtx context.Context, agent model.AgentType, input model.AgentInput, out chan<- report) {
	start := c.now()

	ctx, span := c.telemetry.StartSpan(sessionCtx, "evaluator."+string(agent),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("agent", string(agent)),
			attribute.String("claim_id", input.Claim.ID),
		),
	)
	defer span.End()

	result := c.invoke(sessionCtx, ctx, agent, input, start)

	span.SetAttributes(attribute.String("status", string(result.Status)))
	if result.Status == model.StatusError {
		span.SetStatus(codes.Error, result.Summary)
	}
	c.telemetry.RecordEvaluation(ctx, agent, result.Status, time.Duration(result.DurationMs)*time.Millisecond)

	out <- report{agent: agent, result: result}
}

func (c *Coordinator) invoke(sessionCtx, ctx context.Context, agent model.AgentType, input model.AgentInput, start time.Time) model.AgentResult {
	ev, ok := c.catalog.Lookup(agent)
	if !ok {
		return failure(agent, SummaryNotRegistered, 0)
	}

	release, err := c.limiter.Acquire(ctx)
	if err != nil {
		if sessionCtx.Err() != nil {
			return failure(agent, sessionSummary(sessionCtx), c.now().Sub(start))
		}
		return failure(agent, fmt.Sprintf("backend unavailable: %v", err), c.now().Sub(start))
	}

	evalCtx, cancel := context.WithTimeout(ctx, c.cfg.EvaluatorTimeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		defer release()
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("evaluator panicked: %v", r)}
			}
		}()
		res, err := ev.Evaluate(evalCtx, input)
		done <- callResult{result: res, err: err}
	}()

	select {
	case cr := <-done:
		if cr.err != nil && evalCtx.Err() != nil {
			return c.expired(sessionCtx, agent, start)
		}
		return c.settle(agent, cr, c.now().Sub(start))
	case <-evalCtx.Done():
		go c.drain(agent, input.Claim.ID, done, start)
		return c.expired(sessionCtx, agent, start)
	}
}

// expired builds the result for a call cut off by T_eval or T_session
func (c *Coordinator) expired(sessionCtx context.Context, agent model.AgentType, start time.Time) model.AgentResult {
	if sessionCtx.Err() != nil {
		return failure(agent, sessionSummary(sessionCtx), c.now().Sub(start))
	}
	return failure(agent, SummaryTimedOut, c.cfg.EvaluatorTimeout)
}

// drain waits for an abandoned call so its late result is logged, then drops it
func (c *Coordinator) drain(agent model.AgentType, claimID string, done <-chan callResult, start time.Time) {
	cr := <-done
	attrs := []any{
		"agent", agent,
		"claim_id", claimID,
		"elapsed", c.now().Sub(start),
	}
	if cr.err != nil {
		attrs = append(attrs, "error", cr.err)
	} else {
		attrs = append(attrs, "status", cr.result.Status)
	}
	c.logger.Debug("discarded late evaluator result", attrs...)
}

// settle normalizes what an evaluator returned into a well-formed result
func (c *Coordinator) settle(agent model.AgentType, cr callResult, elapsed time.Duration) model.AgentResult {
	if cr.err != nil {
		return failure(agent, cr.err.Error(), elapsed)
	}

	res := cr.result
	res.AgentType = agent
	if res.AgentName == "" {
		res.AgentName = agent.DisplayName()
	}
	res.DurationMs = elapsed.Milliseconds()

	switch {
	case !res.Status.Valid():
		c.logger.Warn("evaluator returned unknown status", "agent", agent, "status", res.Status)
		return failure(agent, fmt.Sprintf("invalid status %q", res.Status), elapsed)
	case res.Status == model.StatusError:
		res.Confidence = nil
	}
	if res.Details == nil {
		res.Details = []string{}
	}
	return res
}

// failure is the one constructor for synthesized error results
func failure(agent model.AgentType, summary string, d time.Duration) model.AgentResult {
	return model.AgentResult{
		AgentType:  agent,
		AgentName:  agent.DisplayName(),
		Status:     model.StatusError,
		DurationMs: d.Milliseconds(),
		Summary:    summary,
		Details:    []string{},
	}
}

func sessionSummary(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.Canceled) {
		return SummarySessionCanceled
	}
	return SummarySessionDeadline
}

func dedupe(agents []model.AgentType) []model.AgentType {
	seen := make(map[model.AgentType]bool, len(agents))
	out := make([]model.AgentType, 0, len(agents))
	for _, a := range agents {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}
