// Package session runs one claim submission end to end: evaluator selection,
// dispatch and aggregation, with a lifecycle and an audit trail per session.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/crewclaims/internal/dispatch"
	"github.com/ppiankov/crewclaims/internal/model"
	"github.com/ppiankov/crewclaims/internal/observability"
)

// AuditEntry is one step of a session's lifecycle
type AuditEntry struct {
	At    time.Time `json:"at"`
	State State     `json:"state"`
	Note  string    `json:"note,omitempty"`
}

// Session is a single validation of a single claim. It is owned by one
// goroutine and never reused.
type Session struct {
	ID          string
	ClaimID     string
	ClaimNumber string
	CreatedAt   time.Time
	CompletedAt time.Time

	state State
	trail []AuditEntry
	now   func() time.Time
}

func newSession(claim model.ClaimInput, now func() time.Time) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		ClaimID:     claim.ID,
		ClaimNumber: claim.ClaimNumber,
		CreatedAt:   now(),
		state:       StateCreated,
		now:         now,
	}
	s.trail = append(s.trail, AuditEntry{At: s.CreatedAt, State: StateCreated})
	return s
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return s.state
}

// Trail returns a copy of the audit trail
func (s *Session) Trail() []AuditEntry {
	return append([]AuditEntry(nil), s.trail...)
}

// Elapsed is the wall clock from creation to completion (or to now while running)
func (s *Session) Elapsed() time.Duration {
	if !s.CompletedAt.IsZero() {
		return s.CompletedAt.Sub(s.CreatedAt)
	}
	return s.now().Sub(s.CreatedAt)
}

func (s *Session) transition(to State, note string) error {
	if err := ValidateTransition(s.state, to); err != nil {
		return err
	}
	at := s.now()
	s.state = to
	s.trail = append(s.trail, AuditEntry{At: at, State: to, Note: note})
	if to.Terminal() {
		s.CompletedAt = at
	}
	return nil
}

// Selector picks the evaluators for a claim
type Selector interface {
	Select(claim model.ClaimInput, trip *model.TripData) ([]model.AgentType, error)
}

// Dispatcher runs the selected evaluators
type Dispatcher interface {
	Dispatch(ctx context.Context, input model.AgentInput, agents []model.AgentType) dispatch.Outcome
}

// Reducer turns the dispatch outcome into the final decision
type Reducer interface {
	Aggregate(claimID string, input model.AgentInput, order []model.AgentType,
		results map[model.AgentType]model.AgentResult, timedOut bool) (*model.ValidationResult, error)
}

// Recorder persists finished sessions
type Recorder interface {
	Record(ctx context.Context, s *Session, vr *model.ValidationResult) error
}

// Validator is the session boundary. It is safe for concurrent use; each call
// runs its own Session.
type Validator struct {
	selector   Selector
	dispatcher Dispatcher
	reducer    Reducer
	recorder   Recorder
	telemetry  *observability.Provider
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Validator
type Option func(*Validator)

// WithRecorder stores every completed session
func WithRecorder(r Recorder) Option {
	return func(v *Validator) { v.recorder = r }
}

// WithTelemetry traces sessions and counts their outcomes
func WithTelemetry(p *observability.Provider) Option {
	return func(v *Validator) { v.telemetry = p }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithClock overrides the wall clock
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

// NewValidator creates a Validator from its three engine components
func NewValidator(selector Selector, dispatcher Dispatcher, reducer Reducer, opts ...Option) (*Validator, error) {
	if selector == nil || dispatcher == nil || reducer == nil {
		return nil, fmt.Errorf("session: selector, dispatcher and reducer are required")
	}
	v := &Validator{
		selector:   selector,
		dispatcher: dispatcher,
		reducer:    reducer,
		logger:     slog.Default().With("component", "session"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Validate runs one session. The only errors are configuration errors
// detected before dispatch; everything after that is folded into the result.
func (v *Validator) Validate(ctx context.Context, input model.AgentInput) (*model.ValidationResult, error) {
	vr, _, err := v.Run(ctx, input)
	return vr, err
}

// Run is Validate that also returns the session, including on abort
func (v *Validator) Run(ctx context.Context, input model.AgentInput) (*model.ValidationResult, *Session, error) {
	s := newSession(input.Claim, v.now)

	if err := model.ValidateClaim(input.Claim); err != nil {
		return nil, s, v.abort(s, err)
	}
	agents, err := v.selector.Select(input.Claim, input.Trip)
	if err != nil {
		return nil, s, v.abort(s, err)
	}
	if len(agents) == 0 {
		return nil, s, v.abort(s, model.NewConfigError("registry", model.ErrNoEvaluators))
	}

	ctx, span := v.telemetry.StartSpan(ctx, "session.validate",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("session_id", s.ID),
			attribute.String("claim_id", input.Claim.ID),
			attribute.String("claim_type", string(input.Claim.Type)),
			attribute.Int("evaluators", len(agents)),
		),
	)
	defer span.End()
	finish := v.telemetry.TrackSession(ctx)

	v.mustTransition(s, StateDispatching, fmt.Sprintf("%d evaluators", len(agents)))
	v.logger.Debug("dispatching", "session_id", s.ID, "claim_id", s.ClaimID, "agents", agents)

	outcome := v.dispatcher.Dispatch(ctx, input, agents)

	note := ""
	if outcome.TimedOut {
		note = "session deadline exceeded"
	}
	v.mustTransition(s, StateAggregating, note)

	vr, err := v.reducer.Aggregate(input.Claim.ID, input, agents, outcome.Results, outcome.TimedOut)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		finish(model.OverallFlagged, outcome.TimedOut)
		return nil, s, v.abort(s, err)
	}

	v.mustTransition(s, StateCompleted, string(vr.OverallStatus))
	vr.ProcessingTimeMs = s.Elapsed().Milliseconds()

	span.SetAttributes(
		attribute.String("overall_status", string(vr.OverallStatus)),
		attribute.Float64("confidence", vr.Confidence),
		attribute.Bool("timed_out", vr.TimedOut),
	)
	finish(vr.OverallStatus, vr.TimedOut)

	v.logger.Info("claim validated",
		"session_id", s.ID,
		"claim_id", s.ClaimID,
		"status", vr.OverallStatus,
		"confidence", vr.Confidence,
		"issues", len(vr.Issues),
		"errors", vr.ErrorCount(),
		"timed_out", vr.TimedOut,
		"elapsed", s.Elapsed(),
	)

	if v.recorder != nil {
		if err := v.recorder.Record(ctx, s, vr); err != nil {
			v.logger.Warn("failed to record session", "session_id", s.ID, "claim_id", s.ClaimID, "error", err)
		}
	}

	return vr, s, nil
}

func (v *Validator) abort(s *Session, err error) error {
	if terr := s.transition(StateAborted, err.Error()); terr != nil {
		v.logger.Error("abort from terminal state", "session_id", s.ID, "state", s.state, "error", terr)
	}
	v.logger.Warn("session aborted", "session_id", s.ID, "claim_id", s.ClaimID, "error", err)
	if !model.IsConfigError(err) {
		err = model.NewConfigError("", err)
	}
	return err
}

// mustTransition applies a forward step of the fixed lifecycle. The steps Run
// takes are always legal, so a failure here is a programming error.
func (v *Validator) mustTransition(s *Session, to State, note string) {
	if err := s.transition(to, note); err != nil {
		panic(err)
	}
}
