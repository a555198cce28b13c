// Package registry decides which evaluators examine a claim.
//
// Selection is pure data: a base set per claim type, CEL-guarded conditional
// rules that add evaluators from claim and trip context, and an always-on set
// appended last. The result is deterministic for a given input.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"

	"github.com/ppiankov/crewclaims/internal/model"
)

// Registry selects the ordered evaluator set for a claim
type Registry struct {
	base        map[model.ClaimType][]model.AgentType
	conditional []compiledRule
	alwaysOn    []model.AgentType
	logger      *slog.Logger
}

type compiledRule struct {
	name  string
	agent model.AgentType
	prg   cel.Program
}

// New validates cfg and compiles its conditional rules. Any malformed rule
// fails construction so a bad registry never reaches dispatch.
func New(cfg model.RegistryConfig, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default().With("component", "registry")
	}

	r := &Registry{
		base:   make(map[model.ClaimType][]model.AgentType, len(cfg.Rules)),
		logger: logger,
	}

	for claimType, agents := range cfg.Rules {
		if !claimType.Valid() {
			return nil, model.NewConfigError("registry.rules", fmt.Errorf("%w: %q", model.ErrUnknownClaimType, claimType))
		}
		if err := checkAgents("registry.rules."+string(claimType), agents); err != nil {
			return nil, err
		}
		r.base[claimType] = append([]model.AgentType(nil), agents...)
	}
	for _, claimType := range model.ClaimTypes() {
		if _, ok := r.base[claimType]; !ok {
			return nil, model.NewConfigError("registry.rules", fmt.Errorf("no rule for claim type %q", claimType))
		}
	}

	if len(cfg.AlwaysOn) == 0 {
		return nil, model.NewConfigError("registry.always_on", fmt.Errorf("always-on set is empty"))
	}
	if err := checkAgents("registry.always_on", cfg.AlwaysOn); err != nil {
		return nil, err
	}
	if !contains(cfg.AlwaysOn, model.AgentCompliance) {
		return nil, model.NewConfigError("registry.always_on", fmt.Errorf("must include %q", model.AgentCompliance))
	}
	r.alwaysOn = append([]model.AgentType(nil), cfg.AlwaysOn...)

	if len(cfg.Conditional) > 0 {
		env, err := newEnv()
		if err != nil {
			return nil, fmt.Errorf("failed to create CEL environment: %w", err)
		}
		for i, rule := range cfg.Conditional {
			field := fmt.Sprintf("registry.conditional[%d]", i)
			if !rule.Agent.Valid() {
				return nil, model.NewConfigError(field, fmt.Errorf("unknown agent type %q", rule.Agent))
			}
			prg, err := compile(env, rule.When)
			if err != nil {
				return nil, model.NewConfigError(field, err)
			}
			name := rule.Name
			if name == "" {
				name = field
			}
			r.conditional = append(r.conditional, compiledRule{name: name, agent: rule.Agent, prg: prg})
		}
	}

	return r, nil
}

// Select returns the ordered, de-duplicated evaluator set for a claim:
// base rules, then matching conditional rules, then the always-on set.
func (r *Registry) Select(claim model.ClaimInput, trip *model.TripData) ([]model.AgentType, error) {
	base, ok := r.base[claim.Type]
	if !ok {
		return nil, model.NewConfigError("claim.type", fmt.Errorf("%w: %q", model.ErrUnknownClaimType, claim.Type))
	}

	selected := make([]model.AgentType, 0, len(base)+len(r.conditional)+len(r.alwaysOn))
	seen := make(map[model.AgentType]bool)
	add := func(a model.AgentType) {
		if !seen[a] {
			seen[a] = true
			selected = append(selected, a)
		}
	}

	for _, a := range base {
		add(a)
	}

	if len(r.conditional) > 0 {
		vars := activation(claim, trip)
		for _, rule := range r.conditional {
			matched, err := eval(rule.prg, vars)
			if err != nil {
				r.logger.Warn("conditional rule skipped",
					"rule", rule.name, "claim_id", claim.ID, "error", err)
				continue
			}
			if matched {
				add(rule.agent)
			}
		}
	}

	for _, a := range r.alwaysOn {
		add(a)
	}

	return selected, nil
}

// AgentTypes returns every evaluator any claim could be routed to, in the
// canonical agent order.
func (r *Registry) AgentTypes() []model.AgentType {
	reachable := make(map[model.AgentType]bool)
	for _, agents := range r.base {
		for _, a := range agents {
			reachable[a] = true
		}
	}
	for _, rule := range r.conditional {
		reachable[rule.agent] = true
	}
	for _, a := range r.alwaysOn {
		reachable[a] = true
	}

	var out []model.AgentType
	for _, a := range model.AgentTypes() {
		if reachable[a] {
			out = append(out, a)
		}
	}
	return out
}

func checkAgents(field string, agents []model.AgentType) error {
	if len(agents) == 0 {
		return model.NewConfigError(field, fmt.Errorf("evaluator set is empty"))
	}
	for _, a := range agents {
		if !a.Valid() {
			return model.NewConfigError(field, fmt.Errorf("unknown agent type %q", a))
		}
	}
	return nil
}

func contains(agents []model.AgentType, want model.AgentType) bool {
	for _, a := range agents {
		if a == want {
			return true
		}
	}
	return false
}
