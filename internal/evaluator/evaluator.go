// Package evaluator defines the contract every claim evaluator implements and
// the closed catalog the dispatch coordinator draws from.
package evaluator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ppiankov/crewclaims/internal/model"
)

// Evaluator judges one aspect of a claim. Implementations must be safe for
// concurrent use and should return early once ctx is done.
type Evaluator interface {
	Evaluate(ctx context.Context, input model.AgentInput) (model.AgentResult, error)
}

// Func adapts an ordinary function to the Evaluator interface
type Func func(ctx context.Context, input model.AgentInput) (model.AgentResult, error)

// Evaluate calls f(ctx, input)
func (f Func) Evaluate(ctx context.Context, input model.AgentInput) (model.AgentResult, error) {
	return f(ctx, input)
}

// Catalog maps each agent type to its evaluator. It is filled at startup and
// read concurrently afterwards.
type Catalog struct {
	mu         sync.RWMutex
	evaluators map[model.AgentType]Evaluator
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{evaluators: make(map[model.AgentType]Evaluator)}
}

// Register binds ev to agent, replacing any previous binding
func (c *Catalog) Register(agent model.AgentType, ev Evaluator) error {
	if !agent.Valid() {
		return fmt.Errorf("register evaluator: unknown agent type %q", agent)
	}
	if ev == nil {
		return fmt.Errorf("register evaluator %s: nil evaluator", agent)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.evaluators[agent] = ev
	return nil
}

// Lookup returns the evaluator bound to agent
func (c *Catalog) Lookup(agent model.AgentType) (Evaluator, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ev, ok := c.evaluators[agent]
	return ev, ok
}

// Agents returns the registered agent types, sorted
func (c *Catalog) Agents() []model.AgentType {
	c.mu.RLock()
	defer c.mu.RUnlock()

	agents := make([]model.AgentType, 0, len(c.evaluators))
	for a := range c.evaluators {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i] < agents[j] })
	return agents
}

// Require fails when any of agents has no registered evaluator
func (c *Catalog) Require(agents []model.AgentType) error {
	var missing []string
	for _, a := range agents {
		if _, ok := c.Lookup(a); !ok {
			missing = append(missing, string(a))
		}
	}
	if len(missing) > 0 {
		return model.NewConfigError("evaluators", fmt.Errorf("no evaluator registered for %s", strings.Join(missing, ", ")))
	}
	return nil
}

// RegisterAll binds an evaluator built by build to every known agent type
func (c *Catalog) RegisterAll(build func(model.AgentType) (Evaluator, error)) error {
	for _, a := range model.AgentTypes() {
		ev, err := build(a)
		if err != nil {
			return fmt.Errorf("build evaluator %s: %w", a, err)
		}
		if err := c.Register(a, ev); err != nil {
			return err
		}
	}
	return nil
}
