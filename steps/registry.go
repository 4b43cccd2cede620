package steps

import (
	"context"
	"fmt"
	"sync"

	"github.com/mergegate/mergegate/models"
	"github.com/mergegate/mergegate/workflow"
)

// Step is the interface for executable job actions. Execute blocks until the
// action finishes; a returned error aborts the remaining steps of the job.
type Step interface {
	Execute(ctx context.Context, sc *models.StepContext) error
}

// Factory is a function that creates a Step from its `with:` configuration
type Factory func(with map[string]any) (Step, error)

var (
	// registry contains all registered factories by step type
	registry = make(map[string]Factory)
	mu       sync.RWMutex
)

// Register registers a factory for a step type.
// Called by init() in the step implementation files.
func Register(stepType string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[stepType] = factory
}

// Create instantiates a step by type name
func Create(stepType string, with map[string]any) (Step, error) {
	mu.RLock()
	factory, exists := registry[stepType]
	mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown step type: %s", stepType)
	}
	return factory(with)
}

// List returns all registered step types
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	return types
}

// FromConfig builds a step from a workflow step declaration. The `run:`
// shorthand maps to the shell step.
func FromConfig(cfg workflow.Step) (Step, error) {
	if cfg.Run != "" {
		with := map[string]any{"command": cfg.Run}
		for k, v := range cfg.With {
			with[k] = v
		}
		return Create("run", with)
	}
	return Create(cfg.Uses, cfg.With)
}

// exprContext builds the expression context a step resolves its inputs with
func exprContext(sc *models.StepContext) *workflow.ExprContext {
	return &workflow.ExprContext{
		Event:   sc.Event,
		Needs:   sc.Needs,
		Vars:    sc.Env,
		Secrets: sc.Secrets,
	}
}
