// Package component implements the Component Registry & Scheduler:
// DAG-validated registration of named analysis
// steps and a topological scheduler that runs them one session at a
// time, checkpointing every result and skipping steps already present
// from a resumed session. The DAG-validate-at-registration and
// stable-topological-order shape is grounded on this codebase's
// workflow-graph scheduling pattern, generalized from a generic task
// graph to the engine's component catalog.
package component

import (
	"context"
	"fmt"
	"sort"

	"github.com/marketlens/engine/errs"
	"github.com/marketlens/engine/normalize"
)

// Input is what an executor receives: the caller-supplied job context
// plus the outputs of its declared dependencies.
type Input struct {
	SessionID         string
	BaseContext       map[string]interface{}
	PreviousResults   map[string]interface{}
}

// Executor produces a component's raw result. Its return value is
// shape-sniffed exactly once, by the normalize package.
type Executor func(ctx context.Context, in Input) (interface{}, error)

// Validator decides whether a normalized result is acceptable.
type Validator func(result normalize.ComponentResult) bool

// Definition is one registered component.
type Definition struct {
	Name         string
	Dependencies []string
	Executor     Executor
	Validator    Validator
	Required     bool
}

// Registry holds the component DAG. Registration validates acyclicity
// eagerly so a bad catalog fails fast at startup, not mid-run.
type Registry struct {
	defs  map[string]Definition
	order []string // insertion order, used only for deterministic iteration of defs
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a component definition. It is rejected if name is
// already registered under a conflicting definition is not permitted:
// re-registering an existing name is an error (unlike the Provider
// Registry, where re-registration is an intentional overwrite).
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return errs.New("component.Register", errs.KindValidationFailed, "", fmt.Errorf("component name must not be empty"))
	}
	if _, exists := r.defs[def.Name]; exists {
		return errs.New("component.Register", errs.KindValidationFailed, def.Name, errs.ErrDuplicateComponent)
	}
	if def.Executor == nil {
		return errs.New("component.Register", errs.KindValidationFailed, def.Name, fmt.Errorf("executor must not be nil"))
	}
	if def.Validator == nil {
		def.Validator = normalize.DefaultValidator
	}

	candidate := make(map[string]Definition, len(r.defs)+1)
	for k, v := range r.defs {
		candidate[k] = v
	}
	candidate[def.Name] = def

	if _, err := topologicalOrder(candidate); err != nil {
		return err
	}

	r.defs[def.Name] = def
	r.order = append(r.order, def.Name)
	return nil
}

// Definitions returns every registered definition in insertion order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}

// topologicalOrder computes a stable topological order: components with
// satisfied dependencies become eligible level by level, and within a
// level ties break alphabetically by name.
func topologicalOrder(defs map[string]Definition) ([]string, error) {
	for _, def := range defs {
		for _, dep := range def.Dependencies {
			if _, ok := defs[dep]; !ok {
				return nil, errs.New("component.topologicalOrder", errs.KindValidationFailed, def.Name, fmt.Errorf("unknown dependency %q", dep))
			}
		}
	}

	remaining := make(map[string]bool, len(defs))
	for name := range defs {
		remaining[name] = true
	}

	var order []string
	for len(remaining) > 0 {
		var eligible []string
		for name := range remaining {
			ready := true
			for _, dep := range defs[name].Dependencies {
				if remaining[dep] {
					ready = false
					break
				}
			}
			if ready {
				eligible = append(eligible, name)
			}
		}
		if len(eligible) == 0 {
			return nil, errs.New("component.topologicalOrder", errs.KindValidationFailed, "", fmt.Errorf("dependency graph contains a cycle"))
		}
		sort.Strings(eligible)
		for _, name := range eligible {
			order = append(order, name)
			delete(remaining, name)
		}
	}
	return order, nil
}
