// Package actions implements the name -> {schema, dependencies, handler}
// table jobs are dispatched through. Registration happens once at
// startup (explicit, builder-style, per spec.md section 9's "registration
// by name" replacement for runtime type introspection); Dispatch runs on
// every claimed job.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jobengine/worker-core/internal/errs"
)

// Handler is the typed callable a registered action invokes once its
// input has been validated and its dependencies resolved.
type Handler func(ctx context.Context, input map[string]any, deps map[string]any) (any, error)

// Definition is one registered action.
type Definition struct {
	Name         string
	Schema       Schema
	Dependencies []string
	Handler      Handler
}

// DependencyResolver looks up a named service instance, as satisfied by
// a container.Container.
type DependencyResolver interface {
	Resolve(name string) (any, bool)
}

// Registry is the name -> Definition table.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Definition)}
}

// Register adds a new action. A duplicate name is rejected with
// DUPLICATE_ACTION rather than silently overwriting the prior definition.
func (r *Registry) Register(def Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[def.Name]; exists {
		return errs.New(errs.DuplicateAction, "action %q is already registered", def.Name)
	}
	if def.Schema == nil {
		def.Schema = NoSchema{}
	}
	r.actions[def.Name] = def
	return nil
}

// Names returns every registered action name, mainly for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for n := range r.actions {
		names = append(names, n)
	}
	return names
}

// Dispatch runs the full action-dispatch protocol from spec.md section
// 4.5 against a raw job payload: extract action name, look it up,
// validate the remaining fields, resolve dependencies in declared order,
// and invoke the handler.
func (r *Registry) Dispatch(ctx context.Context, payload map[string]any, deps DependencyResolver) (any, error) {
	actionName, ok := payload["action"].(string)
	if !ok || actionName == "" {
		return nil, errs.New(errs.InvalidPayload, "payload is missing a string \"action\" field")
	}

	r.mu.RLock()
	def, ok := r.actions[actionName]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.UnknownAction, "no action registered with name %q", actionName)
	}

	fields := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == "action" {
			continue
		}
		fields[k] = v
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, errs.New(errs.InvalidPayload, "re-encode payload fields: %v", err)
	}

	input, err := def.Schema.Validate(raw)
	if err != nil {
		if vf, ok := err.(*errs.ValidationFailure); ok {
			return nil, vf.AsJobError()
		}
		return nil, err
	}

	resolved := make(map[string]any, len(def.Dependencies))
	for _, name := range def.Dependencies {
		inst, ok := deps.Resolve(name)
		if !ok {
			return nil, errs.New(errs.DependencyUnresolved, "action %q requires unresolved dependency %q", actionName, name)
		}
		resolved[name] = inst
	}

	result, err := def.Handler(ctx, input, resolved)
	if err != nil {
		if je, ok := err.(*errs.JobError); ok {
			return nil, je
		}
		return nil, errs.New(errs.HandlerError, "%s", handlerErrorMessage(err))
	}
	return result, nil
}

func handlerErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprint(err)
}
