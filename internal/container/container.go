// Package container implements the ServiceContainer: a registry of
// long-lived service descriptors, resolved into a topological build
// order and brought up/torn down in that order (and its reverse).
//
// This is hand-rolled rather than built on a reflection-based DI
// framework (go.uber.org/fx, seen elsewhere in the example pack) because
// the contract here is a runtime, string-keyed registry whose cycle
// detection must itself be an observable, testable operation
// (DEPENDENCY_CYCLE as returned data, not a panic at wire time) -- see
// DESIGN.md for the full justification.
package container

import (
	"context"
	"fmt"
	"sort"

	"github.com/jobengine/worker-core/internal/errs"
	"github.com/jobengine/worker-core/internal/health"
)

// Service is the capability every constructed instance exposes. Embed
// this (or satisfy it directly) in concrete service types; Initialize
// and Cleanup may be no-ops.
type Service interface {
	Initialize(ctx context.Context) error
	Cleanup(ctx context.Context) error
}

// Factory constructs a service instance given its already-built
// dependencies (by name) and a bound health.Registry it may register
// checks against before Initialize runs.
type Factory func(deps map[string]any, checks *health.Registry) (Service, error)

// Descriptor is one registered service.
type Descriptor struct {
	Name      string
	DependsOn []string
	Factory   Factory
}

// Container owns every constructed Service instance for the process
// lifetime and resolves inter-service dependencies.
type Container struct {
	descriptors []Descriptor
	checks      *health.Registry

	order      []string
	descByName map[string]Descriptor
	instances  map[string]Service
	built      bool
}

// New creates a Container that binds each service's health checks to
// checks (typically the application's single shared HealthRegistry).
func New(checks *health.Registry) *Container {
	return &Container{checks: checks, instances: make(map[string]Service)}
}

// Register appends a descriptor. Order of registration does not matter;
// Build computes the actual dependency order.
func (c *Container) Register(d Descriptor) {
	c.descriptors = append(c.descriptors, d)
}

// Build performs a topological sort (Kahn's algorithm) over DependsOn.
// A cycle, or a dependency naming a service that was never registered,
// is reported as DEPENDENCY_CYCLE -- a fatal, pre-run condition per
// spec.md section 4.7.
func (c *Container) Build() error {
	byName := make(map[string]Descriptor, len(c.descriptors))
	inDegree := make(map[string]int, len(c.descriptors))
	dependents := make(map[string][]string)

	for _, d := range c.descriptors {
		if _, dup := byName[d.Name]; dup {
			return errs.New(errs.DependencyCycle, "service %q registered more than once", d.Name)
		}
		byName[d.Name] = d
		inDegree[d.Name] = 0
	}
	for _, d := range c.descriptors {
		for _, dep := range d.DependsOn {
			if _, ok := byName[dep]; !ok {
				return errs.New(errs.DependencyCycle, "service %q depends on unregistered service %q", d.Name, dep)
			}
			inDegree[d.Name]++
			dependents[dep] = append(dependents[dep], d.Name)
		}
	}

	var ready []string
	for name, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready) // deterministic order among siblings

	var order []string
	for len(ready) > 0 {
		sort.Strings(ready)
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for _, dep := range dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(byName) {
		return errs.New(errs.DependencyCycle, "dependency graph contains a cycle")
	}

	c.order = order
	for _, name := range order {
		c.checks.Register(serviceHealthCheckName(name))
	}
	c.descByName = byName
	c.built = true
	return nil
}

// Initialize constructs and initializes every service in topological
// order. On the first failure, already-initialized services are
// cleaned up in reverse order and the error propagates.
func (c *Container) Initialize(ctx context.Context) error {
	if !c.built {
		if err := c.Build(); err != nil {
			return err
		}
	}

	var initialized []string
	for _, name := range c.order {
		d := c.descByName[name]
		deps := make(map[string]any, len(d.DependsOn))
		for _, dep := range d.DependsOn {
			deps[dep] = c.instances[dep]
		}

		svc, err := d.Factory(deps, c.checks)
		if err != nil {
			c.rollback(ctx, initialized)
			return fmt.Errorf("container: build service %q: %w", name, err)
		}
		if err := svc.Initialize(ctx); err != nil {
			c.rollback(ctx, initialized)
			return fmt.Errorf("container: initialize service %q: %w", name, err)
		}
		c.instances[name] = svc
		initialized = append(initialized, name)
	}
	return nil
}

func (c *Container) rollback(ctx context.Context, initialized []string) {
	for i := len(initialized) - 1; i >= 0; i-- {
		name := initialized[i]
		if svc, ok := c.instances[name]; ok {
			_ = svc.Cleanup(ctx)
			delete(c.instances, name)
		}
	}
}

// Teardown runs Cleanup on every initialized service in reverse
// topological order, swallowing individual errors (the caller should log
// them) so every hook runs regardless of earlier failures.
func (c *Container) Teardown(ctx context.Context) []error {
	var errsOut []error
	for i := len(c.order) - 1; i >= 0; i-- {
		name := c.order[i]
		svc, ok := c.instances[name]
		if !ok {
			continue
		}
		if err := svc.Cleanup(ctx); err != nil {
			errsOut = append(errsOut, fmt.Errorf("container: cleanup service %q: %w", name, err))
		}
	}
	return errsOut
}

// Resolve implements actions.DependencyResolver, letting the action
// registry look up a constructed service instance by name.
func (c *Container) Resolve(name string) (any, bool) {
	svc, ok := c.instances[name]
	return svc, ok
}

func serviceHealthCheckName(service string) string {
	return "service:" + service
}
