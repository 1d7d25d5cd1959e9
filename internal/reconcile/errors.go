package reconcile

import "fmt"

// ConfigurationError means a local configuration value is outside the
// accepted set. It surfaces as the blocked state and is never retried
// automatically: the operator has to correct the configuration.
type ConfigurationError struct {
	Option string
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid configuration: %s: %s", e.Option, e.Reason)
	}
	return fmt.Sprintf("invalid configuration: %s=%q: %s", e.Option, e.Value, e.Reason)
}

// DependencyPending describes a required dependency that has not arrived
// yet. It is a condition rather than an error: it surfaces as the waiting
// state and resolves itself on a later reconciliation, since every relevant
// event re-triggers the computation.
type DependencyPending struct {
	Dependency string
}

func (p *DependencyPending) String() string {
	return fmt.Sprintf("waiting for %s", p.Dependency)
}
