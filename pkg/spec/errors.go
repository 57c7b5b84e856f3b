package spec

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrFrozen is wrapped by SetupError when a frozen spec is modified.
	ErrFrozen = errors.New("spec is frozen")
	// ErrUnknownSection is wrapped by SetupError when an identity names a
	// section that was never registered.
	ErrUnknownSection = errors.New("unknown section")
	// ErrUnknownCheck is wrapped by SetupError when an identity names a
	// check the section does not have.
	ErrUnknownCheck = errors.New("unknown check")
	// ErrUnknownIterArg is wrapped by SetupError when an identity names an
	// undeclared iterarg.
	ErrUnknownIterArg = errors.New("unknown iterarg")
)

// NamespaceError reports a name registered twice across namespace kinds.
type NamespaceError struct {
	Name      string
	Existing  Kind
	Requested Kind
}

func (e *NamespaceError) Error() string {
	return fmt.Sprintf("name %q is already registered in %q, requested registering in %q", e.Name, e.Existing, e.Requested)
}

func (e *NamespaceError) Code() string { return ReasonNameCollision }

// SetupError reports an invalid spec or runner configuration.
type SetupError struct {
	Msg string
	Err error
}

func (e *SetupError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }
func (e *SetupError) Code() string  { return ReasonSetupInvalid }

// CircularAliasError reports an alias chain that loops.
type CircularAliasError struct {
	Name string
	Path []string
}

func (e *CircularAliasError) Error() string {
	return fmt.Sprintf("alias for %q has a circular reference in %s", e.Name, strings.Join(e.Path, " -> "))
}

func (e *CircularAliasError) Code() string { return ReasonCircularAlias }

// MissingValueError reports a name that resolves to nothing.
type MissingValueError struct {
	Name     string
	Resolved string // alias target, empty when Name is not an alias
}

func (e *MissingValueError) Error() string {
	if e.Resolved != "" && e.Resolved != e.Name {
		return fmt.Sprintf("value %q as %q is undefined", e.Name, e.Resolved)
	}
	return fmt.Sprintf("value %q is undefined", e.Name)
}

func (e *MissingValueError) Code() string { return ReasonMissingValue }

// MissingConditionError reports a reference to an unregistered condition.
type MissingConditionError struct {
	Name string
}

func (e *MissingConditionError) Error() string {
	return fmt.Sprintf("condition %q is not registered", e.Name)
}

func (e *MissingConditionError) Code() string { return ReasonMissingCondition }

// FailedConditionError wraps a failure while evaluating a condition.
type FailedConditionError struct {
	Condition string
	Err       error
}

func (e *FailedConditionError) Error() string {
	return fmt.Sprintf("condition %q failed: %v", e.Condition, e.Err)
}

func (e *FailedConditionError) Unwrap() error { return e.Err }
func (e *FailedConditionError) Code() string  { return ReasonFailedCondition }

// CircularDependencyError reports a condition that depends on itself.
type CircularDependencyError struct {
	Condition string
	Path      []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("condition %q is a circular dependency in %s", e.Condition, strings.Join(e.Path, " -> "))
}

func (e *CircularDependencyError) Code() string { return ReasonCircularDependency }

// FailedDependenciesError wraps a failure to resolve a check's arguments.
type FailedDependenciesError struct {
	CheckID string
	Err     error
}

func (e *FailedDependenciesError) Error() string {
	return fmt.Sprintf("check %q: failed to resolve dependencies: %v", e.CheckID, e.Err)
}

func (e *FailedDependenciesError) Unwrap() error { return e.Err }
func (e *FailedDependenciesError) Code() string  { return ReasonFailedDependencies }

// FailedCheckError wraps an error or panic raised by a check body. Trace holds
// the goroutine stack at the point of recovery and is only set for panics.
type FailedCheckError struct {
	Err   error
	Trace string
}

func (e *FailedCheckError) Error() string {
	return fmt.Sprintf("check failed: %v", e.Err)
}

func (e *FailedCheckError) Unwrap() error { return e.Err }
func (e *FailedCheckError) Code() string  { return ReasonFailedCheck }

// APIViolationError reports a check result that does not follow the result
// contract. Result holds the offending item.
type APIViolationError struct {
	Msg    string
	Result any
}

func (e *APIViolationError) Error() string { return e.Msg }
func (e *APIViolationError) Code() string  { return ReasonAPIViolation }

// ProtocolViolationError reports an event stream that breaks the nesting
// discipline. It is raised by consumers, never by the runner.
type ProtocolViolationError struct {
	Msg string
	Seq int
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("protocol violation at event %d: %s", e.Seq, e.Msg)
}

func (e *ProtocolViolationError) Code() string { return ReasonProtocolViolation }
