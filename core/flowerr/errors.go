package flowerr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a failure.
type Kind string

const (
	// KindTypeMismatch is returned when a FlowValue is accessed as the wrong variant.
	KindTypeMismatch Kind = "type_mismatch"

	// KindMissingDependencyOutput is returned when a node reads a key that was never written.
	KindMissingDependencyOutput Kind = "missing_dependency_output"

	// KindNodeExecutionFailed wraps a domain error reported by a node.
	KindNodeExecutionFailed Kind = "node_execution_failed"

	// KindTimeout is returned when a node or a whole run exceeds its deadline.
	KindTimeout Kind = "timeout"

	// KindCycleDetected is a construction-time error: the dependency relation is not a DAG.
	KindCycleDetected Kind = "cycle_detected"

	// KindUnknownDependency is a construction-time error: a node depends on an undeclared ID.
	KindUnknownDependency Kind = "unknown_dependency"

	// KindInvalidDefinition covers the remaining construction-time errors
	// (empty or duplicate IDs, nil nodes, malformed workflow documents).
	KindInvalidDefinition Kind = "invalid_definition"

	// KindDependencyFailed is a propagated error: the node never ran because
	// an upstream node failed.
	KindDependencyFailed Kind = "dependency_failed"

	// KindCancelled is returned when the run was cancelled before or while
	// the node executed.
	KindCancelled Kind = "cancelled"

	// KindResourceLimitExceeded is returned when a write would push a value
	// or the whole execution context past its configured size.
	KindResourceLimitExceeded Kind = "resource_limit_exceeded"

	// KindCircuitOpen is returned without invoking the node while its
	// circuit breaker is open.
	KindCircuitOpen Kind = "circuit_open"
)

// IsConstruction reports whether kind can only occur while building a flow.
func (kind Kind) IsConstruction() bool {
	switch kind {
	case KindCycleDetected, KindUnknownDependency, KindInvalidDefinition:
		return true
	default:
		return false
	}
}

// IsPropagated reports whether kind describes a failure that did not
// originate in the node it is attached to.
func (kind Kind) IsPropagated() bool {
	return kind == KindDependencyFailed || kind == KindCancelled
}

// Sentinel errors for errors.Is matching. They carry only a Kind.
var (
	ErrTypeMismatch            = &Error{Kind: KindTypeMismatch}
	ErrMissingDependencyOutput = &Error{Kind: KindMissingDependencyOutput}
	ErrNodeExecutionFailed     = &Error{Kind: KindNodeExecutionFailed}
	ErrTimeout                 = &Error{Kind: KindTimeout}
	ErrCycleDetected           = &Error{Kind: KindCycleDetected}
	ErrUnknownDependency       = &Error{Kind: KindUnknownDependency}
	ErrInvalidDefinition       = &Error{Kind: KindInvalidDefinition}
	ErrDependencyFailed        = &Error{Kind: KindDependencyFailed}
	ErrCancelled               = &Error{Kind: KindCancelled}
	ErrResourceLimitExceeded   = &Error{Kind: KindResourceLimitExceeded}
	ErrCircuitOpen             = &Error{Kind: KindCircuitOpen}
)

// Error is the concrete taxonomy error.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// NodeID is the node the failure is attached to. Empty for flow-level
	// and value-level failures.
	NodeID string

	// Message is the human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error renders "kind: node "id": message: cause", omitting empty parts.
func (flowError *Error) Error() string {
	if flowError == nil {
		return ""
	}

	var builder strings.Builder
	builder.WriteString(string(flowError.Kind))

	if flowError.NodeID != "" {
		fmt.Fprintf(&builder, ": node %q", flowError.NodeID)
	}
	if flowError.Message != "" {
		builder.WriteString(": ")
		builder.WriteString(flowError.Message)
	}
	if flowError.Err != nil {
		builder.WriteString(": ")
		builder.WriteString(flowError.Err.Error())
	}

	return builder.String()
}

// Unwrap returns the underlying cause.
func (flowError *Error) Unwrap() error {
	if flowError == nil {
		return nil
	}
	return flowError.Err
}

// Is matches another *Error by Kind, so that every error of a given kind
// satisfies errors.Is against the corresponding sentinel.
func (flowError *Error) Is(target error) bool {
	var targetError *Error
	if !errors.As(target, &targetError) || flowError == nil || targetError == nil {
		return false
	}
	return flowError.Kind == targetError.Kind
}

// --- Constructors ---

// TypeMismatch reports that a value of kind got was read as want.
func TypeMismatch(want, got string) *Error {
	return &Error{
		Kind:    KindTypeMismatch,
		Message: fmt.Sprintf("expected %s, found %s", want, got),
	}
}

// MissingDependencyOutput reports that nodeID read key before anyone wrote it.
func MissingDependencyOutput(nodeID, key string) *Error {
	return &Error{
		Kind:    KindMissingDependencyOutput,
		NodeID:  nodeID,
		Message: fmt.Sprintf("context key %q was never written", key),
	}
}

// NodeExecutionFailed wraps the domain error a node returned. If cause is or
// wraps a taxonomy error, its kind is kept and the node ID filled in. A
// wrapping cause stays attached as Err so the node's own text survives.
func NodeExecutionFailed(nodeID string, cause error) *Error {
	var flowError *Error
	if errors.As(cause, &flowError) {
		if flowError == cause && flowError.NodeID != "" {
			return flowError
		}
		copied := *flowError
		if copied.NodeID == "" {
			copied.NodeID = nodeID
		}
		if flowError != cause {
			copied.Message = ""
			copied.Err = cause
		}
		return &copied
	}

	message := "node reported failure"
	if cause == nil {
		cause = errors.New(message)
	}
	return &Error{
		Kind:   KindNodeExecutionFailed,
		NodeID: nodeID,
		Err:    cause,
	}
}

// Timeout reports that nodeID ran longer than limit. An empty nodeID denotes
// the run-wide deadline.
func Timeout(nodeID string, limit time.Duration) *Error {
	message := "deadline exceeded"
	if limit > 0 {
		message = fmt.Sprintf("exceeded %s", limit)
	}
	return &Error{
		Kind:    KindTimeout,
		NodeID:  nodeID,
		Message: message,
		Err:     context.DeadlineExceeded,
	}
}

// CycleDetected reports the node IDs that participate in (or are blocked by) a cycle.
func CycleDetected(nodeIDs []string) *Error {
	return &Error{
		Kind:    KindCycleDetected,
		Message: fmt.Sprintf("dependency cycle involving nodes: %v", nodeIDs),
	}
}

// UnknownDependency reports that nodeID depends on an ID that was never declared.
func UnknownDependency(nodeID, dependencyID string) *Error {
	return &Error{
		Kind:    KindUnknownDependency,
		NodeID:  nodeID,
		Message: fmt.Sprintf("depends on undeclared node %q", dependencyID),
	}
}

// InvalidDefinition reports a structural construction error.
func InvalidDefinition(format string, args ...any) *Error {
	return &Error{
		Kind:    KindInvalidDefinition,
		Message: fmt.Sprintf(format, args...),
	}
}

// DependencyFailed reports that nodeID was skipped because failedID failed.
func DependencyFailed(nodeID, failedID string) *Error {
	message := "upstream failure"
	if failedID != "" {
		message = fmt.Sprintf("upstream node %q failed", failedID)
	}
	return &Error{
		Kind:    KindDependencyFailed,
		NodeID:  nodeID,
		Message: message,
	}
}

// Cancelled reports that nodeID (or the run, when empty) was cancelled.
func Cancelled(nodeID string, cause error) *Error {
	return &Error{
		Kind:    KindCancelled,
		NodeID:  nodeID,
		Message: "run cancelled",
		Err:     cause,
	}
}

// ResourceLimitExceeded reports that nodeID tried to write key with a value
// that breaks a size limit. what names the limit, e.g. "value size".
func ResourceLimitExceeded(nodeID, key, what string, size, limit int) *Error {
	return &Error{
		Kind:    KindResourceLimitExceeded,
		NodeID:  nodeID,
		Message: fmt.Sprintf("context key %q: %s %d bytes exceeds limit of %d", key, what, size, limit),
	}
}

// CircuitOpen reports that nodeID was rejected by an open circuit breaker
// that allows a trial again after retryIn.
func CircuitOpen(nodeID string, retryIn time.Duration) *Error {
	return &Error{
		Kind:    KindCircuitOpen,
		NodeID:  nodeID,
		Message: fmt.Sprintf("circuit open, next trial in %s", retryIn.Round(time.Millisecond)),
	}
}

// --- Inspection ---

// KindOf classifies err. Taxonomy errors report their own kind; bare context
// errors map to KindTimeout and KindCancelled; anything else is "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var flowError *Error
	if errors.As(err, &flowError) {
		return flowError.Kind
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return ""
	}
}

// NodeOf returns the node ID attached to err, or "".
func NodeOf(err error) string {
	var flowError *Error
	if errors.As(err, &flowError) {
		return flowError.NodeID
	}
	return ""
}
