// Package errors provides the host-scoped error taxonomy for fleetdeploy.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents the classification of errors
type ErrorType int

const (
	// SetupErrorType represents configuration, validation, or initialization errors
	SetupErrorType ErrorType = iota

	// DiscoveryErrorType represents liveness probe failures (never fatal)
	DiscoveryErrorType

	// ConnectionErrorType represents session establishment failures
	ConnectionErrorType

	// LocalPathErrorType represents a missing or unreadable local source directory
	LocalPathErrorType

	// RemoteExecutionErrorType represents a remote command that wrote to its error stream
	RemoteExecutionErrorType

	// WorkflowErrorType represents any other failure caught at the workflow boundary
	WorkflowErrorType
)

// String returns a string representation of the error type
func (et ErrorType) String() string {
	switch et {
	case SetupErrorType:
		return "setup"
	case DiscoveryErrorType:
		return "discovery"
	case ConnectionErrorType:
		return "connection"
	case LocalPathErrorType:
		return "local-path"
	case RemoteExecutionErrorType:
		return "remote-execution"
	case WorkflowErrorType:
		return "workflow"
	default:
		return "unknown"
	}
}

// DeployError wraps an error with its classification and the host it belongs to.
type DeployError struct {
	Type ErrorType
	Host string // empty for run-wide errors
	Op   string // operation that failed, e.g. "connect", "upload a.sh"
	Err  error
}

// Error implements the error interface
func (e *DeployError) Error() string {
	var b strings.Builder
	if e.Host != "" {
		b.WriteString(e.Host)
		b.WriteString(": ")
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		if e.Err != nil {
			b.WriteString(": ")
		}
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	}
	if b.Len() == 0 {
		return e.Type.String() + " error"
	}
	return b.String()
}

// Detail returns the message without the host prefix
func (e *DeployError) Detail() string {
	if e.Host == "" {
		return e.Error()
	}
	return strings.TrimPrefix(e.Error(), e.Host+": ")
}

// Unwrap returns the original error for error unwrapping
func (e *DeployError) Unwrap() error {
	return e.Err
}

// NewSetupError creates a new setup error
func NewSetupError(op string, err error) *DeployError {
	return &DeployError{Type: SetupErrorType, Op: op, Err: err}
}

// NewDiscoveryError creates a new discovery error
func NewDiscoveryError(host, op string, err error) *DeployError {
	return &DeployError{Type: DiscoveryErrorType, Host: host, Op: op, Err: err}
}

// NewConnectionError creates a new connection error
func NewConnectionError(host string, err error) *DeployError {
	return &DeployError{Type: ConnectionErrorType, Host: host, Op: "connect", Err: err}
}

// NewLocalPathError creates a new local path error
func NewLocalPathError(host, path string, err error) *DeployError {
	return &DeployError{Type: LocalPathErrorType, Host: host, Op: fmt.Sprintf("local directory %q", path), Err: err}
}

// NewRemoteExecutionError creates a new remote execution error carrying the captured error stream
func NewRemoteExecutionError(host, stderr string) *DeployError {
	return &DeployError{Type: RemoteExecutionErrorType, Host: host, Op: "script error", Err: errors.New(stderr)}
}

// NewWorkflowError creates a new workflow boundary error
func NewWorkflowError(host string, err error) *DeployError {
	return &DeployError{Type: WorkflowErrorType, Host: host, Err: err}
}

// TypeOf returns the classification of err. Unclassified errors are workflow errors.
func TypeOf(err error) ErrorType {
	var de *DeployError
	if errors.As(err, &de) {
		return de.Type
	}
	return WorkflowErrorType
}

// IsConnection reports whether err is a session establishment failure
func IsConnection(err error) bool {
	return err != nil && TypeOf(err) == ConnectionErrorType
}

// IsLocalPath reports whether err is a local source directory failure
func IsLocalPath(err error) bool {
	return err != nil && TypeOf(err) == LocalPathErrorType
}

// IsRemoteExecution reports whether err is a non-empty remote error stream
func IsRemoteExecution(err error) bool {
	return err != nil && TypeOf(err) == RemoteExecutionErrorType
}

// ErrorCollector collects and categorizes multiple errors. It is not safe for
// concurrent use; the coordinator feeds it from a single goroutine.
type ErrorCollector struct {
	errors map[ErrorType][]error
	count  int
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		errors: make(map[ErrorType][]error),
	}
}

// Add adds an error to the collector
func (ec *ErrorCollector) Add(err error) {
	if err == nil {
		return
	}
	t := TypeOf(err)
	ec.errors[t] = append(ec.errors[t], err)
	ec.count++
}

// Count returns the total number of errors
func (ec *ErrorCollector) Count() int {
	return ec.count
}

// CountByType returns the number of errors of a specific type
func (ec *ErrorCollector) CountByType(errorType ErrorType) int {
	return len(ec.errors[errorType])
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	return ec.count > 0
}

// Summary returns a summary of all collected errors, ordered by type
func (ec *ErrorCollector) Summary() string {
	if ec.count == 0 {
		return "no errors"
	}

	types := make([]int, 0, len(ec.errors))
	for t := range ec.errors {
		types = append(types, int(t))
	}
	sort.Ints(types)

	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, fmt.Sprintf("%d %s", len(ec.errors[ErrorType(t)]), ErrorType(t).String()))
	}

	return fmt.Sprintf("total: %d errors (%s)", ec.count, strings.Join(parts, ", "))
}
