package sim

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind tags a simulation-facing error so it can cross the server boundary
// and the WebSocket bridge as a value.
type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindInvalidReference   ErrorKind = "InvalidReference"
	KindReadOnlyViolation  ErrorKind = "ReadOnlyViolation"
	KindMultiSetFailure    ErrorKind = "MultiSetFailure"
	KindServerShuttingDown ErrorKind = "ServerShuttingDown"
	KindInternal           ErrorKind = "Internal"
)

// Construction-time errors. They indicate a misconfigured graph and are never
// retried.
var (
	ErrDuplicateObject          = errors.New("object name already used")
	ErrSteppingStarted          = errors.New("simulation has started stepping")
	ErrDuplicateReference       = errors.New("reference name already registered")
	ErrMissingExternalReference = errors.New("required external reference not mapped")
	ErrUnknownExternalReference = errors.New("external reference not declared by object kind")
	ErrUnresolvedReference      = errors.New("reference target does not exist")
	ErrNotWired                 = errors.New("object external references not resolved")
)

// ErrServerShuttingDown is returned for any request submitted after STOP was
// initiated and for any queued request the worker had not started.
var ErrServerShuttingDown = errors.New("server shutting down")

// InvalidReferenceError reports one or more unknown dotted reference names.
type InvalidReferenceError struct {
	Names []string
}

func (e *InvalidReferenceError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("invalid reference %q", e.Names[0])
	}
	return fmt.Sprintf("invalid references: %s", strings.Join(e.Names, ", "))
}

func (e *InvalidReferenceError) Kind() ErrorKind { return KindInvalidReference }

// ReadOnlyViolationError reports a write against a read-only reference.
type ReadOnlyViolationError struct {
	Name string
}

func (e *ReadOnlyViolationError) Error() string {
	return fmt.Sprintf("reference %q is read-only", e.Name)
}

func (e *ReadOnlyViolationError) Kind() ErrorKind { return KindReadOnlyViolation }

// SetFailure is one failed assignment inside a batch write.
type SetFailure struct {
	Name   string    `json:"name"`
	Reason ErrorKind `json:"reason"`
}

// MultiSetFailureError reports every failed assignment of a batch write.
// Assignments that succeeded in the same batch are not rolled back.
type MultiSetFailureError struct {
	Failures []SetFailure
}

func (e *MultiSetFailureError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s (%s)", f.Name, f.Reason)
	}
	return fmt.Sprintf("%d assignment(s) failed: %s", len(e.Failures), strings.Join(parts, ", "))
}

func (e *MultiSetFailureError) Kind() ErrorKind { return KindMultiSetFailure }

// KindOf returns the tag of a simulation-facing error, KindNone for nil and
// KindInternal for anything outside the taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, ErrServerShuttingDown) {
		return KindServerShuttingDown
	}
	var tagged interface{ Kind() ErrorKind }
	if errors.As(err, &tagged) {
		return tagged.Kind()
	}
	return KindInternal
}
