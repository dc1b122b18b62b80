// Package engine implements the resource lifecycle reconciliation engine for
// the Loomview spatial content browser. It converges the set of live renderer
// resources toward per-node desired tiers in a strict two-phase, once-per-frame
// execution model: Phase 1 reduces external intents into desired state, Phase 2
// reconciles runtime reality against it.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and
// recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a creation failure that may succeed on
	// retry after backoff.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassTerminal indicates a creation failure past the retry cap;
	// recovered only by an explicit external retry intent.
	ErrorClassTerminal ErrorClass = "terminal"

	// ErrorClassCaller indicates a caller ordering bug, such as an intent
	// for an unknown node. Surfaced as a value, never fatal to the frame.
	ErrorClassCaller ErrorClass = "caller"

	// ErrorClassCapacity indicates a soft-bound overflow: every eviction
	// candidate was pinned. Logged, not fatal.
	ErrorClassCapacity ErrorClass = "capacity"

	// ErrorClassPermanent indicates a non-recoverable internal error.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with node context.
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// NodeID is the node the error concerns, if applicable.
	NodeID NodeID `json:"node_id,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.NodeID != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (node=%s, operation=%s): %s",
			e.Class, e.Message, e.NodeID, e.Operation, e.unwrapMessage())
	}
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] %s (node=%s): %s",
			e.Class, e.Message, e.NodeID, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewCreationError creates a transient, retryable creation error.
func NewCreationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Code:    ErrCodeCreationFailed,
		Err:     err,
	}
}

// NewTerminalCreationError creates a terminal creation failure.
func NewTerminalCreationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTerminal,
		Message: message,
		Code:    ErrCodeRetryExhausted,
		Err:     err,
	}
}

// NewUnknownNodeError creates a caller error for an intent targeting a node
// with no lifecycle record.
func NewUnknownNodeError(nodeID NodeID) *EngineError {
	return &EngineError{
		Class:   ErrorClassCaller,
		Message: "no lifecycle record for node",
		Code:    ErrCodeUnknownNode,
		NodeID:  nodeID,
	}
}

// NewCapacityPinnedError creates a soft-bound overflow error for a tier whose
// eviction candidates are all pinned.
func NewCapacityPinnedError(tier Tier) *EngineError {
	return &EngineError{
		Class:   ErrorClassCapacity,
		Message: fmt.Sprintf("%s tier over capacity with all members pinned", tier),
		Code:    ErrCodeCapacityFullyPinned,
	}
}

// NewValidationError creates a permanent validation error.
func NewValidationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Code:    ErrCodeValidation,
		Err:     err,
	}
}

// NewInternalError creates a permanent internal error.
func NewInternalError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Code:    ErrCodeInternal,
		Err:     err,
	}
}

// WithNode adds node context to an error.
func (e *EngineError) WithNode(nodeID NodeID) *EngineError {
	e.NodeID = nodeID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// IsUnknownNode returns true if the error reports a missing lifecycle record.
func IsUnknownNode(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code == ErrCodeUnknownNode
	}
	return false
}

// IsRetryable returns true if the error is a transient creation failure.
func IsRetryable(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsTerminalFailure returns true if the error reports an exhausted retry cap.
func IsTerminalFailure(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTerminal
	}
	return false
}

// IsCapacityPinned returns true if the error reports a fully pinned tier.
func IsCapacityPinned(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code == ErrCodeCapacityFullyPinned
	}
	return false
}

// Common error codes.
const (
	ErrCodeUnknownNode         = "UNKNOWN_NODE"
	ErrCodeCreationFailed      = "CREATION_FAILED"
	ErrCodeRetryExhausted      = "RETRY_EXHAUSTED"
	ErrCodeCapacityFullyPinned = "CAPACITY_FULLY_PINNED"
	ErrCodeMappingConflict     = "MAPPING_CONFLICT"
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeInternal            = "INTERNAL_ERROR"
)
