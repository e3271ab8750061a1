// Package errs defines the typed failure kinds that can cross a compiler
// stage boundary. Every error aborts the whole compilation (spec.md §7);
// none of these are used for in-package control flow.
package errs

import "fmt"

// SyntaxError is passed through from the front end: the TPL did not parse.
type SyntaxError struct {
	Message string
	Span    string // TPL source span, when known
}

func (e *SyntaxError) Error() string {
	if e.Span != "" {
		return fmt.Sprintf("syntax error at %s: %s", e.Span, e.Message)
	}
	return fmt.Sprintf("syntax error: %s", e.Message)
}

// NewSyntaxError builds a SyntaxError with an optional source span.
func NewSyntaxError(span, message string) *SyntaxError {
	return &SyntaxError{Message: message, Span: span}
}

// StructureError reports an AST that violated an axis-tree invariant, e.g.
// attaching a child to an Aggregate leaf (spec.md §3.1).
type StructureError struct {
	Message string
	Path    string // tree path of the offending fragment, when known
}

func (e *StructureError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("structure error at %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("structure error: %s", e.Message)
}

// NewStructureError builds a StructureError.
func NewStructureError(path, message string) *StructureError {
	return &StructureError{Message: message, Path: path}
}

// DimensionError reports a dimension definition that could not be parsed
// for SQL translation (spec.md §4.2). Percentile partitioning is disabled
// for that dimension as a consequence, not a separate failure.
type DimensionError struct {
	Dimension string
	Message   string
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension %q: %s", e.Dimension, e.Message)
}

// NewDimensionError builds a DimensionError.
func NewDimensionError(dimension, message string) *DimensionError {
	return &DimensionError{Dimension: dimension, Message: message}
}

// ValidationError reports raw SQL that would corrupt the HQL string
// literal it is spliced into, or a percentage scope that cannot be
// resolved (spec.md §7, §9 Open Questions).
type ValidationError struct {
	Message string
	Token   string // the offending token sequence, when known
}

func (e *ValidationError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("validation error: %s (near %q)", e.Message, e.Token)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// NewValidationError builds a ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// NewValidationErrorToken builds a ValidationError that names the
// offending token sequence.
func NewValidationErrorToken(message, token string) *ValidationError {
	return &ValidationError{Message: message, Token: token}
}

// ExecutorError is passed through from the query executor: a query
// failed during execution.
type ExecutorError struct {
	QueryID string
	Message string
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("executor error for query %s: %s", e.QueryID, e.Message)
}

// NewExecutorError builds an ExecutorError.
func NewExecutorError(queryID, message string) *ExecutorError {
	return &ExecutorError{QueryID: queryID, Message: message}
}

// InternalError reports an invariant violation discovered at runtime,
// e.g. a tree path that maps to no query (spec.md §7).
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %s", e.Message)
}

// NewInternalError builds an InternalError.
func NewInternalError(message string) *InternalError {
	return &InternalError{Message: message}
}

// NewInternalErrorf builds an InternalError from a format string.
func NewInternalErrorf(format string, args ...any) *InternalError {
	return &InternalError{Message: fmt.Sprintf(format, args...)}
}
