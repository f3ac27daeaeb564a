// Package drifterr defines the classified error taxonomy shared by the
// planner, executor, state store, and reflective codec.
package drifterr

import (
	"errors"
	"fmt"
)

// Kind classifies a DriftError into one of the engine's stable error
// categories. Callers branch on Kind rather than matching message text.
type Kind string

const (
	// KindValidation covers a missing dependency found by the planner, or
	// a missing/unresolvable type tag or constructor found by the codec.
	// Fatal to the current operation; never retried.
	KindValidation Kind = "validation"

	// KindResourceNotFound covers a provider Read call that cannot find
	// the external object. Expected during diffing; fatal only when it
	// occurs during the executor's read-only prepass.
	KindResourceNotFound Kind = "resource_not_found"

	// KindProviderNotFound covers no provider in a stack claiming a
	// resource. Fatal to the whole run, propagated up rather than
	// recorded as a per-operation failure.
	KindProviderNotFound Kind = "provider_not_found"

	// KindState covers a state store load/save/lock failure. Fatal; no
	// state is persisted.
	KindState Kind = "state"

	// KindProvider is a generic failure inside a provider's create,
	// update, or delete. Recorded as a per-operation failure; execution
	// continues for the remaining operations but the overall run fails.
	KindProvider Kind = "provider"
)

// Continuable reports whether the executor may keep processing later
// operations after an error of this kind. Only KindProvider is
// continuable; everything else aborts the run immediately.
func (k Kind) Continuable() bool {
	return k == KindProvider
}

// DriftError is the concrete error type returned across the engine. It
// carries enough context for a CLI to print a useful diagnostic without
// string-matching the message.
type DriftError struct {
	Kind      Kind
	Message   string
	Resource  string
	Operation string
	Err       error
	Details   map[string]any
}

// Error implements the error interface.
func (e *DriftError) Error() string {
	switch {
	case e.Resource != "" && e.Operation != "":
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s): %s",
			e.Kind, e.Message, e.Resource, e.Operation, e.unwrapMessage())
	case e.Resource != "":
		return fmt.Sprintf("[%s] %s (resource=%s): %s", e.Kind, e.Message, e.Resource, e.unwrapMessage())
	default:
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Message, e.unwrapMessage())
	}
}

func (e *DriftError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Unwrap supports errors.Is / errors.As over the wrapped cause.
func (e *DriftError) Unwrap() error {
	return e.Err
}

// Is matches two DriftErrors by Kind, so errors.Is(err, &DriftError{Kind: KindState}) works.
func (e *DriftError) Is(target error) bool {
	t, ok := target.(*DriftError)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, message string, err error) *DriftError {
	return &DriftError{Kind: kind, Message: message, Err: err}
}

// NewValidation constructs a KindValidation error.
func NewValidation(message string, err error) *DriftError { return newError(KindValidation, message, err) }

// NewResourceNotFound constructs a KindResourceNotFound error.
func NewResourceNotFound(message string, err error) *DriftError {
	return newError(KindResourceNotFound, message, err)
}

// NewProviderNotFound constructs a KindProviderNotFound error.
func NewProviderNotFound(message string, err error) *DriftError {
	return newError(KindProviderNotFound, message, err)
}

// NewState constructs a KindState error.
func NewState(message string, err error) *DriftError { return newError(KindState, message, err) }

// NewProvider constructs a KindProvider error.
func NewProvider(message string, err error) *DriftError { return newError(KindProvider, message, err) }

// WithResource attaches the resource id that triggered the error.
func (e *DriftError) WithResource(id string) *DriftError {
	e.Resource = id
	return e
}

// WithOperation attaches the operation name (create/read/update/delete) in progress.
func (e *DriftError) WithOperation(op string) *DriftError {
	e.Operation = op
	return e
}

// WithDetail attaches a single key/value of additional diagnostic context.
func (e *DriftError) WithDetail(key string, value any) *DriftError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Is reports whether err is a DriftError of the given kind.
func Is(err error, kind Kind) bool {
	var e *DriftError
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsFatal reports whether err must abort the run rather than be recorded
// as a per-operation failure and continued past.
func IsFatal(err error) bool {
	var e *DriftError
	if errors.As(err, &e) {
		return !e.Kind.Continuable()
	}
	// Unclassified errors are treated as fatal: the executor should never
	// silently continue past an error it doesn't understand.
	return err != nil
}
