package models

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrKindNotFound               ErrorKind = "NOT_FOUND"
	ErrKindInvalidTransition      ErrorKind = "INVALID_TRANSITION"
	ErrKindOverSettlement         ErrorKind = "OVER_SETTLEMENT"
	ErrKindDuplicatePrimaryObject ErrorKind = "DUPLICATE_PRIMARY_OBJECT"
	ErrKindCrossTenantAccess      ErrorKind = "CROSS_TENANT_ACCESS"
	ErrKindConcurrencyConflict    ErrorKind = "CONCURRENCY_CONFLICT"
	ErrKindValidation             ErrorKind = "VALIDATION"
)

// Sentinels for errors.Is; an *EngineError matches the sentinel of its kind.
var (
	ErrNotFound               = &EngineError{Kind: ErrKindNotFound}
	ErrInvalidTransition      = &EngineError{Kind: ErrKindInvalidTransition}
	ErrOverSettlement         = &EngineError{Kind: ErrKindOverSettlement}
	ErrDuplicatePrimaryObject = &EngineError{Kind: ErrKindDuplicatePrimaryObject}
	ErrCrossTenantAccess      = &EngineError{Kind: ErrKindCrossTenantAccess}
	ErrConcurrencyConflict    = &EngineError{Kind: ErrKindConcurrencyConflict}
	ErrValidation             = &EngineError{Kind: ErrKindValidation}
)

// EngineError is the structured error every engine operation returns, so callers can
// decide between retrying and showing a message.
type EngineError struct {
	Kind    ErrorKind
	Message string
	ChainId string
	Fields  map[string]string
	Err     error
}

func (e *EngineError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.ChainId != "" {
		msg = fmt.Sprintf("%s (chain=%s)", msg, e.ChainId)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *EngineError) Unwrap() error { return e.Err }

func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func NewEngineError(kind ErrorKind, chainId string, format string, args ...any) *EngineError {
	return &EngineError{Kind: kind, ChainId: chainId, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of an engine error anywhere in err's chain, "" otherwise.
func KindOf(err error) ErrorKind {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}
