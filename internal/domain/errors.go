package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound means the date or id has no data. Terminal for that item.
	ErrNotFound = errors.New("not found")
	// ErrConfigurationMissing means a guild has no channel to post to.
	ErrConfigurationMissing = errors.New("guild configuration missing")
)

// TransientError is a network or rate-limit failure worth retrying.
type TransientError struct {
	Op  string
	Err error
	// Hint from the upstream (Retry-After); zero when absent.
	After time.Duration
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RetryAfter lets retry policies honor an upstream hint.
func (e *TransientError) RetryAfter() time.Duration { return e.After }

// PermanentError is a failure that will not go away by retrying.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// LLMError covers quota, timeout and malformed-response failures from a provider.
type LLMError struct {
	Provider string
	Err      error
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Provider, e.Err)
}

func (e *LLMError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsLLM(err error) bool {
	var le *LLMError
	return errors.As(err, &le)
}
