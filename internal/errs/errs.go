// Package errs defines the single error type carried by every failure in
// the archiver pipeline, so the stage engine can dispatch retry policy
// purely on Kind.
package errs

import "fmt"

// Kind classifies a failure for retry/propagation purposes (spec §7).
type Kind string

const (
	// KindConfiguration marks invalid or missing configuration. Not retryable.
	KindConfiguration Kind = "configuration"
	// KindLockHeld marks a failed lock acquisition. Not retryable.
	KindLockHeld Kind = "lock-held"
	// KindConfigurationStore marks a configuration-store adapter failure. Retryable.
	KindConfigurationStore Kind = "configuration-store"
	// KindArchiveStore marks an archive-store adapter failure. Retryable.
	KindArchiveStore Kind = "archive-store"
	// KindFCLPreparation marks a conversion/generation failure. Retryable.
	KindFCLPreparation Kind = "fcl-preparation"
	// KindBlobCreation marks a packing/unpacking failure. Retryable.
	KindBlobCreation Kind = "blob-creation"
	// KindVerification marks an MD5 mismatch after upload. Retryable.
	KindVerification Kind = "verification"
	// KindReporting marks a failed notification delivery. Not retryable, swallowed.
	KindReporting Kind = "reporting"
	// KindPermanentSkip is injected by fuzz mode only. Not retryable.
	KindPermanentSkip Kind = "permanent-skip"
)

// Retryable reports whether the stage engine's retry loop should retry an
// error of this kind (spec §7's table).
func (k Kind) Retryable() bool {
	switch k {
	case KindConfigurationStore, KindArchiveStore, KindFCLPreparation, KindBlobCreation, KindVerification:
		return true
	default:
		return false
	}
}

// Fatal reports whether the dispatcher must abort immediately rather than
// record a per-run failure.
func (k Kind) Fatal() bool {
	return k == KindConfiguration || k == KindLockHeld
}

// Error is the structured error type raised by every component. Stage and
// RunNumber are optional diagnostic context; Fields carries arbitrary
// key/value pairs (URI, file path, status code, ...).
type Error struct {
	Kind      Kind
	Stage     string
	RunNumber int
	Message   string
	Fields    map[string]any
	Cause     error
}

// New constructs an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithStage sets the stage name and returns the receiver for chaining.
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// WithRun sets the run number and returns the receiver for chaining.
func (e *Error) WithRun(run int) *Error {
	e.RunNumber = run
	return e
}

// WithField attaches a diagnostic key/value pair and returns the receiver.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any, 1)
	}
	e.Fields[key] = value
	return e
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s]", e.Kind)
	if e.Stage != "" {
		msg += fmt.Sprintf(" stage=%s", e.Stage)
	}
	if e.RunNumber != 0 {
		msg += fmt.Sprintf(" run=%d", e.RunNumber)
	}
	msg += ": " + e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap allows errors.Is/errors.As to see through to Cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// As returns the *Error that err is (or wraps); returns (nil, false)
// otherwise.
func As(err error) (*Error, bool) {
	var target *Error
	if e, ok := err.(*Error); ok {
		return e, true
	}
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return target, false
		}
		err = u.Unwrap()
		if e, ok := err.(*Error); ok {
			return e, true
		}
		if err == nil {
			return target, false
		}
	}
}
