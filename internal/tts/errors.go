package tts

import (
	"errors"
	"fmt"
)

// Common TTS errors
var (
	// ErrEmptyText indicates the request carried no speakable text.
	ErrEmptyText = errors.New("text is empty")

	// ErrInvalidText indicates the request text is not valid UTF-8.
	ErrInvalidText = errors.New("text is not valid UTF-8")

	// ErrNoSession indicates a transport command was issued with no session.
	ErrNoSession = errors.New("no active playback session")

	// ErrInvalidTransition indicates a command is not valid in the current state.
	ErrInvalidTransition = errors.New("invalid playback state transition")

	// ErrSeekUnavailable indicates the skip target cannot be reached.
	ErrSeekUnavailable = errors.New("seek target unavailable")

	// ErrUnknownProvider indicates an unknown provider name was configured.
	ErrUnknownProvider = errors.New("unknown synthesis provider")
)

// ErrorCode identifies specific error types.
type ErrorCode string

const (
	// Backend errors
	CodeProcessSpawnFailed     ErrorCode = "PROCESS_SPAWN_FAILED"
	CodeProcessCrashed         ErrorCode = "PROCESS_CRASHED"
	CodeInvalidVoiceConfig     ErrorCode = "INVALID_VOICE_CONFIG"
	CodeNetworkUnavailable     ErrorCode = "NETWORK_UNAVAILABLE"
	CodeAuthenticationRejected ErrorCode = "AUTHENTICATION_REJECTED"
	CodeQuotaExceeded          ErrorCode = "QUOTA_EXCEEDED"
	CodeMalformedResponse      ErrorCode = "MALFORMED_RESPONSE"

	// Pipeline errors
	CodeDecode          ErrorCode = "DECODE_ERROR"
	CodeDevice          ErrorCode = "DEVICE_ERROR"
	CodeSeekUnavailable ErrorCode = "SEEK_UNAVAILABLE"

	// Input and system errors
	CodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	CodeCanceled       ErrorCode = "CANCELED"
	CodeUnknown        ErrorCode = "UNKNOWN"
)

// ErrorClass groups error codes by the policy a caller should apply.
type ErrorClass int

const (
	// ClassConfiguration errors are surfaced immediately and never retried.
	ClassConfiguration ErrorClass = iota
	// ClassTransient errors may succeed if the caller decides to retry.
	ClassTransient
	// ClassFatal errors end the session with no retry suggested.
	ClassFatal
	// ClassDevice errors end the current session only.
	ClassDevice
)

// String returns the string representation of the class.
func (c ErrorClass) String() string {
	switch c {
	case ClassConfiguration:
		return "configuration"
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	case ClassDevice:
		return "device"
	default:
		return "unknown"
	}
}

// Error represents a TTS-specific error with additional context.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new TTS error with context.
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Class returns the handling class for the error code.
func (e *Error) Class() ErrorClass {
	switch e.Code {
	case CodeInvalidVoiceConfig, CodeInvalidRequest, CodeAuthenticationRejected, CodeProcessSpawnFailed:
		return ClassConfiguration
	case CodeNetworkUnavailable, CodeQuotaExceeded, CodeSeekUnavailable, CodeCanceled:
		return ClassTransient
	case CodeDevice:
		return ClassDevice
	default:
		return ClassFatal
	}
}

// IsFatal returns true if the error ends the session with no retry suggested.
func (e *Error) IsFatal() bool {
	return e.Class() == ClassFatal
}

// IsRetryable returns true if the caller may retry the request.
// The core itself never retries.
func (e *Error) IsRetryable() bool {
	return e.Class() == ClassTransient
}

// NeedsCredentials reports whether the UI should prompt for reconfiguration
// of provider credentials.
func (e *Error) NeedsCredentials() bool {
	return e.Code == CodeAuthenticationRejected
}

// AsError extracts a *Error from err, wrapping unknown errors with
// fallback as their code.
func AsError(err error, fallback ErrorCode) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return NewError(fallback, err.Error(), err)
}

// CodeOf returns the error code carried by err, or CodeUnknown.
func CodeOf(err error) ErrorCode {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return CodeUnknown
}
