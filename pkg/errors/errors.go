// Package errors defines custom error types for the PulsePoint fsmonitor
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ProtocolError indicates the client violated the fswatch protocol
	ProtocolError ErrorType = "protocol"
	// WatchError indicates the filesystem backend could not establish a watch
	WatchError ErrorType = "watch"
	// ConfigError indicates configuration issues
	ConfigError ErrorType = "config"
	// JournalError indicates the diagnostic journal could not be read or written
	JournalError ErrorType = "journal"
	// FaultError indicates an unhandled failure inside a background task
	FaultError ErrorType = "fault"
)

// FsmonError is the base error type for all fsmonitor errors
type FsmonError struct {
	Type    ErrorType
	Message string
	Err     error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *FsmonError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *FsmonError) Unwrap() error {
	return e.Err
}

// WithContext adds context to the error
func (e *FsmonError) WithContext(key string, value interface{}) *FsmonError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new FsmonError
func New(errType ErrorType, message string, err error) *FsmonError {
	return &FsmonError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// TypeOf returns the ErrorType of err, or "" when err is not an FsmonError
func TypeOf(err error) ErrorType {
	var fe *FsmonError
	if stderrors.As(err, &fe) {
		return fe.Type
	}
	return ""
}

// IsProtocolError checks if the error is a protocol violation
func IsProtocolError(err error) bool {
	return TypeOf(err) == ProtocolError
}

// IsWatchError checks if the error is a watch setup failure
func IsWatchError(err error) bool {
	return TypeOf(err) == WatchError
}

// IsConfigError checks if the error is a configuration error
func IsConfigError(err error) bool {
	return TypeOf(err) == ConfigError
}

// IsJournalError checks if the error is a journal error
func IsJournalError(err error) bool {
	return TypeOf(err) == JournalError
}

// IsFaultError checks if the error is a background fault
func IsFaultError(err error) bool {
	return TypeOf(err) == FaultError
}

// Constructor functions for each error type

// NewProtocolError creates a new protocol violation error
func NewProtocolError(message string) *FsmonError {
	return New(ProtocolError, message, nil)
}

// NewWatchSetupError creates a new watch setup error
func NewWatchSetupError(message string, err error) *FsmonError {
	return New(WatchError, message, err)
}

// NewConfigError creates a new configuration error
func NewConfigError(message string, err error) *FsmonError {
	return New(ConfigError, message, err)
}

// NewJournalError creates a new journal error
func NewJournalError(message string, err error) *FsmonError {
	return New(JournalError, message, err)
}

// NewFaultError creates a new background fault error
func NewFaultError(message string, err error) *FsmonError {
	return New(FaultError, message, err)
}

// ClientMessage returns the text sent to the client in an ERROR reply
func ClientMessage(err error) string {
	var fe *FsmonError
	if !stderrors.As(err, &fe) {
		return err.Error()
	}
	if fe.Err != nil {
		return fmt.Sprintf("%s: %v", fe.Message, fe.Err)
	}
	return fe.Message
}

// As is errors.As re-exported so callers need not import both packages
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
