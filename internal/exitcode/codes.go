// Package exitcode defines structured exit codes for ptywatch commands.
// These codes let scripts and operators handle specific failure modes
// programmatically without parsing error messages.
//
// # Exit Code Ranges
//
// Codes are grouped by category:
//   - 0: Success
//   - 1-9: General errors (usage, internal)
//   - 10-19: Missing resources (enumeration primitive, daemon, cache)
//   - 20-29: Permission/access errors
//   - 40-49: Timeout errors
//   - 50-59: Conflict/state errors
//
// # Usage
//
// Create errors with specific codes:
//
//	return exitcode.AlreadyRunning(pid)                  // Exit code 51
//	return exitcode.Newf(exitcode.ErrUsage, "bad flag %q", f)
//
// Extract codes from errors (works with wrapped errors):
//
//	code := exitcode.Code(err) // ErrGeneral for non-coded errors
package exitcode

import (
	"errors"
	"fmt"
)

// Exit codes for ptywatch commands.
const (
	// Success indicates the command completed successfully.
	Success = 0

	// General errors (1-9)
	ErrGeneral  = 1 // General/unknown error
	ErrUsage    = 2 // Invalid arguments or usage
	ErrInternal = 3 // Internal error (bug)

	// Missing resources (10-19)
	ErrEnumeration = 10 // PTY enumeration failed (lsof missing/broken)
	ErrNotRunning  = 11 // Daemon is not running
	ErrCacheMiss   = 13 // No usable snapshot cache

	// Permission/access errors (20-29)
	ErrPermission = 20 // Permission denied

	// Timeout errors (40-49)
	ErrTimeout = 40 // Operation timed out

	// Conflict/state errors (50-59)
	ErrAlreadyRunning = 51 // Daemon already running
	ErrPartial        = 52 // Remediation completed with per-candidate failures
)

// Error wraps an error with a specific exit code.
type Error struct {
	Code    int
	Message string
	Cause   error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new coded error.
func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new coded error with printf-style formatting.
func Newf(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code int, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Code extracts the exit code from an error.
// Returns ErrGeneral (1) if the error doesn't carry a code.
func Code(err error) int {
	if err == nil {
		return Success
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ErrGeneral
}

// Is checks if an error has a specific exit code.
func Is(err error, code int) bool {
	return Code(err) == code
}

// Convenience constructors for ptywatch's error taxonomy.

// EnumerationFailed wraps a failed PTY enumeration.
func EnumerationFailed(cause error) *Error {
	return Wrap(ErrEnumeration, "PTY enumeration failed", cause)
}

// AlreadyRunning reports a daemon lifecycle conflict.
func AlreadyRunning(pid int) *Error {
	return Newf(ErrAlreadyRunning, "daemon already running (PID %d)", pid)
}

// NotRunning reports that no daemon is running.
func NotRunning() *Error {
	return New(ErrNotRunning, "daemon is not running")
}

// CacheMiss reports an absent or unusable snapshot cache.
func CacheMiss(cause error) *Error {
	return Wrap(ErrCacheMiss, "no snapshot cache", cause)
}

// PartialFailure reports remediation that killed some candidates but not all.
func PartialFailure(failed int) *Error {
	return Newf(ErrPartial, "%d candidate(s) could not be terminated", failed)
}

// Timeout returns a timeout error.
func Timeout(operation string) *Error {
	return Newf(ErrTimeout, "operation timed out: %s", operation)
}
