package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// NoEnclosingRule indicates a variable was resolved outside of any rule body
	NoEnclosingRule ErrorCode = "NO_ENCLOSING_RULE"
	// NotFound indicates definition lookup found no candidate
	NotFound ErrorCode = "NOT_FOUND"
	// NoReferencesFound indicates the reference scan matched nothing
	NoReferencesFound ErrorCode = "NO_REFERENCES_FOUND"
	// InstallationFailed indicates the runtime environment was not produced
	InstallationFailed ErrorCode = "INSTALLATION_FAILED"
	// ServerUnreachable indicates the companion never opened its port
	ServerUnreachable ErrorCode = "SERVER_UNREACHABLE"
	// InvalidPosition indicates a position outside of the document
	InvalidPosition ErrorCode = "INVALID_POSITION"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// OpenDocs suggests opening documentation
	OpenDocs FixActionType = "open-docs"
	// InstallTool suggests installing a tool
	InstallTool FixActionType = "install-tool"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Safe        bool          `json:"safe,omitempty"`
	Description string        `json:"description,omitempty"`
	URL         string        `json:"url,omitempty"`
	Tool        string        `json:"tool,omitempty"`
}

// Error is a coded error with an optional cause and suggested fixes.
type Error struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// NewError creates a new coded error. Suggested fixes are filled in from
// ErrorActions for the code.
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: GetSuggestedFixes(code),
	}
}

// Errorf is NewError with a formatted message and no cause.
func Errorf(code ErrorCode, format string, args ...interface{}) *Error {
	return NewError(code, fmt.Sprintf(format, args...), nil)
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or "" when
// there is none.
func CodeOf(err error) ErrorCode {
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	InstallationFailed: {
		{
			Type:        InstallTool,
			Tool:        "python3",
			Description: "Install Python 3 with the venv module",
			URL:         "https://www.python.org/downloads/",
		},
		{
			Type:        RunCommand,
			Command:     "yarals install --force",
			Safe:        true,
			Description: "Rebuild the companion environment",
		},
	},
	ServerUnreachable: {
		{
			Type:        RunCommand,
			Command:     "yarals status",
			Safe:        true,
			Description: "Check installation and port state",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
