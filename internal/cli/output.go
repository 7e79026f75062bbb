package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/cardlog/internal/engine"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Rejected write, failed scenario, snapshot mismatch
	ExitCommandError = 2 // Bad arguments, unreadable data directory
	ExitRefused      = 3 // Restore of a completed game
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int    // Exit code
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Diagnostic output, kept off Writer so JSON stays clean
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // engine code or "E_COMMAND"
	Key     string `json:"key,omitempty"`     // stable message key
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// JSON reports whether output is machine readable.
func (f *OutputFormatter) JSON() bool {
	return f.Format == "json"
}

// Success outputs data. In text mode text is printed instead, if given;
// otherwise data is printed with its default format.
func (f *OutputFormatter) Success(data any, text ...string) error {
	if f.JSON() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}
	if len(text) > 0 {
		for _, line := range text {
			fmt.Fprintln(f.Writer, line)
		}
		return nil
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	return f.write(CLIError{Code: code, Message: message, Details: details})
}

func (f *OutputFormatter) write(e CLIError) error {
	if f.JSON() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &e,
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", e.Code, e.Message)
	if f.Verbose && e.Details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", e.Details)
	}
	return nil
}

// Fail reports err and returns the ExitError the command should return.
// Engine errors keep their code; a refused restore gets its own exit code.
func (f *OutputFormatter) Fail(message string, err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		_ = f.Error("E_COMMAND", exitErr.Error(), nil)
		return exitErr
	}

	var engErr *engine.Error
	if errors.As(err, &engErr) {
		var details any
		if engErr.Err != nil {
			details = engErr.Err.Error()
		}
		_ = f.write(CLIError{
			Code:    string(engErr.Code),
			Key:     engErr.Key,
			Message: engErr.Message,
			Details: details,
		})
		code := ExitFailure
		if engErr.Code == engine.ErrCodeRestoreRefused {
			code = ExitRefused
		}
		return WrapExitError(code, message, err)
	}

	_ = f.Error("E_COMMAND", fmt.Sprintf("%s: %v", message, err), nil)
	return WrapExitError(ExitCommandError, message, err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
