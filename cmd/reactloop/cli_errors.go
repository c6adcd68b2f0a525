// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jllopis/reactloop/pkg/errors"
)

// CLIError wraps a typed error with a hint for the user.
type CLIError struct {
	Err  *errors.Error
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(e *errors.Error, hint string) *CLIError {
	return &CLIError{Err: e, Hint: hint}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.Err == nil {
		return "unknown error"
	}
	msg := e.Err.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the typed error.
func (e *CLIError) Unwrap() error {
	if e.Err == nil {
		return nil
	}
	return e.Err
}

// PrintError prints the error to stderr.
func (e *CLIError) PrintError(asJSON bool) {
	if asJSON {
		payload, _ := json.Marshal(map[string]any{
			"error": map[string]string{
				"code":    string(e.Err.Code),
				"message": e.Err.Error(),
				"hint":    e.Hint,
			},
		})
		fmt.Fprintln(os.Stderr, string(payload))
		return
	}

	fmt.Fprintf(os.Stderr, "Error [%s]: %s\n", e.Err.Code, e.Err.Error())
	if e.Hint != "" {
		fmt.Fprintf(os.Stderr, "  Hint: %s\n", e.Hint)
	}
}

// NewNotFoundError creates a not found error with CLI hints.
func NewNotFoundError(resource, name string, cause error) *CLIError {
	e := errors.New(errors.CodeInvalidInput, fmt.Sprintf("%s '%s' not found", resource, name), cause).
		WithContext("resource", resource).
		WithContext("name", name)
	return NewCLIError(e, fmt.Sprintf("run 'reactloop %ss list' to see what is available", resource))
}

// NewInvalidArgumentError creates an invalid argument error with CLI hints.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid argument: %s", reason), nil).
		WithContext("argument", arg)
	return NewCLIError(e, "run 'reactloop help' for usage information")
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath)

	hint := "check your --set overrides and REACTLOOP_* variables"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(e, hint)
}

// NewPersistenceError wraps a failure of the audit database.
func NewPersistenceError(err error, path string) *CLIError {
	e := errors.New(errors.CodeInternal, "audit store unavailable", err).
		WithContext("sqlite_path", path)
	hint := "set audit.sqlite_path to enable the transcript archive"
	if path != "" {
		hint = fmt.Sprintf("check that %s is a writable sqlite database", path)
	}
	return NewCLIError(e, hint)
}

// WrapRunError converts a failed run into a CLI error.
func WrapRunError(err error) *CLIError {
	e := errors.AsError(err)
	hint := ""
	switch e.Code {
	case errors.CodeLLMError, errors.CodeTimeout:
		hint = "check that the LLM provider is reachable at llm.base_url"
	case errors.CodeMalformedPlan:
		hint = "the model produced an unusable plan; retry or use --mode sequential"
	}
	return NewCLIError(e, hint)
}
