package models

import "fmt"

// MissingConfigError indicates a step was declared without a required input
type MissingConfigError struct {
	Key string
}

func (e *MissingConfigError) Error() string {
	return "missing required configuration key: " + e.Key
}

func ErrMissingConfig(key string) error {
	return &MissingConfigError{Key: key}
}

// ExitError indicates a step command terminated with a non-zero exit code.
// The exit code is the job's pass/fail contract: 0 = pass, anything else = fail.
type ExitError struct {
	Command  string
	ExitCode int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
}

// ChangelogMissingError indicates the pull request neither touched the
// changelog file nor carried the exemption label
type ChangelogMissingError struct {
	File        string
	ExemptLabel string
}

func (e *ChangelogMissingError) Error() string {
	return fmt.Sprintf("%s was not modified and label %q is not set", e.File, e.ExemptLabel)
}

// AuthError indicates the forge rejected the token or could not be reached.
// It is deliberately a different type from ChangelogMissingError so callers
// can tell a broken check apart from a failed one.
type AuthError struct {
	Operation  string
	StatusCode int // 0 when the forge was unreachable
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("forge auth failed during %s: status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("forge unreachable during %s: %v", e.Operation, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
