// Package types holds the small set of types shared across the session,
// executor, and server layers.
package types

// ExecutionResult is the outcome of running a chunk of agent code.
//
// User-code failures are reported through Error, never as a Go error: a
// caller of Session.Run or Executor.Run only sees a Go error for transport
// or lifecycle problems.
type ExecutionResult struct {
	// Value is the JSON-safe projection of the trailing expression of the
	// executed code, or nil when the code ended in a statement.
	Value any `json:"value"`

	// Stdout is everything the code printed during the run.
	Stdout string `json:"stdout"`

	// Error is the failure message, empty on success. Always serialized so
	// clients can key on the field.
	Error string `json:"error"`

	// ElapsedMS is the wall-clock duration of the run in milliseconds.
	ElapsedMS int64 `json:"execution_time_ms"`
}

// Success reports whether the execution completed without error.
func (r *ExecutionResult) Success() bool {
	return r.Error == ""
}

// InstallResult reports the outcome of a dependency install operation.
type InstallResult struct {
	Installed      []string `json:"installed"`
	AlreadyPresent []string `json:"already_present"`
	Failed         []string `json:"failed"`
}

// UninstallResult reports the outcome of a dependency uninstall operation.
type UninstallResult struct {
	Removed  []string `json:"removed"`
	NotFound []string `json:"not_found"`
	Failed   []string `json:"failed"`
}
