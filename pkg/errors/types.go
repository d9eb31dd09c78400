// Copyright 2026 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"fmt"
	"net/http"
	"time"
)

// ValidationError represents input validation failures.
// Use this for malformed manifests, design IR constraint violations,
// or invalid run parameters.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ErrorType implements ErrorClassifier.
func (e *ValidationError) ErrorType() string { return "validation" }

// IsRetryable implements ErrorClassifier. Bad input never succeeds on retry.
func (e *ValidationError) IsRetryable() bool { return false }

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "project", "pack", "snapshot")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrorType implements ErrorClassifier.
func (e *NotFoundError) ErrorType() string { return "not_found" }

// IsRetryable implements ErrorClassifier.
func (e *NotFoundError) IsRetryable() bool { return false }

// ProviderError represents failures from the code-gen or vision providers.
// Use this for transport failures, non-2xx responses, and malformed
// provider payloads.
type ProviderError struct {
	// Provider is the name of the provider (e.g., "codegen", "vision")
	Provider string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Message is the human-readable error message
	Message string

	// Suggestion provides actionable guidance for resolution
	Suggestion string

	// RequestID correlates this error with provider logs
	RequestID string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s error", e.Provider)

	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}

	msg = fmt.Sprintf("%s: %s", msg, e.Message)

	if e.RequestID != "" {
		msg = fmt.Sprintf("%s (request-id: %s)", msg, e.RequestID)
	}

	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ProviderError) ErrorType() string { return "provider" }

// IsRetryable implements ErrorClassifier. Rate limits, server-side
// failures, and transport errors (no status code) are worth retrying;
// everything else indicates a request the provider will keep rejecting.
func (e *ProviderError) IsRetryable() bool {
	if e.StatusCode == 0 {
		return e.Cause != nil
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// SandboxError represents preview sandbox failures: dependency install
// failures, dev-server crashes, readiness timeouts, port exhaustion.
type SandboxError struct {
	// ProjectID identifies the owning project
	ProjectID string

	// Phase is the lifecycle phase that failed (e.g., "install", "spawn", "ready")
	Phase string

	// Message is the human-readable error description
	Message string

	// LogTail holds the trailing subprocess output captured at failure
	LogTail string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *SandboxError) Error() string {
	msg := fmt.Sprintf("sandbox %s failed for project %s: %s", e.Phase, e.ProjectID, e.Message)
	if e.LogTail != "" {
		msg = fmt.Sprintf("%s\n%s", msg, e.LogTail)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *SandboxError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *SandboxError) ErrorType() string { return "sandbox" }

// IsRetryable implements ErrorClassifier. A fresh start call replaces a
// failed entry, so sandbox failures are retryable by contract.
func (e *SandboxError) IsRetryable() bool { return true }

// CaptureError represents screenshot or DOM inspection failures against
// a live preview.
type CaptureError struct {
	// Target is the screen or route being captured
	Target string

	// Breakpoint is the viewport identifier (e.g., "desktop", "mobile")
	Breakpoint string

	// URL is the preview URL the capture ran against
	URL string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *CaptureError) Error() string {
	if e.Breakpoint != "" {
		return fmt.Sprintf("capture failed for %s at %s: %v", e.Target, e.Breakpoint, e.Cause)
	}
	return fmt.Sprintf("capture failed for %s: %v", e.Target, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CaptureError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *CaptureError) ErrorType() string { return "capture" }

// IsRetryable implements ErrorClassifier. Captures race dev-server
// recompiles; a retry against the same preview often succeeds.
func (e *CaptureError) IsRetryable() bool { return true }

// SnapshotError represents snapshot store failures: archive creation,
// extraction, or workspace restore.
type SnapshotError struct {
	// Op is the store operation that failed (e.g., "create", "extract", "restore")
	Op string

	// ProjectID identifies the owning project
	ProjectID string

	// Iteration is the iteration index the snapshot belongs to
	Iteration int

	// Path is the archive or directory involved
	Path string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot %s failed for %s iteration %d (%s): %v",
		e.Op, e.ProjectID, e.Iteration, e.Path, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *SnapshotError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *SnapshotError) ErrorType() string { return "snapshot" }

// IsRetryable implements ErrorClassifier.
func (e *SnapshotError) IsRetryable() bool { return false }

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "api_key", "sandbox.readiness_timeout")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ConfigError) ErrorType() string { return "config" }

// IsRetryable implements ErrorClassifier.
func (e *ConfigError) IsRetryable() bool { return false }

// TimeoutError represents operation timeouts.
// Use this when an operation exceeds its configured timeout.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "preview readiness", "codegen request")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *TimeoutError) ErrorType() string { return "timeout" }

// IsRetryable implements ErrorClassifier.
func (e *TimeoutError) IsRetryable() bool { return true }
