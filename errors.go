package plm

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Sentinel errors for common PLM error conditions.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrPluginNotFound indicates the referenced plugin name has no registry entry.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrAlreadyRegistered indicates register was called for a name that is
	// already active in the registry.
	ErrAlreadyRegistered = errors.New("plugin already registered")

	// ErrInvalidState indicates the requested lifecycle transition is illegal
	// from the entry's current state.
	ErrInvalidState = errors.New("invalid lifecycle state")

	// ErrInvalidConfig indicates the provided configuration is invalid or incomplete.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Error kinds categorize errors by their type.
const (
	// KindNotFound represents errors where a plugin or config entry was not found.
	KindNotFound = "not_found"

	// KindAlreadyRegistered represents registration conflicts on an active name.
	KindAlreadyRegistered = "already_registered"

	// KindInvalidState represents illegal lifecycle transitions.
	KindInvalidState = "invalid_state"

	// KindInitFailed represents a failure reported by a plugin's initialize hook.
	KindInitFailed = "initialization_failed"

	// KindInstallFailed represents a failure reported by a plugin's install hook.
	KindInstallFailed = "install_failed"

	// KindUninstallFailed represents a failure reported by a plugin's uninstall hook.
	KindUninstallFailed = "uninstall_failed"

	// KindShutdownFailed represents a failure reported by a plugin's shutdown hook.
	KindShutdownFailed = "shutdown_failed"

	// KindConfiguration represents errors related to configuration documents.
	KindConfiguration = "configuration"

	// KindValidation represents errors related to input validation.
	KindValidation = "validation"

	// KindTimeout represents caller-side timeouts on in-flight operations.
	KindTimeout = "timeout"

	// KindInternal represents internal PLM errors.
	KindInternal = "internal"
)

// PLMError is a structured error type that wraps underlying errors with
// additional context about the operation that failed and the category of error.
//
// PLMError implements the error interface and supports error unwrapping,
// making it compatible with errors.Is() and errors.As().
//
// Example usage:
//
//	err := &PLMError{
//		Op:   "Manager.InstallPlugin",
//		Kind: KindInstallFailed,
//		Err:  hookErr,
//	}
type PLMError struct {
	// Op is the operation that failed (e.g., "Manager.InstallPlugin").
	Op string

	// Kind categorizes the error (e.g., KindNotFound, KindInvalidState).
	Kind string

	// Err is the underlying error that caused this error.
	Err error

	// Context provides additional context about the error (optional).
	// This can include plugin names, versions, or other debugging information.
	Context map[string]any
}

// Error implements the error interface, returning a formatted error message
// that includes the operation, kind, and underlying error.
func (e *PLMError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("plm: %s: %s", e.Op, e.Kind)
	}

	if len(e.Context) > 0 {
		return fmt.Sprintf("plm: %s (%s): %v [context: %+v]", e.Op, e.Kind, e.Err, e.Context)
	}

	return fmt.Sprintf("plm: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error, allowing errors.Is() and errors.As()
// to work correctly with wrapped errors.
func (e *PLMError) Unwrap() error {
	return e.Err
}

// Is implements error matching for PLMError, allowing comparison based on
// the underlying error or the PLMError itself.
func (e *PLMError) Is(target error) bool {
	if target == nil {
		return false
	}

	// Check if target is a PLMError with matching Kind
	if t, ok := target.(*PLMError); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}

	// Delegate to underlying error
	return errors.Is(e.Err, target)
}

// WithContext returns a new PLMError with the provided context added.
// This is useful for adding debugging information to errors.
func (e *PLMError) WithContext(ctx map[string]any) *PLMError {
	newErr := *e
	if newErr.Context == nil {
		newErr.Context = make(map[string]any)
	}
	for k, v := range ctx {
		newErr.Context[k] = v
	}
	return &newErr
}

// NewNotFoundError creates a new PLMError with KindNotFound.
func NewNotFoundError(op string, err error) *PLMError {
	return &PLMError{Op: op, Kind: KindNotFound, Err: err}
}

// NewAlreadyRegisteredError creates a new PLMError with KindAlreadyRegistered.
func NewAlreadyRegisteredError(op string, err error) *PLMError {
	return &PLMError{Op: op, Kind: KindAlreadyRegistered, Err: err}
}

// NewInvalidStateError creates a new PLMError with KindInvalidState.
func NewInvalidStateError(op string, err error) *PLMError {
	return &PLMError{Op: op, Kind: KindInvalidState, Err: err}
}

// NewInitFailedError creates a new PLMError with KindInitFailed.
func NewInitFailedError(op string, err error) *PLMError {
	return &PLMError{Op: op, Kind: KindInitFailed, Err: err}
}

// NewInstallFailedError creates a new PLMError with KindInstallFailed.
func NewInstallFailedError(op string, err error) *PLMError {
	return &PLMError{Op: op, Kind: KindInstallFailed, Err: err}
}

// NewUninstallFailedError creates a new PLMError with KindUninstallFailed.
func NewUninstallFailedError(op string, err error) *PLMError {
	return &PLMError{Op: op, Kind: KindUninstallFailed, Err: err}
}

// NewShutdownFailedError creates a new PLMError with KindShutdownFailed.
func NewShutdownFailedError(op string, err error) *PLMError {
	return &PLMError{Op: op, Kind: KindShutdownFailed, Err: err}
}

// NewConfigurationError creates a new PLMError with KindConfiguration.
func NewConfigurationError(op string, err error) *PLMError {
	return &PLMError{Op: op, Kind: KindConfiguration, Err: err}
}

// NewValidationError creates a new PLMError with KindValidation.
func NewValidationError(op string, err error) *PLMError {
	return &PLMError{Op: op, Kind: KindValidation, Err: err}
}

// NewTimeoutError creates a new PLMError with KindTimeout.
func NewTimeoutError(op string, err error) *PLMError {
	return &PLMError{Op: op, Kind: KindTimeout, Err: err}
}

// NewInternalError creates a new PLMError with KindInternal.
func NewInternalError(op string, err error) *PLMError {
	return &PLMError{Op: op, Kind: KindInternal, Err: err}
}

// CloseWithLog attempts to close the provided resource and logs any error
// at warning level. This is intended for use in defer statements so cleanup
// errors are not silently ignored.
//
// The name parameter should describe the resource being closed (e.g.,
// "journal", "announcer"). If logger is nil, slog.Default() is used.
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}
