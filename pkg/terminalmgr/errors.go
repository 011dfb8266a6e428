package terminalmgr

import "fmt"

// CommandError reports a failure to render a command template: a missing
// variable, an unresolved required sensor, a dependency loop, or a renderer
// callback failure.
type CommandError struct {
	Key string
	Msg string
}

func (e *CommandError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("command %q: %s", e.Key, e.Msg)
	}
	return e.Msg
}

// ExecutionError reports a failure of a rendered command while running on
// the transport: non-zero exit handling is left to the caller, this type
// covers transport-level failures (timeout, broken pipe, not connected).
type ExecutionError struct {
	Msg   string
	Cause error
}

func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("execution failed: %s: %v", e.Msg, e.Cause)
	}
	return fmt.Sprintf("execution failed: %s", e.Msg)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// ConnectError reports a failure to establish a transport session.
type ConnectError struct {
	Msg   string
	Cause error
}

func (e *ConnectError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connect failed: %s: %v", e.Msg, e.Cause)
	}
	return fmt.Sprintf("connect failed: %s", e.Msg)
}

func (e *ConnectError) Unwrap() error { return e.Cause }

// AuthenticationError is a ConnectError specialization for credential or
// host-key failures, so callers can distinguish "host unreachable" from
// "host reachable but rejected us" without string matching.
type AuthenticationError struct {
	ConnectError
}

func NewAuthenticationError(msg string, cause error) *AuthenticationError {
	return &AuthenticationError{ConnectError{Msg: msg, Cause: cause}}
}

// OfflineError reports that a ping failed: the host did not answer at the
// network level, distinct from a connect or execution failure.
type OfflineError struct {
	Cause error
}

func (e *OfflineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("offline: %v", e.Cause)
	}
	return "offline"
}

func (e *OfflineError) Unwrap() error { return e.Cause }

// SensorError reports that a sensor value could not be read, converted, or
// validated, or that a requested write did not take effect.
type SensorError struct {
	Key string
	Msg string
}

func (e *SensorError) Error() string {
	return fmt.Sprintf("sensor %q: %s", e.Key, e.Msg)
}

// NameKeyError reports that neither a name nor an explicit key was given
// when constructing a command or sensor, so no key could be derived.
type NameKeyError struct {
	Msg string
}

func (e *NameKeyError) Error() string { return e.Msg }

// UnknownKeyError reports that a lookup by key (action, sensor) found
// nothing in the collection.
type UnknownKeyError struct {
	Kind string
	Key  string
}

func (e *UnknownKeyError) Error() string {
	return fmt.Sprintf("unknown %s key %q", e.Kind, e.Key)
}
