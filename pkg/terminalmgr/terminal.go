package terminalmgr

import (
	"context"
	"time"
)

// Terminal is the transport a Manager drives: a shell session on a remote
// or local host. Implementations (see internal/sshterm) own their own
// reconnection and authentication; Manager only calls these four methods
// and interprets their errors.
type Terminal interface {
	// Ping checks host reachability without establishing a shell session.
	// Implementations should wrap failures in *OfflineError.
	Ping(ctx context.Context) error

	// Connect establishes a shell session. Implementations should wrap
	// authentication/host-key failures in *AuthenticationError and other
	// failures in *ConnectError.
	Connect(ctx context.Context) error

	// Disconnect tears the session down. It must be idempotent: calling it
	// when not connected is a no-op, not an error.
	Disconnect(ctx context.Context) error

	// Execute runs command with the given timeout and returns its output.
	// Implementations should return context.DeadlineExceeded verbatim (or
	// wrapped so errors.Is still matches) on timeout, and *ExecutionError
	// otherwise.
	Execute(ctx context.Context, command string, timeout time.Duration) (CommandOutput, error)
}

// CommandOutput is a rendered command's captured result.
type CommandOutput struct {
	Command   string
	Timestamp time.Time
	Stdout    []string
	Stderr    []string
	Code      int
}
