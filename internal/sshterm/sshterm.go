// Package sshterm implements terminalmgr.Terminal over a real SSH
// connection, using golang.org/x/crypto/ssh for the wire protocol and
// internal/ssh/knownhosts for host-key trust.
package sshterm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/relayhost/terminalmgr/internal/ssh/knownhosts"
	"github.com/relayhost/terminalmgr/pkg/terminalmgr"
)

const defaultPingTimeout = 5 * time.Second

// hostKeyEnsurer is the subset of *knownhosts manager this package depends
// on; knownhosts.NewManager returns an unexported type satisfying it.
type hostKeyEnsurer interface {
	EnsureWithPort(ctx context.Context, host string, port int) error
}

// Option configures a Terminal constructed by New.
type Option func(*Terminal)

// WithPingTimeout overrides the TCP dial timeout used by Ping.
func WithPingTimeout(d time.Duration) Option {
	return func(t *Terminal) { t.pingTimeout = d }
}

// WithPassword authenticates with a fixed password.
func WithPassword(password string) Option {
	return func(t *Terminal) {
		t.authMethods = append(t.authMethods, ssh.Password(password))
	}
}

// WithSigner authenticates with a public key.
func WithSigner(signer ssh.Signer) Option {
	return func(t *Terminal) {
		t.authMethods = append(t.authMethods, ssh.PublicKeys(signer))
	}
}

// WithKnownHosts overrides the known_hosts manager used to verify host
// keys; primarily for tests.
func WithKnownHosts(km hostKeyEnsurer) Option {
	return func(t *Terminal) { t.knownHosts = km }
}

// Terminal is a terminalmgr.Terminal backed by an SSH connection to a
// single host:port. Construct with New; one Terminal serves one manager.
type Terminal struct {
	host string
	port int
	user string

	pingTimeout time.Duration
	authMethods []ssh.AuthMethod
	knownHosts  hostKeyEnsurer

	client *ssh.Client
}

// New returns a Terminal for user@host:port. Callers configure
// authentication via WithPassword/WithSigner and, if they want anything
// other than the default trust-on-first-use known_hosts file, WithKnownHosts.
func New(host string, port int, user string, knownHostsPath string, opts ...Option) (*Terminal, error) {
	if host == "" {
		return nil, errors.New("sshterm: host must not be empty")
	}
	if port == 0 {
		port = 22
	}

	km, err := knownhosts.NewManager(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("sshterm: %w", err)
	}

	t := &Terminal{
		host:        host,
		port:        port,
		user:        user,
		pingTimeout: defaultPingTimeout,
		knownHosts:  km,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Terminal) addr() string { return net.JoinHostPort(t.host, fmt.Sprint(t.port)) }

// Ping dials the SSH port without authenticating, reporting whether the
// host is reachable at all.
func (t *Terminal) Ping(ctx context.Context) error {
	dialer := net.Dialer{Timeout: t.pingTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr())
	if err != nil {
		return &terminalmgr.OfflineError{Cause: err}
	}
	return conn.Close()
}

// Connect establishes the SSH client, trusting the host key on first
// connect and failing closed if a previously trusted key no longer
// matches.
func (t *Terminal) Connect(ctx context.Context) error {
	if t.client != nil {
		return nil
	}

	if err := t.knownHosts.EnsureWithPort(ctx, t.host, t.port); err != nil {
		var changed *knownhosts.HostKeyChangeError
		if errors.As(err, &changed) {
			return terminalmgr.NewAuthenticationError(fmt.Sprintf("host key for %s changed", t.host), err)
		}
		return &terminalmgr.ConnectError{Msg: "known_hosts", Cause: err}
	}

	config := &ssh.ClientConfig{
		User:            t.user,
		Auth:            t.authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         t.pingTimeout,
	}

	client, err := sshDialContext(ctx, t.addr(), config)
	if err != nil {
		if isAuthError(err) {
			return terminalmgr.NewAuthenticationError("ssh authentication failed", err)
		}
		return &terminalmgr.ConnectError{Msg: "dial", Cause: err}
	}

	t.client = client
	return nil
}

// Disconnect closes the SSH client. Idempotent.
func (t *Terminal) Disconnect(ctx context.Context) error {
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	if err != nil {
		return &terminalmgr.ExecutionError{Msg: "disconnect", Cause: err}
	}
	return nil
}

// Execute runs command through "sh -c" in a fresh SSH session, honoring
// timeout (0 means no timeout beyond ctx).
func (t *Terminal) Execute(ctx context.Context, command string, timeout time.Duration) (terminalmgr.CommandOutput, error) {
	out := terminalmgr.CommandOutput{Command: command, Timestamp: time.Now()}

	if t.client == nil {
		return out, &terminalmgr.ExecutionError{Msg: "not connected"}
	}

	session, err := t.client.NewSession()
	if err != nil {
		return out, &terminalmgr.ExecutionError{Msg: "open session", Cause: err}
	}
	defer session.Close()

	stdoutPipe, err := session.StdoutPipe()
	if err != nil {
		return out, &terminalmgr.ExecutionError{Msg: "stdout pipe", Cause: err}
	}
	stderrPipe, err := session.StderrPipe()
	if err != nil {
		return out, &terminalmgr.ExecutionError{Msg: "stderr pipe", Cause: err}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := session.Start(fmt.Sprintf("sh -c %s", shQuote(command))); err != nil {
		return out, &terminalmgr.ExecutionError{Msg: "start command", Cause: err}
	}

	stdoutLines := readLines(stdoutPipe)
	stderrLines := readLines(stderrPipe)

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-runCtx.Done():
		session.Signal(ssh.SIGKILL)
		session.Close()
		<-done
		return out, context.DeadlineExceeded
	case waitErr := <-done:
		out.Stdout = <-stdoutLines
		out.Stderr = <-stderrLines
		if waitErr != nil {
			var exitErr *ssh.ExitError
			if errors.As(waitErr, &exitErr) {
				out.Code = exitErr.ExitStatus()
				return out, nil
			}
			return out, &terminalmgr.ExecutionError{Msg: "session wait", Cause: waitErr}
		}
		return out, nil
	}
}

func readLines(r interface{ Read([]byte) (int, error) }) <-chan []string {
	ch := make(chan []string, 1)
	go func() {
		var lines []string
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 4096), 1<<20)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		ch <- lines
	}()
	return ch
}

// shQuote wraps s in single quotes for safe inclusion in a `sh -c`
// argument, escaping any single quote already present.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isAuthError(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}

var sshDialContext = func(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}
