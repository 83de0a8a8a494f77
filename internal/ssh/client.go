package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	deployerrors "fleetdeploy/internal/errors"
	"fleetdeploy/internal/logging"
)

// DefaultPhaseTimeout bounds each connection phase unless configured otherwise
const DefaultPhaseTimeout = 10 * time.Second

// Timeouts bounds the phases of session establishment independently
type Timeouts struct {
	Connect time.Duration // TCP dial
	Banner  time.Duration // version exchange and key exchange
	Auth    time.Duration // user authentication
}

// DefaultTimeouts returns 10s for every phase
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect: DefaultPhaseTimeout,
		Banner:  DefaultPhaseTimeout,
		Auth:    DefaultPhaseTimeout,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Connect <= 0 {
		t.Connect = DefaultPhaseTimeout
	}
	if t.Banner <= 0 {
		t.Banner = DefaultPhaseTimeout
	}
	if t.Auth <= 0 {
		t.Auth = DefaultPhaseTimeout
	}
	return t
}

// Output is the fully captured result of one remote command
type Output struct {
	Stdout     string
	Stderr     string
	ExitStatus int // informational; -1 when the server sent none
}

// Session is an authenticated connection to one host
type Session interface {
	// Host returns the address the session is bound to
	Host() string

	// Upload copies a local file to remotePath and returns the bytes written
	Upload(ctx context.Context, localPath, remotePath string) (int64, error)

	// Run executes cmd and blocks until both output streams are drained
	Run(ctx context.Context, cmd string) (Output, error)

	// Close releases the connection; calling it more than once is safe
	Close() error
}

// Opener establishes sessions
type Opener interface {
	Open(ctx context.Context, host string) (Session, error)
}

// Dialer opens sessions with fixed credentials and timeouts. Unknown host keys
// are always accepted.
type Dialer struct {
	User        string
	Port        int
	Credentials Credentials
	Timeouts    Timeouts
	logger      *logging.Logger
}

// NewDialer creates a Dialer. A nil logger discards diagnostics.
func NewDialer(user string, port int, creds Credentials, timeouts Timeouts, logger *logging.Logger) *Dialer {
	if logger == nil {
		logger = logging.Discard()
	}
	if port <= 0 {
		port = 22
	}
	return &Dialer{
		User:        user,
		Port:        port,
		Credentials: creds,
		Timeouts:    timeouts.withDefaults(),
		logger:      logger,
	}
}

// Open connects and authenticates to host. Every failure is returned as a
// connection error wrapping the cause; there are no retries.
func (d *Dialer) Open(ctx context.Context, host string) (Session, error) {
	startTime := time.Now()

	conn, err := d.dial(ctx, host)
	if err != nil {
		d.logger.LogConnectionError(host, d.Port, d.User, err)
		return nil, deployerrors.NewConnectionError(host, err)
	}

	d.logger.LogConnection(host, d.Port, d.User, time.Since(startTime))
	return &session{host: host, conn: conn, logger: d.logger}, nil
}

func (d *Dialer) dial(ctx context.Context, host string) (*ssh.Client, error) {
	if d.Credentials == nil {
		return nil, fmt.Errorf("no credentials configured")
	}
	auth, err := d.Credentials.authMethod()
	if err != nil {
		return nil, fmt.Errorf("failed to set up %s authentication: %w", d.Credentials.kind(), err)
	}

	address := net.JoinHostPort(host, strconv.Itoa(d.Port))
	dialer := &net.Dialer{Timeout: d.Timeouts.Connect}
	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	// The host key is presented once key exchange completes; from there the
	// auth phase gets its own budget. Later rekeys must not touch the deadline.
	var handshaking atomic.Bool
	handshaking.Store(true)

	config := &ssh.ClientConfig{
		User: d.User,
		Auth: []ssh.AuthMethod{auth},
		HostKeyCallback: func(_ string, _ net.Addr, key ssh.PublicKey) error {
			if handshaking.Load() {
				_ = netConn.SetDeadline(time.Now().Add(d.Timeouts.Auth))
			}
			d.logger.LogHostKeyAccepted(host, key.Type(), ssh.FingerprintSHA256(key))
			return nil
		},
	}

	_ = netConn.SetDeadline(time.Now().Add(d.Timeouts.Banner))
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, address, config)
	handshaking.Store(false)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake failed for %s: %w", address, err)
	}
	_ = netConn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// session implements Session over one ssh.Client with a lazily opened SFTP channel
type session struct {
	host   string
	logger *logging.Logger

	mu     sync.Mutex
	conn   *ssh.Client
	sftp   *sftp.Client
	closed bool
}

func (s *session) Host() string {
	return s.host
}

func (s *session) sftpClient() (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("session to %s is closed", s.host)
	}
	if s.sftp != nil {
		return s.sftp, nil
	}
	client, err := sftp.NewClient(s.conn)
	if err != nil {
		return nil, fmt.Errorf("failed to open file transfer channel: %w", err)
	}
	s.sftp = client
	return client, nil
}

// Upload writes localPath to remotePath over SFTP and applies the local
// permission bits to the remote copy.
func (s *session) Upload(ctx context.Context, localPath, remotePath string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", localPath, err)
	}

	client, err := s.sftpClient()
	if err != nil {
		return 0, err
	}

	dst, err := client.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return 0, fmt.Errorf("failed to create remote file %s: %w", remotePath, err)
	}

	n, err := io.Copy(dst, src)
	if err != nil {
		dst.Close()
		return n, fmt.Errorf("failed to copy %s to %s: %w", localPath, remotePath, err)
	}
	if err := dst.Close(); err != nil {
		return n, fmt.Errorf("failed to finish %s: %w", remotePath, err)
	}

	if err := client.Chmod(remotePath, info.Mode().Perm()); err != nil {
		return n, fmt.Errorf("failed to set mode on %s: %w", remotePath, err)
	}
	return n, nil
}

// Run executes cmd and captures both streams completely. A non-zero exit
// status is reported in Output and is not an error.
func (s *session) Run(ctx context.Context, cmd string) (Output, error) {
	out := Output{ExitStatus: -1}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return out, fmt.Errorf("session to %s is closed", s.host)
	}
	conn := s.conn
	s.mu.Unlock()

	startTime := time.Now()
	sess, err := conn.NewSession()
	if err != nil {
		return out, fmt.Errorf("failed to create session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(cmd)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGTERM)
		select {
		case err = <-done:
		case <-time.After(2 * time.Second):
			_ = sess.Signal(ssh.SIGKILL)
			_ = sess.Close()
			err = <-done
		}
		if err == nil {
			err = ctx.Err()
		}
	}

	out.Stdout = stdout.String()
	out.Stderr = stderr.String()

	switch e := err.(type) {
	case nil:
		out.ExitStatus = 0
	case *ssh.ExitError:
		out.ExitStatus = e.ExitStatus()
		err = nil
	case *ssh.ExitMissingError:
		err = nil
	default:
		return out, fmt.Errorf("ssh execution error: %w", err)
	}

	s.logger.LogExecution(s.host, out.ExitStatus, len(out.Stderr), time.Since(startTime))
	return out, nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.sftp != nil {
		_ = s.sftp.Close()
		s.sftp = nil
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("ssh connection close error", "host", s.host, "error", err)
	}
	return nil
}
